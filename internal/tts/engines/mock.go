package engines

import (
	"context"
	"io"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/insight-tts/internal/decode"
	"github.com/dgnsrekt/insight-tts/internal/tts"
)

// MockConfig scripts the behaviour of the mock adapter.
type MockConfig struct {
	// SampleRate of the generated tone. Defaults to 22050.
	SampleRate int

	// Frequency of the generated tone in Hz. Defaults to 440.
	Frequency float64

	// Duration of the generated audio. Zero derives it from the text length.
	Duration time.Duration

	// ChunkDelay is slept before each 20 ms chunk is produced.
	ChunkDelay time.Duration

	// Hang makes the stream produce nothing until it is cancelled.
	Hang bool

	// StartErr is returned by Start.
	StartErr error

	// StreamErr is returned by the stream after FailAfter bytes.
	StreamErr error
	FailAfter int64

	// SeekHint reports the total length upfront.
	SeekHint bool
}

// Mock is a scripted adapter that synthesizes a sine tone. It backs the
// "mock" provider and hermetic tests.
type Mock struct {
	cfg MockConfig

	mu      sync.Mutex
	current *mockStream

	starts  atomic.Int64
	cancels atomic.Int64
}

// NewMock creates a mock adapter.
func NewMock(cfg MockConfig) *Mock {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 22050
	}
	if cfg.Frequency <= 0 {
		cfg.Frequency = 440
	}
	return &Mock{cfg: cfg}
}

// Name returns the provider kind.
func (m *Mock) Name() tts.ProviderKind {
	return tts.ProviderMock
}

// SupportsSeekHint reports the scripted seek hint.
func (m *Mock) SupportsSeekHint() bool {
	return m.cfg.SeekHint
}

// Start returns a tone stream whose length follows the text.
func (m *Mock) Start(ctx context.Context, req tts.SynthesisRequest) (tts.Stream, error) {
	m.starts.Add(1)
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if m.cfg.StartErr != nil {
		return nil, m.cfg.StartErr
	}

	d := m.cfg.Duration
	if d <= 0 {
		d = time.Duration(len([]rune(req.Text))) * 60 * time.Millisecond
		if d < 200*time.Millisecond {
			d = 200 * time.Millisecond
		}
	}
	frames := int64(float64(m.cfg.SampleRate) * d.Seconds())

	s := &mockStream{
		ctx:    ctx,
		cfg:    m.cfg,
		frames: frames,
		done:   make(chan struct{}),
	}
	s.info = tts.StreamInfo{
		Encoding:   tts.EncodingPCM16LE,
		SampleRate: m.cfg.SampleRate,
		Channels:   1,
		TotalBytes: -1,
	}
	if m.cfg.SeekHint {
		s.info.TotalBytes = frames * 2
	}

	m.mu.Lock()
	m.current = s
	m.mu.Unlock()

	log.Debug("Mock synthesis started", "duration", d, "frames", frames)
	return s, nil
}

// Cancel stops the current stream.
func (m *Mock) Cancel() error {
	m.cancels.Add(1)
	m.mu.Lock()
	s := m.current
	m.current = nil
	m.mu.Unlock()
	if s != nil {
		s.Close()
	}
	return nil
}

// ListVoices returns the single synthetic voice.
func (m *Mock) ListVoices(ctx context.Context) ([]tts.Voice, error) {
	return []tts.Voice{{ID: "tone", Name: "Sine tone", Language: "xx", Provider: tts.ProviderMock}}, nil
}

// Starts returns how many times Start was called.
func (m *Mock) Starts() int { return int(m.starts.Load()) }

// Cancels returns how many times Cancel was called.
func (m *Mock) Cancels() int { return int(m.cancels.Load()) }

type mockStream struct {
	ctx    context.Context
	cfg    MockConfig
	info   tts.StreamInfo
	frames int64

	mu      sync.Mutex
	pos     int64
	sent    int64
	pending []byte

	closeOnce sync.Once
	done      chan struct{}
}

func (s *mockStream) Info() tts.StreamInfo { return s.info }

func (s *mockStream) Read(p []byte) (int, error) {
	if err := s.interrupted(); err != nil {
		return 0, err
	}
	if s.cfg.Hang {
		select {
		case <-s.done:
		case <-s.ctx.Done():
		}
		return 0, s.interrupted()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) == 0 {
		if s.pos >= s.frames {
			return 0, io.EOF
		}
		if s.cfg.ChunkDelay > 0 {
			s.mu.Unlock()
			select {
			case <-time.After(s.cfg.ChunkDelay):
			case <-s.done:
			case <-s.ctx.Done():
			}
			s.mu.Lock()
			if err := s.interrupted(); err != nil {
				return 0, err
			}
		}
		s.pending = s.nextChunk()
	}

	if s.cfg.StreamErr != nil && s.sent >= s.cfg.FailAfter {
		return 0, s.cfg.StreamErr
	}
	limit := len(p)
	if s.cfg.StreamErr != nil {
		if rest := s.cfg.FailAfter - s.sent; int64(limit) > rest {
			limit = int(rest)
		}
	}
	n := copy(p[:limit], s.pending)
	s.pending = s.pending[n:]
	s.sent += int64(n)
	return n, nil
}

// nextChunk renders the next 20 ms of tone.
func (s *mockStream) nextChunk() []byte {
	n := int64(s.cfg.SampleRate / 50)
	if n < 1 {
		n = 1
	}
	if rest := s.frames - s.pos; n > rest {
		n = rest
	}
	samples := make([]float32, n)
	for i := range samples {
		t := float64(s.pos+int64(i)) / float64(s.cfg.SampleRate)
		samples[i] = float32(0.3 * math.Sin(2*math.Pi*s.cfg.Frequency*t))
	}
	s.pos += n
	return decode.PackPCM16LE(nil, samples)
}

func (s *mockStream) interrupted() error {
	select {
	case <-s.done:
		return tts.NewError(tts.CodeCanceled, "mock synthesis canceled", context.Canceled)
	default:
	}
	if err := s.ctx.Err(); err != nil {
		return tts.NewError(tts.CodeCanceled, "mock synthesis canceled", err)
	}
	return nil
}

func (s *mockStream) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}
