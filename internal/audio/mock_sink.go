package audio

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/insight-tts/internal/tts"
)

// MockSink implements Sink without producing sound. Outputs consume PCM at
// the real-time rate multiplied by Speed.
type MockSink struct {
	format tts.Format
	tick   time.Duration

	mu      sync.Mutex
	speed   float64
	outputs []*MockOutput
	failNew error
	closed  bool

	created atomic.Int64
}

// NewMockSink creates a mock sink consuming audio in real time.
func NewMockSink(format tts.Format) *MockSink {
	log.Debug("Creating mock audio sink", "format", format)
	return &MockSink{
		format: format,
		tick:   5 * time.Millisecond,
		speed:  1,
	}
}

// SetSpeed changes how fast new outputs consume audio relative to real time.
func (s *MockSink) SetSpeed(speed float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if speed > 0 {
		s.speed = speed
	}
}

// FailNewOutput makes subsequent NewOutput calls fail with err. A nil err
// restores normal behaviour.
func (s *MockSink) FailNewOutput(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNew = err
}

// NewOutput creates a paused mock output pulling from r.
func (s *MockSink) NewOutput(r io.Reader) (Output, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errors.New("audio sink is closed")
	}
	if s.failNew != nil {
		return nil, s.failNew
	}

	frameBytes := 2 * s.format.Channels
	frames := int(float64(s.format.SampleRate) * s.tick.Seconds() * s.speed)
	if frames < 1 {
		frames = 1
	}

	o := &MockOutput{
		r:    r,
		buf:  make([]byte, frames*frameBytes),
		tick: s.tick,
		done: make(chan struct{}),
	}
	s.outputs = append(s.outputs, o)
	s.created.Add(1)
	go o.loop()
	return o, nil
}

// Format returns the sink format.
func (s *MockSink) Format() tts.Format {
	return s.format
}

// Close closes the sink and every output it created.
func (s *MockSink) Close() error {
	s.mu.Lock()
	outputs := s.outputs
	s.outputs = nil
	s.closed = true
	s.mu.Unlock()

	for _, o := range outputs {
		o.Close()
	}
	log.Debug("Mock audio sink closed")
	return nil
}

// Created returns how many outputs were created.
func (s *MockSink) Created() int {
	return int(s.created.Load())
}

// Last returns the most recently created output, or nil.
func (s *MockSink) Last() *MockOutput {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.outputs) == 0 {
		return nil
	}
	return s.outputs[len(s.outputs)-1]
}

// MockOutput simulates a device stream.
type MockOutput struct {
	r    io.Reader
	buf  []byte
	tick time.Duration

	mu       sync.Mutex
	playing  bool
	closed   bool
	err      error
	consumed int64

	closeOnce sync.Once
	done      chan struct{}
}

func (o *MockOutput) loop() {
	ticker := time.NewTicker(o.tick)
	defer ticker.Stop()

	for {
		select {
		case <-o.done:
			return
		case <-ticker.C:
		}

		o.mu.Lock()
		active := o.playing && !o.closed && o.err == nil
		o.mu.Unlock()
		if !active {
			continue
		}

		n, err := o.r.Read(o.buf)

		o.mu.Lock()
		o.consumed += int64(n)
		if err != nil {
			o.playing = false
			if !errors.Is(err, io.EOF) {
				o.err = err
			}
		}
		o.mu.Unlock()
	}
}

// Play starts consuming audio.
func (o *MockOutput) Play() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.closed {
		o.playing = true
	}
}

// Pause stops consuming audio.
func (o *MockOutput) Pause() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.playing = false
}

// IsPlaying returns whether audio is being consumed.
func (o *MockOutput) IsPlaying() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.playing && !o.closed
}

// Err returns the injected or read error, if any.
func (o *MockOutput) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.err
}

// Fail simulates a device failure such as a disconnect.
func (o *MockOutput) Fail(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.err = err
	o.playing = false
}

// Consumed returns the number of bytes read from the reader.
func (o *MockOutput) Consumed() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.consumed
}

// Closed reports whether Close was called.
func (o *MockOutput) Closed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

// Close stops the output. No reads happen after Close returns, except one
// that was already in progress.
func (o *MockOutput) Close() error {
	o.closeOnce.Do(func() {
		o.mu.Lock()
		o.closed = true
		o.playing = false
		o.mu.Unlock()
		close(o.done)
	})
	return nil
}
