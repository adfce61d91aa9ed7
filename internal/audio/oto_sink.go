//go:build !nocgo
// +build !nocgo

package audio

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/ebitengine/oto/v3"

	"github.com/dgnsrekt/insight-tts/internal/tts"
)

// oto permits a single context per process.
var (
	otoOnce   sync.Once
	otoCtx    *oto.Context
	otoFormat tts.Format
	otoErr    error
)

// OtoSink implements Sink using real oto audio.
type OtoSink struct {
	context *oto.Context
	format  tts.Format

	mu     sync.Mutex
	closed bool
}

// NewOtoSink opens the audio device with platform-specific retry logic.
// The first call fixes the device format for the life of the process.
func NewOtoSink(format tts.Format, platform *PlatformInfo) (*OtoSink, error) {
	otoOnce.Do(func() {
		otoCtx, otoErr = newContextWithRetry(format, platform)
		otoFormat = format
	})
	if otoErr != nil {
		return nil, tts.NewError(tts.CodeDevice, "failed to initialize audio device", otoErr)
	}
	if otoFormat != format {
		return nil, tts.NewError(tts.CodeDevice, fmt.Sprintf("audio device already opened as %s", otoFormat), nil)
	}
	return &OtoSink{context: otoCtx, format: format}, nil
}

func newContextWithRetry(format tts.Format, platform *PlatformInfo) (*oto.Context, error) {
	// Configure retry based on platform
	maxRetries := 1
	retryDelay := time.Millisecond * 100

	switch platform.OS {
	case PlatformDarwin:
		// CoreAudio can race during initialization
		maxRetries = 3
		retryDelay = time.Millisecond * 200
	case PlatformWindows:
		maxRetries = 2
		retryDelay = time.Millisecond * 150
	case PlatformLinux:
		if platform.AudioSubsystem == AudioSubsystemPulseAudio {
			// PulseAudio might need retry if daemon is starting
			maxRetries = 2
		}
	}
	log.Debug("Opening audio device", "platform", platform.OS, "retries", maxRetries, "format", format)

	var lastErr error
	for i := 0; i < maxRetries; i++ {
		if i > 0 {
			log.Debug("Retrying audio context initialization", "attempt", i+1, "of", maxRetries)
			time.Sleep(retryDelay)
		}

		ctx, err := openContext(format, platform)
		if err != nil {
			lastErr = err
			log.Debug("Audio context initialization failed", "attempt", i+1, "error", err)
			continue
		}

		log.Info("Audio device initialized", "attempt", i+1, "format", format)
		return ctx, nil
	}

	return nil, fmt.Errorf("failed to initialize audio context after %d attempts: %w", maxRetries, lastErr)
}

func openContext(format tts.Format, platform *PlatformInfo) (*oto.Context, error) {
	options := &oto.NewContextOptions{
		SampleRate:   format.SampleRate,
		ChannelCount: format.Channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   time.Millisecond * time.Duration(platform.GetPlatformBufferSize()),
	}

	ctx, ready, err := oto.NewContext(options)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio context: %w", err)
	}

	readyTimeout := 5 * time.Second
	if platform.OS == PlatformDarwin {
		readyTimeout = 10 * time.Second
	}

	select {
	case <-ready:
		return ctx, nil
	case <-time.After(readyTimeout):
		return nil, fmt.Errorf("audio context initialization timeout after %v", readyTimeout)
	}
}

// NewOutput creates an oto player pulling from r.
func (s *OtoSink) NewOutput(r io.Reader) (Output, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errors.New("audio sink is closed")
	}
	return &otoOutput{player: s.context.NewPlayer(r)}, nil
}

// Format returns the device format.
func (s *OtoSink) Format() tts.Format {
	return s.format
}

// Close marks the sink closed. The oto context itself lives until exit.
func (s *OtoSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// otoOutput wraps an oto.Player so that calls after Close are harmless.
type otoOutput struct {
	player *oto.Player

	mu     sync.Mutex
	closed bool
}

func (o *otoOutput) Play() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.closed {
		o.player.Play()
	}
}

func (o *otoOutput) Pause() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.closed {
		o.player.Pause()
	}
}

func (o *otoOutput) IsPlaying() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return !o.closed && o.player.IsPlaying()
}

func (o *otoOutput) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	return o.player.Err()
}

func (o *otoOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	o.closed = true
	o.player.Pause()
	return o.player.Close()
}
