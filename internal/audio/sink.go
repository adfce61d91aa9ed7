package audio

import (
	"io"

	"github.com/dgnsrekt/insight-tts/internal/tts"
)

// Sink defines the interface for audio output devices.
// This allows for both real (oto-based) and mock implementations.
// The device format is fixed when the sink is created.
type Sink interface {
	// NewOutput creates a paused output that pulls signed 16-bit
	// little-endian PCM in the sink format from r.
	NewOutput(r io.Reader) (Output, error)

	// Format returns the device format.
	Format() tts.Format

	// Close releases the device.
	Close() error
}

// Output is a single playback stream on a Sink.
type Output interface {
	// Play starts or resumes pulling from the reader
	Play()

	// Pause stops pulling from the reader
	Pause()

	// IsPlaying returns whether audio is currently playing
	IsPlaying() bool

	// Err returns the error that stopped the output, if any
	Err() error

	// Close releases the output. Play and Pause are no-ops afterwards.
	Close() error
}

// SinkType represents the type of sink to create
type SinkType string

const (
	// SinkDevice uses real audio hardware via oto
	SinkDevice SinkType = "device"
	// SinkMock uses a mock implementation for testing
	SinkMock SinkType = "mock"
	// SinkAuto automatically detects the appropriate type
	SinkAuto SinkType = "auto"
)
