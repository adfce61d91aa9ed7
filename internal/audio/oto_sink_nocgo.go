//go:build nocgo
// +build nocgo

package audio

import (
	"errors"
	"io"

	"github.com/dgnsrekt/insight-tts/internal/tts"
)

// Stub implementations for static analysis and builds without CGO

// OtoSink stub for nocgo builds
type OtoSink struct{}

// NewOtoSink always fails in nocgo builds
func NewOtoSink(format tts.Format, platform *PlatformInfo) (*OtoSink, error) {
	return nil, tts.NewError(tts.CodeDevice, "audio not available in nocgo build", nil)
}

func (s *OtoSink) NewOutput(r io.Reader) (Output, error) {
	return nil, errors.New("audio not available in nocgo build")
}

func (s *OtoSink) Format() tts.Format { return tts.Format{} }

func (s *OtoSink) Close() error { return nil }
