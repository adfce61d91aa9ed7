package engines

import (
	"fmt"

	"github.com/dgnsrekt/insight-tts/internal/tts"
)

// Config carries the settings of every adapter. Only the section matching
// the selected provider is used.
type Config struct {
	Piper      PiperConfig
	Polly      PollyConfig
	ElevenLabs ElevenLabsConfig
	Mock       MockConfig
}

// New creates the adapter for kind.
func New(kind tts.ProviderKind, cfg Config) (tts.Adapter, error) {
	var (
		adapter tts.Adapter
		err     error
	)
	switch kind {
	case tts.ProviderPiper:
		adapter, err = unwrap(NewPiper(cfg.Piper))
	case tts.ProviderPolly:
		adapter, err = unwrap(NewPolly(cfg.Polly))
	case tts.ProviderElevenLabs:
		adapter, err = unwrap(NewElevenLabs(cfg.ElevenLabs))
	case tts.ProviderMock:
		adapter = NewMock(cfg.Mock)
	default:
		err = fmt.Errorf("%w: %q", tts.ErrUnknownProvider, kind)
	}
	if err != nil {
		return nil, err
	}
	return adapter, nil
}

// unwrap keeps a failed constructor from yielding a non-nil interface
// holding a nil pointer.
func unwrap[A tts.Adapter](a A, err error) (tts.Adapter, error) {
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Factory returns a constructor bound to cfg, creating a fresh adapter per
// session.
func Factory(kind tts.ProviderKind, cfg Config) func() (tts.Adapter, error) {
	return func() (tts.Adapter, error) {
		return New(kind, cfg)
	}
}
