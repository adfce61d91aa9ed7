package ui

import "time"

// Config contains TUI-specific configuration.
type Config struct {
	// Text is spoken when the program starts and on replay.
	Text   string
	Voice  string
	Engine string

	// SkipStep is how far the arrow keys move the playhead.
	SkipStep time.Duration

	// SpectrumHeight is the number of rows used by the band graph.
	SpectrumHeight int `env:"INSIGHT_TTS_SPECTRUM_HEIGHT" envDefault:"8"`

	// For debugging the UI
	RefreshInterval time.Duration `env:"INSIGHT_TTS_UI_REFRESH" envDefault:"50ms"`
	EnableMouse     bool
}

func (c Config) normalize() Config {
	if c.SkipStep <= 0 {
		c.SkipStep = 5 * time.Second
	}
	if c.SpectrumHeight <= 0 {
		c.SpectrumHeight = 8
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = 50 * time.Millisecond
	}
	return c
}
