package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// DefaultFile is written when no configuration file exists.
const DefaultFile = `# synthesis provider: piper, polly, elevenlabs or mock
provider: "piper"
# debug, info, warn or error
log_level: "info"

playback:
  # audio output: auto, device or mock
  output: "auto"
  # device format
  sample_rate: 22050
  channels: 1
  # seconds moved by one skip
  skip_seconds: 5
  # how long a forward skip waits for synthesis
  skip_wait_timeout: "3s"
  # how long playback may starve before the session fails
  underrun_limit: "30s"
  # spectrum bars
  bands: 10
  analysis_interval: "75ms"

piper:
  # command: "~/.local/bin/piper --speaker 0"
  model: "en_US-lessac-medium"
  # voices_dir: "~/piper-voices"

polly:
  # VoiceId or VoiceId:Engine (Standard, Neural, Generative, LongForm)
  voice: "Matthew"
  # region: "us-east-1"
  sample_rate: 16000
  requests_per_minute: 0

elevenlabs:
  # the API key is read from ELEVENLABS_API_KEY
  voice: "21m00Tcm4TlvDq8ikWAM"
  model: "eleven_flash_v2_5"
  # pcm_<rate> streams, mp3_<rate>_<bitrate> downloads the whole file.
  # Unset, the pcm rate follows the output device.
  # output_format: "pcm_16000"
  requests_per_minute: 0

cache:
  enabled: true
  max_mb: 64

metrics:
  enabled: false
  addr: "127.0.0.1:9464"

events:
  # nats_url: "nats://127.0.0.1:4222"
  subject: "insight-tts.events"
`

// EnsureFile writes DefaultFile to path unless a file already exists.
func EnsureFile(path string) error {
	if ext := filepath.Ext(path); ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("'%s' is not a supported configuration type: use '%s' or '%s'", ext, ".yaml", ".yml")
	}

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return fmt.Errorf("unable create directory: %w", err)
		}

		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("unable to create config file: %w", err)
		}
		defer func() { _ = f.Close() }()

		if _, err := f.WriteString(DefaultFile); err != nil {
			return fmt.Errorf("unable to write config file: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("unable to stat config file: %w", err)
	}
	return nil
}
