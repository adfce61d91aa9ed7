package audio

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/insight-tts/internal/tts"
)

// Platform represents the current operating system platform
type Platform string

const (
	PlatformLinux   Platform = "linux"
	PlatformDarwin  Platform = "darwin"
	PlatformWindows Platform = "windows"
	PlatformUnknown Platform = "unknown"
)

// AudioSubsystem represents the available audio subsystem
type AudioSubsystem string

const (
	AudioSubsystemALSA       AudioSubsystem = "alsa"
	AudioSubsystemPulseAudio AudioSubsystem = "pulseaudio"
	AudioSubsystemCoreAudio  AudioSubsystem = "coreaudio"
	AudioSubsystemWASAPI     AudioSubsystem = "wasapi"
	AudioSubsystemNone       AudioSubsystem = "none"
)

// ciVars are environment variables set by common CI providers.
var ciVars = []string{
	"CI",
	"CONTINUOUS_INTEGRATION",
	"GITHUB_ACTIONS",
	"GITLAB_CI",
	"JENKINS_URL",
	"BUILDKITE",
}

// PlatformInfo contains information about the current platform
type PlatformInfo struct {
	OS             Platform
	AudioSubsystem AudioSubsystem
	HasAudioDevice bool
	IsCI           bool
}

// DetectPlatform detects the current platform and audio capabilities
func DetectPlatform() *PlatformInfo {
	info := &PlatformInfo{
		OS:   Platform(runtime.GOOS),
		IsCI: IsCI(),
	}

	switch info.OS {
	case PlatformLinux:
		info.AudioSubsystem, info.HasAudioDevice = detectLinux()
	case PlatformDarwin:
		// CoreAudio is always present on macOS
		info.AudioSubsystem, info.HasAudioDevice = AudioSubsystemCoreAudio, true
	case PlatformWindows:
		info.AudioSubsystem, info.HasAudioDevice = AudioSubsystemWASAPI, true
	default:
		info.OS = PlatformUnknown
		info.AudioSubsystem = AudioSubsystemNone
	}

	log.Debug("Platform detected",
		"os", info.OS,
		"audio", info.AudioSubsystem,
		"has_device", info.HasAudioDevice,
		"is_ci", info.IsCI)

	return info
}

// IsCI detects whether a real audio device should be avoided because the
// process runs under CI or mock audio was requested.
func IsCI() bool {
	for _, v := range ciVars {
		if val := os.Getenv(v); val != "" && val != "false" {
			log.Debug("CI environment detected", "variable", v)
			return true
		}
	}
	return os.Getenv("INSIGHT_TTS_MOCK_AUDIO") == "true"
}

func detectLinux() (AudioSubsystem, bool) {
	subsystem := AudioSubsystemNone
	if _, err := exec.LookPath("pactl"); err == nil {
		if out, err := exec.Command("pactl", "info").Output(); err == nil && strings.Contains(string(out), "Server Name") {
			subsystem = AudioSubsystemPulseAudio
		}
	}
	if subsystem == AudioSubsystemNone {
		if _, err := os.Stat("/proc/asound"); err == nil {
			subsystem = AudioSubsystemALSA
		}
	}

	if entries, err := os.ReadDir("/dev/snd"); err == nil {
		for _, e := range entries {
			if strings.HasPrefix(e.Name(), "pcm") {
				return subsystem, true
			}
		}
	}
	if cards, err := os.ReadFile("/proc/asound/cards"); err == nil && len(cards) > 0 && !strings.Contains(string(cards), "no soundcards") {
		return subsystem, true
	}
	return subsystem, subsystem == AudioSubsystemPulseAudio
}

// ShouldUseMockAudio determines if mock audio should be used based on platform info
func (p *PlatformInfo) ShouldUseMockAudio() bool {
	return p.IsCI || p.AudioSubsystem == AudioSubsystemNone || !p.HasAudioDevice
}

// GetPlatformBufferSize returns the recommended device buffer in milliseconds
func (p *PlatformInfo) GetPlatformBufferSize() int {
	switch p.OS {
	case PlatformDarwin:
		return 100
	case PlatformWindows:
		return 80
	case PlatformLinux:
		if p.AudioSubsystem == AudioSubsystemPulseAudio {
			return 60
		}
		return 50
	default:
		return 50
	}
}

// String returns a string representation of the platform info
func (p *PlatformInfo) String() string {
	return fmt.Sprintf("Platform{OS: %s, Audio: %s, HasDevice: %v, IsCI: %v}",
		p.OS, p.AudioSubsystem, p.HasAudioDevice, p.IsCI)
}

// NewSink creates the sink selected by kind. SinkAuto falls back to a mock
// sink when no usable device is detected.
func NewSink(kind SinkType, format tts.Format) (Sink, error) {
	switch kind {
	case SinkMock:
		return NewMockSink(format), nil
	case SinkDevice:
		return openDevice(format, DetectPlatform())
	case SinkAuto, "":
		platform := DetectPlatform()
		if platform.ShouldUseMockAudio() {
			log.Warn("No usable audio device, playback will be silent", "platform", platform.String())
			return NewMockSink(format), nil
		}
		return openDevice(format, platform)
	default:
		return nil, fmt.Errorf("unknown audio output %q", kind)
	}
}

func openDevice(format tts.Format, platform *PlatformInfo) (Sink, error) {
	sink, err := NewOtoSink(format, platform)
	if err != nil {
		return nil, err
	}
	return sink, nil
}
