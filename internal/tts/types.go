package tts

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// ProviderKind identifies a synthesis backend.
type ProviderKind string

const (
	// ProviderPiper represents the Piper local subprocess engine
	ProviderPiper ProviderKind = "piper"

	// ProviderPolly represents the Amazon Polly cloud engine
	ProviderPolly ProviderKind = "polly"

	// ProviderElevenLabs represents the ElevenLabs cloud engine
	ProviderElevenLabs ProviderKind = "elevenlabs"

	// ProviderMock represents the synthetic tone engine used for testing
	ProviderMock ProviderKind = "mock"
)

// ParseProvider resolves a provider name.
func ParseProvider(name string) (ProviderKind, error) {
	switch p := ProviderKind(strings.ToLower(strings.TrimSpace(name))); p {
	case ProviderPiper, ProviderPolly, ProviderElevenLabs, ProviderMock:
		return p, nil
	case "local":
		return ProviderPiper, nil
	case "cloud":
		return ProviderPolly, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
}

// Local reports whether the provider runs on this machine.
func (p ProviderKind) Local() bool {
	return p == ProviderPiper || p == ProviderMock
}

// SynthesisRequest is an immutable request to synthesize text.
type SynthesisRequest struct {
	// Text is the content to synthesize.
	Text string

	// Voice selects a backend-specific voice. Empty means the backend default.
	Voice string

	// Engine selects a quality tier for backends that offer several.
	Engine string

	// SampleRate is the output rate the caller would like to receive.
	// Backends honor it when they support the rate; 0 means the backend
	// default.
	SampleRate int
}

// NewSynthesisRequest creates a validated request.
func NewSynthesisRequest(text, voice, engine string) (SynthesisRequest, error) {
	req := SynthesisRequest{Text: text, Voice: voice, Engine: engine}
	if err := req.Validate(); err != nil {
		return SynthesisRequest{}, err
	}
	return req, nil
}

// Validate checks that the request carries speakable text.
func (r SynthesisRequest) Validate() error {
	if !utf8.ValidString(r.Text) {
		return NewError(CodeInvalidRequest, "request rejected", ErrInvalidText)
	}
	if strings.TrimSpace(r.Text) == "" {
		return NewError(CodeInvalidRequest, "request rejected", ErrEmptyText)
	}
	return nil
}

// Key returns a stable identity for the request rendered by provider.
func (r SynthesisRequest) Key(provider ProviderKind) string {
	h := sha256.New()
	for _, part := range []string{string(provider), r.Voice, r.Engine, strconv.Itoa(r.SampleRate), r.Text} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Encoding describes the byte layout of a synthesis stream.
type Encoding string

const (
	// EncodingPCM16LE is signed 16-bit little-endian PCM.
	EncodingPCM16LE Encoding = "pcm_s16le"

	// EncodingPCM16BE is signed 16-bit big-endian PCM.
	EncodingPCM16BE Encoding = "pcm_s16be"

	// EncodingPCMU8 is unsigned 8-bit PCM.
	EncodingPCMU8 Encoding = "pcm_u8"

	// EncodingPCMF32LE is 32-bit little-endian float PCM.
	EncodingPCMF32LE Encoding = "pcm_f32le"

	// EncodingWAV is a complete RIFF/WAVE payload.
	EncodingWAV Encoding = "wav"

	// EncodingMP3 is a complete MPEG layer III payload.
	EncodingMP3 Encoding = "mp3"
)

// Container reports whether the encoding must be fully received before
// any samples can be decoded.
func (e Encoding) Container() bool {
	return e == EncodingWAV || e == EncodingMP3
}

// BytesPerSample returns the sample width for raw encodings, or 0.
func (e Encoding) BytesPerSample() int {
	switch e {
	case EncodingPCMU8:
		return 1
	case EncodingPCM16LE, EncodingPCM16BE:
		return 2
	case EncodingPCMF32LE:
		return 4
	default:
		return 0
	}
}

// Format describes decoded audio.
type Format struct {
	SampleRate int
	Channels   int
}

// FrameDuration returns the duration of n frames.
func (f Format) FrameDuration(n int64) time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(f.SampleRate)
}

// Frames returns the number of frames in d, truncated.
func (f Format) Frames(d time.Duration) int64 {
	return int64(d) * int64(f.SampleRate) / int64(time.Second)
}

// String returns a short description of the format.
func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dch", f.SampleRate, f.Channels)
}

// StreamInfo describes the payload an adapter produces.
type StreamInfo struct {
	Encoding   Encoding
	SampleRate int
	Channels   int

	// TotalBytes is the payload length when the backend reports it, or -1.
	TotalBytes int64
}

// AudioChunk is a run of decoded samples. Samples are interleaved and
// normalized to [-1, 1].
type AudioChunk struct {
	Samples    []float32
	SampleRate int
	Channels   int

	// Position is the index of the chunk's first frame in the stream.
	Position int64
}

// Frames returns the number of frames in the chunk.
func (c AudioChunk) Frames() int {
	if c.Channels <= 0 {
		return 0
	}
	return len(c.Samples) / c.Channels
}

// Duration returns the playback duration of the chunk.
func (c AudioChunk) Duration() time.Duration {
	return Format{SampleRate: c.SampleRate, Channels: c.Channels}.FrameDuration(int64(c.Frames()))
}

// PlaybackState is the state of a playback session.
type PlaybackState int

const (
	// StateIdle indicates no session exists
	StateIdle PlaybackState = iota

	// StateSynthesizing indicates a request was issued and no audio is playing yet
	StateSynthesizing

	// StatePlaying indicates audio is being consumed by the output device
	StatePlaying

	// StatePaused indicates playback is suspended and resumable
	StatePaused

	// StateStopped indicates the session was stopped
	StateStopped

	// StateFinished indicates all audio was played
	StateFinished

	// StateErrored indicates the session ended with an error
	StateErrored
)

// String returns the string representation of the state
func (s PlaybackState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSynthesizing:
		return "synthesizing"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	case StateFinished:
		return "finished"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions happen without a new request.
func (s PlaybackState) Terminal() bool {
	return s == StateStopped || s == StateFinished || s == StateErrored
}

// Progress reports how far playback has advanced.
type Progress struct {
	// Fraction is in [0, 1] and only meaningful when Known is true.
	Fraction float64
	Known    bool

	Elapsed time.Duration
	Total   time.Duration
}

// UnknownProgress returns a progress value for streams of unknown length.
func UnknownProgress(elapsed time.Duration) Progress {
	return Progress{Elapsed: elapsed}
}

// String returns a short human readable description.
func (p Progress) String() string {
	if !p.Known {
		return fmt.Sprintf("%s / --:--", fmtClock(p.Elapsed))
	}
	return fmt.Sprintf("%s / %s", fmtClock(p.Elapsed), fmtClock(p.Total))
}

func fmtClock(d time.Duration) string {
	s := int(d.Round(time.Second) / time.Second)
	return fmt.Sprintf("%02d:%02d", s/60, s%60)
}

// FrequencySnapshot holds per-band magnitudes normalized to [0, 1].
type FrequencySnapshot struct {
	Bands []float64
	At    time.Time
}

// ZeroSnapshot returns an all-zero snapshot with n bands.
func ZeroSnapshot(n int) FrequencySnapshot {
	return FrequencySnapshot{Bands: make([]float64, n)}
}

// IsZero reports whether every band is zero.
func (s FrequencySnapshot) IsZero() bool {
	for _, b := range s.Bands {
		if b != 0 {
			return false
		}
	}
	return true
}

// Voice describes a voice offered by a provider.
type Voice struct {
	ID       string
	Name     string
	Language string
	Gender   string
	Engines  []string
	Provider ProviderKind
}
