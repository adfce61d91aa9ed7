package engines

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/websocket"
	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/dgnsrekt/insight-tts/internal/tts"
)

const (
	// DefaultElevenLabsEndpoint is the public API base URL.
	DefaultElevenLabsEndpoint = "https://api.elevenlabs.io"

	// DefaultElevenLabsVoice is a premade voice available to every account.
	DefaultElevenLabsVoice = "21m00Tcm4TlvDq8ikWAM"

	// DefaultElevenLabsModel is the low-latency multilingual model.
	DefaultElevenLabsModel = "eleven_flash_v2_5"

	// DefaultElevenLabsFormat streams raw 16 kHz PCM.
	DefaultElevenLabsFormat = "pcm_16000"

	// wsReadLimit bounds a single websocket message. Audio frames arrive
	// base64 encoded and routinely exceed the library default.
	wsReadLimit = 4 << 20
)

// ElevenLabsConfig holds configuration for the ElevenLabs adapter.
type ElevenLabsConfig struct {
	APIKey            string
	Voice             string
	Model             string
	OutputFormat      string
	Endpoint          string
	RequestsPerMinute int
	HTTPClient        *http.Client
}

// ElevenLabs synthesizes speech with the ElevenLabs API. PCM output formats
// are streamed over the stream-input websocket; compressed formats are
// fetched whole over HTTP.
type ElevenLabs struct {
	cfg      ElevenLabsConfig
	format   outputFormat
	auto     bool
	endpoint *url.URL
	limiter  *rate.Limiter

	mu     sync.Mutex
	cancel context.CancelFunc
}

// outputFormat is a parsed ElevenLabs output_format value.
type outputFormat struct {
	name       string
	encoding   tts.Encoding
	sampleRate int
	streamed   bool
}

// NewElevenLabs creates an ElevenLabs adapter. A missing API key is reported
// when synthesis starts.
func NewElevenLabs(cfg ElevenLabsConfig) (*ElevenLabs, error) {
	if cfg.Voice == "" {
		cfg.Voice = DefaultElevenLabsVoice
	}
	if cfg.Model == "" {
		cfg.Model = DefaultElevenLabsModel
	}
	auto := cfg.OutputFormat == ""
	if auto {
		cfg.OutputFormat = DefaultElevenLabsFormat
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultElevenLabsEndpoint
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}

	format, err := parseOutputFormat(cfg.OutputFormat)
	if err != nil {
		return nil, err
	}
	endpoint, err := url.Parse(strings.TrimRight(cfg.Endpoint, "/"))
	if err != nil || endpoint.Host == "" {
		return nil, tts.NewError(tts.CodeInvalidVoiceConfig, "invalid elevenlabs endpoint", err).
			WithContext("endpoint", cfg.Endpoint)
	}

	e := &ElevenLabs{cfg: cfg, format: format, auto: auto, endpoint: endpoint}
	if cfg.RequestsPerMinute > 0 {
		e.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}
	return e, nil
}

// parseOutputFormat accepts pcm_<rate> and mp3_<rate>_<bitrate>.
func parseOutputFormat(name string) (outputFormat, error) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(name)), "_")
	invalid := tts.NewError(tts.CodeInvalidVoiceConfig, "unsupported elevenlabs output format", nil).
		WithContext("output_format", name)
	if len(parts) < 2 {
		return outputFormat{}, invalid
	}
	rate, err := strconv.Atoi(parts[1])
	if err != nil || rate <= 0 {
		return outputFormat{}, invalid
	}
	switch parts[0] {
	case "pcm":
		return outputFormat{name: name, encoding: tts.EncodingPCM16LE, sampleRate: rate, streamed: true}, nil
	case "mp3":
		return outputFormat{name: name, encoding: tts.EncodingMP3, sampleRate: rate}, nil
	default:
		return outputFormat{}, invalid
	}
}

// pcmRates are the pcm_<rate> output formats ElevenLabs offers.
var pcmRates = []int{8000, 16000, 22050, 24000, 44100, 48000}

// formatFor returns the output format for a request hinting sampleRate.
// An explicitly configured format always wins.
func (e *ElevenLabs) formatFor(sampleRate int) outputFormat {
	if !e.auto || !slices.Contains(pcmRates, sampleRate) {
		return e.format
	}
	name := "pcm_" + strconv.Itoa(sampleRate)
	return outputFormat{name: name, encoding: tts.EncodingPCM16LE, sampleRate: sampleRate, streamed: true}
}

// Name returns the provider kind.
func (e *ElevenLabs) Name() tts.ProviderKind {
	return tts.ProviderElevenLabs
}

// SupportsSeekHint reports whether the total length is known on Start,
// which holds for whole-payload formats only.
func (e *ElevenLabs) SupportsSeekHint() bool {
	return !e.format.streamed
}

// Start begins synthesis of req.
func (e *ElevenLabs) Start(ctx context.Context, req tts.SynthesisRequest) (tts.Stream, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if e.cfg.APIKey == "" {
		return nil, tts.NewError(tts.CodeAuthenticationRejected, "no ElevenLabs API key configured", nil)
	}

	voice := req.Voice
	if voice == "" {
		voice = e.cfg.Voice
	}

	ctx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	prev := e.cancel
	e.cancel = cancel
	e.mu.Unlock()
	if prev != nil {
		prev()
	}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			cancel()
			return nil, tts.NewError(tts.CodeCanceled, "synthesis canceled while waiting for rate limit", err)
		}
	}

	var (
		stream tts.Stream
		err    error
	)
	format := e.formatFor(req.SampleRate)
	if format.streamed {
		stream, err = e.startStream(ctx, cancel, format, voice, req.Text)
	} else {
		stream, err = e.startRequest(ctx, cancel, format, voice, req.Text)
	}
	if err != nil {
		cancel()
		return nil, err
	}
	return stream, nil
}

// Cancel aborts the in-flight request or websocket session.
func (e *ElevenLabs) Cancel() error {
	e.mu.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()
	if cancel != nil {
		log.Debug("Cancelling elevenlabs synthesis")
		cancel()
	}
	return nil
}

// ---- websocket streaming ----

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

type boiMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key"`
}

type textMessage struct {
	Text                 string `json:"text"`
	TryTriggerGeneration bool   `json:"try_trigger_generation,omitempty"`
}

type audioMessage struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    int    `json:"code,omitempty"`
}

func (e *ElevenLabs) streamURL(format outputFormat, voice string) string {
	u := *e.endpoint
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	default:
		u.Scheme = "wss"
	}
	u.Path += "/v1/text-to-speech/" + url.PathEscape(voice) + "/stream-input"
	q := url.Values{}
	q.Set("model_id", e.cfg.Model)
	q.Set("output_format", format.name)
	u.RawQuery = q.Encode()
	return u.String()
}

func (e *ElevenLabs) startStream(ctx context.Context, cancel context.CancelFunc, format outputFormat, voice, text string) (tts.Stream, error) {
	conn, resp, err := websocket.Dial(ctx, e.streamURL(format, voice), &websocket.DialOptions{
		HTTPClient: e.cfg.HTTPClient,
		HTTPHeader: http.Header{"xi-api-key": []string{e.cfg.APIKey}},
	})
	if err != nil {
		if resp != nil {
			return nil, statusError(resp.StatusCode, "", err)
		}
		return nil, transportError(ctx, err)
	}
	conn.SetReadLimit(wsReadLimit)

	log.Debug("ElevenLabs stream opened", "voice", voice, "model", e.cfg.Model, "format", format.name)

	pr, pw := io.Pipe()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		messages := []any{
			boiMessage{
				Text:          " ",
				VoiceSettings: &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75},
				XiAPIKey:      e.cfg.APIKey,
			},
			textMessage{Text: strings.TrimSpace(text) + " ", TryTriggerGeneration: true},
			textMessage{Text: ""},
		}
		for _, m := range messages {
			data, err := json.Marshal(m)
			if err != nil {
				return tts.NewError(tts.CodeInvalidRequest, "failed to encode message", err)
			}
			if err := conn.Write(gctx, websocket.MessageText, data); err != nil {
				return transportError(gctx, err)
			}
		}
		return nil
	})

	g.Go(func() error {
		var received int64
		for {
			_, data, err := conn.Read(gctx)
			if err != nil {
				if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
					return nil
				}
				return closeError(gctx, err)
			}

			var msg audioMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				return tts.NewError(tts.CodeMalformedResponse, "invalid stream message", err)
			}
			if msg.Error != "" || (msg.Audio == "" && msg.Message != "" && !msg.IsFinal) {
				return messageError(msg)
			}
			if msg.Audio != "" {
				pcm, err := base64.StdEncoding.DecodeString(msg.Audio)
				if err != nil {
					return tts.NewError(tts.CodeMalformedResponse, "invalid audio payload", err)
				}
				if _, err := pw.Write(pcm); err != nil {
					return tts.NewError(tts.CodeCanceled, "stream consumer closed", err)
				}
				received += int64(len(pcm))
			}
			if msg.IsFinal {
				log.Debug("ElevenLabs stream complete", "received", humanize.Bytes(uint64(received)))
				return nil
			}
		}
	})

	// A blocked pipe write must not outlive cancellation.
	stop := context.AfterFunc(ctx, func() {
		pr.CloseWithError(tts.NewError(tts.CodeCanceled, "elevenlabs stream canceled", ctx.Err()))
	})

	go func() {
		err := g.Wait()
		stop()
		conn.Close(websocket.StatusNormalClosure, "done")
		pw.CloseWithError(err)
	}()

	return &netStream{
		Reader: pr,
		info: tts.StreamInfo{
			Encoding:   format.encoding,
			SampleRate: format.sampleRate,
			Channels:   1,
			TotalBytes: -1,
		},
		closeFn: func() {
			cancel()
			conn.CloseNow()
			pr.Close()
		},
		ctx: ctx,
	}, nil
}

// ---- whole payload over HTTP ----

type speechRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id"`
}

func (e *ElevenLabs) startRequest(ctx context.Context, cancel context.CancelFunc, format outputFormat, voice, text string) (tts.Stream, error) {
	body, err := json.Marshal(speechRequest{Text: text, ModelID: e.cfg.Model})
	if err != nil {
		return nil, tts.NewError(tts.CodeInvalidRequest, "failed to encode request", err)
	}

	u := *e.endpoint
	u.Path += "/v1/text-to-speech/" + url.PathEscape(voice)
	u.RawQuery = url.Values{"output_format": []string{format.name}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, tts.NewError(tts.CodeInvalidVoiceConfig, "failed to build request", err)
	}
	req.Header.Set("xi-api-key", e.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")

	resp, err := e.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, statusError(resp.StatusCode, string(detail), nil)
	}

	log.Debug("ElevenLabs response received", "voice", voice, "length", resp.ContentLength)
	return &netStream{
		Reader: resp.Body,
		info: tts.StreamInfo{
			Encoding:   format.encoding,
			SampleRate: format.sampleRate,
			Channels:   1,
			TotalBytes: resp.ContentLength,
		},
		closeFn: func() {
			cancel()
			resp.Body.Close()
		},
		ctx: ctx,
	}, nil
}

// ---- voices ----

type voicesResponse struct {
	Voices []struct {
		VoiceID  string            `json:"voice_id"`
		Name     string            `json:"name"`
		Category string            `json:"category"`
		Labels   map[string]string `json:"labels"`
	} `json:"voices"`
}

// ListVoices returns the voices available to the configured API key.
func (e *ElevenLabs) ListVoices(ctx context.Context) ([]tts.Voice, error) {
	if e.cfg.APIKey == "" {
		return nil, tts.NewError(tts.CodeAuthenticationRejected, "no ElevenLabs API key configured", nil)
	}

	u := *e.endpoint
	u.Path += "/v1/voices"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, tts.NewError(tts.CodeInvalidVoiceConfig, "failed to build request", err)
	}
	req.Header.Set("xi-api-key", e.cfg.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := e.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, statusError(resp.StatusCode, string(detail), nil)
	}

	var vr voicesResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return nil, tts.NewError(tts.CodeMalformedResponse, "invalid voice list", err)
	}

	voices := make([]tts.Voice, 0, len(vr.Voices))
	for _, v := range vr.Voices {
		voices = append(voices, tts.Voice{
			ID:       v.VoiceID,
			Name:     v.Name,
			Language: v.Labels["language"],
			Gender:   v.Labels["gender"],
			Provider: tts.ProviderElevenLabs,
		})
	}
	return voices, nil
}

// netStream adapts a network body to tts.Stream.
type netStream struct {
	io.Reader
	info    tts.StreamInfo
	ctx     context.Context
	once    sync.Once
	closeFn func()
}

func (s *netStream) Info() tts.StreamInfo { return s.info }

func (s *netStream) Read(p []byte) (int, error) {
	n, err := s.Reader.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		var e *tts.Error
		if errors.As(err, &e) {
			return n, e
		}
		ctx := s.ctx
		if ctx == nil {
			ctx = context.Background()
		}
		return n, transportError(ctx, err)
	}
	return n, err
}

func (s *netStream) Close() error {
	s.once.Do(s.closeFn)
	return nil
}

// ---- error mapping ----

func statusError(status int, detail string, cause error) *tts.Error {
	lower := strings.ToLower(detail)
	var code tts.ErrorCode
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		code = tts.CodeAuthenticationRejected
		if strings.Contains(lower, "quota") {
			code = tts.CodeQuotaExceeded
		}
	case status == http.StatusTooManyRequests || status == http.StatusPaymentRequired:
		code = tts.CodeQuotaExceeded
	case status == http.StatusBadRequest || status == http.StatusNotFound || status == http.StatusUnprocessableEntity:
		code = tts.CodeInvalidVoiceConfig
	case status >= 500:
		code = tts.CodeNetworkUnavailable
	default:
		code = tts.CodeMalformedResponse
	}
	e := tts.NewError(code, fmt.Sprintf("elevenlabs returned %d", status), cause).
		WithContext("status", status)
	if detail = strings.TrimSpace(detail); detail != "" {
		e = e.WithContext("detail", detail)
	}
	return e
}

func messageError(msg audioMessage) *tts.Error {
	text := msg.Error
	if msg.Message != "" {
		text = strings.TrimSpace(text + " " + msg.Message)
	}
	lower := strings.ToLower(text)
	code := tts.CodeMalformedResponse
	switch {
	case strings.Contains(lower, "quota"), strings.Contains(lower, "rate limit"):
		code = tts.CodeQuotaExceeded
	case strings.Contains(lower, "api key"), strings.Contains(lower, "api_key"),
		strings.Contains(lower, "unauthorized"), strings.Contains(lower, "auth"):
		code = tts.CodeAuthenticationRejected
	case strings.Contains(lower, "voice"), strings.Contains(lower, "model"):
		code = tts.CodeInvalidVoiceConfig
	}
	return tts.NewError(code, "elevenlabs stream error", errors.New(text))
}

func closeError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return tts.NewError(tts.CodeCanceled, "elevenlabs stream canceled", err)
	}
	var ce websocket.CloseError
	if errors.As(err, &ce) {
		return messageError(audioMessage{Error: ce.Reason, Code: int(ce.Code)})
	}
	return transportError(ctx, err)
}

func transportError(ctx context.Context, err error) *tts.Error {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return tts.NewError(tts.CodeCanceled, "elevenlabs request canceled", err)
	}
	return tts.NewError(tts.CodeNetworkUnavailable, "elevenlabs unreachable", err)
}
