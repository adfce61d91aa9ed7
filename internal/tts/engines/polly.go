package engines

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	"github.com/aws/aws-sdk-go-v2/service/polly/types"
	"github.com/aws/smithy-go"
	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"golang.org/x/time/rate"

	"github.com/dgnsrekt/insight-tts/internal/tts"
)

const (
	// DefaultPollyVoice is used when no voice is configured.
	DefaultPollyVoice = "Matthew"

	// DefaultPollyEngine is used when the voice key names no engine.
	DefaultPollyEngine = types.EngineNeural

	// DefaultPollySampleRate is the PCM rate requested from Polly.
	DefaultPollySampleRate = 16000
)

// SpeechClient is the subset of the Polly API the adapter uses.
type SpeechClient interface {
	SynthesizeSpeech(ctx context.Context, in *polly.SynthesizeSpeechInput, optFns ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error)
	DescribeVoices(ctx context.Context, in *polly.DescribeVoicesInput, optFns ...func(*polly.Options)) (*polly.DescribeVoicesOutput, error)
}

// PollyConfig holds configuration for the Polly adapter.
type PollyConfig struct {
	// Voice is a voice key of the form "VoiceId" or "VoiceId:Engine".
	Voice string

	// Region overrides the region from the AWS configuration chain.
	Region string

	// SampleRate is the PCM rate to request. Polly accepts 8000 and 16000.
	SampleRate int

	// RequestsPerMinute paces synthesis calls. Zero disables pacing.
	RequestsPerMinute int

	// Client replaces the SDK client, mainly for tests.
	Client SpeechClient
}

// Polly synthesizes speech with Amazon Polly. The whole PCM payload is
// received before the stream is returned, so its length is known upfront.
type Polly struct {
	cfg     PollyConfig
	limiter *rate.Limiter

	clientOnce sync.Once
	client     SpeechClient
	clientErr  error

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewPolly creates a Polly adapter.
func NewPolly(cfg PollyConfig) (*Polly, error) {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = DefaultPollySampleRate
	}
	if cfg.SampleRate != 8000 && cfg.SampleRate != 16000 {
		return nil, tts.NewError(tts.CodeInvalidVoiceConfig, "polly supports 8000 or 16000 Hz PCM", nil).
			WithContext("sample_rate", cfg.SampleRate)
	}
	if _, _, err := ParseVoiceKey(cfg.Voice); err != nil {
		return nil, err
	}

	p := &Polly{cfg: cfg, client: cfg.Client}
	if cfg.RequestsPerMinute > 0 {
		p.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}
	return p, nil
}

// Name returns the provider kind.
func (p *Polly) Name() tts.ProviderKind {
	return tts.ProviderPolly
}

// SupportsSeekHint reports true: the payload length is known on Start.
func (p *Polly) SupportsSeekHint() bool {
	return true
}

// Start requests synthesis of req and returns the complete PCM payload.
func (p *Polly) Start(ctx context.Context, req tts.SynthesisRequest) (tts.Stream, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	voiceKey := req.Voice
	if voiceKey == "" {
		voiceKey = p.cfg.Voice
	}
	voice, engine, err := ParseVoiceKey(voiceKey)
	if err != nil {
		return nil, err
	}
	if req.Engine != "" {
		if engine, err = parseEngine(req.Engine); err != nil {
			return nil, err
		}
	}

	client, err := p.speechClient(ctx)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()
	defer cancel()

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, tts.NewError(tts.CodeCanceled, "synthesis canceled while waiting for rate limit", err)
		}
	}

	sampleRate := p.cfg.SampleRate
	if req.SampleRate == 8000 || req.SampleRate == 16000 {
		sampleRate = req.SampleRate
	}

	log.Debug("Requesting polly synthesis", "voice", voice, "engine", engine, "rate", sampleRate, "chars", len(req.Text))
	out, err := client.SynthesizeSpeech(ctx, &polly.SynthesizeSpeechInput{
		OutputFormat: types.OutputFormatPcm,
		Text:         aws.String(req.Text),
		VoiceId:      types.VoiceId(voice),
		Engine:       engine,
		SampleRate:   aws.String(strconv.Itoa(sampleRate)),
	})
	if err != nil {
		return nil, classifyAWSError(ctx, err)
	}
	defer out.AudioStream.Close()

	payload, err := io.ReadAll(out.AudioStream)
	if err != nil {
		return nil, classifyAWSError(ctx, err)
	}
	if len(payload) == 0 {
		return nil, tts.NewError(tts.CodeMalformedResponse, "polly returned no audio", nil)
	}
	log.Debug("Polly synthesis received", "size", humanize.Bytes(uint64(len(payload))), "characters", out.RequestCharacters)

	return tts.MemoryStream(payload, tts.StreamInfo{
		Encoding:   tts.EncodingPCM16LE,
		SampleRate: sampleRate,
		Channels:   1,
		TotalBytes: int64(len(payload)),
	}), nil
}

// Cancel aborts an in-flight request.
func (p *Polly) Cancel() error {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// ListVoices lists every Polly voice.
func (p *Polly) ListVoices(ctx context.Context) ([]tts.Voice, error) {
	client, err := p.speechClient(ctx)
	if err != nil {
		return nil, err
	}

	var voices []tts.Voice
	var token *string
	for {
		out, err := client.DescribeVoices(ctx, &polly.DescribeVoicesInput{NextToken: token})
		if err != nil {
			return nil, classifyAWSError(ctx, err)
		}
		for _, v := range out.Voices {
			engines := make([]string, 0, len(v.SupportedEngines))
			for _, e := range v.SupportedEngines {
				engines = append(engines, string(e))
			}
			voices = append(voices, tts.Voice{
				ID:       string(v.Id),
				Name:     aws.ToString(v.Name),
				Language: string(v.LanguageCode),
				Gender:   string(v.Gender),
				Engines:  engines,
				Provider: tts.ProviderPolly,
			})
		}
		if out.NextToken == nil || *out.NextToken == "" {
			return voices, nil
		}
		token = out.NextToken
	}
}

func (p *Polly) speechClient(ctx context.Context) (SpeechClient, error) {
	p.clientOnce.Do(func() {
		if p.client != nil {
			return
		}
		if err := checkCredentials(os.Getenv, credentialsFile()); err != nil {
			p.clientErr = err
			return
		}
		var opts []func(*awsconfig.LoadOptions) error
		if p.cfg.Region != "" {
			opts = append(opts, awsconfig.WithRegion(p.cfg.Region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			p.clientErr = tts.NewError(tts.CodeAuthenticationRejected, "failed to load AWS configuration", err)
			return
		}
		p.client = polly.NewFromConfig(awsCfg)
	})
	return p.client, p.clientErr
}

// ParseVoiceKey splits a "VoiceId:Engine" key. An empty key selects the
// default voice and a missing engine selects the neural engine.
func ParseVoiceKey(key string) (string, types.Engine, error) {
	voice, engineName, _ := strings.Cut(strings.TrimSpace(key), ":")
	voice = strings.TrimSpace(voice)
	if voice == "" {
		voice = DefaultPollyVoice
	}
	if strings.TrimSpace(engineName) == "" {
		return voice, DefaultPollyEngine, nil
	}
	engine, err := parseEngine(engineName)
	if err != nil {
		return "", "", err
	}
	return voice, engine, nil
}

func parseEngine(name string) (types.Engine, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "standard":
		return types.EngineStandard, nil
	case "neural":
		return types.EngineNeural, nil
	case "generative":
		return types.EngineGenerative, nil
	case "longform", "long-form":
		return types.EngineLongForm, nil
	default:
		return "", tts.NewError(tts.CodeInvalidVoiceConfig, "unknown polly engine", nil).
			WithContext("engine", name)
	}
}

func credentialsFile() string {
	if path := os.Getenv("AWS_SHARED_CREDENTIALS_FILE"); path != "" {
		return path
	}
	return filepath.Join(expand("~"), ".aws", "credentials")
}

// checkCredentials reports whether AWS credentials are available from the
// environment or the shared credentials file.
func checkCredentials(getenv func(string) string, path string) error {
	if getenv("AWS_ACCESS_KEY_ID") != "" && getenv("AWS_SECRET_ACCESS_KEY") != "" {
		return nil
	}

	profile := getenv("AWS_PROFILE")
	if profile == "" {
		profile = "default"
	}

	missing := tts.NewError(tts.CodeAuthenticationRejected, "no AWS credentials found", nil).
		WithContext("profile", profile)

	f, err := os.Open(path)
	if err != nil {
		return missing
	}
	defer f.Close()

	var inProfile, hasKey, hasSecret bool
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section := strings.TrimSpace(strings.Trim(line, "[]"))
			section = strings.TrimPrefix(section, "profile ")
			inProfile = section == profile
			continue
		}
		if !inProfile {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		switch strings.TrimSpace(k) {
		case "aws_access_key_id":
			hasKey = true
		case "aws_secret_access_key":
			hasSecret = true
		}
	}
	if hasKey && hasSecret {
		return nil
	}
	return missing
}

// classifyAWSError maps SDK failures to adapter error codes.
func classifyAWSError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return tts.NewError(tts.CodeCanceled, "polly request canceled", err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		switch code {
		case "UnrecognizedClientException", "InvalidSignatureException", "AccessDeniedException",
			"ExpiredTokenException", "MissingAuthenticationTokenException":
			return tts.NewError(tts.CodeAuthenticationRejected, "polly rejected the credentials", err).
				WithContext("aws_code", code)
		case "ThrottlingException", "LimitExceededException", "ServiceQuotaExceededException":
			return tts.NewError(tts.CodeQuotaExceeded, "polly request rate exceeded", err).
				WithContext("aws_code", code)
		case "InvalidSampleRateException", "EngineNotSupportedException", "LanguageNotSupportedException",
			"TextLengthExceededException", "ValidationException", "LexiconNotFoundException":
			return tts.NewError(tts.CodeInvalidVoiceConfig, "polly rejected the request", err).
				WithContext("aws_code", code)
		case "ServiceFailureException":
			return tts.NewError(tts.CodeNetworkUnavailable, "polly service failure", err).
				WithContext("aws_code", code)
		}
		return tts.NewError(tts.CodeMalformedResponse, "polly request failed", err).
			WithContext("aws_code", code)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return tts.NewError(tts.CodeNetworkUnavailable, "polly unreachable", err)
	}
	return tts.NewError(tts.CodeNetworkUnavailable, "polly request failed", err)
}
