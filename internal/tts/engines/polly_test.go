package engines

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	"github.com/aws/aws-sdk-go-v2/service/polly/types"
	"github.com/aws/smithy-go"

	"github.com/dgnsrekt/insight-tts/internal/tts"
)

type fakeSpeechClient struct {
	mu      sync.Mutex
	inputs  []*polly.SynthesizeSpeechInput
	payload []byte
	err     error
	block   bool
	entered chan struct{}
	pages   [][]types.Voice
}

func (f *fakeSpeechClient) SynthesizeSpeech(ctx context.Context, in *polly.SynthesizeSpeechInput, _ ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error) {
	f.mu.Lock()
	f.inputs = append(f.inputs, in)
	f.mu.Unlock()

	if f.block {
		f.entered <- struct{}{}
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return &polly.SynthesizeSpeechOutput{
		AudioStream:       io.NopCloser(bytes.NewReader(f.payload)),
		RequestCharacters: int32(len(aws.ToString(in.Text))),
	}, nil
}

func (f *fakeSpeechClient) DescribeVoices(ctx context.Context, in *polly.DescribeVoicesInput, _ ...func(*polly.Options)) (*polly.DescribeVoicesOutput, error) {
	page := 0
	if in.NextToken != nil {
		page = 1
	}
	out := &polly.DescribeVoicesOutput{Voices: f.pages[page]}
	if page+1 < len(f.pages) {
		out.NextToken = aws.String("next")
	}
	return out, nil
}

func (f *fakeSpeechClient) lastInput() *polly.SynthesizeSpeechInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inputs[len(f.inputs)-1]
}

func TestParseVoiceKey(t *testing.T) {
	tests := []struct {
		key     string
		voice   string
		engine  types.Engine
		wantErr bool
	}{
		{"", DefaultPollyVoice, types.EngineNeural, false},
		{"Joanna", "Joanna", types.EngineNeural, false},
		{"Joanna:Standard", "Joanna", types.EngineStandard, false},
		{"Ruth:generative", "Ruth", types.EngineGenerative, false},
		{"Danielle:LongForm", "Danielle", types.EngineLongForm, false},
		{":Neural", DefaultPollyVoice, types.EngineNeural, false},
		{"Joanna:Turbo", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			voice, engine, err := ParseVoiceKey(tt.key)
			if tt.wantErr {
				if tts.CodeOf(err) != tts.CodeInvalidVoiceConfig {
					t.Fatalf("ParseVoiceKey() error = %v, want INVALID_VOICE_CONFIG", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if voice != tt.voice || engine != tt.engine {
				t.Errorf("ParseVoiceKey() = %s, %s; want %s, %s", voice, engine, tt.voice, tt.engine)
			}
		})
	}
}

func TestPollyStart(t *testing.T) {
	client := &fakeSpeechClient{payload: make([]byte, 3200)}
	p, err := NewPolly(PollyConfig{Voice: "Joanna:Standard", Client: client})
	if err != nil {
		t.Fatal(err)
	}
	if !p.SupportsSeekHint() {
		t.Error("polly should report a seek hint")
	}

	stream, err := p.Start(context.Background(), mustRequest(t, "Hello there.", ""))
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer stream.Close()

	info := stream.Info()
	if info.TotalBytes != 3200 || info.SampleRate != DefaultPollySampleRate || info.Channels != 1 || info.Encoding != tts.EncodingPCM16LE {
		t.Errorf("Info() = %+v", info)
	}
	data, err := io.ReadAll(stream)
	if err != nil || len(data) != 3200 {
		t.Errorf("ReadAll() = %d bytes, %v", len(data), err)
	}

	in := client.lastInput()
	if in.VoiceId != "Joanna" || in.Engine != types.EngineStandard || in.OutputFormat != types.OutputFormatPcm || aws.ToString(in.SampleRate) != "16000" {
		t.Errorf("input = voice %s engine %s format %s rate %s", in.VoiceId, in.Engine, in.OutputFormat, aws.ToString(in.SampleRate))
	}

	// Request voice and engine override the configured key.
	req, _ := tts.NewSynthesisRequest("Again.", "Matthew", "generative")
	if _, err := p.Start(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	in = client.lastInput()
	if in.VoiceId != "Matthew" || in.Engine != types.EngineGenerative {
		t.Errorf("override input = %s %s", in.VoiceId, in.Engine)
	}
}

func TestPollySampleRateHint(t *testing.T) {
	tests := []struct {
		name       string
		configured int
		hint       int
		want       int
	}{
		{"no hint", 8000, 0, 8000},
		{"supported hint", 16000, 8000, 8000},
		{"hint matches config", 16000, 16000, 16000},
		{"unsupported hint", 8000, 44100, 8000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeSpeechClient{payload: make([]byte, 320)}
			p, err := NewPolly(PollyConfig{SampleRate: tt.configured, Client: client})
			if err != nil {
				t.Fatal(err)
			}
			req := mustRequest(t, "Hello.", "")
			req.SampleRate = tt.hint

			stream, err := p.Start(context.Background(), req)
			if err != nil {
				t.Fatalf("Start() error = %v", err)
			}
			defer stream.Close()

			if got := aws.ToString(client.lastInput().SampleRate); got != strconv.Itoa(tt.want) {
				t.Errorf("requested rate = %s, want %d", got, tt.want)
			}
			if got := stream.Info().SampleRate; got != tt.want {
				t.Errorf("Info().SampleRate = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestPollyErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want tts.ErrorCode
	}{
		{"bad credentials", &smithy.GenericAPIError{Code: "UnrecognizedClientException"}, tts.CodeAuthenticationRejected},
		{"throttled", &smithy.GenericAPIError{Code: "ThrottlingException"}, tts.CodeQuotaExceeded},
		{"bad engine", &smithy.GenericAPIError{Code: "EngineNotSupportedException"}, tts.CodeInvalidVoiceConfig},
		{"service failure", &smithy.GenericAPIError{Code: "ServiceFailureException"}, tts.CodeNetworkUnavailable},
		{"unknown api error", &smithy.GenericAPIError{Code: "SomethingNew"}, tts.CodeMalformedResponse},
		{"transport", errors.New("dial tcp: no route to host"), tts.CodeNetworkUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewPolly(PollyConfig{Client: &fakeSpeechClient{err: tt.err}})
			if err != nil {
				t.Fatal(err)
			}
			_, err = p.Start(context.Background(), mustRequest(t, "Hello.", ""))
			if tts.CodeOf(err) != tt.want {
				t.Errorf("Start() error = %v, want %s", err, tt.want)
			}
		})
	}

	t.Run("empty payload", func(t *testing.T) {
		p, _ := NewPolly(PollyConfig{Client: &fakeSpeechClient{}})
		_, err := p.Start(context.Background(), mustRequest(t, "Hello.", ""))
		if tts.CodeOf(err) != tts.CodeMalformedResponse {
			t.Errorf("Start() error = %v, want MALFORMED_RESPONSE", err)
		}
	})

	t.Run("invalid sample rate", func(t *testing.T) {
		_, err := NewPolly(PollyConfig{SampleRate: 44100})
		if tts.CodeOf(err) != tts.CodeInvalidVoiceConfig {
			t.Errorf("NewPolly() error = %v, want INVALID_VOICE_CONFIG", err)
		}
	})
}

func TestPollyCancel(t *testing.T) {
	client := &fakeSpeechClient{block: true, entered: make(chan struct{}, 1)}
	p, err := NewPolly(PollyConfig{Client: client})
	if err != nil {
		t.Fatal(err)
	}

	errc := make(chan error, 1)
	go func() {
		_, err := p.Start(context.Background(), mustRequest(t, "Hello.", ""))
		errc <- err
	}()

	<-client.entered
	p.Cancel()
	p.Cancel()

	select {
	case err := <-errc:
		if tts.CodeOf(err) != tts.CodeCanceled {
			t.Errorf("Start() error = %v, want CANCELED", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Cancel")
	}
}

func TestPollyListVoices(t *testing.T) {
	client := &fakeSpeechClient{pages: [][]types.Voice{
		{{Id: "Joanna", Name: aws.String("Joanna"), LanguageCode: "en-US", Gender: types.GenderFemale, SupportedEngines: []types.Engine{types.EngineNeural}}},
		{{Id: "Hans", Name: aws.String("Hans"), LanguageCode: "de-DE", Gender: types.GenderMale}},
	}}
	p, err := NewPolly(PollyConfig{Client: client})
	if err != nil {
		t.Fatal(err)
	}

	voices, err := p.ListVoices(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(voices) != 2 {
		t.Fatalf("ListVoices() returned %d voices, want 2", len(voices))
	}
	if voices[0].ID != "Joanna" || voices[0].Gender != "Female" || voices[0].Engines[0] != "neural" {
		t.Errorf("voices[0] = %+v", voices[0])
	}
	if voices[1].Language != "de-DE" || voices[1].Provider != tts.ProviderPolly {
		t.Errorf("voices[1] = %+v", voices[1])
	}
}

func TestCheckCredentials(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "credentials")
	content := `[default]
aws_access_key_id = AKIDEXAMPLE
aws_secret_access_key = secret

[profile partial]
aws_access_key_id = AKIDEXAMPLE
`
	if err := os.WriteFile(file, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	env := func(vars map[string]string) func(string) string {
		return func(k string) string { return vars[k] }
	}

	tests := []struct {
		name string
		env  map[string]string
		path string
		ok   bool
	}{
		{"environment", map[string]string{"AWS_ACCESS_KEY_ID": "a", "AWS_SECRET_ACCESS_KEY": "b"}, "", true},
		{"default profile", nil, file, true},
		{"partial profile", map[string]string{"AWS_PROFILE": "partial"}, file, false},
		{"missing profile", map[string]string{"AWS_PROFILE": "other"}, file, false},
		{"no file", nil, filepath.Join(dir, "missing"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkCredentials(env(tt.env), tt.path)
			if tt.ok && err != nil {
				t.Errorf("checkCredentials() error = %v", err)
			}
			if !tt.ok {
				te := tts.AsError(err, tts.CodeUnknown)
				if te == nil || !te.NeedsCredentials() {
					t.Errorf("checkCredentials() error = %v, want credential error", err)
				}
			}
		})
	}
}
