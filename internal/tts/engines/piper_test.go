package engines

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/dgnsrekt/insight-tts/internal/tts"
)

// fakePiper writes an executable shell script standing in for piper.
func fakePiper(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake piper requires a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "piper")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

// fakeModel creates name.onnx and, when rate is positive, name.onnx.json.
func fakeModel(t *testing.T, dir, name string, rate int) string {
	t.Helper()
	path := filepath.Join(dir, name+".onnx")
	if err := os.WriteFile(path, []byte("onnx"), 0o644); err != nil {
		t.Fatal(err)
	}
	if rate > 0 {
		cfg := `{"audio": {"sample_rate": ` + strconv.Itoa(rate) + `}}`
		if err := os.WriteFile(path+".json", []byte(cfg), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return path
}

func mustRequest(t *testing.T, text, voice string) tts.SynthesisRequest {
	t.Helper()
	req, err := tts.NewSynthesisRequest(text, voice, "")
	if err != nil {
		t.Fatal(err)
	}
	return req
}

func TestPiperStart(t *testing.T) {
	voices := t.TempDir()
	model := fakeModel(t, voices, "en_US-test-low", 16000)
	argsFile := filepath.Join(t.TempDir(), "args")
	script := fakePiper(t, `echo "$@" > `+argsFile+`
cat > /dev/null
head -c 4410 /dev/zero`)

	p, err := NewPiper(PiperConfig{Command: script + " --speaker 2", VoicesDirs: []string{voices}})
	if err != nil {
		t.Fatal(err)
	}
	if p.SupportsSeekHint() {
		t.Error("piper should not report a seek hint")
	}

	stream, err := p.Start(context.Background(), mustRequest(t, "Hello there.", "en_US-test-low"))
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer stream.Close()

	info := stream.Info()
	if info.Encoding != tts.EncodingPCM16LE || info.SampleRate != 16000 || info.Channels != 1 || info.TotalBytes != -1 {
		t.Errorf("Info() = %+v", info)
	}

	data, err := io.ReadAll(stream)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if len(data) != 4410 {
		t.Errorf("read %d bytes, want 4410", len(data))
	}

	args, err := os.ReadFile(argsFile)
	if err != nil {
		t.Fatal(err)
	}
	want := "--speaker 2 --model " + model + " --output_raw"
	if got := strings.TrimSpace(string(args)); got != want {
		t.Errorf("args = %q, want %q", got, want)
	}
}

func TestPiperIgnoresSampleRateHint(t *testing.T) {
	voices := t.TempDir()
	fakeModel(t, voices, "en_US-test-medium", 22050)
	script := fakePiper(t, `cat > /dev/null
head -c 882 /dev/zero`)

	p, err := NewPiper(PiperConfig{Command: script, VoicesDirs: []string{voices}})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		hint int
	}{
		{"no hint", 0},
		{"different rate", 48000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := mustRequest(t, "Hello.", "en_US-test-medium")
			req.SampleRate = tt.hint
			stream, err := p.Start(context.Background(), req)
			if err != nil {
				t.Fatalf("Start() error = %v", err)
			}
			defer stream.Close()

			if got := stream.Info().SampleRate; got != 22050 {
				t.Errorf("Info().SampleRate = %d, want the model rate 22050", got)
			}
			io.Copy(io.Discard, stream)
		})
	}
}

func TestPiperProcessCrash(t *testing.T) {
	voices := t.TempDir()
	fakeModel(t, voices, "voice", 0)
	script := fakePiper(t, `cat > /dev/null
echo "failed to load model" >&2
exit 3`)

	p, err := NewPiper(PiperConfig{Command: script, Model: "voice", VoicesDirs: []string{voices}})
	if err != nil {
		t.Fatal(err)
	}
	stream, err := p.Start(context.Background(), mustRequest(t, "Hello.", ""))
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer stream.Close()

	if stream.Info().SampleRate != DefaultPiperSampleRate {
		t.Errorf("SampleRate = %d, want default", stream.Info().SampleRate)
	}

	_, err = io.ReadAll(stream)
	if tts.CodeOf(err) != tts.CodeProcessCrashed {
		t.Fatalf("ReadAll() error = %v, want PROCESS_CRASHED", err)
	}
	te := tts.AsError(err, tts.CodeUnknown)
	if te.Context["exit_code"] != 3 {
		t.Errorf("exit_code = %v", te.Context["exit_code"])
	}
	if s, _ := te.Context["stderr"].(string); !strings.Contains(s, "failed to load model") {
		t.Errorf("stderr = %q", s)
	}
}

func TestPiperCancel(t *testing.T) {
	voices := t.TempDir()
	fakeModel(t, voices, "voice", 22050)
	script := fakePiper(t, `exec sleep 10`)

	p, err := NewPiper(PiperConfig{Command: script, Model: "voice", VoicesDirs: []string{voices}})
	if err != nil {
		t.Fatal(err)
	}
	stream, err := p.Start(context.Background(), mustRequest(t, "Hello.", ""))
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	errc := make(chan error, 1)
	go func() {
		_, err := io.ReadAll(stream)
		errc <- err
	}()

	time.Sleep(50 * time.Millisecond)
	start := time.Now()
	if err := p.Cancel(); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if err := p.Cancel(); err != nil {
		t.Fatalf("second Cancel() error = %v", err)
	}

	select {
	case err := <-errc:
		if tts.CodeOf(err) != tts.CodeCanceled {
			t.Errorf("read error = %v, want CANCELED", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("read did not return after Cancel")
	}
	if time.Since(start) > 5*time.Second {
		t.Error("Cancel took too long")
	}
	stream.Close()
}

func TestPiperConfigErrors(t *testing.T) {
	voices := t.TempDir()
	fakeModel(t, voices, "en_US-amy-low", 16000)

	tests := []struct {
		name     string
		cfg      PiperConfig
		voice    string
		newCode  tts.ErrorCode
		wantCode tts.ErrorCode
	}{
		{
			name:    "unterminated quote",
			cfg:     PiperConfig{Command: "piper 'oops"},
			newCode: tts.CodeInvalidVoiceConfig,
		},
		{
			name:     "missing binary",
			cfg:      PiperConfig{Command: filepath.Join(t.TempDir(), "nope"), VoicesDirs: []string{voices}},
			voice:    "en_US-amy-low",
			wantCode: tts.CodeProcessSpawnFailed,
		},
		{
			name:     "missing model path",
			cfg:      PiperConfig{Command: "/bin/sh"},
			voice:    filepath.Join(voices, "missing.onnx"),
			wantCode: tts.CodeInvalidVoiceConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewPiper(tt.cfg)
			if tt.newCode != "" {
				if tts.CodeOf(err) != tt.newCode {
					t.Fatalf("NewPiper() error = %v, want %s", err, tt.newCode)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			_, err = p.Start(context.Background(), mustRequest(t, "Hello.", tt.voice))
			if tts.CodeOf(err) != tt.wantCode {
				t.Errorf("Start() error = %v, want %s", err, tt.wantCode)
			}
		})
	}
}

func TestPiperModelSuggestions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
	voices := t.TempDir()
	fakeModel(t, voices, "en_US-amy-low", 16000)
	fakeModel(t, voices, "de_DE-thorsten-medium", 22050)

	p, err := NewPiper(PiperConfig{Command: "/bin/sh", VoicesDirs: []string{voices}})
	if err != nil {
		t.Fatal(err)
	}
	_, err = p.Start(context.Background(), mustRequest(t, "Hello.", "en_US-amy"))
	if tts.CodeOf(err) != tts.CodeInvalidVoiceConfig {
		t.Fatalf("Start() error = %v, want INVALID_VOICE_CONFIG", err)
	}
	te := tts.AsError(err, tts.CodeUnknown)
	if s, _ := te.Context["suggestions"].(string); !strings.Contains(s, "en_US-amy-low") {
		t.Errorf("suggestions = %q", s)
	}
}

func TestPiperListVoices(t *testing.T) {
	voices := t.TempDir()
	fakeModel(t, voices, "en_US-amy-low", 16000)
	fakeModel(t, voices, "de_DE-thorsten-medium", 22050)

	p, err := NewPiper(PiperConfig{VoicesDirs: []string{voices}})
	if err != nil {
		t.Fatal(err)
	}
	list, err := p.ListVoices(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	found := map[string]string{}
	for _, v := range list {
		found[v.ID] = v.Language
	}
	if found["en_US-amy-low"] != "en_US" || found["de_DE-thorsten-medium"] != "de_DE" {
		t.Errorf("ListVoices() = %v", found)
	}

	filtered := FilterVoices(list, "thorsten")
	if len(filtered) == 0 || filtered[0].ID != "de_DE-thorsten-medium" {
		t.Errorf("FilterVoices() = %v", filtered)
	}
	if got := FilterVoices(list, ""); len(got) != len(list) {
		t.Errorf("empty query returned %d voices, want %d", len(got), len(list))
	}
}

func TestModelSampleRate(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		rate int
		want int
	}{
		{"from config", 16000, 16000},
		{"default", 0, DefaultPiperSampleRate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model := fakeModel(t, dir, strings.ReplaceAll(tt.name, " ", "_"), tt.rate)
			if got := modelSampleRate(model); got != tt.want {
				t.Errorf("modelSampleRate() = %d, want %d", got, tt.want)
			}
		})
	}
}
