package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dgnsrekt/insight-tts/internal/audio"
	"github.com/dgnsrekt/insight-tts/internal/config"
	"github.com/dgnsrekt/insight-tts/internal/session"
	"github.com/dgnsrekt/insight-tts/internal/tts"
	"github.com/dgnsrekt/insight-tts/internal/tts/engines"
)

func TestReadText(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stdin.txt")
	if err := os.WriteFile(path, []byte("from stdin\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	stdin := os.Stdin
	os.Stdin = f
	defer func() { os.Stdin = stdin }()

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"arguments", []string{"hello", "world"}, "hello world"},
		{"dash reads stdin", []string{"-"}, "from stdin\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := readText(tt.args)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("readText(%v) = %q, want %q", tt.args, got, tt.want)
			}
		})
	}
}

func newMockOrchestrator(t *testing.T, mock engines.MockConfig) *session.Orchestrator {
	t.Helper()
	format := tts.Format{SampleRate: 22050, Channels: 1}
	sink := audio.NewMockSink(format)
	sink.SetSpeed(4)

	cfg := session.DefaultConfig()
	cfg.Provider = tts.ProviderMock
	cfg.Engines.Mock = mock

	o := session.New(sink, cfg)
	t.Cleanup(func() {
		o.Close()
		sink.Close()
	})
	return o
}

func TestSpeakHeadless(t *testing.T) {
	o := newMockOrchestrator(t, engines.MockConfig{Duration: 400 * time.Millisecond})

	var out bytes.Buffer
	err := speakHeadless(context.Background(), o, tts.SynthesisRequest{Text: "hello"}, &out)
	if err != nil {
		t.Fatalf("speakHeadless() error = %v", err)
	}
	for _, want := range []string{"synthesizing", "playing", "finished"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestSpeakHeadlessError(t *testing.T) {
	rejected := tts.NewError(tts.CodeAuthenticationRejected, "bad key", nil)
	o := newMockOrchestrator(t, engines.MockConfig{StartErr: rejected})

	var out bytes.Buffer
	err := speakHeadless(context.Background(), o, tts.SynthesisRequest{Text: "hello"}, &out)
	if tts.CodeOf(err) != tts.CodeAuthenticationRejected {
		t.Fatalf("speakHeadless() error = %v, want %s", err, tts.CodeAuthenticationRejected)
	}
	if !strings.Contains(out.String(), "errored") || !strings.Contains(out.String(), "credentials") {
		t.Errorf("output missing the failure and guidance:\n%s", out.String())
	}
}

func TestSpeakHeadlessInterrupted(t *testing.T) {
	o := newMockOrchestrator(t, engines.MockConfig{Hang: true})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	var out bytes.Buffer
	if err := speakHeadless(ctx, o, tts.SynthesisRequest{Text: "hello"}, &out); err != nil {
		t.Fatalf("speakHeadless() error = %v", err)
	}
	if st := o.Status().State; st != tts.StateStopped {
		t.Errorf("state after interrupt = %s, want stopped", st)
	}
}

func TestRuntimeReplaysFromCache(t *testing.T) {
	c := config.Default()
	c.Provider = string(tts.ProviderMock)
	c.Playback.Output = string(audio.SinkMock)

	rt, err := startRuntime(context.Background(), c, "")
	if err != nil {
		t.Fatalf("startRuntime() error = %v", err)
	}
	defer rt.Close()

	req := tts.SynthesisRequest{Text: "one two"}
	for i := 0; i < 2; i++ {
		if err := speakHeadless(context.Background(), rt.orch, req, &bytes.Buffer{}); err != nil {
			t.Fatalf("speak %d: %v", i, err)
		}
	}
	if st := rt.cache.Stats(); st.Hits != 1 {
		t.Errorf("cache hits = %d, want 1", st.Hits)
	}
	if !rt.orch.Status().Cached {
		t.Error("second session was not replayed from the cache")
	}
}

func TestListVoices(t *testing.T) {
	voices, err := listVoices(context.Background(), tts.ProviderMock, engines.Factory(tts.ProviderMock, engines.Config{}))
	if err != nil {
		t.Fatal(err)
	}
	if len(voices) != 1 || voices[0].ID != "tone" {
		t.Errorf("voices = %+v", voices)
	}

	var out bytes.Buffer
	printVoices(&out, voices)
	for _, want := range []string{"tone", "Sine tone", "xx", "1 voice"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}
