package ui

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/dgnsrekt/insight-tts/internal/session"
	"github.com/dgnsrekt/insight-tts/internal/tts"
)

type fakeController struct {
	mu     sync.Mutex
	calls  []string
	skips  []time.Duration
	status session.Status
	err    error
}

func (f *fakeController) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeController) Speak(req tts.SynthesisRequest) (string, error) {
	f.record("speak:" + req.Text)
	return "id", f.err
}

func (f *fakeController) Toggle() error { f.record("toggle"); return f.err }
func (f *fakeController) Stop() error   { f.record("stop"); return f.err }

func (f *fakeController) Skip(_ context.Context, d time.Duration) error {
	f.record("skip")
	f.mu.Lock()
	f.skips = append(f.skips, d)
	f.mu.Unlock()
	return f.err
}

func (f *fakeController) Status() session.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeController) lastCall() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return ""
	}
	return f.calls[len(f.calls)-1]
}

func key(s string) tea.KeyMsg {
	switch s {
	case " ":
		return tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}
	case "left":
		return tea.KeyMsg{Type: tea.KeyLeft}
	case "right":
		return tea.KeyMsg{Type: tea.KeyRight}
	case "ctrl+c":
		return tea.KeyMsg{Type: tea.KeyCtrlC}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// TestPlayerKeys tests keyboard handling against the session state.
func TestPlayerKeys(t *testing.T) {
	testCases := []struct {
		key      string
		state    tts.PlaybackState
		text     string
		wantCall string
		wantSkip time.Duration
	}{
		{" ", tts.StatePlaying, "hello", "toggle", 0},
		{" ", tts.StatePaused, "hello", "toggle", 0},
		{" ", tts.StateFinished, "hello", "speak:hello", 0},
		{" ", tts.StateIdle, "", "", 0},
		{"r", tts.StatePlaying, "hello", "speak:hello", 0},
		{"s", tts.StatePlaying, "hello", "stop", 0},
		{"left", tts.StatePlaying, "hello", "skip", -2 * time.Second},
		{"right", tts.StatePaused, "hello", "skip", 2 * time.Second},
		{"l", tts.StateSynthesizing, "hello", "skip", 2 * time.Second},
		{"right", tts.StateStopped, "hello", "", 0},
		{"x", tts.StatePlaying, "hello", "", 0},
	}

	for _, tc := range testCases {
		t.Run(tc.key+"/"+tc.state.String(), func(t *testing.T) {
			ctrl := &fakeController{status: session.Status{State: tc.state}}
			m := newModel(Config{Text: tc.text, SkipStep: 2 * time.Second}, ctrl)

			_, cmd := m.Update(key(tc.key))
			if tc.wantCall == "" {
				if cmd != nil {
					t.Errorf("key %q returned a command", tc.key)
				}
				return
			}
			if cmd == nil {
				t.Fatalf("key %q returned no command", tc.key)
			}
			cmd()

			if got := ctrl.lastCall(); got != tc.wantCall {
				t.Errorf("key %q called %q, want %q", tc.key, got, tc.wantCall)
			}
			if tc.wantSkip != 0 && (len(ctrl.skips) != 1 || ctrl.skips[0] != tc.wantSkip) {
				t.Errorf("skips = %v, want [%s]", ctrl.skips, tc.wantSkip)
			}
		})
	}
}

func TestPlayerQuit(t *testing.T) {
	for _, k := range []string{"q", "ctrl+c"} {
		t.Run(k, func(t *testing.T) {
			ctrl := &fakeController{status: session.Status{State: tts.StatePlaying}}
			next, cmd := newModel(Config{Text: "hello"}, ctrl).Update(key(k))
			if cmd == nil {
				t.Fatal("quit returned no command")
			}
			m := next.(model)
			if !m.quitting || m.View() != "" {
				t.Error("model did not enter the quitting state")
			}
		})
	}
}

func TestPlayerInitSpeaks(t *testing.T) {
	ctrl := &fakeController{}
	m := newModel(Config{Text: "hello world"}, ctrl)

	if cmd := m.Init(); cmd == nil {
		t.Fatal("Init() returned no command")
	}
	speakCmd(ctrl, m.request())()
	if got := ctrl.lastCall(); got != "speak:hello world" {
		t.Errorf("Speak called with %q", got)
	}
}

func TestPlayerTickPollsStatus(t *testing.T) {
	ctrl := &fakeController{}
	m := newModel(Config{}, ctrl)

	ctrl.mu.Lock()
	ctrl.status = session.Status{State: tts.StatePlaying, Provider: tts.ProviderMock}
	ctrl.mu.Unlock()

	next, cmd := m.Update(tickMsg(time.Now()))
	if cmd == nil {
		t.Error("tick did not schedule the next tick")
	}
	if got := next.(model).status.State; got != tts.StatePlaying {
		t.Errorf("status = %s, want playing", got)
	}
}

func TestPlayerCommandErrors(t *testing.T) {
	testCases := []struct {
		name       string
		err        error
		wantNotice bool
	}{
		{"success", nil, false},
		{"session ended", tts.NewError(tts.CodeInvalidRequest, "pause", tts.ErrNoSession), false},
		{"failure", errors.New("device gone"), true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m := newModel(Config{}, &fakeController{})
			next, _ := m.Update(commandMsg{op: "toggle", err: tc.err})
			notice := next.(model).notice
			if (notice != "") != tc.wantNotice {
				t.Errorf("notice = %q, want notice: %v", notice, tc.wantNotice)
			}
		})
	}
}

func TestPlayerView(t *testing.T) {
	ctrl := &fakeController{status: session.Status{
		State:    tts.StatePlaying,
		Provider: tts.ProviderPiper,
		Cached:   true,
		Progress: tts.Progress{Fraction: 0.5, Known: true, Elapsed: 65 * time.Second, Total: 130 * time.Second},
		Spectrum: tts.FrequencySnapshot{Bands: []float64{0.2, 0.9, 0.4}},
	}}
	view := newModel(Config{Text: "Read this\naloud", SkipStep: 5 * time.Second}, ctrl).View()

	for _, want := range []string{"playing", "piper (cached)", "1:05 / 2:10", "Read this aloud", "skip 5s"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
}

func TestPlayerViewGuidance(t *testing.T) {
	ctrl := &fakeController{status: session.Status{
		State:    tts.StateErrored,
		Provider: tts.ProviderElevenLabs,
		Err:      tts.NewError(tts.CodeAuthenticationRejected, "invalid api key", nil),
	}}
	view := newModel(Config{}, ctrl).View()

	if !strings.Contains(view, "invalid api key") {
		t.Errorf("view missing the error:\n%s", view)
	}
	if !strings.Contains(view, "ELEVENLABS_API_KEY") {
		t.Errorf("view missing credential guidance:\n%s", view)
	}
}

func TestSpectrumView(t *testing.T) {
	if got := spectrumView(tts.FrequencySnapshot{}, 4); got != "" {
		t.Errorf("empty snapshot rendered %q", got)
	}

	out := spectrumView(tts.FrequencySnapshot{Bands: []float64{0.5, 1, 0}}, 2)
	lines := strings.Split(out, "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 2 rows and a floor:\n%s", len(lines), out)
	}

	full := func(s string) int { return strings.Count(s, "█") }
	if got := full(lines[0]); got != 2 {
		t.Errorf("top row has %d full cells, want 2: %q", got, lines[0])
	}
	if got := full(lines[1]); got != 4 {
		t.Errorf("bottom row has %d full cells, want 4: %q", got, lines[1])
	}
}

func TestFormatDuration(t *testing.T) {
	testCases := []struct {
		in   time.Duration
		want string
	}{
		{0, "0:00"},
		{-time.Second, "0:00"},
		{59 * time.Second, "0:59"},
		{61 * time.Second, "1:01"},
		{10*time.Minute + 5*time.Second, "10:05"},
	}
	for _, tc := range testCases {
		if got := formatDuration(tc.in); got != tc.want {
			t.Errorf("formatDuration(%s) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
