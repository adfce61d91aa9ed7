package ui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/dgnsrekt/insight-tts/internal/tts"
)

// skipTimeout bounds a skip command; the engine gives up on its own first.
const skipTimeout = 10 * time.Second

// tickMsg asks the model to poll the session status.
type tickMsg time.Time

// speakMsg is sent when a session was requested.
type speakMsg struct {
	id  string
	err error
}

// commandMsg is sent when a playback command completes.
type commandMsg struct {
	op  string
	err error
}

func tick(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func speakCmd(c Controller, req tts.SynthesisRequest) tea.Cmd {
	return func() tea.Msg {
		id, err := c.Speak(req)
		return speakMsg{id: id, err: err}
	}
}

func toggleCmd(c Controller) tea.Cmd {
	return func() tea.Msg {
		return commandMsg{op: "toggle", err: c.Toggle()}
	}
}

func stopCmd(c Controller) tea.Cmd {
	return func() tea.Msg {
		return commandMsg{op: "stop", err: c.Stop()}
	}
}

// skipCmd runs off the update loop since a forward skip may wait for
// synthesis to catch up.
func skipCmd(c Controller, delta time.Duration) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), skipTimeout)
		defer cancel()
		return commandMsg{op: "skip", err: c.Skip(ctx, delta)}
	}
}
