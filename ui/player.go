// Package ui provides the interactive player for insight-tts.
package ui

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/insight-tts/internal/session"
	"github.com/dgnsrekt/insight-tts/internal/tts"
)

const maxWidth = 80

// Controller is the part of the session orchestrator the player drives.
type Controller interface {
	Speak(req tts.SynthesisRequest) (string, error)
	Toggle() error
	Stop() error
	Skip(ctx context.Context, delta time.Duration) error
	Status() session.Status
}

// NewProgram returns a new Tea program.
func NewProgram(cfg Config, ctrl Controller) *tea.Program {
	log.Debug("Starting player", "refresh", cfg.RefreshInterval, "skip", cfg.SkipStep)

	opts := []tea.ProgramOption{tea.WithAltScreen()}
	if cfg.EnableMouse {
		opts = append(opts, tea.WithMouseCellMotion())
	}
	return tea.NewProgram(newModel(cfg, ctrl), opts...)
}

type model struct {
	cfg  Config
	ctrl Controller

	status   session.Status
	progress progress.Model
	spinner  spinner.Model
	width    int

	// notice holds the last failed command.
	notice   string
	quitting bool
}

func newModel(cfg Config, ctrl Controller) model {
	cfg = cfg.normalize()

	p := progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage())
	p.Width = maxWidth - 4

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(stateColor(tts.StateSynthesizing))

	return model{
		cfg:      cfg,
		ctrl:     ctrl,
		status:   ctrl.Status(),
		progress: p,
		spinner:  s,
		width:    maxWidth,
	}
}

func (m model) request() tts.SynthesisRequest {
	return tts.SynthesisRequest{Text: m.cfg.Text, Voice: m.cfg.Voice, Engine: m.cfg.Engine}
}

func (m model) Init() tea.Cmd {
	cmds := []tea.Cmd{tick(m.cfg.RefreshInterval), m.spinner.Tick}
	if strings.TrimSpace(m.cfg.Text) != "" {
		cmds = append(cmds, speakCmd(m.ctrl, m.request()))
	}
	return tea.Batch(cmds...)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = min(msg.Width, maxWidth)
		m.progress.Width = max(m.width-4, 10)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tickMsg:
		m.status = m.ctrl.Status()
		return m, tick(m.cfg.RefreshInterval)

	case speakMsg:
		if msg.err != nil {
			m.notice = msg.err.Error()
		} else {
			m.notice = ""
		}
		m.status = m.ctrl.Status()
		return m, nil

	case commandMsg:
		// Commands racing the end of a session are harmless.
		if msg.err != nil && !errors.Is(msg.err, tts.ErrNoSession) {
			m.notice = msg.op + ": " + msg.err.Error()
			log.Debug("Player command failed", "op", msg.op, "error", msg.err)
		}
		m.status = m.ctrl.Status()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "esc", "ctrl+c":
		m.quitting = true
		return m, tea.Sequence(stopCmd(m.ctrl), tea.Quit)

	case " ":
		if m.status.Active() {
			return m, toggleCmd(m.ctrl)
		}
		return m.replay()

	case "r":
		return m.replay()

	case "s":
		return m, stopCmd(m.ctrl)

	case "left", "h":
		if m.status.Active() {
			return m, skipCmd(m.ctrl, -m.cfg.SkipStep)
		}

	case "right", "l":
		if m.status.Active() {
			return m, skipCmd(m.ctrl, m.cfg.SkipStep)
		}
	}
	return m, nil
}

func (m model) replay() (tea.Model, tea.Cmd) {
	if strings.TrimSpace(m.cfg.Text) == "" {
		return m, nil
	}
	m.notice = ""
	return m, speakCmd(m.ctrl, m.request())
}

func (m model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(headerStyle.Render("insight-tts"))
	b.WriteString("\n")
	if m.cfg.Text != "" {
		b.WriteString(dimStyle.Render(textPreview(m.cfg.Text, m.width)))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	line := statusLine(m.status)
	if m.status.State == tts.StateSynthesizing {
		line = m.spinner.View() + " " + line
	}
	b.WriteString(line)
	b.WriteString("\n")

	fraction := 0.0
	if m.status.Progress.Known {
		fraction = m.status.Progress.Fraction
	}
	b.WriteString(m.progress.ViewAs(fraction))
	b.WriteString("\n\n")

	b.WriteString(spectrumView(m.status.Spectrum, m.cfg.SpectrumHeight))
	b.WriteString("\n")

	if ev := errorView(m.status, m.width); ev != "" {
		b.WriteString("\n")
		b.WriteString(ev)
		b.WriteString("\n")
	}
	if m.notice != "" {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render(textPreview(m.notice, m.width)))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(helpView(m.cfg.SkipStep))
	return b.String()
}

func helpView(step time.Duration) string {
	keys := []string{
		"space play/pause",
		"←/→ skip " + step.String(),
		"s stop",
		"r replay",
		"q quit",
	}
	return dimStyle.Render(strings.Join(keys, " • "))
}
