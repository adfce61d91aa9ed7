package ui

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/truncate"

	"github.com/dgnsrekt/insight-tts/internal/session"
	"github.com/dgnsrekt/insight-tts/internal/tts"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
	hintStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#00AAFF"))
	barStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF88"))
	floorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#333333"))
)

// barLevels are the partial block glyphs used for the top cell of a bar.
var barLevels = []rune{' ', '▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

// stateColor returns the color for a playback state.
func stateColor(s tts.PlaybackState) lipgloss.Color {
	switch s {
	case tts.StatePlaying:
		return lipgloss.Color("#00FF00") // Green
	case tts.StatePaused:
		return lipgloss.Color("#FFFF00") // Yellow
	case tts.StateSynthesizing:
		return lipgloss.Color("#00AAFF") // Blue
	case tts.StateErrored:
		return lipgloss.Color("#FF0000") // Red
	case tts.StateStopped:
		return lipgloss.Color("#FF8800") // Orange
	case tts.StateFinished:
		return lipgloss.Color("#888888") // Gray
	default:
		return lipgloss.Color("#666666")
	}
}

// stateIcon returns an icon for a playback state.
func stateIcon(s tts.PlaybackState) string {
	switch s {
	case tts.StatePlaying:
		return "▶"
	case tts.StatePaused:
		return "⏸"
	case tts.StateSynthesizing:
		return "⟳"
	case tts.StateErrored:
		return "✗"
	case tts.StateStopped:
		return "◼"
	case tts.StateFinished:
		return "■"
	default:
		return "○"
	}
}

// statusLine renders the state, provider and clock.
func statusLine(st session.Status) string {
	state := lipgloss.NewStyle().Foreground(stateColor(st.State)).
		Render(fmt.Sprintf("%s %s", stateIcon(st.State), st.State))

	parts := []string{state}
	if st.Provider != "" {
		provider := string(st.Provider)
		if st.Cached {
			provider += " (cached)"
		}
		parts = append(parts, dimStyle.Render(provider))
	}
	if st.State != tts.StateIdle {
		parts = append(parts, clock(st.Progress))
	}
	return strings.Join(parts, dimStyle.Render(" • "))
}

// clock renders elapsed and total time.
func clock(p tts.Progress) string {
	if !p.Known {
		return formatDuration(p.Elapsed) + " / --:--"
	}
	return formatDuration(p.Elapsed) + " / " + formatDuration(p.Total)
}

// formatDuration formats a duration for display.
func formatDuration(d time.Duration) string {
	if d < 0 {
		return "0:00"
	}

	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60

	return fmt.Sprintf("%d:%02d", minutes, seconds)
}

// spectrumView renders one vertical bar per band, height rows tall.
func spectrumView(snap tts.FrequencySnapshot, height int) string {
	if len(snap.Bands) == 0 || height < 1 {
		return ""
	}

	steps := len(barLevels) - 1
	rows := make([]string, height)
	for r := 0; r < height; r++ {
		// Row 0 is the top of the graph.
		base := (height - 1 - r) * steps
		var b strings.Builder
		for i, v := range snap.Bands {
			if i > 0 {
				b.WriteByte(' ')
			}
			cells := int(math.Round(clamp(v) * float64(height*steps)))
			level := cells - base
			switch {
			case level >= steps:
				level = steps
			case level < 0:
				level = 0
			}
			b.WriteString(strings.Repeat(string(barLevels[level]), 2))
		}
		rows[r] = b.String()
	}

	floor := strings.Repeat("▔", len(snap.Bands)*3-1)
	return barStyle.Render(strings.Join(rows, "\n")) + "\n" + floorStyle.Render(floor)
}

func clamp(v float64) float64 {
	switch {
	case v < 0 || math.IsNaN(v):
		return 0
	case v > 1:
		return 1
	}
	return v
}

// errorView renders a session failure with guidance for fixing it.
func errorView(st session.Status, width int) string {
	if st.Err == nil {
		return ""
	}
	if width < 10 {
		width = 10
	}

	msg := truncate.StringWithTail(st.Err.Error(), uint(width-7), "...") //nolint:gosec
	lines := []string{errorStyle.Render("Error: " + msg)}

	if guidance := tts.Guidance(st.Provider, st.Err); guidance != "" {
		for _, l := range strings.Split(guidance, "\n") {
			lines = append(lines, hintStyle.Render(truncate.StringWithTail(l, uint(width), "..."))) //nolint:gosec
		}
	}
	return strings.Join(lines, "\n")
}

// textPreview returns the first line of the spoken text, fitted to width.
func textPreview(text string, width int) string {
	text = strings.Join(strings.Fields(text), " ")
	if width < 4 {
		width = 4
	}
	return truncate.StringWithTail(text, uint(width), "…") //nolint:gosec
}
