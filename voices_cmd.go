package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/dgnsrekt/insight-tts/internal/tts"
	"github.com/dgnsrekt/insight-tts/internal/tts/engines"
)

const listVoicesTimeout = 15 * time.Second

var voicesCmd = &cobra.Command{
	Use:     "voices [QUERY]",
	Short:   "List the voices of a provider",
	Long:    paragraph(fmt.Sprintf("\nList the voices offered by the selected provider, %s by an optional query.", keyword("fuzzy filtered"))),
	Example: paragraph("insight-tts voices\ninsight-tts voices --provider polly neural\ninsight-tts voices -p elevenlabs rachel"),
	Args:    cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), listVoicesTimeout)
		defer cancel()

		voices, err := listVoices(ctx, cfg.ProviderKind(), engines.Factory(cfg.ProviderKind(), cfg.Engines()))
		if err != nil {
			if guidance := tts.Guidance(cfg.ProviderKind(), err); guidance != "" {
				fmt.Fprintln(os.Stderr, guidance)
			}
			return err
		}

		printVoices(os.Stdout, engines.FilterVoices(voices, strings.Join(args, " ")))
		return nil
	},
}

func listVoices(ctx context.Context, kind tts.ProviderKind, newAdapter func() (tts.Adapter, error)) ([]tts.Voice, error) {
	adapter, err := newAdapter()
	if err != nil {
		return nil, err
	}
	lister, ok := adapter.(tts.VoiceLister)
	if !ok {
		return nil, fmt.Errorf("%s cannot list its voices", kind)
	}
	return lister.ListVoices(ctx)
}

func printVoices(w io.Writer, voices []tts.Voice) {
	idStyle := lipgloss.NewStyle().Bold(true)

	for _, v := range voices {
		details := []string{}
		for _, s := range []string{v.Language, v.Gender, strings.Join(v.Engines, "/")} {
			if s != "" {
				details = append(details, s)
			}
		}

		line := idStyle.Render(v.ID)
		if v.Name != "" && v.Name != v.ID {
			line += " " + v.Name
		}
		if len(details) > 0 {
			line += " " + faint(strings.Join(details, " • "))
		}
		fmt.Fprintln(w, line)
	}

	noun := "voices"
	if len(voices) == 1 {
		noun = "voice"
	}
	fmt.Fprintln(w, faint(fmt.Sprintf("%s %s", humanize.Comma(int64(len(voices))), noun)))
}
