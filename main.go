// Package main provides the entry point for the insight-tts CLI application.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/atotto/clipboard"
	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/dgnsrekt/insight-tts/internal/config"
	"github.com/dgnsrekt/insight-tts/internal/session"
	"github.com/dgnsrekt/insight-tts/internal/tts"
	"github.com/dgnsrekt/insight-tts/ui"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile string
	// configPath is the file the effective configuration came from.
	configPath string
	cfg        config.Config

	voice         string
	engineTier    string
	fromClipboard bool
	headless      bool
	mouse         bool

	errNothingToSpeak = errors.New("nothing to speak: pass text as arguments, pipe it on stdin or use --clipboard")

	rootCmd = &cobra.Command{
		Use:   "insight-tts [TEXT...]",
		Short: "Speak text aloud with a live spectrum",
		Long: paragraph(
			fmt.Sprintf("\nSpeak text aloud with %s, %s or %s, and watch it play.",
				keyword("Piper"), keyword("Amazon Polly"), keyword("ElevenLabs")),
		),
		Example: paragraph("insight-tts \"Hello there\"\ncat notes.txt | insight-tts --provider polly\ninsight-tts --clipboard --headless"),
		SilenceErrors:    false,
		SilenceUsage:     true,
		TraverseChildren: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return validateOptions(cmd)
		},
		RunE: execute,
	}
)

func validateOptions(*cobra.Command) error {
	if err := loadConfig(); err != nil {
		return err
	}
	setLogLevel(cfg.LogLevel)
	mouse = viper.GetBool("mouse")
	return nil
}

// loadConfig reads the config file, the environment and the flags into cfg.
func loadConfig() error {
	dirs, err := config.SearchDirs()
	if err != nil {
		return err
	}

	used, err := config.ReadInConfig(viper.GetViper(), configFile, dirs)
	if err != nil {
		return err
	}
	configPath = used

	if configPath == "" && configFile == "" && len(dirs) > 0 {
		configPath = filepath.Join(dirs[0], config.AppName+".yml")
		if err := config.EnsureFile(configPath); err != nil {
			log.Error("Could not create default configuration", "error", err)
			configPath = ""
		}
	}

	c, err := config.Load(viper.GetViper())
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	cfg = c
	return nil
}

func stdinIsPipe() (bool, error) {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false, fmt.Errorf("unable to open file: %w", err)
	}
	if stat.Mode()&os.ModeCharDevice == 0 || stat.Size() > 0 {
		return true, nil
	}
	return false, nil
}

// readText collects the text to speak from the clipboard, the arguments
// or stdin, in that order.
func readText(args []string) (string, error) {
	if fromClipboard {
		s, err := clipboard.ReadAll()
		if err != nil {
			return "", fmt.Errorf("unable to read clipboard: %w", err)
		}
		return s, nil
	}

	if len(args) == 1 && args[0] == "-" {
		return readStdin()
	}
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}

	if yes, err := stdinIsPipe(); err != nil {
		return "", err
	} else if yes {
		return readStdin()
	}
	return "", nil
}

func readStdin() (string, error) {
	b, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("unable to read from stdin: %w", err)
	}
	return string(b), nil
}

func execute(cmd *cobra.Command, args []string) error {
	text, err := readText(args)
	if err != nil {
		return err
	}
	if strings.TrimSpace(text) == "" {
		return errNothingToSpeak
	}

	req, err := tts.NewSynthesisRequest(text, voice, engineTier)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := startRuntime(ctx, cfg, configPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			log.Warn("Shutdown failed", "error", err)
		}
	}()

	log.Debug("Starting session", "provider", cfg.Provider, "chars", len(req.Text), "headless", headless)

	if headless || !term.IsTerminal(int(os.Stdout.Fd())) { //nolint:gosec
		return speakHeadless(ctx, rt.orch, req, os.Stderr)
	}
	return runTUI(rt.orch, req)
}

// speakHeadless plays req and prints each state change until the session
// ends or ctx is canceled.
func speakHeadless(ctx context.Context, orch *session.Orchestrator, req tts.SynthesisRequest, w io.Writer) error {
	events, unsubscribe := orch.Events().Subscribe(session.DefaultEventBuffer)
	defer unsubscribe()

	id, err := orch.Speak(req)
	if err != nil {
		if guidance := tts.Guidance(cfg.ProviderKind(), err); guidance != "" {
			fmt.Fprintln(w, guidance)
		}
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return orch.Stop()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.SessionID != id {
				continue
			}
			fmt.Fprintln(w, faint(string(ev.Provider)), keyword(ev.State.String()))
			if !ev.State.Terminal() {
				continue
			}
			if ev.Err != nil {
				if guidance := tts.Guidance(ev.Provider, ev.Err); guidance != "" {
					fmt.Fprintln(w, guidance)
				}
				return ev.Err
			}
			return nil
		}
	}
}

func runTUI(orch *session.Orchestrator, req tts.SynthesisRequest) error {
	// Read environment to get debugging stuff
	uiCfg, err := env.ParseAs[ui.Config]()
	if err != nil {
		return fmt.Errorf("error parsing config: %v", err)
	}

	uiCfg.Text = req.Text
	uiCfg.Voice = req.Voice
	uiCfg.Engine = req.Engine
	uiCfg.SkipStep = cfg.SkipStep()
	uiCfg.EnableMouse = mouse

	if _, err := ui.NewProgram(uiCfg, orch).Run(); err != nil {
		return fmt.Errorf("unable to run tui program: %w", err)
	}
	return nil
}

func main() {
	closer, err := setupLog()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		_ = closer()
		os.Exit(1)
	}
	_ = closer()
}

func init() {
	config.Configure(viper.GetViper())

	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default: searched in the user config directory)")
	rootCmd.PersistentFlags().StringP("provider", "p", "", "synthesis provider: piper, polly, elevenlabs or mock")
	rootCmd.Flags().StringVarP(&voice, "voice", "v", "", "voice id or model (provider default when empty)")
	rootCmd.Flags().StringVarP(&engineTier, "engine", "e", "", "quality tier for providers that offer several")
	rootCmd.Flags().BoolVarP(&fromClipboard, "clipboard", "c", false, "speak the clipboard contents")
	rootCmd.Flags().BoolVar(&headless, "headless", false, "play without the interactive player")
	rootCmd.Flags().StringP("output", "o", "", "audio output: auto, device or mock")
	rootCmd.Flags().BoolP("mouse", "m", false, "enable mouse support in the player")
	_ = rootCmd.Flags().MarkHidden("mouse")

	// Config bindings
	_ = viper.BindPFlag("provider", rootCmd.PersistentFlags().Lookup("provider"))
	_ = viper.BindPFlag("playback.output", rootCmd.Flags().Lookup("output"))
	_ = viper.BindPFlag("mouse", rootCmd.Flags().Lookup("mouse"))

	rootCmd.AddCommand(configCmd, voicesCmd, manCmd)
}
