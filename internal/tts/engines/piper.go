package engines

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/mattn/go-shellwords"
	"github.com/mitchellh/go-homedir"
	gap "github.com/muesli/go-app-paths"
	"github.com/sahilm/fuzzy"

	"github.com/dgnsrekt/insight-tts/internal/tts"
)

const (
	// DefaultPiperVoice is the model used when no voice is configured.
	DefaultPiperVoice = "en_US-lessac-medium"

	// DefaultPiperSampleRate is used when the model config does not name one.
	DefaultPiperSampleRate = 22050

	modelExt = ".onnx"
)

// PiperConfig holds configuration for the Piper adapter.
type PiperConfig struct {
	// Command is the piper invocation, parsed with shell quoting rules.
	// Extra words are passed before the generated arguments. Empty means
	// the binary is discovered.
	Command string

	// Model is a voice name or a path to an .onnx model.
	Model string

	// VoicesDirs are searched for models before the default locations.
	VoicesDirs []string

	// SampleRate overrides the rate read from the model config.
	SampleRate int
}

// Piper synthesizes speech with a local piper process. Each request spawns
// a fresh process that receives the text on stdin and writes raw 16-bit
// mono samples to stdout.
type Piper struct {
	cfg     PiperConfig
	command []string

	mu   sync.Mutex
	proc *processStream
}

// NewPiper creates a Piper adapter. Binary and model resolution happen on
// Start so that a missing installation is reported per request.
func NewPiper(cfg PiperConfig) (*Piper, error) {
	p := &Piper{cfg: cfg}
	if strings.TrimSpace(cfg.Command) != "" {
		args, err := shellwords.NewParser().Parse(cfg.Command)
		if err != nil {
			return nil, tts.NewError(tts.CodeInvalidVoiceConfig, "invalid piper command", err).
				WithContext("command", cfg.Command)
		}
		if len(args) == 0 {
			return nil, tts.NewError(tts.CodeInvalidVoiceConfig, "piper command empty", nil)
		}
		p.command = args
	}
	return p, nil
}

// Name returns the provider kind.
func (p *Piper) Name() tts.ProviderKind {
	return tts.ProviderPiper
}

// SupportsSeekHint reports false: the length is known only when piper exits.
func (p *Piper) SupportsSeekHint() bool {
	return false
}

// Start spawns piper for req and returns its raw output stream.
func (p *Piper) Start(ctx context.Context, req tts.SynthesisRequest) (tts.Stream, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	bin, extra, err := p.binary()
	if err != nil {
		return nil, err
	}

	model, err := p.resolveModel(req.Voice)
	if err != nil {
		return nil, err
	}

	rate := p.cfg.SampleRate
	if rate <= 0 {
		rate = modelSampleRate(model)
	}

	args := append(append([]string{}, extra...), "--model", model, "--output_raw")
	info := tts.StreamInfo{
		Encoding:   tts.EncodingPCM16LE,
		SampleRate: rate,
		Channels:   1,
		TotalBytes: -1,
	}

	log.Debug("Starting piper", "binary", bin, "model", model, "sample_rate", rate)
	proc, err := startProcess(ctx, req.Text, info, bin, args...)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	prev := p.proc
	p.proc = proc
	p.mu.Unlock()
	if prev != nil {
		prev.terminate()
	}
	return proc, nil
}

// Cancel kills the running piper process, if any, and waits for it to exit.
func (p *Piper) Cancel() error {
	p.mu.Lock()
	proc := p.proc
	p.proc = nil
	p.mu.Unlock()

	if proc != nil {
		log.Debug("Cancelling piper synthesis")
		proc.terminate()
	}
	return nil
}

// ListVoices lists the models found in the voice directories.
func (p *Piper) ListVoices(ctx context.Context) ([]tts.Voice, error) {
	var voices []tts.Voice
	for _, name := range p.availableModels() {
		if ctx.Err() != nil {
			return nil, tts.NewError(tts.CodeCanceled, "voice listing canceled", ctx.Err())
		}
		lang, _, _ := strings.Cut(name, "-")
		voices = append(voices, tts.Voice{
			ID:       name,
			Name:     name,
			Language: lang,
			Provider: tts.ProviderPiper,
		})
	}
	return voices, nil
}

func (p *Piper) binary() (string, []string, error) {
	if len(p.command) > 0 {
		path, err := exec.LookPath(expand(p.command[0]))
		if err != nil {
			return "", nil, tts.NewError(tts.CodeProcessSpawnFailed, "piper command not found", err).
				WithContext("command", p.command[0])
		}
		return path, p.command[1:], nil
	}

	for _, candidate := range piperCandidates() {
		if isExecutable(candidate) {
			return candidate, nil, nil
		}
	}
	if path, err := exec.LookPath("piper"); err == nil {
		return path, nil, nil
	}
	return "", nil, tts.NewError(tts.CodeProcessSpawnFailed, "piper binary not found", exec.ErrNotFound)
}

func piperCandidates() []string {
	candidates := []string{filepath.Join("venv", "bin", "piper")}
	for _, dir := range dataDirs() {
		candidates = append(candidates, filepath.Join(dir, "venv", "bin", "piper"))
	}
	return append(candidates,
		"/usr/local/bin/piper",
		"/opt/piper/piper",
		expand("~/.local/bin/piper"),
	)
}

// resolveModel maps a voice name or path to a model file.
func (p *Piper) resolveModel(voice string) (string, error) {
	name := strings.TrimSpace(voice)
	if name == "" {
		name = p.cfg.Model
	}
	if name == "" {
		name = DefaultPiperVoice
	}

	if strings.HasSuffix(name, modelExt) || strings.ContainsRune(name, os.PathSeparator) {
		path := expand(name)
		if _, err := os.Stat(path); err != nil {
			return "", tts.NewError(tts.CodeInvalidVoiceConfig, "piper model not found", err).
				WithContext("model", path)
		}
		return path, nil
	}

	for _, dir := range p.modelDirs() {
		path := filepath.Join(dir, name+modelExt)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	e := tts.NewError(tts.CodeInvalidVoiceConfig, "piper model not found", os.ErrNotExist).
		WithContext("voice", name)
	if suggestions := suggest(name, p.availableModels()); len(suggestions) > 0 {
		e = e.WithContext("suggestions", strings.Join(suggestions, ", "))
	}
	return "", e
}

func (p *Piper) modelDirs() []string {
	var dirs []string
	for _, d := range p.cfg.VoicesDirs {
		if d != "" {
			dirs = append(dirs, expand(d))
		}
	}
	dirs = append(dirs, "models")
	for _, d := range dataDirs() {
		dirs = append(dirs, filepath.Join(d, "models"))
	}
	return append(dirs, expand("~/.local/share/piper-voices"))
}

func (p *Piper) availableModels() []string {
	seen := make(map[string]bool)
	var names []string
	for _, dir := range p.modelDirs() {
		matches, err := filepath.Glob(filepath.Join(dir, "*"+modelExt))
		if err != nil {
			continue
		}
		for _, m := range matches {
			name := strings.TrimSuffix(filepath.Base(m), modelExt)
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	return names
}

// modelSampleRate reads audio.sample_rate from the model's json config.
func modelSampleRate(model string) int {
	var cfg struct {
		Audio struct {
			SampleRate int `json:"sample_rate"`
		} `json:"audio"`
	}
	for _, path := range []string{model + ".json", strings.TrimSuffix(model, modelExt) + ".json"} {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			log.Warn("Invalid piper model config", "path", path, "error", err)
			continue
		}
		if cfg.Audio.SampleRate > 0 {
			return cfg.Audio.SampleRate
		}
	}
	return DefaultPiperSampleRate
}

// suggest returns up to three names that fuzzily match name.
func suggest(name string, names []string) []string {
	matches := fuzzy.Find(name, names)
	var out []string
	for i := 0; i < len(matches) && i < 3; i++ {
		out = append(out, matches[i].Str)
	}
	return out
}

// FilterVoices returns the voices whose ID or name fuzzily matches query,
// best match first. An empty query returns voices unchanged.
func FilterVoices(voices []tts.Voice, query string) []tts.Voice {
	if strings.TrimSpace(query) == "" {
		return voices
	}
	keys := make([]string, len(voices))
	for i, v := range voices {
		keys[i] = fmt.Sprintf("%s %s", v.ID, v.Name)
	}
	matches := fuzzy.Find(query, keys)
	out := make([]tts.Voice, 0, len(matches))
	for _, m := range matches {
		out = append(out, voices[m.Index])
	}
	return out
}

func dataDirs() []string {
	dirs, err := gap.NewScope(gap.User, "insight-tts").DataDirs()
	if err != nil {
		log.Debug("Could not resolve data dirs", "error", err)
		return nil
	}
	return dirs
}

func expand(path string) string {
	if p, err := homedir.Expand(path); err == nil {
		return p
	}
	return path
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir() && info.Mode()&0o111 != 0
}
