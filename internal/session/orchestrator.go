// Package session owns the single active playback session. It wires a
// synthesis adapter, the decoder and the playback engine together and
// exposes the transport commands and state snapshots used by the UI.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/dgnsrekt/insight-tts/internal/audio"
	"github.com/dgnsrekt/insight-tts/internal/cache"
	"github.com/dgnsrekt/insight-tts/internal/observe"
	"github.com/dgnsrekt/insight-tts/internal/spectrum"
	"github.com/dgnsrekt/insight-tts/internal/tts"
	"github.com/dgnsrekt/insight-tts/internal/tts/engines"
)

// Config selects the backend and playback behaviour for new sessions.
type Config struct {
	Provider tts.ProviderKind
	Engines  engines.Config
	Playback audio.Config

	// Bands is the number of spectrum bands per snapshot.
	Bands int

	// AnalysisInterval is the spectrum refresh period.
	AnalysisInterval time.Duration
}

// DefaultConfig returns a configuration using Piper.
func DefaultConfig() Config {
	return Config{
		Provider:         tts.ProviderPiper,
		Playback:         audio.DefaultConfig(),
		Bands:            spectrum.DefaultBands,
		AnalysisInterval: spectrum.DefaultInterval,
	}
}

// AdapterFactory creates the adapter for one session.
type AdapterFactory func(kind tts.ProviderKind, cfg engines.Config) (tts.Adapter, error)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithCache replays repeated requests from c.
func WithCache(c *cache.Cache) Option {
	return func(o *Orchestrator) {
		o.cache = c
	}
}

// WithMetrics records session metrics to m.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithAdapterFactory replaces the adapter constructor.
func WithAdapterFactory(f AdapterFactory) Option {
	return func(o *Orchestrator) {
		if f != nil {
			o.newAdapter = f
		}
	}
}

// Status is a point-in-time view of the current session.
type Status struct {
	SessionID string
	Provider  tts.ProviderKind
	State     tts.PlaybackState
	Err       *tts.Error
	Progress  tts.Progress
	Spectrum  tts.FrequencySnapshot
	Text      string
	Cached    bool
}

// Active reports whether the session still holds backend or device
// resources.
func (s Status) Active() bool {
	return s.State != tts.StateIdle && !s.State.Terminal()
}

type session struct {
	id       string
	provider tts.ProviderKind
	req      tts.SynthesisRequest
	key      string
	cached   bool
	started  time.Time
	engine   *audio.Engine
	analyzer *spectrum.Analyzer

	stopAnalysis context.CancelFunc
	played       bool
}

// Orchestrator runs at most one playback session at a time.
type Orchestrator struct {
	sink       audio.Sink
	cache      *cache.Cache
	metrics    *observe.Metrics
	events     *Bus
	newAdapter AdapterFactory

	// cmdMu serializes Speak, Pause, Resume and Stop so that a command
	// issued during a teardown applies to the next session.
	cmdMu sync.Mutex

	mu  sync.Mutex
	cfg Config
	cur *session
}

// New creates an orchestrator playing through sink.
func New(sink audio.Sink, cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		sink:       sink,
		events:     NewBus(),
		newAdapter: engines.New,
		cfg:        normalize(cfg),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func normalize(cfg Config) Config {
	if cfg.Provider == "" {
		cfg.Provider = tts.ProviderPiper
	}
	if cfg.Playback == (audio.Config{}) {
		cfg.Playback = audio.DefaultConfig()
	}
	if cfg.Bands <= 0 {
		cfg.Bands = spectrum.DefaultBands
	}
	if cfg.AnalysisInterval <= 0 {
		cfg.AnalysisInterval = spectrum.DefaultInterval
	}
	return cfg
}

// Events returns the bus carrying every session transition.
func (o *Orchestrator) Events() *Bus {
	return o.events
}

// SetConfig replaces the configuration used by the next Speak. The current
// session is not affected.
func (o *Orchestrator) SetConfig(cfg Config) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cfg = normalize(cfg)
}

// Config returns the configuration used by the next Speak.
func (o *Orchestrator) Config() Config {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cfg
}

// Speak tears down the current session and starts a new one for req. It
// returns once the new session is Synthesizing; audio follows
// asynchronously. An invalid request leaves the current session alone; an
// adapter construction failure is returned after it has been stopped.
func (o *Orchestrator) Speak(req tts.SynthesisRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	o.cmdMu.Lock()
	defer o.cmdMu.Unlock()

	o.stopCurrent()

	cfg := o.Config()
	format := o.sink.Format()
	req.SampleRate = format.SampleRate
	s := &session{
		id:       uuid.NewString(),
		provider: cfg.Provider,
		req:      req,
		key:      req.Key(cfg.Provider),
		started:  time.Now(),
	}

	var (
		src     *pipeline
		release func()
	)
	if stream, ok := o.replay(s.key, format); ok {
		s.cached = true
		src = newPipeline(func(context.Context) (tts.Stream, error) { return stream, nil }, format)
		release = func() { src.Close() }
	} else {
		adapter, err := o.newAdapter(cfg.Provider, cfg.Engines)
		if err != nil {
			return "", err
		}
		src = newPipeline(func(ctx context.Context) (tts.Stream, error) {
			return adapter.Start(ctx, req)
		}, format)
		release = func() {
			if err := adapter.Cancel(); err != nil {
				log.Warn("Failed to cancel synthesis", "provider", s.provider, "error", err)
			}
			src.Close()
		}
	}

	s.engine = audio.NewEngine(o.sink, src, release, cfg.Playback)
	s.analyzer = spectrum.New(
		spectrum.WithBands(cfg.Bands),
		spectrum.WithInterval(cfg.AnalysisInterval),
	)
	s.engine.OnStateChange(func(state tts.PlaybackState, err *tts.Error) {
		o.onTransition(s, state, err)
	})

	o.mu.Lock()
	o.cur = s
	o.mu.Unlock()

	log.Info("Starting session",
		"session", s.id,
		"provider", s.provider,
		"chars", len([]rune(req.Text)),
		"cached", s.cached)
	o.metrics.RecordSessionStart(context.Background(), string(s.provider), s.cached)
	o.publish(s, tts.StateSynthesizing, nil)

	var ctx context.Context
	ctx, s.stopAnalysis = context.WithCancel(context.Background())
	s.engine.Start()
	go s.analyzer.Run(ctx, s.engine)

	return s.id, nil
}

func (o *Orchestrator) replay(key string, format tts.Format) (tts.Stream, bool) {
	if o.cache == nil {
		return nil, false
	}
	return o.cache.Stream(key, format)
}

// stopCurrent stops the current session and waits for its resources to be
// released. Callers hold cmdMu.
func (o *Orchestrator) stopCurrent() {
	s := o.current()
	if s == nil {
		return
	}
	if err := s.engine.Stop(); err != nil {
		log.Warn("Failed to stop session", "session", s.id, "error", err)
	}
}

func (o *Orchestrator) current() *session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cur
}

func (o *Orchestrator) onTransition(s *session, state tts.PlaybackState, err *tts.Error) {
	ctx := context.Background()

	switch {
	case state == tts.StatePlaying && !s.played:
		s.played = true
		o.metrics.RecordFirstAudio(ctx, string(s.provider), time.Since(s.started))
	case state.Terminal():
		s.stopAnalysis()
		code := ""
		if err != nil {
			code = string(err.Code)
		}
		o.metrics.RecordSessionEnd(ctx, string(s.provider), state.String(), code)
		if state == tts.StateFinished {
			o.store(s)
		}
	}

	if err != nil {
		log.Warn("Session failed", "session", s.id, "state", state, "code", err.Code, "error", err)
	} else {
		log.Debug("Session transition", "session", s.id, "state", state)
	}
	o.publish(s, state, err)
}

func (o *Orchestrator) store(s *session) {
	if o.cache == nil || s.cached {
		return
	}
	samples, ok := s.engine.Samples()
	if !ok {
		return
	}
	if err := o.cache.Put(s.key, s.engine.Format(), samples); err != nil {
		log.Debug("Session audio not cached", "session", s.id, "error", err)
	}
}

func (o *Orchestrator) publish(s *session, state tts.PlaybackState, err *tts.Error) {
	o.events.Publish(Event{
		SessionID: s.id,
		Provider:  s.provider,
		State:     state,
		Err:       err,
		Cached:    s.cached,
		At:        time.Now(),
	})
}

// Pause suspends the current session.
func (o *Orchestrator) Pause() error {
	o.cmdMu.Lock()
	defer o.cmdMu.Unlock()

	s := o.current()
	if s == nil {
		return noSession("pause")
	}
	return s.engine.Pause()
}

// Resume continues the current session.
func (o *Orchestrator) Resume() error {
	o.cmdMu.Lock()
	defer o.cmdMu.Unlock()

	s := o.current()
	if s == nil {
		return noSession("resume")
	}
	return s.engine.Resume()
}

// Toggle pauses a playing session and resumes a paused one.
func (o *Orchestrator) Toggle() error {
	o.cmdMu.Lock()
	defer o.cmdMu.Unlock()

	s := o.current()
	if s == nil {
		return noSession("toggle")
	}
	if state, _ := s.engine.State(); state == tts.StatePaused {
		return s.engine.Resume()
	}
	return s.engine.Pause()
}

// Stop ends the current session. When Stop returns every backend and device
// resource of the session has been released. Stop with no session is a
// no-op.
func (o *Orchestrator) Stop() error {
	o.cmdMu.Lock()
	defer o.cmdMu.Unlock()

	o.stopCurrent()
	return nil
}

// Skip moves the playback position of the current session by delta. A
// forward skip may wait for synthesis; it does not block other commands.
func (o *Orchestrator) Skip(ctx context.Context, delta time.Duration) error {
	o.cmdMu.Lock()
	s := o.current()
	o.cmdMu.Unlock()

	if s == nil {
		return noSession("skip")
	}
	return s.engine.Skip(ctx, delta)
}

// Status returns the state of the current session. The spectrum is all
// zeros unless the session is playing.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	s := o.cur
	bands := o.cfg.Bands
	o.mu.Unlock()

	if s == nil {
		return Status{State: tts.StateIdle, Spectrum: tts.ZeroSnapshot(bands)}
	}

	state, err := s.engine.State()
	snap := tts.ZeroSnapshot(s.analyzer.Bands())
	if state == tts.StatePlaying {
		snap = s.analyzer.Snapshot()
	}
	return Status{
		SessionID: s.id,
		Provider:  s.provider,
		State:     state,
		Err:       err,
		Progress:  s.engine.Progress(),
		Spectrum:  snap,
		Text:      s.req.Text,
		Cached:    s.cached,
	}
}

// Close stops the current session and ends every event subscription.
func (o *Orchestrator) Close() error {
	err := o.Stop()
	o.events.Close()
	return err
}

func noSession(op string) error {
	return tts.NewError(tts.CodeInvalidRequest, fmt.Sprintf("cannot %s", op), tts.ErrNoSession)
}
