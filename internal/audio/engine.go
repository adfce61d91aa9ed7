package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/insight-tts/internal/decode"
	"github.com/dgnsrekt/insight-tts/internal/tts"
)

// Config controls an Engine.
type Config struct {
	// SkipWait bounds how long a forward skip waits for synthesis to
	// produce the target position.
	SkipWait time.Duration

	// UnderrunLimit is how long the device may be starved while playing
	// before the session fails. Zero disables the check.
	UnderrunLimit time.Duration

	// PollInterval is the period of the device monitor.
	PollInterval time.Duration
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		SkipWait:      3 * time.Second,
		UnderrunLimit: 30 * time.Second,
		PollInterval:  20 * time.Millisecond,
	}
}

// Listener is notified of state transitions in order. It is called without
// engine locks held and must not issue engine commands.
type Listener func(state tts.PlaybackState, err *tts.Error)

type transition struct {
	state tts.PlaybackState
	err   *tts.Error
}

// Engine plays one session. It pulls chunks from a source on its own
// goroutine, buffers all decoded audio so earlier positions stay
// reachable, and feeds the sink from the current position.
//
// The state machine is:
//
//	Synthesizing -> Playing | Stopped | Errored
//	Playing      -> Paused | Finished | Stopped | Errored
//	Paused       -> Playing | Finished | Stopped | Errored
//
// Finished, Stopped and Errored are terminal.
type Engine struct {
	cfg      Config
	sink     Sink
	format   tts.Format
	source   tts.ChunkSource
	release  func()
	listener Listener

	// cmdMu serializes commands and teardown. The device reader never
	// takes it.
	cmdMu sync.Mutex

	mu           sync.Mutex
	state        tts.PlaybackState
	err          *tts.Error
	samples      []float32
	pos          int64
	ended        bool
	hint         int64
	hintKnown    bool
	grown        chan struct{}
	out          Output
	stopping     bool
	starvedSince time.Time
	pending      []transition

	notifyMu sync.Mutex

	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	startOnce   sync.Once
	releaseOnce sync.Once
}

// NewEngine creates an engine in the Synthesizing state. release is called
// exactly once when the session ends to free backend resources; it must
// unblock any pending source read.
func NewEngine(sink Sink, source tts.ChunkSource, release func(), cfg Config) *Engine {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if release == nil {
		release = func() {}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:     cfg,
		sink:    sink,
		format:  sink.Format(),
		source:  source,
		release: release,
		state:   tts.StateSynthesizing,
		grown:   make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// OnStateChange registers the transition listener. It must be called
// before Start.
func (e *Engine) OnStateChange(l Listener) {
	e.listener = l
}

// Start begins pulling audio. It does not block.
func (e *Engine) Start() {
	e.startOnce.Do(func() {
		e.wg.Add(2)
		go e.feed()
		go e.monitor()
	})
}

// Format returns the device format the engine plays in.
func (e *Engine) Format() tts.Format {
	return e.format
}

// State returns the current state and, when Errored, the reason.
func (e *Engine) State() (tts.PlaybackState, *tts.Error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, e.err
}

// Pause suspends output. Pausing a paused session is a no-op.
func (e *Engine) Pause() error {
	e.cmdMu.Lock()
	defer e.cmdMu.Unlock()

	e.mu.Lock()
	switch {
	case e.state == tts.StatePaused:
		e.mu.Unlock()
		return nil
	case e.state != tts.StatePlaying || e.stopping:
		s := e.state
		e.mu.Unlock()
		return invalid("pause", s)
	}
	out := e.out
	e.transitionLocked(tts.StatePaused, nil)
	e.mu.Unlock()

	out.Pause()
	e.flush()
	return nil
}

// Resume continues output from the paused position. Resuming a playing
// session is a no-op.
func (e *Engine) Resume() error {
	e.cmdMu.Lock()
	defer e.cmdMu.Unlock()

	e.mu.Lock()
	switch {
	case e.state == tts.StatePlaying:
		e.mu.Unlock()
		return nil
	case e.state != tts.StatePaused || e.stopping:
		s := e.state
		e.mu.Unlock()
		return invalid("resume", s)
	}
	out := e.out
	e.transitionLocked(tts.StatePlaying, nil)
	e.mu.Unlock()

	out.Play()
	e.flush()
	return nil
}

// Stop ends the session from any state. When Stop returns the output is
// closed, backend resources are released and the state is Stopped.
func (e *Engine) Stop() error {
	e.cmdMu.Lock()
	defer e.cmdMu.Unlock()

	e.teardown(tts.StateStopped, nil)
	return nil
}

// Skip moves the position by delta, clamped at the start. A target beyond
// the audio decoded so far waits up to Config.SkipWait for synthesis to
// catch up and fails with SEEK_UNAVAILABLE, leaving the position unchanged.
// Skipping past the end of a complete stream finishes the session.
func (e *Engine) Skip(ctx context.Context, delta time.Duration) error {
	e.cmdMu.Lock()
	e.mu.Lock()
	if e.stopping || e.state.Terminal() {
		s := e.state
		e.mu.Unlock()
		e.cmdMu.Unlock()
		return invalid("skip", s)
	}

	target := e.pos + e.format.Frames(delta)
	if target < 0 {
		target = 0
	}
	if target <= e.availableLocked() || e.ended {
		e.seekLocked(target)
		e.mu.Unlock()
		e.cmdMu.Unlock()
		return nil
	}
	e.mu.Unlock()
	e.cmdMu.Unlock()

	if err := e.waitFor(ctx, target); err != nil {
		return err
	}

	e.cmdMu.Lock()
	defer e.cmdMu.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopping || e.state.Terminal() {
		return invalid("skip", e.state)
	}
	e.seekLocked(target)
	return nil
}

func (e *Engine) waitFor(ctx context.Context, target int64) error {
	timer := time.NewTimer(e.cfg.SkipWait)
	defer timer.Stop()

	for {
		e.mu.Lock()
		reached := target <= e.availableLocked() || e.ended
		stopping := e.stopping
		grown := e.grown
		s := e.state
		e.mu.Unlock()

		switch {
		case stopping:
			return invalid("skip", s)
		case reached:
			return nil
		}

		select {
		case <-grown:
		case <-timer.C:
			return tts.NewError(tts.CodeSeekUnavailable, "synthesis has not reached the skip target", tts.ErrSeekUnavailable).
				WithContext("target", e.format.FrameDuration(target))
		case <-ctx.Done():
			return tts.NewError(tts.CodeCanceled, "skip canceled", ctx.Err())
		}
	}
}

// seekLocked moves the position. Reaching the end of a complete stream is
// turned into Finished by the monitor once the device drains.
func (e *Engine) seekLocked(target int64) {
	if avail := e.availableLocked(); target > avail {
		target = avail
	}
	e.pos = target
	e.starvedSince = time.Time{}
}

// Progress returns the playback position. The fraction is known once the
// backend reports a total length or the stream has ended.
func (e *Engine) Progress() tts.Progress {
	e.mu.Lock()
	defer e.mu.Unlock()

	elapsed := e.format.FrameDuration(e.pos)
	total, known := e.hint, e.hintKnown
	if e.ended {
		total, known = e.availableLocked(), true
	}
	if !known || total <= 0 {
		return tts.UnknownProgress(elapsed)
	}

	fraction := float64(e.pos) / float64(total)
	if fraction > 1 {
		fraction = 1
	}
	return tts.Progress{
		Fraction: fraction,
		Known:    true,
		Elapsed:  elapsed,
		Total:    e.format.FrameDuration(total),
	}
}

// RecentSamples returns up to n mono samples ending at the playback
// position. ok is false unless audio is actively being consumed.
func (e *Engine) RecentSamples(n int) ([]float32, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != tts.StatePlaying || e.stopping || !e.starvedSince.IsZero() || e.pos == 0 {
		return nil, false
	}

	ch := int64(e.format.Channels)
	start := e.pos - int64(n)
	if start < 0 {
		start = 0
	}
	out := make([]float32, e.pos-start)
	for i := range out {
		frame := (start + int64(i)) * ch
		var sum float32
		for c := int64(0); c < ch; c++ {
			sum += e.samples[frame+c]
		}
		out[i] = sum / float32(ch)
	}
	return out, true
}

// Samples returns a copy of the complete decoded audio once the stream has
// ended, or false if it has not.
func (e *Engine) Samples() ([]float32, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.ended {
		return nil, false
	}
	out := make([]float32, len(e.samples))
	copy(out, e.samples)
	return out, true
}

func (e *Engine) feed() {
	defer e.wg.Done()

	for {
		chunk, err := e.source.Next(e.ctx)
		if errors.Is(err, io.EOF) {
			e.mu.Lock()
			e.ended = true
			e.broadcastLocked()
			e.mu.Unlock()
			return
		}
		if err != nil {
			if e.isStopping() {
				return
			}
			go e.finish(tts.StateErrored, tts.AsError(err, tts.CodeMalformedResponse))
			return
		}
		if chunk.Frames() == 0 {
			continue
		}
		if chunk.SampleRate != e.format.SampleRate || chunk.Channels != e.format.Channels {
			go e.finish(tts.StateErrored, tts.NewError(tts.CodeDecode,
				fmt.Sprintf("chunk format %dHz/%dch does not match device %s", chunk.SampleRate, chunk.Channels, e.format), nil))
			return
		}

		e.mu.Lock()
		want := e.availableLocked()
		e.mu.Unlock()
		if chunk.Position != want {
			go e.finish(tts.StateErrored, tts.NewError(tts.CodeDecode,
				fmt.Sprintf("chunk at frame %d does not follow frame %d", chunk.Position, want), nil))
			return
		}

		total, known := e.source.TotalFrames()
		if err := e.push(chunk.Samples, total, known); err != nil {
			go e.finish(tts.StateErrored, err)
			return
		}
	}
}

// push appends samples and opens the output on the first chunk.
func (e *Engine) push(samples []float32, total int64, totalKnown bool) *tts.Error {
	e.mu.Lock()
	needOutput := e.out == nil && !e.stopping
	e.mu.Unlock()

	var out Output
	if needOutput {
		o, err := e.sink.NewOutput(playhead{e})
		if err != nil {
			return tts.NewError(tts.CodeDevice, "failed to open audio output", err)
		}
		out = o
	}

	e.mu.Lock()
	if e.stopping {
		e.mu.Unlock()
		if out != nil {
			out.Close()
		}
		return nil
	}
	e.samples = append(e.samples, samples...)
	e.hint, e.hintKnown = total, totalKnown
	e.broadcastLocked()

	started := false
	if out != nil {
		e.out = out
		if e.state == tts.StateSynthesizing {
			e.transitionLocked(tts.StatePlaying, nil)
			started = true
		}
	}
	e.mu.Unlock()

	if started {
		log.Debug("Playback started", "format", e.format)
		out.Play()
		e.flush()
	}
	return nil
}

func (e *Engine) monitor() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
		}

		e.mu.Lock()
		out := e.out
		state := e.state
		ended := e.ended
		avail := e.availableLocked()
		drained := e.pos >= avail
		starved := e.starvedSince
		e.mu.Unlock()

		if out != nil {
			if err := out.Err(); err != nil {
				go e.finish(tts.StateErrored, tts.NewError(tts.CodeDevice, "audio output failed", err))
				return
			}
		}

		switch {
		case ended && avail == 0:
			go e.finish(tts.StateErrored, tts.NewError(tts.CodeMalformedResponse, "synthesis produced no audio", nil))
			return
		case ended && drained && (out == nil || !out.IsPlaying()):
			go e.finish(tts.StateFinished, nil)
			return
		case state == tts.StatePlaying && !ended && e.cfg.UnderrunLimit > 0 &&
			!starved.IsZero() && time.Since(starved) > e.cfg.UnderrunLimit:
			go e.finish(tts.StateErrored, tts.NewError(tts.CodeDevice, "audio stream underrun", nil).
				WithContext("starved", time.Since(starved)))
			return
		}
	}
}

// finish ends the session from an internal goroutine unless a command
// already did.
func (e *Engine) finish(state tts.PlaybackState, err *tts.Error) {
	e.cmdMu.Lock()
	defer e.cmdMu.Unlock()

	if e.isStopping() {
		return
	}
	if err != nil {
		log.Warn("Playback session failed", "code", err.Code, "error", err)
	}
	e.teardown(state, err)
}

// teardown releases every resource before the terminal state becomes
// observable. Callers hold cmdMu.
func (e *Engine) teardown(final tts.PlaybackState, err *tts.Error) {
	e.mu.Lock()
	already := e.stopping
	e.stopping = true
	out := e.out
	e.broadcastLocked()
	e.mu.Unlock()

	if !already {
		if out != nil {
			out.Close()
		}
		e.releaseOnce.Do(e.release)
		e.cancel()
		e.wg.Wait()
	}

	e.mu.Lock()
	if !e.state.Terminal() {
		e.transitionLocked(final, err)
	}
	e.mu.Unlock()
	e.flush()
}

func (e *Engine) isStopping() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopping
}

func (e *Engine) availableLocked() int64 {
	return int64(len(e.samples) / e.format.Channels)
}

func (e *Engine) broadcastLocked() {
	close(e.grown)
	e.grown = make(chan struct{})
}

func (e *Engine) transitionLocked(s tts.PlaybackState, err *tts.Error) {
	e.state = s
	e.err = err
	e.pending = append(e.pending, transition{state: s, err: err})
}

// flush delivers queued transitions in the order they happened.
func (e *Engine) flush() {
	e.notifyMu.Lock()
	defer e.notifyMu.Unlock()

	e.mu.Lock()
	pending := e.pending
	e.pending = nil
	e.mu.Unlock()

	if e.listener == nil {
		return
	}
	for _, t := range pending {
		e.listener(t.state, t.err)
	}
}

func invalid(op string, s tts.PlaybackState) error {
	return fmt.Errorf("%w: cannot %s while %s", tts.ErrInvalidTransition, op, s)
}

// playhead is the io.Reader the device pulls PCM from.
type playhead struct {
	e *Engine
}

func (p playhead) Read(b []byte) (int, error) {
	e := p.e
	ch := e.format.Channels
	frameBytes := 2 * ch

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopping {
		return 0, io.EOF
	}
	if e.state != tts.StatePlaying {
		return silence(b), nil
	}

	avail := e.availableLocked() - e.pos
	if avail <= 0 {
		if e.ended {
			return 0, io.EOF
		}
		if e.starvedSince.IsZero() {
			e.starvedSince = time.Now()
		}
		return silence(b), nil
	}
	e.starvedSince = time.Time{}

	n := int64(len(b) / frameBytes)
	if n > avail {
		n = avail
	}
	if n == 0 {
		return silence(b), nil
	}

	start := e.pos * int64(ch)
	decode.PackPCM16LE(b[:n*int64(frameBytes)], e.samples[start:start+n*int64(ch)])
	e.pos += n
	return int(n) * frameBytes, nil
}

func silence(b []byte) int {
	for i := range b {
		b[i] = 0
	}
	return len(b)
}
