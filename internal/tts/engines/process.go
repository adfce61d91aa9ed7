package engines

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"

	"github.com/dgnsrekt/insight-tts/internal/tts"
)

const (
	// stderrTail bounds how much child stderr is kept for error reports.
	stderrTail = 2048

	// waitDelay bounds how long Wait blocks on pipes after the child exits.
	waitDelay = 2 * time.Second
)

// processStream exposes the stdout of a synthesis child process as a
// tts.Stream. Closing the stream kills the child and reaps it.
type processStream struct {
	ctx    context.Context
	name   string
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *tailBuffer
	info   tts.StreamInfo

	killed atomic.Bool
	read   atomic.Int64

	waitOnce sync.Once
	done     chan struct{}
	waitErr  error
}

// startProcess spawns name with args and writes input to its stdin.
// Stdin is attached before Start so the child never observes a half-open
// input pipe.
func startProcess(ctx context.Context, input string, info tts.StreamInfo, name string, args ...string) (*processStream, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = strings.NewReader(input)
	cmd.WaitDelay = waitDelay

	stderr := &tailBuffer{limit: stderrTail}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, tts.NewError(tts.CodeProcessSpawnFailed, "failed to create stdout pipe", err).
			WithContext("command", name)
	}

	if err := cmd.Start(); err != nil {
		return nil, tts.NewError(tts.CodeProcessSpawnFailed, "failed to start synthesis process", err).
			WithContext("command", name)
	}

	log.Debug("Synthesis process started", "command", name, "pid", cmd.Process.Pid, "input", humanize.Bytes(uint64(len(input))))

	return &processStream{
		ctx:    ctx,
		name:   name,
		cmd:    cmd,
		stdout: stdout,
		stderr: stderr,
		info:   info,
		done:   make(chan struct{}),
	}, nil
}

// Info describes the raw sample stream written by the child.
func (s *processStream) Info() tts.StreamInfo {
	return s.info
}

// Read reads child stdout. At end of output the child is reaped and its exit
// status decides between io.EOF and a PROCESS_CRASHED error.
func (s *processStream) Read(p []byte) (int, error) {
	n, err := s.stdout.Read(p)
	s.read.Add(int64(n))
	if err == nil {
		return n, nil
	}
	if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
		s.wait()
		return n, s.exitError()
	}
	return n, tts.NewError(tts.CodeProcessCrashed, "failed to read synthesis output", err).
		WithContext("command", s.name)
}

// Close kills the child if it is still running and waits for it to exit.
func (s *processStream) Close() error {
	s.terminate()
	return nil
}

func (s *processStream) exited() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *processStream) terminate() {
	if !s.exited() {
		s.killed.Store(true)
		if err := s.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			log.Warn("Failed to kill synthesis process", "command", s.name, "error", err)
		}
	}
	s.wait()
}

func (s *processStream) wait() {
	s.waitOnce.Do(func() {
		s.waitErr = s.cmd.Wait()
		close(s.done)
		log.Debug("Synthesis process exited",
			"command", s.name,
			"killed", s.killed.Load(),
			"output", humanize.Bytes(uint64(s.read.Load())),
			"error", s.waitErr)
	})
}

func (s *processStream) exitError() error {
	if s.killed.Load() || s.ctx.Err() != nil {
		return tts.NewError(tts.CodeCanceled, "synthesis process terminated", context.Canceled).
			WithContext("command", s.name)
	}
	if s.waitErr != nil {
		e := tts.NewError(tts.CodeProcessCrashed, "synthesis process failed", s.waitErr).
			WithContext("command", s.name)
		if tail := strings.TrimSpace(s.stderr.String()); tail != "" {
			e = e.WithContext("stderr", tail)
		}
		var exitErr *exec.ExitError
		if errors.As(s.waitErr, &exitErr) {
			e = e.WithContext("exit_code", exitErr.ExitCode())
		}
		return e
	}
	return io.EOF
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
