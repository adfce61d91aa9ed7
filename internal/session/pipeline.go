package session

import (
	"context"
	"sync"

	"github.com/dgnsrekt/insight-tts/internal/decode"
	"github.com/dgnsrekt/insight-tts/internal/tts"
)

// opener starts the encoded stream for a session.
type opener func(ctx context.Context) (tts.Stream, error)

// pipeline is the engine's chunk source. The backend is started on the
// first pull so that synthesis runs on the engine's feeder goroutine and
// never blocks the caller of Speak.
type pipeline struct {
	open   opener
	format tts.Format

	mu     sync.Mutex
	closed bool
	cancel context.CancelFunc
	dec    *decode.Decoder
}

func newPipeline(open opener, format tts.Format) *pipeline {
	return &pipeline{open: open, format: format}
}

// Next implements tts.ChunkSource.
func (p *pipeline) Next(ctx context.Context) (tts.AudioChunk, error) {
	dec, err := p.decoder(ctx)
	if err != nil {
		return tts.AudioChunk{}, err
	}
	return dec.Next(ctx)
}

// TotalFrames implements tts.ChunkSource.
func (p *pipeline) TotalFrames() (int64, bool) {
	p.mu.Lock()
	dec := p.dec
	p.mu.Unlock()
	if dec == nil {
		return 0, false
	}
	return dec.TotalFrames()
}

func (p *pipeline) decoder(ctx context.Context) (*decode.Decoder, error) {
	p.mu.Lock()
	if p.dec != nil {
		dec := p.dec
		p.mu.Unlock()
		return dec, nil
	}
	if p.closed {
		p.mu.Unlock()
		return nil, closedErr()
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.mu.Unlock()

	stream, err := p.open(ctx)
	if err != nil {
		return nil, err
	}
	dec, err := decode.New(stream, p.format)
	if err != nil {
		stream.Close()
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		// Close ran while the backend was starting.
		dec.Close()
		return nil, closedErr()
	}
	p.dec = dec
	return dec, nil
}

// Close cancels a pending start and closes the stream. It is safe to call
// concurrently with Next.
func (p *pipeline) Close() error {
	p.mu.Lock()
	p.closed = true
	cancel := p.cancel
	dec := p.dec
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if dec != nil {
		return dec.Close()
	}
	return nil
}

func closedErr() error {
	return tts.NewError(tts.CodeCanceled, "session closed", nil)
}
