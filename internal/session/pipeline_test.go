package session

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/dgnsrekt/insight-tts/internal/tts"
)

type closeTracker struct {
	io.Reader
	closed chan struct{}
}

func (c *closeTracker) Close() error {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
	return nil
}

func pcmStream(frames int) (tts.Stream, *closeTracker) {
	rc := &closeTracker{Reader: io.LimitReader(zeros{}, int64(frames*2)), closed: make(chan struct{})}
	return tts.ReaderStream(rc, tts.StreamInfo{
		Encoding:   tts.EncodingPCM16LE,
		SampleRate: testFormat.SampleRate,
		Channels:   1,
		TotalBytes: int64(frames * 2),
	}), rc
}

type zeros struct{}

func (zeros) Read(b []byte) (int, error) {
	for i := range b {
		b[i] = 0
	}
	return len(b), nil
}

func TestPipelineStartsLazily(t *testing.T) {
	opened := 0
	stream, _ := pcmStream(1000)
	p := newPipeline(func(context.Context) (tts.Stream, error) {
		opened++
		return stream, nil
	}, testFormat)

	if _, known := p.TotalFrames(); known {
		t.Error("total should be unknown before the first pull")
	}
	if opened != 0 {
		t.Fatal("backend started before the first pull")
	}

	var frames int
	for {
		chunk, err := p.Next(context.Background())
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		frames += chunk.Frames()
	}
	if opened != 1 || frames != 1000 {
		t.Errorf("opened %d times, decoded %d frames", opened, frames)
	}
	if total, known := p.TotalFrames(); !known || total != 1000 {
		t.Errorf("TotalFrames() = %d, %v", total, known)
	}
}

func TestPipelineOpenError(t *testing.T) {
	denied := tts.NewError(tts.CodeAuthenticationRejected, "denied", nil)
	p := newPipeline(func(context.Context) (tts.Stream, error) { return nil, denied }, testFormat)

	if _, err := p.Next(context.Background()); !errors.Is(err, denied) {
		t.Errorf("Next() error = %v", err)
	}
}

func TestPipelineCloseDuringStart(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	stream, rc := pcmStream(100)

	p := newPipeline(func(ctx context.Context) (tts.Stream, error) {
		close(entered)
		<-release
		return stream, nil
	}, testFormat)

	errc := make(chan error, 1)
	go func() {
		_, err := p.Next(context.Background())
		errc <- err
	}()

	<-entered
	p.Close()
	close(release)

	select {
	case err := <-errc:
		if tts.CodeOf(err) != tts.CodeCanceled {
			t.Errorf("Next() error = %v, want CANCELED", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Next did not return")
	}

	select {
	case <-rc.closed:
	default:
		t.Error("a stream opened after Close must be closed")
	}

	if _, err := p.Next(context.Background()); tts.CodeOf(err) != tts.CodeCanceled {
		t.Errorf("Next() after Close = %v", err)
	}
}

func TestPipelineCloseCancelsStart(t *testing.T) {
	p := newPipeline(func(ctx context.Context) (tts.Stream, error) {
		<-ctx.Done()
		return nil, tts.NewError(tts.CodeCanceled, "start canceled", ctx.Err())
	}, testFormat)

	errc := make(chan error, 1)
	go func() {
		_, err := p.Next(context.Background())
		errc <- err
	}()

	time.Sleep(20 * time.Millisecond)
	p.Close()

	select {
	case err := <-errc:
		if tts.CodeOf(err) != tts.CodeCanceled {
			t.Errorf("Next() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not cancel the pending start")
	}
}
