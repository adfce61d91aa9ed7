package spectrum

import (
	"context"
	"math"
	"sync/atomic"
	"testing"
	"time"
)

func sine(freq float64, rate, n int, amp float64) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(amp * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
	}
	return out
}

func TestComputePeakBand(t *testing.T) {
	a := New()

	// 440 Hz at 22.05 kHz lands in FFT bin 40, inside band [32, 64).
	bands := a.Compute(sine(440, 22050, DefaultWindow, 0.8))
	if len(bands) != DefaultBands {
		t.Fatalf("got %d bands, want %d", len(bands), DefaultBands)
	}

	peak := 0
	for i, v := range bands {
		if v < 0 || v > 1 {
			t.Errorf("band %d = %f outside [0, 1]", i, v)
		}
		if v > bands[peak] {
			peak = i
		}
	}
	if peak != 5 {
		t.Errorf("peak band = %d, want 5 (bands %v)", peak, bands)
	}
	if bands[peak] != 1 {
		t.Errorf("peak value = %f, want 1", bands[peak])
	}
}

func TestComputeTooFewSamples(t *testing.T) {
	a := New()
	bands := a.Compute(sine(440, 22050, MinSamples-1, 0.8))
	for i, v := range bands {
		if v != 0 {
			t.Errorf("band %d = %f, want 0", i, v)
		}
	}
}

func TestComputeSilence(t *testing.T) {
	a := New()
	bands := a.Compute(make([]float32, DefaultWindow))
	for i, v := range bands {
		if v != 0 {
			t.Errorf("band %d = %f, want 0", i, v)
		}
	}
}

// A quiet frame following a loud one must not be scaled up to full height.
func TestComputeRollingCeiling(t *testing.T) {
	a := New()
	a.Compute(sine(440, 22050, DefaultWindow, 0.9))
	quiet := a.Compute(sine(440, 22050, DefaultWindow, 0.05))

	if quiet[5] >= 0.5 {
		t.Errorf("quiet peak = %f, want well below full scale", quiet[5])
	}
	if quiet[5] == 0 {
		t.Error("quiet peak should still be visible")
	}
}

type fakeSource struct {
	playing atomic.Bool
	samples []float32
}

func (f *fakeSource) RecentSamples(n int) ([]float32, bool) {
	if !f.playing.Load() {
		return nil, false
	}
	return f.samples, true
}

func TestTickFollowsSource(t *testing.T) {
	a := New(WithBands(8))
	src := &fakeSource{samples: sine(1000, 22050, DefaultWindow, 0.5)}

	src.playing.Store(true)
	a.Tick(src, time.Now())
	if s := a.Snapshot(); len(s.Bands) != 8 || s.IsZero() {
		t.Fatalf("snapshot while playing = %+v", s)
	}

	src.playing.Store(false)
	a.Tick(src, time.Now())
	if s := a.Snapshot(); !s.IsZero() {
		t.Errorf("snapshot after playback stopped = %+v, want all zero", s)
	}
}

func TestRunResetsOnExit(t *testing.T) {
	a := New(WithInterval(5 * time.Millisecond))
	src := &fakeSource{samples: sine(440, 22050, DefaultWindow, 0.5)}
	src.playing.Store(true)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.Run(ctx, src)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for a.Snapshot().IsZero() {
		select {
		case <-deadline:
			t.Fatal("no snapshot produced")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	<-done
	if !a.Snapshot().IsZero() {
		t.Error("snapshot should be zero after Run returns")
	}
}
