// Package spectrum computes coarse frequency band magnitudes from the audio
// currently being played, for visualization.
package spectrum

import (
	"context"
	"math"
	"math/cmplx"
	"sync"
	"time"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/dgnsrekt/insight-tts/internal/tts"
)

const (
	// DefaultBands is the number of bands in a snapshot.
	DefaultBands = 10

	// DefaultInterval is the period between snapshots.
	DefaultInterval = 75 * time.Millisecond

	// DefaultWindow is the FFT size in samples.
	DefaultWindow = 2048

	// MinSamples is the smallest window that produces a non-zero snapshot.
	MinSamples = 128

	// exponent compresses band values so quiet bands stay visible.
	exponent = 0.7

	ceilingDecay = 0.92
	ceilingFloor = 1.0
)

// Source supplies the samples most recently handed to the output device.
type Source interface {
	// RecentSamples returns up to n mono samples ending at the playback
	// position. ok is false unless audio is actively being consumed.
	RecentSamples(n int) (samples []float32, ok bool)
}

// Analyzer periodically transforms recent samples into band magnitudes.
type Analyzer struct {
	bands    int
	interval time.Duration
	window   int

	mu      sync.Mutex
	fft     *fourier.FFT
	seq     []float64
	coeffs  []complex128
	ceiling float64
	latest  tts.FrequencySnapshot
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithBands sets the number of bands.
func WithBands(n int) Option {
	return func(a *Analyzer) {
		if n > 0 {
			a.bands = n
		}
	}
}

// WithInterval sets the snapshot period.
func WithInterval(d time.Duration) Option {
	return func(a *Analyzer) {
		if d > 0 {
			a.interval = d
		}
	}
}

// WithWindow sets the FFT size.
func WithWindow(n int) Option {
	return func(a *Analyzer) {
		if n >= MinSamples {
			a.window = n
		}
	}
}

// New creates an analyzer.
func New(opts ...Option) *Analyzer {
	a := &Analyzer{
		bands:    DefaultBands,
		interval: DefaultInterval,
		window:   DefaultWindow,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.fft = fourier.NewFFT(a.window)
	a.seq = make([]float64, a.window)
	a.coeffs = make([]complex128, a.window/2+1)
	a.latest = tts.ZeroSnapshot(a.bands)
	return a
}

// Bands returns the number of bands per snapshot.
func (a *Analyzer) Bands() int { return a.bands }

// Run samples src every interval until ctx is done. The latest snapshot is
// reset to zero when Run returns.
func (a *Analyzer) Run(ctx context.Context, src Source) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	defer a.Reset()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			a.Tick(src, now)
		}
	}
}

// Tick computes one snapshot from src.
func (a *Analyzer) Tick(src Source, now time.Time) {
	samples, ok := src.RecentSamples(a.window)
	if !ok {
		a.Reset()
		return
	}

	bands := a.Compute(samples)

	a.mu.Lock()
	a.latest = tts.FrequencySnapshot{Bands: bands, At: now}
	a.mu.Unlock()
}

// Snapshot returns a copy of the most recent snapshot.
func (a *Analyzer) Snapshot() tts.FrequencySnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	bands := make([]float64, len(a.latest.Bands))
	copy(bands, a.latest.Bands)
	return tts.FrequencySnapshot{Bands: bands, At: a.latest.At}
}

// Reset clears the latest snapshot and the loudness ceiling.
func (a *Analyzer) Reset() {
	a.mu.Lock()
	a.latest = tts.ZeroSnapshot(a.bands)
	a.ceiling = 0
	a.mu.Unlock()
}

// Compute returns band magnitudes in [0, 1] for samples. Fewer than
// MinSamples samples produce all zeros. Bands are spaced logarithmically
// over the FFT bins and normalized against a decaying loudness ceiling.
func (a *Analyzer) Compute(samples []float32) []float64 {
	out := make([]float64, a.bands)
	if len(samples) < MinSamples {
		return out
	}
	if len(samples) > a.window {
		samples = samples[len(samples)-a.window:]
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	n := len(samples)
	for i := range a.seq {
		if i >= n {
			a.seq[i] = 0
			continue
		}
		hann := 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
		a.seq[i] = float64(samples[i]) * hann
	}
	a.coeffs = a.fft.Coefficients(a.coeffs, a.seq)

	half := a.window / 2
	logMax := math.Log10(float64(half))
	var peak float64
	for b := 0; b < a.bands; b++ {
		start := int(math.Pow(10, logMax*float64(b)/float64(a.bands)))
		end := int(math.Pow(10, logMax*float64(b+1)/float64(a.bands)))
		if end > half {
			end = half
		}
		if end <= start {
			continue
		}

		var sum float64
		for k := start; k < end; k++ {
			m := cmplx.Abs(a.coeffs[k])
			sum += m * m
		}
		out[b] = math.Sqrt(sum / float64(end-start))
		peak = math.Max(peak, out[b])
	}

	a.ceiling = math.Max(peak, math.Max(a.ceiling*ceilingDecay, ceilingFloor))
	for b, v := range out {
		out[b] = math.Min(1, math.Pow(v/a.ceiling, exponent))
	}
	return out
}
