package decode

import (
	"math"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/insight-tts/internal/tts"
)

// converter changes the sample rate and channel layout of a sample stream.
// Conversion order: resample first, then channel convert.
type converter struct {
	src, dst tts.Format
	rs       *resampler
	warned   sync.Once
}

func newConverter(src, dst tts.Format) *converter {
	c := &converter{src: src, dst: dst}
	if src.SampleRate != dst.SampleRate {
		c.rs = newResampler(src.SampleRate, dst.SampleRate, src.Channels)
	}
	return c
}

func (c *converter) convert(samples []float32) []float32 {
	if c.src == c.dst {
		return samples
	}
	c.warned.Do(func() {
		log.Debug("Converting audio format", "from", c.src, "to", c.dst)
	})

	if c.rs != nil {
		samples = c.rs.process(samples)
	}
	return remix(samples, c.src.Channels, c.dst.Channels)
}

// remix converts interleaved samples between channel counts. Sources with
// more channels than the target are averaged.
func remix(samples []float32, from, to int) []float32 {
	if from == to || from <= 0 {
		return samples
	}
	frames := len(samples) / from
	out := make([]float32, frames*to)
	for i := 0; i < frames; i++ {
		frame := samples[i*from : (i+1)*from]
		if to == 1 {
			var sum float32
			for _, s := range frame {
				sum += s
			}
			out[i] = sum / float32(from)
			continue
		}
		if from == 1 {
			for c := 0; c < to; c++ {
				out[i*to+c] = frame[0]
			}
			continue
		}
		for c := 0; c < to; c++ {
			out[i*to+c] = frame[c%from]
		}
	}
	return out
}

// resampler performs streaming linear interpolation. It carries the last
// input frame and the fractional read position across calls so chunk
// boundaries do not produce discontinuities.
type resampler struct {
	step     float64
	channels int
	pos      float64
	prev     []float32
}

func newResampler(srcRate, dstRate, channels int) *resampler {
	return &resampler{
		step:     float64(srcRate) / float64(dstRate),
		channels: channels,
		prev:     make([]float32, channels),
	}
}

func (r *resampler) process(in []float32) []float32 {
	ch := r.channels
	n := len(in) / ch
	if n == 0 {
		return nil
	}

	at := func(i, c int) float32 {
		if i < 0 {
			return r.prev[c]
		}
		return in[i*ch+c]
	}

	out := make([]float32, 0, (int(float64(n)/r.step)+2)*ch)
	t := r.pos
	for {
		i0 := int(math.Floor(t))
		if i0+1 > n-1 {
			break
		}
		frac := float32(t - float64(i0))
		for c := 0; c < ch; c++ {
			out = append(out, at(i0, c)*(1-frac)+at(i0+1, c)*frac)
		}
		t += r.step
	}

	r.pos = t - float64(n)
	copy(r.prev, in[(n-1)*ch:n*ch])
	return out
}
