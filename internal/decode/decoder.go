// Package decode converts encoded synthesis streams into normalized sample
// chunks in the playback format.
package decode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/insight-tts/internal/tts"
)

// DefaultChunkFrames is the largest chunk emitted by a decoder.
const DefaultChunkFrames = 2048

// Decoder pulls encoded bytes from a stream and emits chunks in the target
// format. Raw PCM is decoded incrementally as bytes arrive; container
// formats are read whole before the first chunk is produced.
//
// A Decoder is not safe for concurrent use, except for Close.
type Decoder struct {
	stream      tts.Stream
	info        tts.StreamInfo
	target      tts.Format
	chunkFrames int

	raw   []byte
	carry []byte
	conv  *converter

	pending  []float32
	unpacked bool

	total      int64
	totalKnown bool
	emitted    int64
	done       bool

	closeOnce sync.Once
	closeErr  error
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithChunkFrames bounds the number of frames in each emitted chunk.
func WithChunkFrames(n int) Option {
	return func(d *Decoder) {
		if n > 0 {
			d.chunkFrames = n
		}
	}
}

// New creates a decoder for stream producing audio in the target format.
func New(stream tts.Stream, target tts.Format, opts ...Option) (*Decoder, error) {
	info := stream.Info()
	if err := validate(info, target); err != nil {
		return nil, err
	}

	d := &Decoder{
		stream:      stream,
		info:        info,
		target:      target,
		chunkFrames: DefaultChunkFrames,
	}
	for _, opt := range opts {
		opt(d)
	}

	if !info.Encoding.Container() {
		d.conv = newConverter(tts.Format{SampleRate: info.SampleRate, Channels: info.Channels}, target)
		d.raw = make([]byte, d.chunkFrames*info.Encoding.BytesPerSample()*info.Channels)
		if info.TotalBytes >= 0 {
			srcFrames := info.TotalBytes / int64(info.Encoding.BytesPerSample()*info.Channels)
			d.total = srcFrames * int64(target.SampleRate) / int64(info.SampleRate)
			d.totalKnown = true
		}
	}

	log.Debug("Decoder created",
		"encoding", info.Encoding,
		"source_rate", info.SampleRate,
		"source_channels", info.Channels,
		"target", target)

	return d, nil
}

func validate(info tts.StreamInfo, target tts.Format) error {
	if target.SampleRate <= 0 || target.Channels < 1 || target.Channels > 2 {
		return tts.NewError(tts.CodeDecode, fmt.Sprintf("unsupported target format %s", target), nil)
	}
	if info.Encoding.Container() {
		return nil
	}
	if info.Encoding.BytesPerSample() == 0 {
		return tts.NewError(tts.CodeDecode, fmt.Sprintf("unsupported encoding %q", info.Encoding), nil)
	}
	if info.SampleRate <= 0 || info.Channels < 1 {
		return tts.NewError(tts.CodeDecode, "stream format is incomplete", nil).
			WithContext("sample_rate", info.SampleRate).
			WithContext("channels", info.Channels)
	}
	return nil
}

// Next returns the next chunk in the target format, or io.EOF after the
// last chunk.
func (d *Decoder) Next(ctx context.Context) (tts.AudioChunk, error) {
	if d.done {
		return tts.AudioChunk{}, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return tts.AudioChunk{}, tts.NewError(tts.CodeCanceled, "decode canceled", err)
	}

	if d.info.Encoding.Container() {
		return d.nextContainer()
	}

	for {
		n, err := d.stream.Read(d.raw)
		if n > 0 {
			samples := d.decodeRaw(d.raw[:n])
			if len(samples) > 0 {
				return d.emit(samples), nil
			}
		}
		if errors.Is(err, io.EOF) {
			return tts.AudioChunk{}, d.finish()
		}
		if err != nil {
			return tts.AudioChunk{}, tts.AsError(err, tts.CodeMalformedResponse)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return tts.AudioChunk{}, tts.NewError(tts.CodeCanceled, "decode canceled", ctxErr)
		}
	}
}

func (d *Decoder) nextContainer() (tts.AudioChunk, error) {
	if !d.unpacked {
		samples, err := d.unpack()
		if err != nil {
			return tts.AudioChunk{}, err
		}
		d.pending = samples
		d.unpacked = true
		d.total = int64(len(samples) / d.target.Channels)
		d.totalKnown = true
	}

	if len(d.pending) == 0 {
		return tts.AudioChunk{}, d.finish()
	}

	n := d.chunkFrames * d.target.Channels
	if n > len(d.pending) {
		n = len(d.pending)
	}
	samples := d.pending[:n:n]
	d.pending = d.pending[n:]
	return d.emit(samples), nil
}

func (d *Decoder) unpack() ([]float32, error) {
	data, err := io.ReadAll(d.stream)
	if err != nil {
		return nil, tts.AsError(err, tts.CodeMalformedResponse)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var (
		samples []float32
		format  tts.Format
	)
	switch d.info.Encoding {
	case tts.EncodingWAV:
		samples, format, err = decodeWAV(data)
	case tts.EncodingMP3:
		samples, format, err = decodeMP3(data)
	}
	if err != nil {
		return nil, err
	}

	return newConverter(format, d.target).convert(samples), nil
}

func (d *Decoder) decodeRaw(b []byte) []float32 {
	frameBytes := d.info.Encoding.BytesPerSample() * d.info.Channels

	data := b
	if len(d.carry) > 0 {
		data = append(append(make([]byte, 0, len(d.carry)+len(b)), d.carry...), b...)
	}
	usable := len(data) - len(data)%frameBytes
	d.carry = append(d.carry[:0], data[usable:]...)

	if usable == 0 {
		return nil
	}
	return d.conv.convert(unpackPCM(data[:usable], d.info.Encoding))
}

func (d *Decoder) emit(samples []float32) tts.AudioChunk {
	chunk := tts.AudioChunk{
		Samples:    samples,
		SampleRate: d.target.SampleRate,
		Channels:   d.target.Channels,
		Position:   d.emitted,
	}
	d.emitted += int64(chunk.Frames())
	return chunk
}

func (d *Decoder) finish() error {
	if len(d.carry) > 0 {
		log.Debug("Dropping trailing partial frame", "bytes", len(d.carry))
		d.carry = nil
	}
	d.done = true
	d.total = d.emitted
	d.totalKnown = true
	return io.EOF
}

// TotalFrames returns the total number of frames in the target format once
// it is known. Before the stream ends this is an estimate derived from the
// reported payload length.
func (d *Decoder) TotalFrames() (int64, bool) {
	return d.total, d.totalKnown
}

// Emitted returns the number of frames emitted so far.
func (d *Decoder) Emitted() int64 {
	return d.emitted
}

// Close closes the underlying stream. It is safe to call concurrently with
// Next to unblock a pending read.
func (d *Decoder) Close() error {
	d.closeOnce.Do(func() {
		d.closeErr = d.stream.Close()
	})
	return d.closeErr
}
