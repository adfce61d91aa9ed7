package cache

import (
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/zstd"

	"github.com/dgnsrekt/insight-tts/internal/decode"
	"github.com/dgnsrekt/insight-tts/internal/tts"
)

// DefaultMaxBytes bounds the compressed size of the cache.
const DefaultMaxBytes = 64 << 20

// Cache stores decoded audio per request.
type Cache struct {
	entries *lru
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// New creates a cache holding at most maxBytes of compressed audio.
func New(maxBytes int64) (*Cache, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &Cache{
		entries: newLRU(maxBytes),
		encoder: encoder,
		decoder: decoder,
	}, nil
}

func entryKey(key string, format tts.Format) string {
	return key + "@" + format.String()
}

// Put stores interleaved samples in format under key.
func (c *Cache) Put(key string, format tts.Format, samples []float32) error {
	if len(samples) == 0 {
		return nil
	}
	pcm := decode.PackPCM16LE(nil, samples)
	compressed := c.encoder.EncodeAll(pcm, make([]byte, 0, len(pcm)/4))
	if err := c.entries.put(entryKey(key, format), compressed); err != nil {
		return err
	}
	log.Debug("Cached session audio",
		"format", format,
		"raw", humanize.Bytes(uint64(len(pcm))),
		"stored", humanize.Bytes(uint64(len(compressed))))
	return nil
}

// Get returns the audio stored under key as signed 16-bit little-endian PCM
// in format.
func (c *Cache) Get(key string, format tts.Format) ([]byte, bool) {
	compressed, ok := c.entries.get(entryKey(key, format))
	if !ok {
		return nil, false
	}
	pcm, err := c.decoder.DecodeAll(compressed, nil)
	if err != nil {
		log.Warn("Dropping corrupt cache entry", "error", err)
		return nil, false
	}
	return pcm, true
}

// Stream returns the audio stored under key as a tts.Stream.
func (c *Cache) Stream(key string, format tts.Format) (tts.Stream, bool) {
	pcm, ok := c.Get(key, format)
	if !ok {
		return nil, false
	}
	return tts.MemoryStream(pcm, tts.StreamInfo{
		Encoding:   tts.EncodingPCM16LE,
		SampleRate: format.SampleRate,
		Channels:   format.Channels,
		TotalBytes: int64(len(pcm)),
	}), true
}

// Clear removes every entry.
func (c *Cache) Clear() {
	c.entries.clear()
}

// Stats returns cache usage.
func (c *Cache) Stats() Stats {
	return c.entries.snapshot()
}
