package tts

import (
	"bytes"
	"context"
	"io"
)

// Adapter defines the contract for synthesis backends.
// Implementations include Piper (local subprocess), Amazon Polly and
// ElevenLabs (cloud). An adapter serves one request at a time.
type Adapter interface {
	// Name returns the provider kind of the adapter.
	Name() ProviderKind

	// Start initiates synthesis and returns the encoded audio stream.
	// It returns as soon as the backend has accepted the request; audio
	// arrives through the stream. Errors read from the stream are *Error
	// values carrying the backend failure.
	Start(ctx context.Context, req SynthesisRequest) (Stream, error)

	// Cancel aborts in-flight synthesis and releases backend resources
	// (child process, network connection) before returning.
	// Cancel is idempotent and safe to call concurrently with reads.
	Cancel() error

	// SupportsSeekHint reports whether the backend reports total length
	// before the stream ends.
	SupportsSeekHint() bool
}

// Stream is the encoded payload of a single synthesis.
type Stream interface {
	io.ReadCloser

	// Info describes the payload encoding.
	Info() StreamInfo
}

// ChunkSource produces decoded audio in order.
type ChunkSource interface {
	// Next returns the next chunk, or io.EOF after the last chunk.
	Next(ctx context.Context) (AudioChunk, error)

	// TotalFrames returns the total frame count once it is known.
	TotalFrames() (int64, bool)
}

// VoiceLister is implemented by adapters that can enumerate their voices.
type VoiceLister interface {
	ListVoices(ctx context.Context) ([]Voice, error)
}

// ReaderStream wraps an io.ReadCloser with stream info.
func ReaderStream(rc io.ReadCloser, info StreamInfo) Stream {
	return &readerStream{ReadCloser: rc, info: info}
}

// MemoryStream returns a stream over an in-memory payload.
func MemoryStream(payload []byte, info StreamInfo) Stream {
	return ReaderStream(io.NopCloser(bytes.NewReader(payload)), info)
}

type readerStream struct {
	io.ReadCloser
	info StreamInfo
}

func (s *readerStream) Info() StreamInfo { return s.info }
