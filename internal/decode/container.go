package decode

import (
	"bytes"
	"io"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"

	"github.com/dgnsrekt/insight-tts/internal/tts"
)

func decodeWAV(data []byte) ([]float32, tts.Format, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, tts.Format{}, tts.NewError(tts.CodeDecode, "invalid WAV payload", nil).
			WithContext("bytes", len(data))
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, tts.Format{}, tts.NewError(tts.CodeDecode, "failed to read WAV samples", err)
	}
	if buf == nil || buf.Format == nil || buf.Format.NumChannels < 1 || buf.Format.SampleRate <= 0 {
		return nil, tts.Format{}, tts.NewError(tts.CodeDecode, "WAV payload has no format", nil)
	}

	bitDepth := int(dec.BitDepth)
	if bitDepth == 0 {
		bitDepth = buf.SourceBitDepth
	}
	if bitDepth != 8 && bitDepth != 16 && bitDepth != 24 && bitDepth != 32 {
		return nil, tts.Format{}, tts.NewError(tts.CodeDecode, "unsupported WAV bit depth", nil).
			WithContext("bit_depth", bitDepth)
	}

	format := tts.Format{SampleRate: buf.Format.SampleRate, Channels: buf.Format.NumChannels}
	return intBufferSamples(buf, bitDepth), format, nil
}

func intBufferSamples(buf *audio.IntBuffer, bitDepth int) []float32 {
	out := make([]float32, len(buf.Data))
	if bitDepth == 8 {
		for i, v := range buf.Data {
			out[i] = (float32(v) - 128) / 128
		}
		return out
	}
	scale := float32(int64(1) << (bitDepth - 1))
	for i, v := range buf.Data {
		out[i] = clamp(float32(v) / scale)
	}
	return out
}

// decodeMP3 decodes a complete MP3 payload. go-mp3 always produces
// 16-bit little-endian stereo.
func decodeMP3(data []byte) ([]float32, tts.Format, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, tts.Format{}, tts.NewError(tts.CodeDecode, "invalid MP3 payload", err)
	}

	pcm, err := io.ReadAll(dec)
	if err != nil {
		return nil, tts.Format{}, tts.NewError(tts.CodeDecode, "failed to decode MP3 frames", err)
	}

	pcm = pcm[:len(pcm)-len(pcm)%4]
	return unpackPCM(pcm, tts.EncodingPCM16LE), tts.Format{SampleRate: dec.SampleRate(), Channels: 2}, nil
}
