package decode

import (
	"encoding/binary"
	"math"

	"github.com/dgnsrekt/insight-tts/internal/tts"
)

// unpackPCM normalizes raw samples to [-1, 1]. len(b) must be a multiple
// of the sample width.
func unpackPCM(b []byte, enc tts.Encoding) []float32 {
	switch enc {
	case tts.EncodingPCM16LE:
		out := make([]float32, len(b)/2)
		for i := range out {
			out[i] = float32(int16(binary.LittleEndian.Uint16(b[i*2:]))) / 32768
		}
		return out
	case tts.EncodingPCM16BE:
		out := make([]float32, len(b)/2)
		for i := range out {
			out[i] = float32(int16(binary.BigEndian.Uint16(b[i*2:]))) / 32768
		}
		return out
	case tts.EncodingPCMU8:
		out := make([]float32, len(b))
		for i, v := range b {
			out[i] = (float32(v) - 128) / 128
		}
		return out
	case tts.EncodingPCMF32LE:
		out := make([]float32, len(b)/4)
		for i := range out {
			out[i] = clamp(math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:])))
		}
		return out
	}
	return nil
}

// PackPCM16LE encodes normalized samples as signed 16-bit little-endian PCM.
func PackPCM16LE(dst []byte, samples []float32) []byte {
	if cap(dst) < len(samples)*2 {
		dst = make([]byte, len(samples)*2)
	}
	dst = dst[:len(samples)*2]
	for i, s := range samples {
		binary.LittleEndian.PutUint16(dst[i*2:], uint16(toInt16(s)))
	}
	return dst
}

// UnpackPCM16LE decodes signed 16-bit little-endian PCM.
func UnpackPCM16LE(b []byte) []float32 {
	return unpackPCM(b[:len(b)-len(b)%2], tts.EncodingPCM16LE)
}

func toInt16(s float32) int16 {
	v := clamp(s) * 32767
	if v >= 0 {
		return int16(v + 0.5)
	}
	return int16(v - 0.5)
}

func clamp(s float32) float32 {
	switch {
	case s > 1:
		return 1
	case s < -1:
		return -1
	case s != s: // NaN
		return 0
	}
	return s
}
