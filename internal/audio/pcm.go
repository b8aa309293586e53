package audio

import (
	"encoding/binary"
	"math"
)

// DecodePCM16 converts 16-bit little-endian mono PCM bytes to float32
// samples normalized to [-1, 1]. A trailing odd byte is ignored.
func DecodePCM16(data []byte) []float32 {
	n := len(data) / BytesPerSample
	samples := make([]float32, n)
	for i := range n {
		s := int16(binary.LittleEndian.Uint16(data[i*2:]))
		samples[i] = float32(s) / math.MaxInt16
	}
	return samples
}
