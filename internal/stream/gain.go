package stream

import (
	"encoding/binary"
	"math"
)

// ApplyGain scales interleaved s16le samples in place. A gain of 1 leaves
// the buffer untouched; results are clamped to the int16 range.
func ApplyGain(pcm []byte, gain float64) {
	if gain == 1 {
		return
	}
	for i := 0; i+1 < len(pcm); i += 2 {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i:])))
		v = math.Round(v * gain)
		if v > math.MaxInt16 {
			v = math.MaxInt16
		} else if v < math.MinInt16 {
			v = math.MinInt16
		}
		binary.LittleEndian.PutUint16(pcm[i:], uint16(int16(v)))
	}
}
