// SPDX-License-Identifier: EPL-2.0

package media

import (
	"encoding/binary"
	"math"
)

// PCM buffers are interleaved signed 16-bit little-endian samples.

// SampleAt returns the i-th 16-bit sample of buf.
func SampleAt(buf []byte, i int) int16 {
	return int16(binary.LittleEndian.Uint16(buf[2*i:]))
}

// PutSample stores v as the i-th 16-bit sample of buf.
func PutSample(buf []byte, i int, v int16) {
	binary.LittleEndian.PutUint16(buf[2*i:], uint16(v))
}

// SampleCount is the number of whole 16-bit samples in buf.
func SampleCount(buf []byte) int { return len(buf) / 2 }

// ClampInt16 saturates v into the 16-bit range.
func ClampInt16(v float64) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// EncodeSamples packs samples into a new PCM buffer.
func EncodeSamples(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		PutSample(buf, i, s)
	}
	return buf
}

// DecodeSamples unpacks a PCM buffer.
func DecodeSamples(buf []byte) []int16 {
	out := make([]int16, SampleCount(buf))
	for i := range out {
		out[i] = SampleAt(buf, i)
	}
	return out
}
