// SPDX-License-Identifier: EPL-2.0

// Package utils holds the sample level arithmetic shared by the decoders
// and the resampler.
package utils

import (
	"encoding/binary"
	"math"
)

// Float32ToInt16 maps a normalized sample to 16 bits. It is the inverse of
// the v/32768 scaling the decoders apply, so every int16 survives a round
// trip. Out of range input clips.
func Float32ToInt16(x float32) int16 {
	v := math.Round(float64(x) * 32768.0)
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}

// Float32ToPCM16 writes src into dst as little-endian 16-bit samples and
// returns the number of samples written.
func Float32ToPCM16(dst []byte, src []float32) int {
	n := min(len(src), len(dst)/2)
	for i, v := range src[:n] {
		binary.LittleEndian.PutUint16(dst[2*i:], uint16(Float32ToInt16(v)))
	}
	return n
}

// PCM16ToFloat32 reads little-endian 16-bit samples from src into dst,
// scaled by 1/32768, and returns the number of samples converted.
func PCM16ToFloat32(dst []float32, src []byte) int {
	n := min(len(dst), len(src)/2)
	for i := range n {
		dst[i] = float32(int16(binary.LittleEndian.Uint16(src[2*i:]))) / 32768.0
	}
	return n
}
