// SPDX-License-Identifier: EPL-2.0

package utils

import (
	"bytes"
	"math"
	"testing"
)

func TestFloat32ToInt16(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   float32
		want int16
	}{
		{0, 0},
		{0.5, 16384},
		{-0.5, -16384},
		{0.25, 8192},
		{0.001, 33},
		{-0.001, -33},
		{1, math.MaxInt16},
		{-1, math.MinInt16},
		{1.5, math.MaxInt16},
		{-7, math.MinInt16},
	}

	for _, tt := range tests {
		if got := Float32ToInt16(tt.in); got != tt.want {
			t.Errorf("Float32ToInt16(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

// Every int16 survives the decoder scale and back.
func TestFloat32ToInt16RoundTrip(t *testing.T) {
	t.Parallel()

	for v := math.MinInt16; v <= math.MaxInt16; v++ {
		f := float32(v) / 32768.0
		if got := Float32ToInt16(f); int(got) != v {
			t.Fatalf("Float32ToInt16(%d/32768) = %d", v, got)
		}
	}
}

func TestFloat32ToInt16Monotonic(t *testing.T) {
	t.Parallel()

	prev := Float32ToInt16(-1.1)
	for f := -1.1; f <= 1.1; f += 0.001 {
		cur := Float32ToInt16(float32(f))
		if cur < prev {
			t.Fatalf("Float32ToInt16(%v) = %d after %d", f, cur, prev)
		}
		prev = cur
	}
}

func TestFloat32ToPCM16(t *testing.T) {
	t.Parallel()

	dst := make([]byte, 7)
	n := Float32ToPCM16(dst, []float32{0.5, -1, 2, 0.25})
	if n != 3 {
		t.Fatalf("Float32ToPCM16() = %d, want 3 (dst holds three samples)", n)
	}

	want := []byte{0x00, 0x40, 0x00, 0x80, 0xff, 0x7f, 0x00}
	if !bytes.Equal(dst, want) {
		t.Errorf("Float32ToPCM16() wrote % x, want % x", dst, want)
	}
}

func TestFloat32ToPCM16_ZeroAllocs(t *testing.T) {
	if testing.Short() {
		t.Skip("allocation test")
	}

	src := make([]float32, 1024)
	dst := make([]byte, 2048)
	if allocs := testing.AllocsPerRun(100, func() { Float32ToPCM16(dst, src) }); allocs > 0 {
		t.Errorf("Float32ToPCM16 allocated %v times, want 0", allocs)
	}
}

func BenchmarkFloat32ToPCM16(b *testing.B) {
	src := make([]float32, 8000)
	for i := range src {
		src[i] = float32(math.Sin(float64(i) * 0.1))
	}
	dst := make([]byte, 2*len(src))

	b.ReportAllocs()
	for range b.N {
		Float32ToPCM16(dst, src)
	}
}

func TestPCM16ToFloat32(t *testing.T) {
	t.Parallel()

	src := []byte{0x00, 0x40, 0x00, 0x80, 0xff, 0x7f, 0x01}
	dst := make([]float32, 4)
	n := PCM16ToFloat32(dst, src)
	if n != 3 {
		t.Fatalf("PCM16ToFloat32() = %d, want 3", n)
	}

	want := []float32{0.5, -1, 32767.0 / 32768.0, 0}
	for i := range want {
		if dst[i] != want[i] {
			t.Errorf("dst[%d] = %v, want %v", i, dst[i], want[i])
		}
	}

	back := make([]byte, 6)
	Float32ToPCM16(back, dst[:n])
	if !bytes.Equal(back, src[:6]) {
		t.Errorf("round trip = % x, want % x", back, src[:6])
	}
}
