// SPDX-License-Identifier: EPL-2.0

package audiotest

import (
	"math"

	"github.com/ik5/mediapipe/media"
)

// Wave is a reference signal evaluated at presentation times.
type Wave struct {
	FrequencyHz float64
	Amplitude   float64
	Phase       float64
}

func Sine(freq, amplitude float64) Wave {
	return Wave{FrequencyHz: freq, Amplitude: amplitude}
}

func Cosine(freq, amplitude float64) Wave {
	return Wave{FrequencyHz: freq, Amplitude: amplitude, Phase: math.Pi / 2}
}

// At returns the wave value at tUs microseconds.
func (w Wave) At(tUs int64) float64 {
	return w.Amplitude * math.Sin(2*math.Pi*w.FrequencyHz*float64(tUs)/1e6+w.Phase)
}

// PCM renders durationUs of w as PCM16, starting at startUs. Every channel
// carries the same value.
func (w Wave) PCM(clock media.Clock, startUs, durationUs int64) []byte {
	first := clock.BytesFor(startUs)
	n := clock.BytesFor(startUs+durationUs) - first
	buf := make([]byte, n)

	frameBytes := clock.FrameBytes()
	for f := range n / frameBytes {
		v := media.ClampInt16(math.Round(w.At(clock.TimestampUs(first + f*frameBytes))))
		for c := range clock.Channels {
			media.PutSample(buf, int(f)*clock.Channels+c, v)
		}
	}
	return buf
}

// MaxDeviation compares the first channel of buf, presented from startUs,
// against w and returns the largest absolute difference in sample units.
// The reference time of each frame is relative to refStartUs.
func (w Wave) MaxDeviation(buf []byte, clock media.Clock, refStartUs int64) float64 {
	var worst float64
	frameBytes := clock.FrameBytes()
	for f := range int64(len(buf)) / frameBytes {
		got := float64(media.SampleAt(buf, int(f)*clock.Channels))
		want := w.At(refStartUs + clock.TimestampUs(f*frameBytes))
		worst = max(worst, math.Abs(got-want))
	}
	return worst
}

// Chunks splits buf into pieces of size bytes. The last piece may be
// shorter.
func Chunks(buf []byte, size int) [][]byte {
	var out [][]byte
	for len(buf) > 0 {
		n := min(size, len(buf))
		out = append(out, buf[:n])
		buf = buf[n:]
	}
	return out
}
