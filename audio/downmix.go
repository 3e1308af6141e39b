// SPDX-License-Identifier: EPL-2.0

package audio

import (
	"fmt"

	"github.com/ik5/mediapipe/media"
)

// DownmixPolicy selects how interleaved channels collapse to mono.
type DownmixPolicy int

const (
	// DownmixAverage averages all channels of a frame.
	DownmixAverage DownmixPolicy = iota
	// DownmixLeft keeps the first channel and drops the others.
	DownmixLeft
)

func (p DownmixPolicy) String() string {
	switch p {
	case DownmixAverage:
		return "average"
	case DownmixLeft:
		return "left"
	default:
		return fmt.Sprintf("DownmixPolicy(%d)", int(p))
	}
}

// ParseDownmixPolicy accepts "average" or "left".
func ParseDownmixPolicy(s string) (DownmixPolicy, error) {
	switch s {
	case "", "average":
		return DownmixAverage, nil
	case "left":
		return DownmixLeft, nil
	}
	return 0, fmt.Errorf("%w: unknown downmix policy %q", media.ErrConfiguration, s)
}

// MonoSource collapses a multi-channel Source to one channel.
type MonoSource struct {
	src    Source
	policy DownmixPolicy
	tmp    []float32
}

func NewMonoSource(src Source, policy DownmixPolicy) *MonoSource {
	return &MonoSource{src: src, policy: policy}
}

func (m *MonoSource) SampleRate() int { return m.src.SampleRate() }
func (m *MonoSource) Channels() int   { return 1 }
func (m *MonoSource) BufSize() int    { return m.src.BufSize() }

func (m *MonoSource) Close() error {
	if err := m.src.Close(); err != nil {
		return fmt.Errorf("mono source: %w", err)
	}
	return nil
}

func (m *MonoSource) ReadSamples(dst []float32) (int, error) {
	ch := m.src.Channels()
	if ch == 1 || len(dst) == 0 {
		return m.src.ReadSamples(dst)
	}

	need := len(dst) * ch
	if cap(m.tmp) < need {
		m.tmp = make([]float32, max(need, 8192))
	}

	n, err := m.src.ReadSamples(m.tmp[:need])
	frames := n / ch
	for f := range frames {
		frame := m.tmp[f*ch : (f+1)*ch]
		if m.policy == DownmixLeft {
			dst[f] = frame[0]
			continue
		}
		var sum float32
		for _, v := range frame {
			sum += v
		}
		dst[f] = sum / float32(ch)
	}

	return frames, err
}

// Downmixer is a stage that reduces interleaved PCM16 events to mono and
// rewrites the format's channel count. Mono streams pass unchanged.
type Downmixer struct {
	policy   DownmixPolicy
	channels int
}

func NewDownmixer(policy DownmixPolicy) *Downmixer {
	return &Downmixer{policy: policy, channels: 1}
}

func (d *Downmixer) Apply(ev media.Event) (media.Event, Decision, error) {
	if ev.IsFormat() {
		d.channels = ev.Format.IntOr(media.KeyChannelCount, 1)
		if d.channels <= 1 {
			return ev, Pass, nil
		}
		f := ev.Format.Clone()
		f[media.KeyChannelCount] = 1
		return media.FormatEvent(f), Pass, nil
	}

	if d.channels <= 1 || len(ev.Buffer) == 0 {
		return ev, Pass, nil
	}

	ev.Buffer = d.Mono(ev.Buffer)
	return ev, Pass, nil
}

// Mono reduces one interleaved buffer. A trailing partial frame is dropped.
func (d *Downmixer) Mono(buf []byte) []byte {
	ch := d.channels
	frames := media.SampleCount(buf) / ch
	out := make([]byte, frames*2)

	for f := range frames {
		var v int16
		switch d.policy {
		case DownmixLeft:
			v = media.SampleAt(buf, f*ch)
		default:
			var sum int
			for c := range ch {
				sum += int(media.SampleAt(buf, f*ch+c))
			}
			v = int16(sum / ch)
		}
		media.PutSample(out, f, v)
	}

	return out
}
