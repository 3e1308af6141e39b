// SPDX-License-Identifier: EPL-2.0

package audio

import (
	"fmt"
	"math"

	"github.com/ik5/mediapipe/media"
)

// Tail is the envelope shape after the muted interval.
type Tail int

const (
	// TailRamp ramps back to full volume over one window.
	TailRamp Tail = iota
	// TailHold stays at the mute level for the rest of the stream.
	TailHold
)

func (t Tail) String() string {
	if t == TailHold {
		return "hold"
	}
	return "ramp"
}

// ParseTail accepts "ramp" or "hold".
func ParseTail(s string) (Tail, error) {
	switch s {
	case "", "ramp":
		return TailRamp, nil
	case "hold":
		return TailHold, nil
	}
	return 0, fmt.Errorf("%w: unknown envelope tail %q", media.ErrConfiguration, s)
}

type EnvelopeConfig struct {
	MuteStartUs int64
	MuteEndUs   int64
	WindowUs    int64
	MuteLevel   float64
	Tail        Tail
}

// Envelope attenuates a PCM16 stream to MuteLevel between MuteStartUs and
// MuteEndUs with linear ramps of WindowUs on either side.
type Envelope struct {
	clock   media.Clock
	cfg     EnvelopeConfig
	elapsed int64
}

func NewEnvelope(clock media.Clock, cfg EnvelopeConfig) (*Envelope, error) {
	if err := clock.Validate(); err != nil {
		return nil, err
	}
	if cfg.WindowUs <= 0 {
		return nil, fmt.Errorf("%w: envelope window must be positive, got %d", media.ErrConfiguration, cfg.WindowUs)
	}
	if cfg.MuteEndUs < cfg.MuteStartUs {
		return nil, fmt.Errorf("%w: mute ends at %d before it starts at %d",
			media.ErrConfiguration, cfg.MuteEndUs, cfg.MuteStartUs)
	}
	if cfg.MuteLevel < 0 || cfg.MuteLevel > 1 || math.IsNaN(cfg.MuteLevel) {
		return nil, fmt.Errorf("%w: mute level %v outside [0,1]", media.ErrConfiguration, cfg.MuteLevel)
	}
	return &Envelope{clock: clock, cfg: cfg}, nil
}

// Gain returns the multiplier applied at presentation time t.
func (e *Envelope) Gain(t int64) float64 {
	c := e.cfg
	level := c.MuteLevel

	switch {
	case t < c.MuteStartUs-c.WindowUs:
		return 1
	case t < c.MuteStartUs:
		into := float64(t-(c.MuteStartUs-c.WindowUs)) / float64(c.WindowUs)
		return 1 - (1-level)*into
	case t <= c.MuteEndUs:
		return level
	case c.Tail == TailHold:
		return level
	case t > c.MuteEndUs+c.WindowUs:
		return 1
	}

	out := float64(t-c.MuteEndUs) / float64(c.WindowUs)
	return level + (1-level)*out
}

// Process scales buf in place. Every buffer continues downstream.
func (e *Envelope) Process(buf []byte) Decision {
	frameBytes := e.clock.FrameBytes()
	frames := int64(len(buf)) / frameBytes
	ch := e.clock.Channels

	for f := range frames {
		g := e.Gain(e.clock.TimestampUs(e.elapsed + f*frameBytes))
		if g == 1 {
			continue
		}
		for c := range ch {
			i := int(f)*ch + c
			media.PutSample(buf, i, media.ClampInt16(math.Round(float64(media.SampleAt(buf, i))*g)))
		}
	}

	e.elapsed += int64(len(buf))
	return Pass
}

func (e *Envelope) Apply(ev media.Event) (media.Event, Decision, error) {
	if !ev.IsData() {
		return ev, Pass, nil
	}
	return ev, e.Process(ev.Buffer), nil
}
