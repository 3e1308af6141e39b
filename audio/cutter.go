// SPDX-License-Identifier: EPL-2.0

package audio

import (
	"fmt"

	"github.com/ik5/mediapipe/media"
)

// Cutter keeps the part of a PCM stream that starts inside [from, to].
//
// A buffer is judged by the timestamp of its first byte, computed from the
// bytes seen before it. Buffers before from are consumed so the clock keeps
// advancing; the first buffer after to stops the stream.
type Cutter struct {
	clock  media.Clock
	fromUs int64
	toUs   int64
	seen   int64
	done   bool
}

func NewCutter(clock media.Clock, fromUs, toUs int64) (*Cutter, error) {
	if err := clock.Validate(); err != nil {
		return nil, err
	}
	if fromUs < 0 || fromUs > toUs {
		return nil, fmt.Errorf("%w: cut window [%d, %d]", media.ErrConfiguration, fromUs, toUs)
	}
	return &Cutter{clock: clock, fromUs: fromUs, toUs: toUs}, nil
}

// Process decides the fate of the next buffer.
func (c *Cutter) Process(buf []byte) Decision {
	if c.done {
		return Stop
	}

	t := c.clock.TimestampUs(c.seen)
	c.seen += int64(len(buf))

	switch {
	case t < c.fromUs:
		return Drop
	case t <= c.toUs:
		return Pass
	}

	c.done = true
	return Stop
}

func (c *Cutter) Apply(ev media.Event) (media.Event, Decision, error) {
	if !ev.IsData() {
		return ev, Pass, nil
	}
	return ev, c.Process(ev.Buffer), nil
}
