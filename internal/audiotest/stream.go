// SPDX-License-Identifier: EPL-2.0

package audiotest

import (
	"context"
	"errors"
	"io"

	"github.com/ik5/mediapipe/flow"
	"github.com/ik5/mediapipe/media"
)

// RawFormat is a PCM16 format matching clock.
func RawFormat(clock media.Clock) media.Format {
	return media.Format{
		media.KeyMime:         media.MimeRaw,
		media.KeySampleRate:   clock.SampleRate,
		media.KeyChannelCount: clock.Channels,
	}
}

// Produce sends a format event and then every chunk as a data event
// stamped by clock, and closes ch. It stops early when ch is cancelled.
func Produce(ctx context.Context, ch *flow.Channel[media.Event], clock media.Clock, chunks [][]byte) error {
	if err := ch.Send(ctx, media.FormatEvent(RawFormat(clock))); err != nil {
		return err
	}

	var fed int64
	for _, c := range chunks {
		if err := ch.Send(ctx, media.DataEvent(media.CopyBytes(c), clock.TimestampUs(fed), 0)); err != nil {
			return err
		}
		fed += int64(len(c))
	}

	ch.Close()
	return nil
}

// Collect reads ch to completion, one credit at a time.
func Collect(ctx context.Context, ch *flow.Channel[media.Event]) ([]media.Event, error) {
	var events []media.Event
	for {
		ev, err := ch.Next(ctx)
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
}

// Payload concatenates the data buffers of events.
func Payload(events []media.Event) []byte {
	var out []byte
	for _, ev := range events {
		if ev.IsData() {
			out = append(out, ev.Buffer...)
		}
	}
	return out
}

// Timestamps lists the timestamps of the data events.
func Timestamps(events []media.Event) []int64 {
	var out []int64
	for _, ev := range events {
		if ev.IsData() {
			out = append(out, ev.TimestampUs)
		}
	}
	return out
}
