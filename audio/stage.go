// SPDX-License-Identifier: EPL-2.0

package audio

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/ik5/mediapipe/flow"
	"github.com/ik5/mediapipe/media"
)

// Decision is what a transform wants done with one event.
type Decision int

const (
	// Pass emits the event downstream.
	Pass Decision = iota
	// Drop consumes the event without emitting it.
	Drop
	// Stop cancels upstream and completes downstream without emitting.
	Stop
)

func (d Decision) String() string {
	switch d {
	case Pass:
		return "pass"
	case Drop:
		return "drop"
	case Stop:
		return "stop"
	default:
		return fmt.Sprintf("Decision(%d)", int(d))
	}
}

// Transform handles one event of a stream.
type Transform interface {
	Apply(ev media.Event) (media.Event, Decision, error)
}

// TransformFunc adapts a function to Transform.
type TransformFunc func(ev media.Event) (media.Event, Decision, error)

func (f TransformFunc) Apply(ev media.Event) (media.Event, Decision, error) { return f(ev) }

// RunStage pulls from in only while out has credit and applies t to every
// event. Cancellation of out cancels in. The returned error is nil when the
// stream completed or was cancelled by the consumer.
func RunStage(ctx context.Context, name string, t Transform, in, out *flow.Channel[media.Event]) error {
	log := logrus.WithFields(logrus.Fields{"component": "stage", "stage": name})

	fail := func(err error) error {
		in.Cancel()
		out.CloseWithError(err)
		log.WithError(err).Error("stage failed")
		return err
	}

	for {
		if err := out.WaitCredit(ctx); err != nil {
			in.Cancel()
			if errors.Is(err, flow.ErrCancelled) {
				log.Debug("downstream cancelled")
				return nil
			}
			return fail(err)
		}

		ev, err := in.Next(ctx)
		if errors.Is(err, io.EOF) {
			out.Close()
			return nil
		}
		if err != nil {
			return fail(fmt.Errorf("%s: upstream: %w", name, err))
		}

		res, decision, err := t.Apply(ev)
		if err != nil {
			return fail(fmt.Errorf("%s: %w", name, err))
		}

		switch decision {
		case Drop:
			continue
		case Stop:
			log.Debug("stage complete, cancelling upstream")
			in.Cancel()
			out.Close()
			return nil
		}

		if err := out.Send(ctx, res); err != nil {
			in.Cancel()
			if errors.Is(err, flow.ErrCancelled) {
				return nil
			}
			return fail(err)
		}
	}
}
