// SPDX-License-Identifier: EPL-2.0

package codec

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/ik5/mediapipe/flow"
	"github.com/ik5/mediapipe/media"
)

// FeedFrom consumes in until it completes, feeding every data buffer to the
// codec, and signals end of input afterwards. With a Configurer the first
// format event builds the driver.
//
// FeedFrom grants one credit at a time, so upstream never runs ahead of the
// codec by more than one event.
func (s *Session) FeedFrom(ctx context.Context, in *flow.Channel[media.Event]) error {
	for {
		ev, err := in.Next(ctx)
		if errors.Is(err, io.EOF) {
			if s.awaitingFormat() {
				return s.formatMissing("input ended")
			}
			return s.SignalEndOfInput(ctx)
		}
		if err != nil {
			in.Cancel()
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				s.abort(err)
				return err
			}
			err = fmt.Errorf("%s: upstream: %w", s.name, err)
			s.abort(err)
			return err
		}

		switch ev.Kind {
		case media.KindFormat:
			if s.configurer == nil || s.State() != StateUnconfigured {
				continue
			}
			format := ev.Format
			if err := s.Configure(func() (Driver, error) { return s.configurer(format) }); err != nil {
				in.Cancel()
				return err
			}

		case media.KindData:
			if s.awaitingFormat() {
				in.Cancel()
				return s.formatMissing("data arrived")
			}
			if err := s.Feed(ctx, ev.Buffer); err != nil {
				in.Cancel()
				return err
			}
			if ev.EndOfStream() {
				in.Cancel()
				return s.SignalEndOfInput(ctx)
			}
		}
	}
}

// awaitingFormat reports whether the driver is still to be built from an
// upstream format event.
func (s *Session) awaitingFormat() bool {
	return s.configurer != nil && s.State() == StateUnconfigured
}

// formatMissing fails the session so feeders and drainers blocked on the
// driver return instead of waiting forever.
func (s *Session) formatMissing(what string) error {
	err := fmt.Errorf("%w: %s: %s before its format", media.ErrCodecFatal, s.name, what)
	s.abort(err)
	return err
}

// DrainTo pushes drained events to out, pulling from the codec only while
// out has credit. out is closed when the codec finishes, closed with the
// error when it fails. When the consumer cancels out the session is stopped
// and its driver released.
func (s *Session) DrainTo(ctx context.Context, out *flow.Channel[media.Event]) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-out.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		if err := out.WaitCredit(ctx); err != nil {
			return s.drainStopped(ctx, out, err)
		}

		ev, err := s.DrainNext(ctx)
		if errors.Is(err, io.EOF) {
			out.Close()
			return nil
		}
		if err != nil {
			return s.drainStopped(ctx, out, err)
		}

		if err := out.Send(ctx, ev); err != nil {
			return s.drainStopped(ctx, out, err)
		}
	}
}

func (s *Session) drainStopped(ctx context.Context, out *flow.Channel[media.Event], err error) error {
	if out.Cancelled() || errors.Is(err, flow.ErrCancelled) {
		s.log.Debug("downstream cancelled, stopping codec")
		s.abort(nil)
		return nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, media.ErrCodecFatal) {
		err = ctxErr
	}
	s.abort(err)
	out.CloseWithError(err)
	return err
}
