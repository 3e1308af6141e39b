// SPDX-License-Identifier: EPL-2.0

package codec

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"github.com/sirupsen/logrus"

	"github.com/ik5/mediapipe/flow"
	"github.com/ik5/mediapipe/internal/metrics"
	"github.com/ik5/mediapipe/media"
)

// ErrStopped is returned by operations on a session that already stopped
// without a failure.
var ErrStopped = errors.New("codec session stopped")

// Session drives one codec Driver through its feed and drain paths.
type Session struct {
	name        string
	clock       media.Clock
	pollTimeout time.Duration
	policy      FormatPolicy
	renderer    Renderer
	configurer  Configurer
	log         *logrus.Entry
	metrics     *metrics.Set

	avail *flow.Promise[Driver]
	fsm   *fsm.FSM

	// mu serializes every call into the driver.
	mu          sync.Mutex
	driver      Driver
	released    bool
	releaseErr  error
	fed         int64
	inputClosed bool
	formatSent  bool

	stateMu  sync.Mutex
	terminal error
}

// NewSession creates an unconfigured session. clock turns the number of
// bytes fed into input timestamps.
func NewSession(name string, clock media.Clock, opts ...Option) *Session {
	s := &Session{
		name:        name,
		clock:       clock,
		pollTimeout: DefaultPollTimeout,
		policy:      FormatOnce,
		avail:       flow.NewPromise[Driver](),
	}
	s.log = logrus.WithFields(logrus.Fields{
		"component": "codec",
		"session":   name,
		"id":        uuid.NewString(),
	})

	for _, opt := range opts {
		opt(s)
	}

	s.fsm = newStateMachine(func(st State) {
		s.log.WithField("state", st).Debug("codec session state changed")
		s.metrics.Transition(s.name, string(st))
	})

	return s
}

func (s *Session) Name() string { return s.name }

func (s *Session) State() State { return State(s.fsm.Current()) }

// Err returns the failure that stopped the session, if any.
func (s *Session) Err() error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.terminal
}

func (s *Session) transition(event string) {
	if !s.fsm.Can(event) {
		return
	}
	if err := s.fsm.Event(context.Background(), event); err != nil {
		var noTransition fsm.NoTransitionError
		if !errors.As(err, &noTransition) {
			s.log.WithError(err).Warn("codec state transition rejected")
		}
	}
}

// Configure builds the driver with factory and starts it. A factory failure
// is fatal: the session stops and every waiter receives the error.
func (s *Session) Configure(factory func() (Driver, error)) error {
	if s.State() != StateUnconfigured {
		return fmt.Errorf("%w: session %s is %s", media.ErrConfiguration, s.name, s.State())
	}

	d, err := factory()
	if err != nil {
		err = fmt.Errorf("%w: %s: configure: %w", media.ErrCodecFatal, s.name, err)
		s.abort(err)
		return err
	}

	return s.Attach(d)
}

// Attach starts an already configured driver and publishes it to the feed
// and drain paths.
func (s *Session) Attach(d Driver) error {
	if d == nil {
		return fmt.Errorf("%w: nil driver", media.ErrConfiguration)
	}

	s.mu.Lock()
	if s.driver != nil || s.State() != StateUnconfigured {
		s.mu.Unlock()
		return fmt.Errorf("%w: session %s is %s", media.ErrConfiguration, s.name, s.State())
	}
	s.driver = d
	s.transition(evConfigure)
	startErr := d.Start()
	s.mu.Unlock()

	if startErr != nil {
		err := fmt.Errorf("%w: %s: start: %w", media.ErrCodecFatal, s.name, startErr)
		s.abort(err)
		return err
	}

	s.transition(evStart)
	s.avail.Resolve(d)
	s.log.Info("codec session running")

	return nil
}

// Abort stops the session with err and releases the driver. A nil err stops
// the session without marking it failed.
func (s *Session) Abort(err error) {
	s.abort(err)
}

// Close stops the session and releases the driver.
func (s *Session) Close() error {
	s.abort(nil)

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.releaseErr
}

func (s *Session) abort(err error) {
	s.stateMu.Lock()
	first := s.terminal == nil && s.State() != StateStopped
	if err != nil && s.terminal == nil {
		s.terminal = err
	}
	terminal := s.terminal
	s.stateMu.Unlock()

	if err != nil && first {
		s.log.WithError(err).Error("codec session aborted")
		s.metrics.CodecFailure(s.name)
	}

	s.finish(terminal)
}

// finish moves to stopped and releases the driver exactly once.
func (s *Session) finish(err error) {
	s.transition(evStop)

	if err == nil {
		err = ErrStopped
	}
	s.avail.Reject(err)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released || s.driver == nil {
		s.released = true
		return
	}
	s.released = true

	if stopErr := s.driver.Stop(); stopErr != nil {
		s.releaseErr = stopErr
		s.log.WithError(stopErr).Warn("codec stop failed")
	}
	if relErr := s.driver.Release(); relErr != nil {
		s.releaseErr = errors.Join(s.releaseErr, relErr)
		s.log.WithError(relErr).Warn("codec release failed")
	}
	s.log.Debug("codec released")
}

// await returns the driver once it is available.
func (s *Session) await(ctx context.Context) (Driver, error) {
	d, err := s.avail.Wait(ctx)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// live reports why the session can no longer be driven, if it can't.
func (s *Session) live(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.State() == StateStopped {
		if err := s.Err(); err != nil {
			return err
		}
		return ErrStopped
	}
	return nil
}

func (s *Session) fatal(op string, err error) error {
	err = fmt.Errorf("%w: %s: %s: %w", media.ErrCodecFatal, s.name, op, err)
	s.abort(err)
	return err
}

// Feed hands every byte of buf to the codec. buf is not retained.
func (s *Session) Feed(ctx context.Context, buf []byte) error {
	d, err := s.await(ctx)
	if err != nil {
		return err
	}

	for off := 0; off < len(buf); {
		if err := s.live(ctx); err != nil {
			return err
		}

		n, err := s.feedSlot(d, buf[off:], 0)
		if err != nil {
			return err
		}
		off += n
	}

	return nil
}

// SignalEndOfInput submits an empty end-of-stream slot, waiting across
// polls for one to become free.
func (s *Session) SignalEndOfInput(ctx context.Context) error {
	d, err := s.await(ctx)
	if err != nil {
		return err
	}

	for {
		if err := s.live(ctx); err != nil {
			return err
		}

		s.mu.Lock()
		closed := s.inputClosed
		s.mu.Unlock()
		if closed {
			return nil
		}

		if _, err := s.feedSlot(d, nil, media.FlagEndOfStream); err != nil {
			return err
		}

		s.mu.Lock()
		closed = s.inputClosed
		s.mu.Unlock()
		if closed {
			s.log.Debug("end of input signalled")
			return nil
		}
	}
}

// feedSlot performs one poll. It returns the number of bytes of chunk that
// were submitted, which is zero when no slot was ready.
func (s *Session) feedSlot(d Driver, chunk []byte, flags media.Flags) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return 0, s.stoppedErr()
	}
	if s.inputClosed {
		return 0, fmt.Errorf("%w: %s: feed after end of input", media.ErrConfiguration, s.name)
	}

	slot, ok, err := d.TryAcquireInputSlot(s.pollTimeout)
	if err != nil {
		return 0, s.fatalLocked("acquire input", err)
	}
	if !ok {
		s.metrics.NoSlot(s.name, "input")
		return 0, nil
	}

	in, err := d.InputBuffer(slot)
	if err != nil {
		return 0, s.fatalLocked("input buffer", err)
	}

	eos := flags.Has(media.FlagEndOfStream)
	if len(in) == 0 && !eos {
		return 0, s.fatalLocked("input buffer", errors.New("zero capacity input slot"))
	}

	n := copy(in, chunk)
	pts := s.clock.TimestampUs(s.fed)
	if err := d.Submit(slot, n, pts, flags); err != nil {
		return 0, s.fatalLocked("submit", err)
	}

	s.fed += int64(n)
	s.metrics.BytesFed(s.name, n)
	if eos {
		s.inputClosed = true
	}

	return n, nil
}

func (s *Session) stoppedErr() error {
	if err := s.Err(); err != nil {
		return err
	}
	return ErrStopped
}

// fatalLocked aborts from inside a driver call. The driver lock is released
// for the duration of the abort, which needs it to release the codec.
func (s *Session) fatalLocked(op string, err error) error {
	s.mu.Unlock()
	defer s.mu.Lock()
	return s.fatal(op, err)
}

// DrainNext returns the next output event. It returns io.EOF once the codec
// delivered end-of-stream and was released.
func (s *Session) DrainNext(ctx context.Context) (media.Event, error) {
	d, err := s.await(ctx)
	if err != nil {
		if errors.Is(err, ErrStopped) {
			return media.Event{}, io.EOF
		}
		return media.Event{}, err
	}

	for {
		if err := s.live(ctx); err != nil {
			if errors.Is(err, ErrStopped) {
				return media.Event{}, io.EOF
			}
			return media.Event{}, err
		}

		ev, ok, err := s.drainSlot(d)
		if err != nil {
			return media.Event{}, err
		}
		if ok {
			return ev, nil
		}
	}
}

// drainSlot performs one output poll.
func (s *Session) drainSlot(d Driver) (media.Event, bool, error) {
	s.mu.Lock()

	if s.released {
		s.mu.Unlock()
		return media.Event{}, false, nil
	}

	out, err := d.TryAcquireOutputSlot(s.pollTimeout)
	if err != nil {
		s.mu.Unlock()
		return media.Event{}, false, s.fatal("acquire output", err)
	}

	switch out.Status {
	case OutputNone:
		s.mu.Unlock()
		s.metrics.NoSlot(s.name, "output")
		return media.Event{}, false, nil

	case OutputFormatChanged:
		f, err := d.OutputFormat()
		if err != nil {
			s.mu.Unlock()
			return media.Event{}, false, s.fatal("output format", err)
		}
		if s.formatSent && s.policy == FormatOnce {
			s.mu.Unlock()
			s.log.Debug("repeated output format ignored")
			return media.Event{}, false, nil
		}
		s.formatSent = true
		s.mu.Unlock()

		s.metrics.EventDrained(s.name, "format")
		s.log.WithField("format", f.String()).Info("codec output format")
		return media.FormatEvent(f.Clone()), true, nil
	}

	ev, emit, err := s.copyOutputLocked(d, out)
	s.mu.Unlock()
	if err != nil {
		return media.Event{}, false, s.fatal("output buffer", err)
	}

	if out.Info.Flags.Has(media.FlagEndOfStream) {
		s.transition(evDrain)
		s.log.Info("codec reached end of stream")
		s.finish(nil)
	}

	if emit {
		s.metrics.EventDrained(s.name, "data")
	}
	return ev, emit, nil
}

// copyOutputLocked copies an output slot into an owned buffer and releases
// the slot. s.mu must be held.
func (s *Session) copyOutputLocked(d Driver, out Output) (media.Event, bool, error) {
	mem, err := d.OutputBuffer(out.Slot)
	if err != nil {
		return media.Event{}, false, err
	}

	size := out.Info.Size
	if size > len(mem) || size < 0 {
		size = len(mem)
	}
	if s.renderer != nil && size > 0 {
		f, fmtErr := d.OutputFormat()
		if fmtErr != nil {
			s.log.WithError(fmtErr).Warn("presenting frame without a format")
		}
		err := s.renderer.Present(Frame{Data: mem[:size], TimestampUs: out.Info.TimestampUs, Format: f})
		if relErr := d.ReleaseOutput(out.Slot, true); relErr != nil {
			return media.Event{}, false, relErr
		}
		if err != nil {
			return media.Event{}, false, fmt.Errorf("render: %w", err)
		}
		return media.Event{}, false, nil
	}

	data := media.CopyBytes(mem[:size])
	if err := d.ReleaseOutput(out.Slot, false); err != nil {
		return media.Event{}, false, err
	}

	// An empty EOS slot only ends the stream.
	if len(data) == 0 {
		return media.Event{}, false, nil
	}

	return media.DataEvent(data, out.Info.TimestampUs, out.Info.Flags), true, nil
}
