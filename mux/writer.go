// SPDX-License-Identifier: EPL-2.0

package mux

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"

	"github.com/ik5/mediapipe/flow"
	"github.com/ik5/mediapipe/internal/metrics"
	"github.com/ik5/mediapipe/media"
)

var (
	ErrAlreadyStarted = errors.New("mux: writer already started")
	ErrNoTracks       = errors.New("mux: no tracks registered")
	// ErrNoFormat means a source ended before announcing its format, so the
	// container could never be started.
	ErrNoFormat = errors.New("mux: source ended before its format")
)

type Option func(*Writer)

func WithLogger(l *logrus.Entry) Option {
	return func(w *Writer) {
		if l != nil {
			w.log = l
		}
	}
}

func WithMetrics(m *metrics.Set) Option {
	return func(w *Writer) { w.metrics = m }
}

type track struct {
	name string
	src  *flow.Channel[media.Event]
	id   int
	log  *logrus.Entry

	// Guarded by Writer.mu.
	lastUs  int64
	written int64
	failed  int64
}

// TrackStats is a snapshot of one track's counters.
type TrackStats struct {
	Name    string
	ID      int
	LastUs  int64
	Written int64
	Failed  int64
}

// Writer funnels N encoded streams into one Container. The container is
// started once every source announced its format and stopped once every
// source completed.
type Writer struct {
	container Container
	log       *logrus.Entry
	metrics   *metrics.Set
	fsm       *fsm.FSM

	// mu guards the track table, the counters and every container call.
	mu        sync.Mutex
	tracks    []*track
	launched  bool
	formats   int
	completed int
	started   bool
	err       error
	callbacks []func()

	gate     chan struct{} // closed once the container started
	gateOnce sync.Once
	done     chan struct{}
	stopOnce sync.Once
	cancel   context.CancelFunc
	wg       *conc.WaitGroup
}

func NewWriter(container Container, opts ...Option) *Writer {
	w := &Writer{
		container: container,
		gate:      make(chan struct{}),
		done:      make(chan struct{}),
		wg:        conc.NewWaitGroup(),
	}
	w.log = logrus.WithFields(logrus.Fields{
		"component": "mux",
		"id":        uuid.NewString(),
	})

	for _, opt := range opts {
		opt(w)
	}

	w.fsm = newStateMachine(func(st State) {
		w.log.WithField("state", st).Debug("mux state changed")
		w.metrics.Transition("mux", string(st))
	})

	return w
}

func (w *Writer) State() State { return State(w.fsm.Current()) }

func (w *Writer) transition(event string) {
	if !w.fsm.Can(event) {
		return
	}
	if err := w.fsm.Event(context.Background(), event); err != nil {
		var noTransition fsm.NoTransitionError
		if !errors.As(err, &noTransition) {
			w.log.WithError(err).Warn("mux state transition rejected")
		}
	}
}

// RegisterTrack adds a source. All tracks must be registered before Start.
func (w *Writer) RegisterTrack(name string, src *flow.Channel[media.Event]) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.launched {
		return ErrAlreadyStarted
	}
	w.tracks = append(w.tracks, &track{
		name: name,
		src:  src,
		id:   -1,
		log:  w.log.WithField("track", name),
	})
	return nil
}

// OnComplete registers fn to run once the container stopped.
func (w *Writer) OnComplete(fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, fn)
}

// Start launches one consumer per registered source. Cancelling ctx stops
// every source and the container.
func (w *Writer) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.launched {
		w.mu.Unlock()
		return ErrAlreadyStarted
	}
	if len(w.tracks) == 0 {
		w.mu.Unlock()
		return ErrNoTracks
	}
	w.launched = true
	tracks := w.tracks
	w.mu.Unlock()

	ctx, w.cancel = context.WithCancel(ctx)
	for _, t := range tracks {
		w.wg.Go(func() { w.run(ctx, t) })
	}
	go func() {
		select {
		case <-ctx.Done():
			w.stop(ctx.Err())
		case <-w.done:
		}
	}()

	w.log.WithField("tracks", len(tracks)).Info("mux started")
	return nil
}

// Wait blocks until the container stopped and every consumer returned. It
// returns the first source or container failure; per-sample write failures
// are not reported here.
func (w *Writer) Wait(ctx context.Context) error {
	select {
	case <-w.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	w.wg.Wait()
	return w.Err()
}

func (w *Writer) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Tracks returns the counters of every registered track.
func (w *Writer) Tracks() []TrackStats {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]TrackStats, len(w.tracks))
	for i, t := range w.tracks {
		out[i] = TrackStats{Name: t.name, ID: t.id, LastUs: t.lastUs, Written: t.written, Failed: t.failed}
	}
	return out
}

func (w *Writer) recordLocked(err error) {
	if err != nil && w.err == nil {
		w.err = err
	}
}

func (w *Writer) run(ctx context.Context, t *track) {
	defer t.src.Cancel()

	if !w.awaitFormat(ctx, t) {
		return
	}

	select {
	case <-w.gate:
	case <-w.done:
		return
	}

	for {
		ev, err := t.src.Next(ctx)
		switch {
		case errors.Is(err, io.EOF):
			w.complete(t, nil)
			return
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			w.complete(t, fmt.Errorf("mux: track %s: %w", t.name, err))
			return
		}

		if ev.IsFormat() {
			t.log.WithField("format", ev.Format).Debug("format change after start ignored")
			continue
		}

		w.write(t, ev)
		if ev.EndOfStream() {
			w.complete(t, nil)
			return
		}
	}
}

// awaitFormat takes the source's first event, which must be its format, and
// adds the track. The last source to do so starts the container.
func (w *Writer) awaitFormat(ctx context.Context, t *track) bool {
	for {
		ev, err := t.src.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return false
			}
			if errors.Is(err, io.EOF) {
				err = ErrNoFormat
			}
			w.stop(fmt.Errorf("mux: track %s: %w", t.name, err))
			return false
		}

		if ev.IsFormat() {
			return w.addTrack(t, ev.Format)
		}
		t.log.Warn("data before format dropped")
	}
}

func (w *Writer) addTrack(t *track, format media.Format) bool {
	w.mu.Lock()
	id, err := w.container.AddTrack(format)
	if err != nil {
		w.mu.Unlock()
		w.stop(fmt.Errorf("mux: track %s: add: %w", t.name, err))
		return false
	}
	t.id = id
	w.formats++
	w.metrics.TrackAdded()
	t.log.WithFields(logrus.Fields{"id": id, "format": format}).Info("track added")

	if w.formats < len(w.tracks) {
		w.mu.Unlock()
		return true
	}

	err = w.container.Start()
	if err == nil {
		w.started = true
	}
	w.mu.Unlock()

	if err != nil {
		w.stop(fmt.Errorf("mux: container start: %w", err))
		return false
	}

	w.transition(evStart)
	w.gateOnce.Do(func() { close(w.gate) })
	w.log.Info("container started")
	return true
}

func (w *Writer) write(t *track, ev media.Event) {
	// An empty end of stream marker carries nothing to write.
	if len(ev.Buffer) == 0 {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if ev.TimestampUs < t.lastUs {
		t.log.WithFields(logrus.Fields{"ts": ev.TimestampUs, "last": t.lastUs}).Debug("timestamp went backwards")
	}

	if err := w.container.WriteSample(t.id, ev.Buffer, ev.TimestampUs, ev.Flags); err != nil {
		t.failed++
		w.metrics.WriteFailed(t.name)
		t.log.WithError(fmt.Errorf("%w: %w", media.ErrMuxWrite, err)).
			WithField("ts", ev.TimestampUs).Warn("sample dropped")
		return
	}

	t.lastUs = ev.TimestampUs
	t.written++
	w.metrics.SampleWritten(t.name)
}

func (w *Writer) complete(t *track, err error) {
	w.mu.Lock()
	w.completed++
	w.recordLocked(err)
	all := w.completed == len(w.tracks)
	w.mu.Unlock()

	if err != nil {
		t.log.WithError(err).Error("track failed")
	} else {
		t.log.Debug("track completed")
	}

	w.transition(evDrain)
	if all {
		w.stop(nil)
	}
}

// stop stops the container, if it was started, exactly once. err is kept
// as the writer's failure when none was recorded yet.
func (w *Writer) stop(err error) {
	w.stopOnce.Do(func() {
		w.mu.Lock()
		w.recordLocked(err)
		started := w.started
		var stopErr error
		if started {
			stopErr = w.container.Stop()
			w.recordLocked(stopErr)
		}
		callbacks := w.callbacks
		failure := w.err
		w.mu.Unlock()

		if w.cancel != nil {
			w.cancel()
		}
		for _, t := range w.tracks {
			t.src.Cancel()
		}

		w.transition(evClose)
		if stopErr != nil {
			w.log.WithError(stopErr).Error("container stop failed")
		}
		if failure != nil {
			w.log.WithError(failure).Warn("mux closed with failure")
		} else {
			w.log.Info("mux closed")
		}

		for _, fn := range callbacks {
			fn()
		}
		close(w.done)
	})
}
