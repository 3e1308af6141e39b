// SPDX-License-Identifier: EPL-2.0

package codec

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ik5/mediapipe/flow"
	"github.com/ik5/mediapipe/media"
)

// fakeDriver has unbounded slots and queues submitted input as output.
type fakeDriver struct {
	mu       sync.Mutex
	slotSize int
	next     Slot
	inputs   map[Slot][]byte
	outputs  map[Slot][]byte
	queue    []Output
	formats  int

	startErr  error
	submitErr error

	starts, stops, releases int
	rendered                int
}

func newFakeDriver(slotSize, formats int) *fakeDriver {
	return &fakeDriver{
		slotSize: slotSize,
		formats:  formats,
		inputs:   make(map[Slot][]byte),
		outputs:  make(map[Slot][]byte),
	}
}

func (f *fakeDriver) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	return f.startErr
}

func (f *fakeDriver) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

func (f *fakeDriver) Release() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releases++
	return nil
}

func (f *fakeDriver) counts() (stops, releases int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops, f.releases
}

func (f *fakeDriver) TryAcquireInputSlot(time.Duration) (Slot, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.next
	f.next++
	f.inputs[s] = make([]byte, f.slotSize)
	return s, true, nil
}

func (f *fakeDriver) InputBuffer(slot Slot) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inputs[slot], nil
}

func (f *fakeDriver) Submit(slot Slot, n int, ts int64, flags media.Flags) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return f.submitErr
	}
	f.outputs[slot] = f.inputs[slot][:n]
	delete(f.inputs, slot)
	f.queue = append(f.queue, Output{
		Status: OutputBuffer,
		Slot:   slot,
		Info:   BufferInfo{Size: n, TimestampUs: ts, Flags: flags},
	})
	return nil
}

func (f *fakeDriver) TryAcquireOutputSlot(timeout time.Duration) (Output, error) {
	f.mu.Lock()
	if f.formats > 0 {
		f.formats--
		f.mu.Unlock()
		return Output{Status: OutputFormatChanged}, nil
	}
	if len(f.queue) == 0 {
		f.mu.Unlock()
		time.Sleep(timeout)
		return Output{Status: OutputNone}, nil
	}
	out := f.queue[0]
	f.queue = f.queue[1:]
	f.mu.Unlock()
	return out, nil
}

func (f *fakeDriver) OutputBuffer(slot Slot) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.outputs[slot], nil
}

func (f *fakeDriver) ReleaseOutput(slot Slot, render bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if render {
		f.rendered++
	}
	delete(f.outputs, slot)
	return nil
}

func (f *fakeDriver) OutputFormat() (media.Format, error) {
	return media.Format{media.KeyMime: media.MimeRaw, media.KeySampleRate: 44100, media.KeyChannelCount: 1}, nil
}

func drainAll(t *testing.T, s *Session) []media.Event {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var events []media.Event
	for {
		ev, err := s.DrainNext(ctx)
		if errors.Is(err, io.EOF) {
			return events
		}
		require.NoError(t, err)
		events = append(events, ev)
	}
}

func TestSession_FeedAndDrainInOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d := newFakeDriver(4, 1)
	s := NewSession("test", media.DefaultClock)
	require.NoError(t, s.Attach(d))
	assert.Equal(t, StateRunning, s.State())

	require.NoError(t, s.Feed(ctx, []byte{1, 0, 2, 0, 3, 0, 4, 0, 5, 0}))
	require.NoError(t, s.SignalEndOfInput(ctx))

	events := drainAll(t, s)
	require.Len(t, events, 4)

	assert.True(t, events[0].IsFormat())
	assert.Equal(t, []byte{1, 0, 2, 0}, events[1].Buffer)
	assert.Equal(t, []byte{3, 0, 4, 0}, events[2].Buffer)
	assert.Equal(t, []byte{5, 0}, events[3].Buffer)

	clock := media.DefaultClock
	assert.Equal(t, int64(0), events[1].TimestampUs)
	assert.Equal(t, clock.TimestampUs(4), events[2].TimestampUs)
	assert.Equal(t, clock.TimestampUs(8), events[3].TimestampUs)

	stops, releases := d.counts()
	assert.Equal(t, 1, stops)
	assert.Equal(t, 1, releases)
	assert.Equal(t, StateStopped, s.State())
	assert.NoError(t, s.Err())
}

func TestSession_ConfigureFailureUnblocksWaiters(t *testing.T) {
	t.Parallel()

	s := NewSession("broken", media.DefaultClock)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	feedErr := make(chan error, 1)
	drainErr := make(chan error, 1)
	go func() { feedErr <- s.Feed(ctx, []byte{0, 0}) }()
	go func() {
		_, err := s.DrainNext(ctx)
		drainErr <- err
	}()

	err := s.Configure(func() (Driver, error) { return nil, errors.New("no such codec") })
	require.ErrorIs(t, err, media.ErrCodecFatal)

	assert.ErrorIs(t, <-feedErr, media.ErrCodecFatal)
	assert.ErrorIs(t, <-drainErr, media.ErrCodecFatal)
	assert.Equal(t, StateStopped, s.State())
}

func TestSession_StartFailureReleasesDriver(t *testing.T) {
	t.Parallel()

	d := newFakeDriver(4, 0)
	d.startErr = errors.New("busy")

	s := NewSession("start", media.DefaultClock)
	err := s.Attach(d)
	require.ErrorIs(t, err, media.ErrCodecFatal)

	stops, releases := d.counts()
	assert.Equal(t, 1, stops)
	assert.Equal(t, 1, releases)
}

func TestSession_DriverErrorReleasesOnce(t *testing.T) {
	t.Parallel()

	d := newFakeDriver(4, 0)
	d.submitErr = errors.New("device lost")

	s := NewSession("lost", media.DefaultClock)
	require.NoError(t, s.Attach(d))

	err := s.Feed(context.Background(), []byte{1, 2, 3, 4})
	require.ErrorIs(t, err, media.ErrCodecFatal)
	assert.ErrorIs(t, s.Err(), media.ErrCodecFatal)

	require.NoError(t, s.Close())
	s.Abort(errors.New("again"))

	stops, releases := d.counts()
	assert.Equal(t, 1, stops)
	assert.Equal(t, 1, releases)

	_, err = s.DrainNext(context.Background())
	assert.ErrorIs(t, err, media.ErrCodecFatal)
}

func TestSession_FormatPolicy(t *testing.T) {
	t.Parallel()

	count := func(policy FormatPolicy) int {
		d := newFakeDriver(4, 3)
		s := NewSession("fmt", media.DefaultClock, WithFormatPolicy(policy))
		require.NoError(t, s.Attach(d))
		require.NoError(t, s.Feed(context.Background(), []byte{1, 1}))
		require.NoError(t, s.SignalEndOfInput(context.Background()))

		n := 0
		for _, ev := range drainAll(t, s) {
			if ev.IsFormat() {
				n++
			}
		}
		return n
	}

	assert.Equal(t, 1, count(FormatOnce))
	assert.Equal(t, 3, count(FormatEvery))
}

type recordingRenderer struct {
	mu     sync.Mutex
	frames []Frame
}

func (r *recordingRenderer) Present(f Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	f.Data = media.CopyBytes(f.Data)
	r.frames = append(r.frames, f)
	return nil
}

func TestSession_RendererConsumesBuffers(t *testing.T) {
	t.Parallel()

	r := &recordingRenderer{}
	d := newFakeDriver(4, 1)
	s := NewSession("video", media.DefaultClock, WithRenderer(r), WithFormatPolicy(FormatEvery))
	require.NoError(t, s.Attach(d))

	require.NoError(t, s.Feed(context.Background(), []byte{1, 2, 3, 4, 5, 6}))
	require.NoError(t, s.SignalEndOfInput(context.Background()))

	events := drainAll(t, s)
	require.Len(t, events, 1)
	assert.True(t, events[0].IsFormat())

	require.Len(t, r.frames, 2)
	assert.Equal(t, []byte{1, 2, 3, 4}, r.frames[0].Data)
	assert.Equal(t, []byte{5, 6}, r.frames[1].Data)
	assert.Equal(t, 2, d.rendered)
}

// formatlessDriver renders before the codec knows its output format.
type formatlessDriver struct{ *fakeDriver }

func (formatlessDriver) OutputFormat() (media.Format, error) {
	return nil, errors.New("format not known yet")
}

func TestSession_RendererWithoutFormatWarns(t *testing.T) {
	t.Parallel()

	logger, hook := logtest.NewNullLogger()
	r := &recordingRenderer{}
	d := formatlessDriver{newFakeDriver(4, 0)}
	s := NewSession("video", media.DefaultClock, WithRenderer(r), WithLogger(logrus.NewEntry(logger)))
	require.NoError(t, s.Attach(d))

	require.NoError(t, s.Feed(context.Background(), []byte{1, 2, 3, 4}))
	require.NoError(t, s.SignalEndOfInput(context.Background()))
	assert.Empty(t, drainAll(t, s))

	require.Len(t, r.frames, 1)
	assert.Nil(t, r.frames[0].Format)

	var warned bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel && e.Message == "presenting frame without a format" {
			warned = true
		}
	}
	assert.True(t, warned)
}

func TestSession_DrainToStopsOnDownstreamCancel(t *testing.T) {
	t.Parallel()

	d := newFakeDriver(4, 1)
	s := NewSession("cancel", media.DefaultClock)
	require.NoError(t, s.Attach(d))
	require.NoError(t, s.Feed(context.Background(), []byte{1, 2, 3, 4, 5, 6, 7, 8}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out := flow.NewChannel[media.Event](flow.WithPollInterval(time.Millisecond))
	done := make(chan error, 1)
	go func() { done <- s.DrainTo(ctx, out) }()

	ev, err := out.Next(ctx)
	require.NoError(t, err)
	assert.True(t, ev.IsFormat())
	out.Cancel()

	require.NoError(t, <-done)
	assert.Equal(t, StateStopped, s.State())
	assert.NoError(t, s.Err())

	stops, releases := d.counts()
	assert.Equal(t, 1, stops)
	assert.Equal(t, 1, releases)
}

func TestSession_FeedFromConfiguresOnFirstFormat(t *testing.T) {
	t.Parallel()

	var built *fakeDriver
	s := NewSession("lazy", media.DefaultClock, WithConfigurer(func(f media.Format) (Driver, error) {
		if f.Mime() != media.MimeRaw {
			return nil, errors.New("unsupported")
		}
		built = newFakeDriver(4, 1)
		return built, nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	in := flow.NewChannel[media.Event](flow.WithPollInterval(time.Millisecond))
	out := flow.NewChannel[media.Event](flow.WithPollInterval(time.Millisecond))

	go func() {
		_ = in.Send(ctx, media.FormatEvent(media.Format{media.KeyMime: media.MimeRaw}))
		_ = in.Send(ctx, media.DataEvent([]byte{9, 9, 8, 8, 7, 7}, 0, 0))
		in.Close()
	}()

	feedErr := make(chan error, 1)
	go func() { feedErr <- s.FeedFrom(ctx, in) }()
	go func() { _ = s.DrainTo(ctx, out) }()

	var data []byte
	var formats int
	for {
		ev, err := out.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		if ev.IsFormat() {
			formats++
			continue
		}
		data = append(data, ev.Buffer...)
	}

	require.NoError(t, <-feedErr)
	assert.Equal(t, 1, formats)
	assert.Equal(t, []byte{9, 9, 8, 8, 7, 7}, data)

	stops, releases := built.counts()
	assert.Equal(t, 1, stops)
	assert.Equal(t, 1, releases)
}

func TestSession_FeedFromWithoutFormatFails(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		send func(ctx context.Context, in *flow.Channel[media.Event])
	}{
		{"closed at once", func(_ context.Context, in *flow.Channel[media.Event]) {
			in.Close()
		}},
		{"data first", func(ctx context.Context, in *flow.Channel[media.Event]) {
			_ = in.Send(ctx, media.DataEvent([]byte{1, 2}, 0, 0))
			in.Close()
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			configured := false
			s := NewSession("unformatted", media.DefaultClock, WithConfigurer(func(media.Format) (Driver, error) {
				configured = true
				return newFakeDriver(4, 1), nil
			}))

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			in := flow.NewChannel[media.Event](flow.WithPollInterval(time.Millisecond))
			out := flow.NewChannel[media.Event](flow.WithPollInterval(time.Millisecond))
			go tt.send(ctx, in)

			drainErr := make(chan error, 1)
			go func() { drainErr <- s.DrainTo(ctx, out) }()

			err := s.FeedFrom(ctx, in)
			require.ErrorIs(t, err, media.ErrCodecFatal)

			_, err = out.Next(ctx)
			require.ErrorIs(t, err, media.ErrCodecFatal)
			require.ErrorIs(t, <-drainErr, media.ErrCodecFatal)

			require.NoError(t, ctx.Err(), "workers returned only at the deadline")
			assert.Equal(t, StateStopped, s.State())
			assert.False(t, configured)
		})
	}
}

func TestSession_FeedFromUpstreamErrorAborts(t *testing.T) {
	t.Parallel()

	d := newFakeDriver(4, 0)
	s := NewSession("upstream", media.DefaultClock)
	require.NoError(t, s.Attach(d))

	in := flow.NewChannel[media.Event]()
	boom := errors.New("source failed")
	in.CloseWithError(boom)

	err := s.FeedFrom(context.Background(), in)
	require.ErrorIs(t, err, boom)
	assert.ErrorIs(t, s.Err(), boom)
	assert.True(t, in.Cancelled())

	_, releases := d.counts()
	assert.Equal(t, 1, releases)
}
