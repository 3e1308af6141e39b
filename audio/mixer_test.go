// SPDX-License-Identifier: EPL-2.0

package audio

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ik5/mediapipe/flow"
	"github.com/ik5/mediapipe/internal/audiotest"
	"github.com/ik5/mediapipe/media"
)

func newTestMixer(t *testing.T, opts ...MixerOption) *Mixer {
	t.Helper()
	m, err := NewMixer(media.DefaultClock, append([]MixerOption{WithMixerPoll(5 * time.Millisecond)}, opts...)...)
	require.NoError(t, err)
	return m
}

func runMixer(t *testing.T, ctx context.Context, m *Mixer) []media.Event {
	t.Helper()

	out := flow.NewChannel[media.Event](flow.WithPollInterval(time.Millisecond))
	runErr := make(chan error, 1)
	go func() { runErr <- m.Run(ctx, out) }()

	events, err := audiotest.Collect(ctx, out)
	require.NoError(t, err)
	require.NoError(t, <-runErr)
	return events
}

func TestMixer_SineWithLateSilence(t *testing.T) {
	t.Parallel()

	clock := media.DefaultClock
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sine := audiotest.Sine(2000, 8000).PCM(clock, 0, 1_000_000)
	silence := make([]byte, clock.BytesFor(500_000))

	m := newTestMixer(t)
	a := m.AddChannel("sine", 0)
	b := m.AddChannel("silence", 500_000)
	for _, c := range audiotest.Chunks(sine, 4410) {
		require.NoError(t, a.Feed(c))
	}
	for _, c := range audiotest.Chunks(silence, 4410) {
		require.NoError(t, b.Feed(c))
	}
	a.Complete()
	b.Complete()

	events := runMixer(t, ctx, m)
	require.NotEmpty(t, events)
	assert.True(t, events[0].IsFormat())
	assert.Equal(t, 44100, events[0].Format.SampleRate())

	// Before 500ms only the sine is ready; afterwards the wrapped sum of the
	// sine and silence is the sine again.
	assert.Equal(t, sine, audiotest.Payload(events))

	var fed int64
	for _, ev := range events[1:] {
		assert.Equal(t, clock.TimestampUs(fed), ev.TimestampUs)
		fed += int64(len(ev.Buffer))
	}
	assert.Equal(t, int64(len(sine)), a.Consumed())
	assert.Equal(t, int64(len(silence)), b.Consumed())
}

func TestMixer_ConsumeFromChannel(t *testing.T) {
	t.Parallel()

	clock := media.DefaultClock
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sine := audiotest.Sine(440, 12000).PCM(clock, 0, 250_000)

	m := newTestMixer(t, WithMaxQueued(2))
	in := m.AddChannel("sine", 0)
	src := flow.NewChannel[media.Event](flow.WithPollInterval(time.Millisecond))
	go func() { _ = audiotest.Produce(ctx, src, clock, audiotest.Chunks(sine, 1000)) }()
	go func() { _ = in.Consume(ctx, src) }()

	events := runMixer(t, ctx, m)
	assert.Equal(t, sine, audiotest.Payload(events))
}

func TestMixer_WrapsOnOverflow(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	loud := func(v int16, n int) []byte {
		s := make([]int16, n)
		for i := range s {
			s[i] = v
		}
		return media.EncodeSamples(s)
	}

	m := newTestMixer(t)
	a := m.AddChannel("a", 0)
	b := m.AddChannel("b", 0)
	require.NoError(t, a.Feed(loud(30000, 100)))
	require.NoError(t, b.Feed(loud(10000, 60)))
	require.NoError(t, b.Feed(loud(-10000, 40)))
	a.Complete()
	b.Complete()

	events := runMixer(t, ctx, m)
	got := media.DecodeSamples(audiotest.Payload(events))
	require.Len(t, got, 100)

	// 30000 + 10000 wraps to -25536.
	for i := range 60 {
		assert.Equal(t, int16(-25536), got[i], "sample %d", i)
	}
	for i := 60; i < 100; i++ {
		assert.Equal(t, int16(20000), got[i], "sample %d", i)
	}

	// Chunks are bounded by the shortest head.
	assert.Equal(t, []int64{0, media.DefaultClock.TimestampUs(120)}, audiotest.Timestamps(events))
}

func TestMixer_ReadyChannelsDoNotWaitForLateOnes(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	m := newTestMixer(t)
	early := m.AddChannel("early", 0)
	late := m.AddChannel("late", 1_000_000)
	require.NoError(t, early.Feed(media.EncodeSamples([]int16{1, 2, 3, 4})))

	out := flow.NewChannel[media.Event](flow.WithPollInterval(time.Millisecond))
	go func() { _ = m.Run(ctx, out) }()

	ev, err := out.Next(ctx)
	require.NoError(t, err)
	require.True(t, ev.IsFormat())

	ev, err = out.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int16{1, 2, 3, 4}, media.DecodeSamples(ev.Buffer))

	early.Complete()
	late.Complete()
	_, err = out.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestMixer_SilenceFillBeforeFirstChannel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	clock := media.DefaultClock
	m := newTestMixer(t, WithSilenceFill())
	in := m.AddChannel("late", 100_000)
	require.NoError(t, in.Feed(media.EncodeSamples([]int16{7, 7})))
	in.Complete()

	events := runMixer(t, ctx, m)
	payload := audiotest.Payload(events)

	gap := clock.BytesFor(100_000)
	require.Len(t, payload, int(gap)+4)
	assert.Equal(t, make([]byte, gap), payload[:gap])
	assert.Equal(t, []int16{7, 7}, media.DecodeSamples(payload[gap:]))
}

func TestMixer_SilenceFillIsChunked(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	clock := media.DefaultClock
	m := newTestMixer(t, WithSilenceFill())
	in := m.AddChannel("late", 1_000_000)
	require.NoError(t, in.Feed(media.EncodeSamples([]int16{5})))
	in.Complete()

	events := runMixer(t, ctx, m)

	gap := clock.BytesFor(1_000_000)
	maxChunk := silenceFrames * int(clock.FrameBytes())
	var silent int64
	var chunks int
	last := int64(-1)
	for _, ev := range events {
		if !ev.IsData() || silent >= gap {
			continue
		}
		assert.LessOrEqual(t, len(ev.Buffer), maxChunk)
		assert.Greater(t, ev.TimestampUs, last)
		last = ev.TimestampUs
		silent += int64(len(ev.Buffer))
		chunks++
	}

	assert.Equal(t, gap, silent)
	assert.Greater(t, chunks, 1)
	assert.Equal(t, []int16{5}, media.DecodeSamples(audiotest.Payload(events)[gap:]))
}

func TestMixer_InputFailureFailsOutput(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	m := newTestMixer(t)
	in := m.AddChannel("broken", 0)

	src := flow.NewChannel[media.Event]()
	boom := errors.New("decoder exploded")
	src.CloseWithError(boom)

	consumeErr := in.Consume(ctx, src)
	require.ErrorIs(t, consumeErr, boom)

	out := flow.NewChannel[media.Event](flow.WithPollInterval(time.Millisecond))
	go func() { _ = m.Run(ctx, out) }()

	_, err := audiotest.Collect(ctx, out)
	require.ErrorIs(t, err, ErrInputFailed)
	assert.ErrorIs(t, err, boom)
}

func TestMixer_CancelStopsRunAndInputs(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	m := newTestMixer(t)
	in := m.AddChannel("endless", 0)
	src := flow.NewChannel[media.Event](flow.WithPollInterval(time.Millisecond))
	go func() {
		for {
			if err := src.Send(ctx, media.DataEvent(make([]byte, 64), 0, 0)); err != nil {
				return
			}
		}
	}()
	consumeErr := make(chan error, 1)
	go func() { consumeErr <- in.Consume(ctx, src) }()

	out := flow.NewChannel[media.Event](flow.WithPollInterval(time.Millisecond))
	runErr := make(chan error, 1)
	go func() { runErr <- m.Run(ctx, out) }()

	for range 5 {
		_, err := out.Next(ctx)
		require.NoError(t, err)
	}
	out.Cancel()

	require.NoError(t, <-runErr)
	require.NoError(t, <-consumeErr)
	assert.True(t, src.Cancelled())
}

func TestNewMixer_InvalidClock(t *testing.T) {
	t.Parallel()

	_, err := NewMixer(media.Clock{SampleRate: 0, Channels: 1, BytesPerSample: 2})
	assert.ErrorIs(t, err, media.ErrConfiguration)
}
