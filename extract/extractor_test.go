// SPDX-License-Identifier: EPL-2.0

package extract_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ik5/mediapipe/extract"
	"github.com/ik5/mediapipe/flow"
	"github.com/ik5/mediapipe/internal/audiotest"
	"github.com/ik5/mediapipe/media"
)

// tracks is an in-memory demuxer with one list of samples per track.
type tracks struct {
	formats  []media.Format
	samples  [][][]byte
	selected int
	next     int
	failAt   int
}

func (d *tracks) TrackCount() int { return len(d.formats) }

func (d *tracks) TrackFormat(i int) (media.Format, error) { return d.formats[i], nil }

func (d *tracks) SelectTrack(i int) error {
	d.selected = i
	return nil
}

func (d *tracks) ReadSample(buf []byte) (int, int64, media.Flags, error) {
	s := d.samples[d.selected]
	if d.failAt > 0 && d.next == d.failAt {
		return 0, 0, 0, errors.New("disk on fire")
	}
	if d.next >= len(s) {
		return 0, 0, 0, io.EOF
	}
	n := copy(buf, s[d.next])
	ts := int64(d.next) * 20_000
	d.next++
	return n, ts, media.FlagKeyFrame, nil
}

func twoTracks() *tracks {
	return &tracks{
		formats: []media.Format{
			{media.KeyMime: media.MimeAVC},
			{media.KeyMime: media.MimeOpus},
		},
		samples: [][][]byte{
			{[]byte("v0"), []byte("v1")},
			{[]byte("a0"), []byte("a1"), []byte("a2")},
		},
	}
}

func TestMimeSelector(t *testing.T) {
	d := twoTracks()

	i, err := extract.MimeSelector("audio/").SelectTrack(d)
	require.NoError(t, err)
	assert.Equal(t, 1, i)

	i, err = extract.MimeSelector("video/").SelectTrack(d)
	require.NoError(t, err)
	assert.Equal(t, 0, i)

	_, err = extract.MimeSelector("text/").SelectTrack(d)
	require.ErrorIs(t, err, media.ErrTrackSelection)
}

func TestExtractor_EmitsSelectedTrack(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	e := extract.NewExtractor(twoTracks(), extract.MimeSelector("audio/"))
	out := flow.NewChannel[media.Event]()

	errc := make(chan error, 1)
	go func() { errc <- e.Run(ctx, out) }()

	events, err := audiotest.Collect(ctx, out)
	require.NoError(t, err)
	require.NoError(t, <-errc)

	require.Len(t, events, 5)
	require.True(t, events[0].IsFormat())
	assert.Equal(t, media.MimeOpus, events[0].Format.Mime())
	assert.Equal(t, []byte("a0a1a2"), audiotest.Payload(events))
	assert.Equal(t, []int64{0, 20_000, 40_000, 40_000}, audiotest.Timestamps(events))
	assert.True(t, events[4].EndOfStream())
	assert.Empty(t, events[4].Buffer)
}

func TestExtractor_ReadsOnlyWithCredit(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	d := twoTracks()
	e := extract.NewExtractor(d, extract.MimeSelector("audio/"))
	out := flow.NewChannel[media.Event](flow.WithPollInterval(time.Millisecond))

	errc := make(chan error, 1)
	go func() { errc <- e.Run(ctx, out) }()

	ev, err := out.Next(ctx)
	require.NoError(t, err)
	require.True(t, ev.IsFormat())

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, d.next, "no sample read before credit")

	out.Cancel()
	require.NoError(t, <-errc)
}

func TestExtractor_Failures(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	t.Run("no matching track", func(t *testing.T) {
		e := extract.NewExtractor(twoTracks(), extract.MimeSelector("text/"))
		_, err := e.Select()
		require.ErrorIs(t, err, media.ErrTrackSelection)

		out := flow.NewChannel[media.Event]()
		require.ErrorIs(t, e.Run(ctx, out), media.ErrTrackSelection)
		_, err = out.Next(ctx)
		require.ErrorIs(t, err, media.ErrTrackSelection)
	})

	t.Run("read error", func(t *testing.T) {
		d := twoTracks()
		d.failAt = 1
		e := extract.NewExtractor(d, extract.MimeSelector("audio/"))
		out := flow.NewChannel[media.Event]()

		errc := make(chan error, 1)
		go func() { errc <- e.Run(ctx, out) }()

		events, err := audiotest.Collect(ctx, out)
		require.Error(t, err)
		assert.Len(t, events, 2)
		require.Error(t, <-errc)
	})
}

func TestExtractor_WAVFile(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data := wavFile(t, 4000)
	d, err := extract.NewFileDemuxer(bytes.NewReader(data))
	require.NoError(t, err)

	e := extract.NewExtractor(d, extract.MimeSelector("audio/"), extract.WithBufferSize(1000))
	out := flow.NewChannel[media.Event]()

	errc := make(chan error, 1)
	go func() { errc <- e.Run(ctx, out) }()

	events, err := audiotest.Collect(ctx, out)
	require.NoError(t, err)
	require.NoError(t, <-errc)

	assert.Equal(t, media.MimeWAV, events[0].Format.Mime())
	assert.Equal(t, data, audiotest.Payload(events))
	assert.True(t, events[len(events)-1].EndOfStream())
	for _, ev := range events[1:] {
		assert.LessOrEqual(t, len(ev.Buffer), 1000)
	}
}
