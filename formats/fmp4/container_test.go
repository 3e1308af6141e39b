// SPDX-License-Identifier: EPL-2.0

package fmp4_test

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ik5/mediapipe/formats/fmp4"
	"github.com/ik5/mediapipe/media"
)

type box struct {
	kind string
	body []byte
}

// topLevel splits an ISO BMFF stream into its top level boxes.
func topLevel(t *testing.T, b []byte) []box {
	t.Helper()

	var out []box
	for len(b) > 0 {
		require.GreaterOrEqual(t, len(b), 8, "truncated box header")
		size := uint64(binary.BigEndian.Uint32(b))
		kind := string(b[4:8])
		hdr := uint64(8)
		if size == 1 {
			size = binary.BigEndian.Uint64(b[8:])
			hdr = 16
		}
		require.LessOrEqual(t, size, uint64(len(b)), "box %q overruns the stream", kind)
		out = append(out, box{kind: kind, body: b[hdr:size]})
		b = b[size:]
	}
	return out
}

func kinds(boxes []box) []string {
	out := make([]string, len(boxes))
	for i, b := range boxes {
		out[i] = b.kind
	}
	return out
}

func pcmFormat(rate, ch int) media.Format {
	return media.Format{
		media.KeyMime:         media.MimeRaw,
		media.KeySampleRate:   rate,
		media.KeyChannelCount: ch,
	}
}

func TestContainer_PCMFragments(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	c := fmp4.NewContainer(&out)
	id, err := c.AddTrack(pcmFormat(8000, 1))
	require.NoError(t, err)
	require.NoError(t, c.Start())

	clock := media.Clock{SampleRate: 8000, Channels: 1, BytesPerSample: 2}
	var want []byte
	for i := range 25 {
		chunk := bytes.Repeat([]byte{byte(i)}, int(clock.BytesFor(100_000)))
		want = append(want, chunk...)
		require.NoError(t, c.WriteSample(id, chunk, int64(i)*100_000, 0))
	}
	require.NoError(t, c.Stop())
	assert.Equal(t, 3, c.Fragments())

	boxes := topLevel(t, out.Bytes())
	assert.Equal(t, []string{"ftyp", "moov", "moof", "mdat", "moof", "mdat", "moof", "mdat"}, kinds(boxes))

	var got []byte
	for _, b := range boxes {
		if b.kind == "mdat" {
			got = append(got, b.body...)
		}
	}
	assert.Equal(t, want, got)
}

func TestContainer_TwoTracksShareParts(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	c := fmp4.NewContainer(&out, fmp4.WithFragmentDuration(500_000))
	pcm, err := c.AddTrack(pcmFormat(16000, 2))
	require.NoError(t, err)
	opus, err := c.AddTrack(media.Format{media.KeyMime: media.MimeOpus, media.KeySampleRate: 48000, media.KeyChannelCount: 2})
	require.NoError(t, err)
	require.NoError(t, c.Start())

	for i := range 30 {
		ts := int64(i) * 20_000
		require.NoError(t, c.WriteSample(pcm, make([]byte, 1280), ts, 0))
		require.NoError(t, c.WriteSample(opus, []byte{0xfc, byte(i)}, ts, 0))
	}
	// Empty buffers carry nothing and are skipped.
	require.NoError(t, c.WriteSample(opus, nil, 600_000, 0))
	require.NoError(t, c.Stop())

	boxes := topLevel(t, out.Bytes())
	require.GreaterOrEqual(t, len(boxes), 4)
	assert.Equal(t, []string{"ftyp", "moov"}, kinds(boxes[:2]))
	assert.Equal(t, 2, c.Fragments())
	assert.Len(t, boxes, 2+2*c.Fragments())
}

func TestContainer_TrackRules(t *testing.T) {
	t.Parallel()

	c := fmp4.NewContainer(&bytes.Buffer{})

	require.ErrorIs(t, c.Start(), media.ErrConfiguration)
	require.ErrorIs(t, c.WriteSample(0, []byte{1}, 0, 0), fmp4.ErrNotStarted)
	require.ErrorIs(t, c.Stop(), fmp4.ErrNotStarted)

	_, err := c.AddTrack(media.Format{media.KeyMime: media.MimeVorbis, media.KeySampleRate: 44100, media.KeyChannelCount: 2})
	require.ErrorIs(t, err, media.ErrConfiguration)
	_, err = c.AddTrack(media.Format{media.KeyMime: media.MimeRaw})
	require.ErrorIs(t, err, media.ErrConfiguration)

	id, err := c.AddTrack(media.Format{media.KeyMime: media.MimeAAC, media.KeySampleRate: 44100, media.KeyChannelCount: 2})
	require.NoError(t, err)
	require.NoError(t, c.Start())

	_, err = c.AddTrack(pcmFormat(8000, 1))
	require.ErrorIs(t, err, fmp4.ErrStarted)
	require.ErrorIs(t, c.Start(), fmp4.ErrStarted)
	require.ErrorIs(t, c.WriteSample(id+1, []byte{1}, 0, 0), fmp4.ErrUnknownID)
	require.NoError(t, c.Stop())
	assert.Equal(t, 0, c.Fragments())
}
