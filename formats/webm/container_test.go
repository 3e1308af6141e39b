// SPDX-License-Identifier: EPL-2.0

package webm_test

import (
	"bytes"
	"testing"

	"github.com/at-wat/ebml-go"
	ebmlwebm "github.com/at-wat/ebml-go/webm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ik5/mediapipe/formats/webm"
	"github.com/ik5/mediapipe/media"
)

func audioFormat(mime string, rate, ch int) media.Format {
	return media.Format{
		media.KeyMime:         mime,
		media.KeySampleRate:   rate,
		media.KeyChannelCount: ch,
	}
}

type block struct {
	ms   int64
	data []byte
}

func TestContainer_TwoTracks(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	c := webm.NewContainer(&out)

	pcm, err := c.AddTrack(audioFormat(media.MimeRaw, 8000, 1))
	require.NoError(t, err)
	opus, err := c.AddTrack(audioFormat(media.MimeOpus, 48000, 2))
	require.NoError(t, err)
	require.Equal(t, []int{0, 1}, []int{pcm, opus})

	require.NoError(t, c.Start())
	for i, ts := range []int64{0, 20000, 40000} {
		require.NoError(t, c.WriteSample(pcm, []byte{byte(i), 0xaa}, ts, 0))
		require.NoError(t, c.WriteSample(opus, []byte{byte(i), 0xbb}, ts, 0))
	}
	require.NoError(t, c.Stop())

	var file struct {
		Header  ebmlwebm.EBMLHeader `ebml:"EBML"`
		Segment ebmlwebm.Segment    `ebml:"Segment"`
	}
	require.NoError(t, ebml.Unmarshal(bytes.NewReader(out.Bytes()), &file))
	assert.Equal(t, "webm", file.Header.DocType)

	entries := file.Segment.Tracks.TrackEntry
	require.Len(t, entries, 2)
	assert.Equal(t, "A_PCM/INT/LIT", entries[0].CodecID)
	assert.Equal(t, "A_OPUS", entries[1].CodecID)

	blocks := map[uint64][]block{}
	for _, cl := range file.Segment.Cluster {
		for _, b := range cl.SimpleBlock {
			require.NotEmpty(t, b.Data)
			blocks[b.TrackNumber] = append(blocks[b.TrackNumber], block{
				ms:   int64(cl.Timecode) + int64(b.Timecode),
				data: b.Data[0],
			})
		}
	}

	for track, tag := range map[uint64]byte{1: 0xaa, 2: 0xbb} {
		require.Len(t, blocks[track], 3, "track %d", track)
		for i, b := range blocks[track] {
			assert.Equal(t, int64(i*20), b.ms)
			assert.Equal(t, []byte{byte(i), tag}, b.data)
		}
	}
}

func TestContainer_TrackRules(t *testing.T) {
	t.Parallel()

	c := webm.NewContainer(&bytes.Buffer{})

	require.ErrorIs(t, c.Start(), media.ErrConfiguration)
	require.ErrorIs(t, c.WriteSample(0, []byte{1}, 0, 0), webm.ErrNotStarted)

	_, err := c.AddTrack(audioFormat("audio/x-unknown", 8000, 1))
	require.ErrorIs(t, err, media.ErrConfiguration)
	_, err = c.AddTrack(media.Format{media.KeyMime: media.MimeVP8})
	require.ErrorIs(t, err, media.ErrConfiguration)
	_, err = c.AddTrack(media.Format{media.KeyMime: media.MimeOpus})
	require.ErrorIs(t, err, media.ErrConfiguration)

	id, err := c.AddTrack(media.Format{media.KeyMime: media.MimeVP8, media.KeyWidth: 320, media.KeyHeight: 240})
	require.NoError(t, err)
	require.NoError(t, c.Start())

	_, err = c.AddTrack(audioFormat(media.MimeOpus, 48000, 2))
	require.ErrorIs(t, err, webm.ErrStarted)
	require.ErrorIs(t, c.Start(), webm.ErrStarted)
	require.ErrorIs(t, c.WriteSample(id+1, []byte{1}, 0, 0), webm.ErrUnknownID)

	require.NoError(t, c.WriteSample(id, []byte{1, 2, 3}, 0, media.FlagKeyFrame))
	require.NoError(t, c.Stop())
}

func TestCodecID(t *testing.T) {
	t.Parallel()

	id, ok := webm.CodecID(media.MimeVorbis)
	assert.True(t, ok)
	assert.Equal(t, "A_VORBIS", id)

	_, ok = webm.CodecID(media.MimeMPEG)
	assert.False(t, ok)
}
