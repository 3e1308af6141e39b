// SPDX-License-Identifier: EPL-2.0

// Package fmp4 writes fragmented MP4 with
// github.com/bluenviron/mediacommon/v2.
//
// Start writes the init segment. Samples are buffered per track and flushed
// as one moof/mdat part whenever the buffered span reaches the fragment
// duration. The newest sample of every track is held back until the next
// one arrives, so its duration is known; Stop flushes everything left.
package fmp4

import (
	"errors"
	"fmt"
	"io"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4/seekablebuffer"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"
	"github.com/sirupsen/logrus"

	"github.com/ik5/mediapipe/media"
)

var (
	ErrStarted    = errors.New("fmp4: tracks are fixed once started")
	ErrNotStarted = errors.New("fmp4: container not started")
	ErrUnknownID  = errors.New("fmp4: unknown track")
)

const (
	DefaultFragmentUs = 1_000_000
	// Used for the last sample of a compressed track, whose successor never
	// arrives.
	defaultFrameUs = 20_000
)

type Option func(*Container)

// WithFragmentDuration sets the span of media buffered before a part is
// written.
func WithFragmentDuration(us int64) Option {
	return func(c *Container) {
		if us > 0 {
			c.fragmentUs = us
		}
	}
}

func WithLogger(l *logrus.Entry) Option {
	return func(c *Container) {
		if l != nil {
			c.log = l
		}
	}
}

type pending struct {
	ts   int64
	data []byte
}

type track struct {
	id         int
	timeScale  uint32
	codec      mp4.Codec
	frameBytes int // PCM only
	samples    []pending
	lastDur    uint32
}

// Container implements mux.Container for fragmented MP4.
type Container struct {
	w          io.Writer
	log        *logrus.Entry
	fragmentUs int64

	tracks  []*track
	started bool
	seq     uint32
	// Timestamp of the oldest buffered sample, -1 when nothing is buffered.
	fragStart int64
}

func NewContainer(w io.Writer, opts ...Option) *Container {
	c := &Container{
		w:          w,
		log:        logrus.WithField("component", "fmp4"),
		fragmentUs: DefaultFragmentUs,
		fragStart:  -1,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func audioParams(format media.Format) (int, int, error) {
	rate, ch := format.SampleRate(), format.ChannelCount()
	if rate <= 0 || ch <= 0 {
		return 0, 0, fmt.Errorf("%w: audio track needs sample rate and channels", media.ErrConfiguration)
	}
	return rate, ch, nil
}

func (c *Container) AddTrack(format media.Format) (int, error) {
	if c.started {
		return 0, ErrStarted
	}

	t := &track{id: len(c.tracks) + 1}
	switch mime := format.Mime(); mime {
	case media.MimeRaw:
		rate, ch, err := audioParams(format)
		if err != nil {
			return 0, err
		}
		t.timeScale = uint32(rate)
		t.frameBytes = 2 * ch
		t.codec = &mp4.CodecLPCM{LittleEndian: true, BitDepth: 16, SampleRate: rate, ChannelCount: ch}

	case media.MimeOpus:
		_, ch, err := audioParams(format)
		if err != nil {
			return 0, err
		}
		t.timeScale = 48000
		t.codec = &mp4.CodecOpus{ChannelCount: ch}

	case media.MimeAAC:
		rate, ch, err := audioParams(format)
		if err != nil {
			return 0, err
		}
		t.timeScale = uint32(rate)
		t.codec = &mp4.CodecMPEG4Audio{Config: mpeg4audio.AudioSpecificConfig{
			Type:         mpeg4audio.ObjectTypeAACLC,
			SampleRate:   rate,
			ChannelCount: ch,
		}}

	default:
		return 0, fmt.Errorf("%w: fmp4 cannot carry %q", media.ErrConfiguration, mime)
	}

	c.tracks = append(c.tracks, t)
	return len(c.tracks) - 1, nil
}

func (c *Container) Start() error {
	if c.started {
		return ErrStarted
	}
	if len(c.tracks) == 0 {
		return fmt.Errorf("%w: fmp4 container without tracks", media.ErrConfiguration)
	}

	init := &fmp4.Init{}
	for _, t := range c.tracks {
		init.Tracks = append(init.Tracks, &fmp4.InitTrack{
			ID:        t.id,
			TimeScale: t.timeScale,
			Codec:     t.codec,
		})
	}

	var buf seekablebuffer.Buffer
	if err := init.Marshal(&buf); err != nil {
		return fmt.Errorf("fmp4 init: %w", err)
	}
	if _, err := c.w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("fmp4 init: %w", err)
	}

	c.started = true
	c.seq = 1
	return nil
}

// WriteSample buffers one audio access unit. Every audio sample is a sync
// sample, so flags are not used.
func (c *Container) WriteSample(id int, data []byte, timestampUs int64, _ media.Flags) error {
	if !c.started {
		return ErrNotStarted
	}
	if id < 0 || id >= len(c.tracks) {
		return fmt.Errorf("%w: %d", ErrUnknownID, id)
	}
	if len(data) == 0 {
		return nil
	}

	t := c.tracks[id]
	t.samples = append(t.samples, pending{ts: timestampUs, data: media.CopyBytes(data)})
	if c.fragStart < 0 || timestampUs < c.fragStart {
		c.fragStart = timestampUs
	}

	if timestampUs-c.fragStart >= c.fragmentUs {
		return c.flush(false)
	}
	return nil
}

func (t *track) scale(us int64) uint64 {
	return uint64(us) * uint64(t.timeScale) / 1_000_000
}

// take converts buffered samples into fmp4 samples. Unless final, the newest
// sample stays buffered.
func (t *track) take(final bool) *fmp4.PartTrack {
	n := len(t.samples)
	if !final {
		n--
	}
	if n <= 0 {
		return nil
	}

	part := &fmp4.PartTrack{ID: t.id, BaseTime: t.scale(t.samples[0].ts)}
	for i := range n {
		s := t.samples[i]

		var dur uint32
		switch {
		case t.frameBytes > 0:
			dur = uint32(len(s.data) / t.frameBytes)
		case i+1 < len(t.samples):
			dur = uint32(t.scale(t.samples[i+1].ts) - t.scale(s.ts))
		case t.lastDur > 0:
			dur = t.lastDur
		default:
			dur = uint32(t.scale(defaultFrameUs))
		}
		t.lastDur = dur

		part.Samples = append(part.Samples, &fmp4.Sample{
			Duration: dur,
			Payload:  s.data,
		})
	}

	t.samples = append(t.samples[:0], t.samples[n:]...)
	return part
}

func (c *Container) flush(final bool) error {
	part := &fmp4.Part{SequenceNumber: c.seq}
	c.fragStart = -1
	for _, t := range c.tracks {
		if pt := t.take(final); pt != nil {
			part.Tracks = append(part.Tracks, pt)
		}
		if len(t.samples) > 0 && (c.fragStart < 0 || t.samples[0].ts < c.fragStart) {
			c.fragStart = t.samples[0].ts
		}
	}
	if len(part.Tracks) == 0 {
		return nil
	}

	var buf seekablebuffer.Buffer
	if err := part.Marshal(&buf); err != nil {
		return fmt.Errorf("fmp4 part %d: %w", c.seq, err)
	}
	if _, err := c.w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("fmp4 part %d: %w", c.seq, err)
	}

	c.log.WithFields(logrus.Fields{"seq": c.seq, "tracks": len(part.Tracks)}).Debug("fragment written")
	c.seq++
	return nil
}

func (c *Container) Stop() error {
	if !c.started {
		return ErrNotStarted
	}
	return c.flush(true)
}

// Fragments returns the number of parts written so far.
func (c *Container) Fragments() int {
	if c.seq == 0 {
		return 0
	}
	return int(c.seq - 1)
}
