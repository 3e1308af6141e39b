// SPDX-License-Identifier: EPL-2.0

// Package webm writes multi-track WebM/Matroska files with
// github.com/at-wat/ebml-go.
//
// Tracks are declared with AddTrack and frozen by Start, which emits the
// EBML header and the track list. Block timestamps are in milliseconds, the
// default Matroska timecode scale.
package webm

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/at-wat/ebml-go/mkvcore"
	"github.com/at-wat/ebml-go/webm"
	"github.com/sirupsen/logrus"

	"github.com/ik5/mediapipe/media"
)

var (
	ErrStarted    = errors.New("webm: tracks are fixed once started")
	ErrNotStarted = errors.New("webm: container not started")
	ErrUnknownID  = errors.New("webm: unknown track")
)

const (
	trackTypeVideo = 1
	trackTypeAudio = 2
)

var codecIDs = map[string]string{
	media.MimeOpus:   "A_OPUS",
	media.MimeVorbis: "A_VORBIS",
	media.MimeRaw:    "A_PCM/INT/LIT",
	media.MimeAAC:    "A_AAC",
	media.MimeAVC:    "V_MPEG4/ISO/AVC",
	media.MimeVP8:    "V_VP8",
	media.MimeVP9:    "V_VP9",
}

// CodecID returns the Matroska codec id for a mime type.
func CodecID(mime string) (string, bool) {
	id, ok := codecIDs[mime]
	return id, ok
}

// DefaultCloseTimeout bounds how long Stop waits for the final flush.
const DefaultCloseTimeout = 5 * time.Second

type Option func(*Container)

func WithCloseTimeout(d time.Duration) Option {
	return func(c *Container) {
		if d > 0 {
			c.closeTimeout = d
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

// Container implements mux.Container for WebM.
type Container struct {
	w            io.Writer
	log          *logrus.Entry
	closeTimeout time.Duration

	entries []webm.TrackEntry
	writers []webm.BlockWriteCloser

	mu    sync.Mutex
	fatal error

	// finished closes when ebml-go has flushed and closed the stream, or
	// gave up on it.
	finished chan struct{}
	finish   sync.Once
}

func NewContainer(w io.Writer, opts ...Option) *Container {
	c := &Container{
		w:            w,
		log:          logrus.WithField("component", "webm"),
		closeTimeout: DefaultCloseTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Container) AddTrack(format media.Format) (int, error) {
	if c.writers != nil {
		return 0, ErrStarted
	}

	mime := format.Mime()
	codecID, ok := CodecID(mime)
	if !ok {
		return 0, fmt.Errorf("%w: webm cannot carry %q", media.ErrConfiguration, mime)
	}

	n := uint64(len(c.entries) + 1)
	entry := webm.TrackEntry{
		TrackNumber: n,
		TrackUID:    n,
		CodecID:     codecID,
		Name:        format.GetString(media.KeyTrackName),
	}
	if entry.Name == "" {
		entry.Name = fmt.Sprintf("track%d", n)
	}

	if format.HasMimePrefix("video/") {
		w, h := format.IntOr(media.KeyWidth, 0), format.IntOr(media.KeyHeight, 0)
		if w <= 0 || h <= 0 {
			return 0, fmt.Errorf("%w: video track needs width and height", media.ErrConfiguration)
		}
		entry.TrackType = trackTypeVideo
		entry.Video = &webm.Video{PixelWidth: uint64(w), PixelHeight: uint64(h)}
	} else {
		rate, ch := format.SampleRate(), format.ChannelCount()
		if rate <= 0 || ch <= 0 {
			return 0, fmt.Errorf("%w: audio track needs sample rate and channels", media.ErrConfiguration)
		}
		entry.TrackType = trackTypeAudio
		entry.Audio = &webm.Audio{SamplingFrequency: float64(rate), Channels: uint64(ch)}
	}

	c.entries = append(c.entries, entry)
	return len(c.entries) - 1, nil
}

// writeCloser lets ebml-go close the stream without closing the caller's
// writer. Blocks are written from ebml-go's own goroutine, Close is its last
// call.
type writeCloser struct {
	io.Writer
	c *Container
}

func (w writeCloser) Close() error {
	w.c.done()
	return nil
}

func (c *Container) done() {
	c.finish.Do(func() { close(c.finished) })
}

func (c *Container) Start() error {
	if c.writers != nil {
		return ErrStarted
	}
	if len(c.entries) == 0 {
		return fmt.Errorf("%w: webm container without tracks", media.ErrConfiguration)
	}

	c.finished = make(chan struct{})
	writers, err := webm.NewSimpleBlockWriter(writeCloser{Writer: c.w, c: c}, c.entries,
		mkvcore.WithOnFatalHandler(func(err error) {
			c.log.WithError(err).Warn("webm writer failed")
			c.mu.Lock()
			if c.fatal == nil {
				c.fatal = err
			}
			c.mu.Unlock()
			c.done()
		}))
	if err != nil {
		return fmt.Errorf("webm header: %w", err)
	}

	c.writers = writers
	c.log.WithField("tracks", len(writers)).Debug("webm started")
	return nil
}

func (c *Container) failed() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fatal
}

func (c *Container) WriteSample(track int, data []byte, timestampUs int64, flags media.Flags) error {
	if c.writers == nil {
		return ErrNotStarted
	}
	if track < 0 || track >= len(c.writers) {
		return fmt.Errorf("%w: %d", ErrUnknownID, track)
	}
	if err := c.failed(); err != nil {
		return fmt.Errorf("webm: %w", err)
	}

	// Audio frames are all sync points.
	key := flags.Has(media.FlagKeyFrame) || c.entries[track].TrackType == trackTypeAudio
	if _, err := c.writers[track].Write(key, timestampUs/1000, data); err != nil {
		return fmt.Errorf("webm block: %w", err)
	}
	return nil
}

func (c *Container) Stop() error {
	if c.writers == nil {
		return ErrNotStarted
	}

	var errs []error
	for i, w := range c.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, fmt.Errorf("webm track %d: %w", i, err))
		}
	}
	select {
	case <-c.finished:
	case <-time.After(c.closeTimeout):
		errs = append(errs, fmt.Errorf("webm: stream not finalized after %s", c.closeTimeout))
	}

	if err := c.failed(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
