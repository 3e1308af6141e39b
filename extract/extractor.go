// SPDX-License-Identifier: EPL-2.0

// Package extract reads compressed samples out of media files and feeds
// them into a pipeline.
package extract

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/ik5/mediapipe/flow"
	"github.com/ik5/mediapipe/media"
)

type Option func(*Extractor)

// WithBufferSize caps the size of a single sample read.
func WithBufferSize(n int) Option {
	return func(e *Extractor) {
		if n > 0 {
			e.bufSize = n
		}
	}
}

func WithLogger(l *logrus.Entry) Option {
	return func(e *Extractor) {
		if l != nil {
			e.log = l
		}
	}
}

// Extractor emits one track of a Demuxer: its format first, then every
// sample, then an empty end of stream buffer.
type Extractor struct {
	demuxer  Demuxer
	selector TrackSelector
	bufSize  int
	log      *logrus.Entry

	track  int
	format media.Format
}

func NewExtractor(d Demuxer, selector TrackSelector, opts ...Option) *Extractor {
	e := &Extractor{
		demuxer:  d,
		selector: selector,
		bufSize:  DefaultChunkSize,
		track:    -1,
		log:      logrus.WithField("component", "extract"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Select runs the track selector. Call it before starting downstream
// stages so a missing track fails the pipeline up front. Run calls it when
// it was not called yet.
func (e *Extractor) Select() (media.Format, error) {
	if e.format != nil {
		return e.format, nil
	}

	i, err := e.selector.SelectTrack(e.demuxer)
	if err != nil {
		return nil, err
	}
	if err := e.demuxer.SelectTrack(i); err != nil {
		return nil, fmt.Errorf("extract: select track %d: %w", i, err)
	}
	f, err := e.demuxer.TrackFormat(i)
	if err != nil {
		return nil, fmt.Errorf("extract: track %d format: %w", i, err)
	}

	e.track, e.format = i, f
	e.log.WithFields(logrus.Fields{"track": i, "format": f}).Info("track selected")
	return f, nil
}

// Run sends the selected track into out, waiting for credit before every
// read. out is closed when the track ends, or closed with the error when
// reading fails. A downstream cancel ends Run without error.
func (e *Extractor) Run(ctx context.Context, out *flow.Channel[media.Event]) error {
	err := e.run(ctx, out)
	switch {
	case err == nil:
		out.Close()
		return nil
	case errors.Is(err, flow.ErrCancelled):
		e.log.Debug("downstream cancelled")
		return nil
	default:
		out.CloseWithError(err)
		return err
	}
}

func (e *Extractor) run(ctx context.Context, out *flow.Channel[media.Event]) error {
	format, err := e.Select()
	if err != nil {
		return err
	}
	if err := out.Send(ctx, media.FormatEvent(format.Clone())); err != nil {
		return err
	}

	buf := make([]byte, e.bufSize)
	var last int64
	var samples int
	for {
		if err := out.WaitCredit(ctx); err != nil {
			return err
		}

		n, ts, flags, err := e.demuxer.ReadSample(buf)
		if errors.Is(err, io.EOF) {
			e.log.WithField("samples", samples).Debug("track exhausted")
			return out.Send(ctx, media.DataEvent(nil, last, media.FlagEndOfStream))
		}
		if err != nil {
			return fmt.Errorf("extract: track %d: %w", e.track, err)
		}

		if err := out.Send(ctx, media.DataEvent(media.CopyBytes(buf[:n]), ts, flags)); err != nil {
			return err
		}
		last = ts
		samples++
	}
}
