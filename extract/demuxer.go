// SPDX-License-Identifier: EPL-2.0

package extract

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"

	"github.com/ik5/mediapipe/media"
)

var (
	ErrNoTrackSelected = errors.New("extract: no track selected")
	ErrBadTrack        = errors.New("extract: track index out of range")
)

// Demuxer exposes the tracks of a media file.
type Demuxer interface {
	TrackCount() int
	TrackFormat(i int) (media.Format, error)
	SelectTrack(i int) error
	// ReadSample copies the next sample of the selected track into buf and
	// advances. It returns io.EOF once the track is exhausted.
	ReadSample(buf []byte) (n int, timestampUs int64, flags media.Flags, err error)
}

const (
	// DefaultChunkSize is the size of the pieces a FileDemuxer reads.
	DefaultChunkSize = 64 * 1024

	sniffLen = 3072
)

// sniffed lists detected types and the mime the decoders are registered
// under. mimetype also matches the aliases of each entry.
var sniffed = []struct {
	detected string
	mime     string
}{
	{"audio/wav", media.MimeWAV},
	{"audio/mpeg", media.MimeMPEG},
	{"audio/ogg", media.MimeVorbis},
	{"application/ogg", media.MimeVorbis},
	{"audio/aiff", media.MimeAIFF},
}

// Sniff returns the media mime type of a file head, or the raw detection
// result with ok=false when it is not a supported audio container.
func Sniff(head []byte) (mime string, ok bool) {
	m := mimetype.Detect(head)
	for _, s := range sniffed {
		if m.Is(s.detected) {
			return s.mime, true
		}
	}
	return m.String(), false
}

type FileOption func(*FileDemuxer)

// WithMime skips sniffing and announces mime.
func WithMime(mime string) FileOption {
	return func(d *FileDemuxer) { d.mime = mime }
}

func WithChunkSize(n int) FileOption {
	return func(d *FileDemuxer) {
		if n > 0 {
			d.chunk = n
		}
	}
}

// FileDemuxer presents a whole compressed file as a single track. Samples
// are fixed size pieces of the byte stream; they carry no timing, the
// decoder stamps its output.
type FileDemuxer struct {
	r        *bufio.Reader
	closer   io.Closer
	mime     string
	name     string
	chunk    int
	selected bool
}

// NewFileDemuxer sniffs the type of r from its first bytes without
// consuming them.
func NewFileDemuxer(r io.Reader, opts ...FileOption) (*FileDemuxer, error) {
	d := &FileDemuxer{
		r:     bufio.NewReaderSize(r, sniffLen),
		chunk: DefaultChunkSize,
		name:  "track0",
	}
	for _, opt := range opts {
		opt(d)
	}

	if d.mime == "" {
		head, err := d.r.Peek(sniffLen)
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("extract: sniff: %w", err)
		}
		mime, ok := Sniff(head)
		if !ok {
			return nil, fmt.Errorf("%w: unsupported content %q", media.ErrTrackSelection, mime)
		}
		d.mime = mime
	}

	return d, nil
}

// OpenFile opens path and wraps it in a FileDemuxer. Close releases the
// file.
func OpenFile(path string, opts ...FileOption) (*FileDemuxer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}

	d, err := NewFileDemuxer(f, opts...)
	if err != nil {
		f.Close()
		return nil, err
	}
	d.closer = f
	d.name = filepath.Base(path)
	return d, nil
}

func (d *FileDemuxer) Close() error {
	if d.closer == nil {
		return nil
	}
	return d.closer.Close()
}

func (d *FileDemuxer) Mime() string { return d.mime }

func (d *FileDemuxer) TrackCount() int { return 1 }

func (d *FileDemuxer) TrackFormat(i int) (media.Format, error) {
	if i != 0 {
		return nil, fmt.Errorf("%w: %d", ErrBadTrack, i)
	}
	return media.Format{
		media.KeyMime:      d.mime,
		media.KeyTrackName: d.name,
	}, nil
}

func (d *FileDemuxer) SelectTrack(i int) error {
	if i != 0 {
		return fmt.Errorf("%w: %d", ErrBadTrack, i)
	}
	d.selected = true
	return nil
}

func (d *FileDemuxer) ReadSample(buf []byte) (int, int64, media.Flags, error) {
	if !d.selected {
		return 0, 0, 0, ErrNoTrackSelected
	}

	n, err := io.ReadFull(d.r, buf[:min(len(buf), d.chunk)])
	switch {
	case n > 0:
		return n, 0, 0, nil
	case err == nil, errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return 0, 0, 0, io.EOF
	default:
		return 0, 0, 0, fmt.Errorf("extract: read: %w", err)
	}
}
