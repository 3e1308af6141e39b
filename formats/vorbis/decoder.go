// SPDX-License-Identifier: EPL-2.0

package vorbis

import (
	"fmt"
	"io"

	"github.com/jfreymuth/oggvorbis"

	"github.com/ik5/mediapipe/audio"
)

// floatReader is the part of oggvorbis.Reader the source uses. Read returns
// a count of interleaved values, always a multiple of Channels.
type floatReader interface {
	SampleRate() int
	Channels() int
	Read([]float32) (int, error)
}

type source struct {
	dec        floatReader
	sampleRate int
	channels   int
}

func (s *source) SampleRate() int { return s.sampleRate }
func (s *source) Channels() int   { return s.channels }
func (s *source) Close() error    { return nil }
func (s *source) BufSize() int    { return 4096 }

// ReadSamples fills dst until it holds whole frames only or the stream
// ends. The decoder hands out at most one packet per Read, so several calls
// may be needed.
func (s *source) ReadSamples(dst []float32) (int, error) {
	want := len(dst) - len(dst)%s.channels
	total := 0
	for total < want {
		n, err := s.dec.Read(dst[total:want])
		total += n
		if err == io.EOF {
			return total, io.EOF
		}
		if err != nil {
			return total, fmt.Errorf("vorbis: %w", err)
		}
		if n == 0 {
			break
		}
	}
	return total, nil
}

type Decoder struct{}

func (Decoder) Decode(r io.Reader) (audio.Source, error) {
	dec, err := oggvorbis.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("vorbis header: %w", err)
	}
	if dec.Channels() <= 0 {
		return nil, fmt.Errorf("vorbis header: %d channels", dec.Channels())
	}

	return &source{
		dec:        dec,
		sampleRate: dec.SampleRate(),
		channels:   dec.Channels(),
	}, nil
}
