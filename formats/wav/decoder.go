// SPDX-License-Identifier: EPL-2.0

package wav

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/ik5/mediapipe/audio"
	"github.com/ik5/mediapipe/utils"
)

// unknownSize marks a data chunk written by a streaming encoder that never
// patched the header.
const unknownSize = 0xFFFFFFFF

type source struct {
	r          io.Reader
	sampleRate int
	channels   int
	buf        []byte
}

func (s *source) SampleRate() int { return s.sampleRate }
func (s *source) Channels() int   { return s.channels }
func (s *source) Close() error    { return nil }
func (s *source) BufSize() int    { return cap(s.buf) / 2 }

func (s *source) ReadSamples(dst []float32) (int, error) {
	want := len(dst) - len(dst)%s.channels
	if want == 0 {
		return 0, nil
	}
	if cap(s.buf) < want*2 {
		s.buf = make([]byte, want*2)
	}
	buf := s.buf[:want*2]

	n, err := io.ReadFull(s.r, buf)
	samples := n / 2
	samples -= samples % s.channels
	utils.PCM16ToFloat32(dst[:samples], buf)

	switch {
	case err == nil:
		return samples, nil
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return samples, io.EOF
	default:
		return samples, fmt.Errorf("wav: %w", err)
	}
}

// Decoder reads RIFF/WAVE PCM16 streams. Chunks other than "fmt " and
// "data" are skipped, so the reader does not need to seek.
type Decoder struct{}

func (Decoder) Decode(r io.Reader) (audio.Source, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return nil, fmt.Errorf("wav header: %w", err)
	}
	if string(riff[:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return nil, ErrNotWavFile
	}

	var (
		haveFmt    bool
		channels   int
		sampleRate int
	)

	for {
		var hdr [8]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return nil, fmt.Errorf("%w: no data chunk: %w", ErrUnsupportedWavLayout, err)
		}
		id := string(hdr[:4])
		size := binary.LittleEndian.Uint32(hdr[4:])

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, fmt.Errorf("%w: fmt chunk of %d bytes", ErrUnsupportedWavLayout, size)
			}
			body := make([]byte, int(size)+int(size&1))
			if _, err := io.ReadFull(r, body); err != nil {
				return nil, fmt.Errorf("wav fmt chunk: %w", err)
			}

			format := binary.LittleEndian.Uint16(body[0:2])
			channels = int(binary.LittleEndian.Uint16(body[2:4]))
			sampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			bits := binary.LittleEndian.Uint16(body[14:16])
			// WAVE_FORMAT_EXTENSIBLE carries the real format in its GUID.
			if format == 0xFFFE && len(body) >= 26 {
				format = binary.LittleEndian.Uint16(body[24:26])
			}
			if format != 1 || bits != 16 {
				return nil, ErrOnlyPCM16bitSupported
			}
			if channels <= 0 || sampleRate <= 0 {
				return nil, fmt.Errorf("%w: %d channels at %d Hz", ErrUnsupportedWavLayout, channels, sampleRate)
			}
			haveFmt = true

		case "data":
			if !haveFmt {
				return nil, fmt.Errorf("%w: data before fmt", ErrUnsupportedWavLayout)
			}
			data := r
			if size != unknownSize {
				data = io.LimitReader(r, int64(size))
			}
			return &source{
				r:          data,
				sampleRate: sampleRate,
				channels:   channels,
				buf:        make([]byte, 8192),
			}, nil

		default:
			if _, err := io.CopyN(io.Discard, r, int64(size)+int64(size&1)); err != nil {
				return nil, fmt.Errorf("wav chunk %q: %w", id, err)
			}
		}
	}
}
