// SPDX-License-Identifier: EPL-2.0

package audio

import (
	"errors"
	"fmt"
	"io"

	"github.com/ik5/mediapipe/utils"
)

// PCMReader exposes a Source as interleaved signed 16-bit little-endian
// bytes.
type PCMReader struct {
	src  Source
	buf  []float32
	tail []byte // bytes converted but not yet read
	eof  bool
}

func NewPCMReader(src Source) *PCMReader {
	return &PCMReader{src: src}
}

func (p *PCMReader) Read(dst []byte) (int, error) {
	if len(p.tail) > 0 {
		n := copy(dst, p.tail)
		p.tail = p.tail[n:]
		return n, nil
	}
	if p.eof {
		return 0, io.EOF
	}

	ch := p.src.Channels()
	want := len(dst) / 2
	want -= want % ch
	if want == 0 {
		want = ch
	}
	if cap(p.buf) < want {
		p.buf = make([]float32, want)
	}

	n, err := p.src.ReadSamples(p.buf[:want])
	if errors.Is(err, io.EOF) {
		p.eof = true
	} else if err != nil {
		return 0, fmt.Errorf("pcm reader: %w", err)
	}

	out := make([]byte, 2*n)
	utils.Float32ToPCM16(out, p.buf[:n])

	c := copy(dst, out)
	p.tail = out[c:]
	if c == 0 && p.eof {
		return 0, io.EOF
	}
	return c, nil
}

// ReadAll16 drains src as int16 samples, resampled to targetRate when it
// differs from the source rate.
func ReadAll16(src Source, targetRate, bufferSize int) ([]int16, error) {
	if targetRate > 0 && targetRate != src.SampleRate() {
		src = NewResampler(src, targetRate)
	}

	if bufferSize < src.Channels() {
		bufferSize = 4096
	}

	var pcm []int16
	buf := make([]float32, bufferSize-bufferSize%src.Channels())
	for {
		n, err := src.ReadSamples(buf)
		for _, v := range buf[:n] {
			pcm = append(pcm, utils.Float32ToInt16(v))
		}
		if errors.Is(err, io.EOF) {
			return pcm, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read samples: %w", err)
		}
	}
}
