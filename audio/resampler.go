// SPDX-License-Identifier: EPL-2.0

package audio

import (
	"fmt"
	"io"

	"github.com/ik5/mediapipe/utils"
)

// Resampler converts a Source to another sample rate with Catmull-Rom
// interpolation over a four frame window. Downsampling runs a one-pole
// low-pass over the input first.
type Resampler struct {
	src      Source
	rate     int
	channels int
	step     float64 // source frames per output frame

	// win holds frames y0..y3; output is interpolated between win[1] and
	// win[2] at pos.
	win  [4][]float32
	real [4]bool
	pos  float64

	block   []float32
	blockN  int
	blockAt int
	srcEOF  bool
	primed  bool

	lowpass bool
	alpha   float32
	state   []float32
}

func NewResampler(src Source, dstRate int) *Resampler {
	ch := src.Channels()
	r := &Resampler{
		src:      src,
		rate:     dstRate,
		channels: ch,
		step:     float64(src.SampleRate()) / float64(dstRate),
		state:    make([]float32, ch),
	}

	size := src.BufSize()
	if size < ch {
		size = 4096
	}
	r.block = make([]float32, size-size%ch)

	if r.step > 1 {
		r.lowpass = true
		r.alpha = 0.5
	}
	for i := range r.win {
		r.win[i] = make([]float32, ch)
	}

	return r
}

func (r *Resampler) SampleRate() int { return r.rate }
func (r *Resampler) Channels() int   { return r.channels }
func (r *Resampler) BufSize() int    { return r.src.BufSize() }

func (r *Resampler) Close() error {
	if err := r.src.Close(); err != nil {
		return fmt.Errorf("resampler: %w", err)
	}
	return nil
}

// nextFrame copies the next source frame into dst. ok is false once the
// source is exhausted.
func (r *Resampler) nextFrame(dst []float32) (bool, error) {
	for r.blockAt >= r.blockN {
		if r.srcEOF {
			return false, nil
		}

		n, err := r.src.ReadSamples(r.block)
		r.blockN = n - n%r.channels
		r.blockAt = 0
		if err == io.EOF {
			r.srcEOF = true
		} else if err != nil {
			return false, fmt.Errorf("resampler: %w", err)
		}
	}

	copy(dst, r.block[r.blockAt:r.blockAt+r.channels])
	r.blockAt += r.channels

	if r.lowpass {
		if !r.primed {
			copy(r.state, dst)
		}
		for c := range dst {
			dst[c] = r.alpha*dst[c] + (1-r.alpha)*r.state[c]
			r.state[c] = dst[c]
		}
	}

	return true, nil
}

// shift drops win[0] and pulls a new frame into win[3]. Past the end of the
// source the last frame is repeated and flagged as padding.
func (r *Resampler) shift() error {
	first := r.win[0]
	copy(r.win[:], r.win[1:])
	copy(r.real[:], r.real[1:])
	r.win[3] = first

	ok, err := r.nextFrame(r.win[3])
	if err != nil {
		return err
	}
	if !ok {
		copy(r.win[3], r.win[2])
	}
	r.real[3] = ok
	return nil
}

func (r *Resampler) prime() error {
	ok, err := r.nextFrame(r.win[1])
	if err != nil {
		return err
	}
	r.primed = true
	if !ok {
		return io.EOF
	}
	copy(r.win[0], r.win[1])
	r.real[1] = true

	for i := 2; i < 4; i++ {
		ok, err := r.nextFrame(r.win[i])
		if err != nil {
			return err
		}
		if !ok {
			copy(r.win[i], r.win[i-1])
		}
		r.real[i] = ok
	}
	return nil
}

func (r *Resampler) ReadSamples(dst []float32) (int, error) {
	if len(dst)%r.channels != 0 {
		return 0, ErrInvalidDstSize
	}

	if !r.primed {
		if err := r.prime(); err != nil {
			return 0, err
		}
	}

	frames := len(dst) / r.channels
	written := 0
	for written < frames {
		for r.pos >= 1 {
			r.pos--
			if err := r.shift(); err != nil {
				return written * r.channels, err
			}
		}

		// Output stops at the last real source frame.
		if !r.real[1] {
			return written * r.channels, io.EOF
		}

		x := float32(r.pos)
		out := dst[written*r.channels:]
		for c := range r.channels {
			out[c] = utils.Window{r.win[0][c], r.win[1][c], r.win[2][c], r.win[3][c]}.CatmullRom(x)
		}

		written++
		r.pos += r.step
	}

	return written * r.channels, nil
}
