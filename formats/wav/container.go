// SPDX-License-Identifier: EPL-2.0

package wav

import (
	"encoding/binary"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	gowav "github.com/go-audio/wav"

	"github.com/ik5/mediapipe/media"
)

// Container writes a single PCM16 track into a WAV file. The header sizes
// are patched on Stop, which is why it needs an io.WriteSeeker.
type Container struct {
	ws      io.WriteSeeker
	format  media.Format
	hasFmt  bool
	enc     *gowav.Encoder
	buf     *goaudio.IntBuffer
	written int64
}

func NewContainer(ws io.WriteSeeker) *Container {
	return &Container{ws: ws}
}

func (c *Container) AddTrack(format media.Format) (int, error) {
	if c.hasFmt {
		return 0, ErrSingleTrack
	}
	if format.SampleRate() <= 0 || format.ChannelCount() <= 0 {
		return 0, fmt.Errorf("%w: wav track needs sample rate and channels, got %s",
			media.ErrConfiguration, format)
	}
	if m := format.Mime(); m != "" && m != media.MimeRaw {
		return 0, fmt.Errorf("%w: wav track carries raw PCM, got %s", media.ErrConfiguration, m)
	}

	c.format = format
	c.hasFmt = true
	return 0, nil
}

func (c *Container) Start() error {
	if !c.hasFmt {
		return fmt.Errorf("%w: wav container without track", media.ErrConfiguration)
	}

	rate, ch := c.format.SampleRate(), c.format.ChannelCount()
	c.enc = gowav.NewEncoder(c.ws, rate, 16, ch, 1)
	c.buf = &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: ch, SampleRate: rate},
		SourceBitDepth: 16,
	}
	return nil
}

func (c *Container) WriteSample(track int, data []byte, _ int64, _ media.Flags) error {
	if c.enc == nil {
		return ErrNotStarted
	}
	if track != 0 {
		return fmt.Errorf("wav: unknown track %d", track)
	}

	n := len(data) / 2
	if cap(c.buf.Data) < n {
		c.buf.Data = make([]int, n)
	}
	c.buf.Data = c.buf.Data[:n]
	for i := range n {
		c.buf.Data[i] = int(int16(binary.LittleEndian.Uint16(data[2*i:])))
	}

	if err := c.enc.Write(c.buf); err != nil {
		return fmt.Errorf("wav write: %w", err)
	}
	c.written += int64(n * 2)
	return nil
}

func (c *Container) Stop() error {
	if c.enc == nil {
		return ErrNotStarted
	}
	// An empty track still needs the RIFF and data headers.
	if c.written == 0 {
		c.buf.Data = c.buf.Data[:0]
		if err := c.enc.Write(c.buf); err != nil {
			return fmt.Errorf("wav header: %w", err)
		}
	}
	if err := c.enc.Close(); err != nil {
		return fmt.Errorf("wav close: %w", err)
	}
	return nil
}

// Written returns the number of PCM bytes accepted so far.
func (c *Container) Written() int64 { return c.written }
