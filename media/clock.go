// SPDX-License-Identifier: EPL-2.0

package media

import "fmt"

// Clock maps a count of PCM bytes to a presentation timestamp.
type Clock struct {
	SampleRate     int
	Channels       int
	BytesPerSample int
}

// DefaultClock is 44.1kHz mono 16-bit PCM.
var DefaultClock = Clock{SampleRate: 44100, Channels: 1, BytesPerSample: 2}

// ClockFor builds a 16-bit clock from a format, falling back to the default
// clock for missing keys.
func ClockFor(f Format) Clock {
	return Clock{
		SampleRate:     f.IntOr(KeySampleRate, DefaultClock.SampleRate),
		Channels:       f.IntOr(KeyChannelCount, DefaultClock.Channels),
		BytesPerSample: 2,
	}
}

// Validate rejects clocks that would divide by zero.
func (c Clock) Validate() error {
	if c.SampleRate <= 0 || c.Channels <= 0 || c.BytesPerSample <= 0 {
		return fmt.Errorf("%w: invalid clock %+v", ErrConfiguration, c)
	}
	return nil
}

// FrameBytes is the size of one sample across all channels.
func (c Clock) FrameBytes() int64 {
	return int64(c.Channels * c.BytesPerSample)
}

// TimestampUs converts a byte count into microseconds. Partial frames are
// ignored.
func (c Clock) TimestampUs(bytes int64) int64 {
	frames := bytes / c.FrameBytes()
	return 1_000_000 * frames / int64(c.SampleRate)
}

// BytesFor returns the byte offset of the frame presented at us.
func (c Clock) BytesFor(us int64) int64 {
	frames := us * int64(c.SampleRate) / 1_000_000
	return frames * c.FrameBytes()
}

// BytesPerSecond is the data rate of the stream.
func (c Clock) BytesPerSecond() int64 {
	return int64(c.SampleRate) * c.FrameBytes()
}
