// SPDX-License-Identifier: EPL-2.0

package codec

import (
	"time"

	"github.com/ik5/mediapipe/media"
)

// Slot identifies one codec owned buffer.
type Slot int

// OutputStatus is the outcome of an output poll.
type OutputStatus int

const (
	// OutputNone means nothing was ready within the timeout.
	OutputNone OutputStatus = iota
	// OutputFormatChanged means OutputFormat has a new value.
	OutputFormatChanged
	// OutputBuffer means Output.Slot holds a buffer described by Output.Info.
	OutputBuffer
)

// BufferInfo describes the valid region of an output slot.
type BufferInfo struct {
	Size        int
	TimestampUs int64
	Flags       media.Flags
}

// Output is the result of TryAcquireOutputSlot.
type Output struct {
	Status OutputStatus
	Slot   Slot
	Info   BufferInfo
}

// Driver is the codec instance behind a Session. Implementations do not
// need to be safe for concurrent use; the session serializes every call.
type Driver interface {
	Start() error
	Stop() error
	Release() error

	// TryAcquireInputSlot waits up to timeout for a writable slot. ok is
	// false when none became available.
	TryAcquireInputSlot(timeout time.Duration) (slot Slot, ok bool, err error)
	// InputBuffer returns the writable memory of an acquired input slot.
	InputBuffer(slot Slot) ([]byte, error)
	// Submit hands the first n bytes of slot to the codec.
	Submit(slot Slot, n int, timestampUs int64, flags media.Flags) error

	TryAcquireOutputSlot(timeout time.Duration) (Output, error)
	// OutputBuffer returns the memory of an acquired output slot. It is only
	// valid until ReleaseOutput.
	OutputBuffer(slot Slot) ([]byte, error)
	ReleaseOutput(slot Slot, render bool) error
	OutputFormat() (media.Format, error)
}

// Frame is a decoded unit handed to a Renderer. Data is only valid for the
// duration of Present.
type Frame struct {
	Data        []byte
	TimestampUs int64
	Format      media.Format
}

// Renderer consumes decoded frames instead of emitting them downstream, as
// a video decoder rendering to a surface does.
type Renderer interface {
	Present(frame Frame) error
}

// Configurer builds a driver for the first format announced upstream.
type Configurer func(format media.Format) (Driver, error)
