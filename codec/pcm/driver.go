// SPDX-License-Identifier: EPL-2.0

// Package pcm is a software codec that passes raw PCM through unchanged.
//
// It implements the full slot protocol of codec.Driver with a fixed pool of
// slots, which makes it the raw PCM "encoder" of a pipeline and a faithful
// stand-in for a hardware codec in tests:
//
//	d := pcm.New(media.Format{media.KeySampleRate: 44100, media.KeyChannelCount: 1},
//	    pcm.WithSlots(4), pcm.WithSlotSize(22050))
//	s := codec.NewSession("encoder", media.DefaultClock)
//	err := s.Attach(d)
package pcm

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ik5/mediapipe/codec"
	"github.com/ik5/mediapipe/internal/chans"
	"github.com/ik5/mediapipe/media"
)

var (
	ErrNotStarted = errors.New("pcm driver not started")
	ErrReleased   = errors.New("pcm driver released")
	ErrBadSlot    = errors.New("pcm driver: slot not owned by caller")
)

const (
	DefaultSlots    = 4
	DefaultSlotSize = 8192
)

type Option func(*Driver)

func WithSlots(n int) Option {
	return func(d *Driver) {
		if n > 0 {
			d.slots = n
		}
	}
}

func WithSlotSize(n int) Option {
	return func(d *Driver) {
		if n > 0 {
			d.slotSize = n
		}
	}
}

type output struct {
	slot codec.Slot
	info codec.BufferInfo
}

// Driver moves submitted input slots to the output queue. Input and output
// share slot memory; a slot returns to the free pool when its output is
// released.
type Driver struct {
	slots    int
	slotSize int
	format   media.Format

	mem  [][]byte
	free chan codec.Slot
	outq chan output

	mu            sync.Mutex
	started       bool
	released      bool
	formatPending bool
	owned         map[codec.Slot]bool

	starts, stops, releases int
}

// New creates a driver whose output format is format, with audio/raw as the
// default mime type.
func New(format media.Format, opts ...Option) *Driver {
	d := &Driver{
		slots:    DefaultSlots,
		slotSize: DefaultSlotSize,
		format:   format.Clone(),
		owned:    make(map[codec.Slot]bool),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.format.Mime() == "" {
		d.format[media.KeyMime] = media.MimeRaw
	}

	d.mem = make([][]byte, d.slots)
	d.free = make(chan codec.Slot, d.slots)
	d.outq = make(chan output, d.slots)
	for i := range d.slots {
		d.mem[i] = make([]byte, d.slotSize)
		d.free <- codec.Slot(i)
	}

	return d
}

func (d *Driver) check() error {
	if d.released {
		return ErrReleased
	}
	if !d.started {
		return ErrNotStarted
	}
	return nil
}

func (d *Driver) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.released {
		return ErrReleased
	}
	d.started = true
	d.formatPending = true
	d.starts++
	return nil
}

func (d *Driver) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.started = false
	d.stops++
	return nil
}

func (d *Driver) Release() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.released = true
	d.releases++
	return nil
}

// Counts reports how many times Start, Stop and Release were called.
func (d *Driver) Counts() (starts, stops, releases int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.starts, d.stops, d.releases
}

func (d *Driver) TryAcquireInputSlot(timeout time.Duration) (codec.Slot, bool, error) {
	d.mu.Lock()
	err := d.check()
	d.mu.Unlock()
	if err != nil {
		return 0, false, err
	}

	slot, ok := chans.RecvTimeout(d.free, timeout)
	if !ok {
		return 0, false, nil
	}

	d.mu.Lock()
	d.owned[slot] = true
	d.mu.Unlock()
	return slot, true, nil
}

func (d *Driver) InputBuffer(slot codec.Slot) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.check(); err != nil {
		return nil, err
	}
	if !d.owned[slot] {
		return nil, ErrBadSlot
	}
	return d.mem[slot], nil
}

func (d *Driver) Submit(slot codec.Slot, n int, timestampUs int64, flags media.Flags) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.check(); err != nil {
		return err
	}
	if !d.owned[slot] {
		return ErrBadSlot
	}
	if n < 0 || n > d.slotSize {
		return fmt.Errorf("pcm driver: submit of %d bytes into %d byte slot", n, d.slotSize)
	}

	delete(d.owned, slot)
	// outq has one place per slot, so this never blocks.
	d.outq <- output{slot: slot, info: codec.BufferInfo{Size: n, TimestampUs: timestampUs, Flags: flags}}
	return nil
}

func (d *Driver) TryAcquireOutputSlot(timeout time.Duration) (codec.Output, error) {
	d.mu.Lock()
	if err := d.check(); err != nil {
		d.mu.Unlock()
		return codec.Output{}, err
	}
	if d.formatPending {
		d.formatPending = false
		d.mu.Unlock()
		return codec.Output{Status: codec.OutputFormatChanged}, nil
	}
	d.mu.Unlock()

	out, ok := chans.RecvTimeout(d.outq, timeout)
	if !ok {
		return codec.Output{Status: codec.OutputNone}, nil
	}

	d.mu.Lock()
	d.owned[out.slot] = true
	d.mu.Unlock()

	return codec.Output{Status: codec.OutputBuffer, Slot: out.slot, Info: out.info}, nil
}

func (d *Driver) OutputBuffer(slot codec.Slot) ([]byte, error) {
	return d.InputBuffer(slot)
}

func (d *Driver) ReleaseOutput(slot codec.Slot, _ bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.check(); err != nil {
		return err
	}
	if !d.owned[slot] {
		return ErrBadSlot
	}
	delete(d.owned, slot)
	// Scribble over released memory so a retained alias shows up in tests.
	clear(d.mem[slot])
	d.free <- slot
	return nil
}

func (d *Driver) OutputFormat() (media.Format, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.check(); err != nil {
		return nil, err
	}
	return d.format.Clone(), nil
}
