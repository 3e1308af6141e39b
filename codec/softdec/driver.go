// SPDX-License-Identifier: EPL-2.0

// Package softdec is a software audio decoder behind the codec.Driver slot
// protocol.
//
// Compressed bytes submitted to input slots are streamed through a pipe into
// a decoder looked up by mime type in an audio.Registry. Decoded audio is
// optionally resampled and downmixed, converted to 16-bit little-endian PCM
// and handed out in output slots stamped from the decoded byte count.
package softdec

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ik5/mediapipe/audio"
	"github.com/ik5/mediapipe/codec"
	"github.com/ik5/mediapipe/internal/chans"
	"github.com/ik5/mediapipe/media"
)

var (
	ErrNotStarted = errors.New("decoder not started")
	ErrReleased   = errors.New("decoder released")
	ErrBadSlot    = errors.New("decoder: slot not owned by caller")
)

const (
	DefaultSlots     = 4
	DefaultSlotSize  = 16384
	DefaultChunkSize = 8192
)

type Option func(*Driver)

// WithTargetRate resamples decoded audio to rate.
func WithTargetRate(rate int) Option {
	return func(d *Driver) { d.targetRate = rate }
}

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

// WithChunkSize sets the size of decoded output buffers in bytes.
func WithChunkSize(n int) Option {
	return func(d *Driver) {
		if n > 1 {
			d.chunk = n - n%2
		}
	}
}

func WithLogger(l *logrus.Entry) Option {
	return func(d *Driver) {
		if l != nil {
			d.log = l
		}
	}
}

type submission struct {
	slot  codec.Slot
	n     int
	flags media.Flags
}

type decoded struct {
	data  []byte
	ts    int64
	flags media.Flags
}

// Driver decodes one compressed stream.
type Driver struct {
	registry   *audio.Registry
	mime       string
	targetRate int
	slots      int
	slotSize   int
	chunk      int
	log        *logrus.Entry

	inMem  [][]byte
	freeIn chan codec.Slot
	writeq chan submission
	outq   chan decoded
	pr     *io.PipeReader
	pw     *io.PipeWriter
	quit   chan struct{}
	wg     sync.WaitGroup

	mu            sync.Mutex
	started       bool
	stopped       bool
	released      bool
	ownedIn       map[codec.Slot]bool
	ownedOut      map[codec.Slot][]byte
	nextOut       codec.Slot
	format        media.Format
	formatPending bool
	err           error
}

// New creates a decoder for mime. The decoder is looked up at Start.
func New(registry *audio.Registry, mime string, opts ...Option) *Driver {
	d := &Driver{
		registry: registry,
		mime:     mime,
		slots:    DefaultSlots,
		slotSize: DefaultSlotSize,
		chunk:    DefaultChunkSize,
		ownedIn:  make(map[codec.Slot]bool),
		ownedOut: make(map[codec.Slot][]byte),
		quit:     make(chan struct{}),
	}
	d.log = logrus.WithFields(logrus.Fields{"component": "softdec", "mime": mime})

	for _, opt := range opts {
		opt(d)
	}

	d.inMem = make([][]byte, d.slots)
	d.freeIn = make(chan codec.Slot, d.slots)
	d.writeq = make(chan submission, d.slots)
	d.outq = make(chan decoded, d.slots)
	for i := range d.slots {
		d.inMem[i] = make([]byte, d.slotSize)
		d.freeIn <- codec.Slot(i)
	}

	return d
}

// Configurer builds a decoder from the first upstream format, for use with
// codec.WithConfigurer.
func Configurer(registry *audio.Registry, opts ...Option) codec.Configurer {
	return func(f media.Format) (codec.Driver, error) {
		mime := f.Mime()
		if _, ok := registry.Get(mime); !ok {
			return nil, fmt.Errorf("%w: %q", audio.ErrUnknownFormat, mime)
		}
		return New(registry, mime, opts...), nil
	}
}

func (d *Driver) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.released {
		return ErrReleased
	}
	if d.started {
		return nil
	}
	if _, ok := d.registry.Get(d.mime); !ok {
		return fmt.Errorf("%w: %q", audio.ErrUnknownFormat, d.mime)
	}

	d.pr, d.pw = io.Pipe()
	d.started = true
	d.wg.Add(2)
	go d.writeLoop()
	go d.decodeLoop()

	return nil
}

// Stop ends both goroutines and waits for them.
func (d *Driver) Stop() error {
	d.mu.Lock()
	if !d.started || d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	close(d.quit)
	d.mu.Unlock()

	d.pr.CloseWithError(io.ErrClosedPipe)
	d.pw.CloseWithError(io.ErrClosedPipe)
	d.wg.Wait()
	return nil
}

func (d *Driver) Release() error {
	if err := d.Stop(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.released = true
	clear(d.ownedOut)
	return nil
}

func (d *Driver) fail(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err == nil {
		d.err = err
	}
}

func (d *Driver) check() error {
	switch {
	case d.released:
		return ErrReleased
	case !d.started || d.stopped:
		return ErrNotStarted
	case d.err != nil:
		return d.err
	}
	return nil
}

func (d *Driver) writeLoop() {
	defer d.wg.Done()

	for {
		var s submission
		select {
		case <-d.quit:
			return
		case s = <-d.writeq:
		}

		if s.n > 0 {
			// A failed write means the decoder stopped reading; its error is
			// reported from the output side.
			_, _ = d.pw.Write(d.inMem[s.slot][:s.n])
		}
		d.freeIn <- s.slot

		if s.flags.Has(media.FlagEndOfStream) {
			_ = d.pw.Close()
			return
		}
	}
}

func (d *Driver) emit(out decoded) bool {
	select {
	case d.outq <- out:
		return true
	case <-d.quit:
		return false
	}
}

func (d *Driver) decodeLoop() {
	defer d.wg.Done()

	src, err := d.registry.Decode(d.mime, d.pr)
	if err != nil {
		d.fail(err)
		d.pr.CloseWithError(err)
		return
	}
	defer src.Close()

	if d.targetRate > 0 && d.targetRate != src.SampleRate() {
		src = audio.NewResampler(src, d.targetRate)
	}

	clock := media.Clock{SampleRate: src.SampleRate(), Channels: src.Channels(), BytesPerSample: 2}
	if err := clock.Validate(); err != nil {
		d.fail(err)
		d.pr.CloseWithError(err)
		return
	}

	d.mu.Lock()
	d.format = media.Format{
		media.KeyMime:         media.MimeRaw,
		media.KeySampleRate:   clock.SampleRate,
		media.KeyChannelCount: clock.Channels,
		media.KeyPCMEncoding:  "s16le",
	}
	d.formatPending = true
	d.mu.Unlock()
	d.log.WithFields(logrus.Fields{"rate": clock.SampleRate, "channels": clock.Channels}).Debug("decoder opened")

	pcm := audio.NewPCMReader(src)
	chunk := d.chunk - d.chunk%int(clock.FrameBytes())
	if chunk <= 0 {
		chunk = int(clock.FrameBytes())
	}

	var produced int64
	for {
		buf := make([]byte, chunk)
		n, err := io.ReadFull(pcm, buf)
		n -= n % int(clock.FrameBytes())
		if n > 0 {
			if !d.emit(decoded{data: buf[:n], ts: clock.TimestampUs(produced)}) {
				return
			}
			produced += int64(n)
		}

		switch {
		case err == nil:
			continue
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			d.emit(decoded{ts: clock.TimestampUs(produced), flags: media.FlagEndOfStream})
			return
		default:
			select {
			case <-d.quit:
			default:
				d.fail(fmt.Errorf("decode %s: %w", d.mime, err))
				d.pr.CloseWithError(err)
			}
			return
		}
	}
}

func (d *Driver) TryAcquireInputSlot(timeout time.Duration) (codec.Slot, bool, error) {
	d.mu.Lock()
	err := d.check()
	d.mu.Unlock()
	if err != nil {
		return 0, false, err
	}

	slot, ok := chans.RecvTimeout(d.freeIn, timeout)
	if !ok {
		return 0, false, nil
	}

	d.mu.Lock()
	d.ownedIn[slot] = true
	d.mu.Unlock()
	return slot, true, nil
}

func (d *Driver) InputBuffer(slot codec.Slot) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.check(); err != nil {
		return nil, err
	}
	if !d.ownedIn[slot] {
		return nil, ErrBadSlot
	}
	return d.inMem[slot], nil
}

func (d *Driver) Submit(slot codec.Slot, n int, _ int64, flags media.Flags) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.check(); err != nil {
		return err
	}
	if !d.ownedIn[slot] {
		return ErrBadSlot
	}
	if n < 0 || n > d.slotSize {
		return fmt.Errorf("decoder: submit of %d bytes into %d byte slot", n, d.slotSize)
	}

	delete(d.ownedIn, slot)
	// writeq has one place per slot.
	d.writeq <- submission{slot: slot, n: n, flags: flags}
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
		d.mu.Lock()
		err := d.err
		d.mu.Unlock()
		return codec.Output{Status: codec.OutputNone}, err
	}

	d.mu.Lock()
	slot := d.nextOut
	d.nextOut++
	d.ownedOut[slot] = out.data
	d.mu.Unlock()

	return codec.Output{
		Status: codec.OutputBuffer,
		Slot:   slot,
		Info:   codec.BufferInfo{Size: len(out.data), TimestampUs: out.ts, Flags: out.flags},
	}, nil
}

func (d *Driver) OutputBuffer(slot codec.Slot) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	buf, ok := d.ownedOut[slot]
	if !ok {
		return nil, ErrBadSlot
	}
	return buf, nil
}

func (d *Driver) ReleaseOutput(slot codec.Slot, _ bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.ownedOut[slot]; !ok {
		return ErrBadSlot
	}
	delete(d.ownedOut, slot)
	return nil
}

func (d *Driver) OutputFormat() (media.Format, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.format == nil {
		return nil, errors.New("decoder: output format not known yet")
	}
	return d.format.Clone(), nil
}
