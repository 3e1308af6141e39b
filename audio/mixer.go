// SPDX-License-Identifier: EPL-2.0

package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ik5/mediapipe/flow"
	"github.com/ik5/mediapipe/internal/metrics"
	"github.com/ik5/mediapipe/media"
)

const (
	DefaultMixerPoll      = 200 * time.Millisecond
	DefaultMixerMaxQueued = 4
)

type MixerOption func(*Mixer)

// WithMixerPoll bounds how long Run waits for a channel to become ready
// when no arrival wakes it.
func WithMixerPoll(d time.Duration) MixerOption {
	return func(m *Mixer) {
		if d > 0 {
			m.poll = d
		}
	}
}

// WithMaxQueued limits how many buffers Consume keeps queued per channel
// before it stops granting upstream credit.
func WithMaxQueued(n int) MixerOption {
	return func(m *Mixer) {
		if n > 0 {
			m.maxQueued = n
		}
	}
}

// WithSilenceFill lets the mixer emit silence when every live channel
// starts later than the current mix position. Without it the mixer waits,
// which never ends once the earlier channels are exhausted.
func WithSilenceFill() MixerOption {
	return func(m *Mixer) { m.fillGaps = true }
}

func WithMixerLogger(l *logrus.Entry) MixerOption {
	return func(m *Mixer) {
		if l != nil {
			m.log = l
		}
	}
}

func WithMixerMetrics(s *metrics.Set) MixerOption {
	return func(m *Mixer) { m.metrics = s }
}

// Mixer sums K PCM16 channels into one stream.
//
// Channels are summed sample by sample in 16-bit arithmetic that wraps on
// overflow instead of saturating. Loud inputs therefore wrap around; callers
// that need headroom must attenuate before mixing.
type Mixer struct {
	clock     media.Clock
	poll      time.Duration
	maxQueued int
	fillGaps  bool
	log       *logrus.Entry
	metrics   *metrics.Set

	mu     sync.Mutex
	wake   chan struct{}
	inputs []*MixerInput
	mixed  int64
	failed error
	closed bool
	warned bool
}

func NewMixer(clock media.Clock, opts ...MixerOption) (*Mixer, error) {
	if err := clock.Validate(); err != nil {
		return nil, err
	}

	m := &Mixer{
		clock:     clock,
		poll:      DefaultMixerPoll,
		maxQueued: DefaultMixerMaxQueued,
		log:       logrus.WithField("component", "mixer"),
		wake:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// MixerInput is one channel of a Mixer.
type MixerInput struct {
	m        *Mixer
	name     string
	offsetUs int64

	// guarded by m.mu
	queue     [][]byte
	cursor    int
	consumed  int64
	completed bool
	src       *flow.Channel[media.Event]
}

// AddChannel registers a channel that joins the mix at startOffsetUs.
func (m *Mixer) AddChannel(name string, startOffsetUs int64) *MixerInput {
	m.mu.Lock()
	defer m.mu.Unlock()

	in := &MixerInput{m: m, name: name, offsetUs: startOffsetUs}
	m.inputs = append(m.inputs, in)
	m.metrics.MixerChannels(len(m.inputs))
	m.log.WithFields(logrus.Fields{"channel": name, "offset_us": startOffsetUs}).Debug("mixer channel added")
	return in
}

func (m *Mixer) notifyLocked() {
	close(m.wake)
	m.wake = make(chan struct{})
}

func (m *Mixer) sleep(ctx context.Context, wake <-chan struct{}) error {
	t := time.NewTimer(m.poll)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-wake:
	case <-t.C:
	}
	return nil
}

func (in *MixerInput) Name() string { return in.name }

// Consumed is the number of bytes of this channel already mixed.
func (in *MixerInput) Consumed() int64 {
	in.m.mu.Lock()
	defer in.m.mu.Unlock()
	return in.consumed
}

// Feed queues a copy of buf.
func (in *MixerInput) Feed(buf []byte) error {
	m := in.m
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	if in.completed {
		return fmt.Errorf("mixer channel %s: feed after completion", in.name)
	}
	if len(buf) == 0 {
		return nil
	}
	in.queue = append(in.queue, media.CopyBytes(buf))
	m.notifyLocked()
	return nil
}

// Complete marks the end of the channel. Queued buffers are still mixed.
func (in *MixerInput) Complete() {
	m := in.m
	m.mu.Lock()
	defer m.mu.Unlock()

	if in.completed {
		return
	}
	in.completed = true
	m.notifyLocked()
}

func (in *MixerInput) fail(err error) {
	m := in.m
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failed == nil && !m.closed {
		m.failed = fmt.Errorf("%w: %s: %w", ErrInputFailed, in.name, err)
	}
	in.completed = true
	m.notifyLocked()
}

func (in *MixerInput) exhaustedLocked() bool {
	return in.completed && len(in.queue) == 0
}

// Consume feeds the channel from src, granting one credit at a time and
// holding credit back while the channel already has enough queued.
func (in *MixerInput) Consume(ctx context.Context, src *flow.Channel[media.Event]) error {
	m := in.m
	m.mu.Lock()
	in.src = src
	m.mu.Unlock()

	for {
		m.mu.Lock()
		full := len(in.queue) >= m.maxQueued && !in.completed
		done := in.completed
		wake := m.wake
		m.mu.Unlock()

		if done {
			src.Cancel()
			return nil
		}
		if full {
			if err := m.sleep(ctx, wake); err != nil {
				src.Cancel()
				in.fail(err)
				return err
			}
			continue
		}

		ev, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			in.Complete()
			return nil
		}
		if errors.Is(err, flow.ErrCancelled) {
			in.Complete()
			return nil
		}
		if err != nil {
			src.Cancel()
			in.fail(err)
			return err
		}

		if ev.IsFormat() {
			if rate := ev.Format.SampleRate(); rate != 0 && rate != m.clock.SampleRate {
				m.log.WithFields(logrus.Fields{"channel": in.name, "rate": rate}).
					Warn("mixer channel sample rate differs from mix clock")
			}
			continue
		}

		if err := in.Feed(ev.Buffer); err != nil {
			src.Cancel()
			return err
		}
		if ev.EndOfStream() {
			src.Cancel()
			in.Complete()
			return nil
		}
	}
}

// Format is the format event Run emits first.
func (m *Mixer) Format() media.Format {
	return media.Format{
		media.KeyMime:         media.MimeRaw,
		media.KeySampleRate:   m.clock.SampleRate,
		media.KeyChannelCount: m.clock.Channels,
		media.KeyPCMEncoding:  "s16le",
	}
}

// Run merges every channel into out until all are exhausted.
func (m *Mixer) Run(ctx context.Context, out *flow.Channel[media.Event]) error {
	defer m.cancelInputs()

	if err := out.Send(ctx, media.FormatEvent(m.Format())); err != nil {
		return m.stopped(out, err)
	}

	for {
		if err := out.WaitCredit(ctx); err != nil {
			return m.stopped(out, err)
		}

		chunk, ts, done, wake, err := m.mixNext()
		if err != nil {
			out.CloseWithError(err)
			return err
		}
		if done {
			m.log.WithField("mixed_bytes", m.Mixed()).Info("mixer complete")
			out.Close()
			return nil
		}
		if chunk == nil {
			if wake == nil {
				continue
			}
			if err := m.sleep(ctx, wake); err != nil {
				return m.stopped(out, err)
			}
			continue
		}

		m.metrics.Mixed(len(chunk))
		if err := out.Send(ctx, media.DataEvent(chunk, ts, 0)); err != nil {
			return m.stopped(out, err)
		}
	}
}

// Mixed is the number of output bytes produced so far.
func (m *Mixer) Mixed() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mixed
}

func (m *Mixer) stopped(out *flow.Channel[media.Event], err error) error {
	if errors.Is(err, flow.ErrCancelled) {
		m.log.Debug("mixer output cancelled")
		return nil
	}
	out.CloseWithError(err)
	return err
}

func (m *Mixer) cancelInputs() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	for _, in := range m.inputs {
		if in.src != nil {
			in.src.Cancel()
		}
		in.completed = true
	}
	m.notifyLocked()
}

// mixNext produces the next chunk. A nil chunk without done means no
// channel is ready and the caller waits on wake, or retries at once when
// wake is nil.
func (m *Mixer) mixNext() (chunk []byte, ts int64, done bool, wake <-chan struct{}, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failed != nil {
		return nil, 0, false, nil, m.failed
	}

	now := m.clock.TimestampUs(m.mixed)
	frameBytes := int(m.clock.FrameBytes())

	var ready []*MixerInput
	live := 0
	nextStart := int64(-1)
	for _, in := range m.inputs {
		if in.exhaustedLocked() {
			continue
		}
		live++
		if now < in.offsetUs {
			if nextStart < 0 || in.offsetUs < nextStart {
				nextStart = in.offsetUs
			}
			continue
		}
		if len(in.queue) > 0 {
			ready = append(ready, in)
		}
	}

	if live == 0 {
		return nil, 0, true, nil, nil
	}

	if len(ready) == 0 {
		if m.fillGaps && nextStart >= 0 && m.allGatedLocked(now) {
			return m.silenceLocked(now, nextStart), now, false, nil, nil
		}
		if nextStart >= 0 && m.allGatedLocked(now) && !m.warned {
			m.warned = true
			m.log.WithField("next_start_us", nextStart).Warn("mixer waiting for a channel that starts after every other ended")
		}
		return nil, 0, false, m.wake, nil
	}

	n := -1
	for _, in := range ready {
		if rem := len(in.queue[0]) - in.cursor; n < 0 || rem < n {
			n = rem
		}
	}
	n -= n % frameBytes

	if n > 0 {
		chunk = make([]byte, n)
		samples := n / 2
		for _, in := range ready {
			head := in.queue[0][in.cursor:]
			for i := range samples {
				// int16 addition wraps.
				media.PutSample(chunk, i, media.SampleAt(chunk, i)+media.SampleAt(head, i))
			}
		}
	}

	for _, in := range ready {
		in.cursor += n
		in.consumed += int64(n)
		// A head with less than one frame left can never be mixed.
		if len(in.queue[0])-in.cursor < frameBytes {
			in.queue[0] = nil
			in.queue = in.queue[1:]
			in.cursor = 0
		}
	}
	m.notifyLocked()

	if n == 0 {
		return nil, 0, false, nil, nil
	}

	m.mixed += int64(n)
	return chunk, now, false, nil, nil
}

// allGatedLocked reports whether every live channel starts after now, so
// no arrival can make one ready.
func (m *Mixer) allGatedLocked(now int64) bool {
	for _, in := range m.inputs {
		if !in.exhaustedLocked() && now >= in.offsetUs {
			return false
		}
	}
	return true
}

// silenceFrames caps one silence chunk; longer gaps take several chunks.
const silenceFrames = 4096

func (m *Mixer) silenceLocked(now, until int64) []byte {
	n := m.clock.BytesFor(until) - m.mixed
	if n <= 0 {
		n = m.clock.FrameBytes()
	}
	n = min(n, silenceFrames*m.clock.FrameBytes())
	m.mixed += n
	return make([]byte, n)
}
