// SPDX-License-Identifier: EPL-2.0

package mediapipe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"

	"github.com/ik5/mediapipe/audio"
	"github.com/ik5/mediapipe/codec"
	"github.com/ik5/mediapipe/codec/pcm"
	"github.com/ik5/mediapipe/codec/softdec"
	"github.com/ik5/mediapipe/extract"
	"github.com/ik5/mediapipe/flow"
	"github.com/ik5/mediapipe/internal/metrics"
	"github.com/ik5/mediapipe/media"
	"github.com/ik5/mediapipe/mux"
)

// ErrNoFormat means a stage ended before announcing its format.
var ErrNoFormat = errors.New("stream ended before its format")

type Option func(*Pipeline)

func WithLogger(l *logrus.Entry) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.log = l
		}
	}
}

// WithRegisterer exports the pipeline counters on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(p *Pipeline) { p.reg = reg }
}

// WithRegistry replaces DefaultRegistry for decode stages.
func WithRegistry(r *audio.Registry) Option {
	return func(p *Pipeline) {
		if r != nil {
			p.registry = r
		}
	}
}

// WithPollInterval bounds how long a blocked channel operation waits before
// re-checking its state.
func WithPollInterval(d time.Duration) Option {
	return func(p *Pipeline) { p.poll = d }
}

// Pipeline runs a graph of stages, one goroutine each. The first stage
// failure cancels every other stage.
type Pipeline struct {
	id       string
	log      *logrus.Entry
	reg      prometheus.Registerer
	metrics  *metrics.Set
	registry *audio.Registry
	poll     time.Duration

	cancel context.CancelFunc
	pool   *pool.ContextPool
}

func NewPipeline(ctx context.Context, opts ...Option) (*Pipeline, error) {
	p := &Pipeline{
		id:  uuid.NewString(),
		log: logrus.WithField("component", "pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.WithField("run", p.id)
	if p.registry == nil {
		p.registry = DefaultRegistry()
	}

	if p.reg != nil {
		m, err := metrics.New(p.reg)
		if err != nil {
			return nil, fmt.Errorf("pipeline metrics: %w", err)
		}
		p.metrics = m
	}

	ctx, p.cancel = context.WithCancel(ctx)
	p.pool = pool.New().WithContext(ctx).WithCancelOnError().WithFirstError()

	return p, nil
}

// ID identifies the run in logs.
func (p *Pipeline) ID() string { return p.id }

// Channel creates an edge of the graph.
func (p *Pipeline) Channel(name string) *flow.Channel[media.Event] {
	opts := []flow.Option{flow.WithName(name)}
	if p.poll > 0 {
		opts = append(opts, flow.WithPollInterval(p.poll))
	}
	return flow.NewChannel[media.Event](opts...)
}

// Go starts a stage.
func (p *Pipeline) Go(name string, fn func(ctx context.Context) error) {
	p.pool.Go(func(ctx context.Context) error {
		log := p.log.WithField("stage", name)
		log.Debug("stage started")

		err := fn(ctx)
		switch {
		case err == nil:
			log.Debug("stage finished")
		case ctx.Err() != nil && errors.Is(err, ctx.Err()):
			log.WithError(err).Debug("stage cancelled")
		default:
			log.WithError(err).Error("stage failed")
			err = fmt.Errorf("%s: %w", name, err)
		}
		return err
	})
}

// Wait blocks until every stage returned and reports the first failure.
func (p *Pipeline) Wait() error {
	defer p.cancel()
	return p.pool.Wait()
}

// Abort cancels every stage and waits for them.
func (p *Pipeline) Abort() error {
	p.cancel()
	return p.pool.Wait()
}

// DecodeOptions shape the PCM a decode stage produces.
type DecodeOptions struct {
	// TargetRate resamples when non-zero.
	TargetRate int
	Mono       bool
	Downmix    audio.DownmixPolicy
	// ChunkSize is the size of compressed reads. Zero means
	// extract.DefaultChunkSize.
	ChunkSize int
}

func (o DecodeOptions) driverOptions(log *logrus.Entry) []softdec.Option {
	opts := []softdec.Option{softdec.WithLogger(log)}
	if o.TargetRate > 0 {
		opts = append(opts, softdec.WithTargetRate(o.TargetRate))
	}
	return opts
}

// Decode opens path and returns its decoded PCM stream.
func (p *Pipeline) Decode(name, path string, opts DecodeOptions) (*flow.Channel[media.Event], error) {
	d, err := extract.OpenFile(path, extract.WithChunkSize(opts.ChunkSize))
	if err != nil {
		return nil, err
	}
	out, err := p.decode(name, d, opts)
	if err != nil {
		d.Close()
		return nil, err
	}
	return out, nil
}

// DecodeReader is Decode for an already open file.
func (p *Pipeline) DecodeReader(name string, r io.Reader, opts DecodeOptions) (*flow.Channel[media.Event], error) {
	d, err := extract.NewFileDemuxer(r, extract.WithChunkSize(opts.ChunkSize))
	if err != nil {
		return nil, err
	}
	return p.decode(name, d, opts)
}

func (p *Pipeline) decode(name string, d *extract.FileDemuxer, opts DecodeOptions) (*flow.Channel[media.Event], error) {
	log := p.log.WithField("track", name)

	if _, ok := p.registry.Get(d.Mime()); !ok {
		return nil, fmt.Errorf("%s: %w: %q", name, audio.ErrUnknownFormat, d.Mime())
	}

	bufSize := opts.ChunkSize
	if bufSize <= 0 {
		bufSize = extract.DefaultChunkSize
	}
	ex := extract.NewExtractor(d, extract.MimeSelector("audio/"),
		extract.WithBufferSize(bufSize),
		extract.WithLogger(log.WithField("component", "extract")))
	if _, err := ex.Select(); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	s := codec.NewSession(name+"/decode", media.DefaultClock,
		codec.WithConfigurer(softdec.Configurer(p.registry, opts.driverOptions(log.WithField("component", "softdec"))...)),
		codec.WithFormatPolicy(codec.FormatEvery),
		codec.WithMetrics(p.metrics))

	compressed := p.Channel(name + "/compressed")
	decoded := p.Channel(name + "/pcm")

	p.Go(name+"/extract", func(ctx context.Context) error {
		defer d.Close()
		return ex.Run(ctx, compressed)
	})
	p.Go(name+"/feed", func(ctx context.Context) error {
		return ignoreStopped(s.FeedFrom(ctx, compressed))
	})
	p.Go(name+"/drain", func(ctx context.Context) error {
		return s.DrainTo(ctx, decoded)
	})

	if opts.Mono {
		return p.Transform(name+"/mono", audio.NewDownmixer(opts.Downmix), decoded), nil
	}
	return decoded, nil
}

// ignoreStopped hides the error a feeder sees when downstream stopped the
// session on purpose.
func ignoreStopped(err error) error {
	if errors.Is(err, codec.ErrStopped) || errors.Is(err, flow.ErrCancelled) {
		return nil
	}
	return err
}

// Transform runs t over in.
func (p *Pipeline) Transform(name string, t audio.Transform, in *flow.Channel[media.Event]) *flow.Channel[media.Event] {
	out := p.Channel(name)
	p.Go(name, func(ctx context.Context) error {
		return audio.RunStage(ctx, name, t, in, out)
	})
	return out
}

// TransformPCM runs the transform build returns for the clock of the first
// format event. Stages that count bytes, like the cutter and the envelope,
// need it when the upstream rate is only known at run time.
func (p *Pipeline) TransformPCM(name string, build func(media.Clock) (audio.Transform, error), in *flow.Channel[media.Event]) *flow.Channel[media.Event] {
	return p.Transform(name, &clocked{build: build}, in)
}

type clocked struct {
	build func(media.Clock) (audio.Transform, error)
	inner audio.Transform
}

func (c *clocked) Apply(ev media.Event) (media.Event, audio.Decision, error) {
	if c.inner == nil {
		if !ev.IsFormat() {
			return ev, audio.Drop, ErrNoFormat
		}
		clock := media.ClockFor(ev.Format)
		if err := clock.Validate(); err != nil {
			return ev, audio.Drop, err
		}
		inner, err := c.build(clock)
		if err != nil {
			return ev, audio.Drop, err
		}
		c.inner = inner
	}
	return c.inner.Apply(ev)
}

// Encode re-encodes a PCM stream with the pass-through PCM codec. The
// session is built from the first format event, so output timestamps
// follow the bytes actually encoded.
func (p *Pipeline) Encode(name string, in *flow.Channel[media.Event]) *flow.Channel[media.Event] {
	out := p.Channel(name)

	p.Go(name+"/feed", func(ctx context.Context) error {
		ev, err := in.Next(ctx)
		if errors.Is(err, io.EOF) {
			err = ErrNoFormat
		}
		if err == nil && !ev.IsFormat() {
			in.Cancel()
			err = fmt.Errorf("%w: got %s first", ErrNoFormat, ev)
		}
		if err != nil {
			out.CloseWithError(err)
			return err
		}

		format := ev.Format.Clone()
		s := codec.NewSession(name+"/encode", media.ClockFor(format),
			codec.WithFormatPolicy(codec.FormatOnce),
			codec.WithMetrics(p.metrics))
		if err := s.Configure(func() (codec.Driver, error) { return pcm.New(format), nil }); err != nil {
			in.Cancel()
			out.CloseWithError(err)
			return err
		}

		p.Go(name+"/drain", func(ctx context.Context) error {
			return s.DrainTo(ctx, out)
		})
		return ignoreStopped(s.FeedFrom(ctx, in))
	})

	return out
}

// MixInput is one channel of Mix.
type MixInput struct {
	Name     string
	OffsetUs int64
	Events   *flow.Channel[media.Event]
}

// Mix sums inputs into one PCM stream at clock.
func (p *Pipeline) Mix(name string, clock media.Clock, inputs []MixInput, opts ...audio.MixerOption) (*flow.Channel[media.Event], error) {
	opts = append([]audio.MixerOption{
		audio.WithMixerLogger(p.log.WithField("component", "mixer")),
		audio.WithMixerMetrics(p.metrics),
	}, opts...)

	m, err := audio.NewMixer(clock, opts...)
	if err != nil {
		return nil, err
	}

	for _, in := range inputs {
		mi := m.AddChannel(in.Name, in.OffsetUs)
		src := in.Events
		p.Go(name+"/"+in.Name, func(ctx context.Context) error {
			return mi.Consume(ctx, src)
		})
	}

	out := p.Channel(name)
	p.Go(name, func(ctx context.Context) error {
		return m.Run(ctx, out)
	})
	return out, nil
}

// Track is one muxer input.
type Track struct {
	Name   string
	Events *flow.Channel[media.Event]
}

// Mux writes tracks into c. The returned writer reports per track counts
// once Wait returned.
func (p *Pipeline) Mux(c mux.Container, tracks ...Track) (*mux.Writer, error) {
	w := mux.NewWriter(c,
		mux.WithLogger(p.log.WithField("component", "mux")),
		mux.WithMetrics(p.metrics))

	for _, t := range tracks {
		if err := w.RegisterTrack(t.Name, t.Events); err != nil {
			return nil, err
		}
	}

	p.Go("mux", func(ctx context.Context) error {
		if err := w.Start(ctx); err != nil {
			return err
		}
		return w.Wait(ctx)
	})
	return w, nil
}
