// SPDX-License-Identifier: EPL-2.0

package mediapipe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ik5/mediapipe/audio"
	"github.com/ik5/mediapipe/flow"
	"github.com/ik5/mediapipe/formats/fmp4"
	"github.com/ik5/mediapipe/formats/wav"
	"github.com/ik5/mediapipe/formats/webm"
	"github.com/ik5/mediapipe/media"
	"github.com/ik5/mediapipe/mux"
)

// Result summarizes a finished job.
type Result struct {
	ID        string
	Output    string
	Container string
	Tracks    []mux.TrackStats
	Elapsed   time.Duration
}

// Transcode decodes every input and writes each one as its own track.
func Transcode(ctx context.Context, cfg Config, opts ...Option) (*Result, error) {
	return run(ctx, cfg, opts, func(p *Pipeline) ([]Track, error) {
		tracks := make([]Track, 0, len(cfg.Inputs))
		seen := make(map[string]bool)
		for i, path := range cfg.Inputs {
			name := trackName(i, path)
			if seen[name] {
				name = fmt.Sprintf("%s-%d", name, i)
			}
			seen[name] = true
			pcm, err := p.Decode(name, path, cfg.decodeOptions())
			if err != nil {
				return nil, err
			}
			pcm, err = withEnvelope(p, cfg, name, pcm)
			if err != nil {
				return nil, err
			}
			tracks = append(tracks, Track{Name: name, Events: p.Encode(name+"/encoded", pcm)})
		}
		return tracks, nil
	})
}

// Cut keeps the cfg.Cut interval of the single input.
func Cut(ctx context.Context, cfg Config, opts ...Option) (*Result, error) {
	if len(cfg.Inputs) > 1 {
		return nil, fmt.Errorf("%w: cut takes one input, got %d", media.ErrConfiguration, len(cfg.Inputs))
	}
	if cfg.Cut.To < cfg.Cut.From {
		return nil, fmt.Errorf("%w: cut ends at %s before it starts at %s",
			media.ErrConfiguration, cfg.Cut.To, cfg.Cut.From)
	}

	return run(ctx, cfg, opts, func(p *Pipeline) ([]Track, error) {
		name := trackName(0, cfg.Inputs[0])
		pcm, err := p.Decode(name, cfg.Inputs[0], cfg.decodeOptions())
		if err != nil {
			return nil, err
		}

		from, to := cfg.Cut.From.Microseconds(), cfg.Cut.To.Microseconds()
		cut := p.TransformPCM(name+"/cut", func(clock media.Clock) (audio.Transform, error) {
			return audio.NewCutter(clock, from, to)
		}, pcm)

		cut, err = withEnvelope(p, cfg, name, cut)
		if err != nil {
			return nil, err
		}
		return []Track{{Name: name, Events: p.Encode(name+"/encoded", cut)}}, nil
	})
}

// Mix sums every input, delayed by cfg.Mix.Offsets, into one mono track.
func Mix(ctx context.Context, cfg Config, opts ...Option) (*Result, error) {
	rate := cfg.SampleRate
	if rate == 0 {
		rate = media.DefaultClock.SampleRate
	}
	clock := media.Clock{SampleRate: rate, Channels: 1, BytesPerSample: 2}

	decode := cfg.decodeOptions()
	decode.TargetRate = rate
	decode.Mono = true

	return run(ctx, cfg, opts, func(p *Pipeline) ([]Track, error) {
		inputs := make([]MixInput, 0, len(cfg.Inputs))
		for i, path := range cfg.Inputs {
			name := trackName(i, path)
			pcm, err := p.Decode(name, path, decode)
			if err != nil {
				return nil, err
			}

			var offset time.Duration
			if i < len(cfg.Mix.Offsets) {
				offset = cfg.Mix.Offsets[i]
			}
			inputs = append(inputs, MixInput{Name: name, OffsetUs: offset.Microseconds(), Events: pcm})
		}

		mixOpts := []audio.MixerOption{audio.WithMaxQueued(cfg.Mix.MaxQueued)}
		if cfg.Mix.SilenceFill {
			mixOpts = append(mixOpts, audio.WithSilenceFill())
		}
		mixed, err := p.Mix("mix", clock, inputs, mixOpts...)
		if err != nil {
			return nil, err
		}

		mixed, err = withEnvelope(p, cfg, "mix", mixed)
		if err != nil {
			return nil, err
		}
		return []Track{{Name: "mix", Events: p.Encode("mix/encoded", mixed)}}, nil
	})
}

// run opens the output, lets build wire the stages and waits for the
// muxer.
func run(ctx context.Context, cfg Config, opts []Option, build func(*Pipeline) ([]Track, error)) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	kind, _ := cfg.ContainerName()
	begin := time.Now()

	p, err := NewPipeline(ctx, opts...)
	if err != nil {
		return nil, err
	}

	f, err := os.Create(cfg.Output)
	if err != nil {
		return nil, fmt.Errorf("create output: %w", err)
	}

	c := openContainer(kind, f, cfg, p)

	tracks, err := build(p)
	var w *mux.Writer
	if err == nil {
		w, err = p.Mux(c, tracks...)
	}
	if err != nil {
		_ = p.Abort()
		f.Close()
		os.Remove(cfg.Output)
		return nil, err
	}

	p.log.WithFields(logrus.Fields{
		"output":    cfg.Output,
		"container": kind,
		"tracks":    len(tracks),
	}).Info("pipeline running")

	err = p.Wait()
	if cerr := f.Close(); cerr != nil {
		err = errors.Join(err, fmt.Errorf("close output: %w", cerr))
	}
	if err != nil {
		return nil, err
	}

	res := &Result{
		ID:        p.ID(),
		Output:    cfg.Output,
		Container: kind,
		Tracks:    w.Tracks(),
		Elapsed:   time.Since(begin),
	}
	p.log.WithField("elapsed", res.Elapsed).Info("pipeline finished")
	return res, nil
}

func openContainer(kind string, f *os.File, cfg Config, p *Pipeline) mux.Container {
	switch kind {
	case ContainerWebM:
		opts := []webm.Option{webm.WithLogger(p.log.WithField("component", "webm"))}
		if cfg.CloseTimeout > 0 {
			opts = append(opts, webm.WithCloseTimeout(cfg.CloseTimeout))
		}
		return webm.NewContainer(f, opts...)
	case ContainerMP4:
		opts := []fmp4.Option{fmp4.WithLogger(p.log.WithField("component", "fmp4"))}
		if cfg.Fragment > 0 {
			opts = append(opts, fmp4.WithFragmentDuration(cfg.Fragment.Microseconds()))
		}
		return fmp4.NewContainer(f, opts...)
	default:
		return wav.NewContainer(f)
	}
}

func withEnvelope(p *Pipeline, cfg Config, name string, in *flow.Channel[media.Event]) (*flow.Channel[media.Event], error) {
	if !cfg.Envelope.Enabled {
		return in, nil
	}
	env, err := cfg.envelope()
	if err != nil {
		return nil, err
	}
	return p.TransformPCM(name+"/envelope", func(clock media.Clock) (audio.Transform, error) {
		return audio.NewEnvelope(clock, env)
	}, in), nil
}

// trackName is the input file name without extension, or trackN.
func trackName(i int, path string) string {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if base == "" || base == "." || base == string(filepath.Separator) {
		return fmt.Sprintf("track%d", i)
	}
	return base
}
