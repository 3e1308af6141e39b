// SPDX-License-Identifier: EPL-2.0

// Package mediapipe assembles the streaming stages of this module into
// complete jobs.
//
// A job reads one or more audio files, decodes them to 16-bit PCM inside
// codec sessions, runs the PCM through signal stages (cutter, envelope,
// mixer), re-encodes it and writes the result into a container. Every hop
// between two stages is a flow.Channel, so a slow container slows the
// decoders down instead of buffering the whole file in memory.
//
// The three jobs are:
//
//	mediapipe.Transcode(ctx, cfg) // each input becomes one track
//	mediapipe.Cut(ctx, cfg)       // keep cfg.Cut.From..cfg.Cut.To of one input
//	mediapipe.Mix(ctx, cfg)       // sum every input into one track
//
// For custom graphs use Pipeline directly:
//
//	p, err := mediapipe.NewPipeline(ctx)
//	if err != nil {
//		return err
//	}
//	pcm, err := p.Decode("voice", "voice.mp3", mediapipe.DecodeOptions{TargetRate: 8000, Mono: true})
//	if err != nil {
//		return err
//	}
//	cut := p.TransformPCM("cut", func(clock media.Clock) (audio.Transform, error) {
//		return audio.NewCutter(clock, 500_000, 1_500_000)
//	}, pcm)
//	if _, err := p.Mux(container, mediapipe.Track{Name: "voice", Events: p.Encode("encode", cut)}); err != nil {
//		return err
//	}
//	err = p.Wait()
//
// ReadPCM16 is the blocking counterpart of a decode stage: it returns the
// whole file as 16-bit samples.
package mediapipe
