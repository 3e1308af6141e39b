// SPDX-License-Identifier: EPL-2.0

// Package audio provides the PCM building blocks of a pipeline.
//
// Two families live here. The Source family works on float32 samples pulled
// from decoders:
//   - Source and Decoder, with a Registry keyed by mime type
//   - Resampler for sample rate conversion (cubic interpolation)
//   - MonoSource for channel reduction
//   - PCMReader to turn a Source into 16-bit little-endian bytes
//
// The stage family works on media.Event streams of 16-bit PCM carried over
// flow channels:
//   - Mixer sums several channels, each joining at its own start offset
//   - Envelope ducks the volume over an interval with linear ramps
//   - Cutter keeps the buffers that start inside an interval
//   - Downmixer reduces interleaved channels to mono
//
// Envelope, Cutter and Downmixer implement Transform and run with RunStage:
//
//	cut, err := audio.NewCutter(media.DefaultClock, 500000, 1000000)
//	if err != nil {
//	    return err
//	}
//	go audio.RunStage(ctx, "cut", cut, decoded, trimmed)
//
// RunStage pulls from upstream only while downstream holds credit. When the
// transform answers Stop, or downstream cancels, upstream is cancelled.
//
// # Timing
//
// Every stage stamps buffers from its own byte count through a media.Clock,
// never from wall time. Stages must see whole frames; a buffer that splits a
// frame shifts every later sample of the stream.
//
// # Mixing
//
// Mixer output is the sample-wise 16-bit sum of the ready channels. The sum
// wraps on overflow; attenuate inputs first when they can be loud.
package audio
