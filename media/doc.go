// SPDX-License-Identifier: EPL-2.0

// Package media defines the values that travel between pipeline stages.
//
// Every stage of a pipeline consumes and produces Event values. An Event is
// either a format announcement or a data buffer:
//
//	ev := media.FormatEvent(media.Format{
//	    media.KeyMime:         media.MimeRaw,
//	    media.KeySampleRate:   44100,
//	    media.KeyChannelCount: 1,
//	})
//
//	ev = media.DataEvent(buf, ts, media.FlagEndOfStream)
//
// # Timestamps
//
// Presentation timestamps are derived from byte counters, never from the
// wall clock. A Clock converts the number of PCM bytes seen so far into
// microseconds:
//
//	clock := media.DefaultClock // 44.1kHz, mono, 16-bit
//	clock.TimestampUs(88200)    // 1000000
//
// # Errors
//
// The package also holds the error taxonomy shared by all stages. Callers
// classify failures with errors.Is:
//
//	if errors.Is(err, media.ErrCodecFatal) {
//	    // the codec session is gone
//	}
package media
