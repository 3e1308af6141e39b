// SPDX-License-Identifier: EPL-2.0

// Package codec drives an opaque stateful encoder or decoder.
//
// A Driver exposes the slot protocol of a hardware or software codec: input
// slots are acquired, filled and submitted; output slots are acquired, copied
// and released. Session wraps one Driver and turns that protocol into two
// paths that can run on separate goroutines:
//
//	s := codec.NewSession("encoder", media.DefaultClock)
//	if err := s.Attach(driver); err != nil {
//	    return err
//	}
//
//	go s.FeedFrom(ctx, pcm)    // consumes media.Event values
//	err := s.DrainTo(ctx, out) // produces media.Event values
//
// # Lifecycle
//
// A session moves through unconfigured, configured, running, draining and
// stopped. The driver is started once when the session is configured and
// stopped and released exactly once on entry to stopped, whichever path gets
// there first.
//
// # Failures
//
// A poll that finds no slot is never an error. Any driver error aborts the
// session and surfaces as media.ErrCodecFatal on both paths. A session that
// is waiting for its driver fails immediately when configuration fails
// instead of waiting forever.
package codec
