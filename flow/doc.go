// SPDX-License-Identifier: EPL-2.0

// Package flow moves values between pipeline stages under backpressure.
//
// A Channel connects exactly one producer to exactly one consumer. The
// consumer grants credit with Request; the producer may only Send as many
// values as it has been granted and suspends otherwise:
//
//	ch := flow.NewChannel[media.Event]()
//
//	// consumer
//	ch.Request(1)
//	ev, err := ch.Recv(ctx)
//
//	// producer
//	if err := ch.Send(ctx, ev); errors.Is(err, flow.ErrCancelled) {
//	    // downstream is gone, release resources
//	}
//	ch.Close()
//
// Cancellation flows upstream: a consumer calling Cancel makes every pending
// and future Send fail with ErrCancelled. Completion flows downstream: after
// Close the consumer drains what is queued and then receives io.EOF, after
// CloseWithError it receives the error instead.
//
// Waiting is event driven. A blocked party is woken as soon as the other side
// changes the channel state, with a bounded poll as a fallback so that the
// latency of context cancellation never exceeds one poll interval.
//
// Promise is a one-shot value used to publish the availability of a resource
// such as a configured codec. Any number of late waiters observe the same
// value or error.
package flow
