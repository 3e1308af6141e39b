// SPDX-License-Identifier: EPL-2.0

package flow

import (
	"context"
	"io"
	"sync"
	"time"
)

// DefaultPollInterval bounds how long a blocked party sleeps between state
// checks when no wake-up arrives.
const DefaultPollInterval = 10 * time.Millisecond

type options struct {
	name string
	poll time.Duration
}

// Option configures a Channel.
type Option func(*options)

// WithPollInterval sets the fallback poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.poll = d
		}
	}
}

// WithName labels the channel, mostly for logs.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// Channel is a single-producer single-consumer credit based queue.
type Channel[T any] struct {
	name string
	poll time.Duration

	mu        sync.Mutex
	queue     []T
	credit    int64
	closed    bool
	err       error
	cancelled bool
	wake      chan struct{}
	done      chan struct{}

	sent    int64
	granted int64
}

// NewChannel creates an open channel with zero credit.
func NewChannel[T any](opts ...Option) *Channel[T] {
	o := options{poll: DefaultPollInterval}
	for _, opt := range opts {
		opt(&o)
	}

	return &Channel[T]{
		name: o.name,
		poll: o.poll,
		wake: make(chan struct{}),
		done: make(chan struct{}),
	}
}

func (c *Channel[T]) Name() string { return c.name }

// notifyLocked wakes every waiter. c.mu must be held.
func (c *Channel[T]) notifyLocked() {
	close(c.wake)
	c.wake = make(chan struct{})
}

func (c *Channel[T]) sleep(ctx context.Context, wake <-chan struct{}) error {
	t := time.NewTimer(c.poll)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-wake:
	case <-t.C:
	}
	return nil
}

// Request grants the producer n more values.
func (c *Channel[T]) Request(n int64) {
	if n <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancelled {
		return
	}
	c.credit += n
	c.granted += n
	c.notifyLocked()
}

// Send queues v once credit is available. It fails with ErrCancelled if the
// consumer cancelled, ErrClosed if the producer already closed, or the
// context error.
func (c *Channel[T]) Send(ctx context.Context, v T) error {
	for {
		c.mu.Lock()
		switch {
		case c.cancelled:
			c.mu.Unlock()
			return ErrCancelled
		case c.closed:
			c.mu.Unlock()
			return ErrClosed
		case c.credit > 0:
			c.credit--
			c.sent++
			c.queue = append(c.queue, v)
			c.notifyLocked()
			c.mu.Unlock()
			return nil
		}
		wake := c.wake
		c.mu.Unlock()

		if err := c.sleep(ctx, wake); err != nil {
			return err
		}
	}
}

// WaitCredit blocks until the producer holds credit, without consuming it.
func (c *Channel[T]) WaitCredit(ctx context.Context) error {
	for {
		c.mu.Lock()
		switch {
		case c.cancelled:
			c.mu.Unlock()
			return ErrCancelled
		case c.credit > 0:
			c.mu.Unlock()
			return nil
		}
		wake := c.wake
		c.mu.Unlock()

		if err := c.sleep(ctx, wake); err != nil {
			return err
		}
	}
}

// Recv returns the next queued value. After the queue is drained it returns
// io.EOF for a normal close and the producer error otherwise.
func (c *Channel[T]) Recv(ctx context.Context) (T, error) {
	var zero T
	for {
		c.mu.Lock()
		if len(c.queue) > 0 {
			v := c.queue[0]
			c.queue[0] = zero
			c.queue = c.queue[1:]
			c.notifyLocked()
			c.mu.Unlock()
			return v, nil
		}
		if c.closed {
			err := c.err
			c.mu.Unlock()
			if err == nil {
				err = io.EOF
			}
			return zero, err
		}
		if c.cancelled {
			c.mu.Unlock()
			return zero, ErrCancelled
		}
		wake := c.wake
		c.mu.Unlock()

		if err := c.sleep(ctx, wake); err != nil {
			return zero, err
		}
	}
}

// Next grants one credit and waits for the value it pays for.
func (c *Channel[T]) Next(ctx context.Context) (T, error) {
	c.Request(1)
	return c.Recv(ctx)
}

// Close marks normal completion. Queued values are still delivered.
func (c *Channel[T]) Close() {
	c.CloseWithError(nil)
}

// CloseWithError completes the channel with err. Only the first close counts.
func (c *Channel[T]) CloseWithError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.err = err
	c.notifyLocked()
}

// Cancel is called by the consumer to stop the producer. Queued values are
// dropped.
func (c *Channel[T]) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancelled {
		return
	}
	c.cancelled = true
	c.credit = 0
	c.queue = nil
	close(c.done)
	c.notifyLocked()
}

// Done is closed once the consumer cancelled.
func (c *Channel[T]) Done() <-chan struct{} { return c.done }

func (c *Channel[T]) Cancelled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled
}

// Closed reports whether the producer finished, regardless of queued values.
func (c *Channel[T]) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Credit is the outstanding grant.
func (c *Channel[T]) Credit() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.credit
}

// Pending is the number of queued values.
func (c *Channel[T]) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Stats returns the total number of values sent and credits granted.
func (c *Channel[T]) Stats() (sent, granted int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sent, c.granted
}
