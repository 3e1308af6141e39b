// SPDX-License-Identifier: EPL-2.0

package codec

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ik5/mediapipe/internal/metrics"
)

// DefaultPollTimeout is how long a single slot poll may wait.
const DefaultPollTimeout = time.Millisecond

// FormatPolicy decides what happens to repeated format-changed indications.
type FormatPolicy int

const (
	// FormatOnce emits the first format and drops later ones. Encoders use
	// this.
	FormatOnce FormatPolicy = iota
	// FormatEvery emits every format change. Decoders use this.
	FormatEvery
)

// Option configures a Session.
type Option func(*Session)

func WithPollTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.pollTimeout = d
		}
	}
}

func WithFormatPolicy(p FormatPolicy) Option {
	return func(s *Session) { s.policy = p }
}

// WithRenderer routes decoded buffers to r instead of downstream.
func WithRenderer(r Renderer) Option {
	return func(s *Session) { s.renderer = r }
}

// WithConfigurer lets FeedFrom build the driver from the first upstream
// format.
func WithConfigurer(c Configurer) Option {
	return func(s *Session) { s.configurer = c }
}

func WithLogger(l *logrus.Entry) Option {
	return func(s *Session) {
		if l != nil {
			s.log = l
		}
	}
}

func WithMetrics(m *metrics.Set) Option {
	return func(s *Session) { s.metrics = m }
}
