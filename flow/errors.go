// SPDX-License-Identifier: EPL-2.0

package flow

import "errors"

var (
	// ErrCancelled is returned to a producer whose consumer cancelled.
	ErrCancelled = errors.New("flow cancelled by consumer")

	// ErrClosed is returned when sending on a closed channel.
	ErrClosed = errors.New("send on closed flow")
)
