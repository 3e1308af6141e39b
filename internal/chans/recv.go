// SPDX-License-Identifier: EPL-2.0

// Package chans holds channel helpers shared by the codec drivers.
package chans

import "time"

// RecvTimeout receives from ch, waiting at most timeout. A timeout of zero
// or less polls once without blocking. ok is false when nothing arrived or
// ch was closed.
func RecvTimeout[T any](ch <-chan T, timeout time.Duration) (v T, ok bool) {
	if timeout <= 0 {
		select {
		case v, ok = <-ch:
		default:
		}
		return v, ok
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case v, ok = <-ch:
	case <-t.C:
	}
	return v, ok
}
