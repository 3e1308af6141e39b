// SPDX-License-Identifier: EPL-2.0

package media

import "errors"

var (
	// ErrTransientNoSlot means a poll found no codec slot. It is retried and
	// never surfaces past a codec session.
	ErrTransientNoSlot = errors.New("no codec slot available")

	// ErrCodecFatal marks construction, configuration and runtime codec
	// failures. The owning session is stopped.
	ErrCodecFatal = errors.New("codec failure")

	// ErrTrackSelection means no track matched the selector.
	ErrTrackSelection = errors.New("no matching track")

	// ErrMuxWrite is a single sample that failed to reach the container.
	ErrMuxWrite = errors.New("container write failed")

	// ErrConfiguration rejects invalid stage parameters at construction.
	ErrConfiguration = errors.New("invalid configuration")
)
