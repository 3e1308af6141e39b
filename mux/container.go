// SPDX-License-Identifier: EPL-2.0

package mux

import "github.com/ik5/mediapipe/media"

// Container is the file format writer behind a Writer. Calls are serialized
// by the Writer: every AddTrack happens before Start, WriteSample only between
// Start and Stop, and Start and Stop are each called at most once.
type Container interface {
	// AddTrack declares a track and returns the id used by WriteSample.
	AddTrack(format media.Format) (int, error)
	Start() error
	WriteSample(track int, data []byte, timestampUs int64, flags media.Flags) error
	Stop() error
}
