// SPDX-License-Identifier: EPL-2.0

package extract

import (
	"fmt"
	"strings"

	"github.com/ik5/mediapipe/media"
)

// TrackSelector picks the track an Extractor reads.
type TrackSelector interface {
	SelectTrack(d Demuxer) (int, error)
}

type SelectorFunc func(d Demuxer) (int, error)

func (f SelectorFunc) SelectTrack(d Demuxer) (int, error) { return f(d) }

// MimeSelector picks the first track whose mime starts with prefix, e.g.
// "audio/" or "video/avc".
func MimeSelector(prefix string) TrackSelector {
	return SelectorFunc(func(d Demuxer) (int, error) {
		for i := range d.TrackCount() {
			f, err := d.TrackFormat(i)
			if err != nil {
				return 0, fmt.Errorf("extract: track %d: %w", i, err)
			}
			if strings.HasPrefix(f.Mime(), prefix) {
				return i, nil
			}
		}
		return 0, fmt.Errorf("%w: no %q track", media.ErrTrackSelection, prefix)
	})
}
