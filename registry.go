// SPDX-License-Identifier: EPL-2.0

package mediapipe

import (
	"github.com/ik5/mediapipe/audio"
	"github.com/ik5/mediapipe/formats/aiff"
	"github.com/ik5/mediapipe/formats/mp3"
	"github.com/ik5/mediapipe/formats/vorbis"
	"github.com/ik5/mediapipe/formats/wav"
	"github.com/ik5/mediapipe/media"
)

// DefaultRegistry knows every bundled decoder under the mime types the
// extract package sniffs.
func DefaultRegistry() *audio.Registry {
	r := audio.NewRegistry()
	r.Register(wav.Decoder{}, media.MimeWAV, "audio/x-wav", "audio/wave")
	r.Register(mp3.Decoder{}, media.MimeMPEG, "audio/mp3")
	r.Register(vorbis.Decoder{}, media.MimeVorbis, "application/ogg")
	r.Register(aiff.Decoder{}, media.MimeAIFF, "audio/x-aiff")
	return r
}
