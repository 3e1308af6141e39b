// SPDX-License-Identifier: EPL-2.0

package media

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Well known Format keys.
const (
	KeyMime         = "mime"
	KeySampleRate   = "sample-rate"
	KeyChannelCount = "channel-count"
	KeyBitRate      = "bitrate"
	KeyPCMEncoding  = "pcm-encoding"
	KeyWidth        = "width"
	KeyHeight       = "height"
	KeyFrameRate    = "frame-rate"
	KeyRotation     = "rotation-degrees"
	KeyTrackName    = "track-name"
)

// Mime types understood by the bundled drivers and containers.
const (
	MimeRaw    = "audio/raw"
	MimeWAV    = "audio/wav"
	MimeMPEG   = "audio/mpeg"
	MimeVorbis = "audio/ogg"
	MimeAIFF   = "audio/aiff"
	MimeOpus   = "audio/opus"
	MimeAAC    = "audio/mp4a-latm"

	MimeAVC = "video/avc"
	MimeVP8 = "video/x-vnd.on2.vp8"
	MimeVP9 = "video/x-vnd.on2.vp9"
)

// Format is an opaque key/value description of a stream.
type Format map[string]any

// Clone returns a shallow copy that can be modified independently.
func (f Format) Clone() Format {
	if f == nil {
		return Format{}
	}
	return maps.Clone(f)
}

func (f Format) Mime() string { return f.GetString(KeyMime) }

// GetString returns the value of key as a string, or "" if absent.
func (f Format) GetString(key string) string {
	v, ok := f[key]
	if !ok {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Int returns the value of key as an int. Integer and float values of any
// width are accepted.
func (f Format) Int(key string) (int, bool) {
	switch v := f[key].(type) {
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case uint32:
		return int(v), true
	case uint64:
		return int(v), true
	case float32:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

// IntOr is Int with a fallback.
func (f Format) IntOr(key string, def int) int {
	if v, ok := f.Int(key); ok {
		return v
	}
	return def
}

func (f Format) SampleRate() int   { return f.IntOr(KeySampleRate, 0) }
func (f Format) ChannelCount() int { return f.IntOr(KeyChannelCount, 0) }

// HasMimePrefix reports whether the mime type starts with prefix.
func (f Format) HasMimePrefix(prefix string) bool {
	return strings.HasPrefix(f.Mime(), prefix)
}

func (f Format) String() string {
	keys := slices.Sorted(maps.Keys(f))
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, f[k]))
	}
	return strings.Join(parts, " ")
}
