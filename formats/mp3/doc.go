// SPDX-License-Identifier: EPL-2.0

// Package mp3 decodes MPEG-1/2 Layer III audio with
// github.com/hajimehoshi/go-mp3.
//
// The decoder always produces interleaved stereo; mono files are duplicated
// onto both channels. Use audio.NewMonoSource or the codec/softdec mono
// option to fold it back.
//
//	src, err := mp3.Decoder{}.Decode(file)
//	buf := make([]float32, 4096)
//	n, err := src.ReadSamples(buf)
package mp3
