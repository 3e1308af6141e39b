// SPDX-License-Identifier: EPL-2.0

// Package vorbis decodes Ogg Vorbis streams with github.com/jfreymuth/oggvorbis.
//
// Samples keep the stream's native channel count and rate. A single
// ReadSamples call may span several Vorbis packets.
package vorbis
