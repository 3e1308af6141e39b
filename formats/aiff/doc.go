// SPDX-License-Identifier: EPL-2.0

// Package aiff decodes uncompressed AIFF files with github.com/go-audio/aiff.
//
// 8, 16, 24 and 32-bit integer PCM is accepted and normalized to [-1, 1].
// The underlying decoder seeks, so readers that cannot seek are buffered in
// memory before decoding.
package aiff
