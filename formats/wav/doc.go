// SPDX-License-Identifier: EPL-2.0

// Package wav reads and writes PCM 16-bit WAV files.
//
// Decoder walks the RIFF chunk list without seeking, skipping anything that
// is not "fmt " or "data", so it can decode from a pipe. Only PCM 16-bit is
// accepted; WAVE_FORMAT_EXTENSIBLE headers are unwrapped.
//
//	src, err := wav.Decoder{}.Decode(file)
//	buf := make([]float32, 4096)
//	n, err := src.ReadSamples(buf)
//
// Two writers exist. WriteWAV16 emits a complete file from an in-memory
// sample slice to any io.Writer. Container is the mux.Container
// implementation: it streams a single raw PCM track through the go-audio
// encoder and patches the header sizes on Stop.
//
//	c := wav.NewContainer(file)
//	id, err := c.AddTrack(format)
//	err = c.Start()
//	err = c.WriteSample(id, pcm, ts, 0)
//	err = c.Stop()
package wav
