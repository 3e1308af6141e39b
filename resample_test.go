// SPDX-License-Identifier: EPL-2.0

package mediapipe

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/ik5/mediapipe/audio"
	"github.com/ik5/mediapipe/formats/wav"
)

func wavBytes(t *testing.T, rate, channels int, samples []int16) *bytes.Reader {
	t.Helper()
	var b bytes.Buffer
	if err := wav.WriteWAV16(&b, rate, channels, samples); err != nil {
		t.Fatalf("WriteWAV16() error = %v", err)
	}
	return bytes.NewReader(b.Bytes())
}

func TestReadPCM16_Resamples(t *testing.T) {
	t.Parallel()

	// One second of stereo 16kHz audio.
	samples := make([]int16, 2*16000)
	for i := range 16000 {
		v := int16(8000 * math.Sin(2*math.Pi*440*float64(i)/16000))
		samples[2*i], samples[2*i+1] = v, v
	}

	pcm, clock, err := ReadPCM16(wavBytes(t, 16000, 2, samples), DecodeOptions{TargetRate: 8000, Mono: true})
	if err != nil {
		t.Fatalf("ReadPCM16() error = %v", err)
	}

	if clock.SampleRate != 8000 || clock.Channels != 1 {
		t.Errorf("ReadPCM16() clock = %+v, want 8000 Hz mono", clock)
	}

	expected, tolerance := 8000, 200
	if len(pcm) < expected-tolerance || len(pcm) > expected+tolerance {
		t.Errorf("ReadPCM16() got %d samples, want ≈%d (±%d)", len(pcm), expected, tolerance)
	}

	for i, s := range pcm {
		if s > 8500 || s < -8500 {
			t.Errorf("pcm[%d] = %d, beyond the input amplitude", i, s)
			break
		}
	}
}

func TestReadPCM16_KeepsLayout(t *testing.T) {
	t.Parallel()

	samples := []int16{1, -1, 2, -2, 3, -3}
	pcm, clock, err := ReadPCM16(wavBytes(t, 22050, 2, samples), DecodeOptions{})
	if err != nil {
		t.Fatalf("ReadPCM16() error = %v", err)
	}

	if clock.SampleRate != 22050 || clock.Channels != 2 {
		t.Errorf("ReadPCM16() clock = %+v, want 22050 Hz stereo", clock)
	}
	if len(pcm) != len(samples) {
		t.Fatalf("ReadPCM16() got %d samples, want %d", len(pcm), len(samples))
	}
	for i := range samples {
		if pcm[i] != samples[i] {
			t.Errorf("pcm[%d] = %d, want %d", i, pcm[i], samples[i])
		}
	}
}

func TestReadPCM16_LeftDownmix(t *testing.T) {
	t.Parallel()

	samples := []int16{1000, -1000, 2000, -2000}
	pcm, _, err := ReadPCM16(wavBytes(t, 8000, 2, samples), DecodeOptions{Mono: true, Downmix: audio.DownmixLeft})
	if err != nil {
		t.Fatalf("ReadPCM16() error = %v", err)
	}
	if len(pcm) != 2 || pcm[0] != 1000 || pcm[1] != 2000 {
		t.Errorf("ReadPCM16() = %v, want [1000 2000]", pcm)
	}
}

func TestReadPCM16_Unknown(t *testing.T) {
	t.Parallel()

	_, _, err := ReadPCM16(bytes.NewReader([]byte("definitely not a sound file")), DecodeOptions{})
	if !errors.Is(err, audio.ErrUnknownFormat) {
		t.Errorf("ReadPCM16() error = %v, want ErrUnknownFormat", err)
	}
}

func BenchmarkReadPCM16(b *testing.B) {
	samples := make([]int16, 2*44100)
	for i := range samples {
		samples[i] = int16(i)
	}
	var file bytes.Buffer
	if err := wav.WriteWAV16(&file, 44100, 2, samples); err != nil {
		b.Fatal(err)
	}
	data := file.Bytes()

	b.ReportAllocs()
	for b.Loop() {
		if _, _, err := ReadPCM16(bytes.NewReader(data), DecodeOptions{TargetRate: 8000, Mono: true}); err != nil {
			b.Fatal(err)
		}
	}
}
