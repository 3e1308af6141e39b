// SPDX-License-Identifier: EPL-2.0

package audio

import (
	"fmt"
	"io"
	"slices"
	"sync"
)

// Source is a stream of interleaved float32 samples in [-1,1].
type Source interface {
	// SampleRate of the stream in Hz.
	SampleRate() int
	// Channels count (1=mono, 2=stereo).
	Channels() int
	// ReadSamples fills dst and returns the number of float32 values written,
	// not frames. n == 0 with io.EOF ends the stream.
	ReadSamples(dst []float32) (n int, err error)

	BufSize() int

	Close() error
}

// Decoder constructs a Source from compressed input.
type Decoder interface {
	Decode(r io.Reader) (Source, error)
}

// Registry maps mime types ("audio/wav", "audio/mpeg", ...) to decoders.
type Registry struct {
	mu     sync.RWMutex
	codecs map[string]Decoder
}

func NewRegistry() *Registry {
	return &Registry{codecs: make(map[string]Decoder)}
}

// Register binds d to one or more mime types.
func (r *Registry) Register(d Decoder, mimes ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, m := range mimes {
		r.codecs[m] = d
	}
}

func (r *Registry) Get(mime string) (Decoder, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.codecs[mime]
	return d, ok
}

// Decode looks up the decoder for mime and opens rd with it.
func (r *Registry) Decode(mime string, rd io.Reader) (Source, error) {
	d, ok := r.Get(mime)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, mime)
	}

	src, err := d.Decode(rd)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", mime, err)
	}
	return src, nil
}

// Mimes lists the registered mime types in order.
func (r *Registry) Mimes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.codecs))
	for m := range r.codecs {
		out = append(out, m)
	}
	slices.Sort(out)
	return out
}
