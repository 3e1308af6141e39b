// SPDX-License-Identifier: EPL-2.0

package mediapipe

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/ik5/mediapipe/audio"
	"github.com/ik5/mediapipe/extract"
	"github.com/ik5/mediapipe/media"
)

// ReadPCM16 decodes a whole file from r into interleaved 16-bit samples,
// shaped by opts the same way a decode stage shapes its output. The file
// type is sniffed from its first bytes. The returned clock describes the
// samples.
func ReadPCM16(r io.Reader, opts DecodeOptions) ([]int16, media.Clock, error) {
	br := bufio.NewReaderSize(r, 4096)
	head, err := br.Peek(3072)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, media.Clock{}, fmt.Errorf("read pcm: %w", err)
	}
	mime, ok := extract.Sniff(head)
	if !ok {
		return nil, media.Clock{}, fmt.Errorf("%w: %q", audio.ErrUnknownFormat, mime)
	}

	src, err := DefaultRegistry().Decode(mime, br)
	if err != nil {
		return nil, media.Clock{}, err
	}
	defer src.Close()

	if opts.Mono && src.Channels() > 1 {
		src = audio.NewMonoSource(src, opts.Downmix)
	}

	clock := media.Clock{SampleRate: src.SampleRate(), Channels: src.Channels(), BytesPerSample: 2}
	if opts.TargetRate > 0 {
		clock.SampleRate = opts.TargetRate
	}

	pcm, err := audio.ReadAll16(src, opts.TargetRate, src.BufSize())
	if err != nil {
		return nil, media.Clock{}, err
	}
	return pcm, clock, nil
}
