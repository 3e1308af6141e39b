// SPDX-License-Identifier: EPL-2.0

package media

import "fmt"

// Kind tells which case of the Event union is populated.
type Kind uint8

const (
	KindFormat Kind = iota + 1
	KindData
)

func (k Kind) String() string {
	switch k {
	case KindFormat:
		return "format"
	case KindData:
		return "data"
	default:
		return "unknown"
	}
}

// Flags mark special buffers inside a stream.
type Flags uint32

const (
	FlagKeyFrame Flags = 1 << iota
	FlagCodecConfig
	FlagEndOfStream
)

// Has reports whether every bit of f2 is set in f.
func (f Flags) Has(f2 Flags) bool { return f&f2 == f2 }

func (f Flags) String() string {
	if f == 0 {
		return "none"
	}
	s := ""
	add := func(name string) {
		if s != "" {
			s += "|"
		}
		s += name
	}
	if f.Has(FlagKeyFrame) {
		add("key")
	}
	if f.Has(FlagCodecConfig) {
		add("config")
	}
	if f.Has(FlagEndOfStream) {
		add("eos")
	}
	return s
}

// Event is a value moving between two stages. Exactly one of Format or the
// data fields is meaningful, selected by Kind.
//
// A data buffer is owned by the event: producers never hand out memory they
// keep writing to, and consumers may mutate it in place before passing the
// event on.
type Event struct {
	Kind Kind

	Format Format

	Buffer      []byte
	TimestampUs int64
	Flags       Flags
}

// FormatEvent wraps f into a format announcement.
func FormatEvent(f Format) Event {
	return Event{Kind: KindFormat, Format: f}
}

// DataEvent wraps buf into a data event. buf is not copied.
func DataEvent(buf []byte, timestampUs int64, flags Flags) Event {
	return Event{Kind: KindData, Buffer: buf, TimestampUs: timestampUs, Flags: flags}
}

func (e Event) IsFormat() bool { return e.Kind == KindFormat }
func (e Event) IsData() bool   { return e.Kind == KindData }

// EndOfStream reports whether e is a data event carrying the EOS marker.
func (e Event) EndOfStream() bool {
	return e.Kind == KindData && e.Flags.Has(FlagEndOfStream)
}

func (e Event) String() string {
	switch e.Kind {
	case KindFormat:
		return fmt.Sprintf("format(%s)", e.Format)
	case KindData:
		return fmt.Sprintf("data(%d bytes @%dus %s)", len(e.Buffer), e.TimestampUs, e.Flags)
	default:
		return "invalid event"
	}
}

// CopyBytes returns an owned copy of b. Codec memory must never escape a
// release call, so every buffer leaving a codec passes through here.
func CopyBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
