// Package codec defines the wire-format abstraction (C2) both concrete
// variants — native cannelloni (internal/codec/native) and generic DTU
// (internal/codec/generic) — implement, plus the allocator contract codecs
// use to draw frames from the shared pool while parsing.
package codec

import (
	"errors"

	"github.com/kstaniek/cannelloni-tunnel/internal/can"
)

// Sentinel parse errors, classified per spec.md §7.
var (
	ErrWrongVersion     = errors.New("codec: wrong version")
	ErrWrongOpCode      = errors.New("codec: wrong op code")
	ErrTruncated        = errors.New("codec: truncated frame")
	ErrAllocationFailed = errors.New("codec: allocation failed")
)

// Allocator hands out Free frames and releases frames back to Free. The
// pool implements this; codecs never touch pool internals directly.
type Allocator interface {
	RequestNB() (*can.Frame, error)
	Release(*can.Frame)
}

// Codec parses datagram payloads into frames and encodes frame batches back
// into datagram payloads. Implementations are safe for concurrent use; they
// hold no mutable state beyond their construction-time configuration (see
// spec.md §9 on the Generic codec's former process-wide filter global).
type Codec interface {
	// Parse decodes every frame in buf, allocating each via a. On Truncated
	// it still returns the frames successfully parsed before the cutoff.
	Parse(buf []byte, a Allocator) ([]*can.Frame, error)
	// Encode writes as many leading frames as fit into buf. overflowAt is
	// the index of the first frame that did not fit, or -1 if all fit.
	Encode(buf []byte, frames []*can.Frame, seq uint8) (n int, overflowAt int, err error)
	// HeaderSize is the fixed per-datagram header size (0 for Generic).
	HeaderSize() int
	// MinFrameSize is the smallest possible serialized frame size, used by
	// the dispatcher's MTU early-flush check.
	MinFrameSize() int
}

// Kind selects a wire-format variant at construction time (spec.md §9:
// runtime enum dispatch, not build-time conditional compilation).
type Kind int

const (
	Native Kind = iota
	Generic
)

func (k Kind) String() string {
	switch k {
	case Native:
		return "native"
	case Generic:
		return "generic"
	default:
		return "unknown"
	}
}

// ParseKind parses the -codec flag value.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "native", "cannelloni", "":
		return Native, nil
	case "generic", "dtu":
		return Generic, nil
	default:
		return 0, errors.New("codec: unknown kind " + s)
	}
}

// FilterRule is a (id, mask) pair; a frame matches iff frame.id & mask == id.
// An empty rule (Mask == 0) matches everything. Generic codec only.
type FilterRule struct {
	ID   uint32
	Mask uint32
}

// Match reports whether id satisfies the rule.
func (r FilterRule) Match(id uint32) bool {
	if r.Mask == 0 {
		return true
	}
	return id&r.Mask == r.ID
}
