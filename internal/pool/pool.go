// Package pool implements the frame pool and transmit double buffer (C3):
// a fixed set of *can.Frame handles cycling through Free, Pending, and
// InFlight, with the Pending/InFlight swap guarded by a short-lived
// "intermediate lock" that the dispatcher acquires in Swap and releases
// explicitly in UnlockIntermediate.
package pool

import (
	"sync"

	"github.com/kstaniek/cannelloni-tunnel/internal/can"
	"github.com/kstaniek/cannelloni-tunnel/internal/metrics"
)

// Pool owns every frame handle an endpoint will ever touch. Frames never
// move between pools; they only change list membership within one.
type Pool struct {
	growBy int

	freeMu sync.Mutex
	free   []*can.Frame

	pendingMu sync.Mutex
	pending   []*can.Frame

	// intermediateMu is the "intermediate lock" from spec.md §4.3: Swap
	// acquires it and UnlockIntermediate releases it as two separate calls,
	// not one deferred critical section, because the dispatcher performs
	// sort/encode/return work on InFlight in between.
	intermediateMu sync.Mutex
	inFlight       []*can.Frame
}

// New creates a pool pre-populated with initial Free frames. growBy controls
// how many additional frames RequestNB allocates at once when Free is
// empty; growBy <= 0 means "grow by one", matching the teacher's
// allocate-on-demand behavior rather than blocking.
func New(initial, growBy int) *Pool {
	if growBy <= 0 {
		growBy = 1
	}
	p := &Pool{growBy: growBy}
	p.free = make([]*can.Frame, 0, initial)
	for i := 0; i < initial; i++ {
		p.free = append(p.free, &can.Frame{})
	}
	return p
}

// RequestNB obtains a Free frame, growing the pool if none is available. It
// never blocks: spec.md §4.3's request(blocking) degrades to "always
// succeeds by allocating" for a pool with no growth throttling, which is
// the only mode this core implements.
func (p *Pool) RequestNB() (*can.Frame, error) {
	p.freeMu.Lock()
	defer p.freeMu.Unlock()
	if len(p.free) == 0 {
		metrics.IncPoolGrowth()
		for i := 0; i < p.growBy; i++ {
			p.free = append(p.free, &can.Frame{})
		}
	}
	n := len(p.free) - 1
	f := p.free[n]
	p.free[n] = nil
	p.free = p.free[:n]
	return f, nil
}

// Release returns a frame to Free. Callers must not retain f afterward.
func (p *Pool) Release(f *can.Frame) {
	*f = can.Frame{}
	p.freeMu.Lock()
	p.free = append(p.free, f)
	p.freeMu.Unlock()
}

// Insert appends a frame to Pending (Pending -> append, spec.md §4.3
// insert()). Producers call this after filling in the frame obtained from
// RequestNB.
func (p *Pool) Insert(f *can.Frame) {
	p.pendingMu.Lock()
	p.pending = append(p.pending, f)
	p.pendingMu.Unlock()
}

// PendingSize returns the serialized size, in bytes, of Pending as the
// Native codec lays frames out: can_id(4) + len(1), a flags byte only for
// FD frames, and the payload only for non-RTR frames. The dispatcher's MTU
// early-flush check (spec.md §4.4) uses this to decide whether inserting
// one more frame would overflow the next fire. It does not depend on the
// codec in play, so for the Generic codec, which pads every payload to at
// least 8 bytes, it can be smaller than the encoded size.
func (p *Pool) PendingSize() int {
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()
	n := 0
	for _, f := range p.pending {
		n += frameUpperBound(f)
	}
	return n
}

// PendingLen reports the number of frames currently in Pending.
func (p *Pool) PendingLen() int {
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()
	return len(p.pending)
}

func frameUpperBound(f *can.Frame) int {
	const nativeFrameHeader = 5 // can_id(4) + len(1)
	const flagsByte = 1
	n := nativeFrameHeader
	if f.IsFD() {
		n += flagsByte
	}
	if !f.IsRTR() {
		n += int(f.EffectiveLen())
	}
	return n
}

// Swap atomically empties Pending into InFlight and acquires the
// intermediate lock. The caller must eventually call UnlockIntermediate,
// even if it never calls SortIntermediate, ReturnIntermediate, or
// MergeIntermediate; all four are optional per call except Unlock.
func (p *Pool) Swap() {
	p.intermediateMu.Lock()
	p.pendingMu.Lock()
	p.inFlight = p.pending
	p.pending = nil
	p.pendingMu.Unlock()
}

// SortIntermediate stably sorts InFlight by CAN identifier ascending, per
// spec.md §4.3. Callers enable this via the endpoint's sort_frames option;
// it is a no-op on an empty or single-element InFlight.
func (p *Pool) SortIntermediate() {
	sortFramesByID(p.inFlight)
}

// InFlight returns the current InFlight snapshot for the codec encoder to
// read. Valid only between Swap and MergeIntermediate.
func (p *Pool) InFlight() []*can.Frame {
	return p.inFlight
}

// ReturnIntermediate moves the suffix InFlight[from:] back to the head of
// Pending, preserving order, and shrinks InFlight to InFlight[:from]. This
// is how the overflow tail from one encode call becomes the FIFO head for
// the next (spec.md §4.3/§4.4).
func (p *Pool) ReturnIntermediate(from int) {
	if from < 0 || from >= len(p.inFlight) {
		return
	}
	tail := p.inFlight[from:]
	p.inFlight = p.inFlight[:from]

	p.pendingMu.Lock()
	merged := make([]*can.Frame, 0, len(tail)+len(p.pending))
	merged = append(merged, tail...)
	merged = append(merged, p.pending...)
	p.pending = merged
	p.pendingMu.Unlock()
}

// UnlockIntermediate releases the intermediate lock acquired by Swap. It
// must be called exactly once per Swap, after any ReturnIntermediate calls
// but it may precede MergeIntermediate (spec.md §4.3 lists them as two
// separate operations, unlock before merge).
func (p *Pool) UnlockIntermediate() {
	p.intermediateMu.Unlock()
}

// MergeIntermediate releases every frame still in InFlight back to Free —
// the ones the codec successfully encoded — and clears InFlight. Call this
// after UnlockIntermediate; it does not itself need the intermediate lock
// because InFlight is only read by whoever called Swap.
func (p *Pool) MergeIntermediate() {
	for _, f := range p.inFlight {
		p.Release(f)
	}
	p.inFlight = nil
}

// ReturnPending releases a frame that was inserted into Pending but never
// reached InFlight, e.g. the peer gate or a filter rejected it before
// flush. This is the Pending -> Free transition from spec.md §4.3.
func (p *Pool) ReturnPending(f *can.Frame) {
	p.Release(f)
}
