// Package fanout adapts the teacher's multi-client hub into a single-role
// broadcaster for optional debug/observer taps on the inbound decode path.
// Unlike a TCP server's hub, the tunnel has exactly one mandatory
// destination per direction (the local CAN sink); fanout exists only so a
// debug tool or test harness can subscribe to a read-only copy of what
// crosses that path without ever being allowed to slow it down.
package fanout

import (
	"sync"
	"sync/atomic"

	"github.com/kstaniek/cannelloni-tunnel/internal/can"
	"github.com/kstaniek/cannelloni-tunnel/internal/metrics"
)

// Policy selects what happens to a tap whose buffer is full.
type Policy int

const (
	// PolicyDrop silently discards the frame for that tap.
	PolicyDrop Policy = iota
	// PolicyKick closes the slow tap so its reader can detect and reconnect.
	PolicyKick
)

// Tap is a single observer's inbound queue.
type Tap struct {
	Out       chan can.Frame
	Closed    chan struct{}
	closeOnce sync.Once
}

// Close signals the tap is done; idempotent.
func (t *Tap) Close() {
	t.closeOnce.Do(func() { close(t.Closed) })
}

// NewTap creates a Tap with a buffer of the given size.
func NewTap(buf int) *Tap {
	return &Tap{Out: make(chan can.Frame, buf), Closed: make(chan struct{})}
}

// Fanout holds zero or more Taps and publishes frames to them without ever
// blocking the caller.
type Fanout struct {
	mu     sync.RWMutex
	taps   map[*Tap]struct{}
	Policy Policy

	drops atomic.Uint64
	kicks atomic.Uint64
}

// New creates an empty Fanout.
func New() *Fanout { return &Fanout{taps: make(map[*Tap]struct{})} }

// Add registers a tap.
func (f *Fanout) Add(t *Tap) {
	f.mu.Lock()
	f.taps[t] = struct{}{}
	f.mu.Unlock()
}

// Remove unregisters and closes a tap; safe to call more than once.
func (f *Fanout) Remove(t *Tap) {
	f.mu.Lock()
	_, existed := f.taps[t]
	if existed {
		delete(f.taps, t)
	}
	f.mu.Unlock()
	if existed {
		t.Close()
	}
}

// Publish delivers fr to every registered tap, honoring Policy for a full
// buffer. It never blocks: a slow or dead observer can only affect itself.
func (f *Fanout) Publish(fr can.Frame) {
	f.mu.RLock()
	taps := make([]*Tap, 0, len(f.taps))
	for t := range f.taps {
		taps = append(taps, t)
	}
	f.mu.RUnlock()

	for _, t := range taps {
		select {
		case t.Out <- fr:
		default:
			if f.Policy == PolicyKick {
				f.kicks.Add(1)
				metrics.IncFanoutKick()
				t.Close()
			} else {
				f.drops.Add(1)
				metrics.IncFanoutDrop()
			}
		}
	}
}

// Count returns the number of active taps.
func (f *Fanout) Count() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.taps)
}

// Drops returns the cumulative number of frames dropped under PolicyDrop.
func (f *Fanout) Drops() uint64 { return f.drops.Load() }

// Kicks returns the cumulative number of taps closed under PolicyKick.
func (f *Fanout) Kicks() uint64 { return f.kicks.Load() }
