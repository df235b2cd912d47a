// Package dispatch implements the flush dispatcher (C4's other half): the
// on-insert and on-fire policies that tie the frame pool, the flush timer,
// a codec, and the per-ID timeout table together into the outbound path
// described in spec.md §4.4.
package dispatch

import (
	"sync/atomic"

	"github.com/kstaniek/cannelloni-tunnel/internal/can"
	"github.com/kstaniek/cannelloni-tunnel/internal/codec"
	"github.com/kstaniek/cannelloni-tunnel/internal/flush"
	"github.com/kstaniek/cannelloni-tunnel/internal/metrics"
	"github.com/kstaniek/cannelloni-tunnel/internal/pool"
	"github.com/kstaniek/cannelloni-tunnel/internal/timeouttable"
)

// UsablePayload returns the payload a datagram of the given link MTU can
// carry once the IP and UDP headers are subtracted, per spec.md §4.4's
// "MTU − IP_header − UDP_header" rule. ipv6 selects the 40-byte IPv6
// header over the 20-byte IPv4 minimum.
func UsablePayload(mtu int, ipv6 bool) int {
	const udpHeader = 8
	ipHeader := 20
	if ipv6 {
		ipHeader = 40
	}
	n := mtu - ipHeader - udpHeader
	if n < 0 {
		return 0
	}
	return n
}

// Sender abstracts the UDP socket write the dispatcher needs; satisfied by
// *net.UDPConn.
type Sender interface {
	Write([]byte) (int, error)
}

// Dispatcher owns the flush decision for one endpoint's outbound path.
type Dispatcher struct {
	Pool    *pool.Pool
	Timer   *flush.Timer
	Codec   codec.Codec
	Timeout *timeouttable.Table
	Sort    bool
	Payload int // usable bytes per datagram, see UsablePayload

	send func([]byte) (int, error)
	buf  []byte
	seq  atomic.Uint32

	OnShortSend func(wrote, want int)
	OnOverflow  func()
}

// New builds a Dispatcher writing completed datagrams via sender.
func New(p *pool.Pool, t *flush.Timer, c codec.Codec, tt *timeouttable.Table, payload int, sender Sender) *Dispatcher {
	return &Dispatcher{
		Pool:    p,
		Timer:   t,
		Codec:   c,
		Timeout: tt,
		Payload: payload,
		send:    sender.Write,
		buf:     make([]byte, payload),
	}
}

// Insert runs the on-insert policy from spec.md §4.4: enable the timer if
// idle, fire immediately if this frame would guarantee overflow on the
// next datagram, otherwise consult the timeout table to possibly shrink
// the armed fire time. The frame must already be filled in (obtained via
// Pool.RequestNB); Insert places it on Pending.
func (d *Dispatcher) Insert(f *can.Frame) {
	d.Pool.Insert(f)

	if !d.Timer.IsEnabled() {
		d.Timer.Enable()
	}

	headerAndMin := d.Codec.HeaderSize() + d.Codec.MinFrameSize()
	if d.Pool.PendingSize()+headerAndMin > d.Payload {
		d.Timer.Fire()
		return
	}

	if d.Timeout == nil {
		return
	}
	id := f.ID()
	if period, ok := d.Timeout.Lookup(id); ok {
		if d.Timer.Adjust(d.Timer.Base(), period) {
			metrics.IncTimerAdjustment()
		}
	}
}

// Fire runs the on-fire policy: swap, optionally sort, encode into the
// usable payload, requeue any overflow tail, send, unlock, and merge. It
// returns the number of frames actually sent in this datagram.
func (d *Dispatcher) Fire() (int, error) {
	if d.Pool.PendingLen() == 0 {
		d.Timer.Disable()
		return 0, nil
	}

	d.Pool.Swap()
	if d.Sort {
		d.Pool.SortIntermediate()
	}

	frames := d.Pool.InFlight()
	seq := uint8(d.seq.Add(1))
	n, overflowAt, err := d.Codec.Encode(d.buf, frames, seq)
	if err != nil {
		d.Pool.UnlockIntermediate()
		d.Pool.MergeIntermediate()
		return 0, err
	}

	sent := len(frames)
	if overflowAt >= 0 {
		sent = overflowAt
		d.Pool.ReturnIntermediate(overflowAt)
		if d.OnOverflow != nil {
			d.OnOverflow()
		}
	}

	var sendErr error
	if n > 0 {
		wrote, werr := d.send(d.buf[:n])
		if werr != nil {
			sendErr = werr
		} else if wrote != n && d.OnShortSend != nil {
			d.OnShortSend(wrote, n)
		}
	}

	d.Pool.UnlockIntermediate()
	d.Pool.MergeIntermediate()

	if d.Pool.PendingLen() > 0 {
		// A timer that has fired is still enabled but no longer armed, and
		// Enable is a no-op on an enabled timer: cycle it to re-arm at base.
		d.Timer.Disable()
		d.Timer.Enable()
	} else {
		d.Timer.Disable()
	}
	return sent, sendErr
}
