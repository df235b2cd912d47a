package transport

import (
	"github.com/kstaniek/cannelloni-tunnel/internal/can"
)

// FrameSink is a generic CAN frame transmission target, implemented by
// both CAN-side TXWriters (socketcan, serial) and consumed by the UDP
// endpoint's inbound-to-local-CAN delivery path.
type FrameSink interface {
	SendFrame(can.Frame) error
}

// SinkFunc adapts a plain function to a FrameSink.
type SinkFunc func(can.Frame) error

func (f SinkFunc) SendFrame(fr can.Frame) error { return f(fr) }
