package peergate

import (
	"net"
	"testing"

	"github.com/kstaniek/cannelloni-tunnel/internal/can"
)

func TestAllowAddrDisabledAlwaysAllows(t *testing.T) {
	g := &Gate{CheckPeer: false}
	if !g.AllowAddr(&net.UDPAddr{IP: net.ParseIP("10.0.0.9"), Port: 1}) {
		t.Fatal("expected allow when CheckPeer is false")
	}
}

func TestAllowAddrMatchIgnoresPort(t *testing.T) {
	g := &Gate{
		CheckPeer: true,
		Peer:      &net.UDPAddr{IP: net.ParseIP("192.168.1.10"), Port: 20000},
	}
	if !g.AllowAddr(&net.UDPAddr{IP: net.ParseIP("192.168.1.10"), Port: 54321}) {
		t.Fatal("expected allow: same IP, different port")
	}
}

func TestAllowAddrRejectsDifferentIP(t *testing.T) {
	g := &Gate{
		CheckPeer: true,
		Peer:      &net.UDPAddr{IP: net.ParseIP("192.168.1.10"), Port: 20000},
	}
	if g.AllowAddr(&net.UDPAddr{IP: net.ParseIP("192.168.1.11"), Port: 20000}) {
		t.Fatal("expected reject for mismatched IP")
	}
}

func TestAllowAddrFamilyMismatch(t *testing.T) {
	g := &Gate{
		CheckPeer: true,
		Peer:      &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 1},
	}
	if g.AllowAddr(&net.UDPAddr{IP: net.ParseIP("::1"), Port: 1}) {
		t.Fatal("expected reject across address families")
	}
}

func TestAllowFrameNilFilterAllowsAll(t *testing.T) {
	g := &Gate{}
	if !g.AllowFrame(&can.Frame{CANID: 5}) {
		t.Fatal("expected allow with no filter configured")
	}
}

func TestAllowFrameAppliesFilter(t *testing.T) {
	g := &Gate{FrameFilter: func(f *can.Frame) bool { return f.CANID%2 == 0 }}
	if !g.AllowFrame(&can.Frame{CANID: 4}) {
		t.Fatal("expected allow for even ID")
	}
	if g.AllowFrame(&can.Frame{CANID: 5}) {
		t.Fatal("expected reject for odd ID")
	}
}
