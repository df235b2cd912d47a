// Package peergate implements the inbound admission check (C5): strict
// peer-address verification, applied before a received datagram ever
// reaches a codec, and an optional inbound frame-ID filter, applied to
// each frame after parsing.
package peergate

import (
	"net"
	"net/netip"

	"github.com/kstaniek/cannelloni-tunnel/internal/can"
)

// Gate decides whether an inbound UDP datagram is accepted.
type Gate struct {
	// Peer is the configured remote endpoint. Nil disables address checking
	// entirely (CheckPeer == false).
	Peer *net.UDPAddr
	// CheckPeer mirrors cannelloni's check_peer option: when true, every
	// datagram's source IP must match Peer's IP (port ignored, per
	// original_source/udpthread.cpp's memcmp on sin_addr/sin6_addr alone).
	CheckPeer bool
	// FrameFilter, if set, is applied per-frame after a datagram has
	// already passed the address check and been parsed; a frame for which
	// it returns false is dropped before reaching the CAN sink. This is
	// independent of the Generic codec's outbound FilterRule (spec.md §4.5
	// and §4.2 are separate filters on separate paths).
	FrameFilter func(*can.Frame) bool
}

// AllowAddr reports whether a datagram from addr should be parsed at all.
func (g *Gate) AllowAddr(addr net.Addr) bool {
	if g == nil || !g.CheckPeer || g.Peer == nil {
		return true
	}
	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		return false
	}
	got, ok1 := netip.AddrFromSlice(udpAddr.IP)
	want, ok2 := netip.AddrFromSlice(g.Peer.IP)
	if !ok1 || !ok2 {
		return false
	}
	// Family-specific comparison: both addresses are unmapped first, so a
	// v4-in-v6-mapped address counts as IPv4 and compares equal to its
	// plain IPv4 form; an IPv4 address never matches an IPv6 one.
	got = got.Unmap()
	want = want.Unmap()
	if got.Is4() != want.Is4() {
		return false
	}
	return got == want
}

// AllowFrame reports whether a successfully parsed inbound frame should be
// delivered to the local CAN sink.
func (g *Gate) AllowFrame(f *can.Frame) bool {
	if g == nil || g.FrameFilter == nil {
		return true
	}
	return g.FrameFilter(f)
}
