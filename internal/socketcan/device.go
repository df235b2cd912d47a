//go:build linux

package socketcan

import (
	"encoding/binary"
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"github.com/kstaniek/cannelloni-tunnel/internal/can"
)

type Device struct {
	fd int
}

// Open binds a raw AF_CAN socket to iface with CAN-FD frames enabled, so
// both classic (CAN_MTU) and FD (CANFD_MTU) sized frames can be read and
// written, per spec.md §3's CAN-FD payload requirement.
func Open(iface string) (*Device, error) {
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("socket(AF_CAN): %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FD_FRAMES, 1); err != nil {
		// Older kernels may not know this option; fall back to classic-only.
		if err != unix.ENOPROTOOPT {
			_ = unix.Close(fd)
			return nil, fmt.Errorf("enable CAN FD: %w", err)
		}
	}
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("if %q: %w", iface, err)
	}
	sa := &unix.SockaddrCAN{Ifindex: ifi.Index}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("bind(can@%s): %w", iface, err)
	}
	return &Device{fd: fd}, nil
}

func (d *Device) Close() error { return unix.Close(d.fd) }

// ReadFrame reads one frame, classic or CAN-FD, from the raw CAN socket.
//
// struct can_frame (linux/can.h), 16 bytes:
//
//	can_id  u32   [0:4]  (includes EFF/RTR/ERR flags)
//	can_dlc u8    [4]
//	pad     3B    [5:8]
//	data    [8]   [8:16]
//
// struct canfd_frame, 72 bytes:
//
//	can_id  u32   [0:4]
//	len     u8    [4]    (0-64, not DLC-encoded)
//	flags   u8    [5]    (CANFD_BRS, CANFD_ESI, ...)
//	res0/1  2B    [6:8]
//	data    [64]  [8:72]
//
// The kernel provides these fields in host byte order; this core targets
// little-endian Linux, matching the teacher's existing ReadFrame.
func (d *Device) ReadFrame(fr *can.Frame) error {
	var buf [unix.CANFD_MTU]byte
	n, err := unix.Read(d.fd, buf[:])
	if err != nil {
		return err
	}

	fr.CANID = binary.LittleEndian.Uint32(buf[0:4])

	switch n {
	case unix.CAN_MTU:
		dlc := int(buf[4])
		if dlc < 0 || dlc > 8 {
			dlc = 8
		}
		fr.Len = uint8(dlc)
		fr.Flags = 0
		copy(fr.Data[:dlc], buf[8:8+dlc])
		return nil
	case unix.CANFD_MTU:
		length := int(buf[4])
		if length < 0 || length > can.MaxDataLen {
			length = can.MaxDataLen
		}
		fr.Len = uint8(length) | can.CANFDFrame
		fr.Flags = buf[5]
		copy(fr.Data[:length], buf[8:8+length])
		return nil
	default:
		return fmt.Errorf("socketcan: unexpected read size %d", n)
	}
}

// WriteFrame writes one frame, classic or CAN-FD depending on fr.IsFD(), to
// the raw CAN socket.
func (d *Device) WriteFrame(fr can.Frame) error {
	if fr.IsFD() {
		var buf [unix.CANFD_MTU]byte
		binary.LittleEndian.PutUint32(buf[0:4], fr.CANID)
		eff := fr.EffectiveLen()
		buf[4] = eff
		buf[5] = fr.Flags
		copy(buf[8:], fr.Data[:eff])
		_, err := unix.Write(d.fd, buf[:])
		return err
	}
	var buf [unix.CAN_MTU]byte
	binary.LittleEndian.PutUint32(buf[0:4], fr.CANID)
	buf[4] = fr.Len
	copy(buf[8:], fr.Data[:fr.Len])
	_, err := unix.Write(d.fd, buf[:])
	return err
}
