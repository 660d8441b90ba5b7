//go:build linux

package sender

import (
	"errors"
	"fmt"
	"net/netip"

	"github.com/google/gopacket/afpacket"
	"golang.org/x/sys/unix"
)

// A transmit ring needs far fewer blocks than the receive side; probes are
// paced by the limiter, not by the ring.
const txBlocks = 8

func newPacketWriter(iface string) (PacketWriter, error) {
	tp, err := afpacket.NewTPacket(
		afpacket.OptInterface(iface),
		afpacket.OptFrameSize(2048),
		afpacket.OptBlockSize(1<<20),
		afpacket.OptNumBlocks(txBlocks),
		afpacket.OptTPacketVersion(afpacket.TPacketVersion2),
	)
	if err != nil {
		return nil, fmt.Errorf("afpacket writer on %s: %w", iface, err)
	}
	return tp, nil
}

// ipv6HdrIncl is IPV6_HDRINCL, which x/sys/unix does not define.
const ipv6HdrIncl = 36

var errNoIPv4Socket = errors.New("tunnel has no IPv4 raw socket")

// rawTunnel sends raw IP probes on links without an Ethernet header (GRE,
// SIT, IPIP). Injecting below such a link skips its encapsulation, so the
// probes go through header-included raw sockets and the kernel routes them.
type rawTunnel struct {
	v6, v4 int // -1 when the family could not be opened
}

func newTunnelWriter(iface string) (PacketWriter, error) {
	v6, err := openRaw(unix.AF_INET6, unix.IPPROTO_IPV6, ipv6HdrIncl, iface)
	if err != nil {
		return nil, fmt.Errorf("IPv6 raw socket on %s: %w", iface, err)
	}
	// v6-only tunnels are common; without this socket only IPv4 writes fail.
	v4, err := openRaw(unix.AF_INET, unix.IPPROTO_IP, unix.IP_HDRINCL, iface)
	if err != nil {
		v4 = -1
	}
	return &rawTunnel{v6: v6, v4: v4}, nil
}

func openRaw(family, level, hdrincl int, iface string) (int, error) {
	fd, err := unix.Socket(family, unix.SOCK_RAW, unix.IPPROTO_RAW)
	if err != nil {
		return -1, err
	}
	if err := unix.SetsockoptInt(fd, level, hdrincl, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("header include: %w", err)
	}
	if err := unix.BindToDevice(fd, iface); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("bind to device: %w", err)
	}
	return fd, nil
}

func (t *rawTunnel) WritePacketData(pkt []byte) error {
	dst, err := packetDst(pkt)
	if err != nil {
		return err
	}
	if dst.Is6() {
		return unix.Sendto(t.v6, pkt, 0, &unix.SockaddrInet6{Addr: dst.As16()})
	}
	if t.v4 < 0 {
		return errNoIPv4Socket
	}
	return unix.Sendto(t.v4, pkt, 0, &unix.SockaddrInet4{Addr: dst.As4()})
}

// packetDst reads the destination address out of a raw IP packet.
func packetDst(pkt []byte) (netip.Addr, error) {
	if len(pkt) == 0 {
		return netip.Addr{}, errors.New("empty packet")
	}
	switch pkt[0] >> 4 {
	case 4:
		if len(pkt) >= 20 {
			return netip.AddrFrom4([4]byte(pkt[16:20])), nil
		}
	case 6:
		if len(pkt) >= 40 {
			return netip.AddrFrom16([16]byte(pkt[24:40])), nil
		}
	default:
		return netip.Addr{}, fmt.Errorf("not an IP packet (version %d)", pkt[0]>>4)
	}
	return netip.Addr{}, fmt.Errorf("truncated IPv%d header: %d bytes", pkt[0]>>4, len(pkt))
}

func (t *rawTunnel) Close() {
	for _, fd := range []int{t.v6, t.v4} {
		if fd >= 0 {
			unix.Close(fd)
		}
	}
}
