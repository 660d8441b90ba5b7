package packet

import (
	"encoding/binary"
	"net"
	"net/netip"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

var (
	testSrcMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	testGwMAC  = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0xfe}
	testSrc4   = netip.MustParseAddr("10.0.0.5")
	testSrc6   = netip.MustParseAddr("2001:db8::5")
)

// onesComplement is the RFC 1071 Internet checksum of b.
func onesComplement(b []byte, initial uint32) uint16 {
	sum := initial
	for i := 0; i+1 < len(b); i += 2 {
		sum += uint32(binary.BigEndian.Uint16(b[i:]))
	}
	if len(b)%2 == 1 {
		sum += uint32(b[len(b)-1]) << 8
	}
	for sum > 0xffff {
		sum = (sum >> 16) + (sum & 0xffff)
	}
	return ^uint16(sum)
}

// pseudoHeaderSum folds the IPv4 or IPv6 pseudo-header into a partial sum.
func pseudoHeaderSum(proto uint8, src, dst []byte, length int) uint32 {
	var sum uint32
	for _, addr := range [][]byte{src, dst} {
		for i := 0; i+1 < len(addr); i += 2 {
			sum += uint32(binary.BigEndian.Uint16(addr[i:]))
		}
	}
	sum += uint32(proto)
	sum += uint32(length)
	return sum
}

// verifyTransportChecksum recomputes the checksum over a segment that already
// carries its checksum; a correct segment sums to zero.
func verifyTransportChecksum(t *testing.T, proto uint8, src, dst, segment []byte) {
	t.Helper()
	if got := onesComplement(segment, pseudoHeaderSum(proto, src, dst, len(segment))); got != 0 {
		t.Fatalf("transport checksum does not verify: residual %04x", got)
	}
}

// replyFrame serializes an Ethernet frame carrying the given layers, as a
// remote host would send it back to us.
func replyFrame(t *testing.T, ls ...gopacket.SerializableLayer) []byte {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	all := append([]gopacket.SerializableLayer{&layers.Ethernet{
		SrcMAC:       testGwMAC,
		DstMAC:       testSrcMAC,
		EthernetType: ethTypeFor(ls[0]),
	}}, ls...)
	if err := gopacket.SerializeLayers(buf, opts, all...); err != nil {
		t.Fatalf("serialize: %v", err)
	}
	return buf.Bytes()
}

func ethTypeFor(l gopacket.SerializableLayer) layers.EthernetType {
	if _, ok := l.(*layers.IPv6); ok {
		return layers.EthernetTypeIPv6
	}
	return layers.EthernetTypeIPv4
}
