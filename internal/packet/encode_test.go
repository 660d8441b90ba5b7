package packet

import (
	"bytes"
	"net/netip"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBuilder(t *testing.T) *ProbeBuilder {
	t.Helper()
	b, err := NewProbeBuilder(LinkConfig{
		SrcMAC:  testSrcMAC,
		DstMAC:  testGwMAC,
		SrcIP4:  testSrc4,
		SrcIP6:  testSrc6,
		SrcPort: 40000,
	})
	require.NoError(t, err)
	return b
}

func TestBuildSYN(t *testing.T) {
	b := newTestBuilder(t)
	dst := netip.MustParseAddr("192.0.2.10")

	data, err := b.BuildSYN(dst, 443)
	require.NoError(t, err)

	pkt := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.Default)
	eth := pkt.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	assert.Equal(t, testSrcMAC, eth.SrcMAC)
	assert.Equal(t, testGwMAC, eth.DstMAC)

	ip := pkt.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	assert.Equal(t, "10.0.0.5", ip.SrcIP.String())
	assert.Equal(t, "192.0.2.10", ip.DstIP.String())
	assert.Equal(t, uint8(64), ip.TTL)
	assert.Equal(t, layers.IPProtocolTCP, ip.Protocol)
	assert.Equal(t, uint16(0), onesComplement(ip.Contents, 0), "IPv4 header checksum")

	tcp := pkt.Layer(layers.LayerTypeTCP).(*layers.TCP)
	assert.True(t, tcp.SYN)
	assert.False(t, tcp.ACK || tcp.RST || tcp.FIN)
	assert.Equal(t, layers.TCPPort(443), tcp.DstPort)
	assert.Equal(t, layers.TCPPort(40000), tcp.SrcPort)
	assert.Equal(t, uint16(40000), b.SrcPort())

	verifyTransportChecksum(t, 6, ip.SrcIP.To4(), ip.DstIP.To4(), ip.Payload)
}

func TestBuildICMPEchoIPv4(t *testing.T) {
	b := newTestBuilder(t)

	data, err := b.BuildICMPEcho(netip.MustParseAddr("198.51.100.1"))
	require.NoError(t, err)
	assert.Len(t, data, 66)

	pkt := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.Default)
	ip := pkt.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	icmp := pkt.Layer(layers.LayerTypeICMPv4).(*layers.ICMPv4)
	assert.Equal(t, uint8(layers.ICMPv4TypeEchoRequest), icmp.TypeCode.Type())
	assert.Equal(t, uint16(0), onesComplement(ip.Payload, 0), "ICMP checksum")
}

func TestBuildICMPEchoRandomizesIdentifiers(t *testing.T) {
	b := newTestBuilder(t)
	dst := netip.MustParseAddr("198.51.100.1")

	first, err := b.BuildICMPEcho(dst)
	require.NoError(t, err)
	first = bytes.Clone(first)
	second, err := b.BuildICMPEcho(dst)
	require.NoError(t, err)

	// id and seq live at ICMP offset 4..8 (frame offset 38..42)
	assert.NotEqual(t, first[38:42], second[38:42])
}

func TestBuildICMPEchoIPv6(t *testing.T) {
	b := newTestBuilder(t)

	data, err := b.BuildICMPEcho(netip.MustParseAddr("2001:db8::1"))
	require.NoError(t, err)

	pkt := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.Default)
	ip := pkt.Layer(layers.LayerTypeIPv6).(*layers.IPv6)
	require.NotNil(t, ip)
	assert.Equal(t, layers.IPProtocolICMPv6, ip.NextHeader)

	icmp := pkt.Layer(layers.LayerTypeICMPv6).(*layers.ICMPv6)
	assert.Equal(t, uint8(layers.ICMPv6TypeEchoRequest), icmp.TypeCode.Type())
	verifyTransportChecksum(t, 58, ip.SrcIP, ip.DstIP, ip.Payload)
}

func TestBuildUDP(t *testing.T) {
	b := newTestBuilder(t)

	for _, dst := range []string{"192.0.2.20", "2001:db8::20"} {
		t.Run(dst, func(t *testing.T) {
			data, err := b.BuildUDP(netip.MustParseAddr(dst), 53)
			require.NoError(t, err)

			pkt := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.Default)
			udp := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP)
			assert.Equal(t, layers.UDPPort(53), udp.DstPort)
			assert.Equal(t, layers.UDPPort(40000), udp.SrcPort)

			nl := pkt.NetworkLayer()
			src, dstIP := nl.NetworkFlow().Endpoints()
			verifyTransportChecksum(t, 17, src.Raw(), dstIP.Raw(), nl.LayerPayload())
		})
	}
}

func TestBuildRawIPLink(t *testing.T) {
	b, err := NewProbeBuilder(LinkConfig{SrcIP4: testSrc4})
	require.NoError(t, err)

	data, err := b.BuildSYN(netip.MustParseAddr("192.0.2.1"), 22)
	require.NoError(t, err)
	assert.Equal(t, byte(0x45), data[0], "raw IPv4 header expected")
	assert.NotZero(t, b.SrcPort())
}

func TestBuilderErrors(t *testing.T) {
	_, err := NewProbeBuilder(LinkConfig{})
	assert.Error(t, err, "no source")

	_, err = NewProbeBuilder(LinkConfig{SrcIP4: testSrc4, SrcMAC: testSrcMAC})
	assert.Error(t, err, "half-configured link")

	_, err = NewProbeBuilder(LinkConfig{SrcIP4: testSrc6})
	assert.Error(t, err, "family mismatch")

	b, err := NewProbeBuilder(LinkConfig{SrcIP4: testSrc4})
	require.NoError(t, err)
	_, err = b.BuildSYN(netip.MustParseAddr("2001:db8::1"), 80)
	assert.Error(t, err, "no IPv6 source")
}

func TestDecodeOwnProbe(t *testing.T) {
	b := newTestBuilder(t)
	data, err := b.BuildSYN(netip.MustParseAddr("192.0.2.10"), 8080)
	require.NoError(t, err)

	d, err := NewDecoder(layers.LinkTypeEthernet)
	require.NoError(t, err)

	var f Frame
	require.True(t, d.Decode(data, &f))
	assert.Equal(t, TransportTCP, f.Transport)
	assert.Equal(t, FlagSYN, f.Flags)
	assert.Equal(t, testSrc4, f.Src)
	assert.Equal(t, uint16(8080), f.DstPort)
}
