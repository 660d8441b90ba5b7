package classify

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rs_recon/internal/packet"
)

var (
	target  = netip.MustParseAddr("192.0.2.10")
	target6 = netip.MustParseAddr("2001:db8::10")
	other   = netip.MustParseAddr("203.0.113.99")
)

func setting(st ScanType) *Setting {
	return NewSetting(st, time.Second, []netip.Addr{target, target6})
}

func tcpFrame(src netip.Addr, port uint16, flags packet.TCPFlags) *packet.Frame {
	return &packet.Frame{Src: src, TTL: 52, Transport: packet.TransportTCP, SrcPort: port, Flags: flags}
}

func TestClassifyTCP(t *testing.T) {
	tests := []struct {
		name  string
		st    ScanType
		flags packet.TCPFlags
		want  Kind
	}{
		{"syn scan syn+ack", TCPSynScan, packet.FlagSYN | packet.FlagACK, PortOpen},
		{"syn scan rst+ack", TCPSynScan, packet.FlagRST | packet.FlagACK, PortClosed},
		{"syn scan bare rst", TCPSynScan, packet.FlagRST, None},
		{"syn scan syn only", TCPSynScan, packet.FlagSYN, None},
		{"syn scan syn+ack+ece", TCPSynScan, packet.FlagSYN | packet.FlagACK | packet.FlagECE, None},
		{"tcp ping syn+ack", TCPPingScan, packet.FlagSYN | packet.FlagACK, HostUp},
		{"tcp ping rst+ack", TCPPingScan, packet.FlagRST | packet.FlagACK, HostUp},
		{"tcp ping fin+ack", TCPPingScan, packet.FlagFIN | packet.FlagACK, None},
		{"icmp scan sees tcp", ICMPPingScan, packet.FlagSYN | packet.FlagACK, None},
		{"udp scan sees tcp", UDPPingScan, packet.FlagSYN | packet.FlagACK, None},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(setting(tt.st), tcpFrame(target, 80, tt.flags))
			assert.Equal(t, tt.want, got.Kind)
		})
	}
}

func TestClassifyPortOutcomeCarriesSocket(t *testing.T) {
	got := Classify(setting(TCPSynScan), tcpFrame(target, 443, packet.FlagSYN|packet.FlagACK))
	assert.Equal(t, Outcome{Kind: PortOpen, Addr: target, Port: 443, TTL: 52}, got)

	got = Classify(setting(TCPPingScan), tcpFrame(target, 443, packet.FlagSYN|packet.FlagACK))
	assert.Equal(t, Outcome{Kind: HostUp, Addr: target, TTL: 52}, got)
}

func TestClassifyIgnoresOffTarget(t *testing.T) {
	for _, st := range []ScanType{TCPSynScan, TCPPingScan} {
		got := Classify(setting(st), tcpFrame(other, 80, packet.FlagSYN|packet.FlagACK))
		assert.Equal(t, None, got.Kind, st.String())
	}
	reply := &packet.Frame{Src: other, Transport: packet.TransportICMPv4, ICMPType: 0}
	assert.Equal(t, None, Classify(setting(ICMPPingScan), reply).Kind)
}

func TestClassifyICMP(t *testing.T) {
	s := setting(ICMPPingScan)

	reply4 := &packet.Frame{Src: target, TTL: 60, Transport: packet.TransportICMPv4, ICMPType: 0}
	assert.Equal(t, Outcome{Kind: HostUp, Addr: target, TTL: 60}, Classify(s, reply4))

	reply6 := &packet.Frame{Src: target6, TTL: 61, Transport: packet.TransportICMPv6, ICMPType: 129}
	assert.Equal(t, HostUp, Classify(s, reply6).Kind)

	unreachable := &packet.Frame{Src: target, Transport: packet.TransportICMPv4, ICMPType: 3}
	assert.Equal(t, None, Classify(s, unreachable).Kind)

	assert.Equal(t, None, Classify(setting(TCPSynScan), reply4).Kind)
}

func TestClassifyUDPIsNoop(t *testing.T) {
	f := &packet.Frame{Src: target, Transport: packet.TransportUDP, SrcPort: 53}
	assert.Equal(t, None, Classify(setting(UDPPingScan), f).Kind)
}

func TestClassifyMappedSource(t *testing.T) {
	mapped := netip.AddrFrom16(target.As16())
	got := Classify(setting(TCPSynScan), tcpFrame(mapped, 22, packet.FlagSYN|packet.FlagACK))
	assert.Equal(t, target, got.Addr)
}

func TestParseScanType(t *testing.T) {
	for in, want := range map[string]ScanType{
		"syn": TCPSynScan, "TCP-SYN": TCPSynScan, "tcp-ping": TCPPingScan,
		"icmp": ICMPPingScan, "ping": ICMPPingScan, "udp": UDPPingScan,
	} {
		got, err := ParseScanType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseScanType("xmas")
	assert.Error(t, err)
	assert.Equal(t, "syn", TCPSynScan.String())
	assert.Equal(t, "ScanType(42)", ScanType(42).String())
}

func TestScanTypeShape(t *testing.T) {
	assert.True(t, TCPSynScan.PortScan())
	assert.False(t, ICMPPingScan.PortScan())
	assert.True(t, TCPPingScan.IsTCP())
	assert.False(t, UDPPingScan.IsTCP())
}
