package receiver

import (
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

var (
	localMAC = net.HardwareAddr{0x02, 0, 0, 0, 0, 0x01}
	gwMAC    = net.HardwareAddr{0x02, 0, 0, 0, 0, 0xfe}
	localIP  = net.IP{10, 0, 0, 5}
)

var errNoFrame = errors.New("no frame")

// scriptedSource replays a fixed sequence of frames and read errors. Once the
// script is exhausted it sets done (if non-nil) and keeps failing reads.
type scriptedSource struct {
	steps []scriptStep
	next  int
	done  *atomic.Bool
	reads int
}

type scriptStep struct {
	data []byte
	err  error
}

func (s *scriptedSource) ReadPacket() ([]byte, gopacket.CaptureInfo, error) {
	s.reads++
	if s.next >= len(s.steps) {
		if s.done != nil {
			s.done.Store(true)
		}
		time.Sleep(time.Millisecond)
		return nil, gopacket.CaptureInfo{}, errNoFrame
	}
	st := s.steps[s.next]
	s.next++
	if st.err != nil {
		return nil, gopacket.CaptureInfo{}, st.err
	}
	return st.data, gopacket.CaptureInfo{CaptureLength: len(st.data), Length: len(st.data)}, nil
}

func frames(fs ...[]byte) []scriptStep {
	out := make([]scriptStep, len(fs))
	for i, f := range fs {
		out[i] = scriptStep{data: f}
	}
	return out
}

func serialize(t *testing.T, ls ...gopacket.SerializableLayer) []byte {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, ls...); err != nil {
		t.Fatalf("serialize: %v", err)
	}
	return append([]byte(nil), buf.Bytes()...)
}

// tcpReply builds an Ethernet/IPv4/TCP frame from src:sport to the local host.
func tcpReply(t *testing.T, src string, sport uint16, syn, rst bool) []byte {
	t.Helper()
	eth := &layers.Ethernet{SrcMAC: gwMAC, DstMAC: localMAC, EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{Version: 4, TTL: 55, Protocol: layers.IPProtocolTCP,
		SrcIP: net.ParseIP(src).To4(), DstIP: localIP}
	tcp := &layers.TCP{SrcPort: layers.TCPPort(sport), DstPort: 40000, SYN: syn, RST: rst, ACK: true, Window: 64240}
	if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
		t.Fatal(err)
	}
	return serialize(t, eth, ip, tcp)
}

// echoReply builds an Ethernet/IPv4/ICMP echo reply from src.
func echoReply(t *testing.T, src string) []byte {
	t.Helper()
	eth := &layers.Ethernet{SrcMAC: gwMAC, DstMAC: localMAC, EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{Version: 4, TTL: 63, Protocol: layers.IPProtocolICMPv4,
		SrcIP: net.ParseIP(src).To4(), DstIP: localIP}
	icmp := &layers.ICMPv4{TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoReply, 0), Id: 7, Seq: 1}
	return serialize(t, eth, ip, icmp, gopacket.Payload("rs_recon"))
}
