// Package packet decodes captured link-layer frames into a flat Frame view and
// encodes outbound probe frames (ICMP echo, TCP SYN, UDP) with correct
// checksums.
package packet

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// Transport identifies the transport protocol of a decoded frame.
type Transport uint8

const (
	TransportNone Transport = iota
	TransportTCP
	TransportUDP
	TransportICMPv4
	TransportICMPv6
)

func (t Transport) String() string {
	switch t {
	case TransportTCP:
		return "tcp"
	case TransportUDP:
		return "udp"
	case TransportICMPv4:
		return "icmp"
	case TransportICMPv6:
		return "icmpv6"
	}
	return "none"
}

// TCPFlags is the TCP control-bit set in wire order.
type TCPFlags uint8

const (
	FlagFIN TCPFlags = 1 << iota
	FlagSYN
	FlagRST
	FlagPSH
	FlagACK
	FlagURG
	FlagECE
	FlagCWR
)

var flagNames = []string{"FIN", "SYN", "RST", "PSH", "ACK", "URG", "ECE", "CWR"}

func (f TCPFlags) String() string {
	var parts []string
	for i, name := range flagNames {
		if f&(1<<i) != 0 {
			parts = append(parts, name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "+")
}

// Frame is the decoded view of one captured frame. It holds copies only, so
// it stays valid after the capture buffer is reused.
type Frame struct {
	Src       netip.Addr
	Dst       netip.Addr
	TTL       uint8 // IPv4 TTL or IPv6 hop limit
	Transport Transport

	SrcPort uint16
	DstPort uint16
	Flags   TCPFlags
	Seq     uint32
	Ack     uint32

	ICMPType uint8
	ICMPCode uint8
	ICMPID   uint16
	ICMPSeq  uint16
}

// IsEchoReply reports whether the frame is an ICMP or ICMPv6 echo reply.
func (f *Frame) IsEchoReply() bool {
	switch f.Transport {
	case TransportICMPv4:
		return f.ICMPType == layers.ICMPv4TypeEchoReply
	case TransportICMPv6:
		return f.ICMPType == layers.ICMPv6TypeEchoReply
	}
	return false
}

// Decoder turns raw frames into Frames using preallocated layers.
// A Decoder is not safe for concurrent use.
type Decoder struct {
	parser  *gopacket.DecodingLayerParser
	parser6 *gopacket.DecodingLayerParser // raw IP links only

	eth     layers.Ethernet
	dot1q   layers.Dot1Q
	sll     layers.LinuxSLL
	ip4     layers.IPv4
	ip6     layers.IPv6
	tcp     layers.TCP
	udp     layers.UDP
	icmp4   layers.ICMPv4
	icmp6   layers.ICMPv6
	echo6   layers.ICMPv6Echo
	payload gopacket.Payload

	decoded []gopacket.LayerType
}

// NewDecoder returns a decoder for frames of the given link type. Ethernet,
// Linux cooked capture and raw IP links are supported.
func NewDecoder(link layers.LinkType) (*Decoder, error) {
	d := &Decoder{decoded: make([]gopacket.LayerType, 0, 8)}
	transport := []gopacket.DecodingLayer{
		&d.ip4, &d.ip6, &d.tcp, &d.udp, &d.icmp4, &d.icmp6, &d.echo6, &d.payload,
	}

	switch link {
	case layers.LinkTypeEthernet:
		d.parser = gopacket.NewDecodingLayerParser(layers.LayerTypeEthernet,
			append([]gopacket.DecodingLayer{&d.eth, &d.dot1q}, transport...)...)
	case layers.LinkTypeLinuxSLL:
		d.parser = gopacket.NewDecodingLayerParser(layers.LayerTypeLinuxSLL,
			append([]gopacket.DecodingLayer{&d.sll}, transport...)...)
	case layers.LinkTypeRaw, layers.LinkTypeIPv4, layers.LinkTypeIPv6:
		// No link header: pick the parser from the IP version nibble.
		d.parser = gopacket.NewDecodingLayerParser(layers.LayerTypeIPv4, transport...)
		d.parser6 = gopacket.NewDecodingLayerParser(layers.LayerTypeIPv6, transport...)
		d.parser6.IgnoreUnsupported = true
	default:
		return nil, fmt.Errorf("unsupported link type %s", link)
	}
	d.parser.IgnoreUnsupported = true
	return d, nil
}

// Decode fills f from data. It returns false for anything that is not an IP
// packet carrying TCP, UDP, ICMP or ICMPv6, including truncated frames.
func (d *Decoder) Decode(data []byte, f *Frame) bool {
	p := d.parser
	if d.parser6 != nil && len(data) > 0 && data[0]>>4 == 6 {
		p = d.parser6
	}
	if err := p.DecodeLayers(data, &d.decoded); err != nil {
		return false
	}

	*f = Frame{}
	for _, lt := range d.decoded {
		switch lt {
		case layers.LayerTypeIPv4:
			f.Src, _ = netip.AddrFromSlice(d.ip4.SrcIP.To4())
			f.Dst, _ = netip.AddrFromSlice(d.ip4.DstIP.To4())
			f.TTL = d.ip4.TTL
		case layers.LayerTypeIPv6:
			f.Src, _ = netip.AddrFromSlice(d.ip6.SrcIP)
			f.Dst, _ = netip.AddrFromSlice(d.ip6.DstIP)
			f.TTL = d.ip6.HopLimit
		case layers.LayerTypeTCP:
			f.Transport = TransportTCP
			f.SrcPort = uint16(d.tcp.SrcPort)
			f.DstPort = uint16(d.tcp.DstPort)
			f.Flags = tcpFlags(&d.tcp)
			f.Seq = d.tcp.Seq
			f.Ack = d.tcp.Ack
		case layers.LayerTypeUDP:
			f.Transport = TransportUDP
			f.SrcPort = uint16(d.udp.SrcPort)
			f.DstPort = uint16(d.udp.DstPort)
		case layers.LayerTypeICMPv4:
			f.Transport = TransportICMPv4
			f.ICMPType = d.icmp4.TypeCode.Type()
			f.ICMPCode = d.icmp4.TypeCode.Code()
			f.ICMPID = d.icmp4.Id
			f.ICMPSeq = d.icmp4.Seq
		case layers.LayerTypeICMPv6:
			f.Transport = TransportICMPv6
			f.ICMPType = d.icmp6.TypeCode.Type()
			f.ICMPCode = d.icmp6.TypeCode.Code()
		case layers.LayerTypeICMPv6Echo:
			f.ICMPID = d.echo6.Identifier
			f.ICMPSeq = d.echo6.SeqNumber
		}
	}
	return f.Transport != TransportNone && f.Src.IsValid()
}

func tcpFlags(t *layers.TCP) TCPFlags {
	var f TCPFlags
	if t.FIN {
		f |= FlagFIN
	}
	if t.SYN {
		f |= FlagSYN
	}
	if t.RST {
		f |= FlagRST
	}
	if t.PSH {
		f |= FlagPSH
	}
	if t.ACK {
		f |= FlagACK
	}
	if t.URG {
		f |= FlagURG
	}
	if t.ECE {
		f |= FlagECE
	}
	if t.CWR {
		f |= FlagCWR
	}
	return f
}
