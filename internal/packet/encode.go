package packet

import (
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"math/rand/v2"
	"net"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

const (
	defaultTTL    = 64
	defaultWindow = 1024
	echoPayload   = 24 // 66-byte ICMP echo frame on Ethernet
	udpPayload    = 24
)

// LinkConfig describes the local end of outbound probes.
type LinkConfig struct {
	// SrcMAC and DstMAC are left empty on raw IP links (TUN, GRE); probes
	// are then built without an Ethernet header.
	SrcMAC  net.HardwareAddr
	DstMAC  net.HardwareAddr
	DstMAC6 net.HardwareAddr // IPv6 next hop, defaults to DstMAC

	SrcIP4 netip.Addr
	SrcIP6 netip.Addr

	SrcPort uint16 // 0 picks a random ephemeral port
	TTL     uint8  // 0 means 64
}

// ProbeBuilder serializes probe frames. Returned slices are valid only until
// the next Build call. A ProbeBuilder is not safe for concurrent use.
type ProbeBuilder struct {
	cfg LinkConfig

	eth   layers.Ethernet
	ip4   layers.IPv4
	ip6   layers.IPv6
	tcp   layers.TCP
	udp   layers.UDP
	icmp4 layers.ICMPv4
	icmp6 layers.ICMPv6
	echo6 layers.ICMPv6Echo

	echoBody []byte
	udpBody  []byte

	opts gopacket.SerializeOptions
	buf  gopacket.SerializeBuffer
	rng  *rand.Rand
}

// NewProbeBuilder validates cfg and prepares layer templates.
func NewProbeBuilder(cfg LinkConfig) (*ProbeBuilder, error) {
	if !cfg.SrcIP4.IsValid() && !cfg.SrcIP6.IsValid() {
		return nil, fmt.Errorf("no source address configured")
	}
	if cfg.SrcIP4.IsValid() && !cfg.SrcIP4.Is4() {
		return nil, fmt.Errorf("source %s is not IPv4", cfg.SrcIP4)
	}
	if cfg.SrcIP6.IsValid() && !cfg.SrcIP6.Is6() {
		return nil, fmt.Errorf("source %s is not IPv6", cfg.SrcIP6)
	}
	if (len(cfg.SrcMAC) == 0) != (len(cfg.DstMAC) == 0) {
		return nil, fmt.Errorf("source and gateway MAC must both be set or both be empty")
	}
	if len(cfg.DstMAC6) == 0 {
		cfg.DstMAC6 = cfg.DstMAC
	}
	if cfg.TTL == 0 {
		cfg.TTL = defaultTTL
	}

	var seed [16]byte
	if _, err := crand.Read(seed[:]); err != nil {
		return nil, fmt.Errorf("seed: %w", err)
	}
	rng := rand.New(rand.NewPCG(binary.LittleEndian.Uint64(seed[:8]), binary.LittleEndian.Uint64(seed[8:])))

	if cfg.SrcPort == 0 {
		cfg.SrcPort = uint16(32768 + rng.IntN(28232))
	}

	b := &ProbeBuilder{
		cfg:      cfg,
		echoBody: make([]byte, echoPayload),
		udpBody:  make([]byte, udpPayload),
		opts:     gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true},
		buf:      gopacket.NewSerializeBuffer(),
		rng:      rng,
	}
	copy(b.echoBody, "rs_recon-echo")

	b.eth = layers.Ethernet{SrcMAC: cfg.SrcMAC, DstMAC: cfg.DstMAC}
	b.ip4 = layers.IPv4{
		Version: 4,
		TTL:     cfg.TTL,
		Flags:   layers.IPv4DontFragment,
		SrcIP:   cfg.SrcIP4.AsSlice(),
	}
	b.ip6 = layers.IPv6{
		Version:  6,
		HopLimit: cfg.TTL,
		SrcIP:    cfg.SrcIP6.AsSlice(),
	}
	b.tcp = layers.TCP{
		SrcPort: layers.TCPPort(cfg.SrcPort),
		SYN:     true,
		Window:  defaultWindow,
		Options: []layers.TCPOption{
			{OptionType: layers.TCPOptionKindMSS, OptionLength: 4, OptionData: []byte{0x05, 0xb4}},
			{OptionType: layers.TCPOptionKindSACKPermitted, OptionLength: 2},
			{OptionType: layers.TCPOptionKindNop},
			{OptionType: layers.TCPOptionKindWindowScale, OptionLength: 3, OptionData: []byte{7}},
		},
	}
	b.udp = layers.UDP{SrcPort: layers.UDPPort(cfg.SrcPort)}
	b.icmp4 = layers.ICMPv4{TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoRequest, 0)}
	b.icmp6 = layers.ICMPv6{TypeCode: layers.CreateICMPv6TypeCode(layers.ICMPv6TypeEchoRequest, 0)}
	return b, nil
}

// SrcPort returns the source port used for TCP and UDP probes.
func (b *ProbeBuilder) SrcPort() uint16 { return b.cfg.SrcPort }

// BuildICMPEcho builds an echo request to dst with a random identifier and
// sequence number.
func (b *ProbeBuilder) BuildICMPEcho(dst netip.Addr) ([]byte, error) {
	id, seq := uint16(b.rng.Uint32()), uint16(b.rng.Uint32())
	if dst.Is4() || dst.Is4In6() {
		dst = dst.Unmap()
		if err := b.prepare4(dst, layers.IPProtocolICMPv4); err != nil {
			return nil, err
		}
		b.icmp4.Id, b.icmp4.Seq = id, seq
		return b.serialize(&b.ip4, &b.icmp4, gopacket.Payload(b.echoBody))
	}
	if err := b.prepare6(dst, layers.IPProtocolICMPv6); err != nil {
		return nil, err
	}
	b.echo6.Identifier, b.echo6.SeqNumber = id, seq
	if err := b.icmp6.SetNetworkLayerForChecksum(&b.ip6); err != nil {
		return nil, err
	}
	return b.serialize(&b.ip6, &b.icmp6, &b.echo6, gopacket.Payload(b.echoBody))
}

// BuildSYN builds a TCP SYN to dst:port with a random initial sequence number.
func (b *ProbeBuilder) BuildSYN(dst netip.Addr, port uint16) ([]byte, error) {
	b.tcp.DstPort = layers.TCPPort(port)
	b.tcp.Seq = b.rng.Uint32()
	nl, err := b.prepare(dst, layers.IPProtocolTCP)
	if err != nil {
		return nil, err
	}
	if err := b.tcp.SetNetworkLayerForChecksum(nl); err != nil {
		return nil, err
	}
	return b.serialize(nl, &b.tcp)
}

// BuildUDP builds a UDP datagram with a short zero payload to dst:port.
func (b *ProbeBuilder) BuildUDP(dst netip.Addr, port uint16) ([]byte, error) {
	b.udp.DstPort = layers.UDPPort(port)
	nl, err := b.prepare(dst, layers.IPProtocolUDP)
	if err != nil {
		return nil, err
	}
	if err := b.udp.SetNetworkLayerForChecksum(nl); err != nil {
		return nil, err
	}
	return b.serialize(nl, &b.udp, gopacket.Payload(b.udpBody))
}

// networkLayer is an IP layer that can be both serialized and used for
// transport checksums.
type networkLayer interface {
	gopacket.NetworkLayer
	gopacket.SerializableLayer
}

func (b *ProbeBuilder) prepare(dst netip.Addr, proto layers.IPProtocol) (networkLayer, error) {
	if dst.Is4() || dst.Is4In6() {
		if err := b.prepare4(dst.Unmap(), proto); err != nil {
			return nil, err
		}
		return &b.ip4, nil
	}
	if err := b.prepare6(dst, proto); err != nil {
		return nil, err
	}
	return &b.ip6, nil
}

func (b *ProbeBuilder) prepare4(dst netip.Addr, proto layers.IPProtocol) error {
	if !b.cfg.SrcIP4.IsValid() {
		return fmt.Errorf("no IPv4 source for %s", dst)
	}
	b.eth.EthernetType = layers.EthernetTypeIPv4
	b.eth.DstMAC = b.cfg.DstMAC
	b.ip4.Protocol = proto
	b.ip4.Id = uint16(b.rng.Uint32())
	b.ip4.DstIP = dst.AsSlice()
	return nil
}

func (b *ProbeBuilder) prepare6(dst netip.Addr, proto layers.IPProtocol) error {
	if !dst.IsValid() {
		return fmt.Errorf("invalid destination")
	}
	if !b.cfg.SrcIP6.IsValid() {
		return fmt.Errorf("no IPv6 source for %s", dst)
	}
	b.eth.EthernetType = layers.EthernetTypeIPv6
	b.eth.DstMAC = b.cfg.DstMAC6
	b.ip6.NextHeader = proto
	b.ip6.DstIP = dst.AsSlice()
	return nil
}

func (b *ProbeBuilder) serialize(ls ...gopacket.SerializableLayer) ([]byte, error) {
	if len(b.cfg.SrcMAC) > 0 {
		ls = append([]gopacket.SerializableLayer{&b.eth}, ls...)
	}
	if err := b.buf.Clear(); err != nil {
		return nil, err
	}
	if err := gopacket.SerializeLayers(b.buf, b.opts, ls...); err != nil {
		return nil, err
	}
	return b.buf.Bytes(), nil
}
