// Package classify maps decoded reply frames to scan outcomes. Classification
// is pure: it reads the scan setting and the frame and returns a value.
package classify

import (
	"fmt"
	"net/netip"
	"strings"
	"time"

	"rs_recon/internal/packet"
)

// ScanType selects the probe strategy and the classification policy.
type ScanType int

const (
	TCPSynScan ScanType = iota
	TCPPingScan
	ICMPPingScan
	UDPPingScan
)

var scanTypeNames = map[ScanType]string{
	TCPSynScan:   "syn",
	TCPPingScan:  "tcp-ping",
	ICMPPingScan: "icmp",
	UDPPingScan:  "udp",
}

func (s ScanType) String() string {
	if name, ok := scanTypeNames[s]; ok {
		return name
	}
	return fmt.Sprintf("ScanType(%d)", int(s))
}

// ParseScanType accepts the names printed by String plus a few aliases.
func ParseScanType(s string) (ScanType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "syn", "tcp-syn", "tcpsyn":
		return TCPSynScan, nil
	case "tcp-ping", "tcpping", "ack-ping":
		return TCPPingScan, nil
	case "icmp", "ping", "icmp-ping":
		return ICMPPingScan, nil
	case "udp", "udp-ping":
		return UDPPingScan, nil
	}
	return 0, fmt.Errorf("unsupported scan type %q", s)
}

// IsTCP reports whether the scan type probes with TCP segments.
func (s ScanType) IsTCP() bool { return s == TCPSynScan || s == TCPPingScan }

// PortScan reports whether probes are sent per target×port rather than per
// target.
func (s ScanType) PortScan() bool { return s != ICMPPingScan }

// Setting is the immutable per-run configuration consulted by the classifier
// and the capture loop. Targets must not be modified once a scan starts.
type Setting struct {
	ScanType ScanType
	Timeout  time.Duration
	Targets  map[netip.Addr]struct{}
}

// NewSetting builds a Setting with a target set built from addrs.
func NewSetting(st ScanType, timeout time.Duration, addrs []netip.Addr) *Setting {
	targets := make(map[netip.Addr]struct{}, len(addrs))
	for _, a := range addrs {
		targets[a.Unmap()] = struct{}{}
	}
	return &Setting{ScanType: st, Timeout: timeout, Targets: targets}
}

// IsTarget reports whether addr was configured as a target.
func (s *Setting) IsTarget(addr netip.Addr) bool {
	_, ok := s.Targets[addr.Unmap()]
	return ok
}

// Kind enumerates classification outcomes.
type Kind int

const (
	None Kind = iota
	HostUp
	PortOpen
	PortClosed
)

func (k Kind) String() string {
	switch k {
	case HostUp:
		return "host_up"
	case PortOpen:
		return "port_open"
	case PortClosed:
		return "port_closed"
	}
	return "none"
}

// Outcome is the result of classifying one frame. Port is zero for HostUp.
type Outcome struct {
	Kind Kind
	Addr netip.Addr
	Port uint16
	TTL  uint8
}

const (
	synAck = packet.FlagSYN | packet.FlagACK
	rstAck = packet.FlagRST | packet.FlagACK
)

// Classify applies the policy of s.ScanType to f. Frames from addresses
// outside the target set always yield None.
func Classify(s *Setting, f *packet.Frame) Outcome {
	if !s.IsTarget(f.Src) {
		return Outcome{}
	}
	src := f.Src.Unmap()

	switch f.Transport {
	case packet.TransportTCP:
		if f.Flags != synAck && f.Flags != rstAck {
			return Outcome{}
		}
		switch s.ScanType {
		case TCPSynScan:
			kind := PortOpen
			if f.Flags == rstAck {
				kind = PortClosed
			}
			return Outcome{Kind: kind, Addr: src, Port: f.SrcPort, TTL: f.TTL}
		case TCPPingScan:
			return Outcome{Kind: HostUp, Addr: src, TTL: f.TTL}
		}

	case packet.TransportICMPv4, packet.TransportICMPv6:
		if s.ScanType == ICMPPingScan && f.IsEchoReply() {
			return Outcome{Kind: HostUp, Addr: src, TTL: f.TTL}
		}

	case packet.TransportUDP:
		// UDP replies are decoded but carry no outcome yet.
	}
	return Outcome{}
}
