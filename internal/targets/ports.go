package targets

import (
	"fmt"
	"strconv"
	"strings"

	"rs_recon/internal/classify"
	"rs_recon/internal/errors"
)

// ParsePorts expands a list like "80,443,1000-1005" in the order given.
// Repeated ports are kept once; port 0 is rejected.
func ParsePorts(spec string) ([]uint16, error) {
	var ports []uint16
	seen := make(map[uint16]struct{})
	add := func(p int) {
		if _, ok := seen[uint16(p)]; !ok {
			seen[uint16(p)] = struct{}{}
			ports = append(ports, uint16(p))
		}
	}

	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		first, last, isRange := strings.Cut(part, "-")
		start, err := strconv.Atoi(first)
		if err != nil {
			return nil, fmt.Errorf("invalid port: %s", part)
		}
		end := start
		if isRange {
			if end, err = strconv.Atoi(last); err != nil {
				return nil, fmt.Errorf("invalid port range: %s", part)
			}
		}
		if start < 1 || end > 65535 || start > end {
			return nil, fmt.Errorf("invalid port range bounds: %d-%d", start, end)
		}
		for p := start; p <= end; p++ {
			add(p)
		}
	}
	if len(ports) == 0 {
		return nil, fmt.Errorf("no ports in %q", spec)
	}
	return ports, nil
}

// ParsePortSpec parses protocol-prefixed lists: "T:22,80,U:53,161". Bare
// ports go to defaultProto ("tcp", "udp" or "both").
func ParsePortSpec(spec string, defaultProto string) (tcp []uint16, udp []uint16, err error) {
	proto := ""
	var cur []string
	flush := func() error {
		if len(cur) == 0 {
			return nil
		}
		ports, err := ParsePorts(strings.Join(cur, ","))
		if err != nil {
			return err
		}
		cur = cur[:0]

		p := proto
		if p == "" {
			p = defaultProto
		}
		switch p {
		case "tcp":
			tcp = append(tcp, ports...)
		case "udp":
			udp = append(udp, ports...)
		case "both":
			tcp = append(tcp, ports...)
			udp = append(udp, ports...)
		default:
			return fmt.Errorf("unknown protocol: %s", p)
		}
		return nil
	}

	for _, term := range strings.Split(spec, ",") {
		term = strings.TrimSpace(term)
		next := ""
		switch {
		case len(term) >= 2 && (term[:2] == "T:" || term[:2] == "t:"):
			next = "tcp"
		case len(term) >= 2 && (term[:2] == "U:" || term[:2] == "u:"):
			next = "udp"
		}
		if next != "" {
			if err := flush(); err != nil {
				return nil, nil, err
			}
			proto = next
			term = term[2:]
		}
		if term != "" {
			cur = append(cur, term)
		}
	}
	if err := flush(); err != nil {
		return nil, nil, err
	}
	return tcp, udp, nil
}

// PortsFor picks the ports a scan of type st probes from spec. ICMP scans
// take no ports.
func PortsFor(spec string, st classify.ScanType) ([]uint16, error) {
	if !st.PortScan() {
		return nil, nil
	}
	def := "tcp"
	if st == classify.UDPPingScan {
		def = "udp"
	}
	tcp, udp, err := ParsePortSpec(spec, def)
	if err != nil {
		return nil, errors.Wrap(errors.CodeConfiguration, "ports", err)
	}
	ports := tcp
	if st == classify.UDPPingScan {
		ports = udp
	}
	if len(ports) == 0 {
		return nil, errors.Newf(errors.CodeConfiguration, "no %s ports in %q", def, spec)
	}
	return ports, nil
}
