// Package netinfo discovers the addresses a raw-socket scanner needs for an
// interface: its own IPv4/IPv6 and MAC, and the MAC of the next hop.
package netinfo

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"time"

	"rs_recon/internal/errors"
	"rs_recon/internal/packet"
)

// NetworkDetails holds the discovered configuration.
type NetworkDetails struct {
	Iface       string
	SrcMAC      net.HardwareAddr
	SrcIP4      netip.Addr
	SrcIP6      netip.Addr
	GatewayIP4  netip.Addr
	GatewayIP6  netip.Addr
	GatewayMAC  net.HardwareAddr
	GatewayMAC6 net.HardwareAddr

	// Tunnel is set for interfaces without a link-layer header (TUN,
	// WireGuard, GRE). No gateway lookup is done for them.
	Tunnel bool
}

// GetDetails discovers network info for the given interface. An empty name
// picks the interface of the default route.
func GetDetails(ifaceName string) (*NetworkDetails, error) {
	if ifaceName == "" {
		name, err := DefaultInterface()
		if err != nil {
			return nil, errors.Wrap(errors.CodeInterface, "find default interface", err)
		}
		ifaceName = name
	}
	iface, err := net.InterfaceByName(ifaceName)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInterface, "interface not found", err).WithTarget(ifaceName)
	}
	addrs, err := iface.Addrs()
	if err != nil {
		return nil, errors.Wrap(errors.CodeInterface, "list addresses", err).WithTarget(ifaceName)
	}

	d := &NetworkDetails{Iface: ifaceName, SrcMAC: iface.HardwareAddr, Tunnel: IsTunnel(iface)}
	d.SrcIP4, d.SrcIP6 = pickSources(addrs)
	if !d.SrcIP4.IsValid() && !d.SrcIP6.IsValid() {
		return nil, errors.New(errors.CodeInterface, "no usable address").WithTarget(ifaceName)
	}
	if d.Tunnel {
		d.SrcMAC = nil
		return d, nil
	}

	if d.SrcIP4.IsValid() {
		d.GatewayIP4, d.GatewayMAC = inet4.nextHop(ifaceName)
	}
	if d.SrcIP6.IsValid() {
		d.GatewayIP6, d.GatewayMAC6 = inet6.nextHop(ifaceName)
	}
	if len(d.GatewayMAC) == 0 && len(d.GatewayMAC6) == 0 {
		gw := d.GatewayIP4
		if !gw.IsValid() {
			gw = d.GatewayIP6
		}
		if !gw.IsValid() {
			return nil, errors.New(errors.CodeInterface, "no default route").WithTarget(ifaceName)
		}
		return nil, errors.Newf(errors.CodeInterface, "failed to resolve gateway MAC (try pinging %s first)", gw).WithTarget(ifaceName)
	}
	if len(d.GatewayMAC) == 0 {
		d.GatewayMAC = d.GatewayMAC6
	}
	return d, nil
}

// LinkConfig turns the details into probe-builder settings. Tunnel links get
// no MAC addresses, so probes start at the IP header.
func (d *NetworkDetails) LinkConfig(srcPort uint16) packet.LinkConfig {
	cfg := packet.LinkConfig{SrcIP4: d.SrcIP4, SrcIP6: d.SrcIP6, SrcPort: srcPort}
	if !d.Tunnel {
		cfg.SrcMAC = d.SrcMAC
		cfg.DstMAC = d.GatewayMAC
		cfg.DstMAC6 = d.GatewayMAC6
	}
	return cfg
}

// IsTunnel reports whether iface carries raw IP frames.
func IsTunnel(iface *net.Interface) bool {
	return len(iface.HardwareAddr) == 0 && iface.Flags&net.FlagLoopback == 0
}

// pickSources returns the first global IPv4 and IPv6 address, falling back
// to a link-local IPv6 only when nothing else exists.
func pickSources(addrs []net.Addr) (v4, v6 netip.Addr) {
	var linkLocal netip.Addr
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		ip, ok := netip.AddrFromSlice(ipNet.IP)
		ip = ip.Unmap()
		if !ok || ip.IsLoopback() {
			continue
		}
		switch {
		case ip.Is4():
			if !v4.IsValid() {
				v4 = ip
			}
		case ip.IsLinkLocalUnicast():
			if !linkLocal.IsValid() {
				linkLocal = ip
			}
		default:
			if !v6.IsValid() {
				v6 = ip
			}
		}
	}
	if !v6.IsValid() {
		v6 = linkLocal
	}
	return v4, v6
}

// family is how one address family finds its default gateway and the
// gateway's link-layer address on this platform.
type family struct {
	gateway  func(iface string) (netip.Addr, error)
	neighbor func(ip string) (net.HardwareAddr, error)
	prime    func(ip string) // provokes a neighbour cache entry
}

// nextHop returns the gateway of iface and its MAC. Either may be missing.
func (f family) nextHop(iface string) (netip.Addr, net.HardwareAddr) {
	gw, err := f.gateway(iface)
	if err != nil {
		return netip.Addr{}, nil
	}
	mac, _ := resolveNeighbor(gw, f.neighbor, f.prime)
	return gw, mac
}

// resolveNeighbor looks up gw in the neighbour cache, pinging it once to
// populate the cache on a miss.
func resolveNeighbor(gw netip.Addr, lookup func(string) (net.HardwareAddr, error), ping func(string)) (net.HardwareAddr, error) {
	mac, err := lookup(gw.String())
	if err == nil {
		return mac, nil
	}
	ping(gw.String())
	time.Sleep(100 * time.Millisecond)
	return lookup(gw.String())
}

// parseRouteTable scans /proc/net/route content for a default route. An
// empty iface matches any interface. It returns the interface and gateway.
func parseRouteTable(data []byte, iface string) (string, netip.Addr, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 || fields[1] != "00000000" {
			continue
		}
		if iface != "" && fields[0] != iface {
			continue
		}
		gw, err := hex.DecodeString(fields[2])
		if err != nil || len(gw) != 4 {
			continue
		}
		// little-endian
		return fields[0], netip.AddrFrom4([4]byte{gw[3], gw[2], gw[1], gw[0]}), nil
	}
	return "", netip.Addr{}, fmt.Errorf("no default route found")
}

// parseIPv6RouteTable scans /proc/net/ipv6_route content for a default
// route with a next hop.
func parseIPv6RouteTable(data []byte, iface string) (string, netip.Addr, error) {
	const zero = "00000000000000000000000000000000"
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		// dest dest_prefix src src_prefix nexthop metric refcnt use flags iface
		fields := strings.Fields(scanner.Text())
		if len(fields) < 10 || fields[0] != zero || fields[1] != "00" || fields[4] == zero {
			continue
		}
		if iface != "" && fields[9] != iface {
			continue
		}
		raw, err := hex.DecodeString(fields[4])
		if err != nil || len(raw) != 16 {
			continue
		}
		return fields[9], netip.AddrFrom16([16]byte(raw)), nil
	}
	return "", netip.Addr{}, fmt.Errorf("no default IPv6 route found")
}

// parseARPTable finds ip in /proc/net/arp content.
func parseARPTable(data []byte, ip string) (net.HardwareAddr, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Scan() // header
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 || fields[0] != ip {
			continue
		}
		mac, err := net.ParseMAC(fields[3])
		if err != nil {
			return nil, err
		}
		if isZeroMAC(mac) {
			return nil, fmt.Errorf("incomplete ARP entry for %s", ip)
		}
		return mac, nil
	}
	return nil, fmt.Errorf("ARP entry not found for %s", ip)
}

// parseNeighbors finds ip in `ip -6 neigh show` output, e.g.
// "fe80::1 dev eth0 lladdr aa:bb:cc:dd:ee:ff REACHABLE".
func parseNeighbors(out []byte, ip string) (net.HardwareAddr, error) {
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 5 || fields[0] != ip {
			continue
		}
		for i := 0; i < len(fields)-1; i++ {
			if fields[i] == "lladdr" {
				return net.ParseMAC(fields[i+1])
			}
		}
	}
	return nil, fmt.Errorf("NDP entry not found for %s", ip)
}

func isZeroMAC(mac net.HardwareAddr) bool {
	for _, b := range mac {
		if b != 0 {
			return false
		}
	}
	return true
}
