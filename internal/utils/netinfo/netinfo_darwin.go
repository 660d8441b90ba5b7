//go:build darwin

package netinfo

import (
	"bufio"
	"fmt"
	"net"
	"net/netip"
	"os/exec"
	"regexp"
	"strings"
)

var (
	inet4 = family{
		gateway:  func(string) (netip.Addr, error) { return routeGateway("-inet") },
		neighbor: arpLookup,
		prime:    ping("ping", "-c", "1", "-t", "1"),
	}
	inet6 = family{
		gateway:  func(string) (netip.Addr, error) { return routeGateway("-inet6") },
		neighbor: ndpLookup,
		prime:    ping("ping6", "-c", "1"),
	}
)

// DefaultInterface asks route(8) for the interface of the default route.
func DefaultInterface() (string, error) {
	fields, err := routeGet("default")
	if err != nil {
		return "", err
	}
	if name := fields["interface"]; name != "" {
		return name, nil
	}
	return "", fmt.Errorf("no default route")
}

// routeGet runs `route -n get args...` and returns its key: value lines.
func routeGet(args ...string) (map[string]string, error) {
	argv := append([]string{"-n", "get"}, args...)
	out, err := exec.Command("route", argv...).Output()
	if err != nil {
		return nil, fmt.Errorf("route %s: %w", strings.Join(argv, " "), err)
	}
	fields := make(map[string]string)
	sc := bufio.NewScanner(strings.NewReader(string(out)))
	for sc.Scan() {
		if k, v, ok := strings.Cut(sc.Text(), ":"); ok {
			fields[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
	}
	return fields, nil
}

func routeGateway(af string) (netip.Addr, error) {
	fields, err := routeGet(af, "default")
	if err != nil {
		return netip.Addr{}, err
	}
	gw := fields["gateway"]
	if gw == "" {
		return netip.Addr{}, fmt.Errorf("no %s default route", strings.TrimPrefix(af, "-"))
	}
	// Scoped link-local gateways carry a zone, e.g. fe80::1%en0.
	gw, _, _ = strings.Cut(gw, "%")
	return netip.ParseAddr(gw)
}

var arpMAC = regexp.MustCompile(`\bat\s+([0-9a-fA-F:]+)`)

func arpLookup(ip string) (net.HardwareAddr, error) {
	out, err := exec.Command("arp", "-n", ip).Output()
	if err != nil {
		return nil, fmt.Errorf("arp -n %s: %w", ip, err)
	}
	m := arpMAC.FindSubmatch(out)
	if m == nil {
		return nil, fmt.Errorf("no ARP entry for %s", ip)
	}
	return net.ParseMAC(string(m[1]))
}

// ndpLookup scans `ndp -an`, whose rows start with the (possibly zoned)
// address followed by the link-layer address.
func ndpLookup(ip string) (net.HardwareAddr, error) {
	out, err := exec.Command("ndp", "-an").Output()
	if err != nil {
		return nil, fmt.Errorf("ndp -an: %w", err)
	}
	sc := bufio.NewScanner(strings.NewReader(string(out)))
	for sc.Scan() {
		f := strings.Fields(sc.Text())
		if len(f) < 2 {
			continue
		}
		if addr, _, _ := strings.Cut(f[0], "%"); addr == ip {
			return net.ParseMAC(f[1])
		}
	}
	return nil, fmt.Errorf("no NDP entry for %s", ip)
}

func ping(cmd string, args ...string) func(string) {
	return func(ip string) {
		_ = exec.Command(cmd, append(args, ip)...).Run()
	}
}
