//go:build linux

package netinfo

import (
	"fmt"
	"net"
	"net/netip"
	"os"
	"os/exec"
)

type routeParser func(data []byte, iface string) (string, netip.Addr, error)

// Route tables in the order DefaultInterface consults them.
var routeTables = []struct {
	path  string
	parse routeParser
}{
	{"/proc/net/route", parseRouteTable},
	{"/proc/net/ipv6_route", parseIPv6RouteTable},
}

var (
	inet4 = family{
		gateway:  procGateway(routeTables[0].path, routeTables[0].parse),
		neighbor: procARP,
		prime:    ping("-c", "1", "-W", "1"),
	}
	inet6 = family{
		gateway:  procGateway(routeTables[1].path, routeTables[1].parse),
		neighbor: ipNeighbors,
		prime:    ping("-6", "-c", "1", "-W", "1"),
	}
)

// DefaultInterface returns the interface of the IPv4 default route, or of
// the IPv6 one when there is no IPv4 route.
func DefaultInterface() (string, error) {
	err := fmt.Errorf("no default route")
	for _, rt := range routeTables {
		data, rerr := os.ReadFile(rt.path)
		if rerr != nil {
			err = rerr
			continue
		}
		name, _, perr := rt.parse(data, "")
		if perr == nil {
			return name, nil
		}
		err = perr
	}
	return "", err
}

func procGateway(path string, parse routeParser) func(string) (netip.Addr, error) {
	return func(iface string) (netip.Addr, error) {
		data, err := os.ReadFile(path)
		if err != nil {
			return netip.Addr{}, err
		}
		_, gw, err := parse(data, iface)
		return gw, err
	}
}

func procARP(ip string) (net.HardwareAddr, error) {
	data, err := os.ReadFile("/proc/net/arp")
	if err != nil {
		return nil, err
	}
	return parseARPTable(data, ip)
}

// The kernel exposes no procfs neighbour table for IPv6.
func ipNeighbors(ip string) (net.HardwareAddr, error) {
	out, err := exec.Command("ip", "-6", "neigh", "show").Output()
	if err != nil {
		return nil, fmt.Errorf("ip -6 neigh show: %w", err)
	}
	return parseNeighbors(out, ip)
}

func ping(args ...string) func(string) {
	return func(ip string) {
		_ = exec.Command("ping", append(args, ip)...).Run()
	}
}
