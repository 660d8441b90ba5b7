// Package targets expands target and exclusion expressions into a set of
// addresses.
//
// Accepted forms: a single address, a CIDR prefix, a dash range of full
// addresses ("10.0.0.1-10.0.0.20"), an IPv4 octet range ("10.0.1-2.1-254")
// and a hostname, which is resolved through a Lookup.
package targets

import (
	"context"
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"go4.org/netipx"

	"rs_recon/internal/errors"
)

// MaxTargets bounds how many addresses Addrs will materialize.
const MaxTargets = 1 << 20

// Lookup resolves hostnames. *resolve.Resolver satisfies it.
type Lookup interface {
	LookupAddrs(ctx context.Context, host string) ([]netip.Addr, error)
}

// Set is an immutable set of target addresses.
type Set struct {
	ips *netipx.IPSet
}

// Parse builds the set of includes minus excludes. lookup may be nil, in
// which case hostnames are rejected.
func Parse(ctx context.Context, includes, excludes []string, lookup Lookup) (*Set, error) {
	var b netipx.IPSetBuilder
	for _, in := range includes {
		if err := addSpec(ctx, in, lookup, b.Add, b.AddPrefix, b.AddRange); err != nil {
			return nil, err
		}
	}
	for _, ex := range excludes {
		if err := addSpec(ctx, ex, lookup, b.Remove, b.RemovePrefix, b.RemoveRange); err != nil {
			return nil, err
		}
	}
	ips, err := b.IPSet()
	if err != nil {
		return nil, errors.Wrap(errors.CodeTargetInvalid, "build target set", err)
	}
	return &Set{ips: ips}, nil
}

func addSpec(ctx context.Context, spec string, lookup Lookup,
	addr func(netip.Addr), prefix func(netip.Prefix), rng func(netipx.IPRange)) error {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil
	}
	invalid := func(err error) error {
		return errors.Wrap(errors.CodeTargetInvalid, "invalid target", err).WithTarget(spec)
	}

	if a, err := netip.ParseAddr(spec); err == nil {
		addr(a.Unmap())
		return nil
	}
	if strings.Contains(spec, "/") {
		p, err := netip.ParsePrefix(spec)
		if err != nil {
			return invalid(err)
		}
		prefix(p.Masked())
		return nil
	}
	if strings.Contains(spec, "-") {
		if r, err := netipx.ParseIPRange(spec); err == nil {
			rng(r)
			return nil
		}
		if isOctetRange(spec) {
			ranges, err := octetRanges(spec)
			if err != nil {
				return invalid(err)
			}
			for _, r := range ranges {
				rng(r)
			}
			return nil
		}
	}

	if lookup == nil {
		return invalid(fmt.Errorf("not an address and no resolver configured"))
	}
	addrs, err := lookup.LookupAddrs(ctx, spec)
	if err != nil {
		return errors.Wrap(errors.CodeTargetInvalid, "resolve target", err).WithTarget(spec)
	}
	for _, a := range addrs {
		addr(a.Unmap())
	}
	return nil
}

// isOctetRange reports whether s looks like four dot-separated octet terms.
func isOctetRange(s string) bool {
	if strings.Count(s, ".") != 3 {
		return false
	}
	for _, c := range s {
		if c != '.' && c != '-' && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}

// octetRanges expands "A.B.C.D" where each term is "X" or "X-Y" into one
// contiguous range per combination of the first three octets.
func octetRanges(spec string) ([]netipx.IPRange, error) {
	parts := strings.Split(spec, ".")
	var lo, hi [4]int
	for i, part := range parts {
		var err error
		lo[i], hi[i], err = parseOctetRange(part)
		if err != nil {
			return nil, err
		}
	}

	var out []netipx.IPRange
	for a := lo[0]; a <= hi[0]; a++ {
		for b := lo[1]; b <= hi[1]; b++ {
			for c := lo[2]; c <= hi[2]; c++ {
				from := netip.AddrFrom4([4]byte{byte(a), byte(b), byte(c), byte(lo[3])})
				to := netip.AddrFrom4([4]byte{byte(a), byte(b), byte(c), byte(hi[3])})
				out = append(out, netipx.IPRangeFrom(from, to))
			}
		}
	}
	return out, nil
}

func parseOctetRange(s string) (lo, hi int, err error) {
	first, last, isRange := strings.Cut(s, "-")
	lo, err = strconv.Atoi(first)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid octet: %s", s)
	}
	hi = lo
	if isRange {
		if hi, err = strconv.Atoi(last); err != nil {
			return 0, 0, fmt.Errorf("invalid octet range: %s", s)
		}
	}
	if lo < 0 || hi > 255 || lo > hi {
		return 0, 0, fmt.Errorf("invalid octet range: %d-%d", lo, hi)
	}
	return lo, hi, nil
}

// Contains reports whether a is in the set.
func (s *Set) Contains(a netip.Addr) bool { return s.ips.Contains(a.Unmap()) }

// Ranges returns the minimal sorted ranges covering the set.
func (s *Set) Ranges() []netipx.IPRange { return s.ips.Ranges() }

// Empty reports whether the set has no addresses.
func (s *Set) Empty() bool { return len(s.ips.Ranges()) == 0 }

// Addrs lists every address in ascending order. It fails when the set holds
// more than MaxTargets addresses.
func (s *Set) Addrs() ([]netip.Addr, error) {
	var out []netip.Addr
	for _, r := range s.ips.Ranges() {
		for a := r.From(); ; a = a.Next() {
			if len(out) >= MaxTargets {
				return nil, errors.Newf(errors.CodeTargetInvalid, "target set exceeds %d addresses", MaxTargets)
			}
			out = append(out, a)
			if a == r.To() {
				break
			}
		}
	}
	return out, nil
}
