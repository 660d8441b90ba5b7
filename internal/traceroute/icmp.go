package traceroute

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

const (
	protoICMP   = 1
	protoICMPv6 = 58

	noReply = "*"
)

// ICMPOptions configure the ICMP echo hop iterator.
type ICMPOptions struct {
	MaxHops      int
	Queries      int
	QueryTimeout time.Duration
	// Source binds the raw socket; the zero value listens on all addresses.
	Source netip.Addr
	// Namer, if set, resolves responders to names appended after the address.
	Namer func(netip.Addr) string
}

// DefaultICMPOptions mirrors the usual traceroute defaults.
func DefaultICMPOptions() ICMPOptions {
	return ICMPOptions{MaxHops: 30, Queries: 3, QueryTimeout: time.Second}
}

// ICMPFactory returns an IteratorFactory producing ICMP iterators.
func ICMPFactory(opts ICMPOptions) IteratorFactory {
	return func(target netip.Addr) (HopIterator, error) {
		return NewICMPIterator(target, opts)
	}
}

// ICMPIterator sends ICMP echo requests with increasing TTL on a raw socket
// and reads Time Exceeded, Destination Unreachable and Echo Reply messages.
type ICMPIterator struct {
	opts ICMPOptions
	dst  *net.IPAddr
	v6   bool
	conn *icmp.PacketConn
	p4   *ipv4.PacketConn
	p6   *ipv6.PacketConn
	id   uint16
	seq  uint16
	ttl  int
	done bool
	buf  []byte
}

// NewICMPIterator opens a privileged ICMP socket for the target's family.
func NewICMPIterator(target netip.Addr, opts ICMPOptions) (*ICMPIterator, error) {
	def := DefaultICMPOptions()
	if opts.MaxHops <= 0 || opts.MaxHops > 255 {
		opts.MaxHops = def.MaxHops
	}
	if opts.Queries <= 0 {
		opts.Queries = def.Queries
	}
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = def.QueryTimeout
	}

	target = target.Unmap()
	it := &ICMPIterator{
		opts: opts,
		dst:  &net.IPAddr{IP: net.IP(target.AsSlice()), Zone: target.Zone()},
		v6:   target.Is6(),
		buf:  make([]byte, 1500),
	}

	network, laddr := "ip4:icmp", "0.0.0.0"
	if it.v6 {
		network, laddr = "ip6:ipv6-icmp", "::"
	}
	if opts.Source.IsValid() {
		laddr = opts.Source.String()
	}
	conn, err := icmp.ListenPacket(network, laddr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", network, err)
	}
	it.conn = conn
	if it.v6 {
		it.p6 = conn.IPv6PacketConn()
	} else {
		it.p4 = conn.IPv4PacketConn()
	}

	var b [4]byte
	_, _ = rand.Read(b[:])
	it.id = binary.BigEndian.Uint16(b[:2]) ^ uint16(os.Getpid())
	it.seq = binary.BigEndian.Uint16(b[2:])
	return it, nil
}

// Next probes the next TTL. Once a query reaches the destination the
// iterator finishes after the current hop. A stop seen before the hop starts
// ends the iterator.
func (it *ICMPIterator) Next(stop *atomic.Bool) (Hop, bool) {
	if it.done || it.ttl >= it.opts.MaxHops || stopped(stop) {
		return Hop{}, false
	}
	it.ttl++
	qs, reached := queryHop(it.opts.Queries, stop, it.query)
	if reached {
		it.done = true
	}
	return Hop{TTL: uint8(it.ttl), Queries: qs}, true
}

// queryHop sends up to n queries and stops early once stop is set.
func queryHop(n int, stop *atomic.Bool, query func() (Query, bool)) ([]Query, bool) {
	qs := make([]Query, 0, n)
	reached := false
	for range n {
		q, ok := query()
		qs = append(qs, q)
		reached = reached || ok
		if stopped(stop) {
			break
		}
	}
	return qs, reached
}

func stopped(stop *atomic.Bool) bool { return stop != nil && stop.Load() }

func (it *ICMPIterator) Close() error { return it.conn.Close() }

func (it *ICMPIterator) query() (Query, bool) {
	it.seq++
	if err := it.setTTL(); err != nil {
		return Query{Addr: []string{noReply}}, false
	}

	msg := icmp.Message{Code: 0, Body: &icmp.Echo{ID: int(it.id), Seq: int(it.seq), Data: []byte("rs_recon traceroute")}}
	proto := protoICMP
	if it.v6 {
		msg.Type = ipv6.ICMPTypeEchoRequest
		proto = protoICMPv6
	} else {
		msg.Type = ipv4.ICMPTypeEcho
	}
	wb, err := msg.Marshal(nil)
	if err != nil {
		return Query{Addr: []string{noReply}}, false
	}

	start := time.Now()
	if _, err := it.conn.WriteTo(wb, it.dst); err != nil {
		return Query{Addr: []string{noReply}}, false
	}
	deadline := start.Add(it.opts.QueryTimeout)
	_ = it.conn.SetReadDeadline(deadline)

	for {
		n, peer, err := it.conn.ReadFrom(it.buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return Query{Addr: []string{noReply}}, false
			}
			if time.Now().After(deadline) {
				return Query{Addr: []string{noReply}}, false
			}
			continue
		}
		rtt := time.Since(start)
		rm, err := icmp.ParseMessage(proto, it.buf[:n])
		if err != nil {
			continue
		}
		matched, reached := it.match(rm)
		if !matched {
			continue
		}
		return Query{RTT: rtt, Addr: it.describe(peer)}, reached
	}
}

func (it *ICMPIterator) setTTL() error {
	if it.v6 {
		return it.p6.SetHopLimit(it.ttl)
	}
	return it.p4.SetTTL(it.ttl)
}

// match reports whether rm answers the probe in flight and whether it came
// from the destination itself.
func (it *ICMPIterator) match(rm *icmp.Message) (matched, reached bool) {
	switch body := rm.Body.(type) {
	case *icmp.Echo:
		if rm.Type != ipv4.ICMPTypeEchoReply && rm.Type != ipv6.ICMPTypeEchoReply {
			return false, false
		}
		return uint16(body.ID) == it.id && uint16(body.Seq) == it.seq, true
	case *icmp.TimeExceeded:
		return it.quoted(body.Data), false
	case *icmp.DstUnreach:
		return it.quoted(body.Data), true
	}
	return false, false
}

// quoted checks the echo header embedded in an ICMP error against the probe.
func (it *ICMPIterator) quoted(data []byte) bool {
	off := 0
	if it.v6 {
		off = ipv6.HeaderLen
	} else {
		if len(data) < 1 {
			return false
		}
		off = int(data[0]&0x0f) * 4
	}
	if len(data) < off+8 {
		return false
	}
	echo := data[off:]
	return binary.BigEndian.Uint16(echo[4:6]) == it.id && binary.BigEndian.Uint16(echo[6:8]) == it.seq
}

func (it *ICMPIterator) describe(peer net.Addr) []string {
	ip, ok := peer.(*net.IPAddr)
	if !ok {
		return []string{peer.String()}
	}
	addr, ok := netip.AddrFromSlice(ip.IP)
	if !ok {
		return []string{ip.String()}
	}
	addr = addr.Unmap()
	out := []string{addr.String()}
	if it.opts.Namer != nil {
		if name := it.opts.Namer(addr); name != "" {
			out = append(out, name)
		}
	}
	return out
}
