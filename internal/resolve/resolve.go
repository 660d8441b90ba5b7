// Package resolve performs forward and reverse DNS lookups for scan targets
// and the resolve command.
package resolve

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
	"go.uber.org/zap"

	"rs_recon/internal/errors"
	"rs_recon/internal/logging"
)

// DefaultResolvConf is read when no servers are configured.
const DefaultResolvConf = "/etc/resolv.conf"

// Kind tags the content of a DNSResult.
type Kind int

const (
	KindHost Kind = iota
	KindAddr
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindHost:
		return "host"
	case KindAddr:
		return "addr"
	}
	return "error"
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// DNSResult is the outcome of resolving one input. An address input yields
// its reverse name (KindHost), a name yields its addresses (KindAddr), and
// a failed lookup yields KindError.
type DNSResult struct {
	Source string       `json:"source" yaml:"source"`
	Kind   Kind         `json:"kind" yaml:"kind"`
	Host   string       `json:"host,omitempty" yaml:"host,omitempty"`
	Addrs  []netip.Addr `json:"addrs,omitempty" yaml:"addrs,omitempty"`
	Err    string       `json:"error,omitempty" yaml:"error,omitempty"`
}

func (r DNSResult) String() string {
	var v string
	switch r.Kind {
	case KindHost:
		v = fmt.Sprintf("Host[%s]", r.Host)
	case KindAddr:
		parts := make([]string, len(r.Addrs))
		for i, a := range r.Addrs {
			parts[i] = a.String()
		}
		v = fmt.Sprintf("Addr[%s]", strings.Join(parts, ", "))
	default:
		v = fmt.Sprintf("Err[%s]", r.Err)
	}
	return fmt.Sprintf("[src_ip[%s] %s]", r.Source, v)
}

// Config selects the upstream servers. Servers are host or host:port; with
// none given the system resolv.conf is used.
type Config struct {
	Servers []string      `mapstructure:"servers"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Resolver is a caching stub resolver. It is safe for concurrent use.
type Resolver struct {
	client  *dns.Client
	servers []string
	log     *zap.Logger

	mu    sync.Mutex
	addrs map[string][]netip.Addr
	names map[netip.Addr]string
}

// New builds a resolver from cfg.
func New(cfg Config, log *zap.Logger) (*Resolver, error) {
	servers := append([]string(nil), cfg.Servers...)
	if len(servers) == 0 {
		cc, err := dns.ClientConfigFromFile(DefaultResolvConf)
		if err != nil {
			return nil, errors.Wrap(errors.CodeConfiguration, "read "+DefaultResolvConf, err)
		}
		for _, s := range cc.Servers {
			servers = append(servers, net.JoinHostPort(s, cc.Port))
		}
	}
	if len(servers) == 0 {
		return nil, errors.New(errors.CodeConfiguration, "no DNS servers configured")
	}
	for i, s := range servers {
		if _, _, err := net.SplitHostPort(s); err != nil {
			servers[i] = net.JoinHostPort(s, "53")
		}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Resolver{
		client:  &dns.Client{Timeout: timeout},
		servers: servers,
		log:     logging.OrNop(log).Named("resolve"),
		addrs:   make(map[string][]netip.Addr),
		names:   make(map[netip.Addr]string),
	}, nil
}

// Servers returns the upstreams in query order.
func (r *Resolver) Servers() []string { return append([]string(nil), r.servers...) }

// exchange sends m to each server in turn until one answers. Truncated UDP
// answers are retried over TCP.
func (r *Resolver) exchange(ctx context.Context, m *dns.Msg) (*dns.Msg, error) {
	var lastErr error
	for _, server := range r.servers {
		in, _, err := r.client.ExchangeContext(ctx, m, server)
		if err == nil && in.Truncated {
			tcp := &dns.Client{Net: "tcp", Timeout: r.client.Timeout}
			in, _, err = tcp.ExchangeContext(ctx, m, server)
		}
		if err != nil {
			r.log.Debug("exchange failed", zap.String("server", server), zap.Error(err))
			lastErr = err
			continue
		}
		if in.Rcode != dns.RcodeSuccess {
			return nil, fmt.Errorf("%s: %s", dns.RcodeToString[in.Rcode], m.Question[0].Name)
		}
		return in, nil
	}
	return nil, lastErr
}

// LookupAddrs returns the A and AAAA records of host, IPv4 first.
func (r *Resolver) LookupAddrs(ctx context.Context, host string) ([]netip.Addr, error) {
	fqdn := dns.Fqdn(strings.ToLower(host))

	r.mu.Lock()
	cached, ok := r.addrs[fqdn]
	r.mu.Unlock()
	if ok {
		return cached, nil
	}

	var out []netip.Addr
	var lastErr error
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		m := new(dns.Msg)
		m.SetQuestion(fqdn, qtype)
		m.RecursionDesired = true
		in, err := r.exchange(ctx, m)
		if err != nil {
			lastErr = err
			continue
		}
		for _, rr := range in.Answer {
			switch rec := rr.(type) {
			case *dns.A:
				if a, ok := netip.AddrFromSlice(rec.A.To4()); ok {
					out = append(out, a)
				}
			case *dns.AAAA:
				if a, ok := netip.AddrFromSlice(rec.AAAA); ok {
					out = append(out, a)
				}
			}
		}
	}
	if len(out) == 0 {
		if lastErr == nil {
			lastErr = fmt.Errorf("no addresses for %s", host)
		}
		return nil, errors.Wrap(errors.CodeResolveFailed, "lookup", lastErr).WithTarget(host)
	}

	r.mu.Lock()
	r.addrs[fqdn] = out
	r.mu.Unlock()
	return out, nil
}

// Reverse returns the first PTR name of addr without the trailing dot.
func (r *Resolver) Reverse(ctx context.Context, addr netip.Addr) (string, error) {
	addr = addr.Unmap()

	r.mu.Lock()
	cached, ok := r.names[addr]
	r.mu.Unlock()
	if ok {
		return cached, nil
	}

	arpa, err := dns.ReverseAddr(addr.String())
	if err != nil {
		return "", errors.Wrap(errors.CodeResolveFailed, "reverse", err).WithTarget(addr.String())
	}
	m := new(dns.Msg)
	m.SetQuestion(arpa, dns.TypePTR)
	m.RecursionDesired = true
	in, err := r.exchange(ctx, m)
	if err != nil {
		return "", errors.Wrap(errors.CodeResolveFailed, "reverse", err).WithTarget(addr.String())
	}
	for _, rr := range in.Answer {
		if ptr, ok := rr.(*dns.PTR); ok {
			name := strings.TrimSuffix(ptr.Ptr, ".")
			r.mu.Lock()
			r.names[addr] = name
			r.mu.Unlock()
			return name, nil
		}
	}
	return "", errors.Newf(errors.CodeResolveFailed, "no PTR record for %s", addr).WithTarget(addr.String())
}

// Name is Reverse without the error, for display paths.
func (r *Resolver) Name(addr netip.Addr) string {
	ctx, cancel := context.WithTimeout(context.Background(), r.client.Timeout)
	defer cancel()
	name, _ := r.Reverse(ctx, addr)
	return name
}

// Resolve turns every input into a DNSResult, in input order.
func (r *Resolver) Resolve(ctx context.Context, inputs []string) []DNSResult {
	out := make([]DNSResult, 0, len(inputs))
	for _, in := range inputs {
		res := DNSResult{Source: in}
		if addr, err := netip.ParseAddr(in); err == nil {
			name, err := r.Reverse(ctx, addr)
			if err != nil {
				res.Kind, res.Err = KindError, err.Error()
			} else {
				res.Kind, res.Host = KindHost, name
			}
		} else {
			addrs, err := r.LookupAddrs(ctx, in)
			if err != nil {
				res.Kind, res.Err = KindError, err.Error()
			} else {
				res.Kind, res.Addrs = KindAddr, addrs
			}
		}
		out = append(out, res)
	}
	return out
}
