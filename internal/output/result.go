package output

import (
	"net/netip"
	"time"

	"rs_recon/internal/classify"
	"rs_recon/internal/portmap"
	"rs_recon/internal/resolve"
	"rs_recon/internal/results"
	"rs_recon/internal/traceroute"
)

// Event names carried in Result.Event.
const (
	EventHost = "host"
	EventPort = "port"
	EventHop  = "hop"
	EventDNS  = "dns"
)

// Result is one reported observation: a live host, a port, a traceroute
// hop or a DNS answer. Unused fields stay empty.
type Result struct {
	ScanID    string `json:"scan_id,omitempty" yaml:"scan_id,omitempty"`
	Event     string `json:"event" yaml:"event"`
	IP        string `json:"ip" yaml:"ip"`
	Port      uint16 `json:"port,omitempty" yaml:"port,omitempty"`
	Proto     string `json:"proto,omitempty" yaml:"proto,omitempty"`
	Status    string `json:"status,omitempty" yaml:"status,omitempty"`
	Service   string `json:"service,omitempty" yaml:"service,omitempty"`
	TTL       uint8  `json:"ttl,omitempty" yaml:"ttl,omitempty"`
	Timestamp string `json:"timestamp" yaml:"timestamp"`

	// Traceroute
	Hop     uint8      `json:"hop,omitempty" yaml:"hop,omitempty"`
	RTTMs   int64      `json:"rtt_ms,omitempty" yaml:"rtt_ms,omitempty"`
	Replies [][]string `json:"replies,omitempty" yaml:"replies,omitempty"`

	// DNS
	Host  string   `json:"host,omitempty" yaml:"host,omitempty"`
	Addrs []string `json:"addrs,omitempty" yaml:"addrs,omitempty"`
	Error string   `json:"error,omitempty" yaml:"error,omitempty"`
}

func now() string { return time.Now().UTC().Format(time.RFC3339) }

func protoFor(st classify.ScanType) string {
	switch {
	case st.IsTCP():
		return "tcp"
	case st == classify.UDPPingScan:
		return "udp"
	}
	return "icmp"
}

// FromOutcome converts a freshly recorded classification outcome.
func FromOutcome(scanID string, st classify.ScanType, o classify.Outcome) *Result {
	r := &Result{
		ScanID:    scanID,
		IP:        o.Addr.Unmap().String(),
		Proto:     protoFor(st),
		Timestamp: now(),
	}
	switch o.Kind {
	case classify.HostUp:
		r.Event = EventHost
		r.Status = "up"
		r.TTL = o.TTL
	case classify.PortOpen, classify.PortClosed:
		r.Event = EventPort
		r.Port = o.Port
		r.Status = results.Open.String()
		if o.Kind == classify.PortClosed {
			r.Status = results.Closed.String()
		}
		r.Service = portmap.Describe(o.Port)
	}
	return r
}

// FromScan flattens a finished scan: hosts first in discovery order, then
// every host's ports. With openOnly, closed ports are left out.
func FromScan(scanID string, st classify.ScanType, res *results.ScanResults, openOnly bool) []*Result {
	ts := now()
	proto := protoFor(st)
	var out []*Result
	for _, h := range res.Hosts() {
		out = append(out, &Result{
			ScanID: scanID, Event: EventHost, IP: h.Addr.String(), Proto: proto,
			Status: "up", TTL: h.TTL, Timestamp: ts,
		})
	}
	for _, addr := range res.PortHosts() {
		for _, p := range res.Ports(addr) {
			if openOnly && p.Status != results.Open {
				continue
			}
			out = append(out, &Result{
				ScanID: scanID, Event: EventPort, IP: addr.String(), Port: p.Port, Proto: proto,
				Status: p.Status.String(), Service: p.Describe, Timestamp: ts,
			})
		}
	}
	return out
}

// FromTrace converts hop results, one record per hop.
func FromTrace(scanID string, hops []traceroute.Result) []*Result {
	ts := now()
	out := make([]*Result, 0, len(hops))
	for _, h := range hops {
		out = append(out, FromHop(scanID, h, ts))
	}
	return out
}

// FromHop converts a single traceroute hop. An empty ts means now.
func FromHop(scanID string, h traceroute.Result, ts string) *Result {
	if ts == "" {
		ts = now()
	}
	replies := make([][]string, len(h.Addr))
	for i, a := range h.Addr {
		replies[i] = append([]string(nil), a...)
	}
	return &Result{
		ScanID:    scanID,
		Event:     EventHop,
		IP:        h.Target.String(),
		Proto:     "icmp",
		Hop:       h.ID,
		RTTMs:     h.RTT.Milliseconds(),
		Replies:   replies,
		Timestamp: ts,
	}
}

// FromDNS converts resolver answers.
func FromDNS(scanID string, answers []resolve.DNSResult) []*Result {
	ts := now()
	out := make([]*Result, 0, len(answers))
	for _, a := range answers {
		r := &Result{
			ScanID:    scanID,
			Event:     EventDNS,
			IP:        a.Source,
			Status:    a.Kind.String(),
			Host:      a.Host,
			Error:     a.Err,
			Timestamp: ts,
		}
		for _, addr := range a.Addrs {
			r.Addrs = append(r.Addrs, addr.String())
		}
		out = append(out, r)
	}
	return out
}

// hopResult rebuilds the traceroute view of a hop record for text output.
func hopResult(r *Result) traceroute.Result {
	target, _ := netip.ParseAddr(r.IP)
	return traceroute.Result{
		Target: target,
		ID:     r.Hop,
		RTT:    time.Duration(r.RTTMs) * time.Millisecond,
		Addr:   r.Replies,
	}
}

// dnsResult rebuilds the resolver view of a DNS record for text output.
func dnsResult(r *Result) resolve.DNSResult {
	d := resolve.DNSResult{Source: r.IP, Host: r.Host, Err: r.Error}
	switch {
	case r.Error != "":
		d.Kind = resolve.KindError
	case r.Host != "":
		d.Kind = resolve.KindHost
	default:
		d.Kind = resolve.KindAddr
	}
	for _, a := range r.Addrs {
		if addr, err := netip.ParseAddr(a); err == nil {
			d.Addrs = append(d.Addrs, addr)
		}
	}
	return d
}
