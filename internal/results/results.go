// Package results holds the deduplicated host and port observations of one
// scan run.
//
// ScanResults is guarded by a single mutex. Every method takes the lock for
// its own body only and never calls another locking method while holding it;
// check-then-act sequences are two separate acquisitions, and the insert
// re-checks the dedup set so a racing duplicate is dropped.
package results

import (
	"net/netip"
	"sync"
	"time"

	"rs_recon/internal/classify"
	"rs_recon/internal/portmap"
)

// PortStatus is the observed state of a port.
type PortStatus int

const (
	Open PortStatus = iota
	Closed
	Filtered
)

func (s PortStatus) String() string {
	switch s {
	case Open:
		return "open"
	case Closed:
		return "closed"
	case Filtered:
		return "filtered"
	}
	return "unknown"
}

// MarshalText renders the status by name in JSON and YAML output.
func (s PortStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// HostInfo is a host discovered up.
type HostInfo struct {
	Addr netip.Addr `json:"ip_addr" yaml:"ip_addr"`
	TTL  uint8      `json:"ttl" yaml:"ttl"`
}

// PortInfo is one observed port on a host.
type PortInfo struct {
	Port     uint16     `json:"port" yaml:"port"`
	Status   PortStatus `json:"status" yaml:"status"`
	Describe string     `json:"describe" yaml:"describe"`
}

// NewPortInfo fills Describe from the port-name table.
func NewPortInfo(port uint16, status PortStatus) PortInfo {
	return PortInfo{Port: port, Status: status, Describe: portmap.Describe(port)}
}

// Status is the terminal state of a scan run.
type Status int

const (
	Running Status = iota
	Done
	Timeout
	Stopped
)

func (s Status) String() string {
	switch s {
	case Running:
		return "running"
	case Done:
		return "done"
	case Timeout:
		return "timeout"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

// ScanResults aggregates classified outcomes. The zero value is not usable;
// call New.
type ScanResults struct {
	mu sync.Mutex

	ips        []HostInfo
	ipWithPort map[netip.Addr][]PortInfo
	portOrder  []netip.Addr

	ipSet     map[netip.Addr]struct{}
	socketSet map[netip.AddrPort]struct{}

	status   Status
	scanTime time.Duration
}

// New returns an empty result set.
func New() *ScanResults {
	return &ScanResults{
		ipWithPort: make(map[netip.Addr][]PortInfo),
		ipSet:      make(map[netip.Addr]struct{}),
		socketSet:  make(map[netip.AddrPort]struct{}),
	}
}

// ContainsHost reports whether addr is already recorded as up.
func (r *ScanResults) ContainsHost(addr netip.Addr) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.ipSet[addr.Unmap()]
	return ok
}

// ContainsSocket reports whether a PortInfo exists for addr:port.
func (r *ScanResults) ContainsSocket(addr netip.Addr, port uint16) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.socketSet[netip.AddrPortFrom(addr.Unmap(), port)]
	return ok
}

// RecordHost appends h unless its address is already recorded. It reports
// whether h was added.
func (r *ScanResults) RecordHost(h HostInfo) bool {
	h.Addr = h.Addr.Unmap()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ipSet[h.Addr]; ok {
		return false
	}
	r.ipSet[h.Addr] = struct{}{}
	r.ips = append(r.ips, h)
	return true
}

// RecordPort appends p to addr's port list unless the socket is already
// recorded. The first port for an address creates its entry. It reports
// whether p was added.
func (r *ScanResults) RecordPort(addr netip.Addr, p PortInfo) bool {
	addr = addr.Unmap()
	key := netip.AddrPortFrom(addr, p.Port)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.socketSet[key]; ok {
		return false
	}
	r.socketSet[key] = struct{}{}
	if _, ok := r.ipWithPort[addr]; !ok {
		r.portOrder = append(r.portOrder, addr)
	}
	r.ipWithPort[addr] = append(r.ipWithPort[addr], p)
	return true
}

// Apply records a classification outcome with a check-then-act sequence. It
// reports whether anything new was stored.
func (r *ScanResults) Apply(o classify.Outcome) bool {
	switch o.Kind {
	case classify.HostUp:
		if r.ContainsHost(o.Addr) {
			return false
		}
		return r.RecordHost(HostInfo{Addr: o.Addr, TTL: o.TTL})
	case classify.PortOpen, classify.PortClosed:
		if r.ContainsSocket(o.Addr, o.Port) {
			return false
		}
		status := Open
		if o.Kind == classify.PortClosed {
			status = Closed
		}
		return r.RecordPort(o.Addr, NewPortInfo(o.Port, status))
	}
	return false
}

// Hosts returns a copy of the discovered hosts in discovery order.
func (r *ScanResults) Hosts() []HostInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]HostInfo, len(r.ips))
	copy(out, r.ips)
	return out
}

// Ports returns a copy of addr's ports in discovery order.
func (r *ScanResults) Ports(addr netip.Addr) []PortInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	ps := r.ipWithPort[addr.Unmap()]
	if ps == nil {
		return nil
	}
	out := make([]PortInfo, len(ps))
	copy(out, ps)
	return out
}

// PortMap returns a deep copy of the address to ports mapping.
func (r *ScanResults) PortMap() map[netip.Addr][]PortInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[netip.Addr][]PortInfo, len(r.ipWithPort))
	for addr, ps := range r.ipWithPort {
		out[addr] = append([]PortInfo(nil), ps...)
	}
	return out
}

// PortHosts returns the addresses that have ports, in the order their first
// port was recorded.
func (r *ScanResults) PortHosts() []netip.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]netip.Addr(nil), r.portOrder...)
}

// Len returns the number of hosts and sockets recorded.
func (r *ScanResults) Len() (hosts, sockets int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ips), len(r.socketSet)
}

// Finish stamps the terminal status and duration of the run.
func (r *ScanResults) Finish(status Status, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = status
	r.scanTime = elapsed
}

func (r *ScanResults) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *ScanResults) ScanTime() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scanTime
}
