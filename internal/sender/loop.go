package sender

import (
	"fmt"
	"net/netip"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"rs_recon/internal/classify"
	"rs_recon/internal/limiter"
	"rs_recon/internal/logging"
	"rs_recon/internal/metrics"
	"rs_recon/internal/packet"
)

// progressBuffer is the capacity of the progress channel. Producers block
// when it is full, so consumers must keep draining until it is closed.
const progressBuffer = 1024

// Loop walks the probe list (targets, or targets×ports for port scans) and
// writes one probe per entry, paced by a limiter.Pacer.
type Loop struct {
	w        PacketWriter
	b        *packet.ProbeBuilder
	scanType classify.ScanType
	targets  []netip.Addr
	ports    []uint16
	pacer    *limiter.Pacer

	log     *zap.Logger
	metrics *metrics.Metrics

	progress  chan netip.AddrPort
	closeOnce sync.Once

	ti, pi int // cursor into targets and ports
	sent   atomic.Uint64
	failed atomic.Uint64
}

// NewLoop validates the probe list against the scan type.
func NewLoop(w PacketWriter, b *packet.ProbeBuilder, st classify.ScanType, targets []netip.Addr,
	ports []uint16, pacer *limiter.Pacer, log *zap.Logger, m *metrics.Metrics) (*Loop, error) {
	if len(targets) == 0 {
		return nil, fmt.Errorf("no targets")
	}
	if st.PortScan() && len(ports) == 0 {
		return nil, fmt.Errorf("%s scan needs at least one port", st)
	}
	if !st.PortScan() {
		ports = nil
	}
	if pacer == nil {
		pacer = &limiter.Pacer{}
	}
	return &Loop{
		w:        w,
		b:        b,
		scanType: st,
		targets:  targets,
		ports:    ports,
		pacer:    pacer,
		log:      logging.OrNop(log).Named("send"),
		metrics:  m,
	}, nil
}

// Progress returns the channel on which every attempted socket address is
// published (port 0 for ICMP). It must be called before the loop starts;
// without it no progress events are produced. The channel is closed when the
// loop finishes.
func (l *Loop) Progress() <-chan netip.AddrPort {
	if l.progress == nil {
		l.progress = make(chan netip.AddrPort, progressBuffer)
	}
	return l.progress
}

// Total returns the number of probes the loop will attempt.
func (l *Loop) Total() int {
	if len(l.ports) == 0 {
		return len(l.targets)
	}
	return len(l.targets) * len(l.ports)
}

// Sent returns the number of probes written so far. Safe to call from any
// goroutine.
func (l *Loop) Sent() uint64 { return l.sent.Load() }

// Failed returns the number of probes the writer rejected.
func (l *Loop) Failed() uint64 { return l.failed.Load() }

// next advances the cursor and reports the next probe destination.
func (l *Loop) next() (netip.AddrPort, bool) {
	if l.ti >= len(l.targets) {
		return netip.AddrPort{}, false
	}
	addr := l.targets[l.ti]
	if len(l.ports) == 0 {
		l.ti++
		return netip.AddrPortFrom(addr, 0), true
	}
	port := l.ports[l.pi]
	l.pi++
	if l.pi == len(l.ports) {
		l.pi = 0
		l.ti++
	}
	return netip.AddrPortFrom(addr, port), true
}

// Done reports whether every probe has been attempted.
func (l *Loop) Done() bool { return l.ti >= len(l.targets) }

// Run sends every probe, checking the stop flags before each one. It closes
// the progress channel on return.
func (l *Loop) Run(stop ...*atomic.Bool) {
	defer l.Close()
	for !l.Done() {
		if limiter.Stopped(stop...) {
			l.log.Debug("send stopped", zap.Uint64("sent", l.Sent()))
			return
		}
		if !l.pacer.Wait(stop...) {
			return
		}
		ap, _ := l.next()
		l.send(ap)
	}
	l.log.Debug("send complete", zap.Uint64("sent", l.Sent()), zap.Uint64("failed", l.Failed()))
}

// Step sends up to burst probes, as many as the pacer allows without
// blocking. It reports whether the loop has finished. Used by the
// single-goroutine engine, which must call Close itself.
func (l *Loop) Step(burst int) bool {
	for n := 0; n < burst && !l.Done(); n++ {
		if !l.pacer.Ready() {
			break
		}
		ap, _ := l.next()
		l.send(ap)
	}
	return l.Done()
}

// Close flushes a buffering writer and closes the progress channel. It is
// safe to call more than once.
func (l *Loop) Close() {
	l.closeOnce.Do(func() {
		if f, ok := l.w.(Flusher); ok {
			if err := f.Flush(); err != nil {
				l.metrics.SendError()
				l.log.Debug("flush failed", zap.Error(err))
			}
		}
		if l.progress != nil {
			close(l.progress)
		}
	})
}

func (l *Loop) send(ap netip.AddrPort) {
	data, err := l.build(ap)
	if err == nil {
		err = l.w.WritePacketData(data)
	}
	if err != nil {
		l.failed.Add(1)
		l.metrics.SendError()
		l.log.Debug("probe not sent", zap.Stringer("dst", ap), zap.Error(err))
	} else {
		l.sent.Add(1)
		l.metrics.ProbeSent(l.scanType.String())
	}
	if l.progress != nil {
		l.progress <- ap
	}
}

func (l *Loop) build(ap netip.AddrPort) ([]byte, error) {
	switch l.scanType {
	case classify.TCPSynScan, classify.TCPPingScan:
		return l.b.BuildSYN(ap.Addr(), ap.Port())
	case classify.UDPPingScan:
		return l.b.BuildUDP(ap.Addr(), ap.Port())
	case classify.ICMPPingScan:
		return l.b.BuildICMPEcho(ap.Addr())
	}
	return nil, fmt.Errorf("unsupported scan type %s", l.scanType)
}
