// Package scanner runs a capture loop and a send loop against one result set.
package scanner

import (
	"fmt"
	"net/netip"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/gopacket/layers"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"rs_recon/internal/classify"
	"rs_recon/internal/errors"
	"rs_recon/internal/limiter"
	"rs_recon/internal/logging"
	"rs_recon/internal/metrics"
	"rs_recon/internal/packet"
	"rs_recon/internal/receiver"
	"rs_recon/internal/results"
	"rs_recon/internal/sender"
)

// Mode selects how the two loops are scheduled.
type Mode int

const (
	// ModeSync runs capture and send on their own goroutines.
	ModeSync Mode = iota
	// ModeAsync interleaves capture and send steps on a single goroutine.
	ModeAsync
)

func (m Mode) String() string {
	if m == ModeAsync {
		return "async"
	}
	return "sync"
}

// ParseMode accepts "sync" and "async".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "", "sync":
		return ModeSync, nil
	case "async":
		return ModeAsync, nil
	}
	return ModeSync, fmt.Errorf("unknown mode %q", s)
}

// Options configure a single scan.
type Options struct {
	ScanType classify.ScanType
	Targets  []netip.Addr
	Ports    []uint16
	// Timeout bounds the capture loop, measured from the start of Scan.
	// Zero or less means no deadline.
	Timeout time.Duration
	// Wait keeps capturing after the last probe is sent. Zero or less
	// leaves the capture running until Timeout or a caller stop.
	Wait  time.Duration
	Rate  int
	Delay time.Duration
	Mode  Mode
}

// Endpoints are the I/O collaborators of a scan.
type Endpoints struct {
	Source  receiver.PacketSource
	Link    layers.LinkType
	Writer  sender.PacketWriter
	Builder *packet.ProbeBuilder
}

// Scanner owns one scan run. It is not reusable.
type Scanner struct {
	opts    Options
	res     *results.ScanResults
	capture *receiver.Capture
	send    *sender.Loop

	log     *zap.Logger
	metrics *metrics.Metrics
	halt    atomic.Bool
}

// New validates opts and wires the capture and send loops. Problems found
// here are configuration errors; nothing has been sent yet.
func New(opts Options, ep Endpoints, log *zap.Logger, m *metrics.Metrics) (*Scanner, error) {
	if len(opts.Targets) == 0 {
		return nil, errors.New(errors.CodeTargetInvalid, "no targets to scan")
	}
	if ep.Source == nil || ep.Writer == nil || ep.Builder == nil {
		return nil, errors.New(errors.CodeConfiguration, "scanner needs a packet source, a writer and a probe builder")
	}
	log = logging.OrNop(log)

	setting := classify.NewSetting(opts.ScanType, opts.Timeout, opts.Targets)
	res := results.New()

	capture, err := receiver.NewCapture(ep.Source, ep.Link, setting, res, log, m)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInterface, "capture setup", err)
	}
	send, err := sender.NewLoop(ep.Writer, ep.Builder, opts.ScanType, opts.Targets, opts.Ports,
		limiter.NewPacer(opts.Rate, opts.Delay), log, m)
	if err != nil {
		return nil, errors.Wrap(errors.CodeConfiguration, "send setup", err)
	}

	return &Scanner{
		opts:    opts,
		res:     res,
		capture: capture,
		send:    send,
		log:     log.Named("scanner"),
		metrics: m,
	}, nil
}

// Progress returns the channel of attempted probe destinations. It must be
// called before Scan and drained until closed.
func (s *Scanner) Progress() <-chan netip.AddrPort { return s.send.Progress() }

// Total is the number of probes the scan will send.
func (s *Scanner) Total() int { return s.send.Total() }

// Sent is the number of probes written so far.
func (s *Scanner) Sent() uint64 { return s.send.Sent() }

// Results exposes the live aggregate. Callers may read it while the scan runs.
func (s *Scanner) Results() *results.ScanResults { return s.res }

// OnRecord registers a callback for every newly recorded outcome. It runs
// on the capture goroutine.
func (s *Scanner) OnRecord(fn func(classify.Outcome)) { s.capture.OnRecord = fn }

// Scan runs both loops to completion. stop may be nil. A worker failure is
// fatal: no results are returned.
func (s *Scanner) Scan(stop *atomic.Bool) (*results.ScanResults, error) {
	start := time.Now()
	s.log.Info("scan started",
		zap.Stringer("type", s.opts.ScanType),
		zap.Stringer("mode", s.opts.Mode),
		zap.Int("targets", len(s.opts.Targets)),
		zap.Int("probes", s.send.Total()),
		zap.Duration("timeout", s.opts.Timeout))

	var (
		reason receiver.StopReason
		err    error
	)
	if s.opts.Mode == ModeAsync {
		reason, err = s.runAsync(stop)
	} else {
		reason, err = s.runSync(stop)
	}
	elapsed := time.Since(start)

	if err != nil {
		s.metrics.ScanFinished(s.opts.ScanType.String(), "failed", elapsed.Seconds())
		s.log.Error("scan failed", zap.Error(err))
		return nil, err
	}

	status := results.Done
	switch {
	case stop != nil && stop.Load():
		status = results.Stopped
	case reason == receiver.StoppedByTimeout:
		status = results.Timeout
	}
	s.res.Finish(status, elapsed)
	s.metrics.ScanFinished(s.opts.ScanType.String(), status.String(), elapsed.Seconds())

	hosts, sockets := s.res.Len()
	s.log.Info("scan finished",
		zap.Stringer("status", status),
		zap.Duration("elapsed", elapsed),
		zap.Uint64("sent", s.send.Sent()),
		zap.Int("hosts", hosts),
		zap.Int("sockets", sockets))
	return s.res, nil
}

func (s *Scanner) runSync(stop *atomic.Bool) (receiver.StopReason, error) {
	var reason receiver.StopReason
	g := new(errgroup.Group)

	g.Go(func() (err error) {
		defer s.recoverWorker("capture", &err)
		defer s.halt.Store(true)
		reason = s.capture.Run(stop, &s.halt)
		return nil
	})
	g.Go(func() (err error) {
		defer s.recoverWorker("send", &err)
		s.send.Run(stop, &s.halt)
		s.drain(stop)
		return nil
	})

	err := g.Wait()
	return reason, err
}

// drain keeps the capture alive for opts.Wait after sending finishes, then
// raises the internal stop.
func (s *Scanner) drain(stop *atomic.Bool) {
	if s.opts.Wait <= 0 {
		return
	}
	deadline := time.Now().Add(s.opts.Wait)
	for time.Now().Before(deadline) {
		if limiter.Stopped(stop, &s.halt) {
			return
		}
		time.Sleep(min(time.Until(deadline), 10*time.Millisecond))
	}
	s.log.Debug("drain wait elapsed", zap.Duration("wait", s.opts.Wait))
	s.halt.Store(true)
}

// asyncBurst bounds the probes sent and the frames read per turn of the
// single-goroutine engine. A turn with nothing to read costs one poll
// timeout, so sending one probe per turn would cap the rate at about one
// probe per millisecond.
const asyncBurst = 256

func (s *Scanner) runAsync(stop *atomic.Bool) (reason receiver.StopReason, err error) {
	defer s.recoverWorker("async", &err)
	defer s.send.Close()

	start := time.Now()
	sending := true
	var sentAt time.Time
	for {
		if sending {
			if limiter.Stopped(stop) || s.send.Step(asyncBurst) {
				sending = false
				sentAt = time.Now()
				s.send.Close()
			}
		}
		s.capture.Drain(asyncBurst)
		if reason = s.capture.Check(start, stop, &s.halt); reason != receiver.Running {
			return reason, nil
		}
		if !sending && s.opts.Wait > 0 && time.Since(sentAt) >= s.opts.Wait {
			s.halt.Store(true)
		}
	}
}

func (s *Scanner) recoverWorker(name string, err *error) {
	if r := recover(); r != nil {
		s.halt.Store(true)
		*err = errors.Newf(errors.CodeWorkerFailed, "%s worker panicked: %v", name, r).
			WithOperation(name)
	}
}

// BPFFilter returns a capture filter that admits the replies a scan of type
// st can classify. srcPort is the probe source port; 0 skips the port match.
func BPFFilter(st classify.ScanType, srcPort uint16) string {
	switch st {
	case classify.TCPSynScan, classify.TCPPingScan:
		if srcPort == 0 {
			return "tcp"
		}
		return fmt.Sprintf("tcp and dst port %d", srcPort)
	case classify.ICMPPingScan:
		return "icmp or icmp6"
	case classify.UDPPingScan:
		if srcPort == 0 {
			return "udp or icmp or icmp6"
		}
		return fmt.Sprintf("(udp and dst port %d) or icmp or icmp6", srcPort)
	}
	return ""
}
