package main

import (
	"io"
	"net"
	"net/netip"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"rs_recon/internal/classify"
	"rs_recon/internal/errors"
	"rs_recon/internal/output"
	"rs_recon/internal/packet"
	"rs_recon/internal/receiver"
	"rs_recon/internal/results"
	"rs_recon/internal/scanner"
	"rs_recon/internal/sender"
	"rs_recon/internal/targets"
	"rs_recon/internal/ui"
	"rs_recon/internal/utils/netinfo"
)

// offlineMAC stands in for the interface address when probes are dumped to
// a file without opening an interface.
var offlineMAC = net.HardwareAddr{0x02, 0, 0, 0, 0, 0x01}

func newScanCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan [targets...]",
		Short: "Discover live hosts or open ports",
		Long: `Send SYN, TCP-ping, ICMP echo or UDP probes to every target (and port) and
classify the replies captured on the interface.

Targets are addresses, CIDR prefixes, address ranges (10.0.0.1-10.0.0.9),
octet ranges (10.0.1-3.0-255) or host names.`,
		Example: `  rs-recon scan -p 22,80,443 192.168.1.0/24
  rs-recon scan -t icmp --rate 500 10.0.0.0/16 --exclude 10.0.5.0/24
  rs-recon scan --source-ip 192.0.2.10 --dump probes.pcap 198.51.100.0/28`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runScan(args)
		},
	}

	f := cmd.Flags()
	f.StringP("type", "t", "syn", "scan type: syn, tcp-ping, icmp, udp")
	f.StringP("ports", "p", "22,80,443", "ports, e.g. 22,80,8000-8100 or T:80,U:53")
	f.StringP("interface", "i", "", "interface to send and capture on (default: route to the internet)")
	f.Duration("timeout", 10*time.Second, "overall capture deadline, 0 for none")
	f.Duration("wait", 2*time.Second, "keep capturing this long after the last probe, 0 to wait for the deadline")
	f.Int("rate", 1000, "probes per second, 0 for unlimited")
	f.Duration("delay", 0, "fixed pause between probes")
	f.String("mode", "sync", "loop scheduling: sync (two goroutines) or async (interleaved)")
	f.String("source-ip", "", "source address for probes (default: interface address)")
	f.String("gw-mac", "", "next-hop MAC address (default: gateway neighbor entry)")
	f.Uint16("src-port", 0, "source port for TCP and UDP probes, 0 for random")
	f.String("replay", "", "read replies from a pcap file instead of the interface")
	f.String("dump", "", "write probes to a pcap file instead of the wire")
	f.Bool("batch", false, "batch probes with sendmmsg (linux)")
	f.Bool("shuffle", true, "randomize target order")
	f.Bool("open-only", false, "leave closed ports out of the results")
	a.bind(f, map[string]string{
		"scan.type":        "type",
		"scan.ports":       "ports",
		"scan.interface":   "interface",
		"scan.timeout":     "timeout",
		"scan.wait":        "wait",
		"scan.rate":        "rate",
		"scan.delay":       "delay",
		"scan.mode":        "mode",
		"scan.source_ip":   "source-ip",
		"scan.gw_mac":      "gw-mac",
		"scan.src_port":    "src-port",
		"scan.replay":      "replay",
		"scan.dump":        "dump",
		"scan.batch":       "batch",
		"scan.shuffle":     "shuffle",
		"output.open_only": "open-only",
	})
	return cmd
}

func (a *app) runScan(args []string) error {
	sc := a.cfg.Scan
	st, err := classify.ParseScanType(sc.Type)
	if err != nil {
		return errors.Wrap(errors.CodeConfiguration, "scan type", err)
	}
	mode, err := scanner.ParseMode(sc.Mode)
	if err != nil {
		return errors.Wrap(errors.CodeConfiguration, "scan mode", err)
	}
	ports, err := targets.PortsFor(sc.Ports, st)
	if err != nil {
		return err
	}
	addrs, err := a.targetAddrs(args)
	if err != nil {
		return err
	}
	if sc.Shuffle {
		addrs = targets.Shuffle(addrs)
	}

	ep, iface, closeEndpoints, err := a.openEndpoints(st)
	if err != nil {
		return err
	}
	defer closeEndpoints()

	s, err := scanner.New(scanner.Options{
		ScanType: st,
		Targets:  addrs,
		Ports:    ports,
		Timeout:  sc.Timeout,
		Wait:     sc.Wait,
		Rate:     sc.Rate,
		Delay:    sc.Delay,
		Mode:     mode,
	}, ep, a.log, a.metrics)
	if err != nil {
		return err
	}

	sink, err := a.openSink()
	if err != nil {
		return err
	}
	defer a.closeSink(sink)

	var attempted, hosts, open atomic.Uint64
	start := time.Now()
	total := uint64(s.Total())
	stats := func() ui.ScanStats {
		sent, tried := s.Sent(), attempted.Load()
		elapsed := time.Since(start)
		out := ui.ScanStats{
			Sent:    sent,
			Total:   total,
			Failed:  tried - min(tried, sent),
			Hosts:   hosts.Load(),
			Open:    open.Load(),
			Elapsed: elapsed,
		}
		if total > 0 {
			out.Progress = float64(tried) / float64(total)
		}
		if secs := elapsed.Seconds(); secs > 0 {
			out.Rate = float64(sent) / secs
		}
		return out
	}

	disp := a.newDisplay(ui.Header{
		Command:  "scan",
		Target:   strings.Join(append(append([]string(nil), sc.Targets.Include...), args...), ","),
		Ports:    sc.Ports,
		Iface:    iface,
		ScanType: st.String(),
	}, stats)
	streaming := a.streams(disp.mode)

	s.OnRecord(func(o classify.Outcome) {
		switch o.Kind {
		case classify.HostUp:
			hosts.Add(1)
		case classify.PortOpen:
			open.Add(1)
		}
		r := output.FromOutcome(a.scanID, st, o)
		if o.Kind == classify.PortClosed && a.cfg.Output.OpenOnly {
			return
		}
		disp.Result(r)
		if streaming {
			if err := sink.Write(r); err != nil {
				a.log.Warn("writing result", zap.Error(err))
			}
		}
	})

	progress := s.Progress()
	progressDone := make(chan struct{})
	go func() {
		defer close(progressDone)
		for range progress {
			attempted.Add(1)
		}
	}()

	var res *results.ScanResults
	err = disp.Run(func() error {
		if iface != "" {
			disp.Info("Interface: %s, Filter: %s", iface, scanner.BPFFilter(st, ep.Builder.SrcPort()))
		}
		disp.Info("Scan: %s, %d targets, %d probes", st, len(addrs), s.Total())
		r, err := s.Scan(&a.stop)
		<-progressDone
		if err != nil {
			return err
		}
		res = r
		if !streaming {
			if err := sink.WriteAll(output.FromScan(a.scanID, st, r, a.cfg.Output.OpenOnly)); err != nil {
				return errors.Wrap(errors.CodeScanFailed, "write results", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	nHosts, nSockets := res.Len()
	a.log.Info("scan summary",
		zap.Stringer("type", st),
		zap.Int("targets", len(addrs)),
		zap.Uint64("sent", s.Sent()),
		zap.Int("hosts", nHosts),
		zap.Int("sockets", nSockets),
		zap.Stringer("status", res.Status()),
		zap.Int("records", sink.Written()),
		zap.Duration("elapsed", res.ScanTime()))
	return nil
}

// openEndpoints picks the probe writer and reply source. With --dump and no
// interface, probes are built from --source-ip alone and nothing touches
// the network.
func (a *app) openEndpoints(st classify.ScanType) (scanner.Endpoints, string, func(), error) {
	sc := a.cfg.Scan
	var (
		ep      scanner.Endpoints
		closers []func()
	)
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (scanner.Endpoints, string, func(), error) {
		cleanup()
		return scanner.Endpoints{}, "", func() {}, err
	}

	var gwMAC net.HardwareAddr
	if sc.GwMAC != "" {
		mac, err := net.ParseMAC(sc.GwMAC)
		if err != nil {
			return fail(errors.Wrap(errors.CodeConfiguration, "gateway MAC", err))
		}
		gwMAC = mac
	}

	var (
		lc      packet.LinkConfig
		link    layers.LinkType
		details *netinfo.NetworkDetails
	)
	offline := sc.Dump != "" && sc.Interface == ""
	if offline {
		if sc.SourceIP == "" {
			return fail(errors.New(errors.CodeConfiguration, "--dump without --interface needs --source-ip"))
		}
		lc.SrcPort = sc.SrcPort
		link = layers.LinkTypeRaw
		if gwMAC != nil {
			lc.SrcMAC, lc.DstMAC = offlineMAC, gwMAC
			link = layers.LinkTypeEthernet
		}
	} else {
		d, err := netinfo.GetDetails(sc.Interface)
		if err != nil {
			return fail(err)
		}
		details = d
		lc = d.LinkConfig(sc.SrcPort)
		link = layers.LinkTypeEthernet
		if d.Tunnel {
			link = layers.LinkTypeRaw
		} else if gwMAC != nil {
			lc.DstMAC, lc.DstMAC6 = gwMAC, gwMAC
		}
	}
	if sc.SourceIP != "" {
		src, err := netip.ParseAddr(sc.SourceIP)
		if err != nil {
			return fail(errors.Wrap(errors.CodeConfiguration, "source address", err))
		}
		src = src.Unmap()
		if src.Is4() {
			lc.SrcIP4 = src
		} else {
			lc.SrcIP6 = src
		}
	}

	b, err := packet.NewProbeBuilder(lc)
	if err != nil {
		return fail(errors.Wrap(errors.CodeConfiguration, "probe builder", err))
	}
	ep.Builder = b

	switch {
	case sc.Dump != "":
		w, err := sender.NewPcapFileWriter(sc.Dump, link)
		if err != nil {
			return fail(errors.Wrap(errors.CodeConfiguration, "open dump file", err).WithTarget(sc.Dump))
		}
		closers = append(closers, func() {
			w.Close()
			a.log.Info("probes written", zap.String("file", sc.Dump), zap.Int("frames", w.Count()))
		})
		ep.Writer = w
	default:
		var (
			w   sender.PacketWriter
			err error
		)
		switch {
		case details.Tunnel:
			w, err = sender.NewTunnelWriter(details.Iface)
		case sc.Batch:
			w, err = sender.NewBatchedWriter(details.Iface)
		default:
			w, err = sender.NewPacketWriter(details.Iface)
		}
		if err != nil {
			return fail(errors.Wrap(errors.CodePermission, "open injection handle", err).WithTarget(details.Iface))
		}
		closers = append(closers, w.Close)
		ep.Writer = w
	}

	switch {
	case sc.Replay != "":
		r, err := receiver.OpenReplay(sc.Replay)
		if err != nil {
			return fail(errors.Wrap(errors.CodeConfiguration, "open replay file", err).WithTarget(sc.Replay))
		}
		closers = append(closers, r.Close)
		ep.Source, ep.Link = r, r.LinkType()
	case offline:
		ep.Source, ep.Link = idleSource{}, link
	default:
		open := receiver.NewListener
		if details.Tunnel {
			open = receiver.NewTunnelListener
		}
		l, err := open(details.Iface)
		if err != nil {
			return fail(errors.Wrap(errors.CodePermission, "open capture handle", err).WithTarget(details.Iface))
		}
		closers = append(closers, func() {
			if cs, err := l.Stats(); err == nil {
				a.metrics.KernelDrops(cs.Dropped)
				a.log.Debug("capture handle stats",
					zap.Uint64("received", cs.Received),
					zap.Uint64("dropped", cs.Dropped))
			}
			l.Close()
		})
		filter := scanner.BPFFilter(st, b.SrcPort())
		if err := l.SetBPF(details.Iface, filter); err != nil {
			a.log.Warn("BPF filter not applied, filtering in userspace",
				zap.String("filter", filter), zap.Error(err))
		}
		ep.Source, ep.Link = l, l.LinkType()
	}

	iface := ""
	if details != nil {
		iface = details.Iface
		a.log.Info("interface",
			zap.String("name", details.Iface),
			zap.Stringer("src_ip4", details.SrcIP4),
			zap.Stringer("src_ip6", details.SrcIP6),
			zap.Stringer("gateway_mac", details.GatewayMAC),
			zap.Bool("tunnel", details.Tunnel))
		if st == classify.TCPSynScan && sc.Dump == "" {
			a.warnRSTSuppression(details)
		}
	}
	return ep, iface, cleanup, nil
}

// warnRSTSuppression reports when the local stack will answer SYN-ACKs with
// RSTs of its own.
func (a *app) warnRSTSuppression(d *netinfo.NetworkDetails) {
	if d.SrcIP4.IsValid() && !checkRSTSuppression() {
		a.log.Warn("outbound RSTs are not suppressed, replies may be reset by the local stack",
			zap.String("hint", rstSuppressionHint()))
	}
	if d.SrcIP6.IsValid() && !checkRSTSuppressionV6() {
		a.log.Warn("outbound IPv6 RSTs are not suppressed",
			zap.String("hint", rstSuppressionHintV6()))
	}
}

// idleSource is a capture source with nothing to read, for dry runs.
type idleSource struct{}

func (idleSource) ReadPacket() ([]byte, gopacket.CaptureInfo, error) {
	time.Sleep(time.Millisecond)
	return nil, gopacket.CaptureInfo{}, io.EOF
}
