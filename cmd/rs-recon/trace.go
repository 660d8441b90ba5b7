package main

import (
	"net/netip"
	"strings"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"rs_recon/internal/errors"
	"rs_recon/internal/output"
	"rs_recon/internal/traceroute"
	"rs_recon/internal/ui"
)

func newTraceCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trace [targets...]",
		Short: "ICMP traceroute to one or more targets",
		Long: `Send ICMP echo requests with increasing TTL and collect the responders of
every hop. Targets are traced concurrently; each hop reports the slowest query.`,
		Example: `  rs-recon trace 192.0.2.1
  rs-recon trace --max-hops 16 --queries 1 --names example.com`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runTrace(args)
		},
	}
	f := cmd.Flags()
	f.Int("max-hops", 30, "highest TTL to probe")
	f.Int("queries", 3, "probes per hop")
	f.Duration("query-timeout", time.Second, "wait for each probe's reply")
	f.Bool("names", false, "reverse-resolve hop responders")
	a.bind(f, map[string]string{
		"trace.max_hops":      "max-hops",
		"trace.queries":       "queries",
		"trace.query_timeout": "query-timeout",
		"trace.names":         "names",
	})
	return cmd
}

func (a *app) runTrace(args []string) error {
	addrs, err := a.targetAddrs(args)
	if err != nil {
		return err
	}

	tc := a.cfg.Trace
	opts := traceroute.ICMPOptions{
		MaxHops:      tc.MaxHops,
		Queries:      tc.Queries,
		QueryTimeout: tc.QueryTimeout,
	}
	if a.cfg.Scan.SourceIP != "" {
		src, err := netip.ParseAddr(a.cfg.Scan.SourceIP)
		if err != nil {
			return errors.Wrap(errors.CodeConfiguration, "source address", err)
		}
		opts.Source = src
	}
	if tc.Names {
		r, err := a.resolver()
		if err != nil {
			return err
		}
		opts.Namer = r.Name
	}
	return a.trace(addrs, traceroute.ICMPFactory(opts))
}

// trace runs the tracer built from factory and reports its hops.
func (a *app) trace(addrs []netip.Addr, factory traceroute.IteratorFactory) error {
	t, err := traceroute.New(addrs, factory, a.log, a.metrics)
	if err != nil {
		return err
	}
	sink, err := a.openSink()
	if err != nil {
		return err
	}
	defer a.closeSink(sink)

	var hops atomic.Uint64
	start := time.Now()
	stats := func() ui.ScanStats {
		n := hops.Load()
		return ui.ScanStats{Sent: n, Hosts: uint64(len(addrs)), Elapsed: time.Since(start)}
	}

	names := make([]string, len(addrs))
	for i, addr := range addrs {
		names[i] = addr.String()
	}
	disp := a.newDisplay(ui.Header{Command: "trace", Target: strings.Join(names, ","), ScanType: "icmp"}, stats)
	streaming := a.streams(disp.mode)

	progress := t.Progress()
	progressDone := make(chan struct{})
	go func() {
		defer close(progressDone)
		for h := range progress {
			hops.Add(1)
			r := output.FromHop(a.scanID, h, "")
			disp.Result(r)
			if streaming {
				if err := sink.Write(r); err != nil {
					a.log.Warn("writing hop", zap.Error(err))
				}
			}
		}
	}()

	var all []traceroute.Result
	err = disp.Run(func() error {
		res, err := t.Trace(&a.stop)
		<-progressDone
		if err != nil {
			return err
		}
		all = res
		if !streaming {
			if err := sink.WriteAll(output.FromTrace(a.scanID, res)); err != nil {
				return errors.Wrap(errors.CodeScanFailed, "write results", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	a.log.Info("trace summary",
		zap.Int("targets", len(addrs)),
		zap.Int("hops", len(all)),
		zap.Int("records", sink.Written()),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}
