// Command rs-recon is a raw-socket network reconnaissance tool: host and
// port discovery, ICMP traceroute and DNS lookups.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"rs_recon/internal/config"
	"rs_recon/internal/logging"
	"rs_recon/internal/metrics"
)

// Build information, set with -ldflags "-X main.version=...".
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// app carries what every subcommand needs once the root has loaded config.
type app struct {
	v       *viper.Viper
	cfgFile string

	cfg     *config.Config
	log     *zap.Logger
	metrics *metrics.Metrics
	scanID  string

	stdout io.Writer
	stderr io.Writer

	// stop is raised by SIGINT/SIGTERM or by quitting the TUI.
	stop       atomic.Bool
	stopSignal context.CancelFunc
	metricsSrv *http.Server
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New(), stdout: os.Stdout, stderr: os.Stderr}

	root := &cobra.Command{
		Use:   "rs-recon",
		Short: "Raw-socket host, port and path discovery",
		Long: `rs-recon sends crafted probes from a raw socket and classifies the replies
it captures: SYN, TCP-ping, ICMP and UDP sweeps, ICMP traceroute, and forward or
reverse DNS lookups for targets.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a.stdout = cmd.OutOrStdout()
			a.stderr = cmd.ErrOrStderr()
			return a.setup()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (YAML)")
	pf.String("log-level", "info", "log level: debug, info, warn, error")
	pf.String("log-format", "console", "log format: console or json")
	pf.String("log-output", "stderr", "log destination: stderr, stdout or a file path")
	pf.String("metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9100")
	pf.StringSlice("dns-server", nil, "DNS servers (host[:port]); default from /etc/resolv.conf")
	pf.Duration("dns-timeout", 2*time.Second, "per-query DNS timeout")
	pf.StringP("output", "o", "", "write results to this file instead of stdout")
	pf.String("format", "text", "output format: jsonl, csv, text, grep, yaml, table")
	pf.Bool("no-tui", false, "plain text progress instead of the interactive view")
	pf.BoolP("quiet", "q", false, "no progress output")
	pf.StringSlice("exclude", nil, "targets to leave out (addresses, prefixes, ranges, names)")
	a.bind(pf, map[string]string{
		"log.level":            "log-level",
		"log.format":           "log-format",
		"log.output":           "log-output",
		"metrics.addr":         "metrics-addr",
		"dns.servers":          "dns-server",
		"dns.timeout":          "dns-timeout",
		"output.file":          "output",
		"output.format":        "format",
		"output.no_tui":        "no-tui",
		"output.quiet":         "quiet",
		"scan.targets.exclude": "exclude",
	})

	root.AddCommand(
		newScanCmd(a),
		newTraceCmd(a),
		newResolveCmd(a),
		newIfaceCmd(a),
	)

	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return fmt.Errorf("%w\n\n%s", err, cmd.UsageString())
	})
	return withErrorReport(root, a)
}

// withErrorReport tears the app down after every subcommand and prints a
// failing command's error once, through the logger when one was built.
func withErrorReport(root *cobra.Command, a *app) *cobra.Command {
	for _, sub := range root.Commands() {
		run := sub.RunE
		if run == nil {
			continue
		}
		sub.RunE = func(cmd *cobra.Command, args []string) error {
			defer a.teardown()
			err := run(cmd, args)
			if err != nil {
				if a.log != nil {
					a.log.Error("command failed", zap.String("command", cmd.Name()), zap.Error(err))
				} else {
					fmt.Fprintln(a.stderr, "Error:", err)
				}
			}
			return err
		}
	}
	return root
}

// bind maps viper keys onto flags so that flags set on the command line
// take precedence over the config file and environment.
func (a *app) bind(fs *pflag.FlagSet, keys map[string]string) {
	for key, flag := range keys {
		if err := a.v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			panic(fmt.Sprintf("bind %s: %v", flag, err))
		}
	}
}

func (a *app) setup() error {
	cfg, err := config.LoadWith(a.v, a.cfgFile)
	if err != nil {
		fmt.Fprintln(a.stderr, "Error:", err)
		return err
	}
	a.cfg = cfg

	log, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintln(a.stderr, "Error:", err)
		return err
	}
	a.scanID = uuid.NewString()
	a.log = log.With(zap.String("scan_id", a.scanID))
	a.metrics = metrics.New()

	if cfg.Metrics.Addr != "" {
		a.metricsSrv = &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           a.metrics.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := a.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				a.log.Warn("metrics server stopped", zap.Error(err))
			}
		}()
		a.log.Info("serving metrics", zap.String("addr", cfg.Metrics.Addr))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	a.stopSignal = cancel
	go func() {
		<-ctx.Done()
		a.stop.Store(true)
	}()
	return nil
}

func (a *app) teardown() {
	if a.stopSignal != nil {
		a.stopSignal()
	}
	if a.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = a.metricsSrv.Shutdown(ctx)
	}
	if a.log != nil {
		_ = a.log.Sync()
	}
}

// ctx returns a context cancelled when the stop flag is raised.
func (a *app) ctx() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		t := time.NewTicker(50 * time.Millisecond)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if a.stop.Load() {
					cancel()
					return
				}
			}
		}
	}()
	return ctx, cancel
}
