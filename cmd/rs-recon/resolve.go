package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"rs_recon/internal/errors"
	"rs_recon/internal/output"
	"rs_recon/internal/resolve"
)

func newResolveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <name|address>...",
		Short: "Forward and reverse DNS lookups",
		Long: `Look up A and AAAA records for names and PTR records for addresses, using
--dns-server or the system resolv.conf.`,
		Example: `  rs-recon resolve example.com 192.0.2.1
  rs-recon resolve --dns-server 9.9.9.9 --format jsonl example.org`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runResolve(args)
		},
	}
}

func (a *app) runResolve(args []string) error {
	r, err := a.resolver()
	if err != nil {
		return err
	}
	sink, err := a.openSink()
	if err != nil {
		return err
	}
	defer a.closeSink(sink)

	ctx, cancel := a.ctx()
	defer cancel()
	answers := r.Resolve(ctx, args)

	failed := 0
	for _, ans := range answers {
		if ans.Kind == resolve.KindError {
			failed++
		}
	}
	if err := sink.WriteAll(output.FromDNS(a.scanID, answers)); err != nil {
		return errors.Wrap(errors.CodeResolveFailed, "write results", err)
	}
	a.log.Info("resolve summary",
		zap.Strings("servers", r.Servers()),
		zap.Int("queries", len(answers)),
		zap.Int("failed", failed))
	return nil
}
