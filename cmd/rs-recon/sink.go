package main

import (
	"context"
	"net/netip"
	"sync"

	"go.uber.org/zap"

	"rs_recon/internal/errors"
	"rs_recon/internal/output"
	"rs_recon/internal/resolve"
	"rs_recon/internal/targets"
	"rs_recon/internal/ui"
)

const streamBatch = 64

// openSink opens the configured result destination: output.file when set,
// stdout otherwise.
func (a *app) openSink() (*output.Sink, error) {
	oc := a.cfg.Output
	sink, err := output.Open(output.Destination{
		Format: oc.Format,
		File:   oc.File,
		Stdout: a.stdout,
		Batch:  streamBatch,
	}, a.log)
	if err != nil {
		se := errors.Wrap(errors.CodeConfiguration, "open output", err)
		if oc.File != "" {
			se = se.WithTarget(oc.File)
		}
		return nil, se
	}
	return sink, nil
}

// streams reports whether records are written as they are found. Stdout
// output under the TUI waits for the view to close.
func (a *app) streams(mode ui.Mode) bool {
	return output.Streams(a.cfg.Output.Format) && (a.cfg.Output.File != "" || mode != ui.ModeTUI)
}

func (a *app) closeSink(sink *output.Sink) {
	if err := sink.Close(); err != nil {
		a.log.Warn("closing output", zap.Error(err))
	}
}

func (a *app) resolver() (*resolve.Resolver, error) {
	return resolve.New(a.cfg.DNS, a.log)
}

// lazyLookup builds the resolver on the first hostname, so address-only
// targets work on hosts without a resolv.conf.
type lazyLookup struct {
	a    *app
	once sync.Once
	r    *resolve.Resolver
	err  error
}

func (l *lazyLookup) LookupAddrs(ctx context.Context, host string) ([]netip.Addr, error) {
	l.once.Do(func() { l.r, l.err = l.a.resolver() })
	if l.err != nil {
		return nil, l.err
	}
	return l.r.LookupAddrs(ctx, host)
}

// targetAddrs expands the configured includes plus args, minus excludes.
func (a *app) targetAddrs(args []string) ([]netip.Addr, error) {
	includes := append(append([]string(nil), a.cfg.Scan.Targets.Include...), args...)
	if len(includes) == 0 {
		return nil, errors.New(errors.CodeTargetInvalid, "no targets given")
	}
	ctx, cancel := a.ctx()
	defer cancel()

	set, err := targets.Parse(ctx, includes, a.cfg.Scan.Targets.Exclude, &lazyLookup{a: a})
	if err != nil {
		return nil, err
	}
	if set.Empty() {
		return nil, errors.New(errors.CodeTargetInvalid, "every target is excluded")
	}
	return set.Addrs()
}
