// Package traceroute collects per-hop round-trip samples toward a set of
// targets, one independent worker per target.
package traceroute

import (
	"fmt"
	"net/netip"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"rs_recon/internal/errors"
	"rs_recon/internal/logging"
	"rs_recon/internal/metrics"
)

// Query is one probe sample within a hop. Addr holds the responder as
// reported by the iterator ("*" when no reply arrived), optionally followed
// by its reverse name.
type Query struct {
	RTT  time.Duration
	Addr []string
}

// Hop is every query sent with one TTL.
type Hop struct {
	TTL     uint8
	Queries []Query
}

// HopIterator yields hops toward one target in increasing TTL order. Next
// blocks while the hop's probes are in flight and returns false once the
// destination answered or the hop limit is reached. Next checks stop between
// queries and returns a partial hop once it is set.
type HopIterator interface {
	Next(stop *atomic.Bool) (Hop, bool)
	Close() error
}

// IteratorFactory creates the hop iterator for a target.
type IteratorFactory func(target netip.Addr) (HopIterator, error)

// Result summarizes one hop: the largest RTT among its queries and every
// query's responder address.
type Result struct {
	Target netip.Addr    `json:"target" yaml:"target"`
	ID     uint8         `json:"id" yaml:"id"`
	RTT    time.Duration `json:"rtt" yaml:"rtt"`
	Addr   [][]string    `json:"addr" yaml:"addr"`
}

func (r Result) String() string {
	parts := make([]string, len(r.Addr))
	for i, a := range r.Addr {
		parts[i] = strings.Join(a, " ")
	}
	return fmt.Sprintf("[id[%d] rtt[%d ms] addr[%s]]", r.ID, r.RTT.Milliseconds(), strings.Join(parts, ", "))
}

// Tracer runs a traceroute worker per target on an ants pool.
type Tracer struct {
	targets []netip.Addr
	newIter IteratorFactory

	log     *zap.Logger
	metrics *metrics.Metrics

	progress chan Result
}

// New returns a tracer for targets. newIter is called once per target from
// that target's worker.
func New(targets []netip.Addr, newIter IteratorFactory, log *zap.Logger, m *metrics.Metrics) (*Tracer, error) {
	if len(targets) == 0 {
		return nil, errors.New(errors.CodeTargetInvalid, "no traceroute targets")
	}
	if newIter == nil {
		return nil, errors.New(errors.CodeConfiguration, "no hop iterator factory")
	}
	return &Tracer{
		targets: targets,
		newIter: newIter,
		log:     logging.OrNop(log).Named("traceroute"),
		metrics: m,
	}, nil
}

// Progress returns a channel carrying every hop result as soon as it is
// complete. It must be called before Trace and drained until closed.
func (t *Tracer) Progress() <-chan Result {
	if t.progress == nil {
		t.progress = make(chan Result, 256)
	}
	return t.progress
}

// Trace runs all workers and returns their concatenated results. Ordering
// across targets follows completion order; within a target hops are in TTL
// order. Any worker failure fails the whole trace, after every worker has
// finished.
func (t *Tracer) Trace(stop *atomic.Bool) ([]Result, error) {
	if stop == nil {
		stop = new(atomic.Bool)
	}
	if t.progress != nil {
		defer close(t.progress)
	}

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		all      []Result
		firstErr error
	)
	fail := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		if firstErr == nil {
			firstErr = err
		}
	}

	// A task either returns normally and marks itself done, or panics and
	// the pool's handler does it after recording the failure.
	pool, err := ants.NewPool(len(t.targets), ants.WithPanicHandler(func(p any) {
		defer wg.Done()
		t.log.Error("traceroute worker panicked", zap.Any("panic", p))
		fail(errors.Newf(errors.CodeWorkerFailed, "traceroute worker panicked: %v", p))
	}))
	if err != nil {
		return nil, errors.Wrap(errors.CodeConfiguration, "traceroute pool", err)
	}
	defer pool.Release()

	for _, target := range t.targets {
		wg.Add(1)
		err := pool.Submit(func() {
			res, err := t.traceOne(target, stop)
			if err != nil {
				fail(err)
			} else {
				mu.Lock()
				all = append(all, res...)
				mu.Unlock()
			}
			wg.Done()
		})
		if err != nil {
			wg.Done()
			fail(errors.Wrap(errors.CodeWorkerFailed, "submit traceroute worker", err).WithTarget(target.String()))
		}
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return all, nil
}

// traceOne walks target's hops until the iterator ends or stop is seen. A
// hop interrupted by stop is still emitted.
func (t *Tracer) traceOne(target netip.Addr, stop *atomic.Bool) ([]Result, error) {
	it, err := t.newIter(target)
	if err != nil {
		return nil, errors.Wrap(errors.CodeWorkerFailed, "hop iterator", err).WithTarget(target.String())
	}
	defer it.Close()

	var out []Result
	stopped := false
	for !stopped {
		hop, ok := it.Next(stop)
		if !ok {
			break
		}
		r := Result{Target: target, ID: hop.TTL}
		for _, q := range hop.Queries {
			r.RTT = max(r.RTT, q.RTT)
			r.Addr = append(r.Addr, q.Addr)
			if stop.Load() {
				stopped = true
				break
			}
		}
		t.metrics.Hop()
		t.log.Debug("hop", zap.Stringer("target", target), zap.Uint8("ttl", r.ID), zap.Duration("rtt", r.RTT))
		if t.progress != nil {
			t.progress <- r
		}
		out = append(out, r)
	}
	return out, nil
}
