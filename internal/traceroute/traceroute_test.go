package traceroute

import (
	stderrors "errors"
	"net/netip"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rs_recon/internal/errors"
	"rs_recon/internal/metrics"
)

var (
	dst1 = netip.MustParseAddr("198.51.100.1")
	dst2 = netip.MustParseAddr("198.51.100.2")
)

// scriptedHops replays fixed hops. onHop, if set, runs when a hop is
// handed out so tests can flip the stop flag mid-trace.
type scriptedHops struct {
	hops   []Hop
	next   int
	closed bool
	onHop  func(ttl uint8)
	panics bool
	stop   *atomic.Bool
}

func (s *scriptedHops) Next(stop *atomic.Bool) (Hop, bool) {
	s.stop = stop
	if s.panics {
		panic("socket vanished")
	}
	if s.next >= len(s.hops) {
		return Hop{}, false
	}
	h := s.hops[s.next]
	s.next++
	if s.onHop != nil {
		s.onHop(h.TTL)
	}
	return h, true
}

func (s *scriptedHops) Close() error {
	s.closed = true
	return nil
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func q(rtt int, addr string) Query { return Query{RTT: ms(rtt), Addr: []string{addr}} }

func threeHops() []Hop {
	return []Hop{
		{TTL: 1, Queries: []Query{q(1, "10.0.0.1"), q(2, "10.0.0.1"), q(1, "10.0.0.1")}},
		{TTL: 2, Queries: []Query{q(10, "203.0.113.1"), q(25, "203.0.113.1"), q(5, "203.0.113.7")}},
		{TTL: 3, Queries: []Query{q(30, "198.51.100.1"), q(0, "*"), q(31, "198.51.100.1")}},
	}
}

func factory(iters map[netip.Addr]*scriptedHops) IteratorFactory {
	return func(target netip.Addr) (HopIterator, error) {
		it, ok := iters[target]
		if !ok {
			return nil, stderrors.New("no route to host")
		}
		return it, nil
	}
}

func TestTraceHopRTTIsMaxPerHop(t *testing.T) {
	it := &scriptedHops{hops: threeHops()}
	tr, err := New([]netip.Addr{dst1}, factory(map[netip.Addr]*scriptedHops{dst1: it}), nil, metrics.New())
	require.NoError(t, err)

	res, err := tr.Trace(nil)
	require.NoError(t, err)
	require.Len(t, res, 3)

	assert.Equal(t, ms(2), res[0].RTT)
	assert.Equal(t, ms(25), res[1].RTT)
	assert.Equal(t, ms(31), res[2].RTT)
	assert.Equal(t, [][]string{{"203.0.113.1"}, {"203.0.113.1"}, {"203.0.113.7"}}, res[1].Addr)
	for i, r := range res {
		assert.EqualValues(t, i+1, r.ID)
		assert.Equal(t, dst1, r.Target)
	}
	assert.True(t, it.closed)
}

func TestTraceProgressMatchesResults(t *testing.T) {
	iters := map[netip.Addr]*scriptedHops{
		dst1: {hops: threeHops()},
		dst2: {hops: threeHops()[:2]},
	}
	tr, err := New([]netip.Addr{dst1, dst2}, factory(iters), nil, nil)
	require.NoError(t, err)

	progress := tr.Progress()
	done := make(chan []Result)
	go func() {
		var got []Result
		for r := range progress {
			got = append(got, r)
		}
		done <- got
	}()

	res, err := tr.Trace(nil)
	require.NoError(t, err)
	streamed := <-done

	assert.Len(t, res, 5)
	assert.ElementsMatch(t, res, streamed)

	// Within one target hops stay in TTL order.
	var ids []uint8
	for _, r := range res {
		if r.Target == dst1 {
			ids = append(ids, r.ID)
		}
	}
	assert.True(t, sort.SliceIsSorted(ids, func(i, j int) bool { return ids[i] < ids[j] }))
}

func TestTraceStopFinalizesCurrentHop(t *testing.T) {
	var stop atomic.Bool
	it := &scriptedHops{hops: threeHops()}
	it.onHop = func(ttl uint8) {
		if ttl == 2 {
			stop.Store(true)
		}
	}
	tr, err := New([]netip.Addr{dst1}, factory(map[netip.Addr]*scriptedHops{dst1: it}), nil, nil)
	require.NoError(t, err)

	res, err := tr.Trace(&stop)
	require.NoError(t, err)
	require.Len(t, res, 2, "the interrupted hop is kept, later hops are not probed")
	assert.Equal(t, [][]string{{"203.0.113.1"}}, res[1].Addr, "stop is seen after the first query")
	assert.Equal(t, ms(10), res[1].RTT)
	assert.Equal(t, 2, it.next)
	assert.Same(t, &stop, it.stop, "the iterator sees the caller's flag")
}

func TestQueryHopStopsBetweenQueries(t *testing.T) {
	var (
		stop atomic.Bool
		sent int
	)
	query := func() (Query, bool) {
		sent++
		if sent == 2 {
			stop.Store(true)
		}
		return q(sent, "203.0.113.1"), false
	}

	qs, reached := queryHop(5, &stop, query)
	assert.Equal(t, 2, sent, "no query goes out after stop is set")
	assert.Equal(t, []Query{q(1, "203.0.113.1"), q(2, "203.0.113.1")}, qs)
	assert.False(t, reached)
}

func TestQueryHopRunsAllQueries(t *testing.T) {
	sent := 0
	query := func() (Query, bool) {
		sent++
		return q(sent, "198.51.100.1"), sent == 2
	}

	qs, reached := queryHop(3, nil, query)
	assert.Len(t, qs, 3)
	assert.True(t, reached, "any query reaching the destination counts")
}

func TestTraceWorkerFailureIsFatal(t *testing.T) {
	iters := map[netip.Addr]*scriptedHops{dst1: {hops: threeHops()}}
	tr, err := New([]netip.Addr{dst1, dst2}, factory(iters), nil, nil)
	require.NoError(t, err)

	res, err := tr.Trace(nil)
	assert.Nil(t, res)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeWorkerFailed))
	assert.Equal(t, 3, iters[dst1].next, "the healthy worker still runs to completion")
}

func TestTraceWorkerPanicIsFatal(t *testing.T) {
	iters := map[netip.Addr]*scriptedHops{
		dst1: {hops: threeHops()},
		dst2: {panics: true},
	}
	tr, err := New([]netip.Addr{dst1, dst2}, factory(iters), nil, nil)
	require.NoError(t, err)

	res, err := tr.Trace(nil)
	assert.Nil(t, res)
	assert.True(t, errors.IsCode(err, errors.CodeWorkerFailed))
	assert.True(t, iters[dst2].closed)
}

func TestNewValidation(t *testing.T) {
	_, err := New(nil, factory(nil), nil, nil)
	assert.True(t, errors.IsCode(err, errors.CodeTargetInvalid))
	_, err = New([]netip.Addr{dst1}, nil, nil, nil)
	assert.True(t, errors.IsCode(err, errors.CodeConfiguration))
}

func TestResultString(t *testing.T) {
	r := Result{ID: 4, RTT: 25*time.Millisecond + 700*time.Microsecond,
		Addr: [][]string{{"203.0.113.1", "edge.example.net"}, {"*"}}}
	assert.Equal(t, "[id[4] rtt[25 ms] addr[203.0.113.1 edge.example.net, *]]", r.String())
}

func TestDefaultICMPOptions(t *testing.T) {
	o := DefaultICMPOptions()
	assert.Equal(t, 30, o.MaxHops)
	assert.Equal(t, 3, o.Queries)
	assert.Equal(t, time.Second, o.QueryTimeout)
}
