package ui

import (
	"fmt"
	"time"
)

type rowState uint8

const (
	stateUp rowState = iota
	stateOpen
	stateClosed
	stateHop
)

func (s rowState) String() string {
	switch s {
	case stateUp:
		return "up"
	case stateOpen:
		return "open"
	case stateClosed:
		return "closed"
	}
	return "hop"
}

// resultRow is one line of the results table: a live host, a socket or a
// traceroute hop.
type resultRow struct {
	state   rowState
	ip      string
	port    uint16
	proto   string
	ttl     uint8
	service string
	hop     uint8
	rtt     time.Duration
	replies string
}

// newRow converts a result event. ok is false for events that are not rows.
func newRow(ev ScanEvent) (row *resultRow, key string, ok bool) {
	row = &resultRow{
		ip: ev.IP, port: ev.Port, proto: ev.Proto, ttl: ev.TTL,
		service: ev.Service, hop: ev.Hop, rtt: ev.RTT, replies: ev.Replies,
	}
	switch ev.Type {
	case EvtHost:
		row.state, key = stateUp, ev.IP
	case EvtOpen, EvtClosed:
		row.state = stateOpen
		if ev.Type == EvtClosed {
			row.state = stateClosed
		}
		key = fmt.Sprintf("%s:%d/%s", ev.IP, ev.Port, ev.Proto)
	case EvtHop:
		row.state, key = stateHop, fmt.Sprintf("%s#%d", ev.IP, ev.Hop)
	default:
		return nil, "", false
	}
	return row, key, true
}

// rowStore keeps rows in arrival order, once per key, dropping the oldest
// past limit.
type rowStore struct {
	limit int
	byKey map[string]*resultRow
	keys  []string
}

func newRowStore(limit int) *rowStore {
	return &rowStore{limit: limit, byKey: make(map[string]*resultRow, 1024)}
}

// add stores row under key and reports whether the key was new.
func (s *rowStore) add(key string, row *resultRow) bool {
	if _, dup := s.byKey[key]; dup {
		return false
	}
	s.byKey[key] = row
	s.keys = append(s.keys, key)
	for len(s.keys) > s.limit {
		delete(s.byKey, s.keys[0])
		s.keys = s.keys[1:]
	}
	return true
}

func (s *rowStore) get(key string) *resultRow { return s.byKey[key] }

func (s *rowStore) len() int { return len(s.keys) }

// filter appends the rows f accepts, oldest first, to dst.
func (s *rowStore) filter(dst []*resultRow, f Filter) []*resultRow {
	for _, k := range s.keys {
		if r := s.byKey[k]; f.accepts(r) {
			dst = append(dst, r)
		}
	}
	return dst
}

// Filter selects which rows the table shows.
type Filter int

const (
	FilterAll Filter = iota
	FilterOpen
	FilterHops
)

func (f Filter) accepts(r *resultRow) bool {
	switch f {
	case FilterOpen:
		return r.state == stateOpen || r.state == stateUp
	case FilterHops:
		return r.state == stateHop
	}
	return true
}

type filterKey struct {
	key    string
	label  string
	filter Filter
}

// filterKeys binds number keys to filters, in tab order.
var filterKeys = []filterKey{
	{"1", "All", FilterAll},
	{"2", "Open", FilterOpen},
	{"3", "Hops", FilterHops},
}
