package ui

import "strings"

const sparkWidth = 60

var sparkGlyphs = []rune("▁▂▃▄▅▆▇█")

// sparkline shows how many rows each stats tick discovered, for the last
// sparkWidth ticks.
type sparkline struct {
	deltas [sparkWidth]uint64
	next   int
	filled int
	last   uint64
}

// observe records the growth of total since the previous tick.
func (s *sparkline) observe(total uint64) {
	s.deltas[s.next] = total - s.last
	s.last = total
	s.next = (s.next + 1) % sparkWidth
	s.filled = min(s.filled+1, sparkWidth)
}

// at returns the i-th oldest retained delta.
func (s *sparkline) at(i int) uint64 {
	return s.deltas[(s.next-s.filled+i+sparkWidth)%sparkWidth]
}

func (s *sparkline) String() string {
	if s.filled == 0 {
		return ""
	}
	peak := uint64(1)
	for i := range s.filled {
		peak = max(peak, s.at(i))
	}
	var sb strings.Builder
	top := uint64(len(sparkGlyphs) - 1)
	for i := range s.filled {
		sb.WriteRune(sparkGlyphs[s.at(i)*top/peak])
	}
	return sb.String()
}
