package ui

import (
	"fmt"
	"strings"
	"time"
)

const helpLine = " q quit · 1/2/3 filter · j/k move · f follow"

func (m Model) View() string {
	if m.quitting || m.done {
		return ""
	}
	w := m.width
	if w < 40 {
		w = 80
	}
	var b strings.Builder
	m.writeTitle(&b, w)
	m.writeProgress(&b, w)
	m.writeTopPorts(&b, w)
	m.writeTabs(&b)
	b.WriteString(colHeader.Render(truncate(fmt.Sprintf(" %-39s %-7s %-6s %-7s %s",
		"ADDRESS", "PORT", "PROTO", "STATE", "DETAIL"), w)) + "\n")
	m.writeTable(&b, w)
	b.WriteString(faint.Render(helpLine) + "\n")
	return b.String()
}

func (m Model) writeTitle(b *strings.Builder, w int) {
	parts := []string{m.hdr.ScanType, truncate(m.hdr.Target, 30)}
	if m.hdr.Ports != "" {
		parts = append(parts, truncate(m.hdr.Ports, 30))
	}
	if m.hdr.Iface != "" {
		parts = append(parts, m.hdr.Iface)
	}
	meta := " " + strings.Join(parts, " · ")
	fmt.Fprintf(b, " %s%s\n", titleText.Render("rs-recon "+m.hdr.Command),
		faint.Render(truncate(meta, w-len(m.hdr.Command)-12)))
}

func (m Model) writeProgress(b *strings.Builder, w int) {
	width := 20
	if w > 120 {
		width = 30
	}
	done := min(int(m.stats.Progress*float64(width)), width)
	bar := barDone.Render(strings.Repeat("█", done)) + barLeft.Render(strings.Repeat("░", width-done))

	counters := fmt.Sprintf("  %s/s  Sent %s/%s  Hosts %s  Open %s",
		compact(uint64(m.stats.Rate)), compact(m.stats.Sent), compact(m.stats.Total),
		compact(m.up), compact(m.open))
	if m.stats.Failed > 0 {
		counters += "  Fail " + compact(m.stats.Failed)
	}
	spark := m.spark.String()
	if spark != "" {
		spark = " " + barDone.Render(spark)
	}
	fmt.Fprintf(b, " %s %3.0f%%%s%s  %s\n", bar, m.stats.Progress*100,
		faint.Render(counters), spark, faint.Render(m.stats.Elapsed.Truncate(time.Second).String()))
}

func (m *Model) writeTopPorts(b *strings.Builder, w int) {
	top := m.topPorts()
	if len(top) == 0 {
		b.WriteString("\n")
		return
	}
	var sb strings.Builder
	sb.WriteString(" top")
	for _, pc := range top {
		fmt.Fprintf(&sb, " %d:%s", pc.port, compact(pc.count))
	}
	b.WriteString(faint.Render(truncate(sb.String(), w)) + "\n")
}

func (m Model) writeTabs(b *strings.Builder) {
	counts := map[Filter]uint64{FilterAll: m.total, FilterOpen: m.open + m.up, FilterHops: m.hops}
	for _, fk := range filterKeys {
		tab := fmt.Sprintf(" %s:%s %s ", fk.key, fk.label, grouped(counts[fk.filter]))
		style := faint
		if fk.filter == m.filter {
			style = tabOn
		}
		b.WriteString(" " + style.Render(tab))
	}
	b.WriteString("\n")
}

func (m Model) writeTable(b *strings.Builder, w int) {
	n := m.tableHeight()
	end := min(m.offset+n, len(m.visible))
	for i := m.offset; i < end; i++ {
		line := truncate(formatRow(m.visible[i]), w)
		if i == m.cursor && !m.follow {
			line = selected.Render(line)
		}
		b.WriteString(line + "\n")
	}
	b.WriteString(strings.Repeat("\n", max(0, n-(end-m.offset))))
}

func formatRow(r *resultRow) string {
	var port, detail string
	switch r.state {
	case stateUp:
		detail = fmt.Sprintf("ttl=%d", r.ttl)
	case stateOpen, stateClosed:
		port = fmt.Sprint(r.port)
		detail = service.Render(r.service)
	case stateHop:
		port = fmt.Sprintf("#%d", r.hop)
		detail = fmt.Sprintf("%d ms  %s", r.rtt.Milliseconds(), r.replies)
	}
	state := stateStyle[r.state].Render(fmt.Sprintf("%-7s", r.state))
	return fmt.Sprintf(" %-39s %-7s %-6s %s %s", r.ip, port, r.proto, state, detail)
}

// grouped renders n with thousands separators.
func grouped(n uint64) string {
	s := fmt.Sprint(n)
	for i := len(s) - 3; i > 0; i -= 3 {
		s = s[:i] + "," + s[i:]
	}
	return s
}

// compact renders n in at most four characters plus a k or M suffix.
func compact(n uint64) string {
	f := float64(n)
	switch {
	case n < 1000:
		return fmt.Sprint(n)
	case n < 10_000:
		return fmt.Sprintf("%.1fk", f/1e3)
	case n < 1_000_000:
		return fmt.Sprintf("%.0fk", f/1e3)
	case n < 10_000_000:
		return fmt.Sprintf("%.1fM", f/1e6)
	}
	return fmt.Sprintf("%.0fM", f/1e6)
}

func truncate(s string, w int) string {
	switch {
	case w <= 0:
		return ""
	case len(s) <= w:
		return s
	case w < 2:
		return s[:w]
	}
	return s[:w-1] + "…"
}

func joinReplies(replies [][]string) string {
	parts := make([]string, len(replies))
	for i, r := range replies {
		parts[i] = strings.Join(r, " ")
	}
	return strings.Join(parts, ", ")
}
