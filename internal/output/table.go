package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"
)

// TableFormatter collects records and renders them as tables on Flush: one
// for hosts and ports, one for traceroute hops grouped by target, one for
// DNS answers. Empty tables are skipped.
type TableFormatter struct {
	w     io.Writer
	scans [][]string
	hops  [][]string
	dns   [][]string
}

func NewTableFormatter(w io.Writer) *TableFormatter {
	return &TableFormatter{w: w}
}

func (f *TableFormatter) Write(res *Result) error {
	switch res.Event {
	case EventHost:
		f.scans = append(f.scans, []string{res.IP, "", res.Proto, res.Status, "", fmt.Sprint(res.TTL)})
	case EventPort:
		f.scans = append(f.scans, []string{res.IP, fmt.Sprint(res.Port), res.Proto, res.Status, res.Service, ""})
	case EventHop:
		target := res.IP
		if n := len(f.hops); n > 0 && f.hops[n-1][0] == res.IP {
			target = ""
		}
		replies := make([]string, len(res.Replies))
		for i, r := range res.Replies {
			replies[i] = strings.Join(r, " ")
		}
		f.hops = append(f.hops, []string{target, fmt.Sprint(res.Hop), fmt.Sprintf("%d ms", res.RTTMs), strings.Join(replies, ", ")})
	case EventDNS:
		f.dns = append(f.dns, []string{res.IP, res.Status, dnsValue(res)})
	default:
		return fmt.Errorf("table: unknown event %q", res.Event)
	}
	return nil
}

// Flush renders everything collected so far and resets the formatter.
func (f *TableFormatter) Flush() error {
	if err := f.render([]any{"IP", "Port", "Proto", "Status", "Service", "TTL"}, f.scans); err != nil {
		return err
	}
	if err := f.render([]any{"Target", "Hop", "RTT", "Replies"}, f.hops); err != nil {
		return err
	}
	if err := f.render([]any{"Source", "Kind", "Value"}, f.dns); err != nil {
		return err
	}
	f.scans, f.hops, f.dns = nil, nil, nil
	return nil
}

func (f *TableFormatter) render(header []any, rows [][]string) error {
	if len(rows) == 0 {
		return nil
	}
	table := tablewriter.NewWriter(f.w)
	table.Header(header...)
	for _, row := range rows {
		if err := table.Append(row); err != nil {
			return err
		}
	}
	return table.Render()
}
