package ui

import (
	"fmt"
	"io"
)

// TextPrinter is the non-interactive display: one line per result and a
// status line redrawn in place.
type TextPrinter struct {
	Out     io.Writer
	Verbose bool // also print closed ports
}

func (p *TextPrinter) PrintEvent(ev ScanEvent) {
	var line string
	switch ev.Type {
	case EvtHost:
		line = fmt.Sprintf("[+] UP: %s (ttl %d)", ev.IP, ev.TTL)
	case EvtOpen:
		line = fmt.Sprintf("[+] OPEN: %s:%d (%s) %s", ev.IP, ev.Port, ev.Proto, ev.Service)
	case EvtClosed:
		if !p.Verbose {
			return
		}
		line = fmt.Sprintf("[-] CLOSED: %s:%d (%s)", ev.IP, ev.Port, ev.Proto)
	case EvtHop:
		line = fmt.Sprintf("[>] HOP: %s #%d %d ms %s", ev.IP, ev.Hop, ev.RTT.Milliseconds(), ev.Replies)
	case EvtInfo:
		fmt.Fprintln(p.Out, ev.Msg)
		return
	default:
		return
	}
	// Results start on a fresh line so they don't land on the status line.
	fmt.Fprintf(p.Out, "\n%s\n", line)
}

func (p *TextPrinter) PrintStats(s ScanStats) {
	fmt.Fprintf(p.Out, "\rPPS: %.0f | Sent: %d/%d | Hosts: %d | Open: %d | Failed: %d",
		s.Rate, s.Sent, s.Total, s.Hosts, s.Open, s.Failed)
}
