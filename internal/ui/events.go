package ui

import (
	"os"
	"time"

	"github.com/mattn/go-isatty"

	"rs_recon/internal/output"
)

// EventType classifies engine events for the UI.
type EventType int

const (
	EvtHost EventType = iota
	EvtOpen
	EvtClosed
	EvtHop
	EvtInfo
	EvtDone
)

// ScanEvent is a single event emitted by the engine to the UI.
type ScanEvent struct {
	Type    EventType
	IP      string
	Port    uint16
	Proto   string
	TTL     uint8
	Service string
	Hop     uint8
	RTT     time.Duration
	Replies string // rendered hop replies
	Msg     string // for EvtInfo
}

// EventFromResult maps an output record onto a UI event.
func EventFromResult(r *output.Result) ScanEvent {
	ev := ScanEvent{IP: r.IP, Port: r.Port, Proto: r.Proto, TTL: r.TTL, Service: r.Service}
	switch r.Event {
	case output.EventHost:
		ev.Type = EvtHost
	case output.EventPort:
		ev.Type = EvtOpen
		if r.Status != "open" {
			ev.Type = EvtClosed
		}
	case output.EventHop:
		ev.Type = EvtHop
		ev.Hop = r.Hop
		ev.RTT = time.Duration(r.RTTMs) * time.Millisecond
		ev.Replies = joinReplies(r.Replies)
	default:
		ev.Type = EvtInfo
		ev.Msg = r.IP
	}
	return ev
}

// ScanStats contains periodic stats for the UI.
type ScanStats struct {
	Sent     uint64
	Total    uint64
	Failed   uint64
	Hosts    uint64
	Open     uint64
	Elapsed  time.Duration
	Progress float64 // 0.0 - 1.0
	Rate     float64
}

// Mode selects the UI output mode.
type Mode int

const (
	ModeTUI    Mode = iota // full bubbletea interactive
	ModeText               // \r status line + one line per result
	ModeSilent             // no terminal output
)

func (m Mode) String() string {
	switch m {
	case ModeTUI:
		return "tui"
	case ModeText:
		return "text"
	}
	return "silent"
}

// SelectMode picks the display for the current terminal. The TUI needs
// both stdin and stdout on a terminal.
func SelectMode(noTUI, quiet bool) Mode {
	return selectMode(noTUI, quiet, isTerminal(os.Stdout.Fd()), isTerminal(os.Stdin.Fd()))
}

func selectMode(noTUI, quiet, stdoutTTY, stdinTTY bool) Mode {
	switch {
	case quiet:
		return ModeSilent
	case noTUI || !stdoutTTY || !stdinTTY:
		return ModeText
	}
	return ModeTUI
}

func isTerminal(fd uintptr) bool {
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
