package main

import (
	"fmt"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"rs_recon/internal/output"
	"rs_recon/internal/ui"
)

const statsInterval = 250 * time.Millisecond

// display feeds events and periodic stats to the TUI, the text printer or
// nowhere, depending on the terminal and flags.
type display struct {
	mode    ui.Mode
	events  chan ui.ScanEvent
	program *tea.Program
	printer *ui.TextPrinter
	stats   func() ui.ScanStats
	log     *zap.Logger

	wg sync.WaitGroup
	mu sync.Mutex // serializes printer output
}

func (a *app) newDisplay(h ui.Header, stats func() ui.ScanStats) *display {
	mode := ui.SelectMode(a.cfg.Output.NoTUI, a.cfg.Output.Quiet)
	d := &display{
		mode:   mode,
		events: make(chan ui.ScanEvent, 4096),
		stats:  stats,
		log:    a.log,
	}
	switch mode {
	case ui.ModeTUI:
		d.program = tea.NewProgram(ui.NewModel(h, &a.stop), tea.WithAltScreen())
	case ui.ModeText:
		d.printer = &ui.TextPrinter{Out: a.stderr, Verbose: !a.cfg.Output.OpenOnly}
	}
	a.log.Debug("display selected", zap.Stringer("mode", mode))
	return d
}

// Emit queues an event. It must not be called after Run returns.
func (d *display) Emit(ev ui.ScanEvent) {
	if d.mode == ui.ModeSilent {
		return
	}
	d.events <- ev
}

// Info emits a one-line message.
func (d *display) Info(format string, args ...any) {
	d.Emit(ui.ScanEvent{Type: ui.EvtInfo, Msg: fmt.Sprintf(format, args...)})
}

// Result emits the display form of an output record.
func (d *display) Result(r *output.Result) {
	d.Emit(ui.EventFromResult(r))
}

// Run executes work while the display is live. In TUI mode the program owns
// the terminal until work finishes or the user quits; quitting raises the
// stop flag given to the model, so work still returns.
func (d *display) Run(work func() error) error {
	d.wg.Add(1)
	go d.consume()

	tick := time.NewTicker(statsInterval)
	tickDone := make(chan struct{})
	var tickWG sync.WaitGroup
	tickWG.Add(1)
	go func() {
		defer tickWG.Done()
		for {
			select {
			case <-tickDone:
				return
			case <-tick.C:
				d.publishStats()
			}
		}
	}()

	var err error
	if d.mode == ui.ModeTUI {
		workDone := make(chan struct{})
		go func() {
			defer close(workDone)
			err = work()
			d.program.Send(ui.ScanEvent{Type: ui.EvtDone})
		}()
		if _, perr := d.program.Run(); perr != nil {
			d.log.Warn("terminal UI failed", zap.Error(perr))
		}
		<-workDone
	} else {
		err = work()
	}

	tick.Stop()
	close(tickDone)
	tickWG.Wait()
	close(d.events)
	d.wg.Wait()
	if d.mode == ui.ModeText {
		d.printer.PrintStats(d.stats())
		fmt.Fprintln(d.printer.Out)
	}
	return err
}

func (d *display) consume() {
	defer d.wg.Done()
	for ev := range d.events {
		switch d.mode {
		case ui.ModeTUI:
			d.program.Send(ev)
		case ui.ModeText:
			d.mu.Lock()
			d.printer.PrintEvent(ev)
			d.mu.Unlock()
		}
	}
}

func (d *display) publishStats() {
	switch d.mode {
	case ui.ModeTUI:
		d.program.Send(d.stats())
	case ui.ModeText:
		d.mu.Lock()
		d.printer.PrintStats(d.stats())
		d.mu.Unlock()
	}
}
