package ui

import (
	"bytes"
	"sync/atomic"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rs_recon/internal/output"
)

func newTestModel() Model {
	m := NewModel(Header{Command: "scan", Target: "192.168.1.0/24", Ports: "22,80", Iface: "eth0", ScanType: "syn"}, nil)
	m.width, m.height = 120, 40
	return m
}

func send(t *testing.T, m Model, msgs ...tea.Msg) Model {
	t.Helper()
	for _, msg := range msgs {
		next, _ := m.Update(msg)
		m = next.(Model)
	}
	return m
}

func press(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func open(ip string, port uint16) ScanEvent {
	return ScanEvent{Type: EvtOpen, IP: ip, Port: port, Proto: "tcp"}
}

func TestModelAddsOpenPort(t *testing.T) {
	ev := open("192.168.1.1", 22)
	ev.Service = "ssh"
	m := send(t, newTestModel(), ev)

	require.Equal(t, 1, m.rows.len())
	row := m.rows.get("192.168.1.1:22/tcp")
	require.NotNil(t, row)
	assert.Equal(t, stateOpen, row.state)
	assert.Equal(t, "ssh", row.service)
	assert.EqualValues(t, 1, m.open)
	assert.EqualValues(t, 1, m.portHits[22])
}

func TestModelDeduplicates(t *testing.T) {
	host := ScanEvent{Type: EvtHost, IP: "10.0.0.1", TTL: 64}
	m := send(t, newTestModel(), open("10.0.0.1", 80), open("10.0.0.1", 80), host, host)

	assert.Equal(t, 2, m.rows.len())
	assert.EqualValues(t, 2, m.total)
	assert.EqualValues(t, 1, m.open)
	assert.EqualValues(t, 1, m.up)
}

func TestModelTraceHops(t *testing.T) {
	m := NewModel(Header{Command: "trace", Target: "192.0.2.1", ScanType: "icmp"}, nil)
	for hop := uint8(1); hop <= 3; hop++ {
		m = send(t, m, ScanEvent{Type: EvtHop, IP: "192.0.2.1", Proto: "icmp", Hop: hop,
			RTT: time.Duration(hop) * time.Millisecond, Replies: "198.51.100.1"})
	}
	assert.EqualValues(t, 3, m.hops)
	assert.NotNil(t, m.rows.get("192.0.2.1#2"), "hops are keyed by target and TTL")
}

func TestModelFilterKeys(t *testing.T) {
	m := send(t, newTestModel(),
		open("10.0.0.1", 80),
		ScanEvent{Type: EvtClosed, IP: "10.0.0.1", Port: 81, Proto: "tcp"},
		ScanEvent{Type: EvtHop, IP: "10.0.0.9", Hop: 1})
	assert.Len(t, m.visible, 3)

	m = send(t, m, press("2"))
	require.Len(t, m.visible, 1)
	assert.EqualValues(t, 80, m.visible[0].port)

	m = send(t, m, press("3"))
	require.Len(t, m.visible, 1)
	assert.Equal(t, stateHop, m.visible[0].state)

	m = send(t, m, press("x"))
	assert.Equal(t, FilterHops, m.filter, "unbound keys change nothing")
}

func TestModelCursorFollow(t *testing.T) {
	m := newTestModel()
	for p := uint16(80); p < 85; p++ {
		m = send(t, m, open("10.0.0.1", p))
	}
	assert.Equal(t, 4, m.cursor, "follow pins the cursor to the newest row")

	m = send(t, m, press("k"))
	assert.False(t, m.follow)
	assert.Equal(t, 3, m.cursor)

	m = send(t, m, open("10.0.0.1", 90))
	assert.Equal(t, 3, m.cursor)

	m = send(t, m, press("G"))
	assert.True(t, m.follow)
	assert.Equal(t, 5, m.cursor)
}

func TestModelQuitRaisesStop(t *testing.T) {
	var stop atomic.Bool
	m := NewModel(Header{Command: "scan", Target: "10.0.0.1", Ports: "80", ScanType: "syn"}, &stop)
	next, cmd := m.Update(press("q"))
	assert.NotNil(t, cmd)
	assert.True(t, stop.Load())
	assert.Empty(t, next.(Model).View())
}

func TestModelDoneQuits(t *testing.T) {
	_, cmd := newTestModel().Update(ScanEvent{Type: EvtDone})
	assert.NotNil(t, cmd)
}

func TestModelView(t *testing.T) {
	ev := open("10.0.0.1", 443)
	ev.Service = "https"
	m := send(t, newTestModel(), ev,
		ScanStats{Sent: 500, Total: 1000, Progress: 0.5, Rate: 250, Elapsed: 2 * time.Second})

	view := m.View()
	for _, want := range []string{"rs-recon scan", "10.0.0.1", "443", "https", "50%", "500/1.0k", "top 443:1"} {
		assert.Contains(t, view, want)
	}
}

func TestRowStoreBounded(t *testing.T) {
	s := newRowStore(3)
	for p := uint16(1); p <= 5; p++ {
		row, key, ok := newRow(open("10.0.0.1", p))
		require.True(t, ok)
		assert.True(t, s.add(key, row))
	}
	assert.Equal(t, 3, s.len())
	assert.Nil(t, s.get("10.0.0.1:1/tcp"), "oldest rows are dropped first")
	assert.NotNil(t, s.get("10.0.0.1:5/tcp"))

	_, _, ok := newRow(ScanEvent{Type: EvtInfo})
	assert.False(t, ok)
}

func TestSparkline(t *testing.T) {
	var s sparkline
	assert.Empty(t, s.String())
	s.observe(1)
	s.observe(1)
	assert.Equal(t, "█▁", s.String())

	for range sparkWidth * 2 {
		s.observe(1)
	}
	assert.Len(t, []rune(s.String()), sparkWidth)
}

func TestNumberFormats(t *testing.T) {
	assert.Equal(t, "999", grouped(999))
	assert.Equal(t, "1,234,567", grouped(1234567))
	assert.Equal(t, "1.2k", compact(1234))
	assert.Equal(t, "57k", compact(56789))
	assert.Equal(t, "12M", compact(12_000_000))
	assert.Equal(t, "ab…", truncate("abcdef", 3))
}

func TestEventFromResult(t *testing.T) {
	ev := EventFromResult(&output.Result{Event: output.EventPort, IP: "10.0.0.1", Port: 22, Proto: "tcp", Status: "closed"})
	assert.Equal(t, EvtClosed, ev.Type)

	ev = EventFromResult(&output.Result{Event: output.EventHop, IP: "10.0.0.1", Hop: 2, RTTMs: 7, Replies: [][]string{{"a"}, {"*"}}})
	assert.Equal(t, EvtHop, ev.Type)
	assert.Equal(t, 7*time.Millisecond, ev.RTT)
	assert.Equal(t, "a, *", ev.Replies)
}

func TestSelectMode(t *testing.T) {
	cases := []struct {
		noTUI, quiet, out, in bool
		want                  Mode
	}{
		{false, false, true, true, ModeTUI},
		{true, false, true, true, ModeText},
		{false, false, false, true, ModeText},
		{false, false, true, false, ModeText},
		{false, true, true, true, ModeSilent},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, selectMode(c.noTUI, c.quiet, c.out, c.in), "%+v", c)
	}
}

func TestTextPrinter(t *testing.T) {
	var buf bytes.Buffer
	p := &TextPrinter{Out: &buf}
	ev := open("10.0.0.1", 80)
	ev.Service = "http"
	p.PrintEvent(ev)
	p.PrintEvent(ScanEvent{Type: EvtClosed, IP: "10.0.0.1", Port: 81, Proto: "tcp"})
	p.PrintStats(ScanStats{Sent: 2, Total: 4, Open: 1})

	out := buf.String()
	assert.Contains(t, out, "[+] OPEN: 10.0.0.1:80 (tcp) http")
	assert.NotContains(t, out, "CLOSED", "closed ports print only when verbose")
	assert.Contains(t, out, "Sent: 2/4")

	buf.Reset()
	p.Verbose = true
	p.PrintEvent(ScanEvent{Type: EvtClosed, IP: "10.0.0.1", Port: 81, Proto: "tcp"})
	assert.Contains(t, buf.String(), "[-] CLOSED: 10.0.0.1:81 (tcp)")
}
