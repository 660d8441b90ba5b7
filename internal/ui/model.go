package ui

import (
	"cmp"
	"slices"
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"
)

// maxRows bounds the table; older rows scroll out.
const maxRows = 10000

// Header is what the top line of the view describes.
type Header struct {
	Command  string // "scan" or "trace"
	Target   string
	Ports    string
	Iface    string
	ScanType string
}

type portCount struct {
	port  uint16
	count uint64
}

// Model is the bubbletea model of the live results view.
type Model struct {
	hdr   Header
	rows  *rowStore
	stats ScanStats
	spark sparkline

	total, up, open, hops uint64

	portHits map[uint16]uint64
	top      []portCount
	topStale bool

	filter   Filter
	visible  []*resultRow
	cursor   int
	offset   int
	follow   bool
	width    int
	height   int
	done     bool
	quitting bool

	// stop is raised when the user quits so the scan winds down.
	stop *atomic.Bool
}

func NewModel(h Header, stop *atomic.Bool) Model {
	return Model{
		hdr:      h,
		rows:     newRowStore(maxRows),
		portHits: make(map[uint16]uint64, 64),
		follow:   true,
		stop:     stop,
	}
}

func (m Model) Init() tea.Cmd { return nil }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.onKey(msg)
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.refilter()
	case ScanEvent:
		if msg.Type == EvtDone {
			m.done = true
			return m, tea.Quit
		}
		m.add(msg)
		m.refilter()
		if m.follow {
			m.toEnd()
		}
	case ScanStats:
		m.stats = msg
		m.spark.observe(m.open + m.up + m.hops)
	}
	return m, nil
}

func (m Model) onKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	k := msg.String()
	switch k {
	case "ctrl+c", "q":
		m.quitting = true
		if m.stop != nil {
			m.stop.Store(true)
		}
		return m, tea.Quit
	case "up", "k":
		m.follow = false
		m.cursor--
	case "down", "j":
		m.cursor++
	case "home", "g":
		m.follow = false
		m.cursor = 0
	case "end", "G":
		m.follow = true
	case "f":
		m.follow = !m.follow
	default:
		i := slices.IndexFunc(filterKeys, func(fk filterKey) bool { return fk.key == k })
		if i < 0 {
			return m, nil
		}
		m.filter = filterKeys[i].filter
	}
	m.refilter()
	if m.follow {
		m.toEnd()
	} else {
		m.clamp()
		m.scrollToCursor()
	}
	return m, nil
}

func (m *Model) add(ev ScanEvent) {
	row, key, ok := newRow(ev)
	if !ok || !m.rows.add(key, row) {
		return
	}
	m.total++
	switch row.state {
	case stateUp:
		m.up++
	case stateOpen:
		m.open++
		m.portHits[row.port]++
		m.topStale = true
	case stateHop:
		m.hops++
	}
}

// topPorts returns the ten ports seen open most often.
func (m *Model) topPorts() []portCount {
	if !m.topStale {
		return m.top
	}
	m.topStale = false
	m.top = m.top[:0]
	for p, c := range m.portHits {
		m.top = append(m.top, portCount{port: p, count: c})
	}
	slices.SortFunc(m.top, func(a, b portCount) int {
		if c := cmp.Compare(b.count, a.count); c != 0 {
			return c
		}
		return cmp.Compare(a.port, b.port)
	})
	if len(m.top) > 10 {
		m.top = m.top[:10]
	}
	return m.top
}

func (m *Model) refilter() {
	m.visible = m.rows.filter(m.visible[:0], m.filter)
}

func (m *Model) clamp() {
	m.cursor = max(0, min(m.cursor, len(m.visible)-1))
}

func (m *Model) toEnd() {
	m.cursor = len(m.visible) - 1
	m.clamp()
	m.scrollToCursor()
}

func (m *Model) scrollToCursor() {
	n := m.tableHeight()
	if m.cursor < m.offset {
		m.offset = m.cursor
	}
	if m.cursor >= m.offset+n {
		m.offset = m.cursor - n + 1
	}
}

// tableHeight is the terminal height less the six lines of chrome.
func (m Model) tableHeight() int {
	return max(3, m.height-6)
}
