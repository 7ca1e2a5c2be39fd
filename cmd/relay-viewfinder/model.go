package main

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/unklstewy/los-relay/internal/feed"
	"github.com/unklstewy/los-relay/internal/session"
	"github.com/unklstewy/los-relay/pkg/relay"
	"github.com/unklstewy/los-relay/pkg/snapshot"
	"github.com/unklstewy/los-relay/pkg/tracking"
)

// forecastStep is how far [ and ] move the forecast.
const forecastStep = 60.0

type model struct {
	base     relay.Query
	stations []relay.Node

	// refresher is nil when replaying an archive
	refresher *feed.Refresher
	interval  time.Duration
	fetching  bool

	snap  *snapshot.Snapshot
	nodes []relay.Node
	at    time.Time

	cursor   int
	sel      session.Selection
	result   *relay.PathResult
	forecast float64

	showMap bool
	status  string
	err     error

	width  int
	height int

	now func() time.Time
}

type tickMsg time.Time

// snapshotMsg carries the outcome of a background fetch.
type snapshotMsg struct {
	snap *snapshot.Snapshot
	err  error
}

type refreshDueMsg struct{}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) fetch() tea.Cmd {
	r := m.refresher
	return func() tea.Msg {
		snap, err := r.Refresh(context.Background())
		return snapshotMsg{snap: snap, err: err}
	}
}

func (m model) scheduleRefresh() tea.Cmd {
	return tea.Tick(m.interval, func(time.Time) tea.Msg {
		return refreshDueMsg{}
	})
}

func (m model) Init() tea.Cmd {
	if m.refresher != nil {
		return tea.Batch(tick(), m.fetch())
	}
	return tick()
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		m.reproject()
		return m, tick()

	case snapshotMsg:
		m.fetching = false
		if msg.err != nil {
			m.err = msg.err
		} else {
			m.snap = msg.snap
			m.err = nil
			m.reproject()
		}
		return m, m.scheduleRefresh()

	case refreshDueMsg:
		if m.refresher != nil && !m.fetching {
			m.fetching = true
			return m, m.fetch()
		}

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	// Clear error on any keypress (but don't quit)
	if m.err != nil && msg.String() != "ctrl+c" && msg.String() != "q" {
		m.err = nil
		return m, nil
	}

	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.nodes)-1 {
			m.cursor++
		}
	case "home", "g":
		m.cursor = 0
	case "end", "G":
		if len(m.nodes) > 0 {
			m.cursor = len(m.nodes) - 1
		}
	case "s":
		m.sel.Arm(session.ModeStart)
		m.status = "Choose the start node and press enter"
	case "e":
		m.sel.Arm(session.ModeEnd)
		m.status = "Choose the end node and press enter"
	case "enter", " ":
		if n, ok := m.current(); ok {
			if !m.sel.Pick(n.ID) {
				m.status = "Press s or e first"
				return m, nil
			}
			m.status = ""
			m.recompute()
		}
	case "x":
		if m.sel.StartID != "" && m.sel.EndID != "" {
			m.sel.StartID, m.sel.EndID = m.sel.EndID, m.sel.StartID
			m.recompute()
		}
	case "c":
		m.sel.Clear()
		m.result = nil
		m.status = "Selection cleared"
	case "m":
		if m.base.Metric == relay.MetricDelay {
			m.base.Metric = relay.MetricHops
		} else {
			m.base.Metric = relay.MetricDelay
		}
		m.recompute()
	case "]":
		if m.forecast+forecastStep <= tracking.MaxForecastSeconds {
			m.forecast += forecastStep
			m.reproject()
		}
	case "[":
		if m.forecast-forecastStep >= 0 {
			m.forecast -= forecastStep
			m.reproject()
		}
	case "v":
		m.showMap = !m.showMap
	case "r":
		if m.refresher != nil && !m.fetching {
			m.fetching = true
			m.status = "Refreshing..."
			return m, m.fetch()
		}
	}

	return m, nil
}

func (m model) current() (relay.Node, bool) {
	if m.cursor < 0 || m.cursor >= len(m.nodes) {
		return relay.Node{}, false
	}
	return m.nodes[m.cursor], true
}

// reproject moves every node to now plus the forecast offset, re-resolves
// the selection against the result and recomputes the path.
func (m *model) reproject() {
	if m.snap == nil {
		return
	}

	var cursorID string
	if n, ok := m.current(); ok {
		cursorID = n.ID
	}

	m.at = m.now().Add(time.Duration(m.forecast * float64(time.Second)))
	m.nodes = relay.Merge(m.snap.NodesAt(m.at), m.stations)

	m.cursor = 0
	for i, n := range m.nodes {
		if n.ID == cursorID {
			m.cursor = i
			break
		}
	}

	startID, endID := m.sel.StartID, m.sel.EndID
	res := m.sel.Resolve(m.nodes)
	switch {
	case res.StartCleared && res.EndCleared:
		m.status = fmt.Sprintf("%s and %s left the feed", startID, endID)
	case res.StartCleared:
		m.status = fmt.Sprintf("Start %s left the feed", startID)
	case res.EndCleared:
		m.status = fmt.Sprintf("End %s left the feed", endID)
	}

	m.recompute()
}

// recompute runs the path query for the current selection.
func (m *model) recompute() {
	if !m.sel.Ready() || len(m.nodes) == 0 {
		m.result = nil
		return
	}

	res, err := relay.Route(m.nodes, m.sel.Query(m.base))
	if err != nil {
		m.err = err
		m.result = nil
		return
	}
	m.result = &res
}

// role returns the marker for a node in the list.
func (m model) role(id string) string {
	switch id {
	case m.sel.StartID:
		return "S"
	case m.sel.EndID:
		return "E"
	}
	if m.result != nil && m.result.Found {
		for _, n := range m.result.Nodes {
			if n.ID == id {
				return "*"
			}
		}
	}
	return " "
}
