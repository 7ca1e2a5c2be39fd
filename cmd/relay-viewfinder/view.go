package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/unklstewy/los-relay/pkg/coordinates"
	"github.com/unklstewy/los-relay/pkg/relay"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86")).
			Background(lipgloss.Color("235")).
			Padding(0, 1)
	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	selectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("226")).Bold(true)
	startStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("46")).Bold(true)
	endStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	pathStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("51"))
	stationStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("213"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	panelStyle    = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
)

func (m model) View() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render("LOS RELAY VIEWFINDER"))
	s.WriteString("\n")
	s.WriteString(m.renderStatus())
	s.WriteString("\n\n")

	if m.snap == nil {
		if m.err != nil {
			s.WriteString(errorStyle.Render("Error: " + m.err.Error()))
		} else {
			s.WriteString(dimStyle.Render("Waiting for first snapshot..."))
		}
		s.WriteString("\n")
		return s.String()
	}

	listHeight := m.height - 10
	if listHeight < 10 {
		listHeight = 10
	}

	left := panelStyle.Render(m.renderNodeList(listHeight))
	var right string
	if m.showMap {
		right = panelStyle.Render(m.renderMap(m.mapWidth(), listHeight))
	} else {
		right = panelStyle.Render(m.renderPath())
	}
	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, left, right))
	s.WriteString("\n")

	if m.err != nil {
		s.WriteString(errorStyle.Render("Error: " + m.err.Error()))
		s.WriteString("\n")
	} else if m.status != "" {
		s.WriteString(selectedStyle.Render(m.status))
		s.WriteString("\n")
	}

	s.WriteString(dimStyle.Render("↑/↓: Move  s/e+ENTER: Start/End  x: Swap  c: Clear  m: Metric  [/]: Forecast  v: Map  r: Refresh  q: Quit"))
	return s.String()
}

func (m model) mapWidth() int {
	w := m.width - 52
	if w < 40 {
		w = 40
	}
	return w
}

func (m model) renderStatus() string {
	if m.snap == nil {
		return dimStyle.Render("no snapshot")
	}

	age := m.now().Sub(m.snap.FetchedAt).Round(time.Second)
	parts := []string{
		fmt.Sprintf("%s %s", m.snap.Source, m.snap.FetchedAt.Local().Format("15:04:05")),
		fmt.Sprintf("age %s", age),
		fmt.Sprintf("%d nodes", len(m.nodes)),
		fmt.Sprintf("metric %s", m.base.Metric),
	}
	if m.forecast > 0 {
		parts = append(parts, fmt.Sprintf("forecast +%.0fs", m.forecast))
	}
	if m.fetching {
		parts = append(parts, "fetching")
	}
	return dimStyle.Render(strings.Join(parts, " │ "))
}

// renderNodeList shows a window of the node list around the cursor.
func (m model) renderNodeList(height int) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("  %-8s %-9s %8s %9s %7s", "ID", "LABEL", "LAT", "LON", "ALT m")))
	b.WriteString("\n")

	rows := height - 1
	start := 0
	if m.cursor >= rows {
		start = m.cursor - rows + 1
	}
	end := start + rows
	if end > len(m.nodes) {
		end = len(m.nodes)
	}

	for i := start; i < end; i++ {
		n := m.nodes[i]
		role := m.role(n.ID)
		line := fmt.Sprintf("%s %-8s %-9s %8.3f %9.3f %7.0f",
			role, truncate(n.ID, 8), truncate(n.Label, 9),
			n.Position.Latitude, n.Position.Longitude, n.LOSAltitude())

		switch {
		case i == m.cursor:
			line = selectedStyle.Render(line)
		case role == "S":
			line = startStyle.Render(line)
		case role == "E":
			line = endStyle.Render(line)
		case role == "*":
			line = pathStyle.Render(line)
		case n.Virtual:
			line = stationStyle.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

// renderPath shows the selection and the hop-by-hop path.
func (m model) renderPath() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("RELAY PATH"))
	b.WriteString("\n\n")

	b.WriteString(fmt.Sprintf("Start: %s\n", orDash(m.sel.StartID)))
	b.WriteString(fmt.Sprintf("End:   %s\n", orDash(m.sel.EndID)))
	if m.sel.Mode.String() != "none" {
		b.WriteString(selectedStyle.Render("Mode:  " + m.sel.Mode.String()))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	if m.result == nil {
		b.WriteString(dimStyle.Render("Select a start and end node"))
		return b.String()
	}
	if !m.result.Found {
		b.WriteString(errorStyle.Render("No LOS path found"))
		return b.String()
	}

	b.WriteString(fmt.Sprintf("%d hops", m.result.Hops()))
	if m.result.Metric == relay.MetricDelay {
		b.WriteString(fmt.Sprintf(", %.3f ms", m.result.Cost*1000))
	}
	b.WriteString("\n\n")

	for i, n := range m.result.Nodes {
		name := n.DisplayName()
		switch i {
		case 0:
			name = startStyle.Render(name)
		case len(m.result.Nodes) - 1:
			name = endStyle.Render(name)
		default:
			name = pathStyle.Render(name)
		}
		b.WriteString(fmt.Sprintf("%2d. %s  %.0f m\n", i+1, name, n.LOSAltitude()))
		if i < len(m.result.Nodes)-1 {
			next := m.result.Nodes[i+1]
			d := coordinates.DistanceMeters(n.Position, next.Position)
			b.WriteString(dimStyle.Render(fmt.Sprintf("    ↓ %.1f km", d/1000)))
			b.WriteString("\n")
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
