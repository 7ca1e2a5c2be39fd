package main

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"github.com/sirupsen/logrus"

	"github.com/unklstewy/los-relay/internal/session"
	"github.com/unklstewy/los-relay/pkg/coordinates"
	"github.com/unklstewy/los-relay/pkg/relay"
	"github.com/unklstewy/los-relay/pkg/snapshot"
)

// SnapshotSource yields the newest stored snapshot.
type SnapshotSource interface {
	Latest(ctx context.Context) (*snapshot.Snapshot, error)
}

// archiveSource adapts an on-disk archive to SnapshotSource.
type archiveSource struct {
	archive *snapshot.Archive
}

func (s archiveSource) Latest(ctx context.Context) (*snapshot.Snapshot, error) {
	snap, _, err := s.archive.Latest()
	return snap, err
}

// AppConfig holds the application dependencies
type AppConfig struct {
	Source       SnapshotSource
	SourceName   string
	Base         relay.Query
	Stations     []relay.Node
	PollInterval time.Duration
	Log          *logrus.Logger
	Logs         *LogManager
}

// App is the operator console: a node table, the current path and the log.
type App struct {
	source       SnapshotSource
	sourceName   string
	stations     []relay.Node
	pollInterval time.Duration
	log          *logrus.Logger

	// UI components
	tviewApp  *tview.Application
	nodeTable *tview.Table
	pathView  *tview.TextView
	status    *tview.TextView
	logs      *LogManager

	// State, guarded by mu
	mu     sync.RWMutex
	base   relay.Query
	snap   *snapshot.Snapshot
	nodes  []relay.Node
	sel    session.Selection
	result *relay.PathResult
	now    func() time.Time
}

// NewApp creates a new application instance
func NewApp(cfg *AppConfig) *App {
	a := &App{
		source:       cfg.Source,
		sourceName:   cfg.SourceName,
		stations:     cfg.Stations,
		pollInterval: cfg.PollInterval,
		log:          cfg.Log,
		logs:         cfg.Logs,
		base:         cfg.Base,
		now:          time.Now,
	}
	a.setupUI()
	return a
}

// setupUI initializes the user interface
func (a *App) setupUI() {
	a.tviewApp = tview.NewApplication()

	a.nodeTable = tview.NewTable().
		SetSelectable(true, false).
		SetFixed(1, 0)
	a.nodeTable.SetBorder(true).SetTitle(" Nodes ")

	a.pathView = tview.NewTextView().SetDynamicColors(true)
	a.pathView.SetBorder(true).SetTitle(" Relay Path ")

	a.status = tview.NewTextView().SetDynamicColors(true)

	right := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(a.pathView, 0, 2, false).
		AddItem(a.logs.GetView(), 0, 1, false)

	body := tview.NewFlex().
		AddItem(a.nodeTable, 0, 3, true).
		AddItem(right, 0, 2, false)

	root := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(body, 0, 1, true).
		AddItem(a.status, 1, 0, false)

	a.tviewApp.SetRoot(root, true).SetFocus(a.nodeTable)
	a.tviewApp.SetInputCapture(a.handleKeyboard)

	// Log calls can come from the UI goroutine itself.
	a.logs.onChange = func() {
		go a.tviewApp.QueueUpdateDraw(a.logs.Render)
	}
}

// Run polls the source and blocks until the UI exits.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go a.poll(ctx)
	return a.tviewApp.Run()
}

func (a *App) poll(ctx context.Context) {
	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()

	for {
		if err := a.reload(ctx); err != nil {
			a.log.WithError(err).Warn("Failed to load snapshot")
		}
		a.tviewApp.QueueUpdateDraw(a.draw)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// reload fetches the newest snapshot. Positions are projected to now, so
// they keep moving between refreshes.
func (a *App) reload(ctx context.Context) error {
	loadCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	snap, err := a.source.Latest(loadCtx)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.snap == nil || a.snap.ID != snap.ID {
		a.log.WithFields(logrus.Fields{
			"snapshot": snap.ID.String()[:8],
			"nodes":    len(snap.Nodes),
		}).Info("New snapshot")
	}
	a.snap = snap
	a.nodes = relay.Merge(snap.NodesAt(a.now()), a.stations)

	startID, endID := a.sel.StartID, a.sel.EndID
	res := a.sel.Resolve(a.nodes)
	if res.StartCleared {
		a.log.Warnf("Start %s left the feed", startID)
	}
	if res.EndCleared {
		a.log.Warnf("End %s left the feed", endID)
	}
	a.recomputeLocked()
	return nil
}

// recomputeLocked runs the path query. The caller holds mu.
func (a *App) recomputeLocked() {
	if !a.sel.Ready() {
		a.result = nil
		return
	}

	res, err := relay.Route(a.nodes, a.sel.Query(a.base))
	if err != nil {
		a.log.WithError(err).Error("Path search failed")
		a.result = nil
		return
	}
	if a.result == nil || !sameIDs(a.result.IDs(), res.IDs()) {
		if res.Found {
			a.log.Infof("Path %s (%d hops)", strings.Join(res.IDs(), " → "), res.Hops())
		} else {
			a.log.Infof("No LOS path from %s to %s", a.sel.StartID, a.sel.EndID)
		}
	}
	a.result = &res
}

func sameIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// selectedID returns the id on the highlighted table row.
func (a *App) selectedID() string {
	row, _ := a.nodeTable.GetSelection()
	cell := a.nodeTable.GetCell(row, 0)
	if row == 0 || cell == nil {
		return ""
	}
	return strings.TrimSpace(cell.Text)
}

// handleKeyboard processes keyboard input
func (a *App) handleKeyboard(event *tcell.EventKey) *tcell.EventKey {
	if event.Key() == tcell.KeyCtrlC {
		a.tviewApp.Stop()
		return nil
	}
	if event.Key() != tcell.KeyRune {
		return event
	}

	switch event.Rune() {
	case 'q':
		a.tviewApp.Stop()
		return nil
	case 's':
		a.apply(func() { a.sel.SetStart(a.selectedID()) })
	case 'e':
		a.apply(func() { a.sel.SetEnd(a.selectedID()) })
	case 'x':
		a.apply(func() { a.sel.StartID, a.sel.EndID = a.sel.EndID, a.sel.StartID })
	case 'c':
		a.apply(func() { a.sel.Clear() })
	case 'm':
		a.apply(func() {
			if a.base.Metric == relay.MetricDelay {
				a.base.Metric = relay.MetricHops
			} else {
				a.base.Metric = relay.MetricDelay
			}
		})
	case 'r':
		go func() {
			if err := a.reload(context.Background()); err != nil {
				a.log.WithError(err).Warn("Failed to load snapshot")
			}
			a.tviewApp.QueueUpdateDraw(a.draw)
		}()
	default:
		return event
	}
	return nil
}

// apply mutates the selection, recomputes and redraws. It runs on the UI
// goroutine.
func (a *App) apply(f func()) {
	a.mu.Lock()
	f()
	a.recomputeLocked()
	a.mu.Unlock()
	a.draw()
}

// draw refreshes every panel from state. It runs on the UI goroutine.
func (a *App) draw() {
	a.mu.RLock()
	defer a.mu.RUnlock()

	a.drawTable()
	a.pathView.SetText(formatPath(a.sel, a.result))
	a.status.SetText(a.statusLine())
}

func (a *App) drawTable() {
	selected := a.selectedID()

	a.nodeTable.Clear()
	for col, h := range []string{"ID", "LABEL", "LAT", "LON", "ALT m", "ROLE"} {
		a.nodeTable.SetCell(0, col, tview.NewTableCell(h).
			SetTextColor(tcell.ColorAqua).
			SetSelectable(false))
	}

	onPath := map[string]bool{}
	if a.result != nil {
		for _, id := range a.result.IDs() {
			onPath[id] = true
		}
	}

	selectRow := 1
	for i, n := range a.nodes {
		row := i + 1
		role, color := "", tcell.ColorWhite
		switch {
		case n.ID == a.sel.StartID:
			role, color = "START", tcell.ColorGreen
		case n.ID == a.sel.EndID:
			role, color = "END", tcell.ColorRed
		case onPath[n.ID]:
			role, color = "relay", tcell.ColorTeal
		case n.Virtual:
			color = tcell.ColorFuchsia
		}

		cells := []string{
			n.ID,
			n.Label,
			fmt.Sprintf("%.4f", n.Position.Latitude),
			fmt.Sprintf("%.4f", n.Position.Longitude),
			fmt.Sprintf("%.0f", n.LOSAltitude()),
			role,
		}
		for col, text := range cells {
			a.nodeTable.SetCell(row, col, tview.NewTableCell(text).SetTextColor(color))
		}
		if n.ID == selected {
			selectRow = row
		}
	}
	if len(a.nodes) > 0 {
		a.nodeTable.Select(selectRow, 0)
	}
}

func (a *App) statusLine() string {
	if a.snap == nil {
		return fmt.Sprintf(" [yellow]%s[-] waiting for snapshot", a.sourceName)
	}
	age := a.now().Sub(a.snap.FetchedAt).Round(time.Second)
	return fmt.Sprintf(" [yellow]%s[-] %s │ age %s │ %d nodes │ metric [aqua]%s[-] │ s/e: start/end  x: swap  c: clear  m: metric  r: reload  q: quit",
		a.sourceName, a.snap.Source, age, len(a.nodes), a.base.Metric)
}

// formatPath renders the path panel.
func formatPath(sel session.Selection, result *relay.PathResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Start: [green]%s[-]\n", dashIfEmpty(sel.StartID))
	fmt.Fprintf(&b, "End:   [red]%s[-]\n\n", dashIfEmpty(sel.EndID))

	switch {
	case result == nil:
		b.WriteString("[gray]Select a start (s) and end (e) node[-]")
		return b.String()
	case !result.Found:
		b.WriteString("[red]No LOS path found[-]")
		return b.String()
	}

	fmt.Fprintf(&b, "%d hops", result.Hops())
	if result.Metric == relay.MetricDelay {
		fmt.Fprintf(&b, ", %.3f ms", result.Cost*1000)
	}
	b.WriteString("\n\n")

	for i, n := range result.Nodes {
		fmt.Fprintf(&b, "%2d. %s (%.0f m)\n", i+1, tview.Escape(n.DisplayName()), n.LOSAltitude())
		if i < len(result.Nodes)-1 {
			d := coordinates.DistanceMeters(n.Position, result.Nodes[i+1].Position)
			fmt.Fprintf(&b, "    [gray]↓ %.1f km[-]\n", d/1000)
		}
	}
	return b.String()
}

func dashIfEmpty(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
