package main

import (
	"math"
	"strings"

	"github.com/unklstewy/los-relay/pkg/relay"
)

// mapBounds is the lat/lon window drawn by renderMap.
type mapBounds struct {
	latMin, latMax float64
	lonMin, lonMax float64
}

// boundsOf encloses nodes with a small margin.
func boundsOf(nodes []relay.Node) mapBounds {
	b := mapBounds{latMin: 90, latMax: -90, lonMin: 180, lonMax: -180}
	for _, n := range nodes {
		b.latMin = math.Min(b.latMin, n.Position.Latitude)
		b.latMax = math.Max(b.latMax, n.Position.Latitude)
		b.lonMin = math.Min(b.lonMin, n.Position.Longitude)
		b.lonMax = math.Max(b.lonMax, n.Position.Longitude)
	}
	padLat := math.Max((b.latMax-b.latMin)*0.05, 0.05)
	padLon := math.Max((b.lonMax-b.lonMin)*0.05, 0.05)
	b.latMin -= padLat
	b.latMax += padLat
	b.lonMin -= padLon
	b.lonMax += padLon
	return b
}

// toScreen projects a position onto a width x height grid, north up.
// It returns -1, -1 outside the grid.
func (b mapBounds) toScreen(lat, lon float64, width, height int) (int, int) {
	x := int((lon - b.lonMin) / (b.lonMax - b.lonMin) * float64(width-1))
	y := int((b.latMax - lat) / (b.latMax - b.latMin) * float64(height-1))
	if x < 0 || x >= width || y < 0 || y >= height {
		return -1, -1
	}
	return x, y
}

// renderMap draws every node as a dot with the path overlaid. Path legs are
// straight lines in screen space.
func (m model) renderMap(width, height int) string {
	grid := make([][]rune, height)
	for i := range grid {
		grid[i] = []rune(strings.Repeat(" ", width))
	}

	b := boundsOf(m.nodes)

	for _, n := range m.nodes {
		x, y := b.toScreen(n.Position.Latitude, n.Position.Longitude, width, height)
		if x < 0 {
			continue
		}
		if n.Virtual {
			grid[y][x] = '▲'
		} else {
			grid[y][x] = '·'
		}
	}

	if m.result != nil && m.result.Found {
		path := m.result.Nodes
		for i := 0; i+1 < len(path); i++ {
			x0, y0 := b.toScreen(path[i].Position.Latitude, path[i].Position.Longitude, width, height)
			x1, y1 := b.toScreen(path[i+1].Position.Latitude, path[i+1].Position.Longitude, width, height)
			if x0 < 0 || x1 < 0 {
				continue
			}
			drawLine(grid, x0, y0, x1, y1, '-')
		}
		for i, n := range path {
			x, y := b.toScreen(n.Position.Latitude, n.Position.Longitude, width, height)
			if x < 0 {
				continue
			}
			switch i {
			case 0:
				grid[y][x] = 'S'
			case len(path) - 1:
				grid[y][x] = 'E'
			default:
				grid[y][x] = '●'
			}
		}
	}

	if n, ok := m.current(); ok {
		if x, y := b.toScreen(n.Position.Latitude, n.Position.Longitude, width, height); x >= 0 && grid[y][x] == '·' {
			grid[y][x] = '◆'
		}
	}

	var s strings.Builder
	for _, row := range grid {
		s.WriteString(string(row))
		s.WriteString("\n")
	}
	return strings.TrimRight(s.String(), "\n")
}

// drawLine rasterizes a segment with Bresenham's algorithm, leaving the end
// cells untouched.
func drawLine(grid [][]rune, x0, y0, x1, y1 int, ch rune) {
	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	errTerm := dx + dy
	x, y := x0, y0

	for {
		if (x != x0 || y != y0) && (x != x1 || y != y1) {
			grid[y][x] = ch
		}
		if x == x1 && y == y1 {
			return
		}
		e2 := 2 * errTerm
		if e2 >= dy {
			errTerm += dy
			x += sx
		}
		if e2 <= dx {
			errTerm += dx
			y += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
