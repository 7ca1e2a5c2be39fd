package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unklstewy/los-relay/pkg/coordinates"
)

func node(id string, lat, lon, alt float64) Node {
	return Node{
		ID:       id,
		Label:    id,
		Position: coordinates.Geographic{Latitude: lat, Longitude: lon, Altitude: alt},
	}
}

func floatPtr(f float64) *float64 {
	return &f
}

var bothMetrics = []Metric{MetricDelay, MetricHops}

func TestParseMetric(t *testing.T) {
	tests := []struct {
		in      string
		want    Metric
		wantErr bool
	}{
		{"delay", MetricDelay, false},
		{"hops", MetricHops, false},
		{" HOPS ", MetricHops, false},
		{"Delay", MetricDelay, false},
		{"", 0, true},
		{"latency", 0, true},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%q", tt.in), func(t *testing.T) {
			got, err := ParseMetric(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownMetric)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMetricJSON(t *testing.T) {
	data, err := json.Marshal(struct {
		M Metric `json:"m"`
	}{MetricHops})
	require.NoError(t, err)
	assert.JSONEq(t, `{"m":"hops"}`, string(data))

	var out struct {
		M Metric `json:"m"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"m":"delay"}`), &out))
	assert.Equal(t, MetricDelay, out.M)

	err = json.Unmarshal([]byte(`{"m":"bogus"}`), &out)
	assert.ErrorIs(t, err, ErrUnknownMetric)
}

func TestBuildGraph(t *testing.T) {
	t.Run("Unknown metric fails fast", func(t *testing.T) {
		_, err := BuildGraph([]Node{node("A", 0, 0, 100)}, Metric(0))
		assert.ErrorIs(t, err, ErrUnknownMetric)
	})

	t.Run("Duplicate ids are rejected", func(t *testing.T) {
		_, err := BuildGraph([]Node{node("A", 0, 0, 100), node("A", 0, 0.1, 100)}, MetricDelay)
		var dup *DuplicateNodeError
		require.ErrorAs(t, err, &dup)
		assert.Equal(t, "A", dup.ID)
	})

	t.Run("Empty snapshot", func(t *testing.T) {
		g, err := BuildGraph(nil, MetricHops)
		require.NoError(t, err)
		assert.Equal(t, 0, g.Len())
		assert.Equal(t, 0, g.EdgeCount())
	})

	t.Run("Delay weight is distance over propagation speed plus overhead", func(t *testing.T) {
		nodes := []Node{node("A", 0, 0, 100), node("B", 0, 0.3, 100)}
		g, err := BuildGraph(nodes, MetricDelay, WithExtraDelay(0.005))
		require.NoError(t, err)

		d := coordinates.Haversine(0, 0, 0, 0.3)
		w, ok := g.Weight("A", "B")
		require.True(t, ok)
		assert.InDelta(t, d/300000+0.005, w, 1e-12)
	})

	t.Run("Custom propagation speed", func(t *testing.T) {
		nodes := []Node{node("A", 0, 0, 100), node("B", 0, 0.3, 100)}
		g, err := BuildGraph(nodes, MetricDelay, WithPropagationSpeed(299792458))
		require.NoError(t, err)

		d := coordinates.Haversine(0, 0, 0, 0.3)
		w, _ := g.Weight("A", "B")
		assert.InDelta(t, d/299792458, w, 1e-15)
	})

	t.Run("Hop weights are unit", func(t *testing.T) {
		nodes := []Node{node("A", 0, 0, 100), node("B", 0, 0.3, 100), node("C", 0, 0.5, 100)}
		g, err := BuildGraph(nodes, MetricHops, WithExtraDelay(5))
		require.NoError(t, err)
		for _, id := range g.IDs() {
			for _, e := range g.Neighbors(id) {
				assert.Equal(t, 1.0, e.Weight)
			}
		}
	})

	t.Run("Negative altitude is clamped to the ground", func(t *testing.T) {
		// A ground node sees only as far as the other node's horizon
		horizon := coordinates.HorizonDistance(1000)
		lonInside := (horizon * 0.99) / coordinates.EarthRadiusMeters * coordinates.RadiansToDegrees
		lonOutside := (horizon * 1.01) / coordinates.EarthRadiusMeters * coordinates.RadiansToDegrees

		nodes := []Node{node("GND", 0, 0, -30), node("NEAR", 0, lonInside, 1000), node("FAR", 0, -lonOutside, 1000)}
		g, err := BuildGraph(nodes, MetricHops)
		require.NoError(t, err)

		_, ok := g.Weight("GND", "NEAR")
		assert.True(t, ok, "expected GND-NEAR edge")
		_, ok = g.Weight("GND", "FAR")
		assert.False(t, ok, "expected no GND-FAR edge")
	})

	t.Run("Isolated nodes are still graph members", func(t *testing.T) {
		nodes := []Node{node("A", 0, 0, 10), node("B", 0, 0.2, 10), node("C", 0, 2.0, 10)}
		g, err := BuildGraph(nodes, MetricDelay)
		require.NoError(t, err)
		assert.True(t, g.Has("C"))
		assert.Equal(t, []string{"C"}, g.Isolated())
		assert.Equal(t, 1, g.EdgeCount())
	})
}

func TestGraphInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 20; trial++ {
		nodes := randomNodes(rng, 25)
		for _, metric := range bothMetrics {
			g, err := BuildGraph(nodes, metric, WithExtraDelay(0.01))
			require.NoError(t, err)

			pairs := 0
			for _, a := range g.IDs() {
				seen := make(map[string]bool)
				for _, e := range g.Neighbors(a) {
					require.NotEqual(t, a, e.To, "self loop on %s", a)
					require.False(t, seen[e.To], "duplicate edge %s-%s", a, e.To)
					seen[e.To] = true

					back, ok := g.Weight(e.To, a)
					require.True(t, ok, "edge %s->%s has no reverse", a, e.To)
					require.Equal(t, e.Weight, back, "asymmetric weight on %s-%s", a, e.To)
					pairs++
				}
			}
			assert.Equal(t, g.EdgeCount()*2, pairs)
		}
	}
}

func TestFindPath(t *testing.T) {
	t.Run("Disconnected node returns no path", func(t *testing.T) {
		nodes := []Node{node("A", 0, 0, 10), node("B", 0, 0.3, 10), node("C", 0, 2.0, 10)}
		for _, metric := range bothMetrics {
			g, err := BuildGraph(nodes, metric)
			require.NoError(t, err)

			ids, err := FindPath(g, "A", "C", metric)
			require.NoError(t, err)
			assert.Nil(t, ids, "metric %s", metric)
		}
	})

	t.Run("Directly visible pair", func(t *testing.T) {
		nodes := []Node{node("A", 0, 0, 10), node("B", 0, 0.2, 10), node("C", 0, 2.0, 10)}
		for _, metric := range bothMetrics {
			g, err := BuildGraph(nodes, metric)
			require.NoError(t, err)

			ids, err := FindPath(g, "A", "B", metric)
			require.NoError(t, err)
			assert.Equal(t, []string{"A", "B"}, ids)
		}
	})

	t.Run("Chained through a relay", func(t *testing.T) {
		nodes := []Node{node("A", 0, 0, 100), node("B", 0, 0.3, 100), node("C", 0, 0.9, 100)}
		for _, metric := range bothMetrics {
			g, err := BuildGraph(nodes, metric)
			require.NoError(t, err)

			_, direct := g.Weight("A", "C")
			require.False(t, direct)

			ids, err := FindPath(g, "A", "C", metric)
			require.NoError(t, err)
			assert.Equal(t, []string{"A", "B", "C"}, ids, "metric %s", metric)
		}
	})

	t.Run("Start equals end", func(t *testing.T) {
		nodes := []Node{node("A", 0, 0, 10), node("C", 0, 2.0, 10)}
		for _, metric := range bothMetrics {
			g, err := BuildGraph(nodes, metric)
			require.NoError(t, err)

			for _, id := range []string{"A", "C"} {
				ids, err := FindPath(g, id, id, metric)
				require.NoError(t, err)
				assert.Equal(t, []string{id}, ids)
			}
		}
	})

	t.Run("Metric mismatch", func(t *testing.T) {
		g, err := BuildGraph([]Node{node("A", 0, 0, 10)}, MetricHops)
		require.NoError(t, err)

		_, err = FindPath(g, "A", "A", MetricDelay)
		assert.ErrorIs(t, err, ErrMetricMismatch)
	})

	t.Run("Unknown metric", func(t *testing.T) {
		g, err := BuildGraph([]Node{node("A", 0, 0, 10)}, MetricHops)
		require.NoError(t, err)

		_, err = FindPath(g, "A", "A", Metric(7))
		assert.ErrorIs(t, err, ErrUnknownMetric)
	})

	t.Run("Unknown endpoint", func(t *testing.T) {
		g, err := BuildGraph([]Node{node("A", 0, 0, 10)}, MetricDelay)
		require.NoError(t, err)

		_, err = FindPath(g, "A", "Z", MetricDelay)
		var unknown *UnknownNodeError
		require.ErrorAs(t, err, &unknown)
		assert.Equal(t, "Z", unknown.ID)
	})

	t.Run("Delay prefers a longer chain of short hops", func(t *testing.T) {
		// All three see each other. Along the equator the two legs through
		// M add up to the direct distance, so the per-hop overhead decides.
		nodes := []Node{
			node("S", 0, 0, 9000),
			node("M", 0, 1.0, 9000),
			node("E", 0, 2.0, 9000),
		}
		g, err := BuildGraph(nodes, MetricDelay, WithExtraDelay(1.0))
		require.NoError(t, err)
		ids, err := FindPath(g, "S", "E", MetricDelay)
		require.NoError(t, err)
		assert.Equal(t, []string{"S", "E"}, ids)

		g, err = BuildGraph(nodes, MetricHops)
		require.NoError(t, err)
		ids, err = FindPath(g, "S", "E", MetricHops)
		require.NoError(t, err)
		assert.Equal(t, []string{"S", "E"}, ids)
	})

	t.Run("Equal cost ties break by id", func(t *testing.T) {
		// X and Y are mirror images across the S-E axis, so both
		// two-hop routes cost exactly the same.
		nodes := []Node{
			node("S", 0, 0, 100),
			node("Y", 0.2, 0.35, 100),
			node("X", -0.2, 0.35, 100),
			node("E", 0, 0.7, 100),
		}
		for _, metric := range bothMetrics {
			g, err := BuildGraph(nodes, metric)
			require.NoError(t, err)
			_, direct := g.Weight("S", "E")
			require.False(t, direct)

			for i := 0; i < 5; i++ {
				ids, err := FindPath(g, "S", "E", metric)
				require.NoError(t, err)
				assert.Equal(t, []string{"S", "X", "E"}, ids, "metric %s", metric)
			}
		}
	})
}

// TestFindPathOptimal compares both searches against exhaustive
// enumeration of simple paths on small random snapshots.
func TestFindPathOptimal(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	checked := 0
	for trial := 0; trial < 60; trial++ {
		nodes := randomNodes(rng, 8)

		delayGraph, err := BuildGraph(nodes, MetricDelay, WithExtraDelay(0.002))
		require.NoError(t, err)
		hopGraph, err := BuildGraph(nodes, MetricHops)
		require.NoError(t, err)

		start, end := nodes[0].ID, nodes[len(nodes)-1].ID
		bestCost, bestHops, reachable := bruteForce(delayGraph, start, end)

		delayIDs, err := FindPath(delayGraph, start, end, MetricDelay)
		require.NoError(t, err)
		hopIDs, err := FindPath(hopGraph, start, end, MetricHops)
		require.NoError(t, err)

		if !reachable {
			assert.Nil(t, delayIDs)
			assert.Nil(t, hopIDs)
			continue
		}
		checked++

		require.NotNil(t, delayIDs)
		require.NotNil(t, hopIDs)
		assert.Equal(t, start, delayIDs[0])
		assert.Equal(t, end, delayIDs[len(delayIDs)-1])

		cost, ok := PathCost(delayGraph, delayIDs)
		require.True(t, ok, "delay path has non-adjacent hop")
		assert.InDelta(t, bestCost, cost, 1e-9)

		_, ok = PathCost(hopGraph, hopIDs)
		require.True(t, ok, "hop path has non-adjacent hop")
		assert.Equal(t, bestHops, len(hopIDs)-1)
	}
	assert.Greater(t, checked, 5, "too few connected trials to be meaningful")
}

func TestResolvePath(t *testing.T) {
	nodes := []Node{node("A", 0, 0, 100), node("B", 0, 0.3, 100), node("C", 0, 0.9, 100)}

	t.Run("Preserves order", func(t *testing.T) {
		path, err := ResolvePath([]string{"C", "B", "A"}, nodes)
		require.NoError(t, err)
		require.Len(t, path, 3)
		assert.Equal(t, "C", path[0].ID)
		assert.Equal(t, "A", path[2].ID)
	})

	t.Run("No path propagates", func(t *testing.T) {
		path, err := ResolvePath(nil, nodes)
		require.NoError(t, err)
		assert.Nil(t, path)
	})

	t.Run("Lookup miss is an inconsistency", func(t *testing.T) {
		path, err := ResolvePath([]string{"A", "Q", "C"}, nodes)
		assert.Nil(t, path)
		var inc *InconsistencyError
		require.ErrorAs(t, err, &inc)
		assert.Equal(t, "Q", inc.ID)
		assert.Equal(t, 1, inc.Position)
	})
}

func TestRoute(t *testing.T) {
	nodes := []Node{node("A", 0, 0, 100), node("B", 0, 0.3, 100), node("C", 0, 0.9, 100), node("D", 10, 10, 100)}

	t.Run("Found path carries nodes and cost", func(t *testing.T) {
		res, err := Route(nodes, Query{StartID: "A", EndID: "C", Metric: MetricDelay, ExtraDelay: 0.01})
		require.NoError(t, err)
		require.True(t, res.Found)
		assert.Equal(t, []string{"A", "B", "C"}, res.IDs())
		assert.Equal(t, 2, res.Hops())

		want := coordinates.Haversine(0, 0, 0, 0.3)/DefaultPropagationSpeed +
			coordinates.Haversine(0, 0.3, 0, 0.9)/DefaultPropagationSpeed + 0.02
		assert.InDelta(t, want, res.Cost, 1e-9)
	})

	t.Run("Hop cost equals hop count", func(t *testing.T) {
		res, err := Route(nodes, Query{StartID: "A", EndID: "C", Metric: MetricHops})
		require.NoError(t, err)
		require.True(t, res.Found)
		assert.Equal(t, float64(res.Hops()), res.Cost)
	})

	t.Run("Unreachable is not an error", func(t *testing.T) {
		res, err := Route(nodes, Query{StartID: "A", EndID: "D", Metric: MetricHops})
		require.NoError(t, err)
		assert.False(t, res.Found)
		assert.Empty(t, res.Nodes)
		assert.Equal(t, MetricHops, res.Metric)
	})

	t.Run("Degenerate query", func(t *testing.T) {
		res, err := Route(nodes, Query{StartID: "D", EndID: "D", Metric: MetricDelay})
		require.NoError(t, err)
		require.True(t, res.Found)
		assert.Equal(t, []string{"D"}, res.IDs())
		assert.Equal(t, 0, res.Hops())
		assert.Equal(t, 0.0, res.Cost)
	})

	t.Run("Invalid metric surfaces immediately", func(t *testing.T) {
		_, err := Route(nodes, Query{StartID: "A", EndID: "C"})
		assert.True(t, errors.Is(err, ErrUnknownMetric))
	})
}

func TestForecast(t *testing.T) {
	moving := node("M", 45, -76, 9000)
	moving.Velocity = floatPtr(250)
	moving.Heading = floatPtr(90)
	parked := node("P", 45, -75, 9000)

	nodes := []Node{moving, parked}
	out := Forecast(nodes, 60)

	assert.Equal(t, -76.0, nodes[0].Position.Longitude, "input must not be mutated")
	assert.Greater(t, out[0].Position.Longitude, -76.0)
	assert.Equal(t, parked.Position, out[1].Position)

	res := PathResult{Found: true, Nodes: nodes}
	projected := res.Project(60)
	assert.Equal(t, out[0].Position, projected.Nodes[0].Position)
	assert.Equal(t, -76.0, res.Nodes[0].Position.Longitude)
}

func TestFilterAirborneAndMerge(t *testing.T) {
	ground := node("G", 45, -75, 0)
	ground.OnGround = true
	air := node("AIR", 45, -76, 9000)

	filtered := FilterAirborne([]Node{ground, air})
	require.Len(t, filtered, 1)
	assert.Equal(t, "AIR", filtered[0].ID)

	stations := []Node{node("OTTAWA", 45.4215, -75.6972, 0), node("AIR", 0, 0, 0)}
	merged := Merge(filtered, stations)
	require.Len(t, merged, 2)
	assert.Equal(t, "OTTAWA", merged[0].ID)
	assert.True(t, merged[0].Virtual)
	assert.True(t, merged[1].Virtual, "station wins id collision")

	station := stations[0]
	station.OnGround = true
	kept := FilterAirborne(Merge(nil, []Node{station}))
	assert.Len(t, kept, 1, "virtual stations survive ground filtering")
}

func TestDisplayName(t *testing.T) {
	n := Node{ID: "c0ffee"}
	assert.Equal(t, "c0ffee", n.DisplayName())
	n.Label = "ACA123"
	assert.Equal(t, "ACA123", n.DisplayName())
}

func randomNodes(rng *rand.Rand, n int) []Node {
	nodes := make([]Node, n)
	for i := range nodes {
		nodes[i] = node(
			fmt.Sprintf("n%02d", i),
			45+rng.Float64()*2-1,
			-76+rng.Float64()*2-1,
			math.Floor(rng.Float64()*3000),
		)
	}
	return nodes
}

// bruteForce enumerates every simple path from start to end and returns the
// lowest delay cost and the fewest hops seen.
func bruteForce(g *Graph, start, end string) (float64, int, bool) {
	bestCost := math.Inf(1)
	bestHops := math.MaxInt
	found := false

	visited := map[string]bool{start: true}
	var walk func(current string, cost float64, hops int)
	walk = func(current string, cost float64, hops int) {
		if current == end {
			found = true
			bestCost = math.Min(bestCost, cost)
			if hops < bestHops {
				bestHops = hops
			}
			return
		}
		for _, e := range g.Neighbors(current) {
			if visited[e.To] {
				continue
			}
			visited[e.To] = true
			walk(e.To, cost+e.Weight, hops+1)
			visited[e.To] = false
		}
	}
	walk(start, 0, 0)
	return bestCost, bestHops, found
}
