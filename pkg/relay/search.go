package relay

import (
	"container/heap"
)

// FindPath returns the node ids of the best path from startID to endID,
// both inclusive, under metric. metric must match the metric g was built
// with.
//
// A nil slice with a nil error means end is unreachable from start: that
// is a normal outcome, not a failure, and callers must check for it. When
// startID equals endID the result is the single-node path [startID].
func FindPath(g *Graph, startID, endID string, metric Metric) ([]string, error) {
	if !metric.Valid() {
		return nil, ErrUnknownMetric
	}
	if metric != g.metric {
		return nil, ErrMetricMismatch
	}
	if !g.Has(startID) {
		return nil, &UnknownNodeError{ID: startID}
	}
	if !g.Has(endID) {
		return nil, &UnknownNodeError{ID: endID}
	}
	if startID == endID {
		return []string{startID}, nil
	}

	switch metric {
	case MetricHops:
		return fewestHops(g, startID, endID), nil
	default:
		return lowestDelay(g, startID, endID), nil
	}
}

// lowestDelay is Dijkstra's algorithm with a closed set: once a node is
// popped its cost is final and it is never expanded again. Entries with
// equal cost pop in lexicographic id order.
func lowestDelay(g *Graph, startID, endID string) []string {
	dist := map[string]float64{startID: 0}
	prev := make(map[string]string)
	closed := make(map[string]bool)

	pq := &delayQueue{}
	heap.Push(pq, &delayItem{id: startID, cost: 0})

	for pq.Len() > 0 {
		item := heap.Pop(pq).(*delayItem)
		if closed[item.id] {
			continue
		}
		closed[item.id] = true

		if item.id == endID {
			return walkBack(prev, startID, endID)
		}

		for _, e := range g.adj[item.id] {
			if closed[e.To] {
				continue
			}
			tentative := item.cost + e.Weight
			if old, seen := dist[e.To]; seen && tentative >= old {
				continue
			}
			dist[e.To] = tentative
			prev[e.To] = item.id
			heap.Push(pq, &delayItem{id: e.To, cost: tentative})
		}
	}

	return nil
}

// fewestHops is a breadth-first search. Every node is enqueued at most once
// and neighbors are explored in id order, so the first time endID is
// discovered the path has the minimum number of edges.
func fewestHops(g *Graph, startID, endID string) []string {
	prev := make(map[string]string)
	visited := map[string]bool{startID: true}
	queue := []string{startID}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, e := range g.adj[current] {
			if visited[e.To] {
				continue
			}
			visited[e.To] = true
			prev[e.To] = current
			if e.To == endID {
				return walkBack(prev, startID, endID)
			}
			queue = append(queue, e.To)
		}
	}

	return nil
}

func walkBack(prev map[string]string, startID, endID string) []string {
	path := []string{endID}
	for current := endID; current != startID; {
		current = prev[current]
		path = append(path, current)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// PathCost sums the edge weights along ids. It returns false when two
// consecutive ids are not adjacent in g.
func PathCost(g *Graph, ids []string) (float64, bool) {
	total := 0.0
	for i := 1; i < len(ids); i++ {
		w, ok := g.Weight(ids[i-1], ids[i])
		if !ok {
			return 0, false
		}
		total += w
	}
	return total, true
}

type delayItem struct {
	id    string
	cost  float64
	index int
}

type delayQueue []*delayItem

func (pq delayQueue) Len() int { return len(pq) }

func (pq delayQueue) Less(i, j int) bool {
	if pq[i].cost != pq[j].cost {
		return pq[i].cost < pq[j].cost
	}
	return pq[i].id < pq[j].id
}

func (pq delayQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

func (pq *delayQueue) Push(x interface{}) {
	item := x.(*delayItem)
	item.index = len(*pq)
	*pq = append(*pq, item)
}

func (pq *delayQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	item := old[n-1]
	item.index = -1
	*pq = old[0 : n-1]
	return item
}
