package relay

import (
	"fmt"
	"strings"
)

// Metric selects both how edges are weighted and which search runs over
// them. A graph built with one metric can only be searched with the same
// metric.
type Metric int

const (
	// MetricDelay weights edges by modeled propagation delay and searches
	// with Dijkstra.
	MetricDelay Metric = iota + 1

	// MetricHops gives every edge unit weight and searches breadth-first.
	MetricHops
)

// DefaultMetric is used when a caller leaves the metric unset in config.
const DefaultMetric = MetricDelay

// ParseMetric converts "delay" or "hops" to a Metric.
func ParseMetric(s string) (Metric, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "delay":
		return MetricDelay, nil
	case "hops":
		return MetricHops, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownMetric, s)
	}
}

// Valid reports whether m is one of the defined metrics.
func (m Metric) Valid() bool {
	return m == MetricDelay || m == MetricHops
}

func (m Metric) String() string {
	switch m {
	case MetricDelay:
		return "delay"
	case MetricHops:
		return "hops"
	default:
		return fmt.Sprintf("Metric(%d)", int(m))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m Metric) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownMetric, int(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Metric) UnmarshalText(text []byte) error {
	parsed, err := ParseMetric(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
