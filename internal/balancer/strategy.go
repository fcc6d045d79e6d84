package balancer

// Strategy selects which instance handles the next request.
type Strategy int

const (
	// RoundRobin cycles through instances in insertion order.
	RoundRobin Strategy = iota
	// LeastConnections picks the instance with the fewest in-flight
	// connections, breaking ties by insertion order.
	LeastConnections
	// Weighted cycles a virtual sequence in which each instance repeats
	// proportionally to its weight.
	Weighted
)

// String returns the string representation of the strategy.
func (s Strategy) String() string {
	switch s {
	case LeastConnections:
		return "leastconn"
	case Weighted:
		return "weighted"
	default:
		return "roundrobin"
	}
}

// ParseStrategy maps a configuration string to a Strategy. Unrecognized
// values fall back to round-robin.
func ParseStrategy(s string) Strategy {
	switch s {
	case "leastconn", "least_connections", "least-connections":
		return LeastConnections
	case "weighted", "weighted_round_robin", "weighted-round-robin":
		return Weighted
	default:
		return RoundRobin
	}
}
