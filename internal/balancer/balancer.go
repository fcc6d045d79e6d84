// Package balancer provides per-service instance pools and selection
// strategies for the routing core.
package balancer

import (
	"sync"

	"github.com/vyrodovalexey/avrouting/internal/metrics"
	"github.com/vyrodovalexey/avrouting/internal/observability"
)

// pool holds the balancing state of one service.
type pool struct {
	// instances keeps insertion order; it defines round-robin order and
	// never contains duplicates.
	instances []string
	weights   map[string]int

	rrCursor int

	// virtual is the weighted selection sequence, rebuilt on every
	// topology or weight change rather than per call. Each address
	// repeats weight times in insertion order.
	virtual       []string
	virtualCursor int
}

// normalize clamps both cursors back into range after the pool shrank.
func (p *pool) normalize() {
	if p.rrCursor >= len(p.instances) {
		p.rrCursor = 0
	}
	if p.virtualCursor >= len(p.virtual) {
		p.virtualCursor = 0
	}
}

// rebuildVirtual recomputes the weighted selection sequence.
func (p *pool) rebuildVirtual() {
	total := 0
	for _, addr := range p.instances {
		total += p.weights[addr]
	}

	p.virtual = make([]string, 0, total)
	for _, addr := range p.instances {
		for i := 0; i < p.weights[addr]; i++ {
			p.virtual = append(p.virtual, addr)
		}
	}
	p.normalize()
}

// has reports whether the address is already in the pool.
func (p *pool) has(address string) bool {
	_, ok := p.weights[address]
	return ok
}

// Balancer tracks per-service instance pools, their weights and in-flight
// connection counts, and applies a selection strategy to pick the next
// instance. All operations are safe for concurrent use and total over
// balancer state: unknown services and addresses degrade to no-ops or empty
// results, never errors.
type Balancer struct {
	mu     sync.Mutex
	pools  map[string]*pool
	conns  map[string]int64
	logger observability.Logger
}

// Option is a functional option for configuring the balancer.
type Option func(*Balancer)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(b *Balancer) {
		b.logger = logger
	}
}

// New creates an empty balancer.
func New(opts ...Option) *Balancer {
	b := &Balancer{
		pools:  make(map[string]*pool),
		conns:  make(map[string]int64),
		logger: observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// AddInstance appends an address to the service's pool. Adding an address
// that is already present is a no-op and leaves its weight untouched; use
// UpdateWeight to change it. Weights below 1 are treated as 1.
func (b *Balancer) AddInstance(service, address string, weight int) {
	if weight < 1 {
		weight = 1
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.pools[service]
	if !ok {
		p = &pool{weights: make(map[string]int)}
		b.pools[service] = p
	}

	if p.has(address) {
		return
	}

	p.instances = append(p.instances, address)
	p.weights[address] = weight
	if _, ok := b.conns[address]; !ok {
		b.conns[address] = 0
	}
	p.rebuildVirtual()

	metrics.GetRoutingMetrics().PoolSize.WithLabelValues(service).Set(float64(len(p.instances)))

	b.logger.Info("added instance",
		observability.String("service", service),
		observability.String("address", address),
		observability.Int("weight", weight),
	)
}

// RemoveInstance removes an address from the service's pool. Unknown
// services or addresses are a no-op.
func (b *Balancer) RemoveInstance(service, address string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.pools[service]
	if !ok || !p.has(address) {
		return
	}

	b.removeLocked(service, p, address)

	b.logger.Info("removed instance",
		observability.String("service", service),
		observability.String("address", address),
	)
}

// removeLocked removes one address from a pool. Callers hold b.mu.
func (b *Balancer) removeLocked(service string, p *pool, address string) {
	for i, addr := range p.instances {
		if addr == address {
			p.instances = append(p.instances[:i], p.instances[i+1:]...)
			break
		}
	}
	delete(p.weights, address)
	delete(b.conns, address)
	p.rebuildVirtual()

	metrics.GetRoutingMetrics().PoolSize.WithLabelValues(service).Set(float64(len(p.instances)))
	metrics.GetRoutingMetrics().ActiveConnections.DeleteLabelValues(address)
}

// RemoveService drops the whole pool for a service, including the
// connection counters of its instances.
func (b *Balancer) RemoveService(service string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.pools[service]
	if !ok {
		return
	}

	for _, addr := range p.instances {
		delete(b.conns, addr)
		metrics.GetRoutingMetrics().ActiveConnections.DeleteLabelValues(addr)
	}
	delete(b.pools, service)
	metrics.GetRoutingMetrics().PoolSize.DeleteLabelValues(service)
}

// Next returns the address of the next instance for the service under the
// given strategy, or ("", false) when the pool is empty or unknown.
func (b *Balancer) Next(service string, strategy Strategy) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.pools[service]
	if !ok || len(p.instances) == 0 {
		metrics.GetRoutingMetrics().RecordSelection(service, strategy.String(), false)
		return "", false
	}

	var addr string
	switch strategy {
	case LeastConnections:
		addr = b.nextLeastConn(p)
	case Weighted:
		addr = p.nextWeighted()
	default:
		addr = p.nextRoundRobin()
	}

	metrics.GetRoutingMetrics().RecordSelection(service, strategy.String(), true)
	return addr, true
}

// nextRoundRobin returns instances[cursor] and advances the cursor.
func (p *pool) nextRoundRobin() string {
	p.normalize()
	addr := p.instances[p.rrCursor]
	p.rrCursor = (p.rrCursor + 1) % len(p.instances)
	return addr
}

// nextWeighted cycles the precomputed virtual sequence with its own cursor.
// Repeats of a high-weight instance cluster rather than interleave; callers
// that need smoothing should adjust weights instead.
func (p *pool) nextWeighted() string {
	if len(p.virtual) == 0 {
		return p.nextRoundRobin()
	}
	p.normalize()
	addr := p.virtual[p.virtualCursor]
	p.virtualCursor = (p.virtualCursor + 1) % len(p.virtual)
	return addr
}

// nextLeastConn scans for the minimum connection count; ties go to the
// earliest instance in insertion order.
func (b *Balancer) nextLeastConn(p *pool) string {
	selected := p.instances[0]
	minConns := b.conns[selected]

	for _, addr := range p.instances[1:] {
		if c := b.conns[addr]; c < minConns {
			minConns = c
			selected = addr
		}
	}

	return selected
}

// RecordConnection increments the in-flight connection count for an address.
func (b *Balancer) RecordConnection(address string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.conns[address]++
	metrics.GetRoutingMetrics().ActiveConnections.WithLabelValues(address).Set(float64(b.conns[address]))
}

// ReleaseConnection decrements the in-flight connection count for an
// address, flooring at zero.
func (b *Balancer) ReleaseConnection(address string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conns[address] > 0 {
		b.conns[address]--
	}
	metrics.GetRoutingMetrics().ActiveConnections.WithLabelValues(address).Set(float64(b.conns[address]))
}

// Connections returns the current in-flight count for an address.
func (b *Balancer) Connections(address string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conns[address]
}

// UpdateWeight changes the weight of an already-registered address. Unknown
// services or addresses are a silent no-op. Weights below 1 are treated
// as 1.
func (b *Balancer) UpdateWeight(service, address string, weight int) {
	if weight < 1 {
		weight = 1
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.pools[service]
	if !ok || !p.has(address) {
		return
	}

	p.weights[address] = weight
	p.rebuildVirtual()
}

// RemoveUnhealthy keeps only the addresses marked true in the supplied map;
// absence counts as unhealthy. Cursors are normalized so the next selection
// stays in range.
func (b *Balancer) RemoveUnhealthy(service string, healthy map[string]bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.pools[service]
	if !ok {
		return
	}

	var pruned []string
	for _, addr := range p.instances {
		if !healthy[addr] {
			pruned = append(pruned, addr)
		}
	}

	for _, addr := range pruned {
		b.removeLocked(service, p, addr)
	}

	if len(pruned) > 0 {
		metrics.GetRoutingMetrics().InstancesPrunedTotal.
			WithLabelValues(service).Add(float64(len(pruned)))
		b.logger.Warn("pruned unhealthy instances",
			observability.String("service", service),
			observability.Int("pruned", len(pruned)),
			observability.Int("remaining", len(p.instances)),
		)
	}
}

// InstanceStats is the diagnostic view of one instance.
type InstanceStats struct {
	Address     string `json:"address"`
	Weight      int    `json:"weight"`
	Connections int64  `json:"connections"`
}

// ServiceStats is the diagnostic view of one service's pool.
type ServiceStats struct {
	InstanceCount   int             `json:"instanceCount"`
	RoundRobinIndex int             `json:"roundRobinIndex"`
	WeightedIndex   int             `json:"weightedIndex"`
	Instances       []InstanceStats `json:"instances"`
}

// Stats returns a diagnostic snapshot of all pools.
func (b *Balancer) Stats() map[string]ServiceStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[string]ServiceStats, len(b.pools))
	for service, p := range b.pools {
		stats := ServiceStats{
			InstanceCount:   len(p.instances),
			RoundRobinIndex: p.rrCursor,
			WeightedIndex:   p.virtualCursor,
			Instances:       make([]InstanceStats, 0, len(p.instances)),
		}
		for _, addr := range p.instances {
			stats.Instances = append(stats.Instances, InstanceStats{
				Address:     addr,
				Weight:      p.weights[addr],
				Connections: b.conns[addr],
			})
		}
		out[service] = stats
	}
	return out
}

// Instances returns the current pool of a service in insertion order.
func (b *Balancer) Instances(service string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.pools[service]
	if !ok {
		return nil
	}

	out := make([]string, len(p.instances))
	copy(out, p.instances)
	return out
}
