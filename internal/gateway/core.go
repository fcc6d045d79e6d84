// Package gateway composes the service registry and load balancer into the
// routing core an API gateway embeds: topology management, health-driven
// pruning, and per-request instance acquisition.
package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/vyrodovalexey/avrouting/internal/balancer"
	"github.com/vyrodovalexey/avrouting/internal/config"
	"github.com/vyrodovalexey/avrouting/internal/metrics"
	"github.com/vyrodovalexey/avrouting/internal/observability"
	"github.com/vyrodovalexey/avrouting/internal/registry"
)

// Core owns one registry and one balancer and keeps them consistent. It is
// the single handle the gateway passes into request handlers; no package
// state is involved.
type Core struct {
	registry *registry.Registry
	balancer *balancer.Balancer
	logger   observability.Logger

	mu         sync.RWMutex
	strategies map[string]balancer.Strategy
	desired    map[string][]config.Instance

	interval  time.Duration
	stopCh    chan struct{}
	stoppedCh chan struct{}
	running   bool
	runMu     sync.Mutex
}

// Option is a functional option for configuring the core.
type Option func(*Core)

// WithRegistry sets the registry, overriding the one built from config.
func WithRegistry(r *registry.Registry) Option {
	return func(c *Core) {
		c.registry = r
	}
}

// WithBalancer sets the balancer.
func WithBalancer(b *balancer.Balancer) Option {
	return func(c *Core) {
		c.balancer = b
	}
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(c *Core) {
		c.logger = logger
	}
}

// WithPruneInterval sets the interval of the health-driven pruning loop.
func WithPruneInterval(interval time.Duration) Option {
	return func(c *Core) {
		c.interval = interval
	}
}

// New creates a core from configuration and applies the configured service
// topology.
func New(cfg *config.Config, opts ...Option) *Core {
	c := &Core{
		logger:     observability.NopLogger(),
		strategies: make(map[string]balancer.Strategy),
		desired:    make(map[string][]config.Instance),
		interval:   config.DefaultHealthCheckInterval,
		stopCh:     make(chan struct{}),
		stoppedCh:  make(chan struct{}),
	}

	if cfg != nil && cfg.HealthCheck.Interval > 0 {
		c.interval = cfg.HealthCheck.Interval.Duration()
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.registry == nil {
		var regOpts []registry.Option
		regOpts = append(regOpts, registry.WithLogger(c.logger))
		if cfg != nil {
			regOpts = append(regOpts,
				registry.WithHealthCacheTTL(cfg.HealthCheck.CacheTTL.Duration()),
				registry.WithProbeRateLimit(cfg.HealthCheck.ProbesPerSecond),
				registry.WithProber(registry.NewHTTPProber(
					registry.WithProbeTimeout(cfg.HealthCheck.Timeout.Duration()),
					registry.WithProbePath(cfg.HealthCheck.Path),
				)),
			)
		}
		c.registry = registry.New(regOpts...)
	}
	if c.balancer == nil {
		c.balancer = balancer.New(balancer.WithLogger(c.logger))
	}

	if cfg != nil {
		c.ApplyTopology(cfg)
	}

	return c
}

// Registry returns the underlying registry.
func (c *Core) Registry() *registry.Registry {
	return c.registry
}

// Balancer returns the underlying balancer.
func (c *Core) Balancer() *balancer.Balancer {
	return c.balancer
}

// ApplyTopology reconciles registry and balancer state with the configured
// services. Services absent from the new configuration are unregistered and
// their pools dropped; registrations and instance additions are idempotent,
// so re-applying the same topology is a no-op. Called at startup and on
// configuration reload.
func (c *Core) ApplyTopology(cfg *config.Config) {
	c.mu.Lock()
	defer c.mu.Unlock()

	wanted := make(map[string]bool, len(cfg.Services))
	for i := range cfg.Services {
		svc := &cfg.Services[i]
		wanted[svc.Name] = true

		c.registry.Register(svc.Name, svc.Host, svc.Port)
		c.strategies[svc.Name] = balancer.ParseStrategy(svc.Strategy)
		c.desired[svc.Name] = append([]config.Instance(nil), svc.Instances...)

		current := make(map[string]bool)
		for _, addr := range c.balancer.Instances(svc.Name) {
			current[addr] = true
		}

		for _, inst := range svc.Instances {
			if current[inst.Address] {
				c.balancer.UpdateWeight(svc.Name, inst.Address, inst.Weight)
			} else {
				c.balancer.AddInstance(svc.Name, inst.Address, inst.Weight)
			}
			delete(current, inst.Address)
		}
		// Whatever is left in current is no longer configured.
		for addr := range current {
			c.balancer.RemoveInstance(svc.Name, addr)
		}
	}

	for _, name := range c.registry.Services() {
		if !wanted[name] {
			c.registry.Unregister(name)
			c.balancer.RemoveService(name)
			delete(c.strategies, name)
			delete(c.desired, name)
		}
	}

	metrics.GetRoutingMetrics().ConfigReloadsTotal.WithLabelValues("success").Inc()

	c.logger.Info("applied service topology",
		observability.Int("services", len(cfg.Services)),
	)
}

// Target is an acquired instance. Release must be called when the request
// completes; it is safe to call more than once.
type Target struct {
	Service string
	Address string

	release sync.Once
	bal     *balancer.Balancer
}

// Release returns the connection slot taken by Acquire.
func (t *Target) Release() {
	t.release.Do(func() {
		t.bal.ReleaseConnection(t.Address)
	})
}

// Acquire picks the next instance for a service under its configured
// strategy and records the connection. It returns false when the service has
// no routable instances; the gateway maps that to a service-unavailable
// response.
func (c *Core) Acquire(service string) (*Target, bool) {
	c.mu.RLock()
	strategy, ok := c.strategies[service]
	c.mu.RUnlock()
	if !ok {
		strategy = balancer.RoundRobin
	}

	addr, found := c.balancer.Next(service, strategy)
	if !found {
		return nil, false
	}

	c.balancer.RecordConnection(addr)
	return &Target{
		Service: service,
		Address: addr,
		bal:     c.balancer,
	}, true
}

// Strategy returns the configured strategy for a service.
func (c *Core) Strategy(service string) balancer.Strategy {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.strategies[service]
}

// Start launches the health-driven pruning loop.
func (c *Core) Start(ctx context.Context) {
	c.runMu.Lock()
	if c.running {
		c.runMu.Unlock()
		return
	}
	c.running = true
	c.runMu.Unlock()

	go c.run(ctx)
}

// Stop stops the pruning loop and waits for it to exit.
func (c *Core) Stop() {
	c.runMu.Lock()
	if !c.running {
		c.runMu.Unlock()
		return
	}
	c.running = false
	c.runMu.Unlock()

	close(c.stopCh)
	<-c.stoppedCh
}

// run is the pruning loop.
func (c *Core) run(ctx context.Context) {
	defer close(c.stoppedCh)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.pruneOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.pruneOnce(ctx)
		}
	}
}

// pruneOnce checks every registered service's health and reconciles its
// pool: an unhealthy service has its instances pruned, a healthy one has its
// configured instances restored.
func (c *Core) pruneOnce(ctx context.Context) {
	for _, name := range c.registry.Services() {
		rec := c.registry.CheckHealth(ctx, name)

		c.mu.RLock()
		desired := c.desired[name]
		c.mu.RUnlock()

		if rec.Healthy() {
			// Additions are idempotent; instances pruned during an
			// outage come back with their configured weights.
			for _, inst := range desired {
				c.balancer.AddInstance(name, inst.Address, inst.Weight)
			}
			continue
		}

		healthy := make(map[string]bool)
		c.balancer.RemoveUnhealthy(name, healthy)
	}
}
