// Package registry provides service discovery for the routing core.
// It maps logical service names to canonical network addresses and caches
// health assessments with a bounded TTL.
package registry

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/vyrodovalexey/avrouting/internal/metrics"
	"github.com/vyrodovalexey/avrouting/internal/observability"
)

// DefaultHealthCacheTTL is the validity window of a cached health record.
const DefaultHealthCacheTTL = 30 * time.Second

// Endpoint is the canonical network address of a service.
type Endpoint struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Addr renders the endpoint as host:port.
func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// Registry tracks known services and caches their health assessments.
// All operations are safe for concurrent use and total over registry state:
// lookups on unknown names degrade to zero values rather than errors.
type Registry struct {
	mu        sync.RWMutex
	endpoints map[string]Endpoint
	health    map[string]HealthRecord

	prober   Prober
	cacheTTL time.Duration
	limiter  *rate.Limiter
	probes   singleflight.Group
	logger   observability.Logger
}

// Option is a functional option for configuring the registry.
type Option func(*Registry)

// WithProber sets the health probe strategy.
func WithProber(p Prober) Option {
	return func(r *Registry) {
		r.prober = p
	}
}

// WithHealthCacheTTL sets the health record TTL.
func WithHealthCacheTTL(ttl time.Duration) Option {
	return func(r *Registry) {
		r.cacheTTL = ttl
	}
}

// WithProbeRateLimit caps the aggregate probe rate across all services.
func WithProbeRateLimit(probesPerSecond float64) Option {
	return func(r *Registry) {
		if probesPerSecond > 0 {
			r.limiter = rate.NewLimiter(rate.Limit(probesPerSecond), 1)
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// New creates a registry. Without options it probes over HTTP with default
// timeout and caches health records for DefaultHealthCacheTTL.
func New(opts ...Option) *Registry {
	r := &Registry{
		endpoints: make(map[string]Endpoint),
		health:    make(map[string]HealthRecord),
		cacheTTL:  DefaultHealthCacheTTL,
		logger:    observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.prober == nil {
		r.prober = NewHTTPProber()
	}

	return r
}

// Register upserts the canonical address for a service. Registering an
// existing name replaces its endpoint.
func (r *Registry) Register(name, host string, port int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.endpoints[name] = Endpoint{Host: host, Port: port}
	metrics.GetRoutingMetrics().RegisteredServices.Set(float64(len(r.endpoints)))

	r.logger.Info("registered service",
		observability.String("service", name),
		observability.String("host", host),
		observability.Int("port", port),
	)
}

// Unregister removes a service and its cached health record. Unknown names
// are a no-op.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.endpoints[name]; !ok {
		return
	}

	delete(r.endpoints, name)
	delete(r.health, name)
	metrics.GetRoutingMetrics().RegisteredServices.Set(float64(len(r.endpoints)))

	r.logger.Info("unregistered service",
		observability.String("service", name),
	)
}

// Discover returns all registered services as name to host:port.
func (r *Registry) Discover() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]string, len(r.endpoints))
	for name, ep := range r.endpoints {
		out[name] = ep.Addr()
	}
	return out
}

// Services returns the names of all registered services.
func (r *Registry) Services() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.endpoints))
	for name := range r.endpoints {
		names = append(names, name)
	}
	return names
}

// Endpoint returns the canonical address for a service.
func (r *Registry) Endpoint(name string) (Endpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ep, ok := r.endpoints[name]
	return ep, ok
}

// CheckHealth returns the service's health record, probing the endpoint if
// the cached record is missing or older than the TTL. It never returns an
// error: probe failures are captured in the record, and unregistered names
// yield a record with StatusUnknown. Concurrent callers hitting a stale
// cache share a single in-flight probe per service.
func (r *Registry) CheckHealth(ctx context.Context, name string) HealthRecord {
	r.mu.RLock()
	ep, registered := r.endpoints[name]
	rec, cached := r.health[name]
	r.mu.RUnlock()

	if !registered {
		return HealthRecord{
			Status:    StatusUnknown,
			LastCheck: time.Now(),
			Err:       "not registered",
		}
	}

	if cached && time.Since(rec.LastCheck) < r.cacheTTL {
		metrics.GetRoutingMetrics().HealthCacheHitsTotal.WithLabelValues(name).Inc()
		return rec
	}

	result, _, _ := r.probes.Do(name, func() (interface{}, error) {
		// A waiter that queued behind the winning probe sees a fresh
		// record here and must not probe again.
		r.mu.RLock()
		rec, cached := r.health[name]
		r.mu.RUnlock()
		if cached && time.Since(rec.LastCheck) < r.cacheTTL {
			return rec, nil
		}

		fresh := r.probe(ctx, name, ep)

		r.mu.Lock()
		// The service may have been unregistered while the probe ran.
		if _, still := r.endpoints[name]; still {
			r.health[name] = fresh
		}
		r.mu.Unlock()

		return fresh, nil
	})

	record, ok := result.(HealthRecord)
	if !ok {
		return HealthRecord{Status: StatusUnknown, LastCheck: time.Now()}
	}
	return record
}

// probe performs one health probe and builds the resulting record.
func (r *Registry) probe(ctx context.Context, name string, ep Endpoint) HealthRecord {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return HealthRecord{
				Status:    StatusUnhealthy,
				LastCheck: time.Now(),
				Err:       err.Error(),
			}
		}
	}

	start := time.Now()
	err := r.prober.Probe(ctx, ep)
	elapsed := time.Since(start)

	rec := HealthRecord{
		ResponseTime: elapsed,
		LastCheck:    time.Now(),
	}

	m := metrics.GetRoutingMetrics()
	if err != nil {
		rec.Status = StatusUnhealthy
		rec.Err = err.Error()
		m.RecordProbe(name, "failure", elapsed)
		m.HealthStatus.WithLabelValues(name).Set(0)
		r.logger.Warn("health probe failed",
			observability.String("service", name),
			observability.String("endpoint", ep.Addr()),
			observability.Error(err),
		)
	} else {
		rec.Status = StatusHealthy
		m.RecordProbe(name, "success", elapsed)
		m.HealthStatus.WithLabelValues(name).Set(1)
		r.logger.Debug("health probe succeeded",
			observability.String("service", name),
			observability.Duration("responseTime", elapsed),
		)
	}

	return rec
}
