package registry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingProber counts probes and returns a configurable result.
type countingProber struct {
	calls atomic.Int64
	delay time.Duration
	mu    sync.Mutex
	err   error
}

func (p *countingProber) Probe(ctx context.Context, ep Endpoint) error {
	p.calls.Add(1)
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *countingProber) setErr(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

func TestEndpoint_Addr(t *testing.T) {
	t.Parallel()

	ep := Endpoint{Host: "10.0.0.1", Port: 9000}
	assert.Equal(t, "10.0.0.1:9000", ep.Addr())
}

func TestRegistry_RegisterAndDiscover(t *testing.T) {
	t.Parallel()

	r := New()
	r.Register("orders", "10.0.0.1", 9000)
	r.Register("billing", "10.0.1.1", 9100)

	services := r.Discover()
	assert.Equal(t, map[string]string{
		"orders":  "10.0.0.1:9000",
		"billing": "10.0.1.1:9100",
	}, services)

	assert.ElementsMatch(t, []string{"orders", "billing"}, r.Services())
}

func TestRegistry_Register_Upsert(t *testing.T) {
	t.Parallel()

	r := New()
	r.Register("orders", "10.0.0.1", 9000)
	r.Register("orders", "10.0.0.9", 9001)

	ep, ok := r.Endpoint("orders")
	require.True(t, ok)
	assert.Equal(t, Endpoint{Host: "10.0.0.9", Port: 9001}, ep)
	assert.Len(t, r.Services(), 1)
}

func TestRegistry_Unregister(t *testing.T) {
	t.Parallel()

	r := New()
	r.Register("orders", "10.0.0.1", 9000)
	r.Unregister("orders")

	_, ok := r.Endpoint("orders")
	assert.False(t, ok)
	assert.Empty(t, r.Discover())

	// Unknown names are a no-op.
	r.Unregister("nosuch")
}

func TestRegistry_Endpoint_Unknown(t *testing.T) {
	t.Parallel()

	r := New()
	_, ok := r.Endpoint("nosuch")
	assert.False(t, ok)
}

func TestRegistry_CheckHealth_NotRegistered(t *testing.T) {
	t.Parallel()

	r := New()
	rec := r.CheckHealth(context.Background(), "nosuch")

	assert.Equal(t, StatusUnknown, rec.Status)
	assert.Equal(t, "not registered", rec.Err)
	assert.False(t, rec.Healthy())
}

func TestRegistry_CheckHealth_Success(t *testing.T) {
	t.Parallel()

	prober := &countingProber{}
	r := New(WithProber(prober))
	r.Register("orders", "10.0.0.1", 9000)

	rec := r.CheckHealth(context.Background(), "orders")

	assert.Equal(t, StatusHealthy, rec.Status)
	assert.True(t, rec.Healthy())
	assert.Empty(t, rec.Err)
	assert.False(t, rec.LastCheck.IsZero())
	assert.Equal(t, int64(1), prober.calls.Load())
}

func TestRegistry_CheckHealth_ProbeFailure(t *testing.T) {
	t.Parallel()

	prober := &countingProber{}
	prober.setErr(errors.New("connection refused"))
	r := New(WithProber(prober))
	r.Register("orders", "10.0.0.1", 9000)

	rec := r.CheckHealth(context.Background(), "orders")

	assert.Equal(t, StatusUnhealthy, rec.Status)
	assert.Equal(t, "connection refused", rec.Err)
}

func TestRegistry_CheckHealth_CacheTTL(t *testing.T) {
	t.Parallel()

	prober := &countingProber{}
	r := New(WithProber(prober), WithHealthCacheTTL(80*time.Millisecond))
	r.Register("orders", "10.0.0.1", 9000)

	first := r.CheckHealth(context.Background(), "orders")
	second := r.CheckHealth(context.Background(), "orders")

	// Within the TTL the cached record is returned unchanged.
	assert.Equal(t, first.LastCheck, second.LastCheck)
	assert.Equal(t, int64(1), prober.calls.Load())

	time.Sleep(100 * time.Millisecond)

	third := r.CheckHealth(context.Background(), "orders")
	assert.Equal(t, int64(2), prober.calls.Load())
	assert.True(t, third.LastCheck.After(first.LastCheck))
}

func TestRegistry_CheckHealth_SingleProbeInFlight(t *testing.T) {
	t.Parallel()

	prober := &countingProber{delay: 100 * time.Millisecond}
	r := New(WithProber(prober))
	r.Register("orders", "10.0.0.1", 9000)

	var wg sync.WaitGroup
	records := make([]HealthRecord, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			records[n] = r.CheckHealth(context.Background(), "orders")
		}(i)
	}
	wg.Wait()

	// All concurrent callers share one probe.
	assert.Equal(t, int64(1), prober.calls.Load())
	for _, rec := range records {
		assert.Equal(t, StatusHealthy, rec.Status)
	}
}

func TestRegistry_CheckHealth_RecoveredAfterFailure(t *testing.T) {
	t.Parallel()

	prober := &countingProber{}
	prober.setErr(errors.New("boom"))
	r := New(WithProber(prober), WithHealthCacheTTL(10*time.Millisecond))
	r.Register("orders", "10.0.0.1", 9000)

	rec := r.CheckHealth(context.Background(), "orders")
	assert.Equal(t, StatusUnhealthy, rec.Status)

	prober.setErr(nil)
	time.Sleep(20 * time.Millisecond)

	rec = r.CheckHealth(context.Background(), "orders")
	assert.Equal(t, StatusHealthy, rec.Status)
}

func TestRegistry_Unregister_DropsHealthRecord(t *testing.T) {
	t.Parallel()

	prober := &countingProber{}
	r := New(WithProber(prober))
	r.Register("orders", "10.0.0.1", 9000)

	r.CheckHealth(context.Background(), "orders")
	assert.Equal(t, int64(1), prober.calls.Load())

	r.Unregister("orders")
	r.Register("orders", "10.0.0.1", 9000)

	// The old record is gone, so a fresh probe runs despite the TTL.
	r.CheckHealth(context.Background(), "orders")
	assert.Equal(t, int64(2), prober.calls.Load())
}

func TestRegistry_CheckHealth_ProbeRateLimited(t *testing.T) {
	t.Parallel()

	prober := &countingProber{}
	r := New(
		WithProber(prober),
		WithHealthCacheTTL(time.Millisecond),
		WithProbeRateLimit(1000),
	)
	r.Register("orders", "10.0.0.1", 9000)

	rec := r.CheckHealth(context.Background(), "orders")
	assert.Equal(t, StatusHealthy, rec.Status)
}

func TestRegistry_CheckHealth_CanceledContext(t *testing.T) {
	t.Parallel()

	prober := &countingProber{delay: time.Second}
	r := New(WithProber(prober))
	r.Register("orders", "10.0.0.1", 9000)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	rec := r.CheckHealth(ctx, "orders")
	assert.Equal(t, StatusUnhealthy, rec.Status)
	assert.NotEmpty(t, rec.Err)
}

func TestProberFunc(t *testing.T) {
	t.Parallel()

	called := false
	p := ProberFunc(func(ctx context.Context, ep Endpoint) error {
		called = true
		return nil
	})

	require.NoError(t, p.Probe(context.Background(), Endpoint{}))
	assert.True(t, called)
}
