package registry

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Status is the health status of a service.
type Status int32

const (
	// StatusUnknown indicates the service has not been assessed.
	StatusUnknown Status = iota
	// StatusHealthy indicates the service can serve traffic.
	StatusHealthy
	// StatusUnhealthy indicates the service failed its last probe.
	StatusUnhealthy
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// MarshalJSON renders the status as its string form.
func (s Status) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// HealthRecord is a cached health assessment of a service.
type HealthRecord struct {
	Status       Status        `json:"status"`
	ResponseTime time.Duration `json:"responseTime"`
	LastCheck    time.Time     `json:"lastCheck"`
	Err          string        `json:"error,omitempty"`
}

// Healthy reports whether the record indicates a serving service.
func (h HealthRecord) Healthy() bool {
	return h.Status == StatusHealthy
}

// Prober assesses whether a service endpoint can serve traffic. A nil error
// means healthy. Implementations must honor ctx and return rather than hang;
// they must never panic.
type Prober interface {
	Probe(ctx context.Context, ep Endpoint) error
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context, ep Endpoint) error

// Probe implements Prober.
func (f ProberFunc) Probe(ctx context.Context, ep Endpoint) error {
	return f(ctx, ep)
}

// DefaultProbeTimeout bounds a single HTTP probe.
const DefaultProbeTimeout = 5 * time.Second

// HTTPProber probes services with an HTTP GET on a health path. Any
// transport error, timeout, or non-2xx response is a failure.
type HTTPProber struct {
	client *http.Client
	path   string
}

// HTTPProberOption is a functional option for configuring the HTTP prober.
type HTTPProberOption func(*HTTPProber)

// WithProbeTimeout sets the probe timeout.
func WithProbeTimeout(timeout time.Duration) HTTPProberOption {
	return func(p *HTTPProber) {
		p.client.Timeout = timeout
	}
}

// WithProbePath sets the health path requested on each endpoint.
func WithProbePath(path string) HTTPProberOption {
	return func(p *HTTPProber) {
		p.path = path
	}
}

// WithProbeClient sets the HTTP client used for probes.
func WithProbeClient(client *http.Client) HTTPProberOption {
	return func(p *HTTPProber) {
		p.client = client
	}
}

// NewHTTPProber creates an HTTP prober with the default timeout and path.
func NewHTTPProber(opts ...HTTPProberOption) *HTTPProber {
	p := &HTTPProber{
		client: &http.Client{Timeout: DefaultProbeTimeout},
		path:   "/health",
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Probe implements Prober.
func (p *HTTPProber) Probe(ctx context.Context, ep Endpoint) error {
	url := "http://" + ep.Addr() + p.path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	return nil
}
