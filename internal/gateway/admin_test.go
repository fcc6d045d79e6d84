package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/avrouting/internal/observability"
)

// newTestAdmin builds an admin server over a core with the test topology.
func newTestAdmin(t *testing.T) (*AdminServer, *Core) {
	t.Helper()

	cfg := testConfig()
	core := newTestCore(cfg, &flakyProber{})
	return NewAdminServer(core, cfg, observability.NopLogger()), core
}

// doRequest runs one request through the gin engine.
func doRequest(s *AdminServer, method, path, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)
	return rec
}

func TestAdminServer_Healthz(t *testing.T) {
	t.Parallel()

	s, _ := newTestAdmin(t)

	rec := doRequest(s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}

func TestAdminServer_ListServices(t *testing.T) {
	t.Parallel()

	s, _ := newTestAdmin(t)

	rec := doRequest(s, http.MethodGet, "/services", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Services map[string]string `json:"services"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "orders.internal:9000", resp.Services["orders"])
}

func TestAdminServer_ServiceHealth(t *testing.T) {
	t.Parallel()

	s, _ := newTestAdmin(t)

	rec := doRequest(s, http.MethodGet, "/services/orders/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Service string `json:"service"`
		Health  struct {
			Status string `json:"status"`
		} `json:"health"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "orders", resp.Service)
	assert.Equal(t, "healthy", resp.Health.Status)
}

func TestAdminServer_ServiceHealth_Unknown(t *testing.T) {
	t.Parallel()

	s, _ := newTestAdmin(t)

	rec := doRequest(s, http.MethodGet, "/services/nosuch/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "not registered")
}

func TestAdminServer_Stats(t *testing.T) {
	t.Parallel()

	s, core := newTestAdmin(t)
	core.Balancer().RecordConnection("10.0.0.1:9000")

	rec := doRequest(s, http.MethodGet, "/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Services map[string]struct {
			InstanceCount int `json:"instanceCount"`
			Instances     []struct {
				Address     string `json:"address"`
				Connections int64  `json:"connections"`
			} `json:"instances"`
		} `json:"services"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	orders := resp.Services["orders"]
	assert.Equal(t, 2, orders.InstanceCount)
	assert.Equal(t, int64(1), orders.Instances[0].Connections)
}

func TestAdminServer_AddInstance(t *testing.T) {
	t.Parallel()

	s, core := newTestAdmin(t)

	rec := doRequest(s, http.MethodPost, "/services/orders/instances",
		`{"address":"10.0.0.3:9000","weight":4}`)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Contains(t, core.Balancer().Instances("orders"), "10.0.0.3:9000")
}

func TestAdminServer_AddInstance_BadRequest(t *testing.T) {
	t.Parallel()

	s, _ := newTestAdmin(t)

	rec := doRequest(s, http.MethodPost, "/services/orders/instances", `{"weight":4}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminServer_RemoveInstance(t *testing.T) {
	t.Parallel()

	s, core := newTestAdmin(t)

	rec := doRequest(s, http.MethodDelete,
		"/services/orders/instances?address=10.0.0.1:9000", "")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, []string{"10.0.0.2:9000"}, core.Balancer().Instances("orders"))
}

func TestAdminServer_RemoveInstance_MissingAddress(t *testing.T) {
	t.Parallel()

	s, _ := newTestAdmin(t)

	rec := doRequest(s, http.MethodDelete, "/services/orders/instances", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminServer_UpdateWeight(t *testing.T) {
	t.Parallel()

	s, core := newTestAdmin(t)

	rec := doRequest(s, http.MethodPut, "/services/orders/instances/weight",
		`{"address":"10.0.0.1:9000","weight":7}`)
	require.Equal(t, http.StatusOK, rec.Code)

	stats := core.Balancer().Stats()["orders"]
	assert.Equal(t, 7, stats.Instances[0].Weight)
}

func TestAdminServer_Metrics(t *testing.T) {
	t.Parallel()

	s, core := newTestAdmin(t)
	core.Balancer().Next("orders", core.Strategy("orders"))

	rec := doRequest(s, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "avrouting_balancer_selections_total")
}

func TestAdminServer_StartShutdown(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.AdminPort = 0 // ephemeral port; server exits immediately on shutdown
	core := newTestCore(cfg, &flakyProber{})
	s := NewAdminServer(core, cfg, observability.NopLogger())

	require.NoError(t, s.Start())
	require.NoError(t, s.Start())

	require.NoError(t, s.Shutdown(context.Background()))
	require.NoError(t, s.Shutdown(context.Background()))
}
