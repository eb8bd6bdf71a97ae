// Copyright (C) 2025 Ledgerhouse, Inc.
// See LICENSE for copying information.

package health_test

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"ledgerhouse.io/ledgerhouse/ledger/health"
)

type stubLags struct {
	lags []health.ProjectionLag
}

func (stub *stubLags) Lags(ctx context.Context) ([]health.ProjectionLag, error) {
	return stub.lags, nil
}

func startServer(ctx context.Context, t *testing.T, lags health.LagSource, checks ...health.Check) *health.Server {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	server := health.NewServer(zaptest.NewLogger(t), listener,
		health.Config{LagThreshold: 100}, health.NewMetrics(), lags, checks...)

	serveCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- server.Run(serveCtx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("health server did not shut down")
		}
	})
	return server
}

func get(t *testing.T, url string) (int, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer func() { require.NoError(t, resp.Body.Close()) }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, body
}

func TestLiveness(t *testing.T) {
	ctx := context.Background()
	server := startServer(ctx, t, nil)

	status, body := get(t, "http://"+server.Addr()+"/health/live")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "ok\n", string(body))
}

func TestReadinessReflectsChecks(t *testing.T) {
	ctx := context.Background()
	healthy := true
	server := startServer(ctx, t, nil,
		health.CheckFunc{CheckName: "default", Fn: func(context.Context) bool { return true }},
		health.CheckFunc{CheckName: "pool-1", Fn: func(context.Context) bool { return healthy }},
	)

	status, body := get(t, "http://"+server.Addr()+"/health/ready")
	require.Equal(t, http.StatusOK, status)

	var results map[string]bool
	require.NoError(t, json.Unmarshal(body, &results))
	require.True(t, results["default"])
	require.True(t, results["pool-1"])

	healthy = false
	status, body = get(t, "http://"+server.Addr()+"/health/ready")
	require.Equal(t, http.StatusServiceUnavailable, status)
	require.NoError(t, json.Unmarshal(body, &results))
	require.False(t, results["pool-1"])
}

func TestFullReportsLag(t *testing.T) {
	ctx := context.Background()
	lags := &stubLags{lags: []health.ProjectionLag{
		{Projection: "journal_entries", TenantID: 1, Lag: 3},
		{Projection: "account_balances", TenantID: 1, Lag: 0},
	}}
	server := startServer(ctx, t, lags)

	status, body := get(t, "http://"+server.Addr()+"/health/full")
	require.Equal(t, http.StatusOK, status)

	var full struct {
		Healthy bool                   `json:"healthy"`
		Lags    []health.ProjectionLag `json:"projection_lags"`
	}
	require.NoError(t, json.Unmarshal(body, &full))
	require.True(t, full.Healthy)
	require.Len(t, full.Lags, 2)

	// past the threshold the deep check goes unhealthy
	lags.lags[0].Lag = 500
	status, body = get(t, "http://"+server.Addr()+"/health/full")
	require.Equal(t, http.StatusServiceUnavailable, status)
	require.NoError(t, json.Unmarshal(body, &full))
	require.False(t, full.Healthy)

	// so does a paused projection, whatever its lag
	lags.lags[0].Lag = 0
	lags.lags[0].Paused = true
	status, _ = get(t, "http://"+server.Addr()+"/health/full")
	require.Equal(t, http.StatusServiceUnavailable, status)
}

func TestMetricsEndpoint(t *testing.T) {
	ctx := context.Background()
	lags := &stubLags{lags: []health.ProjectionLag{
		{Projection: "journal_entries", TenantID: 1, Lag: 7},
	}}
	server := startServer(ctx, t, lags)

	// scraping /health/full feeds the lag gauges
	status, _ := get(t, "http://"+server.Addr()+"/health/full")
	require.Equal(t, http.StatusOK, status)

	status, body := get(t, "http://"+server.Addr()+"/metrics")
	require.Equal(t, http.StatusOK, status)
	require.Contains(t, string(body), "ledgerhouse_projection_lag")
}
