// Copyright (C) 2025 Ledgerhouse, Inc.
// See LICENSE for copying information.

// Package health serves liveness, readiness, and deep health endpoints
// plus prometheus metrics for one engine process.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	// Error is the health error class.
	Error = errs.Class("health")

	mon = monkit.Package()
)

// Check is one named readiness probe.
type Check interface {
	Name() string
	// Healthy returns true when the checked component can serve.
	Healthy(ctx context.Context) bool
}

// CheckFunc adapts a function into a Check.
type CheckFunc struct {
	CheckName string
	Fn        func(ctx context.Context) bool
}

// Name implements Check.
func (check CheckFunc) Name() string { return check.CheckName }

// Healthy implements Check.
func (check CheckFunc) Healthy(ctx context.Context) bool { return check.Fn(ctx) }

// ProjectionLag is one (projection, tenant) pair's distance behind the
// head of the stream.
type ProjectionLag struct {
	Projection string `json:"projection"`
	TenantID   int64  `json:"tenant_id"`
	Lag        int64  `json:"lag"`
	Paused     bool   `json:"paused"`
	ErrorCount int    `json:"error_count"`
}

// LagSource reports projection lag over every tenant the process serves.
type LagSource interface {
	Lags(ctx context.Context) ([]ProjectionLag, error)
}

// Config configures the health server.
type Config struct {
	Address string
	// LagThreshold is the projection lag at which the deep check
	// reports unhealthy.
	LagThreshold int64
}

// Server serves /health/live, /health/ready, /health/full, and
// /metrics.
type Server struct {
	log     *zap.Logger
	config  Config
	checks  []Check
	lags    LagSource
	metrics *Metrics

	listener net.Listener
	server   http.Server
}

// NewServer creates a health server on the listener. lags may be nil
// when the process runs no projections.
func NewServer(log *zap.Logger, listener net.Listener, config Config, metrics *Metrics, lags LagSource, checks ...Check) *Server {
	srv := &Server{
		log:      log,
		config:   config,
		checks:   checks,
		lags:     lags,
		metrics:  metrics,
		listener: listener,
	}

	router := mux.NewRouter()
	router.HandleFunc("/health/live", srv.handleLive)
	router.HandleFunc("/health/ready", srv.handleReady)
	router.HandleFunc("/health/full", srv.handleFull)
	if metrics != nil {
		router.Handle("/metrics", metrics.Handler())
	}

	srv.server = http.Server{Handler: router}
	return srv
}

func (srv *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func (srv *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var err error
	defer mon.Task()(&ctx)(&err)

	results := make(map[string]bool, len(srv.checks))
	healthy := true
	for _, check := range srv.checks {
		ok := check.Healthy(ctx)
		results[check.Name()] = ok
		healthy = healthy && ok
	}

	if healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err = json.NewEncoder(w).Encode(results); err != nil {
		srv.log.Error("failed to encode readiness response", zap.Error(err))
	}
}

type fullStatus struct {
	Healthy bool            `json:"healthy"`
	Checks  map[string]bool `json:"checks"`
	Lags    []ProjectionLag `json:"projection_lags,omitempty"`
	Problem string          `json:"problem,omitempty"`
}

func (srv *Server) handleFull(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var err error
	defer mon.Task()(&ctx)(&err)

	status := fullStatus{
		Healthy: true,
		Checks:  make(map[string]bool, len(srv.checks)),
	}
	for _, check := range srv.checks {
		ok := check.Healthy(ctx)
		status.Checks[check.Name()] = ok
		status.Healthy = status.Healthy && ok
	}

	if srv.lags != nil {
		var lags []ProjectionLag
		lags, err = srv.lags.Lags(ctx)
		if err != nil {
			status.Healthy = false
			status.Problem = err.Error()
		}
		status.Lags = lags
		for _, lag := range lags {
			if srv.metrics != nil {
				srv.metrics.ObserveLag(lag)
			}
			if srv.config.LagThreshold > 0 && lag.Lag > srv.config.LagThreshold {
				status.Healthy = false
			}
			if lag.Paused {
				status.Healthy = false
			}
		}
	}

	if status.Healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if encodeErr := json.NewEncoder(w).Encode(status); encodeErr != nil {
		err = errs.Combine(err, encodeErr)
		srv.log.Error("failed to encode health response", zap.Error(encodeErr))
	}
}

// Run serves until the context is canceled.
func (srv *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	var group errgroup.Group
	group.Go(func() error {
		<-ctx.Done()
		return srv.server.Shutdown(context.Background())
	})
	group.Go(func() error {
		defer cancel()
		err := srv.server.Serve(srv.listener)
		if errors.Is(err, http.ErrServerClosed) || errors.Is(err, context.Canceled) {
			err = nil
		}
		return Error.Wrap(err)
	})
	return group.Wait()
}

// Close stops the server immediately.
func (srv *Server) Close() error {
	return Error.Wrap(srv.server.Close())
}

// Addr returns the bound address, useful when listening on port 0.
func (srv *Server) Addr() string {
	return srv.listener.Addr().String()
}
