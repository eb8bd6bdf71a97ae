// Copyright (C) 2025 Ledgerhouse, Inc.
// See LICENSE for copying information.

package ledger

import (
	"context"

	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"ledgerhouse.io/ledgerhouse/ledger/tenants"
)

// Router directs every operation to the right database handle. System
// entities always live on the default handle; tenant entities follow
// the directory through the resolved tenant context.
//
// architecture: Service
type Router struct {
	log     *zap.Logger
	handles map[string]DB
	service *tenants.Service
}

// NewRouter creates a router over the opened handles. The default
// handle is mandatory; the tenant service is built on its directory.
func NewRouter(log *zap.Logger, handles map[string]DB) (*Router, error) {
	system, ok := handles[tenants.DefaultHandle]
	if !ok {
		return nil, Error.New("no %q handle configured", tenants.DefaultHandle)
	}

	names := make([]string, 0, len(handles))
	for name := range handles {
		names = append(names, name)
	}
	service := tenants.NewService(log.Named("tenants"), system.Tenants(), names)

	return &Router{log: log, handles: handles, service: service}, nil
}

// System returns the default handle, home of all system-owned tables.
func (router *Router) System() DB {
	return router.handles[tenants.DefaultHandle]
}

// Tenants returns the directory service.
func (router *Router) Tenants() *tenants.Service {
	return router.service
}

// Handle returns a configured handle by name.
func (router *Router) Handle(name string) (DB, error) {
	db, ok := router.handles[name]
	if !ok {
		return nil, Error.New("unknown handle %q", name)
	}
	return db, nil
}

// Names lists the configured handle names.
func (router *Router) Names() []string {
	names := make([]string, 0, len(router.handles))
	for name := range router.handles {
		names = append(names, name)
	}
	return names
}

// ForTenant returns the handle for the tenant bound to ctx.
func (router *Router) ForTenant(ctx context.Context) (DB, error) {
	tc, err := tenants.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	return router.Handle(tc.Handle)
}

// Resolve routes a request: it resolves the tenant through the
// directory, binds the tenant context, and returns the handle.
func (router *Router) Resolve(ctx context.Context, tenantID int64, mutation bool) (_ context.Context, _ DB, err error) {
	defer mon.Task()(&ctx)(&err)

	tc, err := router.service.Resolve(ctx, tenantID, mutation)
	if err != nil {
		return ctx, nil, err
	}
	db, err := router.Handle(tc.Handle)
	if err != nil {
		return ctx, nil, err
	}
	if tc.Shared {
		// row-filter policies on the shared handle key on the session's
		// tenant parameter
		if err := db.BindTenant(ctx, tc.TenantID); err != nil {
			return ctx, nil, err
		}
	}
	return tenants.WithContext(ctx, tc), db, nil
}

// Close closes every handle, combining failures.
func (router *Router) Close() error {
	var group errs.Group
	for name, db := range router.handles {
		if err := db.Close(); err != nil {
			group.Add(Error.New("closing %q: %v", name, err))
		}
	}
	return group.Err()
}
