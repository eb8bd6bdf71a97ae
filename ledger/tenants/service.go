// Copyright (C) 2025 Ledgerhouse, Inc.
// See LICENSE for copying information.

package tenants

import (
	"context"
	"strconv"

	"go.uber.org/zap"
)

// Service resolves tenants to database handles on the request edge and
// checks directory consistency at startup.
//
// architecture: Service
type Service struct {
	log     *zap.Logger
	db      DB
	handles map[string]bool // configured handle names, including the default
}

// NewService creates a tenant directory service. handles lists every
// configured database handle name.
func NewService(log *zap.Logger, db DB, handles []string) *Service {
	known := make(map[string]bool, len(handles)+1)
	known[DefaultHandle] = true
	for _, name := range handles {
		known[name] = true
	}
	return &Service{log: log, db: db, handles: known}
}

// Resolve looks up the tenant and returns the context to bind for the
// request. Mutations against a migrating or read-only tenant are
// refused here, before any side effect.
func (service *Service) Resolve(ctx context.Context, tenantID int64, mutation bool) (_ *Context, err error) {
	defer mon.Task()(&ctx)(&err)

	entry, err := service.db.Directory().Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	switch entry.Status {
	case StatusSuspended:
		return nil, Error.New("tenant %d is suspended", tenantID)
	case StatusMigrating:
		if mutation {
			return nil, ErrReadOnly.New("tenant %d is migrating", tenantID)
		}
	case StatusReadOnly:
		if mutation {
			return nil, ErrReadOnly.New("tenant %d is read-only", tenantID)
		}
	}

	handle := DefaultHandle
	if entry.Mode == Dedicated {
		handle = entry.Handle
	}
	if !service.handles[handle] {
		return nil, Error.New("tenant %d references unconfigured handle %q", tenantID, handle)
	}

	return &Context{
		TenantID: tenantID,
		Handle:   handle,
		Shared:   entry.Mode == Shared,
	}, nil
}

// Lookup finds a company by reference: a numeric id or a slug. CLI
// surfaces accept either form.
func (service *Service) Lookup(ctx context.Context, ref string) (_ *Company, err error) {
	defer mon.Task()(&ctx)(&err)

	if id, parseErr := strconv.ParseInt(ref, 10, 64); parseErr == nil {
		return service.db.Companies().Get(ctx, id)
	}
	return service.db.Companies().GetBySlug(ctx, ref)
}

// ResolveBySlug resolves through the company slug.
func (service *Service) ResolveBySlug(ctx context.Context, slug string, mutation bool) (_ *Company, _ *Context, err error) {
	defer mon.Task()(&ctx)(&err)

	company, err := service.db.Companies().GetBySlug(ctx, slug)
	if err != nil {
		return nil, nil, err
	}
	tc, err := service.Resolve(ctx, company.ID, mutation)
	if err != nil {
		return nil, nil, err
	}
	return company, tc, nil
}

// HealthCheckMode controls startup consistency check behaviour.
type HealthCheckMode string

const (
	// HealthCheckError fails startup on an inconsistent directory.
	HealthCheckError HealthCheckMode = "error"
	// HealthCheckWarn logs and continues.
	HealthCheckWarn HealthCheckMode = "warn"
	// HealthCheckSkip does nothing.
	HealthCheckSkip HealthCheckMode = "skip"
)

// CheckConsistency verifies every directory entry honors the
// mode/handle invariant and references a configured handle. Returns the
// number of inconsistent entries; whether that is fatal depends on mode.
func (service *Service) CheckConsistency(ctx context.Context, mode HealthCheckMode) (faults int, err error) {
	defer mon.Task()(&ctx)(&err)

	if mode == HealthCheckSkip {
		return 0, nil
	}

	entries, err := service.db.Directory().List(ctx)
	if err != nil {
		return 0, err
	}
	for _, entry := range entries {
		switch {
		case entry.Mode == Shared && entry.Handle != DefaultHandle:
			faults++
			service.log.Warn("shared tenant bound to non-default handle",
				zap.Int64("tenant", entry.TenantID), zap.String("handle", entry.Handle))
		case entry.Mode == Dedicated && !service.handles[entry.Handle]:
			faults++
			service.log.Warn("dedicated tenant references unconfigured handle",
				zap.Int64("tenant", entry.TenantID), zap.String("handle", entry.Handle))
		}
	}

	if faults > 0 && mode == HealthCheckError {
		return faults, Error.New("tenant directory inconsistent: %d faulty entries", faults)
	}
	return faults, nil
}
