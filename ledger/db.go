// Copyright (C) 2025 Ledgerhouse, Inc.
// See LICENSE for copying information.

// Package ledger ties the engine together: the master database
// interface every handle implements, the tenant-aware router, and the
// process configuration.
package ledger

import (
	"context"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"

	"ledgerhouse.io/ledgerhouse/ledger/commands"
	"ledgerhouse.io/ledgerhouse/ledger/events"
	"ledgerhouse.io/ledgerhouse/ledger/payloads"
	"ledgerhouse.io/ledgerhouse/ledger/projections"
	"ledgerhouse.io/ledgerhouse/ledger/tenants"
	"ledgerhouse.io/ledgerhouse/private/dbutil"
)

var (
	// Error is the ledger error class.
	Error = errs.Class("ledger")

	mon = monkit.Package()
)

// DB is one database handle with every store the engine needs. The
// default handle additionally serves the system-owned tenant stores;
// dedicated handles only ever see tenant-owned tables.
type DB interface {
	// Events is the append-only business event log.
	Events() events.DB
	// Payloads is the content-addressed blob store.
	Payloads() payloads.DB
	// Projections aggregates projection bookkeeping and read models.
	Projections() projections.DB
	// Tenants serves the system-owned directory. Calling it on a
	// non-default handle is a programmer error.
	Tenants() tenants.DB
	// Sequences allocates gapless per-tenant numbers.
	Sequences() commands.Sequences

	// BindTenant sets the session's row-filter parameter on shared
	// postgres handles; elsewhere it is a no-op.
	BindTenant(ctx context.Context, tenantID int64) error

	// MigrateToLatest brings the handle's schema up to date.
	MigrateToLatest(ctx context.Context) error
	// Implementation reports the backing database flavor.
	Implementation() dbutil.Implementation

	Close() error
}
