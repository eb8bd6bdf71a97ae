// Copyright (C) 2025 Ledgerhouse, Inc.
// See LICENSE for copying information.

// Package projections materializes read models from the event log.
// Each projection is a named consumer declaring the event types it
// handles; it advances a per-tenant bookmark and records every applied
// event in a ledger so replay is idempotent. Read-model tables are
// owned exclusively by their projection; the write barrier blocks
// everyone else.
package projections

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"

	"ledgerhouse.io/ledgerhouse/ledger/events"
	"ledgerhouse.io/ledgerhouse/ledger/payloads"
)

var (
	// Error is the projections error class.
	Error = errs.Class("projections")
	// ErrPaused is returned when processing a paused projection is forced.
	ErrPaused = errs.Class("projection paused")

	mon = monkit.Package()
)

// Bookmark is a projection's position in one tenant's stream.
type Bookmark struct {
	Projection string
	TenantID   int64

	// LastStreamSeq is 0 before the first applied event.
	LastStreamSeq int64
	LastEventID   *uuid.UUID

	LastProcessedAt *time.Time
	IsPaused        bool
	ErrorCount      int
	LastError       string
}

// Status is operational metadata per (tenant, projection). It is not
// projection-owned, so ops tooling may mutate it freely.
type Status struct {
	Projection     string
	TenantID       int64
	State          string // RUNNING, PAUSED, ERROR, REBUILDING
	ProcessedCount int64
	LastRebuildFor time.Duration
	LastError      string
	UpdatedAt      time.Time
}

// Projection is one named consumer of the event stream.
type Projection interface {
	Name() string
	// EventTypes lists the event types this projection consumes.
	EventTypes() []string
	// Handle applies one event to the read model. It runs inside the
	// projection write context and the per-event transaction.
	Handle(ctx context.Context, db DB, event *events.Event) error
	// Clear drops this projection's read-model rows for the tenant.
	// Called at the start of a rebuild.
	Clear(ctx context.Context, db DB, tenantID int64) error
}

// Handle is the database surface the engine needs for one tenant's
// handle. ledger.DB satisfies it.
type Handle interface {
	Events() events.DB
	Payloads() payloads.DB
	Projections() DB
}

// Bookmarks is the bookmark store. Implementations lock the bookmark
// row while a drain is in flight so two workers for the same
// (projection, tenant) are serialized.
type Bookmarks interface {
	// Acquire loads the bookmark, creating it when missing.
	Acquire(ctx context.Context, projection string, tenantID int64) (*Bookmark, error)
	Get(ctx context.Context, projection string, tenantID int64) (*Bookmark, error)
	Advance(ctx context.Context, projection string, tenantID int64, lastSeq int64, lastEventID uuid.UUID) error
	RecordError(ctx context.Context, projection string, tenantID int64, message string) error
	SetPaused(ctx context.Context, projection string, tenantID int64, paused bool) error
	// Reset returns the bookmark to the beginning of the stream.
	Reset(ctx context.Context, projection string, tenantID int64) error
}

// Applied is the applied-event ledger guaranteeing exactly-once
// handling per (tenant, projection, event).
type Applied interface {
	// TryInsert returns created=false when the event was already
	// applied by this projection.
	TryInsert(ctx context.Context, projection string, tenantID int64, eventID uuid.UUID) (created bool, err error)
	Clear(ctx context.Context, projection string, tenantID int64) error
	Count(ctx context.Context, projection string, tenantID int64) (int64, error)
}

// Statuses is the operational status store.
type Statuses interface {
	Upsert(ctx context.Context, status *Status) error
	Get(ctx context.Context, projection string, tenantID int64) (*Status, error)
}

// DB aggregates projection bookkeeping and every read-model store.
//
// WithTx runs fn against a transaction-bound copy of the whole surface;
// the engine uses it to make applied-ledger insert, handler writes, and
// bookmark advance atomic per event.
type DB interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx DB) error) error

	Bookmarks() Bookmarks
	Applied() Applied
	Statuses() Statuses

	Accounts() Accounts
	Journals() Journals
	Balances() Balances
	FiscalPeriods() FiscalPeriods
	Dimensions() Dimensions
	Crosswalks() Crosswalks
	Batches() Batches
}
