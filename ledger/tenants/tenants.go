// Copyright (C) 2025 Ledgerhouse, Inc.
// See LICENSE for copying information.

// Package tenants holds the tenant directory, the per-request tenant
// context, and the company aggregate root. The directory is the single
// source of truth for where a tenant's data lives.
package tenants

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
)

var (
	// Error is the tenants error class.
	Error = errs.Class("tenants")
	// ErrNotFound is returned when a company or directory entry does not exist.
	ErrNotFound = errs.Class("tenant not found")
	// ErrReadOnly is returned for mutations against a migrating tenant.
	// The request edge maps it to a retry-later response.
	ErrReadOnly = errs.Class("tenant temporarily read-only")
	// ErrNoContext is returned when a tenant-owned operation runs
	// without a bound tenant context.
	ErrNoContext = errs.Class("tenant context missing")

	mon = monkit.Package()
)

// DefaultHandle is the handle name every SHARED tenant binds to.
const DefaultHandle = "default"

// Mode is the isolation mode of a tenant.
type Mode string

const (
	// Shared tenants live in the default database behind a row filter.
	Shared Mode = "SHARED"
	// Dedicated tenants own a database handle outright.
	Dedicated Mode = "DEDICATED"
)

// Status is the operational status of a tenant.
type Status string

const (
	// StatusActive accepts reads and writes.
	StatusActive Status = "ACTIVE"
	// StatusMigrating refuses mutations while a move is in flight.
	StatusMigrating Status = "MIGRATING"
	// StatusReadOnly refuses mutations.
	StatusReadOnly Status = "READ_ONLY"
	// StatusSuspended refuses everything.
	StatusSuspended Status = "SUSPENDED"
)

// Company is the externally-facing aggregate root for a tenant.
// System-owned; created by registration and never destructively deleted.
type Company struct {
	ID                   int64
	PublicID             uuid.UUID
	Slug                 string
	Name                 string
	BaseCurrency         string
	FiscalYearStartMonth int
	Active               bool
	CreatedAt            time.Time
}

// DirectoryEntry routes a tenant to its database handle.
//
// Invariant: mode SHARED implies handle "default"; mode DEDICATED
// implies the handle is one of the configured pools.
type DirectoryEntry struct {
	TenantID int64
	Mode     Mode
	Handle   string
	Status   Status

	// migration checkpoints
	LastExportedSeq int64
	ExportHash      string
	ImportHash      string
	ImportCount     int64

	UpdatedAt time.Time
}

// MigrationRecord is the system-owned log of one attempted tenant move.
type MigrationRecord struct {
	ID           int64
	TenantID     int64
	SourceHandle string
	TargetHandle string
	Success      bool
	Failure      string
	EventCount   int64
	ExportHash   string
	ImportHash   string
	StartedAt    time.Time
	FinishedAt   time.Time
}

// Companies is the system-owned store of companies.
type Companies interface {
	Insert(ctx context.Context, company *Company) (*Company, error)
	Get(ctx context.Context, id int64) (*Company, error)
	GetBySlug(ctx context.Context, slug string) (*Company, error)
	List(ctx context.Context) ([]*Company, error)
}

// Directory is the system-owned store of directory entries.
type Directory interface {
	Insert(ctx context.Context, entry *DirectoryEntry) error
	Get(ctx context.Context, tenantID int64) (*DirectoryEntry, error)
	List(ctx context.Context) ([]*DirectoryEntry, error)
	// UpdateStatus transitions status only when the current status matches from.
	UpdateStatus(ctx context.Context, tenantID int64, from, to Status) error
	// Cutover atomically records the new mode, handle, and active status.
	Cutover(ctx context.Context, tenantID int64, mode Mode, handle string) error
	SetCheckpoints(ctx context.Context, tenantID int64, lastExportedSeq int64, exportHash, importHash string, importCount int64) error
}

// MigrationLog is the system-owned record of tenant migrations.
type MigrationLog interface {
	Insert(ctx context.Context, record *MigrationRecord) error
	ListByTenant(ctx context.Context, tenantID int64) ([]*MigrationRecord, error)
}

// DB aggregates the system-owned tenant stores. It only ever binds to
// the default handle.
type DB interface {
	Companies() Companies
	Directory() Directory
	MigrationLog() MigrationLog
}
