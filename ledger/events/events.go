// Copyright (C) 2025 Ledgerhouse, Inc.
// See LICENSE for copying information.

// Package events is the append-only business event log and its single
// write entry point, the Emitter. Events are immutable: the store
// exposes no update or delete operations, and nothing else in the
// system may touch the underlying tables.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
)

var (
	// Error is the events error class.
	Error = errs.Class("events")
	// ErrNotFound is returned for missing events.
	ErrNotFound = errs.Class("event not found")
	// ErrValidation is returned when a payload fails schema validation.
	ErrValidation = errs.Class("event validation")

	mon = monkit.Package()
)

// Origin records who initiated an event. It is mandatory at emission
// time; the engine never infers it from the event type.
type Origin string

const (
	// OriginHuman marks events from interactive users.
	OriginHuman Origin = "HUMAN"
	// OriginBatch marks events from bulk ingestion.
	OriginBatch Origin = "BATCH"
	// OriginAPI marks events from machine API callers.
	OriginAPI Origin = "API"
	// OriginSystem marks engine-initiated events.
	OriginSystem Origin = "SYSTEM"
)

// Storage is the payload storage strategy of an event.
type Storage string

const (
	// StorageInline keeps the payload on the event row.
	StorageInline Storage = "INLINE"
	// StorageExternal stores the payload as a content-addressed blob.
	StorageExternal Storage = "EXTERNAL"
	// StorageChunked marks the header of a chunked emission.
	StorageChunked Storage = "CHUNKED"
)

// Event is one immutable business event.
type Event struct {
	ID            uuid.UUID
	TenantID      int64
	Type          string
	AggregateType string
	AggregateID   string

	// AggregateSeq is 1-based and contiguous per
	// (tenant, aggregate type, aggregate id).
	AggregateSeq int64
	// StreamSeq is 1-based and contiguous per tenant; it is the
	// authoritative read cursor.
	StreamSeq int64

	IdempotencyKey string

	Storage     Storage
	PayloadHash string
	PayloadRef  *int64
	Data        map[string]interface{}

	Origin          Origin
	CausedByUserID  *int64
	CausedByEventID *uuid.UUID

	OccurredAt time.Time
	RecordedAt time.Time

	SchemaVersion int
	Metadata      map[string]interface{}
}

// Draft is what a producer hands to the store. The store assigns id,
// sequences, and recorded-at.
type Draft struct {
	Type          string
	AggregateType string
	AggregateID   string

	IdempotencyKey string

	Storage     Storage
	PayloadHash string
	PayloadRef  *int64
	Data        map[string]interface{}

	Origin          Origin
	CausedByUserID  *int64
	CausedByEventID *uuid.UUID

	OccurredAt time.Time
	Metadata   map[string]interface{}

	SchemaVersion int
}

// DB is the tenant-owned event store. Implementations must provide the
// append algorithm of the engine: idempotency short-circuit, stream
// counter row lock, aggregate sequence computation, and bounded retry
// on aggregate-sequence races.
//
// There is deliberately no update or delete. Events are append-only.
type DB interface {
	// Append persists the draft. When the idempotency key already
	// exists for the tenant the stored event is returned with
	// created=false and no new sequence is burned.
	Append(ctx context.Context, tenantID int64, draft *Draft) (event *Event, created bool, err error)

	Get(ctx context.Context, tenantID int64, id uuid.UUID) (*Event, error)
	GetByIdempotencyKey(ctx context.Context, tenantID int64, key string) (*Event, error)

	// ListByAggregate returns the aggregate's slice ordered by
	// aggregate sequence.
	ListByAggregate(ctx context.Context, tenantID int64, aggregateType, aggregateID string) ([]*Event, error)

	// ListAfter returns up to limit events with stream sequence greater
	// than afterSeq, ordered by stream sequence. An empty types filter
	// matches everything.
	ListAfter(ctx context.Context, tenantID int64, afterSeq int64, types []string, limit int) ([]*Event, error)

	MaxStreamSeq(ctx context.Context, tenantID int64) (int64, error)
	Count(ctx context.Context, tenantID int64) (int64, error)

	// CountCausedBy counts events of the given type whose causation
	// parent is causedBy. The integrity verifier uses it to cross-check
	// chunk completeness.
	CountCausedBy(ctx context.Context, tenantID int64, causedBy uuid.UUID, eventType string) (int64, error)

	// Import inserts a fully-formed event preserving its id and
	// sequences. Only legal under the migration write context.
	Import(ctx context.Context, tenantID int64, event *Event) error

	// EnsureStreamCounter creates the tenant's stream counter row and
	// SetStreamCounter fast-forwards it after an import.
	EnsureStreamCounter(ctx context.Context, tenantID int64) error
	SetStreamCounter(ctx context.Context, tenantID int64, value int64) error
}
