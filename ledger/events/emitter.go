// Copyright (C) 2025 Ledgerhouse, Inc.
// See LICENSE for copying information.

package events

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"ledgerhouse.io/ledgerhouse/ledger/payloads"
	"ledgerhouse.io/ledgerhouse/ledger/tenants"
)

// Config contains the payload policy knobs.
type Config struct {
	// InlineThresholdBytes is the canonical-JSON size above which
	// payloads move to external storage.
	InlineThresholdBytes int64
	// MaxLinesPerChunk caps journal lines per chunk event.
	MaxLinesPerChunk int
	// DisableValidation skips payload schema validation. Tests only.
	DisableValidation bool
}

// DefaultConfig returns the reference payload policy.
func DefaultConfig() Config {
	return Config{
		InlineThresholdBytes: 32 * 1024,
		MaxLinesPerChunk:     500,
	}
}

// DetermineStrategy picks the storage strategy for a payload of the
// given canonical size.
func DetermineStrategy(sizeBytes int64, origin Origin, cfg Config) Storage {
	switch origin {
	case OriginHuman:
		if sizeBytes <= cfg.InlineThresholdBytes {
			return StorageInline
		}
		return StorageExternal
	case OriginBatch, OriginAPI:
		if sizeBytes > cfg.InlineThresholdBytes {
			return StorageExternal
		}
		return StorageInline
	default:
		if sizeBytes > cfg.InlineThresholdBytes {
			return StorageExternal
		}
		return StorageInline
	}
}

// EmitParams carries one emission request.
type EmitParams struct {
	Type          string
	AggregateType string
	AggregateID   string
	Data          map[string]interface{}

	// IdempotencyKey is mandatory: "{scope}:{stable hash of intent}".
	IdempotencyKey string

	// Origin is mandatory; it is never inferred.
	Origin Origin

	OccurredAt      time.Time // zero means now
	CausedByEventID *uuid.UUID
	ExternalSource  string
	ExternalID      string
	Metadata        map[string]interface{}
	SchemaVersion   int

	// forceStorage overrides strategy selection for chunked emission.
	forceStorage Storage
}

// Emitter is the single entry point for writing events. One emitter is
// bound to one database handle; the caller resolves the handle first.
type Emitter struct {
	log      *zap.Logger
	db       DB
	blobs    payloads.DB
	registry *Registry
	config   Config
}

// NewEmitter creates an emitter over the handle's event and blob stores.
func NewEmitter(log *zap.Logger, db DB, blobs payloads.DB, registry *Registry, config Config) *Emitter {
	if config.InlineThresholdBytes == 0 {
		config.InlineThresholdBytes = DefaultConfig().InlineThresholdBytes
	}
	if config.MaxLinesPerChunk == 0 {
		config.MaxLinesPerChunk = DefaultConfig().MaxLinesPerChunk
	}
	return &Emitter{log: log, db: db, blobs: blobs, registry: registry, config: config}
}

// MaxLinesPerChunk exposes the chunking threshold.
func (emitter *Emitter) MaxLinesPerChunk() int {
	return emitter.config.MaxLinesPerChunk
}

// Emit validates, chooses storage, and appends exactly one event.
// Retries with the same idempotency key return the original event.
func (emitter *Emitter) Emit(ctx context.Context, params EmitParams) (_ *Event, err error) {
	defer mon.Task()(&ctx)(&err)

	tc, err := tenants.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	event, _, err := emitter.emit(ctx, tc, params)
	return event, err
}

// EmitAsSystem emits on behalf of a tenant with no acting user. The
// given tenant context is bound around the write because routing and
// row filtering depend on it.
func (emitter *Emitter) EmitAsSystem(ctx context.Context, tc *tenants.Context, params EmitParams) (_ *Event, err error) {
	defer mon.Task()(&ctx)(&err)

	if params.Origin == "" {
		params.Origin = OriginSystem
	}
	ctx = tenants.WithContext(ctx, tc)
	event, _, err := emitter.emit(ctx, tc, params)
	return event, err
}

func (emitter *Emitter) emit(ctx context.Context, tc *tenants.Context, params EmitParams) (_ *Event, created bool, err error) {
	if params.Type == "" {
		return nil, false, ErrValidation.New("event type is required")
	}
	if params.IdempotencyKey == "" {
		return nil, false, ErrValidation.New("idempotency key is required")
	}
	if params.Origin == "" {
		return nil, false, ErrValidation.New("origin is required")
	}
	if params.AggregateType == "" || params.AggregateID == "" {
		return nil, false, ErrValidation.New("aggregate identity is required")
	}

	schema, known := emitter.registry.Lookup(params.Type)
	if !known {
		return nil, false, ErrValidation.New("unregistered event type %q", params.Type)
	}
	if !emitter.config.DisableValidation {
		if err := schema.Validate(params.Data); err != nil {
			return nil, false, err
		}
	}

	hash, size, err := payloads.Hash(params.Data)
	if err != nil {
		return nil, false, err
	}

	storage := params.forceStorage
	if storage == "" {
		storage = DetermineStrategy(size, params.Origin, emitter.config)
	}

	occurredAt := params.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	schemaVersion := params.SchemaVersion
	if schemaVersion == 0 {
		schemaVersion = 1
	}

	metadata := params.Metadata
	if params.ExternalSource != "" || params.ExternalID != "" {
		metadata = cloneMap(metadata)
		if params.ExternalSource != "" {
			metadata["external_source"] = params.ExternalSource
		}
		if params.ExternalID != "" {
			metadata["external_id"] = params.ExternalID
		}
	}

	draft := &Draft{
		Type:            params.Type,
		AggregateType:   params.AggregateType,
		AggregateID:     params.AggregateID,
		IdempotencyKey:  params.IdempotencyKey,
		Storage:         storage,
		PayloadHash:     hash,
		Origin:          params.Origin,
		CausedByEventID: params.CausedByEventID,
		OccurredAt:      occurredAt,
		Metadata:        metadata,
		SchemaVersion:   schemaVersion,
	}
	if tc.UserID != 0 {
		userID := tc.UserID
		draft.CausedByUserID = &userID
	}

	if storage == StorageExternal {
		blob, err := emitter.blobs.Store(ctx, tc.TenantID, params.Data)
		if err != nil {
			return nil, false, err
		}
		draft.PayloadRef = &blob.ID
	} else {
		draft.Data = params.Data
	}

	event, created, err := emitter.db.Append(ctx, tc.TenantID, draft)
	if err != nil {
		return nil, false, err
	}
	if !created {
		emitter.log.Debug("idempotent emit returned existing event",
			zap.String("type", params.Type),
			zap.String("idempotency_key", params.IdempotencyKey),
			zap.Int64("tenant", tc.TenantID),
		)
	}
	return event, created, nil
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m)+2)
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ChunkedJournalParams describes a journal too large to emit as one
// event. The emitter splits it into header + chunk + trailer events
// linked by causation, all on the journal_entry aggregate.
type ChunkedJournalParams struct {
	PublicID    string
	Date        string
	Currency    string
	Kind        string
	Memo        string
	Lines       []map[string]interface{}
	FinalStatus string
	Origin      Origin

	// IdempotencyScope prefixes the per-event keys, so a retried batch
	// reproduces the identical key sequence.
	IdempotencyScope string
	Metadata         map[string]interface{}
}

// ChunkedJournalResult lists the emitted events in stream order.
type ChunkedJournalResult struct {
	Created   *Event
	Chunks    []*Event
	Finalized *Event
}

// EmitChunkedJournal performs the three-phase chunked emission.
func (emitter *Emitter) EmitChunkedJournal(ctx context.Context, params ChunkedJournalParams) (_ *ChunkedJournalResult, err error) {
	defer mon.Task()(&ctx)(&err)

	if len(params.Lines) == 0 {
		return nil, ErrValidation.New("chunked journal requires lines")
	}
	if params.IdempotencyScope == "" {
		return nil, ErrValidation.New("idempotency scope is required")
	}
	if params.FinalStatus == "" {
		params.FinalStatus = "DRAFT"
	}

	chunkSize := emitter.config.MaxLinesPerChunk
	totalChunks := (len(params.Lines) + chunkSize - 1) / chunkSize

	header := map[string]interface{}{
		"public_id": params.PublicID,
		"date":      params.Date,
		"currency":  params.Currency,
		"kind":      params.Kind,
	}
	if params.Memo != "" {
		header["memo"] = params.Memo
	}

	created, err := emitter.Emit(ctx, EmitParams{
		Type:           TypeJournalCreated,
		AggregateType:  AggregateJournalEntry,
		AggregateID:    params.PublicID,
		Data:           header,
		IdempotencyKey: params.IdempotencyScope + ":header",
		Origin:         params.Origin,
		Metadata:       params.Metadata,
		forceStorage:   StorageChunked,
	})
	if err != nil {
		return nil, err
	}

	result := &ChunkedJournalResult{Created: created}
	causedBy := created.ID

	totalDebit := decimal.Zero
	totalCredit := decimal.Zero

	for index := 0; index < totalChunks; index++ {
		start := index * chunkSize
		end := start + chunkSize
		if end > len(params.Lines) {
			end = len(params.Lines)
		}
		chunkLines := params.Lines[start:end]

		for _, line := range chunkLines {
			debit, credit, err := lineAmounts(line)
			if err != nil {
				return nil, err
			}
			totalDebit = totalDebit.Add(debit)
			totalCredit = totalCredit.Add(credit)
		}

		chunk, err := emitter.Emit(ctx, EmitParams{
			Type:          TypeJournalLinesChunkAdded,
			AggregateType: AggregateJournalEntry,
			AggregateID:   params.PublicID,
			Data: map[string]interface{}{
				"public_id":    params.PublicID,
				"chunk_index":  index,
				"total_chunks": totalChunks,
				"lines":        chunkLines,
			},
			IdempotencyKey:  params.IdempotencyScope + ":chunk:" + strconv.Itoa(index),
			Origin:          params.Origin,
			CausedByEventID: &causedBy,
			Metadata:        params.Metadata,
			forceStorage:    StorageInline,
		})
		if err != nil {
			return nil, err
		}
		result.Chunks = append(result.Chunks, chunk)
	}

	finalized, err := emitter.Emit(ctx, EmitParams{
		Type:          TypeJournalFinalized,
		AggregateType: AggregateJournalEntry,
		AggregateID:   params.PublicID,
		Data: map[string]interface{}{
			"public_id":    params.PublicID,
			"total_debit":  totalDebit.String(),
			"total_credit": totalCredit.String(),
			"line_count":   len(params.Lines),
			"chunk_count":  totalChunks,
			"final_status": params.FinalStatus,
		},
		IdempotencyKey:  params.IdempotencyScope + ":finalized",
		Origin:          params.Origin,
		CausedByEventID: &causedBy,
		Metadata:        params.Metadata,
	})
	if err != nil {
		return nil, err
	}
	result.Finalized = finalized
	return result, nil
}

func lineAmounts(line map[string]interface{}) (debit, credit decimal.Decimal, err error) {
	debitStr, _ := line["debit"].(string)
	creditStr, _ := line["credit"].(string)
	debit, err = decimal.NewFromString(orZero(debitStr))
	if err != nil {
		return debit, credit, ErrValidation.New("invalid debit %q", debitStr)
	}
	credit, err = decimal.NewFromString(orZero(creditStr))
	if err != nil {
		return debit, credit, ErrValidation.New("invalid credit %q", creditStr)
	}
	return debit, credit, nil
}

func orZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}
