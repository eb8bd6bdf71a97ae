// Copyright (C) 2025 Ledgerhouse, Inc.
// See LICENSE for copying information.

package ledgerdb

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"ledgerhouse.io/ledgerhouse/ledger/events"
	"ledgerhouse.io/ledgerhouse/ledger/writebarrier"
	"ledgerhouse.io/ledgerhouse/private/dbutil"
)

// appendRetries bounds the aggregate-sequence race retry loop.
const appendRetries = 3

type eventsStore struct {
	db *DB
	q  queryer
}

type eventRow struct {
	ID             string         `db:"id"`
	TenantID       int64          `db:"tenant_id"`
	Type           string         `db:"type"`
	AggregateType  string         `db:"aggregate_type"`
	AggregateID    string         `db:"aggregate_id"`
	AggregateSeq   int64          `db:"aggregate_seq"`
	StreamSeq      int64          `db:"stream_seq"`
	IdempotencyKey string         `db:"idempotency_key"`
	Storage        string         `db:"storage"`
	PayloadHash    string         `db:"payload_hash"`
	PayloadRef     sql.NullInt64  `db:"payload_ref"`
	Data           sql.NullString `db:"data"`
	Origin         string         `db:"origin"`
	CausedByUserID sql.NullInt64  `db:"caused_by_user_id"`
	CausedByEvent  sql.NullString `db:"caused_by_event_id"`
	OccurredAt     time.Time      `db:"occurred_at"`
	RecordedAt     time.Time      `db:"recorded_at"`
	SchemaVersion  int            `db:"schema_version"`
	Metadata       sql.NullString `db:"metadata"`
}

const eventColumns = `id, tenant_id, type, aggregate_type, aggregate_id,
	aggregate_seq, stream_seq, idempotency_key, storage, payload_hash,
	payload_ref, data, origin, caused_by_user_id, caused_by_event_id,
	occurred_at, recorded_at, schema_version, metadata`

func (row *eventRow) toEvent() (*events.Event, error) {
	id, err := uuid.Parse(row.ID)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	data, err := decodeJSONMap(row.Data)
	if err != nil {
		return nil, err
	}
	metadata, err := decodeJSONMap(row.Metadata)
	if err != nil {
		return nil, err
	}

	event := &events.Event{
		ID:             id,
		TenantID:       row.TenantID,
		Type:           row.Type,
		AggregateType:  row.AggregateType,
		AggregateID:    row.AggregateID,
		AggregateSeq:   row.AggregateSeq,
		StreamSeq:      row.StreamSeq,
		IdempotencyKey: row.IdempotencyKey,
		Storage:        events.Storage(row.Storage),
		PayloadHash:    row.PayloadHash,
		Data:           data,
		Origin:         events.Origin(row.Origin),
		OccurredAt:     row.OccurredAt.UTC(),
		RecordedAt:     row.RecordedAt.UTC(),
		SchemaVersion:  row.SchemaVersion,
		Metadata:       metadata,
	}
	if row.PayloadRef.Valid {
		ref := row.PayloadRef.Int64
		event.PayloadRef = &ref
	}
	if row.CausedByUserID.Valid {
		userID := row.CausedByUserID.Int64
		event.CausedByUserID = &userID
	}
	if row.CausedByEvent.Valid && row.CausedByEvent.String != "" {
		caused, err := uuid.Parse(row.CausedByEvent.String)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		event.CausedByEventID = &caused
	}
	return event, nil
}

// Append implements events.DB. Idempotency keys short-circuit before a
// sequence is burned; the stream counter row is locked for the length
// of the insert; aggregate sequence races retry bounded times.
func (store *eventsStore) Append(ctx context.Context, tenantID int64, draft *events.Draft) (_ *events.Event, created bool, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := writebarrier.Require(ctx,
		writebarrier.Command, writebarrier.Bootstrap, writebarrier.Migration,
	); err != nil {
		return nil, false, err
	}

	if existing, err := store.GetByIdempotencyKey(ctx, tenantID, draft.IdempotencyKey); err == nil && existing != nil {
		return existing, false, nil
	} else if err != nil && !events.ErrNotFound.Has(err) {
		return nil, false, err
	}

	var inserted *events.Event
	for attempt := 0; attempt < appendRetries; attempt++ {
		err = store.db.withTx(ctx, func(tx *sqlx.Tx) error {
			event, err := store.insertOnce(ctx, tx, tenantID, draft)
			if err != nil {
				return err
			}
			inserted = event
			return nil
		})
		if err == nil {
			return inserted, true, nil
		}
		if !store.db.isUniqueViolation(err) {
			return nil, false, err
		}
		// a racer may have landed our idempotency key
		if existing, getErr := store.GetByIdempotencyKey(ctx, tenantID, draft.IdempotencyKey); getErr == nil && existing != nil {
			return existing, false, nil
		}
		// otherwise an aggregate or stream sequence race; retry
	}
	return nil, false, Error.New("append lost %d sequence races for %s/%s",
		appendRetries, draft.AggregateType, draft.AggregateID)
}

func (store *eventsStore) insertOnce(ctx context.Context, tx *sqlx.Tx, tenantID int64, draft *events.Draft) (*events.Event, error) {
	streamSeq, err := store.nextStreamSeq(ctx, tx, tenantID)
	if err != nil {
		return nil, err
	}

	var aggregateSeq int64
	err = tx.GetContext(ctx, &aggregateSeq, tx.Rebind(
		`SELECT COALESCE(MAX(aggregate_seq), 0) + 1 FROM business_events
		 WHERE tenant_id = ? AND aggregate_type = ? AND aggregate_id = ?`),
		tenantID, draft.AggregateType, draft.AggregateID,
	)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	data, err := encodeJSON(mapOrNil(draft.Data))
	if err != nil {
		return nil, err
	}
	metadata, err := encodeJSON(mapOrNil(draft.Metadata))
	if err != nil {
		return nil, err
	}

	event := &events.Event{
		ID:              uuid.New(),
		TenantID:        tenantID,
		Type:            draft.Type,
		AggregateType:   draft.AggregateType,
		AggregateID:     draft.AggregateID,
		AggregateSeq:    aggregateSeq,
		StreamSeq:       streamSeq,
		IdempotencyKey:  draft.IdempotencyKey,
		Storage:         draft.Storage,
		PayloadHash:     draft.PayloadHash,
		PayloadRef:      draft.PayloadRef,
		Data:            draft.Data,
		Origin:          draft.Origin,
		CausedByUserID:  draft.CausedByUserID,
		CausedByEventID: draft.CausedByEventID,
		OccurredAt:      draft.OccurredAt.UTC(),
		RecordedAt:      time.Now().UTC(),
		SchemaVersion:   draft.SchemaVersion,
		Metadata:        draft.Metadata,
	}

	var payloadRef sql.NullInt64
	if event.PayloadRef != nil {
		payloadRef = sql.NullInt64{Int64: *event.PayloadRef, Valid: true}
	}
	var causedByUser sql.NullInt64
	if event.CausedByUserID != nil {
		causedByUser = sql.NullInt64{Int64: *event.CausedByUserID, Valid: true}
	}
	var causedByEvent sql.NullString
	if event.CausedByEventID != nil {
		causedByEvent = sql.NullString{String: event.CausedByEventID.String(), Valid: true}
	}

	_, err = tx.ExecContext(ctx, tx.Rebind(
		`INSERT INTO business_events (`+eventColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		event.ID.String(), event.TenantID, event.Type, event.AggregateType,
		event.AggregateID, event.AggregateSeq, event.StreamSeq,
		event.IdempotencyKey, string(event.Storage), event.PayloadHash,
		payloadRef, data, string(event.Origin), causedByUser, causedByEvent,
		event.OccurredAt, event.RecordedAt, event.SchemaVersion, metadata,
	)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return event, nil
}

// nextStreamSeq locks the tenant's counter row and advances it. On
// sqlite the single connection serializes writers; on postgres the row
// lock does.
func (store *eventsStore) nextStreamSeq(ctx context.Context, tx *sqlx.Tx, tenantID int64) (int64, error) {
	query := `SELECT next_seq FROM tenant_stream_counters WHERE tenant_id = ?`
	if store.db.impl == dbutil.Postgres {
		query += ` FOR UPDATE`
	}

	var current int64
	err := tx.GetContext(ctx, &current, tx.Rebind(query), tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, Error.New("tenant %d has no stream counter; registration incomplete", tenantID)
	}
	if err != nil {
		return 0, Error.Wrap(err)
	}

	next := current + 1
	if _, err := tx.ExecContext(ctx, tx.Rebind(
		`UPDATE tenant_stream_counters SET next_seq = ? WHERE tenant_id = ?`),
		next, tenantID,
	); err != nil {
		return 0, Error.Wrap(err)
	}
	return next, nil
}

func (store *eventsStore) Get(ctx context.Context, tenantID int64, id uuid.UUID) (_ *events.Event, err error) {
	defer mon.Task()(&ctx)(&err)

	var row eventRow
	err = store.q.GetContext(ctx, &row, store.q.Rebind(
		`SELECT `+eventColumns+` FROM business_events WHERE tenant_id = ? AND id = ?`),
		tenantID, id.String(),
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, events.ErrNotFound.New("event %s", id)
	}
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return row.toEvent()
}

func (store *eventsStore) GetByIdempotencyKey(ctx context.Context, tenantID int64, key string) (_ *events.Event, err error) {
	defer mon.Task()(&ctx)(&err)

	var row eventRow
	err = store.q.GetContext(ctx, &row, store.q.Rebind(
		`SELECT `+eventColumns+` FROM business_events
		 WHERE tenant_id = ? AND idempotency_key = ?`),
		tenantID, key,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, events.ErrNotFound.New("idempotency key %q", key)
	}
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return row.toEvent()
}

func (store *eventsStore) ListByAggregate(ctx context.Context, tenantID int64, aggregateType, aggregateID string) (_ []*events.Event, err error) {
	defer mon.Task()(&ctx)(&err)

	var rows []eventRow
	err = store.q.SelectContext(ctx, &rows, store.q.Rebind(
		`SELECT `+eventColumns+` FROM business_events
		 WHERE tenant_id = ? AND aggregate_type = ? AND aggregate_id = ?
		 ORDER BY aggregate_seq`),
		tenantID, aggregateType, aggregateID,
	)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return toEvents(rows)
}

func (store *eventsStore) ListAfter(ctx context.Context, tenantID int64, afterSeq int64, types []string, limit int) (_ []*events.Event, err error) {
	defer mon.Task()(&ctx)(&err)

	query := `SELECT ` + eventColumns + ` FROM business_events
		WHERE tenant_id = ? AND stream_seq > ?`
	args := []interface{}{tenantID, afterSeq}

	if len(types) > 0 {
		in, inArgs, err := sqlx.In(` AND type IN (?)`, types)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		query += in
		args = append(args, inArgs...)
	}
	query += ` ORDER BY stream_seq LIMIT ?`
	args = append(args, limit)

	var rows []eventRow
	if err := store.q.SelectContext(ctx, &rows, store.q.Rebind(query), args...); err != nil {
		return nil, Error.Wrap(err)
	}
	return toEvents(rows)
}

func (store *eventsStore) MaxStreamSeq(ctx context.Context, tenantID int64) (_ int64, err error) {
	defer mon.Task()(&ctx)(&err)

	var max int64
	err = store.q.GetContext(ctx, &max, store.q.Rebind(
		`SELECT COALESCE(MAX(stream_seq), 0) FROM business_events WHERE tenant_id = ?`),
		tenantID,
	)
	return max, Error.Wrap(err)
}

func (store *eventsStore) Count(ctx context.Context, tenantID int64) (_ int64, err error) {
	defer mon.Task()(&ctx)(&err)

	var count int64
	err = store.q.GetContext(ctx, &count, store.q.Rebind(
		`SELECT COUNT(*) FROM business_events WHERE tenant_id = ?`),
		tenantID,
	)
	return count, Error.Wrap(err)
}

func (store *eventsStore) CountCausedBy(ctx context.Context, tenantID int64, causedBy uuid.UUID, eventType string) (_ int64, err error) {
	defer mon.Task()(&ctx)(&err)

	var count int64
	err = store.q.GetContext(ctx, &count, store.q.Rebind(
		`SELECT COUNT(*) FROM business_events
		 WHERE tenant_id = ? AND caused_by_event_id = ? AND type = ?`),
		tenantID, causedBy.String(), eventType,
	)
	return count, Error.Wrap(err)
}

// Import implements events.DB, writing a fully-formed event verbatim.
func (store *eventsStore) Import(ctx context.Context, tenantID int64, event *events.Event) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := writebarrier.Require(ctx, writebarrier.Migration); err != nil {
		return err
	}

	data, err := encodeJSON(mapOrNil(event.Data))
	if err != nil {
		return err
	}
	metadata, err := encodeJSON(mapOrNil(event.Metadata))
	if err != nil {
		return err
	}
	var payloadRef sql.NullInt64
	if event.PayloadRef != nil {
		payloadRef = sql.NullInt64{Int64: *event.PayloadRef, Valid: true}
	}
	var causedByUser sql.NullInt64
	if event.CausedByUserID != nil {
		causedByUser = sql.NullInt64{Int64: *event.CausedByUserID, Valid: true}
	}
	var causedByEvent sql.NullString
	if event.CausedByEventID != nil {
		causedByEvent = sql.NullString{String: event.CausedByEventID.String(), Valid: true}
	}

	_, err = store.q.ExecContext(ctx, store.q.Rebind(
		`INSERT INTO business_events (`+eventColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		event.ID.String(), tenantID, event.Type, event.AggregateType,
		event.AggregateID, event.AggregateSeq, event.StreamSeq,
		event.IdempotencyKey, string(event.Storage), event.PayloadHash,
		payloadRef, data, string(event.Origin), causedByUser, causedByEvent,
		event.OccurredAt, event.RecordedAt, event.SchemaVersion, metadata,
	)
	return Error.Wrap(err)
}

func (store *eventsStore) EnsureStreamCounter(ctx context.Context, tenantID int64) (err error) {
	defer mon.Task()(&ctx)(&err)

	query := `INSERT INTO tenant_stream_counters (tenant_id, next_seq) VALUES (?, 0)
		ON CONFLICT (tenant_id) DO NOTHING`
	_, err = store.q.ExecContext(ctx, store.q.Rebind(query), tenantID)
	return Error.Wrap(err)
}

func (store *eventsStore) SetStreamCounter(ctx context.Context, tenantID int64, value int64) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := writebarrier.Require(ctx, writebarrier.Migration); err != nil {
		return err
	}
	_, err = store.q.ExecContext(ctx, store.q.Rebind(
		`UPDATE tenant_stream_counters SET next_seq = ? WHERE tenant_id = ?`),
		value, tenantID,
	)
	return Error.Wrap(err)
}

func toEvents(rows []eventRow) ([]*events.Event, error) {
	out := make([]*events.Event, 0, len(rows))
	for i := range rows {
		event, err := rows[i].toEvent()
		if err != nil {
			return nil, err
		}
		out = append(out, event)
	}
	return out, nil
}

// mapOrNil keeps empty maps out of JSON columns.
func mapOrNil(m map[string]interface{}) interface{} {
	if m == nil {
		return nil
	}
	return m
}
