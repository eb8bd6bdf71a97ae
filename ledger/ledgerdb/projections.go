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

	"ledgerhouse.io/ledgerhouse/ledger/projections"
	"ledgerhouse.io/ledgerhouse/ledger/writebarrier"
)

// projectionsDB implements projections.DB. A transaction-bound copy is
// produced by WithTx; every store then shares the transaction.
type projectionsDB struct {
	db *DB
	q  queryer
}

func (p *projectionsDB) WithTx(ctx context.Context, fn func(ctx context.Context, tx projections.DB) error) error {
	if _, inTx := p.q.(*sqlx.Tx); inTx {
		// nested WithTx joins the existing transaction
		return fn(ctx, p)
	}
	return p.db.withTx(ctx, func(tx *sqlx.Tx) error {
		return fn(ctx, &projectionsDB{db: p.db, q: tx})
	})
}

func (p *projectionsDB) Bookmarks() projections.Bookmarks { return &bookmarksStore{db: p.db, q: p.q} }
func (p *projectionsDB) Applied() projections.Applied     { return &appliedStore{db: p.db, q: p.q} }
func (p *projectionsDB) Statuses() projections.Statuses   { return &statusesStore{db: p.db, q: p.q} }

func (p *projectionsDB) Accounts() projections.Accounts { return &accountsStore{db: p.db, q: p.q} }
func (p *projectionsDB) Journals() projections.Journals { return &journalsStore{db: p.db, q: p.q} }
func (p *projectionsDB) Balances() projections.Balances { return &balancesStore{db: p.db, q: p.q} }
func (p *projectionsDB) FiscalPeriods() projections.FiscalPeriods {
	return &fiscalPeriodsStore{db: p.db, q: p.q}
}
func (p *projectionsDB) Dimensions() projections.Dimensions {
	return &dimensionsStore{db: p.db, q: p.q}
}
func (p *projectionsDB) Crosswalks() projections.Crosswalks {
	return &crosswalksStore{db: p.db, q: p.q}
}
func (p *projectionsDB) Batches() projections.Batches { return &batchesStore{db: p.db, q: p.q} }

// requireProjectionWrite guards projection bookkeeping writes.
func requireProjectionWrite(ctx context.Context) error {
	return writebarrier.Require(ctx, writebarrier.Projection, writebarrier.Migration)
}

// requireReadModelWrite guards read-model table writes.
func requireReadModelWrite(ctx context.Context) error {
	return writebarrier.Require(ctx,
		writebarrier.Projection, writebarrier.Bootstrap, writebarrier.Migration)
}

type bookmarksStore struct {
	db *DB
	q  queryer
}

type bookmarkRow struct {
	Projection      string         `db:"projection"`
	TenantID        int64          `db:"tenant_id"`
	LastStreamSeq   int64          `db:"last_stream_seq"`
	LastEventID     sql.NullString `db:"last_event_id"`
	LastProcessedAt sql.NullTime   `db:"last_processed_at"`
	IsPaused        bool           `db:"is_paused"`
	ErrorCount      int            `db:"error_count"`
	LastError       string         `db:"last_error"`
}

func (row *bookmarkRow) toBookmark() (*projections.Bookmark, error) {
	bookmark := &projections.Bookmark{
		Projection:    row.Projection,
		TenantID:      row.TenantID,
		LastStreamSeq: row.LastStreamSeq,
		IsPaused:      row.IsPaused,
		ErrorCount:    row.ErrorCount,
		LastError:     row.LastError,
	}
	if row.LastEventID.Valid && row.LastEventID.String != "" {
		id, err := uuid.Parse(row.LastEventID.String)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		bookmark.LastEventID = &id
	}
	if row.LastProcessedAt.Valid {
		at := row.LastProcessedAt.Time.UTC()
		bookmark.LastProcessedAt = &at
	}
	return bookmark, nil
}

const bookmarkColumns = `projection, tenant_id, last_stream_seq, last_event_id, last_processed_at, is_paused, error_count, last_error`

func (store *bookmarksStore) Acquire(ctx context.Context, projection string, tenantID int64) (_ *projections.Bookmark, err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = store.q.ExecContext(ctx, store.q.Rebind(
		`INSERT INTO projection_bookmarks (projection, tenant_id) VALUES (?, ?)
		 ON CONFLICT (projection, tenant_id) DO NOTHING`),
		projection, tenantID,
	)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return store.Get(ctx, projection, tenantID)
}

func (store *bookmarksStore) Get(ctx context.Context, projection string, tenantID int64) (_ *projections.Bookmark, err error) {
	defer mon.Task()(&ctx)(&err)

	var row bookmarkRow
	err = store.q.GetContext(ctx, &row, store.q.Rebind(
		`SELECT `+bookmarkColumns+` FROM projection_bookmarks
		 WHERE projection = ? AND tenant_id = ?`),
		projection, tenantID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return row.toBookmark()
}

func (store *bookmarksStore) Advance(ctx context.Context, projection string, tenantID int64, lastSeq int64, lastEventID uuid.UUID) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := requireProjectionWrite(ctx); err != nil {
		return err
	}
	_, err = store.q.ExecContext(ctx, store.q.Rebind(
		`UPDATE projection_bookmarks
		 SET last_stream_seq = ?, last_event_id = ?, last_processed_at = ?, last_error = '', error_count = 0
		 WHERE projection = ? AND tenant_id = ?`),
		lastSeq, lastEventID.String(), time.Now().UTC(), projection, tenantID,
	)
	return Error.Wrap(err)
}

func (store *bookmarksStore) RecordError(ctx context.Context, projection string, tenantID int64, message string) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = store.q.ExecContext(ctx, store.q.Rebind(
		`UPDATE projection_bookmarks
		 SET error_count = error_count + 1, last_error = ?
		 WHERE projection = ? AND tenant_id = ?`),
		message, projection, tenantID,
	)
	return Error.Wrap(err)
}

func (store *bookmarksStore) SetPaused(ctx context.Context, projection string, tenantID int64, paused bool) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = store.q.ExecContext(ctx, store.q.Rebind(
		`UPDATE projection_bookmarks SET is_paused = ? WHERE projection = ? AND tenant_id = ?`),
		paused, projection, tenantID,
	)
	return Error.Wrap(err)
}

func (store *bookmarksStore) Reset(ctx context.Context, projection string, tenantID int64) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := requireProjectionWrite(ctx); err != nil {
		return err
	}
	_, err = store.q.ExecContext(ctx, store.q.Rebind(
		`UPDATE projection_bookmarks
		 SET last_stream_seq = 0, last_event_id = NULL, last_error = '', error_count = 0
		 WHERE projection = ? AND tenant_id = ?`),
		projection, tenantID,
	)
	return Error.Wrap(err)
}

type appliedStore struct {
	db *DB
	q  queryer
}

func (store *appliedStore) TryInsert(ctx context.Context, projection string, tenantID int64, eventID uuid.UUID) (created bool, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := requireProjectionWrite(ctx); err != nil {
		return false, err
	}
	result, err := store.q.ExecContext(ctx, store.q.Rebind(
		`INSERT INTO projection_applied_events (projection, tenant_id, event_id, applied_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (projection, tenant_id, event_id) DO NOTHING`),
		projection, tenantID, eventID.String(), time.Now().UTC(),
	)
	if err != nil {
		return false, Error.Wrap(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, Error.Wrap(err)
	}
	return affected > 0, nil
}

func (store *appliedStore) Clear(ctx context.Context, projection string, tenantID int64) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := requireProjectionWrite(ctx); err != nil {
		return err
	}
	_, err = store.q.ExecContext(ctx, store.q.Rebind(
		`DELETE FROM projection_applied_events WHERE projection = ? AND tenant_id = ?`),
		projection, tenantID,
	)
	return Error.Wrap(err)
}

func (store *appliedStore) Count(ctx context.Context, projection string, tenantID int64) (_ int64, err error) {
	defer mon.Task()(&ctx)(&err)

	var count int64
	err = store.q.GetContext(ctx, &count, store.q.Rebind(
		`SELECT COUNT(*) FROM projection_applied_events WHERE projection = ? AND tenant_id = ?`),
		projection, tenantID,
	)
	return count, Error.Wrap(err)
}

type statusesStore struct {
	db *DB
	q  queryer
}

func (store *statusesStore) Upsert(ctx context.Context, status *projections.Status) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = store.q.ExecContext(ctx, store.q.Rebind(
		`INSERT INTO projection_statuses
			(projection, tenant_id, state, processed_count, last_rebuild_ms, last_error, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (projection, tenant_id) DO UPDATE SET
			state = excluded.state,
			processed_count = excluded.processed_count,
			last_rebuild_ms = excluded.last_rebuild_ms,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at`),
		status.Projection, status.TenantID, status.State, status.ProcessedCount,
		status.LastRebuildFor.Milliseconds(), status.LastError, status.UpdatedAt,
	)
	return Error.Wrap(err)
}

func (store *statusesStore) Get(ctx context.Context, projection string, tenantID int64) (_ *projections.Status, err error) {
	defer mon.Task()(&ctx)(&err)

	var row struct {
		Projection     string    `db:"projection"`
		TenantID       int64     `db:"tenant_id"`
		State          string    `db:"state"`
		ProcessedCount int64     `db:"processed_count"`
		LastRebuildMS  int64     `db:"last_rebuild_ms"`
		LastError      string    `db:"last_error"`
		UpdatedAt      time.Time `db:"updated_at"`
	}
	err = store.q.GetContext(ctx, &row, store.q.Rebind(
		`SELECT projection, tenant_id, state, processed_count, last_rebuild_ms, last_error, updated_at
		 FROM projection_statuses WHERE projection = ? AND tenant_id = ?`),
		projection, tenantID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return &projections.Status{
		Projection:     row.Projection,
		TenantID:       row.TenantID,
		State:          row.State,
		ProcessedCount: row.ProcessedCount,
		LastRebuildFor: time.Duration(row.LastRebuildMS) * time.Millisecond,
		LastError:      row.LastError,
		UpdatedAt:      row.UpdatedAt.UTC(),
	}, nil
}
