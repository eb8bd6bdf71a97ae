// Copyright (C) 2025 Ledgerhouse, Inc.
// See LICENSE for copying information.

package ledgerdb

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"ledgerhouse.io/ledgerhouse/ledger/payloads"
)

type payloadsStore struct {
	db *DB
	q  queryer
}

type blobRow struct {
	ID          int64     `db:"id"`
	TenantID    int64     `db:"tenant_id"`
	ContentHash string    `db:"content_hash"`
	Payload     string    `db:"payload"`
	SizeBytes   int64     `db:"size_bytes"`
	Compression string    `db:"compression"`
	CreatedAt   time.Time `db:"created_at"`
}

func (row *blobRow) toBlob() (*payloads.Blob, error) {
	payload, err := decodeJSONMap(sql.NullString{String: row.Payload, Valid: true})
	if err != nil {
		return nil, err
	}
	return &payloads.Blob{
		ID:          row.ID,
		ContentHash: row.ContentHash,
		Payload:     payload,
		SizeBytes:   row.SizeBytes,
		Compression: row.Compression,
		CreatedAt:   row.CreatedAt.UTC(),
	}, nil
}

// Store implements payloads.DB with content-hash dedup: the same
// payload stored twice returns the original row.
func (store *payloadsStore) Store(ctx context.Context, tenantID int64, payload map[string]interface{}) (_ *payloads.Blob, err error) {
	defer mon.Task()(&ctx)(&err)

	hash, size, err := payloads.Hash(payload)
	if err != nil {
		return nil, err
	}
	raw, err := encodeJSON(payload)
	if err != nil {
		return nil, err
	}

	_, err = store.q.ExecContext(ctx, store.q.Rebind(
		`INSERT INTO payload_blobs (tenant_id, content_hash, payload, size_bytes, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (tenant_id, content_hash) DO NOTHING`),
		tenantID, hash, raw.String, size, time.Now().UTC(),
	)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return store.GetByHash(ctx, tenantID, hash)
}

func (store *payloadsStore) Get(ctx context.Context, tenantID int64, id int64) (_ *payloads.Blob, err error) {
	defer mon.Task()(&ctx)(&err)

	var row blobRow
	err = store.q.GetContext(ctx, &row, store.q.Rebind(
		`SELECT id, tenant_id, content_hash, payload, size_bytes, compression, created_at
		 FROM payload_blobs WHERE tenant_id = ? AND id = ?`),
		tenantID, id,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, payloads.ErrNotFound.New("blob %d", id)
	}
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return row.toBlob()
}

func (store *payloadsStore) GetByHash(ctx context.Context, tenantID int64, contentHash string) (_ *payloads.Blob, err error) {
	defer mon.Task()(&ctx)(&err)

	var row blobRow
	err = store.q.GetContext(ctx, &row, store.q.Rebind(
		`SELECT id, tenant_id, content_hash, payload, size_bytes, compression, created_at
		 FROM payload_blobs WHERE tenant_id = ? AND content_hash = ?`),
		tenantID, contentHash,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, payloads.ErrNotFound.New("hash %s", contentHash)
	}
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return row.toBlob()
}
