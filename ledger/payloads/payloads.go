// Copyright (C) 2025 Ledgerhouse, Inc.
// See LICENSE for copying information.

// Package payloads is the content-addressed store for large event
// payloads. Blobs are keyed by the SHA-256 of their canonical JSON and
// deduplicated on insert; they are immutable once written.
package payloads

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/zeebo/errs"

	"ledgerhouse.io/ledgerhouse/private/canonicaljson"
)

// Error is the payloads error class.
var Error = errs.Class("payloads")

// ErrNotFound is returned when a referenced blob is absent.
var ErrNotFound = errs.Class("payload blob not found")

// Blob is an external payload record.
type Blob struct {
	ID          int64
	ContentHash string
	Payload     map[string]interface{}
	SizeBytes   int64
	Compression string // reserved
	CreatedAt   time.Time
}

// DB is the tenant-owned blob store.
type DB interface {
	// Store inserts the blob, returning the existing row when a blob
	// with the same content hash is already present.
	Store(ctx context.Context, tenantID int64, payload map[string]interface{}) (*Blob, error)
	Get(ctx context.Context, tenantID int64, id int64) (*Blob, error)
	GetByHash(ctx context.Context, tenantID int64, contentHash string) (*Blob, error)
}

// Hash computes the SHA-256 of the payload's canonical JSON form.
func Hash(payload map[string]interface{}) (hash string, size int64, err error) {
	canonical, err := canonicaljson.Marshal(payload)
	if err != nil {
		return "", 0, Error.Wrap(err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), int64(len(canonical)), nil
}
