// Copyright (C) 2025 Ledgerhouse, Inc.
// See LICENSE for copying information.

// Package migration moves one tenant's event stream between database
// handles. The export file is the unit of transfer: a single JSON
// document carrying the tenant header, every event in stream order,
// and a hash over the canonical form of the records. Source and target
// recompute the same hash independently; a mismatch aborts the move
// before cutover.
package migration

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"

	"ledgerhouse.io/ledgerhouse/ledger/events"
	"ledgerhouse.io/ledgerhouse/ledger/payloads"
	"ledgerhouse.io/ledgerhouse/ledger/tenants"
	"ledgerhouse.io/ledgerhouse/ledger/writebarrier"
	"ledgerhouse.io/ledgerhouse/private/canonicaljson"
)

var (
	// Error is the migration error class.
	Error = errs.Class("migration")
	// ErrHashMismatch is returned when import and export hashes differ.
	ErrHashMismatch = errs.Class("transfer hash mismatch")
	// ErrFormat is returned for malformed export files.
	ErrFormat = errs.Class("export format")

	mon = monkit.Package()
)

// FormatVersion is the export document format generation.
const FormatVersion = "1.0"

// tenantHeader identifies the exported tenant inside the document.
type tenantHeader struct {
	ID       int64  `json:"id"`
	PublicID string `json:"public_id"`
	Slug     string `json:"slug"`
}

// document is the export file: one JSON object. Events are kept raw so
// the importer can recompute the hash over the exact record form.
type document struct {
	Version       string            `json:"version"`
	ExportedAt    string            `json:"exported_at"`
	Tenant        tenantHeader      `json:"tenant"`
	SourceHandle  string            `json:"source_handle"`
	AfterSequence int64             `json:"after_sequence"`
	Events        []json.RawMessage `json:"events"`
	EventCount    int64             `json:"event_count"`
	ExportHash    string            `json:"export_hash"`
}

// record is one event on the wire. External events always carry the
// payload reference and its content hash; the payload body itself is
// embedded only when the export includes payloads.
type record struct {
	ID                 string                 `json:"id"`
	EventType          string                 `json:"event_type"`
	AggregateType      string                 `json:"aggregate_type"`
	AggregateID        string                 `json:"aggregate_id"`
	Sequence           int64                  `json:"sequence"`
	StreamSequence     int64                  `json:"stream_sequence"`
	IdempotencyKey     string                 `json:"idempotency_key"`
	OccurredAt         string                 `json:"occurred_at"`
	RecordedAt         string                 `json:"recorded_at"`
	PayloadStorage     string                 `json:"payload_storage"`
	PayloadHash        string                 `json:"payload_hash"`
	Data               map[string]interface{} `json:"data,omitempty"`
	PayloadRefID       *int64                 `json:"payload_ref_id,omitempty"`
	PayloadContentHash string                 `json:"payload_content_hash,omitempty"`
	Origin             string                 `json:"origin"`
	Metadata           map[string]interface{} `json:"metadata,omitempty"`
	SchemaVersion      int                    `json:"schema_version"`
	CausedByUserID     *int64                 `json:"caused_by_user_id,omitempty"`
	CausedByEventID    string                 `json:"caused_by_event_id,omitempty"`
}

// ExportOptions tunes one export run.
type ExportOptions struct {
	// AfterSeq exports only events past the given stream sequence.
	AfterSeq int64
	// BatchSize is the page size of the stream walk.
	BatchSize int
	// IncludePayloads embeds external payload bodies, making the file
	// self-contained and importable on another handle.
	IncludePayloads bool
}

// Summary describes one completed export or import.
type Summary struct {
	TenantID     int64
	EventCount   int64
	MaxStreamSeq int64
	Hash         string
}

// Export writes the company's stream to w as one JSON document. The
// returned hash covers the canonical form of every event record in
// order; payload reference ids are excluded from the hashed form, so
// an export from the target after a move reproduces the source's hash
// even though blob ids are handle-local.
func Export(ctx context.Context, w io.Writer, eventsDB events.DB, blobs payloads.DB, company *tenants.Company, sourceHandle string, opts ExportOptions) (_ *Summary, err error) {
	defer mon.Task()(&ctx)(&err)

	if opts.BatchSize <= 0 {
		opts.BatchSize = 500
	}

	out := bufio.NewWriter(w)
	hasher := sha256.New()

	head, err := json.Marshal(struct {
		Version       string       `json:"version"`
		ExportedAt    string       `json:"exported_at"`
		Tenant        tenantHeader `json:"tenant"`
		SourceHandle  string       `json:"source_handle"`
		AfterSequence int64        `json:"after_sequence"`
	}{
		Version:    FormatVersion,
		ExportedAt: time.Now().UTC().Format(time.RFC3339),
		Tenant: tenantHeader{
			ID:       company.ID,
			PublicID: company.PublicID.String(),
			Slug:     company.Slug,
		},
		SourceHandle:  sourceHandle,
		AfterSequence: opts.AfterSeq,
	})
	if err != nil {
		return nil, Error.Wrap(err)
	}
	// keep the object open; the events array and the trailing fields
	// are appended as the stream is walked
	if _, err := out.Write(head[:len(head)-1]); err != nil {
		return nil, Error.Wrap(err)
	}
	if _, err := out.WriteString(`,"events":[`); err != nil {
		return nil, Error.Wrap(err)
	}

	summary := &Summary{TenantID: company.ID}
	cursor := opts.AfterSeq
	for {
		page, err := eventsDB.ListAfter(ctx, company.ID, cursor, nil, opts.BatchSize)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		if len(page) == 0 {
			break
		}
		for _, event := range page {
			rec, err := encodeRecord(event)
			if err != nil {
				return nil, err
			}
			if opts.IncludePayloads && event.Storage == events.StorageExternal && rec.Data == nil {
				if event.PayloadRef == nil {
					return nil, Error.New("event %s: external payload without reference", event.ID)
				}
				blob, err := blobs.Get(ctx, company.ID, *event.PayloadRef)
				if err != nil {
					return nil, Error.Wrap(err)
				}
				rec.Data = blob.Payload
			}

			line, err := canonicaljson.Marshal(rec)
			if err != nil {
				return nil, Error.Wrap(err)
			}
			hashed, err := hashableForm(rec)
			if err != nil {
				return nil, err
			}
			hasher.Write(hashed)

			if summary.EventCount > 0 {
				if err := out.WriteByte(','); err != nil {
					return nil, Error.Wrap(err)
				}
			}
			if _, err := out.Write(line); err != nil {
				return nil, Error.Wrap(err)
			}
			summary.EventCount++
			summary.MaxStreamSeq = event.StreamSeq
		}
		cursor = page[len(page)-1].StreamSeq
	}

	summary.Hash = hex.EncodeToString(hasher.Sum(nil))
	if _, err := out.WriteString(`],"event_count":` +
		strconv.FormatInt(summary.EventCount, 10) +
		`,"export_hash":"` + summary.Hash + `"}` + "\n"); err != nil {
		return nil, Error.Wrap(err)
	}
	return summary, Error.Wrap(out.Flush())
}

// hashableForm renders the record for hashing: canonical JSON with the
// handle-local payload reference id blanked out.
func hashableForm(rec *record) ([]byte, error) {
	hashed := *rec
	hashed.PayloadRefID = nil
	canonical, err := canonicaljson.Marshal(hashed)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return canonical, nil
}

// encodeRecord renders one event as its wire record.
func encodeRecord(event *events.Event) (*record, error) {
	rec := &record{
		ID:             event.ID.String(),
		EventType:      event.Type,
		AggregateType:  event.AggregateType,
		AggregateID:    event.AggregateID,
		Sequence:       event.AggregateSeq,
		StreamSequence: event.StreamSeq,
		IdempotencyKey: event.IdempotencyKey,
		OccurredAt:     event.OccurredAt.UTC().Format(time.RFC3339Nano),
		RecordedAt:     event.RecordedAt.UTC().Format(time.RFC3339Nano),
		PayloadStorage: string(event.Storage),
		PayloadHash:    event.PayloadHash,
		Origin:         string(event.Origin),
		Metadata:       event.Metadata,
		SchemaVersion:  event.SchemaVersion,
		CausedByUserID: event.CausedByUserID,
	}
	if event.Storage == events.StorageExternal {
		rec.PayloadRefID = event.PayloadRef
		rec.PayloadContentHash = event.PayloadHash
	} else {
		rec.Data = event.Data
	}
	if event.CausedByEventID != nil {
		rec.CausedByEventID = event.CausedByEventID.String()
	}
	return rec, nil
}

// ImportOptions tunes one import run.
type ImportOptions struct {
	// SkipExisting tolerates events already present on the target,
	// matching by id. Used to resume a partial import.
	SkipExisting bool
	// DryRun parses and hashes without writing.
	DryRun bool
}

// Import reads an export document into the target handle, preserving
// event ids and sequences. It recomputes the transfer hash and refuses
// a document whose export_hash disagrees. Runs under the migration
// write context.
func Import(ctx context.Context, r io.Reader, eventsDB events.DB, blobs payloads.DB, opts ImportOptions) (_ *Summary, err error) {
	defer mon.Task()(&ctx)(&err)

	ctx = writebarrier.With(ctx, writebarrier.Migration)

	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, ErrFormat.Wrap(err)
	}
	if doc.Version != FormatVersion {
		return nil, ErrFormat.New("unsupported format version %q", doc.Version)
	}
	tenantID := doc.Tenant.ID
	if tenantID == 0 {
		return nil, ErrFormat.New("document carries no tenant id")
	}

	summary := &Summary{TenantID: tenantID}
	hasher := sha256.New()

	if !opts.DryRun {
		if err := eventsDB.EnsureStreamCounter(ctx, tenantID); err != nil {
			return nil, Error.Wrap(err)
		}
	}

	for _, rawRec := range doc.Events {
		var rec record
		dec := json.NewDecoder(bytes.NewReader(rawRec))
		dec.UseNumber()
		if err := dec.Decode(&rec); err != nil {
			return nil, ErrFormat.Wrap(err)
		}

		hashed, err := hashableForm(&rec)
		if err != nil {
			return nil, err
		}
		hasher.Write(hashed)

		event, err := decodeRecord(tenantID, &rec)
		if err != nil {
			return nil, err
		}
		summary.EventCount++
		summary.MaxStreamSeq = event.StreamSeq

		if opts.DryRun {
			continue
		}

		if opts.SkipExisting {
			if existing, err := eventsDB.Get(ctx, tenantID, event.ID); err == nil && existing != nil {
				continue
			}
		}

		if event.Storage == events.StorageExternal {
			if event.Data == nil {
				return nil, Error.New("event %s: external payload not embedded, re-export with payloads included", event.ID)
			}
			// blob ids differ per handle; re-store and re-point
			blob, err := blobs.Store(ctx, tenantID, event.Data)
			if err != nil {
				return nil, Error.Wrap(err)
			}
			if rec.PayloadContentHash != "" && blob.ContentHash != rec.PayloadContentHash {
				return nil, ErrHashMismatch.New("event %s: payload content hash %s, stored %s",
					event.ID, rec.PayloadContentHash, blob.ContentHash)
			}
			ref := blob.ID
			event.PayloadRef = &ref
			event.Data = nil
		}
		if err := eventsDB.Import(ctx, tenantID, event); err != nil {
			return nil, Error.Wrap(err)
		}
	}

	summary.Hash = hex.EncodeToString(hasher.Sum(nil))
	if summary.Hash != doc.ExportHash {
		return nil, ErrHashMismatch.New("document %s, recomputed %s", doc.ExportHash, summary.Hash)
	}
	if summary.EventCount != doc.EventCount {
		return nil, ErrHashMismatch.New("document declares %d events, carries %d", doc.EventCount, summary.EventCount)
	}

	if !opts.DryRun && summary.MaxStreamSeq > 0 {
		if err := eventsDB.SetStreamCounter(ctx, tenantID, summary.MaxStreamSeq); err != nil {
			return nil, Error.Wrap(err)
		}
	}
	return summary, nil
}

// decodeRecord rebuilds the stored event from its wire record.
func decodeRecord(tenantID int64, rec *record) (*events.Event, error) {
	id, err := uuid.Parse(rec.ID)
	if err != nil {
		return nil, ErrFormat.New("bad event id %q: %v", rec.ID, err)
	}
	occurredAt, err := time.Parse(time.RFC3339Nano, rec.OccurredAt)
	if err != nil {
		return nil, ErrFormat.New("bad occurred_at %q: %v", rec.OccurredAt, err)
	}
	recordedAt, err := time.Parse(time.RFC3339Nano, rec.RecordedAt)
	if err != nil {
		return nil, ErrFormat.New("bad recorded_at %q: %v", rec.RecordedAt, err)
	}

	event := &events.Event{
		ID:             id,
		TenantID:       tenantID,
		Type:           rec.EventType,
		AggregateType:  rec.AggregateType,
		AggregateID:    rec.AggregateID,
		AggregateSeq:   rec.Sequence,
		StreamSeq:      rec.StreamSequence,
		IdempotencyKey: rec.IdempotencyKey,
		Storage:        events.Storage(rec.PayloadStorage),
		PayloadHash:    rec.PayloadHash,
		Data:           rec.Data,
		Origin:         events.Origin(rec.Origin),
		CausedByUserID: rec.CausedByUserID,
		OccurredAt:     occurredAt,
		RecordedAt:     recordedAt,
		SchemaVersion:  rec.SchemaVersion,
		Metadata:       rec.Metadata,
	}
	if rec.CausedByEventID != "" {
		caused, err := uuid.Parse(rec.CausedByEventID)
		if err != nil {
			return nil, ErrFormat.New("bad caused_by_event_id %q: %v", rec.CausedByEventID, err)
		}
		event.CausedByEventID = &caused
	}
	return event, nil
}
