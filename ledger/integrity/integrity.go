// Copyright (C) 2025 Ledgerhouse, Inc.
// See LICENSE for copying information.

// Package integrity verifies the event log end to end: payload hashes,
// external blob resolution, chunked-journal completeness, and stream
// sequence contiguity. Verification is read-only and any finding is a
// hard failure for the tenant being checked.
package integrity

import (
	"context"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"ledgerhouse.io/ledgerhouse/ledger/events"
	"ledgerhouse.io/ledgerhouse/ledger/payloads"
)

var (
	// Error is the integrity error class.
	Error = errs.Class("integrity")
	// ErrPayloadMissing marks an external reference with no blob.
	ErrPayloadMissing = errs.Class("payload missing")
	// ErrHashMismatch marks a payload whose recomputed hash differs.
	ErrHashMismatch = errs.Class("payload hash mismatch")
	// ErrChunkMissing marks a chunked journal with absent chunks.
	ErrChunkMissing = errs.Class("chunk missing")
	// ErrSequenceGap marks a hole in a tenant's stream sequence.
	ErrSequenceGap = errs.Class("stream sequence gap")

	mon = monkit.Package()
)

// Finding is one verification failure.
type Finding struct {
	EventID   string
	StreamSeq int64
	EventType string
	Err       error
}

// Report summarizes one tenant's verification run.
type Report struct {
	TenantID   int64
	StartedAt  time.Time
	FinishedAt time.Time

	EventCount    int64
	InlineCount   int64
	ExternalCount int64
	ChunkedCount  int64
	ExternalBytes int64

	Findings []Finding
}

// IsValid reports whether the run produced no findings.
func (report *Report) IsValid() bool { return len(report.Findings) == 0 }

// Err folds every finding into one error, nil when valid.
func (report *Report) Err() error {
	var group errs.Group
	for _, finding := range report.Findings {
		group.Add(finding.Err)
	}
	return Error.Wrap(group.Err())
}

// Config tunes a verification run.
type Config struct {
	// BatchSize is how many events are walked per page.
	BatchSize int
	// MaxFindings stops the run early once reached. Zero means no cap.
	MaxFindings int
}

// DefaultConfig returns the reference verifier configuration.
func DefaultConfig() Config {
	return Config{BatchSize: 500}
}

// Verifier walks one handle's event log.
type Verifier struct {
	log    *zap.Logger
	events events.DB
	blobs  payloads.DB
	config Config
}

// NewVerifier creates a verifier over the handle's stores.
func NewVerifier(log *zap.Logger, eventsDB events.DB, blobs payloads.DB, config Config) *Verifier {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultConfig().BatchSize
	}
	return &Verifier{log: log, events: eventsDB, blobs: blobs, config: config}
}

// FullIntegrityCheck walks the tenant's whole stream in order and
// verifies every event.
func (verifier *Verifier) FullIntegrityCheck(ctx context.Context, tenantID int64) (_ *Report, err error) {
	defer mon.Task()(&ctx)(&err)

	report := &Report{TenantID: tenantID, StartedAt: time.Now().UTC()}

	var cursor int64
	expected := int64(1)
	for {
		page, err := verifier.events.ListAfter(ctx, tenantID, cursor, nil, verifier.config.BatchSize)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		if len(page) == 0 {
			break
		}
		for _, event := range page {
			if event.StreamSeq != expected {
				report.add(event, ErrSequenceGap.New(
					"tenant %d: expected stream seq %d, found %d",
					tenantID, expected, event.StreamSeq,
				))
				expected = event.StreamSeq
			}
			expected++
			report.EventCount++

			verifier.checkEvent(ctx, tenantID, event, report)
			if verifier.config.MaxFindings > 0 && len(report.Findings) >= verifier.config.MaxFindings {
				report.FinishedAt = time.Now().UTC()
				return report, nil
			}
		}
		cursor = page[len(page)-1].StreamSeq
	}

	report.FinishedAt = time.Now().UTC()
	verifier.log.Info("integrity check finished",
		zap.Int64("tenant", tenantID),
		zap.Int64("events", report.EventCount),
		zap.Int("findings", len(report.Findings)),
	)
	return report, nil
}

func (verifier *Verifier) checkEvent(ctx context.Context, tenantID int64, event *events.Event, report *Report) {
	switch event.Storage {
	case events.StorageInline, events.StorageChunked:
		if event.Storage == events.StorageChunked {
			report.ChunkedCount++
			verifier.checkChunks(ctx, tenantID, event, report)
		} else {
			report.InlineCount++
		}
		if event.Data == nil {
			report.add(event, ErrPayloadMissing.New("event %s has no inline payload", event.ID))
			return
		}
		hash, _, err := payloads.Hash(event.Data)
		if err != nil {
			report.add(event, Error.Wrap(err))
			return
		}
		if hash != event.PayloadHash {
			report.add(event, ErrHashMismatch.New(
				"event %s: stored %s, recomputed %s", event.ID, event.PayloadHash, hash,
			))
		}

	case events.StorageExternal:
		report.ExternalCount++
		if event.PayloadRef == nil {
			report.add(event, ErrPayloadMissing.New("event %s has no payload reference", event.ID))
			return
		}
		blob, err := verifier.blobs.Get(ctx, tenantID, *event.PayloadRef)
		if err != nil {
			if payloads.ErrNotFound.Has(err) {
				report.add(event, ErrPayloadMissing.New(
					"event %s references absent blob %d", event.ID, *event.PayloadRef,
				))
				return
			}
			report.add(event, Error.Wrap(err))
			return
		}
		report.ExternalBytes += blob.SizeBytes
		if blob.ContentHash != event.PayloadHash {
			report.add(event, ErrHashMismatch.New(
				"event %s: blob hash %s, event hash %s", event.ID, blob.ContentHash, event.PayloadHash,
			))
			return
		}
		hash, _, err := payloads.Hash(blob.Payload)
		if err != nil {
			report.add(event, Error.Wrap(err))
			return
		}
		if hash != blob.ContentHash {
			report.add(event, ErrHashMismatch.New(
				"blob %d: stored %s, recomputed %s", blob.ID, blob.ContentHash, hash,
			))
		}
	}
}

// checkChunks cross-checks a chunked journal header against its
// causation children and the finalized trailer.
func (verifier *Verifier) checkChunks(ctx context.Context, tenantID int64, header *events.Event, report *Report) {
	slice, err := verifier.events.ListByAggregate(ctx, tenantID, header.AggregateType, header.AggregateID)
	if err != nil {
		report.add(header, Error.Wrap(err))
		return
	}

	var finalized *events.Event
	for _, event := range slice {
		if event.Type == events.TypeJournalFinalized &&
			event.CausedByEventID != nil && *event.CausedByEventID == header.ID {
			finalized = event
		}
	}
	if finalized == nil {
		report.add(header, ErrChunkMissing.New(
			"chunked journal %s was never finalized", header.AggregateID,
		))
		return
	}
	if finalized.Data == nil {
		// trailer payload resolution failures surface on the trailer itself
		return
	}

	declared := int64(integer(finalized.Data, "chunk_count"))
	found, err := verifier.events.CountCausedBy(ctx, tenantID, header.ID, events.TypeJournalLinesChunkAdded)
	if err != nil {
		report.add(header, Error.Wrap(err))
		return
	}
	if found != declared {
		report.add(header, ErrChunkMissing.New(
			"chunked journal %s: %d of %d chunks present", header.AggregateID, found, declared,
		))
	}
}

func (report *Report) add(event *events.Event, err error) {
	report.Findings = append(report.Findings, Finding{
		EventID:   event.ID.String(),
		StreamSeq: event.StreamSeq,
		EventType: event.Type,
		Err:       err,
	})
}

func integer(data map[string]interface{}, key string) int {
	switch v := data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
