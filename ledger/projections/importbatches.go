// Copyright (C) 2025 Ledgerhouse, Inc.
// See LICENSE for copying information.

package projections

import (
	"context"

	"ledgerhouse.io/ledgerhouse/ledger/events"
)

// ImportBatches maintains the ingestion batch read model.
type ImportBatches struct{}

// NewImportBatches creates the projection.
func NewImportBatches() *ImportBatches { return &ImportBatches{} }

// Name implements Projection.
func (p *ImportBatches) Name() string { return "import_batches" }

// EventTypes implements Projection.
func (p *ImportBatches) EventTypes() []string {
	return []string{
		events.TypeImportBatchOpened,
		events.TypeImportBatchRecordsStaged,
		events.TypeImportBatchCommitted,
	}
}

// Handle implements Projection.
func (p *ImportBatches) Handle(ctx context.Context, db DB, event *events.Event) error {
	data := event.Data
	publicID := str(data, "public_id")
	batches := db.Batches()

	switch event.Type {
	case events.TypeImportBatchOpened:
		return batches.Upsert(ctx, &BatchRow{
			TenantID:    event.TenantID,
			PublicID:    publicID,
			Source:      str(data, "source"),
			Description: str(data, "description"),
			Status:      "OPEN",
			UpdatedAt:   event.OccurredAt,
		})

	case events.TypeImportBatchRecordsStaged:
		row, err := batches.Get(ctx, event.TenantID, publicID)
		if err != nil {
			return err
		}
		if row == nil {
			return nil
		}
		row.RecordCount += int64(integer(data, "record_count"))
		row.UpdatedAt = event.OccurredAt
		return batches.Upsert(ctx, row)

	case events.TypeImportBatchCommitted:
		row, err := batches.Get(ctx, event.TenantID, publicID)
		if err != nil {
			return err
		}
		if row == nil {
			return nil
		}
		row.Status = "COMMITTED"
		row.RecordCount = int64(integer(data, "record_count"))
		row.UpdatedAt = event.OccurredAt
		return batches.Upsert(ctx, row)
	}
	return nil
}

// Clear implements Projection.
func (p *ImportBatches) Clear(ctx context.Context, db DB, tenantID int64) error {
	return db.Batches().DeleteForTenant(ctx, tenantID)
}
