// Copyright (C) 2025 Ledgerhouse, Inc.
// See LICENSE for copying information.

package projections

import (
	"context"

	"ledgerhouse.io/ledgerhouse/ledger/events"
)

// FiscalPeriodsProjection maintains the fiscal period read model.
type FiscalPeriodsProjection struct{}

// NewFiscalPeriods creates the projection.
func NewFiscalPeriods() *FiscalPeriodsProjection { return &FiscalPeriodsProjection{} }

// Name implements Projection.
func (p *FiscalPeriodsProjection) Name() string { return "fiscal_periods" }

// EventTypes implements Projection.
func (p *FiscalPeriodsProjection) EventTypes() []string {
	return []string{
		events.TypeFiscalPeriodRangeSet,
		events.TypeFiscalPeriodClosed,
		events.TypeFiscalPeriodOpened,
	}
}

// Handle implements Projection.
func (p *FiscalPeriodsProjection) Handle(ctx context.Context, db DB, event *events.Event) error {
	data := event.Data
	key := str(data, "period_key")
	periods := db.FiscalPeriods()

	switch event.Type {
	case events.TypeFiscalPeriodRangeSet:
		row, err := periods.Get(ctx, event.TenantID, key)
		if err != nil {
			return err
		}
		closed := false
		if row != nil {
			closed = row.Closed
		}
		return periods.Upsert(ctx, &FiscalPeriodRow{
			TenantID:  event.TenantID,
			PeriodKey: key,
			StartDate: str(data, "start_date"),
			EndDate:   str(data, "end_date"),
			Closed:    closed,
			UpdatedAt: event.OccurredAt,
		})

	case events.TypeFiscalPeriodClosed, events.TypeFiscalPeriodOpened:
		row, err := periods.Get(ctx, event.TenantID, key)
		if err != nil {
			return err
		}
		if row == nil {
			return nil
		}
		row.Closed = event.Type == events.TypeFiscalPeriodClosed
		row.UpdatedAt = event.OccurredAt
		return periods.Upsert(ctx, row)
	}
	return nil
}

// Clear implements Projection.
func (p *FiscalPeriodsProjection) Clear(ctx context.Context, db DB, tenantID int64) error {
	return db.FiscalPeriods().DeleteForTenant(ctx, tenantID)
}
