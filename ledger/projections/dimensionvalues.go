// Copyright (C) 2025 Ledgerhouse, Inc.
// See LICENSE for copying information.

package projections

import (
	"context"

	"ledgerhouse.io/ledgerhouse/ledger/events"
)

// DimensionValues maintains the analysis dimension read model.
type DimensionValues struct{}

// NewDimensionValues creates the projection.
func NewDimensionValues() *DimensionValues { return &DimensionValues{} }

// Name implements Projection.
func (p *DimensionValues) Name() string { return "dimension_values" }

// EventTypes implements Projection.
func (p *DimensionValues) EventTypes() []string {
	return []string{
		events.TypeDimensionCreated,
		events.TypeDimensionValueAdded,
		events.TypeDimensionValueDeactivated,
	}
}

// Handle implements Projection.
func (p *DimensionValues) Handle(ctx context.Context, db DB, event *events.Event) error {
	data := event.Data
	dims := db.Dimensions()

	switch event.Type {
	case events.TypeDimensionCreated:
		return dims.UpsertDimension(ctx, &DimensionRow{
			TenantID:  event.TenantID,
			PublicID:  str(data, "public_id"),
			Code:      str(data, "code"),
			Name:      str(data, "name"),
			UpdatedAt: event.OccurredAt,
		})

	case events.TypeDimensionValueAdded, events.TypeDimensionValueDeactivated:
		// the dimension aggregate id is its public id; resolve the code
		dimension, err := p.dimensionByPublicID(ctx, dims, event.TenantID, str(data, "public_id"))
		if err != nil {
			return err
		}
		if dimension == nil {
			return nil
		}
		if event.Type == events.TypeDimensionValueAdded {
			return dims.UpsertValue(ctx, &DimensionValueRow{
				TenantID:      event.TenantID,
				DimensionCode: dimension.Code,
				ValueCode:     str(data, "value_code"),
				ValueName:     str(data, "value_name"),
				Active:        true,
				UpdatedAt:     event.OccurredAt,
			})
		}
		values, err := dims.ListValues(ctx, event.TenantID, dimension.Code)
		if err != nil {
			return err
		}
		target := str(data, "value_code")
		for _, value := range values {
			if value.ValueCode != target {
				continue
			}
			value.Active = false
			value.UpdatedAt = event.OccurredAt
			return dims.UpsertValue(ctx, value)
		}
		return nil
	}
	return nil
}

func (p *DimensionValues) dimensionByPublicID(ctx context.Context, dims Dimensions, tenantID int64, publicID string) (*DimensionRow, error) {
	// dimension codes are few; a scan by public id keeps the store
	// interface small
	all, err := dims.ListDimensions(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	for _, row := range all {
		if row.PublicID == publicID {
			return row, nil
		}
	}
	return nil, nil
}

// Clear implements Projection.
func (p *DimensionValues) Clear(ctx context.Context, db DB, tenantID int64) error {
	return db.Dimensions().DeleteForTenant(ctx, tenantID)
}
