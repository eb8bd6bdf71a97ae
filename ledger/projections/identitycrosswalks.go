// Copyright (C) 2025 Ledgerhouse, Inc.
// See LICENSE for copying information.

package projections

import (
	"context"

	"ledgerhouse.io/ledgerhouse/ledger/events"
)

// IdentityCrosswalks maintains the external-id to internal-entity map.
type IdentityCrosswalks struct{}

// NewIdentityCrosswalks creates the projection.
func NewIdentityCrosswalks() *IdentityCrosswalks { return &IdentityCrosswalks{} }

// Name implements Projection.
func (p *IdentityCrosswalks) Name() string { return "identity_crosswalks" }

// EventTypes implements Projection.
func (p *IdentityCrosswalks) EventTypes() []string {
	return []string{events.TypeIdentityMapped}
}

// Handle implements Projection.
func (p *IdentityCrosswalks) Handle(ctx context.Context, db DB, event *events.Event) error {
	data := event.Data
	return db.Crosswalks().Upsert(ctx, &CrosswalkRow{
		TenantID:   event.TenantID,
		System:     str(data, "system"),
		ExternalID: str(data, "external_id"),
		EntityType: str(data, "entity_type"),
		EntityID:   str(data, "entity_id"),
		UpdatedAt:  event.OccurredAt,
	})
}

// Clear implements Projection.
func (p *IdentityCrosswalks) Clear(ctx context.Context, db DB, tenantID int64) error {
	return db.Crosswalks().DeleteForTenant(ctx, tenantID)
}
