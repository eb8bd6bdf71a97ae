// Copyright (C) 2025 Ledgerhouse, Inc.
// See LICENSE for copying information.

package projections

import (
	"context"

	"ledgerhouse.io/ledgerhouse/ledger/events"
)

// ChartOfAccounts maintains the accounts read model.
type ChartOfAccounts struct{}

// NewChartOfAccounts creates the projection.
func NewChartOfAccounts() *ChartOfAccounts { return &ChartOfAccounts{} }

// Name implements Projection.
func (p *ChartOfAccounts) Name() string { return "chart_of_accounts" }

// EventTypes implements Projection.
func (p *ChartOfAccounts) EventTypes() []string {
	return []string{
		events.TypeAccountCreated,
		events.TypeAccountUpdated,
		events.TypeAccountDeactivated,
	}
}

// Handle implements Projection.
func (p *ChartOfAccounts) Handle(ctx context.Context, db DB, event *events.Event) error {
	data := event.Data
	publicID := str(data, "public_id")

	switch event.Type {
	case events.TypeAccountCreated:
		accountType := str(data, "account_type")
		return db.Accounts().Upsert(ctx, &AccountRow{
			TenantID:      event.TenantID,
			PublicID:      publicID,
			Code:          str(data, "code"),
			Name:          str(data, "name"),
			AccountType:   accountType,
			NormalBalance: normalBalance(accountType),
			ParentCode:    str(data, "parent_code"),
			Description:   str(data, "description"),
			Active:        true,
			UpdatedAt:     event.OccurredAt,
		})

	case events.TypeAccountUpdated:
		row, err := db.Accounts().GetByPublicID(ctx, event.TenantID, publicID)
		if err != nil {
			return err
		}
		if row == nil {
			// update for an account this projection never saw; skip
			return nil
		}
		changes, _ := data["changes"].(map[string]interface{})
		for field, change := range changes {
			value := changeValue(change)
			switch field {
			case "name":
				row.Name = value
			case "parent_code":
				row.ParentCode = value
			case "description":
				row.Description = value
			}
		}
		row.UpdatedAt = event.OccurredAt
		return db.Accounts().Upsert(ctx, row)

	case events.TypeAccountDeactivated:
		row, err := db.Accounts().GetByPublicID(ctx, event.TenantID, publicID)
		if err != nil {
			return err
		}
		if row == nil {
			return nil
		}
		row.Active = false
		row.UpdatedAt = event.OccurredAt
		return db.Accounts().Upsert(ctx, row)
	}
	return nil
}

// Clear implements Projection.
func (p *ChartOfAccounts) Clear(ctx context.Context, db DB, tenantID int64) error {
	return db.Accounts().DeleteForTenant(ctx, tenantID)
}

// normalBalance maps an account type to its normal balance direction.
func normalBalance(accountType string) string {
	switch accountType {
	case "ASSET", "EXPENSE":
		return "DEBIT"
	default:
		return "CREDIT"
	}
}
