// Copyright (C) 2025 Ledgerhouse, Inc.
// See LICENSE for copying information.

package projections

import (
	"context"

	"github.com/shopspring/decimal"

	"ledgerhouse.io/ledgerhouse/ledger/events"
)

// AccountBalances maintains running debit/credit totals per account.
// Only posted activity counts: the projection folds journal_entry.posted
// lines in and keeps zero-balance rows for every known account. Memo
// lines with zero on both sides are skipped.
//
// The store's ApplyPosting serializes concurrent workers and re-checks
// the applied event id after taking the row lock, so a posting is never
// folded in twice even when two workers race past the applied ledger.
type AccountBalances struct{}

// NewAccountBalances creates the projection.
func NewAccountBalances() *AccountBalances { return &AccountBalances{} }

// Name implements Projection.
func (p *AccountBalances) Name() string { return "account_balances" }

// EventTypes implements Projection.
func (p *AccountBalances) EventTypes() []string {
	return []string{
		events.TypeAccountCreated,
		events.TypeJournalEntryPosted,
	}
}

// Handle implements Projection.
func (p *AccountBalances) Handle(ctx context.Context, db DB, event *events.Event) error {
	data := event.Data

	switch event.Type {
	case events.TypeAccountCreated:
		// zero-amount posting seeds the row with its normal balance
		_, err := db.Balances().ApplyPosting(ctx,
			event.TenantID,
			str(data, "code"),
			normalBalance(str(data, "account_type")),
			decimal.Zero, decimal.Zero,
			event.ID,
		)
		return err

	case events.TypeJournalEntryPosted:
		lines := parseLineRows(data["lines"], event.TenantID, str(data, "public_id"), 0)

		// One ApplyPosting per account: the last-event-id check would
		// otherwise drop a second line hitting the same account.
		type sums struct{ debit, credit decimal.Decimal }
		order := []string{}
		byAccount := map[string]*sums{}
		for _, line := range lines {
			if line.Debit.IsZero() && line.Credit.IsZero() {
				continue
			}
			s, ok := byAccount[line.AccountCode]
			if !ok {
				s = &sums{debit: decimal.Zero, credit: decimal.Zero}
				byAccount[line.AccountCode] = s
				order = append(order, line.AccountCode)
			}
			s.debit = s.debit.Add(line.Debit)
			s.credit = s.credit.Add(line.Credit)
		}

		for _, code := range order {
			row, err := db.Balances().Get(ctx, event.TenantID, code)
			if err != nil {
				return err
			}
			direction := "DEBIT"
			if row != nil {
				direction = row.NormalBalance
			}
			s := byAccount[code]
			if _, err := db.Balances().ApplyPosting(ctx,
				event.TenantID, code, direction,
				s.debit, s.credit, event.ID,
			); err != nil {
				return err
			}
		}
		return nil
	}
	return nil
}

// Clear implements Projection.
func (p *AccountBalances) Clear(ctx context.Context, db DB, tenantID int64) error {
	return db.Balances().DeleteForTenant(ctx, tenantID)
}
