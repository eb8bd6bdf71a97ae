// Copyright (C) 2025 Ledgerhouse, Inc.
// See LICENSE for copying information.

package projections

import (
	"context"

	"github.com/shopspring/decimal"

	"ledgerhouse.io/ledgerhouse/ledger/events"
)

// JournalEntries maintains the journal entry and line read models,
// covering both the single-event lifecycle and the chunked batch path.
type JournalEntries struct{}

// NewJournalEntries creates the projection.
func NewJournalEntries() *JournalEntries { return &JournalEntries{} }

// Name implements Projection.
func (p *JournalEntries) Name() string { return "journal_entries" }

// EventTypes implements Projection.
func (p *JournalEntries) EventTypes() []string {
	return []string{
		events.TypeJournalEntryCreated,
		events.TypeJournalEntryUpdated,
		events.TypeJournalEntrySavedComplete,
		events.TypeJournalEntryPosted,
		events.TypeJournalEntryReversed,
		events.TypeJournalEntryDeleted,
		events.TypeJournalEntryLineAnalysisSet,
		events.TypeJournalCreated,
		events.TypeJournalLinesChunkAdded,
		events.TypeJournalFinalized,
	}
}

// Handle implements Projection.
func (p *JournalEntries) Handle(ctx context.Context, db DB, event *events.Event) error {
	data := event.Data
	publicID := str(data, "public_id")
	journals := db.Journals()

	switch event.Type {
	case events.TypeJournalEntryCreated, events.TypeJournalCreated:
		row := &JournalRow{
			TenantID:      event.TenantID,
			PublicID:      publicID,
			Date:          str(data, "date"),
			Currency:      str(data, "currency"),
			Kind:          str(data, "kind"),
			Memo:          str(data, "memo"),
			ReversesEntry: str(data, "reverses_entry"),
			Status:        "INCOMPLETE",
			UpdatedAt:     event.OccurredAt,
		}
		lines := parseLineRows(data["lines"], event.TenantID, publicID, 0)
		if len(lines) > 0 {
			row.Status = "DRAFT"
			row.TotalDebit, row.TotalCredit = sumLines(lines)
			row.LineCount = len(lines)
		}
		if err := journals.UpsertEntry(ctx, row); err != nil {
			return err
		}
		if len(lines) > 0 {
			return journals.ReplaceLines(ctx, event.TenantID, publicID, lines)
		}
		return nil

	case events.TypeJournalEntryUpdated:
		row, err := journals.GetEntry(ctx, event.TenantID, publicID)
		if err != nil {
			return err
		}
		if row == nil {
			return nil
		}
		changes, _ := data["changes"].(map[string]interface{})
		for field, change := range changes {
			value := changeValue(change)
			switch field {
			case "date":
				row.Date = value
			case "memo":
				row.Memo = value
			case "currency":
				row.Currency = value
			}
		}
		row.UpdatedAt = event.OccurredAt
		return journals.UpsertEntry(ctx, row)

	case events.TypeJournalEntrySavedComplete:
		row, err := journals.GetEntry(ctx, event.TenantID, publicID)
		if err != nil {
			return err
		}
		if row == nil {
			return nil
		}
		lines := parseLineRows(data["lines"], event.TenantID, publicID, 0)
		row.Status = "DRAFT"
		row.TotalDebit, row.TotalCredit = sumLines(lines)
		row.LineCount = len(lines)
		row.UpdatedAt = event.OccurredAt
		if err := journals.UpsertEntry(ctx, row); err != nil {
			return err
		}
		return journals.ReplaceLines(ctx, event.TenantID, publicID, lines)

	case events.TypeJournalEntryPosted:
		row, err := journals.GetEntry(ctx, event.TenantID, publicID)
		if err != nil {
			return err
		}
		if row == nil {
			return nil
		}
		lines := parseLineRows(data["lines"], event.TenantID, publicID, 0)
		row.Status = "POSTED"
		row.EntryNumber = str(data, "entry_number")
		row.TotalDebit, row.TotalCredit = sumLines(lines)
		row.LineCount = len(lines)
		row.UpdatedAt = event.OccurredAt
		if err := journals.UpsertEntry(ctx, row); err != nil {
			return err
		}
		return journals.ReplaceLines(ctx, event.TenantID, publicID, lines)

	case events.TypeJournalEntryReversed:
		row, err := journals.GetEntry(ctx, event.TenantID, publicID)
		if err != nil {
			return err
		}
		if row == nil {
			return nil
		}
		row.Status = "REVERSED"
		row.UpdatedAt = event.OccurredAt
		return journals.UpsertEntry(ctx, row)

	case events.TypeJournalEntryDeleted:
		return journals.DeleteEntry(ctx, event.TenantID, publicID)

	case events.TypeJournalEntryLineAnalysisSet:
		dims, _ := data["dimensions"].(map[string]interface{})
		set := make(map[string]string, len(dims))
		for code, value := range dims {
			if s, ok := value.(string); ok {
				set[code] = s
			}
		}
		return journals.SetLineDimensions(ctx, event.TenantID, publicID, integer(data, "line_index"), set)

	case events.TypeJournalLinesChunkAdded:
		row, err := journals.GetEntry(ctx, event.TenantID, publicID)
		if err != nil {
			return err
		}
		if row == nil {
			return nil
		}
		lines := parseLineRows(data["lines"], event.TenantID, publicID, row.LineCount)
		debit, credit := sumLines(lines)
		row.TotalDebit = row.TotalDebit.Add(debit)
		row.TotalCredit = row.TotalCredit.Add(credit)
		row.LineCount += len(lines)
		row.UpdatedAt = event.OccurredAt
		if err := journals.UpsertEntry(ctx, row); err != nil {
			return err
		}
		return journals.AppendLines(ctx, event.TenantID, publicID, lines)

	case events.TypeJournalFinalized:
		row, err := journals.GetEntry(ctx, event.TenantID, publicID)
		if err != nil {
			return err
		}
		if row == nil {
			return nil
		}
		row.Status = str(data, "final_status")
		row.TotalDebit = amount(data, "total_debit")
		row.TotalCredit = amount(data, "total_credit")
		row.LineCount = integer(data, "line_count")
		row.UpdatedAt = event.OccurredAt
		return journals.UpsertEntry(ctx, row)
	}
	return nil
}

// Clear implements Projection.
func (p *JournalEntries) Clear(ctx context.Context, db DB, tenantID int64) error {
	return db.Journals().DeleteForTenant(ctx, tenantID)
}

func sumLines(lines []*JournalLineRow) (debit, credit decimal.Decimal) {
	debit, credit = decimal.Zero, decimal.Zero
	for _, line := range lines {
		debit = debit.Add(line.Debit)
		credit = credit.Add(line.Credit)
	}
	return debit, credit
}
