// Copyright (C) 2025 Ledgerhouse, Inc.
// See LICENSE for copying information.

package commands

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ledgerhouse.io/ledgerhouse/ledger/aggregates"
	"ledgerhouse.io/ledgerhouse/ledger/events"
	"ledgerhouse.io/ledgerhouse/ledger/tenants"
	"ledgerhouse.io/ledgerhouse/ledger/writebarrier"
)

// Line is one journal line in a command.
type Line struct {
	AccountCode string
	Debit       decimal.Decimal
	Credit      decimal.Decimal
	Memo        string
}

func linesPayload(lines []Line) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(lines))
	for _, line := range lines {
		row := map[string]interface{}{
			"account_code": line.AccountCode,
			"debit":        line.Debit.String(),
			"credit":       line.Credit.String(),
		}
		if line.Memo != "" {
			row["memo"] = line.Memo
		}
		out = append(out, row)
	}
	return out
}

func totals(lines []Line) (debit, credit decimal.Decimal) {
	debit, credit = decimal.Zero, decimal.Zero
	for _, line := range lines {
		debit = debit.Add(line.Debit)
		credit = credit.Add(line.Credit)
	}
	return debit, credit
}

// validateLines refuses negative amounts and lines carrying both sides.
func validateLines(lines []Line) error {
	for i, line := range lines {
		if line.AccountCode == "" {
			return Error.New("line %d: account code is required", i)
		}
		if line.Debit.IsNegative() || line.Credit.IsNegative() {
			return Error.New("line %d: negative amounts are not allowed", i)
		}
		if !line.Debit.IsZero() && !line.Credit.IsZero() {
			return Error.New("line %d: a line is either debit or credit, not both", i)
		}
	}
	return nil
}

// CreateJournalEntry opens a journal entry. Lines are optional; an
// entry created without lines is INCOMPLETE until saved complete.
type CreateJournalEntry struct {
	Date           string
	Currency       string
	Memo           string
	Lines          []Line
	ExternalSource string
	ExternalID     string
	Origin         events.Origin
}

// CreateJournalEntry emits journal_entry.created.
func (service *Service) CreateJournalEntry(ctx context.Context, cmd CreateJournalEntry) (_ *Result, err error) {
	defer mon.Task()(&ctx)(&err)

	tc, err := tenants.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := validateLines(cmd.Lines); err != nil {
		return nil, err
	}

	publicID := uuid.NewString()
	data := map[string]interface{}{
		"public_id": publicID,
		"date":      cmd.Date,
		"currency":  cmd.Currency,
		"kind":      aggregates.KindStandard,
	}
	if cmd.Memo != "" {
		data["memo"] = cmd.Memo
	}
	if len(cmd.Lines) > 0 {
		data["lines"] = linesPayload(cmd.Lines)
	}

	intent := map[string]interface{}{
		"tenant": tc.TenantID,
		"date":   cmd.Date,
		"memo":   cmd.Memo,
		"lines":  linesPayload(cmd.Lines),
	}
	if cmd.ExternalID != "" {
		// external ingestion retries dedupe on the source identity
		intent = map[string]interface{}{
			"tenant":      tc.TenantID,
			"source":      cmd.ExternalSource,
			"external_id": cmd.ExternalID,
		}
	}
	key, err := IntentKey("journal.create", intent)
	if err != nil {
		return nil, err
	}

	ctx = writebarrier.With(ctx, writebarrier.Command)
	event, err := service.emitter.Emit(ctx, events.EmitParams{
		Type:           events.TypeJournalEntryCreated,
		AggregateType:  events.AggregateJournalEntry,
		AggregateID:    publicID,
		Data:           data,
		IdempotencyKey: key,
		Origin:         cmd.Origin,
		ExternalSource: cmd.ExternalSource,
		ExternalID:     cmd.ExternalID,
	})
	if err != nil {
		return nil, err
	}
	if err := service.afterCommit(ctx, tc.TenantID); err != nil {
		return nil, err
	}
	return &Result{Event: event, PublicID: str(event.Data, "public_id")}, nil
}

// UpdateJournalEntry changes header fields of a draft entry.
type UpdateJournalEntry struct {
	PublicID string
	Date     *string
	Memo     *string
	Currency *string
	Origin   events.Origin
}

// UpdateJournalEntry emits journal_entry.updated with a change diff.
// Posted and reversed entries are immutable.
func (service *Service) UpdateJournalEntry(ctx context.Context, cmd UpdateJournalEntry) (_ *Result, err error) {
	defer mon.Task()(&ctx)(&err)

	tc, err := tenants.FromContext(ctx)
	if err != nil {
		return nil, err
	}

	entry, err := service.loadMutableEntry(ctx, tc.TenantID, cmd.PublicID)
	if err != nil {
		return nil, err
	}

	changes := map[string]interface{}{}
	if cmd.Date != nil && *cmd.Date != entry.Date {
		changes["date"] = diff(entry.Date, *cmd.Date)
	}
	if cmd.Memo != nil && *cmd.Memo != entry.Memo {
		changes["memo"] = diff(entry.Memo, *cmd.Memo)
	}
	if cmd.Currency != nil && *cmd.Currency != entry.Currency {
		changes["currency"] = diff(entry.Currency, *cmd.Currency)
	}
	if len(changes) == 0 {
		return &Result{PublicID: cmd.PublicID}, nil
	}

	key, err := IntentKey("journal.update", map[string]interface{}{
		"tenant":    tc.TenantID,
		"public_id": cmd.PublicID,
		"changes":   changes,
	})
	if err != nil {
		return nil, err
	}

	ctx = writebarrier.With(ctx, writebarrier.Command)
	event, err := service.emitter.Emit(ctx, events.EmitParams{
		Type:          events.TypeJournalEntryUpdated,
		AggregateType: events.AggregateJournalEntry,
		AggregateID:   cmd.PublicID,
		Data: map[string]interface{}{
			"public_id": cmd.PublicID,
			"changes":   changes,
		},
		IdempotencyKey: key,
		Origin:         cmd.Origin,
	})
	if err != nil {
		return nil, err
	}
	if err := service.afterCommit(ctx, tc.TenantID); err != nil {
		return nil, err
	}
	return &Result{Event: event, PublicID: cmd.PublicID}, nil
}

// SaveJournalComplete replaces the full line set of a draft entry.
type SaveJournalComplete struct {
	PublicID string
	Lines    []Line
	Origin   events.Origin
}

// SaveJournalComplete emits journal_entry.saved_complete. The line set
// must balance; an unbalanced save is refused outright.
func (service *Service) SaveJournalComplete(ctx context.Context, cmd SaveJournalComplete) (_ *Result, err error) {
	defer mon.Task()(&ctx)(&err)

	tc, err := tenants.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := validateLines(cmd.Lines); err != nil {
		return nil, err
	}
	debit, credit := totals(cmd.Lines)
	if !debit.Equal(credit) || debit.IsZero() {
		return nil, ErrUnbalanced.New("debits %s, credits %s", debit, credit)
	}

	if _, err := service.loadMutableEntry(ctx, tc.TenantID, cmd.PublicID); err != nil {
		return nil, err
	}

	key, err := IntentKey("journal.save_complete", map[string]interface{}{
		"tenant":    tc.TenantID,
		"public_id": cmd.PublicID,
		"lines":     linesPayload(cmd.Lines),
	})
	if err != nil {
		return nil, err
	}

	ctx = writebarrier.With(ctx, writebarrier.Command)
	event, err := service.emitter.Emit(ctx, events.EmitParams{
		Type:          events.TypeJournalEntrySavedComplete,
		AggregateType: events.AggregateJournalEntry,
		AggregateID:   cmd.PublicID,
		Data: map[string]interface{}{
			"public_id":    cmd.PublicID,
			"lines":        linesPayload(cmd.Lines),
			"total_debit":  debit.String(),
			"total_credit": credit.String(),
		},
		IdempotencyKey: key,
		Origin:         cmd.Origin,
	})
	if err != nil {
		return nil, err
	}
	if err := service.afterCommit(ctx, tc.TenantID); err != nil {
		return nil, err
	}
	return &Result{Event: event, PublicID: cmd.PublicID}, nil
}

// PostJournalEntry finalizes a draft entry into the books.
type PostJournalEntry struct {
	PublicID string
	Origin   events.Origin
}

// PostJournalEntry emits journal_entry.posted. Only balanced drafts
// post; the entry date must fall in an open fiscal period; the entry
// number is allocated from a gapless per-tenant sequence.
func (service *Service) PostJournalEntry(ctx context.Context, cmd PostJournalEntry) (_ *Result, err error) {
	defer mon.Task()(&ctx)(&err)

	tc, err := tenants.FromContext(ctx)
	if err != nil {
		return nil, err
	}

	entry, err := aggregates.LoadJournalEntry(ctx, service.events, tc.TenantID, cmd.PublicID)
	if err != nil {
		return nil, err
	}
	if entry == nil || !entry.Exists || entry.Deleted {
		return nil, ErrNotFound.New("journal entry %s", cmd.PublicID)
	}
	if entry.Status != aggregates.StatusDraft {
		return nil, ErrConflict.New("journal entry %s is %s, only drafts post", cmd.PublicID, entry.Status)
	}
	if !entry.Balanced() {
		debit, credit := entry.Totals()
		return nil, ErrUnbalanced.New("debits %s, credits %s", debit, credit)
	}
	if err := service.checkPeriodOpen(ctx, tc.TenantID, entry.Date); err != nil {
		return nil, err
	}

	number, err := service.sequences.Next(ctx, tc.TenantID, "journal_entry")
	if err != nil {
		return nil, Error.Wrap(err)
	}
	entryNumber := fmt.Sprintf("%s-%06d", service.config.EntryNumberPrefix, number)

	lines := make([]Line, 0, len(entry.Lines))
	for _, line := range entry.Lines {
		lines = append(lines, Line{
			AccountCode: line.AccountCode,
			Debit:       line.Debit,
			Credit:      line.Credit,
			Memo:        line.Memo,
		})
	}

	key, err := IntentKey("journal.post", map[string]interface{}{
		"tenant":    tc.TenantID,
		"public_id": cmd.PublicID,
	})
	if err != nil {
		return nil, err
	}

	ctx = writebarrier.With(ctx, writebarrier.Command)
	event, err := service.emitter.Emit(ctx, events.EmitParams{
		Type:          events.TypeJournalEntryPosted,
		AggregateType: events.AggregateJournalEntry,
		AggregateID:   cmd.PublicID,
		Data: map[string]interface{}{
			"public_id":    cmd.PublicID,
			"entry_number": entryNumber,
			"lines":        linesPayload(lines),
		},
		IdempotencyKey: key,
		Origin:         cmd.Origin,
	})
	if err != nil {
		return nil, err
	}
	if err := service.afterCommit(ctx, tc.TenantID); err != nil {
		return nil, err
	}
	return &Result{Event: event, PublicID: cmd.PublicID}, nil
}

// ReverseJournalEntry reverses a posted entry by posting a mirrored
// REVERSAL entry and marking the original reversed.
type ReverseJournalEntry struct {
	PublicID string
	Date     string // reversal entry date; empty means the original date
	Memo     string
	Origin   events.Origin
}

// ReverseJournalEntry emits three linked events: the reversal entry's
// created and posted events, then journal_entry.reversed on the
// original caused by the reversal posting.
func (service *Service) ReverseJournalEntry(ctx context.Context, cmd ReverseJournalEntry) (_ *Result, err error) {
	defer mon.Task()(&ctx)(&err)

	tc, err := tenants.FromContext(ctx)
	if err != nil {
		return nil, err
	}

	original, err := aggregates.LoadJournalEntry(ctx, service.events, tc.TenantID, cmd.PublicID)
	if err != nil {
		return nil, err
	}
	if original == nil || !original.Exists || original.Deleted {
		return nil, ErrNotFound.New("journal entry %s", cmd.PublicID)
	}
	if original.Status != aggregates.StatusPosted {
		return nil, ErrConflict.New("journal entry %s is %s, only posted entries reverse", cmd.PublicID, original.Status)
	}

	date := cmd.Date
	if date == "" {
		date = original.Date
	}
	if err := service.checkPeriodOpen(ctx, tc.TenantID, date); err != nil {
		return nil, err
	}

	swapped := make([]Line, 0, len(original.Lines))
	for _, line := range original.Lines {
		swapped = append(swapped, Line{
			AccountCode: line.AccountCode,
			Debit:       line.Credit,
			Credit:      line.Debit,
			Memo:        line.Memo,
		})
	}

	reversalID := uuid.NewString()
	memo := cmd.Memo
	if memo == "" {
		memo = "Reversal of " + original.EntryNumber
	}

	createKey, err := IntentKey("journal.reverse.create", map[string]interface{}{
		"tenant":    tc.TenantID,
		"public_id": cmd.PublicID,
	})
	if err != nil {
		return nil, err
	}

	ctx = writebarrier.With(ctx, writebarrier.Command)
	created, err := service.emitter.Emit(ctx, events.EmitParams{
		Type:          events.TypeJournalEntryCreated,
		AggregateType: events.AggregateJournalEntry,
		AggregateID:   reversalID,
		Data: map[string]interface{}{
			"public_id":      reversalID,
			"date":           date,
			"currency":       original.Currency,
			"kind":           aggregates.KindReversal,
			"memo":           memo,
			"lines":          linesPayload(swapped),
			"reverses_entry": cmd.PublicID,
		},
		IdempotencyKey: createKey,
		Origin:         cmd.Origin,
	})
	if err != nil {
		return nil, err
	}
	// a retried reversal reuses the already created reversal entry
	reversalID = str(created.Data, "public_id")

	number, err := service.sequences.Next(ctx, tc.TenantID, "journal_entry")
	if err != nil {
		return nil, Error.Wrap(err)
	}
	postKey, err := IntentKey("journal.reverse.post", map[string]interface{}{
		"tenant":    tc.TenantID,
		"public_id": cmd.PublicID,
	})
	if err != nil {
		return nil, err
	}
	posted, err := service.emitter.Emit(ctx, events.EmitParams{
		Type:          events.TypeJournalEntryPosted,
		AggregateType: events.AggregateJournalEntry,
		AggregateID:   reversalID,
		Data: map[string]interface{}{
			"public_id":    reversalID,
			"entry_number": fmt.Sprintf("%s-%06d", service.config.EntryNumberPrefix, number),
			"lines":        linesPayload(swapped),
		},
		IdempotencyKey:  postKey,
		Origin:          cmd.Origin,
		CausedByEventID: &created.ID,
	})
	if err != nil {
		return nil, err
	}

	reversedKey, err := IntentKey("journal.reverse.mark", map[string]interface{}{
		"tenant":    tc.TenantID,
		"public_id": cmd.PublicID,
	})
	if err != nil {
		return nil, err
	}
	reversed, err := service.emitter.Emit(ctx, events.EmitParams{
		Type:          events.TypeJournalEntryReversed,
		AggregateType: events.AggregateJournalEntry,
		AggregateID:   cmd.PublicID,
		Data: map[string]interface{}{
			"public_id":          cmd.PublicID,
			"reversal_public_id": reversalID,
		},
		IdempotencyKey:  reversedKey,
		Origin:          cmd.Origin,
		CausedByEventID: &posted.ID,
	})
	if err != nil {
		return nil, err
	}
	if err := service.afterCommit(ctx, tc.TenantID); err != nil {
		return nil, err
	}
	return &Result{Event: reversed, PublicID: reversalID}, nil
}

// DeleteJournalEntry soft-deletes an unposted entry. The events remain;
// only projections forget it.
type DeleteJournalEntry struct {
	PublicID string
	Origin   events.Origin
}

// DeleteJournalEntry emits journal_entry.deleted for drafts and
// incomplete entries. Posted entries never delete; they reverse.
func (service *Service) DeleteJournalEntry(ctx context.Context, cmd DeleteJournalEntry) (_ *Result, err error) {
	defer mon.Task()(&ctx)(&err)

	tc, err := tenants.FromContext(ctx)
	if err != nil {
		return nil, err
	}

	if _, err := service.loadMutableEntry(ctx, tc.TenantID, cmd.PublicID); err != nil {
		return nil, err
	}

	key, err := IntentKey("journal.delete", map[string]interface{}{
		"tenant":    tc.TenantID,
		"public_id": cmd.PublicID,
	})
	if err != nil {
		return nil, err
	}

	ctx = writebarrier.With(ctx, writebarrier.Command)
	event, err := service.emitter.Emit(ctx, events.EmitParams{
		Type:           events.TypeJournalEntryDeleted,
		AggregateType:  events.AggregateJournalEntry,
		AggregateID:    cmd.PublicID,
		Data:           map[string]interface{}{"public_id": cmd.PublicID},
		IdempotencyKey: key,
		Origin:         cmd.Origin,
	})
	if err != nil {
		return nil, err
	}
	if err := service.afterCommit(ctx, tc.TenantID); err != nil {
		return nil, err
	}
	return &Result{Event: event, PublicID: cmd.PublicID}, nil
}

// SetLineAnalysis attaches dimension values to one journal line.
type SetLineAnalysis struct {
	PublicID   string
	LineIndex  int
	Dimensions map[string]string
	Origin     events.Origin
}

// SetLineAnalysis emits journal_entry.line_analysis_set. Analysis may
// change after posting; it annotates, it does not alter amounts.
func (service *Service) SetLineAnalysis(ctx context.Context, cmd SetLineAnalysis) (_ *Result, err error) {
	defer mon.Task()(&ctx)(&err)

	tc, err := tenants.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	if len(cmd.Dimensions) == 0 {
		return nil, Error.New("at least one dimension value is required")
	}

	entry, err := aggregates.LoadJournalEntry(ctx, service.events, tc.TenantID, cmd.PublicID)
	if err != nil {
		return nil, err
	}
	if entry == nil || !entry.Exists || entry.Deleted {
		return nil, ErrNotFound.New("journal entry %s", cmd.PublicID)
	}
	if cmd.LineIndex < 0 || cmd.LineIndex >= len(entry.Lines) {
		return nil, Error.New("line index %d out of range (%d lines)", cmd.LineIndex, len(entry.Lines))
	}

	dims := make(map[string]interface{}, len(cmd.Dimensions))
	for code, value := range cmd.Dimensions {
		dims[code] = value
	}

	key, err := IntentKey("journal.line_analysis", map[string]interface{}{
		"tenant":     tc.TenantID,
		"public_id":  cmd.PublicID,
		"line_index": cmd.LineIndex,
		"dimensions": dims,
	})
	if err != nil {
		return nil, err
	}

	ctx = writebarrier.With(ctx, writebarrier.Command)
	event, err := service.emitter.Emit(ctx, events.EmitParams{
		Type:          events.TypeJournalEntryLineAnalysisSet,
		AggregateType: events.AggregateJournalEntry,
		AggregateID:   cmd.PublicID,
		Data: map[string]interface{}{
			"public_id":  cmd.PublicID,
			"line_index": cmd.LineIndex,
			"dimensions": dims,
		},
		IdempotencyKey: key,
		Origin:         cmd.Origin,
	})
	if err != nil {
		return nil, err
	}
	if err := service.afterCommit(ctx, tc.TenantID); err != nil {
		return nil, err
	}
	return &Result{Event: event, PublicID: cmd.PublicID}, nil
}

// loadMutableEntry loads an entry that may still change: it exists, is
// not deleted, and has not been posted or reversed.
func (service *Service) loadMutableEntry(ctx context.Context, tenantID int64, publicID string) (*aggregates.JournalEntry, error) {
	entry, err := aggregates.LoadJournalEntry(ctx, service.events, tenantID, publicID)
	if err != nil {
		return nil, err
	}
	if entry == nil || !entry.Exists || entry.Deleted {
		return nil, ErrNotFound.New("journal entry %s", publicID)
	}
	if entry.Status == aggregates.StatusPosted || entry.Status == aggregates.StatusReversed {
		return nil, ErrConflict.New("journal entry %s is %s and immutable", publicID, entry.Status)
	}
	return entry, nil
}

// checkPeriodOpen refuses dates falling in a closed fiscal period. A
// date outside any defined period is allowed.
func (service *Service) checkPeriodOpen(ctx context.Context, tenantID int64, date string) error {
	if service.periods == nil {
		return nil
	}
	period, err := service.periods.ForDate(ctx, tenantID, date)
	if err != nil {
		return Error.Wrap(err)
	}
	if period != nil && period.Closed {
		return ErrPeriodClosed.New("period %s is closed for %s", period.PeriodKey, date)
	}
	return nil
}
