// Copyright (C) 2025 Ledgerhouse, Inc.
// See LICENSE for copying information.

package commands

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"ledgerhouse.io/ledgerhouse/ledger/events"
	"ledgerhouse.io/ledgerhouse/ledger/tenants"
	"ledgerhouse.io/ledgerhouse/ledger/writebarrier"
)

// OpenImportBatch starts a bulk ingestion batch.
type OpenImportBatch struct {
	Source      string
	Description string
	// BatchKey is the caller's stable identifier for this ingestion run.
	BatchKey string
}

// OpenImportBatch emits import_batch.opened. The batch key makes a
// retried open return the same batch.
func (service *Service) OpenImportBatch(ctx context.Context, cmd OpenImportBatch) (_ *Result, err error) {
	defer mon.Task()(&ctx)(&err)

	tc, err := tenants.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	if cmd.BatchKey == "" {
		return nil, Error.New("batch key is required")
	}

	publicID := uuid.NewString()
	data := map[string]interface{}{
		"public_id": publicID,
		"source":    cmd.Source,
	}
	if cmd.Description != "" {
		data["description"] = cmd.Description
	}

	key, err := IntentKey("batch.open", map[string]interface{}{
		"tenant":    tc.TenantID,
		"batch_key": cmd.BatchKey,
	})
	if err != nil {
		return nil, err
	}

	ctx = writebarrier.With(ctx, writebarrier.Command)
	event, err := service.emitter.Emit(ctx, events.EmitParams{
		Type:           events.TypeImportBatchOpened,
		AggregateType:  events.AggregateImportBatch,
		AggregateID:    publicID,
		Data:           data,
		IdempotencyKey: key,
		Origin:         events.OriginBatch,
		ExternalSource: cmd.Source,
		ExternalID:     cmd.BatchKey,
	})
	if err != nil {
		return nil, err
	}
	if err := service.afterCommit(ctx, tc.TenantID); err != nil {
		return nil, err
	}
	return &Result{Event: event, PublicID: str(event.Data, "public_id")}, nil
}

// StageRecords appends raw source records to an open batch. Large
// record sets move to external payload storage automatically.
type StageRecords struct {
	BatchPublicID string
	BatchKey      string
	// ChunkIndex orders repeated staging calls within one batch.
	ChunkIndex int
	Records    []map[string]interface{}
}

// StageRecords emits import_batch.records_staged.
func (service *Service) StageRecords(ctx context.Context, cmd StageRecords) (_ *Result, err error) {
	defer mon.Task()(&ctx)(&err)

	tc, err := tenants.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	if len(cmd.Records) == 0 {
		return nil, Error.New("no records to stage")
	}

	records := make([]interface{}, 0, len(cmd.Records))
	for _, record := range cmd.Records {
		records = append(records, record)
	}

	key, err := IntentKey("batch.stage", map[string]interface{}{
		"tenant":    tc.TenantID,
		"batch_key": cmd.BatchKey,
		"chunk":     cmd.ChunkIndex,
	})
	if err != nil {
		return nil, err
	}

	ctx = writebarrier.With(ctx, writebarrier.Command)
	event, err := service.emitter.Emit(ctx, events.EmitParams{
		Type:          events.TypeImportBatchRecordsStaged,
		AggregateType: events.AggregateImportBatch,
		AggregateID:   cmd.BatchPublicID,
		Data: map[string]interface{}{
			"public_id":    cmd.BatchPublicID,
			"record_count": len(cmd.Records),
			"records":      records,
		},
		IdempotencyKey: key,
		Origin:         events.OriginBatch,
	})
	if err != nil {
		return nil, err
	}
	if err := service.afterCommit(ctx, tc.TenantID); err != nil {
		return nil, err
	}
	return &Result{Event: event, PublicID: cmd.BatchPublicID}, nil
}

// BatchJournal is one journal produced by mapping a batch's records.
type BatchJournal struct {
	Date     string
	Currency string
	Memo     string
	Lines    []Line
	// SourceRef identifies the record(s) this journal came from; it
	// keys the per-journal idempotency scope.
	SourceRef string
	// Post finalizes the journal immediately after emission.
	Post bool
}

// CommitResult summarizes one committed batch.
type CommitResult struct {
	Batch        *Result
	JournalCount int
	Rejected     []RejectedJournal
}

// RejectedJournal records one journal the commit refused.
type RejectedJournal struct {
	SourceRef string
	Reason    string
}

// CommitImportBatch emits the batch's journals and closes the batch.
// Journals exceeding the chunk threshold go through chunked emission;
// unbalanced journals are rejected individually without failing the
// whole batch. The commit itself is replay-safe: every emitted event is
// keyed by the batch key and source ref.
func (service *Service) CommitImportBatch(ctx context.Context, batchPublicID, batchKey string, recordCount int, journals []BatchJournal) (_ *CommitResult, err error) {
	defer mon.Task()(&ctx)(&err)

	tc, err := tenants.FromContext(ctx)
	if err != nil {
		return nil, err
	}

	result := &CommitResult{}
	ctx = writebarrier.With(ctx, writebarrier.Command)

	for index, journal := range journals {
		ref := journal.SourceRef
		if ref == "" {
			ref = strconv.Itoa(index)
		}
		if err := service.emitBatchJournal(ctx, tc, batchKey, ref, journal); err != nil {
			if ErrUnbalanced.Has(err) || Error.Has(err) {
				result.Rejected = append(result.Rejected, RejectedJournal{SourceRef: ref, Reason: err.Error()})
				continue
			}
			return nil, err
		}
		result.JournalCount++
	}

	key, err := IntentKey("batch.commit", map[string]interface{}{
		"tenant":    tc.TenantID,
		"batch_key": batchKey,
	})
	if err != nil {
		return nil, err
	}
	committed, err := service.emitter.Emit(ctx, events.EmitParams{
		Type:          events.TypeImportBatchCommitted,
		AggregateType: events.AggregateImportBatch,
		AggregateID:   batchPublicID,
		Data: map[string]interface{}{
			"public_id":      batchPublicID,
			"record_count":   recordCount,
			"journal_count":  result.JournalCount,
			"rejected_count": len(result.Rejected),
		},
		IdempotencyKey: key,
		Origin:         events.OriginBatch,
	})
	if err != nil {
		return nil, err
	}
	result.Batch = &Result{Event: committed, PublicID: batchPublicID}

	if err := service.afterCommit(ctx, tc.TenantID); err != nil {
		return nil, err
	}
	return result, nil
}

func (service *Service) emitBatchJournal(ctx context.Context, tc *tenants.Context, batchKey, ref string, journal BatchJournal) error {
	if err := validateLines(journal.Lines); err != nil {
		return err
	}
	debit, credit := totals(journal.Lines)
	if !debit.Equal(credit) || debit.IsZero() {
		return ErrUnbalanced.New("debits %s, credits %s", debit, credit)
	}

	scope := "batch:" + batchKey + ":journal:" + ref
	publicID := uuid.NewString()

	if len(journal.Lines) > service.chunkThreshold() {
		finalStatus := "DRAFT"
		if journal.Post {
			finalStatus = "POSTED"
		}
		_, err := service.emitter.EmitChunkedJournal(ctx, events.ChunkedJournalParams{
			PublicID:         publicID,
			Date:             journal.Date,
			Currency:         journal.Currency,
			Kind:             "STANDARD",
			Memo:             journal.Memo,
			Lines:            linesPayload(journal.Lines),
			FinalStatus:      finalStatus,
			Origin:           events.OriginBatch,
			IdempotencyScope: scope,
		})
		return err
	}

	data := map[string]interface{}{
		"public_id": publicID,
		"date":      journal.Date,
		"currency":  journal.Currency,
		"kind":      "STANDARD",
		"lines":     linesPayload(journal.Lines),
	}
	if journal.Memo != "" {
		data["memo"] = journal.Memo
	}
	created, err := service.emitter.Emit(ctx, events.EmitParams{
		Type:           events.TypeJournalEntryCreated,
		AggregateType:  events.AggregateJournalEntry,
		AggregateID:    publicID,
		Data:           data,
		IdempotencyKey: scope + ":created",
		Origin:         events.OriginBatch,
	})
	if err != nil {
		return err
	}
	if !journal.Post {
		return nil
	}

	// batch postings share the gapless entry number sequence
	number, err := service.sequences.Next(ctx, tc.TenantID, "journal_entry")
	if err != nil {
		return Error.Wrap(err)
	}
	entryID := str(created.Data, "public_id")
	_, err = service.emitter.Emit(ctx, events.EmitParams{
		Type:          events.TypeJournalEntryPosted,
		AggregateType: events.AggregateJournalEntry,
		AggregateID:   entryID,
		Data: map[string]interface{}{
			"public_id":    entryID,
			"entry_number": fmt.Sprintf("%s-%06d", service.config.EntryNumberPrefix, number),
			"lines":        linesPayload(journal.Lines),
		},
		IdempotencyKey:  scope + ":posted",
		Origin:          events.OriginBatch,
		CausedByEventID: &created.ID,
	})
	return err
}

func (service *Service) chunkThreshold() int {
	return service.emitter.MaxLinesPerChunk()
}
