// Copyright (C) 2025 Ledgerhouse, Inc.
// See LICENSE for copying information.

package events_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"ledgerhouse.io/ledgerhouse/ledger/aggregates"
	"ledgerhouse.io/ledgerhouse/ledger/events"
	"ledgerhouse.io/ledgerhouse/ledger/ledgertest"
	"ledgerhouse.io/ledgerhouse/ledger/writebarrier"
)

func accountParams(code, key string) events.EmitParams {
	return events.EmitParams{
		Type:          events.TypeAccountCreated,
		AggregateType: events.AggregateAccount,
		AggregateID:   "acct-" + code,
		Data: map[string]interface{}{
			"public_id":    "acct-" + code,
			"code":         code,
			"name":         "Account " + code,
			"account_type": "ASSET",
		},
		IdempotencyKey: key,
		Origin:         events.OriginHuman,
	}
}

func TestEmitIdempotent(t *testing.T) {
	ctx := context.Background()
	fixture := ledgertest.New(ctx, t, ledgertest.WithoutSyncProjections())
	emitCtx := writebarrier.With(fixture.Ctx, writebarrier.Command)

	first, err := fixture.Emitter.Emit(emitCtx, accountParams("1000", "account.create:abc"))
	require.NoError(t, err)

	before, err := fixture.DB.Events().MaxStreamSeq(ctx, fixture.Company.ID)
	require.NoError(t, err)

	second, err := fixture.Emitter.Emit(emitCtx, accountParams("1000", "account.create:abc"))
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, first.StreamSeq, second.StreamSeq)

	after, err := fixture.DB.Events().MaxStreamSeq(ctx, fixture.Company.ID)
	require.NoError(t, err)
	require.Equal(t, before, after, "idempotent replay must not burn a sequence")
}

func TestEmitRequiresWriteContext(t *testing.T) {
	ctx := context.Background()
	fixture := ledgertest.New(ctx, t, ledgertest.WithoutSyncProjections())

	_, err := fixture.Emitter.Emit(fixture.Ctx, accountParams("1000", "account.create:nobarrier"))
	require.Error(t, err)
	require.True(t, writebarrier.Error.Has(err))
}

func TestEmitValidatesPayload(t *testing.T) {
	ctx := context.Background()
	fixture := ledgertest.New(ctx, t, ledgertest.WithoutSyncProjections())
	emitCtx := writebarrier.With(fixture.Ctx, writebarrier.Command)

	params := accountParams("1000", "account.create:bad")
	delete(params.Data, "code")
	_, err := fixture.Emitter.Emit(emitCtx, params)
	require.Error(t, err)
	require.True(t, events.ErrValidation.Has(err))
}

func TestStreamSeqContiguous(t *testing.T) {
	ctx := context.Background()
	fixture := ledgertest.New(ctx, t, ledgertest.WithoutSyncProjections())
	emitCtx := writebarrier.With(fixture.Ctx, writebarrier.Command)

	base, err := fixture.DB.Events().MaxStreamSeq(ctx, fixture.Company.ID)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		code := fmt.Sprintf("10%02d", i)
		event, err := fixture.Emitter.Emit(emitCtx, accountParams(code, "account.create:"+code))
		require.NoError(t, err)
		require.Equal(t, base+int64(i)+1, event.StreamSeq)
		require.Equal(t, int64(1), event.AggregateSeq)
	}
}

func TestExternalPayloadStorage(t *testing.T) {
	ctx := context.Background()
	fixture := ledgertest.New(ctx, t,
		ledgertest.WithoutSyncProjections(),
		ledgertest.WithEmitterConfig(events.Config{InlineThresholdBytes: 64, MaxLinesPerChunk: 500}),
	)
	emitCtx := writebarrier.With(fixture.Ctx, writebarrier.Command)

	params := accountParams("2000", "account.create:big")
	params.Data["description"] = "a very long account description that pushes the canonical payload size well past the configured inline threshold"

	event, err := fixture.Emitter.Emit(emitCtx, params)
	require.NoError(t, err)
	require.Equal(t, events.StorageExternal, event.Storage)
	require.NotNil(t, event.PayloadRef)
	require.Nil(t, event.Data)

	blob, err := fixture.DB.Payloads().Get(ctx, fixture.Company.ID, *event.PayloadRef)
	require.NoError(t, err)
	require.Equal(t, event.PayloadHash, blob.ContentHash)
	require.Equal(t, "2000", blob.Payload["code"])
}

func TestExternalPayloadDedup(t *testing.T) {
	ctx := context.Background()
	fixture := ledgertest.New(ctx, t, ledgertest.WithoutSyncProjections())

	payload := map[string]interface{}{"k": "v", "n": float64(42)}
	first, err := fixture.DB.Payloads().Store(ctx, fixture.Company.ID, payload)
	require.NoError(t, err)
	second, err := fixture.DB.Payloads().Store(ctx, fixture.Company.ID, payload)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, first.ContentHash, second.ContentHash)
}

func TestEmitChunkedJournal(t *testing.T) {
	ctx := context.Background()
	fixture := ledgertest.New(ctx, t,
		ledgertest.WithoutSyncProjections(),
		ledgertest.WithEmitterConfig(events.Config{InlineThresholdBytes: 32 * 1024, MaxLinesPerChunk: 10}),
	)
	emitCtx := writebarrier.With(fixture.Ctx, writebarrier.Command)

	lines := make([]map[string]interface{}, 0, 25)
	for i := 0; i < 25; i++ {
		debit, credit := "10.00", "0"
		if i%2 == 1 {
			debit, credit = "0", "10.00"
		}
		lines = append(lines, map[string]interface{}{
			"account_code": fmt.Sprintf("4%03d", i),
			"debit":        debit,
			"credit":       credit,
		})
	}

	result, err := fixture.Emitter.EmitChunkedJournal(emitCtx, events.ChunkedJournalParams{
		PublicID:         "je-chunked-1",
		Date:             "2026-03-15",
		Currency:         "USD",
		Kind:             aggregates.KindStandard,
		Lines:            lines,
		FinalStatus:      aggregates.StatusDraft,
		Origin:           events.OriginBatch,
		IdempotencyScope: "batch:test:journal:1",
	})
	require.NoError(t, err)
	require.Len(t, result.Chunks, 3)
	require.Equal(t, events.StorageChunked, result.Created.Storage)

	for _, chunk := range result.Chunks {
		require.NotNil(t, chunk.CausedByEventID)
		require.Equal(t, result.Created.ID, *chunk.CausedByEventID)
	}
	require.NotNil(t, result.Finalized.CausedByEventID)
	require.Equal(t, result.Created.ID, *result.Finalized.CausedByEventID)

	// a retried emission reproduces the same events
	again, err := fixture.Emitter.EmitChunkedJournal(emitCtx, events.ChunkedJournalParams{
		PublicID:         "je-chunked-1",
		Date:             "2026-03-15",
		Currency:         "USD",
		Kind:             aggregates.KindStandard,
		Lines:            lines,
		FinalStatus:      aggregates.StatusDraft,
		Origin:           events.OriginBatch,
		IdempotencyScope: "batch:test:journal:1",
	})
	require.NoError(t, err)
	require.Equal(t, result.Created.ID, again.Created.ID)
	require.Equal(t, result.Finalized.ID, again.Finalized.ID)

	entry, err := aggregates.LoadJournalEntry(ctx, fixture.DB.Events(), fixture.Company.ID, "je-chunked-1")
	require.NoError(t, err)
	require.True(t, entry.Exists)
	require.Equal(t, aggregates.StatusDraft, entry.Status)
	require.Len(t, entry.Lines, 25)
}
