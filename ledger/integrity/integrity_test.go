// Copyright (C) 2025 Ledgerhouse, Inc.
// See LICENSE for copying information.

package integrity_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"ledgerhouse.io/ledgerhouse/ledger/aggregates"
	"ledgerhouse.io/ledgerhouse/ledger/commands"
	"ledgerhouse.io/ledgerhouse/ledger/events"
	"ledgerhouse.io/ledgerhouse/ledger/integrity"
	"ledgerhouse.io/ledgerhouse/ledger/ledgertest"
	"ledgerhouse.io/ledgerhouse/ledger/writebarrier"
)

func verifier(t *testing.T, fixture *ledgertest.Fixture) *integrity.Verifier {
	return integrity.NewVerifier(zaptest.NewLogger(t),
		fixture.DB.Events(), fixture.DB.Payloads(), integrity.Config{})
}

func seedStream(t *testing.T, fixture *ledgertest.Fixture) {
	t.Helper()
	_, err := fixture.Service.CreateAccount(fixture.Ctx, commands.CreateAccount{
		Code: "1000", Name: "Cash", AccountType: "ASSET", Origin: events.OriginHuman,
	})
	require.NoError(t, err)
	_, err = fixture.Service.CreateAccount(fixture.Ctx, commands.CreateAccount{
		Code: "4000", Name: "Revenue", AccountType: "REVENUE", Origin: events.OriginHuman,
	})
	require.NoError(t, err)
}

func emitChunked(t *testing.T, fixture *ledgertest.Fixture, publicID string, lineCount int) *events.ChunkedJournalResult {
	t.Helper()
	lines := make([]map[string]interface{}, 0, lineCount)
	for i := 0; i < lineCount; i++ {
		debit, credit := "1.00", "0"
		if i%2 == 1 {
			debit, credit = "0", "1.00"
		}
		lines = append(lines, map[string]interface{}{
			"account_code": fmt.Sprintf("5%03d", i),
			"debit":        debit,
			"credit":       credit,
		})
	}
	emitCtx := writebarrier.With(fixture.Ctx, writebarrier.Command)
	result, err := fixture.Emitter.EmitChunkedJournal(emitCtx, events.ChunkedJournalParams{
		PublicID:         publicID,
		Date:             "2026-05-01",
		Currency:         "USD",
		Kind:             aggregates.KindStandard,
		Lines:            lines,
		FinalStatus:      aggregates.StatusDraft,
		Origin:           events.OriginBatch,
		IdempotencyScope: "batch:integrity:" + publicID,
	})
	require.NoError(t, err)
	return result
}

func TestCleanStreamPasses(t *testing.T) {
	ctx := context.Background()
	fixture := ledgertest.New(ctx, t, ledgertest.WithoutSyncProjections())
	seedStream(t, fixture)
	emitChunked(t, fixture, "je-ok", 25)

	report, err := verifier(t, fixture).FullIntegrityCheck(ctx, fixture.Company.ID)
	require.NoError(t, err)
	require.True(t, report.IsValid())
	require.NotZero(t, report.EventCount)
	require.NotZero(t, report.ChunkedCount)
}

func TestMissingChunkDetected(t *testing.T) {
	ctx := context.Background()
	fixture := ledgertest.New(ctx, t,
		ledgertest.WithoutSyncProjections(),
		ledgertest.WithEmitterConfig(events.Config{InlineThresholdBytes: 32 * 1024, MaxLinesPerChunk: 10}),
	)
	seedStream(t, fixture)
	result := emitChunked(t, fixture, "je-damaged", 30)
	require.Len(t, result.Chunks, 3)

	// destroy one chunk behind the store's back
	require.NoError(t, fixture.DB.TestingExec(ctx,
		`DELETE FROM business_events WHERE id = ?`, result.Chunks[1].ID.String()))

	report, err := verifier(t, fixture).FullIntegrityCheck(ctx, fixture.Company.ID)
	require.NoError(t, err)
	require.False(t, report.IsValid())

	var sawChunkFinding, sawGapFinding bool
	for _, finding := range report.Findings {
		if integrity.ErrChunkMissing.Has(finding.Err) {
			sawChunkFinding = true
		}
		if integrity.ErrSequenceGap.Has(finding.Err) {
			sawGapFinding = true
		}
	}
	require.True(t, sawChunkFinding, "expected a chunk completeness finding")
	require.True(t, sawGapFinding, "deleting an event also tears the stream sequence")
}

func TestPayloadTamperDetected(t *testing.T) {
	ctx := context.Background()
	fixture := ledgertest.New(ctx, t, ledgertest.WithoutSyncProjections())
	seedStream(t, fixture)

	events_, err := fixture.DB.Events().ListAfter(ctx, fixture.Company.ID, 0, []string{events.TypeAccountCreated}, 1)
	require.NoError(t, err)
	require.NotEmpty(t, events_)

	require.NoError(t, fixture.DB.TestingExec(ctx,
		`UPDATE business_events SET data = ? WHERE id = ?`,
		`{"public_id":"forged","code":"6666","name":"Forged","account_type":"ASSET"}`,
		events_[0].ID.String()))

	report, err := verifier(t, fixture).FullIntegrityCheck(ctx, fixture.Company.ID)
	require.NoError(t, err)
	require.False(t, report.IsValid())

	var sawMismatch bool
	for _, finding := range report.Findings {
		if integrity.ErrHashMismatch.Has(finding.Err) {
			sawMismatch = true
		}
	}
	require.True(t, sawMismatch)
}

func TestMissingExternalPayloadDetected(t *testing.T) {
	ctx := context.Background()
	fixture := ledgertest.New(ctx, t,
		ledgertest.WithoutSyncProjections(),
		ledgertest.WithEmitterConfig(events.Config{InlineThresholdBytes: 64, MaxLinesPerChunk: 500}),
	)

	emitCtx := writebarrier.With(fixture.Ctx, writebarrier.Command)
	event, err := fixture.Emitter.Emit(emitCtx, events.EmitParams{
		Type:          events.TypeAccountCreated,
		AggregateType: events.AggregateAccount,
		AggregateID:   "acct-ext",
		Data: map[string]interface{}{
			"public_id":    "acct-ext",
			"code":         "3000",
			"name":         "External",
			"account_type": "ASSET",
			"description":  "a description long enough to force the payload into external blob storage for this test",
		},
		IdempotencyKey: "account.create:ext",
		Origin:         events.OriginHuman,
	})
	require.NoError(t, err)
	require.Equal(t, events.StorageExternal, event.Storage)

	require.NoError(t, fixture.DB.TestingExec(ctx,
		`DELETE FROM payload_blobs WHERE tenant_id = ? AND id = ?`,
		fixture.Company.ID, *event.PayloadRef))

	report, err := verifier(t, fixture).FullIntegrityCheck(ctx, fixture.Company.ID)
	require.NoError(t, err)
	require.False(t, report.IsValid())

	var sawMissing bool
	for _, finding := range report.Findings {
		if integrity.ErrPayloadMissing.Has(finding.Err) {
			sawMissing = true
		}
	}
	require.True(t, sawMissing)
}
