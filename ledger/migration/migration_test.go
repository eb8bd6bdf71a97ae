// Copyright (C) 2025 Ledgerhouse, Inc.
// See LICENSE for copying information.

package migration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"ledgerhouse.io/ledgerhouse/ledger/commands"
	"ledgerhouse.io/ledgerhouse/ledger/events"
	"ledgerhouse.io/ledgerhouse/ledger/ledgertest"
	"ledgerhouse.io/ledgerhouse/ledger/migration"
	"ledgerhouse.io/ledgerhouse/ledger/tenants"
	"ledgerhouse.io/ledgerhouse/ledger/writebarrier"
)

func amount(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// seedTenant posts enough activity to give the tenant accounts, a
// posted journal, and at least one externally stored payload.
func seedTenant(t *testing.T, fixture *ledgertest.Fixture) {
	t.Helper()
	for code, kind := range map[string]string{"1000": "ASSET", "4000": "REVENUE"} {
		_, err := fixture.Service.CreateAccount(fixture.Ctx, commands.CreateAccount{
			Code: code, Name: "Account " + code, AccountType: kind, Origin: events.OriginHuman,
		})
		require.NoError(t, err)
	}
	created, err := fixture.Service.CreateJournalEntry(fixture.Ctx, commands.CreateJournalEntry{
		Date: "2026-02-01", Currency: "USD",
		Lines: []commands.Line{
			{AccountCode: "1000", Debit: amount("300")},
			{AccountCode: "4000", Credit: amount("300")},
		},
		Origin: events.OriginHuman,
	})
	require.NoError(t, err)
	_, err = fixture.Service.PostJournalEntry(fixture.Ctx, commands.PostJournalEntry{
		PublicID: created.PublicID, Origin: events.OriginHuman,
	})
	require.NoError(t, err)
}

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	fixture := ledgertest.New(ctx, t,
		ledgertest.WithEmitterConfig(events.Config{InlineThresholdBytes: 64, MaxLinesPerChunk: 500}),
	)
	seedTenant(t, fixture)

	var buf bytes.Buffer
	exported, err := migration.Export(ctx, &buf, fixture.DB.Events(), fixture.DB.Payloads(),
		fixture.Company, tenants.DefaultHandle, migration.ExportOptions{IncludePayloads: true})
	require.NoError(t, err)
	require.NotZero(t, exported.EventCount)
	require.NotEmpty(t, exported.Hash)

	head, err := fixture.DB.Events().MaxStreamSeq(ctx, fixture.Company.ID)
	require.NoError(t, err)
	require.Equal(t, head, exported.MaxStreamSeq)

	target := ledgertest.OpenDB(ctx, t)
	imported, err := migration.Import(ctx, bytes.NewReader(buf.Bytes()),
		target.Events(), target.Payloads(), migration.ImportOptions{})
	require.NoError(t, err)
	require.Equal(t, exported.EventCount, imported.EventCount)
	require.Equal(t, exported.Hash, imported.Hash)

	count, err := target.Events().Count(ctx, fixture.Company.ID)
	require.NoError(t, err)
	require.Equal(t, exported.EventCount, count)
	targetHead, err := target.Events().MaxStreamSeq(ctx, fixture.Company.ID)
	require.NoError(t, err)
	require.Equal(t, exported.MaxStreamSeq, targetHead)

	// replay the target's read models from the imported stream
	require.NoError(t, fixture.Engine.DrainAll(ctx, target, fixture.Company.ID))

	sourceTB, err := fixture.DB.Projections().Balances().TrialBalance(ctx, fixture.Company.ID)
	require.NoError(t, err)
	targetTB, err := target.Projections().Balances().TrialBalance(ctx, fixture.Company.ID)
	require.NoError(t, err)
	require.True(t, sourceTB.TotalDebit.Equal(targetTB.TotalDebit))
	require.True(t, sourceTB.TotalCredit.Equal(targetTB.TotalCredit))
	require.Len(t, targetTB.Accounts, len(sourceTB.Accounts))
}

func TestExportIsOneJSONDocument(t *testing.T) {
	ctx := context.Background()
	fixture := ledgertest.New(ctx, t,
		ledgertest.WithEmitterConfig(events.Config{InlineThresholdBytes: 64, MaxLinesPerChunk: 500}),
	)
	seedTenant(t, fixture)

	var buf bytes.Buffer
	exported, err := migration.Export(ctx, &buf, fixture.DB.Events(), fixture.DB.Payloads(),
		fixture.Company, tenants.DefaultHandle, migration.ExportOptions{IncludePayloads: true})
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc),
		"the export file must parse as a single JSON document")

	require.Equal(t, "1.0", doc["version"])
	require.NotEmpty(t, doc["exported_at"])
	require.Equal(t, tenants.DefaultHandle, doc["source_handle"])
	require.EqualValues(t, 0, doc["after_sequence"])
	require.EqualValues(t, exported.EventCount, doc["event_count"])
	require.Equal(t, exported.Hash, doc["export_hash"])

	tenant, ok := doc["tenant"].(map[string]interface{})
	require.True(t, ok)
	require.EqualValues(t, fixture.Company.ID, tenant["id"])
	require.Equal(t, fixture.Company.PublicID.String(), tenant["public_id"])
	require.Equal(t, fixture.Company.Slug, tenant["slug"])

	list, ok := doc["events"].([]interface{})
	require.True(t, ok)
	require.Len(t, list, int(exported.EventCount))
	first, ok := list[0].(map[string]interface{})
	require.True(t, ok)
	for _, key := range []string{
		"id", "event_type", "aggregate_type", "aggregate_id",
		"sequence", "stream_sequence", "idempotency_key",
		"occurred_at", "recorded_at", "payload_storage",
		"payload_hash", "origin", "schema_version",
	} {
		require.Contains(t, first, key)
	}

	// external records carry the reference and its content hash
	var externals int
	for _, item := range list {
		event := item.(map[string]interface{})
		if event["payload_storage"] == string(events.StorageExternal) {
			require.Contains(t, event, "payload_ref_id")
			require.Contains(t, event, "payload_content_hash")
			externals++
		}
	}
	require.NotZero(t, externals)
}

func TestReExportReproducesHash(t *testing.T) {
	ctx := context.Background()
	fixture := ledgertest.New(ctx, t,
		ledgertest.WithEmitterConfig(events.Config{InlineThresholdBytes: 64, MaxLinesPerChunk: 500}),
	)
	seedTenant(t, fixture)

	var buf bytes.Buffer
	exported, err := migration.Export(ctx, &buf, fixture.DB.Events(), fixture.DB.Payloads(),
		fixture.Company, tenants.DefaultHandle, migration.ExportOptions{IncludePayloads: true})
	require.NoError(t, err)

	target := ledgertest.OpenDB(ctx, t)
	_, err = migration.Import(ctx, bytes.NewReader(buf.Bytes()),
		target.Events(), target.Payloads(), migration.ImportOptions{})
	require.NoError(t, err)

	// blob ids are handle-local, but the hash excludes them
	var again bytes.Buffer
	reExported, err := migration.Export(ctx, &again, target.Events(), target.Payloads(),
		fixture.Company, "pool-1", migration.ExportOptions{IncludePayloads: true})
	require.NoError(t, err)
	require.Equal(t, exported.Hash, reExported.Hash)
	require.Equal(t, exported.EventCount, reExported.EventCount)
}

func TestExportWithoutPayloadsRefusesImport(t *testing.T) {
	ctx := context.Background()
	fixture := ledgertest.New(ctx, t,
		ledgertest.WithEmitterConfig(events.Config{InlineThresholdBytes: 64, MaxLinesPerChunk: 500}),
	)
	seedTenant(t, fixture)

	var buf bytes.Buffer
	_, err := migration.Export(ctx, &buf, fixture.DB.Events(), fixture.DB.Payloads(),
		fixture.Company, tenants.DefaultHandle, migration.ExportOptions{})
	require.NoError(t, err)

	target := ledgertest.OpenDB(ctx, t)
	_, err = migration.Import(ctx, bytes.NewReader(buf.Bytes()),
		target.Events(), target.Payloads(), migration.ImportOptions{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "re-export with payloads")
}

func TestImportIsResumable(t *testing.T) {
	ctx := context.Background()
	fixture := ledgertest.New(ctx, t)
	seedTenant(t, fixture)

	var buf bytes.Buffer
	exported, err := migration.Export(ctx, &buf, fixture.DB.Events(), fixture.DB.Payloads(),
		fixture.Company, tenants.DefaultHandle, migration.ExportOptions{IncludePayloads: true})
	require.NoError(t, err)

	target := ledgertest.OpenDB(ctx, t)
	_, err = migration.Import(ctx, bytes.NewReader(buf.Bytes()),
		target.Events(), target.Payloads(), migration.ImportOptions{})
	require.NoError(t, err)

	// re-running the same file with SkipExisting is a no-op
	again, err := migration.Import(ctx, bytes.NewReader(buf.Bytes()),
		target.Events(), target.Payloads(), migration.ImportOptions{SkipExisting: true})
	require.NoError(t, err)
	require.Equal(t, exported.Hash, again.Hash)

	count, err := target.Events().Count(ctx, fixture.Company.ID)
	require.NoError(t, err)
	require.Equal(t, exported.EventCount, count)
}

func TestImportRefusesTamperedFile(t *testing.T) {
	ctx := context.Background()
	fixture := ledgertest.New(ctx, t)
	seedTenant(t, fixture)

	var buf bytes.Buffer
	_, err := migration.Export(ctx, &buf, fixture.DB.Events(), fixture.DB.Payloads(),
		fixture.Company, tenants.DefaultHandle, migration.ExportOptions{IncludePayloads: true})
	require.NoError(t, err)

	tampered := bytes.Replace(buf.Bytes(), []byte(`"4000"`), []byte(`"9999"`), 1)
	require.NotEqual(t, buf.Bytes(), tampered)

	target := ledgertest.OpenDB(ctx, t)
	_, err = migration.Import(ctx, bytes.NewReader(tampered),
		target.Events(), target.Payloads(), migration.ImportOptions{DryRun: true})
	require.Error(t, err)
	require.True(t, migration.ErrHashMismatch.Has(err))
}

func TestIncrementalExportAfterSeq(t *testing.T) {
	ctx := context.Background()
	fixture := ledgertest.New(ctx, t)
	seedTenant(t, fixture)

	head, err := fixture.DB.Events().MaxStreamSeq(ctx, fixture.Company.ID)
	require.NoError(t, err)

	_, err = fixture.Service.CreateAccount(fixture.Ctx, commands.CreateAccount{
		Code: "5000", Name: "Expenses", AccountType: "EXPENSE", Origin: events.OriginHuman,
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	exported, err := migration.Export(ctx, &buf, fixture.DB.Events(), fixture.DB.Payloads(),
		fixture.Company, tenants.DefaultHandle, migration.ExportOptions{IncludePayloads: true, AfterSeq: head})
	require.NoError(t, err)
	require.Equal(t, int64(1), exported.EventCount)
	require.Greater(t, exported.MaxStreamSeq, head)
}

func TestOrchestratedMigration(t *testing.T) {
	ctx := context.Background()
	fixture := ledgertest.New(ctx, t)
	seedTenant(t, fixture)

	target := ledgertest.OpenDB(ctx, t)
	orchestrator := migration.NewOrchestrator(zaptest.NewLogger(t), fixture.DB.Tenants(), fixture.Engine)

	err := orchestrator.Migrate(ctx, fixture.Company.ID, "pool-1", fixture.DB, target, migration.Options{})
	require.NoError(t, err)

	entry, err := fixture.DB.Tenants().Directory().Get(ctx, fixture.Company.ID)
	require.NoError(t, err)
	require.Equal(t, tenants.Dedicated, entry.Mode)
	require.Equal(t, "pool-1", entry.Handle)
	require.Equal(t, tenants.StatusActive, entry.Status)
	require.NotEmpty(t, entry.ExportHash)
	require.Equal(t, entry.ExportHash, entry.ImportHash)

	records, err := fixture.DB.Tenants().MigrationLog().ListByTenant(ctx, fixture.Company.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.True(t, records[0].Success)
	require.Equal(t, tenants.DefaultHandle, records[0].SourceHandle)
	require.Equal(t, "pool-1", records[0].TargetHandle)

	targetTB, err := target.Projections().Balances().TrialBalance(ctx, fixture.Company.ID)
	require.NoError(t, err)
	require.True(t, targetTB.TotalDebit.Equal(amount("300")))
}

func TestOrchestratorDryRunLeavesTargetUntouched(t *testing.T) {
	ctx := context.Background()
	fixture := ledgertest.New(ctx, t)
	seedTenant(t, fixture)

	target := ledgertest.OpenDB(ctx, t)
	orchestrator := migration.NewOrchestrator(zaptest.NewLogger(t), fixture.DB.Tenants(), fixture.Engine)

	err := orchestrator.Migrate(ctx, fixture.Company.ID, "pool-1", fixture.DB, target, migration.Options{DryRun: true})
	require.NoError(t, err)

	count, err := target.Events().Count(ctx, fixture.Company.ID)
	require.NoError(t, err)
	require.Zero(t, count)

	entry, err := fixture.DB.Tenants().Directory().Get(ctx, fixture.Company.ID)
	require.NoError(t, err)
	require.Equal(t, tenants.Shared, entry.Mode)
	require.Equal(t, tenants.StatusActive, entry.Status)
}

func TestFailedMigrationThawsTenant(t *testing.T) {
	ctx := context.Background()
	fixture := ledgertest.New(ctx, t)
	seedTenant(t, fixture)

	target := ledgertest.OpenDB(ctx, t)

	// plant a stray event on the target so post-import verification
	// sees more events than the export carried
	strayCtx := writebarrier.With(ctx, writebarrier.Migration)
	require.NoError(t, target.Events().EnsureStreamCounter(strayCtx, fixture.Company.ID))
	now := time.Now().UTC()
	require.NoError(t, target.Events().Import(strayCtx, fixture.Company.ID, &events.Event{
		ID:             uuid.New(),
		TenantID:       fixture.Company.ID,
		Type:           events.TypeAccountCreated,
		AggregateType:  events.AggregateAccount,
		AggregateID:    "acct-stray",
		AggregateSeq:   1,
		StreamSeq:      9999,
		IdempotencyKey: "stray",
		Storage:        events.StorageInline,
		PayloadHash:    "0000",
		Data:           map[string]interface{}{"public_id": "acct-stray", "code": "9000", "name": "Stray", "account_type": "ASSET"},
		Origin:         events.OriginSystem,
		OccurredAt:     now,
		RecordedAt:     now,
		SchemaVersion:  1,
	}))

	orchestrator := migration.NewOrchestrator(zaptest.NewLogger(t), fixture.DB.Tenants(), fixture.Engine)
	err := orchestrator.Migrate(ctx, fixture.Company.ID, "pool-1", fixture.DB, target,
		migration.Options{SkipReplay: true})
	require.Error(t, err)

	entry, err := fixture.DB.Tenants().Directory().Get(ctx, fixture.Company.ID)
	require.NoError(t, err)
	require.Equal(t, tenants.StatusActive, entry.Status, "failed move must thaw the tenant")
	require.Equal(t, tenants.DefaultHandle, entry.Handle)

	records, err := fixture.DB.Tenants().MigrationLog().ListByTenant(ctx, fixture.Company.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.False(t, records[0].Success)
	require.NotEmpty(t, records[0].Failure)
}
