// Copyright (C) 2025 Ledgerhouse, Inc.
// See LICENSE for copying information.

package ledgerdb_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"ledgerhouse.io/ledgerhouse/ledger/events"
	"ledgerhouse.io/ledgerhouse/ledger/ledgerdb"
	"ledgerhouse.io/ledgerhouse/ledger/ledgertest"
	"ledgerhouse.io/ledgerhouse/ledger/projections"
	"ledgerhouse.io/ledgerhouse/ledger/tenants"
	"ledgerhouse.io/ledgerhouse/ledger/writebarrier"
)

func TestSequencesAreGapless(t *testing.T) {
	ctx := context.Background()
	fixture := ledgertest.New(ctx, t, ledgertest.WithoutSyncProjections())

	for i := int64(1); i <= 5; i++ {
		n, err := fixture.DB.Sequences().Next(ctx, fixture.Company.ID, "journal_entry")
		require.NoError(t, err)
		require.Equal(t, i, n)
	}

	// independent counters per name and per tenant
	n, err := fixture.DB.Sequences().Next(ctx, fixture.Company.ID, "batch")
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	other, _ := fixture.RegisterTenant(t, "globex", "Globex Inc")
	n, err = fixture.DB.Sequences().Next(ctx, other.ID, "journal_entry")
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestAppliedLedgerExactlyOnce(t *testing.T) {
	ctx := context.Background()
	fixture := ledgertest.New(ctx, t, ledgertest.WithoutSyncProjections())
	writeCtx := writebarrier.With(ctx, writebarrier.Projection)

	applied := fixture.DB.Projections().Applied()
	eventID := uuid.New()

	created, err := applied.TryInsert(writeCtx, "journal_entries", fixture.Company.ID, eventID)
	require.NoError(t, err)
	require.True(t, created)

	created, err = applied.TryInsert(writeCtx, "journal_entries", fixture.Company.ID, eventID)
	require.NoError(t, err)
	require.False(t, created, "an applied event must not insert twice")

	// the same event under another projection is a fresh application
	created, err = applied.TryInsert(writeCtx, "account_balances", fixture.Company.ID, eventID)
	require.NoError(t, err)
	require.True(t, created)

	count, err := applied.Count(writeCtx, "journal_entries", fixture.Company.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	require.NoError(t, applied.Clear(writeCtx, "journal_entries", fixture.Company.ID))
	count, err = applied.Count(writeCtx, "journal_entries", fixture.Company.ID)
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestApplyPostingDeduplicatesByEvent(t *testing.T) {
	ctx := context.Background()
	fixture := ledgertest.New(ctx, t, ledgertest.WithoutSyncProjections())
	writeCtx := writebarrier.With(ctx, writebarrier.Projection)

	balances := fixture.DB.Projections().Balances()
	eventID := uuid.New()
	ten := decimal.NewFromInt(10)

	applied, err := balances.ApplyPosting(writeCtx, fixture.Company.ID, "1000", "DEBIT", ten, decimal.Zero, eventID)
	require.NoError(t, err)
	require.True(t, applied)

	// replaying the same event against the same row is a no-op
	applied, err = balances.ApplyPosting(writeCtx, fixture.Company.ID, "1000", "DEBIT", ten, decimal.Zero, eventID)
	require.NoError(t, err)
	require.False(t, applied)

	row, err := balances.Get(ctx, fixture.Company.ID, "1000")
	require.NoError(t, err)
	require.True(t, row.Balance.Equal(ten))

	applied, err = balances.ApplyPosting(writeCtx, fixture.Company.ID, "1000", "DEBIT", ten, decimal.Zero, uuid.New())
	require.NoError(t, err)
	require.True(t, applied)

	row, err = balances.Get(ctx, fixture.Company.ID, "1000")
	require.NoError(t, err)
	require.True(t, row.Balance.Equal(decimal.NewFromInt(20)))
	require.True(t, row.DebitTotal.Equal(decimal.NewFromInt(20)))
	require.True(t, row.CreditTotal.IsZero())
}

func TestApplyPostingRequiresWriteContext(t *testing.T) {
	ctx := context.Background()
	fixture := ledgertest.New(ctx, t, ledgertest.WithoutSyncProjections())

	_, err := fixture.DB.Projections().Balances().ApplyPosting(ctx,
		fixture.Company.ID, "1000", "DEBIT", decimal.NewFromInt(1), decimal.Zero, uuid.New())
	require.Error(t, err)
	require.True(t, writebarrier.Error.Has(err))

	// a command context is not enough either; balances are projection-owned
	commandCtx := writebarrier.With(ctx, writebarrier.Command)
	_, err = fixture.DB.Projections().Balances().ApplyPosting(commandCtx,
		fixture.Company.ID, "1000", "DEBIT", decimal.NewFromInt(1), decimal.Zero, uuid.New())
	require.Error(t, err)
	require.True(t, writebarrier.Error.Has(err))
}

func TestBookmarkLifecycle(t *testing.T) {
	ctx := context.Background()
	fixture := ledgertest.New(ctx, t, ledgertest.WithoutSyncProjections())
	writeCtx := writebarrier.With(ctx, writebarrier.Projection)

	bookmarks := fixture.DB.Projections().Bookmarks()

	bookmark, err := bookmarks.Acquire(writeCtx, "journal_entries", fixture.Company.ID)
	require.NoError(t, err)
	require.Zero(t, bookmark.LastStreamSeq)
	require.False(t, bookmark.IsPaused)

	// acquiring again returns the same bookmark
	again, err := bookmarks.Acquire(writeCtx, "journal_entries", fixture.Company.ID)
	require.NoError(t, err)
	require.Equal(t, bookmark.LastStreamSeq, again.LastStreamSeq)

	eventID := uuid.New()
	require.NoError(t, bookmarks.Advance(writeCtx, "journal_entries", fixture.Company.ID, 7, eventID))

	bookmark, err = bookmarks.Get(ctx, "journal_entries", fixture.Company.ID)
	require.NoError(t, err)
	require.Equal(t, int64(7), bookmark.LastStreamSeq)
	require.NotNil(t, bookmark.LastEventID)
	require.Equal(t, eventID, *bookmark.LastEventID)
	require.NotNil(t, bookmark.LastProcessedAt)

	require.NoError(t, bookmarks.RecordError(writeCtx, "journal_entries", fixture.Company.ID, "handler blew up"))
	require.NoError(t, bookmarks.RecordError(writeCtx, "journal_entries", fixture.Company.ID, "handler blew up again"))
	bookmark, err = bookmarks.Get(ctx, "journal_entries", fixture.Company.ID)
	require.NoError(t, err)
	require.Equal(t, 2, bookmark.ErrorCount)
	require.Equal(t, "handler blew up again", bookmark.LastError)

	// a successful advance clears the error state
	require.NoError(t, bookmarks.Advance(writeCtx, "journal_entries", fixture.Company.ID, 8, uuid.New()))
	bookmark, err = bookmarks.Get(ctx, "journal_entries", fixture.Company.ID)
	require.NoError(t, err)
	require.Zero(t, bookmark.ErrorCount)
	require.Empty(t, bookmark.LastError)

	require.NoError(t, bookmarks.Reset(writeCtx, "journal_entries", fixture.Company.ID))
	bookmark, err = bookmarks.Get(ctx, "journal_entries", fixture.Company.ID)
	require.NoError(t, err)
	require.Zero(t, bookmark.LastStreamSeq)
}

func TestBindTenantIsNoopOnSqlite(t *testing.T) {
	ctx := context.Background()
	fixture := ledgertest.New(ctx, t, ledgertest.WithoutSyncProjections())
	require.NoError(t, fixture.DB.BindTenant(ctx, fixture.Company.ID))
}

func TestRowFilterScopesSharedTenants(t *testing.T) {
	url := os.Getenv("LEDGERHOUSE_TEST_POSTGRES")
	if url == "" {
		t.Skip("set LEDGERHOUSE_TEST_POSTGRES to run row level security tests")
	}

	ctx := context.Background()
	db, err := ledgerdb.Open(ctx, zaptest.NewLogger(t), tenants.DefaultHandle, url)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })
	require.NoError(t, db.MigrateToLatest(ctx))

	mine := time.Now().UnixNano()
	theirs := mine + 1

	// an unbound session takes the permissive policy arm
	projCtx := writebarrier.With(ctx, writebarrier.Projection)
	applied := db.Projections().Applied()
	created, err := applied.TryInsert(projCtx, "journal_entries", mine, uuid.New())
	require.NoError(t, err)
	require.True(t, created)
	created, err = applied.TryInsert(projCtx, "journal_entries", theirs, uuid.New())
	require.NoError(t, err)
	require.True(t, created)

	// a transaction bound to one shared tenant only sees that tenant
	bound := tenants.WithContext(projCtx, &tenants.Context{
		TenantID: mine,
		Handle:   tenants.DefaultHandle,
		Shared:   true,
	})
	require.NoError(t, db.BindTenant(bound, mine))
	require.NoError(t, db.Projections().WithTx(bound, func(ctx context.Context, tx projections.DB) error {
		visible, err := tx.Applied().Count(ctx, "journal_entries", mine)
		require.NoError(t, err)
		require.Equal(t, int64(1), visible)

		hidden, err := tx.Applied().Count(ctx, "journal_entries", theirs)
		require.NoError(t, err)
		require.Zero(t, hidden, "the row filter must hide other tenants")
		return nil
	}))
}

func TestIdempotencyKeysAreTenantScoped(t *testing.T) {
	ctx := context.Background()
	fixture := ledgertest.New(ctx, t, ledgertest.WithoutSyncProjections())
	other, _ := fixture.RegisterTenant(t, "globex", "Globex Inc")
	writeCtx := writebarrier.With(ctx, writebarrier.Command)

	draft := func() *events.Draft {
		return &events.Draft{
			Type:           events.TypeAccountCreated,
			AggregateType:  events.AggregateAccount,
			AggregateID:    "acct-1",
			IdempotencyKey: "account.create:shared-key",
			Storage:        events.StorageInline,
			PayloadHash:    "feed",
			Data:           map[string]interface{}{"code": "1000"},
			Origin:         events.OriginHuman,
		}
	}

	first, created, err := fixture.DB.Events().Append(writeCtx, fixture.Company.ID, draft())
	require.NoError(t, err)
	require.True(t, created)

	// same key on another tenant is a distinct event
	second, created, err := fixture.DB.Events().Append(writeCtx, other.ID, draft())
	require.NoError(t, err)
	require.True(t, created)
	require.NotEqual(t, first.ID, second.ID)
	require.Equal(t, int64(1), second.AggregateSeq)

	// same key on the same tenant replays the stored event
	replay, created, err := fixture.DB.Events().Append(writeCtx, fixture.Company.ID, draft())
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, first.ID, replay.ID)
}
