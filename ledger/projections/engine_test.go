// Copyright (C) 2025 Ledgerhouse, Inc.
// See LICENSE for copying information.

package projections_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"ledgerhouse.io/ledgerhouse/ledger/commands"
	"ledgerhouse.io/ledgerhouse/ledger/events"
	"ledgerhouse.io/ledgerhouse/ledger/ledgertest"
)

func amount(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func postEntry(t *testing.T, fixture *ledgertest.Fixture, date, debitAccount, creditAccount, value string) string {
	t.Helper()
	created, err := fixture.Service.CreateJournalEntry(fixture.Ctx, commands.CreateJournalEntry{
		Date: date, Currency: "USD",
		Lines: []commands.Line{
			{AccountCode: debitAccount, Debit: amount(value)},
			{AccountCode: creditAccount, Credit: amount(value)},
		},
		Origin: events.OriginHuman,
	})
	require.NoError(t, err)
	_, err = fixture.Service.PostJournalEntry(fixture.Ctx, commands.PostJournalEntry{
		PublicID: created.PublicID, Origin: events.OriginHuman,
	})
	require.NoError(t, err)
	return created.PublicID
}

func seedAccounts(t *testing.T, fixture *ledgertest.Fixture) {
	t.Helper()
	for code, kind := range map[string]string{"1000": "ASSET", "4000": "REVENUE"} {
		_, err := fixture.Service.CreateAccount(fixture.Ctx, commands.CreateAccount{
			Code: code, Name: "Account " + code, AccountType: kind, Origin: events.OriginHuman,
		})
		require.NoError(t, err)
	}
}

func TestDrainIsExactlyOnce(t *testing.T) {
	ctx := context.Background()
	fixture := ledgertest.New(ctx, t, ledgertest.WithoutSyncProjections())
	seedAccounts(t, fixture)
	postEntry(t, fixture, "2026-01-10", "1000", "4000", "40")

	fixture.Drain(t)
	balance, err := fixture.DB.Projections().Balances().Get(ctx, fixture.Company.ID, "1000")
	require.NoError(t, err)
	require.True(t, balance.Balance.Equal(amount("40")))

	// a second drain finds nothing pending and changes nothing
	n, err := fixture.Engine.Drain(ctx, fixture.DB, "account_balances", fixture.Company.ID)
	require.NoError(t, err)
	require.Zero(t, n)

	balance, err = fixture.DB.Projections().Balances().Get(ctx, fixture.Company.ID, "1000")
	require.NoError(t, err)
	require.True(t, balance.Balance.Equal(amount("40")))
}

func TestBookmarkAdvances(t *testing.T) {
	ctx := context.Background()
	fixture := ledgertest.New(ctx, t, ledgertest.WithoutSyncProjections())
	seedAccounts(t, fixture)
	postEntry(t, fixture, "2026-01-10", "1000", "4000", "10")

	lag, err := fixture.Engine.Lag(ctx, fixture.DB, "journal_entries", fixture.Company.ID)
	require.NoError(t, err)
	require.NotZero(t, lag)

	fixture.Drain(t)

	lag, err = fixture.Engine.Lag(ctx, fixture.DB, "journal_entries", fixture.Company.ID)
	require.NoError(t, err)
	require.Zero(t, lag)

	head, err := fixture.DB.Events().MaxStreamSeq(ctx, fixture.Company.ID)
	require.NoError(t, err)
	bookmark, err := fixture.DB.Projections().Bookmarks().Get(ctx, "journal_entries", fixture.Company.ID)
	require.NoError(t, err)
	require.Equal(t, head, bookmark.LastStreamSeq)
}

func TestPausedProjectionSkipsProcessing(t *testing.T) {
	ctx := context.Background()
	fixture := ledgertest.New(ctx, t, ledgertest.WithoutSyncProjections())
	seedAccounts(t, fixture)

	_, err := fixture.DB.Projections().Bookmarks().Acquire(ctx, "chart_of_accounts", fixture.Company.ID)
	require.NoError(t, err)
	require.NoError(t, fixture.DB.Projections().Bookmarks().SetPaused(ctx, "chart_of_accounts", fixture.Company.ID, true))

	n, err := fixture.Engine.Drain(ctx, fixture.DB, "chart_of_accounts", fixture.Company.ID)
	require.NoError(t, err)
	require.Zero(t, n)

	require.NoError(t, fixture.DB.Projections().Bookmarks().SetPaused(ctx, "chart_of_accounts", fixture.Company.ID, false))
	n, err = fixture.Engine.Drain(ctx, fixture.DB, "chart_of_accounts", fixture.Company.ID)
	require.NoError(t, err)
	require.NotZero(t, n)
}

func TestRebuildReproducesReadModels(t *testing.T) {
	ctx := context.Background()
	fixture := ledgertest.New(ctx, t)
	seedAccounts(t, fixture)
	postEntry(t, fixture, "2026-01-10", "1000", "4000", "75")
	postEntry(t, fixture, "2026-01-11", "1000", "4000", "25")

	before, err := fixture.DB.Projections().Balances().TrialBalance(ctx, fixture.Company.ID)
	require.NoError(t, err)
	require.True(t, before.TotalDebit.Equal(amount("100")))

	require.NoError(t, fixture.Engine.Rebuild(ctx, fixture.DB, "account_balances", fixture.Company.ID))

	after, err := fixture.DB.Projections().Balances().TrialBalance(ctx, fixture.Company.ID)
	require.NoError(t, err)
	require.True(t, after.TotalDebit.Equal(before.TotalDebit))
	require.True(t, after.TotalCredit.Equal(before.TotalCredit))
	require.Len(t, after.Accounts, len(before.Accounts))

	status, err := fixture.DB.Projections().Statuses().Get(ctx, "account_balances", fixture.Company.ID)
	require.NoError(t, err)
	require.NotNil(t, status)
	require.Equal(t, "RUNNING", status.State)
}

func TestProjectionsAreTenantIsolated(t *testing.T) {
	ctx := context.Background()
	fixture := ledgertest.New(ctx, t)
	seedAccounts(t, fixture)
	postEntry(t, fixture, "2026-01-10", "1000", "4000", "60")

	other, otherCtx := fixture.RegisterTenant(t, "globex", "Globex Inc")
	_, err := fixture.Service.CreateAccount(otherCtx, commands.CreateAccount{
		Code: "1000", Name: "Cash", AccountType: "ASSET", Origin: events.OriginHuman,
	})
	require.NoError(t, err)

	mine, err := fixture.DB.Projections().Balances().Get(ctx, fixture.Company.ID, "1000")
	require.NoError(t, err)
	require.True(t, mine.Balance.Equal(amount("60")))

	theirs, err := fixture.DB.Projections().Balances().Get(ctx, other.ID, "1000")
	require.NoError(t, err)
	require.NotNil(t, theirs)
	require.True(t, theirs.Balance.IsZero())
}

func TestDeactivatedAccountStaysInChart(t *testing.T) {
	ctx := context.Background()
	fixture := ledgertest.New(ctx, t)

	created, err := fixture.Service.CreateAccount(fixture.Ctx, commands.CreateAccount{
		Code: "9999", Name: "Old", AccountType: "EXPENSE", Origin: events.OriginHuman,
	})
	require.NoError(t, err)
	_, err = fixture.Service.DeactivateAccount(fixture.Ctx, commands.DeactivateAccount{
		PublicID: created.PublicID, Origin: events.OriginHuman,
	})
	require.NoError(t, err)

	row, err := fixture.DB.Projections().Accounts().GetByCode(ctx, fixture.Company.ID, "9999")
	require.NoError(t, err)
	require.NotNil(t, row)
	require.False(t, row.Active)
	require.Equal(t, "DEBIT", row.NormalBalance)
}
