// Copyright (C) 2025 Ledgerhouse, Inc.
// See LICENSE for copying information.

package commands_test

import (
	"context"
	"fmt"
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

func createAccounts(t *testing.T, fixture *ledgertest.Fixture, specs map[string]string) {
	t.Helper()
	for code, accountType := range specs {
		_, err := fixture.Service.CreateAccount(fixture.Ctx, commands.CreateAccount{
			Code:        code,
			Name:        "Account " + code,
			AccountType: accountType,
			Origin:      events.OriginHuman,
		})
		require.NoError(t, err)
	}
}

func TestCreateAccountIdempotent(t *testing.T) {
	ctx := context.Background()
	fixture := ledgertest.New(ctx, t)

	first, err := fixture.Service.CreateAccount(fixture.Ctx, commands.CreateAccount{
		Code: "1000", Name: "Cash", AccountType: "ASSET", Origin: events.OriginHuman,
	})
	require.NoError(t, err)

	second, err := fixture.Service.CreateAccount(fixture.Ctx, commands.CreateAccount{
		Code: "1000", Name: "Cash", AccountType: "ASSET", Origin: events.OriginHuman,
	})
	require.NoError(t, err)
	require.Equal(t, first.Event.ID, second.Event.ID)
	require.Equal(t, first.PublicID, second.PublicID)
}

func TestUpdateAccountNoChangeIsNoop(t *testing.T) {
	ctx := context.Background()
	fixture := ledgertest.New(ctx, t)

	created, err := fixture.Service.CreateAccount(fixture.Ctx, commands.CreateAccount{
		Code: "1000", Name: "Cash", AccountType: "ASSET", Origin: events.OriginHuman,
	})
	require.NoError(t, err)

	before, err := fixture.DB.Events().Count(ctx, fixture.Company.ID)
	require.NoError(t, err)

	sameName := "Cash"
	_, err = fixture.Service.UpdateAccount(fixture.Ctx, commands.UpdateAccount{
		PublicID: created.PublicID, Name: &sameName, Origin: events.OriginHuman,
	})
	require.NoError(t, err)

	after, err := fixture.DB.Events().Count(ctx, fixture.Company.ID)
	require.NoError(t, err)
	require.Equal(t, before, after, "a no-op update must not emit")
}

func TestPostJournalEntry(t *testing.T) {
	ctx := context.Background()
	fixture := ledgertest.New(ctx, t)
	createAccounts(t, fixture, map[string]string{"1000": "ASSET", "4000": "REVENUE"})

	created, err := fixture.Service.CreateJournalEntry(fixture.Ctx, commands.CreateJournalEntry{
		Date: "2026-01-15", Currency: "USD", Memo: "invoice 1",
		Lines: []commands.Line{
			{AccountCode: "1000", Debit: amount("125.50")},
			{AccountCode: "4000", Credit: amount("125.50")},
		},
		Origin: events.OriginHuman,
	})
	require.NoError(t, err)

	posted, err := fixture.Service.PostJournalEntry(fixture.Ctx, commands.PostJournalEntry{
		PublicID: created.PublicID, Origin: events.OriginHuman,
	})
	require.NoError(t, err)
	require.Equal(t, "JE-000001", posted.Event.Data["entry_number"])

	row, err := fixture.DB.Projections().Journals().GetEntry(ctx, fixture.Company.ID, created.PublicID)
	require.NoError(t, err)
	require.NotNil(t, row)
	require.Equal(t, "POSTED", row.Status)
	require.Equal(t, "JE-000001", row.EntryNumber)
	require.True(t, row.TotalDebit.Equal(amount("125.50")))

	balance, err := fixture.DB.Projections().Balances().Get(ctx, fixture.Company.ID, "1000")
	require.NoError(t, err)
	require.NotNil(t, balance)
	require.True(t, balance.Balance.Equal(amount("125.50")))

	trial, err := fixture.DB.Projections().Balances().TrialBalance(ctx, fixture.Company.ID)
	require.NoError(t, err)
	require.True(t, trial.IsBalanced)
	require.True(t, trial.TotalDebit.Equal(amount("125.50")))
}

func TestPostUnbalancedEntryRefused(t *testing.T) {
	ctx := context.Background()
	fixture := ledgertest.New(ctx, t)
	createAccounts(t, fixture, map[string]string{"1000": "ASSET", "4000": "REVENUE"})

	created, err := fixture.Service.CreateJournalEntry(fixture.Ctx, commands.CreateJournalEntry{
		Date: "2026-01-15", Currency: "USD",
		Lines: []commands.Line{
			{AccountCode: "1000", Debit: amount("100")},
			{AccountCode: "4000", Credit: amount("90")},
		},
		Origin: events.OriginHuman,
	})
	require.NoError(t, err)

	_, err = fixture.Service.PostJournalEntry(fixture.Ctx, commands.PostJournalEntry{
		PublicID: created.PublicID, Origin: events.OriginHuman,
	})
	require.Error(t, err)
	require.True(t, commands.ErrUnbalanced.Has(err))
}

func TestPostIntoClosedPeriodRefused(t *testing.T) {
	ctx := context.Background()
	fixture := ledgertest.New(ctx, t)
	createAccounts(t, fixture, map[string]string{"1000": "ASSET", "4000": "REVENUE"})

	_, err := fixture.Service.SetFiscalPeriodRange(fixture.Ctx, commands.SetFiscalPeriodRange{
		PeriodKey: "2026-01", StartDate: "2026-01-01", EndDate: "2026-01-31",
		Origin: events.OriginHuman,
	})
	require.NoError(t, err)
	_, err = fixture.Service.CloseFiscalPeriod(fixture.Ctx, commands.CloseFiscalPeriod{
		PeriodKey: "2026-01", Origin: events.OriginHuman,
	})
	require.NoError(t, err)

	created, err := fixture.Service.CreateJournalEntry(fixture.Ctx, commands.CreateJournalEntry{
		Date: "2026-01-15", Currency: "USD",
		Lines: []commands.Line{
			{AccountCode: "1000", Debit: amount("10")},
			{AccountCode: "4000", Credit: amount("10")},
		},
		Origin: events.OriginHuman,
	})
	require.NoError(t, err)

	_, err = fixture.Service.PostJournalEntry(fixture.Ctx, commands.PostJournalEntry{
		PublicID: created.PublicID, Origin: events.OriginHuman,
	})
	require.Error(t, err)
	require.True(t, commands.ErrPeriodClosed.Has(err))

	// reopening the period unblocks the posting
	_, err = fixture.Service.OpenFiscalPeriod(fixture.Ctx, commands.OpenFiscalPeriod{
		PeriodKey: "2026-01", Origin: events.OriginHuman,
	})
	require.NoError(t, err)
	_, err = fixture.Service.PostJournalEntry(fixture.Ctx, commands.PostJournalEntry{
		PublicID: created.PublicID, Origin: events.OriginHuman,
	})
	require.NoError(t, err)
}

func TestReverseJournalEntry(t *testing.T) {
	ctx := context.Background()
	fixture := ledgertest.New(ctx, t)
	createAccounts(t, fixture, map[string]string{"1000": "ASSET", "4000": "REVENUE"})

	created, err := fixture.Service.CreateJournalEntry(fixture.Ctx, commands.CreateJournalEntry{
		Date: "2026-02-10", Currency: "USD",
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

	reversed, err := fixture.Service.ReverseJournalEntry(fixture.Ctx, commands.ReverseJournalEntry{
		PublicID: created.PublicID, Origin: events.OriginHuman,
	})
	require.NoError(t, err)
	require.NotEqual(t, created.PublicID, reversed.PublicID)

	reversal, err := fixture.DB.Projections().Journals().GetEntry(ctx, fixture.Company.ID, reversed.PublicID)
	require.NoError(t, err)
	require.NotNil(t, reversal)
	require.Equal(t, "POSTED", reversal.Status)
	require.Equal(t, "REVERSAL", reversal.Kind)
	require.Equal(t, created.PublicID, reversal.ReversesEntry)

	// the reversal nets the account back to zero
	balance, err := fixture.DB.Projections().Balances().Get(ctx, fixture.Company.ID, "1000")
	require.NoError(t, err)
	require.True(t, balance.Balance.IsZero())

	// reversing an already reversed entry is refused
	_, err = fixture.Service.ReverseJournalEntry(fixture.Ctx, commands.ReverseJournalEntry{
		PublicID: created.PublicID, Origin: events.OriginHuman,
	})
	require.Error(t, err)
}

func TestDeletePostedEntryRefused(t *testing.T) {
	ctx := context.Background()
	fixture := ledgertest.New(ctx, t)
	createAccounts(t, fixture, map[string]string{"1000": "ASSET", "4000": "REVENUE"})

	created, err := fixture.Service.CreateJournalEntry(fixture.Ctx, commands.CreateJournalEntry{
		Date: "2026-02-10", Currency: "USD",
		Lines: []commands.Line{
			{AccountCode: "1000", Debit: amount("50")},
			{AccountCode: "4000", Credit: amount("50")},
		},
		Origin: events.OriginHuman,
	})
	require.NoError(t, err)
	_, err = fixture.Service.PostJournalEntry(fixture.Ctx, commands.PostJournalEntry{
		PublicID: created.PublicID, Origin: events.OriginHuman,
	})
	require.NoError(t, err)

	_, err = fixture.Service.DeleteJournalEntry(fixture.Ctx, commands.DeleteJournalEntry{
		PublicID: created.PublicID, Origin: events.OriginHuman,
	})
	require.Error(t, err)
	require.True(t, commands.ErrConflict.Has(err))
}

func TestCommitImportBatch(t *testing.T) {
	ctx := context.Background()
	fixture := ledgertest.New(ctx, t)
	createAccounts(t, fixture, map[string]string{"1000": "ASSET", "4000": "REVENUE"})

	opened, err := fixture.Service.OpenImportBatch(fixture.Ctx, commands.OpenImportBatch{
		Source: "erp", BatchKey: "run-7",
	})
	require.NoError(t, err)

	_, err = fixture.Service.StageRecords(fixture.Ctx, commands.StageRecords{
		BatchPublicID: opened.PublicID,
		BatchKey:      "run-7",
		Records:       []map[string]interface{}{{"raw": "row-1"}, {"raw": "row-2"}},
	})
	require.NoError(t, err)

	journals := []commands.BatchJournal{
		{
			Date: "2026-03-01", Currency: "USD", SourceRef: "inv-1", Post: true,
			Lines: []commands.Line{
				{AccountCode: "1000", Debit: amount("20")},
				{AccountCode: "4000", Credit: amount("20")},
			},
		},
		{
			// unbalanced journals are rejected without aborting the batch
			Date: "2026-03-01", Currency: "USD", SourceRef: "inv-2",
			Lines: []commands.Line{
				{AccountCode: "1000", Debit: amount("5")},
			},
		},
	}
	result, err := fixture.Service.CommitImportBatch(fixture.Ctx, opened.PublicID, "run-7", 2, journals)
	require.NoError(t, err)
	require.Len(t, result.Rejected, 1)
	require.Equal(t, "inv-2", result.Rejected[0].SourceRef)

	batch, err := fixture.DB.Projections().Batches().Get(ctx, fixture.Company.ID, opened.PublicID)
	require.NoError(t, err)
	require.NotNil(t, batch)
	require.Equal(t, "COMMITTED", batch.Status)

	balance, err := fixture.DB.Projections().Balances().Get(ctx, fixture.Company.ID, "1000")
	require.NoError(t, err)
	require.True(t, balance.Balance.Equal(amount("20")))
}

func TestDimensionsAndLineAnalysis(t *testing.T) {
	ctx := context.Background()
	fixture := ledgertest.New(ctx, t)
	createAccounts(t, fixture, map[string]string{"1000": "ASSET", "4000": "REVENUE"})

	dim, err := fixture.Service.CreateDimension(fixture.Ctx, commands.CreateDimension{
		Code: "dept", Name: "Department",
	})
	require.NoError(t, err)
	_, err = fixture.Service.AddDimensionValue(fixture.Ctx, commands.AddDimensionValue{
		DimensionPublicID: dim.PublicID, ValueCode: "eng", ValueName: "Engineering",
	})
	require.NoError(t, err)

	created, err := fixture.Service.CreateJournalEntry(fixture.Ctx, commands.CreateJournalEntry{
		Date: "2026-03-05", Currency: "USD",
		Lines: []commands.Line{
			{AccountCode: "1000", Debit: amount("10")},
			{AccountCode: "4000", Credit: amount("10")},
		},
		Origin: events.OriginHuman,
	})
	require.NoError(t, err)

	_, err = fixture.Service.SetLineAnalysis(fixture.Ctx, commands.SetLineAnalysis{
		PublicID:   created.PublicID,
		LineIndex:  0,
		Dimensions: map[string]string{"dept": "eng"},
		Origin:     events.OriginHuman,
	})
	require.NoError(t, err)

	lines, err := fixture.DB.Projections().Journals().ListLines(ctx, fixture.Company.ID, created.PublicID)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	require.Equal(t, "eng", lines[0].Dimensions["dept"])

	// out-of-range line index is refused
	_, err = fixture.Service.SetLineAnalysis(fixture.Ctx, commands.SetLineAnalysis{
		PublicID:   created.PublicID,
		LineIndex:  9,
		Dimensions: map[string]string{"dept": "eng"},
		Origin:     events.OriginHuman,
	})
	require.Error(t, err)
}

func TestEntryNumbersAreGapless(t *testing.T) {
	ctx := context.Background()
	fixture := ledgertest.New(ctx, t)
	createAccounts(t, fixture, map[string]string{"1000": "ASSET", "4000": "REVENUE"})

	for i := 1; i <= 3; i++ {
		created, err := fixture.Service.CreateJournalEntry(fixture.Ctx, commands.CreateJournalEntry{
			Date: "2026-04-01", Currency: "USD", Memo: fmt.Sprintf("entry %d", i),
			Lines: []commands.Line{
				{AccountCode: "1000", Debit: amount("1")},
				{AccountCode: "4000", Credit: amount("1")},
			},
			Origin: events.OriginHuman,
		})
		require.NoError(t, err)
		posted, err := fixture.Service.PostJournalEntry(fixture.Ctx, commands.PostJournalEntry{
			PublicID: created.PublicID, Origin: events.OriginHuman,
		})
		require.NoError(t, err)
		require.Equal(t, fmt.Sprintf("JE-%06d", i), posted.Event.Data["entry_number"])
	}
}

func TestMapIdentity(t *testing.T) {
	ctx := context.Background()
	fixture := ledgertest.New(ctx, t)

	_, err := fixture.Service.MapIdentity(fixture.Ctx, commands.MapIdentity{
		System: "erp", ExternalID: "cust-9", EntityType: "account", EntityID: "1000",
	})
	require.NoError(t, err)

	row, err := fixture.DB.Projections().Crosswalks().Get(ctx, fixture.Company.ID, "erp", "cust-9")
	require.NoError(t, err)
	require.NotNil(t, row)
	require.Equal(t, "1000", row.EntityID)
}
