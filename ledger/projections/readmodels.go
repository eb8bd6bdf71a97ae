// Copyright (C) 2025 Ledgerhouse, Inc.
// See LICENSE for copying information.

package projections

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AccountRow is one chart-of-accounts read-model row.
type AccountRow struct {
	TenantID      int64
	PublicID      string
	Code          string
	Name          string
	AccountType   string
	NormalBalance string
	ParentCode    string
	Description   string
	Active        bool
	UpdatedAt     time.Time
}

// Accounts is the chart-of-accounts store. Writes are legal only under
// the projection context (plus bootstrap and migration).
type Accounts interface {
	Upsert(ctx context.Context, row *AccountRow) error
	GetByCode(ctx context.Context, tenantID int64, code string) (*AccountRow, error)
	GetByPublicID(ctx context.Context, tenantID int64, publicID string) (*AccountRow, error)
	List(ctx context.Context, tenantID int64) ([]*AccountRow, error)
	DeleteForTenant(ctx context.Context, tenantID int64) error
}

// JournalRow is one journal entry header read-model row.
type JournalRow struct {
	TenantID      int64
	PublicID      string
	EntryNumber   string
	Date          string
	Currency      string
	Kind          string
	Memo          string
	Status        string
	ReversesEntry string
	TotalDebit    decimal.Decimal
	TotalCredit   decimal.Decimal
	LineCount     int
	UpdatedAt     time.Time
}

// JournalLineRow is one journal line read-model row.
type JournalLineRow struct {
	TenantID      int64
	EntryPublicID string
	LineIndex     int
	AccountCode   string
	Debit         decimal.Decimal
	Credit        decimal.Decimal
	Memo          string
	// Dimensions maps dimension code to value code.
	Dimensions map[string]string
}

// Journals is the journal entries store.
type Journals interface {
	UpsertEntry(ctx context.Context, row *JournalRow) error
	ReplaceLines(ctx context.Context, tenantID int64, entryPublicID string, lines []*JournalLineRow) error
	AppendLines(ctx context.Context, tenantID int64, entryPublicID string, lines []*JournalLineRow) error
	SetLineDimensions(ctx context.Context, tenantID int64, entryPublicID string, lineIndex int, dims map[string]string) error
	GetEntry(ctx context.Context, tenantID int64, publicID string) (*JournalRow, error)
	ListEntries(ctx context.Context, tenantID int64) ([]*JournalRow, error)
	ListLines(ctx context.Context, tenantID int64, entryPublicID string) ([]*JournalLineRow, error)
	DeleteEntry(ctx context.Context, tenantID int64, publicID string) error
	DeleteForTenant(ctx context.Context, tenantID int64) error
}

// BalanceRow is one account balance read-model row with running totals.
type BalanceRow struct {
	TenantID      int64
	AccountCode   string
	NormalBalance string
	DebitTotal    decimal.Decimal
	CreditTotal   decimal.Decimal
	// Balance is debits-credits for debit-normal accounts and
	// credits-debits for credit-normal accounts.
	Balance     decimal.Decimal
	LastEventID *uuid.UUID
	UpdatedAt   time.Time
}

// TrialBalanceRow is one account's totals in a trial balance.
type TrialBalanceRow struct {
	AccountCode   string
	NormalBalance string
	DebitTotal    decimal.Decimal
	CreditTotal   decimal.Decimal
	Balance       decimal.Decimal
}

// TrialBalance sums posted activity over all accounts.
type TrialBalance struct {
	Accounts    []TrialBalanceRow
	TotalDebit  decimal.Decimal
	TotalCredit decimal.Decimal
	IsBalanced  bool
}

// Balances is the account balances store.
type Balances interface {
	// ApplyPosting serializes concurrent workers per (tenant, account):
	// it locks the balance row, creating it when absent, re-checks
	// last_event_id against eventID, then applies the amounts and
	// recomputes the balance. Returns applied=false when the event was
	// already folded into this row.
	ApplyPosting(ctx context.Context, tenantID int64, accountCode, normalBalance string, debit, credit decimal.Decimal, eventID uuid.UUID) (applied bool, err error)

	Get(ctx context.Context, tenantID int64, accountCode string) (*BalanceRow, error)
	TrialBalance(ctx context.Context, tenantID int64) (*TrialBalance, error)
	DeleteForTenant(ctx context.Context, tenantID int64) error
}

// FiscalPeriodRow is one fiscal period read-model row.
type FiscalPeriodRow struct {
	TenantID  int64
	PeriodKey string
	StartDate string
	EndDate   string
	Closed    bool
	UpdatedAt time.Time
}

// FiscalPeriods is the fiscal periods store.
type FiscalPeriods interface {
	Upsert(ctx context.Context, row *FiscalPeriodRow) error
	Get(ctx context.Context, tenantID int64, periodKey string) (*FiscalPeriodRow, error)
	// ForDate returns the period containing the date, nil when none.
	ForDate(ctx context.Context, tenantID int64, date string) (*FiscalPeriodRow, error)
	List(ctx context.Context, tenantID int64) ([]*FiscalPeriodRow, error)
	DeleteForTenant(ctx context.Context, tenantID int64) error
}

// DimensionRow is one analysis dimension read-model row.
type DimensionRow struct {
	TenantID  int64
	PublicID  string
	Code      string
	Name      string
	UpdatedAt time.Time
}

// DimensionValueRow is one dimension value read-model row.
type DimensionValueRow struct {
	TenantID      int64
	DimensionCode string
	ValueCode     string
	ValueName     string
	Active        bool
	UpdatedAt     time.Time
}

// Dimensions is the analysis dimensions store.
type Dimensions interface {
	UpsertDimension(ctx context.Context, row *DimensionRow) error
	UpsertValue(ctx context.Context, row *DimensionValueRow) error
	GetDimension(ctx context.Context, tenantID int64, code string) (*DimensionRow, error)
	ListDimensions(ctx context.Context, tenantID int64) ([]*DimensionRow, error)
	ListValues(ctx context.Context, tenantID int64, dimensionCode string) ([]*DimensionValueRow, error)
	DeleteForTenant(ctx context.Context, tenantID int64) error
}

// CrosswalkRow maps an external identity to an internal entity.
type CrosswalkRow struct {
	TenantID   int64
	System     string
	ExternalID string
	EntityType string
	EntityID   string
	UpdatedAt  time.Time
}

// Crosswalks is the identity crosswalk store.
type Crosswalks interface {
	Upsert(ctx context.Context, row *CrosswalkRow) error
	Get(ctx context.Context, tenantID int64, system, externalID string) (*CrosswalkRow, error)
	DeleteForTenant(ctx context.Context, tenantID int64) error
}

// BatchRow is one ingestion batch read-model row.
type BatchRow struct {
	TenantID    int64
	PublicID    string
	Source      string
	Description string
	Status      string // OPEN, COMMITTED
	RecordCount int64
	UpdatedAt   time.Time
}

// Batches is the ingestion batch store.
type Batches interface {
	Upsert(ctx context.Context, row *BatchRow) error
	Get(ctx context.Context, tenantID int64, publicID string) (*BatchRow, error)
	DeleteForTenant(ctx context.Context, tenantID int64) error
}
