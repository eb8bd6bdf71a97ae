// Copyright (C) 2025 Ledgerhouse, Inc.
// See LICENSE for copying information.

// Package aggregates reconstructs aggregate state by replaying event
// slices. Apply functions are pure and deterministic: the same slice
// always folds to the same snapshot. Unknown event types are ignored so
// old binaries can replay newer logs.
package aggregates

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"

	"ledgerhouse.io/ledgerhouse/ledger/events"
)

var (
	// Error is the aggregates error class.
	Error = errs.Class("aggregates")

	mon = monkit.Package()
)

// Journal entry statuses.
const (
	StatusIncomplete = "INCOMPLETE"
	StatusDraft      = "DRAFT"
	StatusPosted     = "POSTED"
	StatusReversed   = "REVERSED"
)

// Journal entry kinds.
const (
	KindStandard = "STANDARD"
	KindReversal = "REVERSAL"
)

// Account is the replayed state of one chart-of-accounts entry.
type Account struct {
	PublicID    string
	Code        string
	Name        string
	Type        string
	ParentCode  string
	Description string
	Active      bool
	Exists      bool
}

// Apply folds one event into the account.
func (account *Account) Apply(event *events.Event) {
	data := event.Data
	switch event.Type {
	case events.TypeAccountCreated:
		account.Exists = true
		account.Active = true
		account.PublicID = str(data, "public_id")
		account.Code = str(data, "code")
		account.Name = str(data, "name")
		account.Type = str(data, "account_type")
		account.ParentCode = str(data, "parent_code")
		account.Description = str(data, "description")
	case events.TypeAccountUpdated:
		changes, _ := data["changes"].(map[string]interface{})
		for field, change := range changes {
			value := newValue(change)
			switch field {
			case "name":
				account.Name = value
			case "parent_code":
				account.ParentCode = value
			case "description":
				account.Description = value
			}
		}
	case events.TypeAccountDeactivated:
		account.Active = false
	}
}

// NormalBalance returns "DEBIT" or "CREDIT" by account type.
func (account *Account) NormalBalance() string {
	return NormalBalance(account.Type)
}

// NormalBalance maps an account type to its normal balance direction.
func NormalBalance(accountType string) string {
	switch accountType {
	case "ASSET", "EXPENSE":
		return "DEBIT"
	default:
		return "CREDIT"
	}
}

// JournalLine is one replayed journal line.
type JournalLine struct {
	AccountCode string
	Debit       decimal.Decimal
	Credit      decimal.Decimal
	Memo        string
}

// JournalEntry is the replayed state of one journal entry.
type JournalEntry struct {
	PublicID      string
	Date          string
	Currency      string
	Kind          string
	Memo          string
	Status        string
	EntryNumber   string
	ReversesEntry string
	Lines         []JournalLine
	// LineAnalysis maps line index to dimension code/value pairs.
	LineAnalysis map[int]map[string]string
	Exists       bool
	Deleted      bool

	// chunk bookkeeping for the batch emission path
	ChunkCount    int
	DeclaredLines int
}

// Apply folds one event into the journal entry.
func (entry *JournalEntry) Apply(event *events.Event) {
	data := event.Data
	switch event.Type {
	case events.TypeJournalEntryCreated, events.TypeJournalCreated:
		entry.Exists = true
		entry.PublicID = str(data, "public_id")
		entry.Date = str(data, "date")
		entry.Currency = str(data, "currency")
		entry.Kind = str(data, "kind")
		entry.Memo = str(data, "memo")
		entry.ReversesEntry = str(data, "reverses_entry")
		if lines := parseLines(data["lines"]); len(lines) > 0 {
			entry.Lines = lines
			entry.Status = StatusDraft
		} else {
			entry.Status = StatusIncomplete
		}
	case events.TypeJournalEntryUpdated:
		changes, _ := data["changes"].(map[string]interface{})
		for field, change := range changes {
			value := newValue(change)
			switch field {
			case "date":
				entry.Date = value
			case "memo":
				entry.Memo = value
			case "currency":
				entry.Currency = value
			}
		}
	case events.TypeJournalEntrySavedComplete:
		entry.Lines = parseLines(data["lines"])
		entry.Status = StatusDraft
	case events.TypeJournalEntryPosted:
		entry.Status = StatusPosted
		entry.EntryNumber = str(data, "entry_number")
		if lines := parseLines(data["lines"]); len(lines) > 0 {
			entry.Lines = lines
		}
	case events.TypeJournalEntryReversed:
		entry.Status = StatusReversed
	case events.TypeJournalEntryDeleted:
		entry.Deleted = true
	case events.TypeJournalEntryLineAnalysisSet:
		index := integer(data, "line_index")
		dims, _ := data["dimensions"].(map[string]interface{})
		if entry.LineAnalysis == nil {
			entry.LineAnalysis = make(map[int]map[string]string)
		}
		set := make(map[string]string, len(dims))
		for code, value := range dims {
			if s, ok := value.(string); ok {
				set[code] = s
			}
		}
		entry.LineAnalysis[index] = set
	case events.TypeJournalLinesChunkAdded:
		entry.Lines = append(entry.Lines, parseLines(data["lines"])...)
		entry.ChunkCount++
	case events.TypeJournalFinalized:
		entry.DeclaredLines = integer(data, "line_count")
		if status := str(data, "final_status"); status != "" {
			entry.Status = status
		}
	}
}

// Totals sums debit and credit over all lines.
func (entry *JournalEntry) Totals() (debit, credit decimal.Decimal) {
	debit, credit = decimal.Zero, decimal.Zero
	for _, line := range entry.Lines {
		debit = debit.Add(line.Debit)
		credit = credit.Add(line.Credit)
	}
	return debit, credit
}

// Balanced reports whether debit and credit totals match and are nonzero.
func (entry *JournalEntry) Balanced() bool {
	debit, credit := entry.Totals()
	return debit.Equal(credit) && !debit.IsZero()
}

// FiscalPeriod is the replayed state of one fiscal period.
type FiscalPeriod struct {
	Key       string
	StartDate string
	EndDate   string
	Closed    bool
	Exists    bool
}

// Apply folds one event into the fiscal period.
func (period *FiscalPeriod) Apply(event *events.Event) {
	data := event.Data
	switch event.Type {
	case events.TypeFiscalPeriodRangeSet:
		period.Exists = true
		period.Key = str(data, "period_key")
		period.StartDate = str(data, "start_date")
		period.EndDate = str(data, "end_date")
	case events.TypeFiscalPeriodClosed:
		period.Exists = true
		period.Closed = true
	case events.TypeFiscalPeriodOpened:
		period.Exists = true
		period.Closed = false
	}
}

// LoadAccount replays the account aggregate, nil when no events exist.
func LoadAccount(ctx context.Context, db events.DB, tenantID int64, publicID string) (_ *Account, err error) {
	defer mon.Task()(&ctx)(&err)

	slice, err := db.ListByAggregate(ctx, tenantID, events.AggregateAccount, publicID)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if len(slice) == 0 {
		return nil, nil
	}
	account := &Account{}
	for _, event := range slice {
		if event.Data == nil {
			continue
		}
		account.Apply(event)
	}
	return account, nil
}

// LoadJournalEntry replays the journal entry aggregate, nil when no
// events exist.
func LoadJournalEntry(ctx context.Context, db events.DB, tenantID int64, publicID string) (_ *JournalEntry, err error) {
	defer mon.Task()(&ctx)(&err)

	slice, err := db.ListByAggregate(ctx, tenantID, events.AggregateJournalEntry, publicID)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if len(slice) == 0 {
		return nil, nil
	}
	entry := &JournalEntry{}
	for _, event := range slice {
		if event.Data == nil {
			continue
		}
		entry.Apply(event)
	}
	return entry, nil
}

// LoadFiscalPeriod replays the fiscal period aggregate, nil when no
// events exist.
func LoadFiscalPeriod(ctx context.Context, db events.DB, tenantID int64, key string) (_ *FiscalPeriod, err error) {
	defer mon.Task()(&ctx)(&err)

	slice, err := db.ListByAggregate(ctx, tenantID, events.AggregateFiscalPeriod, key)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if len(slice) == 0 {
		return nil, nil
	}
	period := &FiscalPeriod{}
	for _, event := range slice {
		if event.Data == nil {
			continue
		}
		period.Apply(event)
	}
	return period, nil
}

// parseLines tolerates both []map[string]interface{} and []interface{}
// since payloads round-trip through JSON.
func parseLines(value interface{}) []JournalLine {
	var rows []map[string]interface{}
	switch list := value.(type) {
	case []map[string]interface{}:
		rows = list
	case []interface{}:
		for _, item := range list {
			if row, ok := item.(map[string]interface{}); ok {
				rows = append(rows, row)
			}
		}
	default:
		return nil
	}

	lines := make([]JournalLine, 0, len(rows))
	for _, row := range rows {
		debit, _ := decimal.NewFromString(orZero(str(row, "debit")))
		credit, _ := decimal.NewFromString(orZero(str(row, "credit")))
		lines = append(lines, JournalLine{
			AccountCode: str(row, "account_code"),
			Debit:       debit,
			Credit:      credit,
			Memo:        str(row, "memo"),
		})
	}
	return lines
}

func str(data map[string]interface{}, key string) string {
	s, _ := data[key].(string)
	return s
}

func integer(data map[string]interface{}, key string) int {
	switch v := data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// newValue reads the "new" side of a structured change diff, accepting
// a bare value as well.
func newValue(change interface{}) string {
	if pair, ok := change.(map[string]interface{}); ok {
		if s, ok := pair["new"].(string); ok {
			return s
		}
		return ""
	}
	if s, ok := change.(string); ok {
		return s
	}
	return ""
}

func orZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}
