// Copyright (C) 2025 Ledgerhouse, Inc.
// See LICENSE for copying information.

package events

// Event type strings are part of the on-disk contract. The enumeration
// is closed: adding a type is a code change here plus a schema below.
const (
	TypeCompanyRegistered = "company.registered"

	TypeAccountCreated     = "account.created"
	TypeAccountUpdated     = "account.updated"
	TypeAccountDeactivated = "account.deactivated"

	TypeJournalEntryCreated         = "journal_entry.created"
	TypeJournalEntryUpdated         = "journal_entry.updated"
	TypeJournalEntrySavedComplete   = "journal_entry.saved_complete"
	TypeJournalEntryPosted          = "journal_entry.posted"
	TypeJournalEntryReversed        = "journal_entry.reversed"
	TypeJournalEntryDeleted         = "journal_entry.deleted"
	TypeJournalEntryLineAnalysisSet = "journal_entry.line_analysis_set"

	// Chunked batch journal emission: header + chunks + trailer, all on
	// the journal_entry aggregate.
	TypeJournalCreated         = "journal.created"
	TypeJournalLinesChunkAdded = "journal.lines_chunk_added"
	TypeJournalFinalized       = "journal.finalized"

	TypeFiscalPeriodRangeSet = "fiscal_period.range_set"
	TypeFiscalPeriodClosed   = "fiscal_period.closed"
	TypeFiscalPeriodOpened   = "fiscal_period.opened"

	TypeDimensionCreated          = "dimension.created"
	TypeDimensionValueAdded       = "dimension.value_added"
	TypeDimensionValueDeactivated = "dimension.value_deactivated"

	TypeIdentityMapped = "identity.mapped"

	TypeImportBatchOpened        = "import_batch.opened"
	TypeImportBatchRecordsStaged = "import_batch.records_staged"
	TypeImportBatchCommitted     = "import_batch.committed"
)

// Aggregate type strings.
const (
	AggregateCompany      = "company"
	AggregateAccount      = "account"
	AggregateJournalEntry = "journal_entry"
	AggregateFiscalPeriod = "fiscal_period"
	AggregateDimension    = "dimension"
	AggregateCrosswalk    = "identity_crosswalk"
	AggregateImportBatch  = "import_batch"
)

// AccountTypes is the closed set of account classifications.
var AccountTypes = []string{"ASSET", "LIABILITY", "EQUITY", "REVENUE", "EXPENSE"}

// lineRows describes one journal line inside a payload.
func lineRows() *Schema {
	return &Schema{
		Required: map[string]Field{
			"account_code": {Kind: KindString},
			"debit":        {Kind: KindDecimal},
			"credit":       {Kind: KindDecimal},
		},
		Optional: map[string]Field{
			"memo": {Kind: KindString},
		},
	}
}

// DefaultRegistry returns the registry with every event type the engine
// knows about.
func DefaultRegistry() *Registry {
	registry := NewRegistry()

	registry.Register(TypeCompanyRegistered, &Schema{
		Required: map[string]Field{
			"public_id":               {Kind: KindString},
			"slug":                    {Kind: KindString},
			"name":                    {Kind: KindString},
			"base_currency":           {Kind: KindString},
			"fiscal_year_start_month": {Kind: KindInt},
		},
	})

	registry.Register(TypeAccountCreated, &Schema{
		Required: map[string]Field{
			"public_id":    {Kind: KindString},
			"code":         {Kind: KindString},
			"name":         {Kind: KindString},
			"account_type": {Kind: KindEnum, Enum: AccountTypes},
		},
		Optional: map[string]Field{
			"parent_code": {Kind: KindString},
			"description": {Kind: KindString},
		},
	})
	registry.Register(TypeAccountUpdated, &Schema{
		Required: map[string]Field{
			"public_id": {Kind: KindString},
			"changes":   {Kind: KindMap},
		},
	})
	registry.Register(TypeAccountDeactivated, &Schema{
		Required: map[string]Field{
			"public_id": {Kind: KindString},
		},
		Optional: map[string]Field{
			"reason": {Kind: KindString},
		},
	})

	registry.Register(TypeJournalEntryCreated, &Schema{
		Required: map[string]Field{
			"public_id": {Kind: KindString},
			"date":      {Kind: KindString},
			"currency":  {Kind: KindString},
			"kind":      {Kind: KindEnum, Enum: []string{"STANDARD", "REVERSAL"}},
		},
		Optional: map[string]Field{
			"memo":            {Kind: KindString},
			"lines":           {Kind: KindList, Rows: lineRows()},
			"reverses_entry":  {Kind: KindString},
			"external_source": {Kind: KindString},
			"external_id":     {Kind: KindString},
		},
	})
	registry.Register(TypeJournalEntryUpdated, &Schema{
		Required: map[string]Field{
			"public_id": {Kind: KindString},
			"changes":   {Kind: KindMap},
		},
	})
	registry.Register(TypeJournalEntrySavedComplete, &Schema{
		Required: map[string]Field{
			"public_id":    {Kind: KindString},
			"lines":        {Kind: KindList, Rows: lineRows()},
			"total_debit":  {Kind: KindDecimal},
			"total_credit": {Kind: KindDecimal},
		},
	})
	registry.Register(TypeJournalEntryPosted, &Schema{
		Required: map[string]Field{
			"public_id":    {Kind: KindString},
			"entry_number": {Kind: KindString},
			"lines":        {Kind: KindList, Rows: lineRows()},
		},
	})
	registry.Register(TypeJournalEntryReversed, &Schema{
		Required: map[string]Field{
			"public_id":          {Kind: KindString},
			"reversal_public_id": {Kind: KindString},
		},
	})
	registry.Register(TypeJournalEntryDeleted, &Schema{
		Required: map[string]Field{
			"public_id": {Kind: KindString},
		},
	})
	registry.Register(TypeJournalEntryLineAnalysisSet, &Schema{
		Required: map[string]Field{
			"public_id":  {Kind: KindString},
			"line_index": {Kind: KindInt},
			"dimensions": {Kind: KindMap},
		},
	})

	registry.Register(TypeJournalCreated, &Schema{
		Required: map[string]Field{
			"public_id": {Kind: KindString},
			"date":      {Kind: KindString},
			"currency":  {Kind: KindString},
			"kind":      {Kind: KindEnum, Enum: []string{"STANDARD", "REVERSAL"}},
		},
		Optional: map[string]Field{
			"memo": {Kind: KindString},
		},
	})
	registry.Register(TypeJournalLinesChunkAdded, &Schema{
		Required: map[string]Field{
			"public_id":    {Kind: KindString},
			"chunk_index":  {Kind: KindInt},
			"total_chunks": {Kind: KindInt},
			"lines":        {Kind: KindList, Rows: lineRows()},
		},
	})
	registry.Register(TypeJournalFinalized, &Schema{
		Required: map[string]Field{
			"public_id":    {Kind: KindString},
			"total_debit":  {Kind: KindDecimal},
			"total_credit": {Kind: KindDecimal},
			"line_count":   {Kind: KindInt},
			"chunk_count":  {Kind: KindInt},
			"final_status": {Kind: KindEnum, Enum: []string{"DRAFT", "POSTED"}},
		},
	})

	registry.Register(TypeFiscalPeriodRangeSet, &Schema{
		Required: map[string]Field{
			"period_key": {Kind: KindString},
			"start_date": {Kind: KindString},
			"end_date":   {Kind: KindString},
		},
	})
	registry.Register(TypeFiscalPeriodClosed, &Schema{
		Required: map[string]Field{
			"period_key": {Kind: KindString},
		},
	})
	registry.Register(TypeFiscalPeriodOpened, &Schema{
		Required: map[string]Field{
			"period_key": {Kind: KindString},
		},
	})

	registry.Register(TypeDimensionCreated, &Schema{
		Required: map[string]Field{
			"public_id": {Kind: KindString},
			"code":      {Kind: KindString},
			"name":      {Kind: KindString},
		},
	})
	registry.Register(TypeDimensionValueAdded, &Schema{
		Required: map[string]Field{
			"public_id":  {Kind: KindString},
			"value_code": {Kind: KindString},
			"value_name": {Kind: KindString},
		},
	})
	registry.Register(TypeDimensionValueDeactivated, &Schema{
		Required: map[string]Field{
			"public_id":  {Kind: KindString},
			"value_code": {Kind: KindString},
		},
	})

	registry.Register(TypeIdentityMapped, &Schema{
		Required: map[string]Field{
			"system":      {Kind: KindString},
			"external_id": {Kind: KindString},
			"entity_type": {Kind: KindString},
			"entity_id":   {Kind: KindString},
		},
	})

	registry.Register(TypeImportBatchOpened, &Schema{
		Required: map[string]Field{
			"public_id": {Kind: KindString},
			"source":    {Kind: KindString},
		},
		Optional: map[string]Field{
			"description": {Kind: KindString},
		},
	})
	registry.Register(TypeImportBatchRecordsStaged, &Schema{
		Required: map[string]Field{
			"public_id":    {Kind: KindString},
			"record_count": {Kind: KindInt},
			"records":      {Kind: KindList},
		},
	})
	registry.Register(TypeImportBatchCommitted, &Schema{
		Required: map[string]Field{
			"public_id":      {Kind: KindString},
			"record_count":   {Kind: KindInt},
			"journal_count":  {Kind: KindInt},
			"rejected_count": {Kind: KindInt},
		},
	})

	return registry
}
