// Copyright (C) 2025 Ledgerhouse, Inc.
// See LICENSE for copying information.

package ledgerdb

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"ledgerhouse.io/ledgerhouse/ledger/projections"
	"ledgerhouse.io/ledgerhouse/private/dbutil"
)

// parseAmount reads a decimal stored as TEXT, treating empty as zero.
func parseAmount(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, Error.Wrap(err)
	}
	return amount, nil
}

type accountsStore struct {
	db *DB
	q  queryer
}

type accountRow struct {
	TenantID      int64     `db:"tenant_id"`
	PublicID      string    `db:"public_id"`
	Code          string    `db:"code"`
	Name          string    `db:"name"`
	AccountType   string    `db:"account_type"`
	NormalBalance string    `db:"normal_balance"`
	ParentCode    string    `db:"parent_code"`
	Description   string    `db:"description"`
	Active        bool      `db:"active"`
	UpdatedAt     time.Time `db:"updated_at"`
}

func (row *accountRow) toAccount() *projections.AccountRow {
	return &projections.AccountRow{
		TenantID:      row.TenantID,
		PublicID:      row.PublicID,
		Code:          row.Code,
		Name:          row.Name,
		AccountType:   row.AccountType,
		NormalBalance: row.NormalBalance,
		ParentCode:    row.ParentCode,
		Description:   row.Description,
		Active:        row.Active,
		UpdatedAt:     row.UpdatedAt.UTC(),
	}
}

const accountColumns = `tenant_id, public_id, code, name, account_type, normal_balance, parent_code, description, active, updated_at`

func (store *accountsStore) Upsert(ctx context.Context, row *projections.AccountRow) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := requireReadModelWrite(ctx); err != nil {
		return err
	}
	_, err = store.q.ExecContext(ctx, store.q.Rebind(
		`INSERT INTO accounts (`+accountColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (tenant_id, code) DO UPDATE SET
			public_id = excluded.public_id,
			name = excluded.name,
			account_type = excluded.account_type,
			normal_balance = excluded.normal_balance,
			parent_code = excluded.parent_code,
			description = excluded.description,
			active = excluded.active,
			updated_at = excluded.updated_at`),
		row.TenantID, row.PublicID, row.Code, row.Name, row.AccountType,
		row.NormalBalance, row.ParentCode, row.Description, row.Active, time.Now().UTC(),
	)
	return Error.Wrap(err)
}

func (store *accountsStore) GetByCode(ctx context.Context, tenantID int64, code string) (_ *projections.AccountRow, err error) {
	defer mon.Task()(&ctx)(&err)

	var row accountRow
	err = store.q.GetContext(ctx, &row, store.q.Rebind(
		`SELECT `+accountColumns+` FROM accounts WHERE tenant_id = ? AND code = ?`),
		tenantID, code,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return row.toAccount(), nil
}

func (store *accountsStore) GetByPublicID(ctx context.Context, tenantID int64, publicID string) (_ *projections.AccountRow, err error) {
	defer mon.Task()(&ctx)(&err)

	var row accountRow
	err = store.q.GetContext(ctx, &row, store.q.Rebind(
		`SELECT `+accountColumns+` FROM accounts WHERE tenant_id = ? AND public_id = ?`),
		tenantID, publicID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return row.toAccount(), nil
}

func (store *accountsStore) List(ctx context.Context, tenantID int64) (_ []*projections.AccountRow, err error) {
	defer mon.Task()(&ctx)(&err)

	var rows []accountRow
	if err := store.q.SelectContext(ctx, &rows, store.q.Rebind(
		`SELECT `+accountColumns+` FROM accounts WHERE tenant_id = ? ORDER BY code`),
		tenantID,
	); err != nil {
		return nil, Error.Wrap(err)
	}
	out := make([]*projections.AccountRow, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toAccount())
	}
	return out, nil
}

func (store *accountsStore) DeleteForTenant(ctx context.Context, tenantID int64) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := requireReadModelWrite(ctx); err != nil {
		return err
	}
	_, err = store.q.ExecContext(ctx, store.q.Rebind(
		`DELETE FROM accounts WHERE tenant_id = ?`), tenantID)
	return Error.Wrap(err)
}

type journalsStore struct {
	db *DB
	q  queryer
}

type journalRow struct {
	TenantID      int64     `db:"tenant_id"`
	PublicID      string    `db:"public_id"`
	EntryNumber   string    `db:"entry_number"`
	Date          string    `db:"date"`
	Currency      string    `db:"currency"`
	Kind          string    `db:"kind"`
	Memo          string    `db:"memo"`
	Status        string    `db:"status"`
	ReversesEntry string    `db:"reverses_entry"`
	TotalDebit    string    `db:"total_debit"`
	TotalCredit   string    `db:"total_credit"`
	LineCount     int       `db:"line_count"`
	UpdatedAt     time.Time `db:"updated_at"`
}

func (row *journalRow) toJournal() (*projections.JournalRow, error) {
	totalDebit, err := parseAmount(row.TotalDebit)
	if err != nil {
		return nil, err
	}
	totalCredit, err := parseAmount(row.TotalCredit)
	if err != nil {
		return nil, err
	}
	return &projections.JournalRow{
		TenantID:      row.TenantID,
		PublicID:      row.PublicID,
		EntryNumber:   row.EntryNumber,
		Date:          row.Date,
		Currency:      row.Currency,
		Kind:          row.Kind,
		Memo:          row.Memo,
		Status:        row.Status,
		ReversesEntry: row.ReversesEntry,
		TotalDebit:    totalDebit,
		TotalCredit:   totalCredit,
		LineCount:     row.LineCount,
		UpdatedAt:     row.UpdatedAt.UTC(),
	}, nil
}

type journalLineRow struct {
	TenantID      int64          `db:"tenant_id"`
	EntryPublicID string         `db:"entry_public_id"`
	LineIndex     int            `db:"line_index"`
	AccountCode   string         `db:"account_code"`
	Debit         string         `db:"debit"`
	Credit        string         `db:"credit"`
	Memo          string         `db:"memo"`
	Dimensions    sql.NullString `db:"dimensions"`
}

func (row *journalLineRow) toLine() (*projections.JournalLineRow, error) {
	debit, err := parseAmount(row.Debit)
	if err != nil {
		return nil, err
	}
	credit, err := parseAmount(row.Credit)
	if err != nil {
		return nil, err
	}
	line := &projections.JournalLineRow{
		TenantID:      row.TenantID,
		EntryPublicID: row.EntryPublicID,
		LineIndex:     row.LineIndex,
		AccountCode:   row.AccountCode,
		Debit:         debit,
		Credit:        credit,
		Memo:          row.Memo,
	}
	if row.Dimensions.Valid && row.Dimensions.String != "" {
		raw, err := decodeJSONMap(row.Dimensions)
		if err != nil {
			return nil, err
		}
		line.Dimensions = make(map[string]string, len(raw))
		for key, value := range raw {
			if s, ok := value.(string); ok {
				line.Dimensions[key] = s
			}
		}
	}
	return line, nil
}

const journalColumns = `tenant_id, public_id, entry_number, date, currency, kind, memo, status, reverses_entry, total_debit, total_credit, line_count, updated_at`

func (store *journalsStore) UpsertEntry(ctx context.Context, row *projections.JournalRow) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := requireReadModelWrite(ctx); err != nil {
		return err
	}
	_, err = store.q.ExecContext(ctx, store.q.Rebind(
		`INSERT INTO journal_entries (`+journalColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (tenant_id, public_id) DO UPDATE SET
			entry_number = excluded.entry_number,
			date = excluded.date,
			currency = excluded.currency,
			kind = excluded.kind,
			memo = excluded.memo,
			status = excluded.status,
			reverses_entry = excluded.reverses_entry,
			total_debit = excluded.total_debit,
			total_credit = excluded.total_credit,
			line_count = excluded.line_count,
			updated_at = excluded.updated_at`),
		row.TenantID, row.PublicID, row.EntryNumber, row.Date, row.Currency,
		row.Kind, row.Memo, row.Status, row.ReversesEntry,
		row.TotalDebit.String(), row.TotalCredit.String(), row.LineCount, time.Now().UTC(),
	)
	return Error.Wrap(err)
}

func (store *journalsStore) insertLines(ctx context.Context, lines []*projections.JournalLineRow) error {
	for _, line := range lines {
		dims, err := encodeDimensions(line.Dimensions)
		if err != nil {
			return err
		}
		if _, err := store.q.ExecContext(ctx, store.q.Rebind(
			`INSERT INTO journal_lines
				(tenant_id, entry_public_id, line_index, account_code, debit, credit, memo, dimensions)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
			line.TenantID, line.EntryPublicID, line.LineIndex, line.AccountCode,
			line.Debit.String(), line.Credit.String(), line.Memo, dims,
		); err != nil {
			return Error.Wrap(err)
		}
	}
	return nil
}

func (store *journalsStore) ReplaceLines(ctx context.Context, tenantID int64, entryPublicID string, lines []*projections.JournalLineRow) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := requireReadModelWrite(ctx); err != nil {
		return err
	}
	if _, err := store.q.ExecContext(ctx, store.q.Rebind(
		`DELETE FROM journal_lines WHERE tenant_id = ? AND entry_public_id = ?`),
		tenantID, entryPublicID,
	); err != nil {
		return Error.Wrap(err)
	}
	return store.insertLines(ctx, lines)
}

func (store *journalsStore) AppendLines(ctx context.Context, tenantID int64, entryPublicID string, lines []*projections.JournalLineRow) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := requireReadModelWrite(ctx); err != nil {
		return err
	}
	return store.insertLines(ctx, lines)
}

func (store *journalsStore) SetLineDimensions(ctx context.Context, tenantID int64, entryPublicID string, lineIndex int, dims map[string]string) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := requireReadModelWrite(ctx); err != nil {
		return err
	}
	encoded, err := encodeDimensions(dims)
	if err != nil {
		return err
	}
	_, err = store.q.ExecContext(ctx, store.q.Rebind(
		`UPDATE journal_lines SET dimensions = ?
		 WHERE tenant_id = ? AND entry_public_id = ? AND line_index = ?`),
		encoded, tenantID, entryPublicID, lineIndex,
	)
	return Error.Wrap(err)
}

func (store *journalsStore) GetEntry(ctx context.Context, tenantID int64, publicID string) (_ *projections.JournalRow, err error) {
	defer mon.Task()(&ctx)(&err)

	var row journalRow
	err = store.q.GetContext(ctx, &row, store.q.Rebind(
		`SELECT `+journalColumns+` FROM journal_entries WHERE tenant_id = ? AND public_id = ?`),
		tenantID, publicID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return row.toJournal()
}

func (store *journalsStore) ListEntries(ctx context.Context, tenantID int64) (_ []*projections.JournalRow, err error) {
	defer mon.Task()(&ctx)(&err)

	var rows []journalRow
	if err := store.q.SelectContext(ctx, &rows, store.q.Rebind(
		`SELECT `+journalColumns+` FROM journal_entries
		 WHERE tenant_id = ? ORDER BY date, public_id`),
		tenantID,
	); err != nil {
		return nil, Error.Wrap(err)
	}
	out := make([]*projections.JournalRow, 0, len(rows))
	for i := range rows {
		journal, err := rows[i].toJournal()
		if err != nil {
			return nil, err
		}
		out = append(out, journal)
	}
	return out, nil
}

func (store *journalsStore) ListLines(ctx context.Context, tenantID int64, entryPublicID string) (_ []*projections.JournalLineRow, err error) {
	defer mon.Task()(&ctx)(&err)

	var rows []journalLineRow
	if err := store.q.SelectContext(ctx, &rows, store.q.Rebind(
		`SELECT tenant_id, entry_public_id, line_index, account_code, debit, credit, memo, dimensions
		 FROM journal_lines WHERE tenant_id = ? AND entry_public_id = ? ORDER BY line_index`),
		tenantID, entryPublicID,
	); err != nil {
		return nil, Error.Wrap(err)
	}
	out := make([]*projections.JournalLineRow, 0, len(rows))
	for i := range rows {
		line, err := rows[i].toLine()
		if err != nil {
			return nil, err
		}
		out = append(out, line)
	}
	return out, nil
}

func (store *journalsStore) DeleteEntry(ctx context.Context, tenantID int64, publicID string) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := requireReadModelWrite(ctx); err != nil {
		return err
	}
	if _, err := store.q.ExecContext(ctx, store.q.Rebind(
		`DELETE FROM journal_lines WHERE tenant_id = ? AND entry_public_id = ?`),
		tenantID, publicID,
	); err != nil {
		return Error.Wrap(err)
	}
	_, err = store.q.ExecContext(ctx, store.q.Rebind(
		`DELETE FROM journal_entries WHERE tenant_id = ? AND public_id = ?`),
		tenantID, publicID,
	)
	return Error.Wrap(err)
}

func (store *journalsStore) DeleteForTenant(ctx context.Context, tenantID int64) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := requireReadModelWrite(ctx); err != nil {
		return err
	}
	if _, err := store.q.ExecContext(ctx, store.q.Rebind(
		`DELETE FROM journal_lines WHERE tenant_id = ?`), tenantID); err != nil {
		return Error.Wrap(err)
	}
	_, err = store.q.ExecContext(ctx, store.q.Rebind(
		`DELETE FROM journal_entries WHERE tenant_id = ?`), tenantID)
	return Error.Wrap(err)
}

// encodeDimensions serializes a dimension map, NULL when empty.
func encodeDimensions(dims map[string]string) (sql.NullString, error) {
	if len(dims) == 0 {
		return sql.NullString{}, nil
	}
	generic := make(map[string]interface{}, len(dims))
	for key, value := range dims {
		generic[key] = value
	}
	return encodeJSON(generic)
}

type balancesStore struct {
	db *DB
	q  queryer
}

type balanceRow struct {
	TenantID      int64          `db:"tenant_id"`
	AccountCode   string         `db:"account_code"`
	NormalBalance string         `db:"normal_balance"`
	DebitTotal    string         `db:"debit_total"`
	CreditTotal   string         `db:"credit_total"`
	Balance       string         `db:"balance"`
	LastEventID   sql.NullString `db:"last_event_id"`
	UpdatedAt     time.Time      `db:"updated_at"`
}

func (row *balanceRow) toBalance() (*projections.BalanceRow, error) {
	debitTotal, err := parseAmount(row.DebitTotal)
	if err != nil {
		return nil, err
	}
	creditTotal, err := parseAmount(row.CreditTotal)
	if err != nil {
		return nil, err
	}
	balance, err := parseAmount(row.Balance)
	if err != nil {
		return nil, err
	}
	out := &projections.BalanceRow{
		TenantID:      row.TenantID,
		AccountCode:   row.AccountCode,
		NormalBalance: row.NormalBalance,
		DebitTotal:    debitTotal,
		CreditTotal:   creditTotal,
		Balance:       balance,
		UpdatedAt:     row.UpdatedAt.UTC(),
	}
	if row.LastEventID.Valid && row.LastEventID.String != "" {
		id, err := uuid.Parse(row.LastEventID.String)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		out.LastEventID = &id
	}
	return out, nil
}

const balanceColumns = `tenant_id, account_code, normal_balance, debit_total, credit_total, balance, last_event_id, updated_at`

// ApplyPosting folds one event's activity for one account into its
// balance row. The row is locked for the length of the fold and the
// stored last_event_id makes re-delivery of the same event a no-op.
func (store *balancesStore) ApplyPosting(ctx context.Context, tenantID int64, accountCode, normalBalance string, debit, credit decimal.Decimal, eventID uuid.UUID) (applied bool, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := requireReadModelWrite(ctx); err != nil {
		return false, err
	}

	if _, inTx := store.q.(*sqlx.Tx); inTx {
		return store.apply(ctx, store.q, tenantID, accountCode, normalBalance, debit, credit, eventID)
	}
	err = store.db.withTx(ctx, func(tx *sqlx.Tx) error {
		applied, err = store.apply(ctx, tx, tenantID, accountCode, normalBalance, debit, credit, eventID)
		return err
	})
	return applied, err
}

func (store *balancesStore) apply(ctx context.Context, q queryer, tenantID int64, accountCode, normalBalance string, debit, credit decimal.Decimal, eventID uuid.UUID) (bool, error) {
	query := `SELECT ` + balanceColumns + ` FROM account_balances WHERE tenant_id = ? AND account_code = ?`
	if store.db.impl == dbutil.Postgres {
		query += ` FOR UPDATE`
	}

	var row balanceRow
	err := q.GetContext(ctx, &row, q.Rebind(query), tenantID, accountCode)
	if errors.Is(err, sql.ErrNoRows) {
		balance := debit.Sub(credit)
		if normalBalance == "CREDIT" {
			balance = credit.Sub(debit)
		}
		_, err := q.ExecContext(ctx, q.Rebind(
			`INSERT INTO account_balances (`+balanceColumns+`)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
			tenantID, accountCode, normalBalance,
			debit.String(), credit.String(), balance.String(),
			eventID.String(), time.Now().UTC(),
		)
		return true, Error.Wrap(err)
	}
	if err != nil {
		return false, Error.Wrap(err)
	}

	if row.LastEventID.Valid && row.LastEventID.String == eventID.String() {
		return false, nil
	}

	current, err := row.toBalance()
	if err != nil {
		return false, err
	}
	debitTotal := current.DebitTotal.Add(debit)
	creditTotal := current.CreditTotal.Add(credit)
	balance := debitTotal.Sub(creditTotal)
	if current.NormalBalance == "CREDIT" {
		balance = creditTotal.Sub(debitTotal)
	}

	_, err = q.ExecContext(ctx, q.Rebind(
		`UPDATE account_balances
		 SET debit_total = ?, credit_total = ?, balance = ?, last_event_id = ?, updated_at = ?
		 WHERE tenant_id = ? AND account_code = ?`),
		debitTotal.String(), creditTotal.String(), balance.String(),
		eventID.String(), time.Now().UTC(), tenantID, accountCode,
	)
	return true, Error.Wrap(err)
}

func (store *balancesStore) Get(ctx context.Context, tenantID int64, accountCode string) (_ *projections.BalanceRow, err error) {
	defer mon.Task()(&ctx)(&err)

	var row balanceRow
	err = store.q.GetContext(ctx, &row, store.q.Rebind(
		`SELECT `+balanceColumns+` FROM account_balances WHERE tenant_id = ? AND account_code = ?`),
		tenantID, accountCode,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return row.toBalance()
}

func (store *balancesStore) TrialBalance(ctx context.Context, tenantID int64) (_ *projections.TrialBalance, err error) {
	defer mon.Task()(&ctx)(&err)

	var rows []balanceRow
	if err := store.q.SelectContext(ctx, &rows, store.q.Rebind(
		`SELECT `+balanceColumns+` FROM account_balances
		 WHERE tenant_id = ? ORDER BY account_code`),
		tenantID,
	); err != nil {
		return nil, Error.Wrap(err)
	}

	report := &projections.TrialBalance{
		Accounts:    make([]projections.TrialBalanceRow, 0, len(rows)),
		TotalDebit:  decimal.Zero,
		TotalCredit: decimal.Zero,
	}
	for i := range rows {
		balance, err := rows[i].toBalance()
		if err != nil {
			return nil, err
		}
		report.Accounts = append(report.Accounts, projections.TrialBalanceRow{
			AccountCode:   balance.AccountCode,
			NormalBalance: balance.NormalBalance,
			DebitTotal:    balance.DebitTotal,
			CreditTotal:   balance.CreditTotal,
			Balance:       balance.Balance,
		})
		report.TotalDebit = report.TotalDebit.Add(balance.DebitTotal)
		report.TotalCredit = report.TotalCredit.Add(balance.CreditTotal)
	}
	report.IsBalanced = report.TotalDebit.Equal(report.TotalCredit)
	return report, nil
}

func (store *balancesStore) DeleteForTenant(ctx context.Context, tenantID int64) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := requireReadModelWrite(ctx); err != nil {
		return err
	}
	_, err = store.q.ExecContext(ctx, store.q.Rebind(
		`DELETE FROM account_balances WHERE tenant_id = ?`), tenantID)
	return Error.Wrap(err)
}

type fiscalPeriodsStore struct {
	db *DB
	q  queryer
}

type fiscalPeriodRow struct {
	TenantID  int64     `db:"tenant_id"`
	PeriodKey string    `db:"period_key"`
	StartDate string    `db:"start_date"`
	EndDate   string    `db:"end_date"`
	Closed    bool      `db:"closed"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (row *fiscalPeriodRow) toPeriod() *projections.FiscalPeriodRow {
	return &projections.FiscalPeriodRow{
		TenantID:  row.TenantID,
		PeriodKey: row.PeriodKey,
		StartDate: row.StartDate,
		EndDate:   row.EndDate,
		Closed:    row.Closed,
		UpdatedAt: row.UpdatedAt.UTC(),
	}
}

const fiscalPeriodColumns = `tenant_id, period_key, start_date, end_date, closed, updated_at`

func (store *fiscalPeriodsStore) Upsert(ctx context.Context, row *projections.FiscalPeriodRow) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := requireReadModelWrite(ctx); err != nil {
		return err
	}
	_, err = store.q.ExecContext(ctx, store.q.Rebind(
		`INSERT INTO fiscal_periods (`+fiscalPeriodColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (tenant_id, period_key) DO UPDATE SET
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			closed = excluded.closed,
			updated_at = excluded.updated_at`),
		row.TenantID, row.PeriodKey, row.StartDate, row.EndDate, row.Closed, time.Now().UTC(),
	)
	return Error.Wrap(err)
}

func (store *fiscalPeriodsStore) Get(ctx context.Context, tenantID int64, periodKey string) (_ *projections.FiscalPeriodRow, err error) {
	defer mon.Task()(&ctx)(&err)

	var row fiscalPeriodRow
	err = store.q.GetContext(ctx, &row, store.q.Rebind(
		`SELECT `+fiscalPeriodColumns+` FROM fiscal_periods WHERE tenant_id = ? AND period_key = ?`),
		tenantID, periodKey,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return row.toPeriod(), nil
}

// ForDate relies on dates being ISO formatted, so string comparison
// orders the same as date comparison.
func (store *fiscalPeriodsStore) ForDate(ctx context.Context, tenantID int64, date string) (_ *projections.FiscalPeriodRow, err error) {
	defer mon.Task()(&ctx)(&err)

	var row fiscalPeriodRow
	err = store.q.GetContext(ctx, &row, store.q.Rebind(
		`SELECT `+fiscalPeriodColumns+` FROM fiscal_periods
		 WHERE tenant_id = ? AND start_date <= ? AND end_date >= ?
		 ORDER BY start_date LIMIT 1`),
		tenantID, date, date,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return row.toPeriod(), nil
}

func (store *fiscalPeriodsStore) List(ctx context.Context, tenantID int64) (_ []*projections.FiscalPeriodRow, err error) {
	defer mon.Task()(&ctx)(&err)

	var rows []fiscalPeriodRow
	if err := store.q.SelectContext(ctx, &rows, store.q.Rebind(
		`SELECT `+fiscalPeriodColumns+` FROM fiscal_periods
		 WHERE tenant_id = ? ORDER BY start_date`),
		tenantID,
	); err != nil {
		return nil, Error.Wrap(err)
	}
	out := make([]*projections.FiscalPeriodRow, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toPeriod())
	}
	return out, nil
}

func (store *fiscalPeriodsStore) DeleteForTenant(ctx context.Context, tenantID int64) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := requireReadModelWrite(ctx); err != nil {
		return err
	}
	_, err = store.q.ExecContext(ctx, store.q.Rebind(
		`DELETE FROM fiscal_periods WHERE tenant_id = ?`), tenantID)
	return Error.Wrap(err)
}

type dimensionsStore struct {
	db *DB
	q  queryer
}

type dimensionRow struct {
	TenantID  int64     `db:"tenant_id"`
	PublicID  string    `db:"public_id"`
	Code      string    `db:"code"`
	Name      string    `db:"name"`
	UpdatedAt time.Time `db:"updated_at"`
}

type dimensionValueRow struct {
	TenantID      int64     `db:"tenant_id"`
	DimensionCode string    `db:"dimension_code"`
	ValueCode     string    `db:"value_code"`
	ValueName     string    `db:"value_name"`
	Active        bool      `db:"active"`
	UpdatedAt     time.Time `db:"updated_at"`
}

func (store *dimensionsStore) UpsertDimension(ctx context.Context, row *projections.DimensionRow) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := requireReadModelWrite(ctx); err != nil {
		return err
	}
	_, err = store.q.ExecContext(ctx, store.q.Rebind(
		`INSERT INTO dimensions (tenant_id, code, public_id, name, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (tenant_id, code) DO UPDATE SET
			public_id = excluded.public_id,
			name = excluded.name,
			updated_at = excluded.updated_at`),
		row.TenantID, row.Code, row.PublicID, row.Name, time.Now().UTC(),
	)
	return Error.Wrap(err)
}

func (store *dimensionsStore) UpsertValue(ctx context.Context, row *projections.DimensionValueRow) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := requireReadModelWrite(ctx); err != nil {
		return err
	}
	_, err = store.q.ExecContext(ctx, store.q.Rebind(
		`INSERT INTO dimension_values (tenant_id, dimension_code, value_code, value_name, active, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (tenant_id, dimension_code, value_code) DO UPDATE SET
			value_name = excluded.value_name,
			active = excluded.active,
			updated_at = excluded.updated_at`),
		row.TenantID, row.DimensionCode, row.ValueCode, row.ValueName, row.Active, time.Now().UTC(),
	)
	return Error.Wrap(err)
}

func (store *dimensionsStore) GetDimension(ctx context.Context, tenantID int64, code string) (_ *projections.DimensionRow, err error) {
	defer mon.Task()(&ctx)(&err)

	var row dimensionRow
	err = store.q.GetContext(ctx, &row, store.q.Rebind(
		`SELECT tenant_id, public_id, code, name, updated_at
		 FROM dimensions WHERE tenant_id = ? AND code = ?`),
		tenantID, code,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return &projections.DimensionRow{
		TenantID:  row.TenantID,
		PublicID:  row.PublicID,
		Code:      row.Code,
		Name:      row.Name,
		UpdatedAt: row.UpdatedAt.UTC(),
	}, nil
}

func (store *dimensionsStore) ListDimensions(ctx context.Context, tenantID int64) (_ []*projections.DimensionRow, err error) {
	defer mon.Task()(&ctx)(&err)

	var rows []dimensionRow
	if err := store.q.SelectContext(ctx, &rows, store.q.Rebind(
		`SELECT tenant_id, public_id, code, name, updated_at
		 FROM dimensions WHERE tenant_id = ? ORDER BY code`),
		tenantID,
	); err != nil {
		return nil, Error.Wrap(err)
	}
	out := make([]*projections.DimensionRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, &projections.DimensionRow{
			TenantID:  row.TenantID,
			PublicID:  row.PublicID,
			Code:      row.Code,
			Name:      row.Name,
			UpdatedAt: row.UpdatedAt.UTC(),
		})
	}
	return out, nil
}

func (store *dimensionsStore) ListValues(ctx context.Context, tenantID int64, dimensionCode string) (_ []*projections.DimensionValueRow, err error) {
	defer mon.Task()(&ctx)(&err)

	var rows []dimensionValueRow
	if err := store.q.SelectContext(ctx, &rows, store.q.Rebind(
		`SELECT tenant_id, dimension_code, value_code, value_name, active, updated_at
		 FROM dimension_values WHERE tenant_id = ? AND dimension_code = ? ORDER BY value_code`),
		tenantID, dimensionCode,
	); err != nil {
		return nil, Error.Wrap(err)
	}
	out := make([]*projections.DimensionValueRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, &projections.DimensionValueRow{
			TenantID:      row.TenantID,
			DimensionCode: row.DimensionCode,
			ValueCode:     row.ValueCode,
			ValueName:     row.ValueName,
			Active:        row.Active,
			UpdatedAt:     row.UpdatedAt.UTC(),
		})
	}
	return out, nil
}

func (store *dimensionsStore) DeleteForTenant(ctx context.Context, tenantID int64) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := requireReadModelWrite(ctx); err != nil {
		return err
	}
	if _, err := store.q.ExecContext(ctx, store.q.Rebind(
		`DELETE FROM dimension_values WHERE tenant_id = ?`), tenantID); err != nil {
		return Error.Wrap(err)
	}
	_, err = store.q.ExecContext(ctx, store.q.Rebind(
		`DELETE FROM dimensions WHERE tenant_id = ?`), tenantID)
	return Error.Wrap(err)
}

type crosswalksStore struct {
	db *DB
	q  queryer
}

func (store *crosswalksStore) Upsert(ctx context.Context, row *projections.CrosswalkRow) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := requireReadModelWrite(ctx); err != nil {
		return err
	}
	_, err = store.q.ExecContext(ctx, store.q.Rebind(
		`INSERT INTO identity_crosswalks (tenant_id, system, external_id, entity_type, entity_id, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (tenant_id, system, external_id) DO UPDATE SET
			entity_type = excluded.entity_type,
			entity_id = excluded.entity_id,
			updated_at = excluded.updated_at`),
		row.TenantID, row.System, row.ExternalID, row.EntityType, row.EntityID, time.Now().UTC(),
	)
	return Error.Wrap(err)
}

func (store *crosswalksStore) Get(ctx context.Context, tenantID int64, system, externalID string) (_ *projections.CrosswalkRow, err error) {
	defer mon.Task()(&ctx)(&err)

	var row struct {
		TenantID   int64     `db:"tenant_id"`
		System     string    `db:"system"`
		ExternalID string    `db:"external_id"`
		EntityType string    `db:"entity_type"`
		EntityID   string    `db:"entity_id"`
		UpdatedAt  time.Time `db:"updated_at"`
	}
	err = store.q.GetContext(ctx, &row, store.q.Rebind(
		`SELECT tenant_id, system, external_id, entity_type, entity_id, updated_at
		 FROM identity_crosswalks WHERE tenant_id = ? AND system = ? AND external_id = ?`),
		tenantID, system, externalID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return &projections.CrosswalkRow{
		TenantID:   row.TenantID,
		System:     row.System,
		ExternalID: row.ExternalID,
		EntityType: row.EntityType,
		EntityID:   row.EntityID,
		UpdatedAt:  row.UpdatedAt.UTC(),
	}, nil
}

func (store *crosswalksStore) DeleteForTenant(ctx context.Context, tenantID int64) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := requireReadModelWrite(ctx); err != nil {
		return err
	}
	_, err = store.q.ExecContext(ctx, store.q.Rebind(
		`DELETE FROM identity_crosswalks WHERE tenant_id = ?`), tenantID)
	return Error.Wrap(err)
}

type batchesStore struct {
	db *DB
	q  queryer
}

func (store *batchesStore) Upsert(ctx context.Context, row *projections.BatchRow) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := requireReadModelWrite(ctx); err != nil {
		return err
	}
	_, err = store.q.ExecContext(ctx, store.q.Rebind(
		`INSERT INTO import_batches (tenant_id, public_id, source, description, status, record_count, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (tenant_id, public_id) DO UPDATE SET
			source = excluded.source,
			description = excluded.description,
			status = excluded.status,
			record_count = excluded.record_count,
			updated_at = excluded.updated_at`),
		row.TenantID, row.PublicID, row.Source, row.Description, row.Status, row.RecordCount, time.Now().UTC(),
	)
	return Error.Wrap(err)
}

func (store *batchesStore) Get(ctx context.Context, tenantID int64, publicID string) (_ *projections.BatchRow, err error) {
	defer mon.Task()(&ctx)(&err)

	var row struct {
		TenantID    int64     `db:"tenant_id"`
		PublicID    string    `db:"public_id"`
		Source      string    `db:"source"`
		Description string    `db:"description"`
		Status      string    `db:"status"`
		RecordCount int64     `db:"record_count"`
		UpdatedAt   time.Time `db:"updated_at"`
	}
	err = store.q.GetContext(ctx, &row, store.q.Rebind(
		`SELECT tenant_id, public_id, source, description, status, record_count, updated_at
		 FROM import_batches WHERE tenant_id = ? AND public_id = ?`),
		tenantID, publicID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return &projections.BatchRow{
		TenantID:    row.TenantID,
		PublicID:    row.PublicID,
		Source:      row.Source,
		Description: row.Description,
		Status:      row.Status,
		RecordCount: row.RecordCount,
		UpdatedAt:   row.UpdatedAt.UTC(),
	}, nil
}

func (store *batchesStore) DeleteForTenant(ctx context.Context, tenantID int64) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := requireReadModelWrite(ctx); err != nil {
		return err
	}
	_, err = store.q.ExecContext(ctx, store.q.Rebind(
		`DELETE FROM import_batches WHERE tenant_id = ?`), tenantID)
	return Error.Wrap(err)
}
