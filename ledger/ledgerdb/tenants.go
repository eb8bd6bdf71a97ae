// Copyright (C) 2025 Ledgerhouse, Inc.
// See LICENSE for copying information.

package ledgerdb

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"ledgerhouse.io/ledgerhouse/ledger/tenants"
)

type tenantsDB struct {
	db *DB
	q  queryer
}

func (t *tenantsDB) Companies() tenants.Companies { return &companiesStore{db: t.db, q: t.q} }
func (t *tenantsDB) Directory() tenants.Directory { return &directoryStore{db: t.db, q: t.q} }
func (t *tenantsDB) MigrationLog() tenants.MigrationLog {
	return &migrationLogStore{db: t.db, q: t.q}
}

type companiesStore struct {
	db *DB
	q  queryer
}

type companyRow struct {
	ID                   int64     `db:"id"`
	PublicID             string    `db:"public_id"`
	Slug                 string    `db:"slug"`
	Name                 string    `db:"name"`
	BaseCurrency         string    `db:"base_currency"`
	FiscalYearStartMonth int       `db:"fiscal_year_start_month"`
	Active               bool      `db:"active"`
	CreatedAt            time.Time `db:"created_at"`
}

func (row *companyRow) toCompany() (*tenants.Company, error) {
	publicID, err := uuid.Parse(row.PublicID)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return &tenants.Company{
		ID:                   row.ID,
		PublicID:             publicID,
		Slug:                 row.Slug,
		Name:                 row.Name,
		BaseCurrency:         row.BaseCurrency,
		FiscalYearStartMonth: row.FiscalYearStartMonth,
		Active:               row.Active,
		CreatedAt:            row.CreatedAt.UTC(),
	}, nil
}

const companyColumns = `id, public_id, slug, name, base_currency, fiscal_year_start_month, active, created_at`

func (store *companiesStore) Insert(ctx context.Context, company *tenants.Company) (_ *tenants.Company, err error) {
	defer mon.Task()(&ctx)(&err)

	createdAt := time.Now().UTC()
	_, err = store.q.ExecContext(ctx, store.q.Rebind(
		`INSERT INTO companies (public_id, slug, name, base_currency, fiscal_year_start_month, active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`),
		company.PublicID.String(), company.Slug, company.Name,
		company.BaseCurrency, company.FiscalYearStartMonth, company.Active, createdAt,
	)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return store.GetBySlug(ctx, company.Slug)
}

func (store *companiesStore) Get(ctx context.Context, id int64) (_ *tenants.Company, err error) {
	defer mon.Task()(&ctx)(&err)

	var row companyRow
	err = store.q.GetContext(ctx, &row, store.q.Rebind(
		`SELECT `+companyColumns+` FROM companies WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, tenants.ErrNotFound.New("company %d", id)
	}
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return row.toCompany()
}

func (store *companiesStore) GetBySlug(ctx context.Context, slug string) (_ *tenants.Company, err error) {
	defer mon.Task()(&ctx)(&err)

	var row companyRow
	err = store.q.GetContext(ctx, &row, store.q.Rebind(
		`SELECT `+companyColumns+` FROM companies WHERE slug = ?`), slug)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, tenants.ErrNotFound.New("company %q", slug)
	}
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return row.toCompany()
}

func (store *companiesStore) List(ctx context.Context) (_ []*tenants.Company, err error) {
	defer mon.Task()(&ctx)(&err)

	var rows []companyRow
	if err := store.q.SelectContext(ctx, &rows,
		`SELECT `+companyColumns+` FROM companies ORDER BY id`); err != nil {
		return nil, Error.Wrap(err)
	}
	out := make([]*tenants.Company, 0, len(rows))
	for i := range rows {
		company, err := rows[i].toCompany()
		if err != nil {
			return nil, err
		}
		out = append(out, company)
	}
	return out, nil
}

type directoryStore struct {
	db *DB
	q  queryer
}

type directoryRow struct {
	TenantID        int64     `db:"tenant_id"`
	Mode            string    `db:"mode"`
	Handle          string    `db:"handle"`
	Status          string    `db:"status"`
	LastExportedSeq int64     `db:"last_exported_seq"`
	ExportHash      string    `db:"export_hash"`
	ImportHash      string    `db:"import_hash"`
	ImportCount     int64     `db:"import_count"`
	UpdatedAt       time.Time `db:"updated_at"`
}

func (row *directoryRow) toEntry() *tenants.DirectoryEntry {
	return &tenants.DirectoryEntry{
		TenantID:        row.TenantID,
		Mode:            tenants.Mode(row.Mode),
		Handle:          row.Handle,
		Status:          tenants.Status(row.Status),
		LastExportedSeq: row.LastExportedSeq,
		ExportHash:      row.ExportHash,
		ImportHash:      row.ImportHash,
		ImportCount:     row.ImportCount,
		UpdatedAt:       row.UpdatedAt.UTC(),
	}
}

const directoryColumns = `tenant_id, mode, handle, status, last_exported_seq, export_hash, import_hash, import_count, updated_at`

func (store *directoryStore) Insert(ctx context.Context, entry *tenants.DirectoryEntry) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = store.q.ExecContext(ctx, store.q.Rebind(
		`INSERT INTO tenant_directory (tenant_id, mode, handle, status, updated_at)
		 VALUES (?, ?, ?, ?, ?)`),
		entry.TenantID, string(entry.Mode), entry.Handle, string(entry.Status), time.Now().UTC(),
	)
	return Error.Wrap(err)
}

func (store *directoryStore) Get(ctx context.Context, tenantID int64) (_ *tenants.DirectoryEntry, err error) {
	defer mon.Task()(&ctx)(&err)

	var row directoryRow
	err = store.q.GetContext(ctx, &row, store.q.Rebind(
		`SELECT `+directoryColumns+` FROM tenant_directory WHERE tenant_id = ?`), tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, tenants.ErrNotFound.New("tenant %d", tenantID)
	}
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return row.toEntry(), nil
}

func (store *directoryStore) List(ctx context.Context) (_ []*tenants.DirectoryEntry, err error) {
	defer mon.Task()(&ctx)(&err)

	var rows []directoryRow
	if err := store.q.SelectContext(ctx, &rows,
		`SELECT `+directoryColumns+` FROM tenant_directory ORDER BY tenant_id`); err != nil {
		return nil, Error.Wrap(err)
	}
	out := make([]*tenants.DirectoryEntry, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toEntry())
	}
	return out, nil
}

// UpdateStatus implements the compare-and-set transition so two racing
// migrations cannot both freeze the same tenant.
func (store *directoryStore) UpdateStatus(ctx context.Context, tenantID int64, from, to tenants.Status) (err error) {
	defer mon.Task()(&ctx)(&err)

	result, err := store.q.ExecContext(ctx, store.q.Rebind(
		`UPDATE tenant_directory SET status = ?, updated_at = ?
		 WHERE tenant_id = ? AND status = ?`),
		string(to), time.Now().UTC(), tenantID, string(from),
	)
	if err != nil {
		return Error.Wrap(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return Error.Wrap(err)
	}
	if affected == 0 {
		return Error.New("tenant %d is not %s", tenantID, from)
	}
	return nil
}

func (store *directoryStore) Cutover(ctx context.Context, tenantID int64, mode tenants.Mode, handle string) (err error) {
	defer mon.Task()(&ctx)(&err)

	result, err := store.q.ExecContext(ctx, store.q.Rebind(
		`UPDATE tenant_directory SET mode = ?, handle = ?, status = ?, updated_at = ?
		 WHERE tenant_id = ? AND status = ?`),
		string(mode), handle, string(tenants.StatusActive), time.Now().UTC(),
		tenantID, string(tenants.StatusMigrating),
	)
	if err != nil {
		return Error.Wrap(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return Error.Wrap(err)
	}
	if affected == 0 {
		return Error.New("tenant %d is not migrating, refusing cutover", tenantID)
	}
	return nil
}

func (store *directoryStore) SetCheckpoints(ctx context.Context, tenantID int64, lastExportedSeq int64, exportHash, importHash string, importCount int64) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = store.q.ExecContext(ctx, store.q.Rebind(
		`UPDATE tenant_directory
		 SET last_exported_seq = ?, export_hash = ?, import_hash = ?, import_count = ?, updated_at = ?
		 WHERE tenant_id = ?`),
		lastExportedSeq, exportHash, importHash, importCount, time.Now().UTC(), tenantID,
	)
	return Error.Wrap(err)
}

type migrationLogStore struct {
	db *DB
	q  queryer
}

type migrationRow struct {
	ID           int64     `db:"id"`
	TenantID     int64     `db:"tenant_id"`
	SourceHandle string    `db:"source_handle"`
	TargetHandle string    `db:"target_handle"`
	Success      bool      `db:"success"`
	Failure      string    `db:"failure"`
	EventCount   int64     `db:"event_count"`
	ExportHash   string    `db:"export_hash"`
	ImportHash   string    `db:"import_hash"`
	StartedAt    time.Time `db:"started_at"`
	FinishedAt   time.Time `db:"finished_at"`
}

func (store *migrationLogStore) Insert(ctx context.Context, record *tenants.MigrationRecord) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = store.q.ExecContext(ctx, store.q.Rebind(
		`INSERT INTO migration_log
			(tenant_id, source_handle, target_handle, success, failure,
			 event_count, export_hash, import_hash, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		record.TenantID, record.SourceHandle, record.TargetHandle,
		record.Success, record.Failure, record.EventCount,
		record.ExportHash, record.ImportHash, record.StartedAt, record.FinishedAt,
	)
	return Error.Wrap(err)
}

func (store *migrationLogStore) ListByTenant(ctx context.Context, tenantID int64) (_ []*tenants.MigrationRecord, err error) {
	defer mon.Task()(&ctx)(&err)

	var rows []migrationRow
	if err := store.q.SelectContext(ctx, &rows, store.q.Rebind(
		`SELECT id, tenant_id, source_handle, target_handle, success, failure,
			event_count, export_hash, import_hash, started_at, finished_at
		 FROM migration_log WHERE tenant_id = ? ORDER BY started_at`), tenantID); err != nil {
		return nil, Error.Wrap(err)
	}
	out := make([]*tenants.MigrationRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, &tenants.MigrationRecord{
			ID:           row.ID,
			TenantID:     row.TenantID,
			SourceHandle: row.SourceHandle,
			TargetHandle: row.TargetHandle,
			Success:      row.Success,
			Failure:      row.Failure,
			EventCount:   row.EventCount,
			ExportHash:   row.ExportHash,
			ImportHash:   row.ImportHash,
			StartedAt:    row.StartedAt.UTC(),
			FinishedAt:   row.FinishedAt.UTC(),
		})
	}
	return out, nil
}
