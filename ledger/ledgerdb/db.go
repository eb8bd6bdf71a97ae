// Copyright (C) 2025 Ledgerhouse, Inc.
// See LICENSE for copying information.

// Package ledgerdb implements every store contract against SQL. One DB
// is one handle: postgres in production, sqlite for dev and tests, both
// through the same schema migrations and queries.
package ledgerdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"ledgerhouse.io/ledgerhouse/ledger/commands"
	"ledgerhouse.io/ledgerhouse/ledger/events"
	"ledgerhouse.io/ledgerhouse/ledger/payloads"
	"ledgerhouse.io/ledgerhouse/ledger/projections"
	"ledgerhouse.io/ledgerhouse/ledger/tenants"
	"ledgerhouse.io/ledgerhouse/private/dbutil"
)

var (
	// Error is the ledgerdb error class.
	Error = errs.Class("ledgerdb")

	mon = monkit.Package()
)

// DB is one SQL handle implementing the full store surface.
type DB struct {
	log  *zap.Logger
	db   *sqlx.DB
	impl dbutil.Implementation
	name string
}

// Open connects to the database behind url. The schema is not touched;
// call MigrateToLatest before serving.
func Open(ctx context.Context, log *zap.Logger, name, url string) (*DB, error) {
	driver, source, impl, err := dbutil.SplitConnStr(url)
	if err != nil {
		return nil, err
	}
	db, err := sqlx.Open(driver, source)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, Error.Wrap(errs.Combine(err, db.Close()))
	}
	dbutil.Configure(db, impl)

	if impl == dbutil.SQLite {
		if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
			return nil, Error.Wrap(errs.Combine(err, db.Close()))
		}
	}

	return &DB{
		log:  log,
		db:   db,
		impl: impl,
		name: name,
	}, nil
}

// Implementation reports the backing database flavor.
func (db *DB) Implementation() dbutil.Implementation { return db.impl }

// Name returns the handle name this DB was opened as.
func (db *DB) Name() string { return db.name }

// Close closes the connection pool.
func (db *DB) Close() error { return Error.Wrap(db.db.Close()) }

// MigrateToLatest applies all pending schema steps.
func (db *DB) MigrateToLatest(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)
	return db.migration().Run(ctx, db.log, db.db)
}

// Events returns the event store.
func (db *DB) Events() events.DB {
	return &eventsStore{db: db, q: db.db}
}

// Payloads returns the blob store.
func (db *DB) Payloads() payloads.DB {
	return &payloadsStore{db: db, q: db.db}
}

// Projections returns projection bookkeeping and read models.
func (db *DB) Projections() projections.DB {
	return &projectionsDB{db: db, q: db.db}
}

// Tenants returns the system-owned stores. Only meaningful on the
// default handle.
func (db *DB) Tenants() tenants.DB {
	return &tenantsDB{db: db, q: db.db}
}

// Sequences returns the gapless number allocator.
func (db *DB) Sequences() commands.Sequences {
	return &sequencesStore{db: db, q: db.db}
}

// BindTenant sets the session's row-filter parameter to the tenant. On
// shared postgres handles the row level security policies key on this
// parameter; sqlite handles carry no row filter and this is a no-op.
// The request edge calls it when binding a shared tenant context, and
// withTx re-binds it transaction-locally so writes are filtered on the
// same connection they run on.
func (db *DB) BindTenant(ctx context.Context, tenantID int64) (err error) {
	defer mon.Task()(&ctx)(&err)

	if db.impl != dbutil.Postgres {
		return nil
	}
	_, err = db.db.ExecContext(ctx,
		`SELECT set_config('ledgerhouse.tenant_id', $1, false)`,
		strconv.FormatInt(tenantID, 10),
	)
	return Error.Wrap(err)
}

// TestingExec runs a raw statement against the handle, bypassing every
// store contract. Tests use it to corrupt data on purpose.
func (db *DB) TestingExec(ctx context.Context, query string, args ...interface{}) error {
	_, err := db.db.ExecContext(ctx, db.db.Rebind(query), args...)
	return Error.Wrap(err)
}

// queryer is the shared query surface of *sqlx.DB and *sqlx.Tx.
type queryer interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// isUniqueViolation classifies duplicate-key failures per driver.
func (db *DB) isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "constraint failed")
}

// withTx runs fn inside one transaction. On postgres, a bound shared
// tenant context re-binds the row-filter parameter locally to the
// transaction, so the filter rides the same pooled connection as the
// statements it guards.
func (db *DB) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := db.db.BeginTxx(ctx, nil)
	if err != nil {
		return Error.Wrap(err)
	}
	defer func() {
		if err != nil {
			err = errs.Combine(err, tx.Rollback())
			return
		}
		err = Error.Wrap(tx.Commit())
	}()

	if db.impl == dbutil.Postgres {
		if tc, tcErr := tenants.FromContext(ctx); tcErr == nil && tc.Shared {
			if _, err := tx.ExecContext(ctx,
				`SELECT set_config('ledgerhouse.tenant_id', $1, true)`,
				strconv.FormatInt(tc.TenantID, 10),
			); err != nil {
				return Error.Wrap(err)
			}
		}
	}
	return fn(tx)
}

// encodeJSON marshals nullable JSON columns.
func encodeJSON(value interface{}) (sql.NullString, error) {
	if value == nil {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return sql.NullString{}, Error.Wrap(err)
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

// decodeJSONMap unmarshals a nullable JSON object column.
func decodeJSONMap(raw sql.NullString) (map[string]interface{}, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var out map[string]interface{}
	if err := json.Unmarshal([]byte(raw.String), &out); err != nil {
		return nil, Error.Wrap(err)
	}
	return out, nil
}
