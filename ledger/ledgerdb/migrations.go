// Copyright (C) 2025 Ledgerhouse, Inc.
// See LICENSE for copying information.

package ledgerdb

import (
	"context"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"ledgerhouse.io/ledgerhouse/private/dbutil"
	"ledgerhouse.io/ledgerhouse/private/migrate"
)

// serial returns the auto-incrementing primary key column per flavor.
func (db *DB) serial() string {
	if db.impl == dbutil.Postgres {
		return "BIGSERIAL PRIMARY KEY"
	}
	return "INTEGER PRIMARY KEY AUTOINCREMENT"
}

// migration returns the handle's schema migration. Every handle runs
// the full set; the system-owned tables simply stay empty on dedicated
// handles.
func (db *DB) migration() *migrate.Migration {
	return &migrate.Migration{
		Table: "schema_versions",
		Steps: []*migrate.Step{
			{
				Description: "tenant directory and companies",
				Version:     0,
				Action: migrate.SQL{
					`CREATE TABLE companies (
						id ` + db.serial() + `,
						public_id TEXT NOT NULL UNIQUE,
						slug TEXT NOT NULL UNIQUE,
						name TEXT NOT NULL,
						base_currency TEXT NOT NULL,
						fiscal_year_start_month INTEGER NOT NULL,
						active BOOLEAN NOT NULL DEFAULT TRUE,
						created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
					)`,
					`CREATE TABLE tenant_directory (
						tenant_id BIGINT NOT NULL PRIMARY KEY,
						mode TEXT NOT NULL,
						handle TEXT NOT NULL,
						status TEXT NOT NULL,
						last_exported_seq BIGINT NOT NULL DEFAULT 0,
						export_hash TEXT NOT NULL DEFAULT '',
						import_hash TEXT NOT NULL DEFAULT '',
						import_count BIGINT NOT NULL DEFAULT 0,
						updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
					)`,
					`CREATE TABLE migration_log (
						id ` + db.serial() + `,
						tenant_id BIGINT NOT NULL,
						source_handle TEXT NOT NULL,
						target_handle TEXT NOT NULL,
						success BOOLEAN NOT NULL,
						failure TEXT NOT NULL DEFAULT '',
						event_count BIGINT NOT NULL DEFAULT 0,
						export_hash TEXT NOT NULL DEFAULT '',
						import_hash TEXT NOT NULL DEFAULT '',
						started_at TIMESTAMP NOT NULL,
						finished_at TIMESTAMP NOT NULL
					)`,
					`CREATE INDEX migration_log_tenant_idx ON migration_log (tenant_id, started_at)`,
				},
			},
			{
				Description: "event log, payload blobs, counters",
				Version:     1,
				Action: migrate.SQL{
					`CREATE TABLE business_events (
						id TEXT NOT NULL PRIMARY KEY,
						tenant_id BIGINT NOT NULL,
						type TEXT NOT NULL,
						aggregate_type TEXT NOT NULL,
						aggregate_id TEXT NOT NULL,
						aggregate_seq BIGINT NOT NULL,
						stream_seq BIGINT NOT NULL,
						idempotency_key TEXT NOT NULL,
						storage TEXT NOT NULL,
						payload_hash TEXT NOT NULL,
						payload_ref BIGINT,
						data TEXT,
						origin TEXT NOT NULL,
						caused_by_user_id BIGINT,
						caused_by_event_id TEXT,
						occurred_at TIMESTAMP NOT NULL,
						recorded_at TIMESTAMP NOT NULL,
						schema_version INTEGER NOT NULL DEFAULT 1,
						metadata TEXT,
						UNIQUE (tenant_id, idempotency_key),
						UNIQUE (tenant_id, stream_seq),
						UNIQUE (tenant_id, aggregate_type, aggregate_id, aggregate_seq)
					)`,
					`CREATE INDEX business_events_stream_idx
						ON business_events (tenant_id, stream_seq)`,
					`CREATE INDEX business_events_aggregate_idx
						ON business_events (tenant_id, aggregate_type, aggregate_id, aggregate_seq)`,
					`CREATE INDEX business_events_caused_by_idx
						ON business_events (tenant_id, caused_by_event_id)`,
					`CREATE TABLE payload_blobs (
						id ` + db.serial() + `,
						tenant_id BIGINT NOT NULL,
						content_hash TEXT NOT NULL,
						payload TEXT NOT NULL,
						size_bytes BIGINT NOT NULL,
						compression TEXT NOT NULL DEFAULT '',
						created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
						UNIQUE (tenant_id, content_hash)
					)`,
					`CREATE TABLE tenant_stream_counters (
						tenant_id BIGINT NOT NULL PRIMARY KEY,
						next_seq BIGINT NOT NULL DEFAULT 0
					)`,
					`CREATE TABLE tenant_number_sequences (
						tenant_id BIGINT NOT NULL,
						name TEXT NOT NULL,
						next_value BIGINT NOT NULL DEFAULT 0,
						PRIMARY KEY (tenant_id, name)
					)`,
				},
			},
			{
				Description: "projection bookkeeping",
				Version:     2,
				Action: migrate.SQL{
					`CREATE TABLE projection_bookmarks (
						projection TEXT NOT NULL,
						tenant_id BIGINT NOT NULL,
						last_stream_seq BIGINT NOT NULL DEFAULT 0,
						last_event_id TEXT,
						last_processed_at TIMESTAMP,
						is_paused BOOLEAN NOT NULL DEFAULT FALSE,
						error_count INTEGER NOT NULL DEFAULT 0,
						last_error TEXT NOT NULL DEFAULT '',
						PRIMARY KEY (projection, tenant_id)
					)`,
					`CREATE TABLE projection_applied_events (
						projection TEXT NOT NULL,
						tenant_id BIGINT NOT NULL,
						event_id TEXT NOT NULL,
						applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
						PRIMARY KEY (projection, tenant_id, event_id)
					)`,
					`CREATE TABLE projection_statuses (
						projection TEXT NOT NULL,
						tenant_id BIGINT NOT NULL,
						state TEXT NOT NULL,
						processed_count BIGINT NOT NULL DEFAULT 0,
						last_rebuild_ms BIGINT NOT NULL DEFAULT 0,
						last_error TEXT NOT NULL DEFAULT '',
						updated_at TIMESTAMP NOT NULL,
						PRIMARY KEY (projection, tenant_id)
					)`,
				},
			},
			{
				Description: "read models",
				Version:     3,
				Action: migrate.SQL{
					`CREATE TABLE accounts (
						tenant_id BIGINT NOT NULL,
						public_id TEXT NOT NULL,
						code TEXT NOT NULL,
						name TEXT NOT NULL,
						account_type TEXT NOT NULL,
						normal_balance TEXT NOT NULL,
						parent_code TEXT NOT NULL DEFAULT '',
						description TEXT NOT NULL DEFAULT '',
						active BOOLEAN NOT NULL DEFAULT TRUE,
						updated_at TIMESTAMP NOT NULL,
						PRIMARY KEY (tenant_id, code),
						UNIQUE (tenant_id, public_id)
					)`,
					`CREATE TABLE journal_entries (
						tenant_id BIGINT NOT NULL,
						public_id TEXT NOT NULL,
						entry_number TEXT NOT NULL DEFAULT '',
						date TEXT NOT NULL,
						currency TEXT NOT NULL,
						kind TEXT NOT NULL,
						memo TEXT NOT NULL DEFAULT '',
						status TEXT NOT NULL,
						reverses_entry TEXT NOT NULL DEFAULT '',
						total_debit TEXT NOT NULL DEFAULT '0',
						total_credit TEXT NOT NULL DEFAULT '0',
						line_count INTEGER NOT NULL DEFAULT 0,
						updated_at TIMESTAMP NOT NULL,
						PRIMARY KEY (tenant_id, public_id)
					)`,
					`CREATE TABLE journal_lines (
						tenant_id BIGINT NOT NULL,
						entry_public_id TEXT NOT NULL,
						line_index INTEGER NOT NULL,
						account_code TEXT NOT NULL,
						debit TEXT NOT NULL DEFAULT '0',
						credit TEXT NOT NULL DEFAULT '0',
						memo TEXT NOT NULL DEFAULT '',
						dimensions TEXT,
						PRIMARY KEY (tenant_id, entry_public_id, line_index)
					)`,
					`CREATE TABLE account_balances (
						tenant_id BIGINT NOT NULL,
						account_code TEXT NOT NULL,
						normal_balance TEXT NOT NULL,
						debit_total TEXT NOT NULL DEFAULT '0',
						credit_total TEXT NOT NULL DEFAULT '0',
						balance TEXT NOT NULL DEFAULT '0',
						last_event_id TEXT,
						updated_at TIMESTAMP NOT NULL,
						PRIMARY KEY (tenant_id, account_code)
					)`,
					`CREATE TABLE fiscal_periods (
						tenant_id BIGINT NOT NULL,
						period_key TEXT NOT NULL,
						start_date TEXT NOT NULL,
						end_date TEXT NOT NULL,
						closed BOOLEAN NOT NULL DEFAULT FALSE,
						updated_at TIMESTAMP NOT NULL,
						PRIMARY KEY (tenant_id, period_key)
					)`,
					`CREATE TABLE dimensions (
						tenant_id BIGINT NOT NULL,
						code TEXT NOT NULL,
						public_id TEXT NOT NULL,
						name TEXT NOT NULL,
						updated_at TIMESTAMP NOT NULL,
						PRIMARY KEY (tenant_id, code)
					)`,
					`CREATE TABLE dimension_values (
						tenant_id BIGINT NOT NULL,
						dimension_code TEXT NOT NULL,
						value_code TEXT NOT NULL,
						value_name TEXT NOT NULL,
						active BOOLEAN NOT NULL DEFAULT TRUE,
						updated_at TIMESTAMP NOT NULL,
						PRIMARY KEY (tenant_id, dimension_code, value_code)
					)`,
					`CREATE TABLE identity_crosswalks (
						tenant_id BIGINT NOT NULL,
						system TEXT NOT NULL,
						external_id TEXT NOT NULL,
						entity_type TEXT NOT NULL,
						entity_id TEXT NOT NULL,
						updated_at TIMESTAMP NOT NULL,
						PRIMARY KEY (tenant_id, system, external_id)
					)`,
					`CREATE TABLE import_batches (
						tenant_id BIGINT NOT NULL,
						public_id TEXT NOT NULL,
						source TEXT NOT NULL,
						description TEXT NOT NULL DEFAULT '',
						status TEXT NOT NULL,
						record_count BIGINT NOT NULL DEFAULT 0,
						updated_at TIMESTAMP NOT NULL,
						PRIMARY KEY (tenant_id, public_id)
					)`,
				},
			},
			{
				Description: "row level security on shared postgres handles",
				Version:     4,
				Action: migrate.Func(func(ctx context.Context, log *zap.Logger, tx *sqlx.Tx) error {
					if db.impl != dbutil.Postgres {
						log.Info("skipping row level security, not postgres")
						return nil
					}
					tables := []string{
						"business_events", "payload_blobs",
						"tenant_stream_counters", "tenant_number_sequences",
						"projection_bookmarks", "projection_applied_events", "projection_statuses",
						"accounts", "journal_entries", "journal_lines", "account_balances",
						"fiscal_periods", "dimensions", "dimension_values",
						"identity_crosswalks", "import_batches",
					}
					for _, table := range tables {
						statements := []string{
							`ALTER TABLE ` + table + ` ENABLE ROW LEVEL SECURITY`,
							`CREATE POLICY ` + table + `_tenant_isolation ON ` + table + `
								USING (
									current_setting('ledgerhouse.tenant_id', true) IS NULL
									OR current_setting('ledgerhouse.tenant_id', true) = ''
									OR tenant_id = current_setting('ledgerhouse.tenant_id', true)::bigint
								)`,
						}
						for _, statement := range statements {
							if _, err := tx.ExecContext(ctx, statement); err != nil {
								return Error.Wrap(err)
							}
						}
					}
					return nil
				}),
			},
		},
	}
}
