// Copyright (C) 2025 Ledgerhouse, Inc.
// See LICENSE for copying information.

package ledgerdb

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"ledgerhouse.io/ledgerhouse/private/dbutil"
)

// sequencesStore allocates gapless per-tenant numbers by locking the
// sequence row for the length of the allocation.
type sequencesStore struct {
	db *DB
	q  queryer
}

// Next implements commands.Sequences.
func (store *sequencesStore) Next(ctx context.Context, tenantID int64, name string) (next int64, err error) {
	defer mon.Task()(&ctx)(&err)

	err = store.db.withTx(ctx, func(tx *sqlx.Tx) error {
		query := `SELECT next_value FROM tenant_number_sequences WHERE tenant_id = ? AND name = ?`
		if store.db.impl == dbutil.Postgres {
			query += ` FOR UPDATE`
		}

		var current int64
		err := tx.GetContext(ctx, &current, tx.Rebind(query), tenantID, name)
		if errors.Is(err, sql.ErrNoRows) {
			if _, err := tx.ExecContext(ctx, tx.Rebind(
				`INSERT INTO tenant_number_sequences (tenant_id, name, next_value) VALUES (?, ?, 0)`),
				tenantID, name,
			); err != nil {
				return Error.Wrap(err)
			}
			current = 0
		} else if err != nil {
			return Error.Wrap(err)
		}

		next = current + 1
		_, err = tx.ExecContext(ctx, tx.Rebind(
			`UPDATE tenant_number_sequences SET next_value = ? WHERE tenant_id = ? AND name = ?`),
			next, tenantID, name,
		)
		return Error.Wrap(err)
	})
	if err != nil {
		return 0, err
	}
	return next, nil
}
