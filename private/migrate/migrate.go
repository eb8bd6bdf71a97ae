// Copyright (C) 2025 Ledgerhouse, Inc.
// See LICENSE for copying information.

// Package migrate runs versioned, in-code schema migrations. Each step
// executes inside its own transaction and records its version in a
// versions table, so reruns are cheap no-ops and a failed step leaves
// the database at the last completed version.
//
// Scenarios it does not handle: undoing steps, and rolling back
// non-database side effects of a step.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"sort"

	"github.com/jmoiron/sqlx"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
)

// Error is the migrate error class.
var Error = errs.Class("migrate")

// Action is a single unit of work inside a migration step.
type Action interface {
	Run(ctx context.Context, log *zap.Logger, tx *sqlx.Tx) error
}

// SQL statements executed in order as a migration action.
type SQL []string

// Run executes the statements.
func (statements SQL) Run(ctx context.Context, log *zap.Logger, tx *sqlx.Tx) error {
	for _, statement := range statements {
		if _, err := tx.ExecContext(ctx, statement); err != nil {
			return errs.Wrap(err)
		}
	}
	return nil
}

// Func wraps a function as a migration action.
type Func func(ctx context.Context, log *zap.Logger, tx *sqlx.Tx) error

// Run executes the function.
func (fn Func) Run(ctx context.Context, log *zap.Logger, tx *sqlx.Tx) error {
	return fn(ctx, log, tx)
}

// Step describes a single migration step.
type Step struct {
	Description string
	Version     int // versions start at 0
	Action      Action
}

// Migration is an ordered list of steps sharing one versions table.
type Migration struct {
	Table string
	Steps []*Step
}

// ValidTableName checks that the versions table name is plain enough to
// interpolate into DDL.
func (migration *Migration) ValidTableName() error {
	matched, err := regexp.MatchString(`^[a-z_]+$`, migration.Table)
	if !matched || err != nil {
		return Error.New("invalid table name: %v", migration.Table)
	}
	return nil
}

// ValidateSteps checks that step versions increase in order.
func (migration *Migration) ValidateSteps() error {
	sorted := sort.SliceIsSorted(migration.Steps, func(i, j int) bool {
		return migration.Steps[i].Version <= migration.Steps[j].Version
	})
	if !sorted {
		return Error.New("steps have incorrect order")
	}
	return nil
}

// CurrentVersion reads the latest applied version, -1 when none.
func (migration *Migration) CurrentVersion(ctx context.Context, db *sqlx.DB) (int, error) {
	var version int
	err := db.QueryRowContext(ctx,
		`SELECT version FROM `+migration.Table+` ORDER BY version DESC LIMIT 1`,
	).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return -1, nil
	}
	if err != nil {
		return -1, Error.Wrap(err)
	}
	return version, nil
}

// Run applies all pending steps.
func (migration *Migration) Run(ctx context.Context, log *zap.Logger, db *sqlx.DB) error {
	if err := migration.ValidTableName(); err != nil {
		return err
	}
	if err := migration.ValidateSteps(); err != nil {
		return err
	}

	if err := migration.ensureVersionTable(ctx, db); err != nil {
		return Error.New("creating version table failed: %w", err)
	}

	version, err := migration.CurrentVersion(ctx, db)
	if err != nil {
		return err
	}

	for _, step := range migration.Steps {
		if step.Version <= version {
			continue
		}
		stepLog := log.Named("migrate")
		stepLog.Info("running migration step",
			zap.Int("version", step.Version),
			zap.String("description", step.Description),
		)

		tx, err := db.BeginTxx(ctx, nil)
		if err != nil {
			return Error.Wrap(err)
		}
		err = func() error {
			if err := step.Action.Run(ctx, stepLog, tx); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				db.Rebind(`INSERT INTO `+migration.Table+` (version) VALUES (?)`),
				step.Version,
			)
			return errs.Wrap(err)
		}()
		if err != nil {
			return Error.Wrap(errs.Combine(err, tx.Rollback()))
		}
		if err := tx.Commit(); err != nil {
			return Error.Wrap(err)
		}
	}
	return nil
}

func (migration *Migration) ensureVersionTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS `+migration.Table+` (
			version INTEGER NOT NULL PRIMARY KEY,
			commited_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`)
	return errs.Wrap(err)
}
