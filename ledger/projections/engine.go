// Copyright (C) 2025 Ledgerhouse, Inc.
// See LICENSE for copying information.

package projections

import (
	"context"
	"time"

	"go.uber.org/zap"

	"ledgerhouse.io/ledgerhouse/ledger/events"
	"ledgerhouse.io/ledgerhouse/ledger/writebarrier"
)

// Config tunes the projection engine.
type Config struct {
	// BatchLimit caps events fetched per drain call.
	BatchLimit int
	// ContinueOnError keeps draining past a failed event instead of
	// stopping the projection for the tenant.
	ContinueOnError bool
}

// DefaultEngineConfig returns the reference engine configuration.
func DefaultEngineConfig() Config {
	return Config{BatchLimit: 200}
}

// Engine owns the projection registry and the processing loop. The
// registry is populated at process start and read-only afterwards.
type Engine struct {
	log    *zap.Logger
	config Config

	names  []string
	byName map[string]Projection
}

// NewEngine creates an engine with an empty registry.
func NewEngine(log *zap.Logger, config Config) *Engine {
	if config.BatchLimit <= 0 {
		config.BatchLimit = DefaultEngineConfig().BatchLimit
	}
	return &Engine{
		log:    log,
		config: config,
		byName: make(map[string]Projection),
	}
}

// Register adds a projection. Registering the same name twice is a
// programmer error.
func (engine *Engine) Register(projection Projection) {
	name := projection.Name()
	if _, exists := engine.byName[name]; exists {
		panic("projections: " + name + " registered twice")
	}
	engine.byName[name] = projection
	engine.names = append(engine.names, name)
}

// RegisterDefaults adds every built-in projection.
func (engine *Engine) RegisterDefaults() {
	engine.Register(NewChartOfAccounts())
	engine.Register(NewJournalEntries())
	engine.Register(NewAccountBalances())
	engine.Register(NewFiscalPeriods())
	engine.Register(NewDimensionValues())
	engine.Register(NewIdentityCrosswalks())
	engine.Register(NewImportBatches())
}

// Names returns the registered projection names in registration order.
func (engine *Engine) Names() []string {
	out := make([]string, len(engine.names))
	copy(out, engine.names)
	return out
}

// Lookup returns the registered projection.
func (engine *Engine) Lookup(name string) (Projection, bool) {
	projection, ok := engine.byName[name]
	return projection, ok
}

// ProcessPending drains up to limit pending events for one projection
// and tenant. Each event is applied in its own transaction: the
// applied-event ledger insert, the handler's read-model writes, and the
// bookmark advance commit together.
func (engine *Engine) ProcessPending(ctx context.Context, db Handle, name string, tenantID int64, limit int) (processed int, err error) {
	defer mon.Task()(&ctx)(&err)

	projection, ok := engine.byName[name]
	if !ok {
		return 0, Error.New("unknown projection %q", name)
	}
	if limit <= 0 {
		limit = engine.config.BatchLimit
	}

	bookmark, err := db.Projections().Bookmarks().Acquire(ctx, name, tenantID)
	if err != nil {
		return 0, Error.Wrap(err)
	}
	if bookmark.IsPaused {
		return 0, nil
	}

	pending, err := db.Events().ListAfter(ctx, tenantID, bookmark.LastStreamSeq, projection.EventTypes(), limit)
	if err != nil {
		return 0, Error.Wrap(err)
	}

	for _, event := range pending {
		if err := engine.hydrate(ctx, db, tenantID, event); err != nil {
			return processed, engine.fail(ctx, db, name, tenantID, err)
		}

		handlerCtx := writebarrier.With(ctx, writebarrier.Projection)
		err := db.Projections().WithTx(handlerCtx, func(txCtx context.Context, tx DB) error {
			created, err := tx.Applied().TryInsert(txCtx, name, tenantID, event.ID)
			if err != nil {
				return err
			}
			if created {
				if err := projection.Handle(txCtx, tx, event); err != nil {
					return err
				}
			}
			// already-applied events still advance the bookmark
			return tx.Bookmarks().Advance(txCtx, name, tenantID, event.StreamSeq, event.ID)
		})
		if err != nil {
			if engine.config.ContinueOnError {
				engine.log.Error("projection handler failed, continuing",
					zap.String("projection", name),
					zap.Int64("tenant", tenantID),
					zap.String("event", event.ID.String()),
					zap.Error(err),
				)
				continue
			}
			return processed, engine.fail(ctx, db, name, tenantID, err)
		}
		processed++
	}
	return processed, nil
}

// fail records the error on the bookmark and stops this projection for
// this tenant; the others keep running.
func (engine *Engine) fail(ctx context.Context, db Handle, name string, tenantID int64, cause error) error {
	if recordErr := db.Projections().Bookmarks().RecordError(ctx, name, tenantID, cause.Error()); recordErr != nil {
		engine.log.Error("recording projection error failed", zap.Error(recordErr))
	}
	engine.log.Error("projection stopped",
		zap.String("projection", name),
		zap.Int64("tenant", tenantID),
		zap.Error(cause),
	)
	return Error.Wrap(cause)
}

// hydrate resolves an external payload so handlers always see the data.
func (engine *Engine) hydrate(ctx context.Context, db Handle, tenantID int64, event *events.Event) error {
	if event.Storage != events.StorageExternal || event.Data != nil {
		return nil
	}
	if event.PayloadRef == nil {
		return Error.New("external event %s has no payload reference", event.ID)
	}
	blob, err := db.Payloads().Get(ctx, tenantID, *event.PayloadRef)
	if err != nil {
		return err
	}
	event.Data = blob.Payload
	return nil
}

// Drain processes pending batches until the projection catches up.
func (engine *Engine) Drain(ctx context.Context, db Handle, name string, tenantID int64) (total int, err error) {
	defer mon.Task()(&ctx)(&err)

	for {
		n, err := engine.ProcessPending(ctx, db, name, tenantID, engine.config.BatchLimit)
		total += n
		if err != nil {
			return total, err
		}
		if n < engine.config.BatchLimit {
			return total, nil
		}
	}
}

// DrainAll drains every registered projection for the tenant.
func (engine *Engine) DrainAll(ctx context.Context, db Handle, tenantID int64) (err error) {
	defer mon.Task()(&ctx)(&err)

	for _, name := range engine.names {
		if _, err := engine.Drain(ctx, db, name, tenantID); err != nil {
			return err
		}
	}
	return nil
}

// Rebuild resets the bookmark, clears the applied ledger and the
// projection's read-model rows, then drains until caught up.
func (engine *Engine) Rebuild(ctx context.Context, db Handle, name string, tenantID int64) (err error) {
	defer mon.Task()(&ctx)(&err)

	projection, ok := engine.byName[name]
	if !ok {
		return Error.New("unknown projection %q", name)
	}

	started := time.Now()
	engine.log.Info("rebuilding projection",
		zap.String("projection", name),
		zap.Int64("tenant", tenantID),
	)

	resetCtx := writebarrier.With(ctx, writebarrier.Projection)
	err = db.Projections().WithTx(resetCtx, func(txCtx context.Context, tx DB) error {
		if err := tx.Bookmarks().Reset(txCtx, name, tenantID); err != nil {
			return err
		}
		if err := tx.Applied().Clear(txCtx, name, tenantID); err != nil {
			return err
		}
		return projection.Clear(txCtx, tx, tenantID)
	})
	if err != nil {
		return Error.Wrap(err)
	}

	if _, err := engine.Drain(ctx, db, name, tenantID); err != nil {
		return err
	}

	status := &Status{
		Projection:     name,
		TenantID:       tenantID,
		State:          "RUNNING",
		LastRebuildFor: time.Since(started),
		UpdatedAt:      time.Now().UTC(),
	}
	if err := db.Projections().Statuses().Upsert(ctx, status); err != nil {
		engine.log.Warn("updating projection status failed", zap.Error(err))
	}
	return nil
}

// Lag returns how many events the projection has not yet applied for
// the tenant.
func (engine *Engine) Lag(ctx context.Context, db Handle, name string, tenantID int64) (_ int64, err error) {
	defer mon.Task()(&ctx)(&err)

	bookmark, err := db.Projections().Bookmarks().Get(ctx, name, tenantID)
	if err != nil {
		return 0, Error.Wrap(err)
	}
	var last int64
	if bookmark != nil {
		last = bookmark.LastStreamSeq
	}
	max, err := db.Events().MaxStreamSeq(ctx, tenantID)
	if err != nil {
		return 0, Error.Wrap(err)
	}
	if max < last {
		return 0, nil
	}
	return max - last, nil
}
