// Copyright (C) 2025 Ledgerhouse, Inc.
// See LICENSE for copying information.

// Package commands is the mutation surface of the engine. Every command
// validates against replayed aggregate state, emits exactly one event
// chain through the emitter, and never touches read models directly.
package commands

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"ledgerhouse.io/ledgerhouse/ledger/events"
	"ledgerhouse.io/ledgerhouse/ledger/projections"
	"ledgerhouse.io/ledgerhouse/private/canonicaljson"
)

var (
	// Error is the commands error class.
	Error = errs.Class("commands")
	// ErrConflict is returned when a command races a concurrent change
	// or targets an aggregate in the wrong state.
	ErrConflict = errs.Class("command conflict")
	// ErrNotFound is returned for commands against absent aggregates.
	ErrNotFound = errs.Class("not found")
	// ErrUnbalanced is returned when journal debits and credits differ.
	ErrUnbalanced = errs.Class("journal not balanced")
	// ErrPeriodClosed is returned for postings into a closed period.
	ErrPeriodClosed = errs.Class("fiscal period closed")

	mon = monkit.Package()
)

// Sequences allocates gapless per-tenant numbers, such as entry
// numbers. Implementations lock the sequence row so concurrent posters
// never share a number.
type Sequences interface {
	Next(ctx context.Context, tenantID int64, name string) (int64, error)
}

// DrainFunc synchronously drains projections for a tenant after a
// command commits. Optional; the daemon covers the async path.
type DrainFunc func(ctx context.Context, tenantID int64) error

// Config tunes the command service.
type Config struct {
	// SyncProjections drains projections inline after every command.
	SyncProjections bool
	// EntryNumberPrefix prefixes allocated journal entry numbers.
	EntryNumberPrefix string
}

// DefaultConfig returns the reference command configuration.
func DefaultConfig() Config {
	return Config{EntryNumberPrefix: "JE"}
}

// Service executes commands against one resolved database handle. The
// caller binds the tenant context before invoking any method.
//
// architecture: Service
type Service struct {
	log       *zap.Logger
	events    events.DB
	emitter   *events.Emitter
	sequences Sequences
	periods   projections.FiscalPeriods
	drain     DrainFunc
	config    Config
}

// NewService creates a command service over the handle's stores.
// periods and drain may be nil; the closed-period check and the sync
// drain are then skipped.
func NewService(log *zap.Logger, eventsDB events.DB, emitter *events.Emitter, sequences Sequences, periods projections.FiscalPeriods, drain DrainFunc, config Config) *Service {
	if config.EntryNumberPrefix == "" {
		config.EntryNumberPrefix = DefaultConfig().EntryNumberPrefix
	}
	return &Service{
		log:       log,
		events:    eventsDB,
		emitter:   emitter,
		sequences: sequences,
		periods:   periods,
		drain:     drain,
		config:    config,
	}
}

// Result is what every command returns.
type Result struct {
	Event    *events.Event
	PublicID string
}

// IntentKey derives a stable idempotency key from a command's intent.
// The same scope and intent always produce the same key, so a client
// retry lands on the idempotency short-circuit instead of a duplicate.
func IntentKey(scope string, intent map[string]interface{}) (string, error) {
	canonical, err := canonicaljson.Marshal(intent)
	if err != nil {
		return "", Error.Wrap(err)
	}
	sum := sha256.Sum256(canonical)
	return scope + ":" + hex.EncodeToString(sum[:])[:16], nil
}

// afterCommit runs the optional sync projection drain.
func (service *Service) afterCommit(ctx context.Context, tenantID int64) error {
	if !service.config.SyncProjections || service.drain == nil {
		return nil
	}
	if err := service.drain(ctx, tenantID); err != nil {
		// the command itself committed; surface the drain failure
		service.log.Error("sync projection drain failed",
			zap.Int64("tenant", tenantID), zap.Error(err))
		return Error.Wrap(err)
	}
	return nil
}
