// Copyright (C) 2025 Ledgerhouse, Inc.
// See LICENSE for copying information.

// Package ledgertest provides an in-memory fixture for exercising the
// full engine: a migrated sqlite handle, a registered tenant, the
// command service, and the projection engine wired for synchronous
// drains.
package ledgertest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"ledgerhouse.io/ledgerhouse/ledger/commands"
	"ledgerhouse.io/ledgerhouse/ledger/events"
	"ledgerhouse.io/ledgerhouse/ledger/ledgerdb"
	"ledgerhouse.io/ledgerhouse/ledger/projections"
	"ledgerhouse.io/ledgerhouse/ledger/tenants"
)

// Fixture is one tenant on one migrated in-memory handle.
type Fixture struct {
	Log     *zap.Logger
	DB      *ledgerdb.DB
	Engine  *projections.Engine
	Emitter *events.Emitter
	Service *commands.Service
	Company *tenants.Company

	// Ctx carries the registered tenant's context.
	Ctx context.Context
}

// OpenDB opens and migrates a fresh in-memory sqlite handle.
func OpenDB(ctx context.Context, t *testing.T) *ledgerdb.DB {
	t.Helper()

	log := zaptest.NewLogger(t)
	db, err := ledgerdb.Open(ctx, log.Named("db"), tenants.DefaultHandle, "sqlite3://:memory:")
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })
	require.NoError(t, db.MigrateToLatest(ctx))
	return db
}

// Option mutates the fixture configuration before wiring.
type Option func(*setup)

type setup struct {
	emitter  events.Config
	commands commands.Config
	sync     bool
}

// WithEmitterConfig overrides the payload policy.
func WithEmitterConfig(config events.Config) Option {
	return func(s *setup) { s.emitter = config }
}

// WithoutSyncProjections leaves read models to explicit drains.
func WithoutSyncProjections() Option {
	return func(s *setup) { s.sync = false }
}

// New builds a fixture with one registered tenant. Projections drain
// synchronously after every command unless disabled.
func New(ctx context.Context, t *testing.T, opts ...Option) *Fixture {
	t.Helper()

	s := &setup{
		emitter:  events.Config{InlineThresholdBytes: 32 * 1024, MaxLinesPerChunk: 500},
		commands: commands.DefaultConfig(),
		sync:     true,
	}
	for _, opt := range opts {
		opt(s)
	}

	log := zaptest.NewLogger(t)
	db := OpenDB(ctx, t)

	engine := projections.NewEngine(log.Named("projections"), projections.DefaultEngineConfig())
	engine.RegisterDefaults()

	emitter := events.NewEmitter(log.Named("emitter"), db.Events(), db.Payloads(),
		events.DefaultRegistry(), s.emitter)

	var drain commands.DrainFunc
	if s.sync {
		drain = func(ctx context.Context, tenantID int64) error {
			return engine.DrainAll(ctx, db, tenantID)
		}
	}
	s.commands.SyncProjections = s.sync

	service := commands.NewService(log.Named("commands"),
		db.Events(), emitter, db.Sequences(),
		db.Projections().FiscalPeriods(), drain, s.commands)

	company, _, err := service.RegisterCompany(ctx, db.Tenants(), commands.RegisterCompany{
		Slug: "acme", Name: "Acme Corp",
	})
	require.NoError(t, err)

	tenantCtx := tenants.WithContext(ctx, &tenants.Context{
		TenantID: company.ID,
		Handle:   tenants.DefaultHandle,
		Shared:   true,
	})

	return &Fixture{
		Log:     log,
		DB:      db,
		Engine:  engine,
		Emitter: emitter,
		Service: service,
		Company: company,
		Ctx:     tenantCtx,
	}
}

// Drain folds everything pending for the fixture tenant.
func (fixture *Fixture) Drain(t *testing.T) {
	t.Helper()
	require.NoError(t, fixture.Engine.DrainAll(fixture.Ctx, fixture.DB, fixture.Company.ID))
}

// RegisterTenant registers an additional tenant and returns its bound
// context.
func (fixture *Fixture) RegisterTenant(t *testing.T, slug, name string) (*tenants.Company, context.Context) {
	t.Helper()
	company, _, err := fixture.Service.RegisterCompany(fixture.Ctx, fixture.DB.Tenants(), commands.RegisterCompany{
		Slug: slug, Name: name,
	})
	require.NoError(t, err)
	return company, tenants.WithContext(fixture.Ctx, &tenants.Context{
		TenantID: company.ID,
		Handle:   tenants.DefaultHandle,
		Shared:   true,
	})
}
