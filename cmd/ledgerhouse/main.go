// Copyright (C) 2025 Ledgerhouse, Inc.
// See LICENSE for copying information.

// ledgerhouse is the operational entry point: it runs the projection
// daemon and health server, and exposes the admin workflows (tenant
// registration, rebuilds, integrity checks, exports, imports, and
// tenant migrations) as subcommands.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ledgerhouse.io/ledgerhouse/ledger"
	"ledgerhouse.io/ledgerhouse/ledger/commands"
	"ledgerhouse.io/ledgerhouse/ledger/events"
	"ledgerhouse.io/ledgerhouse/ledger/health"
	"ledgerhouse.io/ledgerhouse/ledger/integrity"
	"ledgerhouse.io/ledgerhouse/ledger/ledgerdb"
	"ledgerhouse.io/ledgerhouse/ledger/migration"
	"ledgerhouse.io/ledgerhouse/ledger/projections"
	"ledgerhouse.io/ledgerhouse/ledger/tenants"
	"ledgerhouse.io/ledgerhouse/ledger/writebarrier"
)

var (
	rootCmd = &cobra.Command{
		Use:   "ledgerhouse",
		Short: "Multi-tenant event-sourced accounting engine",
	}
	setupCmd = &cobra.Command{
		Use:   "setup",
		Short: "Create or migrate the schema on every configured handle",
		RunE:  cmdSetup,
	}
	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the projection daemon and health server",
		RunE:  cmdRun,
	}
	registerCompanyCmd = &cobra.Command{
		Use:   "register-company",
		Short: "Register a new tenant on the shared handle",
		RunE:  cmdRegisterCompany,
	}
	runProjectionsCmd = &cobra.Command{
		Use:   "run-projections",
		Short: "Drain pending events into read models",
		RunE:  cmdRunProjections,
	}
	rebuildProjectionCmd = &cobra.Command{
		Use:   "rebuild-projection",
		Short: "Rebuild a projection from the start of the stream",
		RunE:  cmdRebuildProjection,
	}
	integrityCheckCmd = &cobra.Command{
		Use:   "integrity-check",
		Short: "Verify payload hashes, chunk chains, and sequence continuity",
		RunE:  cmdIntegrityCheck,
	}
	exportCmd = &cobra.Command{
		Use:   "export-tenant-events",
		Short: "Export one tenant's stream to a portable file",
		RunE:  cmdExport,
	}
	importCmd = &cobra.Command{
		Use:   "import-tenant-events",
		Short: "Import an export file into a handle",
		RunE:  cmdImport,
	}
	migrateTenantCmd = &cobra.Command{
		Use:   "migrate-tenant",
		Short: "Move a tenant to another handle with verification and cutover",
		RunE:  cmdMigrateTenant,
	}

	registerFlags struct {
		Slug         string
		Name         string
		BaseCurrency string
		FiscalMonth  int
	}
	projectionFlags struct {
		Projection      string
		Tenant          string
		AllTenants      bool
		Daemon          bool
		Interval        int
		VerifyIntegrity bool
		VerifyFirst     bool
		Strict          bool
		Diagnostics     bool
		DryRun          bool
		Force           bool
	}
	transferFlags struct {
		Tenant           string
		Handle           string
		TargetHandle     string
		Path             string
		AfterSeq         int64
		IncludePayloads  bool
		SkipExisting     bool
		DryRun           bool
		SkipReplay       bool
		SkipTrialBalance bool
	}
)

func init() {
	registerCompanyCmd.Flags().StringVar(&registerFlags.Slug, "slug", "", "unique company slug")
	registerCompanyCmd.Flags().StringVar(&registerFlags.Name, "name", "", "display name")
	registerCompanyCmd.Flags().StringVar(&registerFlags.BaseCurrency, "currency", "USD", "base currency code")
	registerCompanyCmd.Flags().IntVar(&registerFlags.FiscalMonth, "fiscal-month", 1, "fiscal year start month")

	runProjectionsCmd.Flags().StringVar(&projectionFlags.Projection, "projection", "", "limit to one projection")
	runProjectionsCmd.Flags().StringVar(&projectionFlags.Tenant, "tenant", "", "limit to one tenant, by id or slug")
	runProjectionsCmd.Flags().BoolVar(&projectionFlags.Daemon, "daemon", false, "keep draining on an interval")
	runProjectionsCmd.Flags().IntVar(&projectionFlags.Interval, "interval", 0, "drain interval in seconds, overrides PROJECTION_INTERVAL")
	runProjectionsCmd.Flags().BoolVar(&projectionFlags.VerifyIntegrity, "verify-integrity", false, "run an integrity check before draining")
	runProjectionsCmd.Flags().BoolVar(&projectionFlags.Strict, "strict", false, "verify integrity first and stop on the first failing tenant")
	runProjectionsCmd.Flags().BoolVar(&projectionFlags.Diagnostics, "diagnostics", false, "log per-projection lag after every pass")

	rebuildProjectionCmd.Flags().StringVar(&projectionFlags.Projection, "projection", "", "projection to rebuild")
	rebuildProjectionCmd.Flags().StringVar(&projectionFlags.Tenant, "tenant", "", "tenant to rebuild, by id or slug")
	rebuildProjectionCmd.Flags().BoolVar(&projectionFlags.AllTenants, "all-tenants", false, "rebuild for every tenant")
	rebuildProjectionCmd.Flags().BoolVar(&projectionFlags.VerifyFirst, "verify-first", false, "refuse to rebuild from a stream failing the integrity check")
	rebuildProjectionCmd.Flags().BoolVar(&projectionFlags.DryRun, "dry-run", false, "report what would be rebuilt")
	rebuildProjectionCmd.Flags().BoolVar(&projectionFlags.Force, "force", false, "rebuild even when verification fails")

	integrityCheckCmd.Flags().StringVar(&projectionFlags.Tenant, "tenant", "", "tenant to verify, by id or slug")
	integrityCheckCmd.Flags().BoolVar(&projectionFlags.AllTenants, "all-tenants", false, "verify every tenant")

	exportCmd.Flags().StringVar(&transferFlags.Tenant, "tenant", "", "tenant to export, by id or slug")
	exportCmd.Flags().StringVar(&transferFlags.Path, "out", "", "output file path")
	exportCmd.Flags().Int64Var(&transferFlags.AfterSeq, "after-sequence", 0, "export only events past this stream sequence")
	exportCmd.Flags().BoolVar(&transferFlags.IncludePayloads, "include-payloads", false, "embed external payload bodies, making the file importable")

	importCmd.Flags().StringVar(&transferFlags.Handle, "handle", tenants.DefaultHandle, "target handle name")
	importCmd.Flags().StringVar(&transferFlags.Path, "in", "", "input file path")
	importCmd.Flags().BoolVar(&transferFlags.SkipExisting, "skip-existing", false, "tolerate events already imported")
	importCmd.Flags().BoolVar(&transferFlags.DryRun, "dry-run", false, "parse and verify without writing")

	migrateTenantCmd.Flags().StringVar(&transferFlags.Tenant, "tenant", "", "tenant to move, by id or slug")
	migrateTenantCmd.Flags().StringVar(&transferFlags.TargetHandle, "target-handle", "", "destination handle name")
	migrateTenantCmd.Flags().BoolVar(&transferFlags.DryRun, "dry-run", false, "export and verify without touching the target")
	migrateTenantCmd.Flags().BoolVar(&transferFlags.SkipReplay, "skip-replay", false, "leave target projections to the daemon")
	migrateTenantCmd.Flags().BoolVar(&transferFlags.SkipTrialBalance, "skip-trial-balance", false, "skip the trial balance comparison")

	rootCmd.AddCommand(
		setupCmd, runCmd, registerCompanyCmd,
		runProjectionsCmd, rebuildProjectionCmd, integrityCheckCmd,
		exportCmd, importCmd, migrateTenantCmd,
	)
}

func main() {
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %+v\n", err)
		os.Exit(1)
	}
}

// process bundles everything a subcommand needs.
type process struct {
	log    *zap.Logger
	config *ledger.Config
	router *ledger.Router
	engine *projections.Engine
}

func newProcess(ctx context.Context) (*process, error) {
	config, err := ledger.LoadConfig()
	if err != nil {
		return nil, err
	}
	log, err := newLogger(config.LogLevel)
	if err != nil {
		return nil, err
	}
	if config.AllowAdminEmergencyWrites {
		log.Warn("admin emergency writes are armed")
		writebarrier.EnableAdminEmergency()
	}

	handles := map[string]ledger.DB{}
	open := func(name, url string) error {
		db, err := ledgerdb.Open(ctx, log.Named("db").Named(name), name, url)
		if err != nil {
			return err
		}
		handles[name] = db
		return nil
	}
	if err := open(tenants.DefaultHandle, config.DatabaseURL); err != nil {
		return nil, err
	}
	for name, url := range config.Handles {
		if err := open(name, url); err != nil {
			return nil, err
		}
	}

	router, err := ledger.NewRouter(log, handles)
	if err != nil {
		return nil, err
	}

	engine := projections.NewEngine(log.Named("projections"), projections.DefaultEngineConfig())
	engine.RegisterDefaults()

	return &process{log: log, config: config, router: router, engine: engine}, nil
}

func (proc *process) close() error {
	return errs.Combine(proc.router.Close(), proc.log.Sync())
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	parsed, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, errs.New("invalid LOG_LEVEL %q: %v", level, err)
	}
	cfg.Level = parsed
	log, err := cfg.Build()
	return log, errs.Wrap(err)
}

func (proc *process) commandService(db ledger.DB) *commands.Service {
	emitter := events.NewEmitter(
		proc.log.Named("emitter"),
		db.Events(), db.Payloads(),
		events.DefaultRegistry(),
		proc.config.EmitterConfig(),
	)
	var drain commands.DrainFunc
	if proc.config.ProjectionsSync {
		drain = func(ctx context.Context, tenantID int64) error {
			return proc.engine.DrainAll(ctx, db, tenantID)
		}
	}
	return commands.NewService(
		proc.log.Named("commands"),
		db.Events(), emitter, db.Sequences(),
		db.Projections().FiscalPeriods(), drain,
		commands.Config{
			SyncProjections:   proc.config.ProjectionsSync,
			EntryNumberPrefix: "JE",
		},
	)
}

// resolveTenant accepts a numeric tenant id or a slug and returns the
// company.
func (proc *process) resolveTenant(ctx context.Context, ref string) (*tenants.Company, error) {
	return proc.router.Tenants().Lookup(ctx, ref)
}

// tenantTargets lists directory entries selected by the tenant flags.
func (proc *process) tenantTargets(ctx context.Context, tenantRef string, all bool) ([]*tenants.DirectoryEntry, error) {
	if tenantRef != "" {
		company, err := proc.resolveTenant(ctx, tenantRef)
		if err != nil {
			return nil, err
		}
		entry, err := proc.router.System().Tenants().Directory().Get(ctx, company.ID)
		if err != nil {
			return nil, err
		}
		return []*tenants.DirectoryEntry{entry}, nil
	}
	if !all {
		return nil, errs.New("pass --tenant or --all-tenants")
	}
	return proc.router.System().Tenants().Directory().List(ctx)
}

func cmdSetup(cmd *cobra.Command, args []string) (err error) {
	ctx := cmd.Context()
	proc, err := newProcess(ctx)
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, proc.close()) }()

	for _, name := range proc.router.Names() {
		db, err := proc.router.Handle(name)
		if err != nil {
			return err
		}
		proc.log.Info("migrating schema", zap.String("handle", name))
		if err := db.MigrateToLatest(ctx); err != nil {
			return err
		}
	}
	return nil
}

func cmdRun(cmd *cobra.Command, args []string) (err error) {
	ctx := cmd.Context()
	proc, err := newProcess(ctx)
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, proc.close()) }()

	listener, err := net.Listen("tcp", proc.config.HealthAddress)
	if err != nil {
		return errs.Wrap(err)
	}
	metrics := health.NewMetrics()
	server := health.NewServer(
		proc.log.Named("health"), listener,
		health.Config{
			Address:      proc.config.HealthAddress,
			LagThreshold: proc.config.ProjectionLagThreshold,
		},
		metrics,
		&lagSource{proc: proc},
		proc.handleChecks()...,
	)
	proc.log.Info("health server listening", zap.String("address", server.Addr()))

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return server.Run(groupCtx)
	})
	group.Go(func() error {
		return proc.projectionLoop(groupCtx, metrics)
	})
	return group.Wait()
}

// handleChecks builds one readiness probe per configured handle.
func (proc *process) handleChecks() []health.Check {
	checks := make([]health.Check, 0, len(proc.router.Names()))
	for _, name := range proc.router.Names() {
		name := name
		checks = append(checks, health.CheckFunc{
			CheckName: "handle:" + name,
			Fn: func(ctx context.Context) bool {
				db, err := proc.router.Handle(name)
				if err != nil {
					return false
				}
				_, err = db.Events().MaxStreamSeq(ctx, 0)
				return err == nil
			},
		})
	}
	return checks
}

// projectionLoop drains every active tenant on the configured interval.
func (proc *process) projectionLoop(ctx context.Context, metrics *health.Metrics) error {
	interval := time.Duration(proc.config.ProjectionInterval) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		started := time.Now()
		if err := proc.drainPass(ctx, "", 0, false); err != nil {
			proc.log.Error("projection pass failed", zap.Error(err))
		}
		if metrics != nil {
			metrics.ObserveDrain(time.Since(started).Seconds())
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// drainPass drains projections for the selected tenants. An empty
// projection name means all registered projections.
func (proc *process) drainPass(ctx context.Context, projection string, tenantID int64, strict bool) error {
	entries, err := proc.router.System().Tenants().Directory().List(ctx)
	if err != nil {
		return err
	}

	var group errs.Group
	for _, entry := range entries {
		if tenantID != 0 && entry.TenantID != tenantID {
			continue
		}
		if entry.Status == tenants.StatusSuspended {
			continue
		}
		db, err := proc.router.Handle(entry.Handle)
		if err != nil {
			group.Add(err)
			continue
		}

		names := proc.engine.Names()
		if projection != "" {
			names = []string{projection}
		}
		for _, name := range names {
			if _, err := proc.engine.Drain(ctx, db, name, entry.TenantID); err != nil {
				if strict {
					return err
				}
				group.Add(err)
			}
		}
	}
	return group.Err()
}

// lagSource adapts the engine and directory into the health surface.
type lagSource struct {
	proc *process
}

func (source *lagSource) Lags(ctx context.Context) ([]health.ProjectionLag, error) {
	proc := source.proc
	entries, err := proc.router.System().Tenants().Directory().List(ctx)
	if err != nil {
		return nil, err
	}

	var out []health.ProjectionLag
	for _, entry := range entries {
		db, err := proc.router.Handle(entry.Handle)
		if err != nil {
			return nil, err
		}
		for _, name := range proc.engine.Names() {
			lag, err := proc.engine.Lag(ctx, db, name, entry.TenantID)
			if err != nil {
				return nil, err
			}
			sample := health.ProjectionLag{
				Projection: name,
				TenantID:   entry.TenantID,
				Lag:        lag,
			}
			bookmark, err := db.Projections().Bookmarks().Get(ctx, name, entry.TenantID)
			if err != nil {
				return nil, err
			}
			if bookmark != nil {
				sample.Paused = bookmark.IsPaused
				sample.ErrorCount = bookmark.ErrorCount
			}
			out = append(out, sample)
		}
	}
	return out, nil
}

func cmdRegisterCompany(cmd *cobra.Command, args []string) (err error) {
	ctx := cmd.Context()
	proc, err := newProcess(ctx)
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, proc.close()) }()

	if registerFlags.Slug == "" || registerFlags.Name == "" {
		return errs.New("--slug and --name are required")
	}

	system := proc.router.System()
	service := proc.commandService(system)
	company, _, err := service.RegisterCompany(ctx, system.Tenants(), commands.RegisterCompany{
		Slug:                 registerFlags.Slug,
		Name:                 registerFlags.Name,
		BaseCurrency:         registerFlags.BaseCurrency,
		FiscalYearStartMonth: registerFlags.FiscalMonth,
	})
	if err != nil {
		return err
	}
	proc.log.Info("company registered",
		zap.Int64("tenant", company.ID),
		zap.String("slug", company.Slug),
		zap.String("public-id", company.PublicID.String()))
	return nil
}

func cmdRunProjections(cmd *cobra.Command, args []string) (err error) {
	ctx := cmd.Context()
	proc, err := newProcess(ctx)
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, proc.close()) }()

	var tenantID int64
	if projectionFlags.Tenant != "" {
		company, err := proc.resolveTenant(ctx, projectionFlags.Tenant)
		if err != nil {
			return err
		}
		tenantID = company.ID
	}

	// strict runs never drain from a stream failing the integrity check
	if projectionFlags.VerifyIntegrity || projectionFlags.Strict {
		if err := proc.verifyTenants(ctx, projectionFlags.Tenant, projectionFlags.Tenant == ""); err != nil {
			return err
		}
	}

	pass := func() error {
		if err := proc.drainPass(ctx, projectionFlags.Projection, tenantID, projectionFlags.Strict); err != nil {
			return err
		}
		if projectionFlags.Diagnostics {
			proc.logLags(ctx)
		}
		return nil
	}

	if !projectionFlags.Daemon {
		return pass()
	}

	interval := time.Duration(projectionFlags.Interval) * time.Second
	if interval <= 0 {
		interval = time.Duration(proc.config.ProjectionInterval) * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := pass(); err != nil {
			if projectionFlags.Strict {
				return err
			}
			proc.log.Error("projection pass failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (proc *process) logLags(ctx context.Context) {
	lags, err := (&lagSource{proc: proc}).Lags(ctx)
	if err != nil {
		proc.log.Error("failed to compute lag", zap.Error(err))
		return
	}
	for _, lag := range lags {
		proc.log.Info("projection lag",
			zap.String("projection", lag.Projection),
			zap.Int64("tenant", lag.TenantID),
			zap.Int64("lag", lag.Lag),
			zap.Bool("paused", lag.Paused))
	}
}

func cmdRebuildProjection(cmd *cobra.Command, args []string) (err error) {
	ctx := cmd.Context()
	proc, err := newProcess(ctx)
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, proc.close()) }()

	if projectionFlags.Projection == "" {
		return errs.New("--projection is required")
	}
	if _, ok := proc.engine.Lookup(projectionFlags.Projection); !ok {
		return errs.New("unknown projection %q", projectionFlags.Projection)
	}

	entries, err := proc.tenantTargets(ctx, projectionFlags.Tenant, projectionFlags.AllTenants)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		log := proc.log.With(
			zap.Int64("tenant", entry.TenantID),
			zap.String("projection", projectionFlags.Projection))

		db, err := proc.router.Handle(entry.Handle)
		if err != nil {
			return err
		}

		if projectionFlags.VerifyFirst {
			verifier := integrity.NewVerifier(log.Named("integrity"), db.Events(), db.Payloads(), integrity.Config{})
			report, err := verifier.FullIntegrityCheck(ctx, entry.TenantID)
			if err != nil {
				return err
			}
			if !report.IsValid() {
				if !projectionFlags.Force {
					return errs.New("tenant %d stream failed verification, refusing rebuild: %v",
						entry.TenantID, report.Err())
				}
				log.Warn("stream failed verification, rebuilding anyway", zap.Error(report.Err()))
			}
		}

		if projectionFlags.DryRun {
			lag, err := proc.engine.Lag(ctx, db, projectionFlags.Projection, entry.TenantID)
			if err != nil {
				return err
			}
			log.Info("would rebuild", zap.Int64("current-lag", lag))
			continue
		}

		log.Info("rebuilding")
		if err := proc.engine.Rebuild(ctx, db, projectionFlags.Projection, entry.TenantID); err != nil {
			return err
		}
	}
	return nil
}

func cmdIntegrityCheck(cmd *cobra.Command, args []string) (err error) {
	ctx := cmd.Context()
	proc, err := newProcess(ctx)
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, proc.close()) }()

	return proc.verifyTenants(ctx, projectionFlags.Tenant, projectionFlags.AllTenants || projectionFlags.Tenant == "")
}

func (proc *process) verifyTenants(ctx context.Context, tenantRef string, all bool) error {
	entries, err := proc.tenantTargets(ctx, tenantRef, all)
	if err != nil {
		return err
	}

	var group errs.Group
	for _, entry := range entries {
		log := proc.log.With(zap.Int64("tenant", entry.TenantID))
		db, err := proc.router.Handle(entry.Handle)
		if err != nil {
			group.Add(err)
			continue
		}
		verifier := integrity.NewVerifier(log.Named("integrity"), db.Events(), db.Payloads(), integrity.Config{})
		report, err := verifier.FullIntegrityCheck(ctx, entry.TenantID)
		if err != nil {
			group.Add(err)
			continue
		}
		log.Info("integrity check finished",
			zap.Int64("events", report.EventCount),
			zap.Int64("inline", report.InlineCount),
			zap.Int64("external", report.ExternalCount),
			zap.Int64("chunked", report.ChunkedCount),
			zap.Int("findings", len(report.Findings)))
		if !report.IsValid() {
			group.Add(errs.New("tenant %d failed integrity check: %v", entry.TenantID, report.Err()))
		}
	}
	return group.Err()
}

func cmdExport(cmd *cobra.Command, args []string) (err error) {
	ctx := cmd.Context()
	proc, err := newProcess(ctx)
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, proc.close()) }()

	if transferFlags.Tenant == "" || transferFlags.Path == "" {
		return errs.New("--tenant and --out are required")
	}

	company, err := proc.resolveTenant(ctx, transferFlags.Tenant)
	if err != nil {
		return err
	}
	entry, err := proc.router.System().Tenants().Directory().Get(ctx, company.ID)
	if err != nil {
		return err
	}
	db, err := proc.router.Handle(entry.Handle)
	if err != nil {
		return err
	}

	file, err := os.Create(transferFlags.Path)
	if err != nil {
		return errs.Wrap(err)
	}
	defer func() { err = errs.Combine(err, file.Close()) }()

	summary, err := migration.Export(ctx, file, db.Events(), db.Payloads(), company, entry.Handle,
		migration.ExportOptions{
			AfterSeq:        transferFlags.AfterSeq,
			IncludePayloads: transferFlags.IncludePayloads,
		})
	if err != nil {
		return err
	}
	proc.log.Info("export finished",
		zap.Int64("tenant", summary.TenantID),
		zap.Int64("events", summary.EventCount),
		zap.Int64("max-seq", summary.MaxStreamSeq),
		zap.String("hash", summary.Hash))
	return nil
}

func cmdImport(cmd *cobra.Command, args []string) (err error) {
	ctx := cmd.Context()
	proc, err := newProcess(ctx)
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, proc.close()) }()

	if transferFlags.Path == "" {
		return errs.New("--in is required")
	}
	db, err := proc.router.Handle(transferFlags.Handle)
	if err != nil {
		return err
	}

	file, err := os.Open(transferFlags.Path)
	if err != nil {
		return errs.Wrap(err)
	}
	defer func() { err = errs.Combine(err, file.Close()) }()

	summary, err := migration.Import(ctx, file, db.Events(), db.Payloads(), migration.ImportOptions{
		SkipExisting: transferFlags.SkipExisting,
		DryRun:       transferFlags.DryRun,
	})
	if err != nil {
		return err
	}
	proc.log.Info("import finished",
		zap.Int64("tenant", summary.TenantID),
		zap.Int64("events", summary.EventCount),
		zap.String("hash", summary.Hash),
		zap.Bool("dry-run", transferFlags.DryRun))
	return nil
}

func cmdMigrateTenant(cmd *cobra.Command, args []string) (err error) {
	ctx := cmd.Context()
	proc, err := newProcess(ctx)
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, proc.close()) }()

	if transferFlags.Tenant == "" || transferFlags.TargetHandle == "" {
		return errs.New("--tenant and --target-handle are required")
	}

	company, err := proc.resolveTenant(ctx, transferFlags.Tenant)
	if err != nil {
		return err
	}
	entry, err := proc.router.System().Tenants().Directory().Get(ctx, company.ID)
	if err != nil {
		return err
	}
	source, err := proc.router.Handle(entry.Handle)
	if err != nil {
		return err
	}
	target, err := proc.router.Handle(transferFlags.TargetHandle)
	if err != nil {
		return err
	}

	orchestrator := migration.NewOrchestrator(
		proc.log.Named("migration"),
		proc.router.System().Tenants(),
		proc.engine,
	)
	return orchestrator.Migrate(ctx, company.ID, transferFlags.TargetHandle, source, target,
		migration.Options{
			DryRun:           transferFlags.DryRun,
			SkipReplay:       transferFlags.SkipReplay,
			SkipTrialBalance: transferFlags.SkipTrialBalance,
		})
}
