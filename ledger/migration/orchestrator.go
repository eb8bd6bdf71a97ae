// Copyright (C) 2025 Ledgerhouse, Inc.
// See LICENSE for copying information.

package migration

import (
	"bytes"
	"context"
	"time"

	"go.uber.org/zap"

	"ledgerhouse.io/ledgerhouse/ledger/projections"
	"ledgerhouse.io/ledgerhouse/ledger/tenants"
)

// Options tunes one orchestrated move.
type Options struct {
	// DryRun runs export and verification without touching the target.
	DryRun bool
	// SkipReplay leaves target projections to the daemon.
	SkipReplay bool
	// SkipTrialBalance skips the balance comparison, for tenants with
	// no balance projection yet.
	SkipTrialBalance bool
}

// Orchestrator runs the freeze, export, import, replay, verify,
// cutover sequence for one tenant at a time.
//
// architecture: Service
type Orchestrator struct {
	log    *zap.Logger
	system tenants.DB
	engine *projections.Engine
}

// NewOrchestrator creates the tenant move orchestrator. system must be
// bound to the default handle; engine drives target-side replay.
func NewOrchestrator(log *zap.Logger, system tenants.DB, engine *projections.Engine) *Orchestrator {
	return &Orchestrator{log: log, system: system, engine: engine}
}

// Migrate moves the tenant's stream from source to target and cuts the
// directory over to targetHandle. On any failure before cutover the
// tenant is thawed in place and the attempt is recorded; the target may
// hold partial data, which a retry with SkipExisting resumes over.
func (orchestrator *Orchestrator) Migrate(ctx context.Context, tenantID int64, targetHandle string, source, target projections.Handle, opts Options) (err error) {
	defer mon.Task()(&ctx)(&err)

	log := orchestrator.log.With(
		zap.Int64("tenant", tenantID),
		zap.String("target", targetHandle),
	)
	startedAt := time.Now().UTC()

	record := &tenants.MigrationRecord{
		TenantID:     tenantID,
		TargetHandle: targetHandle,
		StartedAt:    startedAt,
	}
	entry, err := orchestrator.system.Directory().Get(ctx, tenantID)
	if err != nil {
		return Error.Wrap(err)
	}
	record.SourceHandle = entry.Handle
	company, err := orchestrator.system.Companies().Get(ctx, tenantID)
	if err != nil {
		return Error.Wrap(err)
	}

	// freeze
	if err := orchestrator.system.Directory().UpdateStatus(ctx, tenantID, tenants.StatusActive, tenants.StatusMigrating); err != nil {
		return Error.New("freeze failed: %v", err)
	}
	log.Info("tenant frozen for migration")

	defer func() {
		record.FinishedAt = time.Now().UTC()
		record.Success = err == nil
		if err != nil {
			record.Failure = err.Error()
			orchestrator.thaw(ctx, log, tenantID)
		}
		if insertErr := orchestrator.system.MigrationLog().Insert(ctx, record); insertErr != nil {
			log.Error("recording migration attempt failed", zap.Error(insertErr))
		}
	}()

	// export
	var transfer bytes.Buffer
	exported, err := Export(ctx, &transfer, source.Events(), source.Payloads(), company, entry.Handle, ExportOptions{IncludePayloads: true})
	if err != nil {
		return err
	}
	record.EventCount = exported.EventCount
	record.ExportHash = exported.Hash
	log.Info("export complete",
		zap.Int64("events", exported.EventCount),
		zap.String("hash", exported.Hash),
	)

	if opts.DryRun {
		if _, err := Import(ctx, bytes.NewReader(transfer.Bytes()), target.Events(), target.Payloads(), ImportOptions{DryRun: true}); err != nil {
			return err
		}
		if err := orchestrator.system.Directory().UpdateStatus(ctx, tenantID, tenants.StatusMigrating, tenants.StatusActive); err != nil {
			return Error.New("thaw after dry run failed: %v", err)
		}
		log.Info("dry run verified, stopping before import")
		return nil
	}

	// import
	imported, err := Import(ctx, bytes.NewReader(transfer.Bytes()), target.Events(), target.Payloads(), ImportOptions{SkipExisting: true})
	if err != nil {
		return err
	}
	record.ImportHash = imported.Hash
	if err := orchestrator.system.Directory().SetCheckpoints(ctx, tenantID, exported.MaxStreamSeq, exported.Hash, imported.Hash, imported.EventCount); err != nil {
		return Error.Wrap(err)
	}

	// replay
	if !opts.SkipReplay {
		for _, name := range orchestrator.engine.Names() {
			if err := orchestrator.engine.Rebuild(ctx, target, name, tenantID); err != nil {
				return Error.New("replay of %s failed: %v", name, err)
			}
		}
	}

	// verify
	if err := orchestrator.verify(ctx, log, tenantID, exported, source, target, opts); err != nil {
		return err
	}

	// cutover
	mode := tenants.Dedicated
	if targetHandle == tenants.DefaultHandle {
		mode = tenants.Shared
	}
	if err := orchestrator.system.Directory().Cutover(ctx, tenantID, mode, targetHandle); err != nil {
		return Error.New("cutover failed: %v", err)
	}
	log.Info("migration complete", zap.Duration("took", time.Since(startedAt)))
	return nil
}

// verify cross-checks target state against the export summary and the
// source's trial balance before any cutover.
func (orchestrator *Orchestrator) verify(ctx context.Context, log *zap.Logger, tenantID int64, exported *Summary, source, target projections.Handle, opts Options) error {
	count, err := target.Events().Count(ctx, tenantID)
	if err != nil {
		return Error.Wrap(err)
	}
	if count != exported.EventCount {
		return Error.New("target holds %d events, export carried %d", count, exported.EventCount)
	}
	maxSeq, err := target.Events().MaxStreamSeq(ctx, tenantID)
	if err != nil {
		return Error.Wrap(err)
	}
	if maxSeq != exported.MaxStreamSeq {
		return Error.New("target max stream seq %d, export carried %d", maxSeq, exported.MaxStreamSeq)
	}

	if opts.SkipTrialBalance || opts.SkipReplay {
		return nil
	}
	sourceTB, err := source.Projections().Balances().TrialBalance(ctx, tenantID)
	if err != nil {
		return Error.Wrap(err)
	}
	targetTB, err := target.Projections().Balances().TrialBalance(ctx, tenantID)
	if err != nil {
		return Error.Wrap(err)
	}
	if !sourceTB.TotalDebit.Equal(targetTB.TotalDebit) || !sourceTB.TotalCredit.Equal(targetTB.TotalCredit) {
		return Error.New("trial balance moved: source %s/%s, target %s/%s",
			sourceTB.TotalDebit, sourceTB.TotalCredit, targetTB.TotalDebit, targetTB.TotalCredit)
	}
	if len(sourceTB.Accounts) != len(targetTB.Accounts) {
		return Error.New("trial balance account count moved: source %d, target %d",
			len(sourceTB.Accounts), len(targetTB.Accounts))
	}
	log.Info("verification passed",
		zap.Int64("events", exported.EventCount),
		zap.String("total_debit", sourceTB.TotalDebit.String()),
	)
	return nil
}

// thaw returns a frozen tenant to service on its original handle.
func (orchestrator *Orchestrator) thaw(ctx context.Context, log *zap.Logger, tenantID int64) {
	if err := orchestrator.system.Directory().UpdateStatus(ctx, tenantID, tenants.StatusMigrating, tenants.StatusActive); err != nil {
		log.Error("thaw failed, tenant remains frozen", zap.Error(err))
		return
	}
	log.Warn("migration failed, tenant thawed on source handle")
}
