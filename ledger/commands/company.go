// Copyright (C) 2025 Ledgerhouse, Inc.
// See LICENSE for copying information.

package commands

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ledgerhouse.io/ledgerhouse/ledger/events"
	"ledgerhouse.io/ledgerhouse/ledger/tenants"
	"ledgerhouse.io/ledgerhouse/ledger/writebarrier"
)

// RegisterCompany creates a tenant: the system-owned company row, its
// directory entry, and the seed event opening its stream.
type RegisterCompany struct {
	Slug                 string
	Name                 string
	BaseCurrency         string
	FiscalYearStartMonth int
}

// RegisterCompany registers a new company on the shared handle. New
// tenants always start SHARED; a move to a dedicated handle is a later
// migration. The service must be bound to the default handle.
func (service *Service) RegisterCompany(ctx context.Context, tdb tenants.DB, cmd RegisterCompany) (_ *tenants.Company, _ *Result, err error) {
	defer mon.Task()(&ctx)(&err)

	if cmd.Slug == "" || cmd.Name == "" {
		return nil, nil, Error.New("slug and name are required")
	}
	if cmd.BaseCurrency == "" {
		cmd.BaseCurrency = "USD"
	}
	if cmd.FiscalYearStartMonth < 1 || cmd.FiscalYearStartMonth > 12 {
		cmd.FiscalYearStartMonth = 1
	}

	if existing, err := tdb.Companies().GetBySlug(ctx, cmd.Slug); err == nil && existing != nil {
		return nil, nil, ErrConflict.New("slug %q is taken", cmd.Slug)
	}

	bootCtx := writebarrier.With(ctx, writebarrier.Bootstrap)

	company, err := tdb.Companies().Insert(bootCtx, &tenants.Company{
		PublicID:             uuid.New(),
		Slug:                 cmd.Slug,
		Name:                 cmd.Name,
		BaseCurrency:         cmd.BaseCurrency,
		FiscalYearStartMonth: cmd.FiscalYearStartMonth,
		Active:               true,
	})
	if err != nil {
		return nil, nil, Error.Wrap(err)
	}

	err = tdb.Directory().Insert(bootCtx, &tenants.DirectoryEntry{
		TenantID: company.ID,
		Mode:     tenants.Shared,
		Handle:   tenants.DefaultHandle,
		Status:   tenants.StatusActive,
	})
	if err != nil {
		return nil, nil, Error.Wrap(err)
	}

	if err := service.events.EnsureStreamCounter(bootCtx, company.ID); err != nil {
		return nil, nil, Error.Wrap(err)
	}

	tc := &tenants.Context{
		TenantID: company.ID,
		Handle:   tenants.DefaultHandle,
		Shared:   true,
	}
	key, err := IntentKey("company.register", map[string]interface{}{
		"slug": cmd.Slug,
	})
	if err != nil {
		return nil, nil, err
	}
	event, err := service.emitter.EmitAsSystem(bootCtx, tc, events.EmitParams{
		Type:          events.TypeCompanyRegistered,
		AggregateType: events.AggregateCompany,
		AggregateID:   company.PublicID.String(),
		Data: map[string]interface{}{
			"public_id":               company.PublicID.String(),
			"slug":                    company.Slug,
			"name":                    company.Name,
			"base_currency":           company.BaseCurrency,
			"fiscal_year_start_month": company.FiscalYearStartMonth,
		},
		IdempotencyKey: key,
	})
	if err != nil {
		return nil, nil, err
	}

	service.log.Info("company registered",
		zap.String("slug", company.Slug),
		zap.Int64("tenant", company.ID),
	)
	return company, &Result{Event: event, PublicID: company.PublicID.String()}, nil
}
