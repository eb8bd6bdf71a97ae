// Copyright (C) 2025 Ledgerhouse, Inc.
// See LICENSE for copying information.

package commands

import (
	"context"

	"ledgerhouse.io/ledgerhouse/ledger/aggregates"
	"ledgerhouse.io/ledgerhouse/ledger/events"
	"ledgerhouse.io/ledgerhouse/ledger/tenants"
	"ledgerhouse.io/ledgerhouse/ledger/writebarrier"
)

// SetFiscalPeriodRange defines or redefines a fiscal period's dates.
type SetFiscalPeriodRange struct {
	PeriodKey string
	StartDate string
	EndDate   string
	Origin    events.Origin
}

// SetFiscalPeriodRange emits fiscal_period.range_set. Redefining a
// closed period is refused; reopen it first.
func (service *Service) SetFiscalPeriodRange(ctx context.Context, cmd SetFiscalPeriodRange) (_ *Result, err error) {
	defer mon.Task()(&ctx)(&err)

	tc, err := tenants.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	if cmd.StartDate >= cmd.EndDate {
		return nil, Error.New("period %s: start %s is not before end %s", cmd.PeriodKey, cmd.StartDate, cmd.EndDate)
	}

	period, err := aggregates.LoadFiscalPeriod(ctx, service.events, tc.TenantID, cmd.PeriodKey)
	if err != nil {
		return nil, err
	}
	if period != nil && period.Closed {
		return nil, ErrPeriodClosed.New("period %s is closed", cmd.PeriodKey)
	}

	key, err := IntentKey("period.range", map[string]interface{}{
		"tenant":     tc.TenantID,
		"period_key": cmd.PeriodKey,
		"start_date": cmd.StartDate,
		"end_date":   cmd.EndDate,
	})
	if err != nil {
		return nil, err
	}

	ctx = writebarrier.With(ctx, writebarrier.Command)
	event, err := service.emitter.Emit(ctx, events.EmitParams{
		Type:          events.TypeFiscalPeriodRangeSet,
		AggregateType: events.AggregateFiscalPeriod,
		AggregateID:   cmd.PeriodKey,
		Data: map[string]interface{}{
			"period_key": cmd.PeriodKey,
			"start_date": cmd.StartDate,
			"end_date":   cmd.EndDate,
		},
		IdempotencyKey: key,
		Origin:         cmd.Origin,
	})
	if err != nil {
		return nil, err
	}
	if err := service.afterCommit(ctx, tc.TenantID); err != nil {
		return nil, err
	}
	return &Result{Event: event, PublicID: cmd.PeriodKey}, nil
}

// CloseFiscalPeriod closes a period against further postings.
type CloseFiscalPeriod struct {
	PeriodKey string
	Origin    events.Origin
}

// CloseFiscalPeriod emits fiscal_period.closed.
func (service *Service) CloseFiscalPeriod(ctx context.Context, cmd CloseFiscalPeriod) (_ *Result, err error) {
	defer mon.Task()(&ctx)(&err)
	return service.togglePeriod(ctx, cmd.PeriodKey, true, cmd.Origin)
}

// OpenFiscalPeriod reopens a closed period.
type OpenFiscalPeriod struct {
	PeriodKey string
	Origin    events.Origin
}

// OpenFiscalPeriod emits fiscal_period.opened.
func (service *Service) OpenFiscalPeriod(ctx context.Context, cmd OpenFiscalPeriod) (_ *Result, err error) {
	defer mon.Task()(&ctx)(&err)
	return service.togglePeriod(ctx, cmd.PeriodKey, false, cmd.Origin)
}

func (service *Service) togglePeriod(ctx context.Context, periodKey string, close bool, origin events.Origin) (*Result, error) {
	tc, err := tenants.FromContext(ctx)
	if err != nil {
		return nil, err
	}

	slice, err := service.events.ListByAggregate(ctx, tc.TenantID, events.AggregateFiscalPeriod, periodKey)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	period := &aggregates.FiscalPeriod{}
	for _, event := range slice {
		if event.Data != nil {
			period.Apply(event)
		}
	}
	if !period.Exists {
		return nil, ErrNotFound.New("fiscal period %s", periodKey)
	}
	if period.Closed == close {
		// already in the requested state
		return &Result{PublicID: periodKey}, nil
	}

	eventType := events.TypeFiscalPeriodOpened
	scope := "period.open"
	if close {
		eventType = events.TypeFiscalPeriodClosed
		scope = "period.close"
	}
	// the aggregate length salts the key so close/open cycles never
	// collide with an earlier toggle
	key, err := IntentKey(scope, map[string]interface{}{
		"tenant":     tc.TenantID,
		"period_key": periodKey,
		"generation": len(slice),
	})
	if err != nil {
		return nil, err
	}

	ctx = writebarrier.With(ctx, writebarrier.Command)
	event, err := service.emitter.Emit(ctx, events.EmitParams{
		Type:           eventType,
		AggregateType:  events.AggregateFiscalPeriod,
		AggregateID:    periodKey,
		Data:           map[string]interface{}{"period_key": periodKey},
		IdempotencyKey: key,
		Origin:         origin,
	})
	if err != nil {
		return nil, err
	}
	if err := service.afterCommit(ctx, tc.TenantID); err != nil {
		return nil, err
	}
	return &Result{Event: event, PublicID: periodKey}, nil
}
