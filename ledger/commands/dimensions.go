// Copyright (C) 2025 Ledgerhouse, Inc.
// See LICENSE for copying information.

package commands

import (
	"context"

	"github.com/google/uuid"

	"ledgerhouse.io/ledgerhouse/ledger/events"
	"ledgerhouse.io/ledgerhouse/ledger/tenants"
	"ledgerhouse.io/ledgerhouse/ledger/writebarrier"
)

// CreateDimension defines one analysis dimension, such as cost center
// or project.
type CreateDimension struct {
	Code   string
	Name   string
	Origin events.Origin
}

// CreateDimension emits dimension.created, keyed by code so a retry is
// idempotent.
func (service *Service) CreateDimension(ctx context.Context, cmd CreateDimension) (_ *Result, err error) {
	defer mon.Task()(&ctx)(&err)

	tc, err := tenants.FromContext(ctx)
	if err != nil {
		return nil, err
	}

	publicID := uuid.NewString()
	key, err := IntentKey("dimension.create", map[string]interface{}{
		"tenant": tc.TenantID,
		"code":   cmd.Code,
	})
	if err != nil {
		return nil, err
	}

	ctx = writebarrier.With(ctx, writebarrier.Command)
	event, err := service.emitter.Emit(ctx, events.EmitParams{
		Type:          events.TypeDimensionCreated,
		AggregateType: events.AggregateDimension,
		AggregateID:   publicID,
		Data: map[string]interface{}{
			"public_id": publicID,
			"code":      cmd.Code,
			"name":      cmd.Name,
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
	return &Result{Event: event, PublicID: str(event.Data, "public_id")}, nil
}

// AddDimensionValue adds one value to a dimension.
type AddDimensionValue struct {
	DimensionPublicID string
	ValueCode         string
	ValueName         string
	Origin            events.Origin
}

// AddDimensionValue emits dimension.value_added.
func (service *Service) AddDimensionValue(ctx context.Context, cmd AddDimensionValue) (_ *Result, err error) {
	defer mon.Task()(&ctx)(&err)

	tc, err := tenants.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := service.requireDimension(ctx, tc.TenantID, cmd.DimensionPublicID); err != nil {
		return nil, err
	}

	key, err := IntentKey("dimension.value_add", map[string]interface{}{
		"tenant":     tc.TenantID,
		"public_id":  cmd.DimensionPublicID,
		"value_code": cmd.ValueCode,
	})
	if err != nil {
		return nil, err
	}

	ctx = writebarrier.With(ctx, writebarrier.Command)
	event, err := service.emitter.Emit(ctx, events.EmitParams{
		Type:          events.TypeDimensionValueAdded,
		AggregateType: events.AggregateDimension,
		AggregateID:   cmd.DimensionPublicID,
		Data: map[string]interface{}{
			"public_id":  cmd.DimensionPublicID,
			"value_code": cmd.ValueCode,
			"value_name": cmd.ValueName,
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
	return &Result{Event: event, PublicID: cmd.DimensionPublicID}, nil
}

// DeactivateDimensionValue retires one value; history keeps it.
type DeactivateDimensionValue struct {
	DimensionPublicID string
	ValueCode         string
	Origin            events.Origin
}

// DeactivateDimensionValue emits dimension.value_deactivated.
func (service *Service) DeactivateDimensionValue(ctx context.Context, cmd DeactivateDimensionValue) (_ *Result, err error) {
	defer mon.Task()(&ctx)(&err)

	tc, err := tenants.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := service.requireDimension(ctx, tc.TenantID, cmd.DimensionPublicID); err != nil {
		return nil, err
	}

	key, err := IntentKey("dimension.value_deactivate", map[string]interface{}{
		"tenant":     tc.TenantID,
		"public_id":  cmd.DimensionPublicID,
		"value_code": cmd.ValueCode,
	})
	if err != nil {
		return nil, err
	}

	ctx = writebarrier.With(ctx, writebarrier.Command)
	event, err := service.emitter.Emit(ctx, events.EmitParams{
		Type:          events.TypeDimensionValueDeactivated,
		AggregateType: events.AggregateDimension,
		AggregateID:   cmd.DimensionPublicID,
		Data: map[string]interface{}{
			"public_id":  cmd.DimensionPublicID,
			"value_code": cmd.ValueCode,
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
	return &Result{Event: event, PublicID: cmd.DimensionPublicID}, nil
}

func (service *Service) requireDimension(ctx context.Context, tenantID int64, publicID string) error {
	slice, err := service.events.ListByAggregate(ctx, tenantID, events.AggregateDimension, publicID)
	if err != nil {
		return Error.Wrap(err)
	}
	if len(slice) == 0 {
		return ErrNotFound.New("dimension %s", publicID)
	}
	return nil
}

// MapIdentity records an external system identity for an internal
// entity. Re-mapping the same (system, external id) pair overwrites.
type MapIdentity struct {
	System     string
	ExternalID string
	EntityType string
	EntityID   string
	Origin     events.Origin
}

// MapIdentity emits identity.mapped keyed by (system, external id), so
// repeated ingestion of the same mapping is a no-op.
func (service *Service) MapIdentity(ctx context.Context, cmd MapIdentity) (_ *Result, err error) {
	defer mon.Task()(&ctx)(&err)

	tc, err := tenants.FromContext(ctx)
	if err != nil {
		return nil, err
	}

	key, err := IntentKey("identity.map", map[string]interface{}{
		"tenant":      tc.TenantID,
		"system":      cmd.System,
		"external_id": cmd.ExternalID,
		"entity_type": cmd.EntityType,
		"entity_id":   cmd.EntityID,
	})
	if err != nil {
		return nil, err
	}

	ctx = writebarrier.With(ctx, writebarrier.Command)
	event, err := service.emitter.Emit(ctx, events.EmitParams{
		Type:          events.TypeIdentityMapped,
		AggregateType: events.AggregateCrosswalk,
		AggregateID:   cmd.System + ":" + cmd.ExternalID,
		Data: map[string]interface{}{
			"system":      cmd.System,
			"external_id": cmd.ExternalID,
			"entity_type": cmd.EntityType,
			"entity_id":   cmd.EntityID,
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
	return &Result{Event: event, PublicID: cmd.System + ":" + cmd.ExternalID}, nil
}
