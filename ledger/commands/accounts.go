// Copyright (C) 2025 Ledgerhouse, Inc.
// See LICENSE for copying information.

package commands

import (
	"context"

	"github.com/google/uuid"

	"ledgerhouse.io/ledgerhouse/ledger/aggregates"
	"ledgerhouse.io/ledgerhouse/ledger/events"
	"ledgerhouse.io/ledgerhouse/ledger/tenants"
	"ledgerhouse.io/ledgerhouse/ledger/writebarrier"
)

// CreateAccount adds one chart-of-accounts entry.
type CreateAccount struct {
	Code        string
	Name        string
	AccountType string
	ParentCode  string
	Description string
	Origin      events.Origin
}

// CreateAccount emits account.created for a fresh public id.
func (service *Service) CreateAccount(ctx context.Context, cmd CreateAccount) (_ *Result, err error) {
	defer mon.Task()(&ctx)(&err)

	tc, err := tenants.FromContext(ctx)
	if err != nil {
		return nil, err
	}

	publicID := uuid.NewString()
	data := map[string]interface{}{
		"public_id":    publicID,
		"code":         cmd.Code,
		"name":         cmd.Name,
		"account_type": cmd.AccountType,
	}
	if cmd.ParentCode != "" {
		data["parent_code"] = cmd.ParentCode
	}
	if cmd.Description != "" {
		data["description"] = cmd.Description
	}

	// keyed by code so a retried create of the same code is idempotent
	key, err := IntentKey("account.create", map[string]interface{}{
		"tenant": tc.TenantID,
		"code":   cmd.Code,
	})
	if err != nil {
		return nil, err
	}

	ctx = writebarrier.With(ctx, writebarrier.Command)
	event, err := service.emitter.Emit(ctx, events.EmitParams{
		Type:           events.TypeAccountCreated,
		AggregateType:  events.AggregateAccount,
		AggregateID:    publicID,
		Data:           data,
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

// UpdateAccount changes mutable account fields. Changes carry old and
// new values so the log reads as a diff.
type UpdateAccount struct {
	PublicID    string
	Name        *string
	ParentCode  *string
	Description *string
	Origin      events.Origin
}

// UpdateAccount emits account.updated with a structured change diff.
// A no-op update emits nothing and returns the current state.
func (service *Service) UpdateAccount(ctx context.Context, cmd UpdateAccount) (_ *Result, err error) {
	defer mon.Task()(&ctx)(&err)

	tc, err := tenants.FromContext(ctx)
	if err != nil {
		return nil, err
	}

	account, err := aggregates.LoadAccount(ctx, service.events, tc.TenantID, cmd.PublicID)
	if err != nil {
		return nil, err
	}
	if account == nil || !account.Exists {
		return nil, ErrNotFound.New("account %s", cmd.PublicID)
	}
	if !account.Active {
		return nil, ErrConflict.New("account %s is deactivated", cmd.PublicID)
	}

	changes := map[string]interface{}{}
	if cmd.Name != nil && *cmd.Name != account.Name {
		changes["name"] = diff(account.Name, *cmd.Name)
	}
	if cmd.ParentCode != nil && *cmd.ParentCode != account.ParentCode {
		changes["parent_code"] = diff(account.ParentCode, *cmd.ParentCode)
	}
	if cmd.Description != nil && *cmd.Description != account.Description {
		changes["description"] = diff(account.Description, *cmd.Description)
	}
	if len(changes) == 0 {
		return &Result{PublicID: cmd.PublicID}, nil
	}

	key, err := IntentKey("account.update", map[string]interface{}{
		"tenant":    tc.TenantID,
		"public_id": cmd.PublicID,
		"changes":   changes,
	})
	if err != nil {
		return nil, err
	}

	ctx = writebarrier.With(ctx, writebarrier.Command)
	event, err := service.emitter.Emit(ctx, events.EmitParams{
		Type:          events.TypeAccountUpdated,
		AggregateType: events.AggregateAccount,
		AggregateID:   cmd.PublicID,
		Data: map[string]interface{}{
			"public_id": cmd.PublicID,
			"changes":   changes,
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
	return &Result{Event: event, PublicID: cmd.PublicID}, nil
}

// DeactivateAccount retires an account; balances and history remain.
type DeactivateAccount struct {
	PublicID string
	Reason   string
	Origin   events.Origin
}

// DeactivateAccount emits account.deactivated. Deactivating twice is a
// conflict, not an idempotent success, so callers learn about the race.
func (service *Service) DeactivateAccount(ctx context.Context, cmd DeactivateAccount) (_ *Result, err error) {
	defer mon.Task()(&ctx)(&err)

	tc, err := tenants.FromContext(ctx)
	if err != nil {
		return nil, err
	}

	account, err := aggregates.LoadAccount(ctx, service.events, tc.TenantID, cmd.PublicID)
	if err != nil {
		return nil, err
	}
	if account == nil || !account.Exists {
		return nil, ErrNotFound.New("account %s", cmd.PublicID)
	}
	if !account.Active {
		return nil, ErrConflict.New("account %s is already deactivated", cmd.PublicID)
	}

	data := map[string]interface{}{"public_id": cmd.PublicID}
	if cmd.Reason != "" {
		data["reason"] = cmd.Reason
	}
	key, err := IntentKey("account.deactivate", map[string]interface{}{
		"tenant":    tc.TenantID,
		"public_id": cmd.PublicID,
	})
	if err != nil {
		return nil, err
	}

	ctx = writebarrier.With(ctx, writebarrier.Command)
	event, err := service.emitter.Emit(ctx, events.EmitParams{
		Type:           events.TypeAccountDeactivated,
		AggregateType:  events.AggregateAccount,
		AggregateID:    cmd.PublicID,
		Data:           data,
		IdempotencyKey: key,
		Origin:         cmd.Origin,
	})
	if err != nil {
		return nil, err
	}
	if err := service.afterCommit(ctx, tc.TenantID); err != nil {
		return nil, err
	}
	return &Result{Event: event, PublicID: cmd.PublicID}, nil
}

// diff builds the old/new pair recorded in change events.
func diff(old, new string) map[string]interface{} {
	return map[string]interface{}{"old": old, "new": new}
}

func str(data map[string]interface{}, key string) string {
	s, _ := data[key].(string)
	return s
}
