// Copyright (C) 2025 Ledgerhouse, Inc.
// See LICENSE for copying information.

// Package writebarrier guards read-model persistence behind ambient
// write contexts. Every mutation path enters a context tag; every
// read-model write declares the tags it accepts. A write outside the
// declared set is a programmer error and fails loudly instead of
// silently bypassing the event log.
package writebarrier

import (
	"context"

	"github.com/zeebo/errs"
)

// Error is returned for writes outside an allowed context.
var Error = errs.Class("write barrier")

// Tag identifies an ambient write context.
type Tag string

const (
	// Command marks regular mutations flowing through the command layer.
	Command Tag = "command"
	// Projection marks projection-owned writes to read models.
	Projection Tag = "projection"
	// Bootstrap marks seed writes at install time.
	Bootstrap Tag = "bootstrap"
	// Migration marks writes performed by schema or tenant migration.
	Migration Tag = "migration"
	// AdminEmergency is the operator escape hatch, gated by a
	// deploy-time flag.
	AdminEmergency Tag = "admin_emergency"
)

type stackKey struct{}

// emergencyEnabled is set once at startup from configuration.
var emergencyEnabled = false

// EnableAdminEmergency arms the admin_emergency tag. Call once during
// process startup, before any request is served.
func EnableAdminEmergency() { emergencyEnabled = true }

// With pushes tag onto the context's write-context stack.
func With(ctx context.Context, tag Tag) context.Context {
	stack, _ := ctx.Value(stackKey{}).([]Tag)
	next := make([]Tag, len(stack), len(stack)+1)
	copy(next, stack)
	next = append(next, tag)
	return context.WithValue(ctx, stackKey{}, next)
}

// WithAdminEmergency pushes the admin_emergency tag, refusing unless the
// deploy-time flag armed it.
func WithAdminEmergency(ctx context.Context) (context.Context, error) {
	if !emergencyEnabled {
		return nil, Error.New("admin emergency writes are not enabled")
	}
	return With(ctx, AdminEmergency), nil
}

// Current returns the top of the write-context stack.
func Current(ctx context.Context) (Tag, bool) {
	stack, _ := ctx.Value(stackKey{}).([]Tag)
	if len(stack) == 0 {
		return "", false
	}
	return stack[len(stack)-1], true
}

// Require fails unless the current write context is one of allowed.
// AdminEmergency is accepted everywhere once armed.
func Require(ctx context.Context, allowed ...Tag) error {
	current, ok := Current(ctx)
	if !ok {
		return Error.New("write attempted outside any write context (allowed: %v)", allowed)
	}
	if current == AdminEmergency && emergencyEnabled {
		return nil
	}
	for _, tag := range allowed {
		if current == tag {
			return nil
		}
	}
	return Error.New("write context %q not permitted (allowed: %v)", current, allowed)
}
