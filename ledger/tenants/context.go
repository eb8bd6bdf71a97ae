// Copyright (C) 2025 Ledgerhouse, Inc.
// See LICENSE for copying information.

package tenants

import (
	"context"
)

// Context is the ambient per-request tenant state. It is carried as a
// context value so it follows the request across goroutines and
// suspension points.
type Context struct {
	TenantID int64
	Handle   string
	Shared   bool

	// UserID is the acting user, zero for system-initiated work.
	UserID int64
}

type contextKey struct{}

// WithContext binds tenant state to ctx.
func WithContext(ctx context.Context, tc *Context) context.Context {
	return context.WithValue(ctx, contextKey{}, tc)
}

// FromContext returns the bound tenant state.
func FromContext(ctx context.Context) (*Context, error) {
	tc, ok := ctx.Value(contextKey{}).(*Context)
	if !ok || tc == nil {
		return nil, ErrNoContext.New("no tenant bound to context")
	}
	return tc, nil
}

// TenantID is a convenience accessor for the bound tenant id.
func TenantID(ctx context.Context) (int64, error) {
	tc, err := FromContext(ctx)
	if err != nil {
		return 0, err
	}
	return tc.TenantID, nil
}
