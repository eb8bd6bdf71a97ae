// Copyright (C) 2025 Ledgerhouse, Inc.
// See LICENSE for copying information.

package writebarrier_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"ledgerhouse.io/ledgerhouse/ledger/writebarrier"
)

func TestRequireOutsideContextFails(t *testing.T) {
	err := writebarrier.Require(context.Background(), writebarrier.Command)
	require.Error(t, err)
	require.True(t, writebarrier.Error.Has(err))
}

func TestRequireMatchesTopOfStack(t *testing.T) {
	ctx := writebarrier.With(context.Background(), writebarrier.Command)
	require.NoError(t, writebarrier.Require(ctx, writebarrier.Command))
	require.Error(t, writebarrier.Require(ctx, writebarrier.Projection))

	// nested projection context shadows the command context
	ctx = writebarrier.With(ctx, writebarrier.Projection)
	require.NoError(t, writebarrier.Require(ctx, writebarrier.Projection))
	require.Error(t, writebarrier.Require(ctx, writebarrier.Command))
}

func TestStackIsCopiedNotShared(t *testing.T) {
	base := writebarrier.With(context.Background(), writebarrier.Command)
	_ = writebarrier.With(base, writebarrier.Projection)

	tag, ok := writebarrier.Current(base)
	require.True(t, ok)
	require.Equal(t, writebarrier.Command, tag)
}

func TestAdminEmergencyGated(t *testing.T) {
	_, err := writebarrier.WithAdminEmergency(context.Background())
	require.Error(t, err)
}
