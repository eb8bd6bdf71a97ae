// Copyright (C) 2025 Ledgerhouse, Inc.
// See LICENSE for copying information.

package tenants_test

import (
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"ledgerhouse.io/ledgerhouse/ledger/ledgertest"
	"ledgerhouse.io/ledgerhouse/ledger/tenants"
)

func newService(t *testing.T, fixture *ledgertest.Fixture, handles ...string) *tenants.Service {
	return tenants.NewService(zaptest.NewLogger(t), fixture.DB.Tenants(), handles)
}

func TestResolveSharedTenant(t *testing.T) {
	ctx := context.Background()
	fixture := ledgertest.New(ctx, t, ledgertest.WithoutSyncProjections())
	service := newService(t, fixture)

	tc, err := service.Resolve(ctx, fixture.Company.ID, true)
	require.NoError(t, err)
	require.Equal(t, fixture.Company.ID, tc.TenantID)
	require.Equal(t, tenants.DefaultHandle, tc.Handle)
	require.True(t, tc.Shared)
}

func TestResolveBySlug(t *testing.T) {
	ctx := context.Background()
	fixture := ledgertest.New(ctx, t, ledgertest.WithoutSyncProjections())
	service := newService(t, fixture)

	company, tc, err := service.ResolveBySlug(ctx, "acme", false)
	require.NoError(t, err)
	require.Equal(t, fixture.Company.ID, company.ID)
	require.Equal(t, fixture.Company.ID, tc.TenantID)

	_, _, err = service.ResolveBySlug(ctx, "no-such-company", false)
	require.Error(t, err)
}

func TestLookupByIDOrSlug(t *testing.T) {
	ctx := context.Background()
	fixture := ledgertest.New(ctx, t, ledgertest.WithoutSyncProjections())
	service := newService(t, fixture)

	bySlug, err := service.Lookup(ctx, "acme")
	require.NoError(t, err)
	require.Equal(t, fixture.Company.ID, bySlug.ID)

	byID, err := service.Lookup(ctx, strconv.FormatInt(fixture.Company.ID, 10))
	require.NoError(t, err)
	require.Equal(t, fixture.Company.Slug, byID.Slug)

	_, err = service.Lookup(ctx, "no-such-company")
	require.Error(t, err)
}

func TestMigratingTenantIsReadOnly(t *testing.T) {
	ctx := context.Background()
	fixture := ledgertest.New(ctx, t, ledgertest.WithoutSyncProjections())
	service := newService(t, fixture)

	directory := fixture.DB.Tenants().Directory()
	require.NoError(t, directory.UpdateStatus(ctx, fixture.Company.ID,
		tenants.StatusActive, tenants.StatusMigrating))

	// reads still resolve
	tc, err := service.Resolve(ctx, fixture.Company.ID, false)
	require.NoError(t, err)
	require.NotNil(t, tc)

	// mutations are refused with a retryable class
	_, err = service.Resolve(ctx, fixture.Company.ID, true)
	require.Error(t, err)
	require.True(t, tenants.ErrReadOnly.Has(err))
}

func TestSuspendedTenantRefusesEverything(t *testing.T) {
	ctx := context.Background()
	fixture := ledgertest.New(ctx, t, ledgertest.WithoutSyncProjections())
	service := newService(t, fixture)

	directory := fixture.DB.Tenants().Directory()
	require.NoError(t, directory.UpdateStatus(ctx, fixture.Company.ID,
		tenants.StatusActive, tenants.StatusSuspended))

	_, err := service.Resolve(ctx, fixture.Company.ID, false)
	require.Error(t, err)
	_, err = service.Resolve(ctx, fixture.Company.ID, true)
	require.Error(t, err)
}

func TestConditionalStatusTransition(t *testing.T) {
	ctx := context.Background()
	fixture := ledgertest.New(ctx, t, ledgertest.WithoutSyncProjections())
	directory := fixture.DB.Tenants().Directory()

	// transition from a stale expectation must fail
	err := directory.UpdateStatus(ctx, fixture.Company.ID,
		tenants.StatusMigrating, tenants.StatusActive)
	require.Error(t, err)

	entry, err := directory.Get(ctx, fixture.Company.ID)
	require.NoError(t, err)
	require.Equal(t, tenants.StatusActive, entry.Status)
}

func TestDedicatedTenantResolvesToItsHandle(t *testing.T) {
	ctx := context.Background()
	fixture := ledgertest.New(ctx, t, ledgertest.WithoutSyncProjections())
	service := newService(t, fixture, "pool-1")

	directory := fixture.DB.Tenants().Directory()
	require.NoError(t, directory.UpdateStatus(ctx, fixture.Company.ID,
		tenants.StatusActive, tenants.StatusMigrating))
	require.NoError(t, directory.Cutover(ctx, fixture.Company.ID, tenants.Dedicated, "pool-1"))

	tc, err := service.Resolve(ctx, fixture.Company.ID, true)
	require.NoError(t, err)
	require.Equal(t, "pool-1", tc.Handle)
	require.False(t, tc.Shared)

	// a service that does not know the handle refuses to resolve
	unaware := newService(t, fixture)
	_, err = unaware.Resolve(ctx, fixture.Company.ID, true)
	require.Error(t, err)
}

func TestCheckConsistency(t *testing.T) {
	ctx := context.Background()
	fixture := ledgertest.New(ctx, t, ledgertest.WithoutSyncProjections())
	service := newService(t, fixture, "pool-1")

	faults, err := service.CheckConsistency(ctx, tenants.HealthCheckError)
	require.NoError(t, err)
	require.Zero(t, faults)

	// point a tenant at a handle nobody configured
	directory := fixture.DB.Tenants().Directory()
	require.NoError(t, directory.UpdateStatus(ctx, fixture.Company.ID,
		tenants.StatusActive, tenants.StatusMigrating))
	require.NoError(t, directory.Cutover(ctx, fixture.Company.ID, tenants.Dedicated, "pool-gone"))

	faults, err = service.CheckConsistency(ctx, tenants.HealthCheckWarn)
	require.NoError(t, err)
	require.Equal(t, 1, faults)

	_, err = service.CheckConsistency(ctx, tenants.HealthCheckError)
	require.Error(t, err)
}
