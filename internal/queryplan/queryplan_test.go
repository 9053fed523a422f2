// Copyright 2025 James Ross
package queryplan

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildAdminUnrestrictedWithoutTenant(t *testing.T) {
	plan, err := Build(Request{Role: RoleAdmin})
	require.NoError(t, err)
	require.False(t, plan.TenantFilter)
}

func TestBuildAdminWithTenantFilters(t *testing.T) {
	plan, err := Build(Request{Role: RoleAdmin, TenantID: "Orange", HasTenant: true})
	require.NoError(t, err)
	require.True(t, plan.TenantFilter)
	require.Equal(t, "Orange", plan.TenantID)
}

func TestBuildCaseWorkerRequiresTenant(t *testing.T) {
	_, err := Build(Request{Role: RoleCaseWorker})
	require.ErrorIs(t, err, ErrMissingTenant)
}

func TestBuildSupervisorRequiresTenant(t *testing.T) {
	_, err := Build(Request{Role: RoleSupervisor})
	require.ErrorIs(t, err, ErrMissingTenant)
}

func TestBuildCaseWorkerWithTenantSucceeds(t *testing.T) {
	plan, err := Build(Request{Role: RoleCaseWorker, TenantID: "Dutchess", HasTenant: true})
	require.NoError(t, err)
	require.True(t, plan.TenantFilter)
}

func TestBuildProviderRequiresUserID(t *testing.T) {
	_, err := Build(Request{Role: RoleProvider})
	require.ErrorIs(t, err, ErrMissingUserID)
}

func TestBuildProviderOwnerFilterWithOptionalTenant(t *testing.T) {
	plan, err := Build(Request{Role: RoleProvider, UserID: "u-1", HasUserID: true})
	require.NoError(t, err)
	require.True(t, plan.OwnerFilter)
	require.Equal(t, "u-1", plan.OwnerUserID)
	require.False(t, plan.TenantFilter)
}

func TestBuildRecipientRequiresUserID(t *testing.T) {
	_, err := Build(Request{Role: RoleRecipient})
	require.ErrorIs(t, err, ErrMissingUserID)
}
