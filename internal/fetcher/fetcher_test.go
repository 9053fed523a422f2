// Copyright 2025 James Ross
package fetcher

import (
	"testing"

	"github.com/caseworks/reportpipeline/internal/queryplan"
	"github.com/stretchr/testify/require"
)

func TestBuildPredicateWiresWhitelistedExtraFilters(t *testing.T) {
	plan := queryplan.Plan{
		TenantFilter: true,
		TenantID:     "Orange",
		ExtraFilters: map[string]string{"status": "APPROVED", "providerName": "Acme"},
	}
	where, args := buildPredicate(plan)
	require.Equal(t, "WHERE county_id = $1 AND provider_name = $2 AND status = $3", where)
	require.Equal(t, []any{"Orange", "Acme", "APPROVED"}, args)
}

func TestBuildPredicateDropsUnrecognizedExtraFilterKey(t *testing.T) {
	plan := queryplan.Plan{ExtraFilters: map[string]string{"sqlInjection; DROP TABLE timesheets;--": "x"}}
	where, args := buildPredicate(plan)
	require.Equal(t, "", where)
	require.Empty(t, args)
}

func TestCountCacheKeyDistinguishesExtraFilters(t *testing.T) {
	base := queryplan.Plan{TenantFilter: true, TenantID: "Orange"}
	withFilter := queryplan.Plan{TenantFilter: true, TenantID: "Orange", ExtraFilters: map[string]string{"status": "APPROVED"}}
	require.NotEqual(t, countCacheKey(base), countCacheKey(withFilter))
}
