// Copyright 2025 James Ross
package fetcher

import (
	"context"
	"time"

	"github.com/caseworks/reportpipeline/internal/queryplan"
)

// Fixture is an in-memory Fetcher for tests and local fixtures, applying
// the same tenant/owner/date predicates as PostgresFetcher without a
// database round-trip.
type Fixture struct {
	Rows []Row
}

// Fetch implements Fetcher by filtering Rows in-process then paginating.
func (f *Fixture) Fetch(_ context.Context, plan queryplan.Plan, offset, limit int) ([]Row, int64, error) {
	var matched []Row
	for _, row := range f.Rows {
		if matches(row, plan) {
			matched = append(matched, row)
		}
	}
	total := int64(len(matched))

	if offset >= len(matched) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], total, nil
}

// fixtureExtraFilterFields maps an ExtraFilters key to the Row field it
// predicates on, mirroring PostgresFetcher's extraFilterColumns whitelist.
var fixtureExtraFilterFields = map[string]string{
	"status":        "status",
	"providerName":  "providerName",
	"providerEmail": "providerEmail",
}

func matches(row Row, plan queryplan.Plan) bool {
	if plan.TenantFilter {
		if v, _ := row["countyId"].(string); v != plan.TenantID {
			return false
		}
	}
	if plan.OwnerFilter {
		if v, _ := row["userId"].(string); v != plan.OwnerUserID {
			return false
		}
	}
	if plan.DateFilter {
		d, _ := row["reportDate"].(time.Time)
		if !plan.DateRange.Start.IsZero() && d.Before(plan.DateRange.Start) {
			return false
		}
		if !plan.DateRange.End.IsZero() && d.After(plan.DateRange.End) {
			return false
		}
	}
	for key, value := range plan.ExtraFilters {
		field, ok := fixtureExtraFilterFields[key]
		if !ok {
			continue
		}
		if v, _ := row[field].(string); v != value {
			return false
		}
	}
	return true
}
