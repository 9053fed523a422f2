// Copyright 2025 James Ross

// Package fetcher executes a queryplan.Plan against the timesheet data
// tables, paginated by offset/limit, with a cached total-count per plan.
package fetcher

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/caseworks/reportpipeline/internal/queryplan"
)

// ErrDataAccess wraps any underlying store error (spec §4.4 DataAccessError).
var ErrDataAccess = errors.New("fetcher: data access error")

// Row is a single timesheet record, column name to value.
type Row map[string]any

// Fetcher executes plans and returns paginated rows plus a total count.
type Fetcher interface {
	Fetch(ctx context.Context, plan queryplan.Plan, offset, limit int) ([]Row, int64, error)
}

// PostgresFetcher is the production Fetcher backed by database/sql.
type PostgresFetcher struct {
	db *sql.DB

	mu         sync.Mutex
	countCache map[string]int64
}

// NewPostgres constructs a Fetcher over the given timesheet data store.
func NewPostgres(db *sql.DB) *PostgresFetcher {
	return &PostgresFetcher{db: db, countCache: make(map[string]int64)}
}

// Fetch implements Fetcher. The total count is computed once per distinct
// plan (keyed by its filter shape) and reused for subsequent calls within
// the same job, per spec §4.4.
func (f *PostgresFetcher) Fetch(ctx context.Context, plan queryplan.Plan, offset, limit int) ([]Row, int64, error) {
	where, args := buildPredicate(plan)

	total, err := f.count(ctx, where, args, plan)
	if err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT timesheet_id, user_id, county_id, provider_name, provider_email,
		report_date, hours, amount, status FROM timesheets %s ORDER BY report_date ASC
		OFFSET $%d LIMIT $%d`, where, len(args)+1, len(args)+2)
	rows, err := f.db.QueryContext(ctx, query, append(append([]any{}, args...), offset, limit)...)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrDataAccess, err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var (
			timesheetID, userID, countyID, providerName, providerEmail, status string
			reportDate                                                         sql.NullTime
			hours, amount                                                      sql.NullFloat64
		)
		if err := rows.Scan(&timesheetID, &userID, &countyID, &providerName, &providerEmail,
			&reportDate, &hours, &amount, &status); err != nil {
			return nil, 0, fmt.Errorf("%w: %v", ErrDataAccess, err)
		}
		out = append(out, Row{
			"timesheetId":   timesheetID,
			"userId":        userID,
			"countyId":      countyID,
			"providerName":  providerName,
			"providerEmail": providerEmail,
			"reportDate":    reportDate.Time,
			"hours":         hours.Float64,
			"amount":        amount.Float64,
			"status":        status,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrDataAccess, err)
	}
	return out, total, nil
}

func (f *PostgresFetcher) count(ctx context.Context, where string, args []any, plan queryplan.Plan) (int64, error) {
	key := countCacheKey(plan)
	f.mu.Lock()
	if cached, ok := f.countCache[key]; ok {
		f.mu.Unlock()
		return cached, nil
	}
	f.mu.Unlock()

	query := fmt.Sprintf("SELECT COUNT(*) FROM timesheets %s", where)
	var total int64
	if err := f.db.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDataAccess, err)
	}

	f.mu.Lock()
	f.countCache[key] = total
	f.mu.Unlock()
	return total, nil
}

func countCacheKey(plan queryplan.Plan) string {
	return fmt.Sprintf("%s|%v|%s|%v|%s|%v|%v|%v", plan.Role, plan.TenantFilter, plan.TenantID,
		plan.OwnerFilter, plan.OwnerUserID, plan.DateRange.Start, plan.DateRange.End, plan.ExtraFilters)
}

// extraFilterColumns whitelists the ExtraFilters keys a caller may use to
// narrow a plan, mapped to the literal timesheets column they predicate on.
// Values are always bound as query parameters; only this whitelist ever
// reaches the query text, so an unrecognized key is dropped rather than
// interpolated (spec §4.3's "bounded parameterized query").
var extraFilterColumns = map[string]string{
	"status":        "status",
	"providerName":  "provider_name",
	"providerEmail": "provider_email",
}

func buildPredicate(plan queryplan.Plan) (string, []any) {
	var clauses []string
	var args []any

	if plan.TenantFilter {
		args = append(args, plan.TenantID)
		clauses = append(clauses, fmt.Sprintf("county_id = $%d", len(args)))
	}
	if plan.OwnerFilter {
		args = append(args, plan.OwnerUserID)
		clauses = append(clauses, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if plan.DateFilter {
		if !plan.DateRange.Start.IsZero() {
			args = append(args, plan.DateRange.Start)
			clauses = append(clauses, fmt.Sprintf("report_date >= $%d", len(args)))
		}
		if !plan.DateRange.End.IsZero() {
			args = append(args, plan.DateRange.End)
			clauses = append(clauses, fmt.Sprintf("report_date <= $%d", len(args)))
		}
	}
	extraKeys := make([]string, 0, len(plan.ExtraFilters))
	for key := range plan.ExtraFilters {
		if _, ok := extraFilterColumns[key]; ok {
			extraKeys = append(extraKeys, key)
		}
	}
	sort.Strings(extraKeys)
	for _, key := range extraKeys {
		args = append(args, plan.ExtraFilters[key])
		clauses = append(clauses, fmt.Sprintf("%s = $%d", extraFilterColumns[key], len(args)))
	}

	if len(clauses) == 0 {
		return "", args
	}
	where := "WHERE " + clauses[0]
	for _, c := range clauses[1:] {
		where += " AND " + c
	}
	return where, args
}
