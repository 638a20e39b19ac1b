package shared

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// RowQuerier runs a single-row query.
type RowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// FeatureProbe reports whether optional relations owned by other modules exist.
// A missing relation is a normal answer; a failed query is an error.
type FeatureProbe struct {
	q RowQuerier
}

// NewFeatureProbe constructs a probe.
func NewFeatureProbe(q RowQuerier) FeatureProbe {
	return FeatureProbe{q: q}
}

// TableExists checks the catalog for name.
func (p FeatureProbe) TableExists(ctx context.Context, name string) (bool, error) {
	if p.q == nil {
		return false, nil
	}
	var exists bool
	if err := p.q.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, name).Scan(&exists); err != nil {
		return false, fmt.Errorf("shared: probe %s: %w", name, err)
	}
	return exists, nil
}
