// Package tenant holds the query helpers every tenant-scoped repository is
// built on. The tenant id is always the first query argument ($1).
package tenant

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	apperrors "github.com/clinicops/platform/internal/shared/errors"
	"github.com/clinicops/platform/internal/shared/types"
)

// Querier is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Select runs query with tenantID bound to $1 and maps each row onto T by
// column name (db struct tags).
func Select[T any](ctx context.Context, q Querier, tenantID types.ID, query string, args ...any) ([]T, error) {
	if tenantID.IsZero() {
		return nil, apperrors.BadRequest("tenant id is required")
	}
	rows, err := q.Query(ctx, query, append([]any{tenantID}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	items, err := pgx.CollectRows(rows, pgx.RowToStructByName[T])
	if err != nil {
		return nil, fmt.Errorf("collect rows: %w", err)
	}
	return items, nil
}

// Get is Select for exactly one row. No row maps to a NotFound AppError
// naming resource and id.
func Get[T any](ctx context.Context, q Querier, tenantID types.ID, resource, id string, query string, args ...any) (*T, error) {
	if tenantID.IsZero() {
		return nil, apperrors.BadRequest("tenant id is required")
	}
	rows, err := q.Query(ctx, query, append([]any{tenantID}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	item, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[T])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound(resource, id)
		}
		return nil, fmt.Errorf("collect row: %w", err)
	}
	return &item, nil
}

// Exec runs a tenant-scoped statement and returns the affected row count.
func Exec(ctx context.Context, q Querier, tenantID types.ID, stmt string, args ...any) (int64, error) {
	if tenantID.IsZero() {
		return 0, apperrors.BadRequest("tenant id is required")
	}
	tag, err := q.Exec(ctx, stmt, append([]any{tenantID}, args...)...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ListActive returns the ids of all active tenants. Batch jobs iterate these.
func ListActive(ctx context.Context, q Querier) ([]types.ID, error) {
	rows, err := q.Query(ctx, `SELECT id::text FROM tenants WHERE is_active ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	ids, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.ID, error) {
		var id string
		err := row.Scan(&id)
		return types.ID(id), err
	})
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	return ids, nil
}
