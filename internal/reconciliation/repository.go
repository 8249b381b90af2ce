package reconciliation

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "github.com/clinicops/platform/internal/shared/errors"
	"github.com/clinicops/platform/internal/shared/tenant"
	"github.com/clinicops/platform/internal/shared/types"
)

// Repository handles order and payment persistence
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new reconciliation repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListPendingOrders returns unpaid bank-transfer orders oldest first.
func (r *Repository) ListPendingOrders(ctx context.Context, tenantID types.ID) ([]PendingOrder, error) {
	return tenant.Select[PendingOrder](ctx, r.pool, tenantID, `
		SELECT id, patient_id, product_code, amount, account_name, shipping_name, created_at
		FROM orders
		WHERE tenant_id = $1 AND payment_method = 'bank_transfer' AND payment_status = 'pending'
		ORDER BY created_at, id`)
}

// ConfirmPayment locks the order, inserts its payment and marks it paid.
// An order that is already paid keeps its payment; the id is returned.
func (r *Repository) ConfirmPayment(ctx context.Context, tenantID types.ID, order PendingOrder, deposit DepositRow) (types.ID, error) {
	var paymentID types.ID
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var status string
		err := tx.QueryRow(ctx, `SELECT payment_status FROM orders WHERE tenant_id = $1 AND id = $2 FOR UPDATE`,
			tenantID, order.ID).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NotFound("order", order.ID.String())
		}
		if err != nil {
			return fmt.Errorf("lock order: %w", err)
		}

		if status == "confirmed" {
			var existing string
			err := tx.QueryRow(ctx, `SELECT id::text FROM payments WHERE tenant_id = $1 AND order_id = $2`,
				tenantID, order.ID).Scan(&existing)
			if err != nil && !errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("load payment: %w", err)
			}
			paymentID = types.ID(existing)
			return nil
		}

		paymentID, err = insertPayment(ctx, tx, tenantID, order, deposit)
		if err != nil {
			return err
		}

		_, err = tenant.Exec(ctx, tx, tenantID, `
			UPDATE orders
			SET payment_status = 'confirmed',
			    shipping_status = CASE WHEN shipping_status = 'pending' THEN 'ready' ELSE shipping_status END,
			    updated_at = NOW()
			WHERE tenant_id = $1 AND id = $2`, order.ID)
		if err != nil {
			return fmt.Errorf("confirm order: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return paymentID, nil
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// insertPayment records the deposit against order and returns the id of the
// order's payment row. When the order already has one, that row's id is
// returned and the deposit is not written.
func insertPayment(ctx context.Context, q rowQuerier, tenantID types.ID, order PendingOrder, deposit DepositRow) (types.ID, error) {
	var id string
	err := q.QueryRow(ctx, `
		INSERT INTO payments (tenant_id, id, order_id, amount, method, deposit_date, payer_name)
		VALUES ($1, $2, $3, $4, 'bank_transfer', $5, $6)
		ON CONFLICT (order_id) DO UPDATE SET order_id = EXCLUDED.order_id
		RETURNING id::text`,
		tenantID, types.NewID(), order.ID, deposit.Amount, deposit.Date, deposit.Description).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("insert payment: %w", err)
	}
	return types.ID(id), nil
}

// UpdateTrackingNumber sets the order's tracking number.
func (r *Repository) UpdateTrackingNumber(ctx context.Context, tenantID, orderID types.ID, number string) error {
	n, err := tenant.Exec(ctx, r.pool, tenantID, `
		UPDATE orders
		SET tracking_number = $3,
		    shipping_status = 'shipped',
		    updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2`, orderID, number)
	if err != nil {
		return fmt.Errorf("update tracking number: %w", err)
	}
	if n == 0 {
		return apperrors.NotFound("order", orderID.String())
	}
	return nil
}
