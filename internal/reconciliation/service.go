package reconciliation

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/clinicops/platform/internal/shared/errors"
	"github.com/clinicops/platform/internal/shared/events"
	"github.com/clinicops/platform/internal/shared/metrics"
	"github.com/clinicops/platform/internal/shared/types"
)

// Store is the order persistence reconciliation works against.
type Store interface {
	ListPendingOrders(ctx context.Context, tenantID types.ID) ([]PendingOrder, error)
	// ConfirmPayment records the deposit against the order and marks it paid.
	// Confirming an already paid order returns its existing payment id.
	ConfirmPayment(ctx context.Context, tenantID types.ID, order PendingOrder, deposit DepositRow) (types.ID, error)
	UpdateTrackingNumber(ctx context.Context, tenantID, orderID types.ID, number string) error
}

// Service runs bank-transfer reconciliation and tracking updates for a tenant.
type Service struct {
	store       Store
	publisher   events.Publisher
	logger      zerolog.Logger
	concurrency int
}

// NewService creates a new Service. Apply writes concurrency rows at a time.
func NewService(store Store, publisher events.Publisher, concurrency int, logger zerolog.Logger) *Service {
	if publisher == nil {
		publisher = events.Nop{}
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Service{
		store:       store,
		publisher:   publisher,
		logger:      logger.With().Str("component", "reconciliation").Logger(),
		concurrency: concurrency,
	}
}

// Preview parses and matches without writing anything.
func (s *Service) Preview(ctx context.Context, tenantID types.ID, csvText string) (Result, error) {
	deposits, err := ParseBankCSV(csvText)
	if err != nil {
		return Result{}, apperrors.Validation("invalid bank csv", map[string]string{"csv": err.Error()})
	}
	orders, err := s.store.ListPendingOrders(ctx, tenantID)
	if err != nil {
		return Result{}, fmt.Errorf("list pending orders: %w", err)
	}
	return Match(deposits, orders), nil
}

// Apply matches and confirms every matched order. Each confirmation is
// independent: a failed write marks its row and the others carry on.
func (s *Service) Apply(ctx context.Context, tenantID types.ID, csvText string) (Result, error) {
	res, err := s.Preview(ctx, tenantID, csvText)
	if err != nil {
		return Result{}, err
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(s.concurrency)

	for i := range res.Matched {
		row := &res.Matched[i]
		g.Go(func() error {
			paymentID, err := s.store.ConfirmPayment(ctx, tenantID, row.Order, row.Transfer)
			ok := err == nil
			row.UpdateSuccess = &ok
			if err != nil {
				row.Error = err.Error()
				s.logger.Error().Err(err).
					Str("tenant_id", tenantID.String()).
					Str("order_id", row.Order.ID.String()).
					Int("line", row.Transfer.Line).
					Msg("confirm payment failed")
				return nil
			}
			row.NewPaymentID = &paymentID

			mu.Lock()
			res.Summary.Updated++
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	metrics.RecordReconciliation("matched", res.Summary.Matched)
	metrics.RecordReconciliation("unmatched", res.Summary.Unmatched)
	metrics.RecordReconciliation("updated", res.Summary.Updated)

	if err := s.publisher.Publish(ctx, events.NewEvent(events.ReconciliationApplied, "reconciliation", tenantID, res.Summary)); err != nil {
		s.logger.Warn().Err(err).Msg("publish reconciliation.applied failed")
	}
	return res, nil
}

// ApplyTracking stores each row's tracking number on its order.
func (s *Service) ApplyTracking(ctx context.Context, tenantID types.ID, rows []TrackingRow) TrackingResult {
	out := TrackingResult{Rows: make([]TrackingOutcome, len(rows)), Total: len(rows)}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(s.concurrency)

	for i, row := range rows {
		i, row := i, row
		g.Go(func() error {
			outcome := TrackingOutcome{TrackingRow: row}
			id, err := types.ParseID(row.OrderID.String())
			if err == nil {
				err = s.store.UpdateTrackingNumber(ctx, tenantID, id, row.TrackingNumber)
			}
			if err != nil {
				outcome.Error = err.Error()
			} else {
				outcome.Success = true
			}

			mu.Lock()
			defer mu.Unlock()
			out.Rows[i] = outcome
			if outcome.Success {
				out.Updated++
			} else {
				out.Failed++
			}
			return nil
		})
	}
	g.Wait()

	metrics.RecordReconciliation("tracking_updated", out.Updated)
	metrics.RecordReconciliation("tracking_failed", out.Failed)

	if err := s.publisher.Publish(ctx, events.NewEvent(events.TrackingApplied, "reconciliation", tenantID, map[string]int{
		"total":   out.Total,
		"updated": out.Updated,
		"failed":  out.Failed,
	})); err != nil {
		s.logger.Warn().Err(err).Msg("publish tracking event failed")
	}
	return out
}
