package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"payment-service/internal/models"
	"payment-service/internal/status"
)

// CreatePurchase creates a new purchase record in CREATED state.
func (s *Store) CreatePurchase(ctx context.Context, p *models.Purchase) error {
	query := `
		INSERT INTO purchases (customer_id, amount, currency, payment_status, payment_method, payment_behavior, agreement_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`

	return s.db.GetContext(ctx, p, query,
		p.CustomerID, p.Amount, p.Currency, p.PaymentStatus, p.PaymentMethod, p.PaymentBehavior, p.AgreementID)
}

// GetPurchaseByID retrieves a purchase by ID
func (s *Store) GetPurchaseByID(ctx context.Context, id int64) (*models.Purchase, error) {
	var p models.Purchase
	err := s.db.GetContext(ctx, &p, "SELECT * FROM purchases WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("purchase not found: %d", id)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPurchaseByTradeOrderID locates the purchase a webhook refers to.
func (s *Store) GetPurchaseByTradeOrderID(ctx context.Context, tradeOrderID string) (*models.Purchase, error) {
	var p models.Purchase
	err := s.db.GetContext(ctx, &p, "SELECT * FROM purchases WHERE trade_order_id = $1", tradeOrderID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("purchase not found for trade: %s", tradeOrderID)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// IncrementAttempt bumps the per-purchase attempt counter and returns the new
// value. The processor permanently rejects a reused reference ID, so every
// retry must draw a fresh attempt number.
func (s *Store) IncrementAttempt(ctx context.Context, purchaseID int64) (int, error) {
	var attempt int
	err := s.db.GetContext(ctx, &attempt, `
		UPDATE purchases
		SET payment_attempt_counter = payment_attempt_counter + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING payment_attempt_counter`, purchaseID)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("purchase not found: %d", purchaseID)
	}
	return attempt, err
}

// SetTradeRef records the reference and processor trade IDs after creation.
func (s *Store) SetTradeRef(ctx context.Context, purchaseID int64, referenceOrderID, tradeOrderID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE purchases
		SET reference_order_id = $1, trade_order_id = $2, updated_at = NOW()
		WHERE id = $3`, referenceOrderID, tradeOrderID, purchaseID)
	return err
}

// ClearNextAction drops a consumed customer-action payload.
func (s *Store) ClearNextAction(ctx context.Context, purchaseID int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE purchases SET next_action = NULL, updated_at = NOW() WHERE id = $1", purchaseID)
	return err
}

// StatusUpdate carries one reconciliation outcome into ApplyStatus.
type StatusUpdate struct {
	Status        status.Status
	RawDetail     json.RawMessage
	FailureReason string
	TradeOrderID  string
	NextAction    json.RawMessage
}

// ApplyStatus performs the rank-gated transition under a row lock. The row is
// read FOR UPDATE, the incoming status is compared against the current one,
// and only a strictly higher rank mutates payment_status. A lower or equal
// rank still records the raw processor payload for audit. Returns whether the
// status changed plus the refreshed row, so callers can run their
// exactly-once side effects off the transition itself.
func (s *Store) ApplyStatus(ctx context.Context, purchaseID int64, upd StatusUpdate) (bool, *models.Purchase, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, nil, err
	}
	defer tx.Rollback()

	var p models.Purchase
	err = tx.GetContext(ctx, &p, "SELECT * FROM purchases WHERE id = $1 FOR UPDATE", purchaseID)
	if err == sql.ErrNoRows {
		return false, nil, fmt.Errorf("purchase not found: %d", purchaseID)
	}
	if err != nil {
		return false, nil, fmt.Errorf("failed to lock purchase: %w", err)
	}

	current := status.Normalize(string(p.PaymentStatus))

	if !status.Outranks(upd.Status, current) {
		if len(upd.RawDetail) > 0 {
			_, err = tx.ExecContext(ctx,
				"UPDATE purchases SET payment_detail = $1, updated_at = NOW() WHERE id = $2",
				upd.RawDetail, purchaseID)
			if err != nil {
				return false, nil, fmt.Errorf("failed to record trade detail: %w", err)
			}
			p.PaymentDetail = upd.RawDetail
		}
		return false, &p, tx.Commit()
	}

	p.PaymentStatus = upd.Status
	if len(upd.RawDetail) > 0 {
		p.PaymentDetail = upd.RawDetail
	}
	if upd.TradeOrderID != "" {
		p.TradeOrderID = upd.TradeOrderID
	}

	switch upd.Status {
	case status.Succeeded, status.PartiallyRefunded, status.Refunded:
		if !p.IsPaid {
			p.IsPaid = true
		}
		p.NextAction = nil
	case status.Failed, status.Expired:
		p.FailureReason = upd.FailureReason
		p.NextAction = nil
	case status.Cancelled:
		p.NextAction = nil
	case status.CustomerAction:
		if len(upd.NextAction) > 0 {
			p.NextAction = upd.NextAction
		}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE purchases
		SET payment_status = $1, payment_detail = $2, trade_order_id = $3,
		    is_paid = $4, failure_reason = $5, next_action = $6, updated_at = NOW()
		WHERE id = $7`,
		p.PaymentStatus, p.PaymentDetail, p.TradeOrderID,
		p.IsPaid, p.FailureReason, p.NextAction, purchaseID)
	if err != nil {
		return false, nil, fmt.Errorf("failed to apply status: %w", err)
	}

	return true, &p, tx.Commit()
}

// ListUnsettled returns purchases still awaiting a terminal outcome, bounded
// to a recent creation window so the poll never scans an unbounded backlog.
func (s *Store) ListUnsettled(ctx context.Context, lookback time.Duration) ([]models.Purchase, error) {
	var purchases []models.Purchase
	err := s.db.SelectContext(ctx, &purchases, `
		SELECT * FROM purchases
		WHERE payment_status IN ($1, $2, $3, $4)
		  AND trade_order_id <> ''
		  AND created_at > NOW() - $5::interval
		ORDER BY created_at`,
		status.Created, status.CustomerAction, status.Processing, status.Authorized,
		fmt.Sprintf("%d seconds", int(lookback.Seconds())))
	return purchases, err
}

// SetAgreementInstrument persists the instrument reference onto a recurring
// agreement for future off-session charges.
func (s *Store) SetAgreementInstrument(ctx context.Context, agreementID, instrumentID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE recurring_agreements
		SET instrument_id = $1, updated_at = NOW()
		WHERE id = $2`, instrumentID, agreementID)
	return err
}

// IsEventProcessed checks if a webhook event has already been handled.
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks a webhook event as handled.
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}
