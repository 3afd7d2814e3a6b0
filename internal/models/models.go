package models

import (
	"encoding/json"
	"time"

	"payment-service/internal/status"
)

// Purchase is the store-side record of one checkout attempt and its payment
// trade. Trade identity and status live here; payment_detail keeps the last
// raw processor payload verbatim for audit.
type Purchase struct {
	ID                    int64           `db:"id" json:"id"`
	CustomerID            string          `db:"customer_id" json:"customer_id"`
	Amount                string          `db:"amount" json:"amount"`
	Currency              string          `db:"currency" json:"currency"`
	TradeOrderID          string          `db:"trade_order_id" json:"trade_order_id,omitempty"`
	ReferenceOrderID      string          `db:"reference_order_id" json:"reference_order_id,omitempty"`
	PaymentStatus         status.Status   `db:"payment_status" json:"payment_status"`
	PaymentMethod         string          `db:"payment_method" json:"payment_method"`
	PaymentBehavior       string          `db:"payment_behavior" json:"payment_behavior,omitempty"`
	IsPaid                bool            `db:"is_paid" json:"is_paid"`
	FailureReason         string          `db:"failure_reason" json:"failure_reason,omitempty"`
	PaymentDetail         json.RawMessage `db:"payment_detail" json:"payment_detail,omitempty"`
	NextAction            json.RawMessage `db:"next_action" json:"next_action,omitempty"`
	PaymentAttemptCounter int             `db:"payment_attempt_counter" json:"payment_attempt_counter"`
	AgreementID           string          `db:"agreement_id" json:"agreement_id,omitempty"`
	CreatedAt             time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time       `db:"updated_at" json:"updated_at"`
}

// PaymentInstrument is the local mirror of a saved payment method bound to a
// processor-side customer. A mirrored row always carries brand, last4 and
// expiry; incomplete bind payloads are backfilled before persisting.
type PaymentInstrument struct {
	InstrumentID string    `db:"instrument_id" json:"instrument_id"`
	CustomerID   string    `db:"customer_id" json:"customer_id"`
	Brand        string    `db:"brand" json:"brand"`
	Last4        string    `db:"last4" json:"last4"`
	ExpiryMonth  int       `db:"expiry_month" json:"expiry_month"`
	ExpiryYear   int       `db:"expiry_year" json:"expiry_year"`
	IsDefault    bool      `db:"is_default" json:"is_default"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// RecurringAgreement carries the instrument reference used for off-session
// charges once the first trade under the agreement succeeds.
type RecurringAgreement struct {
	ID           string    `db:"id" json:"id"`
	CustomerID   string    `db:"customer_id" json:"customer_id"`
	InstrumentID string    `db:"instrument_id" json:"instrument_id,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// ProcessedEvent records handled webhook deliveries for side-effect idempotency.
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
