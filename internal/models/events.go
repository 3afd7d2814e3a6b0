package models

import (
	"encoding/json"
	"time"
)

// Inbound webhook event types delivered by the processor.
const (
	WebhookTradeSucceeded    = "trade.succeeded"
	WebhookTradeFailed       = "trade.failed"
	WebhookTradeAuthorized   = "trade.authorized"
	WebhookTradeCaptured     = "trade.captured"
	WebhookTradeCancelled    = "trade.cancelled"
	WebhookTradeExpired      = "trade.expired"
	WebhookTradeProcessing   = "trade.processing"
	WebhookInstrumentBound   = "instrument.bound"
	WebhookInstrumentUnbound = "instrument.unbound"
	WebhookRefundSucceeded   = "refund.succeeded"
	WebhookRefundFailed      = "refund.failed"
)

// WebhookEvent is the decoded body of an inbound processor notification.
// Not persisted beyond processing.
type WebhookEvent struct {
	EventID string          `json:"eventId"`
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data"`
}

// WebhookTradeData is the shared payload for trade.* and refund.* events.
type WebhookTradeData struct {
	TradeOrderID  string `json:"tradeOrderId"`
	Status        string `json:"status"`
	Message       string `json:"msg,omitempty"`
	RefundAmount  int64  `json:"refundAmount,omitempty"`
	PartialRefund bool   `json:"partialRefund,omitempty"`
}

// WebhookInstrumentData is the payload for instrument.* events.
type WebhookInstrumentData struct {
	InstrumentID string `json:"instrumentId"`
	CustomerID   string `json:"customerId"`
	Brand        string `json:"brand,omitempty"`
	Last4        string `json:"last4,omitempty"`
	ExpiryMonth  int    `json:"expiryMonth,omitempty"`
	ExpiryYear   int    `json:"expiryYear,omitempty"`
}

// Outbound domain event types published to the commerce platform.
const (
	EventTypePaymentSucceeded = "PAYMENT_SUCCEEDED"
	EventTypePaymentFailed    = "PAYMENT_FAILED"
	EventTypePaymentCancelled = "PAYMENT_CANCELLED"
	EventTypePaymentRefunded  = "PAYMENT_REFUNDED"
	EventTypeInstrumentBound  = "INSTRUMENT_BOUND"
)

// BaseEvent contains common fields for all outbound events.
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// PaymentSucceededEvent is published when a trade reaches SUCCEEDED.
type PaymentSucceededEvent struct {
	BaseEvent
	PurchaseID   int64  `json:"purchase_id"`
	TradeOrderID string `json:"trade_order_id"`
	Amount       string `json:"amount"`
	Currency     string `json:"currency"`
}

// PaymentFailedEvent is published when a trade reaches FAILED or EXPIRED.
type PaymentFailedEvent struct {
	BaseEvent
	PurchaseID   int64  `json:"purchase_id"`
	TradeOrderID string `json:"trade_order_id,omitempty"`
	Reason       string `json:"reason"`
}

// PaymentRefundedEvent is published on full or partial refund.
type PaymentRefundedEvent struct {
	BaseEvent
	PurchaseID   int64  `json:"purchase_id"`
	TradeOrderID string `json:"trade_order_id"`
	Partial      bool   `json:"partial"`
}

// InstrumentBoundEvent is published when a new instrument is mirrored locally.
type InstrumentBoundEvent struct {
	BaseEvent
	CustomerID   string `json:"customer_id"`
	InstrumentID string `json:"instrument_id"`
}
