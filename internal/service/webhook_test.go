package service

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"payment-service/internal/models"
	"payment-service/internal/signature"
	"payment-service/internal/status"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const webhookSecret = "whsec_unit"

func newWebhookStack() (*stack, *WebhookProcessor) {
	s := newStack()
	verifier := signature.NewVerifier(webhookSecret, 5*time.Minute, zap.NewNop())
	return s, NewWebhookProcessor(verifier, s.reconciler, nil)
}

func signedDelivery(t *testing.T, event interface{}) (body []byte, sig, ts string) {
	t.Helper()
	body = mustJSON(event)
	ts = fmt.Sprintf("%d", time.Now().UnixMilli())
	return body, signature.Compute(webhookSecret, ts, body), ts
}

func TestWebhookTradeSucceeded(t *testing.T) {
	s, wp := newWebhookStack()
	p := s.newPurchase(t, status.CustomerAction, "T1")

	body, sig, ts := signedDelivery(t, models.WebhookEvent{
		EventID: "evt-1",
		Type:    models.WebhookTradeSucceeded,
		Data:    mustJSON(models.WebhookTradeData{TradeOrderID: "T1", Status: "SUCCESS"}),
	})

	require.NoError(t, wp.Process(context.Background(), body, sig, ts))

	got, err := s.store.GetPurchaseByID(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, status.Succeeded, got.PaymentStatus)
	assert.True(t, got.IsPaid)
	assert.Equal(t, "T1", got.TradeOrderID)
	require.Len(t, s.publisher.succeeded, 1)
	assert.Equal(t, "T1", s.publisher.succeeded[0].TradeOrderID)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	s, wp := newWebhookStack()
	p := s.newPurchase(t, status.Processing, "T2")

	body, _, ts := signedDelivery(t, models.WebhookEvent{
		Type: models.WebhookTradeSucceeded,
		Data: mustJSON(models.WebhookTradeData{TradeOrderID: "T2"}),
	})

	err := wp.Process(context.Background(), body, "0000deadbeef", ts)
	require.Error(t, err)

	got, _ := s.store.GetPurchaseByID(context.Background(), p.ID)
	assert.Equal(t, status.Processing, got.PaymentStatus, "no mutation on rejected delivery")
}

func TestWebhookDuplicateDeliveryIsNoOp(t *testing.T) {
	s, wp := newWebhookStack()
	p := s.newPurchase(t, status.Processing, "T3")

	event := models.WebhookEvent{
		EventID: "evt-dup",
		Type:    models.WebhookTradeSucceeded,
		Data:    mustJSON(models.WebhookTradeData{TradeOrderID: "T3"}),
	}

	for i := 0; i < 3; i++ {
		body, sig, ts := signedDelivery(t, event)
		require.NoError(t, wp.Process(context.Background(), body, sig, ts))
	}

	got, _ := s.store.GetPurchaseByID(context.Background(), p.ID)
	assert.Equal(t, status.Succeeded, got.PaymentStatus)
	assert.Len(t, s.publisher.succeeded, 1, "side effects exactly once across retries")
}

func TestWebhookUnknownTypeAcknowledged(t *testing.T) {
	_, wp := newWebhookStack()

	body, sig, ts := signedDelivery(t, models.WebhookEvent{
		EventID: "evt-future",
		Type:    "trade.some_future_thing",
		Data:    json.RawMessage(`{}`),
	})

	assert.NoError(t, wp.Process(context.Background(), body, sig, ts), "unknown types are logged and ignored")
}

func TestWebhookFailedCarriesReason(t *testing.T) {
	s, wp := newWebhookStack()
	p := s.newPurchase(t, status.CustomerAction, "T4")

	body, sig, ts := signedDelivery(t, models.WebhookEvent{
		EventID: "evt-4",
		Type:    models.WebhookTradeFailed,
		Data:    mustJSON(models.WebhookTradeData{TradeOrderID: "T4", Message: "insufficient funds"}),
	})
	require.NoError(t, wp.Process(context.Background(), body, sig, ts))

	got, _ := s.store.GetPurchaseByID(context.Background(), p.ID)
	assert.Equal(t, status.Failed, got.PaymentStatus)
	assert.Equal(t, "insufficient funds", got.FailureReason)
	assert.Empty(t, got.NextAction)
}

func TestWebhookPartialRefund(t *testing.T) {
	s, wp := newWebhookStack()
	p := s.newPurchase(t, status.Succeeded, "T5")

	body, sig, ts := signedDelivery(t, models.WebhookEvent{
		EventID: "evt-5",
		Type:    models.WebhookRefundSucceeded,
		Data:    mustJSON(models.WebhookTradeData{TradeOrderID: "T5", PartialRefund: true}),
	})
	require.NoError(t, wp.Process(context.Background(), body, sig, ts))

	got, _ := s.store.GetPurchaseByID(context.Background(), p.ID)
	assert.Equal(t, status.PartiallyRefunded, got.PaymentStatus)
	require.Len(t, s.publisher.refunded, 1)
	assert.True(t, s.publisher.refunded[0].Partial)

	// Full refund still outranks the partial one.
	body, sig, ts = signedDelivery(t, models.WebhookEvent{
		EventID: "evt-6",
		Type:    models.WebhookRefundSucceeded,
		Data:    mustJSON(models.WebhookTradeData{TradeOrderID: "T5"}),
	})
	require.NoError(t, wp.Process(context.Background(), body, sig, ts))

	got, _ = s.store.GetPurchaseByID(context.Background(), p.ID)
	assert.Equal(t, status.Refunded, got.PaymentStatus)
}

func TestWebhookRefundFailedKeepsStatus(t *testing.T) {
	s, wp := newWebhookStack()
	p := s.newPurchase(t, status.Succeeded, "T6")

	body, sig, ts := signedDelivery(t, models.WebhookEvent{
		EventID: "evt-7",
		Type:    models.WebhookRefundFailed,
		Data:    mustJSON(models.WebhookTradeData{TradeOrderID: "T6", Message: "refund window closed"}),
	})
	require.NoError(t, wp.Process(context.Background(), body, sig, ts))

	got, _ := s.store.GetPurchaseByID(context.Background(), p.ID)
	assert.Equal(t, status.Succeeded, got.PaymentStatus)
	assert.NotEmpty(t, got.PaymentDetail, "processor detail recorded for audit")
}

func TestWebhookInstrumentBoundAndUnbound(t *testing.T) {
	s, wp := newWebhookStack()

	body, sig, ts := signedDelivery(t, models.WebhookEvent{
		EventID: "evt-8",
		Type:    models.WebhookInstrumentBound,
		Data: mustJSON(models.WebhookInstrumentData{
			InstrumentID: "pi-wh",
			CustomerID:   "cust-1",
			Brand:        "visa",
			Last4:        "4242",
			ExpiryMonth:  4,
			ExpiryYear:   2029,
		}),
	})
	require.NoError(t, wp.Process(context.Background(), body, sig, ts))

	inst, err := s.store.GetInstrument(context.Background(), "cust-1", "pi-wh")
	require.NoError(t, err)
	require.NotNil(t, inst)

	body, sig, ts = signedDelivery(t, models.WebhookEvent{
		EventID: "evt-9",
		Type:    models.WebhookInstrumentUnbound,
		Data:    mustJSON(models.WebhookInstrumentData{InstrumentID: "pi-wh", CustomerID: "cust-1"}),
	})
	require.NoError(t, wp.Process(context.Background(), body, sig, ts))

	inst, err = s.store.GetInstrument(context.Background(), "cust-1", "pi-wh")
	require.NoError(t, err)
	assert.Nil(t, inst)
}

func TestWebhookUnknownTradeRejected(t *testing.T) {
	_, wp := newWebhookStack()

	body, sig, ts := signedDelivery(t, models.WebhookEvent{
		EventID: "evt-10",
		Type:    models.WebhookTradeSucceeded,
		Data:    mustJSON(models.WebhookTradeData{TradeOrderID: "T-nope"}),
	})

	assert.Error(t, wp.Process(context.Background(), body, sig, ts),
		"a trade we never created should bounce so the processor retries later")
}
