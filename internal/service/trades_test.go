package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"payment-service/internal/gateway"
	"payment-service/internal/status"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateTradeEncodesAmountAndStoresNextAction(t *testing.T) {
	s := newStack()

	actionPayload := json.RawMessage(`{"type":"redirect","url":"https://pay.example/3ds"}`)
	var sentAmount int64
	var sentRef string
	s.processor.createTradeFn = func(req *gateway.CreateTradeRequest) (*gateway.Document, error) {
		sentAmount = req.Amount
		sentRef = req.ReferenceOrderID
		return &gateway.Document{
			Status:       "CREATED",
			TradeOrderID: "T-100",
			NextAction:   actionPayload,
		}, nil
	}

	resp, err := s.trades.CreateTrade(context.Background(), &CreateTradeRequest{
		CustomerID:    "cust-1",
		Amount:        "1999.00",
		Currency:      "USD",
		PaymentMethod: "card",
	})
	require.NoError(t, err)

	assert.Equal(t, int64(199900), sentAmount, "fractional currency scales by 100")
	assert.Equal(t, status.CustomerAction, resp.Status)
	assert.Equal(t, "T-100", resp.TradeOrderID)
	assert.JSONEq(t, string(actionPayload), string(resp.NextAction))

	got, err := s.store.GetPurchaseByID(context.Background(), resp.PurchaseID)
	require.NoError(t, err)
	assert.Equal(t, status.CustomerAction, got.PaymentStatus)
	assert.Equal(t, sentRef, got.ReferenceOrderID)
	assert.JSONEq(t, string(actionPayload), string(got.NextAction))
}

func TestCreateTradeZeroDecimalCurrency(t *testing.T) {
	s := newStack()

	var sentAmount int64
	s.processor.createTradeFn = func(req *gateway.CreateTradeRequest) (*gateway.Document, error) {
		sentAmount = req.Amount
		return &gateway.Document{Status: "CREATED", TradeOrderID: "T-jpy"}, nil
	}

	_, err := s.trades.CreateTrade(context.Background(), &CreateTradeRequest{
		CustomerID:    "cust-1",
		Amount:        "1999",
		Currency:      "JPY",
		PaymentMethod: "card",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1999), sentAmount, "zero-decimal currency is sent unscaled")
}

func TestCreateTradeRejectsBadAmount(t *testing.T) {
	s := newStack()

	_, err := s.trades.CreateTrade(context.Background(), &CreateTradeRequest{
		CustomerID:    "cust-1",
		Amount:        "12.3.4",
		Currency:      "USD",
		PaymentMethod: "card",
	})
	require.Error(t, err)
	assert.Zero(t, s.processor.callCount(gateway.EndpointTradeCreate), "no processor call for unparsable amounts")
}

func TestCreateTradeDomainErrorMarksFailed(t *testing.T) {
	s := newStack()

	s.processor.createTradeFn = func(req *gateway.CreateTradeRequest) (*gateway.Document, error) {
		return nil, &gateway.DomainError{
			Endpoint:   gateway.EndpointTradeCreate,
			HTTPStatus: 400,
			Code:       "INVALID_CARD",
			Message:    "card number check failed",
		}
	}

	_, err := s.trades.CreateTrade(context.Background(), &CreateTradeRequest{
		CustomerID:    "cust-1",
		Amount:        "10.00",
		Currency:      "USD",
		PaymentMethod: "card",
	})
	require.Error(t, err)

	got, getErr := s.store.GetPurchaseByID(context.Background(), 1)
	require.NoError(t, getErr)
	assert.Equal(t, status.Failed, got.PaymentStatus)
	assert.Equal(t, "card number check failed", got.FailureReason)
}

func TestCreateTradeTransportErrorLeavesPurchaseOpen(t *testing.T) {
	s := newStack()

	s.processor.createTradeFn = func(req *gateway.CreateTradeRequest) (*gateway.Document, error) {
		return nil, &gateway.TransportError{Endpoint: gateway.EndpointTradeCreate, Err: errors.New("connection refused")}
	}

	_, err := s.trades.CreateTrade(context.Background(), &CreateTradeRequest{
		CustomerID:    "cust-1",
		Amount:        "10.00",
		Currency:      "USD",
		PaymentMethod: "card",
	})
	require.Error(t, err)

	got, getErr := s.store.GetPurchaseByID(context.Background(), 1)
	require.NoError(t, getErr)
	assert.Equal(t, status.Created, got.PaymentStatus, "ambiguous failures stay open for the poll to resolve")
}

func TestCreateTradeReferencesNeverRepeat(t *testing.T) {
	s := newStack()

	var refs []string
	s.processor.createTradeFn = func(req *gateway.CreateTradeRequest) (*gateway.Document, error) {
		refs = append(refs, req.ReferenceOrderID)
		return nil, &gateway.DomainError{Endpoint: gateway.EndpointTradeCreate, HTTPStatus: 400, Message: "declined"}
	}

	req := &CreateTradeRequest{CustomerID: "cust-1", Amount: "10.00", Currency: "USD", PaymentMethod: "card"}
	_, _ = s.trades.CreateTrade(context.Background(), req)
	_, _ = s.trades.CreateTrade(context.Background(), req)
	_, _ = s.trades.CreateTrade(context.Background(), req)

	require.Len(t, refs, 3)
	seen := make(map[string]bool)
	for _, r := range refs {
		assert.False(t, seen[r], "reference %s reused", r)
		seen[r] = true
	}
}

func TestConfirmCustomerActionStillPending(t *testing.T) {
	s := newStack()
	p := s.newPurchase(t, status.Created, "T-200")
	action := json.RawMessage(`{"type":"await_otp"}`)

	s.processor.getTradeFn = func(tradeOrderID string) (*gateway.Document, error) {
		return &gateway.Document{Status: "CREATED", TradeOrderID: tradeOrderID, NextAction: action}, nil
	}

	resp, err := s.trades.ConfirmCustomerAction(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, status.CustomerAction, resp.Status)
	assert.JSONEq(t, string(action), string(resp.NextAction), "pending step is replayed, not re-created")
}

func TestConfirmCustomerActionCompleted(t *testing.T) {
	s := newStack()
	p := s.newPurchase(t, status.CustomerAction, "T-201")

	s.processor.getTradeFn = func(tradeOrderID string) (*gateway.Document, error) {
		return &gateway.Document{Status: "SUCCEEDED", TradeOrderID: tradeOrderID}, nil
	}

	resp, err := s.trades.ConfirmCustomerAction(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, status.Succeeded, resp.Status)
	assert.Empty(t, resp.NextAction)
}

func TestCancelPurchaseBestEffort(t *testing.T) {
	s := newStack()
	p := s.newPurchase(t, status.Processing, "T-300")

	s.processor.cancelFn = func(tradeOrderID string) (*gateway.Document, error) {
		return nil, &gateway.TransportError{Endpoint: gateway.EndpointTradeCancel, Err: errors.New("timeout")}
	}

	updated, err := s.trades.CancelPurchase(context.Background(), p.ID)
	require.NoError(t, err, "local cancel proceeds even when the processor is unreachable")
	assert.Equal(t, status.Cancelled, updated.PaymentStatus)
}

func TestCancelPurchaseRejectsSettled(t *testing.T) {
	s := newStack()
	p := s.newPurchase(t, status.Succeeded, "T-301")

	_, err := s.trades.CancelPurchase(context.Background(), p.ID)
	require.Error(t, err)
	assert.Zero(t, s.processor.callCount(gateway.EndpointTradeCancel))
}

func TestCaptureRequiresAuthorized(t *testing.T) {
	s := newStack()
	p := s.newPurchase(t, status.Processing, "T-400")

	_, err := s.trades.Capture(context.Background(), p.ID)
	require.Error(t, err)
	assert.Zero(t, s.processor.callCount(gateway.EndpointTradeCapture))
}

func TestCaptureAuthorizedTrade(t *testing.T) {
	s := newStack()
	p := s.newPurchase(t, status.Authorized, "T-401")

	updated, err := s.trades.Capture(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, status.Succeeded, updated.PaymentStatus)
	assert.True(t, updated.IsPaid)
}

func TestCreateRefundRequiresPaid(t *testing.T) {
	s := newStack()
	p := s.newPurchase(t, status.Processing, "T-500")

	_, err := s.trades.CreateRefund(context.Background(), p.ID, "5.00", "requested by customer")
	require.Error(t, err)
	assert.Zero(t, s.processor.callCount(gateway.EndpointRefundCreate))
}

func TestCreateRefundOnPaidPurchase(t *testing.T) {
	s := newStack()
	p := s.newPurchase(t, status.Succeeded, "T-501")

	var sentAmount int64
	s.processor.refundFn = func(req *gateway.CreateRefundRequest) (*gateway.Document, error) {
		sentAmount = req.Amount
		return &gateway.Document{Status: "REFUNDED", TradeOrderID: req.TradeOrderID}, nil
	}

	updated, err := s.trades.CreateRefund(context.Background(), p.ID, "49.99", "damaged goods")
	require.NoError(t, err)
	assert.Equal(t, int64(4999), sentAmount)
	assert.Equal(t, status.Refunded, updated.PaymentStatus)
}
