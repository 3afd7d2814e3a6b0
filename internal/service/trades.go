package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"payment-service/internal/amount"
	"payment-service/internal/gateway"
	"payment-service/internal/models"
	"payment-service/internal/refid"
	"payment-service/internal/status"
	"payment-service/internal/store"
	"payment-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// TradeService drives the payment-trade lifecycle: creation at checkout,
// customer-action confirmation, capture, cancellation and refunds. All
// status movement goes through the reconciler's shared transition funnel.
type TradeService struct {
	store      PurchaseStore
	processor  ProcessorClient
	refs       *refid.Generator
	reconciler *Reconciler
	logger     *zap.Logger
}

func NewTradeService(st PurchaseStore, processor ProcessorClient, reconciler *Reconciler) *TradeService {
	return &TradeService{
		store:      st,
		processor:  processor,
		refs:       refid.NewGenerator(st),
		reconciler: reconciler,
		logger:     util.GetLogger(),
	}
}

// CreateTradeRequest is one checkout submission.
type CreateTradeRequest struct {
	CustomerID      string `json:"customer_id" binding:"required"`
	Amount          string `json:"amount" binding:"required"`
	Currency        string `json:"currency" binding:"required,len=3"`
	PaymentMethod   string `json:"payment_method" binding:"required"`
	PaymentBehavior string `json:"payment_behavior,omitempty"`
	PaySessionToken string `json:"pay_session_token,omitempty"`
	AgreementID     string `json:"agreement_id,omitempty"`
}

// CreateTradeResponse reports the immediate outcome of a checkout submission.
type CreateTradeResponse struct {
	PurchaseID   int64           `json:"purchase_id"`
	TradeOrderID string          `json:"trade_order_id,omitempty"`
	Status       status.Status   `json:"status"`
	NextAction   json.RawMessage `json:"next_action,omitempty"`
}

// CreateTrade creates the purchase record and the processor-side trade. A
// fresh reference ID is drawn for the attempt; the processor rejects reuse
// even after failure, so a retry always goes through here again.
func (ts *TradeService) CreateTrade(ctx context.Context, req *CreateTradeRequest) (*CreateTradeResponse, error) {
	ctx, span := util.StartSpan(ctx, "TradeService.CreateTrade")
	defer span.End()

	amt, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", req.Amount, err)
	}

	purchase := &models.Purchase{
		CustomerID:      req.CustomerID,
		Amount:          req.Amount,
		Currency:        req.Currency,
		PaymentStatus:   status.Created,
		PaymentMethod:   req.PaymentMethod,
		PaymentBehavior: req.PaymentBehavior,
		AgreementID:     req.AgreementID,
	}
	if err := ts.store.CreatePurchase(ctx, purchase); err != nil {
		return nil, fmt.Errorf("failed to create purchase: %w", err)
	}

	ref, err := ts.refs.Next(ctx, purchase.ID)
	if err != nil {
		return nil, err
	}

	doc, err := ts.processor.CreateTrade(ctx, &gateway.CreateTradeRequest{
		ReferenceOrderID: ref,
		Amount:           amount.Encode(amt, req.Currency),
		Currency:         req.Currency,
		PaymentMethod:    req.PaymentMethod,
		PaymentBehavior:  req.PaymentBehavior,
		PaySessionToken:  req.PaySessionToken,
		CustomerID:       req.CustomerID,
	})
	if err != nil {
		return nil, ts.failCreate(ctx, purchase.ID, ref, err)
	}

	util.TradesCreatedTotal.Inc()

	if err := ts.store.SetTradeRef(ctx, purchase.ID, ref, doc.TradeOrderID); err != nil {
		return nil, fmt.Errorf("failed to record trade reference: %w", err)
	}

	updated, err := ts.reconciler.ApplyDocument(ctx, purchase.ID, doc, "create")
	if err != nil {
		return nil, err
	}

	ts.logger.Info("Trade created",
		zap.Int64("purchase_id", purchase.ID),
		zap.String("reference_order_id", ref),
		zap.String("trade_order_id", updated.TradeOrderID),
		zap.String("status", string(updated.PaymentStatus)))

	return &CreateTradeResponse{
		PurchaseID:   updated.ID,
		TradeOrderID: updated.TradeOrderID,
		Status:       updated.PaymentStatus,
		NextAction:   updated.NextAction,
	}, nil
}

// failCreate maps a create-call failure onto the purchase record. A domain
// error without trade info is a genuine failure and marks the purchase failed
// with the processor's message; a transport error leaves the status open so a
// fresh attempt (with a fresh reference ID) can follow.
func (ts *TradeService) failCreate(ctx context.Context, purchaseID int64, ref string, err error) error {
	var domainErr *gateway.DomainError
	if errors.As(err, &domainErr) {
		if _, _, applyErr := ts.store.ApplyStatus(ctx, purchaseID, store.StatusUpdate{
			Status:        status.Failed,
			FailureReason: domainErr.Message,
		}); applyErr != nil {
			ts.logger.Error("Failed to mark purchase failed", zap.Int64("purchase_id", purchaseID), zap.Error(applyErr))
		}
		util.TradesFailedTotal.WithLabelValues("create").Inc()
		return fmt.Errorf("trade creation rejected: %w", err)
	}

	ts.logger.Warn("Trade creation unreachable",
		zap.Int64("purchase_id", purchaseID),
		zap.String("reference_order_id", ref),
		zap.Error(err))
	return fmt.Errorf("trade creation failed: %w", err)
}

// ConfirmResponse reports the state after a confirmation attempt, with the
// stored customer-action payload when the step still has to be replayed.
type ConfirmResponse struct {
	Status     status.Status   `json:"status"`
	NextAction json.RawMessage `json:"next_action,omitempty"`
}

// ConfirmCustomerAction re-checks a trade pending a customer step. If the
// processor still reports the step outstanding, the stored payload is
// returned for replay without re-creating the trade.
func (ts *TradeService) ConfirmCustomerAction(ctx context.Context, purchaseID int64) (*ConfirmResponse, error) {
	ctx, span := util.StartSpan(ctx, "TradeService.ConfirmCustomerAction")
	defer span.End()

	purchase, err := ts.reconciler.Reconcile(ctx, purchaseID, "confirm")
	if err != nil {
		return nil, err
	}

	resp := &ConfirmResponse{Status: purchase.PaymentStatus}
	if purchase.PaymentStatus == status.CustomerAction {
		resp.NextAction = purchase.NextAction
	}
	return resp, nil
}

// CancelPurchase cancels a non-terminal purchase. The processor cancel is
// best effort: an unreachable processor is logged and local cancellation
// proceeds anyway.
func (ts *TradeService) CancelPurchase(ctx context.Context, purchaseID int64) (*models.Purchase, error) {
	ctx, span := util.StartSpan(ctx, "TradeService.CancelPurchase")
	defer span.End()

	purchase, err := ts.store.GetPurchaseByID(ctx, purchaseID)
	if err != nil {
		return nil, err
	}

	if status.IsTerminal(status.Normalize(string(purchase.PaymentStatus))) {
		return nil, fmt.Errorf("purchase %d already settled as %s", purchaseID, purchase.PaymentStatus)
	}

	var raw json.RawMessage
	if purchase.TradeOrderID != "" {
		doc, err := ts.processor.CancelTrade(ctx, purchase.TradeOrderID)
		if err != nil {
			ts.logger.Warn("Remote cancel failed, cancelling locally",
				zap.Int64("purchase_id", purchaseID),
				zap.String("trade_order_id", purchase.TradeOrderID),
				zap.Error(err))
		} else {
			raw = doc.Raw
		}
	}

	updated, err := ts.reconciler.apply(ctx, purchaseID, store.StatusUpdate{
		Status:    status.Cancelled,
		RawDetail: raw,
	}, nil, "cancel")
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Capture captures a previously authorized trade.
func (ts *TradeService) Capture(ctx context.Context, purchaseID int64) (*models.Purchase, error) {
	ctx, span := util.StartSpan(ctx, "TradeService.Capture")
	defer span.End()

	purchase, err := ts.store.GetPurchaseByID(ctx, purchaseID)
	if err != nil {
		return nil, err
	}
	if status.Normalize(string(purchase.PaymentStatus)) != status.Authorized {
		return nil, fmt.Errorf("purchase %d is %s, only authorized trades can be captured",
			purchaseID, purchase.PaymentStatus)
	}

	doc, err := ts.processor.CaptureTrade(ctx, purchase.TradeOrderID)
	if err != nil {
		return nil, fmt.Errorf("capture failed: %w", err)
	}

	return ts.reconciler.ApplyDocument(ctx, purchaseID, doc, "capture")
}

// CreateRefund initiates a refund for a paid purchase. The refund outcome is
// asynchronous: it lands through webhook or poll like any other status.
func (ts *TradeService) CreateRefund(ctx context.Context, purchaseID int64, refundAmount, reason string) (*models.Purchase, error) {
	ctx, span := util.StartSpan(ctx, "TradeService.CreateRefund")
	defer span.End()

	purchase, err := ts.store.GetPurchaseByID(ctx, purchaseID)
	if err != nil {
		return nil, err
	}
	if !purchase.IsPaid {
		return nil, fmt.Errorf("purchase %d is not paid, nothing to refund", purchaseID)
	}

	amt, err := decimal.NewFromString(refundAmount)
	if err != nil {
		return nil, fmt.Errorf("invalid refund amount %q: %w", refundAmount, err)
	}

	doc, err := ts.processor.CreateRefund(ctx, &gateway.CreateRefundRequest{
		TradeOrderID: purchase.TradeOrderID,
		Amount:       amount.Encode(amt, purchase.Currency),
		Currency:     purchase.Currency,
		Reason:       reason,
	})
	if err != nil {
		return nil, fmt.Errorf("refund creation failed: %w", err)
	}

	return ts.reconciler.ApplyDocument(ctx, purchaseID, doc, "refund")
}

// GetPurchase retrieves a purchase by ID.
func (ts *TradeService) GetPurchase(ctx context.Context, purchaseID int64) (*models.Purchase, error) {
	return ts.store.GetPurchaseByID(ctx, purchaseID)
}
