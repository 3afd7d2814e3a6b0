package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"payment-service/internal/gateway"
	"payment-service/internal/models"
	"payment-service/internal/status"
	"payment-service/internal/store"
	"payment-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"payment-service/internal/broker"
)

// PurchaseStore is the persistence surface the reconciliation engine needs.
// *store.Store implements it; tests substitute an in-memory fake.
type PurchaseStore interface {
	CreatePurchase(ctx context.Context, p *models.Purchase) error
	GetPurchaseByID(ctx context.Context, id int64) (*models.Purchase, error)
	GetPurchaseByTradeOrderID(ctx context.Context, tradeOrderID string) (*models.Purchase, error)
	IncrementAttempt(ctx context.Context, purchaseID int64) (int, error)
	SetTradeRef(ctx context.Context, purchaseID int64, referenceOrderID, tradeOrderID string) error
	ClearNextAction(ctx context.Context, purchaseID int64) error
	ApplyStatus(ctx context.Context, purchaseID int64, upd store.StatusUpdate) (bool, *models.Purchase, error)
	ListUnsettled(ctx context.Context, lookback time.Duration) ([]models.Purchase, error)
	SetAgreementInstrument(ctx context.Context, agreementID, instrumentID string) error
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// ProcessorClient is the outbound processor API surface.
type ProcessorClient interface {
	CreateTrade(ctx context.Context, req *gateway.CreateTradeRequest) (*gateway.Document, error)
	GetTrade(ctx context.Context, tradeOrderID string) (*gateway.Document, error)
	CancelTrade(ctx context.Context, tradeOrderID string) (*gateway.Document, error)
	CaptureTrade(ctx context.Context, tradeOrderID string) (*gateway.Document, error)
	CreateRefund(ctx context.Context, req *gateway.CreateRefundRequest) (*gateway.Document, error)
	GetRefund(ctx context.Context, tradeOrderID string) (*gateway.Document, error)
	CreateCustomer(ctx context.Context, req *gateway.CreateCustomerRequest) (*gateway.Document, error)
	CustomerToken(ctx context.Context, customerID string) (*gateway.Document, error)
	QueryInstruments(ctx context.Context, customerID, instrumentID string) (*gateway.Document, error)
	UnbindInstrument(ctx context.Context, customerID, instrumentID string) (*gateway.Document, error)
}

// Locker provides best-effort cross-process serialization for reconcile runs.
type Locker interface {
	AcquireReconcileLock(ctx context.Context, purchaseID int64, ttl time.Duration) (bool, error)
	ReleaseReconcileLock(ctx context.Context, purchaseID int64) error
	MarkWebhookSeen(ctx context.Context, eventID string, ttl time.Duration) (bool, error)
}

// Reconciler converges updates from redirect interception, webhook delivery
// and scheduled polling onto one rank-gated transition. All three entry
// points funnel into Reconcile/ApplyDocument; repeated or out-of-order
// delivery of the same outcome is a no-op beyond refreshing the audit
// payload.
type Reconciler struct {
	store       PurchaseStore
	processor   ProcessorClient
	locker      Locker
	publisher   broker.Publisher
	instruments *InstrumentSync
	logger      *zap.Logger
}

func NewReconciler(
	st PurchaseStore,
	processor ProcessorClient,
	locker Locker,
	publisher broker.Publisher,
	instruments *InstrumentSync,
) *Reconciler {
	return &Reconciler{
		store:       st,
		processor:   processor,
		locker:      locker,
		publisher:   publisher,
		instruments: instruments,
		logger:      util.GetLogger(),
	}
}

const reconcileLockTTL = 30 * time.Second

// Reconcile is the idempotent core: ask the processor for the current trade
// status and apply it. Safe to run concurrently and repeatedly for the same
// purchase.
func (r *Reconciler) Reconcile(ctx context.Context, purchaseID int64, source string) (*models.Purchase, error) {
	ctx, span := util.StartSpan(ctx, "Reconciler.Reconcile")
	defer span.End()

	util.ReconcileRunsTotal.WithLabelValues(source).Inc()

	purchase, err := r.store.GetPurchaseByID(ctx, purchaseID)
	if err != nil {
		return nil, err
	}

	// Already settled: nothing to ask the processor. Clear any leftover
	// customer-action payload so the storefront stops replaying it.
	if purchase.IsPaid || status.IsTerminal(status.Normalize(string(purchase.PaymentStatus))) {
		if len(purchase.NextAction) > 0 {
			if err := r.store.ClearNextAction(ctx, purchaseID); err != nil {
				r.logger.Error("Failed to clear next action", zap.Int64("purchase_id", purchaseID), zap.Error(err))
			}
			purchase.NextAction = nil
		}
		return purchase, nil
	}

	if purchase.TradeOrderID == "" {
		// Trade was never created at the processor; there is nothing to query.
		return purchase, nil
	}

	if r.locker != nil {
		acquired, err := r.locker.AcquireReconcileLock(ctx, purchaseID, reconcileLockTTL)
		if err != nil {
			r.logger.Warn("Reconcile lock unavailable, proceeding on row lock only",
				zap.Int64("purchase_id", purchaseID), zap.Error(err))
		} else if !acquired {
			r.logger.Debug("Reconcile already in flight", zap.Int64("purchase_id", purchaseID))
			return purchase, nil
		} else {
			defer func() {
				if err := r.locker.ReleaseReconcileLock(ctx, purchaseID); err != nil {
					r.logger.Warn("Failed to release reconcile lock", zap.Int64("purchase_id", purchaseID), zap.Error(err))
				}
			}()
		}
	}

	doc, err := r.processor.GetTrade(ctx, purchase.TradeOrderID)
	if err != nil {
		var transportErr *gateway.TransportError
		if errors.As(err, &transportErr) {
			// Unknown, retry later. The next poll cycle is the retry.
			r.logger.Warn("Trade query unreachable, leaving status unresolved",
				zap.Int64("purchase_id", purchaseID), zap.Error(err))
			return purchase, nil
		}
		return nil, fmt.Errorf("trade query failed: %w", err)
	}

	return r.ApplyDocument(ctx, purchaseID, doc, source)
}

// ApplyDocument translates a processor response into a status transition and
// runs it through the rank gate. This is the single ingress point for status
// aliases: everything is normalized here before the transition lookup.
func (r *Reconciler) ApplyDocument(ctx context.Context, purchaseID int64, doc *gateway.Document, source string) (*models.Purchase, error) {
	st := status.Normalize(doc.Status)

	// A created trade that demands a customer step is locally CUSTOMER_ACTION;
	// the payload is persisted so a later confirmation retry can replay it
	// without re-creating the trade.
	if (st == status.Created || st == status.Unknown) && len(doc.NextAction) > 0 {
		st = status.CustomerAction
	}

	if st == status.Unknown {
		r.logger.Warn("Processor reported unrecognized status, recording detail only",
			zap.Int64("purchase_id", purchaseID),
			zap.String("raw_status", doc.Status),
			zap.String("source", source))
	}

	upd := store.StatusUpdate{
		Status:        st,
		RawDetail:     doc.Raw,
		FailureReason: doc.Message,
		TradeOrderID:  doc.TradeOrderID,
		NextAction:    doc.NextAction,
	}

	return r.apply(ctx, purchaseID, upd, doc, source)
}

// apply runs the transition and, when the status actually changed, the
// exactly-once side effects tied to the new state.
func (r *Reconciler) apply(ctx context.Context, purchaseID int64, upd store.StatusUpdate, doc *gateway.Document, source string) (*models.Purchase, error) {
	changed, purchase, err := r.store.ApplyStatus(ctx, purchaseID, upd)
	if err != nil {
		return nil, err
	}
	if !changed {
		return purchase, nil
	}

	r.logger.Info("Trade status advanced",
		zap.Int64("purchase_id", purchase.ID),
		zap.String("trade_order_id", purchase.TradeOrderID),
		zap.String("status", string(purchase.PaymentStatus)),
		zap.String("source", source))

	switch purchase.PaymentStatus {
	case status.Succeeded:
		r.onSucceeded(ctx, purchase, doc)
	case status.Failed, status.Expired:
		util.TradesFailedTotal.WithLabelValues(source).Inc()
		r.publish(ctx, func() error {
			return r.publisher.PublishPaymentFailed(ctx, &models.PaymentFailedEvent{
				BaseEvent:    newBaseEvent(models.EventTypePaymentFailed),
				PurchaseID:   purchase.ID,
				TradeOrderID: purchase.TradeOrderID,
				Reason:       purchase.FailureReason,
			})
		})
	case status.Cancelled:
		util.TradesCancelledTotal.Inc()
	case status.Refunded, status.PartiallyRefunded:
		r.publish(ctx, func() error {
			return r.publisher.PublishPaymentRefunded(ctx, &models.PaymentRefundedEvent{
				BaseEvent:    newBaseEvent(models.EventTypePaymentRefunded),
				PurchaseID:   purchase.ID,
				TradeOrderID: purchase.TradeOrderID,
				Partial:      purchase.PaymentStatus == status.PartiallyRefunded,
			})
		})
	}

	return purchase, nil
}

// onSucceeded runs the success side effects: announce the paid purchase, hand
// any bound instrument to the synchronizer, and pin the instrument onto a
// recurring agreement for future off-session charges. Guarded by the rank
// gate, these run exactly once per purchase.
func (r *Reconciler) onSucceeded(ctx context.Context, purchase *models.Purchase, doc *gateway.Document) {
	util.TradesSucceededTotal.Inc()

	r.publish(ctx, func() error {
		return r.publisher.PublishPaymentSucceeded(ctx, &models.PaymentSucceededEvent{
			BaseEvent:    newBaseEvent(models.EventTypePaymentSucceeded),
			PurchaseID:   purchase.ID,
			TradeOrderID: purchase.TradeOrderID,
			Amount:       purchase.Amount,
			Currency:     purchase.Currency,
		})
	})

	if doc == nil || doc.Instrument == nil || r.instruments == nil {
		return
	}

	inst := doc.Instrument
	if inst.CustomerID == "" {
		inst.CustomerID = purchase.CustomerID
	}
	if err := r.instruments.MirrorBound(ctx, *inst); err != nil {
		// Instrument sync never blocks the trade flow.
		r.logger.Error("Failed to mirror bound instrument",
			zap.Int64("purchase_id", purchase.ID),
			zap.String("instrument_id", inst.InstrumentID),
			zap.Error(err))
	}

	if purchase.AgreementID != "" {
		if err := r.store.SetAgreementInstrument(ctx, purchase.AgreementID, inst.InstrumentID); err != nil {
			r.logger.Error("Failed to attach instrument to agreement",
				zap.String("agreement_id", purchase.AgreementID),
				zap.String("instrument_id", inst.InstrumentID),
				zap.Error(err))
		}
	}
}

// HandleRedirectReturn services the customer's browser returning to the
// order-confirmation page. If the purchase is already paid it short-circuits
// without a processor call.
func (r *Reconciler) HandleRedirectReturn(ctx context.Context, purchaseID int64) (*models.Purchase, error) {
	ctx, span := util.StartSpan(ctx, "Reconciler.HandleRedirectReturn")
	defer span.End()

	return r.Reconcile(ctx, purchaseID, "redirect")
}

// PollOnce sweeps unsettled purchases within the lookback window and
// reconciles each. This is the backstop for lost webhooks and abandoned
// redirects; per-purchase failures are logged, not fatal, because the next
// cycle retries naturally.
func (r *Reconciler) PollOnce(ctx context.Context, lookback time.Duration) error {
	ctx, span := util.StartSpan(ctx, "Reconciler.PollOnce")
	defer span.End()

	purchases, err := r.store.ListUnsettled(ctx, lookback)
	if err != nil {
		return fmt.Errorf("failed to list unsettled purchases: %w", err)
	}

	for i := range purchases {
		if _, err := r.Reconcile(ctx, purchases[i].ID, "poll"); err != nil {
			r.logger.Error("Poll reconcile failed",
				zap.Int64("purchase_id", purchases[i].ID),
				zap.Error(err))
		}
	}

	r.logger.Info("Poll sweep completed", zap.Int("count", len(purchases)))
	return nil
}

func (r *Reconciler) publish(ctx context.Context, fn func() error) {
	if r.publisher == nil {
		return
	}
	if err := fn(); err != nil {
		r.logger.Error("Failed to publish payment event", zap.Error(err))
	}
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}

// statusUpdateFromWebhook maps a trade webhook payload onto a transition.
func statusUpdateFromWebhook(eventType string, data *models.WebhookTradeData, raw json.RawMessage) store.StatusUpdate {
	var st status.Status
	switch eventType {
	case models.WebhookTradeSucceeded, models.WebhookTradeCaptured:
		st = status.Succeeded
	case models.WebhookTradeFailed:
		st = status.Failed
	case models.WebhookTradeAuthorized:
		st = status.Authorized
	case models.WebhookTradeCancelled:
		st = status.Cancelled
	case models.WebhookTradeExpired:
		st = status.Expired
	case models.WebhookTradeProcessing:
		st = status.Processing
	case models.WebhookRefundSucceeded:
		if data.PartialRefund {
			st = status.PartiallyRefunded
		} else {
			st = status.Refunded
		}
	default:
		st = status.Normalize(data.Status)
	}

	return store.StatusUpdate{
		Status:        st,
		RawDetail:     raw,
		FailureReason: data.Message,
		TradeOrderID:  data.TradeOrderID,
	}
}
