package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"payment-service/internal/models"
	"payment-service/internal/signature"
	"payment-service/internal/util"

	"go.uber.org/zap"
)

// webhookSeenTTL bounds the cheap Redis-side dedup of retried deliveries;
// the processed_events table is the durable guard behind it.
const webhookSeenTTL = 24 * time.Hour

// WebhookProcessor verifies and dispatches inbound processor notifications.
// The handler table is built once at construction; unknown event types are
// logged and acknowledged so future processor additions never bounce.
type WebhookProcessor struct {
	verifier   *signature.Verifier
	reconciler *Reconciler
	locker     Locker
	handlers   map[string]func(ctx context.Context, event *models.WebhookEvent) error
	logger     *zap.Logger
}

func NewWebhookProcessor(verifier *signature.Verifier, reconciler *Reconciler, locker Locker) *WebhookProcessor {
	wp := &WebhookProcessor{
		verifier:   verifier,
		reconciler: reconciler,
		locker:     locker,
		logger:     util.GetLogger(),
	}

	wp.handlers = map[string]func(ctx context.Context, event *models.WebhookEvent) error{
		models.WebhookTradeSucceeded:    wp.handleTradeEvent,
		models.WebhookTradeFailed:       wp.handleTradeEvent,
		models.WebhookTradeAuthorized:   wp.handleTradeEvent,
		models.WebhookTradeCaptured:     wp.handleTradeEvent,
		models.WebhookTradeCancelled:    wp.handleTradeEvent,
		models.WebhookTradeExpired:      wp.handleTradeEvent,
		models.WebhookTradeProcessing:   wp.handleTradeEvent,
		models.WebhookRefundSucceeded:   wp.handleTradeEvent,
		models.WebhookRefundFailed:      wp.handleRefundFailed,
		models.WebhookInstrumentBound:   wp.handleInstrumentBound,
		models.WebhookInstrumentUnbound: wp.handleInstrumentUnbound,
	}

	return wp
}

// Process verifies the delivery and routes it to its handler. A verification
// failure rejects the delivery outright with no purchase mutation; the caller
// answers HTTP 400 so the processor retries nothing it shouldn't.
func (wp *WebhookProcessor) Process(ctx context.Context, rawBody []byte, signatureHeader, timestampHeader string) error {
	ctx, span := util.StartSpan(ctx, "WebhookProcessor.Process")
	defer span.End()

	if err := wp.verifier.Verify(rawBody, signatureHeader, timestampHeader); err != nil {
		util.WebhooksRejectedTotal.WithLabelValues("signature").Inc()
		wp.logger.Warn("Rejected webhook delivery",
			zap.Error(err),
			zap.String("timestamp_header", timestampHeader))
		return fmt.Errorf("webhook verification failed: %w", err)
	}

	var event models.WebhookEvent
	if err := json.Unmarshal(rawBody, &event); err != nil {
		util.WebhooksRejectedTotal.WithLabelValues("malformed").Inc()
		return fmt.Errorf("failed to decode webhook body: %w", err)
	}

	util.WebhooksReceivedTotal.WithLabelValues(event.Type).Inc()

	handler, ok := wp.handlers[event.Type]
	if !ok {
		// Forward-compatible: acknowledge and move on.
		wp.logger.Info("Ignoring unknown webhook event type",
			zap.String("type", event.Type),
			zap.String("event_id", event.EventID))
		return nil
	}

	if event.EventID != "" {
		if seen, err := wp.alreadyProcessed(ctx, &event); err != nil {
			wp.logger.Warn("Webhook dedup check failed, relying on rank gate", zap.Error(err))
		} else if seen {
			wp.logger.Info("Webhook event already processed",
				zap.String("event_id", event.EventID),
				zap.String("type", event.Type))
			return nil
		}
	}

	if err := handler(ctx, &event); err != nil {
		return err
	}

	if event.EventID != "" {
		if err := wp.reconciler.store.MarkEventProcessed(ctx, event.EventID, event.Type); err != nil {
			wp.logger.Error("Failed to mark webhook event processed", zap.Error(err))
		}
	}

	return nil
}

func (wp *WebhookProcessor) alreadyProcessed(ctx context.Context, event *models.WebhookEvent) (bool, error) {
	if wp.locker != nil {
		if seen, err := wp.locker.MarkWebhookSeen(ctx, event.EventID, webhookSeenTTL); err == nil && seen {
			return true, nil
		}
	}
	return wp.reconciler.store.IsEventProcessed(ctx, event.EventID)
}

// handleTradeEvent applies the status a trade or refund webhook implies.
func (wp *WebhookProcessor) handleTradeEvent(ctx context.Context, event *models.WebhookEvent) error {
	var data models.WebhookTradeData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", event.Type, err)
	}
	if data.TradeOrderID == "" {
		return fmt.Errorf("%s event missing tradeOrderId", event.Type)
	}

	purchase, err := wp.reconciler.store.GetPurchaseByTradeOrderID(ctx, data.TradeOrderID)
	if err != nil {
		return err
	}

	upd := statusUpdateFromWebhook(event.Type, &data, event.Data)
	_, err = wp.reconciler.apply(ctx, purchase.ID, upd, nil, "webhook")
	return err
}

// handleRefundFailed records the processor detail but changes no status: the
// trade stays SUCCEEDED and operators follow up on the refund out of band.
func (wp *WebhookProcessor) handleRefundFailed(ctx context.Context, event *models.WebhookEvent) error {
	var data models.WebhookTradeData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", event.Type, err)
	}
	if data.TradeOrderID == "" {
		return fmt.Errorf("%s event missing tradeOrderId", event.Type)
	}

	wp.logger.Warn("Refund failed at processor",
		zap.String("trade_order_id", data.TradeOrderID),
		zap.String("reason", data.Message))

	purchase, err := wp.reconciler.store.GetPurchaseByTradeOrderID(ctx, data.TradeOrderID)
	if err != nil {
		return err
	}

	// Equal-rank application: audit detail lands, status is untouched.
	upd := statusUpdateFromWebhook(event.Type, &data, event.Data)
	_, err = wp.reconciler.apply(ctx, purchase.ID, upd, nil, "webhook")
	return err
}

func (wp *WebhookProcessor) handleInstrumentBound(ctx context.Context, event *models.WebhookEvent) error {
	var data models.WebhookInstrumentData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", event.Type, err)
	}
	if data.InstrumentID == "" || data.CustomerID == "" {
		return fmt.Errorf("%s event missing instrument or customer id", event.Type)
	}

	return wp.reconciler.instruments.MirrorBoundFromWebhook(ctx, &data)
}

func (wp *WebhookProcessor) handleInstrumentUnbound(ctx context.Context, event *models.WebhookEvent) error {
	var data models.WebhookInstrumentData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", event.Type, err)
	}
	if data.InstrumentID == "" || data.CustomerID == "" {
		return fmt.Errorf("%s event missing instrument or customer id", event.Type)
	}

	return wp.reconciler.instruments.RemoveLocal(ctx, data.CustomerID, data.InstrumentID)
}
