package service

import (
	"context"
	"fmt"
	"strings"

	"payment-service/internal/broker"
	"payment-service/internal/cache"
	"payment-service/internal/gateway"
	"payment-service/internal/models"
	"payment-service/internal/util"

	"go.uber.org/zap"
)

// InstrumentStore is the local mirror of processor-side saved instruments.
type InstrumentStore interface {
	GetInstrument(ctx context.Context, customerID, instrumentID string) (*models.PaymentInstrument, error)
	ListInstrumentsByCustomer(ctx context.Context, customerID string) ([]models.PaymentInstrument, error)
	InsertInstrument(ctx context.Context, inst *models.PaymentInstrument) error
	ReplaceCustomerInstruments(ctx context.Context, customerID string, instruments []models.PaymentInstrument) error
	DeleteInstrument(ctx context.Context, customerID, instrumentID string) error
}

// InstrumentSync keeps the local token mirror consistent with the processor's
// vault. The remote list is authoritative: a full fetch replaces the cache
// and the mirror wholesale. Sync failures degrade to an empty list and never
// abort a surrounding payment flow.
type InstrumentSync struct {
	processor ProcessorClient
	store     InstrumentStore
	cache     *cache.TTLCache[string, []models.PaymentInstrument]
	publisher broker.Publisher
	logger    *zap.Logger
}

func NewInstrumentSync(
	processor ProcessorClient,
	st InstrumentStore,
	instrumentCache *cache.TTLCache[string, []models.PaymentInstrument],
	publisher broker.Publisher,
) *InstrumentSync {
	return &InstrumentSync{
		processor: processor,
		store:     st,
		cache:     instrumentCache,
		publisher: publisher,
		logger:    util.GetLogger(),
	}
}

// Sync returns the customer's saved instruments, from cache when fresh. On a
// miss (or forceFresh) the processor is queried, the cache replaced wholesale
// and new instruments mirrored locally. A failed fetch yields an empty list.
func (is *InstrumentSync) Sync(ctx context.Context, customerID string, forceFresh bool) []models.PaymentInstrument {
	ctx, span := util.StartSpan(ctx, "InstrumentSync.Sync")
	defer span.End()

	if !forceFresh {
		if cached, ok := is.cache.Get(customerID); ok {
			util.InstrumentCacheHitsTotal.Inc()
			return cached
		}
	}

	doc, err := is.processor.QueryInstruments(ctx, customerID, "")
	if err != nil {
		util.InstrumentSyncTotal.WithLabelValues("fetch_error").Inc()
		is.logger.Error("Instrument fetch failed, returning empty list",
			zap.String("customer_id", customerID), zap.Error(err))
		return nil
	}

	instruments := make([]models.PaymentInstrument, 0, len(doc.Instruments))
	for _, remote := range doc.Instruments {
		inst, err := is.complete(ctx, customerID, remote)
		if err != nil {
			is.logger.Warn("Skipping instrument with unresolvable detail",
				zap.String("customer_id", customerID),
				zap.String("instrument_id", remote.InstrumentID),
				zap.Error(err))
			continue
		}
		instruments = append(instruments, *inst)
	}

	is.cache.Set(customerID, instruments)

	if err := is.store.ReplaceCustomerInstruments(ctx, customerID, instruments); err != nil {
		util.InstrumentSyncTotal.WithLabelValues("mirror_error").Inc()
		is.logger.Error("Failed to update instrument mirror",
			zap.String("customer_id", customerID), zap.Error(err))
	} else {
		util.InstrumentSyncTotal.WithLabelValues("ok").Inc()
	}

	return instruments
}

// MirrorBound persists a newly bound instrument reported by a trade response.
// Already-mirrored instruments are left untouched.
func (is *InstrumentSync) MirrorBound(ctx context.Context, remote gateway.InstrumentDoc) error {
	existing, err := is.store.GetInstrument(ctx, remote.CustomerID, remote.InstrumentID)
	if err != nil {
		return fmt.Errorf("failed to check instrument mirror: %w", err)
	}
	if existing != nil {
		return nil
	}

	inst, err := is.complete(ctx, remote.CustomerID, remote)
	if err != nil {
		return err
	}

	if err := is.store.InsertInstrument(ctx, inst); err != nil {
		return fmt.Errorf("failed to mirror instrument: %w", err)
	}
	is.cache.Delete(remote.CustomerID)

	if is.publisher != nil {
		event := &models.InstrumentBoundEvent{
			BaseEvent:    newBaseEvent(models.EventTypeInstrumentBound),
			CustomerID:   remote.CustomerID,
			InstrumentID: remote.InstrumentID,
		}
		if err := is.publisher.PublishInstrumentBound(ctx, event); err != nil {
			is.logger.Error("Failed to publish InstrumentBound event", zap.Error(err))
		}
	}

	is.logger.Info("Instrument mirrored",
		zap.String("customer_id", remote.CustomerID),
		zap.String("instrument_id", remote.InstrumentID))
	return nil
}

// MirrorBoundFromWebhook is the instrument.bound webhook entry point.
func (is *InstrumentSync) MirrorBoundFromWebhook(ctx context.Context, data *models.WebhookInstrumentData) error {
	return is.MirrorBound(ctx, gateway.InstrumentDoc{
		InstrumentID: data.InstrumentID,
		CustomerID:   data.CustomerID,
		Brand:        data.Brand,
		Last4:        data.Last4,
		ExpiryMonth:  data.ExpiryMonth,
		ExpiryYear:   data.ExpiryYear,
	})
}

// complete backfills brand/last4/expiry from an instrument-detail query when
// the bind payload arrived incomplete. A mirrored instrument never persists
// with empty expiry or last-4.
func (is *InstrumentSync) complete(ctx context.Context, customerID string, remote gateway.InstrumentDoc) (*models.PaymentInstrument, error) {
	if remote.Last4 == "" || remote.ExpiryMonth == 0 || remote.ExpiryYear == 0 {
		doc, err := is.processor.QueryInstruments(ctx, customerID, remote.InstrumentID)
		if err != nil {
			return nil, fmt.Errorf("instrument detail backfill failed: %w", err)
		}
		if doc.Instrument == nil {
			return nil, fmt.Errorf("instrument detail missing for %s", remote.InstrumentID)
		}
		detail := doc.Instrument
		if remote.Brand == "" {
			remote.Brand = detail.Brand
		}
		if remote.Last4 == "" {
			remote.Last4 = detail.Last4
		}
		if remote.ExpiryMonth == 0 {
			remote.ExpiryMonth = detail.ExpiryMonth
		}
		if remote.ExpiryYear == 0 {
			remote.ExpiryYear = detail.ExpiryYear
		}
		remote.IsDefault = remote.IsDefault || detail.IsDefault
	}

	if remote.Last4 == "" || remote.ExpiryMonth == 0 || remote.ExpiryYear == 0 {
		return nil, fmt.Errorf("instrument %s still incomplete after backfill", remote.InstrumentID)
	}

	return &models.PaymentInstrument{
		InstrumentID: remote.InstrumentID,
		CustomerID:   customerID,
		Brand:        remote.Brand,
		Last4:        remote.Last4,
		ExpiryMonth:  remote.ExpiryMonth,
		ExpiryYear:   remote.ExpiryYear,
		IsDefault:    remote.IsDefault,
	}, nil
}

// Unbind removes an instrument. The processor is called first; the local
// mirror is deleted regardless of the remote outcome so no orphaned record
// points at a canceled instrument, with a warning for manual reconciliation
// when the remote call failed.
func (is *InstrumentSync) Unbind(ctx context.Context, customerID, instrumentID string) error {
	ctx, span := util.StartSpan(ctx, "InstrumentSync.Unbind")
	defer span.End()

	if _, err := is.processor.UnbindInstrument(ctx, customerID, instrumentID); err != nil {
		is.logger.Warn("Remote unbind failed, deleting local mirror anyway",
			zap.String("customer_id", customerID),
			zap.String("instrument_id", instrumentID),
			zap.Error(err))
	}

	return is.RemoveLocal(ctx, customerID, instrumentID)
}

// RemoveLocal drops the local mirror entry and invalidates the cache.
func (is *InstrumentSync) RemoveLocal(ctx context.Context, customerID, instrumentID string) error {
	if err := is.store.DeleteInstrument(ctx, customerID, instrumentID); err != nil {
		return fmt.Errorf("failed to delete instrument mirror: %w", err)
	}
	is.cache.Delete(customerID)
	return nil
}

// EnsureCustomer creates a processor-side customer record. The phone number
// is normalized to international format first; the processor rejects
// malformed numbers.
func (is *InstrumentSync) EnsureCustomer(ctx context.Context, email, name, phone, countryCode string) (string, error) {
	doc, err := is.processor.CreateCustomer(ctx, &gateway.CreateCustomerRequest{
		Email: email,
		Name:  name,
		Phone: NormalizePhone(phone, countryCode),
	})
	if err != nil {
		return "", fmt.Errorf("customer create failed: %w", err)
	}
	if doc.CustomerID == "" {
		return "", fmt.Errorf("customer create returned no customerId")
	}
	return doc.CustomerID, nil
}

// CustomerToken fetches a short-lived client token for the checkout SDK.
func (is *InstrumentSync) CustomerToken(ctx context.Context, customerID string) (string, error) {
	doc, err := is.processor.CustomerToken(ctx, customerID)
	if err != nil {
		return "", fmt.Errorf("customer token fetch failed: %w", err)
	}
	return doc.Token, nil
}

// NormalizePhone converts a locally formatted phone number to international
// format: digits only, trunk zero stripped, country code prefixed.
func NormalizePhone(phone, countryCode string) string {
	var digits strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	n := digits.String()
	if n == "" {
		return ""
	}

	cc := strings.TrimLeft(strings.TrimSpace(countryCode), "+")
	if cc != "" && strings.HasPrefix(n, cc) {
		return "+" + n
	}

	n = strings.TrimLeft(n, "0")
	return "+" + cc + n
}
