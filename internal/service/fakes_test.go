package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"payment-service/internal/gateway"
	"payment-service/internal/models"
	"payment-service/internal/status"
	"payment-service/internal/store"
)

// fakeStore is an in-memory PurchaseStore + InstrumentStore with the same
// rank-gated ApplyStatus semantics as the SQL implementation.
type fakeStore struct {
	mu          sync.Mutex
	nextID      int64
	purchases   map[int64]*models.Purchase
	instruments map[string]models.PaymentInstrument // key customerID/instrumentID
	agreements  map[string]string
	processed   map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		purchases:   make(map[int64]*models.Purchase),
		instruments: make(map[string]models.PaymentInstrument),
		agreements:  make(map[string]string),
		processed:   make(map[string]bool),
	}
}

func instKey(customerID, instrumentID string) string {
	return customerID + "/" + instrumentID
}

func (f *fakeStore) CreatePurchase(_ context.Context, p *models.Purchase) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	p.ID = f.nextID
	p.CreatedAt = time.Now()
	cp := *p
	f.purchases[p.ID] = &cp
	return nil
}

func (f *fakeStore) GetPurchaseByID(_ context.Context, id int64) (*models.Purchase, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.purchases[id]
	if !ok {
		return nil, fmt.Errorf("purchase not found: %d", id)
	}
	cp := *p
	return &cp, nil
}

func (f *fakeStore) GetPurchaseByTradeOrderID(_ context.Context, tradeOrderID string) (*models.Purchase, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.purchases {
		if p.TradeOrderID == tradeOrderID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("purchase not found for trade: %s", tradeOrderID)
}

func (f *fakeStore) IncrementAttempt(_ context.Context, purchaseID int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.purchases[purchaseID]
	if !ok {
		return 0, fmt.Errorf("purchase not found: %d", purchaseID)
	}
	p.PaymentAttemptCounter++
	return p.PaymentAttemptCounter, nil
}

func (f *fakeStore) SetTradeRef(_ context.Context, purchaseID int64, referenceOrderID, tradeOrderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.purchases[purchaseID]
	if !ok {
		return fmt.Errorf("purchase not found: %d", purchaseID)
	}
	p.ReferenceOrderID = referenceOrderID
	p.TradeOrderID = tradeOrderID
	return nil
}

func (f *fakeStore) ClearNextAction(_ context.Context, purchaseID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.purchases[purchaseID]; ok {
		p.NextAction = nil
	}
	return nil
}

func (f *fakeStore) ApplyStatus(_ context.Context, purchaseID int64, upd store.StatusUpdate) (bool, *models.Purchase, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, ok := f.purchases[purchaseID]
	if !ok {
		return false, nil, fmt.Errorf("purchase not found: %d", purchaseID)
	}

	current := status.Normalize(string(p.PaymentStatus))
	if !status.Outranks(upd.Status, current) {
		if len(upd.RawDetail) > 0 {
			p.PaymentDetail = upd.RawDetail
		}
		cp := *p
		return false, &cp, nil
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
		p.IsPaid = true
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

	cp := *p
	return true, &cp, nil
}

func (f *fakeStore) ListUnsettled(_ context.Context, _ time.Duration) ([]models.Purchase, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Purchase
	for _, p := range f.purchases {
		if p.TradeOrderID != "" && !status.IsTerminal(status.Normalize(string(p.PaymentStatus))) {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeStore) SetAgreementInstrument(_ context.Context, agreementID, instrumentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.agreements[agreementID] = instrumentID
	return nil
}

func (f *fakeStore) IsEventProcessed(_ context.Context, eventID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.processed[eventID], nil
}

func (f *fakeStore) MarkEventProcessed(_ context.Context, eventID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed[eventID] = true
	return nil
}

func (f *fakeStore) GetInstrument(_ context.Context, customerID, instrumentID string) (*models.PaymentInstrument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if inst, ok := f.instruments[instKey(customerID, instrumentID)]; ok {
		cp := inst
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeStore) ListInstrumentsByCustomer(_ context.Context, customerID string) ([]models.PaymentInstrument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.PaymentInstrument
	for _, inst := range f.instruments {
		if inst.CustomerID == customerID {
			out = append(out, inst)
		}
	}
	return out, nil
}

func (f *fakeStore) InsertInstrument(_ context.Context, inst *models.PaymentInstrument) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := instKey(inst.CustomerID, inst.InstrumentID)
	if _, exists := f.instruments[key]; !exists {
		f.instruments[key] = *inst
	}
	return nil
}

func (f *fakeStore) ReplaceCustomerInstruments(_ context.Context, customerID string, instruments []models.PaymentInstrument) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key, inst := range f.instruments {
		if inst.CustomerID == customerID {
			delete(f.instruments, key)
		}
	}
	for _, inst := range instruments {
		f.instruments[instKey(customerID, inst.InstrumentID)] = inst
	}
	return nil
}

func (f *fakeStore) DeleteInstrument(_ context.Context, customerID, instrumentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.instruments, instKey(customerID, instrumentID))
	return nil
}

// fakeProcessor scripts processor responses per endpoint and counts calls.
type fakeProcessor struct {
	mu    sync.Mutex
	calls map[string]int

	createTradeFn func(req *gateway.CreateTradeRequest) (*gateway.Document, error)
	getTradeFn    func(tradeOrderID string) (*gateway.Document, error)
	cancelFn      func(tradeOrderID string) (*gateway.Document, error)
	captureFn     func(tradeOrderID string) (*gateway.Document, error)
	refundFn      func(req *gateway.CreateRefundRequest) (*gateway.Document, error)
	queryInstFn   func(customerID, instrumentID string) (*gateway.Document, error)
	unbindFn      func(customerID, instrumentID string) (*gateway.Document, error)
	customerFn    func(req *gateway.CreateCustomerRequest) (*gateway.Document, error)
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{calls: make(map[string]int)}
}

func (f *fakeProcessor) count(endpoint string) {
	f.mu.Lock()
	f.calls[endpoint]++
	f.mu.Unlock()
}

func (f *fakeProcessor) callCount(endpoint string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[endpoint]
}

func (f *fakeProcessor) CreateTrade(_ context.Context, req *gateway.CreateTradeRequest) (*gateway.Document, error) {
	f.count(gateway.EndpointTradeCreate)
	if f.createTradeFn != nil {
		return f.createTradeFn(req)
	}
	return &gateway.Document{Status: "CREATED", TradeOrderID: "T-default"}, nil
}

func (f *fakeProcessor) GetTrade(_ context.Context, tradeOrderID string) (*gateway.Document, error) {
	f.count(gateway.EndpointTradeGet)
	if f.getTradeFn != nil {
		return f.getTradeFn(tradeOrderID)
	}
	return &gateway.Document{Status: "PROCESSING", TradeOrderID: tradeOrderID}, nil
}

func (f *fakeProcessor) CancelTrade(_ context.Context, tradeOrderID string) (*gateway.Document, error) {
	f.count(gateway.EndpointTradeCancel)
	if f.cancelFn != nil {
		return f.cancelFn(tradeOrderID)
	}
	return &gateway.Document{Status: "CANCELLED", TradeOrderID: tradeOrderID}, nil
}

func (f *fakeProcessor) CaptureTrade(_ context.Context, tradeOrderID string) (*gateway.Document, error) {
	f.count(gateway.EndpointTradeCapture)
	if f.captureFn != nil {
		return f.captureFn(tradeOrderID)
	}
	return &gateway.Document{Status: "SUCCEEDED", TradeOrderID: tradeOrderID}, nil
}

func (f *fakeProcessor) CreateRefund(_ context.Context, req *gateway.CreateRefundRequest) (*gateway.Document, error) {
	f.count(gateway.EndpointRefundCreate)
	if f.refundFn != nil {
		return f.refundFn(req)
	}
	return &gateway.Document{Status: "REFUNDED", TradeOrderID: req.TradeOrderID}, nil
}

func (f *fakeProcessor) GetRefund(_ context.Context, tradeOrderID string) (*gateway.Document, error) {
	f.count(gateway.EndpointRefundGet)
	return &gateway.Document{Status: "REFUNDED", TradeOrderID: tradeOrderID}, nil
}

func (f *fakeProcessor) CreateCustomer(_ context.Context, req *gateway.CreateCustomerRequest) (*gateway.Document, error) {
	f.count(gateway.EndpointCustomerCreate)
	if f.customerFn != nil {
		return f.customerFn(req)
	}
	return &gateway.Document{CustomerID: "cust-new"}, nil
}

func (f *fakeProcessor) CustomerToken(_ context.Context, customerID string) (*gateway.Document, error) {
	f.count(gateway.EndpointCustomerToken)
	return &gateway.Document{CustomerID: customerID, Token: "tok-1"}, nil
}

func (f *fakeProcessor) QueryInstruments(_ context.Context, customerID, instrumentID string) (*gateway.Document, error) {
	f.count(gateway.EndpointInstrumentQuery)
	if f.queryInstFn != nil {
		return f.queryInstFn(customerID, instrumentID)
	}
	return &gateway.Document{}, nil
}

func (f *fakeProcessor) UnbindInstrument(_ context.Context, customerID, instrumentID string) (*gateway.Document, error) {
	f.count(gateway.EndpointInstrumentUnbind)
	if f.unbindFn != nil {
		return f.unbindFn(customerID, instrumentID)
	}
	return &gateway.Document{Status: "SUCCEEDED"}, nil
}

// fakePublisher records outbound events.
type fakePublisher struct {
	mu        sync.Mutex
	succeeded []*models.PaymentSucceededEvent
	failed    []*models.PaymentFailedEvent
	refunded  []*models.PaymentRefundedEvent
	bound     []*models.InstrumentBoundEvent
}

func (f *fakePublisher) PublishPaymentSucceeded(_ context.Context, e *models.PaymentSucceededEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.succeeded = append(f.succeeded, e)
	return nil
}

func (f *fakePublisher) PublishPaymentFailed(_ context.Context, e *models.PaymentFailedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, e)
	return nil
}

func (f *fakePublisher) PublishPaymentRefunded(_ context.Context, e *models.PaymentRefundedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refunded = append(f.refunded, e)
	return nil
}

func (f *fakePublisher) PublishInstrumentBound(_ context.Context, e *models.InstrumentBoundEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bound = append(f.bound, e)
	return nil
}

func statusOnly(st status.Status) store.StatusUpdate {
	return store.StatusUpdate{Status: st}
}

func mustJSON(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
