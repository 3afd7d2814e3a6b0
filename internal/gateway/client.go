package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"payment-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Client issues authenticated calls to the payment processor. Every call is
// a blocking network boundary bounded by the configured timeout; no retries
// happen here — retry policy belongs to the caller.
type Client struct {
	httpClient *http.Client
	baseURL    string
	merchantID string
	apiKey     string
	logger     *zap.Logger
}

// NewClient creates a processor API client.
func NewClient(baseURL, merchantID, apiKey string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		merchantID: merchantID,
		apiKey:     apiKey,
		logger:     logger,
	}
}

// requestID produces the per-call tracing identifier the processor requires:
// millisecond timestamp plus a random suffix. The processor does not dedupe
// by this field.
func requestID() string {
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}

// Send posts payload to endpoint and decodes the response. A nil error with a
// non-2xx status means the response was classified as a partial success and
// the returned document still carries usable trade state.
func (c *Client) Send(ctx context.Context, endpoint string, payload interface{}) (*Document, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request for %s: %w", endpoint, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("merchantId", c.merchantID)
	req.Header.Set("apiKey", c.apiKey)
	req.Header.Set("requestId", requestID())

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	util.GatewayRequestLatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		util.GatewayRequestsTotal.WithLabelValues(endpoint, "transport_error").Inc()
		return nil, &TransportError{Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		util.GatewayRequestsTotal.WithLabelValues(endpoint, "transport_error").Inc()
		return nil, &TransportError{Endpoint: endpoint, Err: err}
	}

	doc := &Document{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, doc); err != nil && resp.StatusCode < 400 {
			util.GatewayRequestsTotal.WithLabelValues(endpoint, "decode_error").Inc()
			return nil, &TransportError{Endpoint: endpoint, Err: fmt.Errorf("undecodable response body: %w", err)}
		}
	}
	doc.Raw = raw

	switch Classify(resp.StatusCode, doc) {
	case OutcomeOK:
		util.GatewayRequestsTotal.WithLabelValues(endpoint, "ok").Inc()
		return doc, nil
	case OutcomePartialSuccess:
		util.GatewayRequestsTotal.WithLabelValues(endpoint, "partial_success").Inc()
		c.logger.Warn("Processor returned error status with usable trade state, proceeding",
			zap.String("endpoint", endpoint),
			zap.Int("http_status", resp.StatusCode),
			zap.String("trade_order_id", doc.TradeOrderID),
			zap.String("code", doc.Code))
		return doc, nil
	default:
		util.GatewayRequestsTotal.WithLabelValues(endpoint, "domain_error").Inc()
		return nil, &DomainError{
			Endpoint:   endpoint,
			HTTPStatus: resp.StatusCode,
			Code:       doc.Code,
			Message:    doc.Message,
		}
	}
}

// CreateTrade creates a payment trade at the processor.
func (c *Client) CreateTrade(ctx context.Context, req *CreateTradeRequest) (*Document, error) {
	return c.Send(ctx, EndpointTradeCreate, req)
}

// GetTrade queries current trade status.
func (c *Client) GetTrade(ctx context.Context, tradeOrderID string) (*Document, error) {
	return c.Send(ctx, EndpointTradeGet, &TradeRequest{TradeOrderID: tradeOrderID})
}

// CancelTrade asks the processor to cancel a non-terminal trade.
func (c *Client) CancelTrade(ctx context.Context, tradeOrderID string) (*Document, error) {
	return c.Send(ctx, EndpointTradeCancel, &TradeRequest{TradeOrderID: tradeOrderID})
}

// CaptureTrade captures a previously authorized trade.
func (c *Client) CaptureTrade(ctx context.Context, tradeOrderID string) (*Document, error) {
	return c.Send(ctx, EndpointTradeCapture, &TradeRequest{TradeOrderID: tradeOrderID})
}

// CreateRefund initiates a refund for a succeeded trade.
func (c *Client) CreateRefund(ctx context.Context, req *CreateRefundRequest) (*Document, error) {
	return c.Send(ctx, EndpointRefundCreate, req)
}

// GetRefund queries current refund status.
func (c *Client) GetRefund(ctx context.Context, tradeOrderID string) (*Document, error) {
	return c.Send(ctx, EndpointRefundGet, &TradeRequest{TradeOrderID: tradeOrderID})
}

// CreateCustomer creates a processor-side customer record.
func (c *Client) CreateCustomer(ctx context.Context, req *CreateCustomerRequest) (*Document, error) {
	return c.Send(ctx, EndpointCustomerCreate, req)
}

// CustomerToken fetches a short-lived client token for a customer.
func (c *Client) CustomerToken(ctx context.Context, customerID string) (*Document, error) {
	return c.Send(ctx, EndpointCustomerToken, &CustomerRequest{CustomerID: customerID})
}

// QueryInstruments lists a customer's saved instruments. When instrumentID is
// set the processor returns that single instrument with full detail.
func (c *Client) QueryInstruments(ctx context.Context, customerID, instrumentID string) (*Document, error) {
	if instrumentID != "" {
		return c.Send(ctx, EndpointInstrumentQuery, &InstrumentRequest{CustomerID: customerID, InstrumentID: instrumentID})
	}
	return c.Send(ctx, EndpointInstrumentQuery, &CustomerRequest{CustomerID: customerID})
}

// UnbindInstrument removes an instrument from the processor-side vault.
func (c *Client) UnbindInstrument(ctx context.Context, customerID, instrumentID string) (*Document, error) {
	return c.Send(ctx, EndpointInstrumentUnbind, &InstrumentRequest{CustomerID: customerID, InstrumentID: instrumentID})
}
