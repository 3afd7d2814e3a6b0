package gateway

import "encoding/json"

// Processor API endpoints.
const (
	EndpointTradeCreate      = "/trade/payment/create"
	EndpointTradeGet         = "/trade/payment/get"
	EndpointTradeCancel      = "/trade/payment/cancel"
	EndpointTradeCapture     = "/trade/payment/capture"
	EndpointRefundCreate     = "/trade/refund/create"
	EndpointRefundGet        = "/trade/refund/get"
	EndpointCustomerCreate   = "/customer/create"
	EndpointCustomerToken    = "/customer/token"
	EndpointInstrumentQuery  = "/customer/paymentInstrument/query"
	EndpointInstrumentUnbind = "/customer/paymentInstrument/unbind"
)

// Document is the decoded body of any processor response. Fields are sparse;
// which ones are populated depends on the endpoint. Raw keeps the verbatim
// body for audit storage.
type Document struct {
	Status       string          `json:"status,omitempty"`
	Code         string          `json:"code,omitempty"`
	Message      string          `json:"msg,omitempty"`
	TradeOrderID string          `json:"tradeOrderId,omitempty"`
	NextAction   json.RawMessage `json:"nextAction,omitempty"`
	CustomerID   string          `json:"customerId,omitempty"`
	Token        string          `json:"token,omitempty"`
	Instrument   *InstrumentDoc  `json:"paymentInstrument,omitempty"`
	Instruments  []InstrumentDoc `json:"paymentInstruments,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// InstrumentDoc is the processor's representation of a saved instrument.
type InstrumentDoc struct {
	InstrumentID string `json:"instrumentId"`
	CustomerID   string `json:"customerId,omitempty"`
	Brand        string `json:"brand,omitempty"`
	Last4        string `json:"last4,omitempty"`
	ExpiryMonth  int    `json:"expiryMonth,omitempty"`
	ExpiryYear   int    `json:"expiryYear,omitempty"`
	IsDefault    bool   `json:"isDefault,omitempty"`
}

// CreateTradeRequest is the payload for /trade/payment/create. Amount is in
// minor units, already passed through the amount codec.
type CreateTradeRequest struct {
	ReferenceOrderID string `json:"referenceOrderId"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	PaymentMethod    string `json:"paymentMethod"`
	PaymentBehavior  string `json:"paymentBehavior,omitempty"`
	PaySessionToken  string `json:"paySessionToken,omitempty"`
	CustomerID       string `json:"customerId,omitempty"`
}

// TradeRequest addresses an existing trade by processor-assigned ID.
type TradeRequest struct {
	TradeOrderID string `json:"tradeOrderId"`
}

// CreateRefundRequest is the payload for /trade/refund/create.
type CreateRefundRequest struct {
	TradeOrderID string `json:"tradeOrderId"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
	Reason       string `json:"reason,omitempty"`
}

// CreateCustomerRequest is the payload for /customer/create. Phone must be in
// international format; the caller normalizes it first.
type CreateCustomerRequest struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// CustomerRequest addresses an existing processor-side customer.
type CustomerRequest struct {
	CustomerID string `json:"customerId"`
}

// InstrumentRequest addresses one instrument of a customer.
type InstrumentRequest struct {
	CustomerID   string `json:"customerId"`
	InstrumentID string `json:"instrumentId"`
}
