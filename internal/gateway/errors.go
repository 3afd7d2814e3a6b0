package gateway

import "fmt"

// TransportError means no usable HTTP response reached us (DNS, timeout,
// connection reset). Never a definitive failure of the trade; callers treat
// it as "unknown, retry later".
type TransportError struct {
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("gateway transport error on %s: %v", e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// DomainError means the processor answered with an error and no usable trade
// identifiers. It is a genuine failure of the call.
type DomainError struct {
	Endpoint   string
	HTTPStatus int
	Code       string
	Message    string
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("gateway error on %s: http=%d code=%s msg=%s",
		e.Endpoint, e.HTTPStatus, e.Code, e.Message)
}

// Outcome classifies a processor response.
type Outcome int

const (
	OutcomeOK Outcome = iota
	// OutcomePartialSuccess is an error HTTP status whose body nonetheless
	// carries a tradeOrderId or customer-action payload. The processor
	// documents certain soft failures that still return usable trade state;
	// the trade update proceeds and only a warning is logged.
	OutcomePartialSuccess
	OutcomeDomainError
)

// Classify is the single place that decides whether an error status still
// carries a usable trade update. If the vendor ever clarifies the semantics
// of these soft failures, this is the one site to change.
func Classify(httpStatus int, doc *Document) Outcome {
	if httpStatus < 400 {
		return OutcomeOK
	}
	if doc != nil && (doc.TradeOrderID != "" || len(doc.NextAction) > 0) {
		return OutcomePartialSuccess
	}
	return OutcomeDomainError
}
