package status

import "strings"

// Status is the canonical state of a payment trade. The processor's responses
// and webhooks carry a handful of legacy spellings; Normalize maps every
// ingress value onto this enum so the rest of the service never sees aliases.
type Status string

const (
	Created           Status = "CREATED"
	CustomerAction    Status = "CUSTOMER_ACTION"
	Processing        Status = "PROCESSING"
	Authorized        Status = "AUTHORIZED"
	Expired           Status = "EXPIRED"
	Cancelled         Status = "CANCELLED"
	Failed            Status = "FAILED"
	Succeeded         Status = "SUCCEEDED"
	PartiallyRefunded Status = "PARTIALLY_REFUNDED"
	Refunded          Status = "REFUNDED"
	Unknown           Status = "UNKNOWN"
)

// aliases maps legacy processor spellings to canonical values.
var aliases = map[string]Status{
	"SUCCESS":          Succeeded,
	"PAY_SUCCESS":      Succeeded,
	"PENDING":          Processing,
	"IN_PROCESS":       Processing,
	"CANCELED":         Cancelled,
	"EXPIRE":           Expired,
	"WAIT_BUYER_ACTION": CustomerAction,
	"PARTIAL_REFUNDED": PartiallyRefunded,
}

// ranks is the total order used to gate transitions. A status may only ever
// replace one of strictly lower rank; terminal outcomes outrank everything
// in flight, and refunds outrank success.
var ranks = map[Status]int{
	Unknown:           -1,
	Created:           0,
	CustomerAction:    1,
	Processing:        2,
	Authorized:        3,
	Expired:           10,
	Cancelled:         11,
	Failed:            12,
	Succeeded:         13,
	PartiallyRefunded: 14,
	Refunded:          15,
}

// Normalize maps a raw processor status string to its canonical value.
// Unrecognized values come back as Unknown, which never outranks anything.
func Normalize(raw string) Status {
	s := Status(strings.ToUpper(strings.TrimSpace(raw)))
	if _, ok := ranks[s]; ok && s != Unknown {
		return s
	}
	if canonical, ok := aliases[string(s)]; ok {
		return canonical
	}
	return Unknown
}

// Rank returns the position of s in the transition order.
func Rank(s Status) int {
	if r, ok := ranks[s]; ok {
		return r
	}
	return -1
}

// Outranks reports whether applying next over current would move the trade
// forward. Equal or lower rank is a no-op; reconciliation relies on this to
// stay idempotent across redirect, webhook and poll delivery of the same
// outcome.
func Outranks(next, current Status) bool {
	return Rank(next) > Rank(current)
}

// IsTerminal reports whether s settles the purchase-completion question.
// Refunded trades may still accept further partial refunds, but the purchase
// itself is decided.
func IsTerminal(s Status) bool {
	switch s {
	case Succeeded, Failed, Cancelled, Expired, Refunded, PartiallyRefunded:
		return true
	}
	return false
}
