package gateways

import (
	"encoding/json"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/divuzki/cartlogs-backend/pkg/enums"
)

// WebhookRequest carries the raw inbound delivery. Body must be the exact
// bytes the gateway signed.
type WebhookRequest struct {
	Body   []byte
	Header http.Header
}

// PaymentEvent is the gateway-agnostic form every adapter normalizes to.
type PaymentEvent struct {
	Reference  string
	Gateway    enums.Gateway
	Outcome    enums.EventOutcome
	Amount     decimal.Decimal
	EventType  string
	RawPayload json.RawMessage

	// OperatorNotice marks events (disputes) that only require an operator
	// notification and never enter the reconciliation pipeline.
	OperatorNotice bool
}

// Adapter verifies a provider's webhook delivery and translates it into a
// PaymentEvent. Verification failures are terminal; unsupported event types
// are rejected with UNSUPPORTED_EVENT, never silently dropped.
type Adapter interface {
	Gateway() enums.Gateway
	Verify(req *WebhookRequest) error
	Normalize(body []byte) (*PaymentEvent, error)
}

var kobo = decimal.NewFromInt(100)

// koboToNaira converts minor-unit amounts to the naira scale the ledger uses.
func koboToNaira(amount decimal.Decimal) decimal.Decimal {
	return amount.Div(kobo)
}
