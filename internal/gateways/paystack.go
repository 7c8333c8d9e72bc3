package gateways

import (
	"encoding/json"

	"github.com/shopspring/decimal"

	"github.com/divuzki/cartlogs-backend/pkg/enums"
	pkgerrors "github.com/divuzki/cartlogs-backend/pkg/errors"
)

const paystackSignatureHeader = "X-Paystack-Signature"

// PaystackAdapter handles the legacy Paystack webhook surface. New charges
// are never initialized against Paystack; deliveries for historical
// references still reconcile.
type PaystackAdapter struct {
	secret     string
	skipVerify bool
}

func NewPaystackAdapter(secret string, skipVerify bool) *PaystackAdapter {
	return &PaystackAdapter{secret: secret, skipVerify: skipVerify}
}

func (a *PaystackAdapter) Gateway() enums.Gateway {
	return enums.GatewayPaystack
}

func (a *PaystackAdapter) Verify(req *WebhookRequest) error {
	if a.skipVerify {
		return nil
	}
	signature := req.Header.Get(paystackSignatureHeader)
	if signature == "" {
		return pkgerrors.New(pkgerrors.CodeSignature, "paystack signature missing")
	}
	if !validSignature(req.Body, a.secret, signature) {
		return pkgerrors.New(pkgerrors.CodeSignature, "paystack signature mismatch")
	}
	return nil
}

type paystackEvent struct {
	Event string `json:"event"`
	Data  struct {
		Reference string          `json:"reference"`
		Amount    decimal.Decimal `json:"amount"`
		Status    string          `json:"status"`
	} `json:"data"`
}

func (a *PaystackAdapter) Normalize(body []byte) (*PaymentEvent, error) {
	var event paystackEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode paystack payload")
	}

	normalized := &PaymentEvent{
		Reference:  event.Data.Reference,
		Gateway:    enums.GatewayPaystack,
		Amount:     koboToNaira(event.Data.Amount),
		EventType:  event.Event,
		RawPayload: json.RawMessage(body),
	}

	switch event.Event {
	case "charge.success":
		if event.Data.Status == "success" {
			normalized.Outcome = enums.EventOutcomeSuccess
		} else {
			normalized.Outcome = enums.EventOutcomeFailed
		}
	case "charge.dispute.create", "charge.dispute.remind", "charge.dispute.resolve":
		normalized.OperatorNotice = true
	default:
		return nil, pkgerrors.New(pkgerrors.CodeUnsupportedEvent, "unsupported paystack event").
			WithDetails(map[string]string{"event": event.Event})
	}

	if !normalized.OperatorNotice && normalized.Reference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "paystack reference missing")
	}
	return normalized, nil
}
