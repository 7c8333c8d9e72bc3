package gateways

import (
	"encoding/json"

	"github.com/shopspring/decimal"

	"github.com/divuzki/cartlogs-backend/pkg/enums"
	pkgerrors "github.com/divuzki/cartlogs-backend/pkg/errors"
)

const etegramSignatureHeader = "X-Etegram-Signature"

// EtegramAdapter verifies and normalizes Etegram transaction webhooks.
type EtegramAdapter struct {
	secret     string
	skipVerify bool
}

func NewEtegramAdapter(secret string, skipVerify bool) *EtegramAdapter {
	return &EtegramAdapter{secret: secret, skipVerify: skipVerify}
}

func (a *EtegramAdapter) Gateway() enums.Gateway {
	return enums.GatewayEtegram
}

func (a *EtegramAdapter) Verify(req *WebhookRequest) error {
	if a.skipVerify {
		return nil
	}
	signature := req.Header.Get(etegramSignatureHeader)
	if signature == "" {
		return pkgerrors.New(pkgerrors.CodeSignature, "etegram signature missing")
	}
	if !validSignature(req.Body, a.secret, signature) {
		return pkgerrors.New(pkgerrors.CodeSignature, "etegram signature mismatch")
	}
	return nil
}

type etegramEvent struct {
	Event string `json:"event"`
	Data  struct {
		Reference string          `json:"reference"`
		Amount    decimal.Decimal `json:"amount"`
	} `json:"data"`
}

func (a *EtegramAdapter) Normalize(body []byte) (*PaymentEvent, error) {
	var event etegramEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode etegram payload")
	}

	normalized := &PaymentEvent{
		Reference:  event.Data.Reference,
		Gateway:    enums.GatewayEtegram,
		Amount:     koboToNaira(event.Data.Amount),
		EventType:  event.Event,
		RawPayload: json.RawMessage(body),
	}

	switch event.Event {
	case "transaction.successful":
		normalized.Outcome = enums.EventOutcomeSuccess
	case "transaction.failed":
		normalized.Outcome = enums.EventOutcomeFailed
	default:
		return nil, pkgerrors.New(pkgerrors.CodeUnsupportedEvent, "unsupported etegram event").
			WithDetails(map[string]string{"event": event.Event})
	}

	if normalized.Reference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "etegram reference missing")
	}
	return normalized, nil
}
