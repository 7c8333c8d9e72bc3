package gateways

import (
	"encoding/json"

	"github.com/shopspring/decimal"

	"github.com/divuzki/cartlogs-backend/pkg/enums"
	pkgerrors "github.com/divuzki/cartlogs-backend/pkg/errors"
)

const korapaySignatureHeader = "X-Korapay-Signature"

// KorapayAdapter verifies and normalizes Korapay charge webhooks.
type KorapayAdapter struct {
	secret     string
	skipVerify bool
}

// NewKorapayAdapter builds the adapter. skipVerify must only be true outside
// production; the wiring layer enforces that.
func NewKorapayAdapter(secret string, skipVerify bool) *KorapayAdapter {
	return &KorapayAdapter{secret: secret, skipVerify: skipVerify}
}

func (a *KorapayAdapter) Gateway() enums.Gateway {
	return enums.GatewayKorapay
}

func (a *KorapayAdapter) Verify(req *WebhookRequest) error {
	if a.skipVerify {
		return nil
	}
	signature := req.Header.Get(korapaySignatureHeader)
	if signature == "" {
		return pkgerrors.New(pkgerrors.CodeSignature, "korapay signature missing")
	}
	if !validSignature(req.Body, a.secret, signature) {
		return pkgerrors.New(pkgerrors.CodeSignature, "korapay signature mismatch")
	}
	return nil
}

type korapayEvent struct {
	Event string `json:"event"`
	Data  struct {
		Reference string          `json:"reference"`
		Amount    decimal.Decimal `json:"amount"`
		Status    string          `json:"status"`
	} `json:"data"`
}

func (a *KorapayAdapter) Normalize(body []byte) (*PaymentEvent, error) {
	var event korapayEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode korapay payload")
	}

	normalized := &PaymentEvent{
		Reference:  event.Data.Reference,
		Gateway:    enums.GatewayKorapay,
		Amount:     koboToNaira(event.Data.Amount),
		EventType:  event.Event,
		RawPayload: json.RawMessage(body),
	}

	switch event.Event {
	case "charge.success":
		normalized.Outcome = enums.EventOutcomeSuccess
	case "charge.failed":
		normalized.Outcome = enums.EventOutcomeFailed
	case "charge.dispute.create", "charge.dispute.remind", "charge.dispute.resolve":
		normalized.OperatorNotice = true
	default:
		return nil, pkgerrors.New(pkgerrors.CodeUnsupportedEvent, "unsupported korapay event").
			WithDetails(map[string]string{"event": event.Event})
	}

	if !normalized.OperatorNotice && normalized.Reference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "korapay reference missing")
	}
	return normalized, nil
}
