package gateways

import (
	"encoding/json"

	"github.com/shopspring/decimal"

	"github.com/divuzki/cartlogs-backend/pkg/enums"
	pkgerrors "github.com/divuzki/cartlogs-backend/pkg/errors"
)

const flutterwaveHashHeader = "Verif-Hash"

// FlutterwaveAdapter handles the legacy Flutterwave webhook surface.
// Flutterwave authenticates deliveries with a static shared hash rather than
// a per-payload signature.
type FlutterwaveAdapter struct {
	webhookHash string
	skipVerify  bool
}

func NewFlutterwaveAdapter(webhookHash string, skipVerify bool) *FlutterwaveAdapter {
	return &FlutterwaveAdapter{webhookHash: webhookHash, skipVerify: skipVerify}
}

func (a *FlutterwaveAdapter) Gateway() enums.Gateway {
	return enums.GatewayFlutterwave
}

func (a *FlutterwaveAdapter) Verify(req *WebhookRequest) error {
	if a.skipVerify {
		return nil
	}
	if !constantTimeEquals(req.Header.Get(flutterwaveHashHeader), a.webhookHash) {
		return pkgerrors.New(pkgerrors.CodeSignature, "flutterwave hash mismatch")
	}
	return nil
}

type flutterwaveEvent struct {
	Event string `json:"event"`
	Data  struct {
		TxRef  string          `json:"tx_ref"`
		Amount decimal.Decimal `json:"amount"`
		Status string          `json:"status"`
	} `json:"data"`
}

func (a *FlutterwaveAdapter) Normalize(body []byte) (*PaymentEvent, error) {
	var event flutterwaveEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode flutterwave payload")
	}

	if event.Event != "charge.completed" {
		return nil, pkgerrors.New(pkgerrors.CodeUnsupportedEvent, "unsupported flutterwave event").
			WithDetails(map[string]string{"event": event.Event})
	}
	if event.Data.TxRef == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "flutterwave tx_ref missing")
	}

	outcome := enums.EventOutcomeFailed
	if event.Data.Status == "successful" {
		outcome = enums.EventOutcomeSuccess
	}

	return &PaymentEvent{
		Reference:  event.Data.TxRef,
		Gateway:    enums.GatewayFlutterwave,
		Outcome:    outcome,
		Amount:     event.Data.Amount,
		EventType:  event.Event,
		RawPayload: json.RawMessage(body),
	}, nil
}
