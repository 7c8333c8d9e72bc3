package gateways

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"net/http"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/divuzki/cartlogs-backend/pkg/enums"
	pkgerrors "github.com/divuzki/cartlogs-backend/pkg/errors"
)

const testSecret = "sk_test_secret"

func sign(t *testing.T, body []byte, secret string) string {
	t.Helper()
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func webhookReq(body []byte, header, value string) *WebhookRequest {
	h := http.Header{}
	if header != "" {
		h.Set(header, value)
	}
	return &WebhookRequest{Body: body, Header: h}
}

func TestKorapayAdapter_VerifyValidSignature(t *testing.T) {
	adapter := NewKorapayAdapter(testSecret, false)
	body := []byte(`{"event":"charge.success","data":{"reference":"ref-1","amount":5000}}`)
	req := webhookReq(body, korapaySignatureHeader, sign(t, body, testSecret))
	if err := adapter.Verify(req); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}
}

func TestKorapayAdapter_VerifyRejectsTamperedBody(t *testing.T) {
	adapter := NewKorapayAdapter(testSecret, false)
	body := []byte(`{"event":"charge.success","data":{"reference":"ref-1","amount":5000}}`)
	signature := sign(t, body, testSecret)
	tampered := []byte(`{"event":"charge.success","data":{"reference":"ref-1","amount":9000}}`)
	err := adapter.Verify(webhookReq(tampered, korapaySignatureHeader, signature))
	if !pkgerrors.Is(err, pkgerrors.CodeSignature) {
		t.Fatalf("expected signature error, got %v", err)
	}
}

func TestKorapayAdapter_VerifyRejectsMissingHeader(t *testing.T) {
	adapter := NewKorapayAdapter(testSecret, false)
	err := adapter.Verify(webhookReq([]byte(`{}`), "", ""))
	if !pkgerrors.Is(err, pkgerrors.CodeSignature) {
		t.Fatalf("expected signature error, got %v", err)
	}
}

func TestKorapayAdapter_SkipVerify(t *testing.T) {
	adapter := NewKorapayAdapter(testSecret, true)
	if err := adapter.Verify(webhookReq([]byte(`{}`), "", "")); err != nil {
		t.Fatalf("expected skip-verify to bypass signature check, got %v", err)
	}
}

func TestKorapayAdapter_NormalizeSuccess(t *testing.T) {
	adapter := NewKorapayAdapter(testSecret, false)
	body := []byte(`{"event":"charge.success","data":{"reference":"ref-1","amount":500000,"status":"success"}}`)
	event, err := adapter.Normalize(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event.Reference != "ref-1" {
		t.Fatalf("expected reference ref-1, got %s", event.Reference)
	}
	if event.Gateway != enums.GatewayKorapay {
		t.Fatalf("expected korapay gateway, got %s", event.Gateway)
	}
	if event.Outcome != enums.EventOutcomeSuccess {
		t.Fatalf("expected success outcome, got %s", event.Outcome)
	}
	if !event.Amount.Equal(decimal.NewFromInt(5000)) {
		t.Fatalf("expected 500000 kobo to normalize to 5000 naira, got %s", event.Amount)
	}
}

func TestKorapayAdapter_NormalizeFailed(t *testing.T) {
	adapter := NewKorapayAdapter(testSecret, false)
	body := []byte(`{"event":"charge.failed","data":{"reference":"ref-2","amount":1500}}`)
	event, err := adapter.Normalize(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event.Outcome != enums.EventOutcomeFailed {
		t.Fatalf("expected failed outcome, got %s", event.Outcome)
	}
}

func TestKorapayAdapter_NormalizeDispute(t *testing.T) {
	adapter := NewKorapayAdapter(testSecret, false)
	body := []byte(`{"event":"charge.dispute.create","data":{"reference":"ref-3","amount":1500}}`)
	event, err := adapter.Normalize(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !event.OperatorNotice {
		t.Fatal("expected dispute to be flagged as operator notice")
	}
}

func TestKorapayAdapter_NormalizeUnsupportedEvent(t *testing.T) {
	adapter := NewKorapayAdapter(testSecret, false)
	body := []byte(`{"event":"transfer.success","data":{"reference":"ref-4","amount":1500}}`)
	_, err := adapter.Normalize(body)
	if !pkgerrors.Is(err, pkgerrors.CodeUnsupportedEvent) {
		t.Fatalf("expected unsupported event error, got %v", err)
	}
}

func TestKorapayAdapter_NormalizeMissingReference(t *testing.T) {
	adapter := NewKorapayAdapter(testSecret, false)
	body := []byte(`{"event":"charge.success","data":{"amount":1500}}`)
	_, err := adapter.Normalize(body)
	if !pkgerrors.Is(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestPaystackAdapter_NormalizeConvertsKobo(t *testing.T) {
	adapter := NewPaystackAdapter(testSecret, false)
	body := []byte(`{"event":"charge.success","data":{"reference":"ps-1","amount":500000,"status":"success"}}`)
	event, err := adapter.Normalize(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !event.Amount.Equal(decimal.NewFromInt(5000)) {
		t.Fatalf("expected 500000 kobo to normalize to 5000 naira, got %s", event.Amount)
	}
	if event.Gateway != enums.GatewayPaystack {
		t.Fatalf("expected paystack gateway, got %s", event.Gateway)
	}
}

func TestPaystackAdapter_NormalizeNonSuccessStatus(t *testing.T) {
	adapter := NewPaystackAdapter(testSecret, false)
	body := []byte(`{"event":"charge.success","data":{"reference":"ps-2","amount":100000,"status":"abandoned"}}`)
	event, err := adapter.Normalize(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event.Outcome != enums.EventOutcomeFailed {
		t.Fatalf("expected failed outcome for abandoned charge, got %s", event.Outcome)
	}
}

func TestPaystackAdapter_VerifyUsesPaystackHeader(t *testing.T) {
	adapter := NewPaystackAdapter(testSecret, false)
	body := []byte(`{"event":"charge.success","data":{"reference":"ps-1","amount":100}}`)
	req := webhookReq(body, paystackSignatureHeader, sign(t, body, testSecret))
	if err := adapter.Verify(req); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}
}

func TestFlutterwaveAdapter_VerifyHash(t *testing.T) {
	adapter := NewFlutterwaveAdapter("shared-hash", false)
	if err := adapter.Verify(webhookReq(nil, flutterwaveHashHeader, "shared-hash")); err != nil {
		t.Fatalf("expected matching hash to verify, got %v", err)
	}
	err := adapter.Verify(webhookReq(nil, flutterwaveHashHeader, "wrong-hash"))
	if !pkgerrors.Is(err, pkgerrors.CodeSignature) {
		t.Fatalf("expected signature error, got %v", err)
	}
}

func TestFlutterwaveAdapter_VerifyRejectsEmptyConfiguredHash(t *testing.T) {
	adapter := NewFlutterwaveAdapter("", false)
	err := adapter.Verify(webhookReq(nil, flutterwaveHashHeader, ""))
	if !pkgerrors.Is(err, pkgerrors.CodeSignature) {
		t.Fatalf("expected empty hashes to be rejected, got %v", err)
	}
}

func TestFlutterwaveAdapter_NormalizeSuccessful(t *testing.T) {
	adapter := NewFlutterwaveAdapter("shared-hash", false)
	body := []byte(`{"event":"charge.completed","data":{"tx_ref":"flw-1","amount":2500,"status":"successful"}}`)
	event, err := adapter.Normalize(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event.Outcome != enums.EventOutcomeSuccess {
		t.Fatalf("expected success outcome, got %s", event.Outcome)
	}
	if event.Reference != "flw-1" {
		t.Fatalf("expected tx_ref flw-1, got %s", event.Reference)
	}
	if !event.Amount.Equal(decimal.NewFromInt(2500)) {
		t.Fatalf("flutterwave amounts are already naira, got %s", event.Amount)
	}
}

func TestFlutterwaveAdapter_NormalizeFailedStatus(t *testing.T) {
	adapter := NewFlutterwaveAdapter("shared-hash", false)
	body := []byte(`{"event":"charge.completed","data":{"tx_ref":"flw-2","amount":2500,"status":"failed"}}`)
	event, err := adapter.Normalize(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event.Outcome != enums.EventOutcomeFailed {
		t.Fatalf("expected failed outcome, got %s", event.Outcome)
	}
}

func TestFlutterwaveAdapter_NormalizeUnsupportedEvent(t *testing.T) {
	adapter := NewFlutterwaveAdapter("shared-hash", false)
	body := []byte(`{"event":"transfer.completed","data":{"tx_ref":"flw-3"}}`)
	_, err := adapter.Normalize(body)
	if !pkgerrors.Is(err, pkgerrors.CodeUnsupportedEvent) {
		t.Fatalf("expected unsupported event error, got %v", err)
	}
}

func TestEtegramAdapter_Normalize(t *testing.T) {
	adapter := NewEtegramAdapter(testSecret, false)
	body := []byte(`{"event":"transaction.successful","data":{"reference":"ete-1","amount":250000}}`)
	event, err := adapter.Normalize(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event.Gateway != enums.GatewayEtegram {
		t.Fatalf("expected etegram gateway, got %s", event.Gateway)
	}
	if event.Outcome != enums.EventOutcomeSuccess {
		t.Fatalf("expected success outcome, got %s", event.Outcome)
	}
	if !event.Amount.Equal(decimal.NewFromInt(2500)) {
		t.Fatalf("expected 250000 kobo to normalize to 2500 naira, got %s", event.Amount)
	}
}

func TestEtegramAdapter_NormalizeFailed(t *testing.T) {
	adapter := NewEtegramAdapter(testSecret, false)
	body := []byte(`{"event":"transaction.failed","data":{"reference":"ete-2","amount":100000}}`)
	event, err := adapter.Normalize(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event.Outcome != enums.EventOutcomeFailed {
		t.Fatalf("expected failed outcome, got %s", event.Outcome)
	}
}

func TestAdapters_MalformedPayload(t *testing.T) {
	adapters := []Adapter{
		NewKorapayAdapter(testSecret, false),
		NewPaystackAdapter(testSecret, false),
		NewFlutterwaveAdapter("hash", false),
		NewEtegramAdapter(testSecret, false),
	}
	for _, adapter := range adapters {
		_, err := adapter.Normalize([]byte(`{not json`))
		if !pkgerrors.Is(err, pkgerrors.CodeValidation) {
			t.Fatalf("%s: expected validation error for malformed payload, got %v", adapter.Gateway(), err)
		}
	}
}
