package korapay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/divuzki/cartlogs-backend/pkg/config"
	pkgerrors "github.com/divuzki/cartlogs-backend/pkg/errors"
	"github.com/divuzki/cartlogs-backend/pkg/logger"
)

const initializeChargePath = "/merchant/api/v1/charges/initialize"

var (
	errSecretKeyRequired = errors.New("korapay secret key is required")
	errLoggerRequired    = errors.New("korapay logger is required")
)

// Client wraps the Korapay charge API with centralized auth, logging, and
// error mapping.
type Client struct {
	httpClient *http.Client
	secretKey  string
	baseURL    string
	logger     *logger.Logger
}

// ChargeParams describes a hosted-checkout charge initialization. Amount is
// in naira.
type ChargeParams struct {
	Reference     string
	Amount        decimal.Decimal
	Currency      string
	CustomerEmail string
	CustomerName  string
	RedirectURL   string
	Narration     string
}

// Charge is the provider's answer to an initialization: the reference it will
// echo on the webhook and the URL the customer pays at.
type Charge struct {
	Reference   string
	CheckoutURL string
}

// NewClient initializes the Korapay wrapper and validates the credentials.
func NewClient(ctx context.Context, cfg config.KorapayConfig, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	secret := strings.TrimSpace(cfg.SecretKey)
	if secret == "" {
		return nil, errSecretKeyRequired
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	c := &Client{
		httpClient: &http.Client{Timeout: timeout},
		secretKey:  secret,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		logger:     logg,
	}
	logg.Info(ctx, "korapay client initialized")
	return c, nil
}

type chargeRequest struct {
	Reference   string          `json:"reference"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Narration   string          `json:"narration,omitempty"`
	RedirectURL string          `json:"redirect_url,omitempty"`
	Customer    struct {
		Name  string `json:"name,omitempty"`
		Email string `json:"email"`
	} `json:"customer"`
}

type chargeResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		Reference   string `json:"reference"`
		CheckoutURL string `json:"checkout_url"`
	} `json:"data"`
}

// InitializeCharge creates a hosted-checkout charge. The returned reference
// must be persisted before the response is handed to the caller; the webhook
// correlates on it.
func (c *Client) InitializeCharge(ctx context.Context, params ChargeParams) (*Charge, error) {
	if params.Reference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "charge reference required")
	}

	body := chargeRequest{
		Reference:   params.Reference,
		Amount:      params.Amount,
		Currency:    orDefault(params.Currency, "NGN"),
		Narration:   params.Narration,
		RedirectURL: params.RedirectURL,
	}
	body.Customer.Name = params.CustomerName
	body.Customer.Email = params.CustomerEmail

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode charge request")
	}

	c.log(ctx, "request", "initialize_charge", map[string]any{
		"reference": params.Reference,
		"amount":    params.Amount.StringFixed(2),
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+initializeChargePath, bytes.NewReader(payload))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build charge request")
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log(ctx, "error", "initialize_charge", map[string]any{"error": err.Error()})
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "korapay initialize charge failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read charge response")
	}

	var parsed chargeResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		c.log(ctx, "error", "initialize_charge", map[string]any{"error": err.Error(), "status_code": resp.StatusCode})
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode charge response")
	}
	if resp.StatusCode >= 400 || !parsed.Status {
		c.log(ctx, "error", "initialize_charge", map[string]any{
			"status_code": resp.StatusCode,
			"error":       parsed.Message,
		})
		return nil, pkgerrors.New(domainCodeForStatus(resp.StatusCode), "korapay initialize charge failed").
			WithDetails(map[string]string{"provider_message": parsed.Message})
	}

	c.log(ctx, "response", "initialize_charge", map[string]any{
		"reference": parsed.Data.Reference,
	})
	return &Charge{
		Reference:   orDefault(parsed.Data.Reference, params.Reference),
		CheckoutURL: parsed.Data.CheckoutURL,
	}, nil
}

func (c *Client) log(ctx context.Context, phase, op string, fields map[string]any) {
	if c == nil || c.logger == nil {
		return
	}
	logFields := map[string]any{
		"operation": op,
		"phase":     phase,
	}
	for k, v := range fields {
		logFields[k] = redact(k, v)
	}
	ctx = c.logger.WithFields(ctx, logFields)
	switch phase {
	case "error":
		c.logger.Error(ctx, fmt.Sprintf("korapay %s", op), errors.New(fmt.Sprint(fields["error"])))
	default:
		c.logger.Info(ctx, fmt.Sprintf("korapay %s", phase))
	}
}

func redact(key string, value any) any {
	lower := strings.ToLower(key)
	for _, sensitive := range []string{"secret", "email", "token", "key"} {
		if strings.Contains(lower, sensitive) {
			return "[REDACTED]"
		}
	}
	return value
}

func domainCodeForStatus(status int) pkgerrors.Code {
	switch status {
	case http.StatusUnauthorized:
		return pkgerrors.CodeUnauthorized
	case http.StatusForbidden:
		return pkgerrors.CodeForbidden
	case http.StatusNotFound:
		return pkgerrors.CodeNotFound
	case http.StatusConflict:
		return pkgerrors.CodeConflict
	default:
		if status >= 400 && status < 500 {
			return pkgerrors.CodeValidation
		}
		return pkgerrors.CodeDependency
	}
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
