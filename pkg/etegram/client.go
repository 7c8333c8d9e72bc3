package etegram

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

const initializeTransactionPath = "/transaction/initialize"

var (
	errSecretKeyRequired = errors.New("etegram secret key is required")
	errProjectIDRequired = errors.New("etegram project id is required")
	errLoggerRequired    = errors.New("etegram logger is required")
)

// Client wraps the Etegram transaction API.
type Client struct {
	httpClient *http.Client
	secretKey  string
	projectID  string
	baseURL    string
	logger     *logger.Logger
}

// TransactionParams describes a payment initialization. Amount is in naira;
// the provider expects kobo on the wire.
type TransactionParams struct {
	Reference     string
	Amount        decimal.Decimal
	CustomerEmail string
	CustomerName  string
	RedirectURL   string
}

// Transaction is the provider's answer to an initialization.
type Transaction struct {
	Reference   string
	CheckoutURL string
}

// NewClient initializes the Etegram wrapper and validates the credentials.
func NewClient(ctx context.Context, cfg config.EtegramConfig, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	secret := strings.TrimSpace(cfg.SecretKey)
	if secret == "" {
		return nil, errSecretKeyRequired
	}
	projectID := strings.TrimSpace(cfg.ProjectID)
	if projectID == "" {
		return nil, errProjectIDRequired
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	c := &Client{
		httpClient: &http.Client{Timeout: timeout},
		secretKey:  secret,
		projectID:  projectID,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		logger:     logg,
	}
	logg.Info(ctx, "etegram client initialized")
	return c, nil
}

type transactionRequest struct {
	Reference   string `json:"reference"`
	Amount      int64  `json:"amount"`
	Email       string `json:"email"`
	Name        string `json:"name,omitempty"`
	ProjectID   string `json:"projectID"`
	RedirectURL string `json:"redirect_url,omitempty"`
}

type transactionResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    struct {
		Reference   string `json:"reference"`
		CheckoutURL string `json:"checkout_url"`
	} `json:"data"`
}

// InitializeTransaction creates a hosted payment. The reference is echoed on
// the webhook delivery that settles it.
func (c *Client) InitializeTransaction(ctx context.Context, params TransactionParams) (*Transaction, error) {
	if params.Reference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction reference required")
	}

	body := transactionRequest{
		Reference:   params.Reference,
		Amount:      nairaToKobo(params.Amount),
		Email:       params.CustomerEmail,
		Name:        params.CustomerName,
		ProjectID:   c.projectID,
		RedirectURL: params.RedirectURL,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode transaction request")
	}

	c.log(ctx, "request", "initialize_transaction", map[string]any{
		"reference": params.Reference,
		"amount":    params.Amount.StringFixed(2),
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+initializeTransactionPath, bytes.NewReader(payload))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build transaction request")
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log(ctx, "error", "initialize_transaction", map[string]any{"error": err.Error()})
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "etegram initialize transaction failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read transaction response")
	}

	var parsed transactionResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		c.log(ctx, "error", "initialize_transaction", map[string]any{"error": err.Error(), "status_code": resp.StatusCode})
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode transaction response")
	}
	if resp.StatusCode >= 400 || !strings.EqualFold(parsed.Status, "success") {
		c.log(ctx, "error", "initialize_transaction", map[string]any{
			"status_code": resp.StatusCode,
			"error":       parsed.Message,
		})
		return nil, pkgerrors.New(domainCodeForStatus(resp.StatusCode), "etegram initialize transaction failed").
			WithDetails(map[string]string{"provider_message": parsed.Message})
	}

	c.log(ctx, "response", "initialize_transaction", map[string]any{
		"reference": parsed.Data.Reference,
	})
	return &Transaction{
		Reference:   orDefault(parsed.Data.Reference, params.Reference),
		CheckoutURL: parsed.Data.CheckoutURL,
	}, nil
}

func nairaToKobo(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).IntPart()
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
		c.logger.Error(ctx, fmt.Sprintf("etegram %s", op), errors.New(fmt.Sprint(fields["error"])))
	default:
		c.logger.Info(ctx, fmt.Sprintf("etegram %s", phase))
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
