package gateways

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	pkgerrors "github.com/divuzki/cartlogs-backend/pkg/errors"
	"github.com/divuzki/cartlogs-backend/pkg/redis"
)

// ManualClaim is the pending manual-transfer intent cached against a
// one-time reference.
type ManualClaim struct {
	AccountID string          `json:"account_id"`
	Amount    decimal.Decimal `json:"amount"`
	IssuedAt  time.Time       `json:"issued_at"`
}

// ManualTokenManager issues and consumes single-use manual-transfer
// references. A reference is burned the moment it is consumed, so a transfer
// can never be confirmed twice.
type ManualTokenManager struct {
	cache redis.TokenStore
	ttl   time.Duration
}

func NewManualTokenManager(cache redis.TokenStore, ttl time.Duration) (*ManualTokenManager, error) {
	if cache == nil {
		return nil, fmt.Errorf("manual token manager requires a token store")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &ManualTokenManager{cache: cache, ttl: ttl}, nil
}

// Issue stores a claim and returns the reference the customer quotes on the
// bank transfer.
func (m *ManualTokenManager) Issue(ctx context.Context, accountID string, amount decimal.Decimal) (string, error) {
	claim := ManualClaim{
		AccountID: accountID,
		Amount:    amount,
		IssuedAt:  time.Now().UTC(),
	}
	payload, err := json.Marshal(claim)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode manual claim")
	}

	reference := "MAN-" + uuid.NewString()
	if err := m.cache.Set(ctx, m.cache.ManualTokenKey(reference), payload, m.ttl); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store manual claim")
	}
	return reference, nil
}

// Consume atomically retrieves and deletes the claim behind a reference.
// Unknown, expired, and already-used references are indistinguishable on
// purpose.
func (m *ManualTokenManager) Consume(ctx context.Context, reference string) (*ManualClaim, error) {
	if reference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "manual reference is required")
	}

	raw, err := m.cache.GetDel(ctx, m.cache.ManualTokenKey(reference))
	if err == redis.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "manual reference expired or already used")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetch manual claim")
	}

	var claim ManualClaim
	if err := json.Unmarshal([]byte(raw), &claim); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode manual claim")
	}
	return &claim, nil
}
