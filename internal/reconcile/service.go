package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/divuzki/cartlogs-backend/internal/gateways"
	"github.com/divuzki/cartlogs-backend/internal/ledger"
	"github.com/divuzki/cartlogs-backend/pkg/db/models"
	"github.com/divuzki/cartlogs-backend/pkg/enums"
	pkgerrors "github.com/divuzki/cartlogs-backend/pkg/errors"
	"github.com/divuzki/cartlogs-backend/pkg/logger"
)

// inflightTTL bounds how long a delivery holds its processing guard. Long
// enough to cover one processing attempt, short enough that a crashed worker
// does not block provider retries.
const inflightTTL = 2 * time.Minute

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// guard serializes concurrent deliveries for the same reference.
type guard interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	IdempotencyKey(scope, id string) string
}

// Result reports what a delivery did to its transaction.
type Result struct {
	Transaction *models.Transaction
	// Duplicate is true when the transaction was already terminal and the
	// delivery changed nothing.
	Duplicate bool
}

// Service applies normalized payment events to pending transactions. A
// reference settles at most once: replays of settled references are
// acknowledged without touching the balance.
type Service interface {
	Process(ctx context.Context, event *gateways.PaymentEvent) (*Result, error)
}

type service struct {
	repo   ledger.Repository
	ledger ledger.Service
	tx     txRunner
	guard  guard
	log    *logger.Logger
}

// NewService wires the reconciliation pipeline. guard may be nil; the status
// check under the transaction row lock alone guarantees idempotency, the
// guard only spares duplicate work under concurrent redelivery.
func NewService(repo ledger.Repository, ledgerSvc ledger.Service, tx txRunner, g guard, log *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if ledgerSvc == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{repo: repo, ledger: ledgerSvc, tx: tx, guard: g, log: log}, nil
}

func (s *service) Process(ctx context.Context, event *gateways.PaymentEvent) (*Result, error) {
	if event == nil || event.Reference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment event reference required")
	}

	ctx = s.log.WithReference(ctx, event.Reference)
	ctx = s.log.WithGateway(ctx, event.Gateway.String())

	release, acquired, err := s.acquire(ctx, event)
	if err != nil {
		return nil, err
	}
	if !acquired {
		// Another worker holds the reference; tell the provider to retry.
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "delivery already in flight")
	}
	// Released on every outcome. Duplicate detection is the locked status
	// check in apply; holding the key after settlement would turn provider
	// replays into conflicts instead of acknowledged duplicates.
	defer release()

	return s.apply(ctx, event)
}

func (s *service) acquire(ctx context.Context, event *gateways.PaymentEvent) (func(), bool, error) {
	if s.guard == nil {
		return func() {}, true, nil
	}
	key := s.guard.IdempotencyKey("webhook", event.Gateway.String()+":"+event.Reference)
	ok, err := s.guard.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), inflightTTL)
	if err != nil {
		// Redis being down must not stop settlements.
		s.log.Warn(ctx, "idempotency guard unavailable, continuing without it")
		return func() {}, true, nil
	}
	release := func() {
		if err := s.guard.Del(context.WithoutCancel(ctx), key); err != nil {
			s.log.Warn(ctx, "failed to release idempotency guard")
		}
	}
	return release, ok, nil
}

func (s *service) apply(ctx context.Context, event *gateways.PaymentEvent) (*Result, error) {
	var result Result
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		// The locked read is what makes settlement exactly-once: without it,
		// two concurrent deliveries under read committed could both observe
		// pending and both credit.
		transaction, err := repo.FindTransactionByReferenceForUpdate(ctx, event.Reference)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "no transaction for reference")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transaction")
		}

		if transaction.Status.IsTerminal() {
			s.log.Info(ctx, "duplicate delivery for settled transaction, skipping")
			result = Result{Transaction: transaction, Duplicate: true}
			return nil
		}

		switch event.Outcome {
		case enums.EventOutcomeSuccess:
			// The pending transaction's amount is authoritative: the charge
			// the provider reports includes the gateway fee, which never
			// lands in the wallet.
			if !event.Amount.Equal(transaction.Amount) {
				s.log.Warn(ctx, "provider amount differs from recorded transaction amount")
			}
			settled, err := s.ledger.CreditTx(ctx, tx, ledger.CreditInput{
				WalletID:    transaction.WalletID,
				Amount:      transaction.Amount,
				Transaction: transaction,
				Gateway:     event.Gateway,
				Description: "Credited",
			})
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeReconciliation, err, "credit wallet")
			}
			result = Result{Transaction: settled}
			return nil

		case enums.EventOutcomeFailed:
			transaction.Status = enums.TransactionStatusFailed
			transaction.Description = "Payment failed"
			if err := repo.SaveTransaction(ctx, transaction); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeReconciliation, err, "mark transaction failed")
			}
			result = Result{Transaction: transaction}
			return nil

		default:
			return pkgerrors.New(pkgerrors.CodeUnsupportedEvent, "event outcome not recognized")
		}
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}
