package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/divuzki/cartlogs-backend/pkg/db"
	"github.com/divuzki/cartlogs-backend/pkg/db/models"
	"github.com/divuzki/cartlogs-backend/pkg/enums"
	pkgerrors "github.com/divuzki/cartlogs-backend/pkg/errors"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service owns every wallet balance mutation. All operations hold the wallet
// row lock for exactly one read-modify-write cycle; the balance never goes
// negative and the transaction-status write commits in the same unit.
type Service interface {
	Credit(ctx context.Context, input CreditInput) (*models.Transaction, error)
	Debit(ctx context.Context, input DebitInput) (*models.Transaction, error)
	Refund(ctx context.Context, input RefundInput) (*models.Transaction, error)

	// CreditTx and DebitTx run inside the caller's transaction so order
	// settlement can compose a debit with allocation atomically.
	CreditTx(ctx context.Context, tx *gorm.DB, input CreditInput) (*models.Transaction, error)
	DebitTx(ctx context.Context, tx *gorm.DB, input DebitInput) (*models.Transaction, error)

	// CancelTransactionTx cancels a pending transaction. Terminal
	// transactions are rejected with ALREADY_SETTLED.
	CancelTransactionTx(ctx context.Context, tx *gorm.DB, transactionID uuid.UUID) (*models.Transaction, error)

	EnsureWallet(ctx context.Context, accountID uuid.UUID) (*models.Wallet, error)
}

type service struct {
	repo Repository
	tx   txRunner
}

// CreditInput describes a balance increase. When Transaction carries an
// existing pending record it is flipped to success and reused instead of a
// new row being created.
type CreditInput struct {
	WalletID    uuid.UUID
	Amount      decimal.Decimal
	Transaction *models.Transaction
	Gateway     enums.Gateway
	Description string
}

// DebitInput mirrors CreditInput for balance decreases.
type DebitInput struct {
	WalletID    uuid.UUID
	Amount      decimal.Decimal
	Transaction *models.Transaction
	Gateway     enums.Gateway
	Description string
}

// RefundInput credits back a previously debited amount.
type RefundInput struct {
	WalletID              uuid.UUID
	Amount                decimal.Decimal
	OriginalTransactionID uuid.UUID
}

// NewService wires a ledger service with the provided repository and runner.
func NewService(repo Repository, tx txRunner) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	return &service{repo: repo, tx: tx}, nil
}

func (s *service) Credit(ctx context.Context, input CreditInput) (*models.Transaction, error) {
	var result *models.Transaction
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		created, err := s.CreditTx(ctx, tx, input)
		if err != nil {
			return err
		}
		result = created
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) Debit(ctx context.Context, input DebitInput) (*models.Transaction, error) {
	var result *models.Transaction
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		created, err := s.DebitTx(ctx, tx, input)
		if err != nil {
			return err
		}
		result = created
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) CreditTx(ctx context.Context, tx *gorm.DB, input CreditInput) (*models.Transaction, error) {
	if err := validAmount(input.Amount); err != nil {
		return nil, err
	}

	repo := s.repo.WithTx(tx)
	wallet, err := repo.FindWalletForUpdate(ctx, input.WalletID)
	if err != nil {
		return nil, walletLookupError(err)
	}

	wallet.Balance = wallet.Balance.Add(input.Amount)
	if err := repo.SaveWallet(ctx, wallet); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist balance")
	}

	return s.settleTransaction(ctx, repo, wallet, input.Transaction, settleParams{
		kind:        enums.TransactionKindCredit,
		amount:      input.Amount,
		gateway:     input.Gateway,
		description: orDefault(input.Description, "Credited"),
	})
}

func (s *service) DebitTx(ctx context.Context, tx *gorm.DB, input DebitInput) (*models.Transaction, error) {
	if err := validAmount(input.Amount); err != nil {
		return nil, err
	}

	repo := s.repo.WithTx(tx)
	wallet, err := repo.FindWalletForUpdate(ctx, input.WalletID)
	if err != nil {
		return nil, walletLookupError(err)
	}

	remaining := wallet.Balance.Sub(input.Amount)
	if remaining.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeInsufficientFunds, "insufficient funds").
			WithDetails(map[string]string{"balance": wallet.Balance.StringFixed(2)})
	}

	wallet.Balance = remaining
	if err := repo.SaveWallet(ctx, wallet); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist balance")
	}

	return s.settleTransaction(ctx, repo, wallet, input.Transaction, settleParams{
		kind:        enums.TransactionKindDebit,
		amount:      input.Amount,
		gateway:     input.Gateway,
		description: orDefault(input.Description, "Debited"),
	})
}

func (s *service) Refund(ctx context.Context, input RefundInput) (*models.Transaction, error) {
	if err := validAmount(input.Amount); err != nil {
		return nil, err
	}

	var result *models.Transaction
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		original, err := repo.FindTransactionByID(ctx, input.OriginalTransactionID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transaction")
		}
		if original.Kind != enums.TransactionKindDebit {
			return pkgerrors.New(pkgerrors.CodeNotADebit, "transaction is not a debit")
		}

		wallet, err := repo.FindWalletForUpdate(ctx, input.WalletID)
		if err != nil {
			return walletLookupError(err)
		}

		wallet.Balance = wallet.Balance.Add(input.Amount)
		if err := repo.SaveWallet(ctx, wallet); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist balance")
		}

		refund := &models.Transaction{
			WalletID:    wallet.ID,
			Gateway:     enums.GatewayWallet,
			Kind:        enums.TransactionKindRefund,
			Amount:      input.Amount,
			Description: "Refunded",
			Status:      enums.TransactionStatusSuccess,
		}
		if err := repo.CreateTransaction(ctx, refund); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist refund")
		}
		result = refund
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) CancelTransactionTx(ctx context.Context, tx *gorm.DB, transactionID uuid.UUID) (*models.Transaction, error) {
	repo := s.repo.WithTx(tx)
	transaction, err := repo.FindTransactionByID(ctx, transactionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transaction")
	}
	if transaction.Status.IsTerminal() {
		return nil, pkgerrors.New(pkgerrors.CodeAlreadySettled, "transaction already settled").
			WithDetails(map[string]string{"status": transaction.Status.String()})
	}

	transaction.Status = enums.TransactionStatusCancelled
	transaction.Description = "Cancelled"
	if err := repo.SaveTransaction(ctx, transaction); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist cancellation")
	}
	return transaction, nil
}

// EnsureWallet returns the account's wallet, creating it on first use. The
// original flow created wallets lazily whenever an account touched payments.
func (s *service) EnsureWallet(ctx context.Context, accountID uuid.UUID) (*models.Wallet, error) {
	if accountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id required")
	}
	wallet, err := s.repo.FindWalletByAccount(ctx, accountID)
	if err == nil {
		return wallet, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load wallet")
	}

	created := &models.Wallet{AccountID: accountID, Balance: decimal.Zero}
	if err := s.repo.CreateWallet(ctx, created); err != nil {
		if db.IsUniqueViolation(err, "idx_wallets_account_id") {
			// Lost a race against a concurrent first-use create.
			existing, findErr := s.repo.FindWalletByAccount(ctx, accountID)
			if findErr == nil {
				return existing, nil
			}
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create wallet")
	}
	return created, nil
}

type settleParams struct {
	kind        enums.TransactionKind
	amount      decimal.Decimal
	gateway     enums.Gateway
	description string
}

// settleTransaction reuses the supplied pending transaction (the idempotency
// path) or records a fresh settled one.
func (s *service) settleTransaction(ctx context.Context, repo Repository, wallet *models.Wallet, existing *models.Transaction, params settleParams) (*models.Transaction, error) {
	if existing != nil {
		existing.Amount = params.amount
		existing.Status = enums.TransactionStatusSuccess
		existing.Description = params.description
		if err := repo.SaveTransaction(ctx, existing); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist transaction")
		}
		return existing, nil
	}

	gateway := params.gateway
	if gateway == "" {
		gateway = enums.GatewayWallet
	}
	created := &models.Transaction{
		WalletID:    wallet.ID,
		Gateway:     gateway,
		Kind:        params.kind,
		Amount:      params.amount,
		Description: params.description,
		Status:      enums.TransactionStatusSuccess,
	}
	if err := repo.CreateTransaction(ctx, created); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist transaction")
	}
	return created, nil
}

func validAmount(amount decimal.Decimal) error {
	if amount.IsPositive() {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeInvalidAmount, "amount must be positive").
		WithDetails(map[string]string{"amount": "must be greater than zero"})
}

func walletLookupError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "wallet not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load wallet")
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
