package funding

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/divuzki/cartlogs-backend/internal/gateways"
	"github.com/divuzki/cartlogs-backend/internal/ledger"
	"github.com/divuzki/cartlogs-backend/internal/notify"
	"github.com/divuzki/cartlogs-backend/pkg/config"
	"github.com/divuzki/cartlogs-backend/pkg/db/models"
	"github.com/divuzki/cartlogs-backend/pkg/enums"
	"github.com/divuzki/cartlogs-backend/pkg/etegram"
	pkgerrors "github.com/divuzki/cartlogs-backend/pkg/errors"
	"github.com/divuzki/cartlogs-backend/pkg/korapay"
	"github.com/divuzki/cartlogs-backend/pkg/logger"
)

// feeThreshold and the flat/percent split mirror the charge schedule the
// gateways bill at: flat 100 NGN up to 2500, above that 2.5% + 100.
var (
	feeThreshold = decimal.NewFromInt(2500)
	feeFlat      = decimal.NewFromInt(100)
	feePercent   = decimal.NewFromFloat(0.025)
)

type korapayCharger interface {
	InitializeCharge(ctx context.Context, params korapay.ChargeParams) (*korapay.Charge, error)
}

type etegramCharger interface {
	InitializeTransaction(ctx context.Context, params etegram.TransactionParams) (*etegram.Transaction, error)
}

// FundInput requests a gateway-hosted wallet top-up.
type FundInput struct {
	AccountID uuid.UUID
	Amount    decimal.Decimal
	Gateway   enums.Gateway
	Email     string
}

// FundResult carries what the caller needs to complete payment.
type FundResult struct {
	Reference   string
	CheckoutURL string
	Amount      decimal.Decimal
	Fee         decimal.Decimal
	Total       decimal.Decimal
	Transaction *models.Transaction
}

// ManualInitResult carries the bank details and the one-time reference for a
// manual transfer.
type ManualInitResult struct {
	Reference     string
	Amount        decimal.Decimal
	BankName      string
	AccountName   string
	AccountNumber string
}

// WalletView is the balance plus transaction history surface. TotalSpent
// sums settled debits only; pending and refunded rows never count.
type WalletView struct {
	Wallet       *models.Wallet
	Transactions []models.Transaction
	TotalSpent   decimal.Decimal
}

// Service initiates wallet funding. A pending transaction is only recorded
// once the provider has accepted the charge; the webhook settles it later.
type Service interface {
	FundWallet(ctx context.Context, input FundInput) (*FundResult, error)
	InitiateManual(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal) (*ManualInitResult, error)
	// ConfirmManual consumes the one-time reference and flags the transfer
	// for operator verification. It never moves money; the operator settles
	// the pending transaction through reconciliation after checking the bank
	// statement.
	ConfirmManual(ctx context.Context, reference string) (*models.Transaction, error)
	GetWallet(ctx context.Context, accountID uuid.UUID) (*WalletView, error)
}

type service struct {
	repo      ledger.Repository
	ledger    ledger.Service
	korapay   korapayCharger
	etegram   etegramCharger
	manual    *gateways.ManualTokenManager
	notifier  notify.Notifier
	log       *logger.Logger
	kpLimits  config.AmountLimits
	eteLimits config.AmountLimits
	manualCfg config.ManualTransferConfig
}

// Deps bundles the funding service dependencies.
type Deps struct {
	Repo         ledger.Repository
	Ledger       ledger.Service
	Korapay      korapayCharger
	Etegram      etegramCharger
	Manual       *gateways.ManualTokenManager
	Notifier     notify.Notifier
	Logger       *logger.Logger
	KorapayCfg   config.KorapayConfig
	EtegramCfg   config.EtegramConfig
	ManualCfg    config.ManualTransferConfig
}

// NewService wires the funding service. Korapay and Etegram chargers may be
// nil when the gateway is not configured; funding against them then fails
// with a dependency error.
func NewService(deps Deps) (Service, error) {
	if deps.Repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if deps.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if deps.Manual == nil {
		return nil, fmt.Errorf("manual token manager required")
	}
	if deps.Notifier == nil {
		return nil, fmt.Errorf("notifier required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:      deps.Repo,
		ledger:    deps.Ledger,
		korapay:   deps.Korapay,
		etegram:   deps.Etegram,
		manual:    deps.Manual,
		notifier:  deps.Notifier,
		log:       deps.Logger,
		kpLimits:  deps.KorapayCfg.Limits(),
		eteLimits: deps.EtegramCfg.Limits(),
		manualCfg: deps.ManualCfg,
	}, nil
}

// GatewayFee returns the charge the provider adds on top of amount.
func GatewayFee(amount decimal.Decimal) decimal.Decimal {
	if amount.LessThanOrEqual(feeThreshold) {
		return feeFlat
	}
	return amount.Mul(feePercent).Add(feeFlat).Round(2)
}

func (s *service) FundWallet(ctx context.Context, input FundInput) (*FundResult, error) {
	ctx = s.log.WithAccountID(ctx, input.AccountID.String())
	ctx = s.log.WithGateway(ctx, input.Gateway.String())

	limits, err := s.limitsFor(input.Gateway)
	if err != nil {
		return nil, err
	}
	if err := validateAmount(input.Amount, limits); err != nil {
		return nil, err
	}

	wallet, err := s.ledger.EnsureWallet(ctx, input.AccountID)
	if err != nil {
		return nil, err
	}
	ctx = s.log.WithWalletID(ctx, wallet.ID.String())

	fee := GatewayFee(input.Amount)
	total := input.Amount.Add(fee)
	reference := newFundingReference(input.Gateway)

	checkoutURL, providerRef, err := s.initializeCharge(ctx, input, reference, total)
	if err != nil {
		return nil, err
	}

	// Recorded only after the provider accepted the charge; an initiation
	// that never reached the provider leaves no pending row behind.
	transaction := &models.Transaction{
		WalletID:    wallet.ID,
		Reference:   &providerRef,
		Gateway:     input.Gateway,
		Kind:        enums.TransactionKindCredit,
		Amount:      input.Amount,
		Description: "Wallet funding",
		Status:      enums.TransactionStatusPending,
	}
	if err := s.repo.CreateTransaction(ctx, transaction); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist pending transaction")
	}

	ctx = s.log.WithReference(ctx, providerRef)
	s.log.Info(ctx, "wallet funding initiated")

	return &FundResult{
		Reference:   providerRef,
		CheckoutURL: checkoutURL,
		Amount:      input.Amount,
		Fee:         fee,
		Total:       total,
		Transaction: transaction,
	}, nil
}

func (s *service) initializeCharge(ctx context.Context, input FundInput, reference string, total decimal.Decimal) (checkoutURL, providerRef string, err error) {
	switch input.Gateway {
	case enums.GatewayKorapay:
		if s.korapay == nil {
			return "", "", pkgerrors.New(pkgerrors.CodeDependency, "korapay is not configured")
		}
		charge, err := s.korapay.InitializeCharge(ctx, korapay.ChargeParams{
			Reference:     reference,
			Amount:        total,
			CustomerEmail: input.Email,
			Narration:     "Wallet funding",
		})
		if err != nil {
			return "", "", err
		}
		return charge.CheckoutURL, charge.Reference, nil

	case enums.GatewayEtegram:
		if s.etegram == nil {
			return "", "", pkgerrors.New(pkgerrors.CodeDependency, "etegram is not configured")
		}
		transaction, err := s.etegram.InitializeTransaction(ctx, etegram.TransactionParams{
			Reference:     reference,
			Amount:        total,
			CustomerEmail: input.Email,
		})
		if err != nil {
			return "", "", err
		}
		return transaction.CheckoutURL, transaction.Reference, nil

	default:
		return "", "", pkgerrors.New(pkgerrors.CodeValidation, "gateway does not support funding").
			WithDetails(map[string]string{"gateway": input.Gateway.String()})
	}
}

func (s *service) InitiateManual(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal) (*ManualInitResult, error) {
	ctx = s.log.WithAccountID(ctx, accountID.String())

	if err := validateAmount(amount, s.manualCfg.Limits()); err != nil {
		return nil, err
	}
	wallet, err := s.ledger.EnsureWallet(ctx, accountID)
	if err != nil {
		return nil, err
	}
	ctx = s.log.WithWalletID(ctx, wallet.ID.String())

	reference, err := s.manual.Issue(ctx, accountID.String(), amount)
	if err != nil {
		return nil, err
	}

	// The pending row is what the operator settles later; reconciliation
	// finds it by this reference.
	transaction := &models.Transaction{
		WalletID:    wallet.ID,
		Reference:   &reference,
		Gateway:     enums.GatewayManual,
		Kind:        enums.TransactionKindCredit,
		Amount:      amount,
		Description: "Manual transfer",
		Status:      enums.TransactionStatusPending,
	}
	if err := s.repo.CreateTransaction(ctx, transaction); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist pending transaction")
	}

	ctx = s.log.WithReference(ctx, reference)
	s.log.Info(ctx, "manual transfer initiated")

	return &ManualInitResult{
		Reference:     reference,
		Amount:        amount,
		BankName:      s.manualCfg.BankName,
		AccountName:   s.manualCfg.AccountName,
		AccountNumber: s.manualCfg.AccountNumber,
	}, nil
}

func (s *service) ConfirmManual(ctx context.Context, reference string) (*models.Transaction, error) {
	ctx = s.log.WithReference(ctx, reference)

	// The lookup runs before the token is consumed: a transient load failure
	// must leave the single-use reference intact for the customer's retry.
	transaction, err := s.repo.FindTransactionByReference(ctx, reference)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no transaction for reference")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transaction")
	}

	claim, err := s.manual.Consume(ctx, reference)
	if err != nil {
		return nil, err
	}

	s.notifier.NotifyOperator(ctx, notify.Notice{
		Kind:    notify.KindManualTransfer,
		Subject: "Manual transfer awaiting verification",
		Body: fmt.Sprintf("Account %s reports a transfer of %s NGN under reference %s. Verify the bank statement and settle the transaction.",
			claim.AccountID, claim.Amount.StringFixed(2), reference),
		Fields: map[string]string{
			"reference":  reference,
			"account_id": claim.AccountID,
			"amount":     claim.Amount.StringFixed(2),
		},
	})

	s.log.Info(ctx, "manual transfer confirmed, awaiting verification")
	return transaction, nil
}

func (s *service) GetWallet(ctx context.Context, accountID uuid.UUID) (*WalletView, error) {
	wallet, err := s.ledger.EnsureWallet(ctx, accountID)
	if err != nil {
		return nil, err
	}
	transactions, err := s.repo.ListTransactionsByWallet(ctx, wallet.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list transactions")
	}

	totalSpent := decimal.Zero
	for _, transaction := range transactions {
		if transaction.Kind == enums.TransactionKindDebit && transaction.Status == enums.TransactionStatusSuccess {
			totalSpent = totalSpent.Add(transaction.Amount)
		}
	}
	return &WalletView{Wallet: wallet, Transactions: transactions, TotalSpent: totalSpent}, nil
}

func (s *service) limitsFor(gateway enums.Gateway) (config.AmountLimits, error) {
	switch gateway {
	case enums.GatewayKorapay:
		return s.kpLimits, nil
	case enums.GatewayEtegram:
		return s.eteLimits, nil
	default:
		return config.AmountLimits{}, pkgerrors.New(pkgerrors.CodeValidation, "gateway does not support funding").
			WithDetails(map[string]string{"gateway": gateway.String()})
	}
}

func validateAmount(amount decimal.Decimal, limits config.AmountLimits) error {
	fields := map[string]string{}
	if !amount.IsPositive() {
		fields["amount"] = "must be greater than zero"
	} else {
		if amount.LessThan(limits.Min) {
			fields["amount"] = fmt.Sprintf("must be at least %s", limits.Min.StringFixed(2))
		}
		if amount.GreaterThan(limits.Max) {
			fields["amount"] = fmt.Sprintf("must not exceed %s", limits.Max.StringFixed(2))
		}
	}
	if len(fields) > 0 {
		return pkgerrors.New(pkgerrors.CodeInvalidAmount, "amount outside gateway limits").
			WithDetails(fields)
	}
	return nil
}

func newFundingReference(gateway enums.Gateway) string {
	prefix := "FND"
	switch gateway {
	case enums.GatewayKorapay:
		prefix = "KPY"
	case enums.GatewayEtegram:
		prefix = "ETE"
	}
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}
