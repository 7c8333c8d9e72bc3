package funding

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/divuzki/cartlogs-backend/internal/gateways"
	"github.com/divuzki/cartlogs-backend/internal/ledger"
	"github.com/divuzki/cartlogs-backend/internal/notify"
	"github.com/divuzki/cartlogs-backend/internal/reconcile"
	"github.com/divuzki/cartlogs-backend/pkg/config"
	"github.com/divuzki/cartlogs-backend/pkg/db/models"
	"github.com/divuzki/cartlogs-backend/pkg/enums"
	pkgerrors "github.com/divuzki/cartlogs-backend/pkg/errors"
	"github.com/divuzki/cartlogs-backend/pkg/etegram"
	"github.com/divuzki/cartlogs-backend/pkg/korapay"
	"github.com/divuzki/cartlogs-backend/pkg/logger"
	"github.com/divuzki/cartlogs-backend/pkg/redis"
)

type testRunner struct {
	db *gorm.DB
}

func (r *testRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

type fakeKorapay struct {
	lastParams korapay.ChargeParams
	err        error
}

func (f *fakeKorapay) InitializeCharge(_ context.Context, params korapay.ChargeParams) (*korapay.Charge, error) {
	f.lastParams = params
	if f.err != nil {
		return nil, f.err
	}
	return &korapay.Charge{Reference: params.Reference, CheckoutURL: "https://checkout.korapay.com/" + params.Reference}, nil
}

type fakeEtegram struct {
	lastParams etegram.TransactionParams
	err        error
}

func (f *fakeEtegram) InitializeTransaction(_ context.Context, params etegram.TransactionParams) (*etegram.Transaction, error) {
	f.lastParams = params
	if f.err != nil {
		return nil, f.err
	}
	return &etegram.Transaction{Reference: params.Reference, CheckoutURL: "https://pay.etegram.com/" + params.Reference}, nil
}

type fakeTokenStore struct {
	mu     sync.Mutex
	values map[string]string
}

func newFakeTokenStore() *fakeTokenStore {
	return &fakeTokenStore{values: map[string]string{}}
}

func (f *fakeTokenStore) Set(_ context.Context, key string, value any, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch v := value.(type) {
	case []byte:
		f.values[key] = string(v)
	default:
		f.values[key] = fmt.Sprint(v)
	}
	return nil
}

func (f *fakeTokenStore) Get(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	value, ok := f.values[key]
	if !ok {
		return "", redis.Nil
	}
	return value, nil
}

func (f *fakeTokenStore) GetDel(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	value, ok := f.values[key]
	if !ok {
		return "", redis.Nil
	}
	delete(f.values, key)
	return value, nil
}

func (f *fakeTokenStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.values[key]; ok {
		return false, nil
	}
	f.values[key] = fmt.Sprint(value)
	return true, nil
}

func (f *fakeTokenStore) Del(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, key := range keys {
		delete(f.values, key)
	}
	return nil
}

func (f *fakeTokenStore) ManualTokenKey(reference string) string {
	return "cl:manual_token:" + reference
}

func (f *fakeTokenStore) IdempotencyKey(scope, id string) string {
	return "cl:idempotency:" + scope + ":" + id
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []notify.Notice
}

func (n *recordingNotifier) NotifyOperator(_ context.Context, notice notify.Notice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.notices)
}

// flakyLedgerRepo injects a single transient failure on the reference lookup.
type flakyLedgerRepo struct {
	ledger.Repository
	failNextFind bool
}

func (r *flakyLedgerRepo) FindTransactionByReference(ctx context.Context, reference string) (*models.Transaction, error) {
	if r.failNextFind {
		r.failNextFind = false
		return nil, errors.New("connection reset")
	}
	return r.Repository.FindTransactionByReference(ctx, reference)
}

type fundingFixture struct {
	svc       Service
	repo      ledger.Repository
	flaky     *flakyLedgerRepo
	ledger    ledger.Service
	reconcile reconcile.Service
	kp        *fakeKorapay
	ete       *fakeEtegram
	notifier  *recordingNotifier
}

func setupFundingTest(t *testing.T) *fundingFixture {
	t.Helper()

	dsn := fmt.Sprintf("file:funding_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	wallets := `
CREATE TABLE IF NOT EXISTS wallets (
  id TEXT PRIMARY KEY,
  account_id TEXT NOT NULL UNIQUE,
  balance NUMERIC NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME
);`
	transactions := `
CREATE TABLE IF NOT EXISTS transactions (
  id TEXT PRIMARY KEY,
  wallet_id TEXT NOT NULL,
  reference TEXT UNIQUE,
  gateway TEXT NOT NULL DEFAULT 'unknown',
  kind TEXT NOT NULL DEFAULT 'unknown',
  amount NUMERIC NOT NULL,
  description TEXT,
  status TEXT NOT NULL DEFAULT 'pending',
  created_at DATETIME,
  updated_at DATETIME
);`
	require.NoError(t, db.Exec(wallets).Error)
	require.NoError(t, db.Exec(transactions).Error)

	runner := &testRunner{db: db}
	repo := ledger.NewRepository(db)
	ledgerSvc, err := ledger.NewService(repo, runner)
	require.NoError(t, err)

	manual, err := gateways.NewManualTokenManager(newFakeTokenStore(), time.Hour)
	require.NoError(t, err)

	kp := &fakeKorapay{}
	ete := &fakeEtegram{}
	notifier := &recordingNotifier{}
	log := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})

	reconcileSvc, err := reconcile.NewService(repo, ledgerSvc, runner, nil, log)
	require.NoError(t, err)

	flaky := &flakyLedgerRepo{Repository: repo}
	svc, err := NewService(Deps{
		Repo:     flaky,
		Ledger:   ledgerSvc,
		Korapay:  kp,
		Etegram:  ete,
		Manual:   manual,
		Notifier: notifier,
		Logger:   log,
		KorapayCfg: config.KorapayConfig{
			MinAmount: 1000,
			MaxAmount: 10000000,
		},
		EtegramCfg: config.EtegramConfig{
			MinAmount: 1000,
			MaxAmount: 10000000,
		},
		ManualCfg: config.ManualTransferConfig{
			MinAmount:     1000,
			MaxAmount:     10000000,
			BankName:      "Test Bank",
			AccountName:   "Cartlogs Ltd",
			AccountNumber: "0123456789",
		},
	})
	require.NoError(t, err)

	return &fundingFixture{svc: svc, repo: repo, flaky: flaky, ledger: ledgerSvc, reconcile: reconcileSvc, kp: kp, ete: ete, notifier: notifier}
}

func TestGatewayFee(t *testing.T) {
	cases := []struct {
		amount   int64
		expected string
	}{
		{1000, "100"},
		{2500, "100"},
		{2501, "162.53"},
		{10000, "350"},
	}
	for _, tc := range cases {
		fee := GatewayFee(decimal.NewFromInt(tc.amount))
		expected, err := decimal.NewFromString(tc.expected)
		require.NoError(t, err)
		if !fee.Equal(expected) {
			t.Fatalf("amount %d: expected fee %s, got %s", tc.amount, tc.expected, fee)
		}
	}
}

func TestService_FundWalletKorapay(t *testing.T) {
	f := setupFundingTest(t)
	accountID := uuid.New()

	result, err := f.svc.FundWallet(context.Background(), FundInput{
		AccountID: accountID,
		Amount:    decimal.NewFromInt(5000),
		Gateway:   enums.GatewayKorapay,
		Email:     "buyer@example.com",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.CheckoutURL == "" {
		t.Fatal("expected checkout url")
	}
	if !result.Fee.Equal(decimal.NewFromInt(225)) {
		t.Fatalf("expected fee 225 on 5000, got %s", result.Fee)
	}
	if !f.kp.lastParams.Amount.Equal(decimal.NewFromInt(5225)) {
		t.Fatalf("provider must be charged amount plus fee, got %s", f.kp.lastParams.Amount)
	}

	// Pending transaction recorded for the base amount.
	transaction, err := f.repo.FindTransactionByReference(context.Background(), result.Reference)
	require.NoError(t, err)
	if transaction.Status != enums.TransactionStatusPending {
		t.Fatalf("expected pending transaction, got %s", transaction.Status)
	}
	if !transaction.Amount.Equal(decimal.NewFromInt(5000)) {
		t.Fatalf("expected recorded amount 5000, got %s", transaction.Amount)
	}
	if transaction.Gateway != enums.GatewayKorapay {
		t.Fatalf("expected korapay gateway, got %s", transaction.Gateway)
	}

	// Balance is untouched until the webhook settles.
	view, err := f.svc.GetWallet(context.Background(), accountID)
	require.NoError(t, err)
	if !view.Wallet.Balance.IsZero() {
		t.Fatalf("balance must stay zero before settlement, got %s", view.Wallet.Balance)
	}
}

func TestService_FundWalletEtegram(t *testing.T) {
	f := setupFundingTest(t)

	result, err := f.svc.FundWallet(context.Background(), FundInput{
		AccountID: uuid.New(),
		Amount:    decimal.NewFromInt(2000),
		Gateway:   enums.GatewayEtegram,
		Email:     "buyer@example.com",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Fee.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("expected flat fee 100 on 2000, got %s", result.Fee)
	}
	if !f.ete.lastParams.Amount.Equal(decimal.NewFromInt(2100)) {
		t.Fatalf("provider must be charged 2100, got %s", f.ete.lastParams.Amount)
	}
}

func TestService_FundWalletBelowMinimum(t *testing.T) {
	f := setupFundingTest(t)

	_, err := f.svc.FundWallet(context.Background(), FundInput{
		AccountID: uuid.New(),
		Amount:    decimal.NewFromInt(999),
		Gateway:   enums.GatewayKorapay,
	})
	if !pkgerrors.Is(err, pkgerrors.CodeInvalidAmount) {
		t.Fatalf("expected invalid amount error, got %v", err)
	}
}

func TestService_FundWalletAboveMaximum(t *testing.T) {
	f := setupFundingTest(t)

	_, err := f.svc.FundWallet(context.Background(), FundInput{
		AccountID: uuid.New(),
		Amount:    decimal.NewFromInt(10000001),
		Gateway:   enums.GatewayEtegram,
	})
	if !pkgerrors.Is(err, pkgerrors.CodeInvalidAmount) {
		t.Fatalf("expected invalid amount error, got %v", err)
	}
}

func TestService_FundWalletUnsupportedGateway(t *testing.T) {
	f := setupFundingTest(t)

	for _, gateway := range []enums.Gateway{enums.GatewayPaystack, enums.GatewayFlutterwave, enums.GatewayWallet} {
		_, err := f.svc.FundWallet(context.Background(), FundInput{
			AccountID: uuid.New(),
			Amount:    decimal.NewFromInt(5000),
			Gateway:   gateway,
		})
		if !pkgerrors.Is(err, pkgerrors.CodeValidation) {
			t.Fatalf("%s: expected validation error, got %v", gateway, err)
		}
	}
}

func TestService_FundWalletProviderFailureLeavesNoTransaction(t *testing.T) {
	f := setupFundingTest(t)
	f.kp.err = pkgerrors.New(pkgerrors.CodeDependency, "provider down")
	accountID := uuid.New()

	_, err := f.svc.FundWallet(context.Background(), FundInput{
		AccountID: accountID,
		Amount:    decimal.NewFromInt(5000),
		Gateway:   enums.GatewayKorapay,
	})
	if !pkgerrors.Is(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}

	view, err := f.svc.GetWallet(context.Background(), accountID)
	require.NoError(t, err)
	if len(view.Transactions) != 0 {
		t.Fatalf("failed initiation must leave no pending row, got %d", len(view.Transactions))
	}
}

func TestService_ManualFlow(t *testing.T) {
	f := setupFundingTest(t)
	accountID := uuid.New()

	initiated, err := f.svc.InitiateManual(context.Background(), accountID, decimal.NewFromInt(3000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if initiated.BankName != "Test Bank" || initiated.AccountNumber != "0123456789" {
		t.Fatalf("expected configured bank details, got %+v", initiated)
	}

	// Confirmation only flags the transfer; the money stays out of the
	// wallet until the operator settles the pending transaction.
	transaction, err := f.svc.ConfirmManual(context.Background(), initiated.Reference)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if transaction.Gateway != enums.GatewayManual {
		t.Fatalf("expected manual gateway, got %s", transaction.Gateway)
	}
	if transaction.Status != enums.TransactionStatusPending {
		t.Fatalf("confirmation must not settle the transaction, got %s", transaction.Status)
	}
	if f.notifier.count() != 1 {
		t.Fatalf("expected operator notice for manual confirmation, got %d", f.notifier.count())
	}

	view, err := f.svc.GetWallet(context.Background(), accountID)
	require.NoError(t, err)
	if !view.Wallet.Balance.IsZero() {
		t.Fatalf("balance must stay zero until the operator settles, got %s", view.Wallet.Balance)
	}

	// Operator verifies the bank statement and settles through the same
	// pipeline the gateway webhooks use.
	result, err := f.reconcile.Process(context.Background(), &gateways.PaymentEvent{
		Reference: initiated.Reference,
		Gateway:   enums.GatewayManual,
		Outcome:   enums.EventOutcomeSuccess,
		Amount:    decimal.NewFromInt(3000),
	})
	require.NoError(t, err)
	if result.Duplicate {
		t.Fatal("first settlement must not be a duplicate")
	}

	view, err = f.svc.GetWallet(context.Background(), accountID)
	require.NoError(t, err)
	if !view.Wallet.Balance.Equal(decimal.NewFromInt(3000)) {
		t.Fatalf("expected balance 3000 after settlement, got %s", view.Wallet.Balance)
	}
}

func TestService_ManualConfirmIsSingleUse(t *testing.T) {
	f := setupFundingTest(t)
	accountID := uuid.New()

	initiated, err := f.svc.InitiateManual(context.Background(), accountID, decimal.NewFromInt(2000))
	require.NoError(t, err)

	_, err = f.svc.ConfirmManual(context.Background(), initiated.Reference)
	require.NoError(t, err)

	_, err = f.svc.ConfirmManual(context.Background(), initiated.Reference)
	if !pkgerrors.Is(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found on replayed confirmation, got %v", err)
	}

	view, err := f.svc.GetWallet(context.Background(), accountID)
	require.NoError(t, err)
	if len(view.Transactions) != 1 {
		t.Fatalf("expected exactly one pending row, got %d", len(view.Transactions))
	}
	if !view.Wallet.Balance.IsZero() {
		t.Fatalf("confirmation must never credit, got %s", view.Wallet.Balance)
	}
}

func TestService_ManualConfirmTransientFailureKeepsToken(t *testing.T) {
	f := setupFundingTest(t)
	accountID := uuid.New()

	initiated, err := f.svc.InitiateManual(context.Background(), accountID, decimal.NewFromInt(2000))
	require.NoError(t, err)

	f.flaky.failNextFind = true
	_, err = f.svc.ConfirmManual(context.Background(), initiated.Reference)
	if !pkgerrors.Is(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}
	if f.notifier.count() != 0 {
		t.Fatalf("failed confirm must not notify the operator, got %d notices", f.notifier.count())
	}

	// The one-time token survives the transient failure, so the customer's
	// retry goes through.
	transaction, err := f.svc.ConfirmManual(context.Background(), initiated.Reference)
	if err != nil {
		t.Fatalf("retry must succeed, got %v", err)
	}
	if transaction.Status != enums.TransactionStatusPending {
		t.Fatalf("expected pending transaction, got %s", transaction.Status)
	}
	if f.notifier.count() != 1 {
		t.Fatalf("expected one operator notice after the retry, got %d", f.notifier.count())
	}
}

func TestService_ManualInitiateValidatesLimits(t *testing.T) {
	f := setupFundingTest(t)

	_, err := f.svc.InitiateManual(context.Background(), uuid.New(), decimal.NewFromInt(500))
	if !pkgerrors.Is(err, pkgerrors.CodeInvalidAmount) {
		t.Fatalf("expected invalid amount error, got %v", err)
	}
}

func TestService_GetWalletListsHistory(t *testing.T) {
	f := setupFundingTest(t)
	accountID := uuid.New()

	initiated, err := f.svc.InitiateManual(context.Background(), accountID, decimal.NewFromInt(2000))
	require.NoError(t, err)
	_, err = f.svc.ConfirmManual(context.Background(), initiated.Reference)
	require.NoError(t, err)

	view, err := f.svc.GetWallet(context.Background(), accountID)
	require.NoError(t, err)
	if len(view.Transactions) != 1 {
		t.Fatalf("expected one transaction in history, got %d", len(view.Transactions))
	}
	if view.Transactions[0].Kind != enums.TransactionKindCredit {
		t.Fatalf("expected credit in history, got %s", view.Transactions[0].Kind)
	}
	if view.Transactions[0].Status != enums.TransactionStatusPending {
		t.Fatalf("expected pending credit awaiting verification, got %s", view.Transactions[0].Status)
	}
}

func TestService_GetWalletTotalSpent(t *testing.T) {
	f := setupFundingTest(t)
	accountID := uuid.New()

	wallet, err := f.ledger.EnsureWallet(context.Background(), accountID)
	require.NoError(t, err)
	_, err = f.ledger.Credit(context.Background(), ledger.CreditInput{
		WalletID: wallet.ID,
		Amount:   decimal.NewFromInt(5000),
	})
	require.NoError(t, err)
	_, err = f.ledger.Debit(context.Background(), ledger.DebitInput{
		WalletID: wallet.ID,
		Amount:   decimal.NewFromInt(2000),
	})
	require.NoError(t, err)

	view, err := f.svc.GetWallet(context.Background(), accountID)
	require.NoError(t, err)
	if !view.TotalSpent.Equal(decimal.NewFromInt(2000)) {
		t.Fatalf("expected total spent 2000, got %s", view.TotalSpent)
	}
	if !view.Wallet.Balance.Equal(decimal.NewFromInt(3000)) {
		t.Fatalf("expected balance 3000, got %s", view.Wallet.Balance)
	}
}
