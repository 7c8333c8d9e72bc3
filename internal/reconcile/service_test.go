package reconcile

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
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
	"github.com/divuzki/cartlogs-backend/pkg/db/models"
	"github.com/divuzki/cartlogs-backend/pkg/enums"
	pkgerrors "github.com/divuzki/cartlogs-backend/pkg/errors"
	"github.com/divuzki/cartlogs-backend/pkg/logger"
)

type testRunner struct {
	db *gorm.DB
}

func (r *testRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

type fakeGuard struct {
	claimed  map[string]bool
	released []string
	denyAll  bool
}

func newFakeGuard() *fakeGuard {
	return &fakeGuard{claimed: map[string]bool{}}
}

func (g *fakeGuard) SetNX(_ context.Context, key string, _ any, _ time.Duration) (bool, error) {
	if g.denyAll || g.claimed[key] {
		return false, nil
	}
	g.claimed[key] = true
	return true, nil
}

func (g *fakeGuard) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(g.claimed, key)
		g.released = append(g.released, key)
	}
	return nil
}

func (g *fakeGuard) IdempotencyKey(scope, id string) string {
	return "cl:idempotency:" + scope + ":" + id
}

type fixture struct {
	svc    Service
	ledger ledger.Service
	repo   ledger.Repository
	runner *testRunner
	guard  *fakeGuard
}

func setupReconcileTest(t *testing.T) *fixture {
	t.Helper()

	dsn := fmt.Sprintf("file:reconcile_%s?mode=memory&cache=shared", uuid.NewString())
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

	g := newFakeGuard()
	log := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	svc, err := NewService(repo, ledgerSvc, runner, g, log)
	require.NoError(t, err)

	return &fixture{svc: svc, ledger: ledgerSvc, repo: repo, runner: runner, guard: g}
}

func (f *fixture) seedPending(t *testing.T, reference string, amount decimal.Decimal) (*models.Wallet, *models.Transaction) {
	t.Helper()

	wallet, err := f.ledger.EnsureWallet(context.Background(), uuid.New())
	require.NoError(t, err)

	transaction := &models.Transaction{
		WalletID:  wallet.ID,
		Reference: &reference,
		Gateway:   enums.GatewayKorapay,
		Kind:      enums.TransactionKindCredit,
		Amount:    amount,
		Status:    enums.TransactionStatusPending,
	}
	require.NoError(t, f.repo.CreateTransaction(context.Background(), transaction))
	return wallet, transaction
}

func successEvent(reference string, amount decimal.Decimal) *gateways.PaymentEvent {
	return &gateways.PaymentEvent{
		Reference: reference,
		Gateway:   enums.GatewayKorapay,
		Outcome:   enums.EventOutcomeSuccess,
		Amount:    amount,
		EventType: "charge.success",
	}
}

func TestService_ProcessSuccessCreditsWallet(t *testing.T) {
	f := setupReconcileTest(t)
	wallet, _ := f.seedPending(t, "ref-success", decimal.NewFromInt(5000))

	result, err := f.svc.Process(context.Background(), successEvent("ref-success", decimal.NewFromInt(5000)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Duplicate {
		t.Fatal("first delivery must not be reported as duplicate")
	}
	if result.Transaction.Status != enums.TransactionStatusSuccess {
		t.Fatalf("expected success status, got %s", result.Transaction.Status)
	}

	updated, err := f.repo.FindWalletByAccount(context.Background(), wallet.AccountID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !updated.Balance.Equal(decimal.NewFromInt(5000)) {
		t.Fatalf("expected balance 5000, got %s", updated.Balance)
	}
}

func TestService_ProcessDuplicateDeliveryIsNoOp(t *testing.T) {
	f := setupReconcileTest(t)
	wallet, _ := f.seedPending(t, "ref-dup", decimal.NewFromInt(2000))

	event := successEvent("ref-dup", decimal.NewFromInt(2000))
	if _, err := f.svc.Process(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result, err := f.svc.Process(context.Background(), event)
	if err != nil {
		t.Fatalf("replay must be acknowledged, got %v", err)
	}
	if !result.Duplicate {
		t.Fatal("expected replay to be flagged as duplicate")
	}

	updated, err := f.repo.FindWalletByAccount(context.Background(), wallet.AccountID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !updated.Balance.Equal(decimal.NewFromInt(2000)) {
		t.Fatalf("balance must be credited exactly once, got %s", updated.Balance)
	}
}

func TestService_ProcessFailedEventMarksTransaction(t *testing.T) {
	f := setupReconcileTest(t)
	wallet, transaction := f.seedPending(t, "ref-failed", decimal.NewFromInt(3000))

	event := &gateways.PaymentEvent{
		Reference: "ref-failed",
		Gateway:   enums.GatewayKorapay,
		Outcome:   enums.EventOutcomeFailed,
		Amount:    decimal.NewFromInt(3000),
		EventType: "charge.failed",
	}
	result, err := f.svc.Process(context.Background(), event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Transaction.ID != transaction.ID {
		t.Fatalf("expected transaction %s, got %s", transaction.ID, result.Transaction.ID)
	}
	if result.Transaction.Status != enums.TransactionStatusFailed {
		t.Fatalf("expected failed status, got %s", result.Transaction.Status)
	}

	updated, err := f.repo.FindWalletByAccount(context.Background(), wallet.AccountID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !updated.Balance.IsZero() {
		t.Fatalf("failed payment must not move the balance, got %s", updated.Balance)
	}
}

func TestService_ProcessUnknownReference(t *testing.T) {
	f := setupReconcileTest(t)

	_, err := f.svc.Process(context.Background(), successEvent("ref-missing", decimal.NewFromInt(100)))
	if !pkgerrors.Is(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestService_ProcessReleasesGuardOnError(t *testing.T) {
	f := setupReconcileTest(t)

	_, err := f.svc.Process(context.Background(), successEvent("ref-gone", decimal.NewFromInt(100)))
	if err == nil {
		t.Fatal("expected error for unknown reference")
	}
	if len(f.guard.released) != 1 {
		t.Fatalf("expected guard release after failure, got %d releases", len(f.guard.released))
	}
}

func TestService_ProcessReleasesGuardAfterSettlement(t *testing.T) {
	f := setupReconcileTest(t)
	f.seedPending(t, "ref-release", decimal.NewFromInt(100))

	if _, err := f.svc.Process(context.Background(), successEvent("ref-release", decimal.NewFromInt(100))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.guard.claimed) != 0 {
		t.Fatalf("guard must be released after settlement, %d keys still claimed", len(f.guard.claimed))
	}

	// A provider replay straight after settlement is an acknowledged
	// duplicate, never a conflict.
	result, err := f.svc.Process(context.Background(), successEvent("ref-release", decimal.NewFromInt(100)))
	if err != nil {
		t.Fatalf("replay must be acknowledged, got %v", err)
	}
	if !result.Duplicate {
		t.Fatal("expected duplicate flag on replay")
	}
}

// lockCountingRepo asserts which lookup the duplicate check uses. An
// unlocked read would let two concurrent deliveries under read committed
// both observe pending and both credit.
type lockCountingRepo struct {
	ledger.Repository
	locked   *int32
	unlocked *int32
}

func (r *lockCountingRepo) WithTx(tx *gorm.DB) ledger.Repository {
	return &lockCountingRepo{Repository: r.Repository.WithTx(tx), locked: r.locked, unlocked: r.unlocked}
}

func (r *lockCountingRepo) FindTransactionByReference(ctx context.Context, reference string) (*models.Transaction, error) {
	atomic.AddInt32(r.unlocked, 1)
	return r.Repository.FindTransactionByReference(ctx, reference)
}

func (r *lockCountingRepo) FindTransactionByReferenceForUpdate(ctx context.Context, reference string) (*models.Transaction, error) {
	atomic.AddInt32(r.locked, 1)
	return r.Repository.FindTransactionByReferenceForUpdate(ctx, reference)
}

func TestService_ProcessDuplicateCheckHoldsRowLock(t *testing.T) {
	f := setupReconcileTest(t)
	f.seedPending(t, "ref-lock", decimal.NewFromInt(500))

	var locked, unlocked int32
	repo := &lockCountingRepo{Repository: f.repo, locked: &locked, unlocked: &unlocked}
	log := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	svc, err := NewService(repo, f.ledger, f.runner, nil, log)
	require.NoError(t, err)

	event := successEvent("ref-lock", decimal.NewFromInt(500))
	if _, err := svc.Process(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	result, err := svc.Process(context.Background(), event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Duplicate {
		t.Fatal("expected duplicate on replay")
	}

	if got := atomic.LoadInt32(&unlocked); got != 0 {
		t.Fatalf("duplicate check must not use an unlocked read, saw %d", got)
	}
	if got := atomic.LoadInt32(&locked); got != 2 {
		t.Fatalf("expected a locked read per delivery, got %d", got)
	}
}

func TestService_ProcessInFlightConflict(t *testing.T) {
	f := setupReconcileTest(t)
	f.seedPending(t, "ref-inflight", decimal.NewFromInt(100))
	f.guard.denyAll = true

	_, err := f.svc.Process(context.Background(), successEvent("ref-inflight", decimal.NewFromInt(100)))
	if !pkgerrors.Is(err, pkgerrors.CodeConflict) {
		t.Fatalf("expected conflict while another delivery is in flight, got %v", err)
	}
}

func TestService_ProcessRequiresReference(t *testing.T) {
	f := setupReconcileTest(t)

	_, err := f.svc.Process(context.Background(), &gateways.PaymentEvent{Gateway: enums.GatewayKorapay})
	if !pkgerrors.Is(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
