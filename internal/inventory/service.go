package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/divuzki/cartlogs-backend/internal/notify"
	"github.com/divuzki/cartlogs-backend/pkg/db/models"
	pkgerrors "github.com/divuzki/cartlogs-backend/pkg/errors"
	"github.com/divuzki/cartlogs-backend/pkg/logger"
)

// AllocationResult reports what an allocation attempt bound.
type AllocationResult struct {
	Logs      []models.Log
	Requested int
	Allocated int
}

// Partial is true when fewer logs than requested were available.
func (r AllocationResult) Partial() bool {
	return r.Allocated < r.Requested
}

// Listing is a marketplace row with its live stock count.
type Listing struct {
	Account models.SocialMediaAccount
	Stock   int64
}

// Service allocates credential logs to paid order items. Stock is never a
// stored number: it is always the live count of active unbound logs, so a
// listing can never oversell.
type Service interface {
	// AllocateTx binds up to item.Quantity logs inside the caller's
	// transaction, oldest first. Calling it again for the same item returns
	// the already-bound set unchanged.
	AllocateTx(ctx context.Context, tx *gorm.DB, item *models.OrderItem) (*AllocationResult, error)
	Stock(ctx context.Context, accountID uuid.UUID) (int64, error)
	GetAccount(ctx context.Context, accountID uuid.UUID) (*models.SocialMediaAccount, error)
	ListMarketplace(ctx context.Context) ([]Listing, error)
	LogsForOrderItem(ctx context.Context, orderItemID uuid.UUID) ([]models.Log, error)
}

type service struct {
	repo     Repository
	notifier notify.Notifier
	log      *logger.Logger
}

// NewService wires the inventory allocator.
func NewService(repo Repository, notifier notify.Notifier, log *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("inventory repository required")
	}
	if notifier == nil {
		return nil, fmt.Errorf("notifier required")
	}
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{repo: repo, notifier: notifier, log: log}, nil
}

func (s *service) AllocateTx(ctx context.Context, tx *gorm.DB, item *models.OrderItem) (*AllocationResult, error) {
	if item == nil || item.ID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order item required")
	}
	if item.Quantity <= 0 {
		return &AllocationResult{Requested: item.Quantity}, nil
	}

	repo := s.repo.WithTx(tx)

	// Idempotent re-entry: a retried settlement must not bind twice.
	bound, err := repo.FindLogsByOrderItem(ctx, item.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load bound logs")
	}
	if len(bound) > 0 {
		return &AllocationResult{Logs: bound, Requested: item.Quantity, Allocated: len(bound)}, nil
	}

	available, err := repo.FindUnboundLogsForUpdate(ctx, item.AccountID, item.Quantity)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock unbound logs")
	}

	for i := range available {
		available[i].OrderItemID = &item.ID
		available[i].IsActive = false
		if err := repo.SaveLog(ctx, &available[i]); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "bind log")
		}
	}

	result := &AllocationResult{
		Logs:      available,
		Requested: item.Quantity,
		Allocated: len(available),
	}
	if result.Partial() {
		s.notifyShortfall(ctx, item, result)
	}
	return result, nil
}

func (s *service) Stock(ctx context.Context, accountID uuid.UUID) (int64, error) {
	count, err := s.repo.CountUnboundLogs(ctx, accountID)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count stock")
	}
	return count, nil
}

func (s *service) GetAccount(ctx context.Context, accountID uuid.UUID) (*models.SocialMediaAccount, error) {
	account, err := s.repo.FindAccountByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "listing not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load listing")
	}
	return account, nil
}

func (s *service) ListMarketplace(ctx context.Context) ([]Listing, error) {
	accounts, err := s.repo.ListActiveAccounts(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list accounts")
	}

	ids := make([]uuid.UUID, 0, len(accounts))
	for _, account := range accounts {
		ids = append(ids, account.ID)
	}
	counts, err := s.repo.CountUnboundLogsBatch(ctx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count stock")
	}

	listings := make([]Listing, 0, len(accounts))
	for _, account := range accounts {
		listings = append(listings, Listing{Account: account, Stock: counts[account.ID]})
	}
	return listings, nil
}

func (s *service) LogsForOrderItem(ctx context.Context, orderItemID uuid.UUID) ([]models.Log, error) {
	logs, err := s.repo.FindLogsByOrderItem(ctx, orderItemID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load bound logs")
	}
	return logs, nil
}

func (s *service) notifyShortfall(ctx context.Context, item *models.OrderItem, result *AllocationResult) {
	kind := notify.KindPartialAllocation
	subject := "Order item partially fulfilled"
	if result.Allocated == 0 {
		kind = notify.KindStockExhausted
		subject = "Order item has no stock left"
	}
	s.notifier.NotifyOperator(ctx, notify.Notice{
		Kind:    kind,
		Subject: subject,
		Body: fmt.Sprintf("Order item %s requested %d logs, bound %d. Listing %s needs restocking.",
			item.ID, result.Requested, result.Allocated, item.AccountID),
		Fields: map[string]string{
			"order_item_id": item.ID.String(),
			"listing_id":    item.AccountID.String(),
			"requested":     fmt.Sprintf("%d", result.Requested),
			"allocated":     fmt.Sprintf("%d", result.Allocated),
		},
	})
}
