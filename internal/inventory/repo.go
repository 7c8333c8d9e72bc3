package inventory

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/divuzki/cartlogs-backend/pkg/db/models"
)

// Repository manages persistence for marketplace listings and their
// credential logs.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateAccount(ctx context.Context, account *models.SocialMediaAccount) error
	FindAccountByID(ctx context.Context, id uuid.UUID) (*models.SocialMediaAccount, error)
	ListActiveAccounts(ctx context.Context) ([]models.SocialMediaAccount, error)
	CreateLog(ctx context.Context, log *models.Log) error
	// FindUnboundLogsForUpdate locks up to limit unbound active logs for the
	// listing, oldest first. The lock prevents two concurrent allocations
	// from binding the same log.
	FindUnboundLogsForUpdate(ctx context.Context, accountID uuid.UUID, limit int) ([]models.Log, error)
	FindLogsByOrderItem(ctx context.Context, orderItemID uuid.UUID) ([]models.Log, error)
	SaveLog(ctx context.Context, log *models.Log) error
	CountUnboundLogs(ctx context.Context, accountID uuid.UUID) (int64, error)
	CountUnboundLogsBatch(ctx context.Context, accountIDs []uuid.UUID) (map[uuid.UUID]int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an inventory repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateAccount(ctx context.Context, account *models.SocialMediaAccount) error {
	return r.db.WithContext(ctx).Create(account).Error
}

func (r *repository) FindAccountByID(ctx context.Context, id uuid.UUID) (*models.SocialMediaAccount, error) {
	var account models.SocialMediaAccount
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&account).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *repository) ListActiveAccounts(ctx context.Context) ([]models.SocialMediaAccount, error) {
	var accounts []models.SocialMediaAccount
	if err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("created_at DESC").
		Find(&accounts).Error; err != nil {
		return nil, err
	}
	return accounts, nil
}

func (r *repository) CreateLog(ctx context.Context, log *models.Log) error {
	return r.db.WithContext(ctx).Create(log).Error
}

func (r *repository) FindUnboundLogsForUpdate(ctx context.Context, accountID uuid.UUID, limit int) ([]models.Log, error) {
	query := r.db.WithContext(ctx)
	// sqlite (tests) rejects FOR UPDATE; its writer lock serializes anyway.
	if r.db.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var logs []models.Log
	if err := query.
		Where("account_id = ? AND is_active = ? AND order_item_id IS NULL", accountID, true).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}

func (r *repository) FindLogsByOrderItem(ctx context.Context, orderItemID uuid.UUID) ([]models.Log, error) {
	var logs []models.Log
	if err := r.db.WithContext(ctx).
		Where("order_item_id = ?", orderItemID).
		Order("created_at ASC, id ASC").
		Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}

func (r *repository) SaveLog(ctx context.Context, log *models.Log) error {
	return r.db.WithContext(ctx).Save(log).Error
}

func (r *repository) CountUnboundLogs(ctx context.Context, accountID uuid.UUID) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.Log{}).
		Where("account_id = ? AND is_active = ? AND order_item_id IS NULL", accountID, true).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *repository) CountUnboundLogsBatch(ctx context.Context, accountIDs []uuid.UUID) (map[uuid.UUID]int64, error) {
	counts := make(map[uuid.UUID]int64, len(accountIDs))
	if len(accountIDs) == 0 {
		return counts, nil
	}

	type row struct {
		AccountID uuid.UUID `gorm:"column:account_id"`
		Total     int64     `gorm:"column:total"`
	}
	var rows []row
	if err := r.db.WithContext(ctx).
		Model(&models.Log{}).
		Select("account_id, COUNT(*) AS total").
		Where("account_id IN ? AND is_active = ? AND order_item_id IS NULL", accountIDs, true).
		Group("account_id").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, r := range rows {
		counts[r.AccountID] = r.Total
	}
	return counts, nil
}
