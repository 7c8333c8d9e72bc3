package orders

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/divuzki/cartlogs-backend/pkg/db/models"
)

// Repository manages persistence for orders and their line items.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateOrder(ctx context.Context, order *models.Order) error
	FindOrderByNumber(ctx context.Context, accountID uuid.UUID, orderNumber string) (*models.Order, error)
	// FindOrderByNumberForUpdate locks the order row so concurrent confirm
	// and cancel calls serialize.
	FindOrderByNumberForUpdate(ctx context.Context, accountID uuid.UUID, orderNumber string) (*models.Order, error)
	SaveOrder(ctx context.Context, order *models.Order) error
	ListOrdersByAccount(ctx context.Context, accountID uuid.UUID) ([]models.Order, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an orders repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateOrder(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repository) FindOrderByNumber(ctx context.Context, accountID uuid.UUID, orderNumber string) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).
		Preload("Items").
		Where("account_id = ? AND order_number = ?", accountID, orderNumber).
		First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindOrderByNumberForUpdate(ctx context.Context, accountID uuid.UUID, orderNumber string) (*models.Order, error) {
	query := r.db.WithContext(ctx)
	// sqlite (tests) rejects FOR UPDATE; its writer lock serializes anyway.
	if r.db.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var order models.Order
	if err := query.
		Preload("Items").
		Where("account_id = ? AND order_number = ?", accountID, orderNumber).
		First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) SaveOrder(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", order.ID).
		Updates(map[string]any{
			"status":         order.Status,
			"transaction_id": order.TransactionID,
		}).Error
}

func (r *repository) ListOrdersByAccount(ctx context.Context, accountID uuid.UUID) ([]models.Order, error) {
	var orders []models.Order
	if err := r.db.WithContext(ctx).
		Preload("Items").
		Where("account_id = ?", accountID).
		Order("created_at DESC").
		Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}
