package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/divuzki/cartlogs-backend/pkg/enums"
)

// Transaction records one balance movement. Reference is the idempotency key
// correlating gateway webhook deliveries to the local record; it is unique
// and immutable once set.
type Transaction struct {
	ID          uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	WalletID    uuid.UUID               `gorm:"column:wallet_id;type:uuid;not null;index"`
	Reference   *string                 `gorm:"column:reference;uniqueIndex"`
	Gateway     enums.Gateway           `gorm:"column:gateway;not null;default:'unknown'"`
	Kind        enums.TransactionKind   `gorm:"column:kind;not null;default:'unknown'"`
	Amount      decimal.Decimal         `gorm:"column:amount;type:numeric(10,2);not null"`
	Description string                  `gorm:"column:description"`
	Status      enums.TransactionStatus `gorm:"column:status;not null;default:'pending'"`
	CreatedAt   time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}

func (t *Transaction) BeforeCreate(*gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// Ref returns the reference or an empty string when unset.
func (t *Transaction) Ref() string {
	if t.Reference == nil {
		return ""
	}
	return *t.Reference
}
