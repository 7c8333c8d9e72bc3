package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/divuzki/cartlogs-backend/pkg/enums"
)

// Order groups purchased line items and points at the wallet debit that pays
// for them. The debit transaction is read-only from the order's perspective.
type Order struct {
	ID            uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	AccountID     uuid.UUID         `gorm:"column:account_id;type:uuid;not null;index"`
	OrderNumber   string            `gorm:"column:order_number;not null;uniqueIndex"`
	Status        enums.OrderStatus `gorm:"column:status;not null;default:'pending'"`
	TransactionID *uuid.UUID        `gorm:"column:transaction_id;type:uuid"`
	TotalAmount   decimal.Decimal   `gorm:"column:total_amount;type:numeric(10,2);not null"`
	Items         []OrderItem       `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt     time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

func (o *Order) BeforeCreate(*gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	if o.OrderNumber == "" {
		o.OrderNumber = NewOrderNumber()
	}
	return nil
}

// NewOrderNumber generates an ORD-<8 hex> order number.
func NewOrderNumber() string {
	return fmt.Sprintf("ORD-%s", strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}
