package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Log is one single-use credential unit of a SocialMediaAccount. Once
// OrderItemID is set the binding is permanent; the allocator never reassigns
// or clears it.
type Log struct {
	ID          uuid.UUID  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	AccountID   uuid.UUID  `gorm:"column:account_id;type:uuid;not null;index"`
	Payload     string     `gorm:"column:payload;not null"`
	IsActive    bool       `gorm:"column:is_active;not null;default:true"`
	OrderItemID *uuid.UUID `gorm:"column:order_item_id;type:uuid;index"`
	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime"`
}

func (l *Log) BeforeCreate(*gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}
