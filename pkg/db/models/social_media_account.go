package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// SocialMediaAccount is a sellable listing. Stock is never stored on the row;
// the live count of unallocated active logs is the single source of truth.
type SocialMediaAccount struct {
	ID                 uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Platform           string          `gorm:"column:platform;not null"`
	Category           string          `gorm:"column:category;not null"`
	Description        string          `gorm:"column:description"`
	FollowersCount     int             `gorm:"column:followers_count;not null;default:0"`
	VerificationStatus string          `gorm:"column:verification_status;not null;default:'not_verified'"`
	Price              decimal.Decimal `gorm:"column:price;type:numeric(10,2);not null"`
	IsActive           bool            `gorm:"column:is_active;not null;default:true"`
	CreatedAt          time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (a *SocialMediaAccount) BeforeCreate(*gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
