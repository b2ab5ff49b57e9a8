package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/zapcredits/zapcredits-backend/pkg/enums"
)

// User is a credit account keyed by the opaque chat identity.
// Balance is never written directly; the ledger service owns every mutation.
type User struct {
	ID         uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	AccountKey string            `gorm:"column:account_key;not null;unique"`
	Balance    decimal.Decimal   `gorm:"column:balance;type:numeric(12,2);not null;default:0"`
	Tier       enums.PricingTier `gorm:"column:tier;not null;default:'standard'"`
	CreatedAt  time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}
