package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/zapcredits/zapcredits-backend/pkg/enums"
)

// Order tracks a deposit or purchase from creation to a terminal state.
// ExternalID carries the vendor-assigned reference: the PIX charge id for
// deposits, the activation id for SMS rentals, the order id for follower
// packages. One order maps to at most one debit/credit pair in the ledger.
type Order struct {
	ID         uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	AccountKey string            `gorm:"column:account_key;not null;index"`
	Kind       enums.OrderKind   `gorm:"column:kind;not null"`
	Status     enums.OrderStatus `gorm:"column:status;not null;default:'pending';index"`
	Quantity   int               `gorm:"column:quantity;not null;default:1"`
	Amount     decimal.Decimal   `gorm:"column:amount;type:numeric(12,2);not null;default:0"`
	Price      decimal.Decimal   `gorm:"column:price;type:numeric(12,2);not null;default:0"`
	Tier       enums.PricingTier `gorm:"column:tier;not null;default:'standard'"`
	ExternalID *string           `gorm:"column:external_id;unique"`

	// Vendor payloads, populated per kind.
	Service    *string `gorm:"column:service"`
	Phone      *string `gorm:"column:phone"`
	SMSCode    *string `gorm:"column:sms_code"`
	TargetURL  *string `gorm:"column:target_url"`
	QRText     *string `gorm:"column:qr_text"`
	QRImageURL *string `gorm:"column:qr_image_url"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
