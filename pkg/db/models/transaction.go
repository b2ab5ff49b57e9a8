package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/zapcredits/zapcredits-backend/pkg/enums"
)

// Transaction is an immutable ledger record. Positive amounts credit the
// account, negative amounts debit it. The sum of an account's completed
// transaction amounts always equals its current balance.
type Transaction struct {
	ID          uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	AccountKey  string                  `gorm:"column:account_key;not null;index"`
	Amount      decimal.Decimal         `gorm:"column:amount;type:numeric(12,2);not null"`
	Kind        enums.TransactionKind   `gorm:"column:kind;not null"`
	Description string                  `gorm:"column:description;not null"`
	Status      enums.TransactionStatus `gorm:"column:status;not null;default:'pending'"`
	Reference   *string                 `gorm:"column:reference;index"`
	CreatedAt   time.Time               `gorm:"column:created_at;autoCreateTime"`
}
