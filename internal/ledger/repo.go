package ledger

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/zapcredits/zapcredits-backend/pkg/db/models"
	"github.com/zapcredits/zapcredits-backend/pkg/enums"
)

// Repository manages persistence for accounts and their transactions.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindUser(ctx context.Context, accountKey string) (*models.User, error)
	// FindOrCreateUserForUpdate loads the account row under a row-level lock,
	// creating it with a zero balance on first touch. Callers must run inside
	// a transaction for the lock to have effect.
	FindOrCreateUserForUpdate(ctx context.Context, accountKey string) (*models.User, error)
	UpdateUserBalance(ctx context.Context, user *models.User) error
	CreateTransaction(ctx context.Context, txn *models.Transaction) error
	ListTransactions(ctx context.Context, accountKey string, limit int) ([]models.Transaction, error)
	SumCompletedAmounts(ctx context.Context, accountKey string) (decimal.Decimal, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindUser(ctx context.Context, accountKey string) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).Where("account_key = ?", accountKey).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *repository) FindOrCreateUserForUpdate(ctx context.Context, accountKey string) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("account_key = ?", accountKey).
		First(&user).Error
	if err == nil {
		return &user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	user = models.User{
		AccountKey: accountKey,
		Balance:    decimal.Zero,
		Tier:       enums.PricingTierStandard,
	}
	if createErr := r.db.WithContext(ctx).Create(&user).Error; createErr != nil {
		return nil, createErr
	}
	// Re-read under lock so a concurrent creator cannot race us.
	err = r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("account_key = ?", accountKey).
		First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *repository) UpdateUserBalance(ctx context.Context, user *models.User) error {
	return r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", user.ID).
		Update("balance", user.Balance).Error
}

func (r *repository) CreateTransaction(ctx context.Context, txn *models.Transaction) error {
	return r.db.WithContext(ctx).Create(txn).Error
}

func (r *repository) ListTransactions(ctx context.Context, accountKey string, limit int) ([]models.Transaction, error) {
	var txns []models.Transaction
	query := r.db.WithContext(ctx).
		Where("account_key = ?", accountKey).
		Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&txns).Error; err != nil {
		return nil, err
	}
	return txns, nil
}

func (r *repository) SumCompletedAmounts(ctx context.Context, accountKey string) (decimal.Decimal, error) {
	var txns []models.Transaction
	err := r.db.WithContext(ctx).
		Where("account_key = ? AND status = ?", accountKey, enums.TransactionStatusCompleted).
		Find(&txns).Error
	if err != nil {
		return decimal.Zero, err
	}
	sum := decimal.Zero
	for _, txn := range txns {
		sum = sum.Add(txn.Amount)
	}
	return sum, nil
}
