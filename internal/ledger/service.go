package ledger

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/zapcredits/zapcredits-backend/pkg/db/models"
	"github.com/zapcredits/zapcredits-backend/pkg/enums"
	pkgerrors "github.com/zapcredits/zapcredits-backend/pkg/errors"
	"github.com/zapcredits/zapcredits-backend/pkg/logger"
)

// Service is the single writer of account balances. Every mutation locks the
// account row, re-reads the balance, applies the change and appends a
// completed transaction in the same store transaction, so the balance always
// equals the sum of completed transaction amounts.
type Service interface {
	// WithTx returns a service that applies its mutations inside the provided
	// open transaction instead of starting its own.
	WithTx(tx *gorm.DB) Service
	Balance(ctx context.Context, accountKey string) (decimal.Decimal, error)
	Tier(ctx context.Context, accountKey string) (enums.PricingTier, error)
	Debit(ctx context.Context, input EntryInput) (*models.Transaction, error)
	Credit(ctx context.Context, input EntryInput) (*models.Transaction, error)
	Refund(ctx context.Context, input EntryInput) (*models.Transaction, error)
	ListTransactions(ctx context.Context, accountKey string, limit int) ([]models.Transaction, error)
}

// EntryInput describes one balance mutation. Amount is always positive; the
// operation decides the sign.
type EntryInput struct {
	AccountKey  string
	Amount      decimal.Decimal
	Description string
	Reference   *string
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type boundRunner struct {
	tx *gorm.DB
}

func (b boundRunner) WithTx(_ context.Context, fn func(tx *gorm.DB) error) error {
	return fn(b.tx)
}

type service struct {
	repo   Repository
	runner txRunner
	logg   *logger.Logger
}

// NewService wires a ledger service with the provided repository and
// transaction runner.
func NewService(repo Repository, runner txRunner, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, errors.New("ledger repository required")
	}
	if runner == nil {
		return nil, errors.New("transaction runner required")
	}
	return &service{repo: repo, runner: runner, logg: logg}, nil
}

func (s *service) WithTx(tx *gorm.DB) Service {
	if tx == nil {
		return s
	}
	return &service{repo: s.repo, runner: boundRunner{tx: tx}, logg: s.logg}
}

func (s *service) Balance(ctx context.Context, accountKey string) (decimal.Decimal, error) {
	if accountKey == "" {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "account key is required")
	}
	user, err := s.repo.FindUser(ctx, accountKey)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return user.Balance, nil
}

func (s *service) Tier(ctx context.Context, accountKey string) (enums.PricingTier, error) {
	user, err := s.repo.FindUser(ctx, accountKey)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return enums.PricingTierStandard, nil
	}
	if err != nil {
		return "", err
	}
	return user.Tier, nil
}

func (s *service) Debit(ctx context.Context, input EntryInput) (*models.Transaction, error) {
	if err := validateEntry(input); err != nil {
		return nil, err
	}

	var txn *models.Transaction
	err := s.runner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		user, err := repo.FindOrCreateUserForUpdate(ctx, input.AccountKey)
		if err != nil {
			return err
		}

		if user.Balance.LessThan(input.Amount) {
			return pkgerrors.New(pkgerrors.CodeInsufficientBalance, "insufficient balance").
				WithDetails(map[string]string{
					"required":  input.Amount.StringFixed(2),
					"available": user.Balance.StringFixed(2),
				})
		}

		before := user.Balance
		user.Balance = user.Balance.Sub(input.Amount)
		if err := repo.UpdateUserBalance(ctx, user); err != nil {
			return err
		}

		txn = &models.Transaction{
			AccountKey:  input.AccountKey,
			Amount:      input.Amount.Neg(),
			Kind:        enums.TransactionKindPurchase,
			Description: input.Description,
			Status:      enums.TransactionStatusCompleted,
			Reference:   input.Reference,
		}
		if err := repo.CreateTransaction(ctx, txn); err != nil {
			return err
		}

		s.logMutation(ctx, "ledger.debit", input, before, user.Balance)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

func (s *service) Credit(ctx context.Context, input EntryInput) (*models.Transaction, error) {
	return s.apply(ctx, input, enums.TransactionKindDeposit, "ledger.credit")
}

func (s *service) Refund(ctx context.Context, input EntryInput) (*models.Transaction, error) {
	return s.apply(ctx, input, enums.TransactionKindRefund, "ledger.refund")
}

func (s *service) apply(ctx context.Context, input EntryInput, kind enums.TransactionKind, event string) (*models.Transaction, error) {
	if err := validateEntry(input); err != nil {
		return nil, err
	}

	var txn *models.Transaction
	err := s.runner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		user, err := repo.FindOrCreateUserForUpdate(ctx, input.AccountKey)
		if err != nil {
			return err
		}

		before := user.Balance
		user.Balance = user.Balance.Add(input.Amount)
		if err := repo.UpdateUserBalance(ctx, user); err != nil {
			return err
		}

		txn = &models.Transaction{
			AccountKey:  input.AccountKey,
			Amount:      input.Amount,
			Kind:        kind,
			Description: input.Description,
			Status:      enums.TransactionStatusCompleted,
			Reference:   input.Reference,
		}
		if err := repo.CreateTransaction(ctx, txn); err != nil {
			return err
		}

		s.logMutation(ctx, event, input, before, user.Balance)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

func (s *service) ListTransactions(ctx context.Context, accountKey string, limit int) ([]models.Transaction, error) {
	if accountKey == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account key is required")
	}
	return s.repo.ListTransactions(ctx, accountKey, limit)
}

func (s *service) logMutation(ctx context.Context, event string, input EntryInput, before, after decimal.Decimal) {
	if s.logg == nil {
		return
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"account_id":     input.AccountKey,
		"amount":         input.Amount.StringFixed(2),
		"balance_before": before.StringFixed(2),
		"balance_after":  after.StringFixed(2),
	})
	s.logg.Info(ctx, event)
}

func validateEntry(input EntryInput) error {
	if input.AccountKey == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "account key is required")
	}
	if !input.Amount.IsPositive() {
		return pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	return nil
}
