package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/zapcredits/zapcredits-backend/pkg/db/models"
	"github.com/zapcredits/zapcredits-backend/pkg/enums"
)

func setupLedgerTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	users := `
CREATE TABLE IF NOT EXISTS users (
  id TEXT PRIMARY KEY,
  account_key TEXT NOT NULL UNIQUE,
  balance NUMERIC NOT NULL DEFAULT 0,
  tier TEXT NOT NULL DEFAULT 'standard',
  created_at DATETIME,
  updated_at DATETIME
);`
	transactions := `
CREATE TABLE IF NOT EXISTS transactions (
  id TEXT PRIMARY KEY,
  account_key TEXT NOT NULL,
  amount NUMERIC NOT NULL,
  kind TEXT NOT NULL,
  description TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  reference TEXT,
  created_at DATETIME
);`
	require.NoError(t, db.Exec(users).Error)
	require.NoError(t, db.Exec(transactions).Error)
	return db
}

func seedUser(t *testing.T, db *gorm.DB, accountKey, balance string) {
	t.Helper()
	require.NoError(t, db.Exec(
		`INSERT INTO users (id, account_key, balance, tier) VALUES (?, ?, ?, 'standard')`,
		accountKey+"-id", accountKey, balance,
	).Error)
}

func seedTransaction(t *testing.T, db *gorm.DB, id, accountKey, amount, status, description string, createdAt time.Time) {
	t.Helper()
	require.NoError(t, db.Exec(
		`INSERT INTO transactions (id, account_key, amount, kind, description, status, created_at)
		 VALUES (?, ?, ?, 'deposit', ?, ?, ?)`,
		id, accountKey, amount, description, status, createdAt,
	).Error)
}

func mustUUID(t *testing.T) uuid.UUID {
	t.Helper()
	return uuid.New()
}

func TestRepositoryFindUser(t *testing.T) {
	db := setupLedgerTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	seedUser(t, db, "tg:10", "25.50")

	user, err := repo.FindUser(ctx, "tg:10")
	require.NoError(t, err)
	assert.Equal(t, "25.50", user.Balance.StringFixed(2))
	assert.Equal(t, enums.PricingTierStandard, user.Tier)

	_, err = repo.FindUser(ctx, "tg:missing")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestRepositoryListTransactionsOrderAndLimit(t *testing.T) {
	db := setupLedgerTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	base := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)
	seedTransaction(t, db, "t1", "tg:20", "10", "completed", "oldest", base)
	seedTransaction(t, db, "t2", "tg:20", "-4", "completed", "middle", base.Add(time.Minute))
	seedTransaction(t, db, "t3", "tg:20", "4", "completed", "newest", base.Add(2*time.Minute))
	seedTransaction(t, db, "t4", "tg:other", "99", "completed", "other account", base)

	txns, err := repo.ListTransactions(ctx, "tg:20", 2)
	require.NoError(t, err)
	require.Len(t, txns, 2)
	assert.Equal(t, "newest", txns[0].Description)
	assert.Equal(t, "middle", txns[1].Description)
}

func TestRepositorySumCompletedAmountsSkipsPending(t *testing.T) {
	db := setupLedgerTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	base := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)
	seedTransaction(t, db, "s1", "tg:30", "10.00", "completed", "credit", base)
	seedTransaction(t, db, "s2", "tg:30", "-3.50", "completed", "debit", base)
	seedTransaction(t, db, "s3", "tg:30", "99.00", "pending", "unsettled", base)
	seedTransaction(t, db, "s4", "tg:30", "1.00", "failed", "failed", base)

	sum, err := repo.SumCompletedAmounts(ctx, "tg:30")
	require.NoError(t, err)
	assert.Equal(t, "6.50", sum.StringFixed(2))
}

func TestRepositoryCreateTransaction(t *testing.T) {
	db := setupLedgerTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	ref := "charge-1"
	txn := &models.Transaction{
		ID:          mustUUID(t),
		AccountKey:  "tg:40",
		Amount:      decimal.RequireFromString("7.25"),
		Kind:        enums.TransactionKindDeposit,
		Description: "pix deposit",
		Status:      enums.TransactionStatusCompleted,
		Reference:   &ref,
	}
	require.NoError(t, repo.CreateTransaction(ctx, txn))

	stored, err := repo.ListTransactions(ctx, "tg:40", 0)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "7.25", stored[0].Amount.StringFixed(2))
	require.NotNil(t, stored[0].Reference)
	assert.Equal(t, "charge-1", *stored[0].Reference)
}
