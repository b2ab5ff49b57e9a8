package orders

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/zapcredits/zapcredits-backend/pkg/db"
	"github.com/zapcredits/zapcredits-backend/pkg/db/models"
	"github.com/zapcredits/zapcredits-backend/pkg/enums"
	pkgerrors "github.com/zapcredits/zapcredits-backend/pkg/errors"
)

// Repository manages persistence for deposit and purchase orders.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	// FindByIDForUpdate locks the order row; finalizers use it so the webhook
	// path and the polling path cannot both complete the same order.
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByExternalID(ctx context.Context, externalID string) (*models.Order, error)
	Update(ctx context.Context, order *models.Order) error
	ListByStatus(ctx context.Context, status enums.OrderStatus, kinds ...enums.OrderKind) ([]models.Order, error)
	ListByAccount(ctx context.Context, accountKey string, limit int) ([]models.Order, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an order repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, order *models.Order) error {
	if err := r.db.WithContext(ctx).Create(order).Error; err != nil {
		if db.IsUniqueViolation(err, "orders_external_id_key") {
			return pkgerrors.Wrap(pkgerrors.CodeStateConflict, err, "an order already exists for this vendor reference")
		}
		return err
	}
	return nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindByExternalID(ctx context.Context, externalID string) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).Where("external_id = ?", externalID).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) Update(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Save(order).Error
}

func (r *repository) ListByStatus(ctx context.Context, status enums.OrderStatus, kinds ...enums.OrderKind) ([]models.Order, error) {
	query := r.db.WithContext(ctx).Where("status = ?", status)
	if len(kinds) > 0 {
		query = query.Where("kind IN ?", kinds)
	}
	var found []models.Order
	if err := query.Order("created_at ASC").Find(&found).Error; err != nil {
		return nil, err
	}
	return found, nil
}

func (r *repository) ListByAccount(ctx context.Context, accountKey string, limit int) ([]models.Order, error) {
	query := r.db.WithContext(ctx).
		Where("account_key = ?", accountKey).
		Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var found []models.Order
	if err := query.Find(&found).Error; err != nil {
		return nil, err
	}
	return found, nil
}
