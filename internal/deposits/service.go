package deposits

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/zapcredits/zapcredits-backend/internal/orders"
	"github.com/zapcredits/zapcredits-backend/internal/reconciler"
	"github.com/zapcredits/zapcredits-backend/internal/vendors/pixintegra"
	"github.com/zapcredits/zapcredits-backend/pkg/config"
	"github.com/zapcredits/zapcredits-backend/pkg/db/models"
	"github.com/zapcredits/zapcredits-backend/pkg/enums"
	pkgerrors "github.com/zapcredits/zapcredits-backend/pkg/errors"
	"github.com/zapcredits/zapcredits-backend/pkg/logger"
)

type ChargeCreator interface {
	CreateCharge(ctx context.Context, params pixintegra.CreateChargeParams) (*pixintegra.Charge, error)
}

type TaskStarter interface {
	Start(order *models.Order) error
}

// Service opens PIX deposits: it records a pending order, asks the gateway
// for a charge and arms the polling fallback that settles the deposit if the
// webhook never arrives.
type Service struct {
	orderRepo orders.Repository
	gateway   ChargeCreator
	starter   TaskStarter
	minimum   decimal.Decimal
	expiry    config.DepositConfig
	logg      *logger.Logger
}

// NewService wires the deposit flow.
func NewService(cfg config.DepositConfig, orderRepo orders.Repository, gateway ChargeCreator, starter TaskStarter, logg *logger.Logger) (*Service, error) {
	if orderRepo == nil {
		return nil, errors.New("order repository required")
	}
	if gateway == nil {
		return nil, errors.New("payment gateway required")
	}
	if logg == nil {
		return nil, errors.New("logger required")
	}
	minimum, err := decimal.NewFromString(cfg.MinimumAmount)
	if err != nil {
		return nil, fmt.Errorf("invalid minimum deposit %q: %w", cfg.MinimumAmount, err)
	}
	return &Service{
		orderRepo: orderRepo,
		gateway:   gateway,
		starter:   starter,
		minimum:   minimum,
		expiry:    cfg,
		logg:      logg,
	}, nil
}

// CreateDeposit opens a deposit order and returns it with the QR payload the
// account uses to pay. Nothing is credited until the payment reconciler sees
// the charge settle.
func (s *Service) CreateDeposit(ctx context.Context, accountKey string, amount decimal.Decimal) (*models.Order, error) {
	if accountKey == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account key is required")
	}
	if amount.LessThan(s.minimum) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "deposit below minimum").
			WithDetails(map[string]string{"minimum": s.minimum.StringFixed(2)})
	}

	order := &models.Order{
		AccountKey: accountKey,
		Kind:       enums.OrderKindDeposit,
		Status:     enums.OrderStatusPending,
		Amount:     amount.Round(2),
	}
	if err := s.orderRepo.Create(ctx, order); err != nil {
		return nil, err
	}

	ctx = s.logg.WithOrderID(ctx, order.ID.String())
	ctx = s.logg.WithAccountID(ctx, accountKey)

	charge, err := s.gateway.CreateCharge(ctx, pixintegra.CreateChargeParams{
		Amount:      order.Amount,
		Description: "zapcredits deposit",
		ExternalID:  reconciler.FormatExternalID(order.ID),
		ExpiresIn:   s.expiry.ChargeExpiry,
	})
	if err != nil {
		// The pending order stays behind without a charge id; it can never
		// be credited and lapses when the supervisor window closes.
		order.Status = enums.OrderStatusFailed
		if updateErr := s.orderRepo.Update(ctx, order); updateErr != nil {
			s.logg.Error(ctx, "could not mark deposit failed", updateErr)
		}
		return nil, err
	}

	order.ExternalID = &charge.ID
	order.QRText = &charge.QRText
	order.QRImageURL = &charge.QRImageURL
	if err := s.orderRepo.Update(ctx, order); err != nil {
		return nil, err
	}

	if s.starter != nil {
		if err := s.starter.Start(order); err != nil {
			s.logg.Warn(ctx, "could not arm deposit polling")
		}
	}

	s.logg.Info(ctx, "deposit opened")
	return order, nil
}
