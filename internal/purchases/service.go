package purchases

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/zapcredits/zapcredits-backend/internal/ledger"
	"github.com/zapcredits/zapcredits-backend/internal/orders"
	"github.com/zapcredits/zapcredits-backend/internal/pricing"
	"github.com/zapcredits/zapcredits-backend/internal/vendors/apex"
	"github.com/zapcredits/zapcredits-backend/internal/vendors/smsactivate"
	"github.com/zapcredits/zapcredits-backend/pkg/db/models"
	"github.com/zapcredits/zapcredits-backend/pkg/enums"
	pkgerrors "github.com/zapcredits/zapcredits-backend/pkg/errors"
	"github.com/zapcredits/zapcredits-backend/pkg/logger"
)

// DefaultSMSCatalog maps vendor service codes to their base acquisition cost.
var DefaultSMSCatalog = map[string]decimal.Decimal{
	"wa": decimal.RequireFromString("1.70"), // whatsapp
	"tg": decimal.RequireFromString("0.95"), // telegram
	"ig": decimal.RequireFromString("0.80"), // instagram
	"fb": decimal.RequireFromString("0.75"), // facebook
	"go": decimal.RequireFromString("0.60"), // google
}

type SMSAcquirer interface {
	GetNumber(ctx context.Context, service string) (*smsactivate.Acquisition, error)
	SetStatus(ctx context.Context, activationID string, code smsactivate.FinishCode) error
}

type FollowerPanel interface {
	Services(ctx context.Context) ([]apex.Service, error)
	CreateOrder(ctx context.Context, serviceID int, link string, quantity int) (string, error)
}

type TaskStarter interface {
	Start(order *models.Order) error
}

// Service sells SMS activations and follower packages against the account's
// credit balance. Purchases never leave a debit behind without either a live
// order or a compensating refund.
type Service struct {
	catalog   map[string]decimal.Decimal
	engine    *pricing.Engine
	ledgerSvc ledger.Service
	orderRepo orders.Repository
	sms       SMSAcquirer
	panel     FollowerPanel
	starter   TaskStarter
	logg      *logger.Logger
}

// NewService wires the purchase flows. A nil catalog falls back to
// DefaultSMSCatalog.
func NewService(
	catalog map[string]decimal.Decimal,
	engine *pricing.Engine,
	ledgerSvc ledger.Service,
	orderRepo orders.Repository,
	sms SMSAcquirer,
	panel FollowerPanel,
	starter TaskStarter,
	logg *logger.Logger,
) (*Service, error) {
	if engine == nil {
		return nil, errors.New("pricing engine required")
	}
	if ledgerSvc == nil {
		return nil, errors.New("ledger service required")
	}
	if orderRepo == nil {
		return nil, errors.New("order repository required")
	}
	if logg == nil {
		return nil, errors.New("logger required")
	}
	if catalog == nil {
		catalog = DefaultSMSCatalog
	}
	return &Service{
		catalog:   catalog,
		engine:    engine,
		ledgerSvc: ledgerSvc,
		orderRepo: orderRepo,
		sms:       sms,
		panel:     panel,
		starter:   starter,
		logg:      logg,
	}, nil
}

// QuoteSMS prices one activation for the account's tier without buying it.
func (s *Service) QuoteSMS(ctx context.Context, accountKey, serviceCode string) (decimal.Decimal, error) {
	base, ok := s.catalog[serviceCode]
	if !ok {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "unknown sms service").
			WithDetails(map[string]string{"service": serviceCode})
	}
	tier, err := s.ledgerSvc.Tier(ctx, accountKey)
	if err != nil {
		return decimal.Zero, err
	}
	return s.engine.Price(base, tier, 1)
}

// PurchaseSMS rents a disposable number. The number is acquired before the
// debit so a vendor without stock costs the account nothing; if the debit
// then fails the number is released back to the vendor.
func (s *Service) PurchaseSMS(ctx context.Context, accountKey, serviceCode string) (*models.Order, error) {
	if accountKey == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account key is required")
	}
	if s.sms == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "sms vendor not configured")
	}

	price, err := s.QuoteSMS(ctx, accountKey, serviceCode)
	if err != nil {
		return nil, err
	}

	// Cheap pre-check so an obviously broke account never touches the vendor.
	balance, err := s.ledgerSvc.Balance(ctx, accountKey)
	if err != nil {
		return nil, err
	}
	if balance.LessThan(price) {
		return nil, pkgerrors.New(pkgerrors.CodeInsufficientBalance, "insufficient balance").
			WithDetails(map[string]string{
				"required":  price.StringFixed(2),
				"available": balance.StringFixed(2),
			})
	}

	acq, err := s.sms.GetNumber(ctx, serviceCode)
	if err != nil {
		return nil, err
	}

	ctx = s.logg.WithAccountID(ctx, accountKey)
	ctx = s.logg.WithActivationID(ctx, acq.ActivationID)

	release := func() {
		if err := s.sms.SetStatus(ctx, acq.ActivationID, smsactivate.FinishCancel); err != nil {
			s.logg.Warn(ctx, "could not release activation after failed purchase")
		}
	}

	reference := acq.ActivationID
	tier, err := s.ledgerSvc.Tier(ctx, accountKey)
	if err != nil {
		release()
		return nil, err
	}
	_, err = s.ledgerSvc.Debit(ctx, ledger.EntryInput{
		AccountKey:  accountKey,
		Amount:      price,
		Description: fmt.Sprintf("sms activation %s", serviceCode),
		Reference:   &reference,
	})
	if err != nil {
		release()
		return nil, err
	}

	order := &models.Order{
		AccountKey: accountKey,
		Kind:       enums.OrderKindSMS,
		Status:     enums.OrderStatusPending,
		Quantity:   1,
		Price:      price,
		Tier:       tier,
		ExternalID: &acq.ActivationID,
		Service:    &serviceCode,
		Phone:      &acq.PhoneNumber,
	}
	if err := s.orderRepo.Create(ctx, order); err != nil {
		// The debit landed but the order cannot be tracked; undo both sides.
		release()
		s.refundDebit(ctx, accountKey, price, reference, "sms order create failed")
		return nil, err
	}

	if s.starter != nil {
		if err := s.starter.Start(order); err != nil {
			s.logg.Warn(s.logg.WithOrderID(ctx, order.ID.String()), "could not arm activation polling")
		}
	}

	s.logg.Info(s.logg.WithOrderID(ctx, order.ID.String()), "sms activation purchased")
	return order, nil
}

// PurchaseFollowers sells a delivery package. The debit lands first; a panel
// rejection refunds it and marks the order failed.
func (s *Service) PurchaseFollowers(ctx context.Context, accountKey string, serviceID int, link string, quantity int) (*models.Order, error) {
	if accountKey == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account key is required")
	}
	if link == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "target link is required")
	}
	if s.panel == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "follower panel not configured")
	}

	svc, err := s.findPanelService(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	if quantity < svc.Min || (svc.Max > 0 && quantity > svc.Max) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity out of range").
			WithDetails(map[string]int{"min": svc.Min, "max": svc.Max})
	}

	tier, err := s.ledgerSvc.Tier(ctx, accountKey)
	if err != nil {
		return nil, err
	}
	price, err := s.engine.Price(svc.CostFor(quantity), tier, quantity)
	if err != nil {
		return nil, err
	}

	ctx = s.logg.WithAccountID(ctx, accountKey)

	order := &models.Order{
		AccountKey: accountKey,
		Kind:       enums.OrderKindFollowers,
		Status:     enums.OrderStatusPending,
		Quantity:   quantity,
		Price:      price,
		Tier:       tier,
		TargetURL:  &link,
	}
	if err := s.orderRepo.Create(ctx, order); err != nil {
		return nil, err
	}
	ctx = s.logg.WithOrderID(ctx, order.ID.String())

	reference := order.ID.String()
	_, err = s.ledgerSvc.Debit(ctx, ledger.EntryInput{
		AccountKey:  accountKey,
		Amount:      price,
		Description: fmt.Sprintf("follower package %d x%d", serviceID, quantity),
		Reference:   &reference,
	})
	if err != nil {
		order.Status = enums.OrderStatusFailed
		if updateErr := s.orderRepo.Update(ctx, order); updateErr != nil {
			s.logg.Error(ctx, "could not mark follower order failed", updateErr)
		}
		return nil, err
	}

	panelOrderID, err := s.panel.CreateOrder(ctx, serviceID, link, quantity)
	if err != nil {
		s.refundDebit(ctx, accountKey, price, reference, "panel rejected order")
		order.Status = enums.OrderStatusFailed
		if updateErr := s.orderRepo.Update(ctx, order); updateErr != nil {
			s.logg.Error(ctx, "could not mark follower order failed", updateErr)
		}
		return nil, err
	}

	order.ExternalID = &panelOrderID
	if err := s.orderRepo.Update(ctx, order); err != nil {
		return nil, err
	}

	if s.starter != nil {
		if err := s.starter.Start(order); err != nil {
			s.logg.Warn(ctx, "could not arm delivery polling")
		}
	}

	s.logg.Info(ctx, "follower package purchased")
	return order, nil
}

// ListOrders returns the account's order history, most recent first.
func (s *Service) ListOrders(ctx context.Context, accountKey string, limit int) ([]models.Order, error) {
	if accountKey == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account key is required")
	}
	return s.orderRepo.ListByAccount(ctx, accountKey, limit)
}

func (s *Service) findPanelService(ctx context.Context, serviceID int) (*apex.Service, error) {
	services, err := s.panel.Services(ctx)
	if err != nil {
		return nil, err
	}
	for i := range services {
		if services[i].ID == serviceID {
			return &services[i], nil
		}
	}
	return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown panel service").
		WithDetails(map[string]int{"service": serviceID})
}

// refundDebit compensates a debit whose purchase could not proceed. Failure
// here is logged loudly: the ledger keeps both entries, so support can replay
// the refund from the reference.
func (s *Service) refundDebit(ctx context.Context, accountKey string, amount decimal.Decimal, reference, reason string) {
	_, err := s.ledgerSvc.Refund(ctx, ledger.EntryInput{
		AccountKey:  accountKey,
		Amount:      amount,
		Description: "refund: " + reason,
		Reference:   &reference,
	})
	if err != nil {
		s.logg.Error(ctx, "compensating refund failed", err)
	}
}
