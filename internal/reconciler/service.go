package reconciler

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/zapcredits/zapcredits-backend/internal/ledger"
	"github.com/zapcredits/zapcredits-backend/internal/notify"
	"github.com/zapcredits/zapcredits-backend/internal/orders"
	"github.com/zapcredits/zapcredits-backend/internal/pricing"
	"github.com/zapcredits/zapcredits-backend/internal/vendors/pixintegra"
	"github.com/zapcredits/zapcredits-backend/pkg/enums"
	pkgerrors "github.com/zapcredits/zapcredits-backend/pkg/errors"
	"github.com/zapcredits/zapcredits-backend/pkg/logger"
	"github.com/zapcredits/zapcredits-backend/pkg/metrics"
)

// externalIDPrefix matches the external_id the deposit flow attaches to
// every PIX charge.
const externalIDPrefix = "order_"

// Notification is a parsed payment event from the gateway, delivered by
// webhook or produced by the deposit poller.
type Notification struct {
	ChargeID   string
	ExternalID string
	Status     pixintegra.ChargeStatus
	PaidAmount decimal.Decimal
}

// Outcome reports what a notification did, also used as the stored
// idempotency record so replays answer identically.
type Outcome struct {
	Result  string          `json:"result"`
	OrderID string          `json:"order_id,omitempty"`
	Credits decimal.Decimal `json:"credits"`
}

const (
	OutcomeCredited       = "credited"
	OutcomeAlreadySettled = "already_settled"
	OutcomeIgnored        = "ignored"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service settles paid deposits against the ledger exactly once.
type Service struct {
	orderRepo orders.Repository
	ledgerSvc ledger.Service
	engine    *pricing.Engine
	runner    txRunner
	notifier  notify.Notifier
	mtr       *metrics.ReconciliationMetrics
	logg      *logger.Logger
}

// NewService wires the payment reconciler.
func NewService(
	orderRepo orders.Repository,
	ledgerSvc ledger.Service,
	engine *pricing.Engine,
	runner txRunner,
	notifier notify.Notifier,
	mtr *metrics.ReconciliationMetrics,
	logg *logger.Logger,
) (*Service, error) {
	if orderRepo == nil {
		return nil, errors.New("order repository required")
	}
	if ledgerSvc == nil {
		return nil, errors.New("ledger service required")
	}
	if engine == nil {
		return nil, errors.New("pricing engine required")
	}
	if runner == nil {
		return nil, errors.New("transaction runner required")
	}
	if logg == nil {
		return nil, errors.New("logger required")
	}
	return &Service{
		orderRepo: orderRepo,
		ledgerSvc: ledgerSvc,
		engine:    engine,
		runner:    runner,
		notifier:  notifier,
		mtr:       mtr,
		logg:      logg,
	}, nil
}

// HandleNotification resolves the order behind a payment event and, for a
// settled charge, credits the account and completes the order in one store
// transaction. Notifications for orders already in a terminal state are
// acknowledged without effect, so the webhook path and the polling path can
// both observe the same payment safely.
func (s *Service) HandleNotification(ctx context.Context, n Notification) (*Outcome, error) {
	order, err := s.resolveOrder(ctx, n)
	if err != nil {
		s.mtr.IncWebhookOutcome("unknown_order")
		return nil, err
	}

	ctx = s.logg.WithOrderID(ctx, order.ID.String())
	ctx = s.logg.WithAccountID(ctx, order.AccountKey)

	if !n.Status.IsPaid() {
		s.logg.Info(ctx, "payment notification ignored: charge not settled")
		s.mtr.IncWebhookOutcome(OutcomeIgnored)
		return &Outcome{Result: OutcomeIgnored, OrderID: order.ID.String()}, nil
	}

	var outcome *Outcome
	err = s.runner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.orderRepo.WithTx(tx)
		locked, err := repo.FindByIDForUpdate(ctx, order.ID)
		if err != nil {
			return err
		}
		if locked.Status.IsTerminal() {
			outcome = &Outcome{Result: OutcomeAlreadySettled, OrderID: locked.ID.String()}
			return nil
		}

		amount := n.PaidAmount
		if !amount.IsPositive() {
			amount = locked.Amount
		}

		tier, err := s.ledgerSvc.Tier(ctx, locked.AccountKey)
		if err != nil {
			return err
		}
		credits, err := s.engine.CreditsForPayment(amount, tier)
		if err != nil {
			return err
		}

		reference := locked.ID.String()
		_, err = s.ledgerSvc.WithTx(tx).Credit(ctx, ledger.EntryInput{
			AccountKey:  locked.AccountKey,
			Amount:      credits,
			Description: "deposit via pix",
			Reference:   &reference,
		})
		if err != nil {
			return err
		}

		locked.Status = enums.OrderStatusCompleted
		locked.Amount = amount
		locked.Price = credits
		if err := repo.Update(ctx, locked); err != nil {
			return err
		}

		outcome = &Outcome{Result: OutcomeCredited, OrderID: locked.ID.String(), Credits: credits}
		return nil
	})
	if err != nil {
		s.mtr.IncWebhookOutcome("error")
		return nil, err
	}

	s.mtr.IncWebhookOutcome(outcome.Result)
	if outcome.Result == OutcomeCredited {
		s.logg.Info(ctx, "deposit credited")
		if s.notifier != nil {
			s.notifier.DepositCredited(ctx, order.AccountKey, n.PaidAmount, outcome.Credits)
		}
	}
	return outcome, nil
}

// resolveOrder prefers the external_id round-tripped through the gateway and
// falls back to the charge id recorded at creation time.
func (s *Service) resolveOrder(ctx context.Context, n Notification) (*orderRecord, error) {
	if id, ok := parseExternalID(n.ExternalID); ok {
		order, err := s.orderRepo.FindByID(ctx, id)
		if err == nil {
			return &orderRecord{ID: order.ID, AccountKey: order.AccountKey, Status: order.Status}, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	if n.ChargeID != "" {
		order, err := s.orderRepo.FindByExternalID(ctx, n.ChargeID)
		if err == nil {
			return &orderRecord{ID: order.ID, AccountKey: order.AccountKey, Status: order.Status}, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
		"charge_id":   n.ChargeID,
		"external_id": n.ExternalID,
	}), "payment notification for unknown order")
	return nil, pkgerrors.New(pkgerrors.CodeOrderNotFound, "no order matches payment notification")
}

type orderRecord struct {
	ID         uuid.UUID
	AccountKey string
	Status     enums.OrderStatus
}

// FormatExternalID renders the external_id attached to outbound charges.
func FormatExternalID(orderID uuid.UUID) string {
	return externalIDPrefix + orderID.String()
}

func parseExternalID(externalID string) (uuid.UUID, bool) {
	raw, ok := strings.CutPrefix(externalID, externalIDPrefix)
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
