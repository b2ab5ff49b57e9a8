package supervisor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/zapcredits/zapcredits-backend/internal/ledger"
	"github.com/zapcredits/zapcredits-backend/internal/notify"
	"github.com/zapcredits/zapcredits-backend/internal/orders"
	"github.com/zapcredits/zapcredits-backend/internal/reconciler"
	"github.com/zapcredits/zapcredits-backend/internal/vendors/apex"
	"github.com/zapcredits/zapcredits-backend/internal/vendors/pixintegra"
	"github.com/zapcredits/zapcredits-backend/internal/vendors/smsactivate"
	"github.com/zapcredits/zapcredits-backend/pkg/config"
	"github.com/zapcredits/zapcredits-backend/pkg/db/models"
	"github.com/zapcredits/zapcredits-backend/pkg/enums"
	pkgerrors "github.com/zapcredits/zapcredits-backend/pkg/errors"
	"github.com/zapcredits/zapcredits-backend/pkg/logger"
	"github.com/zapcredits/zapcredits-backend/pkg/metrics"
)

// Config carries the polling cadence and wall-clock deadline per order kind.
// Deadlines measure from the order's creation time, so a restarted process
// picks up the remaining window rather than a fresh one.
type Config struct {
	SMSPollInterval      time.Duration
	SMSDeadline          time.Duration
	DepositPollInterval  time.Duration
	DepositDeadline      time.Duration
	FollowerPollInterval time.Duration
	FollowerDeadline     time.Duration
}

// ConfigFrom assembles the supervisor timings from the loaded configuration.
func ConfigFrom(sup config.SupervisorConfig, dep config.DepositConfig) Config {
	return Config{
		SMSPollInterval:      sup.SMSPollInterval,
		SMSDeadline:          sup.SMSDeadline,
		DepositPollInterval:  sup.DepositPollInterval,
		DepositDeadline:      dep.ChargeExpiry,
		FollowerPollInterval: sup.FollowerPollInterval,
		FollowerDeadline:     sup.FollowerDeadline,
	}
}

type SMSVendor interface {
	GetStatus(ctx context.Context, activationID string) (*smsactivate.Status, error)
	SetStatus(ctx context.Context, activationID string, code smsactivate.FinishCode) error
}

type FollowerVendor interface {
	OrderState(ctx context.Context, orderID string) (*apex.OrderState, error)
}

type ChargeVendor interface {
	GetCharge(ctx context.Context, chargeID string) (*pixintegra.Charge, error)
}

type PaymentSettler interface {
	HandleNotification(ctx context.Context, n reconciler.Notification) (*reconciler.Outcome, error)
}

type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Supervisor tracks one bounded polling task per pending order. Each task
// watches its vendor until the order reaches a terminal state or its deadline
// passes; timeouts and cancellations refund the debited credits. Exactly one
// finalization wins per order: the order row is locked and rechecked before
// any terminal transition.
type Supervisor struct {
	cfg       Config
	orderRepo orders.Repository
	ledgerSvc ledger.Service
	runner    TxRunner
	sms       SMSVendor
	followers FollowerVendor
	charges   ChargeVendor
	settler   PaymentSettler
	notifier  notify.Notifier
	mtr       *metrics.ReconciliationMetrics
	logg      *logger.Logger

	mu      sync.Mutex
	tasks   map[uuid.UUID]context.CancelFunc
	wg      sync.WaitGroup
	rootCtx context.Context
	stop    context.CancelFunc
}

// New wires a supervisor. Vendor clients may be nil when the corresponding
// order kind is not served by this process.
func New(
	cfg Config,
	orderRepo orders.Repository,
	ledgerSvc ledger.Service,
	runner TxRunner,
	sms SMSVendor,
	followers FollowerVendor,
	charges ChargeVendor,
	settler PaymentSettler,
	notifier notify.Notifier,
	mtr *metrics.ReconciliationMetrics,
	logg *logger.Logger,
) (*Supervisor, error) {
	if orderRepo == nil {
		return nil, errors.New("order repository required")
	}
	if ledgerSvc == nil {
		return nil, errors.New("ledger service required")
	}
	if runner == nil {
		return nil, errors.New("transaction runner required")
	}
	if logg == nil {
		return nil, errors.New("logger required")
	}
	rootCtx, stop := context.WithCancel(context.Background())
	return &Supervisor{
		cfg:       cfg,
		orderRepo: orderRepo,
		ledgerSvc: ledgerSvc,
		runner:    runner,
		sms:       sms,
		followers: followers,
		charges:   charges,
		settler:   settler,
		notifier:  notifier,
		mtr:       mtr,
		logg:      logg,
		tasks:     map[uuid.UUID]context.CancelFunc{},
		rootCtx:   rootCtx,
		stop:      stop,
	}, nil
}

// Start registers a polling task for the order. Starting an order that is
// already supervised is a no-op.
func (s *Supervisor) Start(order *models.Order) error {
	if order == nil {
		return errors.New("order required")
	}
	interval, deadline, poll, err := s.planFor(order)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if _, exists := s.tasks[order.ID]; exists {
		s.mu.Unlock()
		return nil
	}
	taskCtx, cancel := context.WithCancel(s.rootCtx)
	s.tasks[order.ID] = cancel
	s.wg.Add(1)
	s.mu.Unlock()

	s.mtr.TaskStarted()
	go s.run(taskCtx, order, interval, deadline, poll)
	return nil
}

// Recover re-arms supervision for every pending order after a restart.
func (s *Supervisor) Recover(ctx context.Context) (int, error) {
	pending, err := s.orderRepo.ListByStatus(ctx, enums.OrderStatusPending,
		enums.OrderKindSMS, enums.OrderKindFollowers, enums.OrderKindDeposit)
	if err != nil {
		return 0, err
	}
	recovered := 0
	for i := range pending {
		order := pending[i]
		if err := s.Start(&order); err != nil {
			s.logg.Warn(s.logg.WithOrderID(ctx, order.ID.String()), "could not recover order supervision")
			continue
		}
		recovered++
	}
	return recovered, nil
}

// Cancel aborts an SMS activation at the account's request: the task is
// stopped, the vendor is told to release the number, and the debited credits
// are refunded. Orders already in a terminal state are rejected.
func (s *Supervisor) Cancel(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.orderRepo.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeOrderNotFound, "order not found")
		}
		return nil, err
	}
	if order.Kind != enums.OrderKindSMS {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "only sms activations can be cancelled")
	}
	if order.Status.IsTerminal() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order already finished")
	}

	s.remove(orderID)

	var release error
	if s.sms != nil && order.ExternalID != nil {
		release = s.sms.SetStatus(ctx, *order.ExternalID, smsactivate.FinishCancel)
	}

	final, applied, err := s.finalize(ctx, orderID, enums.OrderStatusCancelled, true, nil)
	if err != nil {
		return nil, multierr.Append(release, err)
	}
	if !applied {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order already finished")
	}
	if release != nil {
		s.logg.Warn(s.logg.WithOrderID(ctx, orderID.String()), "vendor release failed during cancel")
	}
	s.mtr.IncFinalization("cancelled")
	if s.notifier != nil {
		s.notifier.ActivationRefunded(ctx, final.AccountKey, final.Price, "cancelled")
	}
	return final, nil
}

// Drain stops every task and waits for them to exit. Pending orders stay
// pending and are re-armed by Recover on the next boot.
func (s *Supervisor) Drain(ctx context.Context) error {
	s.stop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return multierr.Append(errors.New("supervisor drain timed out"), ctx.Err())
	}
}

// ActiveTasks reports how many polling tasks are currently registered.
func (s *Supervisor) ActiveTasks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

func (s *Supervisor) remove(orderID uuid.UUID) {
	s.mu.Lock()
	cancel, ok := s.tasks[orderID]
	if ok {
		delete(s.tasks, orderID)
	}
	s.mu.Unlock()
	if ok {
		cancel()
	}
}
