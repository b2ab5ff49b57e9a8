package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/zapcredits/zapcredits-backend/internal/ledger"
	"github.com/zapcredits/zapcredits-backend/internal/orders"
	"github.com/zapcredits/zapcredits-backend/internal/reconciler"
	"github.com/zapcredits/zapcredits-backend/internal/vendors/apex"
	"github.com/zapcredits/zapcredits-backend/internal/vendors/pixintegra"
	"github.com/zapcredits/zapcredits-backend/internal/vendors/smsactivate"
	"github.com/zapcredits/zapcredits-backend/pkg/db/models"
	"github.com/zapcredits/zapcredits-backend/pkg/enums"
	pkgerrors "github.com/zapcredits/zapcredits-backend/pkg/errors"
	"github.com/zapcredits/zapcredits-backend/pkg/logger"
	"github.com/zapcredits/zapcredits-backend/pkg/metrics"
)

type memOrderRepo struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*models.Order
}

func newMemOrderRepo(existing ...*models.Order) *memOrderRepo {
	repo := &memOrderRepo{byID: map[uuid.UUID]*models.Order{}}
	for _, order := range existing {
		repo.byID[order.ID] = order
	}
	return repo
}

func (r *memOrderRepo) WithTx(_ *gorm.DB) orders.Repository { return r }

func (r *memOrderRepo) Create(_ context.Context, order *models.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[order.ID] = order
	return nil
}

func (r *memOrderRepo) FindByID(_ context.Context, id uuid.UUID) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.byID[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *order
	return &copied, nil
}

func (r *memOrderRepo) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return r.FindByID(ctx, id)
}

func (r *memOrderRepo) FindByExternalID(_ context.Context, externalID string) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, order := range r.byID {
		if order.ExternalID != nil && *order.ExternalID == externalID {
			copied := *order
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memOrderRepo) Update(_ context.Context, order *models.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *order
	r.byID[order.ID] = &copied
	return nil
}

func (r *memOrderRepo) ListByStatus(_ context.Context, status enums.OrderStatus, kinds ...enums.OrderKind) ([]models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var found []models.Order
	for _, order := range r.byID {
		if order.Status != status {
			continue
		}
		matched := len(kinds) == 0
		for _, kind := range kinds {
			if order.Kind == kind {
				matched = true
			}
		}
		if matched {
			found = append(found, *order)
		}
	}
	return found, nil
}

func (r *memOrderRepo) ListByAccount(_ context.Context, accountKey string, _ int) ([]models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var found []models.Order
	for _, order := range r.byID {
		if order.AccountKey == accountKey {
			found = append(found, *order)
		}
	}
	return found, nil
}

func (r *memOrderRepo) get(id uuid.UUID) models.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.byID[id]
}

type refundLedger struct {
	mu      sync.Mutex
	refunds []ledger.EntryInput
}

func (l *refundLedger) WithTx(_ *gorm.DB) ledger.Service { return l }

func (l *refundLedger) Balance(_ context.Context, _ string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (l *refundLedger) Tier(_ context.Context, _ string) (enums.PricingTier, error) {
	return enums.PricingTierStandard, nil
}

func (l *refundLedger) Debit(_ context.Context, _ ledger.EntryInput) (*models.Transaction, error) {
	return nil, nil
}

func (l *refundLedger) Credit(_ context.Context, _ ledger.EntryInput) (*models.Transaction, error) {
	return nil, nil
}

func (l *refundLedger) Refund(_ context.Context, input ledger.EntryInput) (*models.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refunds = append(l.refunds, input)
	return &models.Transaction{Amount: input.Amount}, nil
}

func (l *refundLedger) ListTransactions(_ context.Context, _ string, _ int) ([]models.Transaction, error) {
	return nil, nil
}

func (l *refundLedger) refundCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.refunds)
}

type memRunner struct {
	mu sync.Mutex
}

func (r *memRunner) WithTx(_ context.Context, fn func(tx *gorm.DB) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(nil)
}

type scriptedSMS struct {
	mu       sync.Mutex
	statuses []any // *smsactivate.Status or error, consumed in order
	finishes []smsactivate.FinishCode
}

func (v *scriptedSMS) GetStatus(_ context.Context, _ string) (*smsactivate.Status, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.statuses) == 0 {
		return &smsactivate.Status{Waiting: true}, nil
	}
	next := v.statuses[0]
	v.statuses = v.statuses[1:]
	if err, ok := next.(error); ok {
		return nil, err
	}
	return next.(*smsactivate.Status), nil
}

func (v *scriptedSMS) SetStatus(_ context.Context, _ string, code smsactivate.FinishCode) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.finishes = append(v.finishes, code)
	return nil
}

func (v *scriptedSMS) finishCodes() []smsactivate.FinishCode {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]smsactivate.FinishCode(nil), v.finishes...)
}

type scriptedFollowers struct {
	mu     sync.Mutex
	states []*apex.OrderState
}

func (v *scriptedFollowers) OrderState(_ context.Context, _ string) (*apex.OrderState, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.states) == 0 {
		return &apex.OrderState{Status: apex.OrderStatusInProgress}, nil
	}
	next := v.states[0]
	v.states = v.states[1:]
	return next, nil
}

type scriptedCharges struct {
	charge *pixintegra.Charge
}

func (v *scriptedCharges) GetCharge(_ context.Context, _ string) (*pixintegra.Charge, error) {
	return v.charge, nil
}

type recordingSettler struct {
	mu    sync.Mutex
	calls []reconciler.Notification
}

func (s *recordingSettler) HandleNotification(_ context.Context, n reconciler.Notification) (*reconciler.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, n)
	return &reconciler.Outcome{Result: reconciler.OutcomeCredited}, nil
}

func (s *recordingSettler) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func fastConfig() Config {
	return Config{
		SMSPollInterval:      2 * time.Millisecond,
		SMSDeadline:          time.Minute,
		DepositPollInterval:  2 * time.Millisecond,
		DepositDeadline:      time.Minute,
		FollowerPollInterval: 2 * time.Millisecond,
		FollowerDeadline:     time.Minute,
	}
}

func newTestSupervisor(t *testing.T, cfg Config, repo *memOrderRepo, ledg *refundLedger, sms SMSVendor, followers FollowerVendor, charges ChargeVendor, settler PaymentSettler) *Supervisor {
	t.Helper()
	sup, err := New(cfg, repo, ledg, &memRunner{}, sms, followers, charges, settler, nil,
		metrics.NewReconciliationMetrics(nil), logger.New(logger.Options{ServiceName: "test"}))
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = sup.Drain(ctx)
	})
	return sup
}

func smsOrder(price string) *models.Order {
	activationID := "act-" + uuid.NewString()
	phone := "5511987654321"
	return &models.Order{
		ID:         uuid.New(),
		AccountKey: "acct-1",
		Kind:       enums.OrderKindSMS,
		Status:     enums.OrderStatusPending,
		Price:      decimal.RequireFromString(price),
		ExternalID: &activationID,
		Phone:      &phone,
		CreatedAt:  time.Now(),
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatal("condition not reached in time")
		case <-time.After(2 * time.Millisecond):
		}
	}
}

func TestSMSCodeCompletesOrder(t *testing.T) {
	order := smsOrder("3.74")
	repo := newMemOrderRepo(order)
	ledg := &refundLedger{}
	sms := &scriptedSMS{statuses: []any{
		&smsactivate.Status{Waiting: true},
		&smsactivate.Status{Code: "482910"},
	}}
	sup := newTestSupervisor(t, fastConfig(), repo, ledg, sms, nil, nil, nil)

	require.NoError(t, sup.Start(order))
	waitFor(t, func() bool { return repo.get(order.ID).Status == enums.OrderStatusCompleted })

	stored := repo.get(order.ID)
	require.NotNil(t, stored.SMSCode)
	assert.Equal(t, "482910", *stored.SMSCode)
	assert.Zero(t, ledg.refundCount())
	waitFor(t, func() bool {
		codes := sms.finishCodes()
		return len(codes) == 1 && codes[0] == smsactivate.FinishConfirm
	})
}

func TestSMSVendorCancelRefunds(t *testing.T) {
	order := smsOrder("3.74")
	repo := newMemOrderRepo(order)
	ledg := &refundLedger{}
	sms := &scriptedSMS{statuses: []any{&smsactivate.Status{Cancelled: true}}}
	sup := newTestSupervisor(t, fastConfig(), repo, ledg, sms, nil, nil, nil)

	require.NoError(t, sup.Start(order))
	waitFor(t, func() bool { return repo.get(order.ID).Status == enums.OrderStatusCancelled })

	require.Equal(t, 1, ledg.refundCount())
	assert.Equal(t, "3.74", ledg.refunds[0].Amount.StringFixed(2))
}

func TestSMSDeadlineExpiresAndRefunds(t *testing.T) {
	order := smsOrder("3.74")
	order.CreatedAt = time.Now().Add(-time.Hour)
	repo := newMemOrderRepo(order)
	ledg := &refundLedger{}
	sms := &scriptedSMS{}
	cfg := fastConfig()
	cfg.SMSDeadline = time.Minute
	sup := newTestSupervisor(t, cfg, repo, ledg, sms, nil, nil, nil)

	require.NoError(t, sup.Start(order))
	waitFor(t, func() bool { return repo.get(order.ID).Status == enums.OrderStatusExpired })

	require.Equal(t, 1, ledg.refundCount())
	codes := sms.finishCodes()
	require.Len(t, codes, 1)
	assert.Equal(t, smsactivate.FinishCancel, codes[0])
}

func TestPollErrorsAreTolerated(t *testing.T) {
	order := smsOrder("3.74")
	repo := newMemOrderRepo(order)
	ledg := &refundLedger{}
	sms := &scriptedSMS{statuses: []any{
		errors.New("transient"),
		errors.New("transient"),
		&smsactivate.Status{Code: "111222"},
	}}
	sup := newTestSupervisor(t, fastConfig(), repo, ledg, sms, nil, nil, nil)

	require.NoError(t, sup.Start(order))
	waitFor(t, func() bool { return repo.get(order.ID).Status == enums.OrderStatusCompleted })
}

func TestCancelRefundsAndReleasesNumber(t *testing.T) {
	order := smsOrder("3.74")
	repo := newMemOrderRepo(order)
	ledg := &refundLedger{}
	sms := &scriptedSMS{}
	sup := newTestSupervisor(t, fastConfig(), repo, ledg, sms, nil, nil, nil)

	require.NoError(t, sup.Start(order))
	final, err := sup.Cancel(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCancelled, final.Status)
	assert.Equal(t, 1, ledg.refundCount())

	codes := sms.finishCodes()
	require.Len(t, codes, 1)
	assert.Equal(t, smsactivate.FinishCancel, codes[0])

	_, err = sup.Cancel(context.Background(), order.ID)
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeStateConflict))
	assert.Equal(t, 1, ledg.refundCount())
}

func TestFollowerCompletionDoesNotRefund(t *testing.T) {
	panelID := "991122"
	order := &models.Order{
		ID:         uuid.New(),
		AccountKey: "acct-1",
		Kind:       enums.OrderKindFollowers,
		Status:     enums.OrderStatusPending,
		Quantity:   500,
		Price:      decimal.RequireFromString("52.25"),
		ExternalID: &panelID,
		CreatedAt:  time.Now(),
	}
	repo := newMemOrderRepo(order)
	ledg := &refundLedger{}
	followers := &scriptedFollowers{states: []*apex.OrderState{
		{Status: apex.OrderStatusInProgress},
		{Status: apex.OrderStatusCompleted},
	}}
	sup := newTestSupervisor(t, fastConfig(), repo, ledg, nil, followers, nil, nil)

	require.NoError(t, sup.Start(order))
	waitFor(t, func() bool { return repo.get(order.ID).Status == enums.OrderStatusCompleted })
	assert.Zero(t, ledg.refundCount())
}

func TestDepositPollHandsPaidChargeToSettler(t *testing.T) {
	chargeID := "chg-1"
	order := &models.Order{
		ID:         uuid.New(),
		AccountKey: "acct-1",
		Kind:       enums.OrderKindDeposit,
		Status:     enums.OrderStatusPending,
		Amount:     decimal.RequireFromString("22.00"),
		ExternalID: &chargeID,
		CreatedAt:  time.Now(),
	}
	repo := newMemOrderRepo(order)
	ledg := &refundLedger{}
	charges := &scriptedCharges{charge: &pixintegra.Charge{
		ID:         chargeID,
		Status:     pixintegra.ChargeStatusPaid,
		PaidAmount: decimal.RequireFromString("22.00"),
	}}
	settler := &recordingSettler{}
	sup := newTestSupervisor(t, fastConfig(), repo, ledg, nil, nil, charges, settler)

	require.NoError(t, sup.Start(order))
	waitFor(t, func() bool { return settler.callCount() >= 1 })
	assert.Zero(t, ledg.refundCount())
}

func TestRecoverStartsPendingOrders(t *testing.T) {
	order := smsOrder("3.74")
	done := &models.Order{
		ID:         uuid.New(),
		AccountKey: "acct-1",
		Kind:       enums.OrderKindSMS,
		Status:     enums.OrderStatusCompleted,
		CreatedAt:  time.Now(),
	}
	repo := newMemOrderRepo(order, done)
	sup := newTestSupervisor(t, fastConfig(), repo, &refundLedger{}, &scriptedSMS{}, nil, nil, nil)

	recovered, err := sup.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)
	assert.Equal(t, 1, sup.ActiveTasks())
}

func TestDrainStopsTasksWithoutFinalizing(t *testing.T) {
	order := smsOrder("3.74")
	repo := newMemOrderRepo(order)
	sup := newTestSupervisor(t, fastConfig(), repo, &refundLedger{}, &scriptedSMS{}, nil, nil, nil)

	require.NoError(t, sup.Start(order))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, sup.Drain(ctx))

	assert.Equal(t, enums.OrderStatusPending, repo.get(order.ID).Status)
	assert.Zero(t, sup.ActiveTasks())
}
