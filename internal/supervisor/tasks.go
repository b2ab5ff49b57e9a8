package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/zapcredits/zapcredits-backend/internal/ledger"
	"github.com/zapcredits/zapcredits-backend/internal/reconciler"
	"github.com/zapcredits/zapcredits-backend/internal/vendors/apex"
	"github.com/zapcredits/zapcredits-backend/internal/vendors/pixintegra"
	"github.com/zapcredits/zapcredits-backend/internal/vendors/smsactivate"
	"github.com/zapcredits/zapcredits-backend/pkg/db/models"
	"github.com/zapcredits/zapcredits-backend/pkg/enums"
)

// pollFn inspects the vendor once. done is true when the task should stop,
// either because the order reached a terminal state or because this poll
// finalized it.
type pollFn func(ctx context.Context, order *models.Order) (done bool, err error)

func (s *Supervisor) planFor(order *models.Order) (time.Duration, time.Time, pollFn, error) {
	switch order.Kind {
	case enums.OrderKindSMS:
		if s.sms == nil {
			return 0, time.Time{}, nil, errors.New("sms vendor not configured")
		}
		return s.cfg.SMSPollInterval, order.CreatedAt.Add(s.cfg.SMSDeadline), s.pollSMS, nil
	case enums.OrderKindFollowers:
		if s.followers == nil {
			return 0, time.Time{}, nil, errors.New("follower vendor not configured")
		}
		return s.cfg.FollowerPollInterval, order.CreatedAt.Add(s.cfg.FollowerDeadline), s.pollFollowers, nil
	case enums.OrderKindDeposit:
		if s.charges == nil || s.settler == nil {
			return 0, time.Time{}, nil, errors.New("charge vendor not configured")
		}
		return s.cfg.DepositPollInterval, order.CreatedAt.Add(s.cfg.DepositDeadline), s.pollDeposit, nil
	default:
		return 0, time.Time{}, nil, fmt.Errorf("unsupported order kind %q", order.Kind)
	}
}

func (s *Supervisor) run(ctx context.Context, order *models.Order, interval time.Duration, deadline time.Time, poll pollFn) {
	defer func() {
		s.remove(order.ID)
		s.wg.Done()
		s.mtr.TaskFinished()
	}()

	logCtx := s.logg.WithOrderID(ctx, order.ID.String())

	remaining := time.Until(deadline)
	if remaining <= 0 {
		s.expire(ctx, order)
		return
	}
	timer := time.NewTimer(remaining)
	defer timer.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.expire(ctx, order)
			return
		case <-ticker.C:
			started := time.Now()
			done, err := poll(ctx, order)
			s.mtr.ObservePoll(string(order.Kind), time.Since(started))
			if err != nil {
				// Transient vendor failures never kill the task; the
				// deadline bounds how long we keep trying.
				s.logg.Warn(s.logg.WithField(logCtx, "error", err.Error()), "vendor poll failed")
				continue
			}
			if done {
				return
			}
		}
	}
}

func (s *Supervisor) pollSMS(ctx context.Context, order *models.Order) (bool, error) {
	if order.ExternalID == nil {
		return true, errors.New("sms order has no activation id")
	}
	status, err := s.sms.GetStatus(ctx, *order.ExternalID)
	if err != nil {
		return false, err
	}

	switch {
	case status.Code != "":
		code := status.Code
		final, applied, err := s.finalize(ctx, order.ID, enums.OrderStatusCompleted, false, func(o *models.Order) {
			o.SMSCode = &code
		})
		if err != nil {
			return false, err
		}
		if applied {
			if err := s.sms.SetStatus(ctx, *order.ExternalID, smsactivate.FinishConfirm); err != nil {
				s.logg.Warn(s.logg.WithOrderID(ctx, order.ID.String()), "vendor confirm failed")
			}
			s.mtr.IncFinalization("completed")
			if s.notifier != nil && final.Phone != nil {
				s.notifier.SMSCodeReceived(ctx, final.AccountKey, *final.Phone, code)
			}
		}
		return true, nil
	case status.Cancelled:
		final, applied, err := s.finalize(ctx, order.ID, enums.OrderStatusCancelled, true, nil)
		if err != nil {
			return false, err
		}
		if applied {
			s.mtr.IncFinalization("cancelled")
			if s.notifier != nil {
				s.notifier.ActivationRefunded(ctx, final.AccountKey, final.Price, "vendor cancelled")
			}
		}
		return true, nil
	default:
		return false, nil
	}
}

func (s *Supervisor) pollFollowers(ctx context.Context, order *models.Order) (bool, error) {
	if order.ExternalID == nil {
		return true, errors.New("follower order has no panel id")
	}
	state, err := s.followers.OrderState(ctx, *order.ExternalID)
	if err != nil {
		return false, err
	}
	if !state.Status.IsTerminal() {
		return false, nil
	}

	if state.Status == apex.OrderStatusCanceled {
		final, applied, err := s.finalize(ctx, order.ID, enums.OrderStatusCancelled, true, nil)
		if err != nil {
			return false, err
		}
		if applied {
			s.mtr.IncFinalization("cancelled")
			if s.notifier != nil {
				s.notifier.ActivationRefunded(ctx, final.AccountKey, final.Price, "panel cancelled")
			}
		}
		return true, nil
	}

	// Completed and partial deliveries both settle the order; the panel does
	// not bill undelivered remainders back to us.
	final, applied, err := s.finalize(ctx, order.ID, enums.OrderStatusCompleted, false, nil)
	if err != nil {
		return false, err
	}
	if applied {
		s.mtr.IncFinalization("completed")
		if s.notifier != nil {
			s.notifier.FollowersDelivered(ctx, final.AccountKey, final.Quantity)
		}
	}
	return true, nil
}

func (s *Supervisor) pollDeposit(ctx context.Context, order *models.Order) (bool, error) {
	if order.ExternalID == nil {
		return true, errors.New("deposit order has no charge id")
	}
	charge, err := s.charges.GetCharge(ctx, *order.ExternalID)
	if err != nil {
		return false, err
	}

	if charge.Status.IsPaid() {
		_, err := s.settler.HandleNotification(ctx, reconciler.Notification{
			ChargeID:   charge.ID,
			ExternalID: charge.ExternalID,
			Status:     charge.Status,
			PaidAmount: charge.PaidAmount,
		})
		return err == nil, err
	}

	if charge.Status == pixintegra.ChargeStatusCancelled || charge.Status == pixintegra.ChargeStatusExpired {
		_, applied, err := s.finalize(ctx, order.ID, enums.OrderStatusExpired, false, nil)
		if err != nil {
			return false, err
		}
		if applied {
			s.mtr.IncFinalization("expired")
		}
		return true, nil
	}
	return false, nil
}

// expire handles a task whose wall-clock deadline passed without a terminal
// vendor answer. Purchases are refunded; an unpaid deposit just lapses.
func (s *Supervisor) expire(ctx context.Context, order *models.Order) {
	refund := order.Kind != enums.OrderKindDeposit

	if order.Kind == enums.OrderKindSMS && s.sms != nil && order.ExternalID != nil {
		if err := s.sms.SetStatus(ctx, *order.ExternalID, smsactivate.FinishCancel); err != nil {
			s.logg.Warn(s.logg.WithOrderID(ctx, order.ID.String()), "vendor release failed on expiry")
		}
	}

	final, applied, err := s.finalize(ctx, order.ID, enums.OrderStatusExpired, refund, nil)
	if err != nil {
		s.logg.Error(s.logg.WithOrderID(ctx, order.ID.String()), "could not expire order", err)
		return
	}
	if !applied {
		return
	}
	s.mtr.IncFinalization("expired")
	if refund && s.notifier != nil {
		s.notifier.ActivationRefunded(ctx, final.AccountKey, final.Price, "timed out")
	}
}

// finalize applies a terminal transition exactly once. The order row is
// locked and rechecked inside the transaction; if another path already
// finished the order, applied is false and nothing is written. A refunding
// transition returns the debited credits in the same transaction.
func (s *Supervisor) finalize(
	ctx context.Context,
	orderID uuid.UUID,
	target enums.OrderStatus,
	refund bool,
	mutate func(*models.Order),
) (*models.Order, bool, error) {
	var (
		final   *models.Order
		applied bool
	)
	err := s.runner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.orderRepo.WithTx(tx)
		locked, err := repo.FindByIDForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if locked.Status.IsTerminal() {
			final = locked
			return nil
		}

		if mutate != nil {
			mutate(locked)
		}
		locked.Status = target
		if err := repo.Update(ctx, locked); err != nil {
			return err
		}

		if refund && locked.Price.IsPositive() {
			reference := locked.ID.String()
			_, err := s.ledgerSvc.WithTx(tx).Refund(ctx, ledger.EntryInput{
				AccountKey:  locked.AccountKey,
				Amount:      locked.Price,
				Description: fmt.Sprintf("refund: %s %s", locked.Kind, target),
				Reference:   &reference,
			})
			if err != nil {
				return err
			}
		}

		final = locked
		applied = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return final, applied, nil
}
