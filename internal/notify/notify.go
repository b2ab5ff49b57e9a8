package notify

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/zapcredits/zapcredits-backend/pkg/logger"
)

// Notifier delivers account-facing events. The chat surface that renders
// these lives outside this service; the default implementation just records
// them in the structured log.
type Notifier interface {
	DepositCredited(ctx context.Context, accountKey string, amount, credits decimal.Decimal)
	SMSCodeReceived(ctx context.Context, accountKey, phone, code string)
	ActivationRefunded(ctx context.Context, accountKey string, amount decimal.Decimal, reason string)
	FollowersDelivered(ctx context.Context, accountKey string, quantity int)
}

type logNotifier struct {
	logg *logger.Logger
}

// NewLogNotifier returns a Notifier that emits one structured log line per
// event.
func NewLogNotifier(logg *logger.Logger) Notifier {
	return &logNotifier{logg: logg}
}

func (n *logNotifier) DepositCredited(ctx context.Context, accountKey string, amount, credits decimal.Decimal) {
	ctx = n.logg.WithFields(ctx, map[string]any{
		"account_id": accountKey,
		"amount":     amount.StringFixed(2),
		"credits":    credits.StringFixed(2),
	})
	n.logg.Info(ctx, "notify.deposit_credited")
}

func (n *logNotifier) SMSCodeReceived(ctx context.Context, accountKey, phone, code string) {
	ctx = n.logg.WithFields(ctx, map[string]any{
		"account_id": accountKey,
		"phone":      phone,
	})
	n.logg.Info(ctx, "notify.sms_code_received")
	_ = code // never logged
}

func (n *logNotifier) ActivationRefunded(ctx context.Context, accountKey string, amount decimal.Decimal, reason string) {
	ctx = n.logg.WithFields(ctx, map[string]any{
		"account_id": accountKey,
		"amount":     amount.StringFixed(2),
		"reason":     reason,
	})
	n.logg.Info(ctx, "notify.activation_refunded")
}

func (n *logNotifier) FollowersDelivered(ctx context.Context, accountKey string, quantity int) {
	ctx = n.logg.WithFields(ctx, map[string]any{
		"account_id": accountKey,
		"quantity":   quantity,
	})
	n.logg.Info(ctx, "notify.followers_delivered")
}
