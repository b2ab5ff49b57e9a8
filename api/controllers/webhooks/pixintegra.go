package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/zapcredits/zapcredits-backend/api/responses"
	"github.com/zapcredits/zapcredits-backend/internal/reconciler"
	"github.com/zapcredits/zapcredits-backend/internal/vendors/pixintegra"
	pkgerrors "github.com/zapcredits/zapcredits-backend/pkg/errors"
	"github.com/zapcredits/zapcredits-backend/pkg/idempotency"
	"github.com/zapcredits/zapcredits-backend/pkg/logger"
)

const signatureHeader = "X-Pixintegra-Signature"

type PaymentSettler interface {
	HandleNotification(ctx context.Context, n reconciler.Notification) (*reconciler.Outcome, error)
}

type SigningClient interface {
	SigningSecret() string
}

// chargeEvent is the gateway's webhook payload, delivered flat: the charge
// id, its reported status, the paid value, and our external reference.
type chargeEvent struct {
	ID         string          `json:"id"`
	Status     string          `json:"status"`
	Value      decimal.Decimal `json:"value"`
	ExternalID string          `json:"external_id"`
}

// PixIntegraWebhook settles PIX charge events. Deliveries are deduplicated by
// the gateway's idempotency header (falling back to a hash of the body), and
// notifications for unknown orders are acknowledged so the gateway stops
// retrying them.
func PixIntegraWebhook(svc PaymentSettler, client SigningClient, guard *idempotency.Guard, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil || client == nil || guard == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook pipeline unavailable"))
			return
		}

		payload, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		signature := r.Header.Get(signatureHeader)
		if signature == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "signature missing"))
			return
		}
		if !validSignature(payload, client.SigningSecret(), signature) {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid signature"))
			return
		}

		var event chargeEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode event"))
			return
		}

		key := strings.TrimSpace(r.Header.Get("X-Idempotency-Key"))
		if key == "" {
			key = idempotency.KeyFromPayload(payload)
		}

		outcome, replayed, err := idempotency.RunOnce(ctx, guard, key, func(ctx context.Context) (*reconciler.Outcome, error) {
			return svc.HandleNotification(ctx, reconciler.Notification{
				ChargeID:   event.ID,
				ExternalID: event.ExternalID,
				Status:     pixintegra.ChargeStatus(event.Status),
				PaidAmount: event.Value,
			})
		})
		if err != nil {
			if pkgerrors.HasCode(err, pkgerrors.CodeOrderNotFound) {
				// Acknowledged so the gateway stops retrying; the warning is
				// already on the log for reconciliation.
				responses.WriteSuccess(w, map[string]string{"result": "unknown_order"})
				return
			}
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if replayed && logg != nil {
			logg.Info(logg.WithField(ctx, "idempotency_key", key), "webhook replayed")
		}
		responses.WriteSuccess(w, outcome)
	}
}

func validSignature(payload []byte, secret, signature string) bool {
	if secret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(signature))))
}
