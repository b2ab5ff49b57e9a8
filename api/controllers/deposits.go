package controllers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/zapcredits/zapcredits-backend/api/responses"
	"github.com/zapcredits/zapcredits-backend/api/validators"
	pkgerrors "github.com/zapcredits/zapcredits-backend/pkg/errors"
	"github.com/zapcredits/zapcredits-backend/pkg/db/models"
	"github.com/zapcredits/zapcredits-backend/pkg/logger"
)

type DepositService interface {
	CreateDeposit(ctx context.Context, accountKey string, amount decimal.Decimal) (*models.Order, error)
}

type createDepositRequest struct {
	Amount string `json:"amount" validate:"required"`
}

// CreateDeposit opens a PIX deposit and returns the QR payload to pay it.
func CreateDeposit(svc DepositService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		accountKey := chi.URLParam(r, "accountKey")
		if accountKey == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "account key is required"))
			return
		}
		ctx = logg.WithAccountID(ctx, accountKey)

		var req createDepositRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		amount, err := decimal.NewFromString(req.Amount)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "amount must be a decimal string"))
			return
		}

		order, err := svc.CreateDeposit(ctx, accountKey, amount)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, orderView(order))
	}
}
