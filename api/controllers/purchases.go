package controllers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/zapcredits/zapcredits-backend/api/responses"
	"github.com/zapcredits/zapcredits-backend/api/validators"
	pkgerrors "github.com/zapcredits/zapcredits-backend/pkg/errors"
	"github.com/zapcredits/zapcredits-backend/pkg/db/models"
	"github.com/zapcredits/zapcredits-backend/pkg/logger"
)

type PurchaseService interface {
	QuoteSMS(ctx context.Context, accountKey, serviceCode string) (decimal.Decimal, error)
	PurchaseSMS(ctx context.Context, accountKey, serviceCode string) (*models.Order, error)
	PurchaseFollowers(ctx context.Context, accountKey string, serviceID int, link string, quantity int) (*models.Order, error)
	ListOrders(ctx context.Context, accountKey string, limit int) ([]models.Order, error)
}

type ActivationCanceller interface {
	Cancel(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
}

type purchaseSMSRequest struct {
	Service string `json:"service" validate:"required"`
}

// PurchaseSMS rents a disposable number for the given service.
func PurchaseSMS(svc PurchaseService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		accountKey := chi.URLParam(r, "accountKey")
		if accountKey == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "account key is required"))
			return
		}
		ctx = logg.WithAccountID(ctx, accountKey)

		var req purchaseSMSRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		order, err := svc.PurchaseSMS(ctx, accountKey, req.Service)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, orderView(order))
	}
}

// QuoteSMS prices one activation without buying it.
func QuoteSMS(svc PurchaseService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		accountKey := chi.URLParam(r, "accountKey")
		serviceCode := r.URL.Query().Get("service")
		if accountKey == "" || serviceCode == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "account key and service are required"))
			return
		}
		ctx = logg.WithAccountID(ctx, accountKey)

		price, err := svc.QuoteSMS(ctx, accountKey, serviceCode)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{
			"service": serviceCode,
			"price":   price.StringFixed(2),
		})
	}
}

type purchaseFollowersRequest struct {
	ServiceID int    `json:"service_id" validate:"required,gt=0"`
	Link      string `json:"link" validate:"required,url"`
	Quantity  int    `json:"quantity" validate:"required,gt=0"`
}

// PurchaseFollowers buys a follower delivery package.
func PurchaseFollowers(svc PurchaseService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		accountKey := chi.URLParam(r, "accountKey")
		if accountKey == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "account key is required"))
			return
		}
		ctx = logg.WithAccountID(ctx, accountKey)

		var req purchaseFollowersRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		order, err := svc.PurchaseFollowers(ctx, accountKey, req.ServiceID, req.Link, req.Quantity)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, orderView(order))
	}
}

// AccountOrders lists the account's order history, most recent first.
func AccountOrders(svc PurchaseService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		accountKey := chi.URLParam(r, "accountKey")
		if accountKey == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "account key is required"))
			return
		}
		ctx = logg.WithAccountID(ctx, accountKey)

		limit := defaultHistoryLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "limit must be a positive integer"))
				return
			}
			limit = parsed
		}

		found, err := svc.ListOrders(ctx, accountKey, limit)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, orderViews(found))
	}
}

// CancelActivation aborts a pending SMS activation and refunds its credits.
func CancelActivation(canceller ActivationCanceller, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		orderID, err := uuid.Parse(chi.URLParam(r, "orderID"))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "order id must be a uuid"))
			return
		}
		ctx = logg.WithOrderID(ctx, orderID.String())

		order, err := canceller.Cancel(ctx, orderID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, orderView(order))
	}
}
