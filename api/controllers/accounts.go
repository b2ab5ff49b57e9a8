package controllers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/zapcredits/zapcredits-backend/api/responses"
	"github.com/zapcredits/zapcredits-backend/internal/ledger"
	pkgerrors "github.com/zapcredits/zapcredits-backend/pkg/errors"
	"github.com/zapcredits/zapcredits-backend/pkg/logger"
)

const defaultHistoryLimit = 50

// AccountBalance reports the account's current credit balance and tier.
func AccountBalance(ledgerSvc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		accountKey := chi.URLParam(r, "accountKey")
		if accountKey == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "account key is required"))
			return
		}
		ctx = logg.WithAccountID(ctx, accountKey)

		balance, err := ledgerSvc.Balance(ctx, accountKey)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		tier, err := ledgerSvc.Tier(ctx, accountKey)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]string{
			"account_key": accountKey,
			"balance":     balance.StringFixed(2),
			"tier":        string(tier),
		})
	}
}

// AccountTransactions lists the account's ledger history, most recent first.
func AccountTransactions(ledgerSvc ledger.Service, logg *logger.Logger) http.HandlerFunc {
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

		found, err := ledgerSvc.ListTransactions(ctx, accountKey, limit)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, transactionViews(found))
	}
}
