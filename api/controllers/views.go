package controllers

import (
	"time"

	"github.com/zapcredits/zapcredits-backend/pkg/db/models"
)

// OrderView is the wire shape of an order across the account endpoints.
type OrderView struct {
	ID         string     `json:"id"`
	Kind       string     `json:"kind"`
	Status     string     `json:"status"`
	Quantity   int        `json:"quantity"`
	Amount     string     `json:"amount"`
	Price      string     `json:"price"`
	Service    *string    `json:"service,omitempty"`
	Phone      *string    `json:"phone,omitempty"`
	SMSCode    *string    `json:"sms_code,omitempty"`
	TargetURL  *string    `json:"target_url,omitempty"`
	QRText     *string    `json:"qr_text,omitempty"`
	QRImageURL *string    `json:"qr_image_url,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  *time.Time `json:"updated_at,omitempty"`
}

func orderView(order *models.Order) OrderView {
	view := OrderView{
		ID:         order.ID.String(),
		Kind:       string(order.Kind),
		Status:     string(order.Status),
		Quantity:   order.Quantity,
		Amount:     order.Amount.StringFixed(2),
		Price:      order.Price.StringFixed(2),
		Service:    order.Service,
		Phone:      order.Phone,
		SMSCode:    order.SMSCode,
		TargetURL:  order.TargetURL,
		QRText:     order.QRText,
		QRImageURL: order.QRImageURL,
		CreatedAt:  order.CreatedAt,
	}
	if !order.UpdatedAt.IsZero() {
		updated := order.UpdatedAt
		view.UpdatedAt = &updated
	}
	return view
}

func orderViews(found []models.Order) []OrderView {
	views := make([]OrderView, 0, len(found))
	for i := range found {
		views = append(views, orderView(&found[i]))
	}
	return views
}

// TransactionView is the wire shape of a ledger entry.
type TransactionView struct {
	ID          string    `json:"id"`
	Amount      string    `json:"amount"`
	Kind        string    `json:"kind"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	Reference   *string   `json:"reference,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func transactionViews(found []models.Transaction) []TransactionView {
	views := make([]TransactionView, 0, len(found))
	for _, txn := range found {
		views = append(views, TransactionView{
			ID:          txn.ID.String(),
			Amount:      txn.Amount.StringFixed(2),
			Kind:        string(txn.Kind),
			Description: txn.Description,
			Status:      string(txn.Status),
			Reference:   txn.Reference,
			CreatedAt:   txn.CreatedAt,
		})
	}
	return views
}
