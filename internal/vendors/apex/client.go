package apex

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"

	"github.com/zapcredits/zapcredits-backend/pkg/config"
	pkgerrors "github.com/zapcredits/zapcredits-backend/pkg/errors"
	"github.com/zapcredits/zapcredits-backend/pkg/logger"
)

// OrderStatus is the panel-reported lifecycle of a follower order.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "Pending"
	OrderStatusInProgress OrderStatus = "In progress"
	OrderStatusProcessing OrderStatus = "Processing"
	OrderStatusCompleted  OrderStatus = "Completed"
	OrderStatusPartial    OrderStatus = "Partial"
	OrderStatusCanceled   OrderStatus = "Canceled"
)

// IsTerminal reports whether the panel will not advance the order further.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusCompleted, OrderStatusPartial, OrderStatusCanceled:
		return true
	}
	return false
}

// Service is one catalog entry from the panel.
type Service struct {
	ID       int             `json:"service"`
	Name     string          `json:"name"`
	Category string          `json:"category"`
	// Rate is the panel cost per 1000 units.
	Rate decimal.Decimal `json:"rate"`
	Min  int             `json:"min"`
	Max  int             `json:"max"`
}

// CostFor returns the panel cost of delivering quantity units.
func (s Service) CostFor(quantity int) decimal.Decimal {
	return s.Rate.Mul(decimal.NewFromInt(int64(quantity))).Div(decimal.NewFromInt(1000))
}

// OrderState is one poll of a placed order.
type OrderState struct {
	Status     OrderStatus     `json:"status"`
	Charge     decimal.Decimal `json:"charge"`
	StartCount int             `json:"start_count,string"`
	Remains    int             `json:"remains,string"`
}

var (
	errKeyRequired    = errors.New("apex api key is required")
	errLoggerRequired = errors.New("apex logger is required")
)

const retryAttempts = 3

// Client talks to the follower panel API. Every call is a form POST with a
// key and an action parameter.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logg       *logger.Logger
}

// NewClient validates credentials and builds the panel client.
func NewClient(cfg config.ApexConfig, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	key := strings.TrimSpace(cfg.APIKey)
	if key == "" {
		return nil, errKeyRequired
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     key,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logg:       logg,
	}, nil
}

// Services lists the panel catalog.
func (c *Client) Services(ctx context.Context) ([]Service, error) {
	var services []Service
	if err := c.call(ctx, url.Values{"action": {"services"}}, &services); err != nil {
		return nil, err
	}
	return services, nil
}

// Balance returns the panel account balance.
func (c *Client) Balance(ctx context.Context) (decimal.Decimal, error) {
	var result struct {
		Balance decimal.Decimal `json:"balance"`
	}
	if err := c.call(ctx, url.Values{"action": {"balance"}}, &result); err != nil {
		return decimal.Zero, err
	}
	return result.Balance, nil
}

// CreateOrder places a delivery order and returns the panel order id.
func (c *Client) CreateOrder(ctx context.Context, serviceID int, link string, quantity int) (string, error) {
	if serviceID <= 0 {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "service id is required")
	}
	if link == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "target link is required")
	}
	if quantity <= 0 {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}

	var result struct {
		OrderID json.Number `json:"order"`
	}
	err := c.call(ctx, url.Values{
		"action":   {"add"},
		"service":  {strconv.Itoa(serviceID)},
		"link":     {link},
		"quantity": {strconv.Itoa(quantity)},
	}, &result)
	if err != nil {
		return "", err
	}
	if result.OrderID.String() == "" {
		return "", pkgerrors.New(pkgerrors.CodeDependency, "panel returned no order id")
	}

	c.logg.Info(ctx, "apex order placed")
	return result.OrderID.String(), nil
}

// OrderState polls a placed order.
func (c *Client) OrderState(ctx context.Context, orderID string) (*OrderState, error) {
	if orderID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	var state OrderState
	err := c.call(ctx, url.Values{
		"action": {"status"},
		"order":  {orderID},
	}, &state)
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (c *Client) call(ctx context.Context, params url.Values, dest any) error {
	params.Set("key", c.apiKey)

	backoff := retry.WithMaxRetries(retryAttempts, retry.NewExponential(500*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL,
			strings.NewReader(params.Encode()))
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build request")
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return retry.RetryableError(pkgerrors.Wrap(pkgerrors.CodeDependency, err, "apex request"))
		}
		defer resp.Body.Close()

		if resp.StatusCode >= http.StatusInternalServerError {
			return retry.RetryableError(pkgerrors.New(pkgerrors.CodeDependency, "apex server error"))
		}
		if resp.StatusCode != http.StatusOK {
			return pkgerrors.New(pkgerrors.CodeDependency, "unexpected apex status "+resp.Status)
		}

		var raw json.RawMessage
		if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode apex response")
		}

		// Panel errors come back as {"error": "..."} with a 200 status.
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			return pkgerrors.New(pkgerrors.CodeDependency, "apex: "+apiErr.Error)
		}

		if dest == nil {
			return nil
		}
		if err := json.Unmarshal(raw, dest); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode apex response")
		}
		return nil
	})
}
