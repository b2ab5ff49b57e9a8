package pixintegra

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"

	"github.com/zapcredits/zapcredits-backend/pkg/config"
	pkgerrors "github.com/zapcredits/zapcredits-backend/pkg/errors"
	"github.com/zapcredits/zapcredits-backend/pkg/logger"
)

// ChargeStatus is the gateway-reported lifecycle of a PIX charge.
type ChargeStatus string

const (
	ChargeStatusPending   ChargeStatus = "pending"
	ChargeStatusPaid      ChargeStatus = "paid"
	ChargeStatusConfirmed ChargeStatus = "confirmed"
	ChargeStatusCancelled ChargeStatus = "cancelled"
	ChargeStatusExpired   ChargeStatus = "expired"
)

// IsPaid reports whether the status denotes a settled payment.
func (s ChargeStatus) IsPaid() bool {
	return s == ChargeStatusPaid || s == ChargeStatusConfirmed
}

// Charge is a created or fetched PIX charge.
type Charge struct {
	ID         string          `json:"id"`
	Status     ChargeStatus    `json:"status"`
	Value      decimal.Decimal `json:"value"`
	PaidAmount decimal.Decimal `json:"paid_value"`
	QRText     string          `json:"qr_code_text"`
	QRImageURL string          `json:"qr_code_image"`
	ExternalID string          `json:"external_id"`
	ExpiresAt  time.Time       `json:"expires_at"`
}

// CreateChargeParams describes a new charge request.
type CreateChargeParams struct {
	Amount      decimal.Decimal
	Description string
	ExternalID  string
	ExpiresIn   time.Duration
}

var (
	errTokenRequired  = errors.New("pixintegra api token is required")
	errLoggerRequired = errors.New("pixintegra logger is required")
)

const retryAttempts = 3

// Client is a narrow HTTP client for the PixIntegra charge API. Transient
// failures are retried with bounded exponential backoff before surfacing a
// dependency error.
type Client struct {
	baseURL       string
	apiToken      string
	webhookSecret string
	httpClient    *http.Client
	logg          *logger.Logger
}

// NewClient validates credentials and builds the gateway client.
func NewClient(cfg config.PixIntegraConfig, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	token := strings.TrimSpace(cfg.APIToken)
	if token == "" {
		return nil, errTokenRequired
	}
	return &Client{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		apiToken:      token,
		webhookSecret: cfg.WebhookSecret,
		httpClient:    &http.Client{Timeout: cfg.Timeout},
		logg:          logg,
	}, nil
}

// SigningSecret returns the shared HMAC secret for webhook verification.
func (c *Client) SigningSecret() string {
	if c == nil {
		return ""
	}
	return c.webhookSecret
}

// CreateCharge registers a new PIX charge and returns its QR payloads.
func (c *Client) CreateCharge(ctx context.Context, params CreateChargeParams) (*Charge, error) {
	body := map[string]any{
		"value":       params.Amount.StringFixed(2),
		"description": params.Description,
		"external_id": params.ExternalID,
		"expires_at":  time.Now().Add(params.ExpiresIn).UTC().Format(time.RFC3339),
	}

	var charge Charge
	if err := c.do(ctx, http.MethodPost, "/v1/charges", body, &charge); err != nil {
		return nil, err
	}

	ctx = c.logg.WithFields(ctx, map[string]any{"charge_id": charge.ID, "amount": params.Amount.StringFixed(2)})
	c.logg.Info(ctx, "pixintegra charge created")
	return &charge, nil
}

// GetCharge fetches the current status of a charge.
func (c *Client) GetCharge(ctx context.Context, chargeID string) (*Charge, error) {
	if chargeID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "charge id is required")
	}
	var charge Charge
	if err := c.do(ctx, http.MethodGet, "/v1/charges/"+chargeID, nil, &charge); err != nil {
		return nil, err
	}
	return &charge, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, dest any) error {
	var payload []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode request")
		}
		payload = encoded
	}

	backoff := retry.WithMaxRetries(retryAttempts, retry.NewExponential(500*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build request")
		}
		req.Header.Set("Authorization", "Bearer "+c.apiToken)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return retry.RetryableError(pkgerrors.Wrap(pkgerrors.CodeDependency, err, "pixintegra request"))
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode >= http.StatusInternalServerError:
			return retry.RetryableError(pkgerrors.New(pkgerrors.CodeDependency,
				fmt.Sprintf("pixintegra responded %d", resp.StatusCode)))
		case resp.StatusCode == http.StatusNotFound:
			return pkgerrors.New(pkgerrors.CodeNotFound, "charge not found")
		case resp.StatusCode >= http.StatusBadRequest:
			return pkgerrors.New(pkgerrors.CodeDependency,
				fmt.Sprintf("pixintegra rejected request with %d", resp.StatusCode))
		}

		if dest == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode pixintegra response")
		}
		return nil
	})
}
