package smsactivate

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"

	"github.com/zapcredits/zapcredits-backend/pkg/config"
	pkgerrors "github.com/zapcredits/zapcredits-backend/pkg/errors"
	"github.com/zapcredits/zapcredits-backend/pkg/logger"
)

// FinishCode is the status pushed back to the vendor when an activation ends.
type FinishCode int

const (
	FinishConfirm FinishCode = 6
	FinishCancel  FinishCode = 8
)

var (
	errKeyRequired    = errors.New("smsactivate api key is required")
	errLoggerRequired = errors.New("smsactivate logger is required")

	// ErrNoNumbers signals the vendor has no numbers for the service right now.
	ErrNoNumbers = pkgerrors.New(pkgerrors.CodeDependency, "no numbers available for service")
	// ErrNoBalance signals the upstream vendor account is out of funds.
	ErrNoBalance = pkgerrors.New(pkgerrors.CodeDependency, "vendor account has insufficient balance")
)

const retryAttempts = 3

// Client talks to the SMS number vendor. Responses are plain text with a
// colon-delimited prefix protocol rather than JSON.
type Client struct {
	baseURL    string
	apiKey     string
	country    string
	httpClient *http.Client
	logg       *logger.Logger
}

// NewClient validates credentials and builds the vendor client.
func NewClient(cfg config.SMSActivateConfig, logg *logger.Logger) (*Client, error) {
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
		country:    cfg.Country,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logg:       logg,
	}, nil
}

// GetBalance returns the vendor account balance.
func (c *Client) GetBalance(ctx context.Context) (decimal.Decimal, error) {
	raw, err := c.call(ctx, url.Values{"action": {"getBalance"}})
	if err != nil {
		return decimal.Zero, err
	}
	return ParseBalance(raw)
}

// GetNumber acquires a phone number for the given service code.
func (c *Client) GetNumber(ctx context.Context, service string) (*Acquisition, error) {
	if service == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "service code is required")
	}
	raw, err := c.call(ctx, url.Values{
		"action":  {"getNumber"},
		"service": {service},
		"country": {c.country},
	})
	if err != nil {
		return nil, err
	}
	acq, err := ParseAcquisition(raw)
	if err != nil {
		return nil, err
	}
	ctx = c.logg.WithActivationID(ctx, acq.ActivationID)
	c.logg.Info(ctx, "sms number acquired")
	return acq, nil
}

// GetStatus polls an activation for a received code.
func (c *Client) GetStatus(ctx context.Context, activationID string) (*Status, error) {
	if activationID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "activation id is required")
	}
	raw, err := c.call(ctx, url.Values{
		"action": {"getStatus"},
		"id":     {activationID},
	})
	if err != nil {
		return nil, err
	}
	return ParseStatus(raw)
}

// SetStatus reports the final disposition of an activation back to the vendor.
func (c *Client) SetStatus(ctx context.Context, activationID string, code FinishCode) error {
	if activationID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "activation id is required")
	}
	_, err := c.call(ctx, url.Values{
		"action": {"setStatus"},
		"id":     {activationID},
		"status": {code.queryValue()},
	})
	return err
}

func (code FinishCode) queryValue() string {
	if code == FinishCancel {
		return "8"
	}
	return "6"
}

func (c *Client) call(ctx context.Context, params url.Values) (string, error) {
	params.Set("api_key", c.apiKey)
	endpoint := c.baseURL + "?" + params.Encode()

	var raw string
	backoff := retry.WithMaxRetries(retryAttempts, retry.NewExponential(500*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build request")
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return retry.RetryableError(pkgerrors.Wrap(pkgerrors.CodeDependency, err, "smsactivate request"))
		}
		defer resp.Body.Close()

		if resp.StatusCode >= http.StatusInternalServerError {
			return retry.RetryableError(pkgerrors.New(pkgerrors.CodeDependency, "smsactivate server error"))
		}
		if resp.StatusCode != http.StatusOK {
			return pkgerrors.New(pkgerrors.CodeDependency, "unexpected smsactivate status "+resp.Status)
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return retry.RetryableError(pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read smsactivate response"))
		}
		raw = strings.TrimSpace(string(body))
		return nil
	})
	if err != nil {
		return "", err
	}
	return raw, nil
}
