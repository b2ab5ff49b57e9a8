package smsactivate

import (
	"strings"

	"github.com/shopspring/decimal"

	pkgerrors "github.com/zapcredits/zapcredits-backend/pkg/errors"
)

// Acquisition is a successfully reserved phone number.
type Acquisition struct {
	ActivationID string
	PhoneNumber  string
}

// Status is one poll of an in-flight activation.
type Status struct {
	// Waiting is true while the vendor has not yet received a message.
	Waiting bool
	// Cancelled is true once the vendor aborted the activation on its side.
	Cancelled bool
	// Code holds the received SMS code when the activation completed.
	Code string
}

// ParseBalance reads an ACCESS_BALANCE:<amount> line.
func ParseBalance(raw string) (decimal.Decimal, error) {
	value, ok := strings.CutPrefix(raw, "ACCESS_BALANCE:")
	if !ok {
		return decimal.Zero, protocolError(raw)
	}
	balance, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "malformed vendor balance")
	}
	return balance, nil
}

// ParseAcquisition reads an ACCESS_NUMBER:<id>:<phone> line.
func ParseAcquisition(raw string) (*Acquisition, error) {
	rest, ok := strings.CutPrefix(raw, "ACCESS_NUMBER:")
	if !ok {
		return nil, protocolError(raw)
	}
	parts := strings.SplitN(rest, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "malformed acquisition response: "+raw)
	}
	return &Acquisition{ActivationID: parts[0], PhoneNumber: parts[1]}, nil
}

// ParseStatus reads a STATUS_* line from a getStatus poll.
func ParseStatus(raw string) (*Status, error) {
	switch {
	case raw == "STATUS_WAIT_CODE" || raw == "STATUS_WAIT_RETRY":
		return &Status{Waiting: true}, nil
	case raw == "STATUS_CANCEL":
		return &Status{Cancelled: true}, nil
	case strings.HasPrefix(raw, "STATUS_OK:"):
		code := strings.TrimPrefix(raw, "STATUS_OK:")
		if code == "" {
			return nil, pkgerrors.New(pkgerrors.CodeDependency, "status ok without code")
		}
		return &Status{Code: code}, nil
	default:
		return nil, protocolError(raw)
	}
}

func protocolError(raw string) error {
	switch raw {
	case "NO_NUMBERS":
		return ErrNoNumbers
	case "NO_BALANCE":
		return ErrNoBalance
	case "BAD_KEY":
		return pkgerrors.New(pkgerrors.CodeDependency, "vendor rejected api key")
	case "ERROR_SQL":
		return pkgerrors.New(pkgerrors.CodeDependency, "vendor internal error")
	default:
		return pkgerrors.New(pkgerrors.CodeDependency, "unrecognized vendor response: "+raw)
	}
}
