package payments

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
)

// CallbackStatus is the normalised outcome reported by the payment gateway.
type CallbackStatus string

const (
	CallbackStatusApproved CallbackStatus = "approved"
	CallbackStatusDeclined CallbackStatus = "declined"
)

var (
	ErrEmptyPayload   = errors.New("payments: empty callback payload")
	ErrUnknownStatus  = errors.New("payments: unknown callback status")
	ErrMissingOrderID = errors.New("payments: callback missing order id")
)

// GatewayCallback is the parsed payment gateway notification. Raw preserves the
// delivered body verbatim for the audit trail.
type GatewayCallback struct {
	Status        CallbackStatus
	OrderNumber   string
	AmountAgorot  int64
	ConfirmNum    string
	CardMask      string
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
	Raw           []byte
}

// Approved reports whether the gateway authorised the charge.
func (c GatewayCallback) Approved() bool {
	return c.Status == CallbackStatusApproved
}

type callbackEnvelope struct {
	Status        string          `json:"status"`
	OrderID       string          `json:"order_id"`
	Amount        json.Number     `json:"amount"`
	ConfirmNum    string          `json:"confirm_num"`
	CardMask      string          `json:"card_mask"`
	CustomerName  string          `json:"customer_name"`
	CustomerEmail string          `json:"email"`
	CustomerPhone string          `json:"phone"`
	Raw           json.RawMessage `json:"raw"`
}

// ParseCallback decodes a gateway callback from either a JSON or a form-encoded body.
// The gateway reports amounts in ILS with two decimal places; they are converted to agorot.
func ParseCallback(contentType string, body []byte) (GatewayCallback, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return GatewayCallback{}, ErrEmptyPayload
	}

	mediaType := contentType
	if parsed, _, err := mime.ParseMediaType(contentType); err == nil {
		mediaType = parsed
	}

	var envelope callbackEnvelope
	switch strings.ToLower(strings.TrimSpace(mediaType)) {
	case "application/x-www-form-urlencoded":
		values, err := url.ParseQuery(string(body))
		if err != nil {
			return GatewayCallback{}, fmt.Errorf("payments: parse form callback: %w", err)
		}
		envelope = callbackEnvelope{
			Status:        values.Get("status"),
			OrderID:       values.Get("order_id"),
			Amount:        json.Number(values.Get("amount")),
			ConfirmNum:    values.Get("confirm_num"),
			CardMask:      values.Get("card_mask"),
			CustomerName:  values.Get("customer_name"),
			CustomerEmail: values.Get("email"),
			CustomerPhone: values.Get("phone"),
		}
	default:
		if err := json.Unmarshal(body, &envelope); err != nil {
			return GatewayCallback{}, fmt.Errorf("payments: parse json callback: %w", err)
		}
	}

	status, err := normalizeStatus(envelope.Status)
	if err != nil {
		return GatewayCallback{}, err
	}

	orderNumber := strings.TrimSpace(envelope.OrderID)
	if orderNumber == "" {
		return GatewayCallback{}, ErrMissingOrderID
	}

	amount, err := parseAmount(string(envelope.Amount))
	if err != nil {
		return GatewayCallback{}, err
	}

	return GatewayCallback{
		Status:        status,
		OrderNumber:   orderNumber,
		AmountAgorot:  amount,
		ConfirmNum:    strings.TrimSpace(envelope.ConfirmNum),
		CardMask:      strings.TrimSpace(envelope.CardMask),
		CustomerName:  strings.TrimSpace(envelope.CustomerName),
		CustomerEmail: strings.TrimSpace(envelope.CustomerEmail),
		CustomerPhone: strings.TrimSpace(envelope.CustomerPhone),
		Raw:           append([]byte(nil), body...),
	}, nil
}

func normalizeStatus(value string) (CallbackStatus, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "approved":
		return CallbackStatusApproved, nil
	case "declined":
		return CallbackStatusDeclined, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, value)
	}
}

func parseAmount(value string) (int64, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, nil
	}
	amount, err := decimal.NewFromString(trimmed)
	if err != nil {
		return 0, fmt.Errorf("payments: parse amount %q: %w", trimmed, err)
	}
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart(), nil
}
