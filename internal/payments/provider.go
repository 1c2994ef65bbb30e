package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Provider names an external payment processor.
type Provider string

const (
	ProviderToss    Provider = "toss"
	ProviderPortOne Provider = "portone"

	tossStatusDone         = "DONE"
	portOneEventPaid       = "Transaction.Paid"
	portOneSignaturePrefix = "v1,"
)

var (
	ErrUnknownProvider      = errors.New("unknown payment provider")
	ErrInvalidSignature     = errors.New("invalid webhook signature")
	ErrWebhookSecretMissing = errors.New("webhook secret not configured")
	ErrInvalidPayload       = errors.New("invalid webhook payload")
	ErrMissingOrderID       = errors.New("webhook payload has no order id")
)

// ParseProvider normalizes the provider header. An empty header means toss.
func ParseProvider(raw string) (Provider, error) {
	switch provider := Provider(strings.ToLower(strings.TrimSpace(raw))); provider {
	case "":
		return ProviderToss, nil
	case ProviderToss, ProviderPortOne:
		return provider, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, raw)
	}
}

// Sign returns the signature the provider attaches to body.
// Toss sends base64 HMAC-SHA256; PortOne sends hex HMAC-SHA256.
func Sign(provider Provider, secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	digest := mac.Sum(nil)
	if provider == ProviderPortOne {
		return hex.EncodeToString(digest)
	}
	return base64.StdEncoding.EncodeToString(digest)
}

// VerifySignature compares the provided signature against the expected one in constant time.
func VerifySignature(provider Provider, secret string, body []byte, signature string) error {
	if secret == "" {
		return ErrWebhookSecretMissing
	}
	provided := strings.TrimSpace(signature)
	if provider == ProviderPortOne {
		provided = strings.ToLower(strings.TrimPrefix(provided, portOneSignaturePrefix))
	}
	if provided == "" {
		return ErrInvalidSignature
	}
	expected := Sign(provider, secret, body)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(provided)) != 1 {
		return ErrInvalidSignature
	}
	return nil
}

// PaymentEvent is the provider-neutral view of a webhook notification.
type PaymentEvent struct {
	Provider      Provider
	OrderID       string
	TransactionID string
	Status        string
	Paid          bool
}

type tossWebhookPayload struct {
	EventType string `json:"eventType"`
	Data      struct {
		PaymentKey string `json:"paymentKey"`
		OrderID    string `json:"orderId"`
		Status     string `json:"status"`
	} `json:"data"`
}

type portOneWebhookPayload struct {
	Type string `json:"type"`
	Data struct {
		PaymentID     string `json:"paymentId"`
		TransactionID string `json:"transactionId"`
	} `json:"data"`
}

// ParsePaymentEvent maps a provider payload onto PaymentEvent.
func ParsePaymentEvent(provider Provider, body []byte) (PaymentEvent, error) {
	event := PaymentEvent{Provider: provider}
	switch provider {
	case ProviderToss:
		var payload tossWebhookPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			return PaymentEvent{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		event.OrderID = payload.Data.OrderID
		event.TransactionID = payload.Data.PaymentKey
		event.Status = strings.ToUpper(strings.TrimSpace(payload.Data.Status))
		event.Paid = event.Status == tossStatusDone
	case ProviderPortOne:
		var payload portOneWebhookPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			return PaymentEvent{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		event.OrderID = payload.Data.PaymentID
		event.TransactionID = payload.Data.TransactionID
		event.Status = strings.TrimSpace(payload.Type)
		event.Paid = event.Status == portOneEventPaid
	default:
		return PaymentEvent{}, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
	event.OrderID = strings.TrimSpace(event.OrderID)
	if event.OrderID == "" {
		return PaymentEvent{}, ErrMissingOrderID
	}
	return event, nil
}
