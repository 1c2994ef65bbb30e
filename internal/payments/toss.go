package payments

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultTossBaseURL  = "https://api.tosspayments.com"
	tossLookupPath      = "/v1/payments/orders/"
	tossRequestTimeout  = 15 * time.Second
	tossErrorNotFound   = "NOT_FOUND_PAYMENT"
	maxTossResponseSize = 1 << 20
)

var (
	// ErrPaymentNotFound means the processor has no record of the order.
	ErrPaymentNotFound = errors.New("payment not found at processor")
	// ErrProviderAPISecretMissing means the processor API secret is not configured.
	ErrProviderAPISecretMissing = errors.New("payment provider api secret not configured")
)

// ProviderPayment is the processor's authoritative view of an order.
type ProviderPayment struct {
	PaymentKey  string
	OrderID     string
	Status      string
	TotalAmount int64
}

// PaymentLookup queries the processor by order id.
type PaymentLookup interface {
	LookupPayment(ctx context.Context, orderID string) (ProviderPayment, error)
}

// TossClient reads payments from the Toss Payments API.
type TossClient struct {
	baseURL    string
	secretKey  string
	httpClient *http.Client
}

// NewTossClient builds a client authenticating with the merchant secret key.
func NewTossClient(baseURL string, secretKey string, httpClient *http.Client) *TossClient {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultTossBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: tossRequestTimeout}
	}
	return &TossClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		secretKey:  secretKey,
		httpClient: httpClient,
	}
}

type tossPaymentResponse struct {
	PaymentKey  string `json:"paymentKey"`
	OrderID     string `json:"orderId"`
	Status      string `json:"status"`
	TotalAmount int64  `json:"totalAmount"`
}

type tossErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (response tossErrorResponse) Error() string {
	return fmt.Sprintf("toss api error: %s - %s", response.Code, response.Message)
}

// LookupPayment implements PaymentLookup.
func (client *TossClient) LookupPayment(ctx context.Context, orderID string) (ProviderPayment, error) {
	if client.secretKey == "" {
		return ProviderPayment{}, ErrProviderAPISecretMissing
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, client.baseURL+tossLookupPath+url.PathEscape(orderID), nil)
	if err != nil {
		return ProviderPayment{}, fmt.Errorf("build toss request: %w", err)
	}
	request.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(client.secretKey+":")))
	request.Header.Set("Accept", "application/json")

	response, err := client.httpClient.Do(request)
	if err != nil {
		return ProviderPayment{}, fmt.Errorf("toss request: %w", err)
	}
	defer response.Body.Close()
	body, err := io.ReadAll(io.LimitReader(response.Body, maxTossResponseSize))
	if err != nil {
		return ProviderPayment{}, fmt.Errorf("read toss response: %w", err)
	}

	if response.StatusCode != http.StatusOK {
		var apiError tossErrorResponse
		_ = json.Unmarshal(body, &apiError)
		if response.StatusCode == http.StatusNotFound || apiError.Code == tossErrorNotFound {
			return ProviderPayment{}, ErrPaymentNotFound
		}
		if apiError.Code == "" {
			return ProviderPayment{}, fmt.Errorf("toss api status %d", response.StatusCode)
		}
		return ProviderPayment{}, apiError
	}

	var payment tossPaymentResponse
	if err := json.Unmarshal(body, &payment); err != nil {
		return ProviderPayment{}, fmt.Errorf("decode toss payment: %w", err)
	}
	return ProviderPayment{
		PaymentKey:  payment.PaymentKey,
		OrderID:     payment.OrderID,
		Status:      strings.ToUpper(payment.Status),
		TotalAmount: payment.TotalAmount,
	}, nil
}
