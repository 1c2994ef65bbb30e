package httpapi

import (
	"errors"
	"net/http"

	"github.com/MarkoPoloResearchLab/dtledger/internal/payments"
	"github.com/MarkoPoloResearchLab/dtledger/pkg/ledger"
)

type errorMapping struct {
	sentinel error
	status   int
	code     string
	message  string
}

var webhookErrorMappings = []errorMapping{
	{sentinel: payments.ErrUnknownProvider, status: http.StatusUnauthorized, code: "unknown_provider", message: "Unknown payment provider"},
	{sentinel: payments.ErrInvalidSignature, status: http.StatusUnauthorized, code: "invalid_signature", message: "Invalid signature"},
	{sentinel: payments.ErrInvalidPayload, status: http.StatusUnauthorized, code: "invalid_payload", message: "Invalid payload"},
	{sentinel: payments.ErrMissingOrderID, status: http.StatusUnauthorized, code: "missing_order_id", message: "Missing order id"},
	{sentinel: ledger.ErrPurchaseIntentNotFound, status: http.StatusNotFound, code: "order_not_found", message: "Order not found"},
	{sentinel: payments.ErrWebhookSecretMissing, status: http.StatusInternalServerError, code: "server_misconfigured", message: "Webhook verification is not configured"},
}

var pledgeErrorMappings = []errorMapping{
	{sentinel: ledger.ErrInsufficientBalance, status: http.StatusBadRequest, code: "insufficient_balance", message: "Insufficient DT balance"},
	{sentinel: ledger.ErrTierSoldOut, status: http.StatusBadRequest, code: "tier_sold_out", message: "Reward tier is sold out"},
	{sentinel: ledger.ErrCampaignNotActive, status: http.StatusBadRequest, code: "campaign_not_active", message: "Campaign is not accepting pledges"},
	{sentinel: ledger.ErrRewardTierInactive, status: http.StatusBadRequest, code: "tier_inactive", message: "Reward tier is not available"},
	{sentinel: ledger.ErrPledgeBelowTierPrice, status: http.StatusBadRequest, code: "amount_below_tier_price", message: "Pledge amount is below the tier price"},
	{sentinel: ledger.ErrIdempotencyKeyConflict, status: http.StatusBadRequest, code: "idempotency_key_conflict", message: "Idempotency key already used"},
	{sentinel: ledger.ErrSupportMessageTooLong, status: http.StatusBadRequest, code: "support_message_too_long", message: "Support message is too long"},
	{sentinel: ledger.ErrInvalidAmountDT, status: http.StatusBadRequest, code: "invalid_amount", message: "amountDt must be a positive integer"},
	{sentinel: ledger.ErrInvalidIdempotencyKey, status: http.StatusBadRequest, code: "invalid_request", message: "idempotencyKey is required"},
	{sentinel: ledger.ErrInvalidCampaignID, status: http.StatusBadRequest, code: "invalid_request", message: "campaignId is required"},
	{sentinel: ledger.ErrInvalidRewardTierID, status: http.StatusBadRequest, code: "invalid_request", message: "tierId is invalid"},
	{sentinel: ledger.ErrSelfPledge, status: http.StatusForbidden, code: "self_pledge", message: "Creators cannot pledge to their own campaign"},
	{sentinel: ledger.ErrCampaignNotFound, status: http.StatusNotFound, code: "campaign_not_found", message: "Campaign not found"},
	{sentinel: ledger.ErrRewardTierNotFound, status: http.StatusNotFound, code: "tier_not_found", message: "Reward tier not found"},
}

func webhookErrorStatus(err error) (int, string, string) {
	return mapError(err, webhookErrorMappings)
}

func pledgeErrorStatus(err error) (int, string, string) {
	return mapError(err, pledgeErrorMappings)
}

func mapError(err error, mappings []errorMapping) (int, string, string) {
	for _, mapping := range mappings {
		if errors.Is(err, mapping.sentinel) {
			return mapping.status, mapping.code, mapping.message
		}
	}
	return http.StatusInternalServerError, "internal_error", "Internal server error"
}
