package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// AmountDT is an integer quantity of digital tokens.
type AmountDT int64

// UserID identifies a wallet owner, backer, or creator.
type UserID struct {
	value string
}

// WalletID identifies a wallet row.
type WalletID struct {
	value string
}

// OrderID identifies a purchase intent; it is the external order id.
type OrderID struct {
	value string
}

// CampaignID identifies a funding campaign.
type CampaignID struct {
	value string
}

// RewardTierID identifies a reward tier of a campaign.
type RewardTierID struct {
	value string
}

// PledgeID identifies a funding pledge.
type PledgeID struct {
	value string
}

// IdempotencyKey scopes duplicate detection.
type IdempotencyKey struct {
	value string
}

// MetadataJSON stores arbitrary request metadata.
type MetadataJSON struct {
	value string
}

func normalizeIdentifier(raw string, sentinel error) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty value", sentinel)
	}
	return trimmed, nil
}

// NewUserID validates and normalizes a user id.
func NewUserID(raw string) (UserID, error) {
	value, err := normalizeIdentifier(raw, ErrInvalidUserID)
	if err != nil {
		return UserID{}, err
	}
	return UserID{value: value}, nil
}

// String returns the normalized identifier.
func (id UserID) String() string {
	return id.value
}

// NewWalletID validates and normalizes a wallet id.
func NewWalletID(raw string) (WalletID, error) {
	value, err := normalizeIdentifier(raw, ErrInvalidWalletID)
	if err != nil {
		return WalletID{}, err
	}
	return WalletID{value: value}, nil
}

// String returns the normalized identifier.
func (id WalletID) String() string {
	return id.value
}

// NewOrderID validates and normalizes an order id.
func NewOrderID(raw string) (OrderID, error) {
	value, err := normalizeIdentifier(raw, ErrInvalidOrderID)
	if err != nil {
		return OrderID{}, err
	}
	return OrderID{value: value}, nil
}

// String returns the normalized identifier.
func (id OrderID) String() string {
	return id.value
}

// NewCampaignID validates and normalizes a campaign id.
func NewCampaignID(raw string) (CampaignID, error) {
	value, err := normalizeIdentifier(raw, ErrInvalidCampaignID)
	if err != nil {
		return CampaignID{}, err
	}
	return CampaignID{value: value}, nil
}

// String returns the normalized identifier.
func (id CampaignID) String() string {
	return id.value
}

// NewRewardTierID validates and normalizes a reward tier id.
func NewRewardTierID(raw string) (RewardTierID, error) {
	value, err := normalizeIdentifier(raw, ErrInvalidRewardTierID)
	if err != nil {
		return RewardTierID{}, err
	}
	return RewardTierID{value: value}, nil
}

// String returns the normalized identifier.
func (id RewardTierID) String() string {
	return id.value
}

// NewPledgeID validates and normalizes a pledge id.
func NewPledgeID(raw string) (PledgeID, error) {
	value, err := normalizeIdentifier(raw, ErrInvalidPledgeID)
	if err != nil {
		return PledgeID{}, err
	}
	return PledgeID{value: value}, nil
}

// String returns the normalized identifier.
func (id PledgeID) String() string {
	return id.value
}

// NewIdempotencyKey validates and normalizes an idempotency key.
func NewIdempotencyKey(raw string) (IdempotencyKey, error) {
	value, err := normalizeIdentifier(raw, ErrInvalidIdempotencyKey)
	if err != nil {
		return IdempotencyKey{}, err
	}
	return IdempotencyKey{value: value}, nil
}

// String returns the normalized key.
func (key IdempotencyKey) String() string {
	return key.value
}

// PurchaseIdempotencyKey is the canonical key every payment producer uses for an order.
func PurchaseIdempotencyKey(orderID OrderID) IdempotencyKey {
	return IdempotencyKey{value: idempotencyNamespacePurchase + idempotencyKeyDelimiter + orderID.String()}
}

func pledgeLedgerKey(key IdempotencyKey) IdempotencyKey {
	return IdempotencyKey{value: idempotencyNamespacePledge + idempotencyKeyDelimiter + key.String()}
}

// NewMetadataJSON validates metadata string (defaulting to "{}" for empty inputs).
func NewMetadataJSON(raw string) (MetadataJSON, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = "{}"
	}
	if !json.Valid([]byte(normalized)) {
		return MetadataJSON{}, fmt.Errorf("%w: must be valid json", ErrInvalidMetadataJSON)
	}
	return MetadataJSON{value: normalized}, nil
}

// String returns the normalized JSON blob.
func (metadata MetadataJSON) String() string {
	if metadata.value == "" {
		return "{}"
	}
	return metadata.value
}

// NewAmountDT validates an amount and ensures it is strictly positive.
func NewAmountDT(raw int64) (AmountDT, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmountDT)
	}
	return AmountDT(raw), nil
}

// NewNonNegativeAmountDT validates an amount that may be zero.
func NewNonNegativeAmountDT(raw int64) (AmountDT, error) {
	if raw < 0 {
		return 0, fmt.Errorf("%w: must not be negative", ErrInvalidAmountDT)
	}
	return AmountDT(raw), nil
}

// Int64 returns the raw token count.
func (amount AmountDT) Int64() int64 {
	return int64(amount)
}

// KRW converts the amount at the fixed settlement rate.
func (amount AmountDT) KRW() int64 {
	return int64(amount) * KRWPerDT
}

// PurchaseStatus is the lifecycle of a purchase intent.
type PurchaseStatus string

const (
	PurchaseStatusPending   PurchaseStatus = "pending"
	PurchaseStatusPaid      PurchaseStatus = "paid"
	PurchaseStatusCancelled PurchaseStatus = "cancelled"
	PurchaseStatusFailed    PurchaseStatus = "failed"
)

// ParsePurchaseStatus validates a stored purchase status.
func ParsePurchaseStatus(raw string) (PurchaseStatus, error) {
	switch status := PurchaseStatus(strings.TrimSpace(raw)); status {
	case PurchaseStatusPending, PurchaseStatusPaid, PurchaseStatusCancelled, PurchaseStatusFailed:
		return status, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPurchaseStatus, raw)
	}
}

// String returns the stored representation.
func (status PurchaseStatus) String() string {
	return string(status)
}

// IsTerminal reports whether no further transition is allowed.
func (status PurchaseStatus) IsTerminal() bool {
	return status != PurchaseStatusPending
}

// CampaignStatus is the lifecycle of a funding campaign.
type CampaignStatus string

const (
	CampaignStatusDraft     CampaignStatus = "draft"
	CampaignStatusActive    CampaignStatus = "active"
	CampaignStatusSucceeded CampaignStatus = "succeeded"
	CampaignStatusFailed    CampaignStatus = "failed"
	CampaignStatusCancelled CampaignStatus = "cancelled"
)

// ParseCampaignStatus validates a stored campaign status.
func ParseCampaignStatus(raw string) (CampaignStatus, error) {
	switch status := CampaignStatus(strings.TrimSpace(raw)); status {
	case CampaignStatusDraft, CampaignStatusActive, CampaignStatusSucceeded, CampaignStatusFailed, CampaignStatusCancelled:
		return status, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidCampaignStatus, raw)
	}
}

// String returns the stored representation.
func (status CampaignStatus) String() string {
	return string(status)
}

// PledgeStatus is the lifecycle of a funding pledge.
type PledgeStatus string

const (
	PledgeStatusActive    PledgeStatus = "active"
	PledgeStatusCompleted PledgeStatus = "completed"
	PledgeStatusRefunded  PledgeStatus = "refunded"
	PledgeStatusCancelled PledgeStatus = "cancelled"
)

// ParsePledgeStatus validates a stored pledge status.
func ParsePledgeStatus(raw string) (PledgeStatus, error) {
	switch status := PledgeStatus(strings.TrimSpace(raw)); status {
	case PledgeStatusActive, PledgeStatusCompleted, PledgeStatusRefunded, PledgeStatusCancelled:
		return status, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPledgeStatus, raw)
	}
}

// String returns the stored representation.
func (status PledgeStatus) String() string {
	return string(status)
}

// Wallet is the per-user balance record.
type Wallet struct {
	ID                  WalletID
	UserID              UserID
	BalanceDT           AmountDT
	LifetimePurchasedDT AmountDT
}

// PurchaseIntent is a pending external payment.
type PurchaseIntent struct {
	OrderID   OrderID
	UserID    UserID
	DTAmount  AmountDT
	BonusDT   AmountDT
	PriceKRW  int64
	Status    PurchaseStatus
	CreatedAt time.Time
}

// TotalDT is the amount credited when the intent is paid.
func (intent PurchaseIntent) TotalDT() AmountDT {
	return intent.DTAmount + intent.BonusDT
}

// IdempotencyEntry is the append-only record of an applied effect.
type IdempotencyEntry struct {
	Key          IdempotencyKey
	UserID       UserID
	BalanceDelta int64
	Metadata     MetadataJSON
	CreatedAt    time.Time
}

// Campaign is the subset of campaign state the pledge engine reads.
type Campaign struct {
	ID              CampaignID
	CreatorID       UserID
	Status          CampaignStatus
	EndAt           *time.Time
	CurrentAmountDT AmountDT
	BackerCount     int64
}

// AcceptsPledgesAt reports whether the campaign is open at the given instant.
func (campaign Campaign) AcceptsPledgesAt(now time.Time) bool {
	if campaign.Status != CampaignStatusActive {
		return false
	}
	return campaign.EndAt == nil || now.Before(*campaign.EndAt)
}

// RewardTier is a purchasable reward level of a campaign.
type RewardTier struct {
	ID                RewardTierID
	CampaignID        CampaignID
	PriceDT           AmountDT
	IsActive          bool
	RemainingQuantity *int64
	PledgeCount       int64
}

// SoldOut reports whether a limited tier has no inventory left.
func (tier RewardTier) SoldOut() bool {
	return tier.RemainingQuantity != nil && *tier.RemainingQuantity <= 0
}

// Pledge is a backer's commitment of DT toward a campaign.
type Pledge struct {
	ID             PledgeID
	CampaignID     CampaignID
	TierID         *RewardTierID
	UserID         UserID
	AmountDT       AmountDT
	ExtraSupportDT AmountDT
	TotalAmountDT  AmountDT
	IdempotencyKey IdempotencyKey
	Status         PledgeStatus
	IsAnonymous    bool
	SupportMessage string
	CreatedAt      time.Time
}

// Store is the persistence contract used by Service.
// Conditional mutations report their sentinel when the guarded row does not match.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error

	IdempotencyEntryExists(ctx context.Context, key IdempotencyKey) (bool, error)
	InsertIdempotencyEntry(ctx context.Context, entry IdempotencyEntry) error

	GetOrCreateWallet(ctx context.Context, userID UserID) (Wallet, error)
	GetWallet(ctx context.Context, userID UserID) (Wallet, error)
	CreditWallet(ctx context.Context, walletID WalletID, userID UserID, amount AmountDT, purchased AmountDT) (Wallet, error)
	DebitWallet(ctx context.Context, userID UserID, amount AmountDT) (Wallet, error)

	GetPurchaseIntent(ctx context.Context, orderID OrderID) (PurchaseIntent, error)
	TransitionPurchaseIntent(ctx context.Context, orderID OrderID, from PurchaseStatus, to PurchaseStatus, providerTransactionID string) error

	GetCampaign(ctx context.Context, campaignID CampaignID) (Campaign, error)
	GetRewardTier(ctx context.Context, campaignID CampaignID, tierID RewardTierID) (RewardTier, error)
	FindPledgeByIdempotencyKey(ctx context.Context, key IdempotencyKey) (Pledge, error)
	InsertPledge(ctx context.Context, pledge Pledge) error
	ApplyCampaignPledge(ctx context.Context, campaignID CampaignID, total AmountDT, now time.Time) error
	ConsumeRewardTier(ctx context.Context, campaignID CampaignID, tierID RewardTierID) error
}
