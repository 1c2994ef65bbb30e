package gormstore

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Wallet mirrors the wallets table.
type Wallet struct {
	ID                  string    `gorm:"column:id;primaryKey"`
	UserID              string    `gorm:"column:user_id;not null;uniqueIndex:uniq_wallets_user"`
	BalanceDT           int64     `gorm:"column:balance_dt;not null;default:0"`
	LifetimePurchasedDT int64     `gorm:"column:lifetime_purchased_dt;not null;default:0"`
	CreatedAt           time.Time `gorm:"column:created_at;not null"`
	UpdatedAt           time.Time `gorm:"column:updated_at;not null"`
}

func (Wallet) TableName() string { return "wallets" }

func (wallet *Wallet) BeforeCreate(tx *gorm.DB) error {
	if wallet.ID == "" {
		wallet.ID = uuid.NewString()
	}
	return nil
}

// PurchaseIntent mirrors the purchase_intents table.
type PurchaseIntent struct {
	OrderID               string     `gorm:"column:order_id;primaryKey"`
	UserID                string     `gorm:"column:user_id;not null;index"`
	DTAmount              int64      `gorm:"column:dt_amount;not null"`
	BonusDT               int64      `gorm:"column:bonus_dt;not null;default:0"`
	PriceKRW              int64      `gorm:"column:price_krw;not null"`
	Status                string     `gorm:"column:status;not null;index:idx_purchase_intents_status_created,priority:1"`
	ProviderTransactionID *string    `gorm:"column:provider_transaction_id"`
	PaidAt                *time.Time `gorm:"column:paid_at"`
	CreatedAt             time.Time  `gorm:"column:created_at;not null;index:idx_purchase_intents_status_created,priority:2"`
	UpdatedAt             time.Time  `gorm:"column:updated_at;not null"`
}

func (PurchaseIntent) TableName() string { return "purchase_intents" }

// IdempotencyEntry mirrors the idempotency_entries table. The unique key is the commit point of every effect.
type IdempotencyEntry struct {
	ID             string         `gorm:"column:id;primaryKey"`
	IdempotencyKey string         `gorm:"column:idempotency_key;not null;uniqueIndex:uniq_idempotency_entries_key"`
	UserID         string         `gorm:"column:user_id;not null;index"`
	BalanceDelta   int64          `gorm:"column:balance_delta;not null"`
	Metadata       datatypes.JSON `gorm:"column:metadata;not null"`
	CreatedAt      time.Time      `gorm:"column:created_at;not null"`
}

func (IdempotencyEntry) TableName() string { return "idempotency_entries" }

func (entry *IdempotencyEntry) BeforeCreate(tx *gorm.DB) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	return nil
}

// Campaign mirrors the campaigns table.
type Campaign struct {
	ID              string     `gorm:"column:id;primaryKey"`
	CreatorID       string     `gorm:"column:creator_id;not null;index"`
	Status          string     `gorm:"column:status;not null"`
	EndAt           *time.Time `gorm:"column:end_at"`
	CurrentAmountDT int64      `gorm:"column:current_amount_dt;not null;default:0"`
	BackerCount     int64      `gorm:"column:backer_count;not null;default:0"`
	CreatedAt       time.Time  `gorm:"column:created_at;not null"`
	UpdatedAt       time.Time  `gorm:"column:updated_at;not null"`
}

func (Campaign) TableName() string { return "campaigns" }

// RewardTier mirrors the reward_tiers table. A nil RemainingQuantity means unlimited.
type RewardTier struct {
	ID                string `gorm:"column:id;primaryKey"`
	CampaignID        string `gorm:"column:campaign_id;not null;index"`
	PriceDT           int64  `gorm:"column:price_dt;not null"`
	IsActive          bool   `gorm:"column:is_active;not null"`
	RemainingQuantity *int64 `gorm:"column:remaining_quantity"`
	PledgeCount       int64  `gorm:"column:pledge_count;not null;default:0"`
}

func (RewardTier) TableName() string { return "reward_tiers" }

// FundingPledge mirrors the funding_pledges table.
type FundingPledge struct {
	ID             string     `gorm:"column:id;primaryKey"`
	CampaignID     string     `gorm:"column:campaign_id;not null;index"`
	TierID         *string    `gorm:"column:tier_id"`
	UserID         string     `gorm:"column:user_id;not null;index"`
	AmountDT       int64      `gorm:"column:amount_dt;not null"`
	ExtraSupportDT int64      `gorm:"column:extra_support_dt;not null;default:0"`
	TotalAmountDT  int64      `gorm:"column:total_amount_dt;not null"`
	IdempotencyKey string     `gorm:"column:idempotency_key;not null;uniqueIndex:uniq_funding_pledges_key"`
	Status         string     `gorm:"column:status;not null"`
	IsAnonymous    bool       `gorm:"column:is_anonymous;not null;default:false"`
	SupportMessage string     `gorm:"column:support_message;not null;default:''"`
	CompletedAt    *time.Time `gorm:"column:completed_at"`
	CreatedAt      time.Time  `gorm:"column:created_at;not null"`
}

func (FundingPledge) TableName() string { return "funding_pledges" }

// Tip mirrors the tips table. CreatorShareDT is already net of the platform fee.
type Tip struct {
	ID             string    `gorm:"column:id;primaryKey"`
	CreatorID      string    `gorm:"column:creator_id;not null;index:idx_tips_creator_created,priority:1"`
	SenderID       string    `gorm:"column:sender_id;not null"`
	AmountDT       int64     `gorm:"column:amount_dt;not null"`
	CreatorShareDT int64     `gorm:"column:creator_share_dt;not null"`
	CreatedAt      time.Time `gorm:"column:created_at;not null;index:idx_tips_creator_created,priority:2"`
}

func (Tip) TableName() string { return "tips" }

// PrivateCardPurchase mirrors the private_card_purchases table.
type PrivateCardPurchase struct {
	ID        string    `gorm:"column:id;primaryKey"`
	CreatorID string    `gorm:"column:creator_id;not null;index:idx_private_card_creator_created,priority:1"`
	BuyerID   string    `gorm:"column:buyer_id;not null"`
	PriceDT   int64     `gorm:"column:price_dt;not null"`
	CreatedAt time.Time `gorm:"column:created_at;not null;index:idx_private_card_creator_created,priority:2"`
}

func (PrivateCardPurchase) TableName() string { return "private_card_purchases" }

// CreatorPayoutSetting mirrors the creator_payout_settings table.
type CreatorPayoutSetting struct {
	CreatorID          string    `gorm:"column:creator_id;primaryKey"`
	VerificationStatus string    `gorm:"column:verification_status;not null;index"`
	MinimumPayoutKRW   int64     `gorm:"column:minimum_payout_krw;not null;default:0"`
	UpdatedAt          time.Time `gorm:"column:updated_at;not null"`
}

func (CreatorPayoutSetting) TableName() string { return "creator_payout_settings" }

// WithholdingTaxRate mirrors the withholding_tax_rates table.
type WithholdingTaxRate struct {
	IncomeType string          `gorm:"column:income_type;primaryKey"`
	Rate       decimal.Decimal `gorm:"column:rate;type:numeric(6,4);not null"`
	UpdatedAt  time.Time       `gorm:"column:updated_at;not null"`
}

func (WithholdingTaxRate) TableName() string { return "withholding_tax_rates" }

// Payout mirrors the payouts table. Period bounds are stored as calendar dates.
type Payout struct {
	ID                string    `gorm:"column:id;primaryKey"`
	CreatorID         string    `gorm:"column:creator_id;not null;index:idx_payouts_creator_period,priority:1"`
	PeriodStart       string    `gorm:"column:period_start;not null;index:idx_payouts_creator_period,priority:2"`
	PeriodEnd         string    `gorm:"column:period_end;not null;index:idx_payouts_creator_period,priority:3"`
	GrossDT           int64     `gorm:"column:gross_dt;not null"`
	GrossKRW          int64     `gorm:"column:gross_krw;not null"`
	PlatformFeeKRW    int64     `gorm:"column:platform_fee_krw;not null"`
	WithholdingTaxKRW int64     `gorm:"column:withholding_tax_krw;not null"`
	NetKRW            int64     `gorm:"column:net_krw;not null"`
	Status            string    `gorm:"column:status;not null"`
	CreatedAt         time.Time `gorm:"column:created_at;not null"`
}

func (Payout) TableName() string { return "payouts" }

// PayoutLineItem mirrors the payout_line_items table.
type PayoutLineItem struct {
	ID                string `gorm:"column:id;primaryKey"`
	PayoutID          string `gorm:"column:payout_id;not null;index"`
	ItemType          string `gorm:"column:item_type;not null"`
	ItemCount         int64  `gorm:"column:item_count;not null"`
	GrossDT           int64  `gorm:"column:gross_dt;not null"`
	GrossKRW          int64  `gorm:"column:gross_krw;not null"`
	PlatformFeeKRW    int64  `gorm:"column:platform_fee_krw;not null"`
	WithholdingTaxKRW int64  `gorm:"column:withholding_tax_krw;not null"`
}

func (PayoutLineItem) TableName() string { return "payout_line_items" }

func (item *PayoutLineItem) BeforeCreate(tx *gorm.DB) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	return nil
}

// CreatorMessage mirrors the creator_messages table.
type CreatorMessage struct {
	ID              string     `gorm:"column:id;primaryKey"`
	CreatorID       string     `gorm:"column:creator_id;not null;index"`
	IsBroadcast     bool       `gorm:"column:is_broadcast;not null;default:false"`
	Body            string     `gorm:"column:body;not null;default:''"`
	ScheduledStatus string     `gorm:"column:scheduled_status;not null;index:idx_creator_messages_due,priority:1"`
	ScheduledAt     time.Time  `gorm:"column:scheduled_at;not null;index:idx_creator_messages_due,priority:2"`
	SentAt          *time.Time `gorm:"column:sent_at"`
	CreatedAt       time.Time  `gorm:"column:created_at;not null"`
}

func (CreatorMessage) TableName() string { return "creator_messages" }

// Subscription mirrors the subscriptions table.
type Subscription struct {
	ID           string     `gorm:"column:id;primaryKey"`
	SubscriberID string     `gorm:"column:subscriber_id;not null"`
	CreatorID    string     `gorm:"column:creator_id;not null;index:idx_subscriptions_creator_status,priority:1"`
	Status       string     `gorm:"column:status;not null;index:idx_subscriptions_creator_status,priority:2"`
	ExpiresAt    *time.Time `gorm:"column:expires_at"`
	CreatedAt    time.Time  `gorm:"column:created_at;not null"`
}

func (Subscription) TableName() string { return "subscriptions" }

// MessageDelivery mirrors the message_deliveries table. One row per (message, user).
type MessageDelivery struct {
	ID        string    `gorm:"column:id;primaryKey"`
	MessageID string    `gorm:"column:message_id;not null;uniqueIndex:uniq_message_deliveries_message_user,priority:1"`
	UserID    string    `gorm:"column:user_id;not null;uniqueIndex:uniq_message_deliveries_message_user,priority:2"`
	IsRead    bool      `gorm:"column:is_read;not null;default:false"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
}

func (MessageDelivery) TableName() string { return "message_deliveries" }

func (delivery *MessageDelivery) BeforeCreate(tx *gorm.DB) error {
	if delivery.ID == "" {
		delivery.ID = uuid.NewString()
	}
	return nil
}

// CreatorMessageQuota mirrors the creator_message_quotas table.
type CreatorMessageQuota struct {
	CreatorID  string    `gorm:"column:creator_id;primaryKey"`
	QuotaMonth string    `gorm:"column:quota_month;not null"`
	SentCount  int64     `gorm:"column:sent_count;not null;default:0"`
	UpdatedAt  time.Time `gorm:"column:updated_at;not null"`
}

func (CreatorMessageQuota) TableName() string { return "creator_message_quotas" }

// PaymentWebhookEvent mirrors the payment_webhook_events table.
type PaymentWebhookEvent struct {
	ID            string         `gorm:"column:id;primaryKey"`
	Provider      string         `gorm:"column:provider;not null"`
	OrderID       string         `gorm:"column:order_id;not null;index"`
	TransactionID string         `gorm:"column:transaction_id;not null;default:''"`
	Status        string         `gorm:"column:status;not null;default:''"`
	Payload       datatypes.JSON `gorm:"column:payload;not null"`
	ReceivedAt    time.Time      `gorm:"column:received_at;not null"`
}

func (PaymentWebhookEvent) TableName() string { return "payment_webhook_events" }

func (event *PaymentWebhookEvent) BeforeCreate(tx *gorm.DB) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	return nil
}

// Models lists every table for AutoMigrate.
func Models() []any {
	return []any{
		&Wallet{},
		&PurchaseIntent{},
		&IdempotencyEntry{},
		&Campaign{},
		&RewardTier{},
		&FundingPledge{},
		&Tip{},
		&PrivateCardPurchase{},
		&CreatorPayoutSetting{},
		&WithholdingTaxRate{},
		&Payout{},
		&PayoutLineItem{},
		&CreatorMessage{},
		&Subscription{},
		&MessageDelivery{},
		&CreatorMessageQuota{},
		&PaymentWebhookEvent{},
	}
}
