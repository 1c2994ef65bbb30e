package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/dtledger/pkg/ledger"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultMetadataJSON        = "{}"
	pgUniqueViolationCode      = "23505"
	sqliteConstraintUnique     = 2067
	sqliteConstraintPrimaryKey = 1555

	errorOperationStore     = "store"
	errorSubjectWallet      = "wallet"
	errorSubjectEntry       = "entry"
	errorSubjectIntent      = "purchase_intent"
	errorSubjectCampaign    = "campaign"
	errorSubjectTier        = "reward_tier"
	errorSubjectPledge      = "pledge"
	errorSubjectPayout      = "payout"
	errorSubjectRate        = "withholding_rate"
	errorSubjectMessage     = "message"
	errorSubjectDelivery    = "delivery"
	errorSubjectQuota       = "quota"
	errorSubjectWebhook     = "webhook_event"
	errorCodeCreate         = "create"
	errorCodeCredit         = "credit"
	errorCodeDebit          = "debit"
	errorCodeDuplicate      = "duplicate"
	errorCodeGet            = "get"
	errorCodeInsert         = "insert"
	errorCodeInvalid        = "invalid"
	errorCodeList           = "list"
	errorCodeLookup         = "lookup"
	errorCodeSum            = "sum"
	errorCodeUpdate         = "update"
	errorCodeUpdateStatus   = "update_status"
	purchaseIntentColumnKey = "order_id"
)

// Store implements ledger.Store and the batch job stores using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) IdempotencyEntryExists(ctx context.Context, key ledger.IdempotencyKey) (bool, error) {
	var count int64
	err := store.db.WithContext(ctx).
		Model(&IdempotencyEntry{}).
		Where("idempotency_key = ?", key.String()).
		Count(&count).Error
	if err != nil {
		return false, wrapStoreError(errorSubjectEntry, errorCodeLookup, err)
	}
	return count > 0, nil
}

func (store *Store) InsertIdempotencyEntry(ctx context.Context, entry ledger.IdempotencyEntry) error {
	model := IdempotencyEntry{
		IdempotencyKey: entry.Key.String(),
		UserID:         entry.UserID.String(),
		BalanceDelta:   entry.BalanceDelta,
		Metadata:       datatypesJSON(entry.Metadata.String()),
		CreatedAt:      entry.CreatedAt.UTC(),
	}
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now().UTC()
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isDuplicate(err) {
		return wrapStoreError(errorSubjectEntry, errorCodeDuplicate, ledger.ErrDuplicateIdempotencyKey)
	}
	if err != nil {
		return wrapStoreError(errorSubjectEntry, errorCodeInsert, err)
	}
	return nil
}

// GetOrCreateWallet inserts an empty wallet unless one exists, then reads it back.
func (store *Store) GetOrCreateWallet(ctx context.Context, userID ledger.UserID) (ledger.Wallet, error) {
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(&Wallet{UserID: userID.String()}).Error
	if err != nil {
		return ledger.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeCreate, err)
	}
	return store.GetWallet(ctx, userID)
}

func (store *Store) GetWallet(ctx context.Context, userID ledger.UserID) (ledger.Wallet, error) {
	var model Wallet
	err := store.db.WithContext(ctx).Where("user_id = ?", userID.String()).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeGet, ledger.ErrWalletNotFound)
	}
	if err != nil {
		return ledger.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeGet, err)
	}
	wallet, err := mapWallet(model)
	if err != nil {
		return ledger.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeInvalid, err)
	}
	return wallet, nil
}

func (store *Store) CreditWallet(ctx context.Context, walletID ledger.WalletID, userID ledger.UserID, amount ledger.AmountDT, purchased ledger.AmountDT) (ledger.Wallet, error) {
	result := store.db.WithContext(ctx).
		Model(&Wallet{}).
		Where("id = ? AND user_id = ?", walletID.String(), userID.String()).
		Updates(map[string]any{
			"balance_dt":            gorm.Expr("balance_dt + ?", amount.Int64()),
			"lifetime_purchased_dt": gorm.Expr("lifetime_purchased_dt + ?", purchased.Int64()),
			"updated_at":            time.Now().UTC(),
		})
	if result.Error != nil {
		return ledger.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeCredit, result.Error)
	}
	if result.RowsAffected == 0 {
		return ledger.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeCredit, ledger.ErrWalletNotFound)
	}
	return store.GetWallet(ctx, userID)
}

// DebitWallet re-checks sufficiency in the same statement that subtracts.
func (store *Store) DebitWallet(ctx context.Context, userID ledger.UserID, amount ledger.AmountDT) (ledger.Wallet, error) {
	result := store.db.WithContext(ctx).
		Model(&Wallet{}).
		Where("user_id = ? AND balance_dt >= ?", userID.String(), amount.Int64()).
		Updates(map[string]any{
			"balance_dt": gorm.Expr("balance_dt - ?", amount.Int64()),
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return ledger.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeDebit, result.Error)
	}
	if result.RowsAffected == 0 {
		return ledger.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeDebit, ledger.ErrInsufficientBalance)
	}
	return store.GetWallet(ctx, userID)
}

func (store *Store) GetPurchaseIntent(ctx context.Context, orderID ledger.OrderID) (ledger.PurchaseIntent, error) {
	var model PurchaseIntent
	err := store.db.WithContext(ctx).Where(purchaseIntentColumnKey+" = ?", orderID.String()).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.PurchaseIntent{}, wrapStoreError(errorSubjectIntent, errorCodeGet, ledger.ErrPurchaseIntentNotFound)
	}
	if err != nil {
		return ledger.PurchaseIntent{}, wrapStoreError(errorSubjectIntent, errorCodeGet, err)
	}
	intent, err := mapPurchaseIntent(model)
	if err != nil {
		return ledger.PurchaseIntent{}, wrapStoreError(errorSubjectIntent, errorCodeInvalid, err)
	}
	return intent, nil
}

// TransitionPurchaseIntent moves an intent only when it is still in from.
func (store *Store) TransitionPurchaseIntent(ctx context.Context, orderID ledger.OrderID, from ledger.PurchaseStatus, to ledger.PurchaseStatus, providerTransactionID string) error {
	now := time.Now().UTC()
	updates := map[string]any{
		"status":     to.String(),
		"updated_at": now,
	}
	if providerTransactionID != "" {
		updates["provider_transaction_id"] = providerTransactionID
	}
	if to == ledger.PurchaseStatusPaid {
		updates["paid_at"] = now
	}
	result := store.db.WithContext(ctx).
		Model(&PurchaseIntent{}).
		Where(purchaseIntentColumnKey+" = ? AND status = ?", orderID.String(), from.String()).
		Updates(updates)
	if result.Error != nil {
		return wrapStoreError(errorSubjectIntent, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectIntent, errorCodeUpdateStatus, ledger.ErrPurchaseIntentClosed)
	}
	return nil
}

func (store *Store) GetCampaign(ctx context.Context, campaignID ledger.CampaignID) (ledger.Campaign, error) {
	var model Campaign
	err := store.db.WithContext(ctx).Where("id = ?", campaignID.String()).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.Campaign{}, wrapStoreError(errorSubjectCampaign, errorCodeGet, ledger.ErrCampaignNotFound)
	}
	if err != nil {
		return ledger.Campaign{}, wrapStoreError(errorSubjectCampaign, errorCodeGet, err)
	}
	campaign, err := mapCampaign(model)
	if err != nil {
		return ledger.Campaign{}, wrapStoreError(errorSubjectCampaign, errorCodeInvalid, err)
	}
	return campaign, nil
}

func (store *Store) GetRewardTier(ctx context.Context, campaignID ledger.CampaignID, tierID ledger.RewardTierID) (ledger.RewardTier, error) {
	var model RewardTier
	err := store.db.WithContext(ctx).
		Where("id = ? AND campaign_id = ?", tierID.String(), campaignID.String()).
		Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.RewardTier{}, wrapStoreError(errorSubjectTier, errorCodeGet, ledger.ErrRewardTierNotFound)
	}
	if err != nil {
		return ledger.RewardTier{}, wrapStoreError(errorSubjectTier, errorCodeGet, err)
	}
	tier, err := mapRewardTier(model)
	if err != nil {
		return ledger.RewardTier{}, wrapStoreError(errorSubjectTier, errorCodeInvalid, err)
	}
	return tier, nil
}

func (store *Store) FindPledgeByIdempotencyKey(ctx context.Context, key ledger.IdempotencyKey) (ledger.Pledge, error) {
	var model FundingPledge
	err := store.db.WithContext(ctx).Where("idempotency_key = ?", key.String()).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.Pledge{}, wrapStoreError(errorSubjectPledge, errorCodeGet, ledger.ErrPledgeNotFound)
	}
	if err != nil {
		return ledger.Pledge{}, wrapStoreError(errorSubjectPledge, errorCodeGet, err)
	}
	pledge, err := mapPledge(model)
	if err != nil {
		return ledger.Pledge{}, wrapStoreError(errorSubjectPledge, errorCodeInvalid, err)
	}
	return pledge, nil
}

func (store *Store) InsertPledge(ctx context.Context, pledge ledger.Pledge) error {
	model := FundingPledge{
		ID:             pledge.ID.String(),
		CampaignID:     pledge.CampaignID.String(),
		UserID:         pledge.UserID.String(),
		AmountDT:       pledge.AmountDT.Int64(),
		ExtraSupportDT: pledge.ExtraSupportDT.Int64(),
		TotalAmountDT:  pledge.TotalAmountDT.Int64(),
		IdempotencyKey: pledge.IdempotencyKey.String(),
		Status:         pledge.Status.String(),
		IsAnonymous:    pledge.IsAnonymous,
		SupportMessage: pledge.SupportMessage,
		CreatedAt:      pledge.CreatedAt.UTC(),
	}
	if pledge.TierID != nil {
		tierID := pledge.TierID.String()
		model.TierID = &tierID
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isDuplicate(err) {
		return wrapStoreError(errorSubjectPledge, errorCodeDuplicate, ledger.ErrDuplicateIdempotencyKey)
	}
	if err != nil {
		return wrapStoreError(errorSubjectPledge, errorCodeInsert, err)
	}
	return nil
}

// ApplyCampaignPledge adds to the funding pool only while the campaign still accepts pledges.
func (store *Store) ApplyCampaignPledge(ctx context.Context, campaignID ledger.CampaignID, total ledger.AmountDT, now time.Time) error {
	result := store.db.WithContext(ctx).
		Model(&Campaign{}).
		Where("id = ? AND status = ? AND (end_at IS NULL OR end_at > ?)", campaignID.String(), ledger.CampaignStatusActive.String(), now.UTC()).
		Updates(map[string]any{
			"current_amount_dt": gorm.Expr("current_amount_dt + ?", total.Int64()),
			"backer_count":      gorm.Expr("backer_count + 1"),
			"updated_at":        now.UTC(),
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectCampaign, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectCampaign, errorCodeUpdate, ledger.ErrCampaignNotActive)
	}
	return nil
}

// ConsumeRewardTier takes one unit of limited inventory; unlimited tiers only count the pledge.
func (store *Store) ConsumeRewardTier(ctx context.Context, campaignID ledger.CampaignID, tierID ledger.RewardTierID) error {
	result := store.db.WithContext(ctx).
		Model(&RewardTier{}).
		Where("id = ? AND campaign_id = ? AND is_active = ? AND (remaining_quantity IS NULL OR remaining_quantity > 0)", tierID.String(), campaignID.String(), true).
		Updates(map[string]any{
			"remaining_quantity": gorm.Expr("CASE WHEN remaining_quantity IS NULL THEN NULL ELSE remaining_quantity - 1 END"),
			"pledge_count":       gorm.Expr("pledge_count + 1"),
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectTier, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectTier, errorCodeUpdate, store.unavailableTierReason(ctx, campaignID, tierID))
	}
	return nil
}

// unavailableTierReason tells a deactivated tier apart from an exhausted one after a failed consume.
func (store *Store) unavailableTierReason(ctx context.Context, campaignID ledger.CampaignID, tierID ledger.RewardTierID) error {
	var tier RewardTier
	err := store.db.WithContext(ctx).
		Where("id = ? AND campaign_id = ?", tierID.String(), campaignID.String()).
		Take(&tier).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ledger.ErrRewardTierNotFound
	case err != nil:
		return err
	case !tier.IsActive:
		return ledger.ErrRewardTierInactive
	default:
		return ledger.ErrTierSoldOut
	}
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}

func isDuplicate(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == sqliteConstraintUnique || code == sqliteConstraintPrimaryKey
	}
	return false
}
