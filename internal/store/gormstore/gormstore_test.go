package gormstore_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/dtledger/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/dtledger/internal/testutil"
	"github.com/MarkoPoloResearchLab/dtledger/pkg/ledger"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var fixedNow = time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)

func newLedgerFixture(test *testing.T) (*gorm.DB, *gormstore.Store, *ledger.Service) {
	test.Helper()
	db := testutil.NewTestDB(test, gormstore.Models()...)
	store := gormstore.New(db)
	service, err := ledger.NewService(store, func() time.Time { return fixedNow })
	require.NoError(test, err)
	return db, store, service
}

func seedIntent(test *testing.T, db *gorm.DB, orderID string, userID string, dtAmount int64, bonus int64, createdAt time.Time) {
	test.Helper()
	require.NoError(test, db.Create(&gormstore.PurchaseIntent{
		OrderID:   orderID,
		UserID:    userID,
		DTAmount:  dtAmount,
		BonusDT:   bonus,
		PriceKRW:  dtAmount * ledger.KRWPerDT,
		Status:    ledger.PurchaseStatusPending.String(),
		CreatedAt: createdAt,
	}).Error)
}

func seedWallet(test *testing.T, db *gorm.DB, userID string, balance int64) {
	test.Helper()
	require.NoError(test, db.Create(&gormstore.Wallet{UserID: userID, BalanceDT: balance}).Error)
}

func seedActiveCampaign(test *testing.T, db *gorm.DB, campaignID string, creatorID string) {
	test.Helper()
	require.NoError(test, db.Create(&gormstore.Campaign{
		ID:        campaignID,
		CreatorID: creatorID,
		Status:    ledger.CampaignStatusActive.String(),
	}).Error)
}

func mustPledge(test *testing.T, userID string, campaignID string, tierID string, amount int64, key string) ledger.PledgeRequest {
	test.Helper()
	request, err := ledger.NewPledgeRequest(userID, campaignID, tierID, amount, 0, key, false, "")
	require.NoError(test, err)
	return request
}

func creditRequest(test *testing.T, service *ledger.Service, orderID string, userID string, dtAmount int64, bonus int64) ledger.CreditRequest {
	test.Helper()
	parsedUserID, err := ledger.NewUserID(userID)
	require.NoError(test, err)
	parsedOrderID, err := ledger.NewOrderID(orderID)
	require.NoError(test, err)
	wallet, err := service.EnsureWallet(context.Background(), parsedUserID)
	require.NoError(test, err)
	return ledger.CreditRequest{
		OrderID:               parsedOrderID,
		ProviderTransactionID: "pay-" + orderID,
		WalletID:              wallet.ID,
		UserID:                parsedUserID,
		DTAmount:              ledger.AmountDT(dtAmount),
		BonusDT:               ledger.AmountDT(bonus),
		IdempotencyKey:        ledger.PurchaseIdempotencyKey(parsedOrderID),
	}
}

func TestCreditAppliesOnceAndMarksIntentPaid(test *testing.T) {
	test.Parallel()
	db, _, service := newLedgerFixture(test)
	seedIntent(test, db, "order-1", "user-1", 1000, 100, fixedNow)
	request := creditRequest(test, service, "order-1", "user-1", 1000, 100)

	first, err := service.Credit(context.Background(), request)
	require.NoError(test, err)
	require.False(test, first.AlreadyProcessed)
	require.Equal(test, ledger.AmountDT(1100), first.NewBalance)

	second, err := service.Credit(context.Background(), request)
	require.NoError(test, err)
	require.True(test, second.AlreadyProcessed)
	require.Equal(test, ledger.AmountDT(1100), second.NewBalance)

	var wallet gormstore.Wallet
	require.NoError(test, db.Where("user_id = ?", "user-1").Take(&wallet).Error)
	require.Equal(test, int64(1100), wallet.BalanceDT)
	require.Equal(test, int64(1000), wallet.LifetimePurchasedDT)

	var intent gormstore.PurchaseIntent
	require.NoError(test, db.Where("order_id = ?", "order-1").Take(&intent).Error)
	require.Equal(test, ledger.PurchaseStatusPaid.String(), intent.Status)
	require.NotNil(test, intent.ProviderTransactionID)
	require.Equal(test, "pay-order-1", *intent.ProviderTransactionID)
	require.NotNil(test, intent.PaidAt)

	var entries int64
	require.NoError(test, db.Model(&gormstore.IdempotencyEntry{}).Where("idempotency_key = ?", "purchase:order-1").Count(&entries).Error)
	require.Equal(test, int64(1), entries)
}

func TestCreditRollsBackWhenIntentIsClosed(test *testing.T) {
	test.Parallel()
	db, _, service := newLedgerFixture(test)
	seedIntent(test, db, "order-closed", "user-1", 500, 0, fixedNow)
	require.NoError(test, db.Model(&gormstore.PurchaseIntent{}).Where("order_id = ?", "order-closed").Update("status", ledger.PurchaseStatusFailed.String()).Error)
	request := creditRequest(test, service, "order-closed", "user-1", 500, 0)

	_, err := service.Credit(context.Background(), request)
	require.ErrorIs(test, err, ledger.ErrPurchaseIntentClosed)

	var wallet gormstore.Wallet
	require.NoError(test, db.Where("user_id = ?", "user-1").Take(&wallet).Error)
	require.Zero(test, wallet.BalanceDT)
	var entries int64
	require.NoError(test, db.Model(&gormstore.IdempotencyEntry{}).Count(&entries).Error)
	require.Zero(test, entries)
}

func TestConcurrentCreditsApplyExactlyOnce(test *testing.T) {
	test.Parallel()
	db, _, service := newLedgerFixture(test)
	seedIntent(test, db, "order-race", "user-1", 300, 0, fixedNow)
	request := creditRequest(test, service, "order-race", "user-1", 300, 0)

	const attempts = 5
	var waitGroup sync.WaitGroup
	results := make(chan ledger.CreditResult, attempts)
	failures := make(chan error, attempts)
	for index := 0; index < attempts; index++ {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			result, err := service.Credit(context.Background(), request)
			if err != nil {
				failures <- err
				return
			}
			results <- result
		}()
	}
	waitGroup.Wait()
	close(results)
	close(failures)

	for err := range failures {
		test.Fatalf("unexpected credit failure: %v", err)
	}
	applied := 0
	for result := range results {
		require.Equal(test, ledger.AmountDT(300), result.NewBalance)
		if !result.AlreadyProcessed {
			applied++
		}
	}
	require.Equal(test, 1, applied)
}

func TestPledgePersistsAcrossTables(test *testing.T) {
	test.Parallel()
	db, _, service := newLedgerFixture(test)
	seedActiveCampaign(test, db, "campaign-1", "creator-1")
	remaining := int64(2)
	require.NoError(test, db.Create(&gormstore.RewardTier{ID: "tier-1", CampaignID: "campaign-1", PriceDT: 100, IsActive: true, RemainingQuantity: &remaining}).Error)
	seedWallet(test, db, "backer-1", 500)

	result, err := service.Pledge(context.Background(), mustPledge(test, "backer-1", "campaign-1", "tier-1", 300, "k1"))
	require.NoError(test, err)
	require.Equal(test, ledger.AmountDT(200), result.NewBalance)

	replay, err := service.Pledge(context.Background(), mustPledge(test, "backer-1", "campaign-1", "tier-1", 300, "k1"))
	require.NoError(test, err)
	require.True(test, replay.Replayed)
	require.Equal(test, result.PledgeID, replay.PledgeID)

	var campaign gormstore.Campaign
	require.NoError(test, db.Where("id = ?", "campaign-1").Take(&campaign).Error)
	require.Equal(test, int64(300), campaign.CurrentAmountDT)
	require.Equal(test, int64(1), campaign.BackerCount)

	var tier gormstore.RewardTier
	require.NoError(test, db.Where("id = ?", "tier-1").Take(&tier).Error)
	require.NotNil(test, tier.RemainingQuantity)
	require.Equal(test, int64(1), *tier.RemainingQuantity)
	require.Equal(test, int64(1), tier.PledgeCount)

	var entry gormstore.IdempotencyEntry
	require.NoError(test, db.Where("idempotency_key = ?", "pledge:k1").Take(&entry).Error)
	require.Equal(test, int64(-300), entry.BalanceDelta)
}

func TestConcurrentPledgesNeverOverdraw(test *testing.T) {
	test.Parallel()
	db, _, service := newLedgerFixture(test)
	seedActiveCampaign(test, db, "campaign-1", "creator-1")
	seedWallet(test, db, "backer-1", 500)

	requests := []ledger.PledgeRequest{
		mustPledge(test, "backer-1", "campaign-1", "", 300, "k-a"),
		mustPledge(test, "backer-1", "campaign-1", "", 300, "k-b"),
	}
	var waitGroup sync.WaitGroup
	errs := make([]error, len(requests))
	for index, request := range requests {
		waitGroup.Add(1)
		go func(index int, request ledger.PledgeRequest) {
			defer waitGroup.Done()
			_, errs[index] = service.Pledge(context.Background(), request)
		}(index, request)
	}
	waitGroup.Wait()

	succeeded := 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ledger.ErrInsufficientBalance):
		default:
			test.Fatalf("unexpected pledge error: %v", err)
		}
	}
	require.Equal(test, 1, succeeded)

	var wallet gormstore.Wallet
	require.NoError(test, db.Where("user_id = ?", "backer-1").Take(&wallet).Error)
	require.Equal(test, int64(200), wallet.BalanceDT)
	var pledges int64
	require.NoError(test, db.Model(&gormstore.FundingPledge{}).Count(&pledges).Error)
	require.Equal(test, int64(1), pledges)
}

func TestLastTierUnitGoesToOneBacker(test *testing.T) {
	test.Parallel()
	db, _, service := newLedgerFixture(test)
	seedActiveCampaign(test, db, "campaign-1", "creator-1")
	remaining := int64(1)
	require.NoError(test, db.Create(&gormstore.RewardTier{ID: "tier-1", CampaignID: "campaign-1", PriceDT: 100, IsActive: true, RemainingQuantity: &remaining}).Error)
	seedWallet(test, db, "backer-1", 500)
	seedWallet(test, db, "backer-2", 500)

	_, err := service.Pledge(context.Background(), mustPledge(test, "backer-1", "campaign-1", "tier-1", 100, "k-1"))
	require.NoError(test, err)
	_, err = service.Pledge(context.Background(), mustPledge(test, "backer-2", "campaign-1", "tier-1", 100, "k-2"))
	require.ErrorIs(test, err, ledger.ErrTierSoldOut)

	var wallet gormstore.Wallet
	require.NoError(test, db.Where("user_id = ?", "backer-2").Take(&wallet).Error)
	require.Equal(test, int64(500), wallet.BalanceDT)
}

func TestConsumeRewardTierSignalsSoldOutInsideTransaction(test *testing.T) {
	test.Parallel()
	db, store, _ := newLedgerFixture(test)
	seedActiveCampaign(test, db, "campaign-1", "creator-1")
	remaining := int64(0)
	require.NoError(test, db.Create(&gormstore.RewardTier{ID: "tier-1", CampaignID: "campaign-1", PriceDT: 100, IsActive: true, RemainingQuantity: &remaining}).Error)
	campaignID, err := ledger.NewCampaignID("campaign-1")
	require.NoError(test, err)
	tierID, err := ledger.NewRewardTierID("tier-1")
	require.NoError(test, err)

	err = store.ConsumeRewardTier(context.Background(), campaignID, tierID)
	require.ErrorIs(test, err, ledger.ErrTierSoldOut)

	var operationError ledger.OperationError
	require.True(test, errors.As(err, &operationError))
	require.Equal(test, "store", operationError.Operation())
	require.Equal(test, "reward_tier", operationError.Subject())
}

func TestConsumeRewardTierRejectsDeactivatedTier(test *testing.T) {
	test.Parallel()
	db, store, _ := newLedgerFixture(test)
	seedActiveCampaign(test, db, "campaign-1", "creator-1")
	remaining := int64(5)
	require.NoError(test, db.Create(&gormstore.RewardTier{ID: "tier-1", CampaignID: "campaign-1", PriceDT: 100, IsActive: false, RemainingQuantity: &remaining}).Error)
	campaignID, err := ledger.NewCampaignID("campaign-1")
	require.NoError(test, err)
	tierID, err := ledger.NewRewardTierID("tier-1")
	require.NoError(test, err)

	err = store.ConsumeRewardTier(context.Background(), campaignID, tierID)
	require.ErrorIs(test, err, ledger.ErrRewardTierInactive)

	var tier gormstore.RewardTier
	require.NoError(test, db.Where("id = ?", "tier-1").Take(&tier).Error)
	require.Equal(test, int64(5), *tier.RemainingQuantity)
	require.Zero(test, tier.PledgeCount)
}

func TestApplyCampaignPledgeRejectsEndedCampaign(test *testing.T) {
	test.Parallel()
	db, store, _ := newLedgerFixture(test)
	ended := fixedNow.Add(-time.Hour)
	require.NoError(test, db.Create(&gormstore.Campaign{
		ID:        "campaign-ended",
		CreatorID: "creator-1",
		Status:    ledger.CampaignStatusActive.String(),
		EndAt:     &ended,
	}).Error)
	campaignID, err := ledger.NewCampaignID("campaign-ended")
	require.NoError(test, err)

	err = store.ApplyCampaignPledge(context.Background(), campaignID, 100, fixedNow)
	require.ErrorIs(test, err, ledger.ErrCampaignNotActive)
}

func TestGetWalletReportsMissingWallet(test *testing.T) {
	test.Parallel()
	_, store, service := newLedgerFixture(test)
	userID, err := ledger.NewUserID("nobody")
	require.NoError(test, err)

	_, err = store.GetWallet(context.Background(), userID)
	require.ErrorIs(test, err, ledger.ErrWalletNotFound)

	view, err := service.Wallet(context.Background(), userID)
	require.NoError(test, err)
	require.Zero(test, view.BalanceDT)
}

func TestListStalePendingIntentsOrdersOldestFirst(test *testing.T) {
	test.Parallel()
	db, store, _ := newLedgerFixture(test)
	seedIntent(test, db, "order-new", "user-1", 100, 0, fixedNow.Add(-10*time.Minute))
	seedIntent(test, db, "order-old", "user-1", 100, 0, fixedNow.Add(-3*time.Hour))
	seedIntent(test, db, "order-mid", "user-1", 100, 0, fixedNow.Add(-time.Hour))
	seedIntent(test, db, "order-paid", "user-1", 100, 0, fixedNow.Add(-4*time.Hour))
	require.NoError(test, db.Model(&gormstore.PurchaseIntent{}).Where("order_id = ?", "order-paid").Update("status", ledger.PurchaseStatusPaid.String()).Error)

	intents, err := store.ListStalePendingIntents(context.Background(), fixedNow.Add(-45*time.Minute), 10)
	require.NoError(test, err)
	require.Len(test, intents, 2)
	require.Equal(test, "order-old", intents[0].OrderID.String())
	require.Equal(test, "order-mid", intents[1].OrderID.String())

	limited, err := store.ListStalePendingIntents(context.Background(), fixedNow.Add(-45*time.Minute), 1)
	require.NoError(test, err)
	require.Len(test, limited, 1)
}
