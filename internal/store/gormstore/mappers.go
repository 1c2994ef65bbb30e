package gormstore

import (
	"time"

	"github.com/MarkoPoloResearchLab/dtledger/pkg/ledger"
)

func mapWallet(row Wallet) (ledger.Wallet, error) {
	walletID, err := ledger.NewWalletID(row.ID)
	if err != nil {
		return ledger.Wallet{}, err
	}
	userID, err := ledger.NewUserID(row.UserID)
	if err != nil {
		return ledger.Wallet{}, err
	}
	balance, err := ledger.NewNonNegativeAmountDT(row.BalanceDT)
	if err != nil {
		return ledger.Wallet{}, err
	}
	purchased, err := ledger.NewNonNegativeAmountDT(row.LifetimePurchasedDT)
	if err != nil {
		return ledger.Wallet{}, err
	}
	return ledger.Wallet{ID: walletID, UserID: userID, BalanceDT: balance, LifetimePurchasedDT: purchased}, nil
}

func mapPurchaseIntent(row PurchaseIntent) (ledger.PurchaseIntent, error) {
	orderID, err := ledger.NewOrderID(row.OrderID)
	if err != nil {
		return ledger.PurchaseIntent{}, err
	}
	userID, err := ledger.NewUserID(row.UserID)
	if err != nil {
		return ledger.PurchaseIntent{}, err
	}
	dtAmount, err := ledger.NewAmountDT(row.DTAmount)
	if err != nil {
		return ledger.PurchaseIntent{}, err
	}
	bonus, err := ledger.NewNonNegativeAmountDT(row.BonusDT)
	if err != nil {
		return ledger.PurchaseIntent{}, err
	}
	status, err := ledger.ParsePurchaseStatus(row.Status)
	if err != nil {
		return ledger.PurchaseIntent{}, err
	}
	return ledger.PurchaseIntent{
		OrderID:   orderID,
		UserID:    userID,
		DTAmount:  dtAmount,
		BonusDT:   bonus,
		PriceKRW:  row.PriceKRW,
		Status:    status,
		CreatedAt: row.CreatedAt.UTC(),
	}, nil
}

func mapCampaign(row Campaign) (ledger.Campaign, error) {
	campaignID, err := ledger.NewCampaignID(row.ID)
	if err != nil {
		return ledger.Campaign{}, err
	}
	creatorID, err := ledger.NewUserID(row.CreatorID)
	if err != nil {
		return ledger.Campaign{}, err
	}
	status, err := ledger.ParseCampaignStatus(row.Status)
	if err != nil {
		return ledger.Campaign{}, err
	}
	current, err := ledger.NewNonNegativeAmountDT(row.CurrentAmountDT)
	if err != nil {
		return ledger.Campaign{}, err
	}
	return ledger.Campaign{
		ID:              campaignID,
		CreatorID:       creatorID,
		Status:          status,
		EndAt:           utcOrNil(row.EndAt),
		CurrentAmountDT: current,
		BackerCount:     row.BackerCount,
	}, nil
}

func mapRewardTier(row RewardTier) (ledger.RewardTier, error) {
	tierID, err := ledger.NewRewardTierID(row.ID)
	if err != nil {
		return ledger.RewardTier{}, err
	}
	campaignID, err := ledger.NewCampaignID(row.CampaignID)
	if err != nil {
		return ledger.RewardTier{}, err
	}
	price, err := ledger.NewNonNegativeAmountDT(row.PriceDT)
	if err != nil {
		return ledger.RewardTier{}, err
	}
	return ledger.RewardTier{
		ID:                tierID,
		CampaignID:        campaignID,
		PriceDT:           price,
		IsActive:          row.IsActive,
		RemainingQuantity: row.RemainingQuantity,
		PledgeCount:       row.PledgeCount,
	}, nil
}

func mapPledge(row FundingPledge) (ledger.Pledge, error) {
	pledgeID, err := ledger.NewPledgeID(row.ID)
	if err != nil {
		return ledger.Pledge{}, err
	}
	campaignID, err := ledger.NewCampaignID(row.CampaignID)
	if err != nil {
		return ledger.Pledge{}, err
	}
	userID, err := ledger.NewUserID(row.UserID)
	if err != nil {
		return ledger.Pledge{}, err
	}
	var tierID *ledger.RewardTierID
	if row.TierID != nil {
		parsedTierID, err := ledger.NewRewardTierID(*row.TierID)
		if err != nil {
			return ledger.Pledge{}, err
		}
		tierID = &parsedTierID
	}
	amount, err := ledger.NewAmountDT(row.AmountDT)
	if err != nil {
		return ledger.Pledge{}, err
	}
	extra, err := ledger.NewNonNegativeAmountDT(row.ExtraSupportDT)
	if err != nil {
		return ledger.Pledge{}, err
	}
	total, err := ledger.NewAmountDT(row.TotalAmountDT)
	if err != nil {
		return ledger.Pledge{}, err
	}
	key, err := ledger.NewIdempotencyKey(row.IdempotencyKey)
	if err != nil {
		return ledger.Pledge{}, err
	}
	status, err := ledger.ParsePledgeStatus(row.Status)
	if err != nil {
		return ledger.Pledge{}, err
	}
	return ledger.Pledge{
		ID:             pledgeID,
		CampaignID:     campaignID,
		TierID:         tierID,
		UserID:         userID,
		AmountDT:       amount,
		ExtraSupportDT: extra,
		TotalAmountDT:  total,
		IdempotencyKey: key,
		Status:         status,
		IsAnonymous:    row.IsAnonymous,
		SupportMessage: row.SupportMessage,
		CreatedAt:      row.CreatedAt.UTC(),
	}, nil
}

func utcOrNil(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	utc := value.UTC()
	return &utc
}
