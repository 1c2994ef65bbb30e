package gormstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarkoPoloResearchLab/dtledger/internal/payout"
	"github.com/MarkoPoloResearchLab/dtledger/pkg/ledger"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	verificationStatusVerified = "verified"
	lineItemBatchSize          = 10
)

type earningsSum struct {
	ItemCount int64
	GrossDT   int64
}

// ListPayoutCreators returns every creator whose payout account is verified.
func (store *Store) ListPayoutCreators(ctx context.Context) ([]payout.Creator, error) {
	var rows []CreatorPayoutSetting
	err := store.db.WithContext(ctx).
		Where("verification_status = ?", verificationStatusVerified).
		Order("creator_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectPayout, errorCodeList, err)
	}
	creators := make([]payout.Creator, 0, len(rows))
	for _, row := range rows {
		creatorID, err := ledger.NewUserID(row.CreatorID)
		if err != nil {
			return nil, wrapStoreError(errorSubjectPayout, errorCodeInvalid, err)
		}
		creators = append(creators, payout.Creator{ID: creatorID, MinimumPayoutKRW: row.MinimumPayoutKRW})
	}
	return creators, nil
}

// HasOpenPayout reports a payout for the period that is neither cancelled nor failed.
func (store *Store) HasOpenPayout(ctx context.Context, creatorID ledger.UserID, period payout.Period) (bool, error) {
	exists, err := hasOpenPayout(store.db.WithContext(ctx), creatorID, period)
	if err != nil {
		return false, wrapStoreError(errorSubjectPayout, errorCodeLookup, err)
	}
	return exists, nil
}

func hasOpenPayout(db *gorm.DB, creatorID ledger.UserID, period payout.Period) (bool, error) {
	var count int64
	err := db.Model(&Payout{}).
		Where("creator_id = ? AND period_start = ? AND period_end = ?", creatorID.String(), period.StartDate(), period.EndDate()).
		Where("status NOT IN ?", []string{payout.StatusCancelled, payout.StatusFailed}).
		Count(&count).Error
	return count > 0, err
}

// EarningsForPeriod sums the three income sources over [Start, End).
func (store *Store) EarningsForPeriod(ctx context.Context, creatorID ledger.UserID, period payout.Period) ([]payout.Bucket, error) {
	db := store.db.WithContext(ctx)
	start, end := period.Start.UTC(), period.End.UTC()

	var tips earningsSum
	err := db.Model(&Tip{}).
		Select("count(*) as item_count, coalesce(sum(creator_share_dt),0) as gross_dt").
		Where("creator_id = ? AND created_at >= ? AND created_at < ?", creatorID.String(), start, end).
		Scan(&tips).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectPayout, errorCodeSum, fmt.Errorf("tips: %w", err))
	}

	var cards earningsSum
	err = db.Model(&PrivateCardPurchase{}).
		Select("count(*) as item_count, coalesce(sum(price_dt),0) as gross_dt").
		Where("creator_id = ? AND created_at >= ? AND created_at < ?", creatorID.String(), start, end).
		Scan(&cards).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectPayout, errorCodeSum, fmt.Errorf("private cards: %w", err))
	}

	var funding earningsSum
	err = db.Model(&FundingPledge{}).
		Select("count(*) as item_count, coalesce(sum(funding_pledges.total_amount_dt),0) as gross_dt").
		Joins("JOIN campaigns ON campaigns.id = funding_pledges.campaign_id").
		Where("campaigns.creator_id = ? AND funding_pledges.status = ?", creatorID.String(), ledger.PledgeStatusCompleted.String()).
		Where("funding_pledges.completed_at >= ? AND funding_pledges.completed_at < ?", start, end).
		Scan(&funding).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectPayout, errorCodeSum, fmt.Errorf("funding: %w", err))
	}

	return []payout.Bucket{
		{Type: payout.IncomeTypeTip, ItemCount: tips.ItemCount, GrossDT: tips.GrossDT, FeeCollectedUpstream: true},
		{Type: payout.IncomeTypePrivateCard, ItemCount: cards.ItemCount, GrossDT: cards.GrossDT},
		{Type: payout.IncomeTypeFunding, ItemCount: funding.ItemCount, GrossDT: funding.GrossDT},
	}, nil
}

// CreatePayout writes the payout and its line items, re-checking for an open payout first.
func (store *Store) CreatePayout(ctx context.Context, record payout.Payout) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		exists, err := hasOpenPayout(transaction, record.CreatorID, record.Period)
		if err != nil {
			return wrapStoreError(errorSubjectPayout, errorCodeLookup, err)
		}
		if exists {
			return wrapStoreError(errorSubjectPayout, errorCodeDuplicate, payout.ErrPayoutExists)
		}
		settlement := record.Settlement
		model := Payout{
			ID:                record.ID,
			CreatorID:         record.CreatorID.String(),
			PeriodStart:       record.Period.StartDate(),
			PeriodEnd:         record.Period.EndDate(),
			GrossDT:           settlement.GrossDT,
			GrossKRW:          settlement.GrossKRW,
			PlatformFeeKRW:    settlement.PlatformFeeKRW,
			WithholdingTaxKRW: settlement.WithholdingTaxKRW,
			NetKRW:            settlement.NetKRW,
			Status:            record.Status,
			CreatedAt:         record.CreatedAt.UTC(),
		}
		if err := transaction.Create(&model).Error; err != nil {
			if isDuplicate(err) {
				return wrapStoreError(errorSubjectPayout, errorCodeDuplicate, payout.ErrPayoutExists)
			}
			return wrapStoreError(errorSubjectPayout, errorCodeCreate, err)
		}
		if len(settlement.LineItems) == 0 {
			return nil
		}
		items := make([]PayoutLineItem, 0, len(settlement.LineItems))
		for _, item := range settlement.LineItems {
			items = append(items, PayoutLineItem{
				PayoutID:          record.ID,
				ItemType:          string(item.Type),
				ItemCount:         item.ItemCount,
				GrossDT:           item.GrossDT,
				GrossKRW:          item.GrossKRW,
				PlatformFeeKRW:    item.PlatformFeeKRW,
				WithholdingTaxKRW: item.WithholdingTaxKRW,
			})
		}
		if err := transaction.CreateInBatches(&items, lineItemBatchSize).Error; err != nil {
			return wrapStoreError(errorSubjectPayout, errorCodeInsert, err)
		}
		return nil
	})
}

// WithholdingRate implements payout.RateProvider over withholding_tax_rates.
func (store *Store) WithholdingRate(ctx context.Context, incomeType payout.IncomeType) (decimal.Decimal, error) {
	var row WithholdingTaxRate
	err := store.db.WithContext(ctx).Where("income_type = ?", string(incomeType)).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return decimal.Decimal{}, wrapStoreError(errorSubjectRate, errorCodeGet, payout.ErrRateNotFound)
	}
	if err != nil {
		return decimal.Decimal{}, wrapStoreError(errorSubjectRate, errorCodeGet, err)
	}
	return row.Rate, nil
}
