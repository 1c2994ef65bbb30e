package payout

import (
	"github.com/MarkoPoloResearchLab/dtledger/pkg/ledger"
	"github.com/shopspring/decimal"
)

// IncomeType classifies creator revenue for withholding purposes.
type IncomeType string

const (
	IncomeTypeTip         IncomeType = "tip"
	IncomeTypePrivateCard IncomeType = "private_card"
	IncomeTypeFunding     IncomeType = "funding"
)

// IncomeTypes lists every bucket in line-item order.
func IncomeTypes() []IncomeType {
	return []IncomeType{IncomeTypeTip, IncomeTypePrivateCard, IncomeTypeFunding}
}

var fallbackWithholdingRates = map[IncomeType]decimal.Decimal{
	IncomeTypeTip:         decimal.RequireFromString("0.088"),
	IncomeTypePrivateCard: decimal.RequireFromString("0.033"),
	IncomeTypeFunding:     decimal.RequireFromString("0.033"),
}

// FallbackWithholdingRate is used when the rate table has no usable row.
func FallbackWithholdingRate(incomeType IncomeType) decimal.Decimal {
	return fallbackWithholdingRates[incomeType]
}

// Bucket is one income type's earnings for a creator and period.
// FeeCollectedUpstream marks income whose platform share was split off at the source.
type Bucket struct {
	Type                 IncomeType
	ItemCount            int64
	GrossDT              int64
	FeeCollectedUpstream bool
}

// LineItem is the settled view of one non-empty bucket.
type LineItem struct {
	Type              IncomeType
	ItemCount         int64
	GrossDT           int64
	GrossKRW          int64
	PlatformFeeKRW    int64
	TaxableKRW        int64
	WithholdingTaxKRW int64
}

// Settlement is the creator's payout arithmetic for a period.
type Settlement struct {
	GrossDT           int64
	GrossKRW          int64
	PlatformFeeKRW    int64
	WithholdingTaxKRW int64
	NetKRW            int64
	LineItems         []LineItem
}

// Settle computes fee and withholding per bucket and sums them.
// Each bucket is taxed on its gross minus its own fee share, at its own rate.
// Amounts are floored to whole won.
func Settle(buckets []Bucket, platformFeeRate decimal.Decimal, withholdingRates map[IncomeType]decimal.Decimal) Settlement {
	var settlement Settlement
	for _, bucket := range buckets {
		if bucket.GrossDT <= 0 {
			continue
		}
		grossKRW := ledger.AmountDT(bucket.GrossDT).KRW()
		feeKRW := int64(0)
		if !bucket.FeeCollectedUpstream {
			feeKRW = floorWon(decimal.NewFromInt(grossKRW).Mul(platformFeeRate))
		}
		taxableKRW := grossKRW - feeKRW
		rate, ok := withholdingRates[bucket.Type]
		if !ok {
			rate = FallbackWithholdingRate(bucket.Type)
		}
		withholdingKRW := floorWon(decimal.NewFromInt(taxableKRW).Mul(rate))

		settlement.LineItems = append(settlement.LineItems, LineItem{
			Type:              bucket.Type,
			ItemCount:         bucket.ItemCount,
			GrossDT:           bucket.GrossDT,
			GrossKRW:          grossKRW,
			PlatformFeeKRW:    feeKRW,
			TaxableKRW:        taxableKRW,
			WithholdingTaxKRW: withholdingKRW,
		})
		settlement.GrossDT += bucket.GrossDT
		settlement.GrossKRW += grossKRW
		settlement.PlatformFeeKRW += feeKRW
		settlement.WithholdingTaxKRW += withholdingKRW
	}
	settlement.NetKRW = settlement.GrossKRW - settlement.PlatformFeeKRW - settlement.WithholdingTaxKRW
	return settlement
}

func floorWon(value decimal.Decimal) int64 {
	return value.Floor().IntPart()
}
