package payout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/dtledger/internal/events"
	"github.com/MarkoPoloResearchLab/dtledger/pkg/ledger"
	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	StatusPendingReview = "pending_review"
	StatusApproved      = "approved"
	StatusPaid          = "paid"
	StatusCancelled     = "cancelled"
	StatusFailed        = "failed"

	defaultMinimumPayoutKRW int64 = 10000
)

var (
	// ErrPayoutExists reports a non-cancelled payout already covering the creator's period.
	ErrPayoutExists = errors.New("payout already exists for period")
	// ErrRateNotFound reports a missing withholding rate row.
	ErrRateNotFound = errors.New("withholding rate not found")
	// ErrInvalidCalculatorConfig reports a missing dependency.
	ErrInvalidCalculatorConfig = errors.New("invalid payout calculator config")

	defaultPlatformFeeRate = decimal.RequireFromString("0.20")
)

// Creator is a payout-eligible creator. A zero MinimumPayoutKRW means the platform default.
type Creator struct {
	ID               ledger.UserID
	MinimumPayoutKRW int64
}

// Payout is the record written for review.
type Payout struct {
	ID         string
	CreatorID  ledger.UserID
	Period     Period
	Settlement Settlement
	Status     string
	CreatedAt  time.Time
}

// Store reads earnings and persists payouts.
// CreatePayout re-checks for an open payout inside its transaction and returns ErrPayoutExists.
type Store interface {
	ListPayoutCreators(ctx context.Context) ([]Creator, error)
	HasOpenPayout(ctx context.Context, creatorID ledger.UserID, period Period) (bool, error)
	EarningsForPeriod(ctx context.Context, creatorID ledger.UserID, period Period) ([]Bucket, error)
	CreatePayout(ctx context.Context, payout Payout) error
}

// RateProvider looks up the withholding rate configured for an income type.
type RateProvider interface {
	WithholdingRate(ctx context.Context, incomeType IncomeType) (decimal.Decimal, error)
}

// Summary is the per-creator line of a batch report.
type Summary struct {
	PayoutID          string `json:"payoutId"`
	CreatorID         string `json:"creatorId"`
	GrossDT           int64  `json:"grossDt"`
	GrossKRW          int64  `json:"grossKrw"`
	PlatformFeeKRW    int64  `json:"platformFeeKrw"`
	WithholdingTaxKRW int64  `json:"withholdingTaxKrw"`
	NetKRW            int64  `json:"netKrw"`
}

// Report aggregates one batch run.
type Report struct {
	Period    Period
	Processed int
	Created   int
	Skipped   int
	Errors    int
	Payouts   []Summary
}

// Option configures a Calculator.
type Option func(*Calculator)

// Calculator runs the monthly payout batch.
type Calculator struct {
	store             Store
	rates             RateProvider
	ids               *snowflake.Node
	publisher         events.Publisher
	logger            *zap.Logger
	platformFeeRate   decimal.Decimal
	defaultMinimumKRW int64
	location          *time.Location
	nowFn             func() time.Time
}

// NewCalculator wires a Calculator. ids mints time-ordered payout numbers.
func NewCalculator(store Store, rates RateProvider, ids *snowflake.Node, options ...Option) (*Calculator, error) {
	if store == nil || rates == nil || ids == nil {
		return nil, fmt.Errorf("%w: store, rates and id node are required", ErrInvalidCalculatorConfig)
	}
	calculator := &Calculator{
		store:             store,
		rates:             rates,
		ids:               ids,
		publisher:         events.NopPublisher{},
		logger:            zap.NewNop(),
		platformFeeRate:   defaultPlatformFeeRate,
		defaultMinimumKRW: defaultMinimumPayoutKRW,
		location:          time.UTC,
		nowFn:             time.Now,
	}
	for _, option := range options {
		if option != nil {
			option(calculator)
		}
	}
	return calculator, nil
}

// WithPlatformFeeRate sets the fee fraction applied to gross income.
func WithPlatformFeeRate(rate decimal.Decimal) Option {
	return func(calculator *Calculator) {
		if !rate.IsNegative() && rate.LessThan(decimal.NewFromInt(1)) {
			calculator.platformFeeRate = rate
		}
	}
}

// WithDefaultMinimumPayout sets the threshold for creators without their own.
func WithDefaultMinimumPayout(minimumKRW int64) Option {
	return func(calculator *Calculator) {
		if minimumKRW >= 0 {
			calculator.defaultMinimumKRW = minimumKRW
		}
	}
}

// WithLocation sets the time zone that defines calendar months.
func WithLocation(location *time.Location) Option {
	return func(calculator *Calculator) {
		if location != nil {
			calculator.location = location
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(calculator *Calculator) {
		if now != nil {
			calculator.nowFn = now
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(calculator *Calculator) {
		if logger != nil {
			calculator.logger = logger
		}
	}
}

func WithPublisher(publisher events.Publisher) Option {
	return func(calculator *Calculator) {
		if publisher != nil {
			calculator.publisher = publisher
		}
	}
}

// Run settles the calendar month that ended before now.
func (calculator *Calculator) Run(ctx context.Context) (Report, error) {
	return calculator.RunPeriod(ctx, PreviousMonth(calculator.nowFn(), calculator.location))
}

// RunPeriod settles every eligible creator for period. A creator's failure is counted, never returned.
func (calculator *Calculator) RunPeriod(ctx context.Context, period Period) (Report, error) {
	report := Report{Period: period, Payouts: []Summary{}}
	creators, err := calculator.store.ListPayoutCreators(ctx)
	if err != nil {
		return report, fmt.Errorf("list payout creators: %w", err)
	}
	rates := calculator.withholdingRates(ctx)

	for _, creator := range creators {
		report.Processed++
		summary, created, err := calculator.settleCreator(ctx, creator, period, rates)
		switch {
		case err != nil:
			report.Errors++
			calculator.logger.Error("payout calculation failed",
				zap.String("creator_id", creator.ID.String()),
				zap.String("period_start", period.StartDate()),
				zap.Error(err),
			)
		case created:
			report.Created++
			report.Payouts = append(report.Payouts, summary)
		default:
			report.Skipped++
		}
	}
	calculator.logger.Info("payout batch finished",
		zap.String("period_start", period.StartDate()),
		zap.String("period_end", period.EndDate()),
		zap.Int("processed", report.Processed),
		zap.Int("created", report.Created),
		zap.Int("skipped", report.Skipped),
		zap.Int("errors", report.Errors),
	)
	return report, nil
}

func (calculator *Calculator) settleCreator(ctx context.Context, creator Creator, period Period, rates map[IncomeType]decimal.Decimal) (Summary, bool, error) {
	exists, err := calculator.store.HasOpenPayout(ctx, creator.ID, period)
	if err != nil {
		return Summary{}, false, err
	}
	if exists {
		return Summary{}, false, nil
	}

	buckets, err := calculator.store.EarningsForPeriod(ctx, creator.ID, period)
	if err != nil {
		return Summary{}, false, err
	}
	settlement := Settle(buckets, calculator.platformFeeRate, rates)
	if settlement.GrossDT == 0 {
		return Summary{}, false, nil
	}
	minimumKRW := creator.MinimumPayoutKRW
	if minimumKRW <= 0 {
		minimumKRW = calculator.defaultMinimumKRW
	}
	if settlement.NetKRW < minimumKRW {
		calculator.logger.Debug("payout below minimum",
			zap.String("creator_id", creator.ID.String()),
			zap.Int64("net_krw", settlement.NetKRW),
			zap.Int64("minimum_krw", minimumKRW),
		)
		return Summary{}, false, nil
	}

	payout := Payout{
		ID:         calculator.ids.Generate().String(),
		CreatorID:  creator.ID,
		Period:     period,
		Settlement: settlement,
		Status:     StatusPendingReview,
		CreatedAt:  calculator.nowFn().UTC(),
	}
	if err := calculator.store.CreatePayout(ctx, payout); err != nil {
		if errors.Is(err, ErrPayoutExists) {
			return Summary{}, false, nil
		}
		return Summary{}, false, err
	}

	events.Emit(ctx, calculator.publisher, calculator.logger, events.New(events.TypePayoutCreated, payout.CreatedAt, events.PayoutCreated{
		PayoutID:    payout.ID,
		CreatorID:   creator.ID.String(),
		PeriodStart: period.StartDate(),
		PeriodEnd:   period.EndDate(),
		NetKRW:      settlement.NetKRW,
	}))
	return Summary{
		PayoutID:          payout.ID,
		CreatorID:         creator.ID.String(),
		GrossDT:           settlement.GrossDT,
		GrossKRW:          settlement.GrossKRW,
		PlatformFeeKRW:    settlement.PlatformFeeKRW,
		WithholdingTaxKRW: settlement.WithholdingTaxKRW,
		NetKRW:            settlement.NetKRW,
	}, true, nil
}

func (calculator *Calculator) withholdingRates(ctx context.Context) map[IncomeType]decimal.Decimal {
	rates := make(map[IncomeType]decimal.Decimal, len(IncomeTypes()))
	for _, incomeType := range IncomeTypes() {
		rate, err := calculator.rates.WithholdingRate(ctx, incomeType)
		if err != nil || rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
			fallback := FallbackWithholdingRate(incomeType)
			calculator.logger.Warn("withholding rate unavailable, using fallback",
				zap.String("income_type", string(incomeType)),
				zap.String("fallback_rate", fallback.String()),
				zap.Error(err),
			)
			rate = fallback
		}
		rates[incomeType] = rate
	}
	return rates
}
