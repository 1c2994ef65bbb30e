package ledger

import (
	"errors"
	"testing"
	"time"
)

func TestIdentifierConstructorsTrimAndReject(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name    string
		build   func(string) (string, error)
		wantErr error
	}{
		{name: "user", build: func(raw string) (string, error) { id, err := NewUserID(raw); return id.String(), err }, wantErr: ErrInvalidUserID},
		{name: "order", build: func(raw string) (string, error) { id, err := NewOrderID(raw); return id.String(), err }, wantErr: ErrInvalidOrderID},
		{name: "campaign", build: func(raw string) (string, error) { id, err := NewCampaignID(raw); return id.String(), err }, wantErr: ErrInvalidCampaignID},
		{name: "tier", build: func(raw string) (string, error) { id, err := NewRewardTierID(raw); return id.String(), err }, wantErr: ErrInvalidRewardTierID},
		{name: "key", build: func(raw string) (string, error) { id, err := NewIdempotencyKey(raw); return id.String(), err }, wantErr: ErrInvalidIdempotencyKey},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			value, err := testCase.build("  abc ")
			if err != nil || value != "abc" {
				test.Fatalf("expected trimmed value, got %q (%v)", value, err)
			}
			if _, err := testCase.build("   "); !errors.Is(err, testCase.wantErr) {
				test.Fatalf("expected %v, got %v", testCase.wantErr, err)
			}
		})
	}
}

func TestPurchaseIdempotencyKeyIsCanonical(test *testing.T) {
	test.Parallel()
	key := PurchaseIdempotencyKey(mustOrderID(test, "order-7"))
	if key.String() != "purchase:order-7" {
		test.Fatalf("unexpected key %q", key.String())
	}
}

func TestMetadataJSONDefaultsAndValidates(test *testing.T) {
	test.Parallel()
	metadata, err := NewMetadataJSON(" ")
	if err != nil || metadata.String() != "{}" {
		test.Fatalf("expected empty object, got %q (%v)", metadata.String(), err)
	}
	if _, err := NewMetadataJSON("{broken"); !errors.Is(err, ErrInvalidMetadataJSON) {
		test.Fatalf("expected ErrInvalidMetadataJSON, got %v", err)
	}
}

func TestAmountDTConversion(test *testing.T) {
	test.Parallel()
	if AmountDT(3000).KRW() != 300000 {
		test.Fatalf("expected 100 KRW per DT")
	}
	if _, err := NewAmountDT(0); !errors.Is(err, ErrInvalidAmountDT) {
		test.Fatalf("expected zero to be rejected")
	}
	if amount, err := NewNonNegativeAmountDT(0); err != nil || amount != 0 {
		test.Fatalf("expected zero to be accepted")
	}
}

func TestStatusParsers(test *testing.T) {
	test.Parallel()
	if status, err := ParsePurchaseStatus("paid"); err != nil || !status.IsTerminal() {
		test.Fatalf("expected paid to be terminal")
	}
	if status, _ := ParsePurchaseStatus("pending"); status.IsTerminal() {
		test.Fatalf("expected pending to be open")
	}
	if _, err := ParsePurchaseStatus("refunded"); !errors.Is(err, ErrInvalidPurchaseStatus) {
		test.Fatalf("expected ErrInvalidPurchaseStatus, got %v", err)
	}
	if _, err := ParseCampaignStatus("paused"); !errors.Is(err, ErrInvalidCampaignStatus) {
		test.Fatalf("expected ErrInvalidCampaignStatus, got %v", err)
	}
	if _, err := ParsePledgeStatus("completed"); err != nil {
		test.Fatalf("expected completed to parse: %v", err)
	}
}

func TestCampaignAcceptsPledgesAt(test *testing.T) {
	test.Parallel()
	now := time.Date(2026, time.May, 1, 0, 0, 0, 0, time.UTC)
	later := now.Add(time.Minute)
	testCases := []struct {
		name     string
		campaign Campaign
		want     bool
	}{
		{name: "active open ended", campaign: Campaign{Status: CampaignStatusActive}, want: true},
		{name: "active before end", campaign: Campaign{Status: CampaignStatusActive, EndAt: &later}, want: true},
		{name: "active at end", campaign: Campaign{Status: CampaignStatusActive, EndAt: &now}, want: false},
		{name: "succeeded", campaign: Campaign{Status: CampaignStatusSucceeded}, want: false},
	}
	for _, testCase := range testCases {
		if got := testCase.campaign.AcceptsPledgesAt(now); got != testCase.want {
			test.Fatalf("%s: expected %v, got %v", testCase.name, testCase.want, got)
		}
	}
}

func TestRewardTierSoldOut(test *testing.T) {
	test.Parallel()
	if (RewardTier{}).SoldOut() {
		test.Fatalf("unlimited tier must never sell out")
	}
	if !(RewardTier{RemainingQuantity: int64Pointer(0)}).SoldOut() {
		test.Fatalf("zero remaining must be sold out")
	}
}
