package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// PledgeRequest is a validated pledge submission.
type PledgeRequest struct {
	UserID         UserID
	CampaignID     CampaignID
	TierID         *RewardTierID
	AmountDT       AmountDT
	ExtraSupportDT AmountDT
	IdempotencyKey IdempotencyKey
	IsAnonymous    bool
	SupportMessage string
}

// NewPledgeRequest validates raw pledge inputs. An empty tier id means no tier.
func NewPledgeRequest(userID string, campaignID string, tierID string, amountDT int64, extraSupportDT int64, idempotencyKey string, isAnonymous bool, supportMessage string) (PledgeRequest, error) {
	amount, err := NewAmountDT(amountDT)
	if err != nil {
		return PledgeRequest{}, err
	}
	key, err := NewIdempotencyKey(idempotencyKey)
	if err != nil {
		return PledgeRequest{}, err
	}
	extra, err := NewNonNegativeAmountDT(extraSupportDT)
	if err != nil {
		return PledgeRequest{}, err
	}
	user, err := NewUserID(userID)
	if err != nil {
		return PledgeRequest{}, err
	}
	campaign, err := NewCampaignID(campaignID)
	if err != nil {
		return PledgeRequest{}, err
	}
	request := PledgeRequest{
		UserID:         user,
		CampaignID:     campaign,
		AmountDT:       amount,
		ExtraSupportDT: extra,
		IdempotencyKey: key,
		IsAnonymous:    isAnonymous,
		SupportMessage: strings.TrimSpace(supportMessage),
	}
	if strings.TrimSpace(tierID) != "" {
		tier, err := NewRewardTierID(tierID)
		if err != nil {
			return PledgeRequest{}, err
		}
		request.TierID = &tier
	}
	return request, nil
}

// TotalDT is the amount debited from the backer's wallet.
func (request PledgeRequest) TotalDT() AmountDT {
	return request.AmountDT + request.ExtraSupportDT
}

// PledgeResult reports the created (or replayed) pledge.
type PledgeResult struct {
	PledgeID   PledgeID
	NewBalance AmountDT
	Replayed   bool
}

// Pledge validates a campaign/tier/wallet triple and commits the debit, the pledge row,
// the campaign statistics and the tier inventory in one unit.
// Every guard is re-checked by a conditional write inside the unit, so a balance or
// inventory change between validation and commit aborts the whole unit.
func (service *Service) Pledge(ctx context.Context, request PledgeRequest) (PledgeResult, error) {
	result, operationError := service.pledge(ctx, request)
	status := ""
	if operationError == nil && result.Replayed {
		status = operationStatusReplay
	}
	service.logOperation(ctx, OperationLog{
		Operation:      operationPledge,
		UserID:         request.UserID,
		CampaignID:     request.CampaignID,
		Amount:         request.TotalDT(),
		IdempotencyKey: request.IdempotencyKey,
		Status:         status,
		Error:          operationError,
	})
	return result, operationError
}

func (service *Service) pledge(ctx context.Context, request PledgeRequest) (PledgeResult, error) {
	if utf8.RuneCountInString(request.SupportMessage) > service.supportMessageLimit {
		return PledgeResult{}, fmt.Errorf("%w: limit is %d characters", ErrSupportMessageTooLong, service.supportMessageLimit)
	}

	replay, found, err := service.replayPledge(ctx, request)
	if err != nil || found {
		return replay, err
	}

	now := service.nowFn()
	campaign, err := service.store.GetCampaign(ctx, request.CampaignID)
	if err != nil {
		return PledgeResult{}, err
	}
	if !campaign.AcceptsPledgesAt(now) {
		return PledgeResult{}, ErrCampaignNotActive
	}
	if campaign.CreatorID == request.UserID {
		return PledgeResult{}, ErrSelfPledge
	}

	if request.TierID != nil {
		tier, err := service.store.GetRewardTier(ctx, request.CampaignID, *request.TierID)
		if err != nil {
			return PledgeResult{}, err
		}
		if !tier.IsActive {
			return PledgeResult{}, ErrRewardTierInactive
		}
		if tier.SoldOut() {
			return PledgeResult{}, ErrTierSoldOut
		}
		if request.AmountDT < tier.PriceDT {
			return PledgeResult{}, fmt.Errorf("%w: tier price is %d", ErrPledgeBelowTierPrice, tier.PriceDT)
		}
	}

	wallet, err := service.store.GetOrCreateWallet(ctx, request.UserID)
	if err != nil {
		return PledgeResult{}, err
	}
	if wallet.BalanceDT < request.TotalDT() {
		return PledgeResult{}, ErrInsufficientBalance
	}

	pledgeID, err := NewPledgeID(service.newIDFn())
	if err != nil {
		return PledgeResult{}, err
	}
	var result PledgeResult
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		pledge := Pledge{
			ID:             pledgeID,
			CampaignID:     request.CampaignID,
			TierID:         request.TierID,
			UserID:         request.UserID,
			AmountDT:       request.AmountDT,
			ExtraSupportDT: request.ExtraSupportDT,
			TotalAmountDT:  request.TotalDT(),
			IdempotencyKey: request.IdempotencyKey,
			Status:         PledgeStatusActive,
			IsAnonymous:    request.IsAnonymous,
			SupportMessage: request.SupportMessage,
			CreatedAt:      now,
		}
		if err := transactionStore.InsertPledge(ctx, pledge); err != nil {
			return err
		}
		debited, err := transactionStore.DebitWallet(ctx, request.UserID, request.TotalDT())
		if err != nil {
			return err
		}
		if err := transactionStore.ApplyCampaignPledge(ctx, request.CampaignID, request.TotalDT(), now); err != nil {
			return err
		}
		if request.TierID != nil {
			if err := transactionStore.ConsumeRewardTier(ctx, request.CampaignID, *request.TierID); err != nil {
				return err
			}
		}
		entry := IdempotencyEntry{
			Key:          pledgeLedgerKey(request.IdempotencyKey),
			UserID:       request.UserID,
			BalanceDelta: -request.TotalDT().Int64(),
			Metadata:     MetadataJSON{value: fmt.Sprintf(`{"pledge_id":%q,"campaign_id":%q}`, pledgeID.String(), request.CampaignID.String())},
			CreatedAt:    now,
		}
		if err := transactionStore.InsertIdempotencyEntry(ctx, entry); err != nil {
			return err
		}
		result = PledgeResult{PledgeID: pledgeID, NewBalance: debited.BalanceDT}
		return nil
	})
	if errors.Is(operationError, ErrDuplicateIdempotencyKey) {
		replay, found, err := service.replayPledge(ctx, request)
		if err != nil {
			return PledgeResult{}, err
		}
		if found {
			return replay, nil
		}
	}
	if operationError != nil {
		return PledgeResult{}, operationError
	}
	return result, nil
}

func (service *Service) replayPledge(ctx context.Context, request PledgeRequest) (PledgeResult, bool, error) {
	existing, err := service.store.FindPledgeByIdempotencyKey(ctx, request.IdempotencyKey)
	if errors.Is(err, ErrPledgeNotFound) {
		return PledgeResult{}, false, nil
	}
	if err != nil {
		return PledgeResult{}, false, err
	}
	if existing.UserID != request.UserID {
		return PledgeResult{}, false, ErrIdempotencyKeyConflict
	}
	wallet, err := service.Wallet(ctx, request.UserID)
	if err != nil {
		return PledgeResult{}, false, err
	}
	return PledgeResult{PledgeID: existing.ID, NewBalance: wallet.BalanceDT, Replayed: true}, true, nil
}
