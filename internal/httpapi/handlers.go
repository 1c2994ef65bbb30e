package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/dtledger/internal/events"
	"github.com/MarkoPoloResearchLab/dtledger/internal/payments"
	"github.com/MarkoPoloResearchLab/dtledger/internal/payout"
	"github.com/MarkoPoloResearchLab/dtledger/pkg/ledger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const payoutPeriodLayout = "2006-01"

type pledgeRequest struct {
	CampaignID     string `json:"campaignId"`
	TierID         string `json:"tierId"`
	AmountDT       int64  `json:"amountDt"`
	ExtraSupportDT int64  `json:"extraSupportDt"`
	IdempotencyKey string `json:"idempotencyKey"`
	IsAnonymous    bool   `json:"isAnonymous"`
	SupportMessage string `json:"supportMessage"`
}

type payoutCalculateRequest struct {
	Period string `json:"period"`
}

func (handler *httpHandler) handlePaymentWebhook(ctx *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(ctx.Writer, ctx.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_request", "Unreadable body"))
		return
	}

	outcome, err := handler.intake.HandleWebhook(ctx.Request.Context(), body, ctx.GetHeader(headerWebhookSignature), ctx.GetHeader(headerPaymentProvider))
	if err != nil {
		status, code, message := webhookErrorStatus(err)
		if status == http.StatusInternalServerError {
			handler.logger.Error("payment webhook failed", zap.Error(err))
		}
		ctx.JSON(status, errorResponse(code, message))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"success":    true,
		"orderId":    outcome.OrderID,
		"action":     outcome.Action,
		"newBalance": outcome.NewBalance.Int64(),
	})
}

func (handler *httpHandler) handlePaymentReconcile(ctx *gin.Context) {
	report, err := handler.reconciler.Run(ctx.Request.Context())
	if err != nil {
		handler.logger.Error("payment reconcile failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("internal_error", "Reconciliation failed"))
		return
	}
	results := report.Results
	if results == nil {
		results = []payments.ReconcileResult{}
	}
	ctx.JSON(http.StatusOK, gin.H{
		"success":   true,
		"processed": report.Processed,
		"results":   results,
	})
}

func (handler *httpHandler) handlePayoutCalculate(ctx *gin.Context) {
	var request payoutCalculateRequest
	if ctx.Request.ContentLength != 0 {
		if err := json.NewDecoder(ctx.Request.Body).Decode(&request); err != nil && !errors.Is(err, io.EOF) {
			ctx.JSON(http.StatusBadRequest, errorResponse("invalid_request", "Invalid JSON body"))
			return
		}
	}

	var (
		report payout.Report
		err    error
	)
	if period := strings.TrimSpace(request.Period); period != "" {
		month, parseErr := time.ParseInLocation(payoutPeriodLayout, period, handler.location)
		if parseErr != nil {
			ctx.JSON(http.StatusBadRequest, errorResponse("invalid_request", "period must be formatted as YYYY-MM"))
			return
		}
		report, err = handler.payouts.RunPeriod(ctx.Request.Context(), payout.MonthOf(month, handler.location))
	} else {
		report, err = handler.payouts.Run(ctx.Request.Context())
	}
	if err != nil {
		handler.logger.Error("payout calculation failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("internal_error", "Payout calculation failed"))
		return
	}

	summaries := report.Payouts
	if summaries == nil {
		summaries = []payout.Summary{}
	}
	ctx.JSON(http.StatusOK, gin.H{
		"success": true,
		"period": gin.H{
			"start": report.Period.StartDate(),
			"end":   report.Period.EndDate(),
		},
		"results": gin.H{
			"processed": report.Processed,
			"created":   report.Created,
			"skipped":   report.Skipped,
			"errors":    report.Errors,
			"payouts":   summaries,
		},
	})
}

func (handler *httpHandler) handleScheduledDispatch(ctx *gin.Context) {
	report, err := handler.dispatcher.Run(ctx.Request.Context())
	if err != nil {
		handler.logger.Error("scheduled dispatch failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("internal_error", "Dispatch failed"))
		return
	}
	dispatchErrors := report.Errors
	if dispatchErrors == nil {
		dispatchErrors = []string{}
	}
	ctx.JSON(http.StatusOK, gin.H{
		"success":       true,
		"processed":     report.Processed,
		"sent":          report.Sent,
		"failed":        report.Failed,
		"errors":        dispatchErrors,
		"monthly_reset": report.MonthlyReset,
	})
}

func (handler *httpHandler) handleFundingPledge(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "Unauthorized"))
		return
	}
	var payload pledgeRequest
	if err := ctx.ShouldBindJSON(&payload); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_request", "Invalid JSON body"))
		return
	}
	request, err := ledger.NewPledgeRequest(userID.String(), payload.CampaignID, payload.TierID, payload.AmountDT, payload.ExtraSupportDT, payload.IdempotencyKey, payload.IsAnonymous, payload.SupportMessage)
	if err != nil {
		status, code, message := pledgeErrorStatus(err)
		ctx.JSON(status, errorResponse(code, message))
		return
	}

	result, err := handler.ledger.Pledge(ctx.Request.Context(), request)
	if err != nil {
		status, code, message := pledgeErrorStatus(err)
		if status == http.StatusInternalServerError {
			handler.logger.Error("pledge failed",
				zap.String("user_id", userID.String()),
				zap.String("campaign_id", request.CampaignID.String()),
				zap.String("idempotency_key", request.IdempotencyKey.String()),
				zap.Error(err),
			)
		}
		ctx.JSON(status, errorResponse(code, message))
		return
	}

	message := "Pledge created"
	if result.Replayed {
		message = "Pledge already processed"
	} else {
		events.Emit(ctx.Request.Context(), handler.publisher, handler.logger, events.New(events.TypePledgeCreated, handler.nowFn(), events.PledgeCreated{
			PledgeID:    result.PledgeID.String(),
			CampaignID:  request.CampaignID.String(),
			UserID:      userID.String(),
			TotalDT:     request.TotalDT().Int64(),
			IsAnonymous: request.IsAnonymous,
		}))
	}
	ctx.JSON(http.StatusOK, gin.H{
		"success":    true,
		"pledgeId":   result.PledgeID.String(),
		"newBalance": result.NewBalance.Int64(),
		"message":    message,
	})
}

func (handler *httpHandler) handleWallet(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "Unauthorized"))
		return
	}
	wallet, err := handler.ledger.Wallet(ctx.Request.Context(), userID)
	if err != nil {
		handler.logger.Error("wallet fetch failed", zap.String("user_id", userID.String()), zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("internal_error", "Wallet unavailable"))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"success":             true,
		"userId":              userID.String(),
		"balanceDt":           wallet.BalanceDT.Int64(),
		"lifetimePurchasedDt": wallet.LifetimePurchasedDT.Int64(),
	})
}
