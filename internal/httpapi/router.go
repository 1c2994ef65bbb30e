// Package httpapi exposes the ledger operations over HTTP.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MarkoPoloResearchLab/dtledger/internal/dispatch"
	"github.com/MarkoPoloResearchLab/dtledger/internal/events"
	"github.com/MarkoPoloResearchLab/dtledger/internal/payments"
	"github.com/MarkoPoloResearchLab/dtledger/internal/payout"
	"github.com/MarkoPoloResearchLab/dtledger/pkg/ledger"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxWebhookBodyBytes = 1 << 20

// ErrInvalidRouterConfig reports a missing handler dependency.
var ErrInvalidRouterConfig = errors.New("invalid http router config")

// LedgerService is the subset of ledger.Service used by user-facing routes.
type LedgerService interface {
	Pledge(ctx context.Context, request ledger.PledgeRequest) (ledger.PledgeResult, error)
	Wallet(ctx context.Context, userID ledger.UserID) (ledger.Wallet, error)
}

// WebhookIntake verifies and applies a payment webhook delivery.
type WebhookIntake interface {
	HandleWebhook(ctx context.Context, body []byte, signature string, providerHeader string) (payments.WebhookOutcome, error)
}

// ReconcileJob runs one reconciliation pass.
type ReconcileJob interface {
	Run(ctx context.Context) (payments.ReconcileReport, error)
}

// PayoutJob runs the monthly payout batch.
type PayoutJob interface {
	Run(ctx context.Context) (payout.Report, error)
	RunPeriod(ctx context.Context, period payout.Period) (payout.Report, error)
}

// DispatchJob runs one scheduled-message dispatch pass.
type DispatchJob interface {
	Run(ctx context.Context) (dispatch.Report, error)
}

// AuthConfig carries the shared secrets checked by the route middlewares.
type AuthConfig struct {
	ServiceRoleSecret string
	CronSecret        string
	JWTSigningKey     string
	JWTIssuer         string
}

// Dependencies wires the handlers to the domain services.
type Dependencies struct {
	Ledger     LedgerService
	Intake     WebhookIntake
	Reconciler ReconcileJob
	Payouts    PayoutJob
	Dispatcher DispatchJob
	Publisher  events.Publisher
	Logger     *zap.Logger
	Location   *time.Location
	Clock      func() time.Time
}

type httpHandler struct {
	logger     *zap.Logger
	ledger     LedgerService
	intake     WebhookIntake
	reconciler ReconcileJob
	payouts    PayoutJob
	dispatcher DispatchJob
	publisher  events.Publisher
	location   *time.Location
	nowFn      func() time.Time
}

// NewRouter builds the gin engine serving every ledger route.
func NewRouter(auth AuthConfig, deps Dependencies) (*gin.Engine, error) {
	if deps.Ledger == nil || deps.Intake == nil || deps.Reconciler == nil || deps.Payouts == nil || deps.Dispatcher == nil {
		return nil, ErrInvalidRouterConfig
	}
	handler := &httpHandler{
		logger:     deps.Logger,
		ledger:     deps.Ledger,
		intake:     deps.Intake,
		reconciler: deps.Reconciler,
		payouts:    deps.Payouts,
		dispatcher: deps.Dispatcher,
		publisher:  deps.Publisher,
		location:   deps.Location,
		nowFn:      deps.Clock,
	}
	if handler.logger == nil {
		handler.logger = zap.NewNop()
	}
	if handler.publisher == nil {
		handler.publisher = events.NopPublisher{}
	}
	if handler.location == nil {
		handler.location = time.UTC
	}
	if handler.nowFn == nil {
		handler.nowFn = time.Now
	}
	return setupRouter(auth, handler), nil
}

func setupRouter(auth AuthConfig, handler *httpHandler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := router.Group("/v1")

	webhook := v1.Group("/payment-webhook")
	webhook.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{http.MethodPost, http.MethodOptions},
		AllowHeaders:    []string{"Authorization", "Content-Type", "X-Client-Info", "Apikey", headerWebhookSignature, headerPaymentProvider},
		MaxAge:          12 * time.Hour,
	}))
	webhook.POST("", handler.handlePaymentWebhook)
	webhook.OPTIONS("", func(ctx *gin.Context) { ctx.Status(http.StatusNoContent) })

	internal := v1.Group("")
	internal.Use(serviceRoleMiddleware(auth.ServiceRoleSecret, handler.logger))
	internal.POST("/payment-reconcile", handler.handlePaymentReconcile)
	internal.POST("/payout-calculate", handler.handlePayoutCalculate)

	cron := v1.Group("")
	cron.Use(cronSecretMiddleware(auth.CronSecret, handler.logger))
	cron.POST("/scheduled-dispatch", handler.handleScheduledDispatch)

	user := v1.Group("")
	user.Use(userTokenMiddleware(auth.JWTSigningKey, auth.JWTIssuer, handler.logger))
	user.POST("/funding-pledge", handler.handleFundingPledge)
	user.GET("/wallet", handler.handleWallet)

	return router
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"success": false,
		"error":   message,
		"code":    code,
	}
}
