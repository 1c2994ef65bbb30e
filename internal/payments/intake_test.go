package payments_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/dtledger/internal/events"
	"github.com/MarkoPoloResearchLab/dtledger/internal/payments"
	"github.com/MarkoPoloResearchLab/dtledger/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/dtledger/internal/testutil"
	"github.com/MarkoPoloResearchLab/dtledger/pkg/ledger"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const webhookSecret = "whsec_intake"

var intakeNow = time.Date(2025, time.May, 2, 10, 0, 0, 0, time.UTC)

type recordingPublisher struct {
	mutex  sync.Mutex
	events []events.Event
}

func (publisher *recordingPublisher) Publish(ctx context.Context, event events.Event) error {
	publisher.mutex.Lock()
	defer publisher.mutex.Unlock()
	publisher.events = append(publisher.events, event)
	return nil
}

func (publisher *recordingPublisher) Close() error { return nil }

func (publisher *recordingPublisher) types() []string {
	publisher.mutex.Lock()
	defer publisher.mutex.Unlock()
	types := make([]string, 0, len(publisher.events))
	for _, event := range publisher.events {
		types = append(types, event.Type)
	}
	return types
}

type paymentsFixture struct {
	db        *gorm.DB
	store     *gormstore.Store
	service   *ledger.Service
	publisher *recordingPublisher
}

func newPaymentsFixture(test *testing.T) paymentsFixture {
	test.Helper()
	db := testutil.NewTestDB(test, gormstore.Models()...)
	store := gormstore.New(db)
	service, err := ledger.NewService(store, func() time.Time { return intakeNow })
	require.NoError(test, err)
	return paymentsFixture{db: db, store: store, service: service, publisher: &recordingPublisher{}}
}

func (fixture paymentsFixture) seedIntent(test *testing.T, orderID string, status ledger.PurchaseStatus, dtAmount int64, bonus int64, createdAt time.Time) {
	test.Helper()
	require.NoError(test, fixture.db.Create(&gormstore.PurchaseIntent{
		OrderID:   orderID,
		UserID:    "user-1",
		DTAmount:  dtAmount,
		BonusDT:   bonus,
		PriceKRW:  dtAmount * ledger.KRWPerDT,
		Status:    status.String(),
		CreatedAt: createdAt,
	}).Error)
}

func (fixture paymentsFixture) intentStatus(test *testing.T, orderID string) string {
	test.Helper()
	var intent gormstore.PurchaseIntent
	require.NoError(test, fixture.db.Where("order_id = ?", orderID).Take(&intent).Error)
	return intent.Status
}

func (fixture paymentsFixture) balance(test *testing.T) int64 {
	test.Helper()
	var wallet gormstore.Wallet
	err := fixture.db.Where("user_id = ?", "user-1").Take(&wallet).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0
	}
	require.NoError(test, err)
	return wallet.BalanceDT
}

func (fixture paymentsFixture) newIntake(test *testing.T, config payments.WebhookConfig) *payments.Intake {
	test.Helper()
	intake, err := payments.NewIntake(fixture.service, config,
		payments.WithIntakePublisher(fixture.publisher),
		payments.WithIntakeClock(func() time.Time { return intakeNow }),
		payments.WithWebhookRecorder(fixture.store),
	)
	require.NoError(test, err)
	return intake
}

func tossBody(orderID string, status string) []byte {
	return []byte(fmt.Sprintf(`{"eventType":"PAYMENT_STATUS_CHANGED","data":{"paymentKey":"pk_%s","orderId":%q,"status":%q}}`, orderID, orderID, status))
}

func secrets() payments.WebhookConfig {
	return payments.WebhookConfig{Secrets: map[payments.Provider]string{
		payments.ProviderToss:    webhookSecret,
		payments.ProviderPortOne: webhookSecret,
	}}
}

func TestWebhookCreditsOnceAcrossRedeliveries(test *testing.T) {
	test.Parallel()
	fixture := newPaymentsFixture(test)
	fixture.seedIntent(test, "order-1", ledger.PurchaseStatusPending, 1000, 100, intakeNow)
	intake := fixture.newIntake(test, secrets())
	body := tossBody("order-1", "DONE")
	signature := payments.Sign(payments.ProviderToss, webhookSecret, body)

	first, err := intake.HandleWebhook(context.Background(), body, signature, "toss")
	require.NoError(test, err)
	require.Equal(test, payments.ActionCredited, first.Action)
	require.Equal(test, ledger.AmountDT(1100), first.NewBalance)

	second, err := intake.HandleWebhook(context.Background(), body, signature, "")
	require.NoError(test, err)
	require.Equal(test, payments.ActionAlreadyProcessed, second.Action)

	require.Equal(test, int64(1100), fixture.balance(test))
	require.Equal(test, ledger.PurchaseStatusPaid.String(), fixture.intentStatus(test, "order-1"))
	require.Equal(test, []string{events.TypePaymentCredited}, fixture.publisher.types())

	var recorded int64
	require.NoError(test, fixture.db.Model(&gormstore.PaymentWebhookEvent{}).Where("order_id = ?", "order-1").Count(&recorded).Error)
	require.Equal(test, int64(2), recorded)
}

func TestWebhookRejectsBadSignatureBeforeStateLookup(test *testing.T) {
	test.Parallel()
	fixture := newPaymentsFixture(test)
	intake := fixture.newIntake(test, secrets())
	body := tossBody("order-unknown", "DONE")

	_, err := intake.HandleWebhook(context.Background(), body, "bogus", "toss")
	require.ErrorIs(test, err, payments.ErrInvalidSignature)

	var recorded int64
	require.NoError(test, fixture.db.Model(&gormstore.PaymentWebhookEvent{}).Count(&recorded).Error)
	require.Zero(test, recorded)
}

func TestWebhookReportsUnknownOrder(test *testing.T) {
	test.Parallel()
	fixture := newPaymentsFixture(test)
	intake := fixture.newIntake(test, secrets())
	body := tossBody("order-unknown", "DONE")

	_, err := intake.HandleWebhook(context.Background(), body, payments.Sign(payments.ProviderToss, webhookSecret, body), "toss")
	require.ErrorIs(test, err, ledger.ErrPurchaseIntentNotFound)
}

func TestWebhookMarksFailedPaymentWithoutCredit(test *testing.T) {
	test.Parallel()
	fixture := newPaymentsFixture(test)
	fixture.seedIntent(test, "order-2", ledger.PurchaseStatusPending, 500, 0, intakeNow)
	intake := fixture.newIntake(test, secrets())
	body := []byte(`{"type":"Transaction.Failed","data":{"paymentId":"order-2","transactionId":"tx_2"}}`)

	outcome, err := intake.HandleWebhook(context.Background(), body, "v1,"+payments.Sign(payments.ProviderPortOne, webhookSecret, body), "portone")
	require.NoError(test, err)
	require.Equal(test, payments.ActionMarkedFailed, outcome.Action)
	require.Equal(test, ledger.PurchaseStatusFailed.String(), fixture.intentStatus(test, "order-2"))
	require.Zero(test, fixture.balance(test))
	require.Empty(test, fixture.publisher.types())
}

func TestWebhookForClosedIntentDoesNotCredit(test *testing.T) {
	test.Parallel()
	fixture := newPaymentsFixture(test)
	fixture.seedIntent(test, "order-3", ledger.PurchaseStatusCancelled, 500, 0, intakeNow)
	intake := fixture.newIntake(test, secrets())
	body := tossBody("order-3", "DONE")

	outcome, err := intake.HandleWebhook(context.Background(), body, payments.Sign(payments.ProviderToss, webhookSecret, body), "toss")
	require.NoError(test, err)
	require.Equal(test, payments.ActionIntentClosed, outcome.Action)
	require.Zero(test, fixture.balance(test))
	require.Equal(test, ledger.PurchaseStatusCancelled.String(), fixture.intentStatus(test, "order-3"))
}

func TestWebhookSkipSignatureOutsideProduction(test *testing.T) {
	test.Parallel()
	fixture := newPaymentsFixture(test)
	fixture.seedIntent(test, "order-4", ledger.PurchaseStatusPending, 200, 0, intakeNow)
	intake := fixture.newIntake(test, payments.WebhookConfig{SkipSignature: true})

	outcome, err := intake.HandleWebhook(context.Background(), tossBody("order-4", "DONE"), "", "toss")
	require.NoError(test, err)
	require.Equal(test, payments.ActionCredited, outcome.Action)
}

func TestWebhookWithoutSecretFailsClosed(test *testing.T) {
	test.Parallel()
	fixture := newPaymentsFixture(test)
	intake := fixture.newIntake(test, payments.WebhookConfig{})
	body := tossBody("order-5", "DONE")

	_, err := intake.HandleWebhook(context.Background(), body, payments.Sign(payments.ProviderToss, "anything", body), "toss")
	require.ErrorIs(test, err, payments.ErrWebhookSecretMissing)
}

func TestNewIntakeRequiresService(test *testing.T) {
	test.Parallel()
	_, err := payments.NewIntake(nil, secrets())
	require.ErrorIs(test, err, payments.ErrInvalidIntakeConfig)
}
