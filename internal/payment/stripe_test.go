package payment

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v78"

	"github.com/mmeshcher/order-lifecycle/internal/model"
)

type fakeIntents struct {
	lastNew     *stripe.PaymentIntentParams
	newIntent   *stripe.PaymentIntent
	newErr      error
	captureID   string
	cancelID    string
	statusAfter stripe.PaymentIntentStatus
}

func (f *fakeIntents) New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	f.lastNew = params
	return f.newIntent, f.newErr
}

func (f *fakeIntents) Capture(id string, _ *stripe.PaymentIntentCaptureParams) (*stripe.PaymentIntent, error) {
	f.captureID = id
	return &stripe.PaymentIntent{ID: id, Status: f.statusAfter}, nil
}

func (f *fakeIntents) Cancel(id string, _ *stripe.PaymentIntentCancelParams) (*stripe.PaymentIntent, error) {
	f.cancelID = id
	return &stripe.PaymentIntent{ID: id, Status: f.statusAfter}, nil
}

type fakeRefunds struct {
	last   *stripe.RefundParams
	status stripe.RefundStatus
}

func (f *fakeRefunds) New(params *stripe.RefundParams) (*stripe.Refund, error) {
	f.last = params
	return &stripe.Refund{ID: "re_1", Status: f.status}, nil
}

func newTestStripe(t *testing.T, intents *fakeIntents, refunds *fakeRefunds, authorizeOnly bool) *StripeGateway {
	t.Helper()
	g, err := NewStripeGateway(StripeConfig{AuthorizeOnly: authorizeOnly, intents: intents, refunds: refunds})
	require.NoError(t, err)
	return g
}

func TestNewStripeGatewayRequiresKey(t *testing.T) {
	_, err := NewStripeGateway(StripeConfig{})
	assert.Error(t, err)
}

func TestStripeProcessPaymentAuthorizes(t *testing.T) {
	intents := &fakeIntents{newIntent: &stripe.PaymentIntent{ID: "pi_1", Status: stripe.PaymentIntentStatusRequiresCapture}}
	g := newTestStripe(t, intents, &fakeRefunds{}, true)

	guid := uuid.New()
	res, err := g.ProcessPayment(context.Background(), ProcessPaymentRequest{
		OrderGUID:    guid,
		OrderTotal:   decimal.RequireFromString("110.05"),
		CurrencyCode: "USD",
		CustomValues: map[string]string{StripePaymentMethodKey: "pm_card", StripeCustomerKey: "cus_1"},
	})
	require.NoError(t, err)
	assert.True(t, res.Success())
	assert.Equal(t, model.PaymentStatusAuthorized, res.NewPaymentStatus)
	assert.Equal(t, "pi_1", res.AuthorizationTransactionID)

	require.NotNil(t, intents.lastNew)
	assert.Equal(t, int64(11005), *intents.lastNew.Amount)
	assert.Equal(t, "usd", *intents.lastNew.Currency)
	assert.Equal(t, "pm_card", *intents.lastNew.PaymentMethod)
	assert.Equal(t, "cus_1", *intents.lastNew.Customer)
	assert.Equal(t, string(stripe.PaymentIntentCaptureMethodManual), *intents.lastNew.CaptureMethod)
	assert.Equal(t, guid.String(), *intents.lastNew.IdempotencyKey)
}

func TestStripeCardErrorFlagsRecurringFailure(t *testing.T) {
	intents := &fakeIntents{newErr: &stripe.Error{Type: stripe.ErrorTypeCard, Msg: "Your card was declined."}}
	g := newTestStripe(t, intents, &fakeRefunds{}, false)

	initial := &model.Order{SubscriptionTransactionID: "pm_saved"}
	res, err := g.ProcessRecurringPayment(context.Background(), ProcessPaymentRequest{
		OrderGUID:    uuid.New(),
		OrderTotal:   decimal.NewFromInt(5),
		CurrencyCode: "EUR",
		InitialOrder: initial,
	})
	require.NoError(t, err)
	assert.False(t, res.Success())
	assert.True(t, res.RecurringPaymentFailed)
	assert.Equal(t, []string{"Your card was declined."}, res.Errors)
	assert.Equal(t, "pm_saved", *intents.lastNew.PaymentMethod)
	assert.True(t, *intents.lastNew.OffSession)
}

func TestStripeFirstRecurringPaymentSavesCard(t *testing.T) {
	intents := &fakeIntents{newIntent: &stripe.PaymentIntent{ID: "pi_2", Status: stripe.PaymentIntentStatusSucceeded}}
	g := newTestStripe(t, intents, &fakeRefunds{}, false)

	res, err := g.ProcessRecurringPayment(context.Background(), ProcessPaymentRequest{
		OrderGUID:    uuid.New(),
		OrderTotal:   decimal.NewFromInt(5),
		CurrencyCode: "USD",
		CustomValues: map[string]string{StripePaymentMethodKey: "pm_new"},
	})
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusPaid, res.NewPaymentStatus)
	assert.Equal(t, "pm_new", res.SubscriptionTransactionID)
	assert.Equal(t, string(stripe.PaymentIntentSetupFutureUsageOffSession), *intents.lastNew.SetupFutureUsage)
}

func TestStripeCaptureRefundVoid(t *testing.T) {
	intents := &fakeIntents{statusAfter: stripe.PaymentIntentStatusSucceeded}
	refunds := &fakeRefunds{status: stripe.RefundStatusSucceeded}
	g := newTestStripe(t, intents, refunds, true)
	order := &model.Order{AuthorizationTransactionID: "pi_auth", OrderTotal: decimal.NewFromInt(100)}

	capture, err := g.Capture(context.Background(), CaptureRequest{Order: order})
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusPaid, capture.NewPaymentStatus)
	assert.Equal(t, "pi_auth", intents.captureID)

	order.CaptureTransactionID = "pi_auth"
	refund, err := g.Refund(context.Background(), RefundRequest{Order: order, AmountToRefund: decimal.RequireFromString("12.5"), IsPartialRefund: true})
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusPartiallyRefunded, refund.NewPaymentStatus)
	assert.Equal(t, int64(1250), *refunds.last.Amount)

	refunds.status = stripe.RefundStatusFailed
	refund, err = g.Refund(context.Background(), RefundRequest{Order: order})
	require.NoError(t, err)
	assert.False(t, refund.Success())

	intents.statusAfter = stripe.PaymentIntentStatusCanceled
	void, err := g.Void(context.Background(), VoidRequest{Order: order})
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusVoided, void.NewPaymentStatus)
}
