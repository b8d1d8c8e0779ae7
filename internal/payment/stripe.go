package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"

	"github.com/mmeshcher/order-lifecycle/internal/model"
)

// Ключи пользовательских значений платежа, которые понимает шлюз Stripe.
const (
	StripePaymentMethodKey = "stripe_payment_method"
	StripeCustomerKey      = "stripe_customer"
)

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Capture(id string, params *stripe.PaymentIntentCaptureParams) (*stripe.PaymentIntent, error)
	Cancel(id string, params *stripe.PaymentIntentCancelParams) (*stripe.PaymentIntent, error)
}

type stripeRefundAPI interface {
	New(params *stripe.RefundParams) (*stripe.Refund, error)
}

// StripeConfig настраивает шлюз Stripe.
type StripeConfig struct {
	APIKey string
	// AuthorizeOnly оставляет платёж авторизованным до ручного списания.
	AuthorizeOnly bool
	AdditionalFee decimal.Decimal
	Backends      *stripe.Backends

	intents stripePaymentIntentAPI
	refunds stripeRefundAPI
}

// StripeGateway проводит платежи через PaymentIntents API.
type StripeGateway struct {
	intents       stripePaymentIntentAPI
	refunds       stripeRefundAPI
	authorizeOnly bool
	fee           decimal.Decimal
}

// NewStripeGateway создаёт шлюз Stripe.
func NewStripeGateway(cfg StripeConfig) (*StripeGateway, error) {
	intents, refunds := cfg.intents, cfg.refunds
	if intents == nil || refunds == nil {
		apiKey := strings.TrimSpace(cfg.APIKey)
		if apiKey == "" {
			return nil, errors.New("stripe: api key is required")
		}
		sc := client.New(apiKey, cfg.Backends)
		intents, refunds = sc.PaymentIntents, sc.Refunds
	}

	return &StripeGateway{
		intents:       intents,
		refunds:       refunds,
		authorizeOnly: cfg.AuthorizeOnly,
		fee:           cfg.AdditionalFee,
	}, nil
}

// SystemName возвращает системное имя шлюза.
func (g *StripeGateway) SystemName() string { return "stripe" }

// Capabilities возвращает возможности шлюза.
func (g *StripeGateway) Capabilities() Capabilities {
	return Capabilities{
		SupportCapture:         g.authorizeOnly,
		SupportRefund:          true,
		SupportPartiallyRefund: true,
		SupportVoid:            g.authorizeOnly,
		Recurring:              RecurringManual,
		AdditionalFee:          g.fee,
	}
}

// ProcessPayment создаёт и подтверждает PaymentIntent на сумму заказа.
func (g *StripeGateway) ProcessPayment(ctx context.Context, req ProcessPaymentRequest) (ProcessPaymentResult, error) {
	params := g.intentParams(ctx, req)
	params.PaymentMethod = stripe.String(req.CustomValues[StripePaymentMethodKey])
	return g.confirmIntent(params, false)
}

// ProcessRecurringPayment проводит первый платёж подписки с сохранением карты
// либо списывает очередной цикл с сохранённой карты без участия покупателя.
func (g *StripeGateway) ProcessRecurringPayment(ctx context.Context, req ProcessPaymentRequest) (ProcessPaymentResult, error) {
	params := g.intentParams(ctx, req)

	if req.InitialOrder == nil {
		params.PaymentMethod = stripe.String(req.CustomValues[StripePaymentMethodKey])
		params.SetupFutureUsage = stripe.String(string(stripe.PaymentIntentSetupFutureUsageOffSession))
		res, err := g.confirmIntent(params, false)
		if err == nil && res.Success() {
			res.SubscriptionTransactionID = req.CustomValues[StripePaymentMethodKey]
		}
		return res, err
	}

	params.PaymentMethod = stripe.String(req.InitialOrder.SubscriptionTransactionID)
	params.OffSession = stripe.Bool(true)
	params.CaptureMethod = stripe.String(string(stripe.PaymentIntentCaptureMethodAutomatic))
	res, err := g.confirmIntent(params, true)
	if err == nil && res.Success() {
		res.SubscriptionTransactionID = req.InitialOrder.SubscriptionTransactionID
	}
	return res, err
}

func (g *StripeGateway) intentParams(ctx context.Context, req ProcessPaymentRequest) *stripe.PaymentIntentParams {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(toMinorUnits(req.OrderTotal)),
		Currency: stripe.String(strings.ToLower(req.CurrencyCode)),
		Confirm:  stripe.Bool(true),
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.OrderGUID.String())
	params.AddMetadata("order_guid", req.OrderGUID.String())
	params.AddMetadata("customer_id", fmt.Sprint(req.CustomerID))

	if customer := strings.TrimSpace(req.CustomValues[StripeCustomerKey]); customer != "" {
		params.Customer = stripe.String(customer)
	}
	if g.authorizeOnly {
		params.CaptureMethod = stripe.String(string(stripe.PaymentIntentCaptureMethodManual))
	}
	return params
}

func (g *StripeGateway) confirmIntent(params *stripe.PaymentIntentParams, recurring bool) (ProcessPaymentResult, error) {
	var res ProcessPaymentResult

	pi, err := g.intents.New(params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Type == stripe.ErrorTypeCard {
			res.AddError(stripeErr.Msg)
			res.RecurringPaymentFailed = recurring
			return res, nil
		}
		return res, fmt.Errorf("stripe: create payment intent: %w", err)
	}

	switch pi.Status {
	case stripe.PaymentIntentStatusRequiresCapture:
		res.NewPaymentStatus = model.PaymentStatusAuthorized
		res.AuthorizationTransactionID = pi.ID
		res.AuthorizationTransactionResult = string(pi.Status)
	case stripe.PaymentIntentStatusSucceeded:
		res.NewPaymentStatus = model.PaymentStatusPaid
		res.CaptureTransactionID = pi.ID
		res.CaptureTransactionResult = string(pi.Status)
	case stripe.PaymentIntentStatusProcessing:
		res.NewPaymentStatus = model.PaymentStatusPending
		res.AuthorizationTransactionID = pi.ID
	default:
		res.AddError(fmt.Sprintf("Payment intent %s ended in status %s", pi.ID, pi.Status))
		res.RecurringPaymentFailed = recurring
	}

	return res, nil
}

// Capture списывает авторизованный PaymentIntent.
func (g *StripeGateway) Capture(ctx context.Context, req CaptureRequest) (CaptureResult, error) {
	var res CaptureResult

	params := &stripe.PaymentIntentCaptureParams{}
	params.Context = ctx

	pi, err := g.intents.Capture(req.Order.AuthorizationTransactionID, params)
	if err != nil {
		return res, fmt.Errorf("stripe: capture payment intent: %w", err)
	}
	if pi.Status != stripe.PaymentIntentStatusSucceeded {
		res.AddError(fmt.Sprintf("Payment intent %s was not captured, status %s", pi.ID, pi.Status))
		return res, nil
	}

	res.NewPaymentStatus = model.PaymentStatusPaid
	res.CaptureTransactionID = pi.ID
	res.CaptureTransactionResult = string(pi.Status)
	return res, nil
}

// Refund возвращает сумму по списанному PaymentIntent.
func (g *StripeGateway) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	var res RefundResult

	intentID := req.Order.CaptureTransactionID
	if intentID == "" {
		intentID = req.Order.AuthorizationTransactionID
	}

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(intentID),
	}
	params.Context = ctx
	if req.IsPartialRefund {
		params.Amount = stripe.Int64(toMinorUnits(req.AmountToRefund))
	}

	refund, err := g.refunds.New(params)
	if err != nil {
		return res, fmt.Errorf("stripe: create refund: %w", err)
	}
	if refund.Status == stripe.RefundStatusFailed || refund.Status == stripe.RefundStatusCanceled {
		res.AddError(fmt.Sprintf("Refund %s ended in status %s", refund.ID, refund.Status))
		return res, nil
	}

	if req.IsPartialRefund {
		res.NewPaymentStatus = model.PaymentStatusPartiallyRefunded
	} else {
		res.NewPaymentStatus = model.PaymentStatusRefunded
	}
	return res, nil
}

// Void отменяет авторизованный PaymentIntent.
func (g *StripeGateway) Void(ctx context.Context, req VoidRequest) (VoidResult, error) {
	var res VoidResult

	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx

	pi, err := g.intents.Cancel(req.Order.AuthorizationTransactionID, params)
	if err != nil {
		return res, fmt.Errorf("stripe: cancel payment intent: %w", err)
	}
	if pi.Status != stripe.PaymentIntentStatusCanceled {
		res.AddError(fmt.Sprintf("Payment intent %s was not cancelled, status %s", pi.ID, pi.Status))
		return res, nil
	}

	res.NewPaymentStatus = model.PaymentStatusVoided
	return res, nil
}

// CancelRecurringPayment отменяет подписку. Циклы списывает движок, у Stripe отменять нечего.
func (g *StripeGateway) CancelRecurringPayment(_ context.Context, _ CancelRecurringRequest) (CancelRecurringResult, error) {
	return CancelRecurringResult{}, nil
}

func toMinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}
