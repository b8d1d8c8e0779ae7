package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/mmeshcher/order-lifecycle/internal/config"
	"github.com/mmeshcher/order-lifecycle/internal/model"
	"github.com/mmeshcher/order-lifecycle/internal/payment"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func withHistory(rp model.RecurringPayment, n int) *model.RecurringPayment {
	rp.History = make([]model.RecurringPaymentHistory, n)
	return &rp
}

func TestGetNextPaymentDate(t *testing.T) {
	monthly := model.RecurringPayment{
		CycleLength: 1,
		CyclePeriod: model.CyclePeriodMonths,
		TotalCycles: 12,
		StartDate:   date(2024, 1, 1),
		IsActive:    true,
	}

	tests := []struct {
		name string
		rp   *model.RecurringPayment
		want *time.Time
	}{
		{name: "no history", rp: withHistory(monthly, 0), want: ptr(date(2024, 1, 1))},
		{name: "three cycles", rp: withHistory(monthly, 3), want: ptr(date(2024, 4, 1))},
		{name: "all cycles done", rp: withHistory(monthly, 12), want: nil},
		{
			name: "inactive",
			rp: func() *model.RecurringPayment {
				rp := withHistory(monthly, 1)
				rp.IsActive = false
				return rp
			}(),
			want: nil,
		},
		{
			name: "month end is clamped",
			rp: withHistory(model.RecurringPayment{
				CycleLength: 1, CyclePeriod: model.CyclePeriodMonths, TotalCycles: 5, StartDate: date(2024, 1, 31), IsActive: true,
			}, 1),
			want: ptr(date(2024, 2, 29)),
		},
		{
			name: "clamping does not drift",
			rp: withHistory(model.RecurringPayment{
				CycleLength: 1, CyclePeriod: model.CyclePeriodMonths, TotalCycles: 5, StartDate: date(2024, 1, 31), IsActive: true,
			}, 2),
			want: ptr(date(2024, 3, 31)),
		},
		{
			name: "leap day yearly",
			rp: withHistory(model.RecurringPayment{
				CycleLength: 1, CyclePeriod: model.CyclePeriodYears, TotalCycles: 3, StartDate: date(2024, 2, 29), IsActive: true,
			}, 1),
			want: ptr(date(2025, 2, 28)),
		},
		{
			name: "days",
			rp: withHistory(model.RecurringPayment{
				CycleLength: 10, CyclePeriod: model.CyclePeriodDays, TotalCycles: 5, StartDate: date(2024, 1, 1), IsActive: true,
			}, 2),
			want: ptr(date(2024, 1, 21)),
		},
		{
			name: "weeks",
			rp: withHistory(model.RecurringPayment{
				CycleLength: 2, CyclePeriod: model.CyclePeriodWeeks, TotalCycles: 5, StartDate: date(2024, 1, 1), IsActive: true,
			}, 1),
			want: ptr(date(2024, 1, 15)),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GetNextPaymentDate(tt.rp)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.True(t, tt.want.Equal(*got), "got %s, want %s", got, tt.want)
		})
	}
}

func ptr[T any](v T) *T {
	return &v
}

func TestGetCyclesRemaining(t *testing.T) {
	rp := model.RecurringPayment{TotalCycles: 4}
	assert.Equal(t, 4, GetCyclesRemaining(&rp))
	assert.Equal(t, 1, GetCyclesRemaining(withHistory(rp, 3)))
	assert.Equal(t, 0, GetCyclesRemaining(withHistory(rp, 6)))
}

// placeRecurringOrder оформляет первый заказ подписки через движок.
func placeRecurringOrder(t *testing.T, env *testEnv, recurring payment.RecurringType, totalCycles int) (*model.Order, *model.RecurringPayment) {
	t.Helper()
	ctx := context.Background()

	gw := env.gateway()
	gw.caps.Recurring = recurring
	gw.recurringResult = payment.ProcessPaymentResult{NewPaymentStatus: model.PaymentStatusPaid, SubscriptionTransactionID: "sub_1"}

	item := recurringCartItem()
	item.Product.RecurringTotalCycles = totalCycles
	env.fillCart(item)

	res := env.svc.PlaceOrder(ctx, env.placeRequest())
	require.True(t, res.Success(), "errors: %v", res.Errors)

	payments, err := env.store.SearchRecurringPayments(ctx, res.PlacedOrder.ID)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	rp, err := env.svc.GetRecurringPayment(ctx, payments[0].ID)
	require.NoError(t, err)

	gw.calls = nil
	env.inventory.adjusted = nil
	env.metrics.cycles = nil
	return res.PlacedOrder, rp
}

func TestProcessNextRecurringPaymentCreatesCycleOrder(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, config.DefaultSettings())
	initial, rp := placeRecurringOrder(t, env, payment.RecurringManual, 12)
	env.now = env.now.AddDate(0, 1, 0)

	errs := env.svc.ProcessNextRecurringPayment(ctx, rp, nil)
	require.Empty(t, errs)

	assert.Equal(t, []string{"process_recurring"}, env.gateway().calls)
	assert.Equal(t, []string{RecurringOutcomeSucceeded}, env.metrics.cycles)

	stored, err := env.svc.GetRecurringPayment(ctx, rp.ID)
	require.NoError(t, err)
	require.Len(t, stored.History, 2)
	assert.True(t, stored.IsActive)
	assert.False(t, stored.LastPaymentFailed)

	next, err := env.svc.GetOrder(ctx, stored.History[1].OrderID)
	require.NoError(t, err)
	assert.NotEqual(t, initial.ID, next.ID)
	assert.NotEqual(t, initial.OrderGUID, next.OrderGUID)
	assert.True(t, initial.OrderTotal.Equal(next.OrderTotal))
	assert.Equal(t, model.PaymentStatusPaid, next.PaymentStatus)
	assert.Equal(t, model.OrderStatusComplete, next.OrderStatus)
	assert.Equal(t, initial.PaymentMethodSystemName, next.PaymentMethodSystemName)

	initialItems, err := env.svc.GetOrderItems(ctx, initial.ID)
	require.NoError(t, err)
	nextItems, err := env.svc.GetOrderItems(ctx, next.ID)
	require.NoError(t, err)
	require.Len(t, nextItems, len(initialItems))
	assert.Equal(t, initialItems[0].ProductID, nextItems[0].ProductID)
	assert.NotEqual(t, initialItems[0].OrderItemGUID, nextItems[0].OrderItemGUID)

	require.Len(t, env.inventory.adjusted, 1)
	assert.Equal(t, -1, env.inventory.adjusted[0].delta)
}

func TestProcessNextRecurringPaymentDeactivatesAfterLastCycle(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, config.DefaultSettings())
	_, rp := placeRecurringOrder(t, env, payment.RecurringManual, 2)

	require.Empty(t, env.svc.ProcessNextRecurringPayment(ctx, rp, nil))
	assert.False(t, rp.IsActive)
	assert.Nil(t, GetNextPaymentDate(rp))

	stored, err := env.svc.GetRecurringPayment(ctx, rp.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)

	assert.Equal(t, []string{"Recurring payment is not active"}, env.svc.ProcessNextRecurringPayment(ctx, stored, nil))
}

func TestProcessNextRecurringPaymentAutomaticUsesReportedResult(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, config.DefaultSettings())
	_, rp := placeRecurringOrder(t, env, payment.RecurringAutomatic, 12)
	require.Empty(t, rp.History)

	prior := &payment.ProcessPaymentResult{NewPaymentStatus: model.PaymentStatusPaid, CaptureTransactionID: "in_1"}
	require.Empty(t, env.svc.ProcessNextRecurringPayment(ctx, rp, prior))

	assert.Empty(t, env.gateway().calls)
	require.Len(t, rp.History, 1)
	next, err := env.svc.GetOrder(ctx, rp.History[0].OrderID)
	require.NoError(t, err)
	assert.Equal(t, "in_1", next.CaptureTransactionID)
	assert.Equal(t, model.PaymentStatusPaid, next.PaymentStatus)
}

func TestProcessNextRecurringPaymentFailure(t *testing.T) {
	ctx := context.Background()
	declined := payment.ProcessPaymentResult{
		Outcome:                payment.Outcome{Errors: []string{"card expired"}},
		RecurringPaymentFailed: true,
	}

	t.Run("customer is notified", func(t *testing.T) {
		env := newTestEnv(t, config.DefaultSettings())
		_, rp := placeRecurringOrder(t, env, payment.RecurringManual, 12)
		env.gateway().recurringResult = declined
		ordersBefore := len(env.store.orders)

		errs := env.svc.ProcessNextRecurringPayment(ctx, rp, nil)

		assert.Equal(t, []string{"card expired"}, errs)
		assert.Len(t, env.store.orders, ordersBefore)
		stored, err := env.svc.GetRecurringPayment(ctx, rp.ID)
		require.NoError(t, err)
		assert.True(t, stored.IsActive)
		assert.True(t, stored.LastPaymentFailed)
		assert.Equal(t, 1, env.notifier.count("recurring_failed_customer"))
		assert.Equal(t, []string{RecurringOutcomeFailed}, env.metrics.cycles)
	})

	t.Run("subscription is cancelled", func(t *testing.T) {
		settings := config.DefaultSettings()
		settings.Payment.CancelRecurringPaymentsAfterFailedPayment = true
		env := newTestEnv(t, settings)
		_, rp := placeRecurringOrder(t, env, payment.RecurringManual, 12)
		env.gateway().recurringResult = declined

		errs := env.svc.ProcessNextRecurringPayment(ctx, rp, nil)

		assert.Equal(t, []string{"card expired"}, errs)
		stored, err := env.svc.GetRecurringPayment(ctx, rp.ID)
		require.NoError(t, err)
		assert.False(t, stored.IsActive)
		assert.Equal(t, []string{"process_recurring", "cancel_recurring"}, env.gateway().calls)
		assert.Equal(t, 1, env.notifier.count("recurring_cancelled_customer"))
		assert.Zero(t, env.notifier.count("recurring_failed_customer"))
		assert.Equal(t, []string{RecurringOutcomeCancelled, RecurringOutcomeFailed}, env.metrics.cycles)
	})

	t.Run("plain gateway error keeps flags", func(t *testing.T) {
		env := newTestEnv(t, config.DefaultSettings())
		_, rp := placeRecurringOrder(t, env, payment.RecurringManual, 12)
		env.gateway().recurringResult = payment.ProcessPaymentResult{Outcome: payment.Outcome{Errors: []string{"timeout"}}}

		errs := env.svc.ProcessNextRecurringPayment(ctx, rp, nil)

		assert.Equal(t, []string{"timeout"}, errs)
		assert.False(t, rp.LastPaymentFailed)
		assert.Zero(t, env.notifier.count("recurring_failed_customer"))
	})
}

func TestProcessNextRecurringPaymentFailedCancellationKeepsSubscription(t *testing.T) {
	ctx := context.Background()
	settings := config.DefaultSettings()
	settings.Payment.CancelRecurringPaymentsAfterFailedPayment = true
	env := newTestEnv(t, settings)
	_, rp := placeRecurringOrder(t, env, payment.RecurringManual, 12)
	env.gateway().recurringResult = payment.ProcessPaymentResult{
		Outcome:                payment.Outcome{Errors: []string{"card expired"}},
		RecurringPaymentFailed: true,
	}
	env.gateway().cancelResult = payment.CancelRecurringResult{Outcome: payment.Outcome{Errors: []string{"subscription locked"}}}

	errs := env.svc.ProcessNextRecurringPayment(ctx, rp, nil)

	assert.Equal(t, []string{"card expired"}, errs)
	stored, err := env.svc.GetRecurringPayment(ctx, rp.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsActive)
	assert.True(t, stored.LastPaymentFailed)
	assert.Zero(t, env.notifier.count("recurring_cancelled_customer"))
	assert.Zero(t, env.notifier.count("recurring_cancelled_store_owner"))
	assert.Equal(t, []string{RecurringOutcomeFailed}, env.metrics.cycles)
}

func TestProcessNextRecurringPaymentGatewayPanic(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, config.DefaultSettings())
	_, rp := placeRecurringOrder(t, env, payment.RecurringManual, 12)
	env.gateway().recurringPanic = "gateway connection reset"
	ordersBefore := len(env.store.orders)

	var errs []string
	require.NotPanics(t, func() {
		errs = env.svc.ProcessNextRecurringPayment(ctx, rp, nil)
	})

	assert.Equal(t, []string{"gateway connection reset"}, errs)
	assert.Len(t, env.store.orders, ordersBefore)
	stored, err := env.svc.GetRecurringPayment(ctx, rp.ID)
	require.NoError(t, err)
	assert.Len(t, stored.History, 1)
	assert.True(t, stored.IsActive)
	assert.False(t, stored.LastPaymentFailed)
	assert.Empty(t, env.inventory.adjusted)
	assert.Equal(t, []string{RecurringOutcomeFailed}, env.metrics.cycles)
}

func TestProcessNextRecurringPaymentFailureIsLoggedWithCustomer(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, config.DefaultSettings())
	_, rp := placeRecurringOrder(t, env, payment.RecurringManual, 12)
	env.gateway().recurringResult = payment.ProcessPaymentResult{Outcome: payment.Outcome{Errors: []string{"timeout"}}}

	core, logs := observer.New(zap.ErrorLevel)
	env.svc.logger = zap.New(core)

	env.svc.ProcessNextRecurringPayment(ctx, rp, nil)

	entries := logs.FilterMessage("Error while processing recurring order. Error 1: timeout. ").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, rp.ID, fields["recurring_payment_id"])
	assert.Equal(t, testCustomerID, fields["customer_id"])
}

func TestProcessNextRecurringPaymentPreconditions(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, config.DefaultSettings())

	missing := &model.RecurringPayment{ID: 77, IsActive: true, TotalCycles: 3, CycleLength: 1, CyclePeriod: model.CyclePeriodDays, InitialOrderID: 999}
	assert.Equal(t, []string{"Initial order could not be loaded"}, env.svc.ProcessNextRecurringPayment(ctx, missing, nil))

	order := env.seedOrder(model.Order{OrderTotal: money("10")})
	exhausted := withHistory(model.RecurringPayment{IsActive: true, TotalCycles: 1, CycleLength: 1, CyclePeriod: model.CyclePeriodDays, InitialOrderID: order.ID}, 1)
	assert.Equal(t, []string{"Next payment date could not be calculated"}, env.svc.ProcessNextRecurringPayment(ctx, exhausted, nil))
}

func TestCancelRecurringPaymentGatewayFailure(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, config.DefaultSettings())
	initial, rp := placeRecurringOrder(t, env, payment.RecurringManual, 12)
	env.gateway().cancelResult = payment.CancelRecurringResult{Outcome: payment.Outcome{Errors: []string{"subscription not found"}}}

	errs := env.svc.CancelRecurringPayment(ctx, rp)

	assert.Equal(t, []string{"subscription not found"}, errs)
	assert.True(t, rp.IsActive)
	assert.Contains(t, env.store.noteTexts(initial.ID), "Unable to cancel recurring payment. Error 0: subscription not found")
}

func TestRecurringPaymentEligibility(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, config.DefaultSettings())
	initial, rp := placeRecurringOrder(t, env, payment.RecurringManual, 12)

	owner := &model.Customer{ID: testCustomerID}
	stranger := &model.Customer{ID: 7}
	admin := &model.Customer{ID: 8, IsAdmin: true}

	assert.True(t, env.svc.CanCancelRecurringPayment(ctx, owner, rp))
	assert.True(t, env.svc.CanCancelRecurringPayment(ctx, admin, rp))
	assert.False(t, env.svc.CanCancelRecurringPayment(ctx, stranger, rp))
	assert.False(t, env.svc.CanCancelRecurringPayment(ctx, owner, withHistory(*rp, 12)))

	assert.False(t, env.svc.CanRetryLastRecurringPayment(ctx, owner, rp))
	rp.LastPaymentFailed = true
	assert.True(t, env.svc.CanRetryLastRecurringPayment(ctx, owner, rp))
	assert.True(t, env.svc.CanRetryLastRecurringPayment(ctx, admin, rp))
	assert.False(t, env.svc.CanRetryLastRecurringPayment(ctx, stranger, rp))

	env.gateway().caps.Recurring = payment.RecurringAutomatic
	assert.False(t, env.svc.CanRetryLastRecurringPayment(ctx, owner, rp))
	env.gateway().caps.Recurring = payment.RecurringManual

	require.NoError(t, env.svc.CancelOrder(ctx, initial, false))
	assert.False(t, env.svc.CanCancelRecurringPayment(ctx, owner, rp))
	assert.False(t, env.svc.CanRetryLastRecurringPayment(ctx, owner, rp))
}
