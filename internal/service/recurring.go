package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/mmeshcher/order-lifecycle/internal/model"
	"github.com/mmeshcher/order-lifecycle/internal/payment"
)

// Исходы цикла подписки для метрик.
const (
	RecurringOutcomeSucceeded = "succeeded"
	RecurringOutcomeFailed    = "failed"
	RecurringOutcomeCancelled = "cancelled"
)

// GetNextPaymentDate возвращает дату следующего платежа подписки или nil, если платежей больше не будет.
// Дата считается от даты начала и числа пройденных циклов.
func GetNextPaymentDate(rp *model.RecurringPayment) *time.Time {
	if rp == nil || !rp.IsActive {
		return nil
	}

	count := len(rp.History)
	if count >= rp.TotalCycles {
		return nil
	}

	if count == 0 {
		start := rp.StartDate
		return &start
	}

	n := rp.CycleLength * count
	var next time.Time
	switch rp.CyclePeriod {
	case model.CyclePeriodDays:
		next = rp.StartDate.AddDate(0, 0, n)
	case model.CyclePeriodWeeks:
		next = rp.StartDate.AddDate(0, 0, 7*n)
	case model.CyclePeriodMonths:
		next = addMonths(rp.StartDate, n)
	case model.CyclePeriodYears:
		next = addMonths(rp.StartDate, 12*n)
	default:
		return nil
	}
	return &next
}

// addMonths прибавляет месяцы, прижимая день к концу более короткого месяца.
func addMonths(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(months), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	if last := first.AddDate(0, 1, -1).Day(); d > last {
		d = last
	}
	return first.AddDate(0, 0, d-1)
}

// GetCyclesRemaining возвращает число оставшихся циклов подписки.
func GetCyclesRemaining(rp *model.RecurringPayment) int {
	remaining := rp.TotalCycles - len(rp.History)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ProcessNextRecurringPayment создаёт очередной заказ подписки.
// prior содержит результат, полученный от шлюза вне движка.
// Ошибки не выходят наружу, а возвращаются списком.
func (s *Service) ProcessNextRecurringPayment(ctx context.Context, rp *model.RecurringPayment, prior *payment.ProcessPaymentResult) (errs []string) {
	ctx, span := s.tracer.Start(ctx, "ProcessNextRecurringPayment")
	defer span.End()
	span.SetAttributes(attribute.Int64("recurring_payment_id", rp.ID))

	var customerID int64
	defer func() {
		if rec := recover(); rec != nil {
			errs = append(errs, fmt.Sprint(rec))
		}
		if len(errs) == 0 {
			s.metrics.RecurringCycle(RecurringOutcomeSucceeded)
			return
		}
		s.metrics.RecurringCycle(RecurringOutcomeFailed)
		span.SetStatus(codes.Error, "recurring payment failed")
		var b strings.Builder
		b.WriteString("Error while processing recurring order. ")
		for i, e := range errs {
			fmt.Fprintf(&b, "Error %d: %s. ", i+1, e)
		}
		s.logger.Error(b.String(),
			zap.Int64("recurring_payment_id", rp.ID),
			zap.Int64("customer_id", customerID),
		)
	}()

	if !rp.IsActive {
		return []string{"Recurring payment is not active"}
	}

	initial, err := s.orders.GetOrderByID(ctx, rp.InitialOrderID)
	if err != nil || initial == nil {
		return []string{"Initial order could not be loaded"}
	}
	customerID = initial.CustomerID

	customer, err := s.customers.GetCustomer(ctx, initial.CustomerID)
	if err != nil || customer == nil {
		return []string{"Customer could not be loaded"}
	}

	if GetNextPaymentDate(rp) == nil {
		return []string{"Next payment date could not be calculated"}
	}

	req := &payment.ProcessPaymentRequest{
		StoreID:                 initial.StoreID,
		CustomerID:              customer.ID,
		OrderGUID:               s.newGUID(),
		OrderGUIDGeneratedOn:    s.now().UTC(),
		PaymentMethodSystemName: initial.PaymentMethodSystemName,
		CurrencyCode:            initial.CustomerCurrencyCode,
		CustomerIP:              initial.CustomerIP,
		CustomValues:            initial.CustomValues,
		InitialOrder:            initial,
		IsRecurringPayment:      true,
		RecurringCycleLength:    rp.CycleLength,
		RecurringCyclePeriod:    rp.CyclePeriod,
		RecurringTotalCycles:    rp.TotalCycles,
	}

	details, err := s.PrepareRecurringOrderDetails(ctx, req)
	if err != nil {
		return errorMessages(err)
	}

	res, err := s.recurringPaymentResult(ctx, req, details, prior)
	if err != nil {
		return []string{err.Error()}
	}

	if !res.Success() {
		s.handleFailedRecurringPayment(ctx, rp, initial, res)
		return res.Errors
	}

	if err := s.completeRecurringCycle(ctx, rp, req, res, details); err != nil {
		return []string{err.Error()}
	}
	return nil
}

func (s *Service) recurringPaymentResult(ctx context.Context, req *payment.ProcessPaymentRequest, details PlaceOrderDetails, prior *payment.ProcessPaymentResult) (payment.ProcessPaymentResult, error) {
	if details.OrderTotal.IsZero() {
		if prior != nil {
			return *prior, nil
		}
		return payment.ProcessPaymentResult{NewPaymentStatus: model.PaymentStatusPaid}, nil
	}

	gateway, err := s.payments.Gateway(req.PaymentMethodSystemName)
	if err != nil {
		return payment.ProcessPaymentResult{}, errors.New("Payment method couldn't be loaded")
	}

	switch gateway.Capabilities().Recurring {
	case payment.RecurringNotSupported:
		return payment.ProcessPaymentResult{}, fmt.Errorf("%w: Recurring payments are not supported by selected payment method", ErrRecurringPayment)
	case payment.RecurringManual:
		res, err := gateway.ProcessRecurringPayment(ctx, *req)
		s.metrics.GatewayCall("process_recurring_payment", err == nil && res.Success())
		if err != nil {
			res.AddError(err.Error())
		}
		return res, nil
	case payment.RecurringAutomatic:
		if prior != nil {
			return *prior, nil
		}
		return payment.ProcessPaymentResult{NewPaymentStatus: model.PaymentStatusPending}, nil
	default:
		return payment.ProcessPaymentResult{}, fmt.Errorf("%w: Not supported recurring payment type", ErrRecurringPayment)
	}
}

func (s *Service) completeRecurringCycle(ctx context.Context, rp *model.RecurringPayment, req *payment.ProcessPaymentRequest, res payment.ProcessPaymentResult, details PlaceOrderDetails) error {
	order, err := s.saveOrderDetails(ctx, req, res, details)
	if err != nil {
		return err
	}

	if err := s.cloneInitialOrderItems(ctx, details, order); err != nil {
		return err
	}
	if err := s.saveDiscountUsage(ctx, details, order); err != nil {
		return err
	}
	if _, err := s.sendPlacedNotifications(ctx, order); err != nil {
		return err
	}
	if err := s.CheckOrderStatus(ctx, order); err != nil {
		return err
	}

	s.publish(ctx, model.EventOrderPlaced, order, order.OrderTotal)

	if order.PaymentStatus == model.PaymentStatusPaid {
		if err := s.ProcessOrderPaid(ctx, order); err != nil {
			return err
		}
	}

	now := s.now().UTC()
	h := model.RecurringPaymentHistory{
		RecurringPaymentID: rp.ID,
		OrderID:            order.ID,
		CreatedOn:          now,
	}
	if err := s.orders.InsertRecurringPaymentHistory(ctx, &h); err != nil {
		return fmt.Errorf("save recurring payment history: %w", err)
	}
	rp.History = append(rp.History, h)
	rp.LastPaymentFailed = false
	if len(rp.History) >= rp.TotalCycles {
		rp.IsActive = false
	}
	if err := s.orders.UpdateRecurringPayment(ctx, rp); err != nil {
		return fmt.Errorf("update recurring payment: %w", err)
	}
	return nil
}

// cloneInitialOrderItems копирует позиции первого заказа подписки в новый заказ по тем же ценам.
func (s *Service) cloneInitialOrderItems(ctx context.Context, details PlaceOrderDetails, order *model.Order) error {
	initialCards, err := s.giftCards.GetAllGiftCards(ctx, details.InitialOrder.ID, nil)
	if err != nil {
		return fmt.Errorf("load gift cards: %w", err)
	}

	for _, src := range details.InitialOrderItems {
		item := src
		item.ID = 0
		item.OrderItemGUID = s.newGUID()
		item.OrderID = order.ID
		if err := s.orders.InsertOrderItem(ctx, &item); err != nil {
			return fmt.Errorf("save order item: %w", err)
		}

		for _, card := range initialCards {
			if card.PurchasedWithOrderItemID == nil || *card.PurchasedWithOrderItemID != src.ID {
				continue
			}
			gc := card
			gc.ID = 0
			gc.PurchasedWithOrderItemID = &item.ID
			gc.IsGiftCardActivated = false
			gc.IsRecipientNotified = false
			gc.CouponCode = s.generateGiftCardCode()
			gc.CreatedOn = s.now().UTC()
			if err := s.giftCards.InsertGiftCard(ctx, &gc); err != nil {
				return fmt.Errorf("save gift card: %w", err)
			}
		}

		msg := fmt.Sprintf("The stock quantity has been reduced by placing the order #%d", order.ID)
		if err := s.inventory.AdjustInventory(ctx, item.ProductID, -item.Quantity, item.AttributesJSON, msg); err != nil {
			return fmt.Errorf("adjust inventory: %w", err)
		}
	}
	return nil
}

// handleFailedRecurringPayment помечает неудачный цикл и либо отменяет подписку, либо уведомляет покупателя.
func (s *Service) handleFailedRecurringPayment(ctx context.Context, rp *model.RecurringPayment, initial *model.Order, res payment.ProcessPaymentResult) {
	if !res.RecurringPaymentFailed {
		return
	}

	rp.LastPaymentFailed = true
	if err := s.orders.UpdateRecurringPayment(ctx, rp); err != nil {
		s.logger.Error("update recurring payment", zap.Int64("recurring_payment_id", rp.ID), zap.Error(err))
	}

	if s.settings.Payment.CancelRecurringPaymentsAfterFailedPayment {
		if errs := s.CancelRecurringPayment(ctx, rp); len(errs) > 0 {
			for _, e := range errs {
				s.logger.Error(e, zap.Int64("recurring_payment_id", rp.ID))
			}
			return
		}
		s.metrics.RecurringCycle(RecurringOutcomeCancelled)
		s.notify(ctx, initial, `"Recurring payment cancelled" email (to customer)`, func(ctx context.Context) ([]string, error) {
			return s.notifier.SendRecurringPaymentCancelledCustomer(ctx, rp, initial)
		})
		return
	}

	s.notify(ctx, initial, `"Recurring payment failed" email (to customer)`, func(ctx context.Context) ([]string, error) {
		return s.notifier.SendRecurringPaymentFailedCustomer(ctx, rp, initial)
	})
}

// CancelRecurringPayment отменяет подписку в шлюзе и деактивирует её.
// Сбой отмены записывается в журнал первого заказа и возвращается списком.
func (s *Service) CancelRecurringPayment(ctx context.Context, rp *model.RecurringPayment) []string {
	initial, err := s.orders.GetOrderByID(ctx, rp.InitialOrderID)
	if err != nil || initial == nil {
		return []string{"Initial order could not be loaded"}
	}

	var res payment.CancelRecurringResult
	gateway, err := s.payments.Gateway(initial.PaymentMethodSystemName)
	if err != nil {
		res.AddError("Payment method couldn't be loaded")
	} else {
		res, err = gateway.CancelRecurringPayment(ctx, payment.CancelRecurringRequest{Order: initial})
		s.metrics.GatewayCall("cancel_recurring_payment", err == nil && res.Success())
		if err != nil {
			res.AddError(err.Error())
		}
	}

	if res.Success() {
		rp.IsActive = false
		if err := s.orders.UpdateRecurringPayment(ctx, rp); err != nil {
			return []string{err.Error()}
		}
		if err := s.addOrderNote(ctx, initial, "Recurring payment has been cancelled"); err != nil {
			return []string{err.Error()}
		}
		s.notify(ctx, initial, `"Recurring payment cancelled" email (to store owner)`, func(ctx context.Context) ([]string, error) {
			return s.notifier.SendRecurringPaymentCancelledStoreOwner(ctx, rp, initial)
		})
		return nil
	}

	joined := joinGatewayErrors(res.Errors)
	if err := s.addOrderNote(ctx, initial, fmt.Sprintf("Unable to cancel recurring payment. %s", joined)); err != nil {
		s.logger.Error("add order note", zap.Int64("order_id", initial.ID), zap.Error(err))
	}
	s.logger.Error(fmt.Sprintf("Error cancelling recurring payment. Order #%d. Error: %s", initial.ID, joined),
		zap.Int64("recurring_payment_id", rp.ID),
	)
	return res.Errors
}

// CanCancelRecurringPayment сообщает, может ли покупатель отменить подписку.
func (s *Service) CanCancelRecurringPayment(ctx context.Context, actor *model.Customer, rp *model.RecurringPayment) bool {
	if rp == nil || actor == nil {
		return false
	}

	initial, owner, ok := s.recurringOwner(ctx, rp)
	if !ok {
		return false
	}
	if initial.OrderStatus == model.OrderStatusCancelled {
		return false
	}
	if !actor.IsAdmin && actor.ID != owner.ID {
		return false
	}
	return GetNextPaymentDate(rp) != nil
}

// CanRetryLastRecurringPayment сообщает, можно ли повторить неудачный платёж подписки.
func (s *Service) CanRetryLastRecurringPayment(ctx context.Context, actor *model.Customer, rp *model.RecurringPayment) bool {
	if rp == nil || actor == nil {
		return false
	}

	initial, owner, ok := s.recurringOwner(ctx, rp)
	if !ok {
		return false
	}
	if initial.OrderStatus == model.OrderStatusCancelled {
		return false
	}
	if !rp.LastPaymentFailed {
		return false
	}
	if s.payments.Capabilities(initial.PaymentMethodSystemName).Recurring != payment.RecurringManual {
		return false
	}
	return actor.IsAdmin || actor.ID == owner.ID
}

func (s *Service) recurringOwner(ctx context.Context, rp *model.RecurringPayment) (*model.Order, *model.Customer, bool) {
	initial, err := s.orders.GetOrderByID(ctx, rp.InitialOrderID)
	if err != nil || initial == nil {
		return nil, nil, false
	}
	owner, err := s.customers.GetCustomer(ctx, initial.CustomerID)
	if err != nil || owner == nil {
		return nil, nil, false
	}
	return initial, owner, true
}
