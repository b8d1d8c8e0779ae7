package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/mmeshcher/order-lifecycle/internal/model"
	"github.com/mmeshcher/order-lifecycle/internal/payment"
)

// CanMarkOrderAsAuthorized сообщает, можно ли вручную отметить заказ авторизованным.
func (s *Service) CanMarkOrderAsAuthorized(order *model.Order) bool {
	if order == nil || order.OrderStatus == model.OrderStatusCancelled {
		return false
	}
	return order.PaymentStatus == model.PaymentStatusPending
}

// MarkAsAuthorized отмечает оплату заказа авторизованной без обращения к шлюзу.
func (s *Service) MarkAsAuthorized(ctx context.Context, order *model.Order) error {
	if !s.CanMarkOrderAsAuthorized(order) {
		return notEligible("Cannot do mark as authorized for order.")
	}

	order.PaymentStatus = model.PaymentStatusAuthorized
	if err := s.orders.UpdateOrder(ctx, order); err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if err := s.addOrderNote(ctx, order, "Order has been marked as authorized"); err != nil {
		return fmt.Errorf("add order note: %w", err)
	}

	s.publish(ctx, model.EventOrderAuthorized, order, order.OrderTotal)
	return s.CheckOrderStatus(ctx, order)
}

// CanCapture сообщает, можно ли списать авторизованную сумму через шлюз.
func (s *Service) CanCapture(order *model.Order) bool {
	if order == nil {
		return false
	}
	if order.OrderStatus == model.OrderStatusCancelled || order.OrderStatus == model.OrderStatusPending {
		return false
	}
	return order.PaymentStatus == model.PaymentStatusAuthorized &&
		s.payments.Capabilities(order.PaymentMethodSystemName).SupportCapture
}

// Capture списывает авторизованную сумму. Ошибки шлюза возвращаются списком.
func (s *Service) Capture(ctx context.Context, order *model.Order) ([]string, error) {
	if !s.CanCapture(order) {
		return nil, notEligible("Cannot do capture for order.")
	}

	ctx, span := s.tracer.Start(ctx, "Capture")
	defer span.End()
	span.SetAttributes(attribute.Int64("order_id", order.ID))

	gateway, err := s.payments.Gateway(order.PaymentMethodSystemName)
	if err != nil {
		return nil, err
	}

	res, err := gateway.Capture(ctx, payment.CaptureRequest{Order: order})
	if err != nil {
		res.AddError(err.Error())
	}
	s.metrics.GatewayCall("capture", res.Success())

	if !res.Success() {
		return res.Errors, s.recordOperationFailure(ctx, order, "capturing", "Unable to capture order.", res.Errors)
	}

	order.CaptureTransactionID = res.CaptureTransactionID
	order.CaptureTransactionResult = res.CaptureTransactionResult
	order.PaymentStatus = res.NewPaymentStatus
	if order.PaymentStatus == model.PaymentStatusPaid {
		now := s.now().UTC()
		order.PaidDate = &now
	}
	if err := s.orders.UpdateOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("update order: %w", err)
	}
	if err := s.addOrderNote(ctx, order, "Order has been captured"); err != nil {
		return nil, fmt.Errorf("add order note: %w", err)
	}

	if err := s.CheckOrderStatus(ctx, order); err != nil {
		return nil, err
	}
	if order.PaymentStatus == model.PaymentStatusPaid {
		if err := s.ProcessOrderPaid(ctx, order); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

// CanMarkOrderAsPaid сообщает, можно ли вручную отметить заказ оплаченным.
func (s *Service) CanMarkOrderAsPaid(order *model.Order) bool {
	if order == nil || order.OrderStatus == model.OrderStatusCancelled {
		return false
	}
	switch order.PaymentStatus {
	case model.PaymentStatusPaid, model.PaymentStatusRefunded, model.PaymentStatusVoided:
		return false
	default:
		return true
	}
}

// MarkOrderAsPaid отмечает заказ оплаченным без обращения к шлюзу.
func (s *Service) MarkOrderAsPaid(ctx context.Context, order *model.Order) error {
	if !s.CanMarkOrderAsPaid(order) {
		return notEligible("You can't mark this order as paid")
	}

	now := s.now().UTC()
	order.PaymentStatus = model.PaymentStatusPaid
	order.PaidDate = &now
	if err := s.orders.UpdateOrder(ctx, order); err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if err := s.addOrderNote(ctx, order, "Order has been marked as paid"); err != nil {
		return fmt.Errorf("add order note: %w", err)
	}

	if err := s.CheckOrderStatus(ctx, order); err != nil {
		return err
	}
	if order.PaymentStatus == model.PaymentStatusPaid {
		return s.ProcessOrderPaid(ctx, order)
	}
	return nil
}

// CanRefund сообщает, можно ли вернуть заказ полностью через шлюз.
func (s *Service) CanRefund(order *model.Order) bool {
	return s.CanRefundOffline(order) &&
		s.payments.Capabilities(order.PaymentMethodSystemName).SupportRefund
}

// CanRefundOffline сообщает, можно ли отметить заказ полностью возвращённым.
func (s *Service) CanRefundOffline(order *model.Order) bool {
	if order == nil || order.OrderTotal.IsZero() {
		return false
	}
	// Повторный полный возврат после частичного запрещён.
	if order.RefundedAmount.IsPositive() {
		return false
	}
	return order.PaymentStatus == model.PaymentStatusPaid
}

// Refund возвращает всю сумму заказа через шлюз.
func (s *Service) Refund(ctx context.Context, order *model.Order) ([]string, error) {
	if !s.CanRefund(order) {
		return nil, notEligible("Cannot do refund for order.")
	}

	ctx, span := s.tracer.Start(ctx, "Refund")
	defer span.End()
	span.SetAttributes(attribute.Int64("order_id", order.ID))

	gateway, err := s.payments.Gateway(order.PaymentMethodSystemName)
	if err != nil {
		return nil, err
	}

	amount := order.OrderTotal
	res, err := gateway.Refund(ctx, payment.RefundRequest{Order: order, AmountToRefund: amount})
	if err != nil {
		res.AddError(err.Error())
	}
	s.metrics.GatewayCall("refund", res.Success())

	if !res.Success() {
		return res.Errors, s.recordOperationFailure(ctx, order, "refunding", "Unable to refund order.", res.Errors)
	}

	order.RefundedAmount = order.RefundedAmount.Add(amount)
	order.PaymentStatus = res.NewPaymentStatus
	note := fmt.Sprintf("Order has been refunded. Amount = %s", amount.StringFixed(2))
	return nil, s.completeRefund(ctx, order, amount, note)
}

// RefundOffline отмечает заказ полностью возвращённым без обращения к шлюзу.
func (s *Service) RefundOffline(ctx context.Context, order *model.Order) error {
	if !s.CanRefundOffline(order) {
		return notEligible("You can't refund this order")
	}

	amount := order.OrderTotal
	order.RefundedAmount = order.RefundedAmount.Add(amount)
	order.PaymentStatus = model.PaymentStatusRefunded
	note := fmt.Sprintf("Order has been marked as refunded. Amount = %s", amount.StringFixed(2))
	return s.completeRefund(ctx, order, amount, note)
}

// CanPartiallyRefund сообщает, можно ли вернуть часть суммы через шлюз.
func (s *Service) CanPartiallyRefund(order *model.Order, amount decimal.Decimal) bool {
	return s.CanPartiallyRefundOffline(order, amount) &&
		s.payments.Capabilities(order.PaymentMethodSystemName).SupportPartiallyRefund
}

// CanPartiallyRefundOffline сообщает, можно ли отметить частичный возврат.
func (s *Service) CanPartiallyRefundOffline(order *model.Order, amount decimal.Decimal) bool {
	if order == nil || order.OrderTotal.IsZero() || !amount.IsPositive() {
		return false
	}
	refundable := order.RefundableAmount()
	if !refundable.IsPositive() || amount.GreaterThan(refundable) {
		return false
	}
	return order.PaymentStatus == model.PaymentStatusPaid ||
		order.PaymentStatus == model.PaymentStatusPartiallyRefunded
}

// PartiallyRefund возвращает часть суммы заказа через шлюз.
func (s *Service) PartiallyRefund(ctx context.Context, order *model.Order, amount decimal.Decimal) ([]string, error) {
	if !s.CanPartiallyRefund(order, amount) {
		return nil, notEligible("Cannot do partial refund for order.")
	}

	ctx, span := s.tracer.Start(ctx, "PartiallyRefund")
	defer span.End()
	span.SetAttributes(attribute.Int64("order_id", order.ID), attribute.String("amount", amount.String()))

	gateway, err := s.payments.Gateway(order.PaymentMethodSystemName)
	if err != nil {
		return nil, err
	}

	res, err := gateway.Refund(ctx, payment.RefundRequest{Order: order, AmountToRefund: amount, IsPartialRefund: true})
	if err != nil {
		res.AddError(err.Error())
	}
	s.metrics.GatewayCall("partial_refund", res.Success())

	if !res.Success() {
		return res.Errors, s.recordOperationFailure(ctx, order, "partially refunding", "Unable to partially refund order.", res.Errors)
	}

	refunded := order.RefundedAmount.Add(amount)
	status := res.NewPaymentStatus
	if refunded.Equal(order.OrderTotal) {
		status = model.PaymentStatusRefunded
	}
	order.RefundedAmount = refunded
	order.PaymentStatus = status
	note := fmt.Sprintf("Order has been partially refunded. Amount = %s", amount.StringFixed(2))
	return nil, s.completeRefund(ctx, order, amount, note)
}

// PartiallyRefundOffline отмечает частичный возврат без обращения к шлюзу.
func (s *Service) PartiallyRefundOffline(ctx context.Context, order *model.Order, amount decimal.Decimal) error {
	if !s.CanPartiallyRefundOffline(order, amount) {
		return notEligible("You can't partially refund (offline) this order")
	}

	refunded := order.RefundedAmount.Add(amount)
	order.RefundedAmount = refunded
	if refunded.Equal(order.OrderTotal) {
		order.PaymentStatus = model.PaymentStatusRefunded
	} else {
		order.PaymentStatus = model.PaymentStatusPartiallyRefunded
	}
	note := fmt.Sprintf("Order has been marked as partially refunded. Amount = %s", amount.StringFixed(2))
	return s.completeRefund(ctx, order, amount, note)
}

func (s *Service) completeRefund(ctx context.Context, order *model.Order, amount decimal.Decimal, note string) error {
	if err := s.orders.UpdateOrder(ctx, order); err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if err := s.addOrderNote(ctx, order, note); err != nil {
		return fmt.Errorf("add order note: %w", err)
	}

	if err := s.CheckOrderStatus(ctx, order); err != nil {
		return err
	}

	s.notify(ctx, order, `"Order refunded" email (to store owner)`, func(ctx context.Context) ([]string, error) {
		return s.notifier.SendOrderRefundedStoreOwner(ctx, order, amount)
	})
	s.notify(ctx, order, `"Order refunded" email (to customer)`, func(ctx context.Context) ([]string, error) {
		return s.notifier.SendOrderRefundedCustomer(ctx, order, amount)
	})

	s.publish(ctx, model.EventOrderRefunded, order, amount)
	return nil
}

// CanVoid сообщает, можно ли отменить авторизацию через шлюз.
func (s *Service) CanVoid(order *model.Order) bool {
	return s.CanVoidOffline(order) &&
		s.payments.Capabilities(order.PaymentMethodSystemName).SupportVoid
}

// CanVoidOffline сообщает, можно ли отметить авторизацию отменённой.
func (s *Service) CanVoidOffline(order *model.Order) bool {
	if order == nil || order.OrderTotal.IsZero() {
		return false
	}
	return order.PaymentStatus == model.PaymentStatusAuthorized
}

// Void отменяет авторизацию платежа через шлюз.
func (s *Service) Void(ctx context.Context, order *model.Order) ([]string, error) {
	if !s.CanVoid(order) {
		return nil, notEligible("Cannot do void for order.")
	}

	ctx, span := s.tracer.Start(ctx, "Void")
	defer span.End()
	span.SetAttributes(attribute.Int64("order_id", order.ID))

	gateway, err := s.payments.Gateway(order.PaymentMethodSystemName)
	if err != nil {
		return nil, err
	}

	res, err := gateway.Void(ctx, payment.VoidRequest{Order: order})
	if err != nil {
		res.AddError(err.Error())
	}
	s.metrics.GatewayCall("void", res.Success())

	if !res.Success() {
		return res.Errors, s.recordOperationFailure(ctx, order, "voiding", "Unable to voiding order.", res.Errors)
	}

	order.PaymentStatus = res.NewPaymentStatus
	return nil, s.completeVoid(ctx, order, "Order has been voided")
}

// VoidOffline отмечает авторизацию отменённой без обращения к шлюзу.
func (s *Service) VoidOffline(ctx context.Context, order *model.Order) error {
	if !s.CanVoidOffline(order) {
		return notEligible("You can't void this order")
	}

	order.PaymentStatus = model.PaymentStatusVoided
	return s.completeVoid(ctx, order, "Order has been marked as voided")
}

func (s *Service) completeVoid(ctx context.Context, order *model.Order, note string) error {
	if err := s.orders.UpdateOrder(ctx, order); err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if err := s.addOrderNote(ctx, order, note); err != nil {
		return fmt.Errorf("add order note: %w", err)
	}
	if err := s.CheckOrderStatus(ctx, order); err != nil {
		return err
	}

	s.publish(ctx, model.EventOrderVoided, order, order.OrderTotal)
	return nil
}

// recordOperationFailure пишет ошибки шлюза в журнал заказа и в лог.
func (s *Service) recordOperationFailure(ctx context.Context, order *model.Order, operation, notePrefix string, errs []string) error {
	joined := joinGatewayErrors(errs)
	s.logger.Error(fmt.Sprintf("Error %s order #%d. Error: %s", operation, order.ID, joined),
		zap.Int64("order_id", order.ID),
		zap.Int64("customer_id", order.CustomerID),
	)
	if err := s.addOrderNote(ctx, order, fmt.Sprintf("%s %s", notePrefix, joined)); err != nil {
		return fmt.Errorf("add order note: %w", err)
	}
	return nil
}
