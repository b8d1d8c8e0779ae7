package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/order-lifecycle/internal/model"
)

// CheckOrderStatus сверяет статус заказа со статусами оплаты и доставки.
// Вызывается после каждой операции, которая может изменить любую из трёх осей.
func (s *Service) CheckOrderStatus(ctx context.Context, order *model.Order) error {
	if order.PaymentStatus == model.PaymentStatusPaid && order.PaidDate == nil {
		now := s.now().UTC()
		order.PaidDate = &now
		if err := s.orders.UpdateOrder(ctx, order); err != nil {
			return fmt.Errorf("update order: %w", err)
		}
	}

	if order.OrderStatus == model.OrderStatusPending {
		switch {
		case order.PaymentStatus == model.PaymentStatusAuthorized,
			order.PaymentStatus == model.PaymentStatusPaid,
			shippingStarted(order.ShippingStatus):
			if err := s.SetOrderStatus(ctx, order, model.OrderStatusProcessing, false); err != nil {
				return err
			}
		}
	}

	if order.OrderStatus.IsTerminal() {
		return nil
	}
	if order.PaymentStatus != model.PaymentStatusPaid {
		return nil
	}

	var complete bool
	switch {
	case order.ShippingStatus == model.ShippingStatusNotRequired:
		complete = true
	case s.settings.Order.CompleteOrderWhenDelivered:
		complete = order.ShippingStatus == model.ShippingStatusDelivered
	default:
		complete = order.ShippingStatus == model.ShippingStatusShipped ||
			order.ShippingStatus == model.ShippingStatusDelivered
	}
	if !complete {
		return nil
	}

	return s.SetOrderStatus(ctx, order, model.OrderStatusComplete, true)
}

func shippingStarted(status model.ShippingStatus) bool {
	return status == model.ShippingStatusPartiallyShipped ||
		status == model.ShippingStatusShipped ||
		status == model.ShippingStatusDelivered
}

// SetOrderStatus единственный способ изменить статус заказа.
// Вход в Complete и Cancelled запускает уведомления, бонусные баллы и подарочные карты.
func (s *Service) SetOrderStatus(ctx context.Context, order *model.Order, status model.OrderStatus, notifyCustomer bool) error {
	prev := order.OrderStatus
	if prev == status {
		return nil
	}

	order.OrderStatus = status
	if err := s.orders.UpdateOrder(ctx, order); err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if err := s.addOrderNote(ctx, order, fmt.Sprintf("Order status has been changed to %s", status)); err != nil {
		return fmt.Errorf("add order note: %w", err)
	}

	s.publishEvent(ctx, model.OrderEvent{
		Type:           model.EventOrderStatusChanged,
		OrderID:        order.ID,
		OrderGUID:      order.OrderGUID,
		CustomerID:     order.CustomerID,
		PreviousStatus: string(prev),
		CurrentStatus:  string(status),
		Amount:         decimal.Zero,
	})

	if prev != model.OrderStatusComplete && status == model.OrderStatusComplete && notifyCustomer {
		s.notify(ctx, order, `"Order completed" email (to customer)`, func(ctx context.Context) ([]string, error) {
			return s.notifier.SendOrderCompletedCustomer(ctx, order, s.settings.Order.AttachPdfInvoiceToOrderCompletedEmail)
		})
	}
	if prev != model.OrderStatusCancelled && status == model.OrderStatusCancelled && notifyCustomer {
		s.notify(ctx, order, `"Order cancelled" email (to customer)`, func(ctx context.Context) ([]string, error) {
			return s.notifier.SendOrderCancelledCustomer(ctx, order)
		})
	}

	switch status {
	case model.OrderStatusComplete:
		if err := s.AwardRewardPoints(ctx, order); err != nil {
			return err
		}
		if s.settings.Order.ActivateGiftCardsAfterCompletingOrder {
			if err := s.setActivatedValueForPurchasedGiftCards(ctx, order, true); err != nil {
				return err
			}
		}
	case model.OrderStatusCancelled:
		if err := s.ReduceRewardPoints(ctx, order); err != nil {
			return err
		}
		if s.settings.Order.DeactivateGiftCardsAfterCancellingOrder {
			if err := s.setActivatedValueForPurchasedGiftCards(ctx, order, false); err != nil {
				return err
			}
		}
	case model.OrderStatusPending, model.OrderStatusProcessing:
	}

	return nil
}
