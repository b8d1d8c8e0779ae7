package service

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/mmeshcher/order-lifecycle/internal/model"
)

// CanCancelOrder сообщает, можно ли отменить заказ.
func (s *Service) CanCancelOrder(order *model.Order) bool {
	return order != nil && order.OrderStatus != model.OrderStatusCancelled
}

// CancelOrder отменяет заказ и откатывает его финансовые и складские последствия.
func (s *Service) CancelOrder(ctx context.Context, order *model.Order, notifyCustomer bool) error {
	if !s.CanCancelOrder(order) {
		return notEligible("Cannot do cancel for order.")
	}

	ctx, span := s.tracer.Start(ctx, "CancelOrder")
	defer span.End()
	span.SetAttributes(attribute.Int64("order_id", order.ID))

	if err := s.SetOrderStatus(ctx, order, model.OrderStatusCancelled, notifyCustomer); err != nil {
		return err
	}
	if err := s.addOrderNote(ctx, order, "Order has been cancelled"); err != nil {
		return fmt.Errorf("add order note: %w", err)
	}

	if err := s.ReturnBackRedeemedRewardPoints(ctx, order); err != nil {
		return err
	}

	if s.settings.Order.DeleteGiftCardUsageHistory {
		if err := s.giftCards.DeleteUsageHistory(ctx, order.ID); err != nil {
			return fmt.Errorf("delete gift card usage: %w", err)
		}
	}

	if err := s.cancelRecurringPaymentsOf(ctx, order); err != nil {
		return err
	}

	msg := fmt.Sprintf("The stock quantity has been increased by cancelling the order #%d", order.ID)
	if err := s.restoreInventory(ctx, order, msg); err != nil {
		return err
	}

	s.publish(ctx, model.EventOrderCancelled, order, order.OrderTotal)
	return nil
}

// DeleteOrder помечает заказ удалённым. Неотменённый заказ сначала откатывает
// баллы, подписки и остатки без уведомления покупателя.
func (s *Service) DeleteOrder(ctx context.Context, order *model.Order) error {
	ctx, span := s.tracer.Start(ctx, "DeleteOrder")
	defer span.End()
	span.SetAttributes(attribute.Int64("order_id", order.ID))

	if order.OrderStatus != model.OrderStatusCancelled {
		if err := s.ReturnBackRedeemedRewardPoints(ctx, order); err != nil {
			return err
		}
		if err := s.ReduceRewardPoints(ctx, order); err != nil {
			return err
		}
		if err := s.cancelRecurringPaymentsOf(ctx, order); err != nil {
			return err
		}
		msg := fmt.Sprintf("The stock quantity has been increased by deleting the order #%d", order.ID)
		if err := s.restoreInventory(ctx, order, msg); err != nil {
			return err
		}
	}

	if s.settings.Order.DeactivateGiftCardsAfterDeletingOrder {
		if err := s.setActivatedValueForPurchasedGiftCards(ctx, order, false); err != nil {
			return err
		}
	}

	if err := s.addOrderNote(ctx, order, "Order has been deleted"); err != nil {
		return fmt.Errorf("add order note: %w", err)
	}

	order.Deleted = true
	if err := s.orders.DeleteOrder(ctx, order); err != nil {
		return fmt.Errorf("delete order: %w", err)
	}

	s.publish(ctx, model.EventOrderDeleted, order, order.OrderTotal)
	return nil
}

func (s *Service) cancelRecurringPaymentsOf(ctx context.Context, order *model.Order) error {
	payments, err := s.orders.SearchRecurringPayments(ctx, order.ID)
	if err != nil {
		return fmt.Errorf("load recurring payments: %w", err)
	}
	for i := range payments {
		rp := &payments[i]
		if !rp.IsActive {
			continue
		}
		if errs := s.CancelRecurringPayment(ctx, rp); len(errs) > 0 {
			s.logger.Warn("recurring payment was not cancelled with order",
				zap.Int64("order_id", order.ID),
				zap.Int64("recurring_payment_id", rp.ID),
				zap.Strings("errors", errs),
			)
		}
	}
	return nil
}

// restoreInventory снимает резерв по отгрузкам, затем возвращает на склад все позиции заказа.
func (s *Service) restoreInventory(ctx context.Context, order *model.Order, msg string) error {
	shipments, err := s.orders.GetShipmentsByOrderID(ctx, order.ID)
	if err != nil {
		return fmt.Errorf("load shipments: %w", err)
	}
	for _, shipment := range shipments {
		for _, item := range shipment.Items {
			if err := s.inventory.ReverseBookedInventory(ctx, item, msg); err != nil {
				return fmt.Errorf("reverse booked inventory: %w", err)
			}
		}
	}

	items, err := s.orders.GetOrderItems(ctx, order.ID)
	if err != nil {
		return fmt.Errorf("load order items: %w", err)
	}
	for _, item := range items {
		if err := s.inventory.AdjustInventory(ctx, item.ProductID, item.Quantity, item.AttributesJSON, msg); err != nil {
			return fmt.Errorf("adjust inventory: %w", err)
		}
	}
	return nil
}
