package service

import (
	"context"
	"fmt"

	"github.com/mmeshcher/order-lifecycle/internal/model"
)

// ReOrder возвращает позиции заказа в корзину покупателя по цене заказа без налога.
// Возвращает предупреждения корзины по позициям, которые добавить не удалось.
func (s *Service) ReOrder(ctx context.Context, order *model.Order) ([]string, error) {
	items, err := s.orders.GetOrderItems(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}

	var warnings []string
	for _, item := range items {
		product, err := s.products.GetProduct(ctx, item.ProductID)
		if err != nil {
			return warnings, fmt.Errorf("load product: %w", err)
		}
		if product == nil {
			continue
		}

		w, err := s.cart.AddToCart(ctx, order.CustomerID, order.StoreID, model.CartItem{
			Product:              *product,
			Quantity:             item.Quantity,
			AttributesJSON:       item.AttributesJSON,
			AttributeDescription: item.AttributeDescription,
			UnitPriceExclTax:     item.UnitPriceExclTax,
			RentalStartDate:      item.RentalStartDate,
			RentalEndDate:        item.RentalEndDate,
		})
		if err != nil {
			return warnings, fmt.Errorf("add to cart: %w", err)
		}
		warnings = append(warnings, w...)
	}

	if err := s.customers.ResetCheckoutData(ctx, order.CustomerID, order.StoreID); err != nil {
		return warnings, fmt.Errorf("reset checkout data: %w", err)
	}
	return warnings, nil
}

// IsReturnRequestAllowed сообщает, можно ли оформить возврат по заказу.
func (s *Service) IsReturnRequestAllowed(ctx context.Context, order *model.Order) (bool, error) {
	cfg := s.settings.Order
	if !cfg.ReturnRequestsEnabled || order == nil {
		return false, nil
	}
	if order.Deleted || order.OrderStatus != model.OrderStatusComplete {
		return false, nil
	}

	if cfg.NumberOfDaysReturnRequestAvailable > 0 {
		daysPassed := int(s.now().UTC().Sub(order.CreatedOn).Hours() / 24)
		if daysPassed >= cfg.NumberOfDaysReturnRequestAvailable {
			return false, nil
		}
	}

	items, err := s.orders.GetOrderItems(ctx, order.ID)
	if err != nil {
		return false, fmt.Errorf("load order items: %w", err)
	}
	for _, item := range items {
		product, err := s.products.GetProduct(ctx, item.ProductID)
		if err != nil {
			return false, fmt.Errorf("load product: %w", err)
		}
		if product != nil && !product.NotReturnable {
			return true, nil
		}
	}
	return false, nil
}
