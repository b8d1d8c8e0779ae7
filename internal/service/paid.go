package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/mmeshcher/order-lifecycle/internal/model"
)

// ProcessOrderPaid выполняет действия, положенные при первой полной оплате заказа.
func (s *Service) ProcessOrderPaid(ctx context.Context, order *model.Order) error {
	_, err := s.processOrderPaid(ctx, order)
	return err
}

func (s *Service) processOrderPaid(ctx context.Context, order *model.Order) ([]string, error) {
	s.publish(ctx, model.EventOrderPaid, order, order.OrderTotal)

	var diagnostics []string
	collect := func(d string) {
		if d != "" {
			diagnostics = append(diagnostics, d)
		}
	}

	if !order.OrderTotal.IsZero() {
		collect(s.notify(ctx, order, `"Order paid" email (to store owner)`, func(ctx context.Context) ([]string, error) {
			return s.notifier.SendOrderPaidStoreOwner(ctx, order)
		}))
		collect(s.notify(ctx, order, `"Order paid" email (to customer)`, func(ctx context.Context) ([]string, error) {
			return s.notifier.SendOrderPaidCustomer(ctx, order, s.settings.Order.AttachPdfInvoiceToOrderPaidEmail)
		}))

		vendors, err := s.orderVendors(ctx, order)
		if err != nil {
			return diagnostics, err
		}
		for _, vendorID := range vendors {
			collect(s.notify(ctx, order, `"Order paid" email (to vendor)`, func(ctx context.Context) ([]string, error) {
				return s.notifier.SendOrderPaidVendor(ctx, order, vendorID)
			}))
		}

		if order.AffiliateID > 0 {
			collect(s.notify(ctx, order, `"Order paid" email (to affiliate)`, func(ctx context.Context) ([]string, error) {
				return s.notifier.SendOrderPaidAffiliate(ctx, order, order.AffiliateID)
			}))
		}
	}

	if err := s.addPurchasedWithProductsRoles(ctx, order); err != nil {
		return diagnostics, err
	}
	return diagnostics, nil
}

// addPurchasedWithProductsRoles выдаёт покупателю роли, привязанные к купленным товарам,
// включая товары, связанные через атрибуты позиции.
func (s *Service) addPurchasedWithProductsRoles(ctx context.Context, order *model.Order) error {
	items, err := s.orders.GetOrderItems(ctx, order.ID)
	if err != nil {
		return fmt.Errorf("load order items: %w", err)
	}

	seen := make(map[int64]struct{})
	var productIDs []int64
	add := func(id int64) {
		if _, ok := seen[id]; ok || id == 0 {
			return
		}
		seen[id] = struct{}{}
		productIDs = append(productIDs, id)
	}
	for _, item := range items {
		add(item.ProductID)
		for _, id := range model.ParseAssociatedProductIDs(item.AttributesJSON) {
			add(id)
		}
	}

	customer, err := s.customers.GetCustomer(ctx, order.CustomerID)
	if err != nil {
		return fmt.Errorf("load customer: %w", err)
	}
	if customer == nil {
		s.logger.Warn("customer not found for paid order", zap.Int64("order_id", order.ID))
		return nil
	}

	for _, productID := range productIDs {
		roles, err := s.customers.GetRolesPurchasedWithProduct(ctx, productID)
		if err != nil {
			return fmt.Errorf("load purchased with product roles: %w", err)
		}
		for _, roleID := range roles {
			if customer.HasRole(roleID) {
				continue
			}
			if err := s.customers.AddCustomerRole(ctx, customer.ID, roleID); err != nil {
				return fmt.Errorf("add customer role: %w", err)
			}
			customer.RoleIDs = append(customer.RoleIDs, roleID)
		}
	}
	return nil
}
