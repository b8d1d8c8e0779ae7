package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/order-lifecycle/internal/model"
)

type shippingProgress struct {
	itemsToAdd     bool
	itemsToShip    bool
	itemsToDeliver bool
}

// shippingProgressOf сверяет позиции заказа с его отгрузками.
func (s *Service) shippingProgressOf(ctx context.Context, order *model.Order) (shippingProgress, error) {
	var p shippingProgress

	items, err := s.orders.GetOrderItems(ctx, order.ID)
	if err != nil {
		return p, fmt.Errorf("load order items: %w", err)
	}
	shipments, err := s.orders.GetShipmentsByOrderID(ctx, order.ID)
	if err != nil {
		return p, fmt.Errorf("load shipments: %w", err)
	}

	inShipments := make(map[int64]int)
	for _, shipment := range shipments {
		for _, si := range shipment.Items {
			inShipments[si.OrderItemID] += si.Quantity
		}
		if len(shipment.Items) == 0 {
			continue
		}
		if shipment.ShippedDate == nil {
			p.itemsToShip = true
		} else if shipment.DeliveryDate == nil {
			p.itemsToDeliver = true
		}
	}

	for _, item := range items {
		if !item.IsShipEnabled {
			continue
		}
		if item.Quantity-inShipments[item.ID] > 0 {
			p.itemsToAdd = true
		}
	}

	return p, nil
}

// Ship отмечает отгрузку отправленной и пересчитывает статус доставки заказа.
func (s *Service) Ship(ctx context.Context, shipment *model.Shipment, notifyCustomer bool) error {
	order, err := s.orders.GetOrderByID(ctx, shipment.OrderID)
	if err != nil {
		return fmt.Errorf("load order: %w", err)
	}

	if shipment.ShippedDate != nil {
		return notEligible("This shipment is already shipped")
	}

	now := s.now().UTC()
	shipment.ShippedDate = &now
	if err := s.orders.UpdateShipment(ctx, shipment); err != nil {
		return fmt.Errorf("update shipment: %w", err)
	}

	msg := fmt.Sprintf("The stock quantity has been reduced by shipping the shipment #%d", shipment.ID)
	for _, item := range shipment.Items {
		if item.WarehouseID == 0 {
			continue
		}
		if err := s.inventory.BookReservedInventory(ctx, item.ProductID, item.WarehouseID, -item.Quantity, msg); err != nil {
			return fmt.Errorf("book reserved inventory: %w", err)
		}
	}

	progress, err := s.shippingProgressOf(ctx, order)
	if err != nil {
		return err
	}
	if progress.itemsToAdd || progress.itemsToShip {
		order.ShippingStatus = model.ShippingStatusPartiallyShipped
	} else {
		order.ShippingStatus = model.ShippingStatusShipped
	}
	if err := s.orders.UpdateOrder(ctx, order); err != nil {
		return fmt.Errorf("update order: %w", err)
	}

	if err := s.addOrderNote(ctx, order, fmt.Sprintf("Shipment# %d has been sent", shipment.ID)); err != nil {
		return fmt.Errorf("add order note: %w", err)
	}

	if notifyCustomer {
		s.notify(ctx, order, `"Shipped" email (to customer)`, func(ctx context.Context) ([]string, error) {
			return s.notifier.SendShipmentSentCustomer(ctx, order, shipment)
		})
	}

	s.publishEvent(ctx, model.OrderEvent{
		Type:          model.EventShipmentSent,
		OrderID:       order.ID,
		OrderGUID:     order.OrderGUID,
		CustomerID:    order.CustomerID,
		CurrentStatus: string(order.ShippingStatus),
		Amount:        decimal.Zero,
	})

	return s.CheckOrderStatus(ctx, order)
}

// Deliver отмечает отгрузку доставленной.
// Статус заказа становится Delivered, только когда доставлено всё.
func (s *Service) Deliver(ctx context.Context, shipment *model.Shipment, notifyCustomer bool) error {
	order, err := s.orders.GetOrderByID(ctx, shipment.OrderID)
	if err != nil {
		return fmt.Errorf("load order: %w", err)
	}

	if shipment.ShippedDate == nil {
		return notEligible("This shipment is not shipped yet")
	}
	if shipment.DeliveryDate != nil {
		return notEligible("This shipment is already delivered")
	}

	now := s.now().UTC()
	shipment.DeliveryDate = &now
	if err := s.orders.UpdateShipment(ctx, shipment); err != nil {
		return fmt.Errorf("update shipment: %w", err)
	}

	progress, err := s.shippingProgressOf(ctx, order)
	if err != nil {
		return err
	}
	if !progress.itemsToAdd && !progress.itemsToShip && !progress.itemsToDeliver {
		order.ShippingStatus = model.ShippingStatusDelivered
	}
	if err := s.orders.UpdateOrder(ctx, order); err != nil {
		return fmt.Errorf("update order: %w", err)
	}

	if err := s.addOrderNote(ctx, order, fmt.Sprintf("Shipment# %d has been delivered", shipment.ID)); err != nil {
		return fmt.Errorf("add order note: %w", err)
	}

	if notifyCustomer {
		s.notify(ctx, order, `"Delivered" email (to customer)`, func(ctx context.Context) ([]string, error) {
			return s.notifier.SendShipmentDeliveredCustomer(ctx, order, shipment)
		})
	}

	s.publishEvent(ctx, model.OrderEvent{
		Type:          model.EventShipmentDelivered,
		OrderID:       order.ID,
		OrderGUID:     order.OrderGUID,
		CustomerID:    order.CustomerID,
		CurrentStatus: string(order.ShippingStatus),
		Amount:        decimal.Zero,
	})

	return s.CheckOrderStatus(ctx, order)
}

// ShipmentLine описывает позицию заказа, включаемую в новую отгрузку.
type ShipmentLine struct {
	OrderItemID int64 `json:"order_item_id"`
	Quantity    int   `json:"quantity"`
	WarehouseID int64 `json:"warehouse_id"`
}

// CreateShipment добавляет отгрузку к заказу. Количество по позиции не может превышать ещё не отгруженное.
func (s *Service) CreateShipment(ctx context.Context, order *model.Order, trackingNumber string, lines []ShipmentLine) (*model.Shipment, error) {
	if order.OrderStatus == model.OrderStatusCancelled || order.ShippingStatus == model.ShippingStatusNotRequired {
		return nil, notEligible("Cannot add shipment to order.")
	}
	if len(lines) == 0 {
		return nil, validationError("No products selected")
	}

	items, err := s.orders.GetOrderItems(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	shipments, err := s.orders.GetShipmentsByOrderID(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("load shipments: %w", err)
	}

	remaining := make(map[int64]int, len(items))
	byID := make(map[int64]model.OrderItem, len(items))
	for _, item := range items {
		if item.IsShipEnabled {
			remaining[item.ID] = item.Quantity
			byID[item.ID] = item
		}
	}
	for _, shipment := range shipments {
		for _, si := range shipment.Items {
			remaining[si.OrderItemID] -= si.Quantity
		}
	}

	shipment := &model.Shipment{
		OrderID:        order.ID,
		TrackingNumber: trackingNumber,
		CreatedOn:      s.now().UTC(),
	}
	var weight decimal.Decimal
	for _, line := range lines {
		item, ok := byID[line.OrderItemID]
		if !ok {
			return nil, validationError(fmt.Sprintf("Order item %d cannot be shipped", line.OrderItemID))
		}
		if line.Quantity <= 0 || line.Quantity > remaining[line.OrderItemID] {
			return nil, validationError(fmt.Sprintf("Quantity to ship for order item %d is not valid", line.OrderItemID))
		}
		remaining[line.OrderItemID] -= line.Quantity
		if item.ItemWeight != nil {
			weight = weight.Add(item.ItemWeight.Mul(decimal.NewFromInt(int64(line.Quantity))))
		}
		shipment.Items = append(shipment.Items, model.ShipmentItem{
			OrderItemID: item.ID,
			ProductID:   item.ProductID,
			Quantity:    line.Quantity,
			WarehouseID: line.WarehouseID,
		})
	}
	if !weight.IsZero() {
		shipment.TotalWeight = &weight
	}

	if err := s.orders.InsertShipment(ctx, shipment); err != nil {
		return nil, fmt.Errorf("save shipment: %w", err)
	}
	if err := s.addOrderNote(ctx, order, fmt.Sprintf("A shipment #%d has been added", shipment.ID)); err != nil {
		return nil, err
	}
	return shipment, nil
}
