// Package service реализует движок жизненного цикла заказов: оформление,
// переходы статусов, платёжные операции, отгрузки и периодические платежи.
package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mmeshcher/order-lifecycle/internal/config"
	"github.com/mmeshcher/order-lifecycle/internal/model"
	"github.com/mmeshcher/order-lifecycle/internal/payment"
)

// OrderStore описывает хранилище заказов и связанных с ними сущностей.
type OrderStore interface {
	InsertAddress(ctx context.Context, addr *model.Address) error
	GetAddressByID(ctx context.Context, id int64) (*model.Address, error)

	InsertOrder(ctx context.Context, order *model.Order) error
	UpdateOrder(ctx context.Context, order *model.Order) error
	GetOrderByID(ctx context.Context, id int64) (*model.Order, error)
	DeleteOrder(ctx context.Context, order *model.Order) error

	InsertOrderItem(ctx context.Context, item *model.OrderItem) error
	GetOrderItems(ctx context.Context, orderID int64) ([]model.OrderItem, error)

	InsertOrderNote(ctx context.Context, note *model.OrderNote) error
	GetOrderNotes(ctx context.Context, orderID int64) ([]model.OrderNote, error)

	InsertRecurringPayment(ctx context.Context, rp *model.RecurringPayment) error
	UpdateRecurringPayment(ctx context.Context, rp *model.RecurringPayment) error
	GetRecurringPaymentByID(ctx context.Context, id int64) (*model.RecurringPayment, error)
	SearchRecurringPayments(ctx context.Context, initialOrderID int64) ([]model.RecurringPayment, error)
	InsertRecurringPaymentHistory(ctx context.Context, h *model.RecurringPaymentHistory) error

	InsertShipment(ctx context.Context, shipment *model.Shipment) error
	GetShipmentByID(ctx context.Context, id int64) (*model.Shipment, error)
	GetShipmentsByOrderID(ctx context.Context, orderID int64) ([]model.Shipment, error)
	UpdateShipment(ctx context.Context, shipment *model.Shipment) error

	InsertDiscountUsage(ctx context.Context, usage *model.DiscountUsage) error
}

// CartService описывает корзину и расчёт её сумм.
type CartService interface {
	GetCart(ctx context.Context, customerID, storeID int64) (model.Cart, error)
	GetCartWarnings(ctx context.Context, cart model.Cart, checkoutAttributesJSON string) ([]string, error)
	GetItemWarnings(ctx context.Context, customerID int64, item model.CartItem) ([]string, error)
	GetSubtotal(ctx context.Context, cart model.Cart, includingTax bool) (model.CartSubtotal, error)
	GetShippingTotal(ctx context.Context, cart model.Cart, includingTax bool) (model.CartShipping, error)
	GetTaxTotal(ctx context.Context, cart model.Cart) (decimal.Decimal, error)
	GetPaymentMethodFee(ctx context.Context, cart model.Cart, fee decimal.Decimal, includingTax bool) (decimal.Decimal, error)
	GetTotal(ctx context.Context, cart model.Cart) (model.CartTotal, error)
	AddToCart(ctx context.Context, customerID, storeID int64, item model.CartItem) ([]string, error)
	ClearCart(ctx context.Context, customerID, storeID int64) error
}

// CustomerService описывает покупателей магазина.
// Методы Get* возвращают nil без ошибки, если сущность не найдена.
type CustomerService interface {
	GetCustomer(ctx context.Context, id int64) (*model.Customer, error)
	GetAffiliate(ctx context.Context, id int64) (*model.Affiliate, error)
	ResetCheckoutData(ctx context.Context, customerID, storeID int64) error
	GetRolesPurchasedWithProduct(ctx context.Context, productID int64) ([]int64, error)
	AddCustomerRole(ctx context.Context, customerID, roleID int64) error
}

// DirectoryService описывает справочники стран и валют.
type DirectoryService interface {
	GetCountry(ctx context.Context, code string) (*model.Country, error)
	GetCurrency(ctx context.Context, code string) (*model.Currency, error)
}

// ProductService описывает каталог товаров.
type ProductService interface {
	GetProduct(ctx context.Context, id int64) (*model.Product, error)
}

// InventoryService описывает складские остатки.
type InventoryService interface {
	AdjustInventory(ctx context.Context, productID int64, quantityDelta int, attributesJSON, message string) error
	ReverseBookedInventory(ctx context.Context, item model.ShipmentItem, message string) error
	BookReservedInventory(ctx context.Context, productID, warehouseID int64, quantityDelta int, message string) error
}

// RewardPointsLedger описывает журнал бонусных баллов.
type RewardPointsLedger interface {
	AddHistoryEntry(ctx context.Context, entry *model.RewardPointsEntry) error
	GetHistory(ctx context.Context, customerID, storeID int64, orderGUID uuid.UUID) ([]model.RewardPointsEntry, error)
	GetHistoryEntryByID(ctx context.Context, id int64) (*model.RewardPointsEntry, error)
	DeleteHistoryEntry(ctx context.Context, id int64) error
	GetRewardPointsBalance(ctx context.Context, customerID, storeID int64) (int, error)
}

// GiftCardService описывает подарочные карты.
type GiftCardService interface {
	InsertGiftCard(ctx context.Context, gc *model.GiftCard) error
	UpdateGiftCard(ctx context.Context, gc *model.GiftCard) error
	InsertUsageHistory(ctx context.Context, usage *model.GiftCardUsage) error
	DeleteUsageHistory(ctx context.Context, orderID int64) error
	GetAllGiftCards(ctx context.Context, purchasedWithOrderID int64, activated *bool) ([]model.GiftCard, error)
}

// Notifier ставит уведомления в очередь и возвращает идентификаторы поставленных сообщений.
// Пустой список означает, что уведомление не отправлялось.
type Notifier interface {
	SendOrderPlacedStoreOwner(ctx context.Context, order *model.Order) ([]string, error)
	SendOrderPlacedCustomer(ctx context.Context, order *model.Order, attachInvoice bool) ([]string, error)
	SendOrderPlacedVendor(ctx context.Context, order *model.Order, vendorID int64) ([]string, error)
	SendOrderPlacedAffiliate(ctx context.Context, order *model.Order, affiliateID int64) ([]string, error)

	SendOrderPaidStoreOwner(ctx context.Context, order *model.Order) ([]string, error)
	SendOrderPaidCustomer(ctx context.Context, order *model.Order, attachInvoice bool) ([]string, error)
	SendOrderPaidVendor(ctx context.Context, order *model.Order, vendorID int64) ([]string, error)
	SendOrderPaidAffiliate(ctx context.Context, order *model.Order, affiliateID int64) ([]string, error)

	SendOrderCompletedCustomer(ctx context.Context, order *model.Order, attachInvoice bool) ([]string, error)
	SendOrderCancelledCustomer(ctx context.Context, order *model.Order) ([]string, error)
	SendOrderRefundedStoreOwner(ctx context.Context, order *model.Order, amount decimal.Decimal) ([]string, error)
	SendOrderRefundedCustomer(ctx context.Context, order *model.Order, amount decimal.Decimal) ([]string, error)

	SendShipmentSentCustomer(ctx context.Context, order *model.Order, shipment *model.Shipment) ([]string, error)
	SendShipmentDeliveredCustomer(ctx context.Context, order *model.Order, shipment *model.Shipment) ([]string, error)

	SendRecurringPaymentCancelledStoreOwner(ctx context.Context, rp *model.RecurringPayment, initialOrder *model.Order) ([]string, error)
	SendRecurringPaymentCancelledCustomer(ctx context.Context, rp *model.RecurringPayment, initialOrder *model.Order) ([]string, error)
	SendRecurringPaymentFailedCustomer(ctx context.Context, rp *model.RecurringPayment, initialOrder *model.Order) ([]string, error)

	SendGiftCard(ctx context.Context, gc *model.GiftCard) ([]string, error)
}

// EventPublisher публикует доменные события заказа.
type EventPublisher interface {
	Publish(ctx context.Context, event model.OrderEvent) error
}

// Gateways разрешает платёжный шлюз по системному имени способа оплаты.
type Gateways interface {
	Gateway(systemName string) (payment.Gateway, error)
	Capabilities(systemName string) payment.Capabilities
}

// Metrics собирает счётчики работы движка.
type Metrics interface {
	OrderPlaced()
	OrderPlacementFailed()
	GatewayCall(operation string, success bool)
	RecurringCycle(outcome string)
}

type nopMetrics struct{}

func (nopMetrics) OrderPlaced()             {}
func (nopMetrics) OrderPlacementFailed()    {}
func (nopMetrics) GatewayCall(string, bool) {}
func (nopMetrics) RecurringCycle(string)    {}

// Deps содержит зависимости движка. Logger, Clock, NewGUID и Metrics необязательны.
type Deps struct {
	Orders       OrderStore
	Cart         CartService
	Customers    CustomerService
	Directory    DirectoryService
	Products     ProductService
	Inventory    InventoryService
	RewardPoints RewardPointsLedger
	GiftCards    GiftCardService
	Notifier     Notifier
	Events       EventPublisher
	Payments     Gateways

	Metrics Metrics
	Logger  *zap.Logger
	Clock   func() time.Time
	NewGUID func() uuid.UUID
}

// Service содержит бизнес-логику движка заказов.
type Service struct {
	orders       OrderStore
	cart         CartService
	customers    CustomerService
	directory    DirectoryService
	products     ProductService
	inventory    InventoryService
	rewardPoints RewardPointsLedger
	giftCards    GiftCardService
	notifier     Notifier
	events       EventPublisher
	payments     Gateways

	settings config.Settings
	metrics  Metrics
	logger   *zap.Logger
	now      func() time.Time
	newGUID  func() uuid.UUID
	tracer   trace.Tracer
}

// NewService создаёт движок с указанными зависимостями и неизменяемыми настройками.
func NewService(deps Deps, settings config.Settings) *Service {
	s := &Service{
		orders:       deps.Orders,
		cart:         deps.Cart,
		customers:    deps.Customers,
		directory:    deps.Directory,
		products:     deps.Products,
		inventory:    deps.Inventory,
		rewardPoints: deps.RewardPoints,
		giftCards:    deps.GiftCards,
		notifier:     deps.Notifier,
		events:       deps.Events,
		payments:     deps.Payments,
		settings:     settings,
		metrics:      deps.Metrics,
		logger:       deps.Logger,
		now:          deps.Clock,
		newGUID:      deps.NewGUID,
		tracer:       otel.Tracer("github.com/mmeshcher/order-lifecycle/internal/service"),
	}
	if s.metrics == nil {
		s.metrics = nopMetrics{}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newGUID == nil {
		s.newGUID = uuid.New
	}
	return s
}

// Settings возвращает настройки движка.
func (s *Service) Settings() config.Settings {
	return s.settings
}

// GetOrder возвращает заказ по идентификатору.
func (s *Service) GetOrder(ctx context.Context, id int64) (*model.Order, error) {
	return s.orders.GetOrderByID(ctx, id)
}

// GetOrderItems возвращает позиции заказа.
func (s *Service) GetOrderItems(ctx context.Context, orderID int64) ([]model.OrderItem, error) {
	return s.orders.GetOrderItems(ctx, orderID)
}

// GetOrderNotes возвращает журнал заказа.
func (s *Service) GetOrderNotes(ctx context.Context, orderID int64) ([]model.OrderNote, error) {
	return s.orders.GetOrderNotes(ctx, orderID)
}

// GetShipment возвращает отгрузку вместе с позициями.
func (s *Service) GetShipment(ctx context.Context, id int64) (*model.Shipment, error) {
	return s.orders.GetShipmentByID(ctx, id)
}

// GetRecurringPayment возвращает подписку вместе с историей циклов.
func (s *Service) GetRecurringPayment(ctx context.Context, id int64) (*model.RecurringPayment, error) {
	return s.orders.GetRecurringPaymentByID(ctx, id)
}

// GetCustomer возвращает покупателя.
func (s *Service) GetCustomer(ctx context.Context, id int64) (*model.Customer, error) {
	return s.customers.GetCustomer(ctx, id)
}

// GetRewardPointsBalance возвращает доступный покупателю остаток бонусных баллов.
func (s *Service) GetRewardPointsBalance(ctx context.Context, customerID, storeID int64) (int, error) {
	return s.rewardPoints.GetRewardPointsBalance(ctx, customerID, storeID)
}

func (s *Service) addOrderNote(ctx context.Context, order *model.Order, note string) error {
	return s.orders.InsertOrderNote(ctx, &model.OrderNote{
		OrderID:   order.ID,
		Note:      note,
		CreatedOn: s.now().UTC(),
	})
}

func (s *Service) publish(ctx context.Context, eventType string, order *model.Order, amount decimal.Decimal) {
	s.publishEvent(ctx, model.OrderEvent{
		Type:          eventType,
		OrderID:       order.ID,
		OrderGUID:     order.OrderGUID,
		CustomerID:    order.CustomerID,
		CurrentStatus: string(order.OrderStatus),
		Amount:        amount,
	})
}

func (s *Service) publishEvent(ctx context.Context, event model.OrderEvent) {
	if s.events == nil {
		return
	}
	event.OccurredAt = s.now().UTC()
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Warn("publish order event",
			zap.String("type", event.Type),
			zap.Int64("order_id", event.OrderID),
			zap.Error(err),
		)
	}
}
