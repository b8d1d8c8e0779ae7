// Package model содержит доменные сущности движка жизненного цикла заказов.
package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderStatus описывает статус заказа.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "Pending"
	OrderStatusProcessing OrderStatus = "Processing"
	OrderStatusComplete   OrderStatus = "Complete"
	OrderStatusCancelled  OrderStatus = "Cancelled"
)

// IsTerminal сообщает, блокирует ли статус дальнейшие автоматические переходы.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusComplete || s == OrderStatusCancelled
}

// PaymentStatus описывает статус оплаты заказа.
type PaymentStatus string

const (
	PaymentStatusPending           PaymentStatus = "Pending"
	PaymentStatusAuthorized        PaymentStatus = "Authorized"
	PaymentStatusPaid              PaymentStatus = "Paid"
	PaymentStatusPartiallyRefunded PaymentStatus = "PartiallyRefunded"
	PaymentStatusRefunded          PaymentStatus = "Refunded"
	PaymentStatusVoided            PaymentStatus = "Voided"
)

// ShippingStatus описывает статус доставки заказа.
type ShippingStatus string

const (
	ShippingStatusNotRequired      ShippingStatus = "ShippingNotRequired"
	ShippingStatusNotYetShipped    ShippingStatus = "NotYetShipped"
	ShippingStatusPartiallyShipped ShippingStatus = "PartiallyShipped"
	ShippingStatusShipped          ShippingStatus = "Shipped"
	ShippingStatusDelivered        ShippingStatus = "Delivered"
)

// CyclePeriod описывает единицу длины цикла периодического платежа.
type CyclePeriod string

const (
	CyclePeriodDays   CyclePeriod = "Days"
	CyclePeriodWeeks  CyclePeriod = "Weeks"
	CyclePeriodMonths CyclePeriod = "Months"
	CyclePeriodYears  CyclePeriod = "Years"
)

// Order описывает заказ, зафиксированный в момент оформления.
type Order struct {
	ID                int64
	OrderGUID         uuid.UUID
	CustomOrderNumber string
	StoreID           int64
	CustomerID        int64

	BillingAddressID  int64
	ShippingAddressID *int64
	PickupAddressID   *int64
	PickupInStore     bool

	OrderStatus    OrderStatus
	ShippingStatus ShippingStatus
	PaymentStatus  PaymentStatus

	PaymentMethodSystemName string
	CustomerCurrencyCode    string
	CurrencyRate            decimal.Decimal

	OrderSubtotalInclTax         decimal.Decimal
	OrderSubtotalExclTax         decimal.Decimal
	OrderSubtotalDiscountInclTax decimal.Decimal
	OrderSubtotalDiscountExclTax decimal.Decimal
	OrderShippingInclTax         decimal.Decimal
	OrderShippingExclTax         decimal.Decimal
	PaymentMethodFeeInclTax      decimal.Decimal
	PaymentMethodFeeExclTax      decimal.Decimal
	OrderTax                     decimal.Decimal
	OrderDiscount                decimal.Decimal
	OrderTotal                   decimal.Decimal
	RefundedAmount               decimal.Decimal

	RewardPointsHistoryEntryID *int64
	RedeemedRewardPointsID     *int64

	CheckoutAttributeDescription string
	AffiliateID                  int64
	CustomerIP                   string

	AuthorizationTransactionID     string
	AuthorizationTransactionCode   string
	AuthorizationTransactionResult string
	CaptureTransactionID           string
	CaptureTransactionResult       string
	SubscriptionTransactionID      string

	ShippingMethod                          string
	ShippingRateComputationMethodSystemName string

	CustomValues map[string]string

	PaidDate  *time.Time
	Deleted   bool
	CreatedOn time.Time
}

// RefundableAmount возвращает сумму, которую ещё можно вернуть покупателю.
func (o *Order) RefundableAmount() decimal.Decimal {
	return o.OrderTotal.Sub(o.RefundedAmount)
}

// OrderItem описывает позицию заказа, снятую с позиции корзины.
type OrderItem struct {
	ID            int64
	OrderItemGUID uuid.UUID
	OrderID       int64
	ProductID     int64
	VendorID      int64
	Quantity      int

	UnitPriceInclTax      decimal.Decimal
	UnitPriceExclTax      decimal.Decimal
	PriceInclTax          decimal.Decimal
	PriceExclTax          decimal.Decimal
	DiscountAmountInclTax decimal.Decimal
	DiscountAmountExclTax decimal.Decimal
	OriginalProductCost   decimal.Decimal

	AttributeDescription string
	AttributesJSON       string
	ItemWeight           *decimal.Decimal

	IsShipEnabled   bool
	RentalStartDate *time.Time
	RentalEndDate   *time.Time
}

// Address описывает адрес доставки, оплаты или самовывоза.
type Address struct {
	ID            int64     `json:"id"`
	FirstName     string    `json:"first_name"`
	LastName      string    `json:"last_name"`
	Email         string    `json:"email"`
	Company       string    `json:"company,omitempty"`
	CountryCode   string    `json:"country_code"`
	StateProvince string    `json:"state_province,omitempty"`
	City          string    `json:"city"`
	Address1      string    `json:"address1"`
	Address2      string    `json:"address2,omitempty"`
	ZipPostalCode string    `json:"zip_postal_code"`
	PhoneNumber   string    `json:"phone_number,omitempty"`
	CreatedOn     time.Time `json:"-"`
}

// OrderNote описывает запись журнала заказа.
type OrderNote struct {
	ID                int64
	OrderID           int64
	Note              string
	DisplayToCustomer bool
	CreatedOn         time.Time
}

// RecurringPayment описывает подписку, порождённую первым заказом.
type RecurringPayment struct {
	ID                int64
	CycleLength       int
	CyclePeriod       CyclePeriod
	TotalCycles       int
	StartDate         time.Time
	IsActive          bool
	LastPaymentFailed bool
	InitialOrderID    int64
	CreatedOn         time.Time
	History           []RecurringPaymentHistory
}

// RecurringPaymentHistory описывает один завершённый цикл подписки.
type RecurringPaymentHistory struct {
	ID                 int64
	RecurringPaymentID int64
	OrderID            int64
	CreatedOn          time.Time
}

// Shipment описывает отгрузку части заказа.
type Shipment struct {
	ID             int64
	OrderID        int64
	TrackingNumber string
	TotalWeight    *decimal.Decimal
	ShippedDate    *time.Time
	DeliveryDate   *time.Time
	CreatedOn      time.Time
	Items          []ShipmentItem
}

// ShipmentItem описывает позицию отгрузки.
type ShipmentItem struct {
	ID          int64
	ShipmentID  int64
	OrderItemID int64
	ProductID   int64
	Quantity    int
	WarehouseID int64
}

// DiscountUsage фиксирует применение скидки к заказу.
type DiscountUsage struct {
	ID         int64
	DiscountID int64
	OrderID    int64
	CreatedOn  time.Time
}

// RewardPointsEntry описывает запись журнала бонусных баллов.
type RewardPointsEntry struct {
	ID         int64
	CustomerID int64
	StoreID    int64
	Points     int
	UsedAmount decimal.Decimal
	Message    string
	OrderGUID  *uuid.UUID
	CreatedOn  time.Time
	EndDate    *time.Time
}

// OrderEvent описывает доменное событие жизненного цикла заказа.
type OrderEvent struct {
	Type           string          `json:"type"`
	OrderID        int64           `json:"order_id"`
	OrderGUID      uuid.UUID       `json:"order_guid"`
	CustomerID     int64           `json:"customer_id"`
	PreviousStatus string          `json:"previous_status,omitempty"`
	CurrentStatus  string          `json:"current_status,omitempty"`
	Amount         decimal.Decimal `json:"amount"`
	OccurredAt     time.Time       `json:"occurred_at"`
}

// Типы доменных событий.
const (
	EventOrderPlaced        = "order.placed"
	EventOrderPaid          = "order.paid"
	EventOrderAuthorized    = "order.authorized"
	EventOrderStatusChanged = "order.status_changed"
	EventOrderRefunded      = "order.refunded"
	EventOrderVoided        = "order.voided"
	EventOrderCancelled     = "order.cancelled"
	EventOrderDeleted       = "order.deleted"
	EventShipmentSent       = "shipment.sent"
	EventShipmentDelivered  = "shipment.delivered"
)
