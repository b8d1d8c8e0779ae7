package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Customer описывает покупателя вместе с данными текущего оформления заказа.
type Customer struct {
	ID           int64        `json:"id"`
	Email        string       `json:"email"`
	IsGuest      bool         `json:"is_guest"`
	IsAdmin      bool         `json:"is_admin"`
	RoleIDs      []int64      `json:"role_ids"`
	AffiliateID  int64        `json:"affiliate_id"`
	CurrencyCode string       `json:"currency_code"`
	Checkout     CheckoutData `json:"checkout"`
}

// HasRole сообщает, входит ли покупатель в указанную роль.
func (c *Customer) HasRole(roleID int64) bool {
	for _, id := range c.RoleIDs {
		if id == roleID {
			return true
		}
	}
	return false
}

// CheckoutData содержит выбор покупателя на шаге оформления.
type CheckoutData struct {
	BillingAddress               *Address        `json:"billing_address,omitempty"`
	ShippingAddress              *Address        `json:"shipping_address,omitempty"`
	PickupPoint                  *PickupPoint    `json:"pickup_point,omitempty"`
	ShippingOption               *ShippingOption `json:"shipping_option,omitempty"`
	CheckoutAttributeDescription string          `json:"checkout_attribute_description,omitempty"`
	CheckoutAttributesJSON       string          `json:"checkout_attributes,omitempty"`
}

// PickupPoint описывает пункт самовывоза.
type PickupPoint struct {
	Name               string          `json:"name"`
	ProviderSystemName string          `json:"provider_system_name"`
	CountryCode        string          `json:"country_code"`
	StateProvince      string          `json:"state_province,omitempty"`
	City               string          `json:"city"`
	Address            string          `json:"address"`
	ZipPostalCode      string          `json:"zip_postal_code"`
	PickupFee          decimal.Decimal `json:"pickup_fee"`
}

// ShippingOption описывает выбранный способ доставки.
type ShippingOption struct {
	Name                                    string `json:"name"`
	ShippingRateComputationMethodSystemName string `json:"shipping_rate_computation_method_system_name"`
}

// Affiliate описывает партнёра, который привёл покупателя.
type Affiliate struct {
	ID      int64 `json:"id"`
	Active  bool  `json:"active"`
	Deleted bool  `json:"deleted"`
}

// Country описывает страну справочника.
type Country struct {
	Code           string `json:"code"`
	Name           string `json:"name"`
	AllowsBilling  bool   `json:"allows_billing"`
	AllowsShipping bool   `json:"allows_shipping"`
}

// Currency описывает валюту и её курс к основной валюте магазина.
type Currency struct {
	Code string          `json:"code"`
	Rate decimal.Decimal `json:"rate"`
}

// GiftCardType описывает вид подарочной карты.
type GiftCardType string

const (
	GiftCardTypeVirtual  GiftCardType = "Virtual"
	GiftCardTypePhysical GiftCardType = "Physical"
)

// Product описывает снимок товара, приходящий вместе с позицией корзины.
type Product struct {
	ID                       int64            `json:"id"`
	Name                     string           `json:"name"`
	VendorID                 int64            `json:"vendor_id"`
	IsShipEnabled            bool             `json:"is_ship_enabled"`
	IsGiftCard               bool             `json:"is_gift_card"`
	GiftCardType             GiftCardType     `json:"gift_card_type,omitempty"`
	OverriddenGiftCardAmount *decimal.Decimal `json:"overridden_gift_card_amount,omitempty"`
	IsRecurring              bool             `json:"is_recurring"`
	RecurringCycleLength     int              `json:"recurring_cycle_length,omitempty"`
	RecurringCyclePeriod     CyclePeriod      `json:"recurring_cycle_period,omitempty"`
	RecurringTotalCycles     int              `json:"recurring_total_cycles,omitempty"`
	NotReturnable            bool             `json:"not_returnable"`
}

// CartItem описывает позицию корзины с уже рассчитанными ценами.
type CartItem struct {
	ID                    int64            `json:"id"`
	Product               Product          `json:"product"`
	Quantity              int              `json:"quantity"`
	AttributesJSON        string           `json:"attributes,omitempty"`
	AttributeDescription  string           `json:"attribute_description,omitempty"`
	UnitPriceInclTax      decimal.Decimal  `json:"unit_price_incl_tax"`
	UnitPriceExclTax      decimal.Decimal  `json:"unit_price_excl_tax"`
	SubtotalInclTax       decimal.Decimal  `json:"subtotal_incl_tax"`
	SubtotalExclTax       decimal.Decimal  `json:"subtotal_excl_tax"`
	DiscountAmountInclTax decimal.Decimal  `json:"discount_amount_incl_tax"`
	DiscountAmountExclTax decimal.Decimal  `json:"discount_amount_excl_tax"`
	ProductCost           decimal.Decimal  `json:"product_cost"`
	ItemWeight            *decimal.Decimal `json:"item_weight,omitempty"`
	RentalStartDate       *time.Time       `json:"rental_start_date,omitempty"`
	RentalEndDate         *time.Time       `json:"rental_end_date,omitempty"`
}

// Cart описывает корзину покупателя в магазине.
type Cart struct {
	CustomerID int64      `json:"customer_id"`
	StoreID    int64      `json:"store_id"`
	Items      []CartItem `json:"items"`
}

// RequiresShipping сообщает, есть ли в корзине товары с доставкой.
func (c Cart) RequiresShipping() bool {
	for _, item := range c.Items {
		if item.Product.IsShipEnabled {
			return true
		}
	}
	return false
}

// IsRecurring сообщает, содержит ли корзина товары по подписке.
func (c Cart) IsRecurring() bool {
	for _, item := range c.Items {
		if item.Product.IsRecurring {
			return true
		}
	}
	return false
}

// Discount описывает применённую скидку.
type Discount struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// GiftCard описывает подарочную карту.
type GiftCard struct {
	ID                       int64           `json:"id"`
	PurchasedWithOrderItemID *int64          `json:"purchased_with_order_item_id,omitempty"`
	GiftCardType             GiftCardType    `json:"gift_card_type"`
	Amount                   decimal.Decimal `json:"amount"`
	IsGiftCardActivated      bool            `json:"is_gift_card_activated"`
	CouponCode               string          `json:"coupon_code"`
	RecipientName            string          `json:"recipient_name,omitempty"`
	RecipientEmail           string          `json:"recipient_email,omitempty"`
	SenderName               string          `json:"sender_name,omitempty"`
	SenderEmail              string          `json:"sender_email,omitempty"`
	Message                  string          `json:"message,omitempty"`
	IsRecipientNotified      bool            `json:"is_recipient_notified"`
	CreatedOn                time.Time       `json:"created_on"`
}

// AppliedGiftCard описывает подарочную карту, использованную при оплате корзины.
type AppliedGiftCard struct {
	GiftCard        GiftCard        `json:"gift_card"`
	AmountCanBeUsed decimal.Decimal `json:"amount_can_be_used"`
}

// GiftCardUsage фиксирует списание с подарочной карты в счёт заказа.
type GiftCardUsage struct {
	ID              int64
	GiftCardID      int64
	UsedWithOrderID int64
	UsedValue       decimal.Decimal
	CreatedOn       time.Time
}

// CartSubtotal описывает подытог корзины.
type CartSubtotal struct {
	DiscountAmount          decimal.Decimal `json:"discount_amount"`
	AppliedDiscounts        []Discount      `json:"applied_discounts,omitempty"`
	SubtotalWithoutDiscount decimal.Decimal `json:"subtotal_without_discount"`
	SubtotalWithDiscount    decimal.Decimal `json:"subtotal_with_discount"`
}

// CartShipping описывает стоимость доставки корзины. Amount пуст, если стоимость рассчитать нельзя.
type CartShipping struct {
	Amount           *decimal.Decimal `json:"amount,omitempty"`
	AppliedDiscounts []Discount       `json:"applied_discounts,omitempty"`
}

// CartTotal описывает итог корзины с учётом скидок, подарочных карт и списанных баллов.
type CartTotal struct {
	Total                      *decimal.Decimal  `json:"total,omitempty"`
	DiscountAmount             decimal.Decimal   `json:"discount_amount"`
	AppliedDiscounts           []Discount        `json:"applied_discounts,omitempty"`
	AppliedGiftCards           []AppliedGiftCard `json:"applied_gift_cards,omitempty"`
	RedeemedRewardPoints       int               `json:"redeemed_reward_points"`
	RedeemedRewardPointsAmount decimal.Decimal   `json:"redeemed_reward_points_amount"`
}
