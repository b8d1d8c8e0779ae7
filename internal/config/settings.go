package config

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Settings содержит политику движка заказов. Значение передаётся в движок при создании и не меняется.
type Settings struct {
	Order        OrderSettings
	Payment      PaymentSettings
	Shipping     ShippingSettings
	RewardPoints RewardPointsSettings

	PrimaryStoreCurrencyCode string `env:"PRIMARY_STORE_CURRENCY" envDefault:"USD"`
}

// OrderSettings содержит настройки оформления и завершения заказов.
type OrderSettings struct {
	AnonymousCheckoutAllowed           bool            `env:"ORDER_ANONYMOUS_CHECKOUT_ALLOWED" envDefault:"true"`
	MinOrderSubtotalAmount             decimal.Decimal `env:"ORDER_MIN_SUBTOTAL" envDefault:"0"`
	MinOrderSubtotalAmountIncludingTax bool            `env:"ORDER_MIN_SUBTOTAL_INCLUDING_TAX"`
	MinOrderTotalAmount                decimal.Decimal `env:"ORDER_MIN_TOTAL" envDefault:"0"`
	CompleteOrderWhenDelivered         bool            `env:"ORDER_COMPLETE_WHEN_DELIVERED"`

	ActivateGiftCardsAfterCompletingOrder   bool `env:"ORDER_ACTIVATE_GIFT_CARDS_ON_COMPLETE" envDefault:"true"`
	DeactivateGiftCardsAfterCancellingOrder bool `env:"ORDER_DEACTIVATE_GIFT_CARDS_ON_CANCEL" envDefault:"true"`
	DeactivateGiftCardsAfterDeletingOrder   bool `env:"ORDER_DEACTIVATE_GIFT_CARDS_ON_DELETE" envDefault:"true"`
	DeleteGiftCardUsageHistory              bool `env:"ORDER_DELETE_GIFT_CARD_USAGE_HISTORY"`

	AttachPdfInvoiceToOrderPlacedEmail    bool `env:"ORDER_ATTACH_INVOICE_PLACED"`
	AttachPdfInvoiceToOrderPaidEmail      bool `env:"ORDER_ATTACH_INVOICE_PAID"`
	AttachPdfInvoiceToOrderCompletedEmail bool `env:"ORDER_ATTACH_INVOICE_COMPLETED"`

	ReturnRequestsEnabled              bool `env:"ORDER_RETURN_REQUESTS_ENABLED" envDefault:"true"`
	NumberOfDaysReturnRequestAvailable int  `env:"ORDER_RETURN_REQUEST_DAYS" envDefault:"365"`
}

// PaymentSettings содержит настройки обработки платежей.
type PaymentSettings struct {
	CancelRecurringPaymentsAfterFailedPayment bool `env:"PAYMENT_CANCEL_RECURRING_AFTER_FAILED"`
}

// ShippingSettings содержит настройки доставки.
type ShippingSettings struct {
	AllowPickupInStore bool `env:"SHIPPING_ALLOW_PICKUP_IN_STORE" envDefault:"true"`
}

// ActivationDelayPeriod описывает единицу задержки начисления бонусных баллов.
type ActivationDelayPeriod string

const (
	ActivationDelayHours ActivationDelayPeriod = "hours"
	ActivationDelayDays  ActivationDelayPeriod = "days"
)

// RewardPointsSettings содержит настройки бонусной программы.
type RewardPointsSettings struct {
	Enabled                     bool                  `env:"REWARD_POINTS_ENABLED" envDefault:"true"`
	PointsForPurchasesAmount    decimal.Decimal       `env:"REWARD_POINTS_PURCHASES_AMOUNT" envDefault:"10"`
	PointsForPurchasesPoints    int                   `env:"REWARD_POINTS_PURCHASES_POINTS" envDefault:"1"`
	MinOrderTotalToAwardPoints  decimal.Decimal       `env:"REWARD_POINTS_MIN_ORDER_TOTAL" envDefault:"0"`
	ExcludeShippingFromPoints   bool                  `env:"REWARD_POINTS_EXCLUDE_SHIPPING" envDefault:"true"`
	ActivationDelay             int                   `env:"REWARD_POINTS_ACTIVATION_DELAY" envDefault:"0"`
	ActivationDelayPeriod       ActivationDelayPeriod `env:"REWARD_POINTS_ACTIVATION_DELAY_PERIOD" envDefault:"days"`
	PurchasesPointsValidityDays int                   `env:"REWARD_POINTS_VALIDITY_DAYS" envDefault:"0"`
}

// ActivationDelayDuration переводит задержку начисления баллов в длительность.
func (s RewardPointsSettings) ActivationDelayDuration() time.Duration {
	if s.ActivationDelay <= 0 {
		return 0
	}
	hours := s.ActivationDelay
	if s.ActivationDelayPeriod == ActivationDelayDays {
		hours *= 24
	}
	return time.Duration(hours) * time.Hour
}

// DefaultSettings возвращает настройки со значениями по умолчанию.
func DefaultSettings() Settings {
	return Settings{
		Order: OrderSettings{
			AnonymousCheckoutAllowed:                true,
			ActivateGiftCardsAfterCompletingOrder:   true,
			DeactivateGiftCardsAfterCancellingOrder: true,
			DeactivateGiftCardsAfterDeletingOrder:   true,
			ReturnRequestsEnabled:                   true,
			NumberOfDaysReturnRequestAvailable:      365,
		},
		Shipping: ShippingSettings{AllowPickupInStore: true},
		RewardPoints: RewardPointsSettings{
			Enabled:                   true,
			PointsForPurchasesAmount:  decimal.NewFromInt(10),
			PointsForPurchasesPoints:  1,
			ExcludeShippingFromPoints: true,
			ActivationDelayPeriod:     ActivationDelayDays,
		},
		PrimaryStoreCurrencyCode: "USD",
	}
}

// Validate проверяет согласованность настроек.
func (s Settings) Validate() error {
	switch s.RewardPoints.ActivationDelayPeriod {
	case ActivationDelayHours, ActivationDelayDays:
	default:
		return fmt.Errorf("unknown reward points activation delay period %q", s.RewardPoints.ActivationDelayPeriod)
	}
	if s.Order.MinOrderSubtotalAmount.IsNegative() || s.Order.MinOrderTotalAmount.IsNegative() {
		return fmt.Errorf("minimum order amounts must not be negative")
	}
	return nil
}
