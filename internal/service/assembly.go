package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/order-lifecycle/internal/model"
	"github.com/mmeshcher/order-lifecycle/internal/payment"
	"github.com/mmeshcher/order-lifecycle/internal/validation"
)

// PlaceOrderDetails содержит снимок всего, что нужно для создания заказа.
// Значение принадлежит одному оформлению и не разделяется между вызовами.
type PlaceOrderDetails struct {
	Customer *model.Customer
	Cart     model.Cart

	IsRecurringCart      bool
	RecurringCycleLength int
	RecurringCyclePeriod model.CyclePeriod
	RecurringTotalCycles int

	CustomerCurrencyCode         string
	CustomerCurrencyRate         decimal.Decimal
	AffiliateID                  int64
	CheckoutAttributeDescription string
	CheckoutAttributesJSON       string

	BillingAddress  model.Address
	ShippingAddress *model.Address
	PickupAddress   *model.Address
	PickupInStore   bool
	ShippingStatus  model.ShippingStatus

	ShippingMethodName                      string
	ShippingRateComputationMethodSystemName string

	OrderSubtotalInclTax         decimal.Decimal
	OrderSubtotalExclTax         decimal.Decimal
	OrderSubtotalDiscountInclTax decimal.Decimal
	OrderSubtotalDiscountExclTax decimal.Decimal
	OrderShippingTotalInclTax    decimal.Decimal
	OrderShippingTotalExclTax    decimal.Decimal
	PaymentAdditionalFeeInclTax  decimal.Decimal
	PaymentAdditionalFeeExclTax  decimal.Decimal
	OrderTaxTotal                decimal.Decimal
	OrderDiscountAmount          decimal.Decimal
	OrderTotal                   decimal.Decimal

	AppliedDiscounts           []model.Discount
	AppliedGiftCards           []model.AppliedGiftCard
	RedeemedRewardPoints       int
	RedeemedRewardPointsAmount decimal.Decimal

	InitialOrder      *model.Order
	InitialOrderItems []model.OrderItem
}

func (d *PlaceOrderDetails) addDiscounts(discounts []model.Discount) {
	for _, discount := range discounts {
		exists := false
		for _, applied := range d.AppliedDiscounts {
			if applied.ID == discount.ID {
				exists = true
				break
			}
		}
		if !exists {
			d.AppliedDiscounts = append(d.AppliedDiscounts, discount)
		}
	}
}

// PreparePlaceOrderDetails собирает снимок заказа из корзины покупателя.
// Состояние хранилища не меняется; в запрос записываются итоговая сумма и параметры подписки.
func (s *Service) PreparePlaceOrderDetails(ctx context.Context, req *payment.ProcessPaymentRequest) (PlaceOrderDetails, error) {
	var details PlaceOrderDetails

	customer, err := s.customers.GetCustomer(ctx, req.CustomerID)
	if err != nil {
		return details, fmt.Errorf("load customer: %w", err)
	}
	if customer == nil {
		return details, validationError("Customer is not set")
	}
	details.Customer = customer

	if customer.IsGuest && !s.settings.Order.AnonymousCheckoutAllowed {
		return details, validationError("Anonymous checkout is not allowed")
	}

	if customer.AffiliateID > 0 {
		affiliate, err := s.customers.GetAffiliate(ctx, customer.AffiliateID)
		if err != nil {
			return details, fmt.Errorf("load affiliate: %w", err)
		}
		if affiliate != nil && affiliate.Active && !affiliate.Deleted {
			details.AffiliateID = affiliate.ID
		}
	}

	details.CheckoutAttributesJSON = customer.Checkout.CheckoutAttributesJSON
	details.CheckoutAttributeDescription = customer.Checkout.CheckoutAttributeDescription

	cart, err := s.cart.GetCart(ctx, customer.ID, req.StoreID)
	if err != nil {
		return details, fmt.Errorf("load cart: %w", err)
	}
	if len(cart.Items) == 0 {
		return details, validationError("Cart is empty")
	}
	details.Cart = cart

	warnings, err := s.cart.GetCartWarnings(ctx, cart, details.CheckoutAttributesJSON)
	if err != nil {
		return details, fmt.Errorf("cart warnings: %w", err)
	}
	for _, item := range cart.Items {
		itemWarnings, err := s.cart.GetItemWarnings(ctx, customer.ID, item)
		if err != nil {
			return details, fmt.Errorf("cart item warnings: %w", err)
		}
		warnings = append(warnings, itemWarnings...)
	}
	if len(warnings) > 0 {
		return details, validationError(warnings...)
	}

	if err := s.validateMinOrderAmounts(ctx, cart); err != nil {
		return details, err
	}

	if err := s.resolveCurrency(ctx, customer, &details); err != nil {
		return details, err
	}

	if err := s.resolveBillingAddress(ctx, customer, &details); err != nil {
		return details, err
	}
	if err := s.resolveShipping(ctx, customer, cart, &details); err != nil {
		return details, err
	}

	if cart.IsRecurring() {
		if err := s.resolveRecurringCycle(cart, &details); err != nil {
			return details, err
		}
		req.IsRecurringPayment = true
		req.RecurringCycleLength = details.RecurringCycleLength
		req.RecurringCyclePeriod = details.RecurringCyclePeriod
		req.RecurringTotalCycles = details.RecurringTotalCycles
	}

	if err := s.computeTotals(ctx, req, &details); err != nil {
		return details, err
	}

	req.OrderTotal = details.OrderTotal
	if req.CurrencyCode == "" {
		req.CurrencyCode = details.CustomerCurrencyCode
	}

	return details, nil
}

func (s *Service) validateMinOrderAmounts(ctx context.Context, cart model.Cart) error {
	cfg := s.settings.Order

	if cfg.MinOrderSubtotalAmount.IsPositive() {
		subtotal, err := s.cart.GetSubtotal(ctx, cart, cfg.MinOrderSubtotalAmountIncludingTax)
		if err != nil {
			return fmt.Errorf("cart subtotal: %w", err)
		}
		if subtotal.SubtotalWithoutDiscount.LessThan(cfg.MinOrderSubtotalAmount) {
			return validationError(fmt.Sprintf("Minimum order sub-total amount is %s", cfg.MinOrderSubtotalAmount.StringFixed(2)))
		}
	}

	if cfg.MinOrderTotalAmount.IsPositive() {
		total, err := s.cart.GetTotal(ctx, cart)
		if err != nil {
			return fmt.Errorf("cart total: %w", err)
		}
		if total.Total != nil && total.Total.LessThan(cfg.MinOrderTotalAmount) {
			return validationError(fmt.Sprintf("Minimum order total amount is %s", cfg.MinOrderTotalAmount.StringFixed(2)))
		}
	}

	return nil
}

func (s *Service) resolveCurrency(ctx context.Context, customer *model.Customer, details *PlaceOrderDetails) error {
	primaryCode := s.settings.PrimaryStoreCurrencyCode
	details.CustomerCurrencyCode = primaryCode
	details.CustomerCurrencyRate = decimal.NewFromInt(1)

	code := strings.TrimSpace(customer.CurrencyCode)
	if code == "" || strings.EqualFold(code, primaryCode) {
		return nil
	}

	currency, err := s.directory.GetCurrency(ctx, code)
	if err != nil {
		return fmt.Errorf("load currency: %w", err)
	}
	if currency == nil || !currency.Rate.IsPositive() {
		return nil
	}

	rate := currency.Rate
	primary, err := s.directory.GetCurrency(ctx, primaryCode)
	if err != nil {
		return fmt.Errorf("load primary currency: %w", err)
	}
	if primary != nil && primary.Rate.IsPositive() {
		rate = rate.Div(primary.Rate)
	}

	details.CustomerCurrencyCode = currency.Code
	details.CustomerCurrencyRate = rate
	return nil
}

func (s *Service) resolveBillingAddress(ctx context.Context, customer *model.Customer, details *PlaceOrderDetails) error {
	billing := customer.Checkout.BillingAddress
	if billing == nil {
		return validationError("Billing address is not provided")
	}
	if !validation.IsValidEmail(billing.Email) {
		return validationError("Email is not valid")
	}

	if billing.CountryCode != "" {
		country, err := s.directory.GetCountry(ctx, billing.CountryCode)
		if err != nil {
			return fmt.Errorf("load billing country: %w", err)
		}
		if country != nil && !country.AllowsBilling {
			return validationError(fmt.Sprintf("Country '%s' is not allowed for billing", country.Name))
		}
	}

	details.BillingAddress = *billing
	return nil
}

func (s *Service) resolveShipping(ctx context.Context, customer *model.Customer, cart model.Cart, details *PlaceOrderDetails) error {
	if !cart.RequiresShipping() {
		details.ShippingStatus = model.ShippingStatusNotRequired
		return nil
	}
	details.ShippingStatus = model.ShippingStatusNotYetShipped

	checkout := customer.Checkout
	if s.settings.Shipping.AllowPickupInStore && checkout.PickupPoint != nil {
		point := checkout.PickupPoint
		details.PickupInStore = true
		details.PickupAddress = &model.Address{
			CountryCode:   point.CountryCode,
			StateProvince: point.StateProvince,
			City:          point.City,
			Address1:      point.Address,
			ZipPostalCode: point.ZipPostalCode,
		}
		details.ShippingMethodName = fmt.Sprintf("Pickup at %s", point.Name)
		details.ShippingRateComputationMethodSystemName = point.ProviderSystemName
		return nil
	}

	shipping := checkout.ShippingAddress
	if shipping == nil {
		return validationError("Shipping address is not provided")
	}
	if !validation.IsValidEmail(shipping.Email) {
		return validationError("Email is not valid")
	}

	if shipping.CountryCode != "" {
		country, err := s.directory.GetCountry(ctx, shipping.CountryCode)
		if err != nil {
			return fmt.Errorf("load shipping country: %w", err)
		}
		if country != nil && !country.AllowsShipping {
			return validationError(fmt.Sprintf("Country '%s' is not allowed for shipping", country.Name))
		}
	}

	addr := *shipping
	details.ShippingAddress = &addr
	if option := checkout.ShippingOption; option != nil {
		details.ShippingMethodName = option.Name
		details.ShippingRateComputationMethodSystemName = option.ShippingRateComputationMethodSystemName
	}
	return nil
}

func (s *Service) resolveRecurringCycle(cart model.Cart, details *PlaceOrderDetails) error {
	var found bool
	for _, item := range cart.Items {
		product := item.Product
		if !product.IsRecurring {
			return validationError("Your cart has standard and recurring items. Only one product type is allowed per order")
		}
		if !found {
			details.RecurringCycleLength = product.RecurringCycleLength
			details.RecurringCyclePeriod = product.RecurringCyclePeriod
			details.RecurringTotalCycles = product.RecurringTotalCycles
			found = true
			continue
		}
		if details.RecurringCycleLength != product.RecurringCycleLength ||
			details.RecurringCyclePeriod != product.RecurringCyclePeriod ||
			details.RecurringTotalCycles != product.RecurringTotalCycles {
			return validationError("Your cart has auto-ship (recurring) items with conflicting shipment schedules. Only one schedule is allowed per order")
		}
	}
	if details.RecurringCycleLength <= 0 {
		return validationError("Recurring cycle length must be positive")
	}
	details.IsRecurringCart = true
	return nil
}

func (s *Service) computeTotals(ctx context.Context, req *payment.ProcessPaymentRequest, details *PlaceOrderDetails) error {
	cart := details.Cart

	subtotalIncl, err := s.cart.GetSubtotal(ctx, cart, true)
	if err != nil {
		return fmt.Errorf("cart subtotal: %w", err)
	}
	subtotalExcl, err := s.cart.GetSubtotal(ctx, cart, false)
	if err != nil {
		return fmt.Errorf("cart subtotal: %w", err)
	}
	details.OrderSubtotalInclTax = subtotalIncl.SubtotalWithoutDiscount
	details.OrderSubtotalDiscountInclTax = subtotalIncl.DiscountAmount
	details.OrderSubtotalExclTax = subtotalExcl.SubtotalWithoutDiscount
	details.OrderSubtotalDiscountExclTax = subtotalExcl.DiscountAmount
	details.addDiscounts(subtotalExcl.AppliedDiscounts)

	if cart.RequiresShipping() {
		shippingIncl, err := s.cart.GetShippingTotal(ctx, cart, true)
		if err != nil {
			return fmt.Errorf("cart shipping: %w", err)
		}
		shippingExcl, err := s.cart.GetShippingTotal(ctx, cart, false)
		if err != nil {
			return fmt.Errorf("cart shipping: %w", err)
		}
		if shippingIncl.Amount == nil || shippingExcl.Amount == nil {
			return validationError("Shipping total couldn't be calculated")
		}
		details.OrderShippingTotalInclTax = *shippingIncl.Amount
		details.OrderShippingTotalExclTax = *shippingExcl.Amount
		details.addDiscounts(shippingExcl.AppliedDiscounts)
	}

	if fee := s.payments.Capabilities(req.PaymentMethodSystemName).AdditionalFee; !fee.IsZero() {
		feeIncl, err := s.cart.GetPaymentMethodFee(ctx, cart, fee, true)
		if err != nil {
			return fmt.Errorf("payment method fee: %w", err)
		}
		feeExcl, err := s.cart.GetPaymentMethodFee(ctx, cart, fee, false)
		if err != nil {
			return fmt.Errorf("payment method fee: %w", err)
		}
		details.PaymentAdditionalFeeInclTax = feeIncl
		details.PaymentAdditionalFeeExclTax = feeExcl
	}

	tax, err := s.cart.GetTaxTotal(ctx, cart)
	if err != nil {
		return fmt.Errorf("cart tax: %w", err)
	}
	details.OrderTaxTotal = tax

	total, err := s.cart.GetTotal(ctx, cart)
	if err != nil {
		return fmt.Errorf("cart total: %w", err)
	}
	if total.Total == nil {
		return validationError("Order total couldn't be calculated")
	}
	details.OrderDiscountAmount = total.DiscountAmount
	details.RedeemedRewardPoints = total.RedeemedRewardPoints
	details.RedeemedRewardPointsAmount = total.RedeemedRewardPointsAmount
	details.AppliedGiftCards = total.AppliedGiftCards
	details.addDiscounts(total.AppliedDiscounts)
	details.OrderTotal = total.Total.Add(details.PaymentAdditionalFeeInclTax)

	return nil
}

// PrepareRecurringOrderDetails собирает снимок очередного заказа подписки.
// Цены, доставка и налоги копируются из первого заказа без пересчёта.
func (s *Service) PrepareRecurringOrderDetails(ctx context.Context, req *payment.ProcessPaymentRequest) (PlaceOrderDetails, error) {
	var details PlaceOrderDetails

	initial := req.InitialOrder
	if initial == nil {
		return details, fmt.Errorf("%w: initial order is not set for recurring payment", ErrRecurringPayment)
	}
	details.InitialOrder = initial

	customer, err := s.customers.GetCustomer(ctx, req.CustomerID)
	if err != nil {
		return details, fmt.Errorf("load customer: %w", err)
	}
	if customer == nil {
		return details, validationError("Customer is not set")
	}
	details.Customer = customer

	details.AffiliateID = initial.AffiliateID
	details.CheckoutAttributeDescription = initial.CheckoutAttributeDescription
	details.CustomerCurrencyCode = initial.CustomerCurrencyCode
	details.CustomerCurrencyRate = initial.CurrencyRate

	billing, err := s.orders.GetAddressByID(ctx, initial.BillingAddressID)
	if err != nil {
		return details, fmt.Errorf("load billing address: %w", err)
	}
	details.BillingAddress = *billing

	details.ShippingStatus = model.ShippingStatusNotRequired
	if initial.ShippingStatus != model.ShippingStatusNotRequired {
		details.ShippingStatus = model.ShippingStatusNotYetShipped
		details.PickupInStore = initial.PickupInStore
		if initial.PickupInStore && initial.PickupAddressID != nil {
			pickup, err := s.orders.GetAddressByID(ctx, *initial.PickupAddressID)
			if err != nil {
				return details, fmt.Errorf("load pickup address: %w", err)
			}
			details.PickupAddress = pickup
		} else if initial.ShippingAddressID != nil {
			shipping, err := s.orders.GetAddressByID(ctx, *initial.ShippingAddressID)
			if err != nil {
				return details, fmt.Errorf("load shipping address: %w", err)
			}
			details.ShippingAddress = shipping
		}
		details.ShippingMethodName = initial.ShippingMethod
		details.ShippingRateComputationMethodSystemName = initial.ShippingRateComputationMethodSystemName
	}

	details.OrderSubtotalInclTax = initial.OrderSubtotalInclTax
	details.OrderSubtotalExclTax = initial.OrderSubtotalExclTax
	details.OrderSubtotalDiscountInclTax = initial.OrderSubtotalDiscountInclTax
	details.OrderSubtotalDiscountExclTax = initial.OrderSubtotalDiscountExclTax
	details.OrderShippingTotalInclTax = initial.OrderShippingInclTax
	details.OrderShippingTotalExclTax = initial.OrderShippingExclTax
	details.PaymentAdditionalFeeInclTax = initial.PaymentMethodFeeInclTax
	details.PaymentAdditionalFeeExclTax = initial.PaymentMethodFeeExclTax
	details.OrderTaxTotal = initial.OrderTax
	details.OrderDiscountAmount = initial.OrderDiscount
	details.OrderTotal = initial.OrderTotal

	items, err := s.orders.GetOrderItems(ctx, initial.ID)
	if err != nil {
		return details, fmt.Errorf("load initial order items: %w", err)
	}
	details.InitialOrderItems = items

	req.OrderTotal = details.OrderTotal
	if req.CurrencyCode == "" {
		req.CurrencyCode = details.CustomerCurrencyCode
	}

	return details, nil
}
