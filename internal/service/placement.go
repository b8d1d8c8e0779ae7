package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/mmeshcher/order-lifecycle/internal/model"
	"github.com/mmeshcher/order-lifecycle/internal/payment"
)

// PlaceOrderResult содержит результат оформления заказа.
// Diagnostics собирает нефатальные сбои побочных каналов, например уведомлений.
type PlaceOrderResult struct {
	PlacedOrder *model.Order
	Errors      []string
	Diagnostics []string
}

// Success сообщает, что заказ создан и ошибок нет.
func (r *PlaceOrderResult) Success() bool {
	return r.PlacedOrder != nil && len(r.Errors) == 0
}

// AddError добавляет ошибку.
func (r *PlaceOrderResult) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
}

// PlaceOrder оформляет заказ из корзины покупателя. Паника и ошибки любого шага
// не выходят наружу, а возвращаются списком ошибок результата.
func (s *Service) PlaceOrder(ctx context.Context, req *payment.ProcessPaymentRequest) (result PlaceOrderResult) {
	ctx, span := s.tracer.Start(ctx, "PlaceOrder")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("customer_id", req.CustomerID),
		attribute.String("order_guid", req.OrderGUID.String()),
	)

	defer func() {
		if rec := recover(); rec != nil {
			result.AddError(fmt.Sprint(rec))
		}
		if result.Success() {
			s.metrics.OrderPlaced()
			return
		}
		s.metrics.OrderPlacementFailed()
		span.SetStatus(codes.Error, "place order failed")
		s.logPlacementErrors(req, result.Errors)
	}()

	if req.OrderGUID == uuid.Nil {
		result.AddError("Order GUID is not generated")
		return result
	}

	details, err := s.PreparePlaceOrderDetails(ctx, req)
	if err != nil {
		result.Errors = append(result.Errors, errorMessages(err)...)
		return result
	}

	payRes := s.getProcessPaymentResult(ctx, req, details)
	if !payRes.Success() {
		result.Errors = append(result.Errors, payRes.Errors...)
		return result
	}

	order, err := s.saveOrderDetails(ctx, req, payRes, details)
	if err != nil {
		result.AddError(err.Error())
		return result
	}
	result.PlacedOrder = order

	if err := s.completePlacement(ctx, order, details, &result); err != nil {
		result.AddError(err.Error())
	}
	return result
}

func (s *Service) completePlacement(ctx context.Context, order *model.Order, details PlaceOrderDetails, result *PlaceOrderResult) error {
	if err := s.moveCartItemsToOrderItems(ctx, details, order); err != nil {
		return err
	}
	if err := s.saveDiscountUsage(ctx, details, order); err != nil {
		return err
	}
	if err := s.saveGiftCardUsage(ctx, details, order); err != nil {
		return err
	}
	if details.IsRecurringCart {
		if err := s.createFirstRecurringPayment(ctx, details, order); err != nil {
			return err
		}
	}

	diagnostics, err := s.sendPlacedNotifications(ctx, order)
	if err != nil {
		return err
	}
	result.Diagnostics = append(result.Diagnostics, diagnostics...)

	if err := s.customers.ResetCheckoutData(ctx, order.CustomerID, order.StoreID); err != nil {
		return fmt.Errorf("reset checkout data: %w", err)
	}

	if err := s.CheckOrderStatus(ctx, order); err != nil {
		return err
	}

	s.publish(ctx, model.EventOrderPlaced, order, order.OrderTotal)

	if order.PaymentStatus == model.PaymentStatusPaid {
		diagnostics, err := s.processOrderPaid(ctx, order)
		if err != nil {
			return err
		}
		result.Diagnostics = append(result.Diagnostics, diagnostics...)
	}
	return nil
}

func (s *Service) logPlacementErrors(req *payment.ProcessPaymentRequest, errs []string) {
	var b strings.Builder
	b.WriteString("Error while placing order. ")
	for i, e := range errs {
		fmt.Fprintf(&b, "Error %d: %s. ", i+1, e)
	}
	s.logger.Error(b.String(),
		zap.Int64("customer_id", req.CustomerID),
		zap.String("order_guid", req.OrderGUID.String()),
	)
}

func errorMessages(err error) []string {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Errors
	}
	return []string{err.Error()}
}

func (s *Service) getProcessPaymentResult(ctx context.Context, req *payment.ProcessPaymentRequest, details PlaceOrderDetails) payment.ProcessPaymentResult {
	var res payment.ProcessPaymentResult

	if details.OrderTotal.IsZero() {
		res.NewPaymentStatus = model.PaymentStatusPaid
		return res
	}

	gateway, err := s.payments.Gateway(req.PaymentMethodSystemName)
	if err != nil {
		res.AddError("Payment method couldn't be loaded")
		return res
	}

	if !details.IsRecurringCart {
		res, err = gateway.ProcessPayment(ctx, *req)
		s.metrics.GatewayCall("process_payment", err == nil && res.Success())
		if err != nil {
			res.AddError(err.Error())
		}
		return res
	}

	switch gateway.Capabilities().Recurring {
	case payment.RecurringNotSupported:
		res.AddError("Recurring payments are not supported by selected payment method")
	case payment.RecurringManual, payment.RecurringAutomatic:
		res, err = gateway.ProcessRecurringPayment(ctx, *req)
		s.metrics.GatewayCall("process_recurring_payment", err == nil && res.Success())
		if err != nil {
			res.AddError(err.Error())
		}
	default:
		res.AddError("Not supported recurring payment type")
	}
	return res
}

func (s *Service) saveOrderDetails(ctx context.Context, req *payment.ProcessPaymentRequest, payRes payment.ProcessPaymentResult, details PlaceOrderDetails) (*model.Order, error) {
	billing := details.BillingAddress
	billing.ID = 0
	if err := s.orders.InsertAddress(ctx, &billing); err != nil {
		return nil, fmt.Errorf("save billing address: %w", err)
	}

	var shippingID, pickupID *int64
	if details.ShippingAddress != nil {
		addr := *details.ShippingAddress
		addr.ID = 0
		if err := s.orders.InsertAddress(ctx, &addr); err != nil {
			return nil, fmt.Errorf("save shipping address: %w", err)
		}
		shippingID = &addr.ID
	}
	if details.PickupAddress != nil {
		addr := *details.PickupAddress
		addr.ID = 0
		if err := s.orders.InsertAddress(ctx, &addr); err != nil {
			return nil, fmt.Errorf("save pickup address: %w", err)
		}
		pickupID = &addr.ID
	}

	customValues := make(map[string]string, len(req.CustomValues))
	for k, v := range req.CustomValues {
		customValues[k] = v
	}

	order := &model.Order{
		OrderGUID:                    req.OrderGUID,
		StoreID:                      req.StoreID,
		CustomerID:                   details.Customer.ID,
		BillingAddressID:             billing.ID,
		ShippingAddressID:            shippingID,
		PickupAddressID:              pickupID,
		PickupInStore:                details.PickupInStore,
		OrderStatus:                  model.OrderStatusPending,
		ShippingStatus:               details.ShippingStatus,
		PaymentStatus:                payRes.NewPaymentStatus,
		PaymentMethodSystemName:      req.PaymentMethodSystemName,
		CustomerCurrencyCode:         details.CustomerCurrencyCode,
		CurrencyRate:                 details.CustomerCurrencyRate,
		OrderSubtotalInclTax:         details.OrderSubtotalInclTax,
		OrderSubtotalExclTax:         details.OrderSubtotalExclTax,
		OrderSubtotalDiscountInclTax: details.OrderSubtotalDiscountInclTax,
		OrderSubtotalDiscountExclTax: details.OrderSubtotalDiscountExclTax,
		OrderShippingInclTax:         details.OrderShippingTotalInclTax,
		OrderShippingExclTax:         details.OrderShippingTotalExclTax,
		PaymentMethodFeeInclTax:      details.PaymentAdditionalFeeInclTax,
		PaymentMethodFeeExclTax:      details.PaymentAdditionalFeeExclTax,
		OrderTax:                     details.OrderTaxTotal,
		OrderDiscount:                details.OrderDiscountAmount,
		OrderTotal:                   details.OrderTotal,
		RefundedAmount:               decimal.Zero,
		CheckoutAttributeDescription: details.CheckoutAttributeDescription,
		AffiliateID:                  details.AffiliateID,
		CustomerIP:                   req.CustomerIP,

		AuthorizationTransactionID:     payRes.AuthorizationTransactionID,
		AuthorizationTransactionCode:   payRes.AuthorizationTransactionCode,
		AuthorizationTransactionResult: payRes.AuthorizationTransactionResult,
		CaptureTransactionID:           payRes.CaptureTransactionID,
		CaptureTransactionResult:       payRes.CaptureTransactionResult,
		SubscriptionTransactionID:      payRes.SubscriptionTransactionID,

		ShippingMethod:                          details.ShippingMethodName,
		ShippingRateComputationMethodSystemName: details.ShippingRateComputationMethodSystemName,
		CustomValues:                            customValues,
		CreatedOn:                               s.now().UTC(),
	}

	if err := s.orders.InsertOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("save order: %w", err)
	}

	order.CustomOrderNumber = strconv.FormatInt(order.ID, 10)

	if details.RedeemedRewardPoints > 0 {
		guid := order.OrderGUID
		entry := &model.RewardPointsEntry{
			CustomerID: order.CustomerID,
			StoreID:    order.StoreID,
			Points:     -details.RedeemedRewardPoints,
			UsedAmount: details.RedeemedRewardPointsAmount,
			Message:    fmt.Sprintf("Redeemed for order #%s", order.CustomOrderNumber),
			OrderGUID:  &guid,
			CreatedOn:  s.now().UTC(),
		}
		if err := s.rewardPoints.AddHistoryEntry(ctx, entry); err != nil {
			return nil, fmt.Errorf("redeem reward points: %w", err)
		}
		order.RedeemedRewardPointsID = &entry.ID
	}

	if err := s.orders.UpdateOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("update order: %w", err)
	}

	return order, nil
}

func (s *Service) moveCartItemsToOrderItems(ctx context.Context, details PlaceOrderDetails, order *model.Order) error {
	for _, cartItem := range details.Cart.Items {
		item := &model.OrderItem{
			OrderItemGUID:         s.newGUID(),
			OrderID:               order.ID,
			ProductID:             cartItem.Product.ID,
			VendorID:              cartItem.Product.VendorID,
			Quantity:              cartItem.Quantity,
			UnitPriceInclTax:      cartItem.UnitPriceInclTax,
			UnitPriceExclTax:      cartItem.UnitPriceExclTax,
			PriceInclTax:          cartItem.SubtotalInclTax,
			PriceExclTax:          cartItem.SubtotalExclTax,
			DiscountAmountInclTax: cartItem.DiscountAmountInclTax,
			DiscountAmountExclTax: cartItem.DiscountAmountExclTax,
			OriginalProductCost:   cartItem.ProductCost,
			AttributeDescription:  cartItem.AttributeDescription,
			AttributesJSON:        cartItem.AttributesJSON,
			ItemWeight:            cartItem.ItemWeight,
			IsShipEnabled:         cartItem.Product.IsShipEnabled,
			RentalStartDate:       cartItem.RentalStartDate,
			RentalEndDate:         cartItem.RentalEndDate,
		}
		if err := s.orders.InsertOrderItem(ctx, item); err != nil {
			return fmt.Errorf("save order item: %w", err)
		}

		if cartItem.Product.IsGiftCard {
			amount := cartItem.UnitPriceExclTax
			if cartItem.Product.OverriddenGiftCardAmount != nil {
				amount = *cartItem.Product.OverriddenGiftCardAmount
			}
			attrs := model.ParseGiftCardAttributes(cartItem.AttributesJSON)
			for i := 0; i < cartItem.Quantity; i++ {
				gc := &model.GiftCard{
					GiftCardType:   cartItem.Product.GiftCardType,
					Amount:         amount,
					CouponCode:     s.generateGiftCardCode(),
					RecipientName:  attrs.RecipientName,
					RecipientEmail: attrs.RecipientEmail,
					SenderName:     attrs.SenderName,
					SenderEmail:    attrs.SenderEmail,
					Message:        attrs.Message,
					CreatedOn:      s.now().UTC(),
				}
				gc.PurchasedWithOrderItemID = &item.ID
				if err := s.giftCards.InsertGiftCard(ctx, gc); err != nil {
					return fmt.Errorf("save gift card: %w", err)
				}
			}
		}

		msg := fmt.Sprintf("The stock quantity has been reduced by placing the order #%d", order.ID)
		if err := s.inventory.AdjustInventory(ctx, item.ProductID, -item.Quantity, item.AttributesJSON, msg); err != nil {
			return fmt.Errorf("adjust inventory: %w", err)
		}
	}

	if err := s.cart.ClearCart(ctx, order.CustomerID, order.StoreID); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}

func (s *Service) saveDiscountUsage(ctx context.Context, details PlaceOrderDetails, order *model.Order) error {
	for _, discount := range details.AppliedDiscounts {
		usage := &model.DiscountUsage{
			DiscountID: discount.ID,
			OrderID:    order.ID,
			CreatedOn:  s.now().UTC(),
		}
		if err := s.orders.InsertDiscountUsage(ctx, usage); err != nil {
			return fmt.Errorf("save discount usage: %w", err)
		}
	}
	return nil
}

func (s *Service) saveGiftCardUsage(ctx context.Context, details PlaceOrderDetails, order *model.Order) error {
	for _, applied := range details.AppliedGiftCards {
		usage := &model.GiftCardUsage{
			GiftCardID:      applied.GiftCard.ID,
			UsedWithOrderID: order.ID,
			UsedValue:       applied.AmountCanBeUsed,
			CreatedOn:       s.now().UTC(),
		}
		if err := s.giftCards.InsertUsageHistory(ctx, usage); err != nil {
			return fmt.Errorf("save gift card usage: %w", err)
		}
	}
	return nil
}

func (s *Service) createFirstRecurringPayment(ctx context.Context, details PlaceOrderDetails, order *model.Order) error {
	now := s.now().UTC()
	rp := &model.RecurringPayment{
		CycleLength:    details.RecurringCycleLength,
		CyclePeriod:    details.RecurringCyclePeriod,
		TotalCycles:    details.RecurringTotalCycles,
		StartDate:      now,
		IsActive:       true,
		InitialOrderID: order.ID,
		CreatedOn:      now,
	}
	if err := s.orders.InsertRecurringPayment(ctx, rp); err != nil {
		return fmt.Errorf("save recurring payment: %w", err)
	}

	switch s.payments.Capabilities(order.PaymentMethodSystemName).Recurring {
	case payment.RecurringManual:
		h := &model.RecurringPaymentHistory{
			RecurringPaymentID: rp.ID,
			OrderID:            order.ID,
			CreatedOn:          now,
		}
		if err := s.orders.InsertRecurringPaymentHistory(ctx, h); err != nil {
			return fmt.Errorf("save recurring payment history: %w", err)
		}
	case payment.RecurringAutomatic, payment.RecurringNotSupported:
	}
	return nil
}

func (s *Service) sendPlacedNotifications(ctx context.Context, order *model.Order) ([]string, error) {
	if err := s.addOrderNote(ctx, order, "Order placed"); err != nil {
		return nil, fmt.Errorf("add order note: %w", err)
	}

	var diagnostics []string
	collect := func(d string) {
		if d != "" {
			diagnostics = append(diagnostics, d)
		}
	}

	collect(s.notify(ctx, order, `"Order placed" email (to store owner)`, func(ctx context.Context) ([]string, error) {
		return s.notifier.SendOrderPlacedStoreOwner(ctx, order)
	}))
	collect(s.notify(ctx, order, `"Order placed" email (to customer)`, func(ctx context.Context) ([]string, error) {
		return s.notifier.SendOrderPlacedCustomer(ctx, order, s.settings.Order.AttachPdfInvoiceToOrderPlacedEmail)
	}))

	vendors, err := s.orderVendors(ctx, order)
	if err != nil {
		return diagnostics, err
	}
	for _, vendorID := range vendors {
		collect(s.notify(ctx, order, `"Order placed" email (to vendor)`, func(ctx context.Context) ([]string, error) {
			return s.notifier.SendOrderPlacedVendor(ctx, order, vendorID)
		}))
	}

	if order.AffiliateID > 0 {
		collect(s.notify(ctx, order, `"Order placed" email (to affiliate)`, func(ctx context.Context) ([]string, error) {
			return s.notifier.SendOrderPlacedAffiliate(ctx, order, order.AffiliateID)
		}))
	}

	return diagnostics, nil
}

func (s *Service) orderVendors(ctx context.Context, order *model.Order) ([]int64, error) {
	items, err := s.orders.GetOrderItems(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	seen := make(map[int64]struct{})
	var vendors []int64
	for _, item := range items {
		if item.VendorID == 0 {
			continue
		}
		if _, ok := seen[item.VendorID]; ok {
			continue
		}
		seen[item.VendorID] = struct{}{}
		vendors = append(vendors, item.VendorID)
	}
	return vendors, nil
}

// notify ставит уведомление и пишет результат в журнал заказа.
// Сбой отправки не прерывает операцию и возвращается как диагностика.
func (s *Service) notify(ctx context.Context, order *model.Order, label string, send func(context.Context) ([]string, error)) string {
	if s.notifier == nil {
		return ""
	}

	ids, err := send(ctx)
	if err != nil {
		diagnostic := fmt.Sprintf("%s could not be queued. %v", label, err)
		s.logger.Warn("queue notification",
			zap.Int64("order_id", order.ID),
			zap.String("notification", label),
			zap.Error(err),
		)
		if noteErr := s.addOrderNote(ctx, order, diagnostic); noteErr != nil {
			s.logger.Error("add order note", zap.Int64("order_id", order.ID), zap.Error(noteErr))
		}
		return diagnostic
	}

	if len(ids) > 0 {
		note := fmt.Sprintf("%s has been queued. Queued email identifiers: %s.", label, strings.Join(ids, ", "))
		if noteErr := s.addOrderNote(ctx, order, note); noteErr != nil {
			s.logger.Error("add order note", zap.Int64("order_id", order.ID), zap.Error(noteErr))
		}
	}
	return ""
}

func (s *Service) generateGiftCardCode() string {
	code := strings.ReplaceAll(s.newGUID().String(), "-", "")
	return strings.ToUpper(code[:13])
}
