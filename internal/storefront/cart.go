package storefront

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/order-lifecycle/internal/model"
)

type cartRequest struct {
	Cart                   model.Cart `json:"cart"`
	CheckoutAttributesJSON string     `json:"checkout_attributes,omitempty"`
}

type itemRequest struct {
	CustomerID int64          `json:"customer_id"`
	Item       model.CartItem `json:"item"`
}

type warningsResponse struct {
	Warnings []string `json:"warnings"`
}

type taxResponse struct {
	Tax decimal.Decimal `json:"tax"`
}

type feeRequest struct {
	Cart model.Cart      `json:"cart"`
	Fee  decimal.Decimal `json:"fee"`
}

type feeResponse struct {
	Fee decimal.Decimal `json:"fee"`
}

func cartPath(customerID, storeID int64) string {
	return fmt.Sprintf("/api/customers/%d/stores/%d/cart", customerID, storeID)
}

// GetCart возвращает корзину покупателя в магазине.
func (c *Client) GetCart(ctx context.Context, customerID, storeID int64) (model.Cart, error) {
	var cart model.Cart
	found, err := c.getOptional(ctx, cartPath(customerID, storeID), &cart)
	if err != nil {
		return model.Cart{}, fmt.Errorf("get cart: %w", err)
	}
	if !found {
		return model.Cart{CustomerID: customerID, StoreID: storeID}, nil
	}
	return cart, nil
}

// GetCartWarnings проверяет корзину целиком вместе с атрибутами оформления.
func (c *Client) GetCartWarnings(ctx context.Context, cart model.Cart, checkoutAttributesJSON string) ([]string, error) {
	var resp warningsResponse
	if err := c.do(ctx, http.MethodPost, "/api/cart/warnings", cartRequest{Cart: cart, CheckoutAttributesJSON: checkoutAttributesJSON}, &resp); err != nil {
		return nil, fmt.Errorf("get cart warnings: %w", err)
	}
	return resp.Warnings, nil
}

// GetItemWarnings проверяет одну позицию корзины.
func (c *Client) GetItemWarnings(ctx context.Context, customerID int64, item model.CartItem) ([]string, error) {
	var resp warningsResponse
	if err := c.do(ctx, http.MethodPost, "/api/cart/item-warnings", itemRequest{CustomerID: customerID, Item: item}, &resp); err != nil {
		return nil, fmt.Errorf("get item warnings: %w", err)
	}
	return resp.Warnings, nil
}

// GetSubtotal рассчитывает подытог корзины.
func (c *Client) GetSubtotal(ctx context.Context, cart model.Cart, includingTax bool) (model.CartSubtotal, error) {
	var res model.CartSubtotal
	path := "/api/cart/subtotal?include_tax=" + strconv.FormatBool(includingTax)
	if err := c.do(ctx, http.MethodPost, path, cartRequest{Cart: cart}, &res); err != nil {
		return model.CartSubtotal{}, fmt.Errorf("get subtotal: %w", err)
	}
	return res, nil
}

// GetShippingTotal рассчитывает стоимость доставки корзины.
func (c *Client) GetShippingTotal(ctx context.Context, cart model.Cart, includingTax bool) (model.CartShipping, error) {
	var res model.CartShipping
	path := "/api/cart/shipping?include_tax=" + strconv.FormatBool(includingTax)
	if err := c.do(ctx, http.MethodPost, path, cartRequest{Cart: cart}, &res); err != nil {
		return model.CartShipping{}, fmt.Errorf("get shipping total: %w", err)
	}
	return res, nil
}

// GetTaxTotal рассчитывает налог корзины.
func (c *Client) GetTaxTotal(ctx context.Context, cart model.Cart) (decimal.Decimal, error) {
	var res taxResponse
	if err := c.do(ctx, http.MethodPost, "/api/cart/tax", cartRequest{Cart: cart}, &res); err != nil {
		return decimal.Zero, fmt.Errorf("get tax total: %w", err)
	}
	return res.Tax, nil
}

// GetPaymentMethodFee пересчитывает наценку способа оплаты с налогом или без него
// по налоговым правилам покупателя корзины.
func (c *Client) GetPaymentMethodFee(ctx context.Context, cart model.Cart, fee decimal.Decimal, includingTax bool) (decimal.Decimal, error) {
	var res feeResponse
	path := "/api/cart/payment-fee?include_tax=" + strconv.FormatBool(includingTax)
	if err := c.do(ctx, http.MethodPost, path, feeRequest{Cart: cart, Fee: fee}, &res); err != nil {
		return decimal.Zero, fmt.Errorf("get payment method fee: %w", err)
	}
	return res.Fee, nil
}

// GetTotal рассчитывает итог корзины.
func (c *Client) GetTotal(ctx context.Context, cart model.Cart) (model.CartTotal, error) {
	var res model.CartTotal
	if err := c.do(ctx, http.MethodPost, "/api/cart/total", cartRequest{Cart: cart}, &res); err != nil {
		return model.CartTotal{}, fmt.Errorf("get total: %w", err)
	}
	return res, nil
}

// AddToCart добавляет позицию в корзину и возвращает предупреждения витрины.
func (c *Client) AddToCart(ctx context.Context, customerID, storeID int64, item model.CartItem) ([]string, error) {
	var resp warningsResponse
	if err := c.do(ctx, http.MethodPost, cartPath(customerID, storeID)+"/items", item, &resp); err != nil {
		return nil, fmt.Errorf("add to cart: %w", err)
	}
	return resp.Warnings, nil
}

// ClearCart очищает корзину после оформления заказа.
func (c *Client) ClearCart(ctx context.Context, customerID, storeID int64) error {
	if err := c.do(ctx, http.MethodDelete, cartPath(customerID, storeID), nil, nil); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}
