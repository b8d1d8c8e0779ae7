package storefront

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/mmeshcher/order-lifecycle/internal/model"
)

// GetCustomer возвращает покупателя или nil, если он не найден.
func (c *Client) GetCustomer(ctx context.Context, id int64) (*model.Customer, error) {
	var customer model.Customer
	found, err := c.getOptional(ctx, fmt.Sprintf("/api/customers/%d", id), &customer)
	if err != nil {
		return nil, fmt.Errorf("get customer: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &customer, nil
}

// GetAffiliate возвращает партнёра или nil, если он не найден.
func (c *Client) GetAffiliate(ctx context.Context, id int64) (*model.Affiliate, error) {
	var affiliate model.Affiliate
	found, err := c.getOptional(ctx, fmt.Sprintf("/api/affiliates/%d", id), &affiliate)
	if err != nil {
		return nil, fmt.Errorf("get affiliate: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &affiliate, nil
}

// ResetCheckoutData сбрасывает выбор покупателя на шаге оформления.
func (c *Client) ResetCheckoutData(ctx context.Context, customerID, storeID int64) error {
	path := fmt.Sprintf("/api/customers/%d/stores/%d/checkout", customerID, storeID)
	if err := c.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("reset checkout data: %w", err)
	}
	return nil
}

type rolesResponse struct {
	RoleIDs []int64 `json:"role_ids"`
}

// GetRolesPurchasedWithProduct возвращает роли, которые выдаются при покупке товара.
func (c *Client) GetRolesPurchasedWithProduct(ctx context.Context, productID int64) ([]int64, error) {
	var resp rolesResponse
	found, err := c.getOptional(ctx, fmt.Sprintf("/api/products/%d/purchase-roles", productID), &resp)
	if err != nil {
		return nil, fmt.Errorf("get purchase roles: %w", err)
	}
	if !found {
		return nil, nil
	}
	return resp.RoleIDs, nil
}

// AddCustomerRole добавляет покупателя в роль.
func (c *Client) AddCustomerRole(ctx context.Context, customerID, roleID int64) error {
	path := fmt.Sprintf("/api/customers/%d/roles/%d", customerID, roleID)
	if err := c.do(ctx, http.MethodPut, path, nil, nil); err != nil {
		return fmt.Errorf("add customer role: %w", err)
	}
	return nil
}

// GetCountry возвращает страну по ISO-коду или nil.
func (c *Client) GetCountry(ctx context.Context, code string) (*model.Country, error) {
	var country model.Country
	found, err := c.getOptional(ctx, "/api/countries/"+url.PathEscape(code), &country)
	if err != nil {
		return nil, fmt.Errorf("get country: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &country, nil
}

// GetCurrency возвращает валюту по коду или nil.
func (c *Client) GetCurrency(ctx context.Context, code string) (*model.Currency, error) {
	var currency model.Currency
	found, err := c.getOptional(ctx, "/api/currencies/"+url.PathEscape(code), &currency)
	if err != nil {
		return nil, fmt.Errorf("get currency: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &currency, nil
}

// GetProduct возвращает товар каталога или nil.
func (c *Client) GetProduct(ctx context.Context, id int64) (*model.Product, error) {
	var product model.Product
	found, err := c.getOptional(ctx, fmt.Sprintf("/api/products/%d", id), &product)
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &product, nil
}
