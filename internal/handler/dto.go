package handler

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/order-lifecycle/internal/model"
	"github.com/mmeshcher/order-lifecycle/internal/service"
)

const timeLayout = time.RFC3339

type orderItemResponse struct {
	ID                   int64           `json:"id"`
	ProductID            int64           `json:"product_id"`
	Quantity             int             `json:"quantity"`
	UnitPriceInclTax     decimal.Decimal `json:"unit_price_incl_tax"`
	PriceInclTax         decimal.Decimal `json:"price_incl_tax"`
	AttributeDescription string          `json:"attribute_description,omitempty"`
}

type orderNoteResponse struct {
	Note      string `json:"note"`
	CreatedOn string `json:"created_on"`
}

type orderResponse struct {
	ID                int64               `json:"id"`
	OrderGUID         string              `json:"order_guid"`
	CustomOrderNumber string              `json:"custom_order_number"`
	StoreID           int64               `json:"store_id"`
	CustomerID        int64               `json:"customer_id"`
	OrderStatus       string              `json:"order_status"`
	PaymentStatus     string              `json:"payment_status"`
	ShippingStatus    string              `json:"shipping_status"`
	PaymentMethod     string              `json:"payment_method"`
	CurrencyCode      string              `json:"currency_code"`
	OrderSubtotal     decimal.Decimal     `json:"order_subtotal"`
	OrderShipping     decimal.Decimal     `json:"order_shipping"`
	OrderTax          decimal.Decimal     `json:"order_tax"`
	OrderDiscount     decimal.Decimal     `json:"order_discount"`
	OrderTotal        decimal.Decimal     `json:"order_total"`
	RefundedAmount    decimal.Decimal     `json:"refunded_amount"`
	PaidDate          string              `json:"paid_date,omitempty"`
	CreatedOn         string              `json:"created_on"`
	Items             []orderItemResponse `json:"items,omitempty"`
	Notes             []orderNoteResponse `json:"notes,omitempty"`
}

func newOrderResponse(o *model.Order) orderResponse {
	resp := orderResponse{
		ID:                o.ID,
		OrderGUID:         o.OrderGUID.String(),
		CustomOrderNumber: o.CustomOrderNumber,
		StoreID:           o.StoreID,
		CustomerID:        o.CustomerID,
		OrderStatus:       string(o.OrderStatus),
		PaymentStatus:     string(o.PaymentStatus),
		ShippingStatus:    string(o.ShippingStatus),
		PaymentMethod:     o.PaymentMethodSystemName,
		CurrencyCode:      o.CustomerCurrencyCode,
		OrderSubtotal:     o.OrderSubtotalInclTax,
		OrderShipping:     o.OrderShippingInclTax,
		OrderTax:          o.OrderTax,
		OrderDiscount:     o.OrderDiscount,
		OrderTotal:        o.OrderTotal,
		RefundedAmount:    o.RefundedAmount,
		CreatedOn:         o.CreatedOn.Format(timeLayout),
	}
	if o.PaidDate != nil {
		resp.PaidDate = o.PaidDate.Format(timeLayout)
	}
	return resp
}

type shipmentResponse struct {
	ID             int64                  `json:"id"`
	OrderID        int64                  `json:"order_id"`
	TrackingNumber string                 `json:"tracking_number,omitempty"`
	TotalWeight    *decimal.Decimal       `json:"total_weight,omitempty"`
	ShippedDate    string                 `json:"shipped_date,omitempty"`
	DeliveryDate   string                 `json:"delivery_date,omitempty"`
	Items          []service.ShipmentLine `json:"items"`
}

func newShipmentResponse(s *model.Shipment) shipmentResponse {
	resp := shipmentResponse{
		ID:             s.ID,
		OrderID:        s.OrderID,
		TrackingNumber: s.TrackingNumber,
		TotalWeight:    s.TotalWeight,
		Items:          make([]service.ShipmentLine, 0, len(s.Items)),
	}
	if s.ShippedDate != nil {
		resp.ShippedDate = s.ShippedDate.Format(timeLayout)
	}
	if s.DeliveryDate != nil {
		resp.DeliveryDate = s.DeliveryDate.Format(timeLayout)
	}
	for _, si := range s.Items {
		resp.Items = append(resp.Items, service.ShipmentLine{
			OrderItemID: si.OrderItemID,
			Quantity:    si.Quantity,
			WarehouseID: si.WarehouseID,
		})
	}
	return resp
}

type recurringPaymentResponse struct {
	ID                int64  `json:"id"`
	InitialOrderID    int64  `json:"initial_order_id"`
	CycleLength       int    `json:"cycle_length"`
	CyclePeriod       string `json:"cycle_period"`
	TotalCycles       int    `json:"total_cycles"`
	CyclesRemaining   int    `json:"cycles_remaining"`
	NextPaymentDate   string `json:"next_payment_date,omitempty"`
	IsActive          bool   `json:"is_active"`
	LastPaymentFailed bool   `json:"last_payment_failed"`
}

func newRecurringPaymentResponse(rp *model.RecurringPayment) recurringPaymentResponse {
	resp := recurringPaymentResponse{
		ID:                rp.ID,
		InitialOrderID:    rp.InitialOrderID,
		CycleLength:       rp.CycleLength,
		CyclePeriod:       string(rp.CyclePeriod),
		TotalCycles:       rp.TotalCycles,
		CyclesRemaining:   service.GetCyclesRemaining(rp),
		IsActive:          rp.IsActive,
		LastPaymentFailed: rp.LastPaymentFailed,
	}
	if next := service.GetNextPaymentDate(rp); next != nil {
		resp.NextPaymentDate = next.Format(timeLayout)
	}
	return resp
}
