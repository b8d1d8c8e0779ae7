package handler

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/order-lifecycle/internal/middleware"
	"github.com/mmeshcher/order-lifecycle/internal/payment"
)

type checkoutRequest struct {
	StoreID       int64             `json:"store_id"`
	PaymentMethod string            `json:"payment_method"`
	CustomValues  map[string]string `json:"custom_values"`
	OrderGUID     *uuid.UUID        `json:"order_guid"`
}

// PlaceOrder оформляет заказ из корзины текущего покупателя.
// Если клиент не прислал order_guid, он генерируется здесь, поэтому повтор с тем же токеном использует его же.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	customerID, ok := middleware.GetCustomerIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	if req.StoreID <= 0 || req.PaymentMethod == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	guid := h.newGUID()
	if req.OrderGUID != nil && *req.OrderGUID != uuid.Nil {
		guid = *req.OrderGUID
	}

	result := h.engine.PlaceOrder(r.Context(), &payment.ProcessPaymentRequest{
		StoreID:                 req.StoreID,
		CustomerID:              customerID,
		OrderGUID:               guid,
		PaymentMethodSystemName: req.PaymentMethod,
		CustomerIP:              clientIP(r),
		CustomValues:            req.CustomValues,
	})
	if !result.Success() {
		h.logger.Info("order not placed",
			zap.Int64("customer_id", customerID),
			zap.String("order_guid", guid.String()),
			zap.Strings("errors", result.Errors),
		)
		writeErrors(w, http.StatusUnprocessableEntity, result.Errors)
		return
	}

	writeJSON(w, http.StatusCreated, newOrderResponse(result.PlacedOrder))
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// GetOrder возвращает заказ с позициями. Покупатель видит только свои заметки, помеченные для показа.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.currentCustomer(w, r)
	if !ok {
		return
	}
	order, ok := h.loadOrder(w, r, actor)
	if !ok {
		return
	}

	items, err := h.engine.GetOrderItems(r.Context(), order.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	notes, err := h.engine.GetOrderNotes(r.Context(), order.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := newOrderResponse(order)
	for _, it := range items {
		resp.Items = append(resp.Items, orderItemResponse{
			ID:                   it.ID,
			ProductID:            it.ProductID,
			Quantity:             it.Quantity,
			UnitPriceInclTax:     it.UnitPriceInclTax,
			PriceInclTax:         it.PriceInclTax,
			AttributeDescription: it.AttributeDescription,
		})
	}
	for _, n := range notes {
		if !actor.IsAdmin && !n.DisplayToCustomer {
			continue
		}
		resp.Notes = append(resp.Notes, orderNoteResponse{
			Note:      n.Note,
			CreatedOn: n.CreatedOn.Format(timeLayout),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// ReOrder возвращает позиции заказа в корзину покупателя.
func (h *Handler) ReOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.currentCustomer(w, r)
	if !ok {
		return
	}
	order, ok := h.loadOrder(w, r, actor)
	if !ok {
		return
	}

	warnings, err := h.engine.ReOrder(r.Context(), order)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if warnings == nil {
		warnings = []string{}
	}
	writeJSON(w, http.StatusOK, struct {
		Warnings []string `json:"warnings"`
	}{Warnings: warnings})
}

// ReturnRequestAllowed сообщает, можно ли оформить возврат по заказу.
func (h *Handler) ReturnRequestAllowed(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.currentCustomer(w, r)
	if !ok {
		return
	}
	order, ok := h.loadOrder(w, r, actor)
	if !ok {
		return
	}

	allowed, err := h.engine.IsReturnRequestAllowed(r.Context(), order)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Allowed bool `json:"allowed"`
	}{Allowed: allowed})
}

// GetRewardPointsBalance возвращает баланс бонусных баллов покупателя в магазине store_id.
func (h *Handler) GetRewardPointsBalance(w http.ResponseWriter, r *http.Request) {
	customerID, ok := middleware.GetCustomerIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	storeID, err := strconv.ParseInt(r.URL.Query().Get("store_id"), 10, 64)
	if err != nil || storeID <= 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	balance, err := h.engine.GetRewardPointsBalance(r.Context(), customerID, storeID)
	if err != nil {
		h.logger.Error("get reward points balance error", zap.Error(err), zap.Int64("customerID", customerID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Balance int `json:"balance"`
	}{Balance: balance})
}

// RefreshSession продлевает cookie сессии для покупателя, пришедшего с токеном витрины.
func (h *Handler) RefreshSession(w http.ResponseWriter, r *http.Request) {
	customerID, ok := middleware.GetCustomerIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	h.authMiddleware.SetAuthCookie(w, customerID)
	w.WriteHeader(http.StatusNoContent)
}
