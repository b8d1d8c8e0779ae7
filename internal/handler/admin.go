package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/order-lifecycle/internal/model"
)

// gatewayOp выполняет операцию со шлюзом. Непустой список ошибок означает отказ шлюза.
type gatewayOp func(ctx context.Context, order *model.Order) ([]string, error)

// offlineOp выполняет операцию без обращения к шлюзу.
type offlineOp func(ctx context.Context, order *model.Order) error

func (h *Handler) adminOrder(w http.ResponseWriter, r *http.Request) (*model.Order, bool) {
	return h.loadOrder(w, r, actorFromContext(r.Context()))
}

func (h *Handler) respondOrder(w http.ResponseWriter, r *http.Request, order *model.Order) {
	writeJSON(w, http.StatusOK, newOrderResponse(order))
}

func (h *Handler) runGatewayOp(op gatewayOp) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		order, ok := h.adminOrder(w, r)
		if !ok {
			return
		}

		errs, err := op(r.Context(), order)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		if len(errs) > 0 {
			writeErrors(w, http.StatusBadGateway, errs)
			return
		}
		h.respondOrder(w, r, order)
	}
}

func (h *Handler) runOfflineOp(op offlineOp) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		order, ok := h.adminOrder(w, r)
		if !ok {
			return
		}

		if err := op(r.Context(), order); err != nil {
			h.writeError(w, r, err)
			return
		}
		h.respondOrder(w, r, order)
	}
}

// MarkAsAuthorized помечает оплату заказа авторизованной.
func (h *Handler) MarkAsAuthorized(w http.ResponseWriter, r *http.Request) {
	h.runOfflineOp(h.engine.MarkAsAuthorized)(w, r)
}

// Capture списывает ранее авторизованную сумму через шлюз.
func (h *Handler) Capture(w http.ResponseWriter, r *http.Request) {
	h.runGatewayOp(h.engine.Capture)(w, r)
}

// MarkAsPaid помечает заказ оплаченным без обращения к шлюзу.
func (h *Handler) MarkAsPaid(w http.ResponseWriter, r *http.Request) {
	h.runOfflineOp(h.engine.MarkOrderAsPaid)(w, r)
}

// Refund возвращает всю сумму заказа через шлюз.
func (h *Handler) Refund(w http.ResponseWriter, r *http.Request) {
	h.runGatewayOp(h.engine.Refund)(w, r)
}

// RefundOffline фиксирует полный возврат, проведённый вне шлюза.
func (h *Handler) RefundOffline(w http.ResponseWriter, r *http.Request) {
	h.runOfflineOp(h.engine.RefundOffline)(w, r)
}

// Void аннулирует авторизацию через шлюз.
func (h *Handler) Void(w http.ResponseWriter, r *http.Request) {
	h.runGatewayOp(h.engine.Void)(w, r)
}

// VoidOffline фиксирует аннулирование без шлюза.
func (h *Handler) VoidOffline(w http.ResponseWriter, r *http.Request) {
	h.runOfflineOp(h.engine.VoidOffline)(w, r)
}

type partialRefundRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

func decodeAmount(w http.ResponseWriter, r *http.Request) (decimal.Decimal, bool) {
	var req partialRefundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return decimal.Zero, false
	}
	return req.Amount, true
}

// PartiallyRefund возвращает часть суммы через шлюз.
func (h *Handler) PartiallyRefund(w http.ResponseWriter, r *http.Request) {
	amount, ok := decodeAmount(w, r)
	if !ok {
		return
	}
	h.runGatewayOp(func(ctx context.Context, order *model.Order) ([]string, error) {
		return h.engine.PartiallyRefund(ctx, order, amount)
	})(w, r)
}

// PartiallyRefundOffline фиксирует частичный возврат, проведённый вне шлюза.
func (h *Handler) PartiallyRefundOffline(w http.ResponseWriter, r *http.Request) {
	amount, ok := decodeAmount(w, r)
	if !ok {
		return
	}
	h.runOfflineOp(func(ctx context.Context, order *model.Order) error {
		return h.engine.PartiallyRefundOffline(ctx, order, amount)
	})(w, r)
}

// CancelOrder отменяет заказ. Параметр notify=true отправляет письмо покупателю.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	notify := r.URL.Query().Get("notify") == "true"
	h.runOfflineOp(func(ctx context.Context, order *model.Order) error {
		return h.engine.CancelOrder(ctx, order, notify)
	})(w, r)
}

// DeleteOrder мягко удаляет заказ.
func (h *Handler) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	order, ok := h.adminOrder(w, r)
	if !ok {
		return
	}

	if err := h.engine.DeleteOrder(r.Context(), order); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
