package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/mmeshcher/order-lifecycle/internal/model"
	"github.com/mmeshcher/order-lifecycle/internal/service"
)

type createShipmentRequest struct {
	TrackingNumber string                 `json:"tracking_number"`
	Items          []service.ShipmentLine `json:"items"`
}

// CreateShipment создаёт отгрузку по позициям заказа.
func (h *Handler) CreateShipment(w http.ResponseWriter, r *http.Request) {
	order, ok := h.adminOrder(w, r)
	if !ok {
		return
	}

	var req createShipmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	shipment, err := h.engine.CreateShipment(r.Context(), order, req.TrackingNumber, req.Items)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newShipmentResponse(shipment))
}

func (h *Handler) shipmentOp(op func(ctx context.Context, s *model.Shipment, notify bool) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r, "shipmentID")
		if !ok {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}

		shipment, err := h.engine.GetShipment(r.Context(), id)
		if err != nil {
			h.writeError(w, r, err)
			return
		}

		notify := r.URL.Query().Get("notify") == "true"
		if err := op(r.Context(), shipment, notify); err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, newShipmentResponse(shipment))
	}
}

// Ship отмечает отгрузку отправленной.
func (h *Handler) Ship(w http.ResponseWriter, r *http.Request) {
	h.shipmentOp(h.engine.Ship)(w, r)
}

// Deliver отмечает отгрузку доставленной.
func (h *Handler) Deliver(w http.ResponseWriter, r *http.Request) {
	h.shipmentOp(h.engine.Deliver)(w, r)
}
