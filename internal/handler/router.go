package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	custommiddleware "github.com/mmeshcher/order-lifecycle/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware движка заказов.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(custommiddleware.Logger(h.logger))
	r.Use(chimw.Recoverer)
	r.Use(custommiddleware.GzipMiddleware)

	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)

		r.Post("/session", h.RefreshSession)

		r.Post("/checkout/orders", h.PlaceOrder)
		r.Get("/customer/reward-points", h.GetRewardPointsBalance)

		r.Route("/orders/{orderID}", func(r chi.Router) {
			r.Get("/", h.GetOrder)
			r.Post("/reorder", h.ReOrder)
			r.Get("/return-request", h.ReturnRequestAllowed)
		})

		r.Route("/recurring-payments/{recurringPaymentID}", func(r chi.Router) {
			r.Post("/cancel", h.CancelRecurringPayment)
			r.Post("/retry", h.RetryRecurringPayment)
			r.With(h.requireAdmin).Post("/callback", h.RecurringCallback)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(h.requireAdmin)

			r.Route("/orders/{orderID}", func(r chi.Router) {
				r.Post("/mark-authorized", h.MarkAsAuthorized)
				r.Post("/capture", h.Capture)
				r.Post("/mark-paid", h.MarkAsPaid)
				r.Post("/refund", h.Refund)
				r.Post("/refund-offline", h.RefundOffline)
				r.Post("/partial-refund", h.PartiallyRefund)
				r.Post("/partial-refund-offline", h.PartiallyRefundOffline)
				r.Post("/void", h.Void)
				r.Post("/void-offline", h.VoidOffline)
				r.Post("/cancel", h.CancelOrder)
				r.Delete("/", h.DeleteOrder)
				r.Post("/shipments", h.CreateShipment)
			})

			r.Post("/shipments/{shipmentID}/ship", h.Ship)
			r.Post("/shipments/{shipmentID}/deliver", h.Deliver)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
