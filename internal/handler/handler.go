// Package handler содержит HTTP-обработчики API движка заказов.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/order-lifecycle/internal/middleware"
	"github.com/mmeshcher/order-lifecycle/internal/model"
	"github.com/mmeshcher/order-lifecycle/internal/payment"
	"github.com/mmeshcher/order-lifecycle/internal/repository"
	"github.com/mmeshcher/order-lifecycle/internal/service"
)

// Engine определяет контракт движка заказов, используемый HTTP-обработчиками.
type Engine interface {
	GetOrder(ctx context.Context, id int64) (*model.Order, error)
	GetOrderItems(ctx context.Context, orderID int64) ([]model.OrderItem, error)
	GetOrderNotes(ctx context.Context, orderID int64) ([]model.OrderNote, error)
	GetShipment(ctx context.Context, id int64) (*model.Shipment, error)
	GetRecurringPayment(ctx context.Context, id int64) (*model.RecurringPayment, error)
	GetCustomer(ctx context.Context, id int64) (*model.Customer, error)
	GetRewardPointsBalance(ctx context.Context, customerID, storeID int64) (int, error)

	PlaceOrder(ctx context.Context, req *payment.ProcessPaymentRequest) service.PlaceOrderResult
	ReOrder(ctx context.Context, order *model.Order) ([]string, error)
	IsReturnRequestAllowed(ctx context.Context, order *model.Order) (bool, error)

	MarkAsAuthorized(ctx context.Context, order *model.Order) error
	Capture(ctx context.Context, order *model.Order) ([]string, error)
	MarkOrderAsPaid(ctx context.Context, order *model.Order) error
	Refund(ctx context.Context, order *model.Order) ([]string, error)
	RefundOffline(ctx context.Context, order *model.Order) error
	PartiallyRefund(ctx context.Context, order *model.Order, amount decimal.Decimal) ([]string, error)
	PartiallyRefundOffline(ctx context.Context, order *model.Order, amount decimal.Decimal) error
	Void(ctx context.Context, order *model.Order) ([]string, error)
	VoidOffline(ctx context.Context, order *model.Order) error
	CancelOrder(ctx context.Context, order *model.Order, notifyCustomer bool) error
	DeleteOrder(ctx context.Context, order *model.Order) error

	CreateShipment(ctx context.Context, order *model.Order, trackingNumber string, lines []service.ShipmentLine) (*model.Shipment, error)
	Ship(ctx context.Context, shipment *model.Shipment, notifyCustomer bool) error
	Deliver(ctx context.Context, shipment *model.Shipment, notifyCustomer bool) error

	CanCancelRecurringPayment(ctx context.Context, actor *model.Customer, rp *model.RecurringPayment) bool
	CancelRecurringPayment(ctx context.Context, rp *model.RecurringPayment) []string
	CanRetryLastRecurringPayment(ctx context.Context, actor *model.Customer, rp *model.RecurringPayment) bool
	ProcessNextRecurringPayment(ctx context.Context, rp *model.RecurringPayment, prior *payment.ProcessPaymentResult) []string
}

// Locker сериализует обработку одной подписки между планировщиком и API.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, ok bool, err error)
}

// Handler реализует HTTP-обработчики API движка заказов.
type Handler struct {
	engine         Engine
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	metrics        http.Handler
	locker         Locker
	newGUID        func() uuid.UUID
}

// Option настраивает обработчик.
type Option func(*Handler)

// WithRecurringLocker задаёт блокировку, под которой проводятся циклы подписок.
func WithRecurringLocker(l Locker) Option {
	return func(h *Handler) { h.locker = l }
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
// metrics может быть nil, тогда /metrics не публикуется.
func NewHandler(e Engine, logger *zap.Logger, auth *middleware.AuthMiddleware, metrics http.Handler, opts ...Option) *Handler {
	h := &Handler{
		engine:         e,
		logger:         logger,
		authMiddleware: auth,
		metrics:        metrics,
		newGUID:        uuid.New,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type errorsResponse struct {
	Errors []string `json:"errors"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrors(w http.ResponseWriter, status int, errs []string) {
	writeJSON(w, status, errorsResponse{Errors: errs})
}

func isNotFound(err error) bool {
	return errors.Is(err, repository.ErrOrderNotFound) ||
		errors.Is(err, repository.ErrShipmentNotFound) ||
		errors.Is(err, repository.ErrRecurringPaymentNotFound)
}

// writeError переводит ошибку движка в HTTP-ответ.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var vErr *service.ValidationError
	switch {
	case errors.As(err, &vErr):
		writeErrors(w, http.StatusUnprocessableEntity, vErr.Errors)
	case errors.Is(err, service.ErrNotEligible), errors.Is(err, repository.ErrRefundExceedsTotal):
		writeErrors(w, http.StatusConflict, []string{err.Error()})
	case errors.Is(err, service.ErrRecurringPayment):
		writeErrors(w, http.StatusConflict, []string{err.Error()})
	case isNotFound(err):
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	case errors.Is(err, context.Canceled):
		// клиент ушёл
	default:
		h.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// currentCustomer загружает покупателя, от имени которого пришёл запрос.
func (h *Handler) currentCustomer(w http.ResponseWriter, r *http.Request) (*model.Customer, bool) {
	customerID, ok := middleware.GetCustomerIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return nil, false
	}

	customer, err := h.engine.GetCustomer(r.Context(), customerID)
	if err != nil {
		h.writeError(w, r, err)
		return nil, false
	}
	if customer == nil {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return nil, false
	}
	return customer, true
}

// loadOrder загружает заказ из пути. Чужие и удалённые заказы покупателю не видны.
func (h *Handler) loadOrder(w http.ResponseWriter, r *http.Request, actor *model.Customer) (*model.Order, bool) {
	id, ok := pathID(r, "orderID")
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return nil, false
	}

	order, err := h.engine.GetOrder(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return nil, false
	}
	if !actor.IsAdmin && (order.CustomerID != actor.ID || order.Deleted) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return nil, false
	}
	return order, true
}

// requireAdmin пропускает только администраторов магазина.
func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		customer, ok := h.currentCustomer(w, r)
		if !ok {
			return
		}
		if !customer.IsAdmin {
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r.WithContext(withActor(r.Context(), customer)))
	})
}

type actorKey struct{}

func withActor(ctx context.Context, c *model.Customer) context.Context {
	return context.WithValue(ctx, actorKey{}, c)
}

func actorFromContext(ctx context.Context) *model.Customer {
	c, _ := ctx.Value(actorKey{}).(*model.Customer)
	return c
}
