package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/order-lifecycle/internal/model"
	"github.com/mmeshcher/order-lifecycle/internal/payment"
	"github.com/mmeshcher/order-lifecycle/internal/scheduler"
)

const recurringLockTTL = 5 * time.Minute

func (h *Handler) loadRecurringPayment(w http.ResponseWriter, r *http.Request) (*model.RecurringPayment, bool) {
	id, ok := pathID(r, "recurringPaymentID")
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return nil, false
	}

	rp, err := h.engine.GetRecurringPayment(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return nil, false
	}
	return rp, true
}

// CancelRecurringPayment отменяет подписку по запросу владельца или администратора.
func (h *Handler) CancelRecurringPayment(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.currentCustomer(w, r)
	if !ok {
		return
	}
	rp, ok := h.loadRecurringPayment(w, r)
	if !ok {
		return
	}

	if !h.engine.CanCancelRecurringPayment(r.Context(), actor, rp) {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}

	if errs := h.engine.CancelRecurringPayment(r.Context(), rp); len(errs) > 0 {
		writeErrors(w, http.StatusBadGateway, errs)
		return
	}
	writeJSON(w, http.StatusOK, newRecurringPaymentResponse(rp))
}

// RetryRecurringPayment повторяет последний неудачный платёж подписки.
func (h *Handler) RetryRecurringPayment(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.currentCustomer(w, r)
	if !ok {
		return
	}
	rp, ok := h.loadRecurringPayment(w, r)
	if !ok {
		return
	}

	if !h.engine.CanRetryLastRecurringPayment(r.Context(), actor, rp) {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}

	h.withRecurringLock(w, r, rp.ID, func(current *model.RecurringPayment) {
		if !h.engine.CanRetryLastRecurringPayment(r.Context(), actor, current) {
			writeErrors(w, http.StatusConflict, []string{"Recurring payment has already been processed"})
			return
		}
		if errs := h.engine.ProcessNextRecurringPayment(r.Context(), current, nil); len(errs) > 0 {
			writeErrors(w, http.StatusBadGateway, errs)
			return
		}
		writeJSON(w, http.StatusOK, newRecurringPaymentResponse(current))
	})
}

// withRecurringLock берёт блокировку подписки, перечитывает её и передаёт свежую версию в fn.
// Если подписку сейчас проводит планировщик, отвечает 409.
func (h *Handler) withRecurringLock(w http.ResponseWriter, r *http.Request, id int64, fn func(rp *model.RecurringPayment)) {
	if h.locker != nil {
		release, ok, err := h.locker.TryLock(r.Context(), scheduler.LockKey(id), recurringLockTTL)
		if err != nil {
			h.logger.Error("failed to lock recurring payment", zap.Int64("recurring_payment_id", id), zap.Error(err))
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
			return
		}
		if !ok {
			writeErrors(w, http.StatusConflict, []string{"Recurring payment is being processed"})
			return
		}
		defer func() {
			if err := release(context.WithoutCancel(r.Context())); err != nil {
				h.logger.Warn("failed to release lock", zap.Int64("recurring_payment_id", id), zap.Error(err))
			}
		}()
	}

	rp, err := h.engine.GetRecurringPayment(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	fn(rp)
}

type recurringCallbackRequest struct {
	Errors                    []string `json:"errors"`
	PaymentStatus             string   `json:"payment_status"`
	AuthorizationTransaction  string   `json:"authorization_transaction_id"`
	CaptureTransaction        string   `json:"capture_transaction_id"`
	SubscriptionTransactionID string   `json:"subscription_transaction_id"`
	RecurringPaymentFailed    bool     `json:"recurring_payment_failed"`
}

// RecurringCallback принимает результат цикла, который шлюз провёл сам.
func (h *Handler) RecurringCallback(w http.ResponseWriter, r *http.Request) {
	rp, ok := h.loadRecurringPayment(w, r)
	if !ok {
		return
	}

	var req recurringCallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	prior := &payment.ProcessPaymentResult{
		Outcome:                    payment.Outcome{Errors: req.Errors},
		NewPaymentStatus:           model.PaymentStatus(req.PaymentStatus),
		AuthorizationTransactionID: req.AuthorizationTransaction,
		CaptureTransactionID:       req.CaptureTransaction,
		SubscriptionTransactionID:  req.SubscriptionTransactionID,
		RecurringPaymentFailed:     req.RecurringPaymentFailed,
	}
	if prior.NewPaymentStatus == "" {
		prior.NewPaymentStatus = model.PaymentStatusPaid
	}

	h.withRecurringLock(w, r, rp.ID, func(current *model.RecurringPayment) {
		if errs := h.engine.ProcessNextRecurringPayment(r.Context(), current, prior); len(errs) > 0 {
			writeErrors(w, http.StatusUnprocessableEntity, errs)
			return
		}
		writeJSON(w, http.StatusOK, newRecurringPaymentResponse(current))
	})
}
