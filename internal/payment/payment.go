// Package payment описывает платёжные шлюзы, с которыми работает движок заказов.
package payment

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/order-lifecycle/internal/model"
)

// RecurringType описывает, как шлюз проводит периодические платежи.
type RecurringType int

const (
	// RecurringNotSupported означает, что шлюз не умеет периодические платежи.
	RecurringNotSupported RecurringType = iota
	// RecurringManual означает, что каждый цикл списывает движок.
	RecurringManual
	// RecurringAutomatic означает, что шлюз сам списывает циклы и сообщает результат.
	RecurringAutomatic
)

// String возвращает имя типа.
func (t RecurringType) String() string {
	switch t {
	case RecurringManual:
		return "manual"
	case RecurringAutomatic:
		return "automatic"
	default:
		return "not_supported"
	}
}

// Capabilities описывает возможности шлюза. Определяются один раз при регистрации.
type Capabilities struct {
	SupportCapture         bool
	SupportRefund          bool
	SupportPartiallyRefund bool
	SupportVoid            bool
	Recurring              RecurringType
	AdditionalFee          decimal.Decimal
}

// Gateway описывает контракт платёжного шлюза.
type Gateway interface {
	SystemName() string
	Capabilities() Capabilities
	ProcessPayment(ctx context.Context, req ProcessPaymentRequest) (ProcessPaymentResult, error)
	ProcessRecurringPayment(ctx context.Context, req ProcessPaymentRequest) (ProcessPaymentResult, error)
	Capture(ctx context.Context, req CaptureRequest) (CaptureResult, error)
	Refund(ctx context.Context, req RefundRequest) (RefundResult, error)
	Void(ctx context.Context, req VoidRequest) (VoidResult, error)
	CancelRecurringPayment(ctx context.Context, req CancelRecurringRequest) (CancelRecurringResult, error)
}

// Outcome накапливает ошибки результата операции шлюза.
type Outcome struct {
	Errors []string
}

// Success сообщает об отсутствии ошибок.
func (o *Outcome) Success() bool {
	return len(o.Errors) == 0
}

// AddError добавляет ошибку.
func (o *Outcome) AddError(msg string) {
	o.Errors = append(o.Errors, msg)
}

// ProcessPaymentRequest содержит всё, что нужно шлюзу для проведения платежа.
// Сборка заказа дописывает в запрос итоговую сумму и параметры подписки.
type ProcessPaymentRequest struct {
	StoreID                 int64
	CustomerID              int64
	OrderGUID               uuid.UUID
	OrderGUIDGeneratedOn    time.Time
	PaymentMethodSystemName string
	OrderTotal              decimal.Decimal
	CurrencyCode            string
	CustomerIP              string
	CustomValues            map[string]string

	InitialOrder         *model.Order
	IsRecurringPayment   bool
	RecurringCycleLength int
	RecurringCyclePeriod model.CyclePeriod
	RecurringTotalCycles int
}

// ProcessPaymentResult содержит результат проведения платежа.
type ProcessPaymentResult struct {
	Outcome
	NewPaymentStatus               model.PaymentStatus
	AuthorizationTransactionID     string
	AuthorizationTransactionCode   string
	AuthorizationTransactionResult string
	CaptureTransactionID           string
	CaptureTransactionResult       string
	SubscriptionTransactionID      string
	// RecurringPaymentFailed отличает отказ по подписке от обычной ошибки шлюза.
	RecurringPaymentFailed bool
}

// CaptureRequest содержит заказ для списания ранее авторизованной суммы.
type CaptureRequest struct {
	Order *model.Order
}

// CaptureResult содержит результат списания.
type CaptureResult struct {
	Outcome
	NewPaymentStatus         model.PaymentStatus
	CaptureTransactionID     string
	CaptureTransactionResult string
}

// RefundRequest содержит параметры возврата.
type RefundRequest struct {
	Order           *model.Order
	AmountToRefund  decimal.Decimal
	IsPartialRefund bool
}

// RefundResult содержит результат возврата.
type RefundResult struct {
	Outcome
	NewPaymentStatus model.PaymentStatus
}

// VoidRequest содержит заказ для отмены авторизации.
type VoidRequest struct {
	Order *model.Order
}

// VoidResult содержит результат отмены авторизации.
type VoidResult struct {
	Outcome
	NewPaymentStatus model.PaymentStatus
}

// CancelRecurringRequest содержит первый заказ подписки.
type CancelRecurringRequest struct {
	Order *model.Order
}

// CancelRecurringResult содержит результат отмены подписки.
type CancelRecurringResult struct {
	Outcome
}
