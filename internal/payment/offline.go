package payment

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/order-lifecycle/internal/model"
)

// TransactMode описывает, что офлайн-шлюз делает с платежом при оформлении.
type TransactMode int

const (
	// TransactModePending оставляет платёж ожидающим (оплата при получении, счёт).
	TransactModePending TransactMode = iota
	// TransactModeAuthorize только авторизует сумму.
	TransactModeAuthorize
	// TransactModeAuthorizeAndCapture сразу списывает сумму.
	TransactModeAuthorizeAndCapture
)

// OfflineConfig настраивает офлайн-шлюз.
type OfflineConfig struct {
	SystemName    string
	Mode          TransactMode
	Recurring     RecurringType
	AdditionalFee decimal.Decimal
}

// OfflineGateway проводит платежи без обращения к внешней системе: счёт, наложенный платёж, ручная обработка.
type OfflineGateway struct {
	cfg OfflineConfig
}

// NewOfflineGateway создаёт офлайн-шлюз.
func NewOfflineGateway(cfg OfflineConfig) *OfflineGateway {
	if strings.TrimSpace(cfg.SystemName) == "" {
		cfg.SystemName = "offline"
	}
	return &OfflineGateway{cfg: cfg}
}

// SystemName возвращает системное имя шлюза.
func (g *OfflineGateway) SystemName() string { return g.cfg.SystemName }

// Capabilities возвращает возможности шлюза.
func (g *OfflineGateway) Capabilities() Capabilities {
	return Capabilities{
		SupportCapture:         g.cfg.Mode == TransactModeAuthorize,
		SupportRefund:          true,
		SupportPartiallyRefund: true,
		SupportVoid:            g.cfg.Mode == TransactModeAuthorize,
		Recurring:              g.cfg.Recurring,
		AdditionalFee:          g.cfg.AdditionalFee,
	}
}

// ProcessPayment фиксирует платёж согласно режиму шлюза.
func (g *OfflineGateway) ProcessPayment(_ context.Context, req ProcessPaymentRequest) (ProcessPaymentResult, error) {
	var res ProcessPaymentResult
	switch g.cfg.Mode {
	case TransactModeAuthorize:
		res.NewPaymentStatus = model.PaymentStatusAuthorized
		res.AuthorizationTransactionID = req.OrderGUID.String()
		res.AuthorizationTransactionResult = "Authorized"
	case TransactModeAuthorizeAndCapture:
		res.NewPaymentStatus = model.PaymentStatusPaid
		res.CaptureTransactionID = req.OrderGUID.String()
		res.CaptureTransactionResult = "Captured"
	default:
		res.NewPaymentStatus = model.PaymentStatusPending
	}
	return res, nil
}

// ProcessRecurringPayment проводит платёж по подписке так же, как обычный.
func (g *OfflineGateway) ProcessRecurringPayment(ctx context.Context, req ProcessPaymentRequest) (ProcessPaymentResult, error) {
	if g.cfg.Recurring == RecurringNotSupported {
		var res ProcessPaymentResult
		res.AddError("Recurring payment not supported")
		return res, nil
	}
	res, err := g.ProcessPayment(ctx, req)
	if err != nil {
		return res, err
	}
	res.SubscriptionTransactionID = req.OrderGUID.String()
	return res, nil
}

// Capture списывает авторизованную сумму.
func (g *OfflineGateway) Capture(_ context.Context, req CaptureRequest) (CaptureResult, error) {
	var res CaptureResult
	if g.cfg.Mode != TransactModeAuthorize {
		res.AddError("Capture method not supported")
		return res, nil
	}
	res.NewPaymentStatus = model.PaymentStatusPaid
	res.CaptureTransactionID = req.Order.AuthorizationTransactionID
	res.CaptureTransactionResult = "Captured"
	return res, nil
}

// Refund возвращает сумму полностью или частично.
func (g *OfflineGateway) Refund(_ context.Context, req RefundRequest) (RefundResult, error) {
	var res RefundResult
	if req.IsPartialRefund {
		res.NewPaymentStatus = model.PaymentStatusPartiallyRefunded
	} else {
		res.NewPaymentStatus = model.PaymentStatusRefunded
	}
	return res, nil
}

// Void отменяет авторизацию.
func (g *OfflineGateway) Void(_ context.Context, _ VoidRequest) (VoidResult, error) {
	var res VoidResult
	if g.cfg.Mode != TransactModeAuthorize {
		res.AddError("Void method not supported")
		return res, nil
	}
	res.NewPaymentStatus = model.PaymentStatusVoided
	return res, nil
}

// CancelRecurringPayment отменяет подписку. Внешних действий не требуется.
func (g *OfflineGateway) CancelRecurringPayment(_ context.Context, _ CancelRecurringRequest) (CancelRecurringResult, error) {
	return CancelRecurringResult{}, nil
}
