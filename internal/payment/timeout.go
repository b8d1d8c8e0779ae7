package payment

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout означает, что шлюз не ответил за отведённое время.
var ErrTimeout = errors.New("payment gateway timeout")

type timeoutGateway struct {
	next    Gateway
	timeout time.Duration
}

// WithTimeout ограничивает время каждого вызова шлюза.
// Превышение времени возвращается как ошибка в результате операции, а не как error.
func WithTimeout(g Gateway, d time.Duration) Gateway {
	if d <= 0 {
		return g
	}
	return &timeoutGateway{next: g, timeout: d}
}

func callWithTimeout[T any](ctx context.Context, d time.Duration, op string, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type outcome struct {
		res T
		err error
	}
	done := make(chan outcome, 1)

	go func() {
		res, err := fn(ctx)
		done <- outcome{res: res, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil && errors.Is(out.err, context.DeadlineExceeded) {
			var zero T
			return zero, fmt.Errorf("%w: %s did not complete in %s", ErrTimeout, op, d)
		}
		return out.res, out.err
	case <-ctx.Done():
		var zero T
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, fmt.Errorf("%w: %s did not complete in %s", ErrTimeout, op, d)
		}
		return zero, ctx.Err()
	}
}

func (g *timeoutGateway) SystemName() string { return g.next.SystemName() }

func (g *timeoutGateway) Capabilities() Capabilities { return g.next.Capabilities() }

func (g *timeoutGateway) ProcessPayment(ctx context.Context, req ProcessPaymentRequest) (ProcessPaymentResult, error) {
	res, err := callWithTimeout(ctx, g.timeout, "process payment", func(ctx context.Context) (ProcessPaymentResult, error) {
		return g.next.ProcessPayment(ctx, req)
	})
	if errors.Is(err, ErrTimeout) {
		res.AddError(err.Error())
		return res, nil
	}
	return res, err
}

func (g *timeoutGateway) ProcessRecurringPayment(ctx context.Context, req ProcessPaymentRequest) (ProcessPaymentResult, error) {
	res, err := callWithTimeout(ctx, g.timeout, "process recurring payment", func(ctx context.Context) (ProcessPaymentResult, error) {
		return g.next.ProcessRecurringPayment(ctx, req)
	})
	if errors.Is(err, ErrTimeout) {
		res.AddError(err.Error())
		return res, nil
	}
	return res, err
}

func (g *timeoutGateway) Capture(ctx context.Context, req CaptureRequest) (CaptureResult, error) {
	res, err := callWithTimeout(ctx, g.timeout, "capture", func(ctx context.Context) (CaptureResult, error) {
		return g.next.Capture(ctx, req)
	})
	if errors.Is(err, ErrTimeout) {
		res.AddError(err.Error())
		return res, nil
	}
	return res, err
}

func (g *timeoutGateway) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	res, err := callWithTimeout(ctx, g.timeout, "refund", func(ctx context.Context) (RefundResult, error) {
		return g.next.Refund(ctx, req)
	})
	if errors.Is(err, ErrTimeout) {
		res.AddError(err.Error())
		return res, nil
	}
	return res, err
}

func (g *timeoutGateway) Void(ctx context.Context, req VoidRequest) (VoidResult, error) {
	res, err := callWithTimeout(ctx, g.timeout, "void", func(ctx context.Context) (VoidResult, error) {
		return g.next.Void(ctx, req)
	})
	if errors.Is(err, ErrTimeout) {
		res.AddError(err.Error())
		return res, nil
	}
	return res, err
}

func (g *timeoutGateway) CancelRecurringPayment(ctx context.Context, req CancelRecurringRequest) (CancelRecurringResult, error) {
	res, err := callWithTimeout(ctx, g.timeout, "cancel recurring payment", func(ctx context.Context) (CancelRecurringResult, error) {
		return g.next.CancelRecurringPayment(ctx, req)
	})
	if errors.Is(err, ErrTimeout) {
		res.AddError(err.Error())
		return res, nil
	}
	return res, err
}
