package service

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotEligible возвращается, если операция вызвана для заказа, к которому она неприменима.
	ErrNotEligible = errors.New("operation is not allowed")
	// ErrRecurringPayment возвращается при нарушении предусловий периодического платежа.
	ErrRecurringPayment = errors.New("recurring payment error")
)

// ValidationError описывает невыполненные предусловия оформления заказа.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Errors, "; ")
}

func validationError(msgs ...string) error {
	return &ValidationError{Errors: msgs}
}

func notEligible(msg string) error {
	return fmt.Errorf("%w: %s", ErrNotEligible, msg)
}

// joinGatewayErrors склеивает ошибки шлюза в одну строку для журнала заказа.
func joinGatewayErrors(errs []string) string {
	var b strings.Builder
	for i, e := range errs {
		fmt.Fprintf(&b, "Error %d: %s", i, e)
		if i != len(errs)-1 {
			b.WriteString(". ")
		}
	}
	return b.String()
}
