package lifecycle

import "fmt"

// GuardReasonPaymentNotConfirmed is returned when an order transition is
// blocked because payment has not been confirmed.
const GuardReasonPaymentNotConfirmed = "payment_not_confirmed"

// IllegalTransitionError means the requested edge does not exist in the
// transition table for the entity's kind.
type IllegalTransitionError struct {
	Kind string
	From string
	To   string
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal transition for %s: %s -> %s", e.Kind, e.From, e.To)
}

// InvalidStateError means the requested status is not a declared state of
// the entity's kind.
type InvalidStateError struct {
	Kind   string
	Status string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("invalid state for %s: %q", e.Kind, e.Status)
}

// GuardRejectedError means the edge exists but a business rule blocks it.
// Reason is machine-readable so the UI can render a specific message.
type GuardRejectedError struct {
	Reason string
}

func (e *GuardRejectedError) Error() string {
	return fmt.Sprintf("transition rejected by guard: %s", e.Reason)
}
