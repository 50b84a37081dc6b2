package lifecycle

import "klinikcare/internal/models"

// Decision is the outcome of a single guard check.
type Decision struct {
	Allowed bool
	Reason  string
}

// Allow permits the transition.
func Allow() Decision { return Decision{Allowed: true} }

// Deny blocks the transition with a machine-readable reason.
func Deny(reason string) Decision { return Decision{Reason: reason} }

// Guard is a pure predicate over an entity snapshot and a graph-legal
// transition. Guards must not mutate the entity or perform I/O.
type Guard func(entity *models.Entity, from, to string) Decision

// Evaluator runs an ordered guard chain. The first Deny short-circuits.
type Evaluator struct {
	guards []Guard
}

// NewEvaluator builds an evaluator over the given chain.
func NewEvaluator(guards ...Guard) *Evaluator {
	return &Evaluator{guards: guards}
}

// Evaluate returns the first Deny in chain order, or Allow.
func (e *Evaluator) Evaluate(entity *models.Entity, from, to string) Decision {
	for _, g := range e.guards {
		if d := g(entity, from, to); !d.Allowed {
			return d
		}
	}
	return Allow()
}

// PaymentConfirmedGuard blocks every order transition except cancellation
// until the payment is confirmed. Bookings may be confirmed before payment
// in this domain, so only orders are gated.
func PaymentConfirmedGuard(entity *models.Entity, from, to string) Decision {
	if entity.Kind != models.KindOrder {
		return Allow()
	}
	if to == models.StatusCancelled {
		return Allow()
	}
	if entity.PaymentStatus != models.PaymentPaid {
		return Deny(GuardReasonPaymentNotConfirmed)
	}
	return Allow()
}

// DefaultEvaluator returns the guard chain used in production.
func DefaultEvaluator() *Evaluator {
	return NewEvaluator(PaymentConfirmedGuard)
}
