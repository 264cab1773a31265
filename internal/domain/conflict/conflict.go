// Package conflict decides what a hold request becomes when the ledger
// grants less than was asked for.
package conflict

import "fmt"

// Outcome is one of Granted, Partial, SoldOut or Denied.
type Outcome interface {
	Kind() string
	Message() string
	outcome()
}

type Granted struct {
	Quantity int
}

// Partial keeps an active hold for ResolvedQuantity; the caller must accept
// it or release it.
type Partial struct {
	Requested        int
	ResolvedQuantity int
}

type SoldOut struct {
	Requested int
}

// Denied means stock was short and partial fulfilment is switched off.
// Whatever the ledger granted has been handed back.
type Denied struct {
	Requested int
	Available int
}

func (Granted) outcome() {}
func (Partial) outcome() {}
func (SoldOut) outcome() {}
func (Denied) outcome() {}

func (Granted) Kind() string { return "granted" }
func (Partial) Kind() string { return "partial-fulfill" }
func (SoldOut) Kind() string { return "sold-out" }
func (Denied) Kind() string { return "deny-request" }

func (o Granted) Message() string {
	return fmt.Sprintf("Hold created for %d tickets", o.Quantity)
}

func (o Partial) Message() string {
	return fmt.Sprintf("Only %d tickets available. Partial fulfillment offered.", o.ResolvedQuantity)
}

func (SoldOut) Message() string {
	return "Sold Out"
}

func (o Denied) Message() string {
	return fmt.Sprintf("Requested quantity not available (%d requested, %d available)", o.Requested, o.Available)
}

// Success reports whether the caller got everything it asked for.
func Success(o Outcome) bool {
	_, ok := o.(Granted)
	return ok
}

type Policy string

const (
	PartialFulfill Policy = "partial-fulfill"
	DenyShortfall  Policy = "deny"
)

type Resolver struct {
	Policy Policy
}

func NewResolver(allowPartial bool) Resolver {
	if allowPartial {
		return Resolver{Policy: PartialFulfill}
	}
	return Resolver{Policy: DenyShortfall}
}

// Resolve maps a ledger grant onto an outcome. It has no side effects; the
// caller releases the grant when the outcome is Denied.
func (r Resolver) Resolve(requested, granted int) Outcome {
	switch {
	case granted >= requested:
		return Granted{Quantity: granted}
	case granted == 0:
		return SoldOut{Requested: requested}
	case r.Policy == DenyShortfall:
		return Denied{Requested: requested, Available: granted}
	default:
		return Partial{Requested: requested, ResolvedQuantity: granted}
	}
}
