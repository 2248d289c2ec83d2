package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ValidationError reports malformed input rejected at construction time.
// Nothing invalid is ever stored.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NotFoundError is returned when an operation references an unknown id.
type NotFoundError struct {
	Entity EntityType
	ID     string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// CapacityError reports a reserve or sell request exceeding a listing's
// remaining availability. Exhausted capacity is an expected outcome of normal
// contention, so callers branch on it rather than treating it as fatal.
type CapacityError struct {
	ListingID string
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e CapacityError) Error() string {
	return fmt.Sprintf("listing %s: requested %s units, %s available", e.ListingID, e.Requested, e.Available)
}

// ConflictError reports that an atomic update lost a race, e.g. a match that
// was accepted or expired between scoring and acceptance. Callers retry the
// whole operation against fresh state.
type ConflictError struct {
	Entity EntityType
	ID     string
	Reason string
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Entity, e.ID, e.Reason)
}
