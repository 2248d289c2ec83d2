package domain

import (
	"context"
	"fmt"
)

// Severity captures rule outcomes.
type Severity string

const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported CRUD operations captured in audit trail.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	return "transaction blocked by rules"
}

// RuleView provides read-only access to marketplace entities for rule
// evaluation.
type RuleView interface {
	ListListings() []SupplyListing
	ListDemands() []DemandRequest
	ListMatches() []Match
	FindListing(id string) (SupplyListing, bool)
	FindDemand(id string) (DemandRequest, bool)
	FindMatch(id string) (Match, bool)
}

// Rule defines an evaluation executed within a transaction boundary.
type Rule interface {
	Name() string
	Evaluate(ctx context.Context, view RuleView, changes []Change) (Result, error)
}

// RulesEngine orchestrates rule evaluation.
type RulesEngine struct {
	rules []Rule
}

// NewRulesEngine constructs an engine instance.
func NewRulesEngine() *RulesEngine {
	return &RulesEngine{}
}

// Register appends a rule to the engine.
func (e *RulesEngine) Register(rule Rule) {
	e.rules = append(e.rules, rule)
}

// Evaluate executes all registered rules and aggregates their results.
func (e *RulesEngine) Evaluate(ctx context.Context, view RuleView, changes []Change) (Result, error) {
	var combined Result
	for _, rule := range e.rules {
		res, err := rule.Evaluate(ctx, view, changes)
		if err != nil {
			return Result{}, err
		}
		combined.Merge(res)
	}
	return combined, nil
}

// ListingCapacityRule blocks transactions that would leave a listing with
// committed units exceeding its habitat inventory.
type ListingCapacityRule struct{}

// Name implements Rule.
func (ListingCapacityRule) Name() string { return "listing_capacity" }

// Evaluate implements Rule. It inspects every listing touched by the
// transaction and blocks when reserved plus sold exceeds the total capacity,
// or when either counter is negative.
func (ListingCapacityRule) Evaluate(_ context.Context, _ RuleView, changes []Change) (Result, error) {
	var result Result
	for _, change := range changes {
		if change.Entity != EntityListing || change.Action == ActionDelete {
			continue
		}
		listing, ok := change.After.(SupplyListing)
		if !ok {
			continue
		}
		if listing.UnitsReserved.IsNegative() || listing.UnitsSold.IsNegative() {
			result.Violations = append(result.Violations, Violation{
				Rule:     "listing_capacity",
				Severity: SeverityBlock,
				Message:  "listing has negative committed units",
				Entity:   EntityListing,
				EntityID: listing.ID,
			})
			continue
		}
		if listing.AvailableUnits().IsNegative() {
			result.Violations = append(result.Violations, Violation{
				Rule:     "listing_capacity",
				Severity: SeverityBlock,
				Message: fmt.Sprintf("committed units %s exceed capacity %s",
					listing.UnitsReserved.Add(listing.UnitsSold), listing.TotalUnits()),
				Entity:   EntityListing,
				EntityID: listing.ID,
			})
		}
	}
	return result, nil
}
