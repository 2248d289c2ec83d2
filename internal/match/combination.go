package match

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"offsetcore/pkg/domain"
)

// DefaultMaxSuppliers bounds how many distinct listings a combination may
// draw on before coordination overhead outweighs the coverage gain.
const DefaultMaxSuppliers = 3

// Combination is a proposed set of matches that together cover a demand's
// required units. The final allocation may trim the last match below its
// stored matched units.
type Combination struct {
	DemandRequestID string          `json:"demand_request_id"`
	Allocations     []Allocation    `json:"allocations"`
	RequiredUnits   decimal.Decimal `json:"required_units"`
	TotalUnits      decimal.Decimal `json:"total_units"`
	TotalValue      decimal.Decimal `json:"total_value"`
	FullyCovered    bool            `json:"fully_covered"`
	AverageScore    float64         `json:"average_score"`
}

// Allocation pins the unit draw a combination takes from one match.
type Allocation struct {
	Match domain.Match    `json:"match"`
	Units decimal.Decimal `json:"units"`
}

// Value prices the allocation at the match's unit price.
func (a Allocation) Value() decimal.Decimal {
	return a.Units.Mul(a.Match.UnitPrice)
}

// FindOptimalCombination greedily assembles a set of live potential matches
// that covers the demand. The candidate pool is refreshed through FindMatches
// first, then ranked by score per unit so small efficient blocks are drawn
// before large middling ones. Each supplier contributes at most once.
func (e *Engine) FindOptimalCombination(ctx context.Context, demandID string, maxSuppliers int) (Combination, error) {
	if maxSuppliers <= 0 {
		maxSuppliers = DefaultMaxSuppliers
	}
	now := e.nowFn()
	demand, ok := e.store.GetDemand(demandID)
	if !ok {
		return Combination{}, domain.NotFoundError{Entity: domain.EntityDemand, ID: demandID}
	}
	if _, err := e.FindMatches(ctx, FindOptions{DemandID: demandID, MaxMatches: 100}); err != nil {
		return Combination{}, err
	}

	var candidates []domain.Match
	for _, m := range e.store.ListMatches() {
		if m.DemandRequestID != demandID {
			continue
		}
		if m.Status != domain.MatchPotential && m.Status != domain.MatchProposed {
			continue
		}
		if m.ExpiredAt(now) {
			continue
		}
		candidates = append(candidates, m)
	}
	sort.Slice(candidates, func(i, j int) bool {
		ei, ej := unitEfficiency(candidates[i]), unitEfficiency(candidates[j])
		if ei != ej {
			return ei > ej
		}
		return candidates[i].OverallScore() > candidates[j].OverallScore()
	})

	required := demand.RequiredUnits()
	remaining := required
	combo := Combination{DemandRequestID: demandID, RequiredUnits: required}
	usedSuppliers := map[string]bool{}
	scoreSum := 0.0
	for _, m := range candidates {
		if !remaining.IsPositive() || len(combo.Allocations) >= maxSuppliers {
			break
		}
		if usedSuppliers[m.SupplyListingID] {
			continue
		}
		usedSuppliers[m.SupplyListingID] = true
		units := decimal.Min(m.MatchedUnits, remaining)
		combo.Allocations = append(combo.Allocations, Allocation{Match: m, Units: units})
		combo.TotalUnits = combo.TotalUnits.Add(units)
		combo.TotalValue = combo.TotalValue.Add(units.Mul(m.UnitPrice))
		scoreSum += m.OverallScore()
		remaining = remaining.Sub(units)
	}
	combo.FullyCovered = !remaining.IsPositive()
	if n := len(combo.Allocations); n > 0 {
		combo.AverageScore = scoreSum / float64(n)
	}
	return combo, nil
}

// unitEfficiency spreads a match's score over its unit block, the ordering
// key for combination building.
func unitEfficiency(m domain.Match) float64 {
	units, _ := m.MatchedUnits.Float64()
	if units <= 0 {
		return 0
	}
	return m.OverallScore() / units
}

// AcceptCombination accepts every allocation in the combination, trimming
// each match's units to its allocated share before reserving. Acceptances
// already committed stand even when a later allocation fails; the collected
// failures are returned joined alongside the matches that did go through.
func (e *Engine) AcceptCombination(ctx context.Context, combo Combination) ([]domain.Match, error) {
	var accepted []domain.Match
	var errs []error
	for _, alloc := range combo.Allocations {
		m, err := e.acceptWithUnits(ctx, alloc.Match.ID, alloc.Units)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		accepted = append(accepted, m)
	}
	return accepted, errors.Join(errs...)
}

// acceptWithUnits behaves like Accept but pins the reserved quantity to the
// combination's allocation for the match.
func (e *Engine) acceptWithUnits(ctx context.Context, matchID string, units decimal.Decimal) (domain.Match, error) {
	now := e.nowFn()
	var accepted domain.Match
	_, err := e.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		current, ok := tx.FindMatch(matchID)
		if !ok {
			return domain.NotFoundError{Entity: domain.EntityMatch, ID: matchID}
		}
		if current.ExpiredAt(now) {
			return domain.ConflictError{Entity: domain.EntityMatch, ID: matchID, Reason: "match has expired"}
		}
		if current.Status != domain.MatchPotential && current.Status != domain.MatchProposed {
			return domain.ConflictError{Entity: domain.EntityMatch, ID: matchID, Reason: "match is " + string(current.Status)}
		}
		if units.GreaterThan(current.MatchedUnits) {
			return domain.ValidationError{Field: "units", Reason: "allocation exceeds matched units"}
		}
		if _, err := tx.ReserveUnits(current.SupplyListingID, units); err != nil {
			return err
		}
		var err error
		accepted, err = tx.UpdateMatch(matchID, func(m *domain.Match) error {
			m.MatchedUnits = units
			m.Status = domain.MatchAccepted
			return nil
		})
		if err != nil {
			return err
		}
		_, err = tx.UpdateDemand(current.DemandRequestID, func(d *domain.DemandRequest) error {
			d.Status = domain.DemandMatched
			return nil
		})
		return err
	})
	if err != nil {
		return domain.Match{}, err
	}
	return accepted, nil
}

// ExpireMatches sweeps potential matches whose expiry has passed, marking
// them expired. Returns the number of matches transitioned.
func (e *Engine) ExpireMatches(ctx context.Context, now time.Time) (int, error) {
	expired := 0
	_, err := e.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		for _, m := range tx.Snapshot().ListMatches() {
			if m.Status != domain.MatchPotential && m.Status != domain.MatchProposed {
				continue
			}
			if !m.ExpiredAt(now) {
				continue
			}
			if _, err := tx.UpdateMatch(m.ID, func(mm *domain.Match) error {
				mm.Status = domain.MatchExpired
				return nil
			}); err != nil {
				return err
			}
			expired++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return expired, nil
}
