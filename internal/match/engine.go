package match

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"offsetcore/pkg/domain"
)

// Engine screens, scores, and persists matches between supply listings and
// demand requests.
type Engine struct {
	store    domain.PersistentStore
	criteria Criteria
	nowFn    func() time.Time
}

// NewEngine constructs a matching engine over the given store.
func NewEngine(store domain.PersistentStore, criteria Criteria) *Engine {
	return &Engine{
		store:    store,
		criteria: criteria,
		nowFn:    func() time.Time { return time.Now().UTC() },
	}
}

// SetNowFunc replaces the time provider, primarily for tests.
func (e *Engine) SetNowFunc(fn func() time.Time) { e.nowFn = fn }

// Criteria returns the engine's configured thresholds.
func (e *Engine) Criteria() Criteria { return e.criteria }

// FindOptions narrows a matching run to one demand, one supply, or both.
// Empty IDs match against every open request or active listing.
type FindOptions struct {
	DemandID   string
	SupplyID   string
	MaxMatches int
}

// FindMatches generates candidate matches, persists them as potential, and
// returns them ordered by overall score descending. A pair that already has a
// live potential match is rescored in place rather than duplicated.
func (e *Engine) FindMatches(ctx context.Context, opts FindOptions) ([]domain.Match, error) {
	now := e.nowFn()
	demands, err := e.candidateDemands(opts.DemandID)
	if err != nil {
		return nil, err
	}
	supplies, err := e.candidateSupplies(opts.SupplyID)
	if err != nil {
		return nil, err
	}

	maxMatches := opts.MaxMatches
	if maxMatches <= 0 {
		maxMatches = e.criteria.MaxMatches
	}

	existing := map[string]domain.Match{}
	for _, m := range e.store.ListMatches() {
		if m.Status == domain.MatchPotential && !m.ExpiredAt(now) {
			existing[m.SupplyListingID+"|"+m.DemandRequestID] = m
		}
	}

	var candidates []domain.Match
	for _, d := range demands {
		for _, s := range supplies {
			if !s.AvailableUnits().IsPositive() {
				continue
			}
			if !e.screen(d, s) {
				continue
			}
			m := e.buildMatch(d, s, now)
			if m.OverallScore() < e.criteria.MinimumScore {
				continue
			}
			candidates = append(candidates, m)
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		si, sj := candidates[i].OverallScore(), candidates[j].OverallScore()
		if si != sj {
			return si > sj
		}
		return candidates[i].SupplyListingID < candidates[j].SupplyListingID
	})
	if len(candidates) > maxMatches {
		candidates = candidates[:maxMatches]
	}

	var persisted []domain.Match
	_, err = e.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		for _, candidate := range candidates {
			key := candidate.SupplyListingID + "|" + candidate.DemandRequestID
			if prior, ok := existing[key]; ok {
				updated, err := tx.UpdateMatch(prior.ID, func(m *domain.Match) error {
					m.MatchedUnits = candidate.MatchedUnits
					m.UnitPrice = candidate.UnitPrice
					m.DistanceKm = candidate.DistanceKm
					m.HabitatScore = candidate.HabitatScore
					m.LocationScore = candidate.LocationScore
					m.TimelineCompatible = candidate.TimelineCompatible
					m.ExpiresAt = candidate.ExpiresAt
					return nil
				})
				if err != nil {
					return err
				}
				persisted = append(persisted, updated)
				continue
			}
			created, err := tx.CreateMatch(candidate)
			if err != nil {
				return err
			}
			persisted = append(persisted, created)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return persisted, nil
}

func (e *Engine) candidateDemands(id string) ([]domain.DemandRequest, error) {
	if id != "" {
		d, ok := e.store.GetDemand(id)
		if !ok {
			return nil, domain.NotFoundError{Entity: domain.EntityDemand, ID: id}
		}
		return []domain.DemandRequest{d}, nil
	}
	var out []domain.DemandRequest
	for _, d := range e.store.ListDemands() {
		if d.Status == domain.DemandSearching {
			out = append(out, d)
		}
	}
	return out, nil
}

func (e *Engine) candidateSupplies(id string) ([]domain.SupplyListing, error) {
	if id != "" {
		s, ok := e.store.GetListing(id)
		if !ok {
			return nil, domain.NotFoundError{Entity: domain.EntityListing, ID: id}
		}
		return []domain.SupplyListing{s}, nil
	}
	var out []domain.SupplyListing
	for _, s := range e.store.ListListings() {
		if s.Status == domain.ListingActive && s.AvailableUnits().IsPositive() {
			out = append(out, s)
		}
	}
	return out, nil
}

// screen rejects obviously incompatible pairs before the expensive scoring
// pass: insufficient capacity, price beyond tolerance, late delivery, no
// compatible habitat, or out of range.
func (e *Engine) screen(d domain.DemandRequest, s domain.SupplyListing) bool {
	if s.AvailableUnits().LessThan(d.RequiredUnits()) {
		return false
	}
	tolerance := decimal.NewFromFloat(1 + e.criteria.PriceTolerancePercent/100)
	if s.PricePerUnit.GreaterThan(d.MaxPricePerUnit.Mul(tolerance)) {
		return false
	}
	if !d.RequiredByDate.IsZero() && s.DeliveryCompletionDate.After(d.RequiredByDate) {
		return false
	}
	compatible := false
	for _, unit := range s.HabitatUnits {
		for _, demanded := range d.AcceptableHabitats {
			if compatibilityScore(demanded, unit.HabitatType) > 0 {
				compatible = true
				break
			}
		}
		if compatible {
			break
		}
	}
	if !compatible {
		return false
	}
	if d.Coordinates != nil && s.Coordinates != nil && e.criteria.MaxDistanceKm > 0 {
		maxDistance := float64(d.MaxDistanceKm)
		if maxDistance <= 0 || maxDistance > float64(e.criteria.MaxDistanceKm) {
			maxDistance = float64(e.criteria.MaxDistanceKm)
		}
		if domain.DistanceKm(*d.Coordinates, *s.Coordinates) > maxDistance {
			return false
		}
	}
	return true
}

func (e *Engine) buildMatch(d domain.DemandRequest, s domain.SupplyListing, now time.Time) domain.Match {
	matched := decimal.Min(d.RequiredUnits(), s.AvailableUnits())
	var distance float64
	if d.Coordinates != nil && s.Coordinates != nil {
		distance = domain.DistanceKm(*d.Coordinates, *s.Coordinates)
	}
	return domain.Match{
		SupplyListingID:    s.ID,
		DemandRequestID:    d.ID,
		MatchedUnits:       matched,
		UnitPrice:          s.PricePerUnit,
		DistanceKm:         distance,
		HabitatScore:       habitatScore(d, s),
		LocationScore:      e.locationScore(d, s),
		TimelineCompatible: e.timelineCompatible(d, s),
		Status:             domain.MatchPotential,
		ExpiresAt:          now.Add(time.Duration(e.criteria.MatchExpiryDays) * 24 * time.Hour),
	}
}

// habitatScore averages, weighted by each parcel's unit yield, the best
// compatibility of the parcel against any demanded habitat, tilted by the
// parcel's strategic significance.
func habitatScore(d domain.DemandRequest, s domain.SupplyListing) float64 {
	totalCompat := 0.0
	totalWeight := 0.0
	for _, unit := range s.HabitatUnits {
		weight, _ := unit.Units().Float64()
		if weight <= 0 {
			continue
		}
		best := 0.0
		for _, demanded := range d.AcceptableHabitats {
			compat := compatibilityScore(demanded, unit.HabitatType)
			if multiplier, ok := strategicScoreMultipliers[unit.StrategicSignificance]; ok {
				compat *= multiplier
			}
			if compat > best {
				best = compat
			}
		}
		totalCompat += best * weight
		totalWeight += weight
	}
	if totalWeight <= 0 {
		return 0
	}
	score := totalCompat / totalWeight
	if score > 1 {
		score = 1
	}
	return score
}

// Location score component weights.
const (
	sameAuthorityScore  = 0.5
	characterAreaScore  = 0.3
	proximityScoreLimit = 0.2
)

func (e *Engine) locationScore(d domain.DemandRequest, s domain.SupplyListing) float64 {
	score := 0.0
	for _, authority := range d.PreferredAuthorities {
		if strings.EqualFold(authority, s.LocalAuthority) {
			score += sameAuthorityScore
			break
		}
	}
	if d.SameCharacterArea {
		score += characterAreaScore
	}
	if d.Coordinates != nil && s.Coordinates != nil {
		maxDistance := float64(d.MaxDistanceKm)
		if maxDistance <= 0 {
			maxDistance = float64(e.criteria.MaxDistanceKm)
		}
		distance := domain.DistanceKm(*d.Coordinates, *s.Coordinates)
		if maxDistance > 0 && distance <= maxDistance {
			score += (1 - distance/maxDistance) * proximityScoreLimit
		}
	}
	if score > 1 {
		score = 1
	}
	return score
}

func (e *Engine) timelineCompatible(d domain.DemandRequest, s domain.SupplyListing) bool {
	if d.RequiredByDate.IsZero() {
		return true
	}
	buffered := d.RequiredByDate.Add(time.Duration(e.criteria.TimelineBufferMonths) * 30 * 24 * time.Hour)
	return !s.DeliveryCompletionDate.After(buffered)
}

// Get retrieves a match by ID.
func (e *Engine) Get(id string) (domain.Match, error) {
	m, ok := e.store.GetMatch(id)
	if !ok {
		return domain.Match{}, domain.NotFoundError{Entity: domain.EntityMatch, ID: id}
	}
	return m, nil
}

// Accept commits a potential match: it re-validates the match, reserves the
// matched units on the supply listing, and moves the demand to matched. The
// entire operation is one store transaction, so a capacity shortfall leaves
// everything untouched.
func (e *Engine) Accept(ctx context.Context, matchID string) (domain.Match, error) {
	now := e.nowFn()
	var accepted domain.Match
	_, err := e.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		current, ok := tx.FindMatch(matchID)
		if !ok {
			return domain.NotFoundError{Entity: domain.EntityMatch, ID: matchID}
		}
		if current.ExpiredAt(now) {
			if _, err := tx.UpdateMatch(matchID, func(m *domain.Match) error {
				m.Status = domain.MatchExpired
				return nil
			}); err != nil {
				return err
			}
			return domain.ConflictError{Entity: domain.EntityMatch, ID: matchID, Reason: "match has expired"}
		}
		if current.Status != domain.MatchPotential && current.Status != domain.MatchProposed {
			return domain.ConflictError{Entity: domain.EntityMatch, ID: matchID, Reason: "match is " + string(current.Status)}
		}
		if _, err := tx.ReserveUnits(current.SupplyListingID, current.MatchedUnits); err != nil {
			return err
		}
		var err error
		accepted, err = tx.UpdateMatch(matchID, func(m *domain.Match) error {
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

// Reject marks a potential match as rejected, recording the optional reason.
func (e *Engine) Reject(ctx context.Context, matchID, reason string) (domain.Match, error) {
	var rejected domain.Match
	_, err := e.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		current, ok := tx.FindMatch(matchID)
		if !ok {
			return domain.NotFoundError{Entity: domain.EntityMatch, ID: matchID}
		}
		if current.Status == domain.MatchAccepted {
			return domain.ConflictError{Entity: domain.EntityMatch, ID: matchID, Reason: "accepted matches cannot be rejected"}
		}
		var err error
		rejected, err = tx.UpdateMatch(matchID, func(m *domain.Match) error {
			m.Status = domain.MatchRejected
			if reason != "" {
				m.RejectReason = &reason
			}
			return nil
		})
		return err
	})
	if err != nil {
		return domain.Match{}, err
	}
	return rejected, nil
}

// MatchesForDemand lists matches targeting the demand, best first.
func (e *Engine) MatchesForDemand(demandID string) []domain.Match {
	return e.filterSorted(func(m domain.Match) bool { return m.DemandRequestID == demandID })
}

// MatchesForSupply lists matches drawing on the listing, best first.
func (e *Engine) MatchesForSupply(supplyID string) []domain.Match {
	return e.filterSorted(func(m domain.Match) bool { return m.SupplyListingID == supplyID })
}

func (e *Engine) filterSorted(keep func(domain.Match) bool) []domain.Match {
	var out []domain.Match
	for _, m := range e.store.ListMatches() {
		if keep(m) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		si, sj := out[i].OverallScore(), out[j].OverallScore()
		if si != sj {
			return si > sj
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Statistics summarizes the stored match population.
type Statistics struct {
	TotalMatches     int     `json:"total_matches"`
	AverageScore     float64 `json:"average_match_score"`
	AcceptedMatches  int     `json:"accepted_matches"`
	RejectedMatches  int     `json:"rejected_matches"`
	PendingMatches   int     `json:"pending_matches"`
	AverageDistance  float64 `json:"average_distance_km"`
	MinDistance      float64 `json:"min_distance_km"`
	MaxDistance      float64 `json:"max_distance_km"`
	AvgHabitatScore  float64 `json:"average_habitat_score"`
	HighQuality      int     `json:"high_quality_matches"`
	HighQualityShare float64 `json:"high_quality_percentage"`
}

// highQualityThreshold classifies matches whose habitat score exceeds it.
const highQualityThreshold = 0.8

// Stats aggregates figures over all stored matches.
func (e *Engine) Stats() Statistics {
	matches := e.store.ListMatches()
	stats := Statistics{TotalMatches: len(matches)}
	if len(matches) == 0 {
		return stats
	}
	scoreSum := 0.0
	habitatSum := 0.0
	distanceSum := 0.0
	distanceCount := 0
	for _, m := range matches {
		scoreSum += m.OverallScore()
		habitatSum += m.HabitatScore
		if m.HabitatScore > highQualityThreshold {
			stats.HighQuality++
		}
		switch m.Status {
		case domain.MatchAccepted:
			stats.AcceptedMatches++
		case domain.MatchRejected:
			stats.RejectedMatches++
		case domain.MatchPotential, domain.MatchProposed:
			stats.PendingMatches++
		}
		if m.DistanceKm > 0 {
			distanceSum += m.DistanceKm
			distanceCount++
			if distanceCount == 1 || m.DistanceKm < stats.MinDistance {
				stats.MinDistance = m.DistanceKm
			}
			if m.DistanceKm > stats.MaxDistance {
				stats.MaxDistance = m.DistanceKm
			}
		}
	}
	stats.AverageScore = scoreSum / float64(len(matches))
	stats.AvgHabitatScore = habitatSum / float64(len(matches))
	stats.HighQualityShare = float64(stats.HighQuality) / float64(len(matches)) * 100
	if distanceCount > 0 {
		stats.AverageDistance = distanceSum / float64(distanceCount)
	}
	return stats
}
