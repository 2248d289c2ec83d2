// Package match implements the marketplace matching engine: compatibility
// screening, weighted scoring, multi-supplier combinations, and pricing
// advice.
package match

import "offsetcore/pkg/domain"

// Criteria tunes the matching pipeline. The zero value is not useful; use
// DefaultCriteria.
type Criteria struct {
	// MaxDistanceKm caps the supplier search radius when both sides carry
	// coordinates. Zero disables the distance gate.
	MaxDistanceKm int
	// PriceTolerancePercent allows supply pricing to exceed the developer's
	// ceiling by this margin before screening the pair out.
	PriceTolerancePercent float64
	// TimelineBufferMonths extends the developer's required-by date when
	// judging timeline compatibility. A month counts as 30 days.
	TimelineBufferMonths int
	// MinimumScore screens out weak candidates after scoring.
	MinimumScore float64
	// MatchExpiryDays bounds the lifetime of a generated match.
	MatchExpiryDays int
	// MaxMatches caps the candidate list one search returns.
	MaxMatches int
}

// DefaultCriteria returns the standard marketplace matching thresholds.
func DefaultCriteria() Criteria {
	return Criteria{
		MaxDistanceKm:         100,
		PriceTolerancePercent: 20,
		TimelineBufferMonths:  6,
		MinimumScore:          0.4,
		MatchExpiryDays:       30,
		MaxMatches:            50,
	}
}

// habitatCompatibility scores how well a supplied habitat substitutes for a
// demanded one. Pairs absent from the matrix are incompatible; there is no
// generic fallback, keeping trades like-for-like or better.
var habitatCompatibility = map[domain.HabitatType]map[domain.HabitatType]float64{
	domain.HabitatGrasslandSpeciesRich: {
		domain.HabitatGrasslandSpeciesRich: 1.0,
		domain.HabitatGrasslandSpeciesPoor: 0.8,
		domain.HabitatGrasslandModified:    0.6,
		domain.HabitatWetlandFreshwater:    0.7,
		domain.HabitatScrubland:            0.5,
	},
	domain.HabitatWoodlandBroadleaf: {
		domain.HabitatWoodlandBroadleaf:    1.0,
		domain.HabitatWoodlandMixed:        0.9,
		domain.HabitatWoodlandConiferous:   0.7,
		domain.HabitatScrubland:            0.6,
		domain.HabitatGrasslandSpeciesRich: 0.4,
	},
	domain.HabitatWetlandFreshwater: {
		domain.HabitatWetlandFreshwater:    1.0,
		domain.HabitatWetlandCoastal:       0.8,
		domain.HabitatGrasslandSpeciesRich: 0.6,
		domain.HabitatScrubland:            0.3,
	},
	domain.HabitatHeathlandLowland: {
		domain.HabitatHeathlandLowland:     1.0,
		domain.HabitatHeathlandUpland:      0.9,
		domain.HabitatGrasslandSpeciesRich: 0.7,
		domain.HabitatScrubland:            0.8,
	},
}

// strategicScoreMultipliers weight habitat compatibility by the supply
// parcel's strategic significance. These differ from the unit-calculation
// multipliers: they tilt scoring, not unit yield.
var strategicScoreMultipliers = map[domain.StrategicSignificance]float64{
	domain.SignificanceVeryHigh: 1.2,
	domain.SignificanceHigh:     1.1,
	domain.SignificanceMedium:   1.0,
	domain.SignificanceLow:      0.9,
}

// compatibilityScore looks up how well supplied substitutes for demanded.
func compatibilityScore(demanded, supplied domain.HabitatType) float64 {
	row, ok := habitatCompatibility[demanded]
	if !ok {
		return 0
	}
	return row[supplied]
}
