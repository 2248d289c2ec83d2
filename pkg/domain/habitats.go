package domain

import "github.com/shopspring/decimal"

// HabitatType identifies a DEFRA biodiversity-metric land-cover classification.
type HabitatType string

// Habitat classifications recognised by the marketplace.
const (
	HabitatGrasslandModified    HabitatType = "grassland_modified"
	HabitatGrasslandSpeciesPoor HabitatType = "grassland_species_poor"
	HabitatGrasslandSpeciesRich HabitatType = "grassland_species_rich"
	HabitatHeathlandLowland     HabitatType = "heathland_lowland"
	HabitatHeathlandUpland      HabitatType = "heathland_upland"
	HabitatWoodlandBroadleaf    HabitatType = "woodland_broadleaf"
	HabitatWoodlandConiferous   HabitatType = "woodland_coniferous"
	HabitatWoodlandMixed        HabitatType = "woodland_mixed"
	HabitatWetlandFreshwater    HabitatType = "wetland_freshwater"
	HabitatWetlandCoastal       HabitatType = "wetland_coastal"
	HabitatScrubland            HabitatType = "scrubland"
	HabitatUrbanTrees           HabitatType = "urban_trees"
	HabitatArable               HabitatType = "arable"
	HabitatDevelopedSealed      HabitatType = "developed_sealed"
)

// Condition represents a habitat condition assessment category.
type Condition string

// Condition categories per the DEFRA metric.
const (
	ConditionGood          Condition = "good"
	ConditionModerate      Condition = "moderate"
	ConditionPoor          Condition = "poor"
	ConditionNotApplicable Condition = "not_applicable"
)

// StrategicSignificance reflects a habitat's importance within the wider
// ecological network and drives a location-based multiplier.
type StrategicSignificance string

// Strategic significance bands.
const (
	SignificanceLow      StrategicSignificance = "low"
	SignificanceMedium   StrategicSignificance = "medium"
	SignificanceHigh     StrategicSignificance = "high"
	SignificanceVeryHigh StrategicSignificance = "very_high"
)

// habitatDistinctiveness holds the fixed distinctiveness score per habitat
// type. Sealed development carries zero ecological value.
var habitatDistinctiveness = map[HabitatType]int{
	HabitatGrasslandModified:    2,
	HabitatGrasslandSpeciesPoor: 3,
	HabitatGrasslandSpeciesRich: 6,
	HabitatHeathlandLowland:     6,
	HabitatHeathlandUpland:      6,
	HabitatWoodlandBroadleaf:    6,
	HabitatWoodlandConiferous:   4,
	HabitatWoodlandMixed:        5,
	HabitatWetlandFreshwater:    6,
	HabitatWetlandCoastal:       7,
	HabitatScrubland:            3,
	HabitatUrbanTrees:           4,
	HabitatArable:               2,
	HabitatDevelopedSealed:      0,
}

var conditionMultipliers = map[Condition]decimal.Decimal{
	ConditionGood:          decimal.RequireFromString("3.0"),
	ConditionModerate:      decimal.RequireFromString("2.0"),
	ConditionPoor:          decimal.RequireFromString("1.5"),
	ConditionNotApplicable: decimal.RequireFromString("1.0"),
}

var strategicMultipliers = map[StrategicSignificance]decimal.Decimal{
	SignificanceLow:      decimal.RequireFromString("1.0"),
	SignificanceMedium:   decimal.RequireFromString("1.1"),
	SignificanceHigh:     decimal.RequireFromString("1.15"),
	SignificanceVeryHigh: decimal.RequireFromString("1.5"),
}

// habitatSubstitutes maps a lost habitat type to the ranked habitat types an
// offset may substitute for it. Types without an entry substitute only for
// themselves; see AcceptableOffsetsFor.
var habitatSubstitutes = map[HabitatType][]HabitatType{
	HabitatWoodlandBroadleaf: {
		HabitatWoodlandBroadleaf,
		HabitatWoodlandMixed,
		HabitatScrubland,
		HabitatGrasslandSpeciesRich,
	},
	HabitatGrasslandSpeciesRich: {
		HabitatGrasslandSpeciesRich,
		HabitatGrasslandSpeciesPoor,
		HabitatWetlandFreshwater,
	},
	HabitatWetlandFreshwater: {
		HabitatWetlandFreshwater,
		HabitatWetlandCoastal,
		HabitatGrasslandSpeciesRich,
	},
	HabitatHeathlandLowland: {
		HabitatHeathlandLowland,
		HabitatHeathlandUpland,
		HabitatGrasslandSpeciesRich,
		HabitatScrubland,
	},
}

// DefaultOffsetHabitats are accepted when a development loses no habitat with
// a substitution entry, e.g. when only sealed ground is removed.
var DefaultOffsetHabitats = []HabitatType{
	HabitatGrasslandSpeciesRich,
	HabitatWoodlandBroadleaf,
	HabitatWetlandFreshwater,
	HabitatHeathlandLowland,
	HabitatScrubland,
}

// ValidHabitatType reports whether t is a known habitat classification.
func ValidHabitatType(t HabitatType) bool {
	_, ok := habitatDistinctiveness[t]
	return ok
}

// ValidCondition reports whether c is a known condition category.
func ValidCondition(c Condition) bool {
	_, ok := conditionMultipliers[c]
	return ok
}

// ValidSignificance reports whether s is a known strategic significance band.
func ValidSignificance(s StrategicSignificance) bool {
	_, ok := strategicMultipliers[s]
	return ok
}

// Distinctiveness returns the fixed distinctiveness score for a habitat type.
// Unknown types score zero.
func Distinctiveness(t HabitatType) int {
	return habitatDistinctiveness[t]
}

// ConditionMultiplier returns the condition factor applied to unit values.
func ConditionMultiplier(c Condition) decimal.Decimal {
	if m, ok := conditionMultipliers[c]; ok {
		return m
	}
	return decimal.New(1, 0)
}

// StrategicMultiplier returns the strategic-significance factor applied to
// unit values.
func StrategicMultiplier(s StrategicSignificance) decimal.Decimal {
	if m, ok := strategicMultipliers[s]; ok {
		return m
	}
	return decimal.New(1, 0)
}

// AcceptableOffsetsFor returns the ranked habitat types an offset site may
// provide to compensate for losing t. A type without a substitution entry
// accepts only itself.
func AcceptableOffsetsFor(t HabitatType) []HabitatType {
	if subs, ok := habitatSubstitutes[t]; ok {
		out := make([]HabitatType, len(subs))
		copy(out, subs)
		return out
	}
	return []HabitatType{t}
}

// AllHabitatTypes lists every recognised habitat classification in a stable
// order.
func AllHabitatTypes() []HabitatType {
	return []HabitatType{
		HabitatGrasslandModified,
		HabitatGrasslandSpeciesPoor,
		HabitatGrasslandSpeciesRich,
		HabitatHeathlandLowland,
		HabitatHeathlandUpland,
		HabitatWoodlandBroadleaf,
		HabitatWoodlandConiferous,
		HabitatWoodlandMixed,
		HabitatWetlandFreshwater,
		HabitatWetlandCoastal,
		HabitatScrubland,
		HabitatUrbanTrees,
		HabitatArable,
		HabitatDevelopedSealed,
	}
}
