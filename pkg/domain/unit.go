package domain

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// HabitatUnit describes one habitat parcel within an assessment or listing.
// The biodiversity unit value is never stored: it is always derived from the
// four inputs via Units, so it cannot drift when an input changes.
type HabitatUnit struct {
	HabitatType           HabitatType           `json:"habitat_type"`
	Condition             Condition             `json:"condition"`
	AreaHectares          decimal.Decimal       `json:"area_hectares"`
	StrategicSignificance StrategicSignificance `json:"strategic_significance"`
}

// NewHabitatUnit validates the inputs and returns a habitat unit. The area
// must be strictly positive and every enumeration must be a known value.
func NewHabitatUnit(t HabitatType, c Condition, area decimal.Decimal, s StrategicSignificance) (HabitatUnit, error) {
	u := HabitatUnit{HabitatType: t, Condition: c, AreaHectares: area, StrategicSignificance: s}
	if err := u.Validate(); err != nil {
		return HabitatUnit{}, err
	}
	return u, nil
}

// Validate checks the unit's inputs against the habitat taxonomy.
func (u HabitatUnit) Validate() error {
	if !ValidHabitatType(u.HabitatType) {
		return ValidationError{Field: "habitat_type", Reason: "unknown habitat type " + string(u.HabitatType)}
	}
	if !ValidCondition(u.Condition) {
		return ValidationError{Field: "condition", Reason: "unknown condition " + string(u.Condition)}
	}
	if !ValidSignificance(u.StrategicSignificance) {
		return ValidationError{Field: "strategic_significance", Reason: "unknown strategic significance " + string(u.StrategicSignificance)}
	}
	if !u.AreaHectares.IsPositive() {
		return ValidationError{Field: "area_hectares", Reason: "area must be greater than zero"}
	}
	return nil
}

// Units computes the standardized biodiversity unit value:
// area x distinctiveness x condition multiplier x strategic multiplier.
func (u HabitatUnit) Units() decimal.Decimal {
	return u.AreaHectares.
		Mul(decimal.NewFromInt(int64(Distinctiveness(u.HabitatType)))).
		Mul(ConditionMultiplier(u.Condition)).
		Mul(StrategicMultiplier(u.StrategicSignificance))
}

type habitatUnitAlias HabitatUnit

// MarshalJSON emits the derived unit value alongside the inputs so exported
// records carry the computed figure.
func (u HabitatUnit) MarshalJSON() ([]byte, error) {
	type payload struct {
		habitatUnitAlias
		Units decimal.Decimal `json:"biodiversity_units"`
	}
	return json.Marshal(payload{habitatUnitAlias: habitatUnitAlias(u), Units: u.Units()})
}

// UnmarshalJSON hydrates the inputs and discards any serialized unit value;
// Units recomputes it on demand.
func (u *HabitatUnit) UnmarshalJSON(data []byte) error {
	var aux habitatUnitAlias
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*u = HabitatUnit(aux)
	return nil
}

// SumUnits totals the derived unit values of a habitat unit list.
func SumUnits(units []HabitatUnit) decimal.Decimal {
	total := decimal.Zero
	for _, u := range units {
		total = total.Add(u.Units())
	}
	return total
}

// HabitatTypesOf returns the distinct habitat types present in a unit list.
func HabitatTypesOf(units []HabitatUnit) []HabitatType {
	seen := make(map[HabitatType]struct{}, len(units))
	var out []HabitatType
	for _, u := range units {
		if _, ok := seen[u.HabitatType]; ok {
			continue
		}
		seen[u.HabitatType] = struct{}{}
		out = append(out, u.HabitatType)
	}
	return out
}
