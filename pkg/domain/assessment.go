package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultBNGPercent is the statutory biodiversity net gain requirement applied
// when an assessment does not specify one.
var DefaultBNGPercent = decimal.NewFromInt(10)

// BiodiversityAssessment captures the baseline and post-development habitat
// inventory for one site. All totals are derived from the habitat lists and
// never stored.
type BiodiversityAssessment struct {
	SiteReference        string          `json:"site_reference"`
	Postcode             string          `json:"postcode"`
	LocalAuthority       string          `json:"local_authority"`
	Coordinates          *Coordinates    `json:"coordinates,omitempty"`
	AssessmentDate       time.Time       `json:"assessment_date"`
	AssessorName         string          `json:"assessor_name"`
	AssessorQualification string         `json:"assessor_qualification"`
	MethodologyVersion   string          `json:"methodology_version"`
	Baseline             []HabitatUnit   `json:"baseline_habitats"`
	PostDevelopment      []HabitatUnit   `json:"post_development_habitats"`
	BNGPercent           decimal.Decimal `json:"bng_percentage_required"`
}

// Validate checks every habitat unit in both inventories.
func (a BiodiversityAssessment) Validate() error {
	for _, u := range a.Baseline {
		if err := u.Validate(); err != nil {
			return err
		}
	}
	for _, u := range a.PostDevelopment {
		if err := u.Validate(); err != nil {
			return err
		}
	}
	if a.BNGPercent.IsNegative() {
		return ValidationError{Field: "bng_percentage_required", Reason: "percentage must not be negative"}
	}
	return nil
}

// BaselineTotal sums the baseline habitat unit values.
func (a BiodiversityAssessment) BaselineTotal() decimal.Decimal {
	return SumUnits(a.Baseline)
}

// PostDevelopmentTotal sums the post-development habitat unit values.
func (a BiodiversityAssessment) PostDevelopmentTotal() decimal.Decimal {
	return SumUnits(a.PostDevelopment)
}

// NetChange is post-development minus baseline; negative means the
// development destroys biodiversity value on-site.
func (a BiodiversityAssessment) NetChange() decimal.Decimal {
	return a.PostDevelopmentTotal().Sub(a.BaselineTotal())
}

// NetGainRequired is the statutory uplift: baseline total times the BNG
// percentage.
func (a BiodiversityAssessment) NetGainRequired() decimal.Decimal {
	pct := a.BNGPercent
	if pct.IsZero() {
		pct = DefaultBNGPercent
	}
	return a.BaselineTotal().Mul(pct).Div(decimal.NewFromInt(100))
}

// RequiredOffsetUnits is the quantity a developer must buy off-site: zero when
// the development achieves net gain on-site, otherwise the absolute loss plus
// the statutory net gain requirement.
func (a BiodiversityAssessment) RequiredOffsetUnits() decimal.Decimal {
	net := a.NetChange()
	if net.Sign() >= 0 {
		return decimal.Zero
	}
	return net.Abs().Add(a.NetGainRequired())
}

// LostHabitatTypes lists the habitat types present at baseline but absent
// post-development.
func (a BiodiversityAssessment) LostHabitatTypes() []HabitatType {
	after := make(map[HabitatType]struct{}, len(a.PostDevelopment))
	for _, u := range a.PostDevelopment {
		after[u.HabitatType] = struct{}{}
	}
	var lost []HabitatType
	for _, t := range HabitatTypesOf(a.Baseline) {
		if _, ok := after[t]; !ok {
			lost = append(lost, t)
		}
	}
	return lost
}

type assessmentAlias BiodiversityAssessment

// MarshalJSON emits the derived totals alongside the habitat inventories.
func (a BiodiversityAssessment) MarshalJSON() ([]byte, error) {
	type payload struct {
		assessmentAlias
		BaselineTotal        decimal.Decimal `json:"baseline_biodiversity_units"`
		PostDevelopmentTotal decimal.Decimal `json:"post_development_units"`
		NetChange            decimal.Decimal `json:"net_unit_change"`
		NetGainRequired      decimal.Decimal `json:"net_gain_required"`
	}
	return json.Marshal(payload{
		assessmentAlias:      assessmentAlias(a),
		BaselineTotal:        a.BaselineTotal(),
		PostDevelopmentTotal: a.PostDevelopmentTotal(),
		NetChange:            a.NetChange(),
		NetGainRequired:      a.NetGainRequired(),
	})
}

// UnmarshalJSON hydrates the inputs; derived totals are recomputed on demand.
func (a *BiodiversityAssessment) UnmarshalJSON(data []byte) error {
	var aux assessmentAlias
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*a = BiodiversityAssessment(aux)
	return nil
}
