package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func mustUnit(t *testing.T, habitat HabitatType, cond Condition, area string) HabitatUnit {
	t.Helper()
	u, err := NewHabitatUnit(habitat, cond, dec(t, area), SignificanceLow)
	if err != nil {
		t.Fatalf("new unit: %v", err)
	}
	return u
}

func testAssessment(t *testing.T) BiodiversityAssessment {
	t.Helper()
	return BiodiversityAssessment{
		SiteReference:         "SITE-001",
		Postcode:              "OX1 1AA",
		LocalAuthority:        "Oxford City Council",
		AssessmentDate:        time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		AssessorName:          "J. Allenby",
		AssessorQualification: "CIEEM",
		MethodologyVersion:    "4.0",
		// Baseline 20 units: 10 ha modified grassland at distinctiveness 2,
		// condition 1.0.
		Baseline: []HabitatUnit{
			mustUnit(t, HabitatGrasslandModified, ConditionNotApplicable, "10"),
		},
		// Post-development 12 units: 6 ha of the same habitat retained.
		PostDevelopment: []HabitatUnit{
			mustUnit(t, HabitatGrasslandModified, ConditionNotApplicable, "6"),
		},
	}
}

func TestAssessmentRequiredOffsetUnits(t *testing.T) {
	a := testAssessment(t)
	if got := a.BaselineTotal(); !got.Equal(dec(t, "20")) {
		t.Fatalf("baseline = %s, want 20", got)
	}
	if got := a.PostDevelopmentTotal(); !got.Equal(dec(t, "12")) {
		t.Fatalf("post-development = %s, want 12", got)
	}
	if got := a.NetChange(); !got.Equal(dec(t, "-8")) {
		t.Fatalf("net change = %s, want -8", got)
	}
	// Shortfall of 8 plus 10% gain on the 20-unit baseline.
	if got := a.RequiredOffsetUnits(); !got.Equal(dec(t, "10")) {
		t.Fatalf("required offset = %s, want 10", got)
	}
}

func TestAssessmentNetGainAlreadyMet(t *testing.T) {
	a := testAssessment(t)
	a.PostDevelopment = []HabitatUnit{
		mustUnit(t, HabitatGrasslandSpeciesRich, ConditionGood, "10"),
	}
	if a.NetChange().IsNegative() {
		t.Fatalf("expected positive net change, got %s", a.NetChange())
	}
	if !a.RequiredOffsetUnits().IsZero() {
		t.Fatalf("no offset should be required, got %s", a.RequiredOffsetUnits())
	}
}

func TestAssessmentExplicitBNGPercent(t *testing.T) {
	a := testAssessment(t)
	a.BNGPercent = decimal.NewFromInt(20)
	// Shortfall 8 plus 20% of 20.
	if got := a.RequiredOffsetUnits(); !got.Equal(dec(t, "12")) {
		t.Fatalf("required offset = %s, want 12", got)
	}
}

func TestAssessmentLostHabitatTypes(t *testing.T) {
	a := testAssessment(t)
	a.Baseline = append(a.Baseline, mustUnit(t, HabitatWoodlandBroadleaf, ConditionGood, "1"))
	lost := a.LostHabitatTypes()
	if len(lost) != 1 || lost[0] != HabitatWoodlandBroadleaf {
		t.Fatalf("lost habitats = %v, want woodland_broadleaf only", lost)
	}
}

func TestAssessmentValidate(t *testing.T) {
	a := testAssessment(t)
	if err := a.Validate(); err != nil {
		t.Fatalf("valid assessment rejected: %v", err)
	}
	a.Baseline = nil
	if err := a.Validate(); err == nil {
		t.Fatal("expected validation error for empty baseline")
	}
	b := testAssessment(t)
	b.BNGPercent = decimal.NewFromInt(-5)
	if err := b.Validate(); err == nil {
		t.Fatal("expected validation error for negative BNG percentage")
	}
}
