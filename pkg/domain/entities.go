// Package domain defines the core persistent entities, derived-value
// accessors, rule evaluation primitives, and persistence contracts of the
// biodiversity offset marketplace.
package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// EntityType identifies the type of record stored in the marketplace core.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityListing identifies a supply listing record.
	EntityListing EntityType = "supply_listing"
	// EntityDemand identifies a demand request record.
	EntityDemand EntityType = "demand_request"
	// EntityMatch identifies a match record.
	EntityMatch EntityType = "match"
)

// ListingStatus enumerates supply listing lifecycle states.
type ListingStatus string

// Listing lifecycle states. New listings start in draft and must be activated
// before the matching engine will consider them.
const (
	ListingDraft     ListingStatus = "draft"
	ListingActive    ListingStatus = "active"
	ListingReserved  ListingStatus = "reserved"
	ListingSold      ListingStatus = "sold"
	ListingExpired   ListingStatus = "expired"
	ListingWithdrawn ListingStatus = "withdrawn"
)

// DemandStatus enumerates demand request lifecycle states.
type DemandStatus string

// Demand lifecycle states. Contracting and completion happen outside the core.
const (
	DemandSearching  DemandStatus = "searching"
	DemandMatched    DemandStatus = "matched"
	DemandContracted DemandStatus = "contracted"
	DemandCompleted  DemandStatus = "completed"
	DemandCancelled  DemandStatus = "cancelled"
)

// MatchStatus enumerates match lifecycle states.
type MatchStatus string

// Match lifecycle states. Matches are advisory and time-limited.
const (
	MatchPotential MatchStatus = "potential"
	MatchProposed  MatchStatus = "proposed"
	MatchAccepted  MatchStatus = "accepted"
	MatchRejected  MatchStatus = "rejected"
	MatchExpired   MatchStatus = "expired"
)

// ValidListingStatus reports whether s is a known listing state.
func ValidListingStatus(s ListingStatus) bool {
	switch s {
	case ListingDraft, ListingActive, ListingReserved, ListingSold, ListingExpired, ListingWithdrawn:
		return true
	}
	return false
}

// ValidDemandStatus reports whether s is a known demand state.
func ValidDemandStatus(s DemandStatus) bool {
	switch s {
	case DemandSearching, DemandMatched, DemandContracted, DemandCompleted, DemandCancelled:
		return true
	}
	return false
}

// Base contains common fields for all marketplace records.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SupplyListing is a landowner's offer of biodiversity offset units.
// Total and available unit figures are derived from the habitat inventory and
// the reserved/sold counters; they are never independently settable.
type SupplyListing struct {
	Base
	LandownerID      string  `json:"landowner_id"`
	LandownerName    string  `json:"landowner_name"`
	LandownerContact string  `json:"landowner_contact"`
	SiteName         string  `json:"site_name"`
	SiteDescription  *string `json:"site_description,omitempty"`
	Postcode         string  `json:"postcode"`
	LocalAuthority   string  `json:"local_authority"`
	Coordinates      *Coordinates    `json:"coordinates,omitempty"`
	TotalSiteAreaHa  decimal.Decimal `json:"total_site_area_hectares"`
	HabitatUnits     []HabitatUnit   `json:"available_habitat_units"`

	DeliveryStartDate      time.Time `json:"delivery_start_date"`
	DeliveryCompletionDate time.Time `json:"delivery_completion_date"`
	MonitoringPeriodYears  int       `json:"monitoring_period_years"`

	PricePerUnit        decimal.Decimal `json:"price_per_unit"`
	MinimumUnitPurchase decimal.Decimal `json:"minimum_unit_purchase"`
	PaymentTerms        string          `json:"payment_terms"`
	LandTenure          string          `json:"land_tenure"`

	Status        ListingStatus   `json:"status"`
	UnitsReserved decimal.Decimal `json:"units_reserved"`
	UnitsSold     decimal.Decimal `json:"units_sold"`
	ExpiryDate    *time.Time      `json:"expiry_date,omitempty"`

	// Version counts committed mutations, supporting optimistic concurrency
	// checks in stores that persist row-per-entity.
	Version int64 `json:"version"`
}

// TotalUnits derives the listing's total biodiversity unit capacity from its
// habitat inventory.
func (l SupplyListing) TotalUnits() decimal.Decimal {
	return SumUnits(l.HabitatUnits)
}

// AvailableUnits derives the uncommitted capacity: total minus reserved minus
// sold.
func (l SupplyListing) AvailableUnits() decimal.Decimal {
	return l.TotalUnits().Sub(l.UnitsReserved).Sub(l.UnitsSold)
}

// TotalValue is the listing's full capacity priced at the asking rate.
func (l SupplyListing) TotalValue() decimal.Decimal {
	return l.TotalUnits().Mul(l.PricePerUnit)
}

// HabitatTypes lists the distinct habitat types offered.
func (l SupplyListing) HabitatTypes() []HabitatType {
	return HabitatTypesOf(l.HabitatUnits)
}

type listingAlias SupplyListing

// MarshalJSON emits the derived capacity figures alongside the stored fields.
func (l SupplyListing) MarshalJSON() ([]byte, error) {
	type payload struct {
		listingAlias
		TotalUnits     decimal.Decimal `json:"total_biodiversity_units"`
		AvailableUnits decimal.Decimal `json:"units_available"`
		TotalValue     decimal.Decimal `json:"total_value"`
	}
	return json.Marshal(payload{
		listingAlias:   listingAlias(l),
		TotalUnits:     l.TotalUnits(),
		AvailableUnits: l.AvailableUnits(),
		TotalValue:     l.TotalValue(),
	})
}

// UnmarshalJSON hydrates the stored fields; capacity figures are recomputed.
func (l *SupplyListing) UnmarshalJSON(data []byte) error {
	var aux listingAlias
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*l = SupplyListing(aux)
	return nil
}

// DemandRequest is a developer's requirement for off-site biodiversity units,
// derived from the embedded assessment.
type DemandRequest struct {
	Base
	DeveloperID      string `json:"developer_id"`
	DeveloperName    string `json:"developer_name"`
	DeveloperContact string `json:"developer_contact"`

	ProjectName        string       `json:"project_name"`
	ProjectDescription string       `json:"project_description"`
	Postcode           string       `json:"development_postcode"`
	Coordinates        *Coordinates `json:"development_coordinates,omitempty"`
	PlanningReference  string       `json:"planning_application_reference"`

	Assessment         BiodiversityAssessment `json:"biodiversity_assessment"`
	AcceptableHabitats []HabitatType          `json:"required_habitat_types"`

	MaxDistanceKm        int      `json:"max_distance_km"`
	PreferredAuthorities []string `json:"preferred_local_authorities"`
	SameCharacterArea    bool     `json:"same_national_character_area"`

	RequiredByDate         time.Time `json:"required_by_date"`
	DeliveryTimelineMonths int       `json:"delivery_timeline_months"`

	MaxPricePerUnit decimal.Decimal `json:"max_price_per_unit"`
	PaymentTerms    string          `json:"preferred_payment_terms"`

	Status DemandStatus `json:"status"`
}

// RequiredUnits derives the offset quantity from the embedded assessment.
func (d DemandRequest) RequiredUnits() decimal.Decimal {
	return d.Assessment.RequiredOffsetUnits()
}

// TotalBudget is the requirement priced at the developer's ceiling.
func (d DemandRequest) TotalBudget() decimal.Decimal {
	return d.RequiredUnits().Mul(d.MaxPricePerUnit)
}

type demandAlias DemandRequest

// MarshalJSON emits the derived requirement figures alongside the stored fields.
func (d DemandRequest) MarshalJSON() ([]byte, error) {
	type payload struct {
		demandAlias
		RequiredUnits decimal.Decimal `json:"required_units"`
		TotalBudget   decimal.Decimal `json:"total_budget"`
	}
	return json.Marshal(payload{
		demandAlias:   demandAlias(d),
		RequiredUnits: d.RequiredUnits(),
		TotalBudget:   d.TotalBudget(),
	})
}

// UnmarshalJSON hydrates the stored fields; requirement figures are recomputed.
func (d *DemandRequest) UnmarshalJSON(data []byte) error {
	var aux demandAlias
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*d = DemandRequest(aux)
	return nil
}

// Match is an ephemeral candidate pairing of one supply listing and one
// demand request. The overall score is derived from the sub-scores; see
// OverallScore for the weighting.
type Match struct {
	Base
	SupplyListingID string `json:"supply_listing_id"`
	DemandRequestID string `json:"demand_request_id"`

	MatchedUnits decimal.Decimal `json:"matched_units"`
	UnitPrice    decimal.Decimal `json:"unit_price"`

	DistanceKm         float64 `json:"distance_km"`
	HabitatScore       float64 `json:"habitat_type_match_score"`
	LocationScore      float64 `json:"location_preference_score"`
	TimelineCompatible bool    `json:"timeline_compatibility"`

	Status       MatchStatus `json:"match_status"`
	ExpiresAt    time.Time   `json:"expires_date"`
	RejectReason *string     `json:"reject_reason,omitempty"`
}

// Overall score weights. The distance term appears both inside the location
// score and as its own component; this mirrors the original marketplace
// formula and is kept pending a decision on the intended weighting.
const (
	habitatWeight   = 0.4
	locationWeight  = 0.3
	distanceWeight  = 0.2
	timelineWeight  = 0.1
	distanceHorizon = 100.0
)

// TotalValue is the matched quantity at the agreed unit price.
func (m Match) TotalValue() decimal.Decimal {
	return m.MatchedUnits.Mul(m.UnitPrice)
}

// OverallScore combines the sub-scores into a single [0,1] quality figure.
func (m Match) OverallScore() float64 {
	score := habitatWeight*m.HabitatScore + locationWeight*m.LocationScore
	distanceScore := 1 - m.DistanceKm/distanceHorizon
	if distanceScore < 0 {
		distanceScore = 0
	}
	score += distanceWeight * distanceScore
	if m.TimelineCompatible {
		score += timelineWeight
	}
	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	return score
}

// ExpiredAt reports whether the match has lapsed at the given instant.
// Expired matches are excluded from acceptance.
func (m Match) ExpiredAt(now time.Time) bool {
	return !m.ExpiresAt.IsZero() && now.After(m.ExpiresAt)
}

type matchAlias Match

// MarshalJSON emits the derived value and score alongside the stored fields.
func (m Match) MarshalJSON() ([]byte, error) {
	type payload struct {
		matchAlias
		TotalValue   decimal.Decimal `json:"total_value"`
		OverallScore float64         `json:"overall_match_score"`
	}
	return json.Marshal(payload{
		matchAlias:   matchAlias(m),
		TotalValue:   m.TotalValue(),
		OverallScore: m.OverallScore(),
	})
}

// UnmarshalJSON hydrates the stored fields; value and score are recomputed.
func (m *Match) UnmarshalJSON(data []byte) error {
	var aux matchAlias
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*m = Match(aux)
	return nil
}
