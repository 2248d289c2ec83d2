// Package demand implements the demand side of the marketplace: developer
// requirements derived from biodiversity assessments, substitution handling,
// and demand search.
package demand

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"offsetcore/pkg/domain"
)

// DefaultMaxDistanceKm bounds supplier search when the developer leaves the
// radius unset.
const DefaultMaxDistanceKm = 100

// Ledger coordinates demand request operations over a persistent store.
type Ledger struct {
	store domain.PersistentStore
}

// NewLedger constructs a demand ledger backed by the given store.
func NewLedger(store domain.PersistentStore) *Ledger {
	return &Ledger{store: store}
}

// SurveyParcel is a single habitat parcel recorded during an ecological site
// survey. Retained parcels survive the development and count toward the
// post-development habitat inventory.
type SurveyParcel struct {
	HabitatType  domain.HabitatType
	Condition    domain.Condition
	AreaHectares decimal.Decimal
	Significance domain.StrategicSignificance
	Retained     bool
}

// SurveyInput carries the site metadata and parcels needed to build an
// assessment from raw survey data.
type SurveyInput struct {
	SiteReference         string
	Postcode              string
	LocalAuthority        string
	Coordinates           *domain.Coordinates
	AssessmentDate        time.Time
	AssessorName          string
	AssessorQualification string
	MethodologyVersion    string
	Parcels               []SurveyParcel
	BNGPercent            decimal.Decimal
}

// NewAssessmentFromSurvey converts raw survey parcels into a validated
// biodiversity assessment. All parcels form the baseline; parcels flagged as
// retained also appear in the post-development inventory.
func NewAssessmentFromSurvey(input SurveyInput) (domain.BiodiversityAssessment, error) {
	assessment := domain.BiodiversityAssessment{
		SiteReference:         input.SiteReference,
		Postcode:              input.Postcode,
		LocalAuthority:        input.LocalAuthority,
		Coordinates:           input.Coordinates,
		AssessmentDate:        input.AssessmentDate,
		AssessorName:          input.AssessorName,
		AssessorQualification: input.AssessorQualification,
		MethodologyVersion:    input.MethodologyVersion,
		BNGPercent:            input.BNGPercent,
	}
	for _, parcel := range input.Parcels {
		unit, err := domain.NewHabitatUnit(parcel.HabitatType, parcel.Condition, parcel.AreaHectares, parcel.Significance)
		if err != nil {
			return domain.BiodiversityAssessment{}, err
		}
		assessment.Baseline = append(assessment.Baseline, unit)
		if parcel.Retained {
			assessment.PostDevelopment = append(assessment.PostDevelopment, unit)
		}
	}
	if err := assessment.Validate(); err != nil {
		return domain.BiodiversityAssessment{}, err
	}
	return assessment, nil
}

// CreateDemand validates and persists a new demand request. Requests always
// start in searching. When no acceptable habitat types are supplied they are
// derived from the assessment's lost habitats via the substitution hierarchy,
// falling back to the default offset set when nothing was lost.
func (l *Ledger) CreateDemand(ctx context.Context, req domain.DemandRequest) (domain.DemandRequest, error) {
	if err := validateDemand(req); err != nil {
		return domain.DemandRequest{}, err
	}
	req.Status = domain.DemandSearching
	if req.MaxDistanceKm <= 0 {
		req.MaxDistanceKm = DefaultMaxDistanceKm
	}
	if len(req.AcceptableHabitats) == 0 {
		req.AcceptableHabitats = deriveAcceptableHabitats(req.Assessment)
	}
	var created domain.DemandRequest
	_, err := l.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		created, err = tx.CreateDemand(req)
		return err
	})
	if err != nil {
		return domain.DemandRequest{}, err
	}
	return created, nil
}

func validateDemand(req domain.DemandRequest) error {
	if strings.TrimSpace(req.DeveloperID) == "" {
		return domain.ValidationError{Field: "developer_id", Reason: "required"}
	}
	if strings.TrimSpace(req.ProjectName) == "" {
		return domain.ValidationError{Field: "project_name", Reason: "required"}
	}
	if err := req.Assessment.Validate(); err != nil {
		return err
	}
	if !req.MaxPricePerUnit.IsPositive() {
		return domain.ValidationError{Field: "max_price_per_unit", Reason: "must be positive"}
	}
	if req.DeliveryTimelineMonths < 0 {
		return domain.ValidationError{Field: "delivery_timeline_months", Reason: "must not be negative"}
	}
	return nil
}

// deriveAcceptableHabitats expands each lost habitat through the substitution
// hierarchy. When the development lost nothing of note the statutory default
// offset set applies.
func deriveAcceptableHabitats(assessment domain.BiodiversityAssessment) []domain.HabitatType {
	lost := assessment.LostHabitatTypes()
	if len(lost) == 0 {
		return append([]domain.HabitatType(nil), domain.DefaultOffsetHabitats...)
	}
	seen := map[domain.HabitatType]struct{}{}
	var out []domain.HabitatType
	for _, habitat := range lost {
		for _, substitute := range domain.AcceptableOffsetsFor(habitat) {
			if _, ok := seen[substitute]; ok {
				continue
			}
			seen[substitute] = struct{}{}
			out = append(out, substitute)
		}
	}
	return out
}

// Get retrieves a demand request by ID.
func (l *Ledger) Get(id string) (domain.DemandRequest, error) {
	req, ok := l.store.GetDemand(id)
	if !ok {
		return domain.DemandRequest{}, domain.NotFoundError{Entity: domain.EntityDemand, ID: id}
	}
	return req, nil
}

// UpdateStatus transitions a demand request to the given status.
func (l *Ledger) UpdateStatus(ctx context.Context, id string, status domain.DemandStatus) (domain.DemandRequest, error) {
	if !domain.ValidDemandStatus(status) {
		return domain.DemandRequest{}, domain.ValidationError{Field: "status", Reason: "unknown demand status " + string(status)}
	}
	var updated domain.DemandRequest
	_, err := l.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		updated, err = tx.UpdateDemand(id, func(req *domain.DemandRequest) error {
			req.Status = status
			return nil
		})
		return err
	})
	if err != nil {
		return domain.DemandRequest{}, err
	}
	return updated, nil
}

// SearchFilter narrows demand search results. Zero values leave the
// corresponding dimension unconstrained.
type SearchFilter struct {
	Status      domain.DemandStatus
	DeveloperID string
	HabitatType domain.HabitatType
	Limit       int
	Offset      int
}

// Search returns demand requests matching the filter ordered newest first.
func (l *Ledger) Search(filter SearchFilter) []domain.DemandRequest {
	var out []domain.DemandRequest
	for _, req := range l.store.ListDemands() {
		if filter.Status != "" && req.Status != filter.Status {
			continue
		}
		if filter.DeveloperID != "" && req.DeveloperID != filter.DeveloperID {
			continue
		}
		if filter.HabitatType != "" && !acceptsHabitat(req, filter.HabitatType) {
			continue
		}
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out
}

func acceptsHabitat(req domain.DemandRequest, h domain.HabitatType) bool {
	for _, habitat := range req.AcceptableHabitats {
		if habitat == h {
			return true
		}
	}
	return false
}

// Statistics summarizes the open side of demand.
type Statistics struct {
	SearchingRequests int             `json:"searching_requests"`
	RequiredUnits     decimal.Decimal `json:"required_units"`
	TotalBudget       decimal.Decimal `json:"total_budget"`
	AvgMaxPrice       decimal.Decimal `json:"avg_max_price_per_unit"`
	// Per-habitat demand over the same searching requests. A request
	// counts toward every habitat type it will accept, so the maps
	// describe where offset supply of each type could find a buyer.
	RequestsByHabitat      map[domain.HabitatType]int             `json:"requests_by_habitat"`
	RequiredUnitsByHabitat map[domain.HabitatType]decimal.Decimal `json:"required_units_by_habitat"`
	BudgetByHabitat        map[domain.HabitatType]decimal.Decimal `json:"budget_by_habitat"`
}

// Stats aggregates figures over demand requests still searching for supply.
func (l *Ledger) Stats() Statistics {
	stats := Statistics{
		RequestsByHabitat:      map[domain.HabitatType]int{},
		RequiredUnitsByHabitat: map[domain.HabitatType]decimal.Decimal{},
		BudgetByHabitat:        map[domain.HabitatType]decimal.Decimal{},
	}
	priceSum := decimal.Zero
	for _, req := range l.store.ListDemands() {
		if req.Status != domain.DemandSearching {
			continue
		}
		stats.SearchingRequests++
		stats.RequiredUnits = stats.RequiredUnits.Add(req.RequiredUnits())
		stats.TotalBudget = stats.TotalBudget.Add(req.TotalBudget())
		priceSum = priceSum.Add(req.MaxPricePerUnit)
		for _, habitat := range req.AcceptableHabitats {
			stats.RequestsByHabitat[habitat]++
			stats.RequiredUnitsByHabitat[habitat] = stats.RequiredUnitsByHabitat[habitat].Add(req.RequiredUnits())
			stats.BudgetByHabitat[habitat] = stats.BudgetByHabitat[habitat].Add(req.TotalBudget())
		}
	}
	if stats.SearchingRequests > 0 {
		stats.AvgMaxPrice = priceSum.DivRound(decimal.NewFromInt(int64(stats.SearchingRequests)), 2)
	}
	return stats
}
