// Package supply implements the supply side of the marketplace: landowner
// listings, capacity bookkeeping, search, and market statistics.
package supply

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"offsetcore/pkg/domain"
)

// DefaultListingLifetime is applied to new listings that do not carry an
// explicit expiry date.
const DefaultListingLifetime = 365 * 24 * time.Hour

// Ledger coordinates supply listing operations over a persistent store.
type Ledger struct {
	store domain.PersistentStore
}

// NewLedger constructs a supply ledger backed by the given store.
func NewLedger(store domain.PersistentStore) *Ledger {
	return &Ledger{store: store}
}

// CreateListing validates and persists a new listing. Listings always start
// in draft regardless of the submitted status, and the reserved and sold
// counters are zeroed.
func (l *Ledger) CreateListing(ctx context.Context, listing domain.SupplyListing) (domain.SupplyListing, error) {
	if err := validateListing(listing); err != nil {
		return domain.SupplyListing{}, err
	}
	listing.Status = domain.ListingDraft
	listing.UnitsReserved = decimal.Zero
	listing.UnitsSold = decimal.Zero
	if listing.ExpiryDate == nil {
		expiry := time.Now().UTC().Add(DefaultListingLifetime)
		listing.ExpiryDate = &expiry
	}
	var created domain.SupplyListing
	_, err := l.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		created, err = tx.CreateListing(listing)
		return err
	})
	if err != nil {
		return domain.SupplyListing{}, err
	}
	return created, nil
}

func validateListing(listing domain.SupplyListing) error {
	if strings.TrimSpace(listing.LandownerID) == "" {
		return domain.ValidationError{Field: "landowner_id", Reason: "required"}
	}
	if strings.TrimSpace(listing.SiteName) == "" {
		return domain.ValidationError{Field: "site_name", Reason: "required"}
	}
	if strings.TrimSpace(listing.Postcode) == "" {
		return domain.ValidationError{Field: "postcode", Reason: "required"}
	}
	if len(listing.HabitatUnits) == 0 {
		return domain.ValidationError{Field: "available_habitat_units", Reason: "at least one habitat parcel required"}
	}
	for _, unit := range listing.HabitatUnits {
		if err := unit.Validate(); err != nil {
			return err
		}
	}
	if !listing.TotalSiteAreaHa.IsPositive() {
		return domain.ValidationError{Field: "total_site_area_hectares", Reason: "must be positive"}
	}
	if !listing.PricePerUnit.IsPositive() {
		return domain.ValidationError{Field: "price_per_unit", Reason: "must be positive"}
	}
	if listing.MinimumUnitPurchase.IsNegative() {
		return domain.ValidationError{Field: "minimum_unit_purchase", Reason: "must not be negative"}
	}
	if !listing.DeliveryCompletionDate.After(listing.DeliveryStartDate) {
		return domain.ValidationError{Field: "delivery_completion_date", Reason: "must follow delivery start"}
	}
	if listing.MonitoringPeriodYears < 0 {
		return domain.ValidationError{Field: "monitoring_period_years", Reason: "must not be negative"}
	}
	return nil
}

// Get retrieves a listing by ID.
func (l *Ledger) Get(id string) (domain.SupplyListing, error) {
	listing, ok := l.store.GetListing(id)
	if !ok {
		return domain.SupplyListing{}, domain.NotFoundError{Entity: domain.EntityListing, ID: id}
	}
	return listing, nil
}

// UpdateStatus transitions a listing to the given status. The transition is
// idempotent: setting the current status again succeeds without a version
// bump being observable to callers beyond the updated timestamp.
func (l *Ledger) UpdateStatus(ctx context.Context, id string, status domain.ListingStatus) (domain.SupplyListing, error) {
	if !domain.ValidListingStatus(status) {
		return domain.SupplyListing{}, domain.ValidationError{Field: "status", Reason: "unknown listing status " + string(status)}
	}
	var updated domain.SupplyListing
	_, err := l.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		updated, err = tx.UpdateListing(id, func(listing *domain.SupplyListing) error {
			listing.Status = status
			return nil
		})
		return err
	})
	if err != nil {
		return domain.SupplyListing{}, err
	}
	return updated, nil
}

// Amend applies mutate to the listing if its version still equals
// expectedVersion, returning a ConflictError when another writer got there
// first. Pass a zero expectedVersion to skip the check.
func (l *Ledger) Amend(ctx context.Context, id string, expectedVersion int64, mutate func(*domain.SupplyListing) error) (domain.SupplyListing, error) {
	var updated domain.SupplyListing
	_, err := l.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		updated, err = tx.UpdateListing(id, func(listing *domain.SupplyListing) error {
			if expectedVersion > 0 && listing.Version != expectedVersion {
				return domain.ConflictError{
					Entity: domain.EntityListing,
					ID:     id,
					Reason: fmt.Sprintf("version %d expected, listing is at %d", expectedVersion, listing.Version),
				}
			}
			return mutate(listing)
		})
		return err
	})
	if err != nil {
		return domain.SupplyListing{}, err
	}
	return updated, nil
}

// Reserve places a hold of quantity units on the listing.
func (l *Ledger) Reserve(ctx context.Context, id string, quantity decimal.Decimal) (domain.SupplyListing, error) {
	var updated domain.SupplyListing
	_, err := l.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		updated, err = tx.ReserveUnits(id, quantity)
		return err
	})
	if err != nil {
		return domain.SupplyListing{}, err
	}
	return updated, nil
}

// Sell converts quantity units to sold, consuming any reservation first.
func (l *Ledger) Sell(ctx context.Context, id string, quantity decimal.Decimal) (domain.SupplyListing, error) {
	var updated domain.SupplyListing
	_, err := l.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		updated, err = tx.SellUnits(id, quantity)
		return err
	})
	if err != nil {
		return domain.SupplyListing{}, err
	}
	return updated, nil
}

// Release returns reserved units to the open pool.
func (l *Ledger) Release(ctx context.Context, id string, quantity decimal.Decimal) (domain.SupplyListing, error) {
	var updated domain.SupplyListing
	_, err := l.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		updated, err = tx.ReleaseUnits(id, quantity)
		return err
	})
	if err != nil {
		return domain.SupplyListing{}, err
	}
	return updated, nil
}

// SearchFilter narrows listing search results. Zero values leave the
// corresponding dimension unconstrained.
type SearchFilter struct {
	HabitatType       domain.HabitatType
	LocalAuthority    string
	Status            domain.ListingStatus
	MaxPricePerUnit   decimal.Decimal
	MinAvailableUnits decimal.Decimal
	MaxAvailableUnits decimal.Decimal
	// Center and MaxDistanceKm bound results to a radius. Listings
	// without coordinates cannot be measured and pass the radius check.
	Center        *domain.Coordinates
	MaxDistanceKm float64
	Limit         int
	Offset        int
}

// Search returns listings matching the filter ordered newest first.
func (l *Ledger) Search(filter SearchFilter) []domain.SupplyListing {
	var out []domain.SupplyListing
	for _, listing := range l.store.ListListings() {
		if filter.Status != "" && listing.Status != filter.Status {
			continue
		}
		if filter.LocalAuthority != "" && !strings.EqualFold(listing.LocalAuthority, filter.LocalAuthority) {
			continue
		}
		if filter.HabitatType != "" && !offersHabitat(listing, filter.HabitatType) {
			continue
		}
		if filter.MaxPricePerUnit.IsPositive() && listing.PricePerUnit.GreaterThan(filter.MaxPricePerUnit) {
			continue
		}
		if filter.MinAvailableUnits.IsPositive() && listing.AvailableUnits().LessThan(filter.MinAvailableUnits) {
			continue
		}
		if filter.MaxAvailableUnits.IsPositive() && listing.AvailableUnits().GreaterThan(filter.MaxAvailableUnits) {
			continue
		}
		if filter.Center != nil && filter.MaxDistanceKm > 0 && listing.Coordinates != nil {
			if domain.DistanceKm(*filter.Center, *listing.Coordinates) > filter.MaxDistanceKm {
				continue
			}
		}
		out = append(out, listing)
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

func offersHabitat(listing domain.SupplyListing, h domain.HabitatType) bool {
	for _, unit := range listing.HabitatUnits {
		if unit.HabitatType == h {
			return true
		}
	}
	return false
}

// Statistics summarizes the active side of the supply market.
type Statistics struct {
	ActiveListings  int                                `json:"active_listings"`
	TotalUnits      decimal.Decimal                    `json:"total_units"`
	AvailableUnits  decimal.Decimal                    `json:"available_units"`
	ReservedUnits   decimal.Decimal                    `json:"reserved_units"`
	SoldUnits       decimal.Decimal                    `json:"sold_units"`
	MinPricePerUnit decimal.Decimal                    `json:"min_price_per_unit"`
	MaxPricePerUnit decimal.Decimal                    `json:"max_price_per_unit"`
	AvgPricePerUnit decimal.Decimal                    `json:"avg_price_per_unit"`
	UnitsByHabitat  map[domain.HabitatType]decimal.Decimal `json:"units_by_habitat"`
	// Per-habitat distribution over the same active stock: how many
	// listings offer the habitat and how much area backs it.
	ListingsByHabitat map[domain.HabitatType]int             `json:"listings_by_habitat"`
	AreaByHabitat     map[domain.HabitatType]decimal.Decimal `json:"area_by_habitat"`
}

// Stats aggregates figures over active listings only. Draft, withdrawn, and
// fully sold stock is excluded so the numbers describe purchasable supply.
func (l *Ledger) Stats() Statistics {
	stats := Statistics{
		UnitsByHabitat:    map[domain.HabitatType]decimal.Decimal{},
		ListingsByHabitat: map[domain.HabitatType]int{},
		AreaByHabitat:     map[domain.HabitatType]decimal.Decimal{},
	}
	priceSum := decimal.Zero
	for _, listing := range l.store.ListListings() {
		if listing.Status != domain.ListingActive && listing.Status != domain.ListingReserved {
			continue
		}
		stats.ActiveListings++
		stats.TotalUnits = stats.TotalUnits.Add(listing.TotalUnits())
		stats.AvailableUnits = stats.AvailableUnits.Add(listing.AvailableUnits())
		stats.ReservedUnits = stats.ReservedUnits.Add(listing.UnitsReserved)
		stats.SoldUnits = stats.SoldUnits.Add(listing.UnitsSold)
		priceSum = priceSum.Add(listing.PricePerUnit)
		if stats.MinPricePerUnit.IsZero() || listing.PricePerUnit.LessThan(stats.MinPricePerUnit) {
			stats.MinPricePerUnit = listing.PricePerUnit
		}
		if listing.PricePerUnit.GreaterThan(stats.MaxPricePerUnit) {
			stats.MaxPricePerUnit = listing.PricePerUnit
		}
		seen := map[domain.HabitatType]bool{}
		for _, unit := range listing.HabitatUnits {
			stats.UnitsByHabitat[unit.HabitatType] = stats.UnitsByHabitat[unit.HabitatType].Add(unit.Units())
			stats.AreaByHabitat[unit.HabitatType] = stats.AreaByHabitat[unit.HabitatType].Add(unit.AreaHectares)
			if !seen[unit.HabitatType] {
				seen[unit.HabitatType] = true
				stats.ListingsByHabitat[unit.HabitatType]++
			}
		}
	}
	if stats.ActiveListings > 0 {
		stats.AvgPricePerUnit = priceSum.DivRound(decimal.NewFromInt(int64(stats.ActiveListings)), 2)
	}
	return stats
}

// ExpireListings transitions listings whose expiry date has passed. It
// returns the IDs of listings it expired.
func (l *Ledger) ExpireListings(ctx context.Context, now time.Time) ([]string, error) {
	var expired []string
	_, err := l.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		for _, listing := range tx.Snapshot().ListListings() {
			if listing.ExpiryDate == nil || !now.After(*listing.ExpiryDate) {
				continue
			}
			if listing.Status != domain.ListingActive && listing.Status != domain.ListingDraft {
				continue
			}
			if _, err := tx.UpdateListing(listing.ID, func(l *domain.SupplyListing) error {
				l.Status = domain.ListingExpired
				return nil
			}); err != nil {
				return err
			}
			expired = append(expired, listing.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return expired, nil
}
