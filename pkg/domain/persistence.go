package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// Transaction exposes the marketplace operations that a persistence
// implementation must support within an atomic scope.
type Transaction interface {
	Snapshot() TransactionView
	CreateListing(SupplyListing) (SupplyListing, error)
	UpdateListing(id string, mutator func(*SupplyListing) error) (SupplyListing, error)
	DeleteListing(id string) error
	CreateDemand(DemandRequest) (DemandRequest, error)
	UpdateDemand(id string, mutator func(*DemandRequest) error) (DemandRequest, error)
	DeleteDemand(id string) error
	CreateMatch(Match) (Match, error)
	UpdateMatch(id string, mutator func(*Match) error) (Match, error)
	DeleteMatch(id string) error

	// ReserveUnits places a hold of quantity units on the listing. It fails
	// with CapacityError when the listing's available capacity is short.
	ReserveUnits(listingID string, quantity decimal.Decimal) (SupplyListing, error)
	// SellUnits converts quantity units to sold, drawing down reserved units
	// first and unreserved capacity after. It fails with CapacityError when
	// reserved plus available capacity is short.
	SellUnits(listingID string, quantity decimal.Decimal) (SupplyListing, error)
	// ReleaseUnits returns previously reserved units to the open pool.
	ReleaseUnits(listingID string, quantity decimal.Decimal) (SupplyListing, error)

	FindListing(id string) (SupplyListing, bool)
	FindDemand(id string) (DemandRequest, bool)
	FindMatch(id string) (Match, bool)
}

// TransactionView provides read-only access to snapshot data for rules.
type TransactionView interface {
	ListListings() []SupplyListing
	ListDemands() []DemandRequest
	ListMatches() []Match
	FindListing(id string) (SupplyListing, bool)
	FindDemand(id string) (DemandRequest, bool)
	FindMatch(id string) (Match, bool)
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetListing(id string) (SupplyListing, bool)
	ListListings() []SupplyListing
	GetDemand(id string) (DemandRequest, bool)
	ListDemands() []DemandRequest
	GetMatch(id string) (Match, bool)
	ListMatches() []Match
}
