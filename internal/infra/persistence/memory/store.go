// Package memory provides an in-memory implementation of the marketplace
// persistence store used for tests and ephemeral environments.
package memory

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"offsetcore/pkg/domain"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain
// persistence interface.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// SupplyListing aliases domain.SupplyListing for in-memory persistence operations.
	SupplyListing = domain.SupplyListing
	// DemandRequest aliases domain.DemandRequest.
	DemandRequest = domain.DemandRequest
	// Match aliases domain.Match.
	Match = domain.Match
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
	// PersistentStore aliases domain.PersistentStore abstraction.
	PersistentStore = domain.PersistentStore
)

type memoryState struct {
	listings map[string]SupplyListing
	demands  map[string]DemandRequest
	matches  map[string]Match
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Listings map[string]SupplyListing `json:"listings"`
	Demands  map[string]DemandRequest `json:"demands"`
	Matches  map[string]Match         `json:"matches"`
}

func newMemoryState() memoryState {
	return memoryState{
		listings: make(map[string]SupplyListing),
		demands:  make(map[string]DemandRequest),
		matches:  make(map[string]Match),
	}
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	s := Snapshot{
		Listings: make(map[string]SupplyListing, len(state.listings)),
		Demands:  make(map[string]DemandRequest, len(state.demands)),
		Matches:  make(map[string]Match, len(state.matches)),
	}
	for k, v := range state.listings {
		s.Listings[k] = cloneListing(v)
	}
	for k, v := range state.demands {
		s.Demands[k] = cloneDemand(v)
	}
	for k, v := range state.matches {
		s.Matches[k] = cloneMatch(v)
	}
	return s
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := newMemoryState()
	for k, v := range s.Listings {
		state.listings[k] = cloneListing(v)
	}
	for k, v := range s.Demands {
		state.demands[k] = cloneDemand(v)
	}
	for k, v := range s.Matches {
		state.matches[k] = cloneMatch(v)
	}
	return state
}

// migrateSnapshot repairs snapshots persisted by older runs: missing maps are
// initialized and matches whose endpoints no longer exist are dropped.
func migrateSnapshot(snapshot Snapshot) Snapshot {
	if snapshot.Listings == nil {
		snapshot.Listings = map[string]SupplyListing{}
	}
	if snapshot.Demands == nil {
		snapshot.Demands = map[string]DemandRequest{}
	}
	if snapshot.Matches == nil {
		snapshot.Matches = map[string]Match{}
	}
	for id, match := range snapshot.Matches {
		if _, ok := snapshot.Listings[match.SupplyListingID]; !ok {
			delete(snapshot.Matches, id)
			continue
		}
		if _, ok := snapshot.Demands[match.DemandRequestID]; !ok {
			delete(snapshot.Matches, id)
		}
	}
	return snapshot
}

func (s memoryState) clone() memoryState {
	cloned := newMemoryState()
	for k, v := range s.listings {
		cloned.listings[k] = cloneListing(v)
	}
	for k, v := range s.demands {
		cloned.demands[k] = cloneDemand(v)
	}
	for k, v := range s.matches {
		cloned.matches[k] = cloneMatch(v)
	}
	return cloned
}

func cloneListing(l SupplyListing) SupplyListing {
	cp := l
	cp.HabitatUnits = append([]domain.HabitatUnit(nil), l.HabitatUnits...)
	if l.SiteDescription != nil {
		v := *l.SiteDescription
		cp.SiteDescription = &v
	}
	if l.Coordinates != nil {
		v := *l.Coordinates
		cp.Coordinates = &v
	}
	if l.ExpiryDate != nil {
		t := *l.ExpiryDate
		cp.ExpiryDate = &t
	}
	return cp
}

func cloneDemand(d DemandRequest) DemandRequest {
	cp := d
	if d.Coordinates != nil {
		v := *d.Coordinates
		cp.Coordinates = &v
	}
	if d.Assessment.Coordinates != nil {
		v := *d.Assessment.Coordinates
		cp.Assessment.Coordinates = &v
	}
	cp.Assessment.Baseline = append([]domain.HabitatUnit(nil), d.Assessment.Baseline...)
	cp.Assessment.PostDevelopment = append([]domain.HabitatUnit(nil), d.Assessment.PostDevelopment...)
	cp.AcceptableHabitats = append([]domain.HabitatType(nil), d.AcceptableHabitats...)
	cp.PreferredAuthorities = append([]string(nil), d.PreferredAuthorities...)
	return cp
}

func cloneMatch(m Match) Match {
	cp := m
	if m.RejectReason != nil {
		v := *m.RejectReason
		cp.RejectReason = &v
	}
	return cp
}

// Store provides an in-memory transactional store for the marketplace domain.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
}

// NewStore constructs an in-memory store backed by the provided rules engine.
// A nil engine gets a default engine with the listing capacity rule installed.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
		engine.Register(domain.ListingCapacityRule{})
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) newID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b[:])
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(migrateSnapshot(snapshot))
}

// RulesEngine exposes the currently configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// NowFunc returns the time provider used by the in-memory store.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

// SetNowFunc replaces the time provider, primarily for tests.
func (s *Store) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowFn = fn
}

type transaction struct {
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

// ListListings returns all supply listings within the snapshot.
func (v transactionView) ListListings() []SupplyListing {
	out := make([]SupplyListing, 0, len(v.state.listings))
	for _, l := range v.state.listings {
		out = append(out, cloneListing(l))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListDemands returns all demand requests within the snapshot.
func (v transactionView) ListDemands() []DemandRequest {
	out := make([]DemandRequest, 0, len(v.state.demands))
	for _, d := range v.state.demands {
		out = append(out, cloneDemand(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListMatches returns all matches within the snapshot.
func (v transactionView) ListMatches() []Match {
	out := make([]Match, 0, len(v.state.matches))
	for _, m := range v.state.matches {
		out = append(out, cloneMatch(m))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FindListing retrieves a supply listing by ID from the snapshot.
func (v transactionView) FindListing(id string) (SupplyListing, bool) {
	l, ok := v.state.listings[id]
	if !ok {
		return SupplyListing{}, false
	}
	return cloneListing(l), true
}

// FindDemand retrieves a demand request by ID from the snapshot.
func (v transactionView) FindDemand(id string) (DemandRequest, bool) {
	d, ok := v.state.demands[id]
	if !ok {
		return DemandRequest{}, false
	}
	return cloneDemand(d), true
}

// FindMatch retrieves a match by ID from the snapshot.
func (v transactionView) FindMatch(id string) (Match, bool) {
	m, ok := v.state.matches[id]
	if !ok {
		return Match{}, false
	}
	return cloneMatch(m), true
}

// RunInTransaction executes fn within a transactional copy of the store state.
// The whole operation holds the store write lock, so reserve and sell
// arithmetic inside a transaction is serialized against competing buyers.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := s.state.clone()
	view := newTransactionView(&snapshot)
	return fn(view)
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

// FindListing exposes listing lookup within the transaction scope.
func (tx *transaction) FindListing(id string) (SupplyListing, bool) {
	l, ok := tx.state.listings[id]
	if !ok {
		return SupplyListing{}, false
	}
	return cloneListing(l), true
}

// FindDemand exposes demand lookup within the transaction scope.
func (tx *transaction) FindDemand(id string) (DemandRequest, bool) {
	d, ok := tx.state.demands[id]
	if !ok {
		return DemandRequest{}, false
	}
	return cloneDemand(d), true
}

// FindMatch exposes match lookup within the transaction scope.
func (tx *transaction) FindMatch(id string) (Match, bool) {
	m, ok := tx.state.matches[id]
	if !ok {
		return Match{}, false
	}
	return cloneMatch(m), true
}

// CreateListing stores a new supply listing within the transaction.
func (tx *transaction) CreateListing(l SupplyListing) (SupplyListing, error) {
	if l.ID == "" {
		l.ID = tx.store.newID()
	}
	if _, exists := tx.state.listings[l.ID]; exists {
		return SupplyListing{}, domain.ConflictError{Entity: domain.EntityListing, ID: l.ID, Reason: "already exists"}
	}
	l.CreatedAt = tx.now
	l.UpdatedAt = tx.now
	l.Version = 1
	tx.state.listings[l.ID] = cloneListing(l)
	tx.recordChange(Change{Entity: domain.EntityListing, Action: domain.ActionCreate, After: cloneListing(l)})
	return cloneListing(l), nil
}

// UpdateListing mutates a supply listing using the provided mutator function.
func (tx *transaction) UpdateListing(id string, mutator func(*SupplyListing) error) (SupplyListing, error) {
	current, ok := tx.state.listings[id]
	if !ok {
		return SupplyListing{}, domain.NotFoundError{Entity: domain.EntityListing, ID: id}
	}
	before := cloneListing(current)
	if err := mutator(&current); err != nil {
		return SupplyListing{}, err
	}
	current.ID = id
	current.UpdatedAt = tx.now
	current.Version = before.Version + 1
	tx.state.listings[id] = cloneListing(current)
	tx.recordChange(Change{Entity: domain.EntityListing, Action: domain.ActionUpdate, Before: before, After: cloneListing(current)})
	return cloneListing(current), nil
}

// DeleteListing removes a supply listing from the transaction state.
func (tx *transaction) DeleteListing(id string) error {
	current, ok := tx.state.listings[id]
	if !ok {
		return domain.NotFoundError{Entity: domain.EntityListing, ID: id}
	}
	for _, match := range tx.state.matches {
		if match.SupplyListingID == id && match.Status == domain.MatchAccepted {
			return domain.ConflictError{Entity: domain.EntityListing, ID: id, Reason: "referenced by accepted match " + match.ID}
		}
	}
	delete(tx.state.listings, id)
	tx.recordChange(Change{Entity: domain.EntityListing, Action: domain.ActionDelete, Before: cloneListing(current)})
	return nil
}

// CreateDemand stores a new demand request within the transaction.
func (tx *transaction) CreateDemand(d DemandRequest) (DemandRequest, error) {
	if d.ID == "" {
		d.ID = tx.store.newID()
	}
	if _, exists := tx.state.demands[d.ID]; exists {
		return DemandRequest{}, domain.ConflictError{Entity: domain.EntityDemand, ID: d.ID, Reason: "already exists"}
	}
	d.CreatedAt = tx.now
	d.UpdatedAt = tx.now
	tx.state.demands[d.ID] = cloneDemand(d)
	tx.recordChange(Change{Entity: domain.EntityDemand, Action: domain.ActionCreate, After: cloneDemand(d)})
	return cloneDemand(d), nil
}

// UpdateDemand mutates a demand request using the provided mutator function.
func (tx *transaction) UpdateDemand(id string, mutator func(*DemandRequest) error) (DemandRequest, error) {
	current, ok := tx.state.demands[id]
	if !ok {
		return DemandRequest{}, domain.NotFoundError{Entity: domain.EntityDemand, ID: id}
	}
	before := cloneDemand(current)
	if err := mutator(&current); err != nil {
		return DemandRequest{}, err
	}
	current.ID = id
	current.UpdatedAt = tx.now
	tx.state.demands[id] = cloneDemand(current)
	tx.recordChange(Change{Entity: domain.EntityDemand, Action: domain.ActionUpdate, Before: before, After: cloneDemand(current)})
	return cloneDemand(current), nil
}

// DeleteDemand removes a demand request from the transaction state.
func (tx *transaction) DeleteDemand(id string) error {
	current, ok := tx.state.demands[id]
	if !ok {
		return domain.NotFoundError{Entity: domain.EntityDemand, ID: id}
	}
	for _, match := range tx.state.matches {
		if match.DemandRequestID == id && match.Status == domain.MatchAccepted {
			return domain.ConflictError{Entity: domain.EntityDemand, ID: id, Reason: "referenced by accepted match " + match.ID}
		}
	}
	delete(tx.state.demands, id)
	tx.recordChange(Change{Entity: domain.EntityDemand, Action: domain.ActionDelete, Before: cloneDemand(current)})
	return nil
}

// CreateMatch stores a new match within the transaction. Both endpoints must
// exist.
func (tx *transaction) CreateMatch(m Match) (Match, error) {
	if m.ID == "" {
		m.ID = tx.store.newID()
	}
	if _, exists := tx.state.matches[m.ID]; exists {
		return Match{}, domain.ConflictError{Entity: domain.EntityMatch, ID: m.ID, Reason: "already exists"}
	}
	if _, ok := tx.state.listings[m.SupplyListingID]; !ok {
		return Match{}, domain.NotFoundError{Entity: domain.EntityListing, ID: m.SupplyListingID}
	}
	if _, ok := tx.state.demands[m.DemandRequestID]; !ok {
		return Match{}, domain.NotFoundError{Entity: domain.EntityDemand, ID: m.DemandRequestID}
	}
	m.CreatedAt = tx.now
	m.UpdatedAt = tx.now
	tx.state.matches[m.ID] = cloneMatch(m)
	tx.recordChange(Change{Entity: domain.EntityMatch, Action: domain.ActionCreate, After: cloneMatch(m)})
	return cloneMatch(m), nil
}

// UpdateMatch mutates a match using the provided mutator function.
func (tx *transaction) UpdateMatch(id string, mutator func(*Match) error) (Match, error) {
	current, ok := tx.state.matches[id]
	if !ok {
		return Match{}, domain.NotFoundError{Entity: domain.EntityMatch, ID: id}
	}
	before := cloneMatch(current)
	if err := mutator(&current); err != nil {
		return Match{}, err
	}
	current.ID = id
	current.UpdatedAt = tx.now
	tx.state.matches[id] = cloneMatch(current)
	tx.recordChange(Change{Entity: domain.EntityMatch, Action: domain.ActionUpdate, Before: before, After: cloneMatch(current)})
	return cloneMatch(current), nil
}

// DeleteMatch removes a match from the transaction state.
func (tx *transaction) DeleteMatch(id string) error {
	current, ok := tx.state.matches[id]
	if !ok {
		return domain.NotFoundError{Entity: domain.EntityMatch, ID: id}
	}
	delete(tx.state.matches, id)
	tx.recordChange(Change{Entity: domain.EntityMatch, Action: domain.ActionDelete, Before: cloneMatch(current)})
	return nil
}

// ReserveUnits places a hold on listing capacity. It fails with CapacityError
// when available units are short of the requested quantity and leaves the
// listing untouched in that case.
func (tx *transaction) ReserveUnits(listingID string, quantity decimal.Decimal) (SupplyListing, error) {
	if !quantity.IsPositive() {
		return SupplyListing{}, domain.ValidationError{Field: "quantity", Reason: "must be positive"}
	}
	return tx.UpdateListing(listingID, func(l *SupplyListing) error {
		available := l.AvailableUnits()
		if available.LessThan(quantity) {
			return domain.CapacityError{ListingID: listingID, Requested: quantity, Available: available}
		}
		l.UnitsReserved = l.UnitsReserved.Add(quantity)
		if l.AvailableUnits().IsZero() && l.Status == domain.ListingActive {
			l.Status = domain.ListingReserved
		}
		return nil
	})
}

// SellUnits converts listing capacity to sold. Reserved units are consumed
// first, the open pool after. The listing moves to sold only once neither
// open capacity nor an outstanding reservation remains; a hold kept by
// another buyer must not flip the listing.
func (tx *transaction) SellUnits(listingID string, quantity decimal.Decimal) (SupplyListing, error) {
	if !quantity.IsPositive() {
		return SupplyListing{}, domain.ValidationError{Field: "quantity", Reason: "must be positive"}
	}
	return tx.UpdateListing(listingID, func(l *SupplyListing) error {
		sellable := l.UnitsReserved.Add(l.AvailableUnits())
		if sellable.LessThan(quantity) {
			return domain.CapacityError{ListingID: listingID, Requested: quantity, Available: sellable}
		}
		fromReserved := decimal.Min(l.UnitsReserved, quantity)
		l.UnitsReserved = l.UnitsReserved.Sub(fromReserved)
		l.UnitsSold = l.UnitsSold.Add(quantity)
		if l.AvailableUnits().IsZero() && l.UnitsReserved.IsZero() {
			l.Status = domain.ListingSold
		}
		return nil
	})
}

// ReleaseUnits returns reserved capacity to the open pool, for example when a
// match lapses before contract.
func (tx *transaction) ReleaseUnits(listingID string, quantity decimal.Decimal) (SupplyListing, error) {
	if !quantity.IsPositive() {
		return SupplyListing{}, domain.ValidationError{Field: "quantity", Reason: "must be positive"}
	}
	return tx.UpdateListing(listingID, func(l *SupplyListing) error {
		if l.UnitsReserved.LessThan(quantity) {
			return domain.CapacityError{ListingID: listingID, Requested: quantity, Available: l.UnitsReserved}
		}
		l.UnitsReserved = l.UnitsReserved.Sub(quantity)
		if l.Status == domain.ListingReserved && l.AvailableUnits().IsPositive() {
			l.Status = domain.ListingActive
		}
		return nil
	})
}

// GetListing retrieves a listing by ID.
func (s *Store) GetListing(id string) (SupplyListing, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.state.listings[id]
	if !ok {
		return SupplyListing{}, false
	}
	return cloneListing(l), true
}

// ListListings returns all listings ordered by ID.
func (s *Store) ListListings() []SupplyListing {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newTransactionView(&s.state).ListListings()
}

// GetDemand retrieves a demand request by ID.
func (s *Store) GetDemand(id string) (DemandRequest, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.state.demands[id]
	if !ok {
		return DemandRequest{}, false
	}
	return cloneDemand(d), true
}

// ListDemands returns all demand requests ordered by ID.
func (s *Store) ListDemands() []DemandRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newTransactionView(&s.state).ListDemands()
}

// GetMatch retrieves a match by ID.
func (s *Store) GetMatch(id string) (Match, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.state.matches[id]
	if !ok {
		return Match{}, false
	}
	return cloneMatch(m), true
}

// ListMatches returns all matches ordered by ID.
func (s *Store) ListMatches() []Match {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newTransactionView(&s.state).ListMatches()
}
