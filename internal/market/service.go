package market

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"offsetcore/internal/demand"
	"offsetcore/internal/match"
	"offsetcore/internal/supply"
	"offsetcore/pkg/domain"
)

// Service is the marketplace facade. It composes the supply and demand
// ledgers with the matching engine over one shared store and instruments
// every mutating operation with audit, metrics, tracing, and log hooks.
type Service struct {
	store   domain.PersistentStore
	supply  *supply.Ledger
	demand  *demand.Ledger
	matcher *match.Engine

	logger  Logger
	audit   AuditRecorder
	metrics MetricsRecorder
	tracer  Tracer
	clock   func() time.Time
}

// Option customizes service construction.
type Option func(*Service)

// WithLogger routes service log lines to the given logger.
func WithLogger(logger Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithAuditRecorder records an audit entry per completed operation.
func WithAuditRecorder(rec AuditRecorder) Option {
	return func(s *Service) {
		if rec != nil {
			s.audit = rec
		}
	}
}

// WithMetricsRecorder publishes operation timing and outcome counters.
func WithMetricsRecorder(rec MetricsRecorder) Option {
	return func(s *Service) {
		if rec != nil {
			s.metrics = rec
		}
	}
}

// WithTracer opens a span per operation.
func WithTracer(tracer Tracer) Option {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithClock replaces the time provider, primarily for tests.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithMatchCriteria overrides the matching engine thresholds.
func WithMatchCriteria(criteria match.Criteria) Option {
	return func(s *Service) {
		s.matcher = match.NewEngine(s.store, criteria)
	}
}

// NewService constructs the facade over the given store.
func NewService(store domain.PersistentStore, opts ...Option) *Service {
	s := &Service{
		store:   store,
		supply:  supply.NewLedger(store),
		demand:  demand.NewLedger(store),
		matcher: match.NewEngine(store, match.DefaultCriteria()),
		logger:  NoopLogger{},
		audit:   noopAudit{},
		metrics: noopMetrics{},
		tracer:  noopTracer{},
		clock:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store returns the underlying storage implementation.
func (s *Service) Store() domain.PersistentStore { return s.store }

// Matcher returns the matching engine for direct use.
func (s *Service) Matcher() *match.Engine { return s.matcher }

// instrument runs the operation under a trace span, records its duration and
// outcome, and appends an audit entry. fn returns the primary entity ID once
// known so the audit trail can reference created records.
func (s *Service) instrument(ctx context.Context, operation, entityType string, fn func(context.Context) (string, error)) error {
	start := s.clock()
	ctx, span := s.tracer.Start(ctx, operation)
	entityID, err := fn(ctx)
	duration := s.clock().Sub(start)
	span.End(err)
	s.metrics.Observe(ctx, operation, err == nil, duration)

	entry := AuditEntry{
		Operation:  operation,
		EntityType: entityType,
		EntityID:   entityID,
		Status:     AuditStatusSuccess,
		RecordedAt: s.clock(),
	}
	if err != nil {
		entry.Status = AuditStatusError
		entry.Error = err.Error()
		s.logger.Error("operation failed", "operation", operation, "entity_id", entityID, "error", err)
	} else {
		s.logger.Info("operation completed", "operation", operation, "entity_id", entityID, "duration_ms", float64(duration)/float64(time.Millisecond))
	}
	s.audit.Record(ctx, entry)
	return err
}

// CreateListing validates and stores a draft supply listing.
func (s *Service) CreateListing(ctx context.Context, listing domain.SupplyListing) (domain.SupplyListing, error) {
	var created domain.SupplyListing
	err := s.instrument(ctx, "create_listing", string(domain.EntityListing), func(ctx context.Context) (string, error) {
		var err error
		created, err = s.supply.CreateListing(ctx, listing)
		return created.ID, err
	})
	if err != nil {
		return domain.SupplyListing{}, err
	}
	return created, nil
}

// PublishListing moves a listing into the active pool.
func (s *Service) PublishListing(ctx context.Context, id string) (domain.SupplyListing, error) {
	return s.transitionListing(ctx, "publish_listing", id, domain.ListingActive)
}

// WithdrawListing removes a listing from the market without deleting it.
func (s *Service) WithdrawListing(ctx context.Context, id string) (domain.SupplyListing, error) {
	return s.transitionListing(ctx, "withdraw_listing", id, domain.ListingWithdrawn)
}

// AmendListing applies mutate to a listing under an optimistic version check.
// A zero expectedVersion applies unconditionally.
func (s *Service) AmendListing(ctx context.Context, id string, expectedVersion int64, mutate func(*domain.SupplyListing) error) (domain.SupplyListing, error) {
	var updated domain.SupplyListing
	err := s.instrument(ctx, "amend_listing", string(domain.EntityListing), func(ctx context.Context) (string, error) {
		var err error
		updated, err = s.supply.Amend(ctx, id, expectedVersion, mutate)
		return id, err
	})
	if err != nil {
		return domain.SupplyListing{}, err
	}
	return updated, nil
}

func (s *Service) transitionListing(ctx context.Context, operation, id string, status domain.ListingStatus) (domain.SupplyListing, error) {
	var updated domain.SupplyListing
	err := s.instrument(ctx, operation, string(domain.EntityListing), func(ctx context.Context) (string, error) {
		var err error
		updated, err = s.supply.UpdateStatus(ctx, id, status)
		return id, err
	})
	if err != nil {
		return domain.SupplyListing{}, err
	}
	return updated, nil
}

// GetListing retrieves a listing by ID.
func (s *Service) GetListing(id string) (domain.SupplyListing, error) {
	return s.supply.Get(id)
}

// SearchListings returns listings matching the filter.
func (s *Service) SearchListings(filter supply.SearchFilter) []domain.SupplyListing {
	return s.supply.Search(filter)
}

// SellUnits converts reserved or open capacity on a listing to sold.
func (s *Service) SellUnits(ctx context.Context, id string, quantity decimal.Decimal) (domain.SupplyListing, error) {
	var updated domain.SupplyListing
	err := s.instrument(ctx, "sell_units", string(domain.EntityListing), func(ctx context.Context) (string, error) {
		var err error
		updated, err = s.supply.Sell(ctx, id, quantity)
		return id, err
	})
	if err != nil {
		return domain.SupplyListing{}, err
	}
	return updated, nil
}

// ReleaseUnits returns reserved capacity on a listing to the open pool.
func (s *Service) ReleaseUnits(ctx context.Context, id string, quantity decimal.Decimal) (domain.SupplyListing, error) {
	var updated domain.SupplyListing
	err := s.instrument(ctx, "release_units", string(domain.EntityListing), func(ctx context.Context) (string, error) {
		var err error
		updated, err = s.supply.Release(ctx, id, quantity)
		return id, err
	})
	if err != nil {
		return domain.SupplyListing{}, err
	}
	return updated, nil
}

// CreateDemand validates and stores a demand request.
func (s *Service) CreateDemand(ctx context.Context, req domain.DemandRequest) (domain.DemandRequest, error) {
	var created domain.DemandRequest
	err := s.instrument(ctx, "create_demand", string(domain.EntityDemand), func(ctx context.Context) (string, error) {
		var err error
		created, err = s.demand.CreateDemand(ctx, req)
		return created.ID, err
	})
	if err != nil {
		return domain.DemandRequest{}, err
	}
	return created, nil
}

// CreateDemandFromSurvey builds the request's assessment from raw survey
// parcels before storing it.
func (s *Service) CreateDemandFromSurvey(ctx context.Context, req domain.DemandRequest, input demand.SurveyInput) (domain.DemandRequest, error) {
	assessment, err := demand.NewAssessmentFromSurvey(input)
	if err != nil {
		return domain.DemandRequest{}, err
	}
	req.Assessment = assessment
	return s.CreateDemand(ctx, req)
}

// CancelDemand withdraws a demand request from matching.
func (s *Service) CancelDemand(ctx context.Context, id string) (domain.DemandRequest, error) {
	var updated domain.DemandRequest
	err := s.instrument(ctx, "cancel_demand", string(domain.EntityDemand), func(ctx context.Context) (string, error) {
		var err error
		updated, err = s.demand.UpdateStatus(ctx, id, domain.DemandCancelled)
		return id, err
	})
	if err != nil {
		return domain.DemandRequest{}, err
	}
	return updated, nil
}

// GetDemand retrieves a demand request by ID.
func (s *Service) GetDemand(id string) (domain.DemandRequest, error) {
	return s.demand.Get(id)
}

// SearchDemands returns demand requests matching the filter.
func (s *Service) SearchDemands(filter demand.SearchFilter) []domain.DemandRequest {
	return s.demand.Search(filter)
}

// FindMatches runs the matching engine, optionally narrowed to one demand or
// one listing, and persists the generated candidates.
func (s *Service) FindMatches(ctx context.Context, opts match.FindOptions) ([]domain.Match, error) {
	var found []domain.Match
	err := s.instrument(ctx, "find_matches", string(domain.EntityMatch), func(ctx context.Context) (string, error) {
		var err error
		found, err = s.matcher.FindMatches(ctx, opts)
		return "", err
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// AcceptMatch commits a potential match, reserving its units.
func (s *Service) AcceptMatch(ctx context.Context, matchID string) (domain.Match, error) {
	var accepted domain.Match
	err := s.instrument(ctx, "accept_match", string(domain.EntityMatch), func(ctx context.Context) (string, error) {
		var err error
		accepted, err = s.matcher.Accept(ctx, matchID)
		return matchID, err
	})
	if err != nil {
		return domain.Match{}, err
	}
	return accepted, nil
}

// RejectMatch marks a match rejected with an optional reason.
func (s *Service) RejectMatch(ctx context.Context, matchID, reason string) (domain.Match, error) {
	var rejected domain.Match
	err := s.instrument(ctx, "reject_match", string(domain.EntityMatch), func(ctx context.Context) (string, error) {
		var err error
		rejected, err = s.matcher.Reject(ctx, matchID, reason)
		return matchID, err
	})
	if err != nil {
		return domain.Match{}, err
	}
	return rejected, nil
}

// FindOptimalCombination assembles the best multi-supplier cover for a demand.
func (s *Service) FindOptimalCombination(ctx context.Context, demandID string, maxSuppliers int) (match.Combination, error) {
	return s.matcher.FindOptimalCombination(ctx, demandID, maxSuppliers)
}

// AcceptCombination accepts a previously assembled combination.
func (s *Service) AcceptCombination(ctx context.Context, combo match.Combination) ([]domain.Match, error) {
	var accepted []domain.Match
	err := s.instrument(ctx, "accept_combination", string(domain.EntityDemand), func(ctx context.Context) (string, error) {
		var err error
		accepted, err = s.matcher.AcceptCombination(ctx, combo)
		return combo.DemandRequestID, err
	})
	return accepted, err
}

// SuggestPriceAdjustment advises a supplier on repricing a listing.
func (s *Service) SuggestPriceAdjustment(listingID string, targetScore float64) (match.PriceSuggestion, error) {
	return s.matcher.SuggestPriceAdjustment(listingID, targetScore)
}

// ExpireSweep retires lapsed listings and matches in one pass. It returns
// the number of records transitioned.
func (s *Service) ExpireSweep(ctx context.Context) (int, error) {
	now := s.clock()
	total := 0
	err := s.instrument(ctx, "expire_sweep", "", func(ctx context.Context) (string, error) {
		listings, err := s.supply.ExpireListings(ctx, now)
		if err != nil {
			return "", err
		}
		matches, err := s.matcher.ExpireMatches(ctx, now)
		if err != nil {
			return "", err
		}
		total = len(listings) + matches
		return "", nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

// Summary is a point-in-time view across both sides of the market.
type Summary struct {
	Supply      supply.Statistics `json:"supply"`
	Demand      demand.Statistics `json:"demand"`
	Matching    match.Statistics  `json:"matching"`
	// SupplyDemandRatio compares purchasable units against units still
	// sought. Above 1 means a buyer's market; zero when nothing is sought.
	SupplyDemandRatio decimal.Decimal `json:"supply_demand_ratio"`
	GeneratedAt       time.Time       `json:"generated_at"`
}

// MarketSummary aggregates supply, demand, and matching statistics.
func (s *Service) MarketSummary() Summary {
	summary := Summary{
		Supply:      s.supply.Stats(),
		Demand:      s.demand.Stats(),
		Matching:    s.matcher.Stats(),
		GeneratedAt: s.clock(),
	}
	if summary.Demand.RequiredUnits.IsPositive() {
		summary.SupplyDemandRatio = summary.Supply.AvailableUnits.
			Div(summary.Demand.RequiredUnits).Round(4)
	}
	return summary
}
