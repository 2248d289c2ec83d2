package match

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"offsetcore/internal/infra/persistence/memory"
	"offsetcore/pkg/domain"
)

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("parse decimal %q: %v", s, err)
	}
	return d
}

var baseTime = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T) (*Engine, *memory.Store) {
	t.Helper()
	store := memory.NewStore(nil)
	store.SetNowFunc(func() time.Time { return baseTime })
	engine := NewEngine(store, DefaultCriteria())
	engine.SetNowFunc(func() time.Time { return baseTime })
	return engine, store
}

// testListing offers 24 units of species-rich grassland (2 ha, moderate,
// low significance) at 20,000 per unit.
func testListing(t *testing.T) domain.SupplyListing {
	t.Helper()
	return domain.SupplyListing{
		LandownerID:    "landowner-1",
		SiteName:       "Meadow Bank",
		Postcode:       "OX1 1AA",
		LocalAuthority: "Oxfordshire County Council",
		HabitatUnits: []domain.HabitatUnit{{
			HabitatType:           domain.HabitatGrasslandSpeciesRich,
			Condition:             domain.ConditionModerate,
			AreaHectares:          dec(t, "2"),
			StrategicSignificance: domain.SignificanceLow,
		}},
		TotalSiteAreaHa:        dec(t, "2"),
		DeliveryStartDate:      baseTime,
		DeliveryCompletionDate: baseTime.AddDate(0, 6, 0),
		PricePerUnit:           dec(t, "20000"),
		Status:                 domain.ListingActive,
	}
}

// testDemand loses 12 units of species-rich grassland, requiring 13.2 offset
// units at a 10 percent net gain, at up to 25,000 per unit.
func testDemand(t *testing.T) domain.DemandRequest {
	t.Helper()
	return domain.DemandRequest{
		DeveloperID: "developer-1",
		ProjectName: "Riverside Homes",
		Assessment: domain.BiodiversityAssessment{
			Baseline: []domain.HabitatUnit{{
				HabitatType:           domain.HabitatGrasslandSpeciesRich,
				Condition:             domain.ConditionModerate,
				AreaHectares:          dec(t, "1"),
				StrategicSignificance: domain.SignificanceLow,
			}},
			BNGPercent: domain.DefaultBNGPercent,
		},
		AcceptableHabitats: []domain.HabitatType{domain.HabitatGrasslandSpeciesRich},
		MaxPricePerUnit:    dec(t, "25000"),
		RequiredByDate:     baseTime.AddDate(1, 0, 0),
		Status:             domain.DemandSearching,
	}
}

func seedPair(t *testing.T, store *memory.Store, listing domain.SupplyListing, demand domain.DemandRequest) (domain.SupplyListing, domain.DemandRequest) {
	t.Helper()
	ctx := context.Background()
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		if listing, err = tx.CreateListing(listing); err != nil {
			return err
		}
		demand, err = tx.CreateDemand(demand)
		return err
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return listing, demand
}

func TestFindMatchesCreatesPotentialMatch(t *testing.T) {
	engine, store := newTestEngine(t)
	listing, demand := seedPair(t, store, testListing(t), testDemand(t))

	matches, err := engine.FindMatches(context.Background(), FindOptions{})
	if err != nil {
		t.Fatalf("find matches: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	m := matches[0]
	if m.SupplyListingID != listing.ID || m.DemandRequestID != demand.ID {
		t.Fatalf("match endpoints wrong: %+v", m)
	}
	if m.Status != domain.MatchPotential {
		t.Fatalf("expected potential status, got %s", m.Status)
	}
	if !m.MatchedUnits.Equal(dec(t, "13.2")) {
		t.Fatalf("matched units = %s, want 13.2", m.MatchedUnits)
	}
	if !m.UnitPrice.Equal(listing.PricePerUnit) {
		t.Fatalf("unit price = %s, want supply price", m.UnitPrice)
	}
	// Like-for-like habitat at low significance scores 1.0 * 0.9.
	if math.Abs(m.HabitatScore-0.9) > 1e-9 {
		t.Fatalf("habitat score = %v, want 0.9", m.HabitatScore)
	}
	if m.LocationScore != 0 {
		t.Fatalf("location score = %v, want 0 without preferences or coordinates", m.LocationScore)
	}
	if !m.TimelineCompatible {
		t.Fatal("expected timeline compatible")
	}
	// 0.4*0.9 + 0.3*0 + 0.2*1 + 0.1 with no coordinates on either side.
	if math.Abs(m.OverallScore()-0.66) > 1e-9 {
		t.Fatalf("overall score = %v, want 0.66", m.OverallScore())
	}
	wantExpiry := baseTime.Add(30 * 24 * time.Hour)
	if !m.ExpiresAt.Equal(wantExpiry) {
		t.Fatalf("expires at %v, want %v", m.ExpiresAt, wantExpiry)
	}
}

func TestFindMatchesRescoresExistingPair(t *testing.T) {
	engine, store := newTestEngine(t)
	seedPair(t, store, testListing(t), testDemand(t))

	first, err := engine.FindMatches(context.Background(), FindOptions{})
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := engine.FindMatches(context.Background(), FindOptions{})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(second) != 1 {
		t.Fatalf("expected 1 match on rerun, got %d", len(second))
	}
	if second[0].ID != first[0].ID {
		t.Fatal("rerun should rescore the existing match, not create a duplicate")
	}
	if got := len(store.ListMatches()); got != 1 {
		t.Fatalf("store holds %d matches, want 1", got)
	}
}

func TestFindMatchesScreening(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*domain.SupplyListing, *domain.DemandRequest)
	}{
		{"insufficient capacity", func(l *domain.SupplyListing, d *domain.DemandRequest) {
			l.HabitatUnits[0].AreaHectares = decimal.RequireFromString("0.5")
		}},
		{"price beyond tolerance", func(l *domain.SupplyListing, d *domain.DemandRequest) {
			// Ceiling is 25,000 * 1.2 = 30,000.
			l.PricePerUnit = decimal.RequireFromString("30001")
		}},
		{"delivery too late", func(l *domain.SupplyListing, d *domain.DemandRequest) {
			l.DeliveryCompletionDate = d.RequiredByDate.AddDate(0, 0, 1)
		}},
		{"incompatible habitat", func(l *domain.SupplyListing, d *domain.DemandRequest) {
			l.HabitatUnits[0].HabitatType = domain.HabitatUrbanTrees
		}},
		{"out of range", func(l *domain.SupplyListing, d *domain.DemandRequest) {
			l.Coordinates = &domain.Coordinates{Latitude: 51.5, Longitude: -0.1}
			d.Coordinates = &domain.Coordinates{Latitude: 55.9, Longitude: -3.2}
		}},
		{"listing not active", func(l *domain.SupplyListing, d *domain.DemandRequest) {
			l.Status = domain.ListingDraft
		}},
		{"demand not searching", func(l *domain.SupplyListing, d *domain.DemandRequest) {
			d.Status = domain.DemandCancelled
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			engine, store := newTestEngine(t)
			listing, demand := testListing(t), testDemand(t)
			tc.mutate(&listing, &demand)
			seedPair(t, store, listing, demand)

			matches, err := engine.FindMatches(context.Background(), FindOptions{})
			if err != nil {
				t.Fatalf("find matches: %v", err)
			}
			if len(matches) != 0 {
				t.Fatalf("expected no matches, got %d", len(matches))
			}
		})
	}
}

func TestFindMatchesPriceWithinTolerance(t *testing.T) {
	engine, store := newTestEngine(t)
	listing := testListing(t)
	listing.PricePerUnit = dec(t, "30000") // exactly the 20 percent ceiling
	seedPair(t, store, listing, testDemand(t))

	matches, err := engine.FindMatches(context.Background(), FindOptions{})
	if err != nil {
		t.Fatalf("find matches: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("price at the ceiling should match, got %d matches", len(matches))
	}
}

func TestLocationScoreComponents(t *testing.T) {
	engine, store := newTestEngine(t)
	listing := testListing(t)
	listing.Coordinates = &domain.Coordinates{Latitude: 51.75, Longitude: -1.26}
	demand := testDemand(t)
	demand.Coordinates = &domain.Coordinates{Latitude: 51.75, Longitude: -1.26}
	demand.PreferredAuthorities = []string{"oxfordshire county council"}
	demand.SameCharacterArea = true
	seedPair(t, store, listing, demand)

	matches, err := engine.FindMatches(context.Background(), FindOptions{})
	if err != nil {
		t.Fatalf("find matches: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	// 0.5 authority (case-insensitive) + 0.3 character area + 0.2 proximity,
	// capped at 1.0.
	if got := matches[0].LocationScore; math.Abs(got-1.0) > 1e-9 {
		t.Fatalf("location score = %v, want 1.0", got)
	}
}

func TestAcceptReservesUnitsAndMovesDemand(t *testing.T) {
	engine, store := newTestEngine(t)
	listing, demand := seedPair(t, store, testListing(t), testDemand(t))

	matches, err := engine.FindMatches(context.Background(), FindOptions{})
	if err != nil || len(matches) != 1 {
		t.Fatalf("find matches: %v (%d)", err, len(matches))
	}

	accepted, err := engine.Accept(context.Background(), matches[0].ID)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if accepted.Status != domain.MatchAccepted {
		t.Fatalf("status = %s, want accepted", accepted.Status)
	}
	gotListing, _ := store.GetListing(listing.ID)
	if !gotListing.UnitsReserved.Equal(dec(t, "13.2")) {
		t.Fatalf("units reserved = %s, want 13.2", gotListing.UnitsReserved)
	}
	gotDemand, _ := store.GetDemand(demand.ID)
	if gotDemand.Status != domain.DemandMatched {
		t.Fatalf("demand status = %s, want matched", gotDemand.Status)
	}

	var conflict domain.ConflictError
	if _, err := engine.Accept(context.Background(), matches[0].ID); !errors.As(err, &conflict) {
		t.Fatalf("second accept: got %v, want ConflictError", err)
	}
}

func TestAcceptExpiredMatch(t *testing.T) {
	engine, store := newTestEngine(t)
	seedPair(t, store, testListing(t), testDemand(t))

	matches, err := engine.FindMatches(context.Background(), FindOptions{})
	if err != nil || len(matches) != 1 {
		t.Fatalf("find matches: %v (%d)", err, len(matches))
	}

	engine.SetNowFunc(func() time.Time { return baseTime.Add(31 * 24 * time.Hour) })
	var conflict domain.ConflictError
	if _, err := engine.Accept(context.Background(), matches[0].ID); !errors.As(err, &conflict) {
		t.Fatalf("accept expired: got %v, want ConflictError", err)
	}
	got, _ := store.GetMatch(matches[0].ID)
	if got.Status != domain.MatchExpired {
		t.Fatalf("status = %s, want expired", got.Status)
	}
}

func TestRejectRecordsReason(t *testing.T) {
	engine, store := newTestEngine(t)
	seedPair(t, store, testListing(t), testDemand(t))

	matches, err := engine.FindMatches(context.Background(), FindOptions{})
	if err != nil || len(matches) != 1 {
		t.Fatalf("find matches: %v (%d)", err, len(matches))
	}

	rejected, err := engine.Reject(context.Background(), matches[0].ID, "site too remote")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Status != domain.MatchRejected {
		t.Fatalf("status = %s, want rejected", rejected.Status)
	}
	if rejected.RejectReason == nil || *rejected.RejectReason != "site too remote" {
		t.Fatalf("reject reason = %v", rejected.RejectReason)
	}
}

func TestStats(t *testing.T) {
	engine, store := newTestEngine(t)
	seedPair(t, store, testListing(t), testDemand(t))

	matches, err := engine.FindMatches(context.Background(), FindOptions{})
	if err != nil || len(matches) != 1 {
		t.Fatalf("find matches: %v (%d)", err, len(matches))
	}

	stats := engine.Stats()
	if stats.TotalMatches != 1 || stats.PendingMatches != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if math.Abs(stats.AverageScore-0.66) > 1e-9 {
		t.Fatalf("average score = %v, want 0.66", stats.AverageScore)
	}
	if math.Abs(stats.AvgHabitatScore-0.9) > 1e-9 {
		t.Fatalf("habitat average = %v, want 0.9", stats.AvgHabitatScore)
	}
	if stats.HighQuality != 1 || stats.HighQualityShare != 100 {
		t.Fatalf("high quality = %d (%v%%)", stats.HighQuality, stats.HighQualityShare)
	}
}

func TestExpireMatchesSweep(t *testing.T) {
	engine, store := newTestEngine(t)
	seedPair(t, store, testListing(t), testDemand(t))

	matches, err := engine.FindMatches(context.Background(), FindOptions{})
	if err != nil || len(matches) != 1 {
		t.Fatalf("find matches: %v (%d)", err, len(matches))
	}

	expired, err := engine.ExpireMatches(context.Background(), baseTime.Add(31*24*time.Hour))
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if expired != 1 {
		t.Fatalf("expired %d matches, want 1", expired)
	}
	got, _ := store.GetMatch(matches[0].ID)
	if got.Status != domain.MatchExpired {
		t.Fatalf("status = %s, want expired", got.Status)
	}
}
