package memory

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

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

func newListing(t *testing.T, areaHa string) SupplyListing {
	t.Helper()
	unit, err := domain.NewHabitatUnit(domain.HabitatGrasslandModified, domain.ConditionNotApplicable, dec(t, areaHa), domain.SignificanceLow)
	if err != nil {
		t.Fatalf("new unit: %v", err)
	}
	return SupplyListing{
		LandownerID:            "lo-1",
		LandownerName:          "Test Estate",
		SiteName:               "Test Site",
		Postcode:               "AB1 2CD",
		LocalAuthority:         "Testshire",
		TotalSiteAreaHa:        dec(t, areaHa),
		HabitatUnits:           []domain.HabitatUnit{unit},
		DeliveryStartDate:      time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
		DeliveryCompletionDate: time.Date(2027, 6, 1, 0, 0, 0, 0, time.UTC),
		MonitoringPeriodYears:  30,
		PricePerUnit:           dec(t, "20000"),
		MinimumUnitPurchase:    dec(t, "0.5"),
		Status:                 domain.ListingActive,
	}
}

func createListing(t *testing.T, store *Store, l SupplyListing) SupplyListing {
	t.Helper()
	var created SupplyListing
	if _, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		var err error
		created, err = tx.CreateListing(l)
		return err
	}); err != nil {
		t.Fatalf("create listing: %v", err)
	}
	return created
}

func TestCreateUpdateListing(t *testing.T) {
	store := NewStore(nil)
	created := createListing(t, store, newListing(t, "5"))
	if created.ID == "" {
		t.Fatal("expected generated listing ID")
	}
	if created.Version != 1 {
		t.Fatalf("version = %d, want 1", created.Version)
	}

	if _, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		_, err := tx.UpdateListing(created.ID, func(l *SupplyListing) error {
			l.Status = domain.ListingWithdrawn
			return nil
		})
		return err
	}); err != nil {
		t.Fatalf("update listing: %v", err)
	}

	got, ok := store.GetListing(created.ID)
	if !ok {
		t.Fatal("listing not found after update")
	}
	if got.Status != domain.ListingWithdrawn {
		t.Fatalf("status = %s, want withdrawn", got.Status)
	}
	if got.Version != 2 {
		t.Fatalf("version = %d, want 2", got.Version)
	}
}

func TestUpdateMissingListing(t *testing.T) {
	store := NewStore(nil)
	_, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		_, err := tx.UpdateListing("missing", func(l *SupplyListing) error { return nil })
		return err
	})
	var nf domain.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestTransactionRollbackOnError(t *testing.T) {
	store := NewStore(nil)
	created := createListing(t, store, newListing(t, "5"))

	wantErr := errors.New("boom")
	_, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		if _, err := tx.UpdateListing(created.ID, func(l *SupplyListing) error {
			l.SiteName = "changed"
			return nil
		}); err != nil {
			return err
		}
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected propagated error, got %v", err)
	}
	got, _ := store.GetListing(created.ID)
	if got.SiteName != "Test Site" {
		t.Fatal("failed transaction must not mutate committed state")
	}
}

func TestReserveAndSellUnits(t *testing.T) {
	store := NewStore(nil)
	// 5 ha modified grassland at 1.0 condition gives 10 units.
	created := createListing(t, store, newListing(t, "5"))

	if _, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		_, err := tx.ReserveUnits(created.ID, dec(t, "4"))
		return err
	}); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	got, _ := store.GetListing(created.ID)
	if !got.AvailableUnits().Equal(dec(t, "6")) {
		t.Fatalf("available = %s, want 6", got.AvailableUnits())
	}

	// A reservation beyond the remaining capacity must fail atomically.
	_, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		_, err := tx.ReserveUnits(created.ID, dec(t, "7"))
		return err
	})
	var capErr domain.CapacityError
	if !errors.As(err, &capErr) {
		t.Fatalf("expected CapacityError, got %v", err)
	}
	got, _ = store.GetListing(created.ID)
	if !got.AvailableUnits().Equal(dec(t, "6")) {
		t.Fatalf("failed reserve changed available to %s", got.AvailableUnits())
	}

	// Selling the reserved quantity clears the hold and books the sale.
	if _, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		_, err := tx.SellUnits(created.ID, dec(t, "4"))
		return err
	}); err != nil {
		t.Fatalf("sell: %v", err)
	}
	got, _ = store.GetListing(created.ID)
	if !got.UnitsReserved.IsZero() {
		t.Fatalf("reserved = %s, want 0", got.UnitsReserved)
	}
	if !got.UnitsSold.Equal(dec(t, "4")) {
		t.Fatalf("sold = %s, want 4", got.UnitsSold)
	}
}

func TestSellFromFullyReservedListing(t *testing.T) {
	store := NewStore(nil)
	created := createListing(t, store, newListing(t, "5"))
	if _, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		_, err := tx.ReserveUnits(created.ID, dec(t, "10"))
		return err
	}); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	// Selling part of the hold converts it to sold. The listing is not
	// marked sold while a reservation is still outstanding, even though
	// no open capacity remains.
	if _, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		_, err := tx.SellUnits(created.ID, dec(t, "4"))
		return err
	}); err != nil {
		t.Fatalf("sell: %v", err)
	}
	got, _ := store.GetListing(created.ID)
	if !got.UnitsReserved.Equal(dec(t, "6")) {
		t.Fatalf("reserved = %s, want 6", got.UnitsReserved)
	}
	if !got.UnitsSold.Equal(dec(t, "4")) {
		t.Fatalf("sold = %s, want 4", got.UnitsSold)
	}
	if got.Status == domain.ListingSold {
		t.Fatal("listing must not be sold while units remain reserved")
	}

	// Selling beyond the hold plus open capacity still fails.
	_, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		_, err := tx.SellUnits(created.ID, dec(t, "7"))
		return err
	})
	var capErr domain.CapacityError
	if !errors.As(err, &capErr) {
		t.Fatalf("expected CapacityError, got %v", err)
	}

	// Consuming the rest of the hold depletes the listing.
	if _, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		_, err := tx.SellUnits(created.ID, dec(t, "6"))
		return err
	}); err != nil {
		t.Fatalf("sell remainder: %v", err)
	}
	got, _ = store.GetListing(created.ID)
	if got.Status != domain.ListingSold {
		t.Fatalf("status = %s, want sold", got.Status)
	}
	if !got.UnitsReserved.IsZero() || !got.UnitsSold.Equal(dec(t, "10")) {
		t.Fatalf("reserved = %s sold = %s, want 0 and 10", got.UnitsReserved, got.UnitsSold)
	}
}

func TestSellAllUnitsMarksListingSold(t *testing.T) {
	store := NewStore(nil)
	created := createListing(t, store, newListing(t, "5"))
	if _, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		_, err := tx.SellUnits(created.ID, dec(t, "10"))
		return err
	}); err != nil {
		t.Fatalf("sell: %v", err)
	}
	got, _ := store.GetListing(created.ID)
	if got.Status != domain.ListingSold {
		t.Fatalf("status = %s, want sold", got.Status)
	}
	if !got.AvailableUnits().IsZero() {
		t.Fatalf("available = %s, want 0", got.AvailableUnits())
	}
}

func TestReleaseUnits(t *testing.T) {
	store := NewStore(nil)
	created := createListing(t, store, newListing(t, "5"))
	if _, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		if _, err := tx.ReserveUnits(created.ID, dec(t, "10")); err != nil {
			return err
		}
		return nil
	}); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	got, _ := store.GetListing(created.ID)
	if got.Status != domain.ListingReserved {
		t.Fatalf("status = %s, want reserved", got.Status)
	}

	if _, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		_, err := tx.ReleaseUnits(created.ID, dec(t, "4"))
		return err
	}); err != nil {
		t.Fatalf("release: %v", err)
	}
	got, _ = store.GetListing(created.ID)
	if got.Status != domain.ListingActive {
		t.Fatalf("status = %s, want active after release", got.Status)
	}
	if !got.AvailableUnits().Equal(dec(t, "4")) {
		t.Fatalf("available = %s, want 4", got.AvailableUnits())
	}

	_, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		_, err := tx.ReleaseUnits(created.ID, dec(t, "100"))
		return err
	})
	var capErr domain.CapacityError
	if !errors.As(err, &capErr) {
		t.Fatalf("expected CapacityError releasing more than reserved, got %v", err)
	}
}

func TestConcurrentReservesNeverOversell(t *testing.T) {
	store := NewStore(nil)
	created := createListing(t, store, newListing(t, "5")) // 10 units

	var wg sync.WaitGroup
	granted := make(chan struct{}, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
				_, err := tx.ReserveUnits(created.ID, dec(t, "1"))
				return err
			})
			if err == nil {
				granted <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(granted)

	count := 0
	for range granted {
		count++
	}
	if count != 10 {
		t.Fatalf("granted %d reservations, want exactly 10", count)
	}
	got, _ := store.GetListing(created.ID)
	if !got.AvailableUnits().IsZero() {
		t.Fatalf("available = %s, want 0", got.AvailableUnits())
	}
	if !got.UnitsReserved.Equal(dec(t, "10")) {
		t.Fatalf("reserved = %s, want 10", got.UnitsReserved)
	}
}

func TestCapacityRuleBlocksDirectOvercommit(t *testing.T) {
	store := NewStore(nil)
	created := createListing(t, store, newListing(t, "5"))
	_, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		_, err := tx.UpdateListing(created.ID, func(l *SupplyListing) error {
			l.UnitsReserved = dec(t, "999")
			return nil
		})
		return err
	})
	var rv domain.RuleViolationError
	if !errors.As(err, &rv) {
		t.Fatalf("expected RuleViolationError, got %v", err)
	}
}

func TestMatchReferentialIntegrity(t *testing.T) {
	store := NewStore(nil)
	created := createListing(t, store, newListing(t, "5"))
	_, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		_, err := tx.CreateMatch(Match{
			SupplyListingID: created.ID,
			DemandRequestID: "missing-demand",
			MatchedUnits:    dec(t, "1"),
			UnitPrice:       dec(t, "20000"),
			Status:          domain.MatchPotential,
		})
		return err
	})
	var nf domain.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError for dangling demand, got %v", err)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	store := NewStore(nil)
	created := createListing(t, store, newListing(t, "5"))
	if _, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		_, err := tx.ReserveUnits(created.ID, dec(t, "3"))
		return err
	}); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	snapshot := store.ExportState()
	payload, err := json.Marshal(snapshot)
	if err != nil {
		t.Fatalf("marshal snapshot: %v", err)
	}
	var restored Snapshot
	if err := json.Unmarshal(payload, &restored); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}

	replica := NewStore(nil)
	replica.ImportState(restored)
	got, ok := replica.GetListing(created.ID)
	if !ok {
		t.Fatal("listing missing after import")
	}
	if !got.AvailableUnits().Equal(dec(t, "7")) {
		t.Fatalf("available = %s, want 7 after round trip", got.AvailableUnits())
	}
}

func TestMigrateSnapshotDropsDanglingMatches(t *testing.T) {
	snapshot := Snapshot{
		Matches: map[string]Match{
			"m1": {Base: domain.Base{ID: "m1"}, SupplyListingID: "gone", DemandRequestID: "gone"},
		},
	}
	migrated := migrateSnapshot(snapshot)
	if len(migrated.Matches) != 0 {
		t.Fatalf("dangling match survived migration: %v", migrated.Matches)
	}
	if migrated.Listings == nil || migrated.Demands == nil {
		t.Fatal("migration must initialize nil maps")
	}
}
