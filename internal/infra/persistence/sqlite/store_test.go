package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"offsetcore/pkg/domain"
)

func testListing(t *testing.T) domain.SupplyListing {
	t.Helper()
	unit, err := domain.NewHabitatUnit(domain.HabitatWoodlandBroadleaf, domain.ConditionGood, decimal.NewFromInt(2), domain.SignificanceLow)
	if err != nil {
		t.Fatalf("new unit: %v", err)
	}
	return domain.SupplyListing{
		LandownerID:            "lo-1",
		LandownerName:          "Holt Wood Trust",
		SiteName:               "Holt Wood",
		Postcode:               "GL5 1AA",
		LocalAuthority:         "Stroud District Council",
		TotalSiteAreaHa:        decimal.NewFromInt(2),
		HabitatUnits:           []domain.HabitatUnit{unit},
		DeliveryStartDate:      time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
		DeliveryCompletionDate: time.Date(2028, 9, 1, 0, 0, 0, 0, time.UTC),
		MonitoringPeriodYears:  30,
		PricePerUnit:           decimal.NewFromInt(22000),
		MinimumUnitPurchase:    decimal.NewFromInt(1),
		Status:                 domain.ListingActive,
	}
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "market.db")
	store, err := NewStore(path, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	var created domain.SupplyListing
	if _, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		var err error
		created, err = tx.CreateListing(testListing(t))
		if err != nil {
			return err
		}
		_, err = tx.ReserveUnits(created.ID, decimal.NewFromInt(10))
		return err
	}); err != nil {
		t.Fatalf("transaction: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := NewStore(path, nil)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer func() { _ = reopened.Close() }()

	got, ok := reopened.GetListing(created.ID)
	if !ok {
		t.Fatal("listing missing after reopen")
	}
	if !got.UnitsReserved.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("reserved = %s, want 10", got.UnitsReserved)
	}
	// 2 ha broadleaf in good condition yields 36 units, so 26 remain.
	if !got.AvailableUnits().Equal(decimal.NewFromInt(26)) {
		t.Fatalf("available = %s, want 26", got.AvailableUnits())
	}
}

func TestFailedTransactionNotPersisted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "market.db")
	store, err := NewStore(path, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer func() { _ = store.Close() }()

	var created domain.SupplyListing
	if _, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		var err error
		created, err = tx.CreateListing(testListing(t))
		return err
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.ReserveUnits(created.ID, decimal.NewFromInt(1000))
		return err
	})
	if err == nil {
		t.Fatal("expected capacity failure")
	}
	got, _ := store.GetListing(created.ID)
	if !got.UnitsReserved.IsZero() {
		t.Fatalf("reserved = %s after failed transaction, want 0", got.UnitsReserved)
	}
}
