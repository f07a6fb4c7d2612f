package firestore

import (
	"errors"
	"testing"
	"time"

	"github.com/cafeatonce/commerce-api/internal/repositories"
)

func stockDocs() []productDocument {
	return []productDocument{
		{Name: "Classic Concentrate", Stock: 10, Reserved: 2, Available: 8},
		{Name: "Dark Roast Concentrate", Stock: 5, Reserved: 0, Available: 5},
	}
}

func TestReserveStockHoldsEveryLine(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	docs := stockDocs()
	lines := []reservationLineDoc{
		{ProductID: "p-classic", Quantity: 3},
		{ProductID: "p-dark", Quantity: 5},
	}

	if err := reserveStock(docs, lines, now); err != nil {
		t.Fatalf("reserveStock returned error: %v", err)
	}
	if docs[0].Reserved != 5 || docs[0].Available != 5 {
		t.Fatalf("unexpected counters for first product: %+v", docs[0])
	}
	if docs[1].Reserved != 5 || docs[1].Available != 0 {
		t.Fatalf("unexpected counters for second product: %+v", docs[1])
	}
	if !docs[0].UpdatedAt.Equal(now) || !docs[1].UpdatedAt.Equal(now) {
		t.Fatalf("expected both products stamped at %v", now)
	}
}

func TestReserveStockNamesShortProduct(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	docs := stockDocs()
	lines := []reservationLineDoc{
		{ProductID: "p-classic", Quantity: 1},
		{ProductID: "p-dark", Quantity: 6},
	}

	err := reserveStock(docs, lines, now)
	var stockErr *repositories.StockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected StockError, got %v", err)
	}
	if stockErr.Code != repositories.StockErrorInsufficient {
		t.Fatalf("unexpected code %v", stockErr.Code)
	}
	if stockErr.ProductID != "p-dark" || stockErr.ProductName != "Dark Roast Concentrate" {
		t.Fatalf("expected the short product to be named, got %+v", stockErr)
	}
}

func TestCommitStockDecrementsOnHand(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	docs := []productDocument{{Name: "Classic Concentrate", Stock: 10, Reserved: 4, Available: 6}}
	lines := []reservationLineDoc{{ProductID: "p-classic", Quantity: 4}}

	if err := commitStock(docs, lines, "resv-1", now); err != nil {
		t.Fatalf("commitStock returned error: %v", err)
	}
	if docs[0].Stock != 6 || docs[0].Reserved != 0 || docs[0].Available != 6 {
		t.Fatalf("unexpected counters after commit: %+v", docs[0])
	}
}

func TestCommitStockRejectsOutOfStepCounters(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	docs := []productDocument{{Name: "Classic Concentrate", Stock: 10, Reserved: 1}}
	lines := []reservationLineDoc{{ProductID: "p-classic", Quantity: 4}}

	err := commitStock(docs, lines, "resv-1", now)
	var stockErr *repositories.StockError
	if !errors.As(err, &stockErr) || stockErr.Code != repositories.StockErrorInvalidReservationState {
		t.Fatalf("expected invalid reservation state, got %v", err)
	}
}

func TestReleaseStockReturnsHeldQuantity(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	docs := []productDocument{{Name: "Classic Concentrate", Stock: 10, Reserved: 4, Available: 6}}
	lines := []reservationLineDoc{{ProductID: "p-classic", Quantity: 4}}

	if err := releaseStock(docs, lines, "resv-1", now); err != nil {
		t.Fatalf("releaseStock returned error: %v", err)
	}
	if docs[0].Stock != 10 || docs[0].Reserved != 0 || docs[0].Available != 10 {
		t.Fatalf("unexpected counters after release: %+v", docs[0])
	}
}
