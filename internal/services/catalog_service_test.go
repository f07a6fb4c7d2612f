package services

import (
	"context"
	"errors"
	"testing"

	domain "github.com/cafeatonce/commerce-api/internal/domain"
)

func newTestCatalogService(t *testing.T, products *stubProductRepo) CatalogService {
	t.Helper()
	svc, err := NewCatalogService(CatalogServiceDeps{Products: products})
	if err != nil {
		t.Fatalf("NewCatalogService: %v", err)
	}
	return svc
}

func TestGetProductHidesInactive(t *testing.T) {
	catalog := testCatalog()
	inactive := catalog["p-dark"]
	inactive.Active = false
	catalog["p-dark"] = inactive
	svc := newTestCatalogService(t, catalogRepo(catalog))

	product, err := svc.GetProduct(context.Background(), "p-classic")
	if err != nil {
		t.Fatalf("GetProduct returned error: %v", err)
	}
	if product.ID != "p-classic" {
		t.Fatalf("unexpected product %+v", product)
	}

	if _, err := svc.GetProduct(context.Background(), "p-dark"); !errors.Is(err, ErrCatalogNotFound) {
		t.Fatalf("expected ErrCatalogNotFound for inactive product, got %v", err)
	}
	if _, err := svc.GetProduct(context.Background(), "p-missing"); !errors.Is(err, ErrCatalogNotFound) {
		t.Fatalf("expected ErrCatalogNotFound for unknown product, got %v", err)
	}
}

func TestListProductsDefaultsPageSize(t *testing.T) {
	var captured domain.Pagination
	products := &stubProductRepo{
		listFn: func(_ context.Context, pager domain.Pagination) (domain.CursorPage[domain.Product], error) {
			captured = pager
			return domain.CursorPage[domain.Product]{}, nil
		},
	}
	svc := newTestCatalogService(t, products)

	if _, err := svc.ListProducts(context.Background(), Pagination{}); err != nil {
		t.Fatalf("ListProducts returned error: %v", err)
	}
	if captured.PageSize != 20 {
		t.Fatalf("expected default page size 20, got %d", captured.PageSize)
	}
}
