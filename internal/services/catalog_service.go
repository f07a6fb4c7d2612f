package services

import (
	"context"
	"errors"
	"strings"

	domain "github.com/cafeatonce/commerce-api/internal/domain"
	"github.com/cafeatonce/commerce-api/internal/repositories"
)

var (
	// ErrCatalogInvalidInput indicates the caller supplied invalid input.
	ErrCatalogInvalidInput = errors.New("catalog service: invalid input")
	// ErrCatalogNotFound indicates the requested product does not exist or is inactive.
	ErrCatalogNotFound = errors.New("catalog service: not found")
	// ErrCatalogUnavailable indicates the catalog backend cannot serve the request.
	ErrCatalogUnavailable = errors.New("catalog service: unavailable")
)

const defaultCatalogPageSize = 20

// CatalogServiceDeps wires the product repository for catalog reads.
type CatalogServiceDeps struct {
	Products repositories.ProductRepository
	Logger   func(context.Context, string, map[string]any)
}

type catalogService struct {
	products repositories.ProductRepository
	logger   func(context.Context, string, map[string]any)
}

// NewCatalogService constructs a CatalogService enforcing dependency validation.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Products == nil {
		return nil, errors.New("catalog service: product repository is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &catalogService{products: deps.Products, logger: logger}, nil
}

func (s *catalogService) GetProduct(ctx context.Context, productID string) (Product, error) {
	id := strings.TrimSpace(productID)
	if id == "" {
		return Product{}, ErrCatalogInvalidInput
	}

	product, err := s.products.FindByID(ctx, id)
	if err != nil {
		if isRepoNotFound(err) {
			return Product{}, ErrCatalogNotFound
		}
		return Product{}, ErrCatalogUnavailable
	}
	if !product.Active {
		return Product{}, ErrCatalogNotFound
	}
	return product, nil
}

func (s *catalogService) ListProducts(ctx context.Context, pager Pagination) (domain.CursorPage[Product], error) {
	if pager.PageSize <= 0 {
		pager.PageSize = defaultCatalogPageSize
	}

	page, err := s.products.ListActive(ctx, pager)
	if err != nil {
		if isRepoNotFound(err) {
			return domain.CursorPage[Product]{}, ErrCatalogNotFound
		}
		return domain.CursorPage[Product]{}, ErrCatalogUnavailable
	}
	return page, nil
}
