// Package extractor talks to the upstream storefront's catalog APIs and
// maps raw payloads into the normalized scraped-product shape. All outbound
// requests go through the shared rate limiter, and results are memoized in
// the TTL cache keyed by sku filter and pagination.
package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/storefront-labs/apoio-importer/internal/cache"
	"github.com/storefront-labs/apoio-importer/internal/config"
	"github.com/storefront-labs/apoio-importer/internal/models"
	"github.com/storefront-labs/apoio-importer/internal/ratelimit"
)

type Service struct {
	cfg     config.UpstreamConfig
	client  *http.Client
	cache   *cache.Cache
	limiter ratelimit.Limiter
	logger  *slog.Logger
}

func NewService(cfg config.UpstreamConfig, c *cache.Cache, limiter ratelimit.Limiter, logger *slog.Logger) *Service {
	return &Service{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.RequestTimeout},
		cache:   c,
		limiter: limiter,
		logger:  logger.With("component", "extractor"),
	}
}

// ExtractProducts fetches one page of upstream search results, optionally
// filtered by sku ids, and returns them normalized. Listing payloads are
// frequently image-incomplete upstream, so items that come back without
// images are transparently backfilled from the detail endpoint.
func (s *Service) ExtractProducts(ctx context.Context, skuIDs []string, page, pageSize int) ([]*models.ScrapedProduct, error) {
	return s.ExtractProductsWithTTL(ctx, skuIDs, page, pageSize, s.cfg.ListingTTL)
}

// ExtractProductsWithTTL is ExtractProducts with a caller-chosen cache
// freshness window. The HTTP-facing product list reads with a shorter TTL
// than the import paths.
func (s *Service) ExtractProductsWithTTL(ctx context.Context, skuIDs []string, page, pageSize int, ttl time.Duration) ([]*models.ScrapedProduct, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = s.cfg.PageSize
	}

	key := searchCacheKey(skuIDs, page, pageSize)
	if cached := s.cache.Get(key, ttl); cached != nil {
		if products, ok := cached.([]*models.ScrapedProduct); ok {
			return products, nil
		}
	}

	raw, _, err := s.fetchSearchPage(ctx, skuIDs, page, pageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to extract products: %w", err)
	}

	products := make([]*models.ScrapedProduct, 0, len(raw))
	for i := range raw {
		p := mapRawProduct(&raw[i], s.cfg.BaseURL)

		if len(p.ImageURLs) == 0 && p.SourceID != "" {
			s.backfillImages(ctx, p)
		}

		products = append(products, p)
	}

	s.cache.Set(key, products)
	return products, nil
}

// ExtractProductDetail fetches a single product from the detail endpoint.
// The upstream response may arrive as a parsed object or as a JSON-encoded
// string, and its image structure is inconsistently shaped; parsing is
// defensive throughout.
func (s *Service) ExtractProductDetail(ctx context.Context, skuID string) (*models.ScrapedProduct, error) {
	if skuID == "" {
		return nil, fmt.Errorf("failed to extract product detail: sku id is empty")
	}

	key := "detail:" + skuID
	if cached := s.cache.Get(key, s.cfg.ListingTTL); cached != nil {
		if p, ok := cached.(*models.ScrapedProduct); ok {
			return p, nil
		}
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	detailURL := s.cfg.BaseURL + s.cfg.DetailPath
	body := strings.NewReader(fmt.Sprintf(`{"skuId":%q}`, skuID))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, detailURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to extract product detail: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to extract product detail: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to extract product detail: upstream returned %d", resp.StatusCode)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to extract product detail: %w", err)
	}

	product, err := parseDetailPayload(payload, skuID, s.cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to extract product detail: %w", err)
	}

	s.cache.Set(key, product)
	return product, nil
}

// SearchCatalogPage is the paging path used by bulk import. It walks the
// whole upstream catalog page by page with no sku filter and normalizes the
// raw catalog JSON inline. A page past the end of the catalog returns an
// empty, non-error result. The second return value is the catalog total
// reported by the upstream range header, or -1 when unknown.
func (s *Service) SearchCatalogPage(ctx context.Context, page, pageSize int) ([]*models.ScrapedProduct, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = s.cfg.PageSize
	}

	raw, total, err := s.fetchSearchPage(ctx, nil, page, pageSize)
	if err != nil {
		return nil, -1, fmt.Errorf("failed to fetch catalog page %d: %w", page, err)
	}

	products := make([]*models.ScrapedProduct, 0, len(raw))
	for i := range raw {
		products = append(products, mapRawProduct(&raw[i], s.cfg.BaseURL))
	}

	return products, total, nil
}

func (s *Service) fetchSearchPage(ctx context.Context, skuIDs []string, page, pageSize int) ([]rawProduct, int, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, -1, err
	}

	from := (page - 1) * pageSize
	to := from + pageSize - 1

	q := url.Values{}
	q.Set("_from", fmt.Sprintf("%d", from))
	q.Set("_to", fmt.Sprintf("%d", to))
	for _, sku := range skuIDs {
		q.Add("fq", "skuId:"+sku)
	}

	searchURL := s.cfg.BaseURL + s.cfg.SearchPath + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, -1, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, -1, err
	}
	defer resp.Body.Close()

	// The search API answers 206 when the requested range is a partial
	// slice of the catalog, which is the common case.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return nil, -1, fmt.Errorf("upstream returned %d", resp.StatusCode)
	}

	var raw []rawProduct
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, -1, fmt.Errorf("invalid search payload: %w", err)
	}

	return raw, parseResourcesTotal(resp.Header.Get("Resources")), nil
}

// parseResourcesTotal reads the catalog total out of the "Resources: 0-49/5120"
// range header. Returns -1 when the header is absent or malformed.
func parseResourcesTotal(header string) int {
	parts := strings.Split(header, "/")
	if len(parts) != 2 {
		return -1
	}

	var total int
	if _, err := fmt.Sscanf(parts[1], "%d", &total); err != nil || total < 0 {
		return -1
	}

	return total
}

func (s *Service) backfillImages(ctx context.Context, p *models.ScrapedProduct) {
	detail, err := s.ExtractProductDetail(ctx, p.SourceID)
	if err != nil {
		s.logger.Warn("image backfill failed", "sku", p.SourceID, "error", err)
		return
	}

	if len(detail.ImageURLs) > 0 {
		p.ImageURLs = detail.ImageURLs
	}
}

func searchCacheKey(skuIDs []string, page, pageSize int) string {
	filter := "all"
	if len(skuIDs) > 0 {
		filter = strings.Join(skuIDs, ",")
	}
	return fmt.Sprintf("search:%s:page%d:size%d", filter, page, pageSize)
}

// ListingTTL exposes the configured freshness window for listing reads so
// the HTTP surface can reuse it.
func (s *Service) ListingTTL() time.Duration {
	return s.cfg.ListingTTL
}
