package importer

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storefront-labs/apoio-importer/internal/cache"
	"github.com/storefront-labs/apoio-importer/internal/catalog"
	"github.com/storefront-labs/apoio-importer/internal/config"
	"github.com/storefront-labs/apoio-importer/internal/extractor"
	"github.com/storefront-labs/apoio-importer/internal/images"
	"github.com/storefront-labs/apoio-importer/internal/models"
	"github.com/storefront-labs/apoio-importer/internal/ratelimit"
)

type nullWriter struct{}

func (nullWriter) Write(p []byte) (int, error) { return len(p), nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nullWriter{}, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// fakeCatalog is an in-memory stand-in for the local catalog CRUD service.
type fakeCatalog struct {
	mu        sync.Mutex
	products  []*models.ImportedProduct
	createErr error
}

func (f *fakeCatalog) ListProducts(ctx context.Context) ([]*models.ImportedProduct, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]*models.ImportedProduct, len(f.products))
	copy(out, f.products)
	return out, nil
}

func (f *fakeCatalog) CreateProduct(ctx context.Context, p *models.ImportedProduct) (*models.ImportedProduct, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.createErr != nil {
		return nil, f.createErr
	}

	f.products = append(f.products, p)
	return p, nil
}

func (f *fakeCatalog) DeleteProduct(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i, p := range f.products {
		if p.ID == id {
			f.products = append(f.products[:i], f.products[i+1:]...)
			return nil
		}
	}
	return catalog.ErrNotFound
}

func (f *fakeCatalog) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.products)
}

func testImporterConfig() config.ImporterConfig {
	return config.ImporterConfig{
		AutoImportInterval: time.Hour,
		BulkBatchSize:      5,
		BulkBatchDelay:     time.Millisecond,
		BulkPageBackoff:    time.Millisecond,
		MaxPageFailures:    3,
		MaxItemFailures:    10,
		DownloadImages:     false,
	}
}

func newTestEngine(t *testing.T, upstreamURL string, cat catalog.Client) *Engine {
	t.Helper()

	logger := testLogger()

	ext := extractor.NewService(config.UpstreamConfig{
		BaseURL:        upstreamURL,
		SearchPath:     "/search",
		DetailPath:     "/detail",
		RequestTimeout: 5 * time.Second,
		PageSize:       5,
		ListingTTL:     time.Hour,
	}, cache.New(), ratelimit.NewGapLimiter(0), logger)

	imgs := images.NewPipeline(config.ImagesConfig{
		StorageDir:      t.TempDir(),
		PublicPath:      "/images/products",
		Placeholder:     "/images/placeholder.jpg",
		DownloadTimeout: time.Second,
		UserAgent:       "test",
		Referer:         "test",
	}, upstreamURL, logger)

	return NewEngine(testImporterConfig(), ext, cat, imgs, logger)
}

func candidate(sourceID, name string) *models.ScrapedProduct {
	p := models.NewScrapedProduct(sourceID)
	p.Name = name
	p.Price = 9.9
	p.ImageURLs = []string{"https://cdn.example.com/" + sourceID + ".jpg"}
	return p
}

func TestImportProduct(t *testing.T) {
	cat := &fakeCatalog{}
	e := newTestEngine(t, "http://unused", cat)

	created, err := e.ImportProduct(context.Background(), candidate("sku-1", "Arroz"), false)
	require.NoError(t, err)

	assert.Equal(t, "imported_sku-1", created.ID)
	assert.Equal(t, "sku-1", created.OriginalID)
	assert.Equal(t, models.SourceTag, created.Source)
	assert.Equal(t, "https://cdn.example.com/sku-1.jpg", created.Image)
	assert.Equal(t, 1, cat.count())
}

func TestImportProductValidation(t *testing.T) {
	e := newTestEngine(t, "http://unused", &fakeCatalog{})

	_, err := e.ImportProduct(context.Background(), &models.ScrapedProduct{}, false)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.ElementsMatch(t, []string{"sourceId", "name"}, verr.Missing)
}

func TestImportProductDuplicate(t *testing.T) {
	cat := &fakeCatalog{}
	e := newTestEngine(t, "http://unused", cat)
	ctx := context.Background()

	_, err := e.ImportProduct(ctx, candidate("sku-1", "Arroz"), false)
	require.NoError(t, err)

	_, err = e.ImportProduct(ctx, candidate("sku-1", "Arroz Again"), false)
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.Equal(t, 1, cat.count())
}

func TestImportProductDuplicateByOriginalID(t *testing.T) {
	cat := &fakeCatalog{products: []*models.ImportedProduct{
		{ID: "some-other-id", OriginalID: "sku-2"},
	}}
	e := newTestEngine(t, "http://unused", cat)

	_, err := e.ImportProduct(context.Background(), candidate("sku-2", "Feijao"), false)
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestImportProductNoImages(t *testing.T) {
	e := newTestEngine(t, "http://unused", &fakeCatalog{})

	c := candidate("sku-3", "Sem Foto")
	c.ImageURLs = nil

	created, err := e.ImportProduct(context.Background(), c, false)
	require.NoError(t, err)
	assert.Equal(t, "/images/placeholder.jpg", created.Image)
	assert.Empty(t, created.Images)
}

func TestImportProductDownloadFailureStillSucceeds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	cat := &fakeCatalog{}
	e := newTestEngine(t, srv.URL, cat)

	c := candidate("sku-4", "Imagem Quebrada")
	c.ImageURLs = []string{srv.URL + "/broken.jpg"}

	created, err := e.ImportProduct(context.Background(), c, true)
	require.NoError(t, err)
	assert.Equal(t, "/images/placeholder.jpg", created.Image)
	assert.Equal(t, 1, cat.count())
}

func TestNormalizeDescription(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "entity escaped markup",
			input:    "&lt;p&gt;Fresh &amp; tasty&lt;/p&gt;",
			expected: "Fresh & tasty",
		},
		{
			name:     "raw html",
			input:    "<div><b>Bold</b> claim</div>",
			expected: "Bold claim",
		},
		{
			name:     "plain text untouched",
			input:    "Arroz tipo 1",
			expected: "Arroz tipo 1",
		},
		{
			name:     "whitespace collapsed",
			input:    "<p>linha um</p>\n\n   <p>linha   dois</p>",
			expected: "linha um linha dois",
		},
		{
			name:     "empty",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeDescription(tt.input))
		})
	}
}

func TestNormalizeCategory(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"plain", "Mercearia", "Mercearia"},
		{"trailing separator", "Mercearia >", "Mercearia"},
		{"surrounding spaces", "  Bebidas  ", "Bebidas"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, normalizeCategory(tt.input))
		})
	}
}

func TestDeleteProduct(t *testing.T) {
	cat := &fakeCatalog{}
	e := newTestEngine(t, "http://unused", cat)
	ctx := context.Background()

	_, err := e.ImportProduct(ctx, candidate("sku-1", "Arroz"), false)
	require.NoError(t, err)

	_, err = e.DeleteProduct(ctx, "imported_sku-1")
	require.NoError(t, err)
	assert.Equal(t, 0, cat.count())
}

func TestDeleteProductNotFound(t *testing.T) {
	e := newTestEngine(t, "http://unused", &fakeCatalog{})

	_, err := e.DeleteProduct(context.Background(), "nope")
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestDeleteAllProducts(t *testing.T) {
	cat := &fakeCatalog{}
	e := newTestEngine(t, "http://unused", cat)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := e.ImportProduct(ctx, candidate(fmt.Sprintf("sku-%d", i), "P"), false)
		require.NoError(t, err)
	}

	stats, err := e.DeleteAllProducts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Products)
	assert.Equal(t, 0, cat.count())
}
