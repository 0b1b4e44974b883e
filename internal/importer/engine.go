// Package importer orchestrates extraction into local persistence. The
// Engine owns all mutable pipeline state (bulk progress, auto-import state,
// the single-writer guard) and is constructed once at process start.
package importer

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/storefront-labs/apoio-importer/internal/catalog"
	"github.com/storefront-labs/apoio-importer/internal/config"
	"github.com/storefront-labs/apoio-importer/internal/extractor"
	"github.com/storefront-labs/apoio-importer/internal/images"
	"github.com/storefront-labs/apoio-importer/internal/models"
)

// ErrDuplicate signals that the candidate's sourceId already exists in the
// local catalog. It is an expected, frequent outcome, not a failure.
var ErrDuplicate = errors.New("product already imported")

var (
	ErrBulkAlreadyRunning = errors.New("bulk import already running")
	ErrBulkNotRunning     = errors.New("no bulk import running")
)

// ValidationError lists every missing required field of a candidate.
type ValidationError struct {
	Missing []string
}

func (e *ValidationError) Error() string {
	return "missing required fields: " + strings.Join(e.Missing, ", ")
}

type Engine struct {
	cfg       config.ImporterConfig
	extractor *extractor.Service
	catalog   catalog.Client
	images    *images.Pipeline
	logger    *slog.Logger

	mu       sync.Mutex
	progress progress
	bulkStop context.CancelFunc

	autoEnabled  bool
	autoImported int
	autoStop     context.CancelFunc
	autoDone     chan struct{}

	// importerBusy serializes the actual import work across auto ticks and
	// bulk runs so the two modes never interleave writes to the catalog.
	importerBusy sync.Mutex
}

func NewEngine(cfg config.ImporterConfig, ext *extractor.Service, cat catalog.Client, imgs *images.Pipeline, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:       cfg,
		extractor: ext,
		catalog:   cat,
		images:    imgs,
		logger:    logger.With("component", "importer"),
		progress:  progress{status: StatusIdle, estimatedTotal: -1},
	}
}

// ImportProduct runs the full single-product pipeline: validation,
// normalization, image resolution, dedup and persistence. A duplicate
// returns ErrDuplicate without touching the catalog.
func (e *Engine) ImportProduct(ctx context.Context, candidate *models.ScrapedProduct, downloadImages bool) (*models.ImportedProduct, error) {
	if missing := candidate.Validate(); len(missing) > 0 {
		return nil, &ValidationError{Missing: missing}
	}

	imported := e.convert(ctx, candidate, downloadImages)

	dup, err := e.isDuplicate(ctx, candidate.SourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to check for duplicates: %w", err)
	}
	if dup {
		return nil, ErrDuplicate
	}

	created, err := e.catalog.CreateProduct(ctx, imported)
	if err != nil {
		return nil, fmt.Errorf("failed to persist product %s: %w", imported.ID, err)
	}

	e.logger.Info("product imported", "id", created.ID, "name", created.Name)
	return created, nil
}

func (e *Engine) convert(ctx context.Context, candidate *models.ScrapedProduct, downloadImages bool) *models.ImportedProduct {
	now := time.Now()
	id := models.ImportedID(candidate.SourceID)

	resolved := make(models.ImageList, 0, len(candidate.ImageURLs))
	for _, ref := range candidate.ImageURLs {
		if downloadImages {
			resolved = append(resolved, e.images.Download(ctx, ref, id))
		} else {
			resolved = append(resolved, e.images.ResolveSourceURL(ref))
		}
	}

	primary := e.images.Placeholder()
	if len(resolved) > 0 {
		primary = resolved[0]
	}

	return &models.ImportedProduct{
		ID:             id,
		OriginalID:     candidate.SourceID,
		Name:           candidate.Name,
		Description:    NormalizeDescription(candidate.Description),
		Price:          candidate.Price,
		Category:       normalizeCategory(candidate.Category),
		Image:          primary,
		Images:         resolved,
		OriginalImages: models.ImageList(candidate.ImageURLs),
		Stock:          candidate.Stock,
		Brand:          candidate.Brand,
		Weight:         candidate.Weight,
		Unit:           candidate.Unit,
		Source:         models.SourceTag,
		ImportedAt:     now,
		LastUpdated:    now,
	}
}

// isDuplicate scans the live catalog for the candidate's id or originalId.
// A linear scan is fine at catalog sizes in the low thousands; the contract
// is never duplicate, never overwrite an existing import.
func (e *Engine) isDuplicate(ctx context.Context, sourceID string) (bool, error) {
	existing, err := e.catalog.ListProducts(ctx)
	if err != nil {
		return false, err
	}

	id := models.ImportedID(sourceID)
	for _, p := range existing {
		if p.ID == id || p.OriginalID == sourceID {
			return true, nil
		}
	}

	return false, nil
}

// NormalizeDescription decodes entity-escaped markup and strips all HTML
// tags, collapsing whitespace. Upstream descriptions are inconsistently
// encoded, so this runs on every import.
func NormalizeDescription(desc string) string {
	if desc == "" {
		return ""
	}

	if strings.Contains(desc, "&lt;") || strings.Contains(desc, "&gt;") {
		desc = html.UnescapeString(desc)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(desc))
	if err != nil {
		return strings.Join(strings.Fields(desc), " ")
	}

	return strings.Join(strings.Fields(doc.Text()), " ")
}

func normalizeCategory(category string) string {
	category = strings.TrimSpace(category)
	category = strings.TrimSuffix(category, ">")
	return strings.TrimSpace(category)
}

// DeleteProduct removes one product from the catalog and cascades to any
// locally stored image files it owns. Returns the number of files removed.
func (e *Engine) DeleteProduct(ctx context.Context, id string) (int, error) {
	existing, err := e.catalog.ListProducts(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load catalog: %w", err)
	}

	var target *models.ImportedProduct
	for _, p := range existing {
		if p.ID == id {
			target = p
			break
		}
	}
	if target == nil {
		return 0, catalog.ErrNotFound
	}

	if err := e.catalog.DeleteProduct(ctx, id); err != nil {
		return 0, err
	}

	removed := e.images.DeleteAllForProduct(target)
	e.logger.Info("product deleted", "id", id, "imagesRemoved", removed)
	return removed, nil
}

// DeleteStats summarizes a delete-all sweep.
type DeleteStats struct {
	Products int `json:"products"`
	Images   int `json:"images"`
	Errors   int `json:"errors"`
}

// DeleteAllProducts removes every product in the local catalog, cascading
// image deletion per product. Individual failures are counted, not fatal.
func (e *Engine) DeleteAllProducts(ctx context.Context) (DeleteStats, error) {
	existing, err := e.catalog.ListProducts(ctx)
	if err != nil {
		return DeleteStats{}, fmt.Errorf("failed to load catalog: %w", err)
	}

	var stats DeleteStats
	for _, p := range existing {
		if err := e.catalog.DeleteProduct(ctx, p.ID); err != nil {
			e.logger.Error("failed to delete product", "id", p.ID, "error", err)
			stats.Errors++
			continue
		}
		stats.Products++
		stats.Images += e.images.DeleteAllForProduct(p)
	}

	e.logger.Info("catalog cleared", "products", stats.Products, "images", stats.Images, "errors", stats.Errors)
	return stats, nil
}

// Shutdown stops the auto-import timer and cancels any running bulk import.
func (e *Engine) Shutdown() {
	e.StopAutoImport()

	e.mu.Lock()
	stop := e.bulkStop
	e.mu.Unlock()

	if stop != nil {
		stop()
	}
}
