package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/storefront-labs/apoio-importer/internal/catalog"
	"github.com/storefront-labs/apoio-importer/internal/extractor"
	"github.com/storefront-labs/apoio-importer/internal/importer"
	"github.com/storefront-labs/apoio-importer/internal/models"
)

type Handlers struct {
	engine         *importer.Engine
	extractor      *extractor.Service
	productListTTL time.Duration
	logger         *slog.Logger
}

func NewHandlers(engine *importer.Engine, ext *extractor.Service, productListTTL time.Duration, logger *slog.Logger) *Handlers {
	return &Handlers{
		engine:         engine,
		extractor:      ext,
		productListTTL: productListTTL,
		logger:         logger.With("component", "api"),
	}
}

// ListScrapedProducts handles GET /scraper/products.
func (h *Handlers) ListScrapedProducts(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	pageSize := queryInt(r, "pageSize", 0)

	var skuIDs []string
	if sku := r.URL.Query().Get("sku"); sku != "" {
		skuIDs = []string{sku}
	}

	products, err := h.extractor.ExtractProductsWithTTL(r.Context(), skuIDs, page, pageSize, h.productListTTL)
	if err != nil {
		h.logger.Error("failed to list scraped products", "error", err)
		h.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"products": products,
	})
}

// GetScrapedProduct handles GET /scraper/products/{skuId}.
func (h *Handlers) GetScrapedProduct(w http.ResponseWriter, r *http.Request) {
	skuID := chi.URLParam(r, "skuId")

	product, err := h.extractor.ExtractProductDetail(r.Context(), skuID)
	if err != nil {
		h.logger.Error("failed to get product detail", "sku", skuID, "error", err)
		h.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"product": product,
	})
}

// importProductRequest accepts both the normalized field names and the
// aliases the admin UI sends (id for sourceId, title for name).
type importProductRequest struct {
	models.ScrapedProduct
	AltID          string `json:"id"`
	AltTitle       string `json:"title"`
	DownloadImages *bool  `json:"downloadImages"`
}

// ImportProduct handles POST /api/import-product.
func (h *Handlers) ImportProduct(w http.ResponseWriter, r *http.Request) {
	var req importProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	candidate := req.ScrapedProduct
	if candidate.SourceID == "" {
		candidate.SourceID = req.AltID
	}
	if candidate.Name == "" {
		candidate.Name = req.AltTitle
	}

	downloadImages := true
	if req.DownloadImages != nil {
		downloadImages = *req.DownloadImages
	}

	created, err := h.engine.ImportProduct(r.Context(), &candidate, downloadImages)
	if err != nil {
		var verr *importer.ValidationError
		switch {
		case errors.As(err, &verr):
			h.respondError(w, http.StatusBadRequest, verr.Error())
		case errors.Is(err, importer.ErrDuplicate):
			h.respondError(w, http.StatusConflict, "product already exists")
		default:
			h.logger.Error("import failed", "sourceId", candidate.SourceID, "error", err)
			h.respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	h.respondJSON(w, http.StatusCreated, map[string]interface{}{
		"success":   true,
		"productId": created.ID,
		"product":   created,
	})
}

// DeleteProduct handles DELETE /api/delete-product/{id}.
func (h *Handlers) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	removed, err := h.engine.DeleteProduct(r.Context(), id)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			h.respondError(w, http.StatusNotFound, "product not found")
			return
		}
		h.logger.Error("delete failed", "id", id, "error", err)
		h.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "product deleted, " + strconv.Itoa(removed) + " image(s) removed",
	})
}

// DeleteAllProducts handles DELETE /api/delete-all-products.
func (h *Handlers) DeleteAllProducts(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.DeleteAllProducts(r.Context())
	if err != nil {
		h.logger.Error("delete-all failed", "error", err)
		h.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "catalog cleared",
		"stats":   stats,
	})
}

// StartAutoImport handles POST /scraper/auto-import/start.
func (h *Handlers) StartAutoImport(w http.ResponseWriter, r *http.Request) {
	message := "auto-import started"
	if !h.engine.StartAutoImport() {
		message = "auto-import already running"
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": message,
	})
}

// StopAutoImport handles POST /scraper/auto-import/stop.
func (h *Handlers) StopAutoImport(w http.ResponseWriter, r *http.Request) {
	h.engine.StopAutoImport()

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "auto-import stopped",
	})
}

// AutoImportStatus handles GET /scraper/auto-import/status.
func (h *Handlers) AutoImportStatus(w http.ResponseWriter, r *http.Request) {
	status := h.engine.AutoStatus()

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":       true,
		"isRunning":     status.Enabled,
		"importedCount": status.ImportedCount,
	})
}

// RunAutoImportNow handles POST /scraper/auto-import/run-now.
func (h *Handlers) RunAutoImportNow(w http.ResponseWriter, r *http.Request) {
	imported, err := h.engine.RunAutoImportOnce(r.Context())
	if err != nil {
		h.logger.Error("manual auto-import pass failed", "error", err)
		h.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":       true,
		"importedCount": imported,
	})
}

type importAllRequest struct {
	BatchSize           int   `json:"batchSize"`
	DelayBetweenBatches int   `json:"delayBetweenBatches"`
	DownloadImages      *bool `json:"downloadImages"`
}

// StartImportAll handles POST /scraper/import-all-products. The run is
// fire-and-forget: the response is 202 with the initial progress snapshot.
func (h *Handlers) StartImportAll(w http.ResponseWriter, r *http.Request) {
	var req importAllRequest
	if r.Body != nil {
		// An empty or absent body means defaults.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	opts := importer.BulkOptions{
		BatchSize:  req.BatchSize,
		BatchDelay: time.Duration(req.DelayBetweenBatches) * time.Millisecond,
	}
	if req.DownloadImages != nil {
		opts.DownloadImages = *req.DownloadImages
	}

	snap, err := h.engine.StartImportAll(opts)
	if err != nil {
		if errors.Is(err, importer.ErrBulkAlreadyRunning) {
			h.respondJSON(w, http.StatusConflict, map[string]interface{}{
				"success":  false,
				"message":  "bulk import already running",
				"progress": snap,
			})
			return
		}
		h.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"success":  true,
		"message":  "bulk import started",
		"progress": snap,
	})
}

// ImportAllStatus handles GET /scraper/import-all-products/status.
func (h *Handlers) ImportAllStatus(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"progress": h.engine.ImportAllStatus(),
	})
}

// CancelImportAll handles POST /scraper/import-all-products/cancel.
func (h *Handlers) CancelImportAll(w http.ResponseWriter, r *http.Request) {
	snap, err := h.engine.CancelImportAll()
	if err != nil {
		h.respondJSON(w, http.StatusBadRequest, map[string]interface{}{
			"success":  false,
			"message":  "no bulk import running",
			"progress": snap,
		})
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"message":  "bulk import canceled",
		"progress": snap,
	})
}

// Health handles GET /health.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"bulkStatus": h.engine.ImportAllStatus().Status,
		"autoImport": h.engine.AutoStatus().Enabled,
	})
}

func queryInt(r *http.Request, key string, fallback int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]interface{}{
		"success": false,
		"message": message,
	})
}
