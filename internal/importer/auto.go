package importer

import (
	"context"
	"errors"
	"time"
)

// StartAutoImport enables the recurring import timer. Auto-import starts
// disabled and must be explicitly started: the pipeline never hammers the
// upstream or writes to the catalog without operator intent. Returns false
// if the timer was already running.
func (e *Engine) StartAutoImport() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.autoEnabled {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.autoEnabled = true
	e.autoStop = cancel
	e.autoDone = make(chan struct{})

	go e.autoLoop(ctx, e.autoDone)

	e.logger.Info("auto-import started", "interval", e.cfg.AutoImportInterval)
	return true
}

// StopAutoImport disables the timer. Idempotent: repeated stops are no-ops.
func (e *Engine) StopAutoImport() {
	e.mu.Lock()
	if !e.autoEnabled {
		e.mu.Unlock()
		return
	}

	stop := e.autoStop
	done := e.autoDone
	e.autoEnabled = false
	e.autoStop = nil
	e.autoDone = nil
	e.mu.Unlock()

	stop()
	<-done

	e.logger.Info("auto-import stopped")
}

// AutoStatus reports whether the timer is enabled and the lifetime total of
// products it has imported.
func (e *Engine) AutoStatus() AutoImportStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	return AutoImportStatus{
		Enabled:       e.autoEnabled,
		ImportedCount: e.autoImported,
	}
}

func (e *Engine) autoLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(e.cfg.AutoImportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.RunAutoImportOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				e.logger.Error("auto-import tick failed", "error", err)
			}
		}
	}
}

// RunAutoImportOnce performs a single auto-import pass: one listing fetch,
// dedup against the live catalog, and an independent single-product import
// for every new product found. A failure on one item never aborts the pass.
// Returns the number of products imported.
func (e *Engine) RunAutoImportOnce(ctx context.Context) (int, error) {
	// A running bulk import owns the catalog; skip this tick entirely.
	if !e.importerBusy.TryLock() {
		e.logger.Info("auto-import tick skipped, importer busy")
		return 0, nil
	}
	defer e.importerBusy.Unlock()

	products, err := e.extractor.ExtractProducts(ctx, nil, 1, 0)
	if err != nil {
		return 0, err
	}

	imported := 0
	for _, candidate := range products {
		if ctx.Err() != nil {
			break
		}

		_, err := e.ImportProduct(ctx, candidate, e.cfg.DownloadImages)
		if errors.Is(err, ErrDuplicate) {
			continue
		}
		if err != nil {
			e.logger.Warn("auto-import item failed", "sourceId", candidate.SourceID, "error", err)
			continue
		}

		imported++
	}

	if imported > 0 {
		e.mu.Lock()
		e.autoImported += imported
		e.mu.Unlock()
	}

	e.logger.Info("auto-import pass finished", "found", len(products), "imported", imported)
	return imported, nil
}
