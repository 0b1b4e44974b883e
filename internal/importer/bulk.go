package importer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// BulkOptions tunes one bulk import-all run. Zero values fall back to the
// configured defaults.
type BulkOptions struct {
	BatchSize      int           `json:"batchSize"`
	BatchDelay     time.Duration `json:"delayBetweenBatches"`
	DownloadImages bool          `json:"downloadImages"`
}

// StartImportAll launches a bulk run in the background and returns its
// initial progress snapshot. At most one run may be live: a start request
// while running is rejected with the current snapshot attached.
func (e *Engine) StartImportAll(opts BulkOptions) (ProgressSnapshot, error) {
	if opts.BatchSize < 1 {
		opts.BatchSize = e.cfg.BulkBatchSize
	}
	if opts.BatchDelay <= 0 {
		opts.BatchDelay = e.cfg.BulkBatchDelay
	}

	e.mu.Lock()
	if e.progress.status == StatusRunning {
		snap := e.progress.snapshot(time.Now())
		e.mu.Unlock()
		return snap, ErrBulkAlreadyRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.progress = progress{
		runID:          uuid.New().String(),
		status:         StatusRunning,
		estimatedTotal: -1,
		startTime:      time.Now(),
	}
	e.bulkStop = cancel
	snap := e.progress.snapshot(time.Now())
	e.mu.Unlock()

	go e.runImportAll(ctx, opts)

	e.logger.Info("bulk import started",
		"runId", snap.RunID,
		"batchSize", opts.BatchSize,
		"downloadImages", opts.DownloadImages)
	return snap, nil
}

// CancelImportAll requests cancellation of the live run. The loop observes
// it at the next iteration boundary; in-flight single-product imports are
// allowed to finish.
func (e *Engine) CancelImportAll() (ProgressSnapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.progress.status != StatusRunning {
		return e.progress.snapshot(time.Now()), ErrBulkNotRunning
	}

	if e.bulkStop != nil {
		e.bulkStop()
	}
	e.progress.status = StatusCanceled
	e.progress.endTime = time.Now()

	e.logger.Info("bulk import canceled", "runId", e.progress.runID)
	return e.progress.snapshot(time.Now()), nil
}

// ImportAllStatus returns the live progress snapshot.
func (e *Engine) ImportAllStatus() ProgressSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.progress.snapshot(time.Now())
}

func (e *Engine) runImportAll(ctx context.Context, opts BulkOptions) {
	// Wait for any in-flight auto-import tick, then own the catalog for
	// the whole run.
	e.importerBusy.Lock()
	defer e.importerBusy.Unlock()

	// ctx only signals cancellation, observed at loop boundaries. Work
	// runs on its own context so an in-flight fetch or catalog write is
	// never aborted mid-request: cancellation lets the current item
	// finish and skips everything after it.
	workCtx := context.Background()

	page := 1
	pageFailures := 0
	itemFailures := 0

	for {
		if e.canceled(ctx) {
			return
		}

		products, total, err := e.extractor.SearchCatalogPage(workCtx, page, opts.BatchSize)
		if err != nil {
			if e.canceled(ctx) {
				return
			}

			pageFailures++
			e.setLastError(fmt.Sprintf("page %d: %v", page, err))
			e.logger.Error("bulk page fetch failed", "page", page, "consecutive", pageFailures, "error", err)

			if pageFailures >= e.cfg.MaxPageFailures {
				e.finish(StatusFailed)
				return
			}

			// Longer backoff than the normal inter-batch delay before
			// retrying the same page.
			if !e.sleep(ctx, e.cfg.BulkPageBackoff) {
				e.canceled(ctx)
				return
			}
			continue
		}
		pageFailures = 0

		if len(products) == 0 {
			e.finish(StatusCompleted)
			return
		}

		e.mu.Lock()
		e.progress.currentBatch = page
		e.progress.total += len(products)
		if total >= 0 {
			e.progress.estimatedTotal = total
		}
		e.mu.Unlock()

		for _, candidate := range products {
			if e.canceled(ctx) {
				return
			}

			_, err := e.ImportProduct(workCtx, candidate, opts.DownloadImages)
			switch {
			case err == nil:
				e.addImported()
			case errors.Is(err, ErrDuplicate):
				// Expected outcome, neither imported nor failed.
			default:
				itemFailures++
				e.addFailed()
				e.setLastError(fmt.Sprintf("product %s: %v", candidate.SourceID, err))
				e.logger.Warn("bulk item failed", "sourceId", candidate.SourceID, "error", err)

				if itemFailures >= e.cfg.MaxItemFailures {
					e.finish(StatusFailed)
					return
				}
			}
		}

		if !e.sleep(ctx, opts.BatchDelay) {
			e.canceled(ctx)
			return
		}

		page++
	}
}

func (e *Engine) canceled(ctx context.Context) bool {
	if ctx.Err() == nil {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// CancelImportAll already stamped the state; just make sure an end
	// time exists if the context died some other way (shutdown).
	if e.progress.status == StatusRunning {
		e.progress.status = StatusCanceled
	}
	if e.progress.endTime.IsZero() {
		e.progress.endTime = time.Now()
	}
	if e.bulkStop != nil {
		e.bulkStop()
		e.bulkStop = nil
	}

	return true
}

// sleep waits the given delay or until cancellation; false means canceled.
func (e *Engine) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func (e *Engine) finish(status Status) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.progress.status == StatusRunning {
		e.progress.status = status
	}
	e.progress.endTime = time.Now()
	if e.bulkStop != nil {
		e.bulkStop()
		e.bulkStop = nil
	}

	e.logger.Info("bulk import finished",
		"runId", e.progress.runID,
		"status", e.progress.status,
		"total", e.progress.total,
		"imported", e.progress.imported,
		"failed", e.progress.failed)
}

func (e *Engine) addImported() {
	e.mu.Lock()
	e.progress.imported++
	e.mu.Unlock()
}

func (e *Engine) addFailed() {
	e.mu.Lock()
	e.progress.failed++
	e.mu.Unlock()
}

func (e *Engine) setLastError(msg string) {
	e.mu.Lock()
	e.progress.lastError = msg
	e.mu.Unlock()
}
