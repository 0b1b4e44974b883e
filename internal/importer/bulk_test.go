package importer

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storefront-labs/apoio-importer/internal/models"
)

// pagedUpstream serves scripted catalog pages keyed by the _from offset.
// Offsets past the scripted pages return an empty page.
func pagedUpstream(t *testing.T, pages map[string]string, calls *atomic.Int32) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			calls.Add(1)
		}

		body, ok := pages[r.URL.Query().Get("_from")]
		if !ok {
			body = `[]`
		}
		fmt.Fprint(w, body)
	}))
}

func pageOf(ids ...string) string {
	var entries []string
	for _, id := range ids {
		entries = append(entries, fmt.Sprintf(
			`{"productId": %q, "productName": "Produto %s", "items": [{"itemId": %q, "images": [{"imageUrl": "https://cdn/%s.jpg"}], "sellers": [{"commertialOffer": {"Price": 1.5}}]}]}`,
			id, id, id, id))
	}
	return "[" + strings.Join(entries, ",") + "]"
}

func waitForFinish(t *testing.T, e *Engine) ProgressSnapshot {
	t.Helper()

	require.Eventually(t, func() bool {
		return !e.ImportAllStatus().IsRunning
	}, 5*time.Second, 10*time.Millisecond)

	return e.ImportAllStatus()
}

func TestBulkImportCleanCompletion(t *testing.T) {
	pages := map[string]string{
		"0": pageOf("a1", "a2", "a3", "a4", "a5"),
		"5": pageOf("b1", "b2", "b3", "b4", "b5"),
	}
	srv := pagedUpstream(t, pages, nil)
	defer srv.Close()

	cat := &fakeCatalog{}
	e := newTestEngine(t, srv.URL, cat)

	snap, err := e.StartImportAll(BulkOptions{BatchSize: 5})
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, snap.Status)
	assert.NotEmpty(t, snap.RunID)

	final := waitForFinish(t, e)
	assert.Equal(t, StatusCompleted, final.Status)
	assert.Equal(t, 10, final.Total)
	assert.Equal(t, 10, final.Imported+final.Failed)
	assert.Equal(t, 10, final.Imported)
	assert.Equal(t, 10, cat.count())
	assert.NotEmpty(t, final.EndTime)
}

func TestBulkImportRejectsSecondStart(t *testing.T) {
	// A slow upstream keeps the first run alive while we try to start a
	// second one.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		fmt.Fprint(w, `[]`)
	}))
	defer srv.Close()

	e := newTestEngine(t, srv.URL, &fakeCatalog{})

	_, err := e.StartImportAll(BulkOptions{})
	require.NoError(t, err)

	snap, err := e.StartImportAll(BulkOptions{})
	assert.ErrorIs(t, err, ErrBulkAlreadyRunning)
	assert.Equal(t, StatusRunning, snap.Status)

	waitForFinish(t, e)
}

func TestBulkImportPageFailureThreshold(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	e := newTestEngine(t, srv.URL, &fakeCatalog{})

	_, err := e.StartImportAll(BulkOptions{BatchSize: 5})
	require.NoError(t, err)

	final := waitForFinish(t, e)
	assert.Equal(t, StatusFailed, final.Status)
	assert.NotEmpty(t, final.LastError)
}

func TestBulkImportItemFailureThreshold(t *testing.T) {
	pages := map[string]string{
		"0": pageOf("a1", "a2", "a3", "a4", "a5"),
	}
	srv := pagedUpstream(t, pages, nil)
	defer srv.Close()

	cat := &fakeCatalog{createErr: fmt.Errorf("catalog write refused")}
	e := newTestEngine(t, srv.URL, cat)
	e.cfg.MaxItemFailures = 3

	_, err := e.StartImportAll(BulkOptions{BatchSize: 5})
	require.NoError(t, err)

	final := waitForFinish(t, e)
	assert.Equal(t, StatusFailed, final.Status)
	assert.Equal(t, 3, final.Failed)
	assert.Contains(t, final.LastError, "catalog write refused")
}

func TestBulkImportCancellation(t *testing.T) {
	var calls atomic.Int32

	pages := map[string]string{
		"0": pageOf("a1", "a2", "a3"),
		"3": pageOf("b1", "b2", "b3"),
	}
	srv := pagedUpstream(t, pages, &calls)
	defer srv.Close()

	cat := &fakeCatalog{}
	e := newTestEngine(t, srv.URL, cat)

	// A long inter-batch delay gives us a window to cancel after batch 1
	// and before batch 2.
	_, err := e.StartImportAll(BulkOptions{BatchSize: 3, BatchDelay: 30 * time.Second})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return e.ImportAllStatus().Imported == 3
	}, 5*time.Second, 10*time.Millisecond)

	snap, err := e.CancelImportAll()
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, snap.Status)

	final := waitForFinish(t, e)
	assert.Equal(t, StatusCanceled, final.Status)
	assert.Equal(t, 3, final.Imported)
	assert.Equal(t, 3, cat.count())

	// No further upstream calls after cancellation.
	fetched := calls.Load()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, fetched, calls.Load())
	assert.Equal(t, int32(1), fetched)
}

// slowCatalog blocks its first create until released, holding open the
// window where a catalog write is in flight.
type slowCatalog struct {
	fakeCatalog
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *slowCatalog) CreateProduct(ctx context.Context, p *models.ImportedProduct) (*models.ImportedProduct, error) {
	s.once.Do(func() { close(s.started) })
	<-s.release
	return s.fakeCatalog.CreateProduct(ctx, p)
}

func TestBulkImportCancelDuringItemImport(t *testing.T) {
	pages := map[string]string{
		"0": pageOf("a1"),
	}
	srv := pagedUpstream(t, pages, nil)
	defer srv.Close()

	cat := &slowCatalog{started: make(chan struct{}), release: make(chan struct{})}
	e := newTestEngine(t, srv.URL, cat)

	_, err := e.StartImportAll(BulkOptions{BatchSize: 5})
	require.NoError(t, err)

	// Cancel while the catalog write for a1 is in flight, then let the
	// write complete. The in-flight import must finish and be counted.
	<-cat.started
	_, err = e.CancelImportAll()
	require.NoError(t, err)
	close(cat.release)

	require.Eventually(t, func() bool {
		return e.ImportAllStatus().Imported == 1
	}, 5*time.Second, 10*time.Millisecond)

	final := e.ImportAllStatus()
	assert.Equal(t, StatusCanceled, final.Status)
	assert.Equal(t, 0, final.Failed)
	assert.Empty(t, final.LastError)
	assert.Equal(t, 1, cat.count())
}

func TestCancelWithoutRunningRun(t *testing.T) {
	e := newTestEngine(t, "http://unused", &fakeCatalog{})

	_, err := e.CancelImportAll()
	assert.ErrorIs(t, err, ErrBulkNotRunning)
}

func TestBulkImportSkipsDuplicates(t *testing.T) {
	pages := map[string]string{
		"0": pageOf("a1", "a2"),
	}
	srv := pagedUpstream(t, pages, nil)
	defer srv.Close()

	cat := &fakeCatalog{}
	e := newTestEngine(t, srv.URL, cat)

	// a1 exists already; the run must neither duplicate nor count it as a
	// failure.
	_, err := e.ImportProduct(context.Background(), candidate("a1", "Pre-existing"), false)
	require.NoError(t, err)

	_, err = e.StartImportAll(BulkOptions{BatchSize: 5})
	require.NoError(t, err)

	final := waitForFinish(t, e)
	assert.Equal(t, StatusCompleted, final.Status)
	assert.Equal(t, 1, final.Imported)
	assert.Equal(t, 0, final.Failed)
	assert.Equal(t, 2, cat.count())
}

func TestBulkImportEstimatedTotalFromHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("_from") == "0" {
			w.Header().Set("Resources", "0-1/2")
			fmt.Fprint(w, pageOf("a1", "a2"))
			return
		}
		fmt.Fprint(w, `[]`)
	}))
	defer srv.Close()

	e := newTestEngine(t, srv.URL, &fakeCatalog{})

	_, err := e.StartImportAll(BulkOptions{BatchSize: 2})
	require.NoError(t, err)

	final := waitForFinish(t, e)
	assert.Equal(t, StatusCompleted, final.Status)
	assert.Equal(t, "2", final.EstimatedTotal)
}

func TestProgressSnapshotUnknownTotal(t *testing.T) {
	p := progress{status: StatusRunning, estimatedTotal: -1, startTime: time.Now().Add(-time.Second), imported: 5}
	snap := p.snapshot(time.Now())

	assert.Equal(t, "unknown", snap.EstimatedTotal)
	assert.Equal(t, "∞", snap.EstimatedETA)
	assert.Greater(t, snap.RatePerSecond, 0.0)
}
