// Package images converts arbitrary image references into durable local
// assets. Download failures never propagate: a missing image must never
// abort a product import, so failures substitute a placeholder path.
package images

import (
	"context"
	"crypto/md5"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/storefront-labs/apoio-importer/internal/config"
	"github.com/storefront-labs/apoio-importer/internal/models"
)

var allowedExtensions = map[string]bool{
	"jpg":  true,
	"jpeg": true,
	"png":  true,
	"gif":  true,
	"webp": true,
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

type Pipeline struct {
	cfg    config.ImagesConfig
	base   string
	client *http.Client
	logger *slog.Logger
}

func NewPipeline(cfg config.ImagesConfig, upstreamBase string, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		cfg:    cfg,
		base:   strings.TrimRight(upstreamBase, "/"),
		client: &http.Client{Timeout: cfg.DownloadTimeout},
		logger: logger.With("component", "images"),
	}
}

// Placeholder returns the configured placeholder reference.
func (p *Pipeline) Placeholder() string {
	return p.cfg.Placeholder
}

// ResolveSourceURL classifies an image reference. Already-local paths are
// returned untouched, absolute URLs are used as-is, known relative patterns
// from the upstream host get the base host prefixed, and anything else
// falls back to the placeholder.
func (p *Pipeline) ResolveSourceURL(ref string) string {
	ref = strings.TrimSpace(ref)

	switch {
	case ref == "":
		return p.cfg.Placeholder
	case strings.HasPrefix(ref, p.cfg.PublicPath):
		return ref
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		return ref
	case strings.HasPrefix(ref, "//"):
		return "https:" + ref
	case strings.HasPrefix(ref, "/arquivos/"), strings.HasPrefix(ref, "/ids/"):
		return p.base + ref
	case strings.HasPrefix(ref, "/"):
		// Some other local asset we did not write; leave it alone.
		return ref
	default:
		return p.cfg.Placeholder
	}
}

// Download fetches an image and persists it under the storage dir. The
// filename is derived from the url hash and the product id, so repeated
// downloads of the same url for the same product are idempotent: if the
// target file already exists no network fetch happens at all.
func (p *Pipeline) Download(ctx context.Context, rawURL, productID string) string {
	src := p.ResolveSourceURL(rawURL)

	// Local references need no fetch.
	if src == p.cfg.Placeholder || strings.HasPrefix(src, p.cfg.PublicPath) {
		return src
	}
	if !strings.HasPrefix(src, "http://") && !strings.HasPrefix(src, "https://") {
		return src
	}

	filename := p.localFilename(src, productID)
	target := filepath.Join(p.cfg.StorageDir, filename)
	public := p.cfg.PublicPath + "/" + filename

	if _, err := os.Stat(target); err == nil {
		return public
	}

	if err := p.fetch(ctx, src, target); err != nil {
		p.logger.Warn("image download failed, using placeholder",
			"url", src, "product", productID, "error", err)
		return p.cfg.Placeholder
	}

	return public
}

func (p *Pipeline) fetch(ctx context.Context, src, target string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return err
	}

	// Bare requests get rejected by the upstream CDN.
	req.Header.Set("User-Agent", p.cfg.UserAgent)
	req.Header.Set("Referer", p.cfg.Referer)

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	// Write to a temp file first so a failed download never leaves a
	// truncated asset behind the existing-file short-circuit.
	tmp := target + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}

	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}

	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}

	return os.Rename(tmp, target)
}

func (p *Pipeline) localFilename(src, productID string) string {
	hash := fmt.Sprintf("%x", md5.Sum([]byte(src)))[:8]
	ext := extensionFor(src)
	safeID := unsafeChars.ReplaceAllString(productID, "_")
	return fmt.Sprintf("%s_%s.%s", safeID, hash, ext)
}

func extensionFor(src string) string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(stripQuery(src)), "."))
	if allowedExtensions[ext] {
		return ext
	}
	return "jpg"
}

func stripQuery(src string) string {
	if i := strings.IndexAny(src, "?#"); i >= 0 {
		return src[:i]
	}
	return src
}

// DeleteOne removes a locally stored asset. Placeholder paths and external
// URLs are no-ops: the pipeline only ever deletes files it wrote itself.
// The return value reports whether a file was actually removed.
func (p *Pipeline) DeleteOne(ref string) bool {
	if ref == "" || ref == p.cfg.Placeholder {
		return false
	}
	if !strings.HasPrefix(ref, p.cfg.PublicPath+"/") {
		return false
	}

	filename := path.Base(ref)
	target := filepath.Join(p.cfg.StorageDir, filename)

	if err := os.Remove(target); err != nil {
		if !os.IsNotExist(err) {
			p.logger.Warn("failed to delete image", "path", target, "error", err)
		}
		return false
	}

	return true
}

// DeleteAllForProduct removes the primary image and every entry of the
// images list, returning the count of files removed for audit logging.
func (p *Pipeline) DeleteAllForProduct(product *models.ImportedProduct) int {
	removed := 0

	if p.DeleteOne(product.Image) {
		removed++
	}

	for _, ref := range product.Images {
		if ref == product.Image {
			continue
		}
		if p.DeleteOne(ref) {
			removed++
		}
	}

	return removed
}
