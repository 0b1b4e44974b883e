package extractor

import (
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/storefront-labs/apoio-importer/internal/models"
)

// parseDetailPayload normalizes the detail endpoint's response. The body may
// be a JSON object or a JSON-encoded string wrapping one; both are accepted.
func parseDetailPayload(payload []byte, skuID, baseURL string) (*models.ScrapedProduct, error) {
	doc := gjson.ParseBytes(payload)
	if doc.Type == gjson.String {
		doc = gjson.Parse(doc.String())
	}

	if !doc.IsObject() && !doc.IsArray() {
		return nil, fmt.Errorf("unrecognized detail payload")
	}

	// Some deployments wrap the product in a single-element array.
	if doc.IsArray() {
		arr := doc.Array()
		if len(arr) == 0 {
			return nil, fmt.Errorf("empty detail payload")
		}
		doc = arr[0]
	}

	p := models.NewScrapedProduct(skuID)
	p.Name = firstString(doc, "productName", "name", "Name")
	p.Description = firstString(doc, "description", "metaTagDescription")
	p.Brand = firstString(doc, "brand", "Brand")
	p.SourceURL = firstString(doc, "link")
	if p.SourceURL == "" {
		p.SourceURL = baseURL
	}
	p.ExtractedAt = time.Now()

	if cats := doc.Get("categories"); cats.IsArray() {
		var paths []string
		for _, c := range cats.Array() {
			paths = append(paths, c.String())
		}
		p.Category = deepestCategory(paths)
	}

	if price := doc.Get("items.0.sellers.0.commertialOffer.Price"); price.Exists() {
		p.Price = price.Float()
	}

	p.ImageURLs = extractDetailImages(doc)

	return p, nil
}

func firstString(doc gjson.Result, keys ...string) string {
	for _, key := range keys {
		if v := doc.Get(key); v.Type == gjson.String && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

// imageProbe attempts to read one image url out of a single entry of the
// detail payload's image structure. Probes are tried in order; entries no
// probe recognizes are skipped silently rather than failing the extraction.
type imageProbe func(gjson.Result) (string, bool)

var imageProbes = []imageProbe{
	probeNestedPath,
	probeBareString,
	probeURLObject,
	probeImageURLObject,
}

// probeNestedPath handles the array-of-arrays shape where each entry is
// itself an array of objects carrying a Path field.
func probeNestedPath(entry gjson.Result) (string, bool) {
	if !entry.IsArray() {
		return "", false
	}

	arr := entry.Array()
	if len(arr) == 0 {
		return "", false
	}

	if path := arr[0].Get("Path"); path.Type == gjson.String && path.String() != "" {
		return path.String(), true
	}

	return "", false
}

// probeBareString handles flat entries that are already url strings.
func probeBareString(entry gjson.Result) (string, bool) {
	if entry.Type == gjson.String && entry.String() != "" {
		return entry.String(), true
	}
	return "", false
}

// probeURLObject handles {url: "..."} entries.
func probeURLObject(entry gjson.Result) (string, bool) {
	if !entry.IsObject() {
		return "", false
	}

	if u := entry.Get("url"); u.Type == gjson.String && u.String() != "" {
		return u.String(), true
	}

	return "", false
}

// probeImageURLObject handles {imageUrl: "..."} entries from the
// search-shaped item structure.
func probeImageURLObject(entry gjson.Result) (string, bool) {
	if !entry.IsObject() {
		return "", false
	}

	if u := entry.Get("imageUrl"); u.Type == gjson.String && u.String() != "" {
		return u.String(), true
	}

	return "", false
}

func extractDetailImages(doc gjson.Result) []string {
	urls := make([]string, 0)

	container := doc.Get("Images")
	if !container.Exists() {
		container = doc.Get("images")
	}
	if !container.Exists() {
		container = doc.Get("items.0.images")
	}
	if !container.Exists() {
		return urls
	}

	for _, entry := range container.Array() {
		for _, probe := range imageProbes {
			if u, ok := probe(entry); ok {
				if cleaned := strings.TrimSpace(u); cleaned != "" {
					urls = append(urls, cleaned)
				}
				break
			}
		}
	}

	return urls
}
