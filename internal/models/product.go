package models

import (
	"encoding/json"
	"time"
)

// SourcePrefix is prepended to an upstream sourceId to form the local
// catalog id. The prefixed id is the sole deduplication key: two scraped
// products with the same sourceId must never produce two local entries.
const SourcePrefix = "imported_"

// SourceTag marks records created by this importer.
const SourceTag = "apoioentrega"

// ScrapedProduct is the normalized representation of an upstream item.
type ScrapedProduct struct {
	SourceID    string    `json:"sourceId"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Price       float64   `json:"price"`
	Category    string    `json:"category,omitempty"`
	ImageURLs   []string  `json:"imageUrls"`
	Stock       int       `json:"stock,omitempty"`
	Brand       string    `json:"brand,omitempty"`
	Weight      float64   `json:"weight,omitempty"`
	Unit        string    `json:"unit,omitempty"`
	ExtractedAt time.Time `json:"extractedAt"`
	SourceURL   string    `json:"sourceUrl"`
}

// ImportedProduct is the local catalog schema, derived 1:1 from a
// ScrapedProduct on first import. OriginalImages keeps the raw upstream
// references for audit and re-processing.
type ImportedProduct struct {
	ID             string    `json:"id"`
	OriginalID     string    `json:"originalId"`
	Name           string    `json:"name"`
	Description    string    `json:"description"`
	Price          float64   `json:"price"`
	Category       string    `json:"category,omitempty"`
	Image          string    `json:"image"`
	Images         ImageList `json:"images"`
	OriginalImages ImageList `json:"originalImages"`
	Stock          int       `json:"stock,omitempty"`
	Brand          string    `json:"brand,omitempty"`
	Weight         float64   `json:"weight,omitempty"`
	Unit           string    `json:"unit,omitempty"`
	Source         string    `json:"source"`
	ImportedAt     time.Time `json:"importedAt"`
	LastUpdated    time.Time `json:"lastUpdated"`
}

// ImageList is a list of image references. Records written by an earlier
// importer version stored entries as {"url": "..."} objects instead of
// plain strings; decoding accepts both and skips anything else.
type ImageList []string

func (l *ImageList) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	out := make([]string, 0, len(raw))
	for _, entry := range raw {
		var s string
		if err := json.Unmarshal(entry, &s); err == nil {
			out = append(out, s)
			continue
		}

		var obj struct {
			URL string `json:"url"`
		}
		if err := json.Unmarshal(entry, &obj); err == nil && obj.URL != "" {
			out = append(out, obj.URL)
		}
	}

	*l = out
	return nil
}

// ImportedID returns the local catalog id for an upstream source id.
func ImportedID(sourceID string) string {
	return SourcePrefix + sourceID
}

func NewScrapedProduct(sourceID string) *ScrapedProduct {
	return &ScrapedProduct{
		SourceID:    sourceID,
		ImageURLs:   make([]string, 0),
		ExtractedAt: time.Now(),
	}
}

// Validate returns the list of missing required fields. An empty slice
// means the candidate is importable.
func (p *ScrapedProduct) Validate() []string {
	var missing []string

	if p.SourceID == "" {
		missing = append(missing, "sourceId")
	}

	if p.Name == "" {
		missing = append(missing, "name")
	}

	return missing
}
