package extractor

import (
	"strings"
	"time"

	"github.com/storefront-labs/apoio-importer/internal/models"
)

// Raw search payload shapes. Field names follow the upstream API, including
// its "commertialOffer" spelling.
type rawProduct struct {
	ProductID   string    `json:"productId"`
	ProductName string    `json:"productName"`
	Brand       string    `json:"brand"`
	Description string    `json:"description"`
	Categories  []string  `json:"categories"`
	Link        string    `json:"link"`
	LinkText    string    `json:"linkText"`
	Items       []rawItem `json:"items"`
}

type rawItem struct {
	ItemID          string      `json:"itemId"`
	Name            string      `json:"name"`
	MeasurementUnit string      `json:"measurementUnit"`
	UnitMultiplier  float64     `json:"unitMultiplier"`
	Images          []rawImage  `json:"images"`
	Sellers         []rawSeller `json:"sellers"`
}

type rawImage struct {
	ImageURL   string `json:"imageUrl"`
	ImageLabel string `json:"imageLabel"`
}

type rawSeller struct {
	SellerID        string   `json:"sellerId"`
	CommertialOffer rawOffer `json:"commertialOffer"`
}

type rawOffer struct {
	Price             float64 `json:"Price"`
	ListPrice         float64 `json:"ListPrice"`
	AvailableQuantity int     `json:"AvailableQuantity"`
}

func mapRawProduct(raw *rawProduct, baseURL string) *models.ScrapedProduct {
	p := models.NewScrapedProduct(sourceIDFor(raw))
	p.Name = raw.ProductName
	p.Description = raw.Description
	p.Brand = raw.Brand
	p.Category = deepestCategory(raw.Categories)
	p.SourceURL = sourceURLFor(raw, baseURL)
	p.ExtractedAt = time.Now()

	if len(raw.Items) > 0 {
		item := raw.Items[0]
		p.Unit = item.MeasurementUnit
		p.Weight = item.UnitMultiplier

		for _, img := range item.Images {
			if img.ImageURL != "" {
				p.ImageURLs = append(p.ImageURLs, img.ImageURL)
			}
		}

		if len(item.Sellers) > 0 {
			offer := item.Sellers[0].CommertialOffer
			p.Price = offer.Price
			p.Stock = offer.AvailableQuantity
		}
	}

	return p
}

// sourceIDFor prefers the sku id of the first item; the product id is the
// fallback so a malformed item list still yields a stable identifier.
func sourceIDFor(raw *rawProduct) string {
	if len(raw.Items) > 0 && raw.Items[0].ItemID != "" {
		return raw.Items[0].ItemID
	}
	return raw.ProductID
}

func sourceURLFor(raw *rawProduct, baseURL string) string {
	if raw.Link != "" {
		return raw.Link
	}
	if raw.LinkText != "" {
		return baseURL + "/" + raw.LinkText + "/p"
	}
	return baseURL
}

// deepestCategory returns the last (most specific) segment of the first
// category path, e.g. "/Alimentos/Mercearia/" -> "Mercearia".
func deepestCategory(categories []string) string {
	if len(categories) == 0 {
		return ""
	}

	segments := strings.Split(strings.Trim(categories[0], "/"), "/")
	if len(segments) == 0 {
		return ""
	}

	return strings.TrimSpace(segments[len(segments)-1])
}
