// Package catalog is the client for the local catalog CRUD service, a
// plain REST collaborator exposing GET/POST /products and
// DELETE /products/:id.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/storefront-labs/apoio-importer/internal/config"
	"github.com/storefront-labs/apoio-importer/internal/models"
)

type Client interface {
	ListProducts(ctx context.Context) ([]*models.ImportedProduct, error)
	CreateProduct(ctx context.Context, p *models.ImportedProduct) (*models.ImportedProduct, error)
	DeleteProduct(ctx context.Context, id string) error
}

// ErrNotFound is returned when the catalog has no product with the given id.
var ErrNotFound = fmt.Errorf("product not found")

type HTTPClient struct {
	baseURL string
	client  *http.Client
}

func NewHTTPClient(cfg config.CatalogConfig) *HTTPClient {
	return &HTTPClient{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: cfg.RequestTimeout},
	}
}

func (c *HTTPClient) ListProducts(ctx context.Context) ([]*models.ImportedProduct, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/products", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to list catalog products: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog service returned %d", resp.StatusCode)
	}

	var products []*models.ImportedProduct
	if err := json.NewDecoder(resp.Body).Decode(&products); err != nil {
		return nil, fmt.Errorf("failed to decode catalog products: %w", err)
	}

	return products, nil
}

func (c *HTTPClient) CreateProduct(ctx context.Context, p *models.ImportedProduct) (*models.ImportedProduct, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/products", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to create catalog product: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("catalog service returned %d", resp.StatusCode)
	}

	var created models.ImportedProduct
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		// Some CRUD layers answer 201 with an empty body; the submitted
		// record is authoritative then.
		return p, nil
	}

	return &created, nil
}

func (c *HTTPClient) DeleteProduct(ctx context.Context, id string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/products/"+id, nil)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to delete catalog product: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("catalog service returned %d", resp.StatusCode)
	}

	return nil
}
