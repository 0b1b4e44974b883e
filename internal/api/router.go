package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes mounts every endpoint on a fresh router. Middleware is the
// caller's business.
func Routes(h *Handlers, imageDir, imagePublicPath string) chi.Router {
	r := chi.NewRouter()

	r.Get("/health", h.Health)

	r.Route("/scraper", func(r chi.Router) {
		r.Get("/products", h.ListScrapedProducts)
		r.Get("/products/{skuId}", h.GetScrapedProduct)

		r.Route("/auto-import", func(r chi.Router) {
			r.Post("/start", h.StartAutoImport)
			r.Post("/stop", h.StopAutoImport)
			r.Get("/status", h.AutoImportStatus)
			r.Post("/run-now", h.RunAutoImportNow)
		})

		r.Route("/import-all-products", func(r chi.Router) {
			r.Post("/", h.StartImportAll)
			r.Get("/status", h.ImportAllStatus)
			r.Post("/cancel", h.CancelImportAll)
		})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/import-product", h.ImportProduct)
		r.Delete("/delete-product/{id}", h.DeleteProduct)
		r.Delete("/delete-all-products", h.DeleteAllProducts)
	})

	if imageDir != "" {
		fs := http.StripPrefix(imagePublicPath, http.FileServer(http.Dir(imageDir)))
		r.Get(imagePublicPath+"/*", fs.ServeHTTP)
	}

	return r
}
