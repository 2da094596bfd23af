// routes.go — регистрация маршрутов File Drop в chi-роутере.
// Маршруты соответствуют internal/api/openapi/openapi.yaml.
package handlers

import (
	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/goartstore/file-drop/internal/api/errors"
	"github.com/bigkaa/goartstore/file-drop/internal/api/openapi"
)

// Register подключает все маршруты API к роутеру.
func (h *APIHandler) Register(r chi.Router) {
	r.NotFound(apierrors.RouteNotFound)
	r.MethodNotAllowed(apierrors.MethodNotAllowed)

	r.Get("/health/live", h.HealthLive)
	r.Get("/health/ready", h.HealthReady)
	r.Get("/metrics", h.GetMetrics)
	r.Get("/api/openapi.yaml", openapi.Handler())

	r.Post("/api/upload", h.Upload)

	r.Route("/api/download/{id}", func(r chi.Router) {
		r.Get("/", h.Download)
		r.Post("/", h.DownloadWithPassword)
		r.Get("/info", h.Info)
		r.Post("/verify", h.Verify)
		r.Get("/files/{fileId}", h.Download)
		r.Post("/files/{fileId}", h.DownloadWithPassword)
	})
}
