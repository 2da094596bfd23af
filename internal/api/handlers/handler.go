// handler.go — основной обработчик API File Drop.
// Объединяет загрузку, скачивание и health endpoints; бизнес-логика
// делегируется в сервисный слой.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"mime/multipart"
	"net/http"

	apierrors "github.com/bigkaa/goartstore/file-drop/internal/api/errors"
	"github.com/bigkaa/goartstore/file-drop/internal/service"
)

// Uploader — приём файлов (service.UploadService).
type Uploader interface {
	Ingest(ctx context.Context, mr *multipart.Reader) (*service.UploadResult, error)
}

// Accessor — доступ к файлам (service.AccessService).
type Accessor interface {
	Describe(ctx context.Context, id string) (*service.Description, error)
	Verify(ctx context.Context, id, password string) (*service.Description, error)
	Fetch(ctx context.Context, id, member string, creds service.Credentials) (*service.Download, error)
}

// APIHandler — основной обработчик API File Drop.
type APIHandler struct {
	uploader Uploader
	access   Accessor
	health   *HealthHandler
	// verbose — добавлять причину внутренних ошибок в ответ (development)
	verbose bool
	logger  *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(
	uploader Uploader,
	access Accessor,
	health *HealthHandler,
	verbose bool,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		uploader: uploader,
		access:   access,
		health:   health,
		verbose:  verbose,
		logger:   logger.With(slog.String("component", "api_handler")),
	}
}

// --- Health endpoints (делегируются в HealthHandler) ---

// HealthLive — liveness probe.
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe.
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики.
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeServiceError переводит ошибку сервиса в HTTP-ответ.
// Клиенту, закрывшему соединение, тело не отправляется.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	se := service.AsError(err)

	switch se.StatusCode {
	case apierrors.StatusClientClosedRequest:
		apierrors.Canceled(w)
		return
	case http.StatusInternalServerError:
		h.logger.Error(se.Message,
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", se.Error()),
		)
	}

	message := se.Message
	if h.verbose && se.StatusCode >= http.StatusInternalServerError && se.Err != nil {
		message += ": " + se.Err.Error()
	}
	apierrors.WriteError(w, se.StatusCode, se.Code, message)
}
