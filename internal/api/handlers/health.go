// health.go — обработчики health endpoints File Drop.
// /health/live — liveness probe (процесс жив)
// /health/ready — readiness probe (PostgreSQL и хранилище доступны)
// /metrics — Prometheus метрики
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bigkaa/goartstore/file-drop/internal/config"
)

const serviceName = "file-drop"

// Константы статусов health check.
const (
	statusOK       = "ok"
	statusDegraded = "degraded"
	statusFail     = "fail"
)

// ReadinessChecker — проверка готовности зависимости.
type ReadinessChecker interface {
	// CheckReady возвращает статус ("ok", "degraded", "fail") и сообщение.
	CheckReady(ctx context.Context) (status, message string)
}

// StorageChecker — проверка доступности хранилища содержимого.
type StorageChecker interface {
	Check(ctx context.Context) error
}

// HealthHandler — обработчик health endpoints.
type HealthHandler struct {
	pgChecker   ReadinessChecker
	storage     StorageChecker
	promHandler http.Handler
}

// NewHealthHandler создаёт обработчик health endpoints.
// Любая из проверок может быть nil — readiness вернёт "fail".
func NewHealthHandler(pgChecker ReadinessChecker, storage StorageChecker) *HealthHandler {
	return &HealthHandler{
		pgChecker:   pgChecker,
		storage:     storage,
		promHandler: promhttp.Handler(),
	}
}

// healthCheckResult — результат проверки одной зависимости.
type healthCheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// healthResponse — ответ liveness/readiness probe.
type healthResponse struct {
	Status    string                       `json:"status"`
	Timestamp string                       `json:"timestamp"`
	Version   string                       `json:"version"`
	Service   string                       `json:"service"`
	Checks    map[string]healthCheckResult `json:"checks,omitempty"`
}

// HealthLive — liveness probe. Возвращает 200 если процесс жив.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    statusOK,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   serviceName,
	})
}

// HealthReady — readiness probe. Проверяет PostgreSQL и хранилище.
// Возвращает 200 (ok/degraded) или 503 (fail).
func (h *HealthHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   serviceName,
		Checks:    make(map[string]healthCheckResult, 2),
	}

	if h.pgChecker != nil {
		st, msg := h.pgChecker.CheckReady(r.Context())
		resp.Checks["postgresql"] = healthCheckResult{Status: st, Message: msg}
	} else {
		resp.Checks["postgresql"] = healthCheckResult{Status: statusFail, Message: "не инициализирован"}
	}

	resp.Checks["storage"] = h.checkStorage(r.Context())

	resp.Status = overallStatus(resp.Checks["postgresql"].Status, resp.Checks["storage"].Status)

	w.Header().Set("Content-Type", "application/json")
	if resp.Status == statusFail {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func (h *HealthHandler) checkStorage(ctx context.Context) healthCheckResult {
	if h.storage == nil {
		return healthCheckResult{Status: statusFail, Message: "не инициализирован"}
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := h.storage.Check(ctx); err != nil {
		return healthCheckResult{Status: statusFail, Message: err.Error()}
	}
	return healthCheckResult{Status: statusOK, Message: "хранилище доступно"}
}

// GetMetrics — Prometheus метрики.
func (h *HealthHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.promHandler.ServeHTTP(w, r)
}

// overallStatus определяет итоговый статус из статусов зависимостей.
// Если хотя бы одна зависимость fail — итог fail.
// Если хотя бы одна degraded — итог degraded.
func overallStatus(statuses ...string) string {
	hasDegraded := false
	for _, s := range statuses {
		if s == statusFail {
			return statusFail
		}
		if s == statusDegraded {
			hasDegraded = true
		}
	}
	if hasDegraded {
		return statusDegraded
	}
	return statusOK
}
