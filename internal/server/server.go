// Пакет server — HTTP-сервер File Drop с graceful shutdown.
// Без TLS — TLS termination на ingress/reverse proxy.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/bigkaa/goartstore/file-drop/internal/config"
)

// Registrar подключает маршруты к роутеру (handlers.APIHandler).
type Registrar interface {
	Register(r chi.Router)
}

// Server — HTTP-сервер File Drop.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт HTTP-сервер с настроенными маршрутами и middleware.
// RequestID и Recoverer подключаются всегда; middlewares (метрики,
// логирование) добавляются в порядке переданного среза.
func New(cfg *config.Config, logger *slog.Logger, handler Registrar, middlewares ...func(http.Handler) http.Handler) *Server {
	router := chi.NewRouter()
	router.Use(chimw.RequestID)
	router.Use(chimw.Recoverer)

	for _, mw := range middlewares {
		router.Use(mw)
	}

	handler.Register(router)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: readHeaderTimeout(cfg),
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// Handler возвращает корневой обработчик (для тестов).
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM)
// или отмены ctx. Затем выполняется graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)

		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case <-ctx.Done():
		s.logger.Info("Контекст завершён, останавливаем сервер")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}

// readHeaderTimeout ограничивает чтение заголовков независимо от
// длинного ReadTimeout, рассчитанного на большие загрузки.
func readHeaderTimeout(cfg *config.Config) time.Duration {
	const limit = 30 * time.Second
	if cfg.HTTPReadTimeout > 0 && cfg.HTTPReadTimeout < limit {
		return cfg.HTTPReadTimeout
	}
	return limit
}
