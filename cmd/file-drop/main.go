// Точка входа File Drop — временного файлообменника.
// Загружает конфигурацию, применяет миграции, подключается к PostgreSQL,
// выбирает хранилище содержимого (локальная ФС или S3), создаёт сервисы,
// запускает reaper и topologymetrics, HTTP-сервер с graceful shutdown.
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/goartstore/file-drop/internal/api/handlers"
	"github.com/bigkaa/goartstore/file-drop/internal/api/middleware"
	"github.com/bigkaa/goartstore/file-drop/internal/api/openapi"
	"github.com/bigkaa/goartstore/file-drop/internal/config"
	"github.com/bigkaa/goartstore/file-drop/internal/database"
	"github.com/bigkaa/goartstore/file-drop/internal/repository"
	"github.com/bigkaa/goartstore/file-drop/internal/security"
	"github.com/bigkaa/goartstore/file-drop/internal/server"
	"github.com/bigkaa/goartstore/file-drop/internal/service"
	"github.com/bigkaa/goartstore/file-drop/internal/storage"
	"github.com/bigkaa/goartstore/file-drop/internal/storage/filestore"
	"github.com/bigkaa/goartstore/file-drop/internal/storage/s3store"
)

func main() {
	// 1. .env (необязательный) и конфигурация из переменных окружения
	if err := config.LoadDotEnv(".env"); err != nil {
		slog.Error("Ошибка чтения .env", slog.String("error", err.Error()))
		os.Exit(1)
	}
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("File Drop запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("env", cfg.Env),
		slog.String("storage", cfg.StorageBackend),
	)
	if os.Getenv("FD_TICKET_SECRET") == "" {
		logger.Warn("FD_TICKET_SECRET не задан, билеты на скачивание не переживут перезапуск")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Проверка встроенного OpenAPI-контракта
	if _, err := openapi.Load(ctx); err != nil {
		logger.Error("Ошибка OpenAPI-контракта", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Миграции и подключение к PostgreSQL
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// Адаптер pgxpool → *sql.DB для topologymetrics
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. Хранилище содержимого
	store, err := openContentStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка инициализации хранилища", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 6. Repository и сервисы
	fileRepo := repository.NewFileRepository(pool)
	hasher := security.NewBcryptHasher(cfg.BcryptCost)
	tickets := security.NewTicketIssuer(cfg.TicketSecret, cfg.TicketTTL)
	cache := service.NewCacheService(cfg.CacheSize, cfg.CacheTTL)

	uploadSvc := service.NewUploadService(cfg, store, fileRepo, hasher, logger)
	accessSvc := service.NewAccessService(fileRepo, store, cache, hasher, tickets, logger)
	reaper := service.NewReaperService(fileRepo, store, cache, cfg.ReaperInterval, logger)

	// 7. Фоновая очистка: первый проход сразу, далее по интервалу
	if err := reaper.Start(ctx); err != nil {
		logger.Error("Ошибка запуска reaper", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer reaper.Stop()

	// 8. topologymetrics — мониторинг зависимостей
	startDephealth(ctx, cfg, pgDB, logger)

	// 9. HTTP
	healthHandler := handlers.NewHealthHandler(database.NewReadinessChecker(pool), store)
	apiHandler := handlers.NewAPIHandler(uploadSvc, accessSvc, healthHandler, cfg.IsDevelopment(), logger)

	srv := server.New(cfg, logger, apiHandler,
		middleware.MetricsMiddleware(),
		middleware.RequestLogger(logger),
	)

	if err := srv.Run(ctx); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("File Drop остановлен")
}

// openContentStore создаёт хранилище по FD_STORAGE_BACKEND.
func openContentStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.ContentStore, error) {
	if cfg.StorageBackend == config.StorageS3 {
		store, err := s3store.New(ctx, s3store.Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			Prefix:    cfg.S3Prefix,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("Хранилище S3 подключено",
			slog.String("endpoint", cfg.S3Endpoint),
			slog.String("bucket", cfg.S3Bucket),
			slog.String("prefix", cfg.S3Prefix),
		)
		return store, nil
	}

	store, err := filestore.New(cfg.UploadDir)
	if err != nil {
		return nil, err
	}
	logger.Info("Локальное хранилище готово", slog.String("root", store.Root()))
	return store, nil
}

// startDephealth запускает мониторинг зависимостей.
// Ошибки не фатальны: сервис работает и без topologymetrics.
func startDephealth(ctx context.Context, cfg *config.Config, pgDB *sql.DB, logger *slog.Logger) {
	dhCfg := service.DephealthConfig{
		ServiceID:     "file-drop",
		Group:         cfg.DephealthGroup,
		DB:            pgDB,
		PgConnURL:     cfg.DatabaseURL(),
		CheckInterval: cfg.DephealthCheckInterval,
	}
	if cfg.StorageBackend == config.StorageS3 {
		if u, err := s3store.BaseURL(cfg.S3Endpoint); err == nil {
			dhCfg.S3URL = u
		}
	}

	dh, err := service.NewDephealthService(dhCfg, logger)
	if err != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", err.Error()),
		)
		return
	}
	if err := dh.Start(ctx); err != nil {
		logger.Warn("Ошибка запуска topologymetrics", slog.String("error", err.Error()))
		return
	}
	go func() {
		<-ctx.Done()
		dh.Stop()
	}()
	logger.Info("topologymetrics запущен",
		slog.String("group", cfg.DephealthGroup),
		slog.String("check_interval", cfg.DephealthCheckInterval.String()),
	)
}
