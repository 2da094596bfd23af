// reaper.go — фоновая очистка файлов с истёкшим сроком хранения.
//
// Каждый проход:
//  1. Находит записи с expires_at <= now
//  2. Удаляет содержимое из хранилища (отсутствие содержимого — не ошибка)
//  3. Удаляет запись метаданных и сбрасывает её из кэша
//  4. Удаляет опустевшие просроченные пакеты
//
// Ошибка на одной записи не прерывает проход. Запускается сразу при
// старте и далее с интервалом FD_REAPER_INTERVAL через gocron.
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/file-drop/internal/domain/model"
	"github.com/bigkaa/goartstore/file-drop/internal/repository"
	"github.com/bigkaa/goartstore/file-drop/internal/storage"
)

// Prometheus метрики reaper
var (
	reaperRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fd_reaper_runs_total",
		Help: "Общее количество проходов очистки",
	})

	reaperReclaimedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fd_reaper_reclaimed_total",
		Help: "Общее количество удалённых просроченных файлов",
	})

	reaperErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fd_reaper_errors_total",
		Help: "Общее количество ошибок при удалении просроченных файлов",
	})

	reaperDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fd_reaper_duration_seconds",
		Help:    "Длительность прохода очистки в секундах",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	})
)

// ReapResult — результат одного прохода очистки.
type ReapResult struct {
	// Reclaimed — количество полностью удалённых записей
	Reclaimed int
	// Batches — количество удалённых опустевших пакетов
	Batches int64
	// Errors — количество записей, которые не удалось удалить
	Errors int
	// Duration — длительность прохода
	Duration time.Duration
}

// ReaperService — сервис очистки просроченных файлов.
type ReaperService struct {
	repo     repository.FileRepository
	store    storage.ContentStore
	cache    *CacheService
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger

	mu sync.Mutex // проходы не пересекаются

	// scheduler — дескриптор фоновой задачи; nil пока reaper не запущен
	schedMu   sync.Mutex
	scheduler *gocron.Scheduler
}

// NewReaperService создаёт сервис очистки. cache может быть nil.
func NewReaperService(
	repo repository.FileRepository,
	store storage.ContentStore,
	cache *CacheService,
	interval time.Duration,
	logger *slog.Logger,
) *ReaperService {
	return &ReaperService{
		repo:     repo,
		store:    store,
		cache:    cache,
		interval: interval,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "reaper")),
	}
}

// Start запускает периодическую очистку. Первый проход выполняется сразу.
// Повторный вызов при запущенном reaper ничего не делает.
func (r *ReaperService) Start(ctx context.Context) error {
	r.schedMu.Lock()
	defer r.schedMu.Unlock()

	if r.scheduler != nil {
		return nil
	}

	s := gocron.NewScheduler(time.UTC)
	// Следующий проход не стартует, пока не завершён предыдущий
	s.SingletonModeAll()

	_, err := s.Every(r.interval).StartImmediately().Do(func() {
		r.RunOnce(ctx)
	})
	if err != nil {
		return err
	}

	s.StartAsync()
	r.scheduler = s

	r.logger.Info("Reaper запущен",
		slog.String("interval", r.interval.String()),
	)
	return nil
}

// Stop останавливает периодическую очистку. Безопасен при повторном вызове.
func (r *ReaperService) Stop() {
	r.schedMu.Lock()
	defer r.schedMu.Unlock()

	if r.scheduler == nil {
		return
	}
	r.scheduler.Stop()
	r.scheduler = nil
	r.logger.Info("Reaper остановлен")
}

// Running — запущена ли периодическая очистка.
func (r *ReaperService) Running() bool {
	r.schedMu.Lock()
	defer r.schedMu.Unlock()
	return r.scheduler != nil
}

// RunOnce выполняет один проход очистки.
func (r *ReaperService) RunOnce(ctx context.Context) *ReapResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()
	result := &ReapResult{}
	now := r.now().UTC()

	defer func() {
		result.Duration = time.Since(start)
		reaperRunsTotal.Inc()
		reaperReclaimedTotal.Add(float64(result.Reclaimed))
		reaperErrorsTotal.Add(float64(result.Errors))
		reaperDurationSeconds.Observe(result.Duration.Seconds())
	}()

	expired, err := r.repo.GetExpiredBefore(ctx, now)
	if err != nil {
		r.logger.Error("Reaper: ошибка получения просроченных файлов",
			slog.String("error", err.Error()),
		)
		result.Errors++
		return result
	}

	for _, rec := range expired {
		if ctx.Err() != nil {
			break
		}
		if r.reclaim(ctx, rec) {
			result.Reclaimed++
		} else {
			result.Errors++
		}
	}

	batches, err := r.repo.DeleteExpiredBatches(ctx, now)
	if err != nil {
		r.logger.Error("Reaper: ошибка удаления пакетов",
			slog.String("error", err.Error()),
		)
	}
	result.Batches = batches

	if len(expired) > 0 || batches > 0 {
		r.logger.Info("Reaper: проход завершён",
			slog.Int("reclaimed", result.Reclaimed),
			slog.Int64("batches", result.Batches),
			slog.Int("errors", result.Errors),
			slog.Duration("duration", time.Since(start)),
		)
	} else {
		r.logger.Debug("Reaper: просроченных файлов нет")
	}
	return result
}

// reclaim удаляет содержимое и запись одного файла.
func (r *ReaperService) reclaim(ctx context.Context, rec *model.FileRecord) bool {
	if err := r.store.Delete(ctx, rec.StoragePath); err != nil {
		r.logger.Error("Reaper: ошибка удаления содержимого",
			slog.String("file_id", rec.ID),
			slog.String("storage_path", rec.StoragePath),
			slog.String("error", err.Error()),
		)
		return false
	}

	if err := r.repo.DeleteByID(ctx, rec.ID); err != nil {
		r.logger.Error("Reaper: ошибка удаления записи",
			slog.String("file_id", rec.ID),
			slog.String("error", err.Error()),
		)
		return false
	}

	if r.cache != nil {
		ids := []string{rec.ID}
		if rec.BatchID != nil {
			ids = append(ids, *rec.BatchID)
		}
		r.cache.Delete(ids...)
	}

	r.logger.Debug("Reaper: файл удалён",
		slog.String("file_id", rec.ID),
		slog.String("filename", rec.OriginalFilename),
	)
	return true
}
