// Пакет database — подключение к PostgreSQL через pgxpool,
// применение миграций (golang-migrate) и проверка готовности.
package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigkaa/goartstore/file-drop/internal/config"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// applicationName — имя приложения в pg_stat_activity.
const applicationName = "file-drop"

// requiredTables — таблицы, без которых сервис не готов принимать запросы.
var requiredTables = []string{"files", "batches"}

// Connect создаёт пул подключений к PostgreSQL и проверяет его ping-ом.
func Connect(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга DSN: %w", err)
	}
	poolCfg.ConnConfig.RuntimeParams["application_name"] = applicationName

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания пула подключений: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ошибка подключения к PostgreSQL: %w", err)
	}

	logger.Info("Подключение к PostgreSQL установлено",
		slog.String("url", cfg.DatabaseURL()),
		slog.Int("max_conns", int(poolCfg.MaxConns)),
	)

	return pool, nil
}

// Migrate применяет встроенные SQL-миграции.
// Миграции только добавляют таблицы, столбцы и индексы: уже загруженные
// файлы остаются доступными после обновления.
func Migrate(cfg *config.Config, logger *slog.Logger) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("ошибка создания источника миграций: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, migrationURL(cfg))
	if err != nil {
		return fmt.Errorf("ошибка инициализации миграций: %w", err)
	}
	defer m.Close()

	before, _, _ := m.Version()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("ошибка применения миграций: %w", err)
	}

	version, dirty, _ := m.Version()
	logger.Info("Миграции применены",
		slog.Uint64("from_version", uint64(before)),
		slog.Uint64("version", uint64(version)),
		slog.Bool("dirty", dirty),
	)

	return nil
}

// migrationURL — DSN для драйвера golang-migrate (схема pgx5://).
func migrationURL(cfg *config.Config) string {
	return "pgx5" + strings.TrimPrefix(cfg.DatabaseDSN(), "postgres")
}

// ReadinessChecker — проверка готовности PostgreSQL для health endpoint.
type ReadinessChecker struct {
	pool *pgxpool.Pool
}

// NewReadinessChecker создаёт проверку готовности PostgreSQL.
func NewReadinessChecker(pool *pgxpool.Pool) *ReadinessChecker {
	return &ReadinessChecker{pool: pool}
}

// CheckReady проверяет подключение и наличие таблиц метаданных.
// Возвращает статус ("ok", "fail") и сообщение.
func (c *ReadinessChecker) CheckReady(ctx context.Context) (status string, message string) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	for _, table := range requiredTables {
		var exists bool
		if err := c.pool.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, table).Scan(&exists); err != nil {
			return "fail", fmt.Sprintf("PostgreSQL недоступен: %v", err)
		}
		if !exists {
			return "fail", fmt.Sprintf("таблица %s отсутствует, миграции не применены", table)
		}
	}
	return "ok", "подключение активно"
}
