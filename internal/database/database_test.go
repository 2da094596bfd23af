package database

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bigkaa/goartstore/file-drop/internal/config"
)

// setupTestDB запускает PostgreSQL в Docker-контейнере через testcontainers.
func setupTestDB(t *testing.T) *config.Config {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("filedrop_test"),
		postgres.WithUsername("filedrop"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Не удалось запустить PostgreSQL контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Не удалось получить host контейнера: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Не удалось получить port контейнера: %v", err)
	}
	portNum, _ := strconv.Atoi(port.Port())

	return &config.Config{
		DBHost:     host,
		DBPort:     portNum,
		DBName:     "filedrop_test",
		DBUser:     "filedrop",
		DBPassword: "test-password",
		DBSSLMode:  "disable",
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestConnect проверяет подключение к PostgreSQL через pgxpool.
func TestConnect(t *testing.T) {
	cfg := setupTestDB(t)
	ctx := context.Background()

	pool, err := Connect(ctx, cfg, testLogger())
	if err != nil {
		t.Fatalf("Connect() ошибка: %v", err)
	}
	defer pool.Close()

	var appName string
	if err := pool.QueryRow(ctx, `SELECT current_setting('application_name')`).Scan(&appName); err != nil {
		t.Fatalf("ошибка чтения application_name: %v", err)
	}
	if appName != applicationName {
		t.Errorf("application_name = %q, ожидалось %q", appName, applicationName)
	}

	// До миграций сервис не готов
	if status, _ := NewReadinessChecker(pool).CheckReady(ctx); status != "fail" {
		t.Errorf("CheckReady() до миграций = %q, ожидалось fail", status)
	}

	if err := Migrate(cfg, testLogger()); err != nil {
		t.Fatalf("Migrate() ошибка: %v", err)
	}
	status, msg := NewReadinessChecker(pool).CheckReady(ctx)
	if status != "ok" {
		t.Errorf("CheckReady() = %q (%s)", status, msg)
	}
}

// TestMigrationURL проверяет схему DSN для golang-migrate.
func TestMigrationURL(t *testing.T) {
	cfg := &config.Config{
		DBHost: "db", DBPort: 5432, DBName: "fd",
		DBUser: "user", DBPassword: "p@ss/word", DBSSLMode: "disable",
	}
	got := migrationURL(cfg)
	want := "pgx5://user:p%40ss%2Fword@db:5432/fd?sslmode=disable"
	if got != want {
		t.Errorf("migrationURL() = %q, ожидалось %q", got, want)
	}
}

// TestMigrate проверяет применение миграций и их идемпотентность.
func TestMigrate(t *testing.T) {
	cfg := setupTestDB(t)
	ctx := context.Background()
	logger := testLogger()

	if err := Migrate(cfg, logger); err != nil {
		t.Fatalf("Migrate() ошибка: %v", err)
	}
	if err := Migrate(cfg, logger); err != nil {
		t.Fatalf("повторный Migrate() ошибка: %v", err)
	}

	pool, err := Connect(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Connect() ошибка: %v", err)
	}
	defer pool.Close()

	for _, table := range []string{"files", "batches"} {
		var exists bool
		err := pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)`, table,
		).Scan(&exists)
		if err != nil {
			t.Fatalf("ошибка проверки таблицы %s: %v", table, err)
		}
		if !exists {
			t.Errorf("таблица %s не создана", table)
		}
	}
}

// TestCheckReady_ClosedPool проверяет статус fail при закрытом пуле.
func TestCheckReady_ClosedPool(t *testing.T) {
	cfg := setupTestDB(t)
	ctx := context.Background()

	pool, err := Connect(ctx, cfg, testLogger())
	if err != nil {
		t.Fatalf("Connect() ошибка: %v", err)
	}
	pool.Close()

	if status, _ := NewReadinessChecker(pool).CheckReady(ctx); status != "fail" {
		t.Errorf("CheckReady() = %q, ожидалось fail", status)
	}
}
