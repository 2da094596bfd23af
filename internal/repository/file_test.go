package repository

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bigkaa/goartstore/file-drop/internal/config"
	"github.com/bigkaa/goartstore/file-drop/internal/database"
	"github.com/bigkaa/goartstore/file-drop/internal/domain/model"
)

// setupTestRepo поднимает PostgreSQL, применяет миграции и возвращает репозиторий.
func setupTestRepo(t *testing.T) (FileRepository, *pgxpool.Pool) {
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

	host, _ := container.Host(ctx)
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Не удалось получить port контейнера: %v", err)
	}
	portNum, _ := strconv.Atoi(port.Port())
	cfg := &config.Config{
		DBHost: host, DBPort: portNum, DBName: "filedrop_test",
		DBUser: "filedrop", DBPassword: "test-password", DBSSLMode: "disable",
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if err := database.Migrate(cfg, logger); err != nil {
		t.Fatalf("Migrate() ошибка: %v", err)
	}
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Connect() ошибка: %v", err)
	}
	t.Cleanup(pool.Close)

	return NewFileRepository(pool), pool
}

func newRecord(expiresAt time.Time) *model.FileRecord {
	id := uuid.NewString()
	return &model.FileRecord{
		ID:               id,
		OriginalFilename: "report.pdf",
		StoragePath:      "/data/uploads/" + id,
		Size:             1024,
		ExpiresAt:        expiresAt.UTC().Truncate(time.Microsecond),
		CreatedAt:        time.Now().UTC().Truncate(time.Microsecond),
	}
}

// TestInsertAndGetByID проверяет сохранение и чтение одиночного файла.
func TestInsertAndGetByID(t *testing.T) {
	repo, _ := setupTestRepo(t)
	ctx := context.Background()

	hash := "$2a$10$abcdefghijklmnopqrstuv"
	rec := newRecord(time.Now().Add(time.Hour))
	rec.PasswordHash = &hash

	if err := repo.Insert(ctx, rec); err != nil {
		t.Fatalf("Insert() ошибка: %v", err)
	}

	got, err := repo.GetByID(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetByID() ошибка: %v", err)
	}
	if got.OriginalFilename != rec.OriginalFilename || got.Size != rec.Size || got.StoragePath != rec.StoragePath {
		t.Errorf("GetByID() = %+v", got)
	}
	if got.BatchID != nil {
		t.Errorf("BatchID = %v, ожидалось nil", *got.BatchID)
	}
	if got.PasswordHash == nil || *got.PasswordHash != hash {
		t.Error("PasswordHash не сохранён")
	}
	if !got.ExpiresAt.Equal(rec.ExpiresAt) {
		t.Errorf("ExpiresAt = %v, ожидалось %v", got.ExpiresAt, rec.ExpiresAt)
	}

	if _, err := repo.GetByID(ctx, uuid.NewString()); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByID(несуществующий) = %v, ожидалось ErrNotFound", err)
	}
}

// TestInsertBatch проверяет атомарное сохранение пакета и порядок файлов.
func TestInsertBatch(t *testing.T) {
	repo, _ := setupTestRepo(t)
	ctx := context.Background()

	expires := time.Now().Add(time.Hour).UTC().Truncate(time.Microsecond)
	batchID := uuid.NewString()
	batch := &model.Batch{ID: batchID, ExpiresAt: expires, CreatedAt: time.Now().UTC()}
	for i, name := range []string{"c.txt", "a.txt", "b.txt"} {
		rec := newRecord(expires)
		rec.BatchID = &batchID
		rec.BatchIndex = i
		rec.OriginalFilename = name
		batch.Files = append(batch.Files, rec)
	}

	if err := repo.InsertBatch(ctx, batch); err != nil {
		t.Fatalf("InsertBatch() ошибка: %v", err)
	}

	got, err := repo.GetBatch(ctx, batchID)
	if err != nil {
		t.Fatalf("GetBatch() ошибка: %v", err)
	}
	if len(got.Files) != 3 {
		t.Fatalf("файлов в пакете: %d, ожидалось 3", len(got.Files))
	}
	for i, want := range []string{"c.txt", "a.txt", "b.txt"} {
		if got.Files[i].OriginalFilename != want {
			t.Errorf("Files[%d] = %q, ожидалось %q", i, got.Files[i].OriginalFilename, want)
		}
	}
	if !got.ExpiresAt.Equal(expires) {
		t.Errorf("ExpiresAt пакета = %v", got.ExpiresAt)
	}

	if _, err := repo.GetBatch(ctx, uuid.NewString()); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetBatch(несуществующий) = %v", err)
	}
	files, err := repo.GetByBatchID(ctx, uuid.NewString())
	if err != nil || len(files) != 0 {
		t.Errorf("GetByBatchID(несуществующий) = %v, %v", files, err)
	}
}

// TestInsertBatch_Rollback проверяет, что при ошибке пакет не виден частично.
func TestInsertBatch_Rollback(t *testing.T) {
	repo, _ := setupTestRepo(t)
	ctx := context.Background()

	expires := time.Now().Add(time.Hour)
	batchID := uuid.NewString()
	first := newRecord(expires)
	first.BatchID = &batchID
	dup := *first // повтор первичного ключа
	dup.BatchIndex = 1
	batch := &model.Batch{ID: batchID, ExpiresAt: expires, CreatedAt: time.Now(), Files: []*model.FileRecord{first, &dup}}

	if err := repo.InsertBatch(ctx, batch); err == nil {
		t.Fatal("InsertBatch() с дублем должен вернуть ошибку")
	}
	if _, err := repo.GetBatch(ctx, batchID); !errors.Is(err, ErrNotFound) {
		t.Errorf("пакет виден после отката: %v", err)
	}
	if _, err := repo.GetByID(ctx, first.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("файл виден после отката: %v", err)
	}
}

// TestExpiredAndDelete проверяет выборку просроченных и удаление.
func TestExpiredAndDelete(t *testing.T) {
	repo, _ := setupTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	expired := newRecord(now.Add(-time.Minute))
	boundary := newRecord(now)
	live := newRecord(now.Add(time.Hour))
	for _, rec := range []*model.FileRecord{expired, boundary, live} {
		if err := repo.Insert(ctx, rec); err != nil {
			t.Fatalf("Insert() ошибка: %v", err)
		}
	}

	got, err := repo.GetExpiredBefore(ctx, now)
	if err != nil {
		t.Fatalf("GetExpiredBefore() ошибка: %v", err)
	}
	ids := map[string]bool{}
	for _, f := range got {
		ids[f.ID] = true
	}
	if !ids[expired.ID] || !ids[boundary.ID] || ids[live.ID] {
		t.Errorf("GetExpiredBefore() вернул %v", ids)
	}

	if err := repo.DeleteByID(ctx, expired.ID); err != nil {
		t.Fatalf("DeleteByID() ошибка: %v", err)
	}
	if err := repo.DeleteByID(ctx, expired.ID); err != nil {
		t.Errorf("повторный DeleteByID() = %v", err)
	}
	if _, err := repo.GetByID(ctx, expired.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("запись не удалена: %v", err)
	}
}

// TestDeleteExpiredBatches проверяет удаление пустых просроченных пакетов.
func TestDeleteExpiredBatches(t *testing.T) {
	repo, _ := setupTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	emptyID := uuid.NewString()
	fullID := uuid.NewString()
	rec := newRecord(now.Add(-time.Minute))
	rec.BatchID = &fullID

	if err := repo.InsertBatch(ctx, &model.Batch{ID: emptyID, ExpiresAt: now.Add(-time.Minute), CreatedAt: now}); err != nil {
		t.Fatal(err)
	}
	if err := repo.InsertBatch(ctx, &model.Batch{
		ID: fullID, ExpiresAt: now.Add(-time.Minute), CreatedAt: now, Files: []*model.FileRecord{rec},
	}); err != nil {
		t.Fatal(err)
	}

	n, err := repo.DeleteExpiredBatches(ctx, now)
	if err != nil {
		t.Fatalf("DeleteExpiredBatches() ошибка: %v", err)
	}
	if n != 1 {
		t.Errorf("удалено пакетов: %d, ожидалось 1", n)
	}
	if _, err := repo.GetBatch(ctx, fullID); err != nil {
		t.Errorf("пакет с файлами не должен удаляться: %v", err)
	}
}
