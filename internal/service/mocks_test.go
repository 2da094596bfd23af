package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/file-drop/internal/domain/model"
	"github.com/bigkaa/goartstore/file-drop/internal/repository"
	"github.com/bigkaa/goartstore/file-drop/internal/storage"
	"github.com/bigkaa/goartstore/file-drop/internal/storage/filestore"
)

// testLogger — логгер, пропускающий только ошибки.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newTestStore создаёт FileStore во временном каталоге.
func newTestStore(t *testing.T) *filestore.FileStore {
	t.Helper()
	store, err := filestore.New(t.TempDir())
	if err != nil {
		t.Fatalf("Ошибка создания FileStore: %v", err)
	}
	return store
}

// putContent записывает содержимое в хранилище и возвращает путь.
func putContent(t *testing.T, store storage.ContentStore, id string, data []byte) string {
	t.Helper()
	ctx := context.Background()

	path, err := store.PathFor(id)
	if err != nil {
		t.Fatalf("PathFor: %v", err)
	}
	w, err := store.OpenWriter(ctx, path)
	if err != nil {
		t.Fatalf("OpenWriter: %v", err)
	}
	if _, err := w.Write(data); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	return path
}

// --- memRepo: FileRepository в памяти ---

type memRepo struct {
	mu      sync.Mutex
	files   map[string]*model.FileRecord
	batches map[string]*model.Batch

	// Внедряемые ошибки
	insertErr    error
	getErr       error
	expiredErr   error
	deleteErrFor map[string]error
}

func newMemRepo() *memRepo {
	return &memRepo{
		files:        make(map[string]*model.FileRecord),
		batches:      make(map[string]*model.Batch),
		deleteErrFor: make(map[string]error),
	}
}

func (m *memRepo) Insert(_ context.Context, rec *model.FileRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	m.files[rec.ID] = rec
	return nil
}

func (m *memRepo) InsertBatch(_ context.Context, batch *model.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	m.batches[batch.ID] = &model.Batch{
		ID:           batch.ID,
		ExpiresAt:    batch.ExpiresAt,
		PasswordHash: batch.PasswordHash,
		CreatedAt:    batch.CreatedAt,
	}
	for _, rec := range batch.Files {
		m.files[rec.ID] = rec
	}
	return nil
}

func (m *memRepo) GetByID(_ context.Context, id string) (*model.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	rec, ok := m.files[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return rec, nil
}

func (m *memRepo) GetByBatchID(_ context.Context, batchID string) ([]*model.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.batchFiles(batchID), nil
}

func (m *memRepo) GetBatch(_ context.Context, batchID string) (*model.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	b, ok := m.batches[batchID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	result := *b
	result.Files = m.batchFiles(batchID)
	return &result, nil
}

func (m *memRepo) batchFiles(batchID string) []*model.FileRecord {
	result := make([]*model.FileRecord, 0)
	for _, rec := range m.files {
		if rec.BatchID != nil && *rec.BatchID == batchID {
			result = append(result, rec)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].BatchIndex < result[j].BatchIndex })
	return result
}

func (m *memRepo) GetExpiredBefore(_ context.Context, ts time.Time) ([]*model.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.expiredErr != nil {
		return nil, m.expiredErr
	}
	result := make([]*model.FileRecord, 0)
	for _, rec := range m.files {
		if !rec.ExpiresAt.After(ts) {
			result = append(result, rec)
		}
	}
	return result, nil
}

func (m *memRepo) DeleteByID(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.deleteErrFor[id]; err != nil {
		return err
	}
	delete(m.files, id)
	return nil
}

func (m *memRepo) DeleteExpiredBatches(_ context.Context, ts time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, b := range m.batches {
		if b.ExpiresAt.After(ts) || len(m.batchFiles(id)) > 0 {
			continue
		}
		delete(m.batches, id)
		n++
	}
	return n, nil
}

// count возвращает количество записей файлов.
func (m *memRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.files)
}

// --- faultyStore: ContentStore с внедряемыми ошибками ---

var errInjected = errors.New("внедрённая ошибка")

type faultyStore struct {
	storage.ContentStore

	mu sync.Mutex
	// failWriteAfter — ошибка записи после указанного числа байт (0 — не ошибаться)
	failWriteAfter int64
	failCommit     bool
	failExists     bool
	failDeleteFor  map[string]bool
	opened         []string
}

func newFaultyStore(inner storage.ContentStore) *faultyStore {
	return &faultyStore{ContentStore: inner, failDeleteFor: make(map[string]bool)}
}

func (s *faultyStore) OpenWriter(ctx context.Context, path string) (storage.Writer, error) {
	w, err := s.ContentStore.OpenWriter(ctx, path)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.opened = append(s.opened, path)
	s.mu.Unlock()
	return &faultyWriter{Writer: w, store: s}, nil
}

func (s *faultyStore) Exists(ctx context.Context, path string) (bool, error) {
	if s.failExists {
		return false, errInjected
	}
	return s.ContentStore.Exists(ctx, path)
}

func (s *faultyStore) Delete(ctx context.Context, path string) error {
	s.mu.Lock()
	fail := s.failDeleteFor[path]
	s.mu.Unlock()
	if fail {
		return errInjected
	}
	return s.ContentStore.Delete(ctx, path)
}

// openedPaths возвращает пути всех открытых на запись файлов.
func (s *faultyStore) openedPaths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.opened...)
}

type faultyWriter struct {
	storage.Writer
	store   *faultyStore
	written int64
}

func (w *faultyWriter) Write(p []byte) (int, error) {
	limit := w.store.failWriteAfter
	if limit > 0 && w.written+int64(len(p)) > limit {
		return 0, errInjected
	}
	n, err := w.Writer.Write(p)
	w.written += int64(n)
	return n, err
}

func (w *faultyWriter) Commit() error {
	if w.store.failCommit {
		_ = w.Writer.Abort()
		return errInjected
	}
	return w.Writer.Commit()
}

// readAll читает и закрывает поток.
func readAll(t *testing.T, rc io.ReadCloser) []byte {
	t.Helper()
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("Ошибка чтения потока: %v", err)
	}
	return data
}
