package filestore

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/bigkaa/goartstore/file-drop/internal/storage"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	fs, err := New(filepath.Join(t.TempDir(), "uploads"))
	if err != nil {
		t.Fatalf("New() ошибка: %v", err)
	}
	return fs
}

// TestNew_CreatesDir проверяет создание директории загрузок.
func TestNew_CreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	fs, err := New(dir)
	if err != nil {
		t.Fatalf("New() ошибка: %v", err)
	}
	info, err := os.Stat(fs.Root())
	if err != nil || !info.IsDir() {
		t.Fatalf("директория не создана: %v", err)
	}
	if err := fs.Check(context.Background()); err != nil {
		t.Errorf("Check() = %v", err)
	}
}

// TestPathFor проверяет вывод пути и защиту от выхода за корень.
func TestPathFor(t *testing.T) {
	fs := newTestStore(t)

	path, err := fs.PathFor("3f2b4c1e-0000-4000-8000-000000000001")
	if err != nil {
		t.Fatalf("PathFor() ошибка: %v", err)
	}
	if filepath.Dir(path) != fs.Root() {
		t.Errorf("путь %q не в корне %q", path, fs.Root())
	}

	for _, id := range []string{"../escape", "..", "", "a/../../b"} {
		if _, err := fs.PathFor(id); !errors.Is(err, storage.ErrOutsideRoot) {
			t.Errorf("PathFor(%q) = %v, ожидалось ErrOutsideRoot", id, err)
		}
	}
}

// TestWriter_Commit проверяет запись и фиксацию.
func TestWriter_Commit(t *testing.T) {
	fs := newTestStore(t)
	ctx := context.Background()
	path, _ := fs.PathFor("file-1")

	w, err := fs.OpenWriter(ctx, path)
	if err != nil {
		t.Fatalf("OpenWriter() ошибка: %v", err)
	}
	if _, err := w.Write([]byte("hello ")); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte("world")); err != nil {
		t.Fatal(err)
	}

	if ok, _ := fs.Exists(ctx, path); ok {
		t.Error("незафиксированный файл не должен быть виден")
	}
	if err := w.Commit(); err != nil {
		t.Fatalf("Commit() ошибка: %v", err)
	}
	if err := w.Commit(); err != nil {
		t.Errorf("повторный Commit() = %v", err)
	}

	rc, size, err := fs.OpenReader(ctx, path)
	if err != nil {
		t.Fatalf("OpenReader() ошибка: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "hello world" || size != 11 {
		t.Errorf("содержимое %q (size=%d)", data, size)
	}
	if _, err := os.Stat(path + partSuffix); !os.IsNotExist(err) {
		t.Error("временный файл должен быть удалён после Commit")
	}
}

// TestWriter_Abort проверяет удаление частично записанного файла.
func TestWriter_Abort(t *testing.T) {
	fs := newTestStore(t)
	ctx := context.Background()
	path, _ := fs.PathFor("file-2")

	w, err := fs.OpenWriter(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = w.Write([]byte("partial"))

	if err := w.Abort(); err != nil {
		t.Fatalf("Abort() ошибка: %v", err)
	}
	if err := w.Abort(); err != nil {
		t.Errorf("повторный Abort() = %v", err)
	}
	if _, err := w.Write([]byte("x")); err == nil {
		t.Error("Write после Abort должен вернуть ошибку")
	}

	entries, _ := os.ReadDir(fs.Root())
	if len(entries) != 0 {
		t.Errorf("после Abort остались файлы: %d", len(entries))
	}
}

// TestOpenReader_NotFound проверяет ErrNotFound для отсутствующего файла.
func TestOpenReader_NotFound(t *testing.T) {
	fs := newTestStore(t)
	path, _ := fs.PathFor("missing")

	if _, _, err := fs.OpenReader(context.Background(), path); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("OpenReader() = %v, ожидалось ErrNotFound", err)
	}
}

// TestOpenReader_OutsideRoot проверяет отказ для путей вне корня.
func TestOpenReader_OutsideRoot(t *testing.T) {
	fs := newTestStore(t)
	outside := filepath.Join(filepath.Dir(fs.Root()), "secret.txt")
	if err := os.WriteFile(outside, []byte("secret"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, _, err := fs.OpenReader(context.Background(), outside); !errors.Is(err, storage.ErrOutsideRoot) {
		t.Errorf("OpenReader(вне корня) = %v", err)
	}
	if err := fs.Delete(context.Background(), outside); !errors.Is(err, storage.ErrOutsideRoot) {
		t.Errorf("Delete(вне корня) = %v", err)
	}
	if _, err := os.Stat(outside); err != nil {
		t.Error("файл вне корня не должен удаляться")
	}
}

// TestDelete_Idempotent проверяет повторное удаление.
func TestDelete_Idempotent(t *testing.T) {
	fs := newTestStore(t)
	ctx := context.Background()
	path, _ := fs.PathFor("file-3")

	w, _ := fs.OpenWriter(ctx, path)
	_, _ = w.Write([]byte("data"))
	if err := w.Commit(); err != nil {
		t.Fatal(err)
	}

	if err := fs.Delete(ctx, path); err != nil {
		t.Fatalf("Delete() ошибка: %v", err)
	}
	if err := fs.Delete(ctx, path); err != nil {
		t.Errorf("повторный Delete() = %v", err)
	}
	if ok, _ := fs.Exists(ctx, path); ok {
		t.Error("файл должен быть удалён")
	}
}
