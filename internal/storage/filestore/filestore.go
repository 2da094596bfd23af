// Пакет filestore — хранение содержимого файлов на локальном диске.
// Путь файла = {uploadDir}/{id}; запись идёт во временный файл,
// который после fsync атомарно переименовывается.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bigkaa/goartstore/file-drop/internal/storage"
)

// partSuffix — суффикс временного файла незавершённой записи.
const partSuffix = ".part"

// FileStore — хранилище содержимого в директории загрузок.
type FileStore struct {
	// root — абсолютный канонический путь директории загрузок
	root string
}

var _ storage.ContentStore = (*FileStore)(nil)

// New создаёт FileStore. Создаёт директорию загрузок, если её нет.
func New(uploadDir string) (*FileStore, error) {
	root, err := filepath.Abs(uploadDir)
	if err != nil {
		return nil, fmt.Errorf("некорректная директория загрузок %s: %w", uploadDir, err)
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию загрузок %s: %w", root, err)
	}
	return &FileStore{root: filepath.Clean(root)}, nil
}

// Root возвращает абсолютный путь директории загрузок.
func (fs *FileStore) Root() string {
	return fs.root
}

// PathFor возвращает абсолютный путь хранения для id.
func (fs *FileStore) PathFor(id string) (string, error) {
	return fs.resolve(filepath.Join(fs.root, id))
}

// resolve канонизирует путь и проверяет, что он строго внутри root.
func (fs *FileStore) resolve(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("некорректный путь %s: %w", path, err)
	}
	abs = filepath.Clean(abs)
	if !strings.HasPrefix(abs, fs.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", storage.ErrOutsideRoot, path)
	}
	return abs, nil
}

// OpenWriter создаёт временный файл для потоковой записи.
func (fs *FileStore) OpenWriter(_ context.Context, path string) (storage.Writer, error) {
	full, err := fs.resolve(path)
	if err != nil {
		return nil, err
	}

	tmpPath := full + partSuffix
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания временного файла: %w", err)
	}
	return &fileWriter{f: f, tmpPath: tmpPath, fullPath: full}, nil
}

// OpenReader открывает файл для чтения. Вызывающий код обязан закрыть ReadCloser.
func (fs *FileStore) OpenReader(_ context.Context, path string) (io.ReadCloser, int64, error) {
	full, err := fs.resolve(path)
	if err != nil {
		return nil, 0, err
	}

	f, err := os.Open(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, storage.ErrNotFound
		}
		return nil, 0, fmt.Errorf("ошибка открытия файла %s: %w", full, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("ошибка получения информации о файле %s: %w", full, err)
	}
	return f, info.Size(), nil
}

// Exists проверяет существование файла на диске.
func (fs *FileStore) Exists(_ context.Context, path string) (bool, error) {
	full, err := fs.resolve(path)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("ошибка проверки файла %s: %w", full, err)
	}
	return info.Mode().IsRegular(), nil
}

// Delete удаляет файл и его незавершённую копию.
// Возвращает nil если файл уже не существует.
func (fs *FileStore) Delete(_ context.Context, path string) error {
	full, err := fs.resolve(path)
	if err != nil {
		return err
	}
	for _, p := range []string{full, full + partSuffix} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("ошибка удаления файла %s: %w", p, err)
		}
	}
	return nil
}

// Check проверяет, что директория загрузок существует и доступна.
func (fs *FileStore) Check(_ context.Context) error {
	info, err := os.Stat(fs.root)
	if err != nil {
		return fmt.Errorf("директория загрузок недоступна: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s не является директорией", fs.root)
	}
	return nil
}

// fileWriter — запись во временный файл с атомарной фиксацией.
type fileWriter struct {
	mu       sync.Mutex
	f        *os.File
	tmpPath  string
	fullPath string
	done     bool
}

func (w *fileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return 0, os.ErrClosed
	}
	return w.f.Write(p)
}

// Commit: fsync → close → atomic rename.
func (w *fileWriter) Commit() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return nil
	}
	w.done = true

	if err := w.f.Sync(); err != nil {
		w.f.Close()
		os.Remove(w.tmpPath)
		return fmt.Errorf("ошибка fsync: %w", err)
	}
	if err := w.f.Close(); err != nil {
		os.Remove(w.tmpPath)
		return fmt.Errorf("ошибка закрытия файла: %w", err)
	}
	if err := os.Rename(w.tmpPath, w.fullPath); err != nil {
		os.Remove(w.tmpPath)
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}
	return nil
}

// Abort закрывает и удаляет временный файл.
func (w *fileWriter) Abort() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return nil
	}
	w.done = true

	w.f.Close()
	if err := os.Remove(w.tmpPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("ошибка удаления временного файла: %w", err)
	}
	return nil
}
