// Пакет storage — контракт хранилища содержимого загруженных файлов.
// Реализации: filestore (локальная ФС) и s3store (S3/MinIO).
package storage

import (
	"context"
	"errors"
	"io"
)

// Ошибки хранилища.
var (
	// ErrNotFound — содержимое по пути отсутствует.
	ErrNotFound = errors.New("содержимое не найдено")
	// ErrOutsideRoot — путь выходит за пределы корня хранилища.
	ErrOutsideRoot = errors.New("путь вне корня хранилища")
)

// Writer — потоковая запись содержимого одного файла.
// Write блокируется, пока хранилище не примет данные.
// После Commit содержимое видно читателям; Abort удаляет записанное.
// Повторные Commit/Abort после завершения безопасны.
type Writer interface {
	io.Writer
	Commit() error
	Abort() error
}

// ContentStore — хранилище байтов файлов.
type ContentStore interface {
	// PathFor детерминированно выводит путь хранения из ID файла.
	// Возвращает ErrOutsideRoot, если путь покидает корень.
	PathFor(id string) (string, error)
	// OpenWriter открывает запись по пути.
	OpenWriter(ctx context.Context, path string) (Writer, error)
	// OpenReader открывает чтение и возвращает размер содержимого.
	// Возвращает ErrNotFound, если содержимого нет.
	OpenReader(ctx context.Context, path string) (io.ReadCloser, int64, error)
	// Exists проверяет наличие содержимого.
	Exists(ctx context.Context, path string) (bool, error)
	// Delete удаляет содержимое. Отсутствующее содержимое — не ошибка.
	Delete(ctx context.Context, path string) error
	// Check проверяет доступность хранилища (readiness).
	Check(ctx context.Context) error
}
