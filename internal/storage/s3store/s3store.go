// Пакет s3store — хранение содержимого файлов в S3-совместимом
// хранилище (MinIO, AWS S3) через minio-go.
// Путь файла = {prefix}/{id} внутри бакета.
package s3store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/bigkaa/goartstore/file-drop/internal/storage"
)

// partSize — размер части multipart-загрузки при неизвестной длине потока.
// Ограничивает буфер minio-go на одну запись.
const partSize = 16 << 20

// errAborted — причина закрытия pipe при отмене записи.
var errAborted = errors.New("запись отменена")

// Config — параметры подключения к S3.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
}

// Store — хранилище содержимого в бакете S3.
type Store struct {
	client *minio.Client
	bucket string
	prefix string
}

var _ storage.ContentStore = (*Store)(nil)

// New подключается к S3 и проверяет существование бакета.
func New(ctx context.Context, cfg Config) (*Store, error) {
	endpoint, secure, err := normaliseEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("некорректный S3 endpoint: %w", err)
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка создания S3 клиента: %w", err)
	}

	s := &Store{client: client, bucket: cfg.Bucket, prefix: strings.Trim(cfg.Prefix, "/")}
	if err := s.Check(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// normaliseEndpoint принимает "host:port" или URL со схемой
// и возвращает host:port и признак TLS.
func normaliseEndpoint(raw string) (endpoint string, secure bool, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, errors.New("пустой endpoint")
	}

	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return "", false, err
		}
		if u.Host == "" {
			return "", false, errors.New("в endpoint нет хоста")
		}
		if u.Path != "" && u.Path != "/" {
			return "", false, errors.New("endpoint не должен содержать путь")
		}
		return u.Host, u.Scheme == "https", nil
	}
	return raw, false, nil
}

// BaseURL возвращает endpoint в виде URL со схемой (для мониторинга зависимостей).
func BaseURL(rawEndpoint string) (string, error) {
	endpoint, secure, err := normaliseEndpoint(rawEndpoint)
	if err != nil {
		return "", err
	}
	if secure {
		return "https://" + endpoint, nil
	}
	return "http://" + endpoint, nil
}

// PathFor возвращает ключ объекта для id.
func (s *Store) PathFor(id string) (string, error) {
	return s.resolve(path.Join(s.prefix, id))
}

// resolve проверяет, что ключ лежит строго внутри префикса.
func (s *Store) resolve(key string) (string, error) {
	clean := path.Clean("/" + key)[1:]
	if clean != key || clean == "" {
		return "", fmt.Errorf("%w: %s", storage.ErrOutsideRoot, key)
	}
	if s.prefix != "" && !strings.HasPrefix(clean, s.prefix+"/") {
		return "", fmt.Errorf("%w: %s", storage.ErrOutsideRoot, key)
	}
	return clean, nil
}

// OpenWriter начинает потоковую загрузку объекта через io.Pipe.
// Write блокируется, пока minio-go не заберёт данные.
func (s *Store) OpenWriter(ctx context.Context, key string) (storage.Writer, error) {
	key, err := s.resolve(key)
	if err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	w := &objectWriter{store: s, key: key, pw: pw, done: make(chan error, 1)}

	// Загрузка не привязана к контексту запроса: отмену выполняет Abort
	uploadCtx := context.WithoutCancel(ctx)
	go func() {
		_, err := s.client.PutObject(uploadCtx, s.bucket, key, pr, -1, minio.PutObjectOptions{
			ContentType: "application/octet-stream",
			PartSize:    partSize,
		})
		pr.CloseWithError(err)
		w.done <- err
	}()
	return w, nil
}

// OpenReader открывает объект для чтения.
func (s *Store) OpenReader(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	key, err := s.resolve(key)
	if err != nil {
		return nil, 0, err
	}

	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, 0, fmt.Errorf("ошибка получения объекта %s: %w", key, err)
	}
	info, err := obj.Stat()
	if err != nil {
		obj.Close()
		if isNotFound(err) {
			return nil, 0, storage.ErrNotFound
		}
		return nil, 0, fmt.Errorf("ошибка получения информации об объекте %s: %w", key, err)
	}
	return obj, info.Size, nil
}

// Exists проверяет наличие объекта.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	key, err := s.resolve(key)
	if err != nil {
		return false, err
	}
	if _, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{}); err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("ошибка проверки объекта %s: %w", key, err)
	}
	return true, nil
}

// Delete удаляет объект. S3 не возвращает ошибку для отсутствующего ключа.
func (s *Store) Delete(ctx context.Context, key string) error {
	key, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil && !isNotFound(err) {
		return fmt.Errorf("ошибка удаления объекта %s: %w", key, err)
	}
	return nil
}

// Check проверяет доступность бакета.
func (s *Store) Check(ctx context.Context) error {
	ok, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("S3 недоступен: %w", err)
	}
	if !ok {
		return fmt.Errorf("бакет %s не существует", s.bucket)
	}
	return nil
}

func isNotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NoSuchObject"
}

// objectWriter — запись объекта через pipe в фоновый PutObject.
type objectWriter struct {
	store    *Store
	key      string
	pw       *io.PipeWriter
	done     chan error
	mu       sync.Mutex
	finished bool
}

func (w *objectWriter) Write(p []byte) (int, error) {
	return w.pw.Write(p)
}

// Commit закрывает поток и ждёт завершения загрузки.
func (w *objectWriter) Commit() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.finished {
		return nil
	}
	w.finished = true

	w.pw.Close()
	if err := <-w.done; err != nil {
		return fmt.Errorf("ошибка загрузки объекта %s: %w", w.key, err)
	}
	return nil
}

// Abort прерывает загрузку и удаляет объект, если он успел появиться.
func (w *objectWriter) Abort() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.finished {
		return nil
	}
	w.finished = true

	w.pw.CloseWithError(errAborted)
	<-w.done
	return w.store.Delete(context.Background(), w.key)
}
