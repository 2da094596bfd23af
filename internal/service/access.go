// access.go — описание, проверка пароля и выдача файлов.
//
// Идентификатор сначала ищется как пакет, затем как одиночный файл.
// Отсутствующая запись, истёкший срок и пропавшее содержимое дают
// одинаковый NOT_FOUND. Для защищённых файлов содержимое выдаётся
// только при верном пароле или действующем билете.
package service

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/file-drop/internal/domain/model"
	"github.com/bigkaa/goartstore/file-drop/internal/repository"
	"github.com/bigkaa/goartstore/file-drop/internal/security"
	"github.com/bigkaa/goartstore/file-drop/internal/storage"
)

// Prometheus метрики скачивания
var (
	downloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fd_downloads_total",
		Help: "Общее количество запросов скачивания по результату",
	}, []string{"result"})

	downloadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fd_download_bytes_total",
		Help: "Общий объём отданных данных в байтах",
	})

	passwordChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fd_password_checks_total",
		Help: "Количество проверок пароля по результату",
	}, []string{"result"})
)

// FileInfo — отображаемые сведения о файле.
type FileInfo struct {
	ID        string
	Filename  string
	Size      int64
	SizeHuman string
}

// Description — сведения о файле или пакете без раскрытия содержимого.
type Description struct {
	ID             string
	IsBatch        bool
	IsProtected    bool
	ExpiresAt      time.Time
	Files          []FileInfo
	TotalSize      int64
	TotalSizeHuman string
	// Ticket — билет на скачивание (только после проверки пароля)
	Ticket          string
	TicketExpiresAt time.Time
}

// Credentials — учётные данные для скачивания защищённого файла.
type Credentials struct {
	Password string
	Ticket   string
}

// Download — поток содержимого для отдачи клиенту.
// Вызывающий код обязан закрыть Body.
type Download struct {
	Filename    string
	ContentType string
	// Size — точный размер; -1 для архива, длина которого заранее неизвестна
	Size int64
	Body io.ReadCloser
}

// target — разрешённый идентификатор: одиночный файл или пакет.
type target struct {
	id           string
	batch        *model.Batch
	files        []*model.FileRecord
	expiresAt    time.Time
	passwordHash *string
}

func (t *target) protected() bool {
	return t.passwordHash != nil
}

// AccessService — сервис доступа к загруженным файлам.
type AccessService struct {
	repo    repository.FileRepository
	store   storage.ContentStore
	cache   *CacheService
	hasher  security.Hasher
	tickets *security.TicketIssuer
	now     func() time.Time
	logger  *slog.Logger
}

// NewAccessService создаёт сервис доступа.
func NewAccessService(
	repo repository.FileRepository,
	store storage.ContentStore,
	cache *CacheService,
	hasher security.Hasher,
	tickets *security.TicketIssuer,
	logger *slog.Logger,
) *AccessService {
	return &AccessService{
		repo:    repo,
		store:   store,
		cache:   cache,
		hasher:  hasher,
		tickets: tickets,
		now:     time.Now,
		logger:  logger.With(slog.String("component", "access")),
	}
}

// Describe возвращает сведения о файле или пакете. Пароль не требуется.
func (s *AccessService) Describe(ctx context.Context, id string) (*Description, error) {
	t, err := s.resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.checkContent(ctx, t.files...); err != nil {
		return nil, err
	}
	return describe(t), nil
}

// Verify проверяет пароль. Для защищённых целей в ответ добавляется билет.
func (s *AccessService) Verify(ctx context.Context, id, password string) (*Description, error) {
	if password == "" {
		return nil, validationError("Требуется пароль")
	}

	t, err := s.resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.checkContent(ctx, t.files...); err != nil {
		return nil, err
	}
	if err := s.authorize(t, Credentials{Password: password}); err != nil {
		return nil, err
	}

	desc := describe(t)
	if t.protected() {
		desc.Ticket, desc.TicketExpiresAt, err = s.tickets.Issue(t.id, t.expiresAt)
		if err != nil {
			return nil, internalError("Ошибка выдачи билета", err)
		}
	}
	return desc, nil
}

// Fetch открывает содержимое для скачивания.
// member выбирает файл пакета; пакет без member отдаётся ZIP-архивом.
func (s *AccessService) Fetch(ctx context.Context, id, member string, creds Credentials) (dl *Download, err error) {
	defer func() {
		if err != nil {
			downloadsTotal.WithLabelValues(strings.ToLower(AsError(err).Code)).Inc()
			return
		}
		downloadsTotal.WithLabelValues("success").Inc()
	}()

	t, err := s.resolve(ctx, id)
	if err != nil {
		return nil, err
	}

	files := t.files
	if member != "" {
		if !isCanonicalUUID(member) {
			return nil, validationError("Некорректный идентификатор файла")
		}
		if t.batch == nil {
			return nil, notFoundError()
		}
		f := t.batch.File(member)
		if f == nil {
			return nil, notFoundError()
		}
		files = []*model.FileRecord{f}
	}

	if err := s.checkContent(ctx, files...); err != nil {
		return nil, err
	}
	if err := s.authorize(t, creds); err != nil {
		return nil, err
	}

	if len(files) > 1 {
		return s.archive(ctx, t), nil
	}
	return s.open(ctx, files[0])
}

// resolve находит пакет или одиночный файл и отсекает просроченные.
func (s *AccessService) resolve(ctx context.Context, id string) (*target, error) {
	if !isCanonicalUUID(id) {
		return nil, validationError("Некорректный идентификатор")
	}

	batch, err := s.lookupBatch(ctx, id)
	var t *target
	switch {
	case err == nil && len(batch.Files) > 0:
		t = &target{
			id:           batch.ID,
			batch:        batch,
			files:        batch.Files,
			expiresAt:    batch.ExpiresAt,
			passwordHash: batch.PasswordHash,
		}
	case err != nil && !errors.Is(err, repository.ErrNotFound):
		return nil, internalError("Ошибка получения метаданных", err)
	default:
		rec, err := s.lookupFile(ctx, id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, notFoundError()
			}
			return nil, internalError("Ошибка получения метаданных", err)
		}
		t = &target{
			id:           rec.ID,
			files:        []*model.FileRecord{rec},
			expiresAt:    rec.ExpiresAt,
			passwordHash: rec.PasswordHash,
		}
	}

	if !s.now().Before(t.expiresAt) {
		return nil, notFoundError()
	}
	return t, nil
}

func (s *AccessService) lookupBatch(ctx context.Context, id string) (*model.Batch, error) {
	if b, ok := s.cache.GetBatch(id); ok {
		return b, nil
	}
	b, err := s.repo.GetBatch(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache.SetBatch(b)
	return b, nil
}

func (s *AccessService) lookupFile(ctx context.Context, id string) (*model.FileRecord, error) {
	if rec, ok := s.cache.GetFile(id); ok {
		return rec, nil
	}
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache.SetFile(rec)
	return rec, nil
}

// checkContent проверяет, что содержимое файлов есть в хранилище.
func (s *AccessService) checkContent(ctx context.Context, files ...*model.FileRecord) error {
	for _, f := range files {
		ok, err := s.store.Exists(ctx, f.StoragePath)
		if err != nil {
			return internalError("Ошибка доступа к хранилищу", err)
		}
		if !ok {
			s.logger.Warn("Содержимое файла отсутствует в хранилище",
				slog.String("file_id", f.ID),
				slog.String("storage_path", f.StoragePath),
			)
			return notFoundError()
		}
	}
	return nil
}

// authorize проверяет доступ к защищённой цели.
// Неверный пароль и повреждённый хэш неотличимы для клиента.
func (s *AccessService) authorize(t *target, creds Credentials) error {
	if !t.protected() {
		return nil
	}

	if creds.Ticket != "" {
		if err := s.tickets.Verify(creds.Ticket, t.id); err != nil {
			return forbiddenError("Ссылка недействительна или устарела")
		}
		return nil
	}

	if creds.Password == "" {
		return forbiddenError("Файл защищён паролем. Используйте POST-запрос с паролем")
	}

	if err := s.hasher.Compare(*t.passwordHash, creds.Password); err != nil {
		if !errors.Is(err, security.ErrPasswordMismatch) {
			s.logger.Error("Ошибка проверки пароля",
				slog.String("id", t.id),
				slog.String("error", err.Error()),
			)
		}
		passwordChecksTotal.WithLabelValues("fail").Inc()
		return forbiddenError("Неверный пароль")
	}
	passwordChecksTotal.WithLabelValues("ok").Inc()
	return nil
}

// open открывает одиночный файл.
func (s *AccessService) open(ctx context.Context, f *model.FileRecord) (*Download, error) {
	rc, size, err := s.store.OpenReader(ctx, f.StoragePath)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, notFoundError()
		}
		return nil, internalError("Ошибка чтения файла", err)
	}
	return &Download{
		Filename:    f.OriginalFilename,
		ContentType: "application/octet-stream",
		Size:        size,
		Body:        &countingReader{rc: rc},
	}, nil
}

// archive отдаёт файлы пакета ZIP-архивом без сжатия.
// Архив формируется в фоне по мере чтения; закрытие Body прерывает запись.
func (s *AccessService) archive(ctx context.Context, t *target) *Download {
	pr, pw := io.Pipe()

	go func() {
		zw := zip.NewWriter(pw)
		err := s.writeArchive(ctx, zw, t.files)
		if err == nil {
			err = zw.Close()
		}
		if err != nil && !errors.Is(err, io.ErrClosedPipe) {
			s.logger.Error("Ошибка формирования архива",
				slog.String("batch_id", t.id),
				slog.String("error", err.Error()),
			)
		}
		pw.CloseWithError(err)
	}()

	return &Download{
		Filename:    "files-" + t.id[:8] + ".zip",
		ContentType: "application/zip",
		Size:        -1,
		Body:        &countingReader{rc: pr},
	}
}

func (s *AccessService) writeArchive(ctx context.Context, zw *zip.Writer, files []*model.FileRecord) error {
	names := make(map[string]int, len(files))
	for _, f := range files {
		rc, _, err := s.store.OpenReader(ctx, f.StoragePath)
		if err != nil {
			return fmt.Errorf("файл %s: %w", f.ID, err)
		}

		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     uniqueName(names, f.OriginalFilename),
			Method:   zip.Store,
			Modified: f.CreatedAt,
		})
		if err == nil {
			_, err = io.Copy(w, rc)
		}
		rc.Close()
		if err != nil {
			return fmt.Errorf("файл %s: %w", f.ID, err)
		}
	}
	return nil
}

// uniqueName добавляет " (N)" к повторяющимся именам в архиве.
func uniqueName(seen map[string]int, name string) string {
	n := seen[name]
	seen[name] = n + 1
	if n == 0 {
		return name
	}
	ext := filepath.Ext(name)
	return fmt.Sprintf("%s (%d)%s", strings.TrimSuffix(name, ext), n, ext)
}

func describe(t *target) *Description {
	d := &Description{
		ID:          t.id,
		IsBatch:     t.batch != nil,
		IsProtected: t.protected(),
		ExpiresAt:   t.expiresAt,
		Files:       make([]FileInfo, 0, len(t.files)),
	}
	for _, f := range t.files {
		d.Files = append(d.Files, FileInfo{
			ID:        f.ID,
			Filename:  f.OriginalFilename,
			Size:      f.Size,
			SizeHuman: humanize.IBytes(uint64(f.Size)),
		})
		d.TotalSize += f.Size
	}
	d.TotalSizeHuman = humanize.IBytes(uint64(d.TotalSize))
	return d
}

// isCanonicalUUID принимает только форму xxxxxxxx-xxxx-xxxx-xxxx-xxxxxxxxxxxx.
func isCanonicalUUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

// countingReader учитывает отданные байты в метриках.
type countingReader struct {
	rc io.ReadCloser
}

func (r *countingReader) Read(p []byte) (int, error) {
	n, err := r.rc.Read(p)
	downloadBytesTotal.Add(float64(n))
	return n, err
}

func (r *countingReader) Close() error {
	return r.rc.Close()
}
