// upload.go — потоковый приём файлов из multipart-запроса.
//
// Файлы пишутся в хранилище по мере поступления, без буферизации
// в памяти. Метаданные сохраняются только после того, как все части
// зафиксированы; при любой ошибке или обрыве соединения всё записанное
// в рамках запроса удаляется.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/file-drop/internal/config"
	"github.com/bigkaa/goartstore/file-drop/internal/domain/model"
	"github.com/bigkaa/goartstore/file-drop/internal/filename"
	"github.com/bigkaa/goartstore/file-drop/internal/repository"
	"github.com/bigkaa/goartstore/file-drop/internal/security"
	"github.com/bigkaa/goartstore/file-drop/internal/storage"
)

// Имена полей формы загрузки.
const (
	fieldFile              = "file"
	fieldFiles             = "files"
	fieldExpirationHours   = "expirationHours"
	fieldPasswordProtected = "passwordProtected"
)

const (
	// copyBufferSize — размер чанка при копировании части в хранилище.
	copyBufferSize = 32 << 10
	// maxFieldBytes — предел длины скалярного поля формы.
	maxFieldBytes = 256
)

// Prometheus метрики загрузки
var (
	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fd_uploads_total",
		Help: "Общее количество запросов загрузки по результату",
	}, []string{"result"})

	uploadFilesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fd_upload_files_total",
		Help: "Общее количество принятых файлов",
	})

	uploadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fd_upload_bytes_total",
		Help: "Общий объём принятых файлов в байтах",
	})
)

// UploadedFile — краткая информация о принятом файле.
type UploadedFile struct {
	ID       string
	Filename string
	Size     int64
}

// UploadResult — результат успешной загрузки.
type UploadResult struct {
	// ID — ID файла (одиночная загрузка) или пакета
	ID string
	// URL — публичная ссылка на страницу скачивания
	URL string
	// Password — сгенерированный пароль; пусто, если защита не запрошена.
	// Возвращается только здесь и нигде не хранится в открытом виде.
	Password  string
	ExpiresAt time.Time
	IsBatch   bool
	Files     []UploadedFile
}

// uploadForm — скалярные поля формы.
type uploadForm struct {
	expirationHours   int
	passwordProtected bool
}

// UploadService — сервис приёма файлов.
type UploadService struct {
	cfg     *config.Config
	allowed map[string]bool
	store   storage.ContentStore
	repo    repository.FileRepository
	hasher  security.Hasher
	now     func() time.Time
	logger  *slog.Logger
}

// NewUploadService создаёт сервис приёма файлов.
func NewUploadService(
	cfg *config.Config,
	store storage.ContentStore,
	repo repository.FileRepository,
	hasher security.Hasher,
	logger *slog.Logger,
) *UploadService {
	allowed := make(map[string]bool, len(cfg.AllowedExtensions))
	for _, ext := range cfg.AllowedExtensions {
		allowed[strings.ToLower(ext)] = true
	}
	return &UploadService{
		cfg:     cfg,
		allowed: allowed,
		store:   store,
		repo:    repo,
		hasher:  hasher,
		now:     time.Now,
		logger:  logger.With(slog.String("component", "upload")),
	}
}

// Ingest читает multipart-поток и сохраняет файлы.
// Все файлы запроса получают общий срок хранения и общий пароль.
// Возвращает *Error при любой ошибке; в этом случае ничего не сохраняется.
func (s *UploadService) Ingest(ctx context.Context, mr *multipart.Reader) (result *UploadResult, err error) {
	start := time.Now()
	parts := newPartSet(s.store)
	form := uploadForm{expirationHours: s.cfg.DefaultExpirationHours}

	defer func() {
		if err != nil {
			s.rollback(ctx, parts)
			se := AsError(err)
			uploadsTotal.WithLabelValues(strings.ToLower(se.Code)).Inc()
			s.logger.Warn("Загрузка отклонена",
				slog.String("code", se.Code),
				slog.String("error", se.Error()),
			)
			return
		}
		uploadsTotal.WithLabelValues("success").Inc()
		s.logger.Info("Загрузка завершена",
			slog.String("id", result.ID),
			slog.Int("files", len(result.Files)),
			slog.Bool("batch", result.IsBatch),
			slog.Bool("protected", result.Password != ""),
			slog.Duration("duration", time.Since(start)),
		)
	}()

	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, canceledError(ctxErr)
		}

		p, nextErr := mr.NextPart()
		if errors.Is(nextErr, io.EOF) {
			break
		}
		if nextErr != nil {
			return nil, s.readError(ctx, nextErr)
		}

		partErr := s.handlePart(ctx, parts, &form, p)
		p.Close()
		if partErr != nil {
			return nil, partErr
		}
	}

	return s.commit(ctx, parts, form)
}

// handlePart обрабатывает одну часть multipart-потока.
func (s *UploadService) handlePart(ctx context.Context, parts *partSet, form *uploadForm, p *multipart.Part) error {
	if !isFilePart(p) {
		return s.handleField(form, p)
	}

	switch p.FormName() {
	case fieldFile, fieldFiles:
		return s.ingestFile(ctx, parts, p)
	default:
		// Файлы в посторонних полях пропускаются
		if _, err := io.Copy(io.Discard, p); err != nil {
			return s.readError(ctx, err)
		}
		return nil
	}
}

// handleField разбирает скалярное поле формы.
// expirationHours проверяется сразу, чтобы отклонить запрос до записи файлов,
// если поле пришло раньше них.
func (s *UploadService) handleField(form *uploadForm, p *multipart.Part) error {
	raw, err := io.ReadAll(io.LimitReader(p, maxFieldBytes))
	if err != nil {
		return validationError("Ошибка чтения поля формы")
	}
	value := strings.TrimSpace(string(raw))

	switch p.FormName() {
	case fieldExpirationHours:
		hours, err := strconv.Atoi(value)
		if err != nil {
			return validationError("Срок хранения должен быть целым числом часов")
		}
		if err := s.validateExpiration(hours); err != nil {
			return err
		}
		form.expirationHours = hours
	case fieldPasswordProtected:
		form.passwordProtected = value == "true"
	}
	return nil
}

// ingestFile потоково записывает файловую часть в хранилище.
func (s *UploadService) ingestFile(ctx context.Context, parts *partSet, p *multipart.Part) error {
	raw := p.FileName()
	if raw == "" {
		return validationError("Не указано имя файла")
	}

	name := filename.Sanitize(filename.Decode(raw, partCharset(p)))
	ext := filename.Extension(name)
	if !s.allowed[ext] {
		if ext == "" {
			return validationError("Файлы без расширения не разрешены")
		}
		return validationError(fmt.Sprintf("Тип файла %s не разрешён", ext))
	}

	id := uuid.NewString()
	pt, err := parts.open(ctx, id, name, s.cfg.MaxFileSize)
	if err != nil {
		return internalError("Ошибка сохранения файла", err)
	}

	buf := make([]byte, copyBufferSize)
	if _, err := io.CopyBuffer(pt, p, buf); err != nil {
		var writeErr *storageWriteError
		switch {
		case errors.Is(err, errFileTooLarge):
			return tooLargeError(fmt.Sprintf("Размер файла превышает допустимый максимум %s",
				humanize.IBytes(uint64(s.cfg.MaxFileSize))))
		case errors.As(err, &writeErr):
			return internalError("Ошибка сохранения файла", err)
		default:
			return s.readError(ctx, err)
		}
	}

	if err := pt.finalize(); err != nil {
		return internalError("Ошибка сохранения файла", err)
	}

	s.logger.Debug("Файл принят",
		slog.String("file_id", pt.id),
		slog.String("filename", pt.filename),
		slog.Int64("size", pt.size),
	)
	return nil
}

// commit сохраняет метаданные всех зафиксированных частей.
func (s *UploadService) commit(ctx context.Context, parts *partSet, form uploadForm) (*UploadResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, canceledError(err)
	}

	files := parts.finalized()
	if len(files) == 0 {
		return nil, validationError("Файлы не переданы")
	}
	if err := s.validateExpiration(form.expirationHours); err != nil {
		return nil, err
	}

	result := &UploadResult{}
	var passwordHash *string
	if form.passwordProtected {
		password, err := security.GeneratePassword()
		if err != nil {
			return nil, internalError("Ошибка генерации пароля", err)
		}
		hash, err := s.hasher.Hash(password)
		if err != nil {
			return nil, internalError("Ошибка генерации пароля", err)
		}
		result.Password = password
		passwordHash = &hash
	}

	now := s.now().UTC()
	result.ExpiresAt = now.Add(time.Duration(form.expirationHours) * time.Hour)

	records := make([]*model.FileRecord, len(files))
	var totalBytes int64
	for i, p := range files {
		records[i] = &model.FileRecord{
			ID:               p.id,
			BatchIndex:       i,
			OriginalFilename: p.filename,
			StoragePath:      p.path,
			Size:             p.size,
			ExpiresAt:        result.ExpiresAt,
			PasswordHash:     passwordHash,
			CreatedAt:        now,
		}
		result.Files = append(result.Files, UploadedFile{ID: p.id, Filename: p.filename, Size: p.size})
		totalBytes += p.size
	}

	if len(records) == 1 {
		if err := s.repo.Insert(ctx, records[0]); err != nil {
			return nil, s.storeError(ctx, err)
		}
		result.ID = records[0].ID
	} else {
		batchID := uuid.NewString()
		for _, rec := range records {
			rec.BatchID = &batchID
		}
		batch := &model.Batch{
			ID:           batchID,
			ExpiresAt:    result.ExpiresAt,
			PasswordHash: passwordHash,
			CreatedAt:    now,
			Files:        records,
		}
		if err := s.repo.InsertBatch(ctx, batch); err != nil {
			return nil, s.storeError(ctx, err)
		}
		result.ID = batchID
		result.IsBatch = true
	}

	result.URL = s.cfg.BaseURL + "/download/" + result.ID
	uploadFilesTotal.Add(float64(len(records)))
	uploadBytesTotal.Add(float64(totalBytes))
	return result, nil
}

// validateExpiration проверяет срок хранения в часах: 1..MaxExpirationHours.
func (s *UploadService) validateExpiration(hours int) error {
	maxHours := s.cfg.MaxExpirationHours
	if hours >= 1 && hours <= maxHours {
		return nil
	}
	return validationError(fmt.Sprintf("Срок хранения должен быть от 1 до %d часов (%.1f дн.)",
		maxHours, float64(maxHours)/24))
}

// rollback удаляет всё, что было записано в рамках запроса.
// Выполняется и после отмены контекста запроса.
func (s *UploadService) rollback(ctx context.Context, parts *partSet) {
	ctx = context.WithoutCancel(ctx)
	for _, err := range parts.abortAll(ctx) {
		s.logger.Error("Ошибка отката загрузки", slog.String("error", err.Error()))
	}
}

// readError классифицирует ошибку чтения тела запроса.
func (s *UploadService) readError(ctx context.Context, err error) *Error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return canceledError(ctxErr)
	}
	e := validationError("Ошибка чтения данных формы")
	e.Err = err
	return e
}

// storeError классифицирует ошибку сохранения метаданных.
func (s *UploadService) storeError(ctx context.Context, err error) *Error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return canceledError(ctxErr)
	}
	return internalError("Ошибка сохранения метаданных", err)
}

// isFilePart — есть ли у части параметр filename (даже пустой).
func isFilePart(p *multipart.Part) bool {
	_, params, err := mime.ParseMediaType(p.Header.Get("Content-Disposition"))
	if err != nil {
		return false
	}
	_, ok := params["filename"]
	return ok
}

// partCharset — charset из Content-Type части, если указан.
func partCharset(p *multipart.Part) string {
	ct := p.Header.Get("Content-Type")
	if ct == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(ct)
	if err != nil {
		return ""
	}
	return params["charset"]
}
