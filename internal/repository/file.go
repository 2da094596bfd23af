package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/file-drop/internal/domain/model"
)

// fileColumns — столбцы таблицы files для SELECT-запросов.
const fileColumns = `id::text, batch_id::text, batch_index, original_filename, storage_path,
	size_bytes, expires_at, password_hash, created_at`

// FileRepository — доступ к метаданным файлов и пакетов.
type FileRepository interface {
	// Insert сохраняет одиночный файл.
	Insert(ctx context.Context, rec *model.FileRecord) error
	// InsertBatch атомарно сохраняет пакет и все его файлы.
	InsertBatch(ctx context.Context, batch *model.Batch) error
	// GetByID возвращает файл по UUID или ErrNotFound.
	GetByID(ctx context.Context, id string) (*model.FileRecord, error)
	// GetByBatchID возвращает файлы пакета в порядке загрузки (пустой срез, если нет).
	GetByBatchID(ctx context.Context, batchID string) ([]*model.FileRecord, error)
	// GetBatch возвращает пакет с файлами или ErrNotFound.
	GetBatch(ctx context.Context, batchID string) (*model.Batch, error)
	// GetExpiredBefore возвращает файлы с expires_at <= ts.
	GetExpiredBefore(ctx context.Context, ts time.Time) ([]*model.FileRecord, error)
	// DeleteByID удаляет запись файла. Отсутствующая запись — не ошибка.
	DeleteByID(ctx context.Context, id string) error
	// DeleteExpiredBatches удаляет просроченные пакеты без оставшихся файлов.
	DeleteExpiredBatches(ctx context.Context, ts time.Time) (int64, error)
}

// fileRepo — реализация FileRepository через pgx.
type fileRepo struct {
	db TxBeginner
}

// NewFileRepository создаёт репозиторий файлов.
func NewFileRepository(db TxBeginner) FileRepository {
	return &fileRepo{db: db}
}

// Insert сохраняет одиночный файл.
func (r *fileRepo) Insert(ctx context.Context, rec *model.FileRecord) error {
	return insertFile(ctx, r.db, rec)
}

// InsertBatch сохраняет пакет и файлы в одной транзакции:
// пакет либо виден целиком, либо не виден вовсе.
func (r *fileRepo) InsertBatch(ctx context.Context, batch *model.Batch) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO batches (id, expires_at, password_hash, created_at) VALUES ($1, $2, $3, $4)`,
			batch.ID, batch.ExpiresAt, batch.PasswordHash, batch.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("ошибка создания пакета: %w", err)
		}
		for _, rec := range batch.Files {
			if err := insertFile(ctx, tx, rec); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertFile(ctx context.Context, db DBTX, rec *model.FileRecord) error {
	_, err := db.Exec(ctx,
		`INSERT INTO files (id, batch_id, batch_index, original_filename, storage_path,
			size_bytes, expires_at, password_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ID, rec.BatchID, rec.BatchIndex, rec.OriginalFilename, rec.StoragePath,
		rec.Size, rec.ExpiresAt, rec.PasswordHash, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("ошибка сохранения файла %s: %w", rec.ID, err)
	}
	return nil
}

// GetByID возвращает файл по UUID или ErrNotFound.
func (r *fileRepo) GetByID(ctx context.Context, id string) (*model.FileRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM files WHERE id = $1`, fileColumns)

	f, err := scanFile(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения файла: %w", err)
	}
	return f, nil
}

// GetByBatchID возвращает файлы пакета в порядке загрузки.
func (r *fileRepo) GetByBatchID(ctx context.Context, batchID string) ([]*model.FileRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM files WHERE batch_id = $1 ORDER BY batch_index, created_at`, fileColumns)
	return r.queryFiles(ctx, query, batchID)
}

// GetBatch возвращает пакет и его файлы.
func (r *fileRepo) GetBatch(ctx context.Context, batchID string) (*model.Batch, error) {
	b := &model.Batch{}
	err := r.db.QueryRow(ctx,
		`SELECT id::text, expires_at, password_hash, created_at FROM batches WHERE id = $1`, batchID,
	).Scan(&b.ID, &b.ExpiresAt, &b.PasswordHash, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения пакета: %w", err)
	}

	b.Files, err = r.GetByBatchID(ctx, batchID)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// GetExpiredBefore возвращает файлы с истёкшим сроком хранения.
func (r *fileRepo) GetExpiredBefore(ctx context.Context, ts time.Time) ([]*model.FileRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM files WHERE expires_at <= $1 ORDER BY expires_at`, fileColumns)
	return r.queryFiles(ctx, query, ts)
}

// DeleteByID удаляет запись файла.
func (r *fileRepo) DeleteByID(ctx context.Context, id string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM files WHERE id = $1`, id); err != nil {
		return fmt.Errorf("ошибка удаления файла %s: %w", id, err)
	}
	return nil
}

// DeleteExpiredBatches удаляет просроченные пакеты, у которых не осталось файлов.
func (r *fileRepo) DeleteExpiredBatches(ctx context.Context, ts time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM batches b WHERE b.expires_at <= $1
			AND NOT EXISTS (SELECT 1 FROM files f WHERE f.batch_id = b.id)`, ts,
	)
	if err != nil {
		return 0, fmt.Errorf("ошибка удаления пакетов: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *fileRepo) queryFiles(ctx context.Context, query string, args ...any) ([]*model.FileRecord, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса файлов: %w", err)
	}
	defer rows.Close()

	result := make([]*model.FileRecord, 0)
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования файла: %w", err)
		}
		result = append(result, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации результатов: %w", err)
	}
	return result, nil
}

// scanFile сканирует строку fileColumns в FileRecord.
func scanFile(row pgx.Row) (*model.FileRecord, error) {
	f := &model.FileRecord{}
	err := row.Scan(
		&f.ID, &f.BatchID, &f.BatchIndex, &f.OriginalFilename, &f.StoragePath,
		&f.Size, &f.ExpiresAt, &f.PasswordHash, &f.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return f, nil
}
