// Пакет model — доменные модели File Drop.
package model

import "time"

// FileRecord — метаданные одного загруженного файла (таблица files).
type FileRecord struct {
	// ID — UUID файла, он же ключ хранения содержимого
	ID string
	// BatchID — UUID пакета; nil для одиночной загрузки
	BatchID *string
	// BatchIndex — порядковый номер файла в пакете (0 для одиночного)
	BatchIndex int
	// OriginalFilename — декодированное и очищенное имя файла
	OriginalFilename string
	// StoragePath — непрозрачный дескриптор содержимого в ContentStore
	StoragePath string
	// Size — размер содержимого в байтах
	Size int64
	// ExpiresAt — момент истечения срока хранения
	ExpiresAt time.Time
	// PasswordHash — bcrypt-хэш пароля; nil если файл не защищён
	PasswordHash *string
	CreatedAt    time.Time
}

// IsExpired — истёк ли срок хранения на момент now (граница включительно).
func (f *FileRecord) IsExpired(now time.Time) bool {
	return !now.Before(f.ExpiresAt)
}

// IsProtected — защищён ли файл паролем.
func (f *FileRecord) IsProtected() bool {
	return f.PasswordHash != nil
}

// Batch — пакет файлов одной загрузки с общими срока хранения и паролем.
type Batch struct {
	ID           string
	ExpiresAt    time.Time
	PasswordHash *string
	CreatedAt    time.Time
	// Files — файлы пакета в порядке загрузки
	Files []*FileRecord
}

// IsExpired — истёк ли срок хранения пакета на момент now.
func (b *Batch) IsExpired(now time.Time) bool {
	return !now.Before(b.ExpiresAt)
}

// IsProtected — защищён ли пакет паролем.
func (b *Batch) IsProtected() bool {
	return b.PasswordHash != nil
}

// TotalSize — суммарный размер файлов пакета.
func (b *Batch) TotalSize() int64 {
	var total int64
	for _, f := range b.Files {
		total += f.Size
	}
	return total
}

// File возвращает файл пакета по ID или nil.
func (b *Batch) File(id string) *FileRecord {
	for _, f := range b.Files {
		if f.ID == id {
			return f
		}
	}
	return nil
}
