// cache.go — LRU-кэш метаданных файлов и пакетов с TTL.
// Обёртка над hashicorp/golang-lru/v2/expirable.
//
// Записи неизменяемы после создания, поэтому кэш безопасен: срок
// хранения и наличие содержимого проверяются при каждом обращении,
// а reaper удаляет из кэша освобождённые записи.
package service

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/file-drop/internal/domain/model"
)

// Prometheus-метрики кэша.
var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fd_cache_hits_total",
		Help: "Общее количество попаданий в LRU-кэш метаданных.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fd_cache_misses_total",
		Help: "Общее количество промахов LRU-кэша метаданных.",
	})
)

// Префиксы ключей кэша.
const (
	fileKeyPrefix  = "file:"
	batchKeyPrefix = "batch:"
)

// cacheEntry — запись кэша: файл или пакет.
type cacheEntry struct {
	file  *model.FileRecord
	batch *model.Batch
}

// CacheService — per-instance LRU-кэш метаданных с автоматическим TTL.
type CacheService struct {
	cache *expirable.LRU[string, cacheEntry]
}

// NewCacheService создаёт LRU-кэш с указанным максимальным размером и TTL.
func NewCacheService(maxSize int, ttl time.Duration) *CacheService {
	return &CacheService{cache: expirable.NewLRU[string, cacheEntry](maxSize, nil, ttl)}
}

// GetFile возвращает файл из кэша.
func (c *CacheService) GetFile(id string) (*model.FileRecord, bool) {
	entry, ok := c.get(fileKeyPrefix + id)
	return entry.file, ok && entry.file != nil
}

// SetFile добавляет файл в кэш.
func (c *CacheService) SetFile(rec *model.FileRecord) {
	c.cache.Add(fileKeyPrefix+rec.ID, cacheEntry{file: rec})
}

// GetBatch возвращает пакет из кэша.
func (c *CacheService) GetBatch(id string) (*model.Batch, bool) {
	entry, ok := c.get(batchKeyPrefix + id)
	return entry.batch, ok && entry.batch != nil
}

// SetBatch добавляет пакет в кэш.
func (c *CacheService) SetBatch(batch *model.Batch) {
	c.cache.Add(batchKeyPrefix+batch.ID, cacheEntry{batch: batch})
}

// Delete удаляет из кэша файл и пакет с указанными ID.
func (c *CacheService) Delete(ids ...string) {
	for _, id := range ids {
		c.cache.Remove(fileKeyPrefix + id)
		c.cache.Remove(batchKeyPrefix + id)
	}
}

// Len возвращает количество записей в кэше.
func (c *CacheService) Len() int {
	return c.cache.Len()
}

func (c *CacheService) get(key string) (cacheEntry, bool) {
	entry, ok := c.cache.Get(key)
	if ok {
		cacheHitsTotal.Inc()
	} else {
		cacheMissesTotal.Inc()
	}
	return entry, ok
}
