// Пакет config — загрузка и валидация конфигурации File Drop
// из переменных окружения.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Бэкенды хранения содержимого.
const (
	StorageLocal = "local"
	StorageS3    = "s3"
)

// DefaultAllowedExtensions — расширения, разрешённые к загрузке по умолчанию.
var DefaultAllowedExtensions = []string{
	".pdf", ".doc", ".docx", ".txt", ".rtf",
	".jpg", ".jpeg", ".png", ".gif", ".bmp", ".webp", ".svg",
	".zip", ".rar", ".7z", ".tar", ".gz",
	".mp4", ".avi", ".mov", ".wmv", ".flv",
	".mp3", ".wav", ".ogg", ".flac",
	".xls", ".xlsx", ".csv", ".ppt", ".pptx",
	".odt", ".ods", ".odp",
}

// Config содержит все параметры конфигурации File Drop.
type Config struct {
	// Порт HTTP-сервера
	Port int
	// Окружение: development или production
	Env string
	// Публичный базовый URL для ссылок на скачивание (без завершающего /)
	BaseURL string

	// Бэкенд хранения содержимого: local или s3
	StorageBackend string
	// Корневая директория загрузок (local)
	UploadDir string
	// Параметры S3/MinIO (s3)
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string
	S3Prefix    string

	// Максимальный размер одного файла в байтах
	MaxFileSize int64
	// Максимальный срок хранения в часах
	MaxExpirationHours int
	// Срок хранения, если клиент его не указал
	DefaultExpirationHours int
	// Разрешённые расширения (нижний регистр, с точкой)
	AllowedExtensions []string

	// Стоимость bcrypt
	BcryptCost int
	// Ключ подписи билетов на скачивание
	TicketSecret []byte
	// Время жизни билета на скачивание
	TicketTTL time.Duration

	// Интервал очистки просроченных файлов
	ReaperInterval time.Duration
	// Размер и TTL LRU-кэша метаданных
	CacheSize int
	CacheTTL  time.Duration

	// Параметры PostgreSQL
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Файл логов с ротацией (опционально)
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int

	// Таймауты HTTP-сервера
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	// Таймаут graceful shutdown
	ShutdownTimeout time.Duration

	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration
	// Имя группы в метриках topologymetrics
	DephealthGroup string
}

// LoadDotEnv загружает переменные из .env файла, если он существует.
// Уже заданные переменные окружения не перезаписываются.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("ошибка чтения %s: %w", path, err)
	}
	return nil
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// FD_PORT — порт HTTP-сервера (по умолчанию 8080)
	cfg.Port, err = getEnvInt("FD_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("FD_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("FD_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	cfg.Env = getEnvDefault("FD_ENV", "production")
	if cfg.Env != "development" && cfg.Env != "production" {
		return nil, fmt.Errorf("FD_ENV: недопустимое значение %q, допустимые: development, production", cfg.Env)
	}

	cfg.BaseURL = strings.TrimRight(getEnvDefault("FD_BASE_URL", "http://localhost:8080"), "/")

	// Хранилище содержимого
	cfg.StorageBackend = getEnvDefault("FD_STORAGE_BACKEND", StorageLocal)
	cfg.UploadDir = getEnvDefault("FD_UPLOAD_DIR", "./uploads")
	switch cfg.StorageBackend {
	case StorageLocal:
	case StorageS3:
		for key, dst := range map[string]*string{
			"FD_S3_ENDPOINT":   &cfg.S3Endpoint,
			"FD_S3_ACCESS_KEY": &cfg.S3AccessKey,
			"FD_S3_SECRET_KEY": &cfg.S3SecretKey,
			"FD_S3_BUCKET":     &cfg.S3Bucket,
		} {
			if *dst, err = getEnvRequired(key); err != nil {
				return nil, err
			}
		}
		cfg.S3Prefix = strings.Trim(getEnvDefault("FD_S3_PREFIX", "uploads"), "/")
	default:
		return nil, fmt.Errorf("FD_STORAGE_BACKEND: недопустимое значение %q, допустимые: local, s3", cfg.StorageBackend)
	}

	// FD_MAX_FILE_SIZE — максимальный размер файла (по умолчанию 10 GiB)
	cfg.MaxFileSize, err = getEnvInt64("FD_MAX_FILE_SIZE", 10*1024*1024*1024)
	if err != nil {
		return nil, fmt.Errorf("FD_MAX_FILE_SIZE: %w", err)
	}
	if cfg.MaxFileSize <= 0 {
		return nil, fmt.Errorf("FD_MAX_FILE_SIZE: значение должно быть положительным")
	}

	cfg.MaxExpirationHours, err = getEnvInt("FD_MAX_EXPIRATION_HOURS", 168)
	if err != nil {
		return nil, fmt.Errorf("FD_MAX_EXPIRATION_HOURS: %w", err)
	}
	if cfg.MaxExpirationHours < 1 {
		return nil, fmt.Errorf("FD_MAX_EXPIRATION_HOURS: значение должно быть >= 1")
	}

	cfg.DefaultExpirationHours, err = getEnvInt("FD_DEFAULT_EXPIRATION_HOURS", 24)
	if err != nil {
		return nil, fmt.Errorf("FD_DEFAULT_EXPIRATION_HOURS: %w", err)
	}
	if cfg.DefaultExpirationHours < 1 || cfg.DefaultExpirationHours > cfg.MaxExpirationHours {
		return nil, fmt.Errorf("FD_DEFAULT_EXPIRATION_HOURS: значение %d вне диапазона 1-%d",
			cfg.DefaultExpirationHours, cfg.MaxExpirationHours)
	}

	cfg.AllowedExtensions = DefaultAllowedExtensions
	if raw := os.Getenv("FD_ALLOWED_EXTENSIONS"); raw != "" {
		cfg.AllowedExtensions = parseExtensions(raw)
		if len(cfg.AllowedExtensions) == 0 {
			return nil, fmt.Errorf("FD_ALLOWED_EXTENSIONS: список расширений пуст")
		}
	}

	cfg.BcryptCost, err = getEnvInt("FD_BCRYPT_COST", 10)
	if err != nil {
		return nil, fmt.Errorf("FD_BCRYPT_COST: %w", err)
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, fmt.Errorf("FD_BCRYPT_COST: значение %d вне диапазона 4-31", cfg.BcryptCost)
	}

	// FD_TICKET_SECRET — если не задан, генерируется на время жизни процесса
	if secret := os.Getenv("FD_TICKET_SECRET"); secret != "" {
		cfg.TicketSecret = []byte(secret)
	} else {
		cfg.TicketSecret, err = randomSecret()
		if err != nil {
			return nil, fmt.Errorf("FD_TICKET_SECRET: %w", err)
		}
	}
	cfg.TicketTTL, err = getEnvDuration("FD_TICKET_TTL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("FD_TICKET_TTL: %w", err)
	}

	cfg.ReaperInterval, err = getEnvDuration("FD_REAPER_INTERVAL", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("FD_REAPER_INTERVAL: %w", err)
	}
	if cfg.ReaperInterval < time.Second {
		return nil, fmt.Errorf("FD_REAPER_INTERVAL: значение должно быть >= 1s")
	}

	cfg.CacheSize, err = getEnvInt("FD_CACHE_SIZE", 1024)
	if err != nil {
		return nil, fmt.Errorf("FD_CACHE_SIZE: %w", err)
	}
	if cfg.CacheSize <= 0 {
		return nil, fmt.Errorf("FD_CACHE_SIZE: значение должно быть положительным")
	}
	cfg.CacheTTL, err = getEnvDuration("FD_CACHE_TTL", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FD_CACHE_TTL: %w", err)
	}

	// PostgreSQL
	if cfg.DBHost, err = getEnvRequired("FD_DB_HOST"); err != nil {
		return nil, err
	}
	cfg.DBPort, err = getEnvInt("FD_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("FD_DB_PORT: %w", err)
	}
	if cfg.DBName, err = getEnvRequired("FD_DB_NAME"); err != nil {
		return nil, err
	}
	if cfg.DBUser, err = getEnvRequired("FD_DB_USER"); err != nil {
		return nil, err
	}
	if cfg.DBPassword, err = getEnvRequired("FD_DB_PASSWORD"); err != nil {
		return nil, err
	}
	cfg.DBSSLMode = getEnvDefault("FD_DB_SSL_MODE", "disable")

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("FD_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("FD_LOG_LEVEL: %w", err)
	}
	cfg.LogFormat = getEnvDefault("FD_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("FD_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}
	cfg.LogFile = getEnvDefault("FD_LOG_FILE", "")
	if cfg.LogMaxSizeMB, err = getEnvInt("FD_LOG_MAX_SIZE_MB", 100); err != nil {
		return nil, fmt.Errorf("FD_LOG_MAX_SIZE_MB: %w", err)
	}
	if cfg.LogMaxBackups, err = getEnvInt("FD_LOG_MAX_BACKUPS", 5); err != nil {
		return nil, fmt.Errorf("FD_LOG_MAX_BACKUPS: %w", err)
	}

	// Большие файлы передаются долго, поэтому таймауты по умолчанию щедрые
	if cfg.HTTPReadTimeout, err = getEnvDuration("FD_HTTP_READ_TIMEOUT", time.Hour); err != nil {
		return nil, fmt.Errorf("FD_HTTP_READ_TIMEOUT: %w", err)
	}
	if cfg.HTTPWriteTimeout, err = getEnvDuration("FD_HTTP_WRITE_TIMEOUT", time.Hour); err != nil {
		return nil, fmt.Errorf("FD_HTTP_WRITE_TIMEOUT: %w", err)
	}
	if cfg.HTTPIdleTimeout, err = getEnvDuration("FD_HTTP_IDLE_TIMEOUT", 120*time.Second); err != nil {
		return nil, fmt.Errorf("FD_HTTP_IDLE_TIMEOUT: %w", err)
	}
	if cfg.ShutdownTimeout, err = getEnvDuration("FD_SHUTDOWN_TIMEOUT", 30*time.Second); err != nil {
		return nil, fmt.Errorf("FD_SHUTDOWN_TIMEOUT: %w", err)
	}

	if cfg.DephealthCheckInterval, err = getEnvDuration("FD_DEPHEALTH_CHECK_INTERVAL", 15*time.Second); err != nil {
		return nil, fmt.Errorf("FD_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}
	cfg.DephealthGroup = getEnvDefault("FD_DEPHEALTH_GROUP", "file-drop")

	return cfg, nil
}

// IsDevelopment сообщает, включён ли режим разработки.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// DatabaseDSN возвращает строку подключения к PostgreSQL для pgxpool.
// Учётные данные экранируются.
func (c *Config) DatabaseDSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     net.JoinHostPort(c.DBHost, strconv.Itoa(c.DBPort)),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(c.DBSSLMode),
	}
	return u.String()
}

// DatabaseURL возвращает URL PostgreSQL без пароля (для метрик и логов).
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%d/%s", c.DBHost, c.DBPort, c.DBName)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
// При заданном FD_LOG_FILE логи дублируются в файл с ротацией по размеру.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var out io.Writer = os.Stdout
	if cfg.LogFile != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
			Compress:   true,
		})
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// parseExtensions разбирает список расширений через запятую.
// Приводит к нижнему регистру и добавляет ведущую точку.
func parseExtensions(raw string) []string {
	var result []string
	seen := make(map[string]bool)
	for _, part := range strings.Split(raw, ",") {
		ext := strings.ToLower(strings.TrimSpace(part))
		if ext == "" || ext == "." {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		if !seen[ext] {
			seen[ext] = true
			result = append(result, ext)
		}
	}
	return result
}

// randomSecret генерирует 32 случайных байта (hex) для подписи билетов.
func randomSecret() ([]byte, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("ошибка генерации ключа: %w", err)
	}
	return []byte(hex.EncodeToString(buf)), nil
}

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvInt64 возвращает int64 значение переменной окружения или значение по умолчанию.
func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 10m, 1h)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
