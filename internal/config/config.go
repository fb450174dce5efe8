// Пакет config — загрузка и валидация конфигурации medarchive
// из переменных окружения (префикс MA_).
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// DefaultAllowedMimeTypes — допустимые MIME-типы загружаемых документов.
var DefaultAllowedMimeTypes = []string{
	"application/pdf", "image/png", "image/jpeg", "image/jpg", "image/tiff",
}

// Config содержит все параметры конфигурации сервиса.
type Config struct {
	// Порт HTTP-сервера
	Port int
	// Каталог хранения файлов документов
	DataDir string
	// Каталог журнала операций с файлами
	WALDir string
	// Максимальный размер загружаемого файла в байтах
	MaxFileSize int64
	// Допустимые MIME-типы (проверяются до вычисления digest)
	AllowedMimeTypes []string
	// Срок хранения карты в годах
	RetentionYears int

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	// URL JWKS endpoint. Пустое значение отключает аутентификацию (dev).
	JWKSUrl string
	// Допустимое расхождение часов при проверке exp/nbf
	JWTLeeway time.Duration
	// Интервал обновления JWKS
	JWKSRefreshInterval time.Duration

	// Интервал автоматической сверки хранилища
	ReconcileInterval time.Duration
	// Файлы моложе этого возраста не считаются осиротевшими
	ReconcileOrphanGrace time.Duration
	// Удалять осиротевшие файлы при сверке
	ReconcileRemoveOrphans bool
	// Пересчитывать digest всех файлов при сверке
	ReconcileVerifyDigests bool

	// Интервал очистки незавершённых загрузок и журнала
	GCInterval time.Duration
	// Возраст, после которого незавершённая загрузка удаляется
	IncomingTTL time.Duration

	// Кэш метаданных документов
	CacheSize int
	CacheTTL  time.Duration

	// Пул фоновой обработки (OCR, резервное копирование)
	EnrichWorkers int
	EnrichQueue   int

	// Внешняя команда OCR (tesseract-совместимая). Пусто — OCR отключён.
	OCRCommand  string
	OCRLanguage string
	OCRTimeout  time.Duration

	// S3/MinIO для резервных копий. Пустой endpoint — копирование отключено.
	BackupEndpoint  string
	BackupAccessKey string
	BackupSecretKey string
	BackupBucket    string
	BackupUseSSL    bool

	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration
	// Имя группы в метриках topologymetrics
	DephealthGroup string

	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration

	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// MA_PORT — порт HTTP-сервера (по умолчанию 8020)
	cfg.Port, err = getEnvInt("MA_PORT", 8020)
	if err != nil {
		return nil, fmt.Errorf("MA_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("MA_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	if cfg.DataDir, err = getEnvRequired("MA_DATA_DIR"); err != nil {
		return nil, err
	}
	if cfg.WALDir, err = getEnvRequired("MA_WAL_DIR"); err != nil {
		return nil, err
	}

	// MA_MAX_FILE_SIZE — по умолчанию 50 MB
	cfg.MaxFileSize, err = getEnvInt64("MA_MAX_FILE_SIZE", 50*1024*1024)
	if err != nil {
		return nil, fmt.Errorf("MA_MAX_FILE_SIZE: %w", err)
	}
	if cfg.MaxFileSize <= 0 {
		return nil, fmt.Errorf("MA_MAX_FILE_SIZE: значение должно быть положительным")
	}

	cfg.AllowedMimeTypes = parseCSV(strings.ToLower(os.Getenv("MA_ALLOWED_MIME_TYPES")))
	if len(cfg.AllowedMimeTypes) == 0 {
		cfg.AllowedMimeTypes = append([]string(nil), DefaultAllowedMimeTypes...)
	}

	cfg.RetentionYears, err = getEnvInt("MA_RETENTION_YEARS", 20)
	if err != nil {
		return nil, fmt.Errorf("MA_RETENTION_YEARS: %w", err)
	}
	if cfg.RetentionYears <= 0 {
		return nil, fmt.Errorf("MA_RETENTION_YEARS: значение должно быть положительным")
	}

	// --- PostgreSQL ---
	if cfg.DBHost, err = getEnvRequired("MA_DB_HOST"); err != nil {
		return nil, err
	}
	cfg.DBPort, err = getEnvInt("MA_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("MA_DB_PORT: %w", err)
	}
	if cfg.DBName, err = getEnvRequired("MA_DB_NAME"); err != nil {
		return nil, err
	}
	if cfg.DBUser, err = getEnvRequired("MA_DB_USER"); err != nil {
		return nil, err
	}
	cfg.DBPassword = os.Getenv("MA_DB_PASSWORD")
	cfg.DBSSLMode = getEnvDefault("MA_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{"disable": true, "require": true, "verify-ca": true, "verify-full": true}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("MA_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	// --- JWT ---
	cfg.JWKSUrl = getEnvDefault("MA_JWKS_URL", "")
	if cfg.JWTLeeway, err = getEnvDuration("MA_JWT_LEEWAY", 5*time.Second); err != nil {
		return nil, fmt.Errorf("MA_JWT_LEEWAY: %w", err)
	}
	if cfg.JWKSRefreshInterval, err = getEnvDuration("MA_JWKS_REFRESH_INTERVAL", 15*time.Minute); err != nil {
		return nil, fmt.Errorf("MA_JWKS_REFRESH_INTERVAL: %w", err)
	}

	// --- Сверка и очистка ---
	if cfg.ReconcileInterval, err = getEnvDuration("MA_RECONCILE_INTERVAL", 6*time.Hour); err != nil {
		return nil, fmt.Errorf("MA_RECONCILE_INTERVAL: %w", err)
	}
	if cfg.ReconcileOrphanGrace, err = getEnvDuration("MA_RECONCILE_ORPHAN_GRACE", time.Hour); err != nil {
		return nil, fmt.Errorf("MA_RECONCILE_ORPHAN_GRACE: %w", err)
	}
	if cfg.ReconcileRemoveOrphans, err = getEnvBool("MA_RECONCILE_REMOVE_ORPHANS", false); err != nil {
		return nil, fmt.Errorf("MA_RECONCILE_REMOVE_ORPHANS: %w", err)
	}
	if cfg.ReconcileVerifyDigests, err = getEnvBool("MA_RECONCILE_VERIFY_DIGESTS", false); err != nil {
		return nil, fmt.Errorf("MA_RECONCILE_VERIFY_DIGESTS: %w", err)
	}
	if cfg.GCInterval, err = getEnvDuration("MA_GC_INTERVAL", time.Hour); err != nil {
		return nil, fmt.Errorf("MA_GC_INTERVAL: %w", err)
	}
	if cfg.IncomingTTL, err = getEnvDuration("MA_INCOMING_TTL", 24*time.Hour); err != nil {
		return nil, fmt.Errorf("MA_INCOMING_TTL: %w", err)
	}

	// --- Кэш ---
	if cfg.CacheSize, err = getEnvInt("MA_CACHE_SIZE", 1024); err != nil {
		return nil, fmt.Errorf("MA_CACHE_SIZE: %w", err)
	}
	if cfg.CacheSize <= 0 {
		return nil, fmt.Errorf("MA_CACHE_SIZE: значение должно быть положительным")
	}
	if cfg.CacheTTL, err = getEnvDuration("MA_CACHE_TTL", 5*time.Minute); err != nil {
		return nil, fmt.Errorf("MA_CACHE_TTL: %w", err)
	}

	// --- Фоновая обработка ---
	if cfg.EnrichWorkers, err = getEnvInt("MA_ENRICH_WORKERS", 2); err != nil {
		return nil, fmt.Errorf("MA_ENRICH_WORKERS: %w", err)
	}
	if cfg.EnrichWorkers <= 0 {
		return nil, fmt.Errorf("MA_ENRICH_WORKERS: значение должно быть положительным")
	}
	if cfg.EnrichQueue, err = getEnvInt("MA_ENRICH_QUEUE", 256); err != nil {
		return nil, fmt.Errorf("MA_ENRICH_QUEUE: %w", err)
	}
	if cfg.EnrichQueue <= 0 {
		return nil, fmt.Errorf("MA_ENRICH_QUEUE: значение должно быть положительным")
	}

	cfg.OCRCommand = getEnvDefault("MA_OCR_COMMAND", "")
	cfg.OCRLanguage = getEnvDefault("MA_OCR_LANGUAGE", "por")
	if cfg.OCRTimeout, err = getEnvDuration("MA_OCR_TIMEOUT", 2*time.Minute); err != nil {
		return nil, fmt.Errorf("MA_OCR_TIMEOUT: %w", err)
	}

	cfg.BackupEndpoint = getEnvDefault("MA_BACKUP_ENDPOINT", "")
	cfg.BackupAccessKey = os.Getenv("MA_BACKUP_ACCESS_KEY")
	cfg.BackupSecretKey = os.Getenv("MA_BACKUP_SECRET_KEY")
	cfg.BackupBucket = getEnvDefault("MA_BACKUP_BUCKET", "medarchive-backup")
	if cfg.BackupUseSSL, err = getEnvBool("MA_BACKUP_USE_SSL", false); err != nil {
		return nil, fmt.Errorf("MA_BACKUP_USE_SSL: %w", err)
	}
	if cfg.BackupEndpoint != "" && (cfg.BackupAccessKey == "" || cfg.BackupSecretKey == "") {
		return nil, fmt.Errorf("MA_BACKUP_ACCESS_KEY, MA_BACKUP_SECRET_KEY: обязательны при заданном MA_BACKUP_ENDPOINT")
	}

	// --- topologymetrics ---
	if cfg.DephealthCheckInterval, err = getEnvDuration("MA_DEPHEALTH_CHECK_INTERVAL", 15*time.Second); err != nil {
		return nil, fmt.Errorf("MA_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}
	cfg.DephealthGroup = getEnvDefault("MA_DEPHEALTH_GROUP", "medarchive")

	if cfg.ShutdownTimeout, err = getEnvDuration("MA_SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return nil, fmt.Errorf("MA_SHUTDOWN_TIMEOUT: %w", err)
	}

	// --- Логирование ---
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("MA_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("MA_LOG_LEVEL: %w", err)
	}
	cfg.LogFormat = getEnvDefault("MA_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("MA_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL PostgreSQL для golang-migrate и topologymetrics.
// scheme — "postgres" или "pgx5".
func (c *Config) DatabaseURL(scheme string) string {
	u := url.URL{
		Scheme:   scheme,
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + c.DBSSLMode,
	}
	return u.String()
}

// AuthEnabled — задан ли JWKS endpoint.
func (c *Config) AuthEnabled() bool {
	return c.JWKSUrl != ""
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

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

func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное логическое значение: %q (допустимые: true, false)", val)
	}
	return b, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 6h)", val)
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

// parseCSV разбирает строку, разделённую запятыми, на срез строк.
// Пробелы вокруг элементов убираются, пустые элементы игнорируются.
func parseCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
