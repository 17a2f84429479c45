// Package config отвечает за сбор и предоставление конфигурации всего флота.
// Он:
//  1. читает переменные окружения из .env (через godotenv),
//  2. нормализует и валидирует входные значения,
//  3. предоставляет потокобезопасный доступ к результату через R/W мьютекс.
//
// Бизнес-контекст: конфиг управляет подключением к хранилищу (Postgres),
// очереди задач (Redis), ключом сейфа сессий, LLM-провайдером и его
// фоллбэками, опциональным процесс-wide прокси для исходящего HTTP-трафика,
// лимитом одновременно запущенных воркеров и общими операционными ручками
// (лог-уровень, часовой пояс, каталог данных).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"

	"telegram-fleet/internal/infra/timeutil"
)

// EnvConfig описывает параметры, приходящие из окружения (.env).
//
// NB: значения уже проходят минимальную валидацию и нормализацию в loadConfig.
// В рантайме по месту использования предполагается, что EnvConfig последователен.
type EnvConfig struct {
	LogLevel string
	DataDir  string
	LogFile  string // путь к файлу ротируемых логов; пусто — файловый синк выключен

	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int

	PostgresDSN string

	QueueBackend string // "redis" | "inmemory"
	RedisAddr    string
	RedisDB      int

	VaultKeyHex string // 32-байтный ключ XChaCha20-Poly1305, hex-кодированный

	LLMProvider    string
	LLMAPIKey      string
	LLMDefaultModel string
	LLMTimeoutSec  int

	ProcessProxyURL string // опциональный process-wide proxy для LLM/health-check

	AppTimezone string

	MaxFleetSize       int
	WorkerSpacingMS    int
	TargetBatchLimit   int
	DistributeInterval int // секунды
	HealthCheckInterval int // секунды
	DBSyncInterval      int // секунды

	ProxyCheckInterval   int // секунды; период фоновой проверки прокси-пула
	ProxyChecksPerSecond int // темп исходящих проверочных соединений
}

// Config хранит конфигурацию среды.
//
// Потокобезопасность: публичные геттеры берут RLock.
type Config struct {
	Env      EnvConfig
	warnings []string
	mu       sync.RWMutex
}

const (
	defaultLogLevel            = "info"
	defaultDataDir             = "data"
	defaultQueueBackend        = "redis"
	defaultRedisAddr           = "127.0.0.1:6379"
	defaultRedisDB             = 0
	defaultLLMProvider         = "openai"
	defaultLLMDefaultModel     = "gpt-4o-mini"
	defaultLLMTimeoutSec       = 30
	defaultAppTimezone         = "UTC"
	defaultMaxFleetSize        = 200
	defaultWorkerSpacingMS     = 500
	defaultTargetBatchLimit    = 100
	defaultDistributeInterval = 30
	defaultHealthCheckInterval = 60
	defaultDBSyncInterval      = 300
	defaultProxyCheckInterval  = 60
	defaultProxyChecksPerSec   = 5
	defaultLogMaxSizeMB        = 100
	defaultLogMaxBackups       = 7
	defaultLogMaxAgeDays       = 14
)

var (
	cfgInstance *Config
	cfgDone     bool
)

// Load — точка входа для инициализации глобальной конфигурации всего флота.
// При первом вызове: читает .env, формирует EnvConfig, фиксирует результат в
// singleton cfgInstance. Повторный вызов запрещён, чтобы избежать гонок
// конфигурации на старте.
func Load(envPath string) error {
	if cfgDone {
		return errors.New("config already loaded")
	}
	if cfgInstance == nil {
		cfgInstance = &Config{}
	}
	cfgInstance.mu.Lock()
	defer cfgInstance.mu.Unlock()
	newCfg, err := loadConfig(envPath)
	cfgInstance = newCfg
	cfgDone = true
	return err
}

// loadConfig выполняет фактическую загрузку/валидацию без установки
// глобального состояния. Удобно для тестов: можно собрать временный Config и
// проверить его.
func loadConfig(envPath string) (*Config, error) {
	if err := godotenv.Load(envPath); err != nil {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	postgresDSN := strings.TrimSpace(os.Getenv("POSTGRES_DSN"))
	if postgresDSN == "" {
		return nil, errors.New("env POSTGRES_DSN must be set")
	}

	llmAPIKey := strings.TrimSpace(os.Getenv("LLM_API_KEY"))
	if llmAPIKey == "" {
		return nil, errors.New("env LLM_API_KEY must be set")
	}

	var warnings []string

	logLevel := sanitizeLogLevel(os.Getenv("LOG_LEVEL"), &warnings)
	dataDir := sanitizeFile("DATA_DIR", os.Getenv("DATA_DIR"), defaultDataDir, &warnings)
	queueBackend := sanitizeQueueBackend(os.Getenv("QUEUE_BACKEND"), &warnings)
	redisAddr := sanitizeFile("REDIS_ADDR", os.Getenv("REDIS_ADDR"), defaultRedisAddr, &warnings)
	redisDB := parseIntDefault("REDIS_DB", defaultRedisDB, nonNegative, &warnings)
	vaultKeyHex := strings.TrimSpace(os.Getenv("VAULT_KEY_HEX"))
	llmProvider := sanitizeFile("LLM_PROVIDER", os.Getenv("LLM_PROVIDER"), defaultLLMProvider, &warnings)
	llmModel := sanitizeFile("LLM_DEFAULT_MODEL", os.Getenv("LLM_DEFAULT_MODEL"), defaultLLMDefaultModel, &warnings)
	llmTimeout := parseIntDefault("LLM_TIMEOUT_SEC", defaultLLMTimeoutSec, greaterThanZero, &warnings)
	processProxy := strings.TrimSpace(os.Getenv("PROCESS_PROXY_URL"))
	appTimezone := sanitizeTimezoneFlexible(os.Getenv("APP_TIMEZONE"), defaultAppTimezone, &warnings)
	maxFleet := parseIntDefault("MAX_FLEET_SIZE", defaultMaxFleetSize, greaterThanZero, &warnings)
	spacingMS := parseIntDefault("WORKER_SPACING_MS", defaultWorkerSpacingMS, nonNegative, &warnings)
	batchLimit := parseIntDefault("TARGET_BATCH_LIMIT", defaultTargetBatchLimit, greaterThanZero, &warnings)
	distributeInterval := parseIntDefault("DISTRIBUTE_INTERVAL_SEC", defaultDistributeInterval, greaterThanZero, &warnings)
	healthInterval := parseIntDefault("HEALTH_CHECK_INTERVAL_SEC", defaultHealthCheckInterval, greaterThanZero, &warnings)
	dbSyncInterval := parseIntDefault("DB_SYNC_INTERVAL_SEC", defaultDBSyncInterval, greaterThanZero, &warnings)
	proxyCheckInterval := parseIntDefault("PROXY_CHECK_INTERVAL_SEC", defaultProxyCheckInterval, greaterThanZero, &warnings)
	proxyChecksPerSec := parseIntDefault("PROXY_CHECKS_PER_SEC", defaultProxyChecksPerSec, greaterThanZero, &warnings)
	logFile := strings.TrimSpace(os.Getenv("LOG_FILE"))
	logMaxSizeMB := parseIntDefault("LOG_MAX_SIZE_MB", defaultLogMaxSizeMB, greaterThanZero, &warnings)
	logMaxBackups := parseIntDefault("LOG_MAX_BACKUPS", defaultLogMaxBackups, nonNegative, &warnings)
	logMaxAgeDays := parseIntDefault("LOG_MAX_AGE_DAYS", defaultLogMaxAgeDays, nonNegative, &warnings)

	if vaultKeyHex == "" {
		appendWarningf(&warnings, "env VAULT_KEY_HEX is not set; session vault will refuse to open until it is provided")
	}

	env := EnvConfig{
		LogLevel:            logLevel,
		DataDir:             dataDir,
		LogFile:             logFile,
		LogMaxSizeMB:        logMaxSizeMB,
		LogMaxBackups:       logMaxBackups,
		LogMaxAgeDays:       logMaxAgeDays,
		PostgresDSN:         postgresDSN,
		QueueBackend:        queueBackend,
		RedisAddr:           redisAddr,
		RedisDB:             redisDB,
		VaultKeyHex:         vaultKeyHex,
		LLMProvider:         llmProvider,
		LLMAPIKey:           llmAPIKey,
		LLMDefaultModel:     llmModel,
		LLMTimeoutSec:       llmTimeout,
		ProcessProxyURL:     processProxy,
		AppTimezone:         appTimezone,
		MaxFleetSize:        maxFleet,
		WorkerSpacingMS:     spacingMS,
		TargetBatchLimit:    batchLimit,
		DistributeInterval:  distributeInterval,
		HealthCheckInterval: healthInterval,
		DBSyncInterval:      dbSyncInterval,
		ProxyCheckInterval:   proxyCheckInterval,
		ProxyChecksPerSecond: proxyChecksPerSec,
	}

	return &Config{Env: env, warnings: warnings}, nil
}

// Warnings возвращает накопленные предупреждения, возникшие при загрузке
// .env (например, когда подставлено значение по умолчанию). Возвращается копия.
func Warnings() []string {
	cfgInstance.mu.RLock()
	defer cfgInstance.mu.RUnlock()
	result := make([]string, len(cfgInstance.warnings))
	copy(result, cfgInstance.warnings)
	return result
}

// Env возвращает EnvConfig из глобального singleton. Это неизменяемый снимок
// на момент последней загрузки; для обновления надо перечитать конфиг целиком.
func Env() EnvConfig {
	cfgInstance.mu.RLock()
	defer cfgInstance.mu.RUnlock()
	return cfgInstance.Env
}

var (
	appLocationOnce sync.Once
	appLocation     *time.Location
)

// AppLocation возвращает общую для всего флота таймзону (APP_TIMEZONE),
// которую применяет clock.InAppLocation. В расчётах она не участвует: окна
// расписания и сна аккаунта считаются в его собственной Schedule.TZ, час
// дневного сброса — по UTC.
func AppLocation() *time.Location {
	appLocationOnce.Do(func() {
		loc, err := timeutil.ParseLocation(Env().AppTimezone)
		if err != nil {
			loc = time.UTC
		}
		appLocation = loc
	})
	return appLocation
}

func parseIntDefault(name string, defaultVal int, validator func(int) bool, warnings *[]string) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		appendWarningf(warnings, "env %s is not set; using default %d", name, defaultVal)
		return defaultVal
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		appendWarningf(warnings, "env %s value %q is not a valid integer; using default %d", name, value, defaultVal)
		return defaultVal
	}
	if validator != nil && !validator(v) {
		appendWarningf(warnings, "env %s value %d does not satisfy constraints; using default %d", name, v, defaultVal)
		return defaultVal
	}
	return v
}

func appendWarningf(warnings *[]string, format string, args ...any) {
	if warnings == nil {
		return
	}
	*warnings = append(*warnings, fmt.Sprintf(format, args...))
}

func greaterThanZero(v int) bool { return v > 0 }
func nonNegative(v int) bool     { return v >= 0 }

func sanitizeLogLevel(level string, warnings *[]string) string {
	lvl := strings.ToLower(strings.TrimSpace(level))
	if lvl == "" {
		appendWarningf(warnings, "env LOG_LEVEL is not set; using default %q", defaultLogLevel)
		return defaultLogLevel
	}
	switch lvl {
	case "debug", "info", "warn", "error":
		return lvl
	default:
		appendWarningf(warnings, "env LOG_LEVEL value %q is invalid; using default %q", level, defaultLogLevel)
		return defaultLogLevel
	}
}

func sanitizeQueueBackend(value string, warnings *[]string) string {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "" {
		appendWarningf(warnings, "env QUEUE_BACKEND is not set; using default %q", defaultQueueBackend)
		return defaultQueueBackend
	}
	switch v {
	case "redis", "inmemory":
		return v
	default:
		appendWarningf(warnings, "env QUEUE_BACKEND value %q is invalid; using default %q", value, defaultQueueBackend)
		return defaultQueueBackend
	}
}

// sanitizeFile возвращает валидное строковое значение конфигурации. Если
// переменная не задана, подставляет fallback и пишет предупреждение. Имя
// сохранено по историческим причинам (изначально использовалась только для
// путей к файлам), но годится для любого непустого строкового параметра.
func sanitizeFile(name, value, fallback string, warnings *[]string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		appendWarningf(warnings, "env %s is not set; using default %q", name, fallback)
		return fallback
	}
	return v
}

// ParseLocation разбирает либо IANA-таймзону (например, "Europe/Moscow"),
// либо UTC-смещение (например, "+03:00", "-0700", "UTC+3", "GMT-04:30").
// Делегирует в internal/infra/timeutil, общий для всего приложения.
func ParseLocation(value string) (*time.Location, error) {
	return timeutil.ParseLocation(value)
}

func sanitizeTimezoneFlexible(value string, fallback string, warnings *[]string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		appendWarningf(warnings, "env APP_TIMEZONE is not set; using default %q", fallback)
		return fallback
	}
	if _, err := timeutil.ParseLocation(v); err != nil {
		appendWarningf(warnings, "timezone %q is invalid; using default %q", v, fallback)
		return fallback
	}
	return v
}
