// Package logger — общая обёртка над zap для демона и CLI флота.
// Уровень меняется на лету через zap.AtomicLevel; целевые потоки
// (stdout/stderr, опциональный ротируемый файл) можно переназначать в
// рантайме. Глобальное состояние защищено мьютексом.

package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// mu защищает глобальное состояние логгера.
	mu sync.Mutex
	// log — текущий экземпляр zap.Logger.
	log *zap.Logger
	// logLevel меняет уровень без пересоздания ядра.
	logLevel = zap.NewAtomicLevelAt(zap.InfoLevel)
	// encoderCfg — настройки форматирования; обновляется в Init.
	encoderCfg = defaultEncoderConfig()
	// stdoutWriter — поток обычных записей.
	stdoutWriter = zapcore.Lock(zapcore.AddSync(os.Stdout))
	// stderrWriter — поток внутренних ошибок zap.
	stderrWriter = zapcore.Lock(zapcore.AddSync(os.Stderr))
	// fileSink — опциональный ротируемый файловый writer (см. EnableFileSink).
	// nil, пока fleetd не включит запись на диск.
	fileSink *lumberjack.Logger
)

// defaultEncoderConfig — консольный encoder с цветами и коротким caller,
// фиксированный формат времени YYYY-MM-DD HH:MM:SS.
func defaultEncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalColorLevelEncoder,
		EncodeTime:     zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05"),
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

// rebuildLoggerLocked пересоздаёт логгер с текущими потоками и уровнем;
// вызывающий держит mu. AddCallerSkip(1) скрывает обёртки logger.* в
// стеке. Перед заменой старый логгер Sync()-ится.
func rebuildLoggerLocked() {
	encoder := zapcore.NewConsoleEncoder(encoderCfg)
	core := zapcore.NewCore(encoder, stdoutWriter, logLevel)
	if fileSink != nil {
		// Файловый синк пишет без цветовых кодов и без блокировки консоли:
		// отдельный JSON encoder, тот же уровень и тот же ротируемый writer.
		fileEncoderCfg := encoderCfg
		fileEncoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(fileEncoderCfg), zapcore.AddSync(fileSink), logLevel)
		core = zapcore.NewTee(core, fileCore)
	}
	if log != nil {
		_ = log.Sync()
	}
	log = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1), zap.ErrorOutput(stderrWriter))
}

// EnableFileSink добавляет ротируемый файловый writer к консольному выводу.
// maxSizeMB/maxBackups/maxAgeDays — ручки ротации lumberjack (размер,
// число бэкапов, срок хранения). Вызывается один раз, до или после Init.
// Нужен fleetd; интерактивному fleetctl файловый синк ни к чему.
func EnableFileSink(path string, maxSizeMB, maxBackups, maxAgeDays int) {
	mu.Lock()
	defer mu.Unlock()

	fileSink = &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
		Compress:   true,
	}
	rebuildLoggerLocked()
}

// DisableFileSink закрывает и убирает файловый синк, если он активен.
// В основном для тестов, включающих синк на временный каталог.
func DisableFileSink() {
	mu.Lock()
	defer mu.Unlock()

	if fileSink != nil {
		_ = fileSink.Close()
		fileSink = nil
	}
	rebuildLoggerLocked()
}

// Init инициализирует глобальный логгер. Уровни: debug, info (по
// умолчанию), warn, error, без учёта регистра.
func Init(level string) {
	mu.Lock()
	defer mu.Unlock()

	switch strings.ToLower(level) {
	case "debug":
		logLevel.SetLevel(zap.DebugLevel)
	case "warn":
		logLevel.SetLevel(zap.WarnLevel)
	case "error":
		logLevel.SetLevel(zap.ErrorLevel)
	default:
		logLevel.SetLevel(zap.InfoLevel)
	}

	encoderCfg = defaultEncoderConfig()
	rebuildLoggerLocked()
}

// SetWriters переназначает целевые потоки и пересобирает core. Nil
// возвращает os.Stdout/os.Stderr. Можно вызывать в рантайме (например,
// чтобы печатать через буферы readline).
func SetWriters(stdout, stderr io.Writer) {
	mu.Lock()
	defer mu.Unlock()

	if stdout == nil {
		stdoutWriter = zapcore.Lock(zapcore.AddSync(os.Stdout))
	} else {
		stdoutWriter = zapcore.Lock(zapcore.AddSync(stdout))
	}
	if stderr == nil {
		stderrWriter = zapcore.Lock(zapcore.AddSync(os.Stderr))
	} else {
		stderrWriter = zapcore.Lock(zapcore.AddSync(stderr))
	}

	rebuildLoggerLocked()
}

// Logger возвращает текущий zap.Logger, лениво создавая его при первом
// обращении. API сырое, не Sugared.
func Logger() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()

	if log == nil {
		rebuildLoggerLocked()
	}
	return log
}

// IsDebugEnabled сообщает, включён ли debug-уровень.
func IsDebugEnabled() bool {
	return Logger().Level() <= zap.DebugLevel
}

func Debug(msg string, fields ...zap.Field) { Logger().Debug(msg, fields...) }

func Info(msg string, fields ...zap.Field) { Logger().Info(msg, fields...) }

func Warn(msg string, fields ...zap.Field) { Logger().Warn(msg, fields...) }

func Error(msg string, fields ...zap.Field) { Logger().Error(msg, fields...) }

// Fatal пишет сообщение уровня Fatal и завершает процесс.
func Fatal(msg string, fields ...zap.Field) {
	Logger().Fatal(msg, fields...)
	_ = Logger().Sync()
	os.Exit(1)
}

// *f-варианты форматируют через fmt.Sprintf; в горячих путях
// предпочтительнее структурированные поля.
func Debugf(msg string, a ...any) { Logger().Debug(fmt.Sprintf(msg, a...)) }

func Infof(msg string, a ...any) { Logger().Info(fmt.Sprintf(msg, a...)) }

func Warnf(msg string, a ...any) { Logger().Warn(fmt.Sprintf(msg, a...)) }

func Errorf(msg string, a ...any) { Logger().Error(fmt.Sprintf(msg, a...)) }
