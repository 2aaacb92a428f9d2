// Package logger implements the framework's Logger Manager (component C3):
// a registry of independently configured, lazily built *slog.Logger
// instances keyed by logger id, with a conventional "default" entry kept in
// the package-level Log variable for callers that don't need a named one.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Log is the default logger, set by Init/InitWithConfig and by the first
// call to Manager.Get("default") on a freshly constructed Manager.
var Log *slog.Logger

// Config is one logger's configuration, as found under application.yaml's
// `loggers:` map.
type Config struct {
	Level      string `koanf:"level"`
	Format     string `koanf:"format"` // json, text
	Output     string `koanf:"output"` // stdout, stderr, file
	FilePath   string `koanf:"file_path"`
	MaxSize    int    `koanf:"max_size"` // MB
	MaxBackups int    `koanf:"max_backups"`
	MaxAge     int    `koanf:"max_age"` // days
	Compress   bool   `koanf:"compress"`
}

// DefaultConfig returns the Config Init uses when only a level is given.
func DefaultConfig(level string) Config {
	return Config{Level: level, Format: "json", Output: "stdout"}
}

// Manager is the Logger Manager: it builds and caches named loggers from
// their Config, so that repeated Get calls for the same id return the same
// *slog.Logger rather than re-opening log files.
type Manager struct {
	mu       sync.RWMutex
	configs  map[string]Config
	built    map[string]*slog.Logger
	fallback Config
}

// NewManager creates a Logger Manager. configs maps logger id to its Config;
// fallback is used for any id requested that has no entry in configs (and
// for the conventional "default" id when configs doesn't define one).
func NewManager(configs map[string]Config, fallback Config) *Manager {
	return &Manager{
		configs:  configs,
		built:    make(map[string]*slog.Logger),
		fallback: fallback,
	}
}

// Get returns the logger registered under id, building and caching it from
// its Config on first use. Unknown ids fall back to the manager's default
// Config rather than erroring, since a missing `loggers:` entry should not
// make a component fail to start.
func (m *Manager) Get(id string) *slog.Logger {
	m.mu.RLock()
	if l, ok := m.built[id]; ok {
		m.mu.RUnlock()
		return l
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.built[id]; ok {
		return l
	}

	cfg, ok := m.configs[id]
	if !ok {
		cfg = m.fallback
	}
	l := build(cfg)
	m.built[id] = l
	if id == "default" {
		Log = l
	}
	return l
}

// build constructs a *slog.Logger from a Config, matching Init/InitWithConfig's
// level/format/output selection.
func build(cfg Config) *slog.Logger {
	var lvl slog.Level
	switch cfg.Level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	var writer io.Writer
	switch cfg.Output {
	case "stderr":
		writer = os.Stderr
	case "file":
		path := cfg.FilePath
		if path == "" {
			path = "logs/app.log"
		}
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			writer = os.Stdout
		} else {
			writer = &lumberjack.Logger{
				Filename:   path,
				MaxSize:    cfg.MaxSize,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAge,
				Compress:   cfg.Compress,
			}
		}
	default:
		writer = os.Stdout
	}

	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl == slog.LevelDebug,
	}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(writer, opts)
	default:
		handler = slog.NewJSONHandler(writer, opts)
	}

	return slog.New(handler)
}

// Init initializes the package-level default logger only, for callers (and
// tests) that don't need the full Manager.
func Init(level string) {
	InitWithConfig(DefaultConfig(level))
}

// InitWithConfig initializes the package-level default logger with a full
// Config.
func InitWithConfig(cfg Config) {
	Log = build(cfg)
}

// WithContext returns a derived logger carrying the given key/value args.
// ctx is accepted for call-site symmetry with handlers that thread a
// context through every log call; no values are currently read from it.
func WithContext(_ context.Context, args ...any) *slog.Logger {
	return Log.With(args...)
}

// WithRequestID returns a derived logger tagged with a request id.
func WithRequestID(requestID string) *slog.Logger {
	return Log.With("request_id", requestID)
}

// WithService returns a derived logger tagged with a service name.
func WithService(service string) *slog.Logger {
	return Log.With("service", service)
}

// Debug logs at debug level on the default logger.
func Debug(msg string, args ...any) { Log.Debug(msg, args...) }

// Info logs at info level on the default logger.
func Info(msg string, args ...any) { Log.Info(msg, args...) }

// Warn logs at warn level on the default logger.
func Warn(msg string, args ...any) { Log.Warn(msg, args...) }

// Error logs at error level on the default logger.
func Error(msg string, args ...any) { Log.Error(msg, args...) }

// Fatal logs at error level on the default logger and exits the process.
func Fatal(msg string, args ...any) {
	Log.Error(msg, args...)
	os.Exit(1)
}
