package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix    = "MICROCORE_"
	configEnvVar = "CONFIG_PATH"
)

// Loader loads application.yaml in layers: defaults, then file, then
// environment variables (highest priority), matching the Config Center's
// note that remote config always wins over local file fallback, and env
// always wins over both for process-level overrides.
type Loader struct {
	k           *koanf.Koanf
	configPaths []string
	envPrefix   string
}

// NewLoader creates a config Loader.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		k: koanf.New("."),
		configPaths: []string{
			"application.yaml",
			"config/application.yaml",
			"/etc/microcore/application.yaml",
		},
		envPrefix: envPrefix,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithConfigPaths sets the search paths for application.yaml.
func WithConfigPaths(paths ...string) LoaderOption {
	return func(l *Loader) {
		l.configPaths = paths
	}
}

// WithEnvPrefix sets the environment variable prefix.
func WithEnvPrefix(prefix string) LoaderOption {
	return func(l *Loader) {
		l.envPrefix = prefix
	}
}

// Load loads configuration with priority:
// 1. Defaults (lowest)
// 2. Config file (yaml)
// 3. Environment variables (highest)
func (l *Loader) Load() (*Config, error) {
	if err := l.loadDefaults(); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if err := l.loadConfigFile(); err != nil {
		fmt.Printf("Warning: %v\n", err)
	}

	if err := l.loadEnv(); err != nil {
		return nil, fmt.Errorf("failed to load env: %w", err)
	}

	var cfg Config
	if err := l.k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// loadDefaults loads the framework's baked-in defaults.
func (l *Loader) loadDefaults() error {
	defaults := map[string]any{
		// App
		"app.name":        "microcore-service",
		"app.version":     "1.0.0",
		"app.environment": "development",
		"app.debug":       false,
		"app.server_id":   "",
		"app.base_path":   ".",

		// Web server
		"web_server.kind":                               "http",
		"web_server.host":                               "0.0.0.0",
		"web_server.port":                               8080,
		"web_server.max_recv_msg_size":                   16 * 1024 * 1024,
		"web_server.max_send_msg_size":                   16 * 1024 * 1024,
		"web_server.max_concurrent_conn":                 1000,
		"web_server.read_timeout":                        30 * time.Second,
		"web_server.write_timeout":                       30 * time.Second,
		"web_server.shutdown_timeout":                    10 * time.Second,
		"web_server.keepalive.max_connection_idle":       15 * time.Minute,
		"web_server.keepalive.max_connection_age":        30 * time.Minute,
		"web_server.keepalive.max_connection_age_grace":  5 * time.Minute,
		"web_server.keepalive.time":                      5 * time.Minute,
		"web_server.keepalive.timeout":                   20 * time.Second,
		"web_server.tls.enabled":                          false,
		"web_server.cors.enabled":                         true,
		"web_server.cors.allowed_origins":                 []string{"*"},
		"web_server.cors.allowed_methods":                 []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		"web_server.cors.allowed_headers":                 []string{"*"},
		"web_server.cors.allow_credentials":                false,
		"web_server.cors.max_age":                          86400,

		// Loggers
		"loggers.default.level":       "info",
		"loggers.default.format":      "json",
		"loggers.default.output":      "stdout",
		"loggers.default.max_size":    100,
		"loggers.default.max_backups": 3,
		"loggers.default.max_age":     7,
		"loggers.default.compress":    true,

		// Metrics
		"metrics.enabled":   true,
		"metrics.port":      9090,
		"metrics.path":      "/metrics",
		"metrics.namespace": "microcore",
		"metrics.subsystem": "",

		// Tracing
		"tracing.enabled":       false,
		"tracing.endpoint":      "localhost:4317",
		"tracing.service_name":  "microcore-service",
		"tracing.sample_rate":   0.1,
		"tracing.inject_format": "http_headers",

		// Cache
		"cache.enabled":     false,
		"cache.driver":      "memory",
		"cache.host":        "localhost",
		"cache.port":        6379,
		"cache.db":          0,
		"cache.default_ttl": 5 * time.Minute,
		"cache.max_entries": 10000,

		// Rate limit (inf_check default adapter)
		"rate_limit.enabled":          true,
		"rate_limit.requests":         100,
		"rate_limit.window":           time.Minute,
		"rate_limit.strategy":         "sliding_window",
		"rate_limit.backend":          "memory",
		"rate_limit.burst_size":       10,
		"rate_limit.cleanup_interval": 5 * time.Minute,

		// Audit (inf_logging default adapter)
		"audit.enabled":      true,
		"audit.backend":      "stdout",
		"audit.buffer_size":  1000,
		"audit.flush_period": 5 * time.Second,

		// Retry (Remote Caller)
		"retry.max_attempts":       3,
		"retry.initial_backoff":    100 * time.Millisecond,
		"retry.max_backoff":        10 * time.Second,
		"retry.backoff_multiplier": 2.0,

		// Cluster
		"cluster.enabled":            false,
		"cluster.endpoints":          []string{"127.0.0.1:2379"},
		"cluster.namespace":          "microcore",
		"cluster.sys":                "default-sys",
		"cluster.mod":                "default-mod",
		"cluster.lease_ttl_seconds":  10,
		"cluster.heartbeat_interval": 3 * time.Second,
		"cluster.event_interval":     1 * time.Second,
		"cluster.dial_timeout":       5 * time.Second,

		// i18n
		"i18n.enabled":        false,
		"i18n.catalog_path":   "config/i18n",
		"i18n.default_locale": "en",
	}

	return l.k.Load(confmap.Provider(defaults, "."), nil)
}

// loadConfigFile loads application.yaml, preferring CONFIG_PATH over the
// configured search path list.
func (l *Loader) loadConfigFile() error {
	if configPath := os.Getenv(configEnvVar); configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			return l.k.Load(file.Provider(configPath), yaml.Parser())
		}
	}

	for _, path := range l.configPaths {
		absPath, err := filepath.Abs(path)
		if err != nil {
			continue
		}

		if _, err := os.Stat(absPath); err == nil {
			return l.k.Load(file.Provider(absPath), yaml.Parser())
		}
	}

	return fmt.Errorf("config file not found in paths: %v", l.configPaths)
}

// loadEnv loads environment variable overrides, e.g.
// MICROCORE_WEB_SERVER_PORT -> web_server.port.
func (l *Loader) loadEnv() error {
	// Known keys are matched by their underscore form first, so that key
	// segments which themselves contain underscores resolve correctly.
	known := make(map[string]string)
	for _, key := range l.k.Keys() {
		known[strings.ReplaceAll(key, ".", "_")] = key
	}
	return l.k.Load(env.Provider(l.envPrefix, ".", func(s string) string {
		name := strings.ToLower(strings.TrimPrefix(s, l.envPrefix))
		if key, ok := known[name]; ok {
			return key
		}
		return strings.ReplaceAll(name, "_", ".")
	}), nil)
}

// MustLoad loads configuration or panics.
func MustLoad(opts ...LoaderOption) *Config {
	cfg, err := NewLoader(opts...).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Load is a convenience function that loads with default settings.
func Load() (*Config, error) {
	return NewLoader().Load()
}

// LoadWithServiceDefaults loads configuration and overrides the service
// name/port for a specific service's defaults.
func LoadWithServiceDefaults(serviceName string, defaultPort int) (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	if cfg.WebServer.Port == 8080 && defaultPort != 0 {
		cfg.WebServer.Port = defaultPort
	}

	if cfg.App.Name == "microcore-service" {
		cfg.App.Name = serviceName
	}

	return cfg, nil
}

// LoadServicesFile reads services.yaml: the descriptors of services this
// process exposes locally.
func LoadServicesFile(path string) (*ServicesFile, error) {
	var f ServicesFile
	if err := loadYAMLFile(path, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// LoadRemoteServicesFile reads remoteServices.yaml: the descriptors of
// services this process calls as a Remote Caller client.
func LoadRemoteServicesFile(path string) (*RemoteServicesFile, error) {
	var f RemoteServicesFile
	if err := loadYAMLFile(path, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// LoadAdaptersFile reads adapters.yaml: plugin descriptors for every
// non-default adapter this process should load at boot.
func LoadAdaptersFile(path string) (*AdaptersFile, error) {
	var f AdaptersFile
	if err := loadYAMLFile(path, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// loadYAMLFile parses a single yaml file into out, tolerating a missing
// file by leaving out at its zero value (services.yaml and friends are all
// optional: a process may expose no services, call no remote services, or
// need no adapters.yaml beyond the framework's built-in defaults).
func loadYAMLFile(path string, out any) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return k.Unmarshal("", out)
}
