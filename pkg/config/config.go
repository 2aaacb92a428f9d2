// Package config defines the framework's typed configuration tree, loaded
// by Loader from the layered application.yaml / adapters.yaml / services.yaml
// / remoteServices.yaml documents described by the Config Center.
package config

import (
	"fmt"
	"strings"
	"time"

	"microcore/pkg/types"
)

// Config is the top-level application.yaml document.
type Config struct {
	App       AppConfig             `koanf:"app"`
	WebServer WebServerConfig       `koanf:"web_server"`
	Loggers   map[string]LogConfig  `koanf:"loggers"`
	Metrics   MetricsConfig         `koanf:"metrics"`
	Tracing   TracingConfig         `koanf:"tracing"`
	Cache     CacheConfig           `koanf:"cache"`
	RateLimit RateLimitConfig       `koanf:"rate_limit"`
	Audit     AuditConfig           `koanf:"audit"`
	Retry     RetryConfig           `koanf:"retry"`
	Cluster   ClusterConfig         `koanf:"cluster"`
	I18n      I18nConfig            `koanf:"i18n"`
}

// AppConfig holds process identity and environment.
type AppConfig struct {
	Name        string `koanf:"name"`
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"` // development, staging, production
	Debug       bool   `koanf:"debug"`
	ServerID    string `koanf:"server_id"`
	BasePath    string `koanf:"base_path"`
}

// WebServerConfig configures the Web Server Adapter (C11): which transport
// to boot (fiber http, or grpc) and its listen/keepalive/TLS parameters.
type WebServerConfig struct {
	Kind              string          `koanf:"kind"` // "http" (fiber) or "grpc"
	Host              string          `koanf:"host"`
	Port              int             `koanf:"port"`
	MaxRecvMsgSize    int             `koanf:"max_recv_msg_size"`
	MaxSendMsgSize    int             `koanf:"max_send_msg_size"`
	MaxConcurrentConn int             `koanf:"max_concurrent_conn"`
	ReadTimeout       time.Duration   `koanf:"read_timeout"`
	WriteTimeout      time.Duration   `koanf:"write_timeout"`
	ShutdownTimeout   time.Duration   `koanf:"shutdown_timeout"`
	KeepAlive         KeepAliveConfig `koanf:"keepalive"`
	TLS               TLSConfig       `koanf:"tls"`
	CORS              CORSConfig      `koanf:"cors"`
}

// KeepAliveConfig mirrors gRPC server keepalive enforcement parameters.
type KeepAliveConfig struct {
	MaxConnectionIdle     time.Duration `koanf:"max_connection_idle"`
	MaxConnectionAge      time.Duration `koanf:"max_connection_age"`
	MaxConnectionAgeGrace time.Duration `koanf:"max_connection_age_grace"`
	Time                  time.Duration `koanf:"time"`
	Timeout               time.Duration `koanf:"timeout"`
}

// TLSConfig configures transport-level TLS for the web server.
type TLSConfig struct {
	Enabled  bool   `koanf:"enabled"`
	CertFile string `koanf:"cert_file"`
	KeyFile  string `koanf:"key_file"`
	CAFile   string `koanf:"ca_file"`
}

// CORSConfig configures the fiber CORS middleware.
type CORSConfig struct {
	Enabled          bool     `koanf:"enabled"`
	AllowedOrigins   []string `koanf:"allowed_origins"`
	AllowedMethods   []string `koanf:"allowed_methods"`
	AllowedHeaders   []string `koanf:"allowed_headers"`
	AllowCredentials bool     `koanf:"allow_credentials"`
	MaxAge           int      `koanf:"max_age"`
}

// LogConfig is one entry in the Logger Manager's `loggers:` map.
type LogConfig struct {
	Level      string `koanf:"level"`
	Format     string `koanf:"format"`
	Output     string `koanf:"output"`
	FilePath   string `koanf:"file_path"`
	MaxSize    int    `koanf:"max_size"`
	MaxBackups int    `koanf:"max_backups"`
	MaxAge     int    `koanf:"max_age"`
	Compress   bool   `koanf:"compress"`
}

// MetricsConfig configures the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Port      int    `koanf:"port"`
	Path      string `koanf:"path"`
	Namespace string `koanf:"namespace"`
	Subsystem string `koanf:"subsystem"`
}

// TracingConfig configures the default Tracer Adapter.
type TracingConfig struct {
	Enabled      bool    `koanf:"enabled"`
	Endpoint     string  `koanf:"endpoint"`
	ServiceName  string  `koanf:"service_name"`
	SampleRate   float64 `koanf:"sample_rate"`
	InjectFormat string  `koanf:"inject_format"` // http_headers (default)
}

// CacheConfig configures the shared key/value store backing naming
// subscription mirrors and (optionally) the Cluster Adapter.
type CacheConfig struct {
	Enabled    bool          `koanf:"enabled"`
	Driver     string        `koanf:"driver"` // redis, memory
	Host       string        `koanf:"host"`
	Port       int           `koanf:"port"`
	Password   string        `koanf:"password"`
	DB         int           `koanf:"db"`
	DefaultTTL time.Duration `koanf:"default_ttl"`
	MaxEntries int           `koanf:"max_entries"`
}

// Address returns the cache's dial address.
func (c CacheConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// RateLimitConfig configures the default inf_check adapter.
type RateLimitConfig struct {
	Enabled         bool          `koanf:"enabled"`
	Requests        int           `koanf:"requests"`
	Window          time.Duration `koanf:"window"`
	Strategy        string        `koanf:"strategy"`
	Backend         string        `koanf:"backend"`
	BurstSize       int           `koanf:"burst_size"`
	CleanupInterval time.Duration `koanf:"cleanup_interval"`
	RedisAddr       string        `koanf:"redis_addr"`
}

// AuditConfig configures the default inf_logging adapter.
type AuditConfig struct {
	Enabled         bool          `koanf:"enabled"`
	Backend         string        `koanf:"backend"`
	FilePath        string        `koanf:"file_path"`
	BufferSize      int           `koanf:"buffer_size"`
	FlushPeriod     time.Duration `koanf:"flush_period"`
	ExcludeMethods  []string      `koanf:"exclude_methods"`
	IncludeRequest  bool          `koanf:"include_request"`
	IncludeResponse bool          `koanf:"include_response"`
}

// RetryConfig configures the Remote Caller's retry interceptor.
type RetryConfig struct {
	MaxAttempts       int           `koanf:"max_attempts"`
	InitialBackoff    time.Duration `koanf:"initial_backoff"`
	MaxBackoff        time.Duration `koanf:"max_backoff"`
	BackoffMultiplier float64       `koanf:"backoff_multiplier"`
}

// ClusterConfig configures the default etcd-backed Cluster Adapter.
type ClusterConfig struct {
	Enabled           bool          `koanf:"enabled"`
	Endpoints         []string      `koanf:"endpoints"`
	Namespace         string        `koanf:"namespace"`
	System            string        `koanf:"sys"`
	Module            string        `koanf:"mod"`
	LeaseTTLSeconds   int64         `koanf:"lease_ttl_seconds"`
	HeartbeatInterval time.Duration `koanf:"heartbeat_interval"`
	EventInterval     time.Duration `koanf:"event_interval"`
	DialTimeout       time.Duration `koanf:"dial_timeout"`
}

// I18nConfig points at the message catalog directory.
type I18nConfig struct {
	Enabled      bool   `koanf:"enabled"`
	CatalogPath  string `koanf:"catalog_path"`
	DefaultLocale string `koanf:"default_locale"`
}

// ServicesFile is the shape of services.yaml: the descriptors of services
// this process exposes locally, plus any common_config fragments a
// descriptor can name to inherit shared defaults from.
type ServicesFile struct {
	Services     []types.ServiceDescriptor `koanf:"services"`
	CommonConfig map[string]map[string]any `koanf:"common_config"`
}

// RemoteServicesFile is the shape of remoteServices.yaml: the descriptors
// of services this process calls as a Remote Caller client.
type RemoteServicesFile struct {
	RemoteServices []types.ServiceDescriptor `koanf:"remote_services"`
}

// AdaptersFile is the shape of adapters.yaml: plugin descriptors for every
// non-default adapter (naming, cluster, tracer, formatter, web server).
type AdaptersFile struct {
	Adapters []types.PluginDescriptor `koanf:"adapters"`
}

// Validate checks the subset of fields the framework cannot safely run
// without.
func (c *Config) Validate() error {
	var errs []string

	if c.App.Name == "" {
		errs = append(errs, "app.name is required")
	}

	if c.WebServer.Port <= 0 || c.WebServer.Port > 65535 {
		errs = append(errs, fmt.Sprintf("web_server.port must be between 1 and 65535, got %d", c.WebServer.Port))
	}

	defaultLevel := "info"
	if lc, ok := c.Loggers["default"]; ok && lc.Level != "" {
		defaultLevel = lc.Level
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(defaultLevel)] {
		errs = append(errs, fmt.Sprintf("loggers.default.level must be one of: debug, info, warn, error, got %s", defaultLevel))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// IsDevelopment reports whether the process is running in a development
// environment.
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development" || c.App.Environment == "dev"
}

// IsProduction reports whether the process is running in a production
// environment.
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production" || c.App.Environment == "prod"
}
