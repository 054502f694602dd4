// Package config holds the tunables of the runtime. Every struct can be built
// from code with its Default function or decoded from MCP_* environment
// variables, in which case the defaults come from the struct tags.
package config

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
)

// TransportType selects a concrete transport at construction time
type TransportType string

const (
	TransportStdio     TransportType = "stdio"
	TransportWebSocket TransportType = "websocket"
	TransportHTTP      TransportType = "http"
)

// SessionConfig controls connection, reconnection and heartbeat behaviour of a client session
type SessionConfig struct {
	AutoReconnect        bool          `env:"MCP_AUTO_RECONNECT,default=true"`
	MaxReconnectAttempts uint32        `env:"MCP_MAX_RECONNECT_ATTEMPTS,default=5"`
	ReconnectDelay       time.Duration `env:"MCP_RECONNECT_DELAY,default=1s"`
	MaxReconnectDelay    time.Duration `env:"MCP_MAX_RECONNECT_DELAY,default=30s"`
	ReconnectBackoff     float64       `env:"MCP_RECONNECT_BACKOFF,default=2.0"`

	ConnectionTimeout time.Duration `env:"MCP_CONNECTION_TIMEOUT,default=10s"`
	RequestTimeout    time.Duration `env:"MCP_REQUEST_TIMEOUT,default=30s"`

	// HeartbeatInterval of zero disables the heartbeat
	HeartbeatInterval time.Duration `env:"MCP_HEARTBEAT_INTERVAL,default=30s"`
	HeartbeatTimeout  time.Duration `env:"MCP_HEARTBEAT_TIMEOUT,default=5s"`

	NotificationPollInterval time.Duration `env:"MCP_NOTIFICATION_POLL_INTERVAL,default=10ms"`
}

// DefaultSessionConfig returns the session defaults
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		AutoReconnect:            true,
		MaxReconnectAttempts:     5,
		ReconnectDelay:           time.Second,
		MaxReconnectDelay:        30 * time.Second,
		ReconnectBackoff:         2.0,
		ConnectionTimeout:        10 * time.Second,
		RequestTimeout:           30 * time.Second,
		HeartbeatInterval:        30 * time.Second,
		HeartbeatTimeout:         5 * time.Second,
		NotificationPollInterval: 10 * time.Millisecond,
	}
}

// LoadSessionConfigFromEnv decodes a SessionConfig from the environment
func LoadSessionConfigFromEnv() (SessionConfig, error) {
	var cfg SessionConfig
	if err := decode(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c SessionConfig) Validate() error {
	var errs []error
	if c.ReconnectDelay <= 0 {
		errs = append(errs, fmt.Errorf("reconnect delay must be positive, got %s", c.ReconnectDelay))
	}
	if c.MaxReconnectDelay < c.ReconnectDelay {
		errs = append(errs, fmt.Errorf("max reconnect delay %s is below reconnect delay %s", c.MaxReconnectDelay, c.ReconnectDelay))
	}
	if c.ReconnectBackoff < 1.0 {
		errs = append(errs, fmt.Errorf("reconnect backoff must be >= 1.0, got %g", c.ReconnectBackoff))
	}
	if c.ConnectionTimeout <= 0 {
		errs = append(errs, fmt.Errorf("connection timeout must be positive"))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("request timeout must be positive"))
	}
	if c.HeartbeatInterval < 0 {
		errs = append(errs, fmt.Errorf("heartbeat interval must not be negative"))
	}
	if c.HeartbeatInterval > 0 && c.HeartbeatTimeout <= 0 {
		errs = append(errs, fmt.Errorf("heartbeat timeout must be positive when the heartbeat is enabled"))
	}
	if c.NotificationPollInterval <= 0 {
		errs = append(errs, fmt.Errorf("notification poll interval must be positive"))
	}
	return wrapInvalid("session", errs)
}

// ServerConfig controls a server's identity, request handling and shutdown
type ServerConfig struct {
	Name             string        `env:"MCP_SERVER_NAME,default=mcp-runtime-go"`
	Version          string        `env:"MCP_SERVER_VERSION,default=0.1.0"`
	Instructions     string        `env:"MCP_SERVER_INSTRUCTIONS"`
	RequestTimeout   time.Duration `env:"MCP_SERVER_REQUEST_TIMEOUT,default=30s"`
	ShutdownTimeout  time.Duration `env:"MCP_SERVER_SHUTDOWN_TIMEOUT,default=10s"`
	PageSize         int           `env:"MCP_SERVER_PAGE_SIZE,default=50"`
	ValidateRequests bool          `env:"MCP_SERVER_VALIDATE_REQUESTS,default=true"`
	// AllowedOrigins is a semicolon separated list in the environment
	AllowedOrigins []string `env:"MCP_SERVER_ALLOWED_ORIGINS"`
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Name:             "mcp-runtime-go",
		Version:          "0.1.0",
		RequestTimeout:   30 * time.Second,
		ShutdownTimeout:  10 * time.Second,
		PageSize:         50,
		ValidateRequests: true,
	}
}

func LoadServerConfigFromEnv() (ServerConfig, error) {
	var cfg ServerConfig
	if err := decode(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c ServerConfig) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Name) == "" {
		errs = append(errs, fmt.Errorf("name is required"))
	}
	if c.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("page size must be positive, got %d", c.PageSize))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("request timeout must be positive"))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("shutdown timeout must be positive"))
	}
	return wrapInvalid("server", errs)
}

// TransportConfig selects and tunes a transport. Endpoint is the base URL of
// a remote server for client transports; ListenAddr is used by server transports.
type TransportConfig struct {
	Type           TransportType `env:"MCP_TRANSPORT,default=stdio"`
	Endpoint       string        `env:"MCP_ENDPOINT"`
	SSEEndpoint    string        `env:"MCP_SSE_ENDPOINT"`
	ListenAddr     string        `env:"MCP_LISTEN_ADDR,default=:8080"`
	ConnectTimeout time.Duration `env:"MCP_CONNECT_TIMEOUT,default=10s"`
	ReadTimeout    time.Duration `env:"MCP_READ_TIMEOUT,default=60s"`
	WriteTimeout   time.Duration `env:"MCP_WRITE_TIMEOUT,default=10s"`
	RequestTimeout time.Duration `env:"MCP_TRANSPORT_REQUEST_TIMEOUT,default=30s"`
	PingInterval   time.Duration `env:"MCP_PING_INTERVAL,default=30s"`
	MaxMessageSize int64         `env:"MCP_MAX_MESSAGE_SIZE,default=10485760"`
	AllowedOrigins []string      `env:"MCP_ALLOWED_ORIGINS"`

	// Headers are added to every outgoing HTTP or websocket handshake request
	Headers map[string]string
}

func DefaultTransportConfig(t TransportType) TransportConfig {
	return TransportConfig{
		Type:           t,
		ListenAddr:     ":8080",
		ConnectTimeout: 10 * time.Second,
		ReadTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		RequestTimeout: 30 * time.Second,
		PingInterval:   30 * time.Second,
		MaxMessageSize: 10 << 20,
	}
}

func LoadTransportConfigFromEnv() (TransportConfig, error) {
	var cfg TransportConfig
	if err := decode(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c TransportConfig) Validate() error {
	var errs []error
	switch c.Type {
	case TransportStdio, TransportWebSocket, TransportHTTP:
	default:
		errs = append(errs, fmt.Errorf("unsupported transport type %q", c.Type))
	}
	if c.MaxMessageSize <= 0 {
		errs = append(errs, fmt.Errorf("max message size must be positive"))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("request timeout must be positive"))
	}
	return wrapInvalid("transport", errs)
}

// RedisConfig configures the optional cross-node notification broker
type RedisConfig struct {
	Enabled   bool   `env:"MCP_REDIS_ENABLED,default=false"`
	Addr      string `env:"MCP_REDIS_ADDR,default=localhost:6379"`
	Password  string `env:"MCP_REDIS_PASSWORD"`
	DB        int    `env:"MCP_REDIS_DB,default=0"`
	KeyPrefix string `env:"MCP_REDIS_KEY_PREFIX,default=mcp:broker:"`
}

func DefaultRedisConfig() RedisConfig {
	return RedisConfig{Addr: "localhost:6379", KeyPrefix: "mcp:broker:"}
}

func LoadRedisConfigFromEnv() (RedisConfig, error) {
	var cfg RedisConfig
	if err := decode(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c RedisConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	var errs []error
	if c.Addr == "" {
		errs = append(errs, fmt.Errorf("addr is required when redis is enabled"))
	}
	if c.DB < 0 {
		errs = append(errs, fmt.Errorf("db must not be negative"))
	}
	return wrapInvalid("redis", errs)
}

// MetricsConfig configures Prometheus metrics
type MetricsConfig struct {
	Enabled   bool   `env:"MCP_METRICS_ENABLED,default=true"`
	Namespace string `env:"MCP_METRICS_NAMESPACE,default=mcp"`
	Subsystem string `env:"MCP_METRICS_SUBSYSTEM"`
	Path      string `env:"MCP_METRICS_PATH,default=/metrics"`
	// HistogramBuckets are in milliseconds
	HistogramBuckets []float64 `env:"MCP_METRICS_BUCKETS"`
}

func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{Enabled: true, Namespace: "mcp", Path: "/metrics"}
}

func LoadMetricsConfigFromEnv() (MetricsConfig, error) {
	var cfg MetricsConfig
	if err := decode(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c MetricsConfig) Validate() error {
	var errs []error
	if c.Enabled && !strings.HasPrefix(c.Path, "/") {
		errs = append(errs, fmt.Errorf("metrics path must start with '/', got %q", c.Path))
	}
	for i := 1; i < len(c.HistogramBuckets); i++ {
		if c.HistogramBuckets[i] <= c.HistogramBuckets[i-1] {
			errs = append(errs, fmt.Errorf("histogram buckets must be strictly increasing"))
			break
		}
	}
	return wrapInvalid("metrics", errs)
}

// Trace exporters understood by TracingConfig
const (
	ExporterOTLPGRPC = "otlp-grpc"
	ExporterOTLPHTTP = "otlp-http"
	ExporterNoop     = "noop"
)

// TracingConfig configures OpenTelemetry tracing
type TracingConfig struct {
	Enabled        bool    `env:"MCP_TRACING_ENABLED,default=false"`
	ServiceName    string  `env:"MCP_TRACING_SERVICE_NAME,default=mcp-runtime-go"`
	ServiceVersion string  `env:"MCP_TRACING_SERVICE_VERSION,default=unknown"`
	Environment    string  `env:"MCP_TRACING_ENVIRONMENT,default=development"`
	Exporter       string  `env:"MCP_TRACING_EXPORTER,default=noop"`
	Endpoint       string  `env:"MCP_TRACING_ENDPOINT,default=localhost:4317"`
	Insecure       bool    `env:"MCP_TRACING_INSECURE,default=false"`
	SampleRate     float64 `env:"MCP_TRACING_SAMPLE_RATE,default=1.0"`

	Headers map[string]string
}

func DefaultTracingConfig() TracingConfig {
	return TracingConfig{
		ServiceName:    "mcp-runtime-go",
		ServiceVersion: "unknown",
		Environment:    "development",
		Exporter:       ExporterNoop,
		Endpoint:       "localhost:4317",
		SampleRate:     1.0,
	}
}

func LoadTracingConfigFromEnv() (TracingConfig, error) {
	var cfg TracingConfig
	if err := decode(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c TracingConfig) Validate() error {
	var errs []error
	switch c.Exporter {
	case ExporterOTLPGRPC, ExporterOTLPHTTP, ExporterNoop:
	default:
		errs = append(errs, fmt.Errorf("unsupported trace exporter %q", c.Exporter))
	}
	if c.SampleRate < 0 || c.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("sample rate must be within [0, 1], got %g", c.SampleRate))
	}
	return wrapInvalid("tracing", errs)
}

// Config bundles every section for programs that configure themselves
// entirely from the environment
type Config struct {
	Session   SessionConfig
	Server    ServerConfig
	Transport TransportConfig
	Redis     RedisConfig
	Metrics   MetricsConfig
	Tracing   TracingConfig
}

// Default returns a Config with every section at its defaults and a stdio transport
func Default() Config {
	return Config{
		Session:   DefaultSessionConfig(),
		Server:    DefaultServerConfig(),
		Transport: DefaultTransportConfig(TransportStdio),
		Redis:     DefaultRedisConfig(),
		Metrics:   DefaultMetricsConfig(),
		Tracing:   DefaultTracingConfig(),
	}
}

// LoadFromEnv decodes every section from the environment and validates it
func LoadFromEnv() (Config, error) {
	var cfg Config
	if err := decode(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	return stderrors.Join(
		c.Session.Validate(),
		c.Server.Validate(),
		c.Transport.Validate(),
		c.Redis.Validate(),
		c.Metrics.Validate(),
		c.Tracing.Validate(),
	)
}

func decode(target interface{}) error {
	if err := envdecode.Decode(target); err != nil && !stderrors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return fmt.Errorf("failed to decode environment: %w", err)
	}
	return nil
}

func wrapInvalid(section string, errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("invalid %s config: %w", section, stderrors.Join(errs...))
}
