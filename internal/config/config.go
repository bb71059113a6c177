// Package config provides the configuration schema, loader, and hot-reload
// watcher for the Livebridge proxy.
package config

import "time"

// Config is the root configuration structure for Livebridge.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	Pool      PoolConfig      `yaml:"pool"`
	AbuseGate AbuseGateConfig `yaml:"abuse_gate"`
	Handshake HandshakeConfig `yaml:"handshake"`
	Producer  ProducerConfig  `yaml:"producer"`
	BaseInfo  BaseInfoConfig  `yaml:"base_info"`
	MCP       MCPConfig       `yaml:"mcp"`
}

// ServerConfig holds network and logging settings for the proxy's HTTP/
// WebSocket listener.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Valid values: "debug", "info", "warn", "error".
	LogLevel LogLevel `yaml:"log_level"`
}

// LogLevel names a log/slog verbosity level accepted in configuration.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return true
	}
	return false
}

// UpstreamMode selects which Gemini Live entry point the proxy dials.
type UpstreamMode string

const (
	UpstreamModeDevelopment UpstreamMode = "development"
	UpstreamModeVertex      UpstreamMode = "vertex"
)

// IsValid reports whether m is a recognised upstream mode.
func (m UpstreamMode) IsValid() bool {
	return m == UpstreamModeDevelopment || m == UpstreamModeVertex
}

// UpstreamConfig configures the upstream Gemini Live client
// (internal/upstream/gemini), per SPEC_FULL.md §2/§11.
type UpstreamConfig struct {
	// Mode selects "development" (API-key auth, generativelanguage.googleapis.com)
	// or "vertex" (OAuth2 bearer token, regional Vertex AI endpoint).
	Mode UpstreamMode `yaml:"mode"`

	// APIKey authenticates development-mode requests. Required when Mode is
	// "development".
	APIKey string `yaml:"api_key"`

	// ProjectID and Location address the Vertex AI regional endpoint.
	// Required when Mode is "vertex".
	ProjectID string `yaml:"project_id"`
	Location  string `yaml:"location"`

	// Model is the Gemini Live model resource name, without the "models/"
	// prefix (e.g. "gemini-2.0-flash-live-001").
	Model string `yaml:"model"`

	// BaseURL overrides the upstream WebSocket endpoint. Leave empty to use
	// the mode's built-in default; tests point this at an in-process server.
	BaseURL string `yaml:"base_url"`

	// SystemTemplate is a Printf-style template rendered with (date,
	// location) and sent as the session's system instruction.
	SystemTemplate string `yaml:"system_template"`
}

// PoolConfig configures the Warmup Pool of pre-initialized upstream
// sessions, per SPEC_FULL.md §4.1.
type PoolConfig struct {
	Capacity            int           `yaml:"capacity"`
	WorkerParallelism   int           `yaml:"worker_parallelism"`
	CreationConcurrency int           `yaml:"creation_concurrency"`
	BatchSize           int           `yaml:"batch_size"`
	KeepAliveInterval   time.Duration `yaml:"keepalive_interval"`
}

// AbuseGateConfig holds connection-attempt rate-limiter settings, per
// SPEC_FULL.md §4.5. The loader parses them and [Diff] reports changes to
// them, but the running bridge.AbuseGate does not read them: it uses the
// bridge package's AttemptWindow, BanThreshold and BanDuration constants.
type AbuseGateConfig struct {
	AttemptWindow time.Duration `yaml:"attempt_window"`
	BanThreshold  int           `yaml:"ban_threshold"`
	BanDuration   time.Duration `yaml:"ban_duration"`
}

// HandshakeConfig configures the WebSocket upgrade handshake, per
// SPEC_FULL.md §4.2.
type HandshakeConfig struct {
	// ReadinessTimeout bounds how long the handshake waits for a pooled (or
	// freshly created) upstream session before closing the already-upgraded
	// socket with 1008.
	ReadinessTimeout time.Duration `yaml:"readiness_timeout"`
}

// ProducerDriver selects the durable-message producer backing
// bridge.MessageProducer.
type ProducerDriver string

const (
	// ProducerNone disables transcript publishing entirely.
	ProducerNone ProducerDriver = "none"
	// ProducerPostgres persists transcripts to a Postgres outbox table via
	// internal/bridge/mqproducer/postgres.
	ProducerPostgres ProducerDriver = "postgres"
)

// IsValid reports whether d is a recognised producer driver.
func (d ProducerDriver) IsValid() bool {
	return d == "" || d == ProducerNone || d == ProducerPostgres
}

// ProducerConfig configures the durable transcript producer, per
// SPEC_FULL.md §6/§11. The source schema names name-server address, topic
// and producer group (RocketMQ-style); this repo's wired producer is the
// Postgres outbox, so only PostgresDSN is consumed today — see DESIGN.md.
type ProducerConfig struct {
	Driver      ProducerDriver `yaml:"driver"`
	PostgresDSN string         `yaml:"postgres_dsn"`
}

// BaseInfoConfig holds per-connection BaseInfo defaults for a client that
// omits the corresponding query parameter, per SPEC_FULL.md §4.3. The loader
// parses them, but no other package reads them: bridge.ParseBaseInfo applies
// its own built-in defaults.
type BaseInfoConfig struct {
	Location   string `yaml:"location"`
	Voice      string `yaml:"voice"`
	UserID     string `yaml:"user_id"`
	DateLayout string `yaml:"date_layout"`
}

// MCPConfig holds the list of Model Context Protocol servers the Tool
// Dispatch Queue's executor registers against, per SPEC_FULL.md §4.4/§11.
type MCPConfig struct {
	Servers []MCPServerConfig `yaml:"servers"`
}

// MCPServerConfig describes how to connect to a single MCP tool server.
type MCPServerConfig struct {
	// Name is a unique human-readable identifier for this server (used in logs).
	Name string `yaml:"name"`

	// Transport specifies the connection mechanism.
	// Valid values: "stdio", "streamable-http".
	Transport string `yaml:"transport"`

	// Command is the executable (with optional arguments) launched when
	// Transport is "stdio". Ignored for streamable-http transport.
	Command string `yaml:"command"`

	// URL is the endpoint address used when Transport is "streamable-http".
	// Ignored for stdio transport.
	URL string `yaml:"url"`

	// Env holds additional environment variables injected into the subprocess
	// when Transport is "stdio". May be nil.
	Env map[string]string `yaml:"env"`
}

