package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/MrWong99/livebridge/internal/mcp"
	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Upstream.Mode != "" && !cfg.Upstream.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("upstream.mode %q is invalid; valid values: development, vertex", cfg.Upstream.Mode))
	}
	switch cfg.Upstream.Mode {
	case UpstreamModeDevelopment:
		if cfg.Upstream.APIKey == "" {
			errs = append(errs, errors.New("upstream.api_key is required when upstream.mode is development"))
		}
	case UpstreamModeVertex:
		if cfg.Upstream.ProjectID == "" {
			errs = append(errs, errors.New("upstream.project_id is required when upstream.mode is vertex"))
		}
	}

	if cfg.Pool.Capacity < 0 {
		errs = append(errs, fmt.Errorf("pool.capacity %d must not be negative", cfg.Pool.Capacity))
	}
	if cfg.Pool.WorkerParallelism < 0 {
		errs = append(errs, fmt.Errorf("pool.worker_parallelism %d must not be negative", cfg.Pool.WorkerParallelism))
	}
	if cfg.Pool.CreationConcurrency < 0 {
		errs = append(errs, fmt.Errorf("pool.creation_concurrency %d must not be negative", cfg.Pool.CreationConcurrency))
	}
	if cfg.Pool.BatchSize < 0 {
		errs = append(errs, fmt.Errorf("pool.batch_size %d must not be negative", cfg.Pool.BatchSize))
	}

	if cfg.AbuseGate.BanThreshold < 0 {
		errs = append(errs, fmt.Errorf("abuse_gate.ban_threshold %d must not be negative", cfg.AbuseGate.BanThreshold))
	}

	if !cfg.Producer.Driver.IsValid() {
		errs = append(errs, fmt.Errorf("producer.driver %q is invalid; valid values: none, postgres", cfg.Producer.Driver))
	}
	if cfg.Producer.Driver == ProducerPostgres && cfg.Producer.PostgresDSN == "" {
		errs = append(errs, errors.New("producer.postgres_dsn is required when producer.driver is postgres"))
	}

	for i, srv := range cfg.MCP.Servers {
		prefix := fmt.Sprintf("mcp.servers[%d]", i)
		if srv.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		}
		transport := mcp.Transport(srv.Transport)
		if srv.Transport != "" && !transport.IsValid() {
			errs = append(errs, fmt.Errorf("%s.transport %q is invalid; valid values: stdio, streamable-http", prefix, srv.Transport))
		}
		if transport == mcp.TransportStdio && srv.Command == "" {
			errs = append(errs, fmt.Errorf("%s.command is required when transport is stdio", prefix))
		}
		if transport == mcp.TransportStreamableHTTP && srv.URL == "" {
			errs = append(errs, fmt.Errorf("%s.url is required when transport is streamable-http", prefix))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}

	if cfg.Server.ListenAddr == "" {
		slog.Warn("server.listen_addr is empty; the server will fail to bind")
	}
	return nil
}
