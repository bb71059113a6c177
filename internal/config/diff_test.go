package config_test

import (
	"testing"
	"time"

	"github.com/MrWong99/livebridge/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogLevelInfo},
		Pool:   config.PoolConfig{Capacity: 5},
	}
	d := config.Diff(cfg, cfg)
	if d.LogLevelChanged {
		t.Error("expected LogLevelChanged=false for identical configs")
	}
	if d.PoolChanged {
		t.Error("expected PoolChanged=false for identical configs")
	}
	if d.AbuseGateChanged {
		t.Error("expected AbuseGateChanged=false for identical configs")
	}
	if d.MCPServersChanged {
		t.Error("expected MCPServersChanged=false for identical configs")
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Server: config.ServerConfig{LogLevel: config.LogLevelInfo}}
	new := &config.Config{Server: config.ServerConfig{LogLevel: config.LogLevelDebug}}

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogLevelDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
}

func TestDiff_PoolChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Pool: config.PoolConfig{Capacity: 5, KeepAliveInterval: time.Minute}}
	new := &config.Config{Pool: config.PoolConfig{Capacity: 10, KeepAliveInterval: time.Minute}}

	d := config.Diff(old, new)
	if !d.PoolChanged {
		t.Error("expected PoolChanged=true")
	}
	if d.NewPool.Capacity != 10 {
		t.Errorf("expected NewPool.Capacity=10, got %d", d.NewPool.Capacity)
	}
}

func TestDiff_AbuseGateChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{AbuseGate: config.AbuseGateConfig{BanThreshold: 10}}
	new := &config.Config{AbuseGate: config.AbuseGateConfig{BanThreshold: 20}}

	d := config.Diff(old, new)
	if !d.AbuseGateChanged {
		t.Error("expected AbuseGateChanged=true")
	}
	if d.NewAbuseGate.BanThreshold != 20 {
		t.Errorf("expected NewAbuseGate.BanThreshold=20, got %d", d.NewAbuseGate.BanThreshold)
	}
}

func TestDiff_MCPServersAdded(t *testing.T) {
	t.Parallel()
	old := &config.Config{MCP: config.MCPConfig{Servers: []config.MCPServerConfig{
		{Name: "tools", Transport: "stdio", Command: "/bin/tools"},
	}}}
	new := &config.Config{MCP: config.MCPConfig{Servers: []config.MCPServerConfig{
		{Name: "tools", Transport: "stdio", Command: "/bin/tools"},
		{Name: "web", Transport: "streamable-http", URL: "https://example.com/mcp"},
	}}}

	d := config.Diff(old, new)
	if !d.MCPServersChanged {
		t.Error("expected MCPServersChanged=true")
	}
	if len(d.NewMCPServers) != 2 {
		t.Errorf("expected 2 servers in diff, got %d", len(d.NewMCPServers))
	}
}

func TestDiff_MCPServersEnvChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{MCP: config.MCPConfig{Servers: []config.MCPServerConfig{
		{Name: "tools", Transport: "stdio", Command: "/bin/tools", Env: map[string]string{"KEY": "a"}},
	}}}
	new := &config.Config{MCP: config.MCPConfig{Servers: []config.MCPServerConfig{
		{Name: "tools", Transport: "stdio", Command: "/bin/tools", Env: map[string]string{"KEY": "b"}},
	}}}

	d := config.Diff(old, new)
	if !d.MCPServersChanged {
		t.Error("expected MCPServersChanged=true for changed env value")
	}
}

func TestDiff_MultipleChanges(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogLevelInfo},
		Pool:   config.PoolConfig{Capacity: 5},
	}
	new := &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogLevelWarn},
		Pool:   config.PoolConfig{Capacity: 8},
	}

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if !d.PoolChanged {
		t.Error("expected PoolChanged=true")
	}
}
