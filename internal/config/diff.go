package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; upstream mode
// and credentials require a restart and are deliberately not diffed here.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	PoolChanged bool
	NewPool     PoolConfig

	AbuseGateChanged bool
	NewAbuseGate     AbuseGateConfig

	MCPServersChanged bool
	NewMCPServers     []MCPServerConfig
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Pool != new.Pool {
		d.PoolChanged = true
		d.NewPool = new.Pool
	}

	if old.AbuseGate != new.AbuseGate {
		d.AbuseGateChanged = true
		d.NewAbuseGate = new.AbuseGate
	}

	if !mcpServersEqual(old.MCP.Servers, new.MCP.Servers) {
		d.MCPServersChanged = true
		d.NewMCPServers = new.MCP.Servers
	}

	return d
}

func mcpServersEqual(a, b []MCPServerConfig) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Name != b[i].Name || a[i].Transport != b[i].Transport ||
			a[i].Command != b[i].Command || a[i].URL != b[i].URL ||
			len(a[i].Env) != len(b[i].Env) {
			return false
		}
		for k, v := range a[i].Env {
			if b[i].Env[k] != v {
				return false
			}
		}
	}
	return true
}
