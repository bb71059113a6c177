// Package sessioninfo provides a built-in MCP tool that lets the upstream
// model introspect the proxy's own connection load: how many sessions and
// WebSocket connections are currently live, per SPEC_FULL.md §4.6.
//
// One tool is exported via [NewTools]:
//   - "get_proxy_status" — returns active session and connection counts.
package sessioninfo

import (
	"context"
	"encoding/json"

	"github.com/MrWong99/livebridge/internal/bridge"
	"github.com/MrWong99/livebridge/internal/mcp/tools"
	"github.com/MrWong99/livebridge/pkg/provider/llm"
)

// statusResult is the JSON-encoded output of the "get_proxy_status" tool.
type statusResult struct {
	// ActiveSessions is the number of sessions currently tracked in the
	// Session Registry.
	ActiveSessions int `json:"active_sessions"`

	// ActiveConnections is the number of WebSocket sockets currently tracked.
	// Equal to ActiveSessions at steady state; a transient mismatch signals a
	// session mid-handshake or mid-teardown.
	ActiveConnections int `json:"active_connections"`
}

// NewTools returns the built-in tools backed by registry. Unlike a
// per-session tool, this one reports proxy-wide state and takes no
// arguments — it does not expose any individual session's BaseInfo.
func NewTools(registry *bridge.SessionRegistry) []tools.Tool {
	getStatus := func(ctx context.Context, args string) (string, error) {
		result := statusResult{
			ActiveSessions:    registry.ActiveSessions(),
			ActiveConnections: registry.ActiveConnections(),
		}
		out, err := json.Marshal(result)
		if err != nil {
			return "", err
		}
		return string(out), nil
	}

	return []tools.Tool{
		{
			Definition: llm.ToolDefinition{
				Name:        "get_proxy_status",
				Description: "Return how many client sessions and WebSocket connections are currently active on this proxy instance.",
				Parameters: map[string]any{
					"type":       "object",
					"properties": map[string]any{},
				},
				Idempotent: true,
			},
			Handler:     getStatus,
			DeclaredP50: 1,
			DeclaredMax: 20,
		},
	}
}
