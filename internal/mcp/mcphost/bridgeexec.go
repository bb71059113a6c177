package mcphost

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/MrWong99/livebridge/internal/bridge"
	"github.com/MrWong99/livebridge/internal/mcp"
)

// BridgeExecutor adapts a [mcp.Host] to bridge.ToolExecutor, the execute_tool
// collaborator backing the Tool Dispatch Queue (SPEC_FULL.md §4.4/§11). It
// depends on the mcp.Host interface rather than the concrete *Host so tests
// can substitute internal/mcp/mock.Host.
type BridgeExecutor struct {
	host mcp.Host
}

var _ bridge.ToolExecutor = (*BridgeExecutor)(nil)

// NewBridgeExecutor wraps host for use as a bridge.ToolExecutor.
func NewBridgeExecutor(host mcp.Host) *BridgeExecutor {
	return &BridgeExecutor{host: host}
}

// Execute marshals args to JSON, calls the named tool on the underlying
// Host, and decodes its result content back into a map for the tool-dispatch
// response frame. Application-level tool errors (ToolResult.IsError) are
// returned as a Go error so the dispatch queue logs and swallows them per
// SPEC_FULL.md §4.4.
func (e *BridgeExecutor) Execute(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	argsJSON := "{}"
	if len(args) > 0 {
		data, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("mcphost: marshal tool args: %w", err)
		}
		argsJSON = string(data)
	}

	result, err := e.host.ExecuteTool(ctx, name, argsJSON)
	if err != nil {
		return nil, err
	}
	if result.IsError {
		return nil, fmt.Errorf("mcphost: tool %q returned an error: %s", name, result.Content)
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(result.Content), &decoded); err == nil {
		return decoded, nil
	}
	return map[string]any{"output": result.Content}, nil
}
