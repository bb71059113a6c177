package mcphost_test

import (
	"context"
	"testing"

	"github.com/MrWong99/livebridge/internal/mcp"
	"github.com/MrWong99/livebridge/internal/mcp/mcphost"
	"github.com/MrWong99/livebridge/internal/mcp/mock"
)

func TestBridgeExecutor_Execute_decodesJSONObjectResult(t *testing.T) {
	h := &mock.Host{ExecuteToolResult: &mcp.ToolResult{Content: `{"total":17}`}}
	exec := mcphost.NewBridgeExecutor(h)

	got, err := exec.Execute(context.Background(), "roll_d20", map[string]any{"sides": 20})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if got["total"] != float64(17) {
		t.Errorf("got %v, want total=17", got)
	}
	if calls := h.CallCount("ExecuteTool"); calls != 1 {
		t.Errorf("ExecuteTool called %d times, want 1", calls)
	}
}

func TestBridgeExecutor_Execute_nonJSONResultWrapsInOutputKey(t *testing.T) {
	h := &mock.Host{ExecuteToolResult: &mcp.ToolResult{Content: "plain text"}}
	exec := mcphost.NewBridgeExecutor(h)

	got, err := exec.Execute(context.Background(), "lookup", nil)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if got["output"] != "plain text" {
		t.Errorf("got %v, want output=%q", got, "plain text")
	}
}

func TestBridgeExecutor_Execute_applicationErrorBecomesGoError(t *testing.T) {
	h := &mock.Host{ExecuteToolResult: &mcp.ToolResult{IsError: true, Content: "boom"}}
	exec := mcphost.NewBridgeExecutor(h)

	_, err := exec.Execute(context.Background(), "flaky", nil)
	if err == nil {
		t.Fatal("expected an error for IsError result, got nil")
	}
}

func TestBridgeExecutor_Execute_transportErrorPropagates(t *testing.T) {
	wantErr := context.DeadlineExceeded
	h := &mock.Host{ExecuteToolErr: wantErr}
	exec := mcphost.NewBridgeExecutor(h)

	_, err := exec.Execute(context.Background(), "roll_d20", nil)
	if err != wantErr {
		t.Errorf("got err %v, want %v", err, wantErr)
	}
}
