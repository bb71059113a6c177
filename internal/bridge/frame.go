package bridge

import (
	"context"
	"encoding/json"
)

// InFrame is a client→server frame, per SPEC_FULL.md §6.
type InFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// DataString decodes Data as a JSON string, returning ok=false if Data is
// absent, null, or not a string.
func (f InFrame) DataString() (string, bool) {
	if len(f.Data) == 0 || string(f.Data) == "null" {
		return "", false
	}
	var s string
	if err := json.Unmarshal(f.Data, &s); err != nil {
		return "", false
	}
	return s, true
}

// OutFrame is a server→client frame. A single struct covers every shape in
// SPEC_FULL.md §6: per-type data payloads plus the two top-level frames
// ({ready,session_id} and {reconnect,data}).
type OutFrame struct {
	Type      string `json:"type,omitempty"`
	Data      any    `json:"data,omitempty"`
	Ready     bool   `json:"ready,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Reconnect bool   `json:"reconnect,omitempty"`
}

// ErrorPayload is the Data shape for {"type":"error",...} frames.
type ErrorPayload struct {
	Message   string `json:"message"`
	Action    string `json:"action,omitempty"`
	ErrorType string `json:"error_type"`
}

// InterruptedPayload is the Data shape for {"type":"interrupted",...} frames.
type InterruptedPayload struct {
	Message string `json:"message"`
}

// FunctionCallPayload is the Data shape for {"type":"function_call",...} frames.
type FunctionCallPayload struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// ClientConn is the downstream WebSocket transport abstraction the pump
// reads frames from and writes frames to. The concrete implementation
// (internal/bridge/wsconn) wraps github.com/coder/websocket; tests supply
// an in-memory fake.
type ClientConn interface {
	ReadFrame(ctx context.Context) (InFrame, error)
	WriteFrame(ctx context.Context, frame OutFrame) error
	Close(code int, reason string) error
}
