package bridge

import (
	"context"
	"log/slog"
)

// startLiveVideoChat suppresses the upstream acknowledgement: when it is the
// last call of an envelope, none of that envelope's tool responses are sent
// upstream. This call kicks off a side-channel video stream and the upstream
// never expects a tool-response turn for it.
const startLiveVideoChat = "startLiveVideoChat"

// ToolExecutor is the execute_tool external collaborator, per SPEC_FULL.md
// §4.4 and §11 (backed by the adapted MCP host).
type ToolExecutor interface {
	Execute(ctx context.Context, name string, args map[string]any) (map[string]any, error)
}

// runToolQueue drains envelopes one at a time, in arrival order, dispatching
// each envelope's function calls serially. It never returns until ctx is
// cancelled or queue is closed, matching the source's single
// process_tool_queue background task per session.
//
// A panic-free per-call recover is deliberately absent: ToolExecutor errors
// are values, not panics, and are logged and swallowed per call so one bad
// tool invocation never takes the session down.
func runToolQueue(ctx context.Context, conn ClientConn, sess *Session, exec ToolExecutor, queue <-chan ToolCallEnvelope, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case envelope, ok := <-queue:
			if !ok {
				return
			}
			processToolCallEnvelope(ctx, conn, sess, exec, envelope, logger)
		}
	}
}

func processToolCallEnvelope(ctx context.Context, conn ClientConn, sess *Session, exec ToolExecutor, envelope ToolCallEnvelope, logger *slog.Logger) {
	responses := make([]FunctionResponse, 0, len(envelope.FunctionCalls))
	var lastName string

	for _, call := range envelope.FunctionCalls {
		lastName = call.Name

		callCtx, cancel := context.WithCancel(ctx)
		sess.SetToolTask(cancel)

		_ = conn.WriteFrame(ctx, OutFrame{
			Type: "function_call",
			Data: FunctionCallPayload{Name: call.Name, Args: call.Args},
		})

		result, err := exec.Execute(callCtx, call.Name, call.Args)
		cancel()
		sess.SetToolTask(nil)

		if err != nil {
			logger.Warn("tool execution failed", "session_id", sess.ID, "tool", call.Name, "error", err)
			continue
		}

		_ = conn.WriteFrame(ctx, OutFrame{Type: "function_response", Data: result})

		responses = append(responses, FunctionResponse{
			ID:     call.ID,
			Name:   call.Name,
			Result: map[string]any{"result": "ok"},
		})
	}

	if len(responses) == 0 || lastName == startLiveVideoChat {
		return
	}

	if err := sess.Upstream().SendToolResponses(ctx, responses); err != nil {
		logger.Warn("send tool responses upstream failed", "session_id", sess.ID, "error", err)
	}
}
