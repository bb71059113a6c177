package bridge

import "context"

// GoAway carries the upstream's graceful-close hint.
type GoAway struct {
	TimeLeftMs int64
}

// SessionResumptionUpdate carries a resumable-session handle update.
type SessionResumptionUpdate struct {
	Resumable bool
	Handle    string
}

// FunctionCall is a single upstream-issued tool invocation request.
type FunctionCall struct {
	ID   string
	Name string
	Args map[string]any
}

// ToolCallEnvelope is a batch of function calls issued together by the
// upstream, processed serially per Session (SPEC_FULL.md §3/§4.4).
type ToolCallEnvelope struct {
	FunctionCalls []FunctionCall
}

// ModelPart is one piece of a model turn: either inline audio bytes or a
// text fragment.
type ModelPart struct {
	InlineAudio []byte // raw bytes, not yet base64-encoded
	Text        string
}

// ServerContent is the upstream's per-turn content payload, per
// SPEC_FULL.md §4.3.
type ServerContent struct {
	Interrupted         bool
	ModelTurnParts      []ModelPart
	InputTranscription  string
	OutputTranscription string
	TurnComplete        bool
}

// UpstreamMessage is the tagged union of messages an UpstreamSession can
// yield from Receive.
type UpstreamMessage struct {
	ToolCall                *ToolCallEnvelope
	SessionResumptionUpdate *SessionResumptionUpdate
	GoAway                  *GoAway
	ServerContent           *ServerContent
}

// UpstreamSession is the external collaborator interface for the upstream
// multimodal streaming SDK, per SPEC_FULL.md §6. Implementations must be
// safe for concurrent use: SendX methods may be called from the pump's
// C→U pipeline while Receive is drained by the U→C pipeline.
type UpstreamSession interface {
	// SendAudio forwards a PCM chunk with end-of-turn true.
	SendAudio(ctx context.Context, pcm []byte) error
	// SendImage forwards a JPEG chunk with no end-of-turn.
	SendImage(ctx context.Context, jpeg []byte) error
	// SendText forwards a text turn with end-of-turn true.
	SendText(ctx context.Context, text string) error
	// SendToolResponses posts a consolidated batch of tool results upstream.
	SendToolResponses(ctx context.Context, responses []FunctionResponse) error

	// Receive returns the channel of incoming upstream messages. It is
	// closed when the upstream stream ends; callers should check Err
	// afterward.
	Receive() <-chan UpstreamMessage

	// Err returns the error that caused Receive's channel to close, or nil
	// on a clean close.
	Err() error

	// Close terminates the session. Idempotent.
	Close() error
}

// FunctionResponse is the per-call result appended to a tool-response
// batch sent back upstream.
type FunctionResponse struct {
	ID     string
	Name   string
	Result map[string]any
}

// UpstreamFactory creates new upstream sessions, bound to a BaseInfo
// (voice, templated system instruction). Blocking SDK initialization must
// happen inside NewSession — the WarmupPool is responsible for running it
// off any I/O-scheduling path (SPEC_FULL.md §4.1, §9).
type UpstreamFactory interface {
	NewSession(ctx context.Context, info BaseInfo) (UpstreamSession, error)
}
