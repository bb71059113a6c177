package bridge

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
)

// pumpOutcomeKind tags how RunPump returned, replacing the source's
// ReconnectionCompleted exception with an explicit control-flow value per
// SPEC_FULL.md §9.
type pumpOutcomeKind int

const (
	outcomeExit pumpOutcomeKind = iota
	outcomeReconnect
)

// pumpOutcome is the tagged result of one RunPump call. The outer handler
// loops while Kind is outcomeReconnect and runs full session cleanup only
// once Kind is outcomeExit.
type pumpOutcome struct {
	Kind        pumpOutcomeKind
	NewUpstream UpstreamSession
	Err         error
}

// PumpDeps bundles the collaborators the message pump needs beyond the
// Session and ClientConn it is invoked with.
type PumpDeps struct {
	Factory      UpstreamFactory
	ToolExecutor ToolExecutor
	Logger       *slog.Logger
}

// RunSessionPump owns the outer reconnection loop: it calls RunPump
// repeatedly, rebinding the session's upstream on every outcomeReconnect,
// and returns only once the pump exits for good. This is the Go-idiomatic
// replacement for the source's except*-ReconnectionCompleted unwind — no
// panic/recover, no exception re-raise, just an explicit loop.
func RunSessionPump(ctx context.Context, conn ClientConn, sess *Session, deps PumpDeps) error {
	for {
		outcome := RunPump(ctx, conn, sess, deps)
		if outcome.Kind != outcomeReconnect {
			return outcome.Err
		}
		sess.SetUpstream(outcome.NewUpstream)
	}
}

// RunPump runs one generation of the client↔upstream pump: a C→U pipeline,
// a U→C pipeline, and a tool-dispatch consumer, concurrently. It returns as
// soon as any pipeline produces a decisive outcome (exit or reconnect); the
// first such outcome wins and the pump context is cancelled to unblock the
// others.
func RunPump(ctx context.Context, conn ClientConn, sess *Session, deps PumpDeps) pumpOutcome {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	pumpCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	toolQueue := make(chan ToolCallEnvelope, 16)

	var once sync.Once
	result := pumpOutcome{Kind: outcomeExit}
	capture := func(o pumpOutcome) {
		once.Do(func() { result = o })
		cancel()
	}

	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		capture(runClientToUpstream(pumpCtx, conn, sess, logger))
	}()

	go func() {
		defer wg.Done()
		capture(runUpstreamToClient(pumpCtx, conn, sess, toolQueue, deps.Factory, logger))
	}()

	go func() {
		defer wg.Done()
		runToolQueue(pumpCtx, conn, sess, deps.ToolExecutor, toolQueue, logger)
	}()

	wg.Wait()
	return result
}

// runClientToUpstream is the C→U pipeline: it reads client frames and
// forwards them to the currently bound upstream session.
func runClientToUpstream(ctx context.Context, conn ClientConn, sess *Session, logger *slog.Logger) pumpOutcome {
	for {
		frame, err := conn.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return pumpOutcome{Kind: outcomeExit}
			}
			return pumpOutcome{Kind: outcomeExit, Err: err}
		}

		data, hasData := frame.DataString()
		if !hasData {
			_ = conn.WriteFrame(ctx, OutFrame{Type: "text", Data: "data is null"})
			return pumpOutcome{Kind: outcomeExit}
		}

		switch frame.Type {
		case "audio":
			pcm, decodeErr := base64.StdEncoding.DecodeString(data)
			if decodeErr != nil {
				logger.Warn("bad audio frame", "session_id", sess.ID, "error", decodeErr)
				continue
			}
			if err := sess.Upstream().SendAudio(ctx, pcm); err != nil {
				logger.Warn("send audio upstream failed", "session_id", sess.ID, "error", err)
			}
		case "image":
			jpeg, decodeErr := base64.StdEncoding.DecodeString(data)
			if decodeErr != nil {
				logger.Warn("bad image frame", "session_id", sess.ID, "error", decodeErr)
				continue
			}
			if err := sess.Upstream().SendImage(ctx, jpeg); err != nil {
				logger.Warn("send image upstream failed", "session_id", sess.ID, "error", err)
			}
		case "text":
			if err := sess.Upstream().SendText(ctx, data); err != nil {
				logger.Warn("send text upstream failed", "session_id", sess.ID, "error", err)
			}
		case "end":
			logger.Info("client signalled end", "session_id", sess.ID)
		case "state":
			switch data {
			case "stop":
				_ = sess.Upstream().Close()
				return pumpOutcome{Kind: outcomeExit}
			case "reconnect":
				// Force-closing the upstream here surfaces as an abnormal
				// Receive close on the U→C pipeline, which owns the actual
				// reconnect sequence.
				_ = sess.Upstream().Close()
				return pumpOutcome{Kind: outcomeExit}
			default:
				logger.Warn("unknown state frame", "session_id", sess.ID, "data", data)
			}
		default:
			logger.Warn("unknown client frame type", "session_id", sess.ID, "type", frame.Type)
		}
	}
}

// runUpstreamToClient is the U→C pipeline: it drains the bound upstream's
// Receive channel, forwarding model output to the client and dispatching
// tool calls onto toolQueue. It owns both reconnection trigger points: a
// go_away with a truthy time_left, and an abnormal Receive channel close.
func runUpstreamToClient(ctx context.Context, conn ClientConn, sess *Session, toolQueue chan<- ToolCallEnvelope, factory UpstreamFactory, logger *slog.Logger) pumpOutcome {
	var inputBuf, outputBuf strings.Builder

	for {
		upstream := sess.Upstream()
		select {
		case <-ctx.Done():
			return pumpOutcome{Kind: outcomeExit}

		case msg, ok := <-upstream.Receive():
			if !ok {
				err := upstream.Err()
				if err == nil {
					return pumpOutcome{Kind: outcomeExit}
				}
				if isQuotaExceeded(err) {
					sendQuotaExceeded(ctx, conn)
					return pumpOutcome{Kind: outcomeExit, Err: err}
				}
				if isConnectionClosed(err) {
					logger.Info("upstream closed, attempting reconnect", "session_id", sess.ID, "error", err)
					return reconnect(ctx, conn, sess, factory, logger)
				}
				logger.Warn("upstream receive failed", "session_id", sess.ID, "error", err)
				return pumpOutcome{Kind: outcomeExit, Err: err}
			}

			if msg.ToolCall != nil {
				select {
				case toolQueue <- *msg.ToolCall:
				case <-ctx.Done():
					return pumpOutcome{Kind: outcomeExit}
				}
				continue
			}

			if msg.SessionResumptionUpdate != nil {
				if msg.SessionResumptionUpdate.Resumable && msg.SessionResumptionUpdate.Handle != "" {
					logger.Info("session resumption handle updated", "session_id", sess.ID)
				}
				continue
			}

			if msg.GoAway != nil {
				if msg.GoAway.TimeLeftMs > 0 {
					return reconnect(ctx, conn, sess, factory, logger)
				}
				continue
			}

			if msg.ServerContent != nil {
				handleServerContent(ctx, conn, sess, *msg.ServerContent, &inputBuf, &outputBuf, logger)
			}
		}
	}
}

func handleServerContent(ctx context.Context, conn ClientConn, sess *Session, sc ServerContent, inputBuf, outputBuf *strings.Builder, logger *slog.Logger) {
	if sc.Interrupted {
		_ = conn.WriteFrame(ctx, OutFrame{Type: "interrupted", Data: InterruptedPayload{Message: "Response interrupted"}})
		outputBuf.Reset()
		sess.SetReceivingResponse(false)
	}

	for _, part := range sc.ModelTurnParts {
		if len(part.InlineAudio) > 0 {
			sess.SetReceivingResponse(true)
			sess.SetReceivedModelResponse(true)
			audio := CleanQuotes(base64.StdEncoding.EncodeToString(part.InlineAudio))
			_ = conn.WriteFrame(ctx, OutFrame{Type: "audio", Data: audio})
		}
		if part.Text != "" {
			_ = conn.WriteFrame(ctx, OutFrame{Type: "text", Data: CleanQuotes(NormalizeText(part.Text))})
		}
	}

	if sc.InputTranscription != "" {
		inputBuf.WriteString(NormalizeText(sc.InputTranscription))
	}
	if sc.OutputTranscription != "" {
		cleaned := NormalizeText(sc.OutputTranscription)
		outputBuf.WriteString(cleaned)
		_ = conn.WriteFrame(ctx, OutFrame{Type: "text", Data: cleaned})
	}

	if sc.TurnComplete {
		_ = conn.WriteFrame(ctx, OutFrame{Type: "turn_complete"})
		publishTurn(ctx, sess, inputBuf.String(), outputBuf.String(), logger)
		inputBuf.Reset()
		outputBuf.Reset()
		sess.SetReceivingResponse(false)
		sess.SetReceivedModelResponse(false)
	}
}

func publishTurn(ctx context.Context, sess *Session, input, output string, logger *slog.Logger) {
	if sess.Producer == nil {
		return
	}
	userID, _ := strconv.ParseInt(sess.BaseInfo.PublishUserID(), 10, 64)

	publish := func(role, content string) {
		cleaned := CleanQuotes(NormalizeText(content))
		if cleaned == "" {
			return
		}
		envelope := NewMessageEnvelope(sess.ID, userID, role, cleaned, time.Now().UnixMilli())
		if err := sess.Producer.SendSync(ctx, envelope, []string{sess.ID}); err != nil {
			logger.Warn("publish transcript failed", "session_id", sess.ID, "role", role, "error", err)
		}
	}

	publish("user", input)
	publish("assistant", output)
}

// reconnect performs the shared "close old → notify client → create new →
// rebind → notify client" sequence used by both reconnection trigger
// points, per SPEC_FULL.md §9.
func reconnect(ctx context.Context, conn ClientConn, sess *Session, factory UpstreamFactory, logger *slog.Logger) pumpOutcome {
	_ = sess.Upstream().Close()
	_ = conn.WriteFrame(ctx, OutFrame{Type: "state", Data: "start reconnect"})

	newUpstream, err := factory.NewSession(ctx, sess.BaseInfo)
	if err != nil {
		logger.Error("reconnect failed", "session_id", sess.ID, "error", err)
		_ = conn.WriteFrame(ctx, OutFrame{Type: "error", Data: ErrorPayload{
			Message:   "Reconnection failed.",
			ErrorType: "reconnect_failed",
		}})
		return pumpOutcome{Kind: outcomeExit, Err: err}
	}

	_ = conn.WriteFrame(ctx, OutFrame{Reconnect: true, Data: "reconnected successfully"})
	return pumpOutcome{Kind: outcomeReconnect, NewUpstream: newUpstream}
}

func sendQuotaExceeded(ctx context.Context, conn ClientConn) {
	_ = conn.WriteFrame(ctx, OutFrame{Type: "error", Data: ErrorPayload{
		Message:   "Quota exceeded.",
		Action:    "Please wait a moment and try again in a few minutes.",
		ErrorType: "quota_exceeded",
	}})
	_ = conn.WriteFrame(ctx, OutFrame{Type: "text", Data: "⚠️ Quota exceeded. Please try again shortly."})
}

func isQuotaExceeded(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "quota exceeded")
}

func isConnectionClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrConnectionClosed) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "connection closed")
}
