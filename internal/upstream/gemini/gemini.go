// Package gemini implements bridge.UpstreamFactory and bridge.UpstreamSession
// against Google's Gemini Live BidiGenerateContent WebSocket protocol.
//
// It dials a bidirectional WebSocket connection and exchanges JSON messages;
// audio is transmitted as base64-encoded PCM chunks, tool calls and upstream
// control signals (go_away, session_resumption_update) are surfaced through
// the tagged bridge.UpstreamMessage union rather than per-event callbacks.
package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/livebridge/internal/bridge"
)

var _ bridge.UpstreamFactory = (*Factory)(nil)
var _ bridge.UpstreamSession = (*session)(nil)

const (
	defaultModel             = "gemini-2.0-flash-live-001"
	defaultDevelopmentAPIURL = "wss://generativelanguage.googleapis.com/ws"
	defaultVertexLocation    = "us-central1"
	apiVersionDevelopment    = "v1alpha"

	keepaliveInterval = 20 * time.Second
	keepaliveTimeout  = 5 * time.Second

	// Automatic voice-activity detection, per SPEC_FULL.md §6.
	vadStartSensitivity = "START_SENSITIVITY_LOW"
	vadEndSensitivity   = "END_SENSITIVITY_HIGH"
	vadSilenceMs        = 1000
	vadPrefixPaddingMs  = 0

	// Context-window compression thresholds, per SPEC_FULL.md §6.
	compressionTriggerTokens = 12800
	compressionTargetTokens  = 10240
)

// TokenSource produces a bearer token for Vertex AI requests. The concrete
// OAuth/service-account implementation is left to the caller (an
// authentication backend is an explicit Non-goal); Factory only caches
// whatever TokenSource.Token returns, mirroring the source's
// _get_cached_credentials singleton.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Option is a functional option for configuring a Factory.
type Option func(*Factory)

// WithModel overrides the Gemini model used for sessions.
func WithModel(model string) Option {
	return func(f *Factory) { f.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(f *Factory) { f.baseURL = url }
}

// Factory creates Gemini Live upstream sessions, either against the public
// Generative Language API ("development" mode, an API key) or against
// Vertex AI ("vertex" mode, a project/location and a TokenSource).
type Factory struct {
	mode UpstreamModeConfig

	model   string
	baseURL string

	systemTemplate string

	tokenOnce   sync.Once
	cachedToken string
	tokenErr    error
}

// UpstreamModeConfig selects and parameterizes the upstream connection mode.
type UpstreamModeConfig struct {
	Mode UpstreamModeKind

	// Development mode.
	APIKey string

	// Vertex mode.
	ProjectID string
	Location  string
	Tokens    TokenSource
}

// UpstreamModeKind distinguishes development (API key) from Vertex (service
// credentials) connections, per SPEC_FULL.md §4.1.
type UpstreamModeKind int

const (
	ModeDevelopment UpstreamModeKind = iota
	ModeVertex
)

// NewFactory constructs a Factory. systemTemplate is a Printf-style template
// rendered with (date, location) per bridge.BaseInfo.SystemInstruction.
func NewFactory(mode UpstreamModeConfig, systemTemplate string, opts ...Option) *Factory {
	if mode.Location == "" {
		mode.Location = defaultVertexLocation
	}
	f := &Factory{
		mode:           mode,
		model:          defaultModel,
		baseURL:        defaultDevelopmentAPIURL,
		systemTemplate: systemTemplate,
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// NewSession dials a new Gemini Live connection, sends the setup message
// derived from info, and returns a ready bridge.UpstreamSession. Credential
// resolution and the WebSocket dial are the blocking work the WarmupPool is
// responsible for running off the client I/O path (SPEC_FULL.md §9).
func (f *Factory) NewSession(ctx context.Context, info bridge.BaseInfo) (bridge.UpstreamSession, error) {
	wsURL, headers, err := f.dialTarget(ctx)
	if err != nil {
		return nil, fmt.Errorf("gemini: resolve dial target: %w", err)
	}

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		return nil, fmt.Errorf("gemini: dial: %w", err)
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		conn:   conn,
		recv:   make(chan bridge.UpstreamMessage, 32),
		done:   make(chan struct{}),
		ctx:    sessCtx,
		cancel: sessCancel,
	}

	if err := sess.sendSetup(f.model, f.systemTemplate, info); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "setup failed")
		return nil, fmt.Errorf("gemini: setup: %w", err)
	}

	go sess.receiveLoop()
	go sess.keepaliveLoop()

	return sess, nil
}

// dialTarget resolves the WebSocket URL and headers for the configured mode.
func (f *Factory) dialTarget(ctx context.Context) (string, http.Header, error) {
	switch f.mode.Mode {
	case ModeVertex:
		token, err := f.vertexToken(ctx)
		if err != nil {
			return "", nil, err
		}
		wsURL := fmt.Sprintf(
			"%s/google.cloud.aiplatform.%s.LlmBidiService/BidiGenerateContent",
			f.baseURL, f.mode.Location,
		)
		return wsURL, http.Header{"Authorization": []string{"Bearer " + token}}, nil
	default:
		wsURL := fmt.Sprintf(
			"%s/google.ai.generativelanguage.v1alpha.GenerativeService.BidiGenerateContent?key=%s",
			f.baseURL, f.mode.APIKey,
		)
		return wsURL, http.Header{"Content-Type": []string{"application/json"}}, nil
	}
}

// vertexToken returns a cached bearer token, fetching one on first use. This
// mirrors the source's module-level _CACHED_CREDS singleton: one token
// acquisition shared by every warmup-pool session creation.
func (f *Factory) vertexToken(ctx context.Context) (string, error) {
	f.tokenOnce.Do(func() {
		if f.mode.Tokens == nil {
			f.tokenErr = fmt.Errorf("gemini: vertex mode requires a TokenSource")
			return
		}
		f.cachedToken, f.tokenErr = f.mode.Tokens.Token(ctx)
	})
	return f.cachedToken, f.tokenErr
}

// ── Protocol message types (outgoing) ──────────────────────────────────────

type setupMessage struct {
	Setup setupConfig `json:"setup"`
}

type setupConfig struct {
	Model                    string                          `json:"model"`
	GenerationConfig         generationConfig                `json:"generationConfig"`
	SystemInstruction        *systemInstruction              `json:"systemInstruction,omitempty"`
	Tools                    []geminiTool                    `json:"tools,omitempty"`
	RealtimeInputConfig      *realtimeInputConfig            `json:"realtimeInputConfig,omitempty"`
	SessionResumption        *sessionResumptionConfig        `json:"sessionResumption,omitempty"`
	InputAudioTranscription  *struct{}                       `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *struct{}                       `json:"outputAudioTranscription,omitempty"`
	ContextWindowCompression *contextWindowCompressionConfig `json:"contextWindowCompression,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig  voiceConfig `json:"voiceConfig"`
	LanguageCode string      `json:"languageCode,omitempty"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type systemInstruction struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64-encoded
}

type geminiTool struct {
	FunctionDeclarations []functionDeclaration `json:"functionDeclarations,omitempty"`
	GoogleSearch         *struct{}             `json:"googleSearch,omitempty"`
}

type functionDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type realtimeInputConfig struct {
	AutomaticActivityDetection *automaticActivityDetection `json:"automaticActivityDetection,omitempty"`
}

type automaticActivityDetection struct {
	StartOfSpeechSensitivity string `json:"startOfSpeechSensitivity"`
	EndOfSpeechSensitivity   string `json:"endOfSpeechSensitivity"`
	SilenceDurationMs        int    `json:"silenceDurationMs"`
	PrefixPaddingMs          int    `json:"prefixPaddingMs"`
}

type sessionResumptionConfig struct {
	Transparent *struct{} `json:"transparent,omitempty"`
}

type contextWindowCompressionConfig struct {
	TriggerTokens int                  `json:"triggerTokens"`
	SlidingWindow *slidingWindowConfig `json:"slidingWindow,omitempty"`
}

type slidingWindowConfig struct {
	TargetTokens int `json:"targetTokens"`
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	MediaChunks []mediaChunk `json:"mediaChunks"`
}

type mediaChunk struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64-encoded
}

type clientContentMessage struct {
	ClientContent clientContent `json:"clientContent"`
}

type clientContent struct {
	Turns        []contentTurn `json:"turns"`
	TurnComplete bool          `json:"turnComplete"`
}

type contentTurn struct {
	Role  string `json:"role"`
	Parts []part `json:"parts"`
}

type toolResponseMessage struct {
	ToolResponse toolResponse `json:"toolResponse"`
}

type toolResponse struct {
	FunctionResponses []functionResponse `json:"functionResponses"`
}

type functionResponse struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

// ── Protocol message types (incoming) ──────────────────────────────────────

type serverMessage struct {
	SetupComplete           *json.RawMessage            `json:"setupComplete,omitempty"`
	ServerContent           *serverContentMsg           `json:"serverContent,omitempty"`
	ToolCall                *toolCallMsg                `json:"toolCall,omitempty"`
	ToolCallCancellation    *json.RawMessage            `json:"toolCallCancellation,omitempty"`
	GoAway                  *goAwayMsg                  `json:"goAway,omitempty"`
	SessionResumptionUpdate *sessionResumptionUpdateMsg `json:"sessionResumptionUpdate,omitempty"`
	Error                   *geminiError                `json:"error,omitempty"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

type serverContentMsg struct {
	ModelTurn           *modelTurn     `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	InputTranscription  *transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
}

type modelTurn struct {
	Parts []part `json:"parts"`
}

type transcription struct {
	Text string `json:"text"`
}

type toolCallMsg struct {
	FunctionCalls []functionCall `json:"functionCalls"`
}

type functionCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

type goAwayMsg struct {
	TimeLeft string `json:"timeLeft,omitempty"` // protobuf Duration JSON, e.g. "10s"
}

type sessionResumptionUpdateMsg struct {
	NewHandle string `json:"newHandle,omitempty"`
	Resumable bool   `json:"resumable,omitempty"`
}

// ── session ─────────────────────────────────────────────────────────────────

type session struct {
	conn *websocket.Conn
	recv chan bridge.UpstreamMessage
	done chan struct{}

	mu     sync.Mutex
	errVal error
	closed bool

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// sendSetup sends the initial BidiGenerateContent setup message, composing
// the generation, VAD, resumption, transcription and compression
// configuration described in SPEC_FULL.md §6.
func (s *session) sendSetup(model, systemTemplate string, info bridge.BaseInfo) error {
	msg := setupMessage{
		Setup: setupConfig{
			Model: fmt.Sprintf("models/%s", model),
			GenerationConfig: generationConfig{
				ResponseModalities: []string{"audio"},
				SpeechConfig: &speechConfig{
					VoiceConfig:  voiceConfig{PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: info.Voice}},
					LanguageCode: "en-US",
				},
			},
			Tools: []geminiTool{{GoogleSearch: &struct{}{}}},
			RealtimeInputConfig: &realtimeInputConfig{
				AutomaticActivityDetection: &automaticActivityDetection{
					StartOfSpeechSensitivity: vadStartSensitivity,
					EndOfSpeechSensitivity:   vadEndSensitivity,
					SilenceDurationMs:        vadSilenceMs,
					PrefixPaddingMs:          vadPrefixPaddingMs,
				},
			},
			SessionResumption:        &sessionResumptionConfig{Transparent: &struct{}{}},
			InputAudioTranscription:  &struct{}{},
			OutputAudioTranscription: &struct{}{},
			ContextWindowCompression: &contextWindowCompressionConfig{
				TriggerTokens: compressionTriggerTokens,
				SlidingWindow: &slidingWindowConfig{TargetTokens: compressionTargetTokens},
			},
		},
	}

	if systemTemplate != "" {
		msg.Setup.SystemInstruction = &systemInstruction{
			Parts: []part{{Text: info.SystemInstruction(systemTemplate)}},
		}
	}

	return s.writeJSON(msg)
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("gemini: marshal: %w", err)
	}
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

// receiveLoop reads messages from the WebSocket and dispatches them onto
// recv. It owns recv: it closes it when it exits.
func (s *session) receiveLoop() {
	defer s.closeChannels()

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.setErr(err)
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue // skip malformed frames
		}

		if !s.handleServerMessage(&msg) {
			return
		}
	}
}

// handleServerMessage dispatches one decoded frame, returning false if the
// session should stop (a fatal upstream error).
func (s *session) handleServerMessage(msg *serverMessage) bool {
	if msg.Error != nil {
		text := msg.Error.Message
		if text == "" {
			text = "unknown error"
		}
		s.setErr(fmt.Errorf("gemini: %s", text))
		return false
	}

	if msg.GoAway != nil {
		var ms int64
		if d, err := time.ParseDuration(msg.GoAway.TimeLeft); err == nil {
			ms = d.Milliseconds()
		}
		s.emit(bridge.UpstreamMessage{GoAway: &bridge.GoAway{TimeLeftMs: ms}})
	}

	if msg.SessionResumptionUpdate != nil {
		s.emit(bridge.UpstreamMessage{SessionResumptionUpdate: &bridge.SessionResumptionUpdate{
			Resumable: msg.SessionResumptionUpdate.Resumable,
			Handle:    msg.SessionResumptionUpdate.NewHandle,
		}})
	}

	if msg.ToolCall != nil {
		calls := make([]bridge.FunctionCall, len(msg.ToolCall.FunctionCalls))
		for i, fc := range msg.ToolCall.FunctionCalls {
			calls[i] = bridge.FunctionCall{ID: fc.ID, Name: fc.Name, Args: fc.Args}
		}
		s.emit(bridge.UpstreamMessage{ToolCall: &bridge.ToolCallEnvelope{FunctionCalls: calls}})
	}

	if msg.ServerContent != nil {
		s.emit(bridge.UpstreamMessage{ServerContent: toBridgeServerContent(msg.ServerContent)})
	}

	return true
}

func toBridgeServerContent(sc *serverContentMsg) *bridge.ServerContent {
	out := &bridge.ServerContent{
		Interrupted:  sc.Interrupted,
		TurnComplete: sc.TurnComplete,
	}
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			switch {
			case p.InlineData != nil:
				if audio, err := base64.StdEncoding.DecodeString(p.InlineData.Data); err == nil && len(audio) > 0 {
					out.ModelTurnParts = append(out.ModelTurnParts, bridge.ModelPart{InlineAudio: audio})
				}
			case p.Text != "":
				out.ModelTurnParts = append(out.ModelTurnParts, bridge.ModelPart{Text: p.Text})
			}
		}
	}
	if sc.InputTranscription != nil {
		out.InputTranscription = sc.InputTranscription.Text
	}
	if sc.OutputTranscription != nil {
		out.OutputTranscription = sc.OutputTranscription.Text
	}
	return out
}

func (s *session) emit(msg bridge.UpstreamMessage) {
	select {
	case s.recv <- msg:
	case <-s.ctx.Done():
	}
}

// keepaliveLoop sends WebSocket pings to keep the Gemini Live connection
// alive.
func (s *session) keepaliveLoop() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(s.ctx, keepaliveTimeout)
			_ = s.conn.Ping(pingCtx)
			cancel()
		}
	}
}

func (s *session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errVal == nil {
		s.errVal = err
	}
}

func (s *session) closeChannels() {
	s.closeOnce.Do(func() { close(s.recv) })
}

// ── bridge.UpstreamSession ──────────────────────────────────────────────────

// SendAudio delivers a raw PCM audio chunk (16 kHz, s16le, mono) to the model.
func (s *session) SendAudio(ctx context.Context, pcm []byte) error {
	return s.sendMediaChunk(ctx, "audio/pcm;rate=16000", pcm)
}

// SendImage delivers a JPEG frame to the model.
func (s *session) SendImage(ctx context.Context, jpeg []byte) error {
	return s.sendMediaChunk(ctx, "image/jpeg", jpeg)
}

func (s *session) sendMediaChunk(_ context.Context, mimeType string, payload []byte) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return fmt.Errorf("gemini: session closed")
	}

	msg := realtimeInputMessage{
		RealtimeInput: realtimeInput{
			MediaChunks: []mediaChunk{
				{MIMEType: mimeType, Data: base64.StdEncoding.EncodeToString(payload)},
			},
		},
	}
	return s.writeJSON(msg)
}

// SendText forwards a text turn with end-of-turn true.
func (s *session) SendText(_ context.Context, text string) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return fmt.Errorf("gemini: session closed")
	}

	msg := clientContentMessage{
		ClientContent: clientContent{
			Turns:        []contentTurn{{Role: "user", Parts: []part{{Text: text}}}},
			TurnComplete: true,
		},
	}
	return s.writeJSON(msg)
}

// SendToolResponses posts a consolidated batch of tool results upstream.
func (s *session) SendToolResponses(_ context.Context, responses []bridge.FunctionResponse) error {
	resp := make([]functionResponse, len(responses))
	for i, r := range responses {
		resp[i] = functionResponse{ID: r.ID, Name: r.Name, Response: r.Result}
	}
	return s.writeJSON(toolResponseMessage{ToolResponse: toolResponse{FunctionResponses: resp}})
}

// Receive returns the channel of incoming upstream messages.
func (s *session) Receive() <-chan bridge.UpstreamMessage { return s.recv }

// Err returns the error that caused Receive's channel to close, or nil on a
// clean close.
func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Close terminates the session and releases all resources. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	close(s.done)
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
