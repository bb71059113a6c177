package bridge

import "context"

// MessageEnvelope is the durable-message wire schema, per SPEC_FULL.md §6.
// createdTime is stamped in epoch milliseconds; assistantId and cmType are
// fixed literals carried over unchanged from the source schema.
type MessageEnvelope struct {
	MessageID   string `json:"messageId"`
	UserID      int64  `json:"userId"`
	Role        string `json:"role"` // "user" | "assistant"
	MessageType string `json:"messageType"`
	Content     string `json:"content"`
	CreatedTime int64  `json:"createdTime"`
	AssistantID string `json:"assistantId"`
	CMType      string `json:"cmType"`
}

const (
	messageTypeText = "text"
	assistantID     = "99999999"
	cmTypeTextChat  = "text_chat"
)

// NewMessageEnvelope builds the fixed-shape envelope for a transcript
// publish, per SPEC_FULL.md §6.
func NewMessageEnvelope(messageID string, userID int64, role, content string, createdTimeMs int64) MessageEnvelope {
	return MessageEnvelope{
		MessageID:   messageID,
		UserID:      userID,
		Role:        role,
		MessageType: messageTypeText,
		Content:     content,
		CreatedTime: createdTimeMs,
		AssistantID: assistantID,
		CMType:      cmTypeTextChat,
	}
}

// MessageProducer is the durable-message producer external collaborator,
// per SPEC_FULL.md §6: send_sync(body, properties, keys, tags?, topic?) →
// bool, rendered here as a single-return-value Go error contract. It is
// owned per-Session, never shared (SPEC_FULL.md §5 "Shared resources").
type MessageProducer interface {
	// SendSync publishes envelope synchronously, tagged with keys for
	// dedup/routing. Returns an error if the publish could not be
	// confirmed; callers treat this as at-least-once delivery (exactly-once
	// is an explicit Non-goal).
	SendSync(ctx context.Context, envelope MessageEnvelope, keys []string) error

	// Close releases producer resources. Idempotent.
	Close() error
}
