package bus

import "github.com/pingpal-io/pingpal/pkg/attach"

// InboundMessage is a triggering event as surfaced by a channel adapter.
// The adapter has already run its trigger filter: anything published here
// must be answered (or denied with a visible notice).
type InboundMessage struct {
	Channel        string              `json:"channel"` // adapter name, e.g. "discord"
	ChatID         string              `json:"chat_id"` // platform conversation id
	MessageID      string              `json:"message_id"`
	SenderID       string              `json:"sender_id"`
	SenderName     string              `json:"sender_name,omitempty"`
	Content        string              `json:"content"`
	Mentioned      bool                `json:"mentioned,omitempty"`       // explicit bot mention
	ReplyToBot     bool                `json:"reply_to_bot,omitempty"`    // reply to the bot's own message
	ReferencedText string              `json:"referenced_text,omitempty"` // bot message being replied to
	Attachments    []attach.Descriptor `json:"attachments,omitempty"`
	PlaceholderID  string              `json:"placeholder_id,omitempty"` // transient "thinking" message to edit
	Metadata       map[string]string   `json:"metadata,omitempty"`
}

// SessionKey scopes history per (channel, conversation, user): the same user
// in two conversations, or two users in one conversation, never share state.
func (m InboundMessage) SessionKey() string {
	return m.Channel + ":" + m.ChatID + ":" + m.SenderID
}

// OutboundMessage is one send or edit for a channel adapter to perform.
type OutboundMessage struct {
	Channel       string `json:"channel"`
	ChatID        string `json:"chat_id"`
	Content       string `json:"content"`
	ReplyToID     string `json:"reply_to_id,omitempty"`     // reply target message id
	EditMessageID string `json:"edit_message_id,omitempty"` // edit this message instead of sending
}

// SystemEvent is a typed event flowing through the bus for observability.
type SystemEvent struct {
	Type   string      `json:"type"`   // e.g. "turn.completed", "turn.denied"
	Source string      `json:"source"` // e.g. "agent", "discord"
	Data   interface{} `json:"data"`
}
