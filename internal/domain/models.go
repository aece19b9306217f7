package domain

import "time"

// Message is a single entry of a conversation.
type Message struct {
	ID        int64      `json:"id"`
	Role      Role       `json:"role"`
	Text      string     `json:"text"`
	CreatedAt time.Time  `json:"createdAt"`
	Topic     string     `json:"topic,omitempty"`
	EditedAt  *time.Time `json:"editedAt,omitempty"`
}

// IsUser reports whether the message was written by the user.
func (m Message) IsUser() bool {
	return m.Role == RoleUser
}

// Event is emitted whenever a conversation changes.
type Event struct {
	Type      EventType       `json:"type"`
	SessionID string          `json:"session_id"`
	Message   *Message        `json:"message,omitempty"`
	MessageID int64           `json:"message_id,omitempty"`
	State     ControllerState `json:"state"`
	Ts        int64           `json:"ts"`
}

// Feedback is a user's rating of an assistant reply.
type Feedback struct {
	SessionID string    `json:"session_id"`
	MessageID int64     `json:"message_id"`
	Helpful   bool      `json:"helpful"`
	CreatedAt time.Time `json:"created_at"`
}

// CatalogTopic is one of the subject areas advertised to users.
type CatalogTopic struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
	Icon string `json:"icon" yaml:"icon"`
}
