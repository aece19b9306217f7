package ws

import "github.com/xiaot623/csassistant/internal/domain"

// Message types from client to server
const (
	TypeHello  = "hello"
	TypeSubmit = "submit"
	TypeEdit   = "edit"
	TypeClear  = "clear"
	TypeCancel = "cancel"
)

// Message types from server to client
const (
	TypeHelloAck = "hello_ack"
	TypeEvent    = "event"
	TypeError    = "error"
)

// Error codes
const (
	ErrorCodeInvalidMessage  = "INVALID_MESSAGE"
	ErrorCodeSessionRequired = "SESSION_REQUIRED"
	ErrorCodeRateLimited     = "RATE_LIMITED"
	ErrorCodeBlank           = "BLANK_MESSAGE"
	ErrorCodeBusy            = "AWAITING_REPLY"
	ErrorCodeRejected        = "REJECTED"
	ErrorCodeNotFound        = "NOT_FOUND"
	ErrorCodeNotUserMessage  = "NOT_USER_MESSAGE"
	ErrorCodeInternal        = "INTERNAL_ERROR"
)

// BaseMessage contains common fields for all messages.
type BaseMessage struct {
	Type      string `json:"type"`
	Ts        int64  `json:"ts"`
	RequestID string `json:"request_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// HelloMessage binds the connection to a session. An empty session_id asks
// the server to allocate one.
type HelloMessage struct {
	BaseMessage
}

// HelloAckMessage carries the conversation the connection is now bound to.
type HelloAckMessage struct {
	BaseMessage
	Messages []domain.Message      `json:"messages"`
	State    domain.ControllerState `json:"state"`
}

// SubmitMessage posts a new user message.
type SubmitMessage struct {
	BaseMessage
	Text string `json:"text"`
}

// EditMessage edits an earlier user message.
type EditMessage struct {
	BaseMessage
	MessageID int64  `json:"message_id"`
	Text      string `json:"text"`
}

// EventMessage wraps a conversation event.
type EventMessage struct {
	BaseMessage
	Event domain.Event `json:"event"`
}

// ErrorMessage reports a failed request.
type ErrorMessage struct {
	BaseMessage
	Code    string `json:"code"`
	Message string `json:"message"`
}
