// Package domain defines the core domain models for the assistant.
package domain

import "fmt"

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// legacyRoleBot is how older snapshots spelled the assistant role.
const legacyRoleBot = "bot"

// ParseRole converts a serialized role into a Role.
func ParseRole(s string) (Role, error) {
	switch s {
	case string(RoleUser):
		return RoleUser, nil
	case string(RoleAssistant), legacyRoleBot:
		return RoleAssistant, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// ControllerState represents the state of a conversation controller.
type ControllerState string

const (
	StateIdle          ControllerState = "idle"
	StateAwaitingReply ControllerState = "awaiting_reply"
)

// Theme is the stored color theme preference.
type Theme string

const (
	ThemeDark  Theme = "dark"
	ThemeLight Theme = "light"
)

// ParseTheme validates a theme name.
func ParseTheme(s string) (Theme, error) {
	switch Theme(s) {
	case ThemeDark, ThemeLight:
		return Theme(s), nil
	default:
		return "", fmt.Errorf("unknown theme %q", s)
	}
}

// Toggle returns the opposite theme.
func (t Theme) Toggle() Theme {
	if t == ThemeLight {
		return ThemeDark
	}
	return ThemeLight
}

// EventType represents the type of a conversation event.
type EventType string

const (
	EventTypeMessageAppended     EventType = "message_appended"
	EventTypeMessageEdited       EventType = "message_edited"
	EventTypeMessagesTruncated   EventType = "messages_truncated"
	EventTypeConversationCleared EventType = "conversation_cleared"
	EventTypeStateChanged        EventType = "state_changed"
	EventTypeReplyCancelled      EventType = "reply_cancelled"
)
