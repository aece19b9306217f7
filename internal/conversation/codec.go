package conversation

import (
	"encoding/json"
	"fmt"

	"github.com/xiaot623/csassistant/internal/domain"
)

// Encode serializes messages as a JSON array. Timestamps are RFC 3339 with
// nanoseconds.
func Encode(messages []domain.Message) (string, error) {
	if messages == nil {
		messages = []domain.Message{}
	}
	data, err := json.Marshal(messages)
	if err != nil {
		return "", fmt.Errorf("failed to encode conversation: %w", err)
	}
	return string(data), nil
}

// Decode parses a snapshot produced by Encode. Unknown roles and ids that are
// not strictly increasing are rejected.
func Decode(raw string) ([]domain.Message, error) {
	var messages []domain.Message
	if err := json.Unmarshal([]byte(raw), &messages); err != nil {
		return nil, fmt.Errorf("failed to decode conversation: %w", err)
	}
	var prev int64
	for i, m := range messages {
		if m.Role == "" {
			return nil, fmt.Errorf("message %d: missing role", i)
		}
		if m.ID <= prev {
			return nil, fmt.Errorf("message %d: %w", i, ErrIDOutOfOrder)
		}
		prev = m.ID
	}
	return messages, nil
}
