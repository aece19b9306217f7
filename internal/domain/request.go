package domain

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Message string `json:"message"`
}

// ChatResponse is the reply of POST /api/chat.
type ChatResponse struct {
	Response  string `json:"response"`
	Timestamp string `json:"timestamp"`
}

// ClearChatResponse is the reply of POST /api/clear_chat.
type ClearChatResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// SubmitRequest is the body for posting a new user message.
type SubmitRequest struct {
	Text string `json:"text"`
}

// SubmitResponse is returned once a user message is accepted.
type SubmitResponse struct {
	Message Message         `json:"message"`
	State   ControllerState `json:"state"`
}

// EditRequest is the body for editing a user message.
type EditRequest struct {
	Text string `json:"text"`
}

// EditResponse is returned after an edit.
type EditResponse struct {
	Message      Message `json:"message"`
	Regenerating bool    `json:"regenerating"`
}

// ConversationResponse is the rendered state of a conversation.
type ConversationResponse struct {
	SessionID string          `json:"session_id"`
	Messages  []Message       `json:"messages"`
	State     ControllerState `json:"state"`
}

// FeedbackRequest is the body for rating an assistant reply.
type FeedbackRequest struct {
	Helpful bool `json:"helpful"`
}

// ThemeRequest is the body for updating the theme preference.
type ThemeRequest struct {
	Theme string `json:"theme"`
}

// ThemeResponse carries the current theme preference.
type ThemeResponse struct {
	Theme Theme `json:"theme"`
}

// HistoryResponse lists recent submissions, newest first.
type HistoryResponse struct {
	History []string `json:"history"`
}

// TopicsResponse lists what the assistant knows about.
type TopicsResponse struct {
	Catalog        []CatalogTopic `json:"catalog"`
	Topics         []string       `json:"topics"`
	QuickQuestions []string       `json:"quick_questions"`
}
