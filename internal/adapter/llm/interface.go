// Package llm provides the responder that turns a user message into an
// assistant reply. The local client is keyword-matched; the remote client
// calls a compatible /api/chat endpoint.
package llm

import (
	"context"
	"time"
)

// ReplyRequest asks for a reply to Text.
type ReplyRequest struct {
	SessionID string
	Text      string
}

// ReplyResponse is the produced reply.
type ReplyResponse struct {
	Text      string
	Source    string
	Rule      string
	Kind      string
	Timestamp time.Time
}

// Client defines the interface for responders.
type Client interface {
	Reply(ctx context.Context, req *ReplyRequest) (*ReplyResponse, error)
}

// Ensure both clients implement Client.
var (
	_ Client = (*LocalClient)(nil)
	_ Client = (*RemoteClient)(nil)
)
