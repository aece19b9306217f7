package llm

import (
	"context"
	"time"

	"github.com/xiaot623/csassistant/internal/selector"
)

// SourceLocal marks replies produced by the keyword selector.
const SourceLocal = "selector"

// LocalClient answers from the knowledge base via the selector.
type LocalClient struct {
	selector *selector.Selector
	now      func() time.Time
}

// NewLocalClient creates a new local responder.
func NewLocalClient(sel *selector.Selector) *LocalClient {
	return &LocalClient{selector: sel, now: time.Now}
}

// Reply selects a canned answer. It only fails when ctx is already done.
func (c *LocalClient) Reply(ctx context.Context, req *ReplyRequest) (*ReplyResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res := c.selector.Match(req.Text)
	return &ReplyResponse{
		Text:      res.Text,
		Source:    SourceLocal,
		Rule:      res.Rule,
		Kind:      string(res.Kind),
		Timestamp: c.now(),
	}, nil
}
