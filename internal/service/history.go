package service

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/xiaot623/csassistant/internal/repository"
)

// SearchHistoryLimit is how many past inputs are remembered.
const SearchHistoryLimit = 10

// SearchHistory returns recent submissions, newest first. A missing or
// corrupt history reads as empty.
func (c *Controller) SearchHistory(ctx context.Context) ([]string, error) {
	raw, found, err := c.storage.GetItem(ctx, repository.KeySearchHistory)
	if err != nil {
		return nil, fmt.Errorf("failed to read search history: %w", err)
	}
	if !found {
		return []string{}, nil
	}
	var history []string
	if err := json.Unmarshal([]byte(raw), &history); err != nil {
		c.logger.Warn("search_history_corrupt", zap.Error(err))
		return []string{}, nil
	}
	return history, nil
}

// recordSearch moves text to the front of the search history. Failures are
// logged; they never block a submission.
func (c *Controller) recordSearch(ctx context.Context, text string) {
	history, err := c.SearchHistory(ctx)
	if err != nil {
		c.logger.Warn("search_history_unreadable", zap.Error(err))
		history = nil
	}

	next := make([]string, 0, SearchHistoryLimit)
	next = append(next, text)
	for _, h := range history {
		if len(next) == SearchHistoryLimit {
			break
		}
		if h != text {
			next = append(next, h)
		}
	}

	data, err := json.Marshal(next)
	if err != nil {
		c.logger.Warn("search_history_encode_failed", zap.Error(err))
		return
	}
	if err := c.storage.SetItem(ctx, repository.KeySearchHistory, string(data)); err != nil {
		c.logger.Warn("search_history_write_failed", zap.Error(err))
	}
}
