package llm

import (
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xiaot623/csassistant/internal/selector"
)

const (
	// EnvMode is the environment variable name for mode selection.
	EnvMode = "CSA_MODE"
	// ModeLocal answers from the embedded knowledge base.
	ModeLocal = "LOCAL"
	// ModeRemote forwards questions to a remote /api/chat endpoint.
	ModeRemote = "REMOTE"
)

// NewClient creates a responder for mode. Anything other than REMOTE uses
// the local selector.
func NewClient(mode string, sel *selector.Selector, remoteURL string, timeout time.Duration, logger *zap.Logger) Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.EqualFold(mode, ModeRemote) {
		logger.Info("responder_selected", zap.String("mode", ModeRemote), zap.String("url", remoteURL))
		return NewRemoteClient(remoteURL, timeout)
	}
	logger.Info("responder_selected", zap.String("mode", ModeLocal))
	return NewLocalClient(sel)
}
