package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// SourceRemote marks replies produced by a remote /api/chat endpoint.
const SourceRemote = "remote"

// ErrEmptyReply is returned when the remote endpoint answers with no text.
var ErrEmptyReply = errors.New("empty reply")

// RemoteClient calls POST {baseURL}/api/chat. Requests are not retried.
type RemoteClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewRemoteClient creates a new remote responder.
func NewRemoteClient(baseURL string, timeout time.Duration) *RemoteClient {
	return &RemoteClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Response  string `json:"response"`
	Timestamp string `json:"timestamp"`
	Error     string `json:"error,omitempty"`
}

// Reply sends the user's text and returns the remote answer.
func (c *RemoteClient) Reply(ctx context.Context, req *ReplyRequest) (*ReplyResponse, error) {
	body, err := json.Marshal(chatRequest{Message: req.Text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.SessionID != "" {
		httpReq.Header.Set("X-Session-ID", req.SessionID)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp chatResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error != "" {
			return nil, fmt.Errorf("chat API error [%d]: %s", resp.StatusCode, errResp.Error)
		}
		return nil, fmt.Errorf("chat API error [%d]: %s", resp.StatusCode, string(respBody))
	}

	var result chatResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if strings.TrimSpace(result.Response) == "" {
		return nil, ErrEmptyReply
	}

	ts := time.Now()
	if parsed, err := time.Parse(time.RFC3339Nano, result.Timestamp); err == nil {
		ts = parsed
	}

	return &ReplyResponse{
		Text:      result.Response,
		Source:    SourceRemote,
		Timestamp: ts,
	}, nil
}
