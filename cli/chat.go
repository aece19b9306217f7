package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/xiaot623/csassistant/internal/domain"
	"github.com/xiaot623/csassistant/internal/transport/ws"
)

// Client represents a WebSocket client.
type Client struct {
	conn      *websocket.Conn
	sessionID string
	done      chan struct{}
}

// NewClient creates a new client and connects to the server.
func NewClient(addr string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.Dial(addr, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	return &Client{
		conn: conn,
		done: make(chan struct{}),
	}, nil
}

// Close closes the client connection.
func (c *Client) Close() error {
	close(c.done)
	return c.conn.Close()
}

// SendHello binds the connection to sessionID (or a fresh session when empty)
// and returns the replayed conversation.
func (c *Client) SendHello(sessionID string) (*ws.HelloAckMessage, error) {
	msg := ws.HelloMessage{
		BaseMessage: ws.BaseMessage{
			Type:      ws.TypeHello,
			Ts:        time.Now().UnixMilli(),
			SessionID: sessionID,
		},
	}

	if err := c.conn.WriteJSON(msg); err != nil {
		return nil, fmt.Errorf("write hello: %w", err)
	}

	// Wait for hello_ack
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("read hello_ack: %w", err)
	}

	var base ws.BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, fmt.Errorf("unmarshal hello_ack: %w", err)
	}

	if base.Type == ws.TypeError {
		var errMsg ws.ErrorMessage
		json.Unmarshal(data, &errMsg)
		return nil, fmt.Errorf("hello failed: %s - %s", errMsg.Code, errMsg.Message)
	}

	if base.Type != ws.TypeHelloAck {
		return nil, fmt.Errorf("expected hello_ack, got: %s", base.Type)
	}

	var ack ws.HelloAckMessage
	if err := json.Unmarshal(data, &ack); err != nil {
		return nil, fmt.Errorf("unmarshal hello_ack: %w", err)
	}
	c.sessionID = ack.SessionID
	return &ack, nil
}

func (c *Client) base(msgType string) ws.BaseMessage {
	return ws.BaseMessage{
		Type:      msgType,
		Ts:        time.Now().UnixMilli(),
		SessionID: c.sessionID,
		RequestID: fmt.Sprintf("req_%d", time.Now().UnixNano()),
	}
}

// Submit sends a new user message.
func (c *Client) Submit(text string) error {
	return c.conn.WriteJSON(ws.SubmitMessage{BaseMessage: c.base(ws.TypeSubmit), Text: text})
}

// Edit rewrites an earlier user message.
func (c *Client) Edit(id int64, text string) error {
	return c.conn.WriteJSON(ws.EditMessage{BaseMessage: c.base(ws.TypeEdit), MessageID: id, Text: text})
}

// Clear resets the conversation.
func (c *Client) Clear() error {
	return c.conn.WriteJSON(c.base(ws.TypeClear))
}

// Cancel drops the pending reply.
func (c *Client) Cancel() error {
	return c.conn.WriteJSON(c.base(ws.TypeCancel))
}

// ReadMessages prints server frames to out until the connection closes.
func (c *Client) ReadMessages(out io.Writer) {
	for {
		select {
		case <-c.done:
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					select {
					case <-c.done:
					default:
						fmt.Fprintf(out, "connection closed: %v\n", err)
					}
				}
				return
			}
			if line := formatFrame(data); line != "" {
				fmt.Fprintln(out, line)
			}
		}
	}
}

// formatFrame renders a server frame as one or more lines of text, or "" when
// the frame is not worth showing.
func formatFrame(data []byte) string {
	var base ws.BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		return "unreadable frame: " + string(data)
	}

	switch base.Type {
	case ws.TypeError:
		var msg ws.ErrorMessage
		json.Unmarshal(data, &msg)
		return fmt.Sprintf("error [%s]: %s", msg.Code, msg.Message)

	case ws.TypeEvent:
		var msg ws.EventMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return "unreadable event: " + string(data)
		}
		e := msg.Event
		switch e.Type {
		case domain.EventTypeMessageAppended:
			if e.Message != nil && e.Message.Role == domain.RoleAssistant {
				return formatMessage(*e.Message)
			}
		case domain.EventTypeMessageEdited:
			if e.Message != nil {
				return fmt.Sprintf("(message #%d edited)", e.Message.ID)
			}
		case domain.EventTypeMessagesTruncated:
			return "(regenerating reply...)"
		case domain.EventTypeConversationCleared:
			if e.Message != nil {
				return "(conversation cleared)\n" + formatMessage(*e.Message)
			}
		case domain.EventTypeReplyCancelled:
			return "(reply cancelled)"
		case domain.EventTypeStateChanged:
			if e.State == domain.StateAwaitingReply {
				return "(thinking...)"
			}
		}
	}
	return ""
}

func formatMessage(m domain.Message) string {
	role := "assistant"
	if m.IsUser() {
		role = "you"
	}
	return fmt.Sprintf("[#%d %s] %s", m.ID, role, m.Text)
}

// runChatLoop reads commands from in until /quit or EOF.
func runChatLoop(client *Client, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		var err error
		switch {
		case input == "/quit":
			fmt.Fprintln(out, "Bye!")
			return nil
		case input == "/clear":
			err = client.Clear()
		case input == "/cancel":
			err = client.Cancel()
		case strings.HasPrefix(input, "/edit "):
			fields := strings.SplitN(strings.TrimPrefix(input, "/edit "), " ", 2)
			id, convErr := strconv.ParseInt(fields[0], 10, 64)
			if convErr != nil || len(fields) < 2 {
				fmt.Fprintln(out, "usage: /edit <id> <text>")
				continue
			}
			err = client.Edit(id, fields[1])
		default:
			err = client.Submit(input)
		}
		if err != nil {
			return fmt.Errorf("send: %w", err)
		}
	}
	return scanner.Err()
}
