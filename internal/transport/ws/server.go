// Package ws provides the WebSocket transport for conversations.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xiaot623/csassistant/internal/config"
	"github.com/xiaot623/csassistant/internal/conversation"
	"github.com/xiaot623/csassistant/internal/domain"
	"github.com/xiaot623/csassistant/internal/hub"
	"github.com/xiaot623/csassistant/internal/service"
)

// Server handles WebSocket connections.
type Server struct {
	cfg      *config.Config
	hub      *hub.Hub
	svc      *service.Service
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewServer creates a new WebSocket server and forwards every conversation
// event to the connections bound to its session.
func NewServer(cfg *config.Config, h *hub.Hub, svc *service.Service, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:    cfg,
		hub:    h,
		svc:    svc,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	svc.Subscribe(s.forwardEvent)
	return s
}

func (s *Server) forwardEvent(e domain.Event) {
	if !s.hub.HasActiveConnections(e.SessionID) {
		return
	}
	msg := EventMessage{
		BaseMessage: BaseMessage{Type: TypeEvent, Ts: e.Ts, SessionID: e.SessionID},
		Event:       e,
	}
	if err := s.hub.BroadcastJSON(e.SessionID, msg); err != nil {
		s.logger.Error("event_broadcast_failed", zap.String("session_id", e.SessionID), zap.Error(err))
	}
}

// HandleWebSocket handles WebSocket upgrade and connection lifecycle.
func (s *Server) HandleWebSocket(c echo.Context) error {
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warn("websocket_upgrade_failed", zap.Error(err))
		return err
	}

	conn := s.hub.NewConnection(ws)
	s.hub.Register(conn)

	ws.SetReadLimit(s.cfg.WSMaxMessageSize)

	go s.writePump(conn)
	go s.readPump(conn)

	return nil
}

func (s *Server) newLimiter() *rate.Limiter {
	if s.cfg.WSRatePerSec <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(s.cfg.WSRatePerSec), s.cfg.WSRatePerSec)
}

// readPump reads messages from the WebSocket connection.
func (s *Server) readPump(conn *hub.Connection) {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		s.hub.Unregister(conn)
		conn.Close()
	}()

	limiter := s.newLimiter()

	conn.SetReadDeadline(time.Now().Add(s.cfg.WSReadTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.WSReadTimeout))
		return nil
	})

	for {
		_, message, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket_read_failed", zap.String("conn_id", conn.ID), zap.Error(err))
			}
			break
		}
		conn.SetReadDeadline(time.Now().Add(s.cfg.WSReadTimeout))

		if !limiter.Allow() {
			s.sendError(conn, "", ErrorCodeRateLimited, "too many messages")
			continue
		}
		s.handleMessage(ctx, conn, message)
	}
}

// writePump writes messages to the WebSocket connection.
func (s *Server) writePump(conn *hub.Connection) {
	ticker := time.NewTicker(s.cfg.WSPingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WSWriteTimeout))
			if !ok {
				// Hub closed the channel
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.logger.Warn("websocket_write_failed", zap.String("conn_id", conn.ID), zap.Error(err))
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WSWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage dispatches incoming messages to appropriate handlers.
func (s *Server) handleMessage(ctx context.Context, conn *hub.Connection, data []byte) {
	var baseMsg BaseMessage
	if err := json.Unmarshal(data, &baseMsg); err != nil {
		s.sendError(conn, "", ErrorCodeInvalidMessage, "invalid JSON message")
		return
	}

	if baseMsg.Type == TypeHello {
		s.handleHello(ctx, conn, data)
		return
	}

	sessionID := s.hub.Session(conn)
	if sessionID == "" {
		s.sendError(conn, baseMsg.RequestID, ErrorCodeSessionRequired, "must send hello first")
		return
	}
	ctrl := s.svc.Session(ctx, sessionID)

	switch baseMsg.Type {
	case TypeSubmit:
		var msg SubmitMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.sendError(conn, baseMsg.RequestID, ErrorCodeInvalidMessage, "invalid submit message")
			return
		}
		if _, err := ctrl.Submit(ctx, msg.Text); err != nil {
			s.sendServiceError(conn, baseMsg.RequestID, err)
		}

	case TypeEdit:
		var msg EditMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.sendError(conn, baseMsg.RequestID, ErrorCodeInvalidMessage, "invalid edit message")
			return
		}
		if _, err := ctrl.EditAndRegenerate(ctx, msg.MessageID, msg.Text); err != nil {
			s.sendServiceError(conn, baseMsg.RequestID, err)
		}

	case TypeClear:
		if err := ctrl.Clear(ctx); err != nil {
			s.sendServiceError(conn, baseMsg.RequestID, err)
		}

	case TypeCancel:
		ctrl.Cancel()

	default:
		s.sendError(conn, baseMsg.RequestID, ErrorCodeInvalidMessage, "unknown message type: "+baseMsg.Type)
	}
}

// handleHello binds the connection to a session and replays its conversation.
func (s *Server) handleHello(ctx context.Context, conn *hub.Connection, data []byte) {
	var msg HelloMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, "", ErrorCodeInvalidMessage, "invalid hello message")
		return
	}

	sessionID := msg.SessionID
	if sessionID == "" {
		sessionID = "sess_" + uuid.New().String()[:8]
	}

	s.hub.BindSession(conn, sessionID)
	ctrl := s.svc.Session(ctx, sessionID)

	ack := HelloAckMessage{
		BaseMessage: BaseMessage{
			Type:      TypeHelloAck,
			Ts:        time.Now().UnixMilli(),
			RequestID: msg.RequestID,
			SessionID: sessionID,
		},
		Messages: ctrl.Snapshot(),
		State:    ctrl.State(),
	}
	if err := s.hub.SendJSONToConnection(conn, ack); err != nil {
		s.logger.Warn("hello_ack_failed", zap.String("conn_id", conn.ID), zap.Error(err))
		return
	}

	s.logger.Info("hello_completed", zap.String("conn_id", conn.ID), zap.String("session_id", sessionID))
}

func (s *Server) sendServiceError(conn *hub.Connection, requestID string, err error) {
	code := ErrorCode(err)
	if code == ErrorCodeInternal {
		s.logger.Error("websocket_request_failed", zap.String("conn_id", conn.ID), zap.Error(err))
	}
	s.sendError(conn, requestID, code, err.Error())
}

// sendError sends an error message to a connection.
func (s *Server) sendError(conn *hub.Connection, requestID, code, message string) {
	msg := ErrorMessage{
		BaseMessage: BaseMessage{
			Type:      TypeError,
			Ts:        time.Now().UnixMilli(),
			RequestID: requestID,
			SessionID: s.hub.Session(conn),
		},
		Code:    code,
		Message: message,
	}
	if err := s.hub.SendJSONToConnection(conn, msg); err != nil {
		s.logger.Debug("error_send_failed", zap.String("conn_id", conn.ID), zap.Error(err))
	}
}

// ErrorCode maps a conversation error to its wire code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, service.ErrBlankInput):
		return ErrorCodeBlank
	case errors.Is(err, service.ErrAwaitingReply):
		return ErrorCodeBusy
	case errors.Is(err, service.ErrRejected):
		return ErrorCodeRejected
	case errors.Is(err, conversation.ErrMessageNotFound):
		return ErrorCodeNotFound
	case errors.Is(err, conversation.ErrNotUserMessage):
		return ErrorCodeNotUserMessage
	default:
		return ErrorCodeInternal
	}
}
