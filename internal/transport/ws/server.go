package ws

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/xiaot623/opsagent/internal/config"
	"github.com/xiaot623/opsagent/internal/domain"
	"github.com/xiaot623/opsagent/internal/protocol"
	"github.com/xiaot623/opsagent/internal/service"
	"github.com/xiaot623/opsagent/internal/stream"
)

// Path is where the WebSocket endpoint is mounted.
const Path = "/ws"

// Server handles WebSocket connections.
type Server struct {
	cfg      config.WebSocketConfig
	stream   config.StreamConfig
	hub      *Hub
	service  *service.Service
	upgrader websocket.Upgrader
}

// NewServer creates a new WebSocket server.
func NewServer(cfg *config.Config, h *Hub, svc *service.Service) *Server {
	return &Server{
		cfg:     cfg.WebSocket,
		stream:  cfg.Stream,
		hub:     h,
		service: svc,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// RegisterRoutes mounts the WebSocket endpoint.
func (s *Server) RegisterRoutes(e *echo.Echo) {
	e.GET(Path, s.HandleWebSocket)
}

// HandleWebSocket handles WebSocket upgrade and connection lifecycle.
func (s *Server) HandleWebSocket(c echo.Context) error {
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Warn().Err(err).Msg("failed to upgrade websocket")
		return err
	}

	// Create and register connection
	conn := s.hub.NewConnection(ws, s.cfg.WriteTimeout)
	s.hub.Register(conn)

	// Set up connection parameters
	ws.SetReadLimit(s.cfg.MaxMessageSize)

	// Start reader and writer goroutines
	go s.writePump(conn)
	go s.readPump(conn)

	return nil
}

// readPump reads messages from the WebSocket connection.
func (s *Server) readPump(conn *Connection) {
	defer func() {
		s.hub.Unregister(conn)
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		return nil
	})

	for {
		_, message, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("connection_id", conn.ID).Msg("websocket read failed")
			}
			break
		}
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))

		s.handleMessage(conn, message)
	}
}

// writePump writes messages to the WebSocket connection.
func (s *Server) writePump(conn *Connection) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message := <-conn.Send:
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug().Err(err).Str("connection_id", conn.ID).Msg("failed to write message")
				return
			}

		case <-conn.Context().Done():
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case <-ticker.C:
			if err := conn.Ping(); err != nil {
				return
			}
		}
	}
}

// handleMessage dispatches incoming messages to appropriate handlers.
func (s *Server) handleMessage(conn *Connection, data []byte) {
	// Parse message type
	var baseMsg protocol.BaseMessage
	if err := json.Unmarshal(data, &baseMsg); err != nil {
		s.sendError(conn, "", "", protocol.ErrorCodeInvalidMessage, "invalid JSON message")
		return
	}

	switch baseMsg.Type {
	case protocol.TypeHello:
		s.handleHello(conn, data)
	case protocol.TypeAsk:
		s.handleAsk(conn, data)
	case protocol.TypeCancelRun:
		s.handleCancelRun(conn, data)
	default:
		s.sendError(conn, baseMsg.RequestID, "", protocol.ErrorCodeInvalidMessage, "unknown message type: "+baseMsg.Type)
	}
}

// handleHello handles the hello handshake message.
func (s *Server) handleHello(conn *Connection, data []byte) {
	var msg protocol.HelloMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, "", "", protocol.ErrorCodeInvalidMessage, "invalid hello message")
		return
	}

	conn.markHello()
	ack := protocol.HelloAckMessage{
		BaseMessage: protocol.BaseMessage{
			Type:      protocol.TypeHelloAck,
			Ts:        time.Now().UnixMilli(),
			RequestID: msg.RequestID,
		},
		ConnectionID: conn.ID,
	}
	if err := conn.SendJSON(ack); err != nil {
		log.Warn().Err(err).Str("connection_id", conn.ID).Msg("failed to send hello_ack")
		return
	}
	log.Info().Str("connection_id", conn.ID).Interface("client_meta", msg.ClientMeta).Msg("hello handshake completed")
}

// handleAsk starts a run and streams it to the connection.
func (s *Server) handleAsk(conn *Connection, data []byte) {
	var msg protocol.AskMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, "", "", protocol.ErrorCodeInvalidMessage, "invalid ask message")
		return
	}

	// Require handshake
	if !conn.hasHello() {
		s.sendError(conn, msg.RequestID, "", protocol.ErrorCodeSessionRequired, "must send hello first")
		return
	}

	run, sr, err := s.service.StartStream(conn.Context(), service.RunRequest{
		Messages: askHistory(msg),
		Protocol: stream.ProtocolWebSocket,
	})
	if err != nil {
		code := protocol.ErrorCodeInternalError
		if errors.Is(err, service.ErrEmptyQuery) {
			code = protocol.ErrorCodeInvalidMessage
		}
		s.sendError(conn, msg.RequestID, "", code, err.Error())
		return
	}

	conn.trackRun(run.RunID, sr)
	go func() {
		defer conn.forgetRun(run.RunID)
		enc := stream.NewWSEncoder(conn, run.RunID, msg.RequestID)
		if err := stream.Deliver(conn.Context(), sr, enc, stream.OptionsFrom(s.stream)); err != nil && !errors.Is(err, stream.ErrDetached) {
			log.Error().Err(err).Str("run_id", run.RunID).Msg("websocket stream failed")
		}
	}()
}

// handleCancelRun handles run cancellation requests.
func (s *Server) handleCancelRun(conn *Connection, data []byte) {
	var msg protocol.CancelRunMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, "", "", protocol.ErrorCodeInvalidMessage, "invalid cancel_run message")
		return
	}

	if msg.RunID == "" {
		s.sendError(conn, msg.RequestID, "", protocol.ErrorCodeInvalidMessage, "run_id is required")
		return
	}

	run, ok := conn.run(msg.RunID)
	if !ok {
		s.sendError(conn, msg.RequestID, msg.RunID, protocol.ErrorCodeInvalidMessage, "run is not active on this connection")
		return
	}
	run.Cancel()
	log.Info().Str("run_id", msg.RunID).Msg("run cancelled by client")
}

// sendError sends an error message to a connection.
func (s *Server) sendError(conn *Connection, requestID, runID, code, message string) {
	errMsg := protocol.ErrorMessage{
		BaseMessage: protocol.BaseMessage{
			Type:      protocol.TypeError,
			Ts:        time.Now().UnixMilli(),
			RequestID: requestID,
			RunID:     runID,
		},
		Code:    code,
		Message: message,
	}
	if err := conn.SendJSON(errMsg); err != nil {
		log.Debug().Err(err).Str("connection_id", conn.ID).Msg("failed to send error")
	}
}

func askHistory(msg protocol.AskMessage) []domain.Message {
	out := make([]domain.Message, 0, len(msg.History)+1)
	for _, m := range msg.History {
		switch domain.Role(m.Role) {
		case domain.RoleUser:
			out = append(out, domain.UserMessage(m.Content))
		case domain.RoleAssistant:
			out = append(out, domain.AssistantMessage(m.Content))
		}
	}
	return append(out, domain.UserMessage(msg.Message))
}
