package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// Handler обрабатывает один запрос. Ответов может быть сколько угодно,
// каждый отправляется через Responder и получает correlation id запроса.
type Handler func(ctx context.Context, req *Message, res *Responder) error

type ServerConfig struct {
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
	Logger          *slog.Logger
	// NotFound handles requests with an unregistered uri. Nil means a 404 reply.
	NotFound Handler
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     func(r *http.Request) bool { return true },
		Logger:          slog.Default(),
	}
}

// Server is the peer side of an exchange: it routes requests by uri.
type Server struct {
	upgrader websocket.Upgrader
	handlers map[string]Handler
	mu       sync.RWMutex
	notFound Handler
	logger   *slog.Logger
}

func NewServer(cfg ServerConfig) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Server{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin:     cfg.CheckOrigin,
		},
		handlers: make(map[string]Handler),
		notFound: cfg.NotFound,
		logger:   cfg.Logger,
	}
}

func (s *Server) Handle(uri string, handler Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[uri] = handler
}

func (s *Server) getHandler(uri string) (Handler, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.handlers[uri]
	if !ok && s.notFound != nil {
		return s.notFound, true
	}
	return h, ok
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("failed to upgrade connection", "error", err)
		return
	}
	defer conn.Close()

	s.logger.Info("client connected", "remote_addr", conn.RemoteAddr())
	defer s.logger.Info("client disconnected", "remote_addr", conn.RemoteAddr())

	s.handleConnection(r.Context(), conn)
}

func (s *Server) handleConnection(ctx context.Context, conn *websocket.Conn) {
	writeMu := &sync.Mutex{}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(
				err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
			) {
				s.logger.Error("read error", "error", err)
			}

			return
		}

		msg, err := decodeFrame(data)
		if err != nil {
			s.logger.Error("failed to unmarshal message", "error", err)
			continue
		}

		res := &Responder{
			conn:          conn,
			writeMu:       writeMu,
			correlationID: msg.CorrelationID(),
		}

		go s.processRequest(ctx, msg, res)
	}
}

func (s *Server) processRequest(ctx context.Context, msg *Message, res *Responder) {
	handler, ok := s.getHandler(msg.URI)
	if !ok {
		s.sendError(res, http.StatusNotFound, fmt.Errorf("%w: %s", ErrRouteNotFound, msg.URI))
		return
	}

	if err := handler(ctx, msg, res); err != nil {
		s.sendError(res, http.StatusInternalServerError, err)
	}
}

func (s *Server) sendError(res *Responder, status int, err error) {
	if sendErr := res.Reply(status, map[string]string{"error": err.Error()}); sendErr != nil {
		s.logger.Error("failed to write message", "error", sendErr)
	}
}

// Responder пишет ответы на один запрос.
type Responder struct {
	conn          *websocket.Conn
	writeMu       *sync.Mutex
	correlationID string
}

func (r *Responder) CorrelationID() string {
	return r.correlationID
}

// Reply sends a response tagged with the request's correlation id.
func (r *Responder) Reply(status int, body any) error {
	msg := &Message{
		Headers: Headers{CorrelationIDHeader: r.correlationID},
		Status:  status,
	}

	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}

		msg.Body = data
	}

	return r.Send(msg)
}

// Send writes msg as is, without stamping the correlation id.
func (r *Responder) Send(msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	return r.SendRaw(data)
}

func (r *Responder) SendRaw(data []byte) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	return r.conn.WriteMessage(websocket.TextMessage, data)
}

// Drop closes the underlying network connection without a close frame.
func (r *Responder) Drop() error {
	return r.conn.UnderlyingConn().Close()
}

// Echo replies once with status 200 and the request body.
func Echo(_ context.Context, req *Message, res *Responder) error {
	var body any
	if len(req.Body) > 0 {
		body = req.Body
	}

	return res.Reply(http.StatusOK, body)
}
