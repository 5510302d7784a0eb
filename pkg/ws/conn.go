package ws

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/LLIEPJIOK/service-mesh/wsx/pkg/report"
	"github.com/LLIEPJIOK/service-mesh/wsx/pkg/wait"
)

type State int32

const (
	StateUnestablished State = iota
	StateConnecting
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnestablished:
		return "unestablished"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

type ConnConfig struct {
	URL              string
	EstablishTimeout time.Duration
	PollInterval     time.Duration
	Header           http.Header
	TLS              *tls.Config
	Logger           *slog.Logger
	Sink             report.Sink
	// OnError вызывается один раз, если соединение упало после установки.
	OnError func(error)
}

func DefaultConnConfig(wsURL string) ConnConfig {
	return ConnConfig{
		URL:              wsURL,
		EstablishTimeout: 2 * time.Second,
		PollInterval:     20 * time.Millisecond,
		Logger:           slog.Default(),
		Sink:             report.NopSink(),
	}
}

// Conn владеет единственным WebSocket соединением сессии. Соединение
// устанавливается лениво при первой отправке, входящие кадры раскладываются
// в Store по correlation id.
type Conn struct {
	cfg    ConnConfig
	store  *Store
	dialer websocket.Dialer
	logger *slog.Logger
	sink   report.Sink

	mu         sync.Mutex
	state      State
	conn       *websocket.Conn
	cancelDial context.CancelFunc
	err        error

	writeMu  sync.Mutex
	done     chan struct{}
	doneOnce sync.Once
}

func NewConn(cfg ConnConfig, store *Store) *Conn {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	if cfg.Sink == nil {
		cfg.Sink = report.NopSink()
	}

	if cfg.EstablishTimeout <= 0 {
		cfg.EstablishTimeout = 2 * time.Second
	}

	if store == nil {
		store = NewStore()
	}

	return &Conn{
		cfg:   cfg,
		store: store,
		dialer: websocket.Dialer{
			Proxy:            nil,
			HandshakeTimeout: cfg.EstablishTimeout,
			TLSClientConfig:  cfg.TLS,
		},
		logger: cfg.Logger,
		sink:   cfg.Sink,
		done:   make(chan struct{}),
	}
}

func (c *Conn) Store() *Store {
	return c.store
}

func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the error that closed the connection, nil while it is healthy
// or after a normal closure.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// EnsureReady starts the dial on first use and waits until the connection is
// ready, it fails or EstablishTimeout elapses. Concurrent callers share one dial.
func (c *Conn) EnsureReady(ctx context.Context) error {
	c.mu.Lock()

	switch c.state {
	case StateReady:
		c.mu.Unlock()
		return nil

	case StateClosed:
		err := c.closedErrLocked()
		c.mu.Unlock()

		return err

	case StateUnestablished:
		c.state = StateConnecting
		dialCtx, cancel := context.WithTimeout(context.Background(), c.cfg.EstablishTimeout)
		c.cancelDial = cancel

		go c.dial(dialCtx, cancel)
	}

	c.mu.Unlock()

	err := wait.Poll(ctx, wait.Options{
		Timeout:  c.cfg.EstablishTimeout,
		Interval: c.cfg.PollInterval,
		Message: fmt.Sprintf(
			"connection to %s was not established in %s",
			c.cfg.URL,
			c.cfg.EstablishTimeout,
		),
	}, func(context.Context) (bool, error) {
		c.mu.Lock()
		defer c.mu.Unlock()

		switch c.state {
		case StateReady:
			return true, nil
		case StateClosed:
			return false, c.closedErrLocked()
		default:
			return false, nil
		}
	})

	if errors.Is(err, wait.ErrTimeout) {
		return fmt.Errorf("%w: %w (state: %s)", ErrConnectionTimeout, err, c.State())
	}

	return err
}

func (c *Conn) dial(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()

	c.logger.Info("connecting to server", slog.String("url", c.cfg.URL))

	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, c.cfg.Header)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.cancelDial = nil

	if c.state != StateConnecting {
		// Close был вызван во время установки соединения.
		if conn != nil {
			_ = conn.Close()
		}

		c.closeDone()

		return
	}

	if err != nil {
		c.state = StateClosed
		c.err = fmt.Errorf("%w: %w", ErrConnectionFailed, err)
		c.logger.Error("dial failed", "url", c.cfg.URL, "error", err)
		c.closeDone()

		return
	}

	c.conn = conn
	c.state = StateReady
	c.logger.Info("connected to server", "url", c.cfg.URL)

	go c.readLoop(conn)
}

func (c *Conn) readLoop(conn *websocket.Conn) {
	defer c.closeDone()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.peerClosed(conn)
				return
			}

			_ = c.fail(conn, err)

			return
		}

		c.handleFrame(data)
	}
}

func (c *Conn) handleFrame(data []byte) {
	msg, err := decodeFrame(data)
	if err != nil {
		c.logger.Warn("failed to decode message", "error", err)
		c.sink.Report("Got malformed message", data)

		return
	}

	id := msg.CorrelationID()
	if id == "" {
		c.logger.Warn("dropping message", "error", ErrMissingCorrelationID)
		c.sink.Report("Got message without correlation id", data)

		return
	}

	c.store.Append(id, msg)
}

func (c *Conn) peerClosed(conn *websocket.Conn) {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}

	c.state = StateClosed
	c.conn = nil
	c.mu.Unlock()

	c.logger.Info("server closed connection", "url", c.cfg.URL)
	_ = conn.Close()
}

// fail переводит соединение в Closed с ошибкой транспорта.
// Если соединение уже закрыто локально, возвращает ErrConnectionClosed.
func (c *Conn) fail(conn *websocket.Conn, cause error) error {
	c.mu.Lock()
	if c.state == StateClosed {
		err := c.closedErrLocked()
		c.mu.Unlock()

		return err
	}

	c.state = StateClosed
	c.conn = nil
	c.err = fmt.Errorf("%w: %w", ErrTransport, cause)
	err := c.err
	c.mu.Unlock()

	_ = conn.Close()

	c.logger.Error("transport error", "url", c.cfg.URL, "error", cause)
	c.sink.Report("Transport error", cause)

	if c.cfg.OnError != nil {
		c.cfg.OnError(err)
	}

	return err
}

// Send waits for the connection to become ready and writes payload as one
// text frame.
func (c *Conn) Send(ctx context.Context, payload []byte) error {
	if err := c.EnsureReady(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		err := c.closedErrLocked()
		c.mu.Unlock()

		return err
	}
	c.mu.Unlock()

	c.writeMu.Lock()
	err := conn.WriteMessage(websocket.TextMessage, payload)
	c.writeMu.Unlock()

	if err != nil {
		return c.fail(conn, err)
	}

	return nil
}

// Close закрывает соединение с кодом нормального завершения, если оно было
// установлено. Повторные вызовы ничего не делают.
func (c *Conn) Close() error {
	c.mu.Lock()
	prev := c.state
	conn := c.conn
	cancel := c.cancelDial
	c.state = StateClosed
	c.conn = nil
	c.mu.Unlock()

	switch prev {
	case StateUnestablished:
		c.closeDone()
		return nil

	case StateConnecting:
		if cancel != nil {
			cancel()
		}

		return nil

	case StateReady:
		c.logger.Info("closing connection", "url", c.cfg.URL)

		closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closing")

		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second))
		c.writeMu.Unlock()

		return conn.Close()

	default:
		return nil
	}
}

func (c *Conn) closedErrLocked() error {
	if c.err != nil {
		return c.err
	}

	return ErrConnectionClosed
}

func (c *Conn) closeDone() {
	c.doneOnce.Do(func() { close(c.done) })
}
