package exchange

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/LLIEPJIOK/service-mesh/wsx/pkg/report"
	"github.com/LLIEPJIOK/service-mesh/wsx/pkg/wait"
	"github.com/LLIEPJIOK/service-mesh/wsx/pkg/ws"
)

// Validator checks a response payload against a named schema.
type Validator interface {
	Validate(schema string, payload []byte) error
}

type ValidatorFunc func(schema string, payload []byte) error

func (f ValidatorFunc) Validate(schema string, payload []byte) error {
	return f(schema, payload)
}

// Predicate is evaluated at most once per received message.
type Predicate func(msg *ws.Message) (bool, error)

// Responses is what a count wait hands back. Single is set only when exactly
// one message arrived.
type Responses struct {
	Single *ws.Message
	All    []*ws.Message
}

func newResponses(msgs []*ws.Message) Responses {
	r := Responses{All: msgs}
	if len(msgs) == 1 {
		r.Single = msgs[0]
	}

	return r
}

type Exchange struct {
	cfg    Config
	store  *ws.Store
	conn   *ws.Conn
	logger *slog.Logger
	sink   report.Sink

	mu      sync.Mutex
	current string
}

func New(cfg Config) (*Exchange, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	cfg = cfg.withDefaults()
	logger := cfg.Logger.With("endpoint", cfg.Endpoint)

	connCfg := ws.DefaultConnConfig(cfg.Endpoint)
	connCfg.EstablishTimeout = cfg.ConnectionEstablishTimeout
	connCfg.Header = cfg.Header
	connCfg.TLS = cfg.TLS
	connCfg.Logger = logger
	connCfg.Sink = cfg.Sink
	connCfg.OnError = cfg.OnTransportError

	store := ws.NewStore()

	return &Exchange{
		cfg:    cfg,
		store:  store,
		conn:   ws.NewConn(connCfg, store),
		logger: logger,
		sink:   cfg.Sink,
	}, nil
}

// CurrentCorrelationID is the id of the latest Send, or the last one set
// explicitly. Empty after Reset.
func (e *Exchange) CurrentCorrelationID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

func (e *Exchange) setCurrent(id string) {
	e.mu.Lock()
	e.current = id
	e.mu.Unlock()
}

// Store exposes the received messages. Callers must not mutate them.
func (e *Exchange) Store() *ws.Store {
	return e.store
}

// Err is the transport error that ended the session, if any.
func (e *Exchange) Err() error {
	return e.conn.Err()
}

// Send stamps msg with a correlation id and writes it. msg itself is not
// modified. It returns the encoded request.
func (e *Exchange) Send(ctx context.Context, msg *ws.Message, opts ...CallOption) (string, error) {
	_, request, err := e.send(ctx, msg, applyOptions(opts).correlationID)
	if err != nil {
		return "", err
	}

	e.sink.Report("Send WS request", request)

	return request, nil
}

func (e *Exchange) send(ctx context.Context, msg *ws.Message, id string) (string, string, error) {
	if id == "" {
		id = e.cfg.NewCorrelationID()
	}

	req := msg.Clone()
	req.Headers[ws.CorrelationIDHeader] = id

	data, err := req.Frame()
	if err != nil {
		return "", "", fmt.Errorf("failed to encode request %s: %w", id, err)
	}

	e.setCurrent(id)

	if err := e.conn.Send(ctx, data); err != nil {
		return id, "", fmt.Errorf("failed to send request %s: %w", id, err)
	}

	e.logger.Debug("request sent", "correlation_id", id, "uri", req.URI, "method", req.Method)

	return id, string(data), nil
}

// SendAndWait sends msg and, unless waiting is disabled in the config, waits
// for expected responses on its correlation id.
func (e *Exchange) SendAndWait(
	ctx context.Context,
	msg *ws.Message,
	expected int,
	opts ...CallOption,
) (Responses, error) {
	o := applyOptions(opts)

	id, request, err := e.send(ctx, msg, o.correlationID)
	if err != nil {
		return Responses{}, err
	}

	e.sink.Report("Send WS request", request)

	if !e.cfg.WaitResponse {
		return Responses{}, nil
	}

	if expected <= 0 {
		expected = 1
	}

	return e.waitForCount(ctx, id, expected, e.timeout(o), e.cfg.StrictWaiting)
}

// WaitForCount waits until the current correlation id has expected messages
// (exactly that many with StrictWaiting, at least that many otherwise).
func (e *Exchange) WaitForCount(ctx context.Context, expected int, opts ...CallOption) (Responses, error) {
	o := applyOptions(opts)
	return e.waitForCount(ctx, e.correlationID(o), expected, e.timeout(o), e.cfg.StrictWaiting)
}

func (e *Exchange) waitForCount(
	ctx context.Context,
	id string,
	expected int,
	timeout time.Duration,
	strict bool,
) (Responses, error) {
	msgs, err := e.pollCount(ctx, id, expected, timeout, strict)
	e.sink.Report("Get WS responses", msgs)

	if err != nil {
		if errors.Is(err, wait.ErrTimeout) {
			return newResponses(msgs), fmt.Errorf(
				"didn't receive %d messages for correlation id %s in %s, got %d: %w",
				expected, id, timeout, len(msgs), err,
			)
		}

		return newResponses(msgs), err
	}

	return newResponses(msgs), nil
}

func (e *Exchange) pollCount(
	ctx context.Context,
	id string,
	expected int,
	timeout time.Duration,
	strict bool,
) ([]*ws.Message, error) {
	opts := wait.Options{Timeout: timeout, Interval: e.cfg.PollInterval}

	return wait.PollValue(ctx, opts, func(context.Context) ([]*ws.Message, bool, error) {
		msgs := e.store.Get(id)

		if len(msgs) == expected || (!strict && len(msgs) > expected) {
			return msgs, true, nil
		}

		if err := e.conn.Err(); err != nil {
			return msgs, false, err
		}

		return msgs, false, nil
	})
}

// WaitForPredicate returns the first message on the current correlation id
// that pred accepts. Each message is checked once, in arrival order.
func (e *Exchange) WaitForPredicate(ctx context.Context, pred Predicate, opts ...CallOption) (*ws.Message, error) {
	o := applyOptions(opts)
	id := e.correlationID(o)

	desc := o.description
	if desc == "" {
		desc = "predicate"
	}

	e.sink.Report("Wait message with predicate for correlation id "+id, desc)

	next := 0
	pollOpts := wait.Options{Timeout: e.timeout(o), Interval: e.cfg.PredicateInterval}

	msg, err := wait.PollValue(ctx, pollOpts, func(context.Context) (*ws.Message, bool, error) {
		msgs := e.store.Get(id)

		for ; next < len(msgs); next++ {
			ok, err := pred(msgs[next])
			if err != nil {
				return nil, false, fmt.Errorf(
					"%w: %s failed on message %d for correlation id %s: %w",
					ErrPredicate, desc, next, id, err,
				)
			}

			if ok {
				return msgs[next], true, nil
			}
		}

		return nil, false, e.conn.Err()
	})
	if err != nil {
		if errors.Is(err, wait.ErrTimeout) {
			msgs := e.store.Get(id)
			if len(msgs) > 0 {
				e.sink.Report("Latest response", msgs[len(msgs)-1])
			}

			return nil, fmt.Errorf(
				"no message for correlation id %s matched %s, checked %d: %w",
				id, desc, next, err,
			)
		}

		return nil, err
	}

	e.sink.Report("Matched response", msg)

	return msg, nil
}

// ExpectNoMoreThan waits out window and fails with *OverflowError if more
// than limit messages arrived on the current correlation id.
func (e *Exchange) ExpectNoMoreThan(
	ctx context.Context,
	limit int,
	window time.Duration,
	opts ...CallOption,
) (Responses, error) {
	id := e.correlationID(applyOptions(opts))

	if window <= 0 {
		window = e.cfg.NoMoreWindow
	}

	if err := wait.Sleep(ctx, window); err != nil {
		return Responses{}, err
	}

	msgs := e.store.Get(id)
	e.sink.Report("Get WS responses", msgs)

	if len(msgs) > limit {
		return Responses{All: msgs}, &OverflowError{CorrelationID: id, Max: limit, Messages: msgs}
	}

	if err := e.conn.Err(); err != nil {
		return newResponses(msgs), err
	}

	return newResponses(msgs), nil
}

// Grab returns whatever has arrived on the current correlation id, without waiting.
func (e *Exchange) Grab(opts ...CallOption) []*ws.Message {
	msgs := e.store.Get(e.correlationID(applyOptions(opts)))
	e.sink.Report("Get WS responses", msgs)

	return msgs
}

// ValidateSchema checks the first response on the current correlation id.
func (e *Exchange) ValidateSchema(schema string, opts ...CallOption) error {
	if e.cfg.Validator == nil {
		return ErrNoValidator
	}

	id := e.correlationID(applyOptions(opts))

	msgs := e.store.Get(id)
	if len(msgs) == 0 {
		return fmt.Errorf("%w: correlation id %s", ErrNoResponse, id)
	}

	payload := msgs[0].Raw()
	if len(payload) == 0 {
		data, err := msgs[0].Frame()
		if err != nil {
			return err
		}

		payload = data
	}

	if err := e.cfg.Validator.Validate(schema, payload); err != nil {
		return fmt.Errorf("response for correlation id %s doesn't match schema %s: %w", id, schema, err)
	}

	return nil
}

// Reset forgets every received message and the current correlation id.
// The connection stays open.
func (e *Exchange) Reset() {
	e.store.Reset()
	e.setCurrent("")
}

func (e *Exchange) Close() error {
	return e.conn.Close()
}

func (e *Exchange) correlationID(o callOptions) string {
	if o.correlationID != "" {
		return o.correlationID
	}

	return e.CurrentCorrelationID()
}

func (e *Exchange) timeout(o callOptions) time.Duration {
	if o.timeout > 0 {
		return o.timeout
	}

	return e.cfg.ResponseTimeout
}
