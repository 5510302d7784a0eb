package ws_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LLIEPJIOK/service-mesh/wsx/pkg/report"
	"github.com/LLIEPJIOK/service-mesh/wsx/pkg/ws"
)

type testPeer struct {
	server      *ws.Server
	ts          *httptest.Server
	url         string
	connections atomic.Int32
}

func setupTestPeer(t *testing.T) *testPeer {
	t.Helper()

	p := &testPeer{server: ws.NewServer(ws.DefaultServerConfig())}

	p.server.Handle("/echo", ws.Echo)

	p.server.Handle("/stream", func(ctx context.Context, req *ws.Message, res *ws.Responder) error {
		for i := range 3 {
			if err := res.Reply(http.StatusOK, map[string]int{"seq": i}); err != nil {
				return err
			}
		}
		return nil
	})

	p.server.Handle("/malformed", func(ctx context.Context, req *ws.Message, res *ws.Responder) error {
		if err := res.SendRaw([]byte("not json")); err != nil {
			return err
		}
		if err := res.Send(&ws.Message{Status: http.StatusOK}); err != nil {
			return err
		}
		return res.Reply(http.StatusOK, "tagged")
	})

	p.server.Handle("/drop", func(ctx context.Context, req *ws.Message, res *ws.Responder) error {
		return res.Drop()
	})

	p.ts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.connections.Add(1)
		p.server.ServeHTTP(w, r)
	}))
	t.Cleanup(p.ts.Close)

	p.url = "ws" + strings.TrimPrefix(p.ts.URL, "http")

	return p
}

func request(t *testing.T, uri, correlationID string) []byte {
	t.Helper()

	return []byte(`{"uri":"` + uri + `","headers":{"Correlation-Id":"` + correlationID + `"},"body":{"n":1}}`)
}

func awaitLen(t *testing.T, store *ws.Store, id string, n int) {
	t.Helper()

	require.Eventually(t, func() bool { return store.Len(id) >= n }, 2*time.Second, 5*time.Millisecond,
		"expected %d messages for %s, got %d", n, id, store.Len(id))
}

func TestConn_LazyEstablishment(t *testing.T) {
	p := setupTestPeer(t)

	conn := ws.NewConn(ws.DefaultConnConfig(p.url), nil)
	defer conn.Close()

	assert.Equal(t, ws.StateUnestablished, conn.State())
	assert.Equal(t, int32(0), p.connections.Load())

	require.NoError(t, conn.Send(context.Background(), request(t, "/echo", "c-1")))
	assert.Equal(t, ws.StateReady, conn.State())

	awaitLen(t, conn.Store(), "c-1", 1)

	msg := conn.Store().Get("c-1")[0]
	assert.Equal(t, http.StatusOK, msg.Status)
	assert.JSONEq(t, `{"n":1}`, string(msg.Body))
	assert.Equal(t, int32(1), p.connections.Load())
}

func TestConn_ConcurrentSendsDialOnce(t *testing.T) {
	p := setupTestPeer(t)

	conn := ws.NewConn(ws.DefaultConnConfig(p.url), nil)
	defer conn.Close()

	const senders = 20
	var wg sync.WaitGroup
	errs := make(chan error, senders)

	for i := range senders {
		wg.Go(func() {
			id := "c-" + strings.Repeat("x", i+1)
			errs <- conn.Send(context.Background(), request(t, "/echo", id))
		})
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, int32(1), p.connections.Load())

	for i := range senders {
		awaitLen(t, conn.Store(), "c-"+strings.Repeat("x", i+1), 1)
	}
}

func TestConn_PreservesArrivalOrder(t *testing.T) {
	p := setupTestPeer(t)

	conn := ws.NewConn(ws.DefaultConnConfig(p.url), nil)
	defer conn.Close()

	require.NoError(t, conn.Send(context.Background(), request(t, "/stream", "s-1")))
	awaitLen(t, conn.Store(), "s-1", 3)

	for i, msg := range conn.Store().Get("s-1") {
		var body struct {
			Seq int `json:"seq"`
		}
		require.NoError(t, msg.UnmarshalBody(&body))
		assert.Equal(t, i, body.Seq)
	}
}

func TestConn_DropsUndecodableAndUntaggedFrames(t *testing.T) {
	p := setupTestPeer(t)

	sink := &report.CapturingSink{}
	cfg := ws.DefaultConnConfig(p.url)
	cfg.Sink = sink

	conn := ws.NewConn(cfg, nil)
	defer conn.Close()

	require.NoError(t, conn.Send(context.Background(), request(t, "/malformed", "m-1")))
	awaitLen(t, conn.Store(), "m-1", 1)

	assert.Equal(t, []string{"m-1"}, conn.Store().IDs())
	assert.Len(t, sink.Titled("Got malformed message"), 1)
	assert.Len(t, sink.Titled("Got message without correlation id"), 1)
	assert.NoError(t, conn.Err())
}

func TestConn_TransportErrorIsFatal(t *testing.T) {
	p := setupTestPeer(t)

	var (
		mu     sync.Mutex
		gotErr []error
	)

	cfg := ws.DefaultConnConfig(p.url)
	cfg.OnError = func(err error) {
		mu.Lock()
		gotErr = append(gotErr, err)
		mu.Unlock()
	}

	conn := ws.NewConn(cfg, nil)
	defer conn.Close()

	require.NoError(t, conn.Send(context.Background(), request(t, "/drop", "d-1")))

	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("read loop did not stop after the peer dropped the connection")
	}

	assert.Equal(t, ws.StateClosed, conn.State())
	assert.ErrorIs(t, conn.Err(), ws.ErrTransport)

	mu.Lock()
	require.Len(t, gotErr, 1)
	assert.ErrorIs(t, gotErr[0], ws.ErrTransport)
	mu.Unlock()

	err := conn.Send(context.Background(), request(t, "/echo", "d-2"))
	assert.ErrorIs(t, err, ws.ErrTransport)
}

func TestConn_CloseSendsNormalClosure(t *testing.T) {
	codes := make(chan int, 1)
	upgrader := websocket.Upgrader{}

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()

		for {
			if _, _, err := c.ReadMessage(); err != nil {
				var ce *websocket.CloseError
				if errors.As(err, &ce) {
					codes <- ce.Code
				} else {
					codes <- -1
				}
				return
			}
		}
	}))
	defer ts.Close()

	conn := ws.NewConn(ws.DefaultConnConfig("ws"+strings.TrimPrefix(ts.URL, "http")), nil)
	require.NoError(t, conn.EnsureReady(context.Background()))

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())

	select {
	case code := <-codes:
		assert.Equal(t, websocket.CloseNormalClosure, code)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not observe the close frame")
	}

	assert.Equal(t, ws.StateClosed, conn.State())
	assert.NoError(t, conn.Err())
	assert.ErrorIs(t, conn.Send(context.Background(), []byte("{}")), ws.ErrConnectionClosed)
}

func TestConn_CloseBeforeEstablishIsNoop(t *testing.T) {
	conn := ws.NewConn(ws.DefaultConnConfig("ws://127.0.0.1:1/never"), nil)

	require.NoError(t, conn.Close())
	assert.Equal(t, ws.StateClosed, conn.State())

	select {
	case <-conn.Done():
	default:
		t.Fatal("done channel should be closed")
	}
}

func TestConn_EstablishTimeout(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer ts.Close()
	defer close(release)

	cfg := ws.DefaultConnConfig("ws" + strings.TrimPrefix(ts.URL, "http"))
	cfg.EstablishTimeout = 100 * time.Millisecond

	conn := ws.NewConn(cfg, nil)
	defer conn.Close()

	start := time.Now()
	err := conn.EnsureReady(context.Background())
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)

	// Дедлайн ожидания и таймаут установки совпадают: побеждает любой из двух.
	if !errors.Is(err, ws.ErrConnectionTimeout) {
		assert.ErrorIs(t, err, ws.ErrConnectionFailed)
	}
}

func TestConn_DialFailure(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	defer ts.Close()

	conn := ws.NewConn(ws.DefaultConnConfig("ws"+strings.TrimPrefix(ts.URL, "http")), nil)
	defer conn.Close()

	err := conn.Send(context.Background(), []byte("{}"))
	require.ErrorIs(t, err, ws.ErrConnectionFailed)
	assert.Equal(t, ws.StateClosed, conn.State())

	// Повторная отправка не переподключается.
	assert.ErrorIs(t, conn.Send(context.Background(), []byte("{}")), ws.ErrConnectionFailed)
}

func TestServer_RouteNotFound(t *testing.T) {
	p := setupTestPeer(t)

	conn := ws.NewConn(ws.DefaultConnConfig(p.url), nil)
	defer conn.Close()

	require.NoError(t, conn.Send(context.Background(), request(t, "/nowhere", "n-1")))
	awaitLen(t, conn.Store(), "n-1", 1)

	msg := conn.Store().Get("n-1")[0]
	assert.Equal(t, http.StatusNotFound, msg.Status)
	assert.Contains(t, string(msg.Body), "route not found")
}

func TestServer_NotFoundHandler(t *testing.T) {
	cfg := ws.DefaultServerConfig()
	cfg.NotFound = ws.Echo

	ts := httptest.NewServer(ws.NewServer(cfg))
	defer ts.Close()

	conn := ws.NewConn(ws.DefaultConnConfig("ws"+strings.TrimPrefix(ts.URL, "http")), nil)
	defer conn.Close()

	require.NoError(t, conn.Send(context.Background(), request(t, "/anything", "e-1")))
	awaitLen(t, conn.Store(), "e-1", 1)

	msg := conn.Store().Get("e-1")[0]
	assert.Equal(t, http.StatusOK, msg.Status)
	assert.JSONEq(t, `{"n":1}`, string(msg.Body))
}
