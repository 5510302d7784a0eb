// Package ws предоставляет единственное WebSocket соединение сессии и хранилище
// входящих сообщений, разложенных по correlation id:
//   - Ленивая установка соединения при первой отправке (Conn.EnsureReady)
//   - Декодирование входящих кадров и маршрутизация в Store по заголовку Correlation-Id
//   - Кадры без correlation id и битые кадры не сохраняются, а уходят в report.Sink
//   - Ошибка транспорта после установки соединения фатальна и доступна через Conn.Err
//   - Сервер-собеседник с маршрутизацией по uri для тестов и ручной отладки
//
// # Клиент
//
//	store := ws.NewStore()
//	conn := ws.NewConn(ws.DefaultConnConfig("ws://localhost:8080/ws"), store)
//	defer conn.Close()
//	conn.Send(ctx, []byte(`{"uri":"/tokens","headers":{"Correlation-Id":"c-1"}}`))
//	msgs := store.Get("c-1")
//
// # Сервер
//
//	server := ws.NewServer(ws.DefaultServerConfig())
//	server.Handle("/tokens", func(ctx context.Context, req *ws.Message, res *ws.Responder) error {
//	    return res.Reply(http.StatusOK, Token{...})
//	})
//	http.Handle("/ws", server)
//
// # Протокол сообщений
//
// Сообщения передаются текстовыми кадрами в JSON:
//
//	{"uri": "/tokens", "method": "POST", "headers": {"Correlation-Id": "..."}, "status": 200, "body": {...}}
package ws
