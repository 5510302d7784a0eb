// Package exchange отправляет запросы по WebSocket и ждёт ответы на них по
// correlation id.
//
// Exchange помнит correlation id последнего запроса (курсор), и все ожидания
// по умолчанию работают с ним:
//
//	ex, err := exchange.New(exchange.DefaultConfig("ws://localhost:8080/ws"))
//	if err != nil { ... }
//	defer ex.Close()
//
//	req, _ := ws.NewRequest("POST", "/tokens", nil)
//	res, err := ex.SendAndWait(ctx, req, 1)
//	// res.Single - единственный ответ
//
//	_, err = ex.ExpectNoMoreThan(ctx, 1, 500*time.Millisecond)
//
// Ожидание производного состояния повторяет запрос с новым correlation id
// каждые Config.DerivedStateInterval, пока предикат не выполнится:
//
//	msg, err := ex.WaitForDerivedState(ctx, fetch, isComplete, 5*time.Second)
package exchange
