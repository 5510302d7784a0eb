package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/LLIEPJIOK/service-mesh/wsx/pkg/wait"
	"github.com/LLIEPJIOK/service-mesh/wsx/pkg/ws"
)

// StatePredicate decides whether a fetched state is the one being waited for.
type StatePredicate func(body json.RawMessage) (bool, error)

// WaitForDerivedState re-sends fetch, each time under a new correlation id,
// until a 200 response whose body satisfies pred arrives or timeout elapses.
func (e *Exchange) WaitForDerivedState(
	ctx context.Context,
	fetch *ws.Message,
	pred StatePredicate,
	timeout time.Duration,
) (*ws.Message, error) {
	if timeout <= 0 {
		timeout = e.cfg.ResponseTimeout
	}

	deadline := time.Now().Add(timeout)

	var (
		cycles      int
		lastID      string
		lastRequest string
		last        *ws.Message
	)

	opts := wait.Options{Timeout: timeout, Interval: e.cfg.DerivedStateInterval}

	msg, err := wait.PollValue(ctx, opts, func(ctx context.Context) (*ws.Message, bool, error) {
		cycles++

		id, request, err := e.send(ctx, fetch, "")
		if err != nil {
			return nil, false, err
		}

		lastID, lastRequest = id, request
		e.logger.Debug("derived state request sent", "uri", fetch.URI, "cycle", cycles, "correlation_id", id)

		msgs, err := e.pollCount(ctx, id, 1, time.Until(deadline), false)
		if err != nil {
			// Ответ не успел прийти: состояние пока неизвестно.
			if errors.Is(err, wait.ErrTimeout) {
				return nil, false, nil
			}

			return nil, false, err
		}

		last = msgs[0]
		if last.Status != http.StatusOK {
			return last, false, nil
		}

		ok, err := pred(last.Body)
		if err != nil {
			return last, false, fmt.Errorf("%w: state of %s: %w", ErrPredicate, fetch.URI, err)
		}

		return last, ok, nil
	})

	if lastRequest != "" {
		e.sink.Report(fmt.Sprintf("Send WS request (cycle %d, correlation id %s)", cycles, lastID), lastRequest)
	}

	if last != nil {
		e.sink.Report("Latest state", last)
	}

	e.logger.Debug("derived state wait finished", "uri", fetch.URI, "cycles", cycles, "error", err)

	if err != nil {
		if errors.Is(err, wait.ErrTimeout) {
			return last, fmt.Errorf(
				"state of %s didn't reach the expected value after %d requests: %w",
				fetch.URI, cycles, err,
			)
		}

		return last, err
	}

	return msg, nil
}

// NestedMatch selects a record inside a list field of the response body,
// e.g. body.orders[i] with orderId == "42" and status == "FILLED".
// Values are compared by their text form.
type NestedMatch struct {
	Collection  string
	KeyField    string
	Key         string
	StatusField string
	Status      string
}

func (m NestedMatch) String() string {
	return fmt.Sprintf("%s[%s=%s].%s=%s", m.Collection, m.KeyField, m.Key, m.StatusField, m.Status)
}

type NestedResult struct {
	// Index of the message in arrival order for the correlation id.
	Index   int
	Message *ws.Message
}

// WaitForNestedStatus waits on the current correlation id for a message that
// carries the record described by match. Messages are waited for one more at
// a time within one shared budget and each is inspected once.
func (e *Exchange) WaitForNestedStatus(
	ctx context.Context,
	match NestedMatch,
	opts ...CallOption,
) (NestedResult, error) {
	o := applyOptions(opts)
	id := e.correlationID(o)
	timeout := e.timeout(o)
	deadline := time.Now().Add(timeout)

	checked := 0
	for {
		msgs, err := e.pollCount(ctx, id, checked+1, time.Until(deadline), false)
		if err != nil {
			if !errors.Is(err, wait.ErrTimeout) {
				return NestedResult{}, err
			}

			records, statuses := match.history(e.store.Get(id))
			e.sink.Report("Records for "+match.KeyField+" "+match.Key, records)

			return NestedResult{}, fmt.Errorf(
				"no message for correlation id %s had %s within %s, observed statuses [%s]: %w",
				id, match, timeout, strings.Join(statuses, ", "), err,
			)
		}

		for ; checked < len(msgs); checked++ {
			if _, ok := match.find(msgs[checked]); ok {
				e.sink.Report("Matched response", msgs[checked])
				return NestedResult{Index: checked, Message: msgs[checked]}, nil
			}
		}
	}
}

func (m NestedMatch) records(msg *ws.Message) []map[string]any {
	if len(msg.Body) == 0 {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(msg.Body))
	dec.UseNumber()

	var body map[string]any
	if err := dec.Decode(&body); err != nil {
		return nil
	}

	list, _ := body[m.Collection].([]any)

	var out []map[string]any
	for _, item := range list {
		rec, ok := item.(map[string]any)
		if ok && fmt.Sprint(rec[m.KeyField]) == m.Key {
			out = append(out, rec)
		}
	}

	return out
}

func (m NestedMatch) find(msg *ws.Message) (map[string]any, bool) {
	for _, rec := range m.records(msg) {
		if fmt.Sprint(rec[m.StatusField]) == m.Status {
			return rec, true
		}
	}

	return nil, false
}

// history lists every record with the matching key across msgs, with its status.
func (m NestedMatch) history(msgs []*ws.Message) ([]map[string]any, []string) {
	var (
		records  []map[string]any
		statuses []string
	)

	for _, msg := range msgs {
		for _, rec := range m.records(msg) {
			records = append(records, rec)
			statuses = append(statuses, fmt.Sprint(rec[m.StatusField]))
		}
	}

	return records, statuses
}
