// Package wait содержит единый примитив ожидания с ограничением по времени.
//
// Все ожидания в модуле (готовность соединения, количество ответов, предикаты,
// опрос состояния на сервере) построены на Poll и PollValue.
package wait

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const DefaultInterval = 50 * time.Millisecond

var ErrTimeout = errors.New("timeout")

type TimeoutError struct {
	Message string
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("timeout after %s", e.Elapsed.Round(time.Millisecond))
	}

	return e.Message
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

type Options struct {
	Timeout  time.Duration
	Interval time.Duration
	Message  string
}

type Condition func(ctx context.Context) (bool, error)

// Poll вызывает cond до первого true или до истечения Timeout.
// Ошибка cond возвращается сразу, без повторов.
func Poll(ctx context.Context, opts Options, cond Condition) error {
	_, err := PollValue(ctx, opts, func(ctx context.Context) (struct{}, bool, error) {
		ok, err := cond(ctx)
		return struct{}{}, ok, err
	})

	return err
}

// PollValue is Poll for conditions that produce a value. On success it returns
// the value from the evaluation that reported done.
func PollValue[T any](
	ctx context.Context,
	opts Options,
	cond func(ctx context.Context) (T, bool, error),
) (T, error) {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	start := time.Now()
	deadline := start.Add(opts.Timeout)

	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for {
		v, done, err := cond(ctx)
		if err != nil {
			return v, err
		}

		if done {
			return v, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return v, &TimeoutError{Message: opts.Message, Elapsed: time.Since(start)}
		}

		// Последняя проверка выполняется ровно в момент дедлайна.
		timer.Reset(min(interval, remaining))

		select {
		case <-ctx.Done():
			return v, ctx.Err()
		case <-timer.C:
		}
	}
}

// Sleep pauses for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
