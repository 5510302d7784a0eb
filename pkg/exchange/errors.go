package exchange

import (
	"errors"
	"fmt"
	"strings"

	"github.com/LLIEPJIOK/service-mesh/wsx/pkg/ws"
)

var (
	ErrConfiguration = errors.New("configuration error")
	ErrPredicate     = errors.New("predicate error")
	ErrOverflow      = errors.New("more messages than allowed")
	ErrNoValidator   = errors.New("schema validator is not configured")
	ErrNoResponse    = errors.New("no response to validate")
)

// OverflowError is returned by ExpectNoMoreThan with everything that arrived.
type OverflowError struct {
	CorrelationID string
	Max           int
	Messages      []*ws.Message
}

func (e *OverflowError) Error() string {
	parts := make([]string, 0, len(e.Messages))
	for _, m := range e.Messages {
		parts = append(parts, m.String())
	}

	return fmt.Sprintf(
		"%s: received %d messages for correlation id %s, expected no more than %d: [%s]",
		ErrOverflow, len(e.Messages), e.CorrelationID, e.Max, strings.Join(parts, ", "),
	)
}

func (e *OverflowError) Is(target error) bool {
	return target == ErrOverflow
}
