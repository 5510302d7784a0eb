package exchange

import (
	"time"

	"github.com/google/uuid"
)

// NewCorrelationID is the default correlation id source.
func NewCorrelationID() string {
	return uuid.NewString()
}

type CallOption func(*callOptions)

type callOptions struct {
	correlationID string
	timeout       time.Duration
	description   string
}

// WithCorrelationID overrides the current correlation id. For Send it sets the
// id stamped into the request instead of generating a fresh one.
func WithCorrelationID(id string) CallOption {
	return func(o *callOptions) { o.correlationID = id }
}

func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) { o.timeout = d }
}

// WithDescription names a predicate in errors and reports.
func WithDescription(desc string) CallOption {
	return func(o *callOptions) { o.description = desc }
}

func applyOptions(opts []CallOption) callOptions {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}

	return o
}
