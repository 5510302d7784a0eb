package ws

import "errors"

var (
	ErrRouteNotFound        = errors.New("route not found")
	ErrConnectionClosed     = errors.New("connection closed")
	ErrConnectionTimeout    = errors.New("connection timeout")
	ErrConnectionFailed     = errors.New("connection failed")
	ErrTransport            = errors.New("transport error")
	ErrDecode               = errors.New("decode error")
	ErrInvalidWireMessage   = errors.New("invalid wire message")
	ErrMissingCorrelationID = errors.New("missing correlation id")
	ErrEmptyBody            = errors.New("message has no body")
)
