package errors

import "errors"

// Request errors, produced by the API client after normalization.
var (
	ErrNetworkTimeout     = errors.New("request timed out")
	ErrNetworkUnreachable = errors.New("network unreachable")
	ErrServerError        = errors.New("server error")
	ErrClientError        = errors.New("client error")
	ErrRateLimited        = errors.New("rate limited")
)

// Realtime errors. These never reach the caller of a store operation;
// the reconnection controller records them as its last error.
var (
	ErrNotConnected         = errors.New("not connected")
	ErrProtocol             = errors.New("protocol error")
	ErrMaxReconnectAttempts = errors.New("max reconnection attempts reached")
	ErrConnectionClosed     = errors.New("connection closed")
	ErrTransportUnavailable = errors.New("no usable transport")
)
