package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"unicode/utf8"

	apperrors "github.com/hellotoday/hellotoday-client/internal/errors"
	"github.com/hellotoday/hellotoday-client/internal/models"
	"github.com/tidwall/gjson"
	"golang.org/x/text/unicode/norm"
)

// Normalized, user-facing messages.
const (
	MsgRateLimited     = "rate limited, retry later"
	MsgContentRequired = "content required"
	MsgContentTooLong  = "content too long"
	MsgBadRequest      = "bad request, check your input"
	MsgPayloadTooLarge = "payload too large"
	MsgServerError     = "server error, retry later"
	MsgTimeout         = "request timed out"
	MsgUnreachable     = "network unreachable"
)

// validationMarkers are substrings the server uses in its message when
// request body validation fails.
var validationMarkers = []string{
	"validation",
	"입력값 검증에 실패",
}

// Error is the typed failure returned by every Client operation. Message
// is already normalized for display; Status is 0 when no response was
// received. errors.Is matches Kind against the sentinels in
// internal/errors.
type Error struct {
	Op      string
	Kind    error
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string { return e.Message }

// Unwrap exposes the transport-level cause, if any.
func (e *Error) Unwrap() error { return e.Err }

// Is matches the error's kind sentinel.
func (e *Error) Is(target error) bool { return target == e.Kind }

// HasResponse reports whether the server answered at all.
func (e *Error) HasResponse() bool { return e.Status != 0 }

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}

	return 0
}

// ContentLength counts characters the way the server does: NFC-normalized
// code points.
func ContentLength(content string) int {
	return utf8.RuneCountInString(norm.NFC.String(content))
}

// kindForStatus maps an HTTP status to its taxonomy sentinel.
func kindForStatus(status int) error {
	switch {
	case status == http.StatusTooManyRequests:
		return apperrors.ErrRateLimited
	case status >= 500:
		return apperrors.ErrServerError
	default:
		return apperrors.ErrClientError
	}
}

// normalizeResponse turns an error response into a single display message.
// content is the outbound message content for submissions, nil otherwise.
func normalizeResponse(op string, status int, body []byte, content *string) *Error {
	e := &Error{Op: op, Kind: kindForStatus(status), Status: status}

	if status == http.StatusTooManyRequests {
		e.Message = MsgRateLimited
		if msg := bodyMessage(body); msg != "" {
			e.Message = msg
		}

		return e
	}

	if msg := bodyMessage(body); msg != "" {
		e.Message = msg

		if content != nil && isValidationFailure(msg) {
			switch {
			case strings.TrimSpace(*content) == "":
				e.Message = MsgContentRequired
			case ContentLength(*content) > models.MaxContentLength:
				e.Message = MsgContentTooLong
			}
		}

		return e
	}

	switch {
	case status == http.StatusBadRequest:
		e.Message = MsgBadRequest
	case status == http.StatusRequestEntityTooLarge:
		e.Message = MsgPayloadTooLarge
	case status >= 500:
		e.Message = MsgServerError
	default:
		e.Message = fmt.Sprintf("request failed with status %d", status)
	}

	return e
}

// normalizeTransport classifies a failure where no response was read.
func normalizeTransport(op string, err error) *Error {
	if isTimeout(err) {
		return &Error{Op: op, Kind: apperrors.ErrNetworkTimeout, Message: MsgTimeout, Err: err}
	}

	return &Error{Op: op, Kind: apperrors.ErrNetworkUnreachable, Message: MsgUnreachable, Err: err}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var ne net.Error

	return errors.As(err, &ne) && ne.Timeout()
}

// bodyMessage extracts a non-empty "message" string from a JSON body. A
// body that is itself a JSON string holding JSON (double-encoded) is
// unwrapped once.
func bodyMessage(body []byte) string {
	if !gjson.ValidBytes(body) {
		return ""
	}

	parsed := gjson.ParseBytes(body)
	if parsed.Type == gjson.String && gjson.Valid(parsed.Str) {
		parsed = gjson.Parse(parsed.Str)
	}

	msg := parsed.Get("message")
	if msg.Type != gjson.String {
		return ""
	}

	return msg.Str
}

func isValidationFailure(msg string) bool {
	lower := strings.ToLower(msg)
	for _, marker := range validationMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}

	return false
}
