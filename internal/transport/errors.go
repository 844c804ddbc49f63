package transport

import (
	"errors"
	"fmt"

	apperrors "github.com/hellotoday/hellotoday-client/internal/errors"
)

// StatusNormalClosure is the close code for an orderly shutdown. Any other
// close code is abnormal and triggers reconnection.
const StatusNormalClosure = 1000

// StatusAbnormalClosure reports a connection lost without a close frame.
const StatusAbnormalClosure = 1006

// CloseError reports that the server closed the session.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("connection closed (%d)", e.Code)
	}

	return fmt.Sprintf("connection closed (%d): %s", e.Code, e.Reason)
}

// Is matches apperrors.ErrConnectionClosed.
func (e *CloseError) Is(target error) bool { return target == apperrors.ErrConnectionClosed }

// IsNormalClosure reports whether err is a close with StatusNormalClosure.
func IsNormalClosure(err error) bool {
	var ce *CloseError
	return errors.As(err, &ce) && ce.Code == StatusNormalClosure
}

// ProtocolError is a STOMP ERROR frame or an unparseable transport frame.
type ProtocolError struct {
	Message string
}

func (e *ProtocolError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "Unknown error"
	}

	return "STOMP error: " + msg
}

// Is matches apperrors.ErrProtocol.
func (e *ProtocolError) Is(target error) bool { return target == apperrors.ErrProtocol }
