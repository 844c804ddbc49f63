package cli

import (
	"sync"
	"time"

	"github.com/hellotoday/hellotoday-client/internal/realtime"
)

// Connection notices.
const (
	TitleConnectionLost   = "Connection lost"
	MessageConnectionLost = "Automatic reconnection stopped. Send SIGHUP or use the reconnect tool to try again."
	TitleReconnected      = "Reconnected"
	MessageReconnected    = "Live updates resumed."
)

// connectionNotifier is the part of *notify.Sink used for connection
// notices.
type connectionNotifier interface {
	Warning(title, message string) int
	Success(title, message string) int
}

// connectionNotices forwards controller events to next and raises a notice
// when automatic reconnection gives up and again when the connection
// recovers afterwards.
type connectionNotices struct {
	next     realtime.Observer
	notifier connectionNotifier

	mu     sync.Mutex
	gaveUp bool
}

func (n *connectionNotices) ObserveConnectionState(state string) {
	n.next.ObserveConnectionState(state)

	if state != realtime.Connected.String() {
		return
	}

	n.mu.Lock()
	recovered := n.gaveUp
	n.gaveUp = false
	n.mu.Unlock()

	if recovered {
		n.notifier.Success(TitleReconnected, MessageReconnected)
	}
}

func (n *connectionNotices) ObserveReconnectScheduled(attempt int, delay time.Duration) {
	n.next.ObserveReconnectScheduled(attempt, delay)
}

func (n *connectionNotices) ObserveMaxAttempts() {
	n.next.ObserveMaxAttempts()

	n.mu.Lock()
	n.gaveUp = true
	n.mu.Unlock()

	n.notifier.Warning(TitleConnectionLost, MessageConnectionLost)
}
