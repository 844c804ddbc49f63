package realtime

import "time"

// ConnectionState is the controller's view of the realtime session.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// Policy bounds automatic reconnection.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy allows five retries starting at 2s and capped at 30s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
	}
}

// Delay returns min(BaseDelay * 2^attempt, MaxDelay).
func (p Policy) Delay(attempt int) time.Duration {
	d := p.BaseDelay
	for range attempt {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}

	return min(d, p.MaxDelay)
}

// Status is a point-in-time snapshot of the controller.
type Status struct {
	State     ConnectionState
	Attempts  int
	LastError string
	Transport string
}
