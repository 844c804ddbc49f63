package errors

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func allSentinels() []error {
	return []error{
		ErrNetworkTimeout,
		ErrNetworkUnreachable,
		ErrServerError,
		ErrClientError,
		ErrRateLimited,
		ErrNotConnected,
		ErrProtocol,
		ErrMaxReconnectAttempts,
		ErrConnectionClosed,
		ErrTransportUnavailable,
	}
}

func TestSentinelErrors_ImplementErrorInterface(t *testing.T) {
	for _, err := range allSentinels() {
		assert.NotEmpty(t, err.Error(), "sentinel error should have non-empty message")
	}
}

func TestSentinelErrors_AreDistinct(t *testing.T) {
	sentinels := allSentinels()
	for i := 0; i < len(sentinels); i++ {
		for j := i + 1; j < len(sentinels); j++ {
			assert.NotEqual(t, sentinels[i], sentinels[j],
				"sentinel errors should be distinct: %q vs %q", sentinels[i], sentinels[j])
		}
	}
}

func TestSentinelErrors_ExpectedMessages(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{ErrNetworkTimeout, "request timed out"},
		{ErrNetworkUnreachable, "network unreachable"},
		{ErrRateLimited, "rate limited"},
		{ErrNotConnected, "not connected"},
		{ErrMaxReconnectAttempts, "max reconnection attempts reached"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.err.Error())
	}
}
