package diagnostics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hellotoday/hellotoday-client/internal/api"
	apperrors "github.com/hellotoday/hellotoday-client/internal/errors"
	"github.com/hellotoday/hellotoday-client/internal/realtime"
	"github.com/hellotoday/hellotoday-client/internal/store"
)

var (
	_ api.RequestObserver = (*Metrics)(nil)
	_ realtime.Observer   = (*Metrics)(nil)
	_ store.Observer      = (*Metrics)(nil)
)

func TestConnectionState(t *testing.T) {
	m := New()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.connectionState.WithLabelValues("disconnected")))

	m.ObserveConnectionState("connected")
	assert.Equal(t, 0.0, testutil.ToFloat64(m.connectionState.WithLabelValues("disconnected")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.connectionState.WithLabelValues("connecting")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connectionState.WithLabelValues("connected")))
}

func TestReconnectMetrics(t *testing.T) {
	m := New()

	m.ObserveReconnectScheduled(1, 2*time.Second)
	m.ObserveReconnectScheduled(2, 4*time.Second)
	m.ObserveMaxAttempts()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.reconnects))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.reconnectDelay))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reconnectExhausted))
}

func TestStoreMetrics(t *testing.T) {
	m := New()

	m.ObserveFrame("/topic/messages")
	m.ObserveFrame("/topic/messages")
	m.ObserveDroppedFrame("/topic/messages", "invalid_json")
	m.ObserveAppend(false)
	m.ObserveAppend(true)
	m.ObserveReset()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.framesReceived.WithLabelValues("/topic/messages")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.framesDropped.WithLabelValues("/topic/messages", "invalid_json")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.messagesAppended))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.duplicatesIgnored))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dailyResets))
}

func TestOutcome(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{&api.Error{Kind: apperrors.ErrRateLimited}, "rate_limited"},
		{&api.Error{Kind: apperrors.ErrNetworkTimeout}, "timeout"},
		{&api.Error{Kind: apperrors.ErrNetworkUnreachable}, "unreachable"},
		{&api.Error{Kind: apperrors.ErrServerError}, "server_error"},
		{&api.Error{Kind: apperrors.ErrClientError}, "client_error"},
		{errors.New("other"), "error"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Outcome(tt.err))
	}
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveRequest(api.OpSubmit, nil)
	m.ObserveRequest(api.OpSubmit, &api.Error{Kind: apperrors.ErrRateLimited})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	out := string(body)
	assert.Contains(t, out, `hellotoday_api_requests_total{op="submit",outcome="ok"} 1`)
	assert.Contains(t, out, `hellotoday_api_requests_total{op="submit",outcome="rate_limited"} 1`)
	assert.Contains(t, out, `hellotoday_connection_state{state="disconnected"} 1`)
	assert.Contains(t, out, "go_goroutines")
}
