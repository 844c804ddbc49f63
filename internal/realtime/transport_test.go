package realtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hellotoday/hellotoday-client/internal/logging"
	"github.com/hellotoday/hellotoday-client/internal/transport"
	"github.com/hellotoday/hellotoday-client/internal/transport/transporttest"
)

func receive(t *testing.T, c *Controller) transport.Frame {
	t.Helper()

	select {
	case f := <-c.Frames():
		return f
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for frame")
	}

	return transport.Frame{}
}

func TestController_OverTransport(t *testing.T) {
	srv := transporttest.NewServer(t)

	tc := transport.NewClient(transport.Options{
		Endpoint: srv.Endpoint(),
		Logger:   logging.Discard(),
	})

	c := NewController(Options{
		Dialer: TransportDialer(tc),
		Policy: Policy{MaxAttempts: 5, BaseDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond},
		Logger: logging.Discard(),
	})
	t.Cleanup(c.Close)

	c.Connect()
	srv.WaitSessions(t, 1)
	require.Eventually(t, c.Connected, 5*time.Second, 10*time.Millisecond)

	srv.Broadcast(transport.TopicMessages, []byte(`{"id":1,"content":"first"}`))
	assert.JSONEq(t, `{"id":1,"content":"first"}`, string(receive(t, c).Body))

	// Abnormal drop: the controller reconnects on its own.
	srv.DropAll(4000, "restart")
	srv.WaitSessions(t, 1)
	require.Eventually(t, c.Connected, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, srv.Connects())

	srv.Broadcast(transport.TopicReset, []byte(`{}`))
	assert.Equal(t, transport.TopicReset, receive(t, c).Channel)

	require.NoError(t, c.Ping(t.Context()))
	require.Eventually(t, func() bool { return len(srv.Published()) == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, transport.DestPing, srv.Published()[0].Destination)

	c.Disconnect()
	srv.WaitSessions(t, 0)
	assert.Equal(t, Disconnected, c.State())
}

func TestController_ErrorFrameSchedulesReconnect(t *testing.T) {
	srv := transporttest.NewServer(t)

	tc := transport.NewClient(transport.Options{Endpoint: srv.Endpoint(), Logger: logging.Discard()})
	obs := &recordingObserver{}

	c := NewController(Options{
		Dialer:   TransportDialer(tc),
		Policy:   Policy{MaxAttempts: 5, BaseDelay: time.Hour, MaxDelay: time.Hour},
		Logger:   logging.Discard(),
		Observer: obs,
	})
	t.Cleanup(c.Close)

	c.Connect()
	srv.WaitSessions(t, 1)
	require.Eventually(t, c.Connected, 5*time.Second, 10*time.Millisecond)

	srv.SendError("broker down")

	require.Eventually(t, func() bool { return c.State() == Disconnected }, 5*time.Second, 10*time.Millisecond)
	st := c.Status()
	assert.Equal(t, "STOMP error: broker down", st.LastError)
	assert.Equal(t, 1, st.Attempts)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, []time.Duration{time.Hour}, obs.delays)
}
