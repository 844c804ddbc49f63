package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/hellotoday/hellotoday-client/internal/errors"
	"github.com/hellotoday/hellotoday-client/internal/logging"
	"github.com/hellotoday/hellotoday-client/internal/transport/transporttest"
)

func newTestClient(srv *transporttest.Server, mode string) *Client {
	return NewClient(Options{
		Endpoint:       srv.Endpoint(),
		Mode:           mode,
		ConnectTimeout: 2 * time.Second,
		Logger:         logging.Discard(),
	})
}

func connect(t *testing.T, c *Client) *Session {
	t.Helper()

	sess, err := c.Connect(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Close() })

	return sess
}

func nextFrame(t *testing.T, sess *Session) Frame {
	t.Helper()

	select {
	case f, ok := <-sess.Frames():
		require.True(t, ok, "session ended: %v", sess.Err())
		return f
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for frame")
	}

	return Frame{}
}

func waitEnded(t *testing.T, sess *Session) {
	t.Helper()

	deadline := time.After(5 * time.Second)

	for {
		select {
		case _, ok := <-sess.Frames():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("session did not end")
		}
	}
}

func TestClientConnect_Transports(t *testing.T) {
	tests := []struct {
		name      string
		mode      string
		webSocket bool
		want      string
	}{
		{name: "auto prefers websocket", mode: TransportAuto, webSocket: true, want: TransportWebSocket},
		{name: "auto falls back", mode: TransportAuto, webSocket: false, want: TransportXHRStreaming},
		{name: "forced streaming", mode: TransportXHRStreaming, webSocket: true, want: TransportXHRStreaming},
		{name: "forced websocket", mode: TransportWebSocket, webSocket: true, want: TransportWebSocket},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := transporttest.NewServer(t)
			if !tt.webSocket {
				srv.DisableWebSocket()
			}

			sess := connect(t, newTestClient(srv, tt.mode))
			assert.Equal(t, tt.want, sess.Transport())

			srv.WaitSessions(t, 1)
			assert.Equal(t, 1, srv.Connects())

			require.Equal(t, 1, srv.Broadcast(TopicMessages, []byte(`{"id":1,"content":"hi"}`)))
			f := nextFrame(t, sess)
			assert.Equal(t, TopicMessages, f.Channel)
			assert.JSONEq(t, `{"id":1,"content":"hi"}`, string(f.Body))

			require.Equal(t, 1, srv.Broadcast(TopicReset, []byte(`{}`)))
			assert.Equal(t, TopicReset, nextFrame(t, sess).Channel)
		})
	}
}

func TestClientConnect_WebSocketRequiredButUnavailable(t *testing.T) {
	srv := transporttest.NewServer(t)
	srv.DisableWebSocket()

	_, err := newTestClient(srv, TransportWebSocket).Connect(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrTransportUnavailable)
}

func TestClientConnect_Unreachable(t *testing.T) {
	c := NewClient(Options{Endpoint: "http://127.0.0.1:1/ws", ConnectTimeout: time.Second, Logger: logging.Discard()})

	_, err := c.Connect(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrTransportUnavailable)
}

func TestClientConnect_Rejected(t *testing.T) {
	srv := transporttest.NewServer(t)
	srv.RejectConnect("Access denied")

	_, err := newTestClient(srv, TransportAuto).Connect(context.Background())
	require.ErrorIs(t, err, apperrors.ErrProtocol)
	assert.EqualError(t, err, "STOMP error: Access denied")
}

func TestSession_SnapshotOnSubscribe(t *testing.T) {
	srv := transporttest.NewServer(t)
	srv.SetSnapshot([]byte(`{"date":"2024-05-01","messages":[],"totalCount":0}`))

	sess := connect(t, newTestClient(srv, TransportAuto))

	f := nextFrame(t, sess)
	assert.Equal(t, TopicMessages, f.Channel)
	assert.Contains(t, string(f.Body), "2024-05-01")
}

func TestSession_Publish(t *testing.T) {
	for _, mode := range []string{TransportWebSocket, TransportXHRStreaming} {
		t.Run(mode, func(t *testing.T) {
			srv := transporttest.NewServer(t)
			sess := connect(t, newTestClient(srv, mode))

			require.NoError(t, sess.Publish(context.Background(), DestPing, []byte(`{"timestamp":42}`)))

			require.Eventually(t, func() bool { return len(srv.Published()) == 1 }, 5*time.Second, 10*time.Millisecond)
			p := srv.Published()[0]
			assert.Equal(t, DestPing, p.Destination)
			assert.JSONEq(t, `{"timestamp":42}`, string(p.Body))
		})
	}
}

func TestSession_PublishAfterClose(t *testing.T) {
	srv := transporttest.NewServer(t)
	sess := connect(t, newTestClient(srv, TransportAuto))

	require.NoError(t, sess.Close())
	require.NoError(t, sess.Close())

	err := sess.Publish(context.Background(), DestPing, []byte(`{}`))
	assert.ErrorIs(t, err, apperrors.ErrNotConnected)
	assert.True(t, IsNormalClosure(sess.Err()))
}

func TestSession_ServerClose(t *testing.T) {
	tests := []struct {
		name   string
		mode   string
		code   int
		normal bool
	}{
		{name: "websocket normal", mode: TransportWebSocket, code: 1000, normal: true},
		{name: "websocket abnormal", mode: TransportWebSocket, code: 4000},
		{name: "websocket dropped", mode: TransportWebSocket, code: 1006},
		{name: "streaming normal", mode: TransportXHRStreaming, code: 1000, normal: true},
		{name: "streaming abnormal", mode: TransportXHRStreaming, code: 3000},
		{name: "streaming dropped", mode: TransportXHRStreaming, code: 1006},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := transporttest.NewServer(t)
			sess := connect(t, newTestClient(srv, tt.mode))
			srv.WaitSessions(t, 1)

			srv.DropAll(tt.code, "test")
			waitEnded(t, sess)

			require.Error(t, sess.Err())
			assert.Equal(t, tt.normal, IsNormalClosure(sess.Err()))
		})
	}
}

func TestSession_ErrorFrameEndsSession(t *testing.T) {
	srv := transporttest.NewServer(t)
	sess := connect(t, newTestClient(srv, TransportAuto))
	srv.WaitSessions(t, 1)

	srv.SendError("broker unavailable")
	waitEnded(t, sess)

	assert.EqualError(t, sess.Err(), "STOMP error: broker unavailable")
	assert.ErrorIs(t, sess.Err(), apperrors.ErrProtocol)
}

func TestSession_Heartbeats(t *testing.T) {
	srv := transporttest.NewServer(t)
	srv.SetHeartBeat("0,20")

	c := NewClient(Options{
		Endpoint:  srv.Endpoint(),
		Heartbeat: 10 * time.Millisecond,
		Logger:    logging.Discard(),
	})
	connect(t, c)

	require.Eventually(t, func() bool { return srv.Heartbeats() >= 2 }, 5*time.Second, 10*time.Millisecond)
}

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient(Options{Endpoint: "https://example.com/ws"})

	assert.Equal(t, "https://example.com/ws", c.Endpoint())
	assert.Equal(t, TransportAuto, c.mode)
	assert.Equal(t, "example.com", c.host)
	assert.Equal(t, DefaultConnectTimeout, c.connectTimeout)
	assert.Equal(t, DefaultHeartbeat, c.heartbeat)
	assert.Equal(t, []string{TopicMessages, TopicReset}, c.channels)
	assert.Zero(t, c.httpClient.Timeout)
}
