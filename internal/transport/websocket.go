package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/coder/websocket"
)

//go:generate mockgen -destination=mock_wsconn_test.go -package=transport -mock_names=wsConn=MockWSConn . wsConn

// maxFrameBytes bounds a single inbound frame on either transport.
const maxFrameBytes = 1 << 20

// wsConn abstracts the WebSocket connection so the transport can be tested
// without a real server. *websocket.Conn satisfies this interface.
type wsConn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
	SetReadLimit(n int64)
}

type websocketConn struct {
	conn  wsConn
	queue messageQueue
}

// dialWebSocket opens {session}/websocket and waits for the open frame.
// httpClient must not set Timeout; ctx bounds the handshake.
func dialWebSocket(ctx context.Context, sessionURL string, httpClient *http.Client) (*websocketConn, error) {
	url := toWebSocketScheme(sessionURL) + "/websocket"

	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{ //nolint:bodyclose // websocket.Dial closes the response body internally
		HTTPClient: httpClient,
	})
	if err != nil {
		return nil, fmt.Errorf("dialing websocket: %w", err)
	}

	return openWebSocket(ctx, conn)
}

// openWebSocket consumes the open frame. Split from dialWebSocket so the
// framing can be exercised with a mock wsConn.
func openWebSocket(ctx context.Context, conn wsConn) (*websocketConn, error) {
	conn.SetReadLimit(maxFrameBytes)

	c := &websocketConn{conn: conn}

	_, data, err := conn.Read(ctx)
	if err != nil {
		_ = conn.Close(websocket.StatusInternalError, "handshake failed")
		return nil, fmt.Errorf("reading open frame: %w", closeErrorFrom(err))
	}

	f, err := parseSockFrame(data)
	if err != nil {
		_ = conn.Close(websocket.StatusProtocolError, "bad open frame")
		return nil, err
	}

	if f.kind == kindClose {
		return nil, f.closeErr
	}

	if f.kind != kindOpen {
		_ = conn.Close(websocket.StatusProtocolError, "bad open frame")
		return nil, &ProtocolError{Message: fmt.Sprintf("expected open frame, got %q", f.kind)}
	}

	return c, nil
}

func (c *websocketConn) Transport() string { return TransportWebSocket }

func (c *websocketConn) Send(ctx context.Context, msg string) error {
	data, err := encodeOutbound(msg)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}

	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("writing message: %w", closeErrorFrom(err))
	}

	return nil
}

// Recv is not safe for concurrent use.
func (c *websocketConn) Recv(ctx context.Context) (string, error) {
	for {
		if msg, ok := c.queue.pop(); ok {
			return msg, nil
		}

		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return "", closeErrorFrom(err)
		}

		f, err := parseSockFrame(data)
		if err != nil {
			return "", err
		}

		if err := c.queue.accept(f); err != nil {
			return "", err
		}
	}
}

func (c *websocketConn) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "")
}

// closeErrorFrom converts a WebSocket close into a *CloseError so callers
// can tell normal closure apart from failures.
func closeErrorFrom(err error) error {
	if err == nil {
		return nil
	}

	var ce websocket.CloseError
	if errors.As(err, &ce) {
		return &CloseError{Code: int(ce.Code), Reason: ce.Reason}
	}

	return err
}

func toWebSocketScheme(u string) string {
	switch {
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://")
	}

	return u
}
