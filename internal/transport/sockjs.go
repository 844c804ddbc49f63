package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// Conn is a message-oriented session negotiated with the realtime
// endpoint. Messages are already unwrapped from the transport framing.
type Conn interface {
	Send(ctx context.Context, msg string) error
	Recv(ctx context.Context) (string, error)
	Close() error
	Transport() string
}

// serverInfo is the body of GET {endpoint}/info.
type serverInfo struct {
	WebSocket bool `json:"websocket"`
}

// maxInfoBytes caps the info response read.
const maxInfoBytes = 64 * 1024

func fetchInfo(ctx context.Context, client *http.Client, endpoint string) (serverInfo, error) {
	var info serverInfo

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"/info", nil)
	if err != nil {
		return info, fmt.Errorf("creating info request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return info, fmt.Errorf("requesting info: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxInfoBytes))
	if err != nil {
		return info, fmt.Errorf("reading info: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return info, fmt.Errorf("info returned status %d", resp.StatusCode)
	}

	if err := json.Unmarshal(body, &info); err != nil {
		return info, fmt.Errorf("decoding info: %w", err)
	}

	return info, nil
}

// newSessionURL returns {endpoint}/{server}/{session}. The server segment
// is three random digits and the session segment is a random identifier.
func newSessionURL(endpoint string) string {
	server := fmt.Sprintf("%03d", rand.IntN(1000)) //nolint:gosec // G404: routing hint, no security impact
	session := strings.ReplaceAll(uuid.NewString(), "-", "")

	return endpoint + "/" + server + "/" + session
}

// Frame kinds on the wire.
const (
	kindOpen      = 'o'
	kindHeartbeat = 'h'
	kindArray     = 'a'
	kindMessage   = 'm'
	kindClose     = 'c'
)

type sockFrame struct {
	kind     byte
	messages []string
	closeErr *CloseError
}

// parseSockFrame decodes one transport frame.
func parseSockFrame(data []byte) (sockFrame, error) {
	if len(data) == 0 {
		return sockFrame{}, &ProtocolError{Message: "empty transport frame"}
	}

	f := sockFrame{kind: data[0]}

	switch f.kind {
	case kindOpen, kindHeartbeat:
		return f, nil

	case kindArray:
		if err := json.Unmarshal(data[1:], &f.messages); err != nil {
			return f, &ProtocolError{Message: "malformed message array: " + err.Error()}
		}

		return f, nil

	case kindMessage:
		var msg string
		if err := json.Unmarshal(data[1:], &msg); err != nil {
			return f, &ProtocolError{Message: "malformed message: " + err.Error()}
		}

		f.messages = []string{msg}

		return f, nil

	case kindClose:
		var parts []json.RawMessage
		if err := json.Unmarshal(data[1:], &parts); err != nil || len(parts) == 0 {
			return f, &ProtocolError{Message: "malformed close frame"}
		}

		ce := &CloseError{}
		if err := json.Unmarshal(parts[0], &ce.Code); err != nil {
			return f, &ProtocolError{Message: "malformed close code"}
		}

		if len(parts) > 1 {
			_ = json.Unmarshal(parts[1], &ce.Reason)
		}

		f.closeErr = ce

		return f, nil
	}

	return f, &ProtocolError{Message: fmt.Sprintf("unknown transport frame type %q", f.kind)}
}

// encodeOutbound wraps one message the way the server expects client
// sends: a JSON array of strings.
func encodeOutbound(msg string) ([]byte, error) {
	return json.Marshal([]string{msg})
}

// messageQueue holds messages unpacked from an array frame that have not
// been returned by Recv yet.
type messageQueue struct {
	pending []string
}

func (q *messageQueue) pop() (string, bool) {
	if len(q.pending) == 0 {
		return "", false
	}

	msg := q.pending[0]
	q.pending = q.pending[1:]

	return msg, true
}

// accept processes a decoded frame. It returns a CloseError for close
// frames and nil for everything else; delivered messages are queued.
func (q *messageQueue) accept(f sockFrame) error {
	switch f.kind {
	case kindArray, kindMessage:
		q.pending = append(q.pending, f.messages...)
	case kindClose:
		return f.closeErr
	}

	return nil
}
