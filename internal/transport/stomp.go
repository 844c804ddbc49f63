package transport

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
)

// STOMP commands used by the client.
const (
	cmdConnect    = "CONNECT"
	cmdConnected  = "CONNECTED"
	cmdSubscribe  = "SUBSCRIBE"
	cmdSend       = "SEND"
	cmdMessage    = "MESSAGE"
	cmdError      = "ERROR"
	cmdReceipt    = "RECEIPT"
	cmdDisconnect = "DISCONNECT"
)

// STOMP headers used by the client.
const (
	hdrAcceptVersion = "accept-version"
	hdrHeartBeat     = "heart-beat"
	hdrHost          = "host"
	hdrDestination   = "destination"
	hdrID            = "id"
	hdrAck           = "ack"
	hdrContentType   = "content-type"
	hdrMessage       = "message"
)

const acceptVersions = "1.2,1.1,1.0"

// encodeFrame serializes a STOMP frame. headers are key/value pairs.
func encodeFrame(command string, body []byte, headers ...string) (string, error) {
	f := frame.New(command, headers...)
	f.Body = body

	var buf bytes.Buffer
	if err := frame.NewWriter(&buf).Write(f); err != nil {
		return "", fmt.Errorf("encoding %s frame: %w", command, err)
	}

	return buf.String(), nil
}

// decodeFrame parses one STOMP frame. A bare heart-beat returns nil.
func decodeFrame(msg string) (*frame.Frame, error) {
	if strings.Trim(msg, "\r\n") == "" {
		return nil, nil
	}

	f, err := frame.NewReader(strings.NewReader(msg)).Read()
	if err != nil {
		return nil, fmt.Errorf("decoding stomp frame: %w", err)
	}

	return f, nil
}

// heartbeatHeader formats the client's heart-beat offer.
func heartbeatHeader(d time.Duration) string {
	ms := strconv.FormatInt(d.Milliseconds(), 10)
	return ms + "," + ms
}

// negotiateHeartbeat returns how often the client must send heart-beats
// given its own offer and the server's heart-beat header. Zero disables
// outgoing heart-beats.
func negotiateHeartbeat(offer time.Duration, serverHeader string) time.Duration {
	_, wants, ok := parseHeartbeat(serverHeader)
	if offer <= 0 || !ok || wants <= 0 {
		return 0
	}

	return max(offer, wants)
}

// negotiateIncoming returns how often the server will send heart-beats to
// the client. Zero disables the inbound check.
func negotiateIncoming(offer time.Duration, serverHeader string) time.Duration {
	sends, _, ok := parseHeartbeat(serverHeader)
	if offer <= 0 || !ok || sends <= 0 {
		return 0
	}

	return max(offer, sends)
}

// parseHeartbeat splits a heart-beat header into the sender's outgoing
// interval and the interval it wants to receive.
func parseHeartbeat(header string) (sends, wants time.Duration, ok bool) {
	sx, sy, found := strings.Cut(header, ",")
	if !found {
		return 0, 0, false
	}

	x, err := strconv.ParseInt(strings.TrimSpace(sx), 10, 64)
	if err != nil {
		return 0, 0, false
	}

	y, err := strconv.ParseInt(strings.TrimSpace(sy), 10, 64)
	if err != nil {
		return 0, 0, false
	}

	return time.Duration(x) * time.Millisecond, time.Duration(y) * time.Millisecond, true
}
