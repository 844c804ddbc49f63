package transport

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// xhrConn is the HTTP streaming fallback: one long-lived POST carries
// inbound frames separated by newlines and each send is a separate POST.
type xhrConn struct {
	client     *http.Client
	sessionURL string

	body    io.ReadCloser
	scanner *bufio.Scanner
	cancel  context.CancelFunc
	queue   messageQueue
}

// dialXHRStreaming opens the receive stream and waits for the open frame.
// ctx bounds the handshake only; the stream lives until Close.
func dialXHRStreaming(ctx context.Context, sessionURL string, client *http.Client) (*xhrConn, error) {
	streamCtx, cancel := context.WithCancel(context.Background())

	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	req, err := http.NewRequestWithContext(streamCtx, http.MethodPost, sessionURL+"/xhr_streaming", nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("creating stream request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("opening stream: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()

		return nil, fmt.Errorf("stream returned status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameBytes)

	c := &xhrConn{
		client:     client,
		sessionURL: sessionURL,
		body:       resp.Body,
		scanner:    scanner,
		cancel:     cancel,
	}

	// The stream starts with a prelude of heartbeat bytes followed by the
	// open frame.
	for {
		f, err := c.next()
		if err != nil {
			c.Close()

			if ctx.Err() != nil {
				return nil, fmt.Errorf("reading open frame: %w", ctx.Err())
			}

			return nil, fmt.Errorf("reading open frame: %w", err)
		}

		switch f.kind {
		case kindHeartbeat:
			continue
		case kindOpen:
			return c, nil
		case kindClose:
			c.Close()
			return nil, f.closeErr
		default:
			c.Close()
			return nil, &ProtocolError{Message: fmt.Sprintf("expected open frame, got %q", f.kind)}
		}
	}
}

func (c *xhrConn) Transport() string { return TransportXHRStreaming }

func (c *xhrConn) next() (sockFrame, error) {
	for c.scanner.Scan() {
		line := c.scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		return parseSockFrame(line)
	}

	if err := c.scanner.Err(); err != nil {
		return sockFrame{}, fmt.Errorf("reading stream: %w", err)
	}

	return sockFrame{}, io.EOF
}

// Recv blocks until a message arrives. Cancelling ctx tears down the
// stream. Not safe for concurrent use.
func (c *xhrConn) Recv(ctx context.Context) (string, error) {
	stop := context.AfterFunc(ctx, c.cancel)
	defer stop()

	for {
		if msg, ok := c.queue.pop(); ok {
			return msg, nil
		}

		f, err := c.next()
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}

			if errors.Is(err, io.EOF) {
				return "", &CloseError{Code: StatusAbnormalClosure, Reason: "stream ended"}
			}

			return "", err
		}

		if err := c.queue.accept(f); err != nil {
			return "", err
		}
	}
}

func (c *xhrConn) Send(ctx context.Context, msg string) error {
	data, err := encodeOutbound(msg)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.sessionURL+"/xhr_send", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("creating send request: %w", err)
	}

	req.Header.Set("Content-Type", "text/plain;charset=UTF-8")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending message: %w", err)
	}
	defer resp.Body.Close()

	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxInfoBytes))

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("send returned status %d", resp.StatusCode)
	}

	return nil
}

func (c *xhrConn) Close() error {
	c.cancel()
	return c.body.Close()
}
