package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	apperrors "github.com/hellotoday/hellotoday-client/internal/errors"
)

// Transport names.
const (
	TransportAuto         = "auto"
	TransportWebSocket    = "websocket"
	TransportXHRStreaming = "xhr-streaming"
)

// Logical channels and destinations of the realtime endpoint.
const (
	TopicMessages = "/topic/messages"
	TopicReset    = "/topic/reset"
	DestPing      = "/app/ping"
)

// Defaults for Options.
const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultHeartbeat      = 10 * time.Second
)

// Options configures a Client.
type Options struct {
	// Endpoint is the http(s) URL of the realtime endpoint, e.g.
	// http://localhost:8080/ws.
	Endpoint string

	// Mode is TransportAuto, TransportWebSocket or TransportXHRStreaming.
	Mode string

	// HTTPClient is used for negotiation and both transports. Its Timeout
	// is ignored; contexts bound each request instead.
	HTTPClient *http.Client

	ConnectTimeout time.Duration
	Heartbeat      time.Duration

	// Channels to subscribe to after connecting. Defaults to TopicMessages
	// and TopicReset.
	Channels []string

	Logger *slog.Logger
}

// Client dials sessions against the realtime endpoint, preferring a
// WebSocket and falling back to HTTP streaming.
type Client struct {
	endpoint       string
	host           string
	mode           string
	httpClient     *http.Client
	connectTimeout time.Duration
	heartbeat      time.Duration
	channels       []string
	logger         *slog.Logger
}

// NewClient creates a Client. Zero-valued options take their defaults.
func NewClient(opts Options) *Client {
	c := &Client{
		endpoint:       opts.Endpoint,
		mode:           opts.Mode,
		connectTimeout: opts.ConnectTimeout,
		heartbeat:      opts.Heartbeat,
		channels:       opts.Channels,
		logger:         opts.Logger,
	}

	if c.mode == "" {
		c.mode = TransportAuto
	}

	// Streams are long-lived, so the client must not carry a timeout.
	if opts.HTTPClient != nil {
		hc := *opts.HTTPClient
		hc.Timeout = 0
		c.httpClient = &hc
	} else {
		c.httpClient = &http.Client{}
	}

	if c.connectTimeout == 0 {
		c.connectTimeout = DefaultConnectTimeout
	}

	if c.heartbeat == 0 {
		c.heartbeat = DefaultHeartbeat
	}

	if len(c.channels) == 0 {
		c.channels = []string{TopicMessages, TopicReset}
	}

	if c.logger == nil {
		c.logger = slog.Default()
	}

	if u, err := url.Parse(opts.Endpoint); err == nil {
		c.host = u.Hostname()
	}

	return c
}

// Endpoint returns the configured endpoint URL.
func (c *Client) Endpoint() string { return c.endpoint }

// Connect negotiates a transport, performs the STOMP handshake and
// subscribes to the configured channels.
func (c *Client) Connect(ctx context.Context) (*Session, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}

	return startSession(ctx, conn, sessionConfig{
		host:           c.host,
		connectTimeout: c.connectTimeout,
		heartbeat:      c.heartbeat,
		channels:       c.channels,
		logger:         c.logger.With(slog.String("transport", conn.Transport())),
	})
}

func (c *Client) dial(ctx context.Context) (Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()

	useWebSocket := c.mode != TransportXHRStreaming

	if c.mode == TransportAuto {
		info, err := fetchInfo(dialCtx, c.httpClient, c.endpoint)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", apperrors.ErrTransportUnavailable, err)
		}

		useWebSocket = info.WebSocket
	}

	if useWebSocket {
		conn, err := dialWebSocket(dialCtx, newSessionURL(c.endpoint), c.httpClient)
		if err == nil {
			return conn, nil
		}

		if c.mode == TransportWebSocket || ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", apperrors.ErrTransportUnavailable, err)
		}

		c.logger.Warn("websocket unavailable, falling back to streaming",
			slog.String("error", err.Error()),
		)
	}

	conn, err := dialXHRStreaming(dialCtx, newSessionURL(c.endpoint), c.httpClient)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrTransportUnavailable, err)
	}

	return conn, nil
}
