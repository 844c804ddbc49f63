package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/hellotoday/hellotoday-client/internal/errors"
)

// Frame is an inbound payload delivered on a subscribed channel. Body is
// not interpreted here.
type Frame struct {
	Channel string
	Body    []byte
}

// inboundChanSize is the buffer between the reader goroutine and the
// consumer of Frames.
const inboundChanSize = 64

// staleFactor is how many negotiated server heart-beat intervals may pass
// without inbound traffic before the connection is considered dead.
const staleFactor = 2

// Session is an established STOMP session over a negotiated Conn. Frames
// are delivered in arrival order on a single channel that is closed when
// the session ends; Err then reports why.
type Session struct {
	conn   Conn
	logger *slog.Logger

	frames chan Frame
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	sendMu sync.Mutex

	// lastRecv is the UnixNano time of the last inbound message.
	lastRecv atomic.Int64

	errMu sync.Mutex
	err   error

	closeOnce sync.Once
}

type sessionConfig struct {
	host           string
	connectTimeout time.Duration
	heartbeat      time.Duration
	channels       []string
	logger         *slog.Logger
}

// startSession runs the STOMP handshake over conn, subscribes to every
// channel in cfg and starts the reader. conn is closed on failure.
func startSession(ctx context.Context, conn Conn, cfg sessionConfig) (*Session, error) {
	sessCtx, cancel := context.WithCancel(context.Background())

	s := &Session{
		conn:   conn,
		logger: cfg.logger,
		frames: make(chan Frame, inboundChanSize),
		ctx:    sessCtx,
		cancel: cancel,
	}

	beats, err := s.handshake(ctx, cfg)
	if err != nil {
		cancel()
		_ = conn.Close()

		return nil, err
	}

	for i, channel := range cfg.channels {
		msg, err := encodeFrame(cmdSubscribe, nil,
			hdrID, fmt.Sprintf("sub-%d", i),
			hdrDestination, channel,
			hdrAck, "auto",
		)
		if err == nil {
			err = s.send(ctx, msg)
		}

		if err != nil {
			cancel()
			_ = conn.Close()

			return nil, fmt.Errorf("subscribing to %s: %w", channel, err)
		}
	}

	s.touch()
	s.wg.Add(1)

	go s.readLoop()

	if beats.outgoing > 0 {
		s.wg.Add(1)

		go s.heartbeatLoop(beats.outgoing)
	}

	if beats.incoming > 0 {
		s.wg.Add(1)

		go s.watchInbound(beats.incoming)
	}

	s.logger.Debug("stomp session established",
		slog.String("transport", conn.Transport()),
		slog.Duration("heartbeat", beats.outgoing),
		slog.Duration("server_heartbeat", beats.incoming),
	)

	return s, nil
}

// heartbeats are the negotiated heart-beat intervals. Zero disables a
// direction.
type heartbeats struct {
	outgoing time.Duration
	incoming time.Duration
}

// handshake sends CONNECT and waits for CONNECTED within the connect
// timeout. It returns the negotiated heart-beat intervals.
func (s *Session) handshake(ctx context.Context, cfg sessionConfig) (heartbeats, error) {
	if cfg.connectTimeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, cfg.connectTimeout)
		defer cancel()
	}

	headers := []string{hdrAcceptVersion, acceptVersions}
	if cfg.heartbeat > 0 {
		headers = append(headers, hdrHeartBeat, heartbeatHeader(cfg.heartbeat))
	} else {
		headers = append(headers, hdrHeartBeat, "0,0")
	}

	if cfg.host != "" {
		headers = append(headers, hdrHost, cfg.host)
	}

	msg, err := encodeFrame(cmdConnect, nil, headers...)
	if err != nil {
		return heartbeats{}, err
	}

	if err := s.send(ctx, msg); err != nil {
		return heartbeats{}, fmt.Errorf("sending CONNECT: %w", err)
	}

	for {
		reply, err := s.conn.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return heartbeats{}, fmt.Errorf("waiting for CONNECTED: %w", ctx.Err())
			}

			return heartbeats{}, fmt.Errorf("waiting for CONNECTED: %w", err)
		}

		f, err := decodeFrame(reply)
		if err != nil {
			return heartbeats{}, &ProtocolError{Message: err.Error()}
		}

		if f == nil {
			continue
		}

		switch f.Command {
		case cmdConnected:
			hb := f.Header.Get(hdrHeartBeat)

			return heartbeats{
				outgoing: negotiateHeartbeat(cfg.heartbeat, hb),
				incoming: negotiateIncoming(cfg.heartbeat, hb),
			}, nil
		case cmdError:
			return heartbeats{}, &ProtocolError{Message: f.Header.Get(hdrMessage)}
		default:
			return heartbeats{}, &ProtocolError{Message: "unexpected " + f.Command + " before CONNECTED"}
		}
	}
}

func (s *Session) readLoop() {
	defer s.wg.Done()
	defer close(s.frames)

	for {
		msg, err := s.conn.Recv(s.ctx)
		if err != nil {
			s.fail(err)
			return
		}

		s.touch()

		f, err := decodeFrame(msg)
		if err != nil {
			s.logger.Warn("dropping malformed stomp frame", slog.String("error", err.Error()))
			continue
		}

		if f == nil {
			continue
		}

		switch f.Command {
		case cmdMessage:
			select {
			case s.frames <- Frame{Channel: f.Header.Get(hdrDestination), Body: f.Body}:
			case <-s.ctx.Done():
				return
			}

		case cmdError:
			s.fail(&ProtocolError{Message: f.Header.Get(hdrMessage)})
			_ = s.conn.Close()

			return

		case cmdReceipt:

		default:
			s.logger.Debug("ignoring stomp frame", slog.String("command", f.Command))
		}
	}
}

func (s *Session) heartbeatLoop(interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.send(s.ctx, "\n"); err != nil {
				s.logger.Debug("heart-beat failed", slog.String("error", err.Error()))
				return
			}
		}
	}
}

// watchInbound ends the session when the server has been silent for
// staleFactor heart-beat intervals. A half-open connection never errors
// on its own.
func (s *Session) watchInbound(interval time.Duration) {
	defer s.wg.Done()

	limit := staleFactor * interval

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			silent := time.Since(time.Unix(0, s.lastRecv.Load()))
			if silent <= limit {
				continue
			}

			s.logger.Warn("no heart-beat from server, closing connection",
				slog.Duration("silent", silent),
			)
			s.fail(&CloseError{Code: StatusAbnormalClosure, Reason: "server heart-beat timeout"})
			_ = s.conn.Close()
			s.cancel()

			return
		}
	}
}

func (s *Session) touch() {
	s.lastRecv.Store(time.Now().UnixNano())
}

func (s *Session) send(ctx context.Context, msg string) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	return s.conn.Send(ctx, msg)
}

// fail records the first terminal error.
func (s *Session) fail(err error) {
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()
}

// Frames returns the inbound channel. It is closed when the session ends.
func (s *Session) Frames() <-chan Frame { return s.frames }

// Err reports why the session ended. It is nil while the session is live.
func (s *Session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()

	return s.err
}

// Transport names the negotiated transport.
func (s *Session) Transport() string { return s.conn.Transport() }

// Publish sends body to destination. It fails with
// apperrors.ErrNotConnected once the session has ended.
func (s *Session) Publish(ctx context.Context, destination string, body []byte) error {
	if s.ctx.Err() != nil || s.Err() != nil {
		return apperrors.ErrNotConnected
	}

	msg, err := encodeFrame(cmdSend, body,
		hdrDestination, destination,
		hdrContentType, "application/json",
	)
	if err != nil {
		return err
	}

	if err := s.send(ctx, msg); err != nil {
		return fmt.Errorf("publishing to %s: %w", destination, err)
	}

	return nil
}

// Close sends DISCONNECT, closes the connection with a normal closure and
// waits for the session goroutines to exit. Safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.fail(&CloseError{Code: StatusNormalClosure, Reason: "client disconnect"})

		if msg, err := encodeFrame(cmdDisconnect, nil); err == nil {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			_ = s.send(ctx, msg)
			cancel()
		}

		if err := s.conn.Close(); err != nil {
			s.logger.Debug("closing connection", slog.String("error", err.Error()))
		}

		s.cancel()
		s.wg.Wait()
	})

	return nil
}
