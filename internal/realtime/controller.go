package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	apperrors "github.com/hellotoday/hellotoday-client/internal/errors"
	"github.com/hellotoday/hellotoday-client/internal/models"
	"github.com/hellotoday/hellotoday-client/internal/transport"
)

//go:generate mockgen -destination=mock_session_test.go -package=realtime -mock_names=Session=MockSession,Dialer=MockDialer . Session,Dialer

// Session is an established realtime session. *transport.Session
// satisfies it.
type Session interface {
	Frames() <-chan transport.Frame
	Err() error
	Publish(ctx context.Context, destination string, body []byte) error
	Transport() string
	Close() error
}

// Dialer opens sessions.
type Dialer interface {
	Dial(ctx context.Context) (Session, error)
}

// TransportDialer adapts a transport.Client to Dialer.
func TransportDialer(c *transport.Client) Dialer {
	return transportDialer{c}
}

type transportDialer struct{ c *transport.Client }

func (d transportDialer) Dial(ctx context.Context) (Session, error) {
	sess, err := d.c.Connect(ctx)
	if err != nil {
		return nil, err
	}

	return sess, nil
}

// Observer receives controller events. Implementations must not call back
// into the controller.
type Observer interface {
	ObserveConnectionState(state string)
	ObserveReconnectScheduled(attempt int, delay time.Duration)
	ObserveMaxAttempts()
}

// Defaults for Options.
const (
	DefaultHealthInterval      = 30 * time.Second
	DefaultForceReconnectDelay = time.Second
)

// frameChanSize buffers frames between session forwarders and the
// consumer of Frames.
const frameChanSize = 64

// Options configures a Controller.
type Options struct {
	Dialer              Dialer
	Policy              Policy
	HealthInterval      time.Duration
	ForceReconnectDelay time.Duration
	Logger              *slog.Logger
	Observer            Observer
}

// Controller owns the connection state machine. Every inbound frame from
// every session it establishes is delivered, in arrival order, on a single
// channel returned by Frames.
//
// Transitions:
//
//	Disconnected -> Connecting       Connect (no-op unless Disconnected)
//	Connecting   -> Connected        handshake succeeded; attempts reset
//	Connecting   -> Disconnected     dial failed; retry scheduled
//	Connected    -> Disconnected     abnormal close or error; retry scheduled
//	Connected    -> Disconnected     normal closure; no retry
//	*            -> Disconnected     Disconnect; no retry, attempts reset
type Controller struct {
	dialer         Dialer
	policy         Policy
	healthInterval time.Duration
	forceDelay     time.Duration
	logger         *slog.Logger
	observer       Observer

	frames chan transport.Frame
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	state      ConnectionState
	attempts   int
	lastErr    error
	session    Session
	gen        uint64
	retryTimer *time.Timer
	dialCancel context.CancelFunc
	closed     bool
}

// NewController creates a Controller in the Disconnected state.
func NewController(opts Options) *Controller {
	ctx, cancel := context.WithCancel(context.Background())

	c := &Controller{
		dialer:         opts.Dialer,
		policy:         opts.Policy,
		healthInterval: opts.HealthInterval,
		forceDelay:     opts.ForceReconnectDelay,
		logger:         opts.Logger,
		observer:       opts.Observer,
		frames:         make(chan transport.Frame, frameChanSize),
		ctx:            ctx,
		cancel:         cancel,
	}

	if c.policy == (Policy{}) {
		c.policy = DefaultPolicy()
	}

	if c.healthInterval == 0 {
		c.healthInterval = DefaultHealthInterval
	}

	if c.forceDelay == 0 {
		c.forceDelay = DefaultForceReconnectDelay
	}

	if c.logger == nil {
		c.logger = slog.Default()
	}

	return c
}

// Frames returns the inbound frame channel. It is closed by Close.
func (c *Controller) Frames() <-chan transport.Frame { return c.frames }

// State returns the current connection state.
func (c *Controller) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// Connected reports whether a session is established.
func (c *Controller) Connected() bool { return c.State() == Connected }

// Status returns a snapshot of state, attempts and the last error.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{State: c.state, Attempts: c.attempts}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}

	if c.session != nil {
		st.Transport = c.session.Transport()
	}

	return st
}

// LastError returns the most recent connection error, or nil.
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.lastErr
}

// Connect starts a connection attempt in the background. It is a no-op
// unless the controller is Disconnected.
func (c *Controller) Connect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.state != Disconnected {
		return
	}

	c.startDialLocked()
}

// Disconnect tears down any session or pending attempt, resets the retry
// counter and clears the last error. It never schedules a reconnect.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	sess := c.resetLocked()
	c.mu.Unlock()

	if sess != nil {
		if err := sess.Close(); err != nil {
			c.logger.Debug("closing session", slog.String("error", err.Error()))
		}
	}
}

// ForceReconnect disconnects and schedules a fresh Connect after a short
// fixed delay.
func (c *Controller) ForceReconnect() {
	c.Disconnect()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	gen := c.gen
	c.retryTimer = time.AfterFunc(c.forceDelay, func() { c.retry(gen) })

	c.logger.Info("forced reconnect scheduled", slog.Duration("delay", c.forceDelay))
}

// Publish sends body to destination on the live session. It fails with
// apperrors.ErrNotConnected unless Connected.
func (c *Controller) Publish(ctx context.Context, destination string, body []byte) error {
	c.mu.Lock()
	sess := c.session
	connected := c.state == Connected
	c.mu.Unlock()

	if !connected || sess == nil {
		return apperrors.ErrNotConnected
	}

	return sess.Publish(ctx, destination, body)
}

// Ping publishes a keepalive carrying the current time in milliseconds.
func (c *Controller) Ping(ctx context.Context) error {
	body, err := json.Marshal(models.Ping{Timestamp: time.Now().UnixMilli()})
	if err != nil {
		return err
	}

	return c.Publish(ctx, transport.DestPing, body)
}

// Run connects and drives the health check until ctx is cancelled, then
// closes the controller.
func (c *Controller) Run(ctx context.Context) error {
	c.Connect()
	c.HealthCheck(ctx)
	c.Close()

	return nil
}

// HealthCheck ticks every health interval until ctx is done. While
// connected it sends a keepalive; while disconnected and under the retry
// bound it calls Connect, independently of any pending backoff.
func (c *Controller) HealthCheck(ctx context.Context) {
	ticker := time.NewTicker(c.healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.checkHealth(ctx)
		}
	}
}

func (c *Controller) checkHealth(ctx context.Context) {
	c.mu.Lock()
	state, attempts := c.state, c.attempts
	c.mu.Unlock()

	switch {
	case state == Connected:
		if err := c.Ping(ctx); err != nil {
			c.logger.Warn("keepalive failed", slog.String("error", err.Error()))
			return
		}

		c.logger.Debug("keepalive sent")

	case state == Disconnected && attempts < c.policy.MaxAttempts:
		c.logger.Info("health check reconnecting", slog.Int("attempts", attempts))
		c.Connect()
	}
}

// Close disconnects, stops all timers and closes the Frames channel.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}

	c.closed = true
	sess := c.resetLocked()
	c.mu.Unlock()

	if sess != nil {
		_ = sess.Close()
	}

	c.cancel()
	c.wg.Wait()
	close(c.frames)
}

// resetLocked moves to Disconnected without scheduling a retry and returns
// the session the caller must close.
func (c *Controller) resetLocked() Session {
	c.gen++
	c.stopRetryLocked()

	if c.dialCancel != nil {
		c.dialCancel()
		c.dialCancel = nil
	}

	sess := c.session
	c.session = nil
	c.attempts = 0
	c.lastErr = nil
	c.setStateLocked(Disconnected)

	return sess
}

func (c *Controller) startDialLocked() {
	c.stopRetryLocked()
	c.gen++
	gen := c.gen

	ctx, cancel := context.WithCancel(c.ctx)
	c.dialCancel = cancel
	c.setStateLocked(Connecting)

	c.wg.Add(1)

	go c.dial(ctx, cancel, gen)
}

func (c *Controller) dial(ctx context.Context, cancel context.CancelFunc, gen uint64) {
	defer c.wg.Done()
	defer cancel()

	sess, err := c.dialer.Dial(ctx)

	if !c.established(sess, err, gen) && sess != nil {
		_ = sess.Close()
	}
}

// established applies the outcome of a dial. It reports false when the
// attempt was superseded and sess must be discarded.
func (c *Controller) established(sess Session, err error, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen || c.closed {
		return false
	}

	c.dialCancel = nil

	if err != nil {
		c.logger.Warn("connect failed", slog.String("error", err.Error()))
		c.failLocked(err)

		return true
	}

	c.session = sess
	c.attempts = 0
	c.lastErr = nil
	c.setStateLocked(Connected)
	c.logger.Info("realtime connected", slog.String("transport", sess.Transport()))

	c.wg.Add(1)

	go c.forward(sess, gen)

	return true
}

// forward copies frames from one session onto the shared channel and
// reports the session's end.
func (c *Controller) forward(sess Session, gen uint64) {
	defer c.wg.Done()

	for f := range sess.Frames() {
		select {
		case c.frames <- f:
		case <-c.ctx.Done():
			return
		}
	}

	c.sessionEnded(sess, gen)
}

func (c *Controller) sessionEnded(sess Session, gen uint64) {
	err := sess.Err()
	_ = sess.Close()

	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen || c.state != Connected {
		return
	}

	c.session = nil

	if transport.IsNormalClosure(err) {
		c.logger.Info("realtime session closed normally")
		c.setStateLocked(Disconnected)

		return
	}

	if err == nil {
		err = apperrors.ErrConnectionClosed
	}

	c.logger.Warn("realtime session lost", slog.String("error", err.Error()))
	c.failLocked(err)
}

// failLocked records err, moves to Disconnected and schedules a retry
// unless the retry budget is spent.
func (c *Controller) failLocked(err error) {
	c.lastErr = err
	c.setStateLocked(Disconnected)

	if c.attempts >= c.policy.MaxAttempts {
		c.lastErr = apperrors.ErrMaxReconnectAttempts
		c.logger.Error("giving up on automatic reconnect",
			slog.Int("attempts", c.attempts),
			slog.String("cause", err.Error()),
		)

		if c.observer != nil {
			c.observer.ObserveMaxAttempts()
		}

		return
	}

	c.attempts++
	delay := c.policy.Delay(c.attempts)
	gen := c.gen

	c.stopRetryLocked()
	c.retryTimer = time.AfterFunc(delay, func() { c.retry(gen) })

	c.logger.Info("reconnect scheduled",
		slog.Int("attempt", c.attempts),
		slog.Duration("delay", delay),
	)

	if c.observer != nil {
		c.observer.ObserveReconnectScheduled(c.attempts, delay)
	}
}

// retry runs when a scheduled timer fires. Timers scheduled before the
// last Disconnect or dial are stale and do nothing.
func (c *Controller) retry(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen || c.closed {
		return
	}

	c.retryTimer = nil

	if c.state == Disconnected {
		c.startDialLocked()
	}
}

func (c *Controller) stopRetryLocked() {
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
}

func (c *Controller) setStateLocked(s ConnectionState) {
	if c.state == s {
		return
	}

	c.state = s

	if c.observer != nil {
		c.observer.ObserveConnectionState(s.String())
	}
}

// IsMaxAttempts reports whether err is the terminal retry error.
func IsMaxAttempts(err error) bool {
	return errors.Is(err, apperrors.ErrMaxReconnectAttempts)
}
