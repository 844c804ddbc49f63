// Package transporttest provides an in-process realtime endpoint for tests.
// It speaks the same session framing and STOMP dialect as the production
// server closely enough to drive the client end to end.
package transporttest

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/go-stomp/stomp/v3/frame"
	"github.com/stretchr/testify/require"
)

// Published is a SEND frame received from a client.
type Published struct {
	Destination string
	Body        []byte
}

// Server is a fake realtime endpoint mounted at /ws.
type Server struct {
	*httptest.Server
	mux *http.ServeMux

	mu            sync.Mutex
	sessions      map[string]*session
	published     []Published
	connects      int
	heartbeats    int
	webSocket     bool
	rejectConnect string
	heartBeat     string
	snapshot      []byte
	nextMessageID int
}

// NewServer starts a Server and registers its shutdown with t.
func NewServer(t testing.TB) *Server {
	t.Helper()

	s := &Server{
		sessions:  make(map[string]*session),
		webSocket: true,
		heartBeat: "0,0",
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/info", s.handleInfo)
	mux.HandleFunc("GET /ws/{server}/{session}/websocket", s.handleWebSocket)
	mux.HandleFunc("POST /ws/{server}/{session}/xhr_streaming", s.handleStream)
	mux.HandleFunc("POST /ws/{server}/{session}/xhr_send", s.handleSend)

	s.mux = mux
	s.Server = httptest.NewServer(mux)
	t.Cleanup(func() {
		s.DropAll(1001, "server shutdown")
		s.Server.Close()
	})

	return s
}

// Handle mounts an extra route on the same origin, typically a fake REST
// endpoint.
func (s *Server) Handle(pattern string, h http.Handler) { s.mux.Handle(pattern, h) }

// Endpoint is the realtime endpoint URL.
func (s *Server) Endpoint() string { return s.URL + "/ws" }

// DisableWebSocket advertises and serves the streaming transport only.
func (s *Server) DisableWebSocket() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.webSocket = false
}

// RejectConnect answers subsequent CONNECT frames with an ERROR frame
// carrying message. An empty message restores normal behavior.
func (s *Server) RejectConnect(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rejectConnect = message
}

// SetHeartBeat sets the heart-beat header returned in CONNECTED.
func (s *Server) SetHeartBeat(header string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.heartBeat = header
}

// SetSnapshot sets a body delivered on /topic/messages to each session
// right after it subscribes there.
func (s *Server) SetSnapshot(body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshot = body
}

// Broadcast delivers body to every session subscribed to channel and
// returns how many received it.
func (s *Server) Broadcast(channel string, body []byte) int {
	n := 0

	for _, sess := range s.liveSessions() {
		if sess.subscribed(channel) && s.deliver(sess, channel, body) == nil {
			n++
		}
	}

	return n
}

// SendError sends an ERROR frame to every session.
func (s *Server) SendError(message string) {
	msg := encode(frame.New("ERROR", "message", message))
	for _, sess := range s.liveSessions() {
		_ = sess.out.send(msg)
	}
}

// DropAll closes every session with code. Code 1006 drops the underlying
// connection without a close handshake.
func (s *Server) DropAll(code int, reason string) {
	for _, sess := range s.liveSessions() {
		sess.out.close(code, reason)
		s.remove(sess.id)
	}
}

// Published returns every SEND frame received so far.
func (s *Server) Published() []Published {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]Published(nil), s.published...)
}

// Connects counts CONNECT frames received.
func (s *Server) Connects() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.connects
}

// Heartbeats counts heart-beat frames received.
func (s *Server) Heartbeats() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.heartbeats
}

// Sessions counts sessions subscribed to at least one channel.
func (s *Server) Sessions() int {
	n := 0

	for _, sess := range s.liveSessions() {
		if sess.subscriptionCount() > 0 {
			n++
		}
	}

	return n
}

// WaitSessions blocks until Sessions reports n.
func (s *Server) WaitSessions(t testing.TB, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return s.Sessions() == n }, 5*time.Second, 10*time.Millisecond,
		"waiting for %d subscribed sessions", n)
}

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	ws := s.webSocket
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"websocket":     ws,
		"origins":       []string{"*:*"},
		"cookie_needed": false,
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	enabled := s.webSocket
	s.mu.Unlock()

	if !enabled {
		http.NotFound(w, r)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}

	ctx := r.Context()
	out := &wsSender{conn: conn}
	sess := s.add(r.PathValue("session"), out)
	defer s.remove(sess.id)

	if err := conn.Write(ctx, websocket.MessageText, []byte("o")); err != nil {
		return
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var msgs []string
		if err := json.Unmarshal(data, &msgs); err != nil {
			_ = conn.Close(websocket.StatusProtocolError, "bad frame")
			return
		}

		for _, msg := range msgs {
			s.handle(sess, msg)
		}
	}
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	out := &streamSender{frames: make(chan string, 64), done: make(chan struct{})}
	sess := s.add(r.PathValue("session"), out)
	defer s.remove(sess.id)

	w.Header().Set("Content-Type", "application/javascript;charset=UTF-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, strings.Repeat("h", 2048)+"\n")
	_, _ = io.WriteString(w, "o\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case f := <-out.frames:
			_, _ = io.WriteString(w, f+"\n")
			flusher.Flush()
		case <-out.done:
			if out.code != 1006 {
				reason, _ := json.Marshal(out.reason)
				_, _ = io.WriteString(w, "c["+strconv.Itoa(out.code)+","+string(reason)+"]\n")
				flusher.Flush()
			}

			return
		}
	}
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	sess, ok := s.sessions[r.PathValue("session")]
	s.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}

	var msgs []string
	if err := json.NewDecoder(r.Body).Decode(&msgs); err != nil {
		http.Error(w, "bad payload", http.StatusInternalServerError)
		return
	}

	for _, msg := range msgs {
		s.handle(sess, msg)
	}

	w.WriteHeader(http.StatusNoContent)
}

// handle processes one STOMP frame from a client.
func (s *Server) handle(sess *session, msg string) {
	if strings.Trim(msg, "\r\n") == "" {
		s.mu.Lock()
		s.heartbeats++
		s.mu.Unlock()

		return
	}

	f, err := frame.NewReader(strings.NewReader(msg)).Read()
	if err != nil || f == nil {
		return
	}

	switch f.Command {
	case "CONNECT", "STOMP":
		s.mu.Lock()
		s.connects++
		reject := s.rejectConnect
		hb := s.heartBeat
		s.mu.Unlock()

		if reject != "" {
			_ = sess.out.send(encode(frame.New("ERROR", "message", reject)))
			return
		}

		_ = sess.out.send(encode(frame.New("CONNECTED", "version", "1.2", "heart-beat", hb)))

	case "SUBSCRIBE":
		channel := f.Header.Get("destination")
		sess.subscribe(channel, f.Header.Get("id"))

		s.mu.Lock()
		snapshot := s.snapshot
		s.mu.Unlock()

		if channel == "/topic/messages" && snapshot != nil {
			_ = s.deliver(sess, channel, snapshot)
		}

	case "SEND":
		s.mu.Lock()
		s.published = append(s.published, Published{
			Destination: f.Header.Get("destination"),
			Body:        append([]byte(nil), f.Body...),
		})
		s.mu.Unlock()
	}
}

func (s *Server) deliver(sess *session, channel string, body []byte) error {
	s.mu.Lock()
	s.nextMessageID++
	id := strconv.Itoa(s.nextMessageID)
	s.mu.Unlock()

	f := frame.New("MESSAGE",
		"destination", channel,
		"subscription", sess.subscriptionID(channel),
		"message-id", id,
		"content-type", "application/json",
	)
	f.Body = body

	return sess.out.send(encode(f))
}

func (s *Server) add(id string, out sender) *session {
	sess := &session{id: id, out: out, subs: make(map[string]string)}

	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()

	return sess
}

func (s *Server) remove(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

func (s *Server) liveSessions() []*session {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}

	return out
}

func encode(f *frame.Frame) string {
	var sb strings.Builder
	_ = frame.NewWriter(&sb).Write(f)

	return sb.String()
}

type session struct {
	id  string
	out sender

	mu   sync.Mutex
	subs map[string]string
}

func (s *session) subscribe(channel, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subs[channel] = id
}

func (s *session) subscribed(channel string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.subs[channel]

	return ok
}

func (s *session) subscriptionID(channel string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.subs[channel]
}

func (s *session) subscriptionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.subs)
}

// sender writes STOMP frames to one client over its transport.
type sender interface {
	send(msg string) error
	close(code int, reason string)
}

type wsSender struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsSender) send(msg string) error {
	data, err := json.Marshal([]string{msg})
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return w.conn.Write(ctx, websocket.MessageText, append([]byte("a"), data...))
}

func (w *wsSender) close(code int, reason string) {
	if code == 1006 {
		_ = w.conn.CloseNow()
		return
	}

	_ = w.conn.Close(websocket.StatusCode(code), reason)
}

type streamSender struct {
	frames chan string
	done   chan struct{}
	once   sync.Once
	code   int
	reason string
}

func (x *streamSender) send(msg string) error {
	data, err := json.Marshal([]string{msg})
	if err != nil {
		return err
	}

	select {
	case x.frames <- "a" + string(data):
		return nil
	case <-x.done:
		return io.ErrClosedPipe
	}
}

func (x *streamSender) close(code int, reason string) {
	x.once.Do(func() {
		x.code = code
		x.reason = reason
		close(x.done)
	})
}
