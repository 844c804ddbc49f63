package e2e_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"

	"github.com/hellotoday/hellotoday-client/internal/cli"
	"github.com/hellotoday/hellotoday-client/internal/models"
	"github.com/hellotoday/hellotoday-client/internal/transport"
	"github.com/hellotoday/hellotoday-client/internal/transport/transporttest"
)

const testToken = "e2e-test-token"

// backend is a fake HelloToday server: REST endpoints plus the realtime
// endpoint on one origin. Posting a message broadcasts it, as the real
// server does.
type backend struct {
	*transporttest.Server

	mu       sync.Mutex
	date     string
	messages []models.Message
	nextID   int
}

func newBackend(t *testing.T) *backend {
	t.Helper()

	b := &backend{
		Server:   transporttest.NewServer(t),
		date:     time.Now().Format(models.DateLayout),
		messages: []models.Message{{ID: "1", Content: "first"}},
		nextID:   2,
	}

	b.Handle("GET /api/messages/today", http.HandlerFunc(b.handleToday))
	b.Handle("GET /api/messages/dates", http.HandlerFunc(b.handleDates))
	b.Handle("POST /api/messages", http.HandlerFunc(b.handleSubmit))

	return b
}

func (b *backend) handleToday(w http.ResponseWriter, _ *http.Request) {
	b.mu.Lock()
	set := models.DailyMessageSet{Date: b.date, Messages: b.messages, TotalCount: len(b.messages)}
	data, _ := json.Marshal(map[string]any{"success": true, "data": set})
	b.mu.Unlock()

	_, _ = w.Write(data)
}

func (b *backend) handleDates(w http.ResponseWriter, _ *http.Request) {
	b.mu.Lock()
	data, _ := json.Marshal(map[string]any{"success": true, "data": []string{b.date}})
	b.mu.Unlock()

	_, _ = w.Write(data)
}

func (b *backend) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req models.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Content == "" {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"success":false,"message":"validation failed"}`))

		return
	}

	b.mu.Lock()
	msg := models.Message{
		ID:        models.MessageID(strconv.Itoa(b.nextID)),
		Content:   req.Content,
		CreatedAt: models.Timestamp{Time: time.Now().UTC().Truncate(time.Second)},
	}
	b.nextID++
	b.messages = append(b.messages, msg)
	b.mu.Unlock()

	body, _ := json.Marshal(msg)
	b.Broadcast(transport.TopicMessages, body)

	data, _ := json.Marshal(map[string]any{"success": true, "data": msg})
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(data)
}

// daemon is a running `hellotoday watch` against a backend.
type daemon struct {
	addr      string
	outboxDir string
	statePath string
}

func freeAddr(t *testing.T) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	return addr
}

// startDaemon runs the watch command until the test ends and waits for
// the realtime session to come up.
func startDaemon(t *testing.T, b *backend) *daemon {
	t.Helper()

	d := &daemon{
		addr:      freeAddr(t),
		outboxDir: filepath.Join(t.TempDir(), "outbox"),
		statePath: filepath.Join(t.TempDir(), "state.db"),
	}

	t.Setenv("HELLOTODAY_API_URL", b.URL)
	t.Setenv("STATE_PATH", d.statePath)
	t.Setenv("DIAGNOSTICS_ADDR", d.addr)
	t.Setenv("DIAGNOSTICS_TOKEN", testToken)
	t.Setenv("OUTBOX_DIR", d.outboxDir)
	t.Setenv("SUBMIT_RATE", "0")
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("LOG_LEVEL", "error")

	cmd := cli.NewRootCommand("e2e")
	cmd.SetArgs([]string{"watch"})
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)

	go func() {
		errCh <- cmd.ExecuteContext(ctx)
	}()

	t.Cleanup(func() {
		cancel()

		select {
		case err := <-errCh:
			if err != nil && !errors.Is(err, context.Canceled) {
				t.Errorf("watch: %v", err)
			}
		case <-time.After(10 * time.Second):
			t.Error("watch did not stop")
		}
	})

	d.waitHealthy(t)

	return d
}

func (d *daemon) url(path string) string { return "http://" + d.addr + path }

func (d *daemon) healthCode() int {
	resp, err := http.Get(d.url("/healthz"))
	if err != nil {
		return 0
	}
	defer resp.Body.Close()

	return resp.StatusCode
}

func (d *daemon) waitHealthy(t *testing.T) {
	t.Helper()

	require.Eventually(t, func() bool {
		return d.healthCode() == http.StatusOK
	}, 10*time.Second, 20*time.Millisecond, "daemon never connected")
}

func (d *daemon) metrics(t *testing.T) string {
	t.Helper()

	resp, err := http.Get(d.url("/metrics"))
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return string(body)
}

// mcpSession connects an MCP client to the daemon's /mcp endpoint.
func (d *daemon) mcpSession(t *testing.T) *mcp.ClientSession {
	t.Helper()

	client := mcp.NewClient(
		&mcp.Implementation{Name: "e2e-client", Version: "test"},
		nil,
	)

	session, err := client.Connect(t.Context(), &mcp.StreamableClientTransport{
		Endpoint: d.url("/mcp"),
		HTTPClient: &http.Client{
			Transport: &bearerTransport{token: testToken, base: http.DefaultTransport},
		},
		DisableStandaloneSSE: true,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { session.Close() })

	return session
}

// bearerTransport adds an Authorization header to every request.
type bearerTransport struct {
	token string
	base  http.RoundTripper
}

func (bt *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+bt.token)

	return bt.base.RoundTrip(req)
}

type dayOutput struct {
	Date       string `json:"date"`
	TotalCount int    `json:"total_count"`
	Messages   []struct {
		ID      string `json:"id"`
		Content string `json:"content"`
	} `json:"messages"`
}

func todayViaMCP(t *testing.T, session *mcp.ClientSession) dayOutput {
	t.Helper()

	result, err := session.CallTool(t.Context(), &mcp.CallToolParams{Name: "today_messages"})
	require.NoError(t, err)
	require.False(t, result.IsError)

	tc, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok)

	var out dayOutput
	require.NoError(t, json.Unmarshal([]byte(tc.Text), &out))

	return out
}

func contents(out dayOutput) []string {
	var c []string
	for _, m := range out.Messages {
		c = append(c, m.Content)
	}

	return c
}

func containsLine(text, line string) bool {
	for _, l := range strings.Split(text, "\n") {
		if l == line {
			return true
		}
	}

	return false
}
