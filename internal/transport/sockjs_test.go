package transport

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSockFrame(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		kind     byte
		messages []string
		close    *CloseError
		wantErr  bool
	}{
		{name: "open", in: "o", kind: kindOpen},
		{name: "heartbeat", in: "h", kind: kindHeartbeat},
		{name: "array", in: `a["one","two"]`, kind: kindArray, messages: []string{"one", "two"}},
		{name: "single", in: `m"solo"`, kind: kindMessage, messages: []string{"solo"}},
		{name: "close", in: `c[3000,"Go away!"]`, kind: kindClose, close: &CloseError{Code: 3000, Reason: "Go away!"}},
		{name: "close without reason", in: `c[1000]`, kind: kindClose, close: &CloseError{Code: 1000}},
		{name: "empty", in: "", wantErr: true},
		{name: "bad array", in: `a[1,`, wantErr: true},
		{name: "bad close", in: `c{}`, wantErr: true},
		{name: "unknown", in: "x", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := parseSockFrame([]byte(tt.in))
			if tt.wantErr {
				var pe *ProtocolError
				require.ErrorAs(t, err, &pe)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.kind, f.kind)
			assert.Equal(t, tt.messages, f.messages)
			assert.Equal(t, tt.close, f.closeErr)
		})
	}
}

func TestNewSessionURL(t *testing.T) {
	u := newSessionURL("http://localhost:8080/ws")
	assert.Regexp(t, regexp.MustCompile(`^http://localhost:8080/ws/\d{3}/[0-9a-f]{32}$`), u)
	assert.NotEqual(t, u, newSessionURL("http://localhost:8080/ws"))
}

func TestMessageQueue(t *testing.T) {
	var q messageQueue

	_, ok := q.pop()
	assert.False(t, ok)

	require.NoError(t, q.accept(sockFrame{kind: kindArray, messages: []string{"a", "b"}}))
	require.NoError(t, q.accept(sockFrame{kind: kindHeartbeat}))

	msg, ok := q.pop()
	require.True(t, ok)
	assert.Equal(t, "a", msg)

	msg, ok = q.pop()
	require.True(t, ok)
	assert.Equal(t, "b", msg)

	err := q.accept(sockFrame{kind: kindClose, closeErr: &CloseError{Code: 3000}})
	assert.True(t, IsNormalClosure(&CloseError{Code: 1000}))
	assert.False(t, IsNormalClosure(err))
}

func TestEncodeOutbound(t *testing.T) {
	data, err := encodeOutbound("CONNECT\n\n\x00")
	require.NoError(t, err)
	assert.Equal(t, `["CONNECT\n\n\u0000"]`, string(data))
}
