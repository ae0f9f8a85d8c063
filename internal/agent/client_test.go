// ABOUTME: Tests for the agent HTTP client and session id generation
// ABOUTME: Uses httptest servers to cover success, status, empty body and malformed JSON paths

package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(url string) *Client {
	return NewClient(ClientConfig{
		Endpoint: url,
		APIKey:   "test-key",
		UserID:   "operator@example.com",
		Timeout:  2 * time.Second,
	}, nil)
}

func TestClientInvoke_Success(t *testing.T) {
	var gotReq invokeRequest
	var gotKey, gotContentType string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-api-key")
		gotContentType = r.Header.Get("Content-Type")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"success","result":{"data":{"customer_response":"Hello"}}}`))
	}))
	defer srv.Close()

	res := newTestClient(srv.URL).Invoke(context.Background(), "Where is my order?", "coord-1", SessionContext{SessionID: "session_coord-1_1_2"})

	require.True(t, res.Success, res.Error)
	assert.Empty(t, res.Error)
	assert.JSONEq(t, `{"status":"success","result":{"data":{"customer_response":"Hello"}}}`, string(res.Response))

	assert.Equal(t, "test-key", gotKey)
	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, "Where is my order?", gotReq.Text)
	assert.Equal(t, "coord-1", gotReq.AgentID)
	assert.Equal(t, "session_coord-1_1_2", gotReq.SessionID)
	assert.Equal(t, "operator@example.com", gotReq.UserID)
}

func TestClientInvoke_Failures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{name: "server error", status: http.StatusBadGateway, body: "upstream down", wantErr: "status 502"},
		{name: "unauthorized", status: http.StatusUnauthorized, body: `{"detail":"bad key"}`, wantErr: "status 401"},
		{name: "empty body", status: http.StatusOK, body: "  ", wantErr: "empty response"},
		{name: "malformed json", status: http.StatusOK, body: `{"result": `, wantErr: "malformed JSON"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			res := newTestClient(srv.URL).Invoke(context.Background(), "hi", "coord-1", SessionContext{})
			assert.False(t, res.Success)
			assert.Nil(t, res.Response)
			assert.Contains(t, res.Error, tt.wantErr)
		})
	}
}

func TestClientInvoke_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	res := newTestClient(url).Invoke(context.Background(), "hi", "coord-1", SessionContext{})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "sending request")
}

func TestClientInvoke_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient(ClientConfig{Endpoint: srv.URL, Timeout: 50 * time.Millisecond}, nil)
	res := c.Invoke(context.Background(), "hi", "coord-1", SessionContext{})
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)
}

func TestClientInvoke_LongErrorBodyTruncated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(strings.Repeat("x", 4096)))
	}))
	defer srv.Close()

	res := newTestClient(srv.URL).Invoke(context.Background(), "hi", "coord-1", SessionContext{})
	assert.False(t, res.Success)
	assert.Less(t, len(res.Error), 700)
	assert.True(t, strings.HasSuffix(res.Error, "..."))
}

func TestClientInvoke_ErrorBodyCutOnRuneBoundary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(strings.Repeat("é", 1000)))
	}))
	defer srv.Close()

	res := newTestClient(srv.URL).Invoke(context.Background(), "hi", "coord-1", SessionContext{})
	require.False(t, res.Success)
	assert.True(t, utf8.ValidString(res.Error))
	assert.Equal(t, "agent returned status 502: "+strings.Repeat("é", maxErrorBody)+"...", res.Error)
}

func TestClientInvoke_OversizedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message":"`))
		_, _ = w.Write([]byte(strings.Repeat("a", maxResponseBytes)))
		_, _ = w.Write([]byte(`"}`))
	}))
	defer srv.Close()

	res := newTestClient(srv.URL).Invoke(context.Background(), "hi", "coord-1", SessionContext{})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "exceeds")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 3))
	assert.Equal(t, "ab...", truncate("abc", 2))
	assert.Equal(t, "日本...", truncate("日本語", 2))
}

func TestInvokerFunc(t *testing.T) {
	var inv Invoker = InvokerFunc(func(ctx context.Context, text, agentID string, sc SessionContext) Result {
		return Failure("no agent for %s", agentID)
	})
	res := inv.Invoke(context.Background(), "hi", "x", SessionContext{})
	assert.Equal(t, "no agent for x", res.Error)
}

func TestNewSessionID(t *testing.T) {
	pattern := regexp.MustCompile(`^session_coord-1_(\d+)_(\d+)$`)

	before := time.Now().UnixMilli()
	id := NewSessionID("coord-1")
	after := time.Now().UnixMilli()

	m := pattern.FindStringSubmatch(id)
	require.NotNil(t, m, "unexpected session id %q", id)

	ms, err := strconv.ParseInt(m[1], 10, 64)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, ms, before)
	assert.LessOrEqual(t, ms, after)

	r, err := strconv.Atoi(m[2])
	require.NoError(t, err)
	assert.GreaterOrEqual(t, r, 0)
	assert.Less(t, r, 100000)
}
