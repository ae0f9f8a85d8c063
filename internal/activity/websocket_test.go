// ABOUTME: Tests for the websocket Listener against an httptest websocket server
// ABOUTME: Covers URL shape, event delivery, background dialing, unavailable and disabled subscriptions

package activity

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-console/internal/store"
)

// streamServer upgrades every request and writes frames, then waits for the client to leave.
func streamServer(t *testing.T, frames []string, gotPath chan<- string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if gotPath != nil {
			gotPath <- r.URL.Path + "?" + r.URL.RawQuery
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func collect(t *testing.T, sub *Subscription, n int) []Event {
	t.Helper()
	var got []Event
	timeout := time.After(2 * time.Second)
	for len(got) < n {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return got
			}
			got = append(got, ev)
		case <-timeout:
			t.Fatalf("timed out waiting for %d events, got %d", n, len(got))
		}
	}
	return got
}

// settled waits for the subscription to leave the connecting state.
func settled(t *testing.T, sub *Subscription) Status {
	t.Helper()
	select {
	case <-sub.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription never settled")
	}
	return sub.Status()
}

// stalledListener accepts TCP connections and never answers the handshake.
func stalledListener(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	var conns []net.Conn
	var mu sync.Mutex
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, c)
			mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			c.Close()
		}
	})
	return "ws://" + ln.Addr().String()
}

func TestWebSocketListener_DeliversEvents(t *testing.T) {
	paths := make(chan string, 1)
	srv := streamServer(t, []string{
		`{"type":"thinking","message":"Reading the ticket","agent_name":"Coordinator"}`,
		`garbage`,
		`{"unrelated":true}`,
		`{"text":"Processing refund policy"}`,
		`{"message":"Response completed"}`,
	}, paths)
	defer srv.Close()

	l := NewWebSocketListener(WebSocketConfig{Endpoint: wsURL(srv.URL) + "/ws/", APIKey: "k&y"}, nil)
	sub := l.Open(context.Background(), "session_a_1_2")
	defer sub.Close()

	require.Equal(t, StatusConnected, settled(t, sub))
	assert.Equal(t, "session_a_1_2", sub.SessionID())
	assert.Equal(t, "/ws/session_a_1_2?x-api-key=k%26y", <-paths)

	events := collect(t, sub, 3)
	require.Len(t, events, 3)
	assert.Equal(t, store.ActivityThinking, events[0].Type)
	assert.Equal(t, "Coordinator", events[0].AgentName)
	assert.Equal(t, store.ActivityProcessing, events[1].Type)
	assert.Equal(t, store.ActivityCompletion, events[2].Type)
}

func TestWebSocketListener_CloseEndsEvents(t *testing.T) {
	srv := streamServer(t, nil, nil)
	defer srv.Close()

	l := NewWebSocketListener(WebSocketConfig{Endpoint: wsURL(srv.URL)}, nil)
	sub := l.Open(context.Background(), "s1")
	require.Equal(t, StatusConnected, settled(t, sub))

	sub.Close()
	sub.Close()

	select {
	case _, ok := <-sub.Events():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("events channel not closed after Close")
	}
	assert.NoError(t, sub.Err())
}

func TestWebSocketListener_ContextCancelCloses(t *testing.T) {
	srv := streamServer(t, nil, nil)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	l := NewWebSocketListener(WebSocketConfig{Endpoint: wsURL(srv.URL)}, nil)
	sub := l.Open(ctx, "s1")
	require.Equal(t, StatusConnected, settled(t, sub))

	cancel()

	select {
	case _, ok := <-sub.Events():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("events channel not closed after context cancel")
	}
}

func TestWebSocketListener_Unavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	l := NewWebSocketListener(WebSocketConfig{Endpoint: wsURL(srv.URL), DialTimeout: time.Second}, nil)
	sub := l.Open(context.Background(), "s1")

	assert.Equal(t, StatusUnavailable, settled(t, sub))
	require.Error(t, sub.Err())
	assert.Contains(t, sub.Err().Error(), "403")

	_, ok := <-sub.Events()
	assert.False(t, ok, "unavailable subscription must have a closed channel")
	sub.Close()
}

func TestWebSocketListener_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	endpoint := wsURL(srv.URL)
	srv.Close()

	sub := NewWebSocketListener(WebSocketConfig{Endpoint: endpoint, DialTimeout: time.Second}, nil).
		Open(context.Background(), "s1")
	assert.Equal(t, StatusUnavailable, settled(t, sub))
	assert.Error(t, sub.Err())
}

func TestWebSocketListener_OpenDoesNotWaitForHandshake(t *testing.T) {
	l := NewWebSocketListener(WebSocketConfig{Endpoint: stalledListener(t), DialTimeout: 5 * time.Second}, nil)

	start := time.Now()
	sub := l.Open(context.Background(), "s1")
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.Equal(t, StatusConnecting, sub.Status())

	sub.Close()
	assert.Equal(t, StatusUnavailable, settled(t, sub), "closing aborts the dial")
	_, ok := <-sub.Events()
	assert.False(t, ok)
}

func TestWebSocketListener_StalledHandshakeTimesOut(t *testing.T) {
	l := NewWebSocketListener(WebSocketConfig{Endpoint: stalledListener(t), DialTimeout: 100 * time.Millisecond}, nil)
	sub := l.Open(context.Background(), "s1")
	defer sub.Close()

	assert.Equal(t, StatusUnavailable, settled(t, sub))
	assert.Error(t, sub.Err())
}

func TestNopListener(t *testing.T) {
	sub := NopListener{}.Open(context.Background(), "s1")
	assert.Equal(t, StatusDisabled, sub.Status())
	select {
	case <-sub.Ready():
	default:
		t.Fatal("disabled subscription must be settled")
	}
	assert.NoError(t, sub.Err())
	_, ok := <-sub.Events()
	assert.False(t, ok)
	sub.Close()
	sub.Close()
}

func TestStreamURL(t *testing.T) {
	l := NewWebSocketListener(WebSocketConfig{Endpoint: "wss://metrics.example.com/ws/"}, nil)
	assert.Equal(t, "wss://metrics.example.com/ws/session_x", l.StreamURL("session_x"))
}
