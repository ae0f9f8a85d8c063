// ABOUTME: WebSocket implementation of the activity Listener
// ABOUTME: Dials <endpoint>/<sessionID>?x-api-key=<key> and reads JSON progress frames until closed

package activity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// eventBuffer is the number of frames held while the consumer catches up
const eventBuffer = 32

// WebSocketConfig configures a WebSocketListener.
type WebSocketConfig struct {
	Endpoint    string
	APIKey      string
	DialTimeout time.Duration
}

// WebSocketListener opens activity subscriptions over a websocket.
type WebSocketListener struct {
	endpoint string
	apiKey   string
	dialer   *websocket.Dialer
	logger   *slog.Logger
}

// NewWebSocketListener creates a listener for the given stream endpoint.
func NewWebSocketListener(cfg WebSocketConfig, logger *slog.Logger) *WebSocketListener {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebSocketListener{
		endpoint: strings.TrimSuffix(cfg.Endpoint, "/"),
		apiKey:   cfg.APIKey,
		dialer: &websocket.Dialer{
			HandshakeTimeout: timeout,
		},
		logger: logger.With("component", "activity_listener"),
	}
}

// StreamURL returns the URL dialed for a session.
func (l *WebSocketListener) StreamURL(sessionID string) string {
	u := l.endpoint + "/" + url.PathEscape(sessionID)
	if l.apiKey != "" {
		u += "?x-api-key=" + url.QueryEscape(l.apiKey)
	}
	return u
}

// Open returns a connecting subscription straight away and dials the stream
// for sessionID in the background. A failed dial settles the subscription as
// unavailable; it is logged and otherwise ignored. Closing the subscription or
// cancelling ctx aborts a dial in progress.
func (l *WebSocketListener) Open(ctx context.Context, sessionID string) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	sub := newSubscription(sessionID, eventBuffer, cancel)
	go l.run(ctx, sub)
	return sub
}

func (l *WebSocketListener) run(ctx context.Context, sub *Subscription) {
	conn, resp, err := l.dialer.DialContext(ctx, l.StreamURL(sub.sessionID), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("dialing activity stream: %w (status %d)", err, resp.StatusCode)
		} else {
			err = fmt.Errorf("dialing activity stream: %w", err)
		}
		l.logger.Debug("activity stream unavailable", "session_id", sub.sessionID, "error", err)
		sub.fail(err)
		return
	}

	sub.settle(StatusConnected, nil)
	l.logger.Debug("activity stream connected", "session_id", sub.sessionID)

	stopped := make(chan struct{})
	defer close(stopped)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			conn.Close()
		case <-stopped:
			conn.Close()
		}
	}()

	l.readLoop(ctx, conn, sub)
}

func (l *WebSocketListener) readLoop(ctx context.Context, conn *websocket.Conn, sub *Subscription) {
	defer close(sub.events)

	var dropped int
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil &&
				!websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) &&
				!errors.Is(err, websocket.ErrCloseSent) {
				sub.setErr(err)
				l.logger.Debug("activity stream ended", "session_id", sub.sessionID, "error", err)
			}
			if dropped > 0 {
				l.logger.Debug("dropped unrecognized activity frames", "session_id", sub.sessionID, "count", dropped)
			}
			return
		}

		ev, ok := DecodeFrame(data)
		if !ok {
			dropped++
			continue
		}
		if !sub.deliver(ev) {
			return
		}
	}
}
