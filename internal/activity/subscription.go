// ABOUTME: Best-effort activity subscription handle returned by every Listener
// ABOUTME: Degraded outcomes (unavailable, disabled) are observable values, never errors

package activity

import (
	"context"
	"sync"
)

// Status describes how a subscription came up.
type Status string

const (
	// StatusConnecting means the stream is still being dialed.
	StatusConnecting Status = "connecting"
	// StatusConnected means frames are being read from the stream.
	StatusConnected Status = "connected"
	// StatusUnavailable means the stream could not be opened; no events will arrive.
	StatusUnavailable Status = "unavailable"
	// StatusDisabled means streaming is switched off by configuration.
	StatusDisabled Status = "disabled"
)

// Listener opens one activity subscription per send lifecycle.
type Listener interface {
	Open(ctx context.Context, sessionID string) *Subscription
}

// Subscription delivers activity events until it is closed.
// A subscription starts out connecting and settles exactly once, to connected,
// unavailable or disabled; Ready is closed when it does. The Events channel is
// closed once no more events will be delivered, and never before Ready.
type Subscription struct {
	sessionID string
	events    chan Event
	ready     chan struct{}

	done      chan struct{}
	closeOnce sync.Once
	closer    func()

	mu     sync.Mutex
	status Status
	err    error
}

func newSubscription(sessionID string, buffer int, closer func()) *Subscription {
	return &Subscription{
		sessionID: sessionID,
		status:    StatusConnecting,
		events:    make(chan Event, buffer),
		ready:     make(chan struct{}),
		done:      make(chan struct{}),
		closer:    closer,
	}
}

// Disabled returns a subscription for when streaming is switched off.
func Disabled(sessionID string) *Subscription {
	s := newSubscription(sessionID, 0, nil)
	s.settle(StatusDisabled, nil)
	close(s.events)
	return s
}

// settle records the final status. Later calls are ignored.
func (s *Subscription) settle(status Status, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusConnecting {
		return
	}
	s.status = status
	if s.err == nil {
		s.err = err
	}
	close(s.ready)
}

// fail settles the subscription as unavailable and ends its events.
func (s *Subscription) fail(err error) {
	s.settle(StatusUnavailable, err)
	close(s.events)
}

// SessionID returns the session this subscription is keyed by.
func (s *Subscription) SessionID() string { return s.sessionID }

// Status reports how the subscription came up, or StatusConnecting while
// that is not yet known.
func (s *Subscription) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Ready is closed once Status is settled.
func (s *Subscription) Ready() <-chan struct{} { return s.ready }

// Events returns the channel of received events.
func (s *Subscription) Events() <-chan Event { return s.events }

// Err returns the error that made the stream unavailable or ended it early, if any.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subscription) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// Close stops the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.closer != nil {
			s.closer()
		}
	})
}

// deliver hands an event to the consumer unless the subscription was closed.
func (s *Subscription) deliver(ev Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

// NopListener never connects. Every subscription it opens is disabled.
type NopListener struct{}

// Open returns a disabled subscription.
func (NopListener) Open(ctx context.Context, sessionID string) *Subscription {
	return Disabled(sessionID)
}
