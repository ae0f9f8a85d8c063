// Package activity is the best-effort agent activity stream.
//
// While a send lifecycle is in flight, the remote agent service pushes progress
// notifications keyed by the lifecycle's session id. A Listener opens one
// Subscription per session:
//
//	sub := listener.Open(ctx, sessionID)
//	defer sub.Close()
//	for ev := range sub.Events() {
//	    ...
//	}
//
// The stream is optional. A failed dial does not return an error; it yields a
// Subscription with StatusUnavailable and an already closed Events channel, and
// Err explains why. NopListener yields StatusDisabled the same way.
//
// # Frames
//
// Frames are JSON objects {type?, message?|text?, agent_name?|agentName?}.
// Anything else, including objects without a message or text, is dropped.
// Classify assigns the activity type: a recognized label wins, otherwise the
// text is searched for "thinking", "processing", "complet" and "error" in that
// order, and the fallback is info.
//
// # Mirror
//
// RedisMirror publishes recorded activity events as JSON on activity:<id>, and
// Follow reads them back, so a second process can watch a conversation.
package activity
