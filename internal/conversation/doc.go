// Package conversation reconciles agent calls into conversation state.
//
// # Overview
//
// The Service sits between the HTTP console and the remote agent service. It
// is the only writer of conversation, message and activity state:
//
//	svc := conversation.New(conversation.Deps{
//	    Store:    st,
//	    Invoker:  agentClient,
//	    Listener: wsListener,
//	    Personas: personas,
//	}, logger)
//
// # Send Lifecycle
//
// Each conversation moves Idle -> Sending -> (Success | Failed) -> Idle.
//
// Entering Sending:
//
//  1. Take the conversation's gate (a second send is rejected, not queued)
//  2. Append the customer message
//  3. Clear the activity log and record the synthetic start events
//  4. Open the activity stream for a fresh session id
//
// The coordinator agent is then called while a pump goroutine records stream
// events in arrival order. Events may land after the reply.
//
// On success the reply is normalized (package reply), appended with its
// classification, and the conversation's classification, preview and status
// follow it. On failure, including a panicking invoker, a fixed apology is
// appended and classification and status are left alone.
//
// Finalization is deferred and runs once: close the stream, drain the pump,
// release the gate. Draining before release keeps a finished lifecycle's
// events out of the next one's log.
//
// # Timestamps
//
// Message timestamps are strictly increasing per conversation, so append order
// and chronological order agree even when the clock does not move.
//
// # Operator Actions
//
// Escalate, MarkResolved and MarkRead take the same gate and return
// ErrConversationBusy while a send is in flight.
//
// # Broadcaster
//
// Every recorded message, activity event, conversation change and lifecycle
// state change is published on the Broadcaster. Slow subscribers drop updates
// rather than block the lifecycle.
package conversation
