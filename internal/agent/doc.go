// Package agent is the boundary to the remote multi-agent service.
//
// # Client
//
// Client issues one JSON POST per call:
//
//	{"text": "...", "agent_id": "...", "session_id": "...", "user_id": "..."}
//
// authenticated with the x-api-key header. The reply body is returned as
// json.RawMessage without validation; shaping it into a customer reply is the
// job of package reply.
//
// Invoke never returns a Go error. Network errors, non-2xx statuses, empty
// bodies and invalid JSON all become Result{Success: false, Error: ...}.
// Timeouts are left to the transport (ClientConfig.Timeout) and the caller's
// context.
//
// # Session IDs
//
// NewSessionID produces session_<agentID>_<unix-ms>_<rand>. The same id is
// passed to the agent call and used to open the activity stream, which is the
// only thing it is used for.
//
// # Directory
//
// Directory holds the personas (coordinator, knowledge, channel) resolved from
// configuration at startup. ListAgents reports them with an active flag for
// the console's agent panel.
package agent
