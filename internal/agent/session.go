// ABOUTME: Session identifier generation for agent calls
// ABOUTME: One id per send lifecycle, shared by the agent call and its activity stream

package agent

import (
	"fmt"
	"math/rand/v2"
	"time"
)

// NewSessionID returns session_<agentID>_<unix-ms>_<0..99999>.
// The id carries no meaning beyond correlating a call with its activity stream.
func NewSessionID(agentID string) string {
	return fmt.Sprintf("session_%s_%d_%d", agentID, time.Now().UnixMilli(), rand.IntN(100000))
}
