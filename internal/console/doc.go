// Package console serves the operator-facing HTTP API: conversations and
// their transcripts, sends with idempotent retries, operator actions, a
// live SSE stream per conversation and knowledge base management.
package console
