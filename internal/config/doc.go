// Package config handles configuration loading for coven-console.
//
// # Configuration File
//
// The file is located by DefaultPath:
//
//  1. Path from COVEN_CONSOLE_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/coven/console.yaml (~/.config when unset)
//
// A .env file in the working directory is loaded first with LoadDotEnv, so secrets
// can live next to the binary during development.
//
// # Environment Variable Expansion
//
//	agents:
//	  api_key: "${COVEN_CONSOLE_API_KEY}"
//
// Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	agents:
//	  request_timeout: "120s"
//	events:
//	  dial_timeout: "5s"
//
// # Configuration Sections
//
//	server:      http_addr
//	tailscale:   enabled, hostname, auth_key, state_dir, ephemeral
//	database:    driver (memory|sqlite), path (defaults to :memory:)
//	agents:      endpoint, api_key, user_id, request_timeout, coordinator/knowledge/channel personas
//	events:      enabled, endpoint, dial_timeout
//	activity:    redis_url
//	knowledge:   base_url, rag_id, request_timeout
//	logging:     level (debug|info|warn|error), format (text|json)
//
// Example contains an annotated file, written by `coven-console init`.
//
// # Validation
//
// Load() applies defaults and then validates:
//
//   - server.http_addr unless tailscale is enabled
//   - agents.endpoint and agents.coordinator.id
//   - events.endpoint when events are enabled
//   - database driver, redis URL scheme and log format values
package config
