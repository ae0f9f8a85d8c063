// Package dedupe provides an idempotency cache: the first request carrying a
// key claims it, concurrent duplicates see it pending, and later duplicates
// within the TTL get the stored result back.
package dedupe
