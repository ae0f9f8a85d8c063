// Package knowledge manages the documents behind the knowledge agent and runs
// test queries against it.
package knowledge
