// Package session runs one message loop per logged-in chat session.
//
// Each Worker gets a unique ID at start-up. Several workers may see the same
// inbound message, for example when two bot accounts share a room; the
// dispatcher's deduplicator makes sure only one of them acts on it.
package session
