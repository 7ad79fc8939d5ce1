// ABOUTME: Package store documentation
// ABOUTME: Describes the identity and settings persistence layer

// Package store provides persistent storage for the bot using SQLite.
//
// # Architecture
//
// Two narrow interfaces serve the core:
//
//   - IdentityStore: account and VIP lookups for the permission engine
//   - SettingsStore: session mode and group feature lookups for the dispatcher
//
// Store adds the writes built-in commands need. SQLiteStore implements all
// of them; MockStore is an in-memory stand-in that can inject lookup failures.
//
// # Data Models
//
//   - Account: a user keyed by a normalized handle, optionally owning a session
//   - VIPStatus: level and default-tier flag; level 99 is the default tier
//   - SessionMode: public or self
//   - group feature toggles keyed by group and feature name
//
// # Handles
//
// NormalizePhone lowercases Matrix IDs ("@alice:example.org") but keeps the
// server name, and reduces chat JIDs ("15551234567@s.whatsapp.net") to the
// number, so one account matches however the transport spells the sender.
//
// # SQLite Configuration
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//	PRAGMA busy_timeout=5000;
//
// # Error Handling
//
//   - ErrNotFound: requested entity does not exist (unset feature, non-VIP revoke)
//   - ErrTransient: busy or locked database; the dispatcher may retry
//
// Missing accounts are not errors: GetUserByPhone returns nil, nil.
//
// # Testing
//
// Use NewMockStore() for unit tests and NewSQLiteStore(":memory:") for
// integration tests with real SQLite.
package store
