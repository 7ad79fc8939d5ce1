// Package plugins holds the handler registry and the dispatcher that runs
// handlers for inbound messages.
//
// # Handlers
//
// A Handler is either a command, invoked by name or alias, or a background
// scanner, run against every inbound message. Handlers are declared in YAML
// manifests that bind to Go implementations through a Catalog:
//
//	id: groupinfo
//	name: groupinfo
//	aliases: [ginfo]
//	category: group
//	entry: groupinfo
//	permissions:
//	  admin_required: true
//
// # Dispatch pipeline
//
// For a command the Dispatcher:
//
//  1. Resolves the handler (unknown commands fail silently)
//  2. Validates the message context (fails closed)
//  3. Enriches it: creator flag, prefetched admin and bot-admin answers
//  4. Runs the session mode check and permission evaluation concurrently
//  5. Applies the handler's group feature toggle
//  6. Sends a denial message unless the denial is silent
//  7. Executes the handler at most once across workers, with bounded retry
//
// Scanners skip steps 4 and 6 and use inverted permission evaluation.
//
// # Hot reload
//
// A Reloader receives file change notifications, waits for a quiet period per
// path, then swaps the new handler into the Registry in one step. Readers see
// either the old handler or the new one.
package plugins
