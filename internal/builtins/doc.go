// Package builtins provides the bot's built-in handler implementations.
//
// Implementations are exposed through a plugins.Catalog and bound to commands
// by YAML manifests, so names, aliases and permissions live in the manifest:
//
//	catalog := builtins.Catalog(builtins.Deps{Store: s, Engine: e, Modes: d, Registry: r})
//	loader := plugins.NewManifestLoader(catalog)
//
// # Commands
//
//   - ping: liveness and uptime
//   - whoami: the sender's owner, VIP and admin standing
//   - help: lists registered commands
//   - vip: grant, revoke or inspect VIP status (owner only in the shipped manifest)
//   - mode: switch the session between public and self mode
//   - groupinfo: group owner, size and admins
//   - refreshadmins: queue a refresh of cached admin answers for the group
//   - feature: toggle a group feature on or off
//
// # Scanners
//
//   - antilink: warns non-exempt senders who post links
package builtins
