// Package permission decides whether a handler may act on a message.
//
// Every handler's declaration is reduced once, at load time, to a Descriptor.
// The Engine then evaluates that descriptor against a MessageContext in one of
// two regimes. Commands are opt-in: the sender must satisfy the requirements,
// and a failed lookup denies. Background scanners are inverted: they process
// every sender except those the descriptor exempts, and a failed lookup never
// exempts anyone.
//
// Owner, VIP and admin answers are cached with a short TTL. Group admin entries
// can be purged out of band with QueueInvalidation; the queue drains every few
// seconds.
package permission
