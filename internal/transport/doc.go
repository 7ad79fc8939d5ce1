// Package transport defines the chat network capability the bot core depends on
// and provides a Matrix implementation of it.
//
// The permission engine only needs admin checks; the dispatcher additionally
// sends messages and reads group metadata. A Listener also delivers inbound
// messages to a session worker.
//
// MatrixTransport maps Matrix concepts onto the interface:
//
//   - a group is a room with more than two joined members
//   - a group admin is a member with power level >= 50
//   - the group owner is the member with the highest power level
//
// MockTransport is an in-memory implementation for tests.
package transport
