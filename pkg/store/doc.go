// Package store persists chat keys, pinned peer keys and chat messages.
//
// Two implementations are provided. BoltStore keeps everything in a single
// bbolt file and is what the node uses. MemoryStore holds the same data in
// maps and is used by tests and throwaway nodes.
//
// Messages are keyed by peer, direction and id. Ids of locally sent
// messages are unique per chat: AppendMessage bumps a colliding id until it
// finds a free one and returns the id it stored.
//
// Message status only moves forward:
//
//	Sending -> Sent -> Success
//	   |         \---> Failed
//	   +-------------> Success | Failed
//
// Success and Failed are terminal. SetStatus reports whether it changed
// anything so callers can treat duplicate acknowledgements as no-ops.
package store
