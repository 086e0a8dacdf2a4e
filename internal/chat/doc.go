// Package chat is the live fan-out core of roomchat.
//
// A Registry tracks one Subscription per open connection, grouped by room.
// Broadcast pushes an immutable Payload into the mailbox of every
// subscription of a room without ever blocking on a slow reader. A Feed wraps
// a subscription with the connection state machine used by the transports:
//
//	Connecting -> Streaming -> Closing -> Closed
//
// Every exit from Streaming goes through Feed.Close, which deregisters the
// subscription exactly once and releases its mailbox.
//
// Ingress validates and persists inbound posts and then broadcasts the stored
// record, serialising both steps per room so the live order of a room equals
// its persisted order.
//
// CloseAll enqueues a close sentinel into every mailbox and empties the
// registry; every feed observes it as ErrFeedClosed after draining what was
// queued before it.
package chat
