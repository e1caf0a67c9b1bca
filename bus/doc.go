// Package bus defines the messages agents exchange and the mailboxes that
// carry them.
//
// # Overview
//
// Messages form a closed set of concrete types. Receivers type-switch on
// the Message interface instead of dispatching on string kinds, so the
// compiler catches a handler that forgets a message type the moment a
// switch needs a default arm.
//
// # Mailboxes
//
// Each agent owns one Mailbox, an unbounded FIFO. Senders call Put and
// never block; the agent's message loop calls Get, which blocks until a
// message arrives or the context ends.
//
//	mb := bus.NewMailbox()
//	mb.Put(bus.TaskAssigned{Task: task})
//	msg, err := mb.Get(ctx)
//
// # Queries
//
// A Query carries its own capacity-one reply channel and a correlation id.
// The sender builds it with NewQuery, drops it in the target's mailbox,
// and calls Wait. If no Respond arrives within the timeout, Wait returns a
// failed Response with the error "Query timeout" so slow responders never
// wedge the caller.
//
//	q := bus.NewQuery("coordinator", "agent_status", nil)
//	target.Post(q)
//	resp := q.Wait(ctx, bus.DefaultQueryTimeout)
package bus
