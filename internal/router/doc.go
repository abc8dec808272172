// Package router runs the per-bot conversation loop.
//
// # Overview
//
// A Router accepts activities from any number of producers, groups them by
// activity.ConversationKey, binds each conversation to an agent, and hands
// every activity to its conversation's handler. It also owns the channel
// credential manager and its refresh schedule.
//
// # Lifecycle
//
//	Created -> Starting -> Running -> Stopping -> Stopped
//
// Start performs the synchronous first credential fetch and, in
// single-instance mode, creates the shared agent. Either failure is fatal:
// Start returns the error and the router goes straight to Stopped.
//
// Stop rejects further submissions, cancels this router's credential
// refresh, and signals the loop. It does not wait; Wait does.
//
// # Drain policy
//
// Activities accepted by Submit before Stop are processed before the loop
// exits. Stop never discards queued work; Wait returns once the queue is
// empty and the last handler has returned.
//
// # Threading
//
// One goroutine runs the loop and is the only one to touch the conversation
// registry. Submit and RemoveConversation only append to an unbounded queue
// and never block. The credential is read lock-free from any goroutine.
//
// A slow handler stalls every conversation behind it. That is the price of a
// single consumer and is intentional: handlers must bound their own work.
//
// # Failures
//
// Malformed activities and agent creation failures drop the activity and
// emit an event. Errors returned by handlers are logged and counted. A panic
// inside the loop is a programming error: the loop stops, the credential
// refresh is cancelled, and Wait returns a *LoopError.
package router
