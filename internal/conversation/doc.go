// Package conversation binds conversation keys to agents and handlers.
//
// # Overview
//
// The Registry maps an activity.ConversationKey to an Entry holding the
// agent bound to that conversation and the Handler that processes its
// activities. Entries are created on the first activity for a key and live
// until they are removed explicitly.
//
// # Ownership
//
// A Registry is not safe for concurrent use. The router's loop goroutine is
// its only caller; other goroutines ask for removals through the router,
// which queues them behind pending activities.
//
// # Handlers
//
// Handler is the boundary to response-producing code. A HandlerFactory
// builds one handler per entry from a Binding:
//
//	type Binding struct {
//	    EntryID  string
//	    Key      activity.ConversationKey
//	    Agent    agent.Agent
//	    Teardown func()
//	}
//
// Teardown asks the router to drop this entry. It is safe to call from any
// goroutine, including from inside HandleActivity, and it only ever removes
// the entry it was issued for: a later entry for the same key is untouched.
//
// AgentHandler is the default handler. It runs the agent and hands the
// response to a Responder. An endOfConversation activity is not passed to
// the agent; it tears the entry down instead.
package conversation
