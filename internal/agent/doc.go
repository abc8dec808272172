// Package agent defines the dialogue-agent capability the router binds to
// conversations.
//
// # Overview
//
// An Agent turns one inbound activity into a response. Its internals are
// opaque to the router; anything from a rules engine to an LLM session can
// sit behind the interface.
//
//	type Agent interface {
//	    Process(ctx context.Context, act *activity.Activity) (*Response, error)
//	}
//
// # Factory
//
// Agents are produced by a Factory:
//
//	factory := agent.FactoryFunc(func(ctx context.Context) (agent.Agent, error) {
//	    return newEngine(ctx)
//	})
//
// The router calls Create once at startup in single-instance mode, or once
// per new conversation in multi-instance mode. Any failure is wrapped in a
// *CreationError so callers can match it with errors.Is(err, ErrCreation).
//
// # Echo
//
// Echo is a trivial agent that replies with the text it received. The
// coven-router binary uses it when no external engine is configured.
package agent
