// ABOUTME: Handler boundary between the router and response-producing code
// ABOUTME: AgentHandler runs the bound agent and passes its reply to a Responder

package conversation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/2389/coven-router/internal/activity"
	"github.com/2389/coven-router/internal/agent"
)

// activityTypeEndOfConversation is sent by channels when a conversation closes.
const activityTypeEndOfConversation = "endOfConversation"

// Handler processes the activities of one conversation. It is only ever
// called from the router loop goroutine.
type Handler interface {
	HandleActivity(ctx context.Context, act *activity.Activity) error
}

// Binding is what a handler is built from.
type Binding struct {
	EntryID  string
	Key      activity.ConversationKey
	Agent    agent.Agent
	Teardown func()
}

// HandlerFactory builds the handler for a new entry.
type HandlerFactory interface {
	NewHandler(b Binding) Handler
}

// HandlerFactoryFunc adapts a function to HandlerFactory.
type HandlerFactoryFunc func(b Binding) Handler

// NewHandler calls f.
func (f HandlerFactoryFunc) NewHandler(b Binding) Handler { return f(b) }

// Reply is an agent response addressed back to its conversation.
type Reply struct {
	Key       activity.ConversationKey
	ReplyToID string
	Response  *agent.Response
}

// Responder delivers replies to the channel.
type Responder interface {
	Respond(ctx context.Context, reply Reply) error
}

// ResponderFunc adapts a function to Responder.
type ResponderFunc func(ctx context.Context, reply Reply) error

// Respond calls f.
func (f ResponderFunc) Respond(ctx context.Context, reply Reply) error { return f(ctx, reply) }

// LogResponder logs replies instead of sending them.
type LogResponder struct {
	Logger *slog.Logger
}

// Respond implements Responder.
func (l LogResponder) Respond(_ context.Context, reply Reply) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("reply",
		"key", reply.Key.String(),
		"reply_to", reply.ReplyToID,
		"type", reply.Response.Type,
		"text", reply.Response.Text,
	)
	return nil
}

// AgentHandler runs the bound agent for every activity.
type AgentHandler struct {
	binding   Binding
	responder Responder
}

// AgentHandlers returns a HandlerFactory producing AgentHandlers that
// deliver through responder.
func AgentHandlers(responder Responder) HandlerFactory {
	return HandlerFactoryFunc(func(b Binding) Handler {
		return &AgentHandler{binding: b, responder: responder}
	})
}

// HandleActivity implements Handler.
func (h *AgentHandler) HandleActivity(ctx context.Context, act *activity.Activity) error {
	if act.Type == activityTypeEndOfConversation {
		h.binding.Teardown()
		return nil
	}

	resp, err := h.binding.Agent.Process(ctx, act)
	if err != nil {
		return fmt.Errorf("agent processing %s: %w", h.binding.Key, err)
	}
	if resp == nil {
		return nil
	}

	if err := h.responder.Respond(ctx, Reply{Key: h.binding.Key, ReplyToID: act.ID, Response: resp}); err != nil {
		return fmt.Errorf("sending reply to %s: %w", h.binding.Key, err)
	}
	return nil
}
