// ABOUTME: Echo agent that repeats inbound text, used when no dialogue engine is wired
// ABOUTME: Each instance carries a UUID so instancing mode is visible in logs

package agent

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/2389/coven-router/internal/activity"
)

// Echo replies with the text of each activity.
type Echo struct {
	ID     string
	Prefix string
}

// NewEcho creates an Echo agent with a fresh instance ID.
func NewEcho(prefix string) *Echo {
	return &Echo{ID: uuid.New().String(), Prefix: prefix}
}

// Process implements Agent.
func (e *Echo) Process(ctx context.Context, act *activity.Activity) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	text := strings.TrimSpace(act.Text)
	if text == "" {
		return &Response{Type: "typing"}, nil
	}
	return &Response{Type: "message", Text: e.Prefix + text}, nil
}

// EchoFactory returns a Factory producing Echo agents.
func EchoFactory(prefix string) Factory {
	return FactoryFunc(func(context.Context) (Agent, error) {
		return NewEcho(prefix), nil
	})
}
