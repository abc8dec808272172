// ABOUTME: Agent capability, the Factory that produces agents, and creation errors
// ABOUTME: Single-instance mode calls Create once; multi-instance calls it per conversation

package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/2389/coven-router/internal/activity"
)

// ErrCreation matches every *CreationError.
var ErrCreation = errors.New("agent creation failed")

// CreationError wraps the reason an agent could not be constructed.
type CreationError struct {
	Err error
}

func (e *CreationError) Error() string {
	return fmt.Sprintf("agent creation failed: %v", e.Err)
}

func (e *CreationError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrCreation) match.
func (e *CreationError) Is(target error) bool {
	return target == ErrCreation
}

// Response is what an agent produces for one activity.
type Response struct {
	Text string
	// Type follows the activity type vocabulary; empty means "message".
	Type string
}

// Agent processes activities for the conversations bound to it.
type Agent interface {
	Process(ctx context.Context, act *activity.Activity) (*Response, error)
}

// Factory produces fresh agents.
type Factory interface {
	Create(ctx context.Context) (Agent, error)
}

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc func(ctx context.Context) (Agent, error)

// Create calls f.
func (f FactoryFunc) Create(ctx context.Context) (Agent, error) {
	return f(ctx)
}

// New calls factory.Create and normalizes failures into *CreationError.
// A nil agent with a nil error is also treated as a failure.
func New(ctx context.Context, factory Factory) (Agent, error) {
	if factory == nil {
		return nil, &CreationError{Err: errors.New("no agent factory configured")}
	}
	a, err := factory.Create(ctx)
	if err != nil {
		var ce *CreationError
		if errors.As(err, &ce) {
			return nil, err
		}
		return nil, &CreationError{Err: err}
	}
	if a == nil {
		return nil, &CreationError{Err: errors.New("factory returned nil agent")}
	}
	return a, nil
}
