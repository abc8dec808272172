// ABOUTME: Router lifecycle errors and the fatal loop error
// ABOUTME: LoopError distinguishes a crashed loop from a clean stop

package router

import (
	"errors"
	"fmt"
)

// ErrStopped is returned by Submit once the router has begun stopping.
var ErrStopped = errors.New("router stopped")

// ErrActorStopped is an alias kept for callers that think in actor terms.
var ErrActorStopped = ErrStopped

// ErrAlreadyStarted is returned by a second call to Start.
var ErrAlreadyStarted = errors.New("router already started")

// LoopError reports that the processing loop died of a programming error.
type LoopError struct {
	Panic any
	Stack []byte
}

func (e *LoopError) Error() string {
	return fmt.Sprintf("router loop terminated: panic: %v", e.Panic)
}

// Unwrap exposes the panic value when it was an error.
func (e *LoopError) Unwrap() error {
	if err, ok := e.Panic.(error); ok {
		return err
	}
	return nil
}
