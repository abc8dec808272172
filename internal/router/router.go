// ABOUTME: Per-bot conversation router: one loop goroutine routes queued activities to conversations
// ABOUTME: Owns the registry, the shared agent, and the credential manager's refresh schedule

package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/2389/coven-router/internal/activity"
	"github.com/2389/coven-router/internal/agent"
	"github.com/2389/coven-router/internal/conversation"
	"github.com/2389/coven-router/internal/credential"
	"github.com/2389/coven-router/internal/events"
)

// CredentialManager is what the router needs from the credential layer.
// *credential.Manager implements it.
type CredentialManager interface {
	Init(ctx context.Context) error
	Start()
	Cancel()
	Current() *credential.Credential
}

// Params holds the dependencies of a Router.
type Params struct {
	// MultiInstance gives every conversation its own agent. When false a
	// single agent is created at startup and shared by all conversations.
	MultiInstance bool

	Agents      agent.Factory
	Handlers    conversation.HandlerFactory
	Credentials CredentialManager

	Sink   events.Sink
	Logger *slog.Logger

	// OnStateChange is called with the router's lock held on every
	// transition. It must not block or call back into the router.
	OnStateChange func(State)
}

// Router is the conversation routing actor. Create one with New.
type Router struct {
	multiInstance bool
	agents        agent.Factory
	creds         CredentialManager
	sink          events.Sink
	logger        *slog.Logger
	onState       func(State)

	inbox    *inbox
	registry *conversation.Registry // loop goroutine only
	shared   agent.Agent            // set before the loop starts, read-only after

	// ctx is handed to agents and handlers; cancelled after the loop exits.
	ctx    context.Context
	cancel context.CancelFunc

	state atomic.Int32
	live  atomic.Int64

	mu            sync.Mutex // guards lifecycle transitions
	stopRequested bool
	stopCh        chan struct{}

	done     chan struct{}
	doneOnce sync.Once
	err      error // written before done is closed
}

// New creates a Router in the Created state.
func New(p Params) *Router {
	if p.Sink == nil {
		p.Sink = events.Discard
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	if p.Handlers == nil {
		p.Handlers = conversation.AgentHandlers(conversation.LogResponder{Logger: p.Logger})
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Router{
		multiInstance: p.MultiInstance,
		agents:        p.Agents,
		creds:         p.Credentials,
		sink:          p.Sink,
		logger:        p.Logger.With("component", "router"),
		onState:       p.OnStateChange,
		inbox:         newInbox(),
		ctx:           ctx,
		cancel:        cancel,
		stopCh:        make(chan struct{}),
		done:          make(chan struct{}),
	}
	r.registry = conversation.NewRegistry(conversation.RegistryParams{
		Handlers: p.Handlers,
		Teardown: r.teardown,
		Sink:     p.Sink,
		Logger:   p.Logger,
	})
	return r
}

// Start fetches the first credential, creates the shared agent when in
// single-instance mode, starts the refresh schedule, and launches the loop.
// Any startup failure leaves the router Stopped and is returned.
func (r *Router) Start(ctx context.Context) error {
	r.mu.Lock()
	switch r.State() {
	case StateCreated:
	case StateStopped:
		r.mu.Unlock()
		return ErrStopped
	default:
		r.mu.Unlock()
		return ErrAlreadyStarted
	}
	r.setState(StateStarting)
	r.mu.Unlock()

	if err := r.startup(ctx); err != nil {
		r.logger.Error("router startup failed", "error", err)
		r.abort(err)
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopRequested {
		r.abortLocked(ErrStopped)
		return ErrStopped
	}
	r.creds.Start()
	r.setState(StateRunning)
	go r.loop()
	return nil
}

func (r *Router) startup(ctx context.Context) error {
	if r.creds == nil {
		return errors.New("starting router: no credential manager configured")
	}
	if err := r.creds.Init(ctx); err != nil {
		return fmt.Errorf("starting router: %w", err)
	}
	if !r.multiInstance {
		a, err := agent.New(ctx, r.agents)
		if err != nil {
			return fmt.Errorf("starting router: %w", err)
		}
		r.shared = a
		r.logger.Info("bot instance level agent initiated")
	}
	return nil
}

// abort moves a router that never reached Running to Stopped.
func (r *Router) abort(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.abortLocked(err)
}

func (r *Router) abortLocked(err error) {
	if r.creds != nil {
		r.creds.Cancel()
	}
	if dropped := r.inbox.seal(); dropped > 0 {
		r.logger.Warn("discarding activities queued before a failed start", "count", dropped)
	}
	r.setState(StateStopped)
	r.finish(err)
}

// Submit queues an activity for routing. It never blocks. Activities may be
// queued before Start; they are processed once the router is running.
// After Stop, Submit returns ErrStopped. Per-activity failures are never
// reported here: they surface as events and logs.
func (r *Router) Submit(act *activity.Activity) error {
	return r.inbox.pushActivity(act)
}

// RemoveConversation queues removal of the conversation for key. Removals
// are applied in queue order, behind activities already submitted. It is
// accepted until the loop has exited, so handlers can tear down while the
// queue drains on stop.
func (r *Router) RemoveConversation(key activity.ConversationKey) error {
	return r.inbox.pushRemoval(removal{key: key})
}

// teardown is the registry's hook for Binding.Teardown.
func (r *Router) teardown(key activity.ConversationKey, entryID string) {
	if err := r.inbox.pushRemoval(removal{key: key, entryID: entryID}); err != nil {
		r.logger.Debug("teardown after loop exit ignored", "key", key.String())
	}
}

// Stop asks the router to stop. It returns immediately; use Wait to block
// until the loop has drained and exited. Calling Stop more than once is safe.
func (r *Router) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.State() {
	case StateCreated:
		r.abortLocked(nil)
	case StateStarting:
		r.stopRequested = true
	case StateRunning:
		r.setState(StateStopping)
		r.inbox.close()
		r.creds.Cancel()
		close(r.stopCh)
	}
}

// Wait blocks until the router has stopped. It returns nil after a clean
// stop, the startup error after a failed Start, or a *LoopError when the
// loop crashed.
func (r *Router) Wait() error {
	<-r.done
	return r.err
}

// Shutdown stops the router and waits for the loop to exit or ctx to end.
func (r *Router) Shutdown(ctx context.Context) error {
	r.Stop()
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return fmt.Errorf("waiting for router loop: %w", ctx.Err())
	}
}

// Done is closed once the router has stopped.
func (r *Router) Done() <-chan struct{} {
	return r.done
}

// State returns the current lifecycle state.
func (r *Router) State() State {
	return State(r.state.Load())
}

// Conversations returns the number of live conversations.
func (r *Router) Conversations() int {
	return int(r.live.Load())
}

// Pending returns the number of queued, unprocessed items.
func (r *Router) Pending() int {
	return r.inbox.len()
}

// Credential returns the current channel credential for outbound senders.
func (r *Router) Credential() *credential.Credential {
	if r.creds == nil {
		return nil
	}
	return r.creds.Current()
}

// setState must be called with mu held.
func (r *Router) setState(s State) {
	prev := State(r.state.Swap(int32(s)))
	if prev == s {
		return
	}
	r.logger.Info("router state changed", "from", prev.String(), "to", s.String())
	e := events.New(events.RouterStateChanged)
	e.Detail = s.String()
	e.Live = r.Conversations()
	r.sink.Record(e)
	if r.onState != nil {
		r.onState(s)
	}
}

func (r *Router) finish(err error) {
	r.doneOnce.Do(func() {
		r.err = err
		r.cancel()
		close(r.done)
	})
}

// loop is the single consumer of the inbox.
func (r *Router) loop() {
	var loopErr error
	defer func() {
		if p := recover(); p != nil {
			le := &LoopError{Panic: p, Stack: debug.Stack()}
			r.logger.Error("router loop crashed", "panic", p, "stack", string(le.Stack))
			loopErr = le
		}

		r.mu.Lock()
		defer r.mu.Unlock()
		r.creds.Cancel()
		if left := r.inbox.seal(); left > 0 {
			r.logger.Warn("router loop exited with queued items", "count", left)
		}
		r.setState(StateStopped)
		r.finish(loopErr)
	}()

	r.logger.Info("router loop started", "multi_instance", r.multiInstance)
	for {
		select {
		case <-r.inbox.notify:
			r.drain()
		case <-r.stopCh:
			r.drain()
			r.logger.Info("router loop stopped", "live_conversations", r.registry.Len())
			return
		}
	}
}

// drain processes queued items until the queue is empty, including items
// queued by handlers while draining.
func (r *Router) drain() {
	for {
		items := r.inbox.take()
		if len(items) == 0 {
			return
		}
		for _, it := range items {
			if it.remove != nil {
				r.applyRemoval(*it.remove)
				continue
			}
			r.route(it.act)
		}
	}
}

func (r *Router) applyRemoval(rm removal) {
	if r.registry.RemoveEntry(rm.key, rm.entryID) {
		r.live.Store(int64(r.registry.Len()))
	}
}

// route delivers one activity to its conversation.
func (r *Router) route(act *activity.Activity) {
	key, err := act.Key()
	if err != nil {
		r.logger.Warn("dropping malformed activity", "error", err)
		r.emitActivity(events.ActivityDropped, "", err.Error())
		return
	}

	entry, created, err := r.registry.GetOrCreate(r.ctx, key, r.agentFor)
	if err != nil {
		r.logger.Error("dropping activity, no agent for conversation", "key", key.String(), "error", err)
		r.emitActivity(events.ActivityDropped, key.String(), err.Error())
		return
	}
	if created {
		r.live.Store(int64(r.registry.Len()))
	}

	if err := entry.Handler.HandleActivity(r.ctx, act); err != nil {
		r.logger.Error("activity handling failed", "key", key.String(), "entry_id", entry.ID, "error", err)
		r.emitActivity(events.ActivityFailed, key.String(), err.Error())
		return
	}
	r.emitActivity(events.ActivityHandled, key.String(), "")
}

// agentFor is the registry's AgentProvider.
func (r *Router) agentFor(ctx context.Context) (agent.Agent, error) {
	if !r.multiInstance {
		return r.shared, nil
	}
	a, err := agent.New(ctx, r.agents)
	if err != nil {
		return nil, err
	}
	r.logger.Info("conversation instance level agent initiated")
	return a, nil
}

func (r *Router) emitActivity(kind events.Kind, key, detail string) {
	e := events.New(kind)
	e.Key = key
	e.Detail = detail
	e.Live = r.Conversations()
	r.sink.Record(e)
}
