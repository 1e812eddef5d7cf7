// Package router implements the asynchronous decision engine of pulse.
//
// Input receivers enqueue normalized messages fire-and-forget; a single
// consumer goroutine drains the queue in strict FIFO order, classifies
// each message into a routing decision, and publishes the results on the
// event bus. The input path and the output path share no call edge; the
// bus is the only coupling point.
package router

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/pulsebot/pulse/pkg/breaker"
	"github.com/pulsebot/pulse/pkg/eventbus"
	"github.com/pulsebot/pulse/pkg/logger"
)

const source = "router"

// Config tunes queue depth and shutdown behavior.
type Config struct {
	// QueueSize bounds the FIFO input queue.
	QueueSize int
	// ShutdownGrace is how long Cleanup waits for in-flight work before
	// cancelling it.
	ShutdownGrace time.Duration
	// ContextLimit is how many prior turns are retrieved for reasoning.
	ContextLimit int
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 10 * time.Second
	}
	if c.ContextLimit <= 0 {
		c.ContextLimit = 20
	}
	return c
}

// Router consumes InputMessages and decides whether/how/where to respond.
type Router struct {
	bus       *eventbus.Bus
	store     Store
	contexts  ContextProvider
	decider   Decider
	responder Responder
	delegator Delegator
	breakers  *breaker.Registry
	cfg       Config

	mu     sync.RWMutex
	queue  chan InputMessage
	closed bool

	cancel      context.CancelFunc
	wg          sync.WaitGroup
	cleanupOnce sync.Once

	accepted  int64
	processed int64
	responded int64
	delegated int64
	ignored   int64
	failures  int64
}

// New wires a router to its bus and collaborators. Call Start to launch
// the consumer loop.
func New(bus *eventbus.Bus, store Store, contexts ContextProvider, decider Decider, responder Responder, delegator Delegator, breakers *breaker.Registry, cfg Config) *Router {
	cfg = cfg.withDefaults()
	return &Router{
		bus:       bus,
		store:     store,
		contexts:  contexts,
		decider:   decider,
		responder: responder,
		delegator: delegator,
		breakers:  breakers,
		cfg:       cfg,
		queue:     make(chan InputMessage, cfg.QueueSize),
	}
}

// Start launches the single consumer goroutine. The loop runs until
// Cleanup is called or ctx is cancelled.
func (r *Router) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go r.consume(ctx)
	logger.InfoCF("router", "Consumer started", map[string]interface{}{
		"queue_size": r.cfg.QueueSize,
	})
}

// ProcessInput enqueues a message and returns immediately. It returns
// false when the message is unscoped, the queue is full, or the router
// has been closed for shutdown. Fire-and-forget: the caller gets no
// correlation to an eventual response.
func (r *Router) ProcessInput(msg InputMessage) bool {
	if err := msg.Validate(); err != nil {
		logger.WarnCF("router", "Rejected malformed input", map[string]interface{}{
			"error": err.Error(),
		})
		return false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return false
	}

	select {
	case r.queue <- msg:
		atomic.AddInt64(&r.accepted, 1)
		return true
	default:
		logger.WarnCF("router", "Input queue full, message rejected", map[string]interface{}{
			"conversation_id": msg.ConversationID,
		})
		return false
	}
}

func (r *Router) consume(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-r.queue:
			if !ok {
				return
			}
			r.handle(ctx, msg)
		}
	}
}

// handle processes one message inside a per-message error boundary. A
// single bad message never halts the consumer loop, and the typing
// indicator is always cleared, on every path including panics.
func (r *Router) handle(ctx context.Context, msg InputMessage) {
	atomic.AddInt64(&r.processed, 1)

	refID := msg.Metadata["reference_id"]
	if refID == "" {
		refID = uuid.NewString()
	}
	traceID := uuid.NewString()

	r.publishTyping(msg, true, traceID, refID)
	defer r.publishTyping(msg, false, traceID, refID)
	defer func() {
		if rec := recover(); rec != nil {
			atomic.AddInt64(&r.failures, 1)
			logger.ErrorCF("router", "Panic while processing message", map[string]interface{}{
				"reference_id": refID,
				"panic":        rec,
			})
			r.publishError(msg, fmt.Sprintf("internal error: %v", rec), traceID, refID)
		}
	}()

	if err := r.process(ctx, msg, traceID, refID); err != nil {
		atomic.AddInt64(&r.failures, 1)
		logger.ErrorCF("router", "Message processing failed", map[string]interface{}{
			"reference_id":    refID,
			"conversation_id": msg.ConversationID,
			"error":           err.Error(),
		})
		r.publishError(msg, err.Error(), traceID, refID)
	}
}

func (r *Router) process(ctx context.Context, msg InputMessage, traceID, refID string) error {
	// Snapshot prior turns before recording this one, so the reasoning
	// history never contains the message being decided.
	history := r.retrieveContext(ctx, msg)
	r.saveInbound(ctx, msg)

	var decision RoutingDecision
	err := r.breakers.Get("reasoning").Execute(ctx, func(ctx context.Context) error {
		var derr error
		decision, derr = r.decider.Decide(ctx, msg, history)
		return derr
	})
	if err != nil {
		return fmt.Errorf("decide: %w", err)
	}
	decision = decision.normalize()
	decision.ReferenceID = refID

	logger.DebugCF("router", "Routing decision", map[string]interface{}{
		"reference_id": refID,
		"action":       string(decision.Action),
		"priority":     decision.Priority,
	})

	switch decision.Action {
	case ActionRespond:
		return r.respond(ctx, msg, decision, history, traceID)
	case ActionProcess:
		return r.progress(msg, decision, traceID)
	case ActionDelegate:
		return r.delegate(ctx, msg, decision, traceID)
	case ActionIgnore:
		atomic.AddInt64(&r.ignored, 1)
		return nil
	}
	return nil
}

// saveInbound records the user's message so later turns retrieve it as
// context. Best-effort: a storage failure degrades future context but
// never blocks routing the message at hand.
func (r *Router) saveInbound(ctx context.Context, msg InputMessage) {
	err := r.breakers.Get("storage").Execute(ctx, func(ctx context.Context) error {
		_, serr := r.store.SaveMessage(ctx, msg.ConversationID, msg.Content, "user", msg.Metadata)
		return serr
	})
	if err != nil {
		logger.WarnCF("router", "Inbound message not persisted", map[string]interface{}{
			"conversation_id": msg.ConversationID,
			"error":           err.Error(),
		})
	}
}

func (r *Router) retrieveContext(ctx context.Context, msg InputMessage) []ContextMessage {
	if r.contexts == nil {
		return nil
	}
	var history []ContextMessage
	err := r.breakers.Get("context").Execute(ctx, func(ctx context.Context) error {
		var cerr error
		history, cerr = r.contexts.GetContext(ctx, msg.ConversationID, r.cfg.ContextLimit)
		return cerr
	})
	if err != nil {
		// Context is an enhancement, not a requirement: degrade to an
		// empty history rather than failing the message.
		logger.WarnCF("router", "Context retrieval failed", map[string]interface{}{
			"conversation_id": msg.ConversationID,
			"error":           err.Error(),
		})
		return nil
	}
	return history
}

func (r *Router) respond(ctx context.Context, msg InputMessage, decision RoutingDecision, history []ContextMessage, traceID string) error {
	var reply string
	err := r.breakers.Get("reasoning").Execute(ctx, func(ctx context.Context) error {
		var gerr error
		reply, gerr = r.responder.GenerateResponse(ctx, msg, history)
		return gerr
	})
	if err != nil {
		return fmt.Errorf("generate response: %w", err)
	}

	messageID, err := r.saveWithRetry(ctx, msg.ConversationID, reply)
	if err != nil {
		return fmt.Errorf("save message: %w", err)
	}

	targets := decision.TargetChannels
	if len(targets) == 0 {
		targets = []string{msg.ConversationID}
	}
	for _, target := range targets {
		r.bus.PublishTraced(eventbus.EventMessageCreated, map[string]interface{}{
			"conversation_id": target,
			"channel_id":      msg.ChannelID,
			"channel_type":    msg.ChannelType,
			"user_id":         msg.UserID,
			"workspace_id":    msg.WorkspaceID,
			"message_id":      messageID,
			"content":         reply,
			"role":            "assistant",
			"reference_id":    decision.ReferenceID,
		}, source, traceID, decision.ReferenceID)
	}

	atomic.AddInt64(&r.responded, 1)
	return nil
}

// saveWithRetry persists the reply, retrying exactly once on failure.
func (r *Router) saveWithRetry(ctx context.Context, conversationID, content string) (string, error) {
	var messageID string
	save := func(ctx context.Context) error {
		var serr error
		messageID, serr = r.store.SaveMessage(ctx, conversationID, content, "assistant", nil)
		return serr
	}

	storageBreaker := r.breakers.Get("storage")
	err := storageBreaker.Execute(ctx, save)
	if err == nil {
		return messageID, nil
	}
	logger.WarnCF("router", "Save failed, retrying once", map[string]interface{}{
		"conversation_id": conversationID,
		"error":           err.Error(),
	})
	if err = storageBreaker.Execute(ctx, save); err != nil {
		return "", err
	}
	return messageID, nil
}

func (r *Router) progress(msg InputMessage, decision RoutingDecision, traceID string) error {
	status := decision.StatusMessage
	if status == "" {
		status = "working on it"
	}
	return r.bus.PublishTraced(eventbus.EventStatusUpdated, map[string]interface{}{
		"conversation_id": msg.ConversationID,
		"user_id":         msg.UserID,
		"status":          status,
		"priority":        decision.Priority,
		"reference_id":    decision.ReferenceID,
	}, source, traceID, decision.ReferenceID)
}

func (r *Router) delegate(ctx context.Context, msg InputMessage, decision RoutingDecision, traceID string) error {
	if r.delegator == nil {
		return fmt.Errorf("no delegator configured")
	}
	err := r.breakers.Get("delegation").Execute(ctx, func(ctx context.Context) error {
		return r.delegator.Delegate(ctx, msg, decision)
	})
	if err != nil {
		// Handoff failure is reported, never silently dropped.
		r.bus.PublishTraced(eventbus.EventDelegationFailed, map[string]interface{}{
			"conversation_id": msg.ConversationID,
			"reference_id":    decision.ReferenceID,
			"error":           err.Error(),
		}, source, traceID, decision.ReferenceID)
		return fmt.Errorf("delegate: %w", err)
	}

	atomic.AddInt64(&r.delegated, 1)
	return r.bus.PublishTraced(eventbus.EventDelegationDone, map[string]interface{}{
		"conversation_id": msg.ConversationID,
		"reference_id":    decision.ReferenceID,
	}, source, traceID, decision.ReferenceID)
}

func (r *Router) publishTyping(msg InputMessage, typing bool, traceID, refID string) {
	eventType := eventbus.EventTypingStarted
	if !typing {
		eventType = eventbus.EventTypingStopped
	}
	r.bus.PublishTraced(eventType, map[string]interface{}{
		"conversation_id": msg.ConversationID,
		"channel_id":      msg.ChannelID,
		"channel_type":    msg.ChannelType,
		"user_id":         msg.UserID,
		"typing":          typing,
		"reference_id":    refID,
	}, source, traceID, refID)
}

func (r *Router) publishError(msg InputMessage, errMsg, traceID, refID string) {
	// Best-effort: an unpublishable error event must not cascade.
	if err := r.bus.PublishTraced(eventbus.EventErrorRaised, map[string]interface{}{
		"conversation_id": msg.ConversationID,
		"channel_id":      msg.ChannelID,
		"channel_type":    msg.ChannelType,
		"user_id":         msg.UserID,
		"error":           errMsg,
		"reference_id":    refID,
	}, source, traceID, refID); err != nil {
		logger.ErrorCF("router", "Could not publish error event", map[string]interface{}{
			"reference_id": refID,
			"error":        err.Error(),
		})
	}
}

// Cleanup stops accepting input, lets queued messages drain within the
// configured grace period, then cancels the consumer and waits for it to
// terminate. Safe to call more than once, and safe even if the router
// never processed a message.
func (r *Router) Cleanup() {
	r.cleanupOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.queue)
		r.mu.Unlock()

		done := make(chan struct{})
		go func() {
			r.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(r.cfg.ShutdownGrace):
			logger.WarnC("router", "Shutdown grace expired, cancelling in-flight work")
			if r.cancel != nil {
				r.cancel()
			}
			<-done
		}
		if r.cancel != nil {
			r.cancel()
		}
		logger.InfoC("router", "Consumer stopped")
	})
}

// Stats returns a snapshot of router counters.
func (r *Router) Stats() map[string]interface{} {
	r.mu.RLock()
	depth := len(r.queue)
	r.mu.RUnlock()

	return map[string]interface{}{
		"accepted":    atomic.LoadInt64(&r.accepted),
		"processed":   atomic.LoadInt64(&r.processed),
		"responded":   atomic.LoadInt64(&r.responded),
		"delegated":   atomic.LoadInt64(&r.delegated),
		"ignored":     atomic.LoadInt64(&r.ignored),
		"failures":    atomic.LoadInt64(&r.failures),
		"queue_depth": depth,
	}
}
