// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package op

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Consumer runs registered handlers for the calls and subscriptions that
// arrive on a port. It is safe for concurrent use.
type Consumer struct {
	d       *dispatcher
	log     *logrus.Entry
	metrics *Metrics
	ctx     context.Context
	cancel  context.CancelCauseFunc

	mu       sync.Mutex
	handlers map[string]Handler
	active   map[string]*operation
	hooks    hooks
	closed   bool
}

// operation is one executing handler, keyed by correlation id.
type operation struct {
	id     string
	name   string
	cancel context.CancelCauseFunc
	start  time.Time
}

// NewConsumer starts listening on port and returns the consumer.
// Handlers may be registered before or after messages start to arrive;
// calls for unknown names fail with a "not registered" error.
func NewConsumer(port Port, opts ...Option) *Consumer {
	o := buildOptions(sideConsumer, opts)
	ctx, cancel := context.WithCancelCause(context.Background())
	c := &Consumer{
		log:      o.logger,
		metrics:  o.metrics,
		ctx:      ctx,
		cancel:   cancel,
		handlers: make(map[string]Handler),
		active:   make(map[string]*operation),
	}
	c.d = newDispatcher(port, routes{
		call:        c.onCall,
		cancel:      c.onAbort,
		subscribe:   c.onSubscribe,
		unsubscribe: c.onAbort,
	}, sideConsumer, c.log, c.metrics)
	return c
}

// Register installs h for operation name. A later registration for the
// same name replaces the earlier one.
func (c *Consumer) Register(name string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if _, ok := c.handlers[name]; ok {
		c.log.WithField("op", name).Debug("Replaced handler")
	}
	c.handlers[name] = h
}

// RegisterAll installs every handler of m.
func (c *Consumer) RegisterAll(m map[string]Handler) {
	for name, h := range m {
		c.Register(name, h)
	}
}

// OnBefore adds fn to the hooks run before each handler of name.
func (c *Consumer) OnBefore(name string, fn BeforeHook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.hooks.onBefore(name, fn)
	}
}

// OnAfter adds fn to the hooks run for each value a handler of name produced.
func (c *Consumer) OnAfter(name string, fn AfterHook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.hooks.onAfter(name, fn)
	}
}

// Active returns the number of executing operations.
func (c *Consumer) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

func (c *Consumer) onCall(msg *Message) {
	c.begin(msg, false)
}

func (c *Consumer) onSubscribe(msg *Message) {
	c.begin(msg, true)
}

// begin looks up the handler of msg, tracks the operation and starts it
// on its own goroutine.
func (c *Consumer) begin(msg *Message, stream bool) {
	log := c.log.WithFields(logrus.Fields{"id": msg.ID, "op": msg.Name})

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	h, ok := c.handlers[msg.Name]
	if !ok {
		c.mu.Unlock()
		log.Debug("Rejected unregistered operation")
		c.metrics.started(sideConsumer, msg.Name)
		c.metrics.finished(sideConsumer, msg.Name, OutcomeError, time.Now())
		kind := KindReturn
		if stream {
			kind = KindError
		}
		c.d.post(&Message{Type: kind, ID: msg.ID, Error: notRegistered(msg.Name)})
		return
	}
	if _, dup := c.active[msg.ID]; dup {
		c.mu.Unlock()
		log.Warn("Dropped operation with duplicate id")
		return
	}
	ctx, cancel := context.WithCancelCause(c.ctx)
	op := &operation{id: msg.ID, name: msg.Name, cancel: cancel, start: time.Now()}
	c.active[op.id] = op
	before, after := c.hooks.snapshot(op.name)
	c.mu.Unlock()

	c.metrics.started(sideConsumer, op.name)
	payload := messageValue(msg.Payload, msg.Attachments)
	run := c.runCall
	if stream {
		run = c.runStream
	}
	go func() {
		defer cancel(nil)
		fireBefore(log, before, op.name, payload)
		run(ctx, op, h, payload, after, log)
	}()
}

// serve runs h and turns a panic into an error.
func serve(ctx context.Context, h Handler, payload Value, emit func(any) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return h.serve(ctx, payload, emit)
}

// runCall takes the first value h emits and replies with a single return.
func (c *Consumer) runCall(ctx context.Context, op *operation, h Handler, payload Value, after []AfterHook, log *logrus.Entry) {
	var (
		mu     sync.Mutex
		got    bool
		result any
	)
	emit := func(v any) error {
		mu.Lock()
		defer mu.Unlock()
		if !got {
			got, result = true, v
		}
		return errTaken
	}
	err := serve(ctx, h, payload, emit)
	mu.Lock()
	taken, v := got, result
	mu.Unlock()

	c.untrack(op)
	reply := &Message{Type: KindReturn, ID: op.id}
	outcome := OutcomeOK
	switch {
	case taken:
		fireAfter(log, after, op.name, payload, v)
		enc, encErr := encodeValue(v)
		if encErr != nil {
			log.Warnf("Failed to encode result: %v", encErr)
			reply.Error = errorText(fmt.Errorf("encode result: %w", encErr))
			outcome = OutcomeError
			break
		}
		reply.Data, reply.Attachments = enc.raw, enc.attachments
		if c.reply(reply) {
			enc.commit()
		}
		c.metrics.finished(sideConsumer, op.name, outcome, op.start)
		return
	case err != nil:
		log.Debugf("Operation failed: %v", err)
		reply.Error = errorText(err)
		outcome = failureOutcome(ctx, err)
	default:
		reply.Error = fmt.Sprintf("operation [%s] completed without a value", op.name)
		outcome = OutcomeError
	}
	c.reply(reply)
	c.metrics.finished(sideConsumer, op.name, outcome, op.start)
}

// runStream forwards every value h emits as next, then completes or fails
// the stream. Emitting after the producer unsubscribed returns the abort
// cause.
func (c *Consumer) runStream(ctx context.Context, op *operation, h Handler, payload Value, after []AfterHook, log *logrus.Entry) {
	var mu sync.Mutex
	emit := func(v any) error {
		mu.Lock()
		defer mu.Unlock()
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		fireAfter(log, after, op.name, payload, v)
		enc, err := encodeValue(v)
		if err != nil {
			return fmt.Errorf("op: encode value: %w", err)
		}
		if err := c.d.send(&Message{Type: KindNext, ID: op.id, Data: enc.raw, Attachments: enc.attachments}); err != nil {
			return err
		}
		enc.commit()
		return nil
	}
	err := serve(ctx, h, payload, emit)
	mu.Lock()
	defer mu.Unlock()

	c.untrack(op)
	if err != nil {
		log.Debugf("Stream failed: %v", err)
		c.reply(&Message{Type: KindError, ID: op.id, Error: errorText(err)})
		c.metrics.finished(sideConsumer, op.name, failureOutcome(ctx, err), op.start)
		return
	}
	c.reply(&Message{Type: KindComplete, ID: op.id})
	c.metrics.finished(sideConsumer, op.name, OutcomeComplete, op.start)
}

func failureOutcome(ctx context.Context, err error) string {
	cause := context.Cause(ctx)
	switch {
	case errors.Is(cause, ErrDestroyed):
		return OutcomeDestroyed
	case cause != nil && (errors.Is(err, cause) || errors.Is(err, context.Canceled)):
		return OutcomeCanceled
	}
	return OutcomeError
}

// reply sends msg and reports whether it was sent. A closed consumer
// drops replies silently.
func (c *Consumer) reply(msg *Message) bool {
	if err := c.d.send(msg); err != nil {
		if !errors.Is(err, ErrClosed) {
			c.log.WithField("id", msg.ID).Warnf("Failed to send %s: %v", msg.Type, err)
		}
		return false
	}
	return true
}

// untrack removes op from the active table. An id reused after op ended
// refers to a different operation and is left alone.
func (c *Consumer) untrack(op *operation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active[op.id] == op {
		delete(c.active, op.id)
	}
}

// onAbort handles cancel and unsubscribe. It signals the handler and sends
// nothing; the handler's reaction produces the terminal message.
func (c *Consumer) onAbort(msg *Message) {
	c.mu.Lock()
	op, ok := c.active[msg.ID]
	c.mu.Unlock()
	if !ok {
		return
	}
	c.log.WithFields(logrus.Fields{"id": op.id, "op": op.name}).Debugf("Aborting on %s", msg.Type)
	op.cancel(ErrAborted)
}

// Close aborts every executing handler with cause ErrDestroyed, clears the
// handler registry and hooks, and closes the port. Close is idempotent.
func (c *Consumer) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	active := c.active
	c.active = make(map[string]*operation)
	c.handlers = make(map[string]Handler)
	c.hooks = hooks{}
	c.mu.Unlock()

	for _, op := range active {
		op.cancel(ErrDestroyed)
	}
	c.cancel(ErrDestroyed)
	return c.d.close()
}
