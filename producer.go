// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package op

import (
	"context"
	"fmt"
	"sync"
	"time"

	"code.hybscloud.com/kont"
	"github.com/sirupsen/logrus"
)

// Producer issues calls and subscriptions over a port and correlates the
// replies by id. It is safe for concurrent use.
type Producer struct {
	d       *dispatcher
	log     *logrus.Entry
	metrics *Metrics
	timeout Timeout

	mu        sync.Mutex
	seq       sequence
	calls     map[string]*Call
	subs      map[string]*Subscription
	destroyed bool
}

// NewProducer starts listening on port and returns the producer.
func NewProducer(port Port, opts ...Option) (*Producer, error) {
	o := buildOptions(sideProducer, opts)
	if err := o.timeout.validate(); err != nil {
		return nil, err
	}
	p := &Producer{
		log:     o.logger,
		metrics: o.metrics,
		timeout: o.timeout,
		seq:     make(sequence),
		calls:   make(map[string]*Call),
		subs:    make(map[string]*Subscription),
	}
	p.d = newDispatcher(port, routes{
		ret:      p.onReturn,
		next:     p.onNext,
		err:      p.onError,
		complete: p.onComplete,
	}, sideProducer, p.log, p.metrics)
	return p, nil
}

// Call is a pending one-shot operation. It settles exactly once.
type Call struct {
	p     *Producer
	id    string
	name  string
	start time.Time
	done  chan struct{}
	res   kont.Either[error, Value]

	// Set while pending, under p.mu.
	timer *time.Timer
	stop  func() bool
}

// ID returns the correlation id, or "" if the call was never issued.
func (c *Call) ID() string {
	return c.id
}

// Done is closed once the call has settled.
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Result blocks until the call settles and returns the consumer's value or
// one of: a *RemoteError, ErrCanceled, ErrTimeout or ErrDestroyed.
func (c *Call) Result() (Value, error) {
	res := c.Either()
	if err, ok := res.GetLeft(); ok {
		return Value{}, err
	}
	v, _ := res.GetRight()
	return v, nil
}

// Either blocks until the call settles and returns the outcome as Left on
// failure or Right with the consumer's value.
func (c *Call) Either() kont.Either[error, Value] {
	<-c.done
	return c.res
}

// Cancel settles a pending call with ErrCanceled and tells the consumer to
// stop. Canceling a settled call has no effect.
func (c *Call) Cancel() {
	c.p.abort(c, ErrCanceled, OutcomeCanceled)
}

func (c *Call) finish(res kont.Either[error, Value]) {
	if c.timer != nil {
		c.timer.Stop()
	}
	if c.stop != nil {
		c.stop()
	}
	c.res = res
	close(c.done)
}

func failed(err error) kont.Either[error, Value] {
	return kont.Left[error, Value](err)
}

// Call invokes operation name once with payload. Wrap the payload with
// [Transfer] to move buffers instead of copying them.
//
// Canceling ctx cancels the call. A ctx that is already done settles the
// call with ErrCanceled without sending anything.
func (p *Producer) Call(ctx context.Context, name string, payload any) *Call {
	c := &Call{p: p, name: name, start: time.Now(), done: make(chan struct{})}

	enc, encErr := encodeValue(payload)

	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		c.finish(failed(fmt.Errorf("op: call %s: %w", name, ErrDestroyed)))
		return c
	}
	c.id = p.seq.next(name)
	if encErr != nil {
		p.mu.Unlock()
		c.finish(failed(fmt.Errorf("op: call %s: encode payload: %w", c.id, encErr)))
		return c
	}
	if ctx.Err() != nil {
		p.mu.Unlock()
		c.finish(failed(fmt.Errorf("op: call %s: %w", c.id, ErrCanceled)))
		return c
	}
	p.calls[c.id] = c
	p.mu.Unlock()
	p.metrics.started(sideProducer, name)

	err := p.d.send(&Message{
		Type:        KindCall,
		ID:          c.id,
		Name:        name,
		Payload:     enc.raw,
		Attachments: enc.attachments,
	})
	if err != nil {
		p.log.WithField("id", c.id).Warnf("Failed to send call: %v", err)
		if p.settle(c.id, failed(fmt.Errorf("op: call %s: %w", c.id, err))) != nil {
			p.metrics.finished(sideProducer, name, OutcomeError, c.start)
		}
		return c
	}
	enc.commit()
	p.arm(ctx, c)
	return c
}

// arm starts the timeout timer and the context watch of a pending call.
// A call that already settled is left alone.
func (p *Producer) arm(ctx context.Context, c *Call) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.calls[c.id] != c {
		return
	}
	if p.timeout.Enabled() {
		c.timer = time.AfterFunc(p.timeout.Duration(), func() {
			p.abort(c, ErrTimeout, OutcomeTimeout)
		})
	}
	if ctx.Done() != nil {
		c.stop = context.AfterFunc(ctx, func() {
			p.abort(c, ErrCanceled, OutcomeCanceled)
		})
	}
}

// settle removes the pending call with id and settles it with res.
// It returns nil if no such call is pending.
func (p *Producer) settle(id string, res kont.Either[error, Value]) *Call {
	p.mu.Lock()
	c, ok := p.calls[id]
	if ok {
		delete(p.calls, id)
	}
	p.mu.Unlock()
	if !ok {
		return nil
	}
	c.finish(res)
	return c
}

// abort settles c locally with reason and sends cancel to the consumer
// without waiting for an acknowledgment.
func (p *Producer) abort(c *Call, reason error, outcome string) {
	if p.settle(c.id, failed(fmt.Errorf("op: call %s: %w", c.id, reason))) == nil {
		return
	}
	p.metrics.finished(sideProducer, c.name, outcome, c.start)
	p.sendControl(KindCancel, c.id)
}

// sendControl queues a cancel or unsubscribe. It may run on the port's
// receive goroutine and never waits for the port.
func (p *Producer) sendControl(kind Kind, id string) {
	p.d.post(&Message{Type: kind, ID: id})
}

func (p *Producer) onReturn(msg *Message) {
	var res kont.Either[error, Value]
	outcome := OutcomeOK
	if msg.Failed() {
		res = failed(&RemoteError{Op: opName(msg.ID), ID: msg.ID, Message: msg.Error})
		outcome = OutcomeError
	} else {
		res = kont.Right[error, Value](messageValue(msg.Data, msg.Attachments))
	}
	c := p.settle(msg.ID, res)
	if c == nil {
		p.log.WithField("id", msg.ID).Debug("Dropped return for settled call")
		return
	}
	p.metrics.finished(sideProducer, c.name, outcome, c.start)
}

// Inflight returns the number of pending calls and live subscriptions.
func (p *Producer) Inflight() (calls, subscriptions int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls), len(p.subs)
}

// Close settles every pending call with ErrDestroyed, completes every live
// subscription and closes the port. Calls and subscriptions started after
// Close fail with ErrDestroyed. Close is idempotent.
//
// The unsubscribe messages of the completed subscriptions are sent
// best-effort: Close waits for them a bounded time and does not hang on a
// peer that stopped reading.
func (p *Producer) Close() error {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return nil
	}
	p.destroyed = true
	calls := p.calls
	subs := p.subs
	p.calls = make(map[string]*Call)
	p.subs = make(map[string]*Subscription)
	p.mu.Unlock()

	for _, c := range calls {
		c.finish(failed(fmt.Errorf("op: call %s: %w", c.id, ErrDestroyed)))
		p.metrics.finished(sideProducer, c.name, OutcomeDestroyed, c.start)
	}
	for _, s := range subs {
		s.terminate(nil, OutcomeDestroyed)
	}
	return p.d.close()
}

// Invoke calls operation name and decodes the result into T.
func Invoke[T any](ctx context.Context, p *Producer, name string, payload any) (T, error) {
	var out T
	v, err := p.Call(ctx, name, payload).Result()
	if err != nil {
		return out, err
	}
	if err := v.Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}

// opName returns the operation part of a correlation id.
func opName(id string) string {
	for i := len(id) - 1; i >= 0; i-- {
		if id[i] == ':' {
			return id[:i]
		}
	}
	return id
}
