// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package op

import (
	"fmt"
	"sync"
	"time"
)

// Observer receives the values of a subscription. Any field may be nil.
//
// Callbacks run on the port's receive goroutine, one at a time and in
// message order. Error and Complete are mutually exclusive and called at
// most once.
type Observer struct {
	Next     func(Value)
	Error    func(error)
	Complete func()
}

// Observable is a lazy stream of an operation's values. Nothing is sent
// until Subscribe is called, and every Subscribe opens an independent
// stream with a new id.
type Observable struct {
	p       *Producer
	name    string
	payload any
}

// Observe returns the stream of operation name with payload.
func (p *Producer) Observe(name string, payload any) *Observable {
	return &Observable{p: p, name: name, payload: payload}
}

// Subscription is one live stream.
type Subscription struct {
	p     *Producer
	id    string
	name  string
	obs   Observer
	start time.Time
	done  chan struct{}

	mu     sync.Mutex
	closed bool
	err    error

	teardown sync.Once
}

// ID returns the correlation id, or "" if nothing was sent.
func (s *Subscription) ID() string {
	return s.id
}

// Done is closed when the subscription completes, errors or is unsubscribed.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err returns the terminal error, or nil after completion or Unsubscribe.
// It is meaningful once Done is closed.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Subscribe opens a new stream and delivers its values to obs.
// A payload that cannot be sent is reported through obs.Error.
func (o *Observable) Subscribe(obs Observer) *Subscription {
	p := o.p
	s := &Subscription{p: p, name: o.name, obs: obs, start: time.Now(), done: make(chan struct{})}

	enc, encErr := encodeValue(o.payload)

	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		s.fail(fmt.Errorf("op: subscribe %s: %w", o.name, ErrDestroyed))
		return s
	}
	s.id = p.seq.next(o.name)
	if encErr != nil {
		p.mu.Unlock()
		s.fail(fmt.Errorf("op: subscribe %s: encode payload: %w", s.id, encErr))
		return s
	}
	p.subs[s.id] = s
	p.mu.Unlock()
	p.metrics.started(sideProducer, o.name)

	err := p.d.send(&Message{
		Type:        KindSubscribe,
		ID:          s.id,
		Name:        o.name,
		Payload:     enc.raw,
		Attachments: enc.attachments,
	})
	if err != nil {
		p.log.WithField("id", s.id).Warnf("Failed to send subscribe: %v", err)
		if p.removeSub(s.id) == s {
			s.teardown.Do(func() {})
			s.terminate(fmt.Errorf("op: subscribe %s: %w", s.id, err), OutcomeError)
		}
		return s
	}
	enc.commit()
	return s
}

// Unsubscribe ends the subscription and tells the consumer to stop.
// Values arriving afterwards are ignored. Unsubscribe is idempotent.
func (s *Subscription) Unsubscribe() {
	if s.id == "" {
		return
	}
	s.p.removeSub(s.id)
	if !s.close(nil) {
		return
	}
	s.p.metrics.finished(sideProducer, s.name, OutcomeCanceled, s.start)
	s.unsubscribe()
}

// unsubscribe sends the unsubscribe message exactly once per subscription.
func (s *Subscription) unsubscribe() {
	s.teardown.Do(func() {
		s.p.sendControl(KindUnsubscribe, s.id)
	})
}

// close marks s closed with err. It reports false if s was already closed.
func (s *Subscription) close(err error) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.closed = true
	s.err = err
	s.mu.Unlock()
	close(s.done)
	return true
}

// fail ends a subscription that was never registered.
func (s *Subscription) fail(err error) {
	s.teardown.Do(func() {})
	if s.close(err) && s.obs.Error != nil {
		s.obs.Error(err)
	}
}

// terminate delivers completion (err == nil) or err, then tears down.
func (s *Subscription) terminate(err error, outcome string) {
	if !s.close(err) {
		return
	}
	s.p.metrics.finished(sideProducer, s.name, outcome, s.start)
	if err != nil {
		if s.obs.Error != nil {
			s.obs.Error(err)
		}
	} else if s.obs.Complete != nil {
		s.obs.Complete()
	}
	s.unsubscribe()
}

func (s *Subscription) next(v Value) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed || s.obs.Next == nil {
		return
	}
	s.obs.Next(v)
}

func (p *Producer) removeSub(id string) *Subscription {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.subs[id]
	if !ok {
		return nil
	}
	delete(p.subs, id)
	return s
}

func (p *Producer) lookupSub(id string) *Subscription {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.subs[id]
}

func (p *Producer) onNext(msg *Message) {
	s := p.lookupSub(msg.ID)
	if s == nil {
		p.log.WithField("id", msg.ID).Debug("Dropped next for closed subscription")
		return
	}
	s.next(messageValue(msg.Data, msg.Attachments))
}

func (p *Producer) onError(msg *Message) {
	s := p.removeSub(msg.ID)
	if s == nil {
		p.log.WithField("id", msg.ID).Debug("Dropped error for closed subscription")
		return
	}
	s.terminate(&RemoteError{Op: s.name, ID: msg.ID, Message: nonEmpty(msg.Error)}, OutcomeError)
}

func (p *Producer) onComplete(msg *Message) {
	s := p.removeSub(msg.ID)
	if s == nil {
		p.log.WithField("id", msg.ID).Debug("Dropped complete for closed subscription")
		return
	}
	s.terminate(nil, OutcomeComplete)
}
