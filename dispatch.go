// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package op

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// flushTimeout bounds how long close waits for queued messages to be sent
// before it closes the port underneath a blocked writer.
const flushTimeout = 250 * time.Millisecond

// routes is the per-kind handler table a side supplies to its dispatcher.
// A nil entry drops messages of that kind.
type routes struct {
	call        func(*Message)
	cancel      func(*Message)
	subscribe   func(*Message)
	unsubscribe func(*Message)
	ret         func(*Message)
	next        func(*Message)
	err         func(*Message)
	complete    func(*Message)
}

// dispatcher owns the listen/unlisten lifecycle of a port. It is listening
// from construction until close; a closed dispatcher cannot be reopened.
//
// Messages sent while handling a received message go through the outbox and
// a writer goroutine, so the port's receive goroutine never waits on a full
// peer queue.
type dispatcher struct {
	port    Port
	routes  routes
	side    string
	log     *logrus.Entry
	metrics *Metrics

	mu       sync.Mutex
	closed   bool
	unlisten func()
	outbox   []*Message
	wake     chan struct{}
	flushed  chan struct{}
}

func newDispatcher(port Port, r routes, side string, log *logrus.Entry, m *Metrics) *dispatcher {
	d := &dispatcher{
		port:    port,
		routes:  r,
		side:    side,
		log:     log,
		metrics: m,
		wake:    make(chan struct{}, 1),
		flushed: make(chan struct{}),
	}
	go d.write()
	d.unlisten = port.Listen(d.receive)
	return d
}

func (d *dispatcher) receive(event any) {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return
	}
	msg, ok := acceptEvent(event)
	if !ok {
		d.metrics.dropped(d.side)
		d.log.Debugf("Dropped foreign event of type %T", event)
		return
	}
	d.route(msg)
}

func (d *dispatcher) route(msg *Message) {
	var fn func(*Message)
	switch msg.Type {
	case KindCall:
		fn = d.routes.call
	case KindCancel:
		fn = d.routes.cancel
	case KindSubscribe:
		fn = d.routes.subscribe
	case KindUnsubscribe:
		fn = d.routes.unsubscribe
	case KindReturn:
		fn = d.routes.ret
	case KindNext:
		fn = d.routes.next
	case KindError:
		fn = d.routes.err
	case KindComplete:
		fn = d.routes.complete
	}
	if fn == nil {
		d.log.WithField("id", msg.ID).Debugf("No route for %s message", msg.Type)
		return
	}
	fn(msg)
}

func (d *dispatcher) send(msg *Message) error {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return d.port.Send(msg)
}

// post queues msg for the writer goroutine and returns at once.
// Messages posted after close are dropped.
func (d *dispatcher) post(msg *Message) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.outbox = append(d.outbox, msg)
	d.mu.Unlock()
	d.signal()
}

func (d *dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// write sends posted messages in order until the dispatcher is closed and
// the outbox is empty.
func (d *dispatcher) write() {
	defer close(d.flushed)
	for {
		d.mu.Lock()
		batch := d.outbox
		d.outbox = nil
		closed := d.closed
		d.mu.Unlock()

		for _, msg := range batch {
			if err := d.port.Send(msg); err != nil && !errors.Is(err, ErrClosed) {
				d.log.WithField("id", msg.ID).Warnf("Failed to send %s: %v", msg.Type, err)
			}
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		<-d.wake
	}
}

// close stops listening, gives the outbox up to flushTimeout to drain and
// closes the port if it can be closed. Only the first call has an effect.
func (d *dispatcher) close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	unlisten := d.unlisten
	d.mu.Unlock()

	unlisten()
	d.signal()
	timer := time.NewTimer(flushTimeout)
	defer timer.Stop()
	select {
	case <-d.flushed:
	case <-timer.C:
		d.log.Warn("Closing port with unsent messages")
	}
	if c, ok := d.port.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
