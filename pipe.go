// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package op

import (
	"sync"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
	"code.hybscloud.com/lfq"
)

// pipeCapacity is the bounded capacity of each pipe direction.
// Senders back off while the peer drains a full queue.
const pipeCapacity = 64

// Endpoint is one side of an in-memory duplex pipe. It implements [Port].
//
// Messages are passed by pointer without encoding, so attachments moved by
// a transfer are never copied. Each direction is a bounded single-producer
// single-consumer queue from lfq; sends on one endpoint are serialized, and
// a single goroutine, started by the first Listen, drains the receive side.
type Endpoint struct {
	sendQ  *lfq.SPSC[any]
	recvQ  *lfq.SPSC[any]
	closed *atomix.Uint32
	serial Serial

	sendMu sync.Mutex
	ls     listeners
	start  sync.Once
}

// endpointPair holds both endpoints, queues, and the shared close flag
// in a single allocation.
type endpointPair struct {
	a      Endpoint
	b      Endpoint
	closed atomix.Uint32
	dataAB lfq.SPSC[any]
	dataBA lfq.SPSC[any]
}

// NewPipe creates a connected pair of endpoints. Closing either endpoint
// closes the pipe for both.
func NewPipe() (*Endpoint, *Endpoint) {
	s := nextSerial()

	pair := &endpointPair{}
	pair.dataAB.Init(pipeCapacity)
	pair.dataBA.Init(pipeCapacity)

	pair.a = Endpoint{
		sendQ:  &pair.dataAB,
		recvQ:  &pair.dataBA,
		closed: &pair.closed,
		serial: s,
	}
	pair.b = Endpoint{
		sendQ:  &pair.dataBA,
		recvQ:  &pair.dataAB,
		closed: &pair.closed,
		serial: s,
	}
	return &pair.a, &pair.b
}

// Serial returns the serial number assigned to this endpoint's pipe.
func (ep *Endpoint) Serial() Serial {
	return ep.serial
}

// Send delivers msg to the peer endpoint.
func (ep *Endpoint) Send(msg *Message) error {
	return ep.Post(msg)
}

// Post delivers an arbitrary event to the peer. Events that are not
// protocol messages are dropped by the peer's dispatcher.
// Blocks with adaptive backoff while the queue is full.
func (ep *Endpoint) Post(event any) error {
	ep.sendMu.Lock()
	defer ep.sendMu.Unlock()

	var bo iox.Backoff
	for {
		if ep.closed.Load() != 0 {
			return ErrClosed
		}
		err := ep.sendQ.Enqueue(&event)
		if err == nil {
			return nil
		}
		if !iox.IsWouldBlock(err) {
			return err
		}
		bo.Wait()
	}
}

// Listen registers fn for incoming events. The receive goroutine starts on
// the first call; events posted before that are queued.
func (ep *Endpoint) Listen(fn func(event any)) func() {
	unlisten := ep.ls.add(fn)
	ep.start.Do(func() {
		go ep.drain()
	})
	return unlisten
}

// Close closes the pipe. It is safe to call more than once.
func (ep *Endpoint) Close() error {
	ep.closed.Add(1)
	return nil
}

// drain delivers queued events until the pipe is closed, backing off with
// iox.Backoff while the queue is empty.
func (ep *Endpoint) drain() {
	var bo iox.Backoff
	for ep.closed.Load() == 0 {
		event, err := ep.recvQ.Dequeue()
		if err != nil {
			bo.Wait()
			continue
		}
		bo.Reset()
		ep.ls.emit(event)
	}
}
