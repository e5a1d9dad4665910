// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package op_test

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"code.hybscloud.com/op"
	"github.com/sirupsen/logrus"
)

type addArgs struct {
	A int `json:"a"`
	B int `json:"b"`
}

func add(_ context.Context, in addArgs) (int, error) {
	return in.A + in.B, nil
}

// quiet returns a logger that discards output.
func quiet() op.Option {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return op.WithLogger(logrus.NewEntry(l))
}

// newPair connects a producer and a consumer over a pipe. The consumer
// serves "add". Both sides are closed when the test ends.
func newPair(tb testing.TB, opts ...op.Option) (*op.Producer, *op.Consumer) {
	tb.Helper()
	p, c, err := op.Connect(append([]op.Option{quiet()}, opts...)...)
	if err != nil {
		tb.Fatalf("Connect: %v", err)
	}
	c.Register("add", op.Func(add))
	tb.Cleanup(func() {
		p.Close()
		c.Close()
	})
	return p, c
}

// eventually polls cond until it holds or a second has passed.
func eventually(tb testing.TB, cond func() bool) {
	tb.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			tb.Fatal("condition not met within 1s")
		}
		time.Sleep(time.Millisecond)
	}
}

// wait blocks until ch is closed or fails the test after a second.
func wait(tb testing.TB, ch <-chan struct{}) {
	tb.Helper()
	select {
	case <-ch:
	case <-time.After(time.Second):
		tb.Fatal("timed out waiting")
	}
}

// recorder is a Port that records what is sent and delivers injected
// events synchronously.
type recorder struct {
	mu   sync.Mutex
	sent []*op.Message
	fn   func(any)
	err  error
}

func (r *recorder) Send(msg *op.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, msg)
	return nil
}

func (r *recorder) Listen(fn func(any)) func() {
	r.mu.Lock()
	r.fn = fn
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		r.fn = nil
		r.mu.Unlock()
	}
}

func (r *recorder) deliver(event any) {
	r.mu.Lock()
	fn := r.fn
	r.mu.Unlock()
	if fn != nil {
		fn(event)
	}
}

func (r *recorder) messages() []*op.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*op.Message(nil), r.sent...)
}

func (r *recorder) listening() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fn != nil
}

// stalled is a recorder that accepts limit messages and then blocks every
// Send until Close, like a peer that stopped reading.
type stalled struct {
	*recorder
	limit   int
	release chan struct{}
	once    sync.Once
}

func newStalled(limit int) *stalled {
	return &stalled{recorder: &recorder{}, limit: limit, release: make(chan struct{})}
}

func (s *stalled) Send(msg *op.Message) error {
	s.mu.Lock()
	if len(s.sent) < s.limit {
		s.sent = append(s.sent, msg)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	<-s.release
	return op.ErrClosed
}

func (s *stalled) Close() error {
	s.once.Do(func() { close(s.release) })
	return nil
}

func (s *stalled) isClosed() bool {
	select {
	case <-s.release:
		return true
	default:
		return false
	}
}

func newRecorded(tb testing.TB, opts ...op.Option) (*op.Producer, *recorder) {
	tb.Helper()
	r := &recorder{}
	p, err := op.NewProducer(r, append([]op.Option{quiet()}, opts...)...)
	if err != nil {
		tb.Fatalf("NewProducer: %v", err)
	}
	tb.Cleanup(func() { p.Close() })
	return p, r
}
