// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package op_test

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"code.hybscloud.com/op"
	"golang.org/x/sync/errgroup"
)

func TestCallRoundTrip(t *testing.T) {
	skipRace(t)
	p, _ := newPair(t)

	c := p.Call(context.Background(), "add", addArgs{A: 1, B: 2})
	if c.ID() != "add:1" {
		t.Fatalf("id: got %q, want add:1", c.ID())
	}
	v, err := c.Result()
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	var sum int
	if err := v.Decode(&sum); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if sum != 3 {
		t.Fatalf("got %d, want 3", sum)
	}

	n, err := op.Invoke[int](context.Background(), p, "add", addArgs{A: 20, B: 22})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if n != 42 {
		t.Fatalf("got %d, want 42", n)
	}
}

func TestCallIDsPerName(t *testing.T) {
	p, r := newRecorded(t)
	ctx := context.Background()

	ids := []string{
		p.Call(ctx, "add", nil).ID(),
		p.Call(ctx, "add", nil).ID(),
		p.Call(ctx, "mul", nil).ID(),
		p.Observe("add", nil).Subscribe(op.Observer{}).ID(),
	}
	want := []string{"add:1", "add:2", "mul:1", "add:3"}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("id %d: got %q, want %q", i, ids[i], want[i])
		}
	}
	if got := len(r.messages()); got != 4 {
		t.Fatalf("sent %d messages, want 4", got)
	}
}

func TestCallCancel(t *testing.T) {
	p, r := newRecorded(t)

	c := p.Call(context.Background(), "add", addArgs{A: 1, B: 2})
	c.Cancel()
	c.Cancel()

	if _, err := c.Result(); !errors.Is(err, op.ErrCanceled) {
		t.Fatalf("Result: got %v, want ErrCanceled", err)
	}
	eventually(t, func() bool { return len(r.messages()) >= 2 })
	time.Sleep(10 * time.Millisecond)
	msgs := r.messages()
	if len(msgs) != 2 {
		t.Fatalf("sent %d messages, want 2", len(msgs))
	}
	if msgs[0].Type != op.KindCall || msgs[0].ID != "add:1" || msgs[0].Name != "add" {
		t.Fatalf("first message: %+v", msgs[0])
	}
	if msgs[1].Type != op.KindCancel || msgs[1].ID != "add:1" {
		t.Fatalf("second message: got {%s %s}, want {cancel add:1}", msgs[1].Type, msgs[1].ID)
	}

	// A return arriving after the cancel is dropped.
	r.deliver(&op.Message{Type: op.KindReturn, ID: "add:1", Data: []byte("3")})
	if _, err := c.Result(); !errors.Is(err, op.ErrCanceled) {
		t.Fatalf("late return changed result: %v", err)
	}
	if calls, _ := p.Inflight(); calls != 0 {
		t.Fatalf("inflight calls: got %d, want 0", calls)
	}
}

func TestCallSettlesOnce(t *testing.T) {
	p, r := newRecorded(t)

	c := p.Call(context.Background(), "add", addArgs{A: 1, B: 2})
	r.deliver(&op.Message{Type: op.KindReturn, ID: c.ID(), Data: []byte("3")})
	r.deliver(&op.Message{Type: op.KindReturn, ID: c.ID(), Error: "late"})
	c.Cancel()

	v, err := c.Result()
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	var n int
	if err := v.Decode(&n); err != nil || n != 3 {
		t.Fatalf("Decode: got %d, %v", n, err)
	}
	if got := len(r.messages()); got != 1 {
		t.Fatalf("sent %d messages, want 1 (no cancel after settle)", got)
	}
}

func TestCallRemoteError(t *testing.T) {
	p, r := newRecorded(t)

	c := p.Call(context.Background(), "div", nil)
	r.deliver(&op.Message{Type: op.KindReturn, ID: c.ID(), Error: "division by zero"})

	_, err := c.Result()
	var re *op.RemoteError
	if !errors.As(err, &re) {
		t.Fatalf("Result: got %v, want *RemoteError", err)
	}
	if re.Op != "div" || re.ID != "div:1" || re.Message != "division by zero" {
		t.Fatalf("RemoteError: %+v", re)
	}
}

func TestCallTimeout(t *testing.T) {
	p, r := newRecorded(t, op.WithTimeout(op.TimeoutAfter(10*time.Millisecond)))

	c := p.Call(context.Background(), "add", nil)
	wait(t, c.Done())
	if _, err := c.Result(); !errors.Is(err, op.ErrTimeout) {
		t.Fatalf("Result: got %v, want ErrTimeout", err)
	}
	eventually(t, func() bool { return len(r.messages()) == 2 })
	if m := r.messages()[1]; m.Type != op.KindCancel || m.ID != c.ID() {
		t.Fatalf("got {%s %s}, want {cancel %s}", m.Type, m.ID, c.ID())
	}

	// A return that arrives after the deadline does not change the result.
	r.deliver(&op.Message{Type: op.KindReturn, ID: c.ID(), Data: []byte("3")})
	if _, err := c.Result(); !errors.Is(err, op.ErrTimeout) {
		t.Fatalf("late return changed result: %v", err)
	}
	if calls, _ := p.Inflight(); calls != 0 {
		t.Fatalf("inflight calls: got %d, want 0", calls)
	}
}

func TestCallNoTimeout(t *testing.T) {
	p, r := newRecorded(t, op.WithTimeout(op.NoTimeout))

	c := p.Call(context.Background(), "add", nil)
	select {
	case <-c.Done():
		t.Fatal("call settled without a return")
	case <-time.After(30 * time.Millisecond):
	}
	r.deliver(&op.Message{Type: op.KindReturn, ID: c.ID(), Data: []byte("1")})
	if _, err := c.Result(); err != nil {
		t.Fatalf("Result: %v", err)
	}
}

func TestInvalidTimeout(t *testing.T) {
	for _, d := range []time.Duration{0, -time.Second} {
		_, err := op.NewProducer(&recorder{}, quiet(), op.WithTimeout(op.TimeoutAfter(d)))
		if !errors.Is(err, op.ErrInvalidTimeout) {
			t.Fatalf("TimeoutAfter(%v): got %v, want ErrInvalidTimeout", d, err)
		}
	}
}

func TestCallContextCancel(t *testing.T) {
	p, r := newRecorded(t)

	ctx, cancel := context.WithCancel(context.Background())
	c := p.Call(ctx, "add", nil)
	cancel()
	wait(t, c.Done())
	if _, err := c.Result(); !errors.Is(err, op.ErrCanceled) {
		t.Fatalf("Result: got %v, want ErrCanceled", err)
	}
	eventually(t, func() bool { return len(r.messages()) == 2 })
	if m := r.messages()[1]; m.Type != op.KindCancel {
		t.Fatalf("got %s, want cancel", m.Type)
	}
}

func TestCallContextAlreadyDone(t *testing.T) {
	p, r := newRecorded(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := p.Call(ctx, "add", nil)
	if _, err := c.Result(); !errors.Is(err, op.ErrCanceled) {
		t.Fatalf("Result: got %v, want ErrCanceled", err)
	}
	if got := len(r.messages()); got != 0 {
		t.Fatalf("sent %d messages, want 0", got)
	}
}

func TestCallSendFailure(t *testing.T) {
	boom := errors.New("boom")
	p, r := newRecorded(t)
	r.err = boom

	c := p.Call(context.Background(), "add", nil)
	if _, err := c.Result(); !errors.Is(err, boom) {
		t.Fatalf("Result: got %v, want boom", err)
	}
	if calls, _ := p.Inflight(); calls != 0 {
		t.Fatalf("inflight calls: got %d, want 0", calls)
	}
}

func TestCallEncodeFailure(t *testing.T) {
	p, r := newRecorded(t)

	c := p.Call(context.Background(), "add", func() {})
	if _, err := c.Result(); err == nil {
		t.Fatal("Result: want encode error")
	}
	if got := len(r.messages()); got != 0 {
		t.Fatalf("sent %d messages, want 0", got)
	}
}

func TestProducerClose(t *testing.T) {
	p, r := newRecorded(t)

	c := p.Call(context.Background(), "add", nil)
	var completed bool
	s := p.Observe("ticks", nil).Subscribe(op.Observer{
		Complete: func() { completed = true },
	})

	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if _, err := c.Result(); !errors.Is(err, op.ErrDestroyed) {
		t.Fatalf("Result: got %v, want ErrDestroyed", err)
	}
	wait(t, s.Done())
	if !completed || s.Err() != nil {
		t.Fatalf("subscription: completed=%v err=%v", completed, s.Err())
	}
	if r.listening() {
		t.Fatal("producer still listening after Close")
	}
	if calls, subs := p.Inflight(); calls != 0 || subs != 0 {
		t.Fatalf("inflight: %d calls, %d subscriptions", calls, subs)
	}

	late := p.Call(context.Background(), "add", nil)
	if _, err := late.Result(); !errors.Is(err, op.ErrDestroyed) {
		t.Fatalf("Call after Close: got %v, want ErrDestroyed", err)
	}
	// call, subscribe and the unsubscribe of the completed subscription;
	// pending calls are not canceled on Close.
	var kinds []op.Kind
	for _, m := range r.messages() {
		kinds = append(kinds, m.Type)
	}
	want := []op.Kind{op.KindCall, op.KindSubscribe, op.KindUnsubscribe}
	if !slices.Equal(kinds, want) {
		t.Fatalf("sent %v, want %v", kinds, want)
	}
}

func TestProducerCloseStalledPeer(t *testing.T) {
	const n = 3
	port := newStalled(n)
	p, err := op.NewProducer(port, quiet())
	if err != nil {
		t.Fatalf("NewProducer: %v", err)
	}
	subs := make([]*op.Subscription, n)
	for i := range subs {
		subs[i] = p.Observe("ticks", nil).Subscribe(op.Observer{})
	}

	closed := make(chan error, 1)
	go func() { closed <- p.Close() }()
	select {
	case err := <-closed:
		if err != nil {
			t.Fatalf("Close: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked on a peer that stopped reading")
	}

	for _, s := range subs {
		wait(t, s.Done())
	}
	if !port.isClosed() {
		t.Fatal("port not closed")
	}
	if port.listening() {
		t.Fatal("producer still listening after Close")
	}
	if got := len(port.messages()); got != n {
		t.Fatalf("sent %d messages, want %d subscribes", got, n)
	}
}

func TestConcurrentCalls(t *testing.T) {
	skipRace(t)
	p, _ := newPair(t)

	const n = 64
	var (
		mu  sync.Mutex
		ids = make(map[string]bool)
	)
	var g errgroup.Group
	for i := range n {
		g.Go(func() error {
			c := p.Call(context.Background(), "add", addArgs{A: i, B: i})
			mu.Lock()
			ids[c.ID()] = true
			mu.Unlock()
			v, err := c.Result()
			if err != nil {
				return err
			}
			var sum int
			if err := v.Decode(&sum); err != nil {
				return err
			}
			if sum != 2*i {
				return fmt.Errorf("call %d: got %d, want %d", i, sum, 2*i)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	if len(ids) != n {
		t.Fatalf("got %d distinct ids, want %d", len(ids), n)
	}
}
