// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package op_test

import (
	"context"
	"testing"

	"code.hybscloud.com/op"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestKindWireNames(t *testing.T) {
	want := map[op.Kind]string{
		op.KindCall:        "call",
		op.KindCancel:      "cancel",
		op.KindSubscribe:   "subscribe",
		op.KindUnsubscribe: "unsubscribe",
		op.KindReturn:      "return",
		op.KindNext:        "next",
		op.KindError:       "error",
		op.KindComplete:    "complete",
	}
	for k, name := range want {
		if !k.Valid() || k.String() != name {
			t.Fatalf("kind %d: got %q, want %q", k, k.String(), name)
		}
	}
	var zero op.Kind
	if zero.Valid() {
		t.Fatal("zero Kind is valid")
	}
	if err := zero.UnmarshalText([]byte("bogus")); err == nil {
		t.Fatal("UnmarshalText accepted an unknown kind")
	}
}

func TestMessageJSON(t *testing.T) {
	m := &op.Message{Type: op.KindCancel, ID: "add:1"}
	b, err := jsoniter.Marshal(m)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(b) != `{"type":"cancel","id":"add:1"}` {
		t.Fatalf("got %s", b)
	}
}

func TestForeignEventsDropped(t *testing.T) {
	m := op.NewMetrics()
	p, r := newRecorded(t, op.WithMetrics(m))

	c := p.Call(context.Background(), "add", addArgs{A: 1, B: 2})
	for _, event := range []any{
		"hello",
		42,
		(*op.Message)(nil),
		op.Message{},
		[]byte(`{"type":"bogus","id":"add:1"}`),
		[]byte("not json"),
		op.Frame{Header: []byte(`{"id":"add:1"}`)},
	} {
		r.deliver(event)
	}
	select {
	case <-c.Done():
		t.Fatal("foreign event settled the call")
	default:
	}
	if got := testutil.ToFloat64(m.EventsDropped().WithLabelValues("producer")); got != 7 {
		t.Fatalf("dropped: got %v, want 7", got)
	}

	// Encoded messages are accepted.
	r.deliver([]byte(`{"type":"return","id":"add:1","data":3}`))
	v, err := c.Result()
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	var n int
	if err := v.Decode(&n); err != nil || n != 3 {
		t.Fatalf("Decode: %d, %v", n, err)
	}
}

func TestForeignEventsOnPipe(t *testing.T) {
	skipRace(t)
	a, b := op.NewPipe()
	m := op.NewMetrics()
	c := op.NewConsumer(b, quiet(), op.WithMetrics(m))
	defer c.Close()
	c.Register("add", op.Func(add))
	p, err := op.NewProducer(a, quiet())
	if err != nil {
		t.Fatalf("NewProducer: %v", err)
	}
	defer p.Close()

	for _, event := range []any{"ping", struct{ X int }{1}} {
		if err := a.Post(event); err != nil {
			t.Fatalf("Post: %v", err)
		}
	}
	n, err := op.Invoke[int](context.Background(), p, "add", addArgs{A: 2, B: 2})
	if err != nil || n != 4 {
		t.Fatalf("Invoke: %d, %v", n, err)
	}
	if got := testutil.ToFloat64(m.EventsDropped().WithLabelValues("consumer")); got != 2 {
		t.Fatalf("dropped: got %v, want 2", got)
	}
}
