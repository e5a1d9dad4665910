// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package op

import "context"

// Handler executes one operation on the consumer side. Handlers are built
// with [Func] or [StreamFunc].
//
// Every handler is normalized to a stream: a call takes the first emitted
// value as its result, a subscription forwards every value. The handler's
// context is canceled with cause [ErrAborted] when the producer cancels or
// unsubscribes. The consumer never stops a handler by force.
type Handler interface {
	serve(ctx context.Context, payload Value, emit func(any) error) error
}

type funcHandler[In, Out any] func(ctx context.Context, in In) (Out, error)

func (f funcHandler[In, Out]) serve(ctx context.Context, payload Value, emit func(any) error) error {
	var in In
	if err := payload.Decode(&in); err != nil {
		return err
	}
	out, err := f(ctx, in)
	if err != nil {
		return err
	}
	// A single value ends the stream; emit's stop signal carries no error.
	_ = emit(out)
	return nil
}

// Func returns a handler producing exactly one value. It covers both
// immediate values and long-running work; observe ctx to stop early.
// Return a [Transferred] value from fn to move buffers back to the producer.
func Func[In, Out any](fn func(ctx context.Context, in In) (Out, error)) Handler {
	return funcHandler[In, Out](fn)
}

type streamHandler[In, Out any] func(ctx context.Context, in In, emit func(Out) error) error

func (f streamHandler[In, Out]) serve(ctx context.Context, payload Value, emit func(any) error) error {
	var in In
	if err := payload.Decode(&in); err != nil {
		return err
	}
	return f(ctx, in, func(v Out) error {
		return emit(v)
	})
}

// StreamFunc returns a handler producing zero or more values. fn emits each
// value with emit and returns nil to complete or an error to fail the stream.
//
// emit returns an error once the stream is no longer wanted: the consumer
// already has the first value of a call, the producer unsubscribed, or the
// value could not be sent. fn should return that error.
func StreamFunc[In, Out any](fn func(ctx context.Context, in In, emit func(Out) error) error) Handler {
	return streamHandler[In, Out](fn)
}
