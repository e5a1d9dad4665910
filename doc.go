// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package op provides a correlation-based remote operation channel over an
// arbitrary duplex message [Port].
//
// One side, the [Producer], issues one-shot calls that settle exactly once and
// opens subscriptions that stream values until completion or error. The other
// side, the [Consumer], registers named [Handler]s and executes them when a
// request arrives, propagating cancellation through the handler's context.
//
// # Architecture
//
//   - Wire: a closed set of eight [Kind]s carried by [Message]. Requests are
//     correlated by id strings of the form "name:n", where n is a per-name
//     counter local to one producer that starts at 1 and is never reused.
//   - Transport: any [Port]. [NewPipe] creates an in-memory [Endpoint] pair
//     backed by bounded lock-free SPSC queues via [code.hybscloud.com/lfq].
//     [NewStreamPort] frames messages over an [io.ReadWriteCloser].
//   - Dispatch: both sides listen on construction, silently drop events that
//     are not protocol messages, and route messages by [Kind].
//   - Transfer: binary payloads travel as [*Buffer]. Buffers wrapped by
//     [Transfer] are moved to the peer without copying and detached locally
//     once the message has been sent.
//
// # Cancellation
//
// Cancellation is cooperative. [Call.Cancel], a done context, or the producer
// timeout settle the call locally and send a cancel message; the consumer then
// cancels the handler's context with cause [ErrAborted]. The handler decides
// how to react. Late replies for settled ids are dropped.
//
// # Example
//
//	a, b := op.NewPipe()
//	consumer := op.NewConsumer(b)
//	consumer.Register("add", op.Func(func(_ context.Context, in [2]int) (int, error) {
//		return in[0] + in[1], nil
//	}))
//	producer, _ := op.NewProducer(a, op.WithTimeout(op.TimeoutAfter(time.Second)))
//	sum, err := op.Invoke[int](ctx, producer, "add", [2]int{1, 2})
package op
