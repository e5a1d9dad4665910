// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package op

import "sync"

// Port is a duplex message transport. Messages sent on one side are
// delivered to the listeners of the other side reliably and in order.
//
// Listen registers fn for every incoming event and returns a function that
// removes it. Events are delivered sequentially from a single goroutine per
// port; fn must not block on a reply arriving through the same port.
// A port may carry foreign events; they reach fn as-is.
//
// A port that also implements io.Closer is closed with its dispatcher.
type Port interface {
	Send(msg *Message) error
	Listen(fn func(event any)) (unlisten func())
}

// listeners is the listener registry shared by the port implementations.
type listeners struct {
	mu   sync.Mutex
	next uint64
	fns  map[uint64]func(any)
}

func (l *listeners) add(fn func(any)) func() {
	l.mu.Lock()
	if l.fns == nil {
		l.fns = make(map[uint64]func(any))
	}
	l.next++
	key := l.next
	l.fns[key] = fn
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.fns, key)
			l.mu.Unlock()
		})
	}
}

func (l *listeners) emit(event any) {
	l.mu.Lock()
	fns := make([]func(any), 0, len(l.fns))
	for _, fn := range l.fns {
		fns = append(fns, fn)
	}
	l.mu.Unlock()
	for _, fn := range fns {
		fn(event)
	}
}
