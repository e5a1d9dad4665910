// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package op

import "github.com/sirupsen/logrus"

// BeforeHook observes an operation right before its handler runs.
type BeforeHook func(name string, payload Value)

// AfterHook observes each value an operation produced.
type AfterHook func(name string, payload Value, result any)

// hooks are best-effort observers. They run on the handler goroutine, are
// isolated from panics and never change the outcome of an operation.
type hooks struct {
	before map[string][]BeforeHook
	after  map[string][]AfterHook
}

func (h *hooks) onBefore(name string, fn BeforeHook) {
	if h.before == nil {
		h.before = make(map[string][]BeforeHook)
	}
	h.before[name] = append(h.before[name], fn)
}

func (h *hooks) onAfter(name string, fn AfterHook) {
	if h.after == nil {
		h.after = make(map[string][]AfterHook)
	}
	h.after[name] = append(h.after[name], fn)
}

// snapshot returns the hooks for name. The slices are never mutated in
// place, so they can be used after the consumer lock is released.
func (h *hooks) snapshot(name string) ([]BeforeHook, []AfterHook) {
	return h.before[name], h.after[name]
}

func fireBefore(log *logrus.Entry, fns []BeforeHook, name string, payload Value) {
	for _, fn := range fns {
		func() {
			defer recoverHook(log, "before", name)
			fn(name, payload)
		}()
	}
}

func fireAfter(log *logrus.Entry, fns []AfterHook, name string, payload Value, result any) {
	for _, fn := range fns {
		func() {
			defer recoverHook(log, "after", name)
			fn(name, payload, result)
		}()
	}
}

func recoverHook(log *logrus.Entry, phase, name string) {
	if r := recover(); r != nil {
		log.WithField("op", name).Errorf("Recovered panic in %s hook: %v", phase, r)
	}
}
