// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package op

import (
	"errors"
	"fmt"
)

var (
	// ErrCanceled settles a call canceled by the producer or its context.
	ErrCanceled = errors.New("op: canceled")
	// ErrTimeout settles a call whose return did not arrive within the producer timeout.
	ErrTimeout = errors.New("op: timeout")
	// ErrDestroyed settles calls and ends subscriptions outstanding at Close.
	ErrDestroyed = errors.New("op: destroyed")
	// ErrAborted is the cancel cause of a handler context when the producer
	// sends cancel or unsubscribe.
	ErrAborted = errors.New("op: aborted by peer")
	// ErrClosed is returned when sending on a closed port or dispatcher.
	ErrClosed = errors.New("op: port closed")
	// ErrDetached is returned when a Buffer that was already transferred is sent again.
	ErrDetached = errors.New("op: buffer detached")
	// ErrInvalidTimeout rejects a finite timeout that is not positive.
	ErrInvalidTimeout = errors.New("op: invalid timeout")
	// ErrFrameTooLarge is returned for frame sections above the stream port limit.
	ErrFrameTooLarge = errors.New("op: frame too large")
)

// errTaken stops a stream handler once a call has its first value.
var errTaken = errors.New("op: first value taken")

// RemoteError is a failure reported by the consumer: an unregistered
// operation or a handler that returned an error or panicked.
type RemoteError struct {
	Op      string
	ID      string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("op: %s: %s", e.ID, e.Message)
}

func notRegistered(name string) string {
	return fmt.Sprintf("handler for operation [%s] is not registered", name)
}

// errorText renders err for the wire. The error field must be non-empty for
// a failed return to be told apart from a successful one.
func errorText(err error) string {
	return nonEmpty(err.Error())
}

func nonEmpty(s string) string {
	if s == "" {
		return "unknown error"
	}
	return s
}
