// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package op

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Timeout is the producer call timeout. The zero value is [NoTimeout].
// A finite timeout is built with [TimeoutAfter]; there is no numeric
// sentinel for "disabled".
type Timeout struct {
	d   time.Duration
	set bool
}

// NoTimeout disables the call timer. No timer is armed for any call.
var NoTimeout = Timeout{}

// TimeoutAfter returns a finite timeout of d. d must be positive;
// NewProducer rejects anything else with ErrInvalidTimeout.
func TimeoutAfter(d time.Duration) Timeout {
	return Timeout{d: d, set: true}
}

// Enabled reports whether a timer is armed for calls.
func (t Timeout) Enabled() bool {
	return t.set
}

// Duration returns the finite timeout, or 0 for NoTimeout.
func (t Timeout) Duration() time.Duration {
	return t.d
}

func (t Timeout) validate() error {
	if t.set && t.d <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidTimeout, t.d)
	}
	return nil
}

func (t Timeout) String() string {
	if !t.set {
		return "none"
	}
	return t.d.String()
}

// MarshalText encodes t as "none" or a Go duration string.
func (t Timeout) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText accepts "none", "infinite" or a positive Go duration.
func (t *Timeout) UnmarshalText(text []byte) error {
	switch s := strings.TrimSpace(string(text)); strings.ToLower(s) {
	case "", "none", "infinite":
		*t = NoTimeout
		return nil
	default:
		d, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidTimeout, err)
		}
		v := TimeoutAfter(d)
		if err := v.validate(); err != nil {
			return err
		}
		*t = v
		return nil
	}
}

// Option configures a Producer, a Consumer or a StreamPort.
type Option func(*options)

type options struct {
	logger  *logrus.Entry
	metrics *Metrics
	timeout Timeout
}

// WithLogger sets the log entry. Producers and consumers add side and
// instance fields to it, a StreamPort adds a port field.
func WithLogger(l *logrus.Entry) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithMetrics records operation outcomes and in-flight counts in m.
func WithMetrics(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithTimeout sets the producer call timeout. Consumers ignore it.
func WithTimeout(t Timeout) Option {
	return func(o *options) {
		o.timeout = t
	}
}

// applyOptions applies opts over the defaults. The logger defaults to the
// logrus standard logger.
func applyOptions(opts []Option) options {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return o
}

func buildOptions(side string, opts []Option) options {
	o := applyOptions(opts)
	o.logger = o.logger.WithFields(logrus.Fields{
		"side":     side,
		"instance": uuid.NewString(),
	})
	return o
}
