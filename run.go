// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package op

// Connect creates a pipe pair and attaches a producer to one end and a
// consumer to the other. Both sides share opts. Closing either side closes
// the pipe for both.
func Connect(opts ...Option) (*Producer, *Consumer, error) {
	a, b := NewPipe()
	c := NewConsumer(b, opts...)
	p, err := NewProducer(a, opts...)
	if err != nil {
		c.Close()
		return nil, nil, err
	}
	return p, c, nil
}
