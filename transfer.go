// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package op

// Buffer is a binary resource that can cross the channel.
//
// A Buffer referenced from a payload or result is carried as an attachment.
// Untransferred buffers are copied. Buffers listed in a [Transferred] value
// are moved: the bytes are handed to the port as-is and the local Buffer is
// detached after the send succeeds. A detached Buffer has length zero and
// cannot be sent again.
//
// Buffer is not safe for concurrent use.
type Buffer struct {
	data     []byte
	detached bool
}

// NewBuffer returns a Buffer that owns p.
func NewBuffer(p []byte) *Buffer {
	return &Buffer{data: p}
}

// Bytes returns the buffer contents. The slice is nil once detached.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Len returns the number of bytes owned by b.
func (b *Buffer) Len() int {
	return len(b.data)
}

// Detached reports whether ownership of b has been transferred away.
func (b *Buffer) Detached() bool {
	return b.detached
}

func (b *Buffer) detach() {
	b.data = nil
	b.detached = true
}

// Transferred wraps a payload together with the buffers whose ownership moves
// to the peer when the payload is sent.
type Transferred[T any] struct {
	Value     T
	Resources []*Buffer
}

// Transfer marks resources inside v for one-time ownership transfer.
// The returned value is passed wherever a payload or result is expected.
func Transfer[T any](v T, resources ...*Buffer) Transferred[T] {
	return Transferred[T]{Value: v, Resources: resources}
}

func (t Transferred[T]) unwrapTransfer() (any, []*Buffer) {
	return t.Value, t.Resources
}

// transferable is implemented by every Transferred instantiation.
type transferable interface {
	unwrapTransfer() (any, []*Buffer)
}
