// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package op

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"unsafe"

	jsoniter "github.com/json-iterator/go"
)

// codec is the wire encoding for headers, payloads and results.
var codec = jsoniter.ConfigCompatibleWithStandardLibrary

// attachmentField names the index of an out-of-band section in an encoded Buffer.
const attachmentField = "$att"

func init() {
	jsoniter.RegisterTypeEncoderFunc("op.Buffer", encodeBuffer, func(ptr unsafe.Pointer) bool {
		b := (*Buffer)(ptr)
		return b.Len() == 0 && !b.detached
	})
	jsoniter.RegisterTypeDecoderFunc("op.Buffer", decodeBuffer)
}

// encodeState collects attachments while a value is being encoded.
type encodeState struct {
	transfer    []*Buffer
	attachments [][]byte
}

func (s *encodeState) transfers(b *Buffer) bool {
	for _, t := range s.transfer {
		if t == b {
			return true
		}
	}
	return false
}

// encodeBuffer writes {"$att":n} and appends the bytes as attachment n.
// Outside of encodeValue there is no attachment list and the bytes are
// written inline as base64.
func encodeBuffer(ptr unsafe.Pointer, stream *jsoniter.Stream) {
	b := (*Buffer)(ptr)
	if b.detached {
		if stream.Error == nil {
			stream.Error = ErrDetached
		}
		return
	}
	s, ok := stream.Attachment.(*encodeState)
	if !ok {
		stream.WriteVal(b.data)
		return
	}
	idx := len(s.attachments)
	if s.transfers(b) {
		s.attachments = append(s.attachments, b.data)
	} else {
		s.attachments = append(s.attachments, bytes.Clone(b.data))
	}
	stream.WriteObjectStart()
	stream.WriteObjectField(attachmentField)
	stream.WriteInt(idx)
	stream.WriteObjectEnd()
}

func decodeBuffer(ptr unsafe.Pointer, iter *jsoniter.Iterator) {
	b := (*Buffer)(ptr)
	switch iter.WhatIsNext() {
	case jsoniter.NilValue:
		iter.ReadNil()
		*b = Buffer{}
	case jsoniter.StringValue:
		var p []byte
		iter.ReadVal(&p)
		*b = Buffer{data: p}
	case jsoniter.ObjectValue:
		idx := -1
		for field := iter.ReadObject(); field != ""; field = iter.ReadObject() {
			if field == attachmentField {
				idx = iter.ReadInt()
				continue
			}
			iter.Skip()
		}
		atts, _ := iter.Attachment.([][]byte)
		if idx < 0 || idx >= len(atts) {
			iter.ReportError("decode op.Buffer", "attachment index out of range")
			return
		}
		*b = Buffer{data: atts[idx]}
	default:
		iter.ReportError("decode op.Buffer", "expected object, string or null")
	}
}

// encoded is a value ready to be put on a message.
type encoded struct {
	raw         jsoniter.RawMessage
	attachments [][]byte
	transfer    []*Buffer
}

// commit detaches the transferred buffers. It runs once the message
// carrying the value has been sent.
func (e encoded) commit() {
	for _, b := range e.transfer {
		b.detach()
	}
}

// encodeValue encodes v, unwrapping a Transferred value into its transfer list.
func encodeValue(v any) (encoded, error) {
	var s encodeState
	if t, ok := v.(transferable); ok {
		v, s.transfer = t.unwrapTransfer()
	}
	for _, b := range s.transfer {
		if b == nil || b.detached {
			return encoded{}, ErrDetached
		}
	}

	stream := codec.BorrowStream(nil)
	defer codec.ReturnStream(stream)
	stream.Attachment = &s
	stream.WriteVal(v)
	if stream.Error != nil {
		return encoded{}, stream.Error
	}
	raw := append(jsoniter.RawMessage(nil), stream.Buffer()...)
	return encoded{raw: raw, attachments: s.attachments, transfer: s.transfer}, nil
}

// Value is an encoded payload or result as received from the peer.
type Value struct {
	raw         jsoniter.RawMessage
	attachments [][]byte
}

func messageValue(raw jsoniter.RawMessage, attachments [][]byte) Value {
	return Value{raw: raw, attachments: attachments}
}

// Raw returns the encoded form without attachments.
func (v Value) Raw() []byte {
	return v.raw
}

// IsZero reports whether v carries no encoded data.
func (v Value) IsZero() bool {
	return len(v.raw) == 0
}

// Decode stores the value into dst, which must be a pointer.
// Buffers referenced from the value take ownership of their attachment.
// An empty value leaves dst untouched.
func (v Value) Decode(dst any) error {
	if len(v.raw) == 0 {
		return nil
	}
	iter := codec.BorrowIterator(v.raw)
	defer codec.ReturnIterator(iter)
	iter.Attachment = v.attachments
	iter.ReadVal(dst)
	if iter.Error != nil && !errors.Is(iter.Error, io.EOF) {
		return fmt.Errorf("op: decode value: %w", iter.Error)
	}
	return nil
}

// String returns the encoded form, for logging.
func (v Value) String() string {
	return string(v.raw)
}

func encodeMessage(m *Message) ([]byte, error) {
	return codec.Marshal(m)
}

func decodeMessage(header []byte, attachments [][]byte) (*Message, error) {
	m := new(Message)
	if err := codec.Unmarshal(header, m); err != nil {
		return nil, err
	}
	if !m.Type.Valid() {
		return nil, fmt.Errorf("op: not a protocol message")
	}
	m.Attachments = attachments
	return m, nil
}
