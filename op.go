// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package op

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

// Kind tags one of the eight protocol message variants.
type Kind uint8

const (
	kindInvalid Kind = iota

	// KindCall invokes operation Name once. Producer to consumer.
	KindCall
	// KindCancel aborts an in-flight call. Producer to consumer.
	KindCancel
	// KindSubscribe opens a stream for operation Name. Producer to consumer.
	KindSubscribe
	// KindUnsubscribe closes a stream. Producer to consumer.
	KindUnsubscribe
	// KindReturn carries the terminal result of a call, Data or Error.
	KindReturn
	// KindNext carries one streamed value.
	KindNext
	// KindError terminates a stream with Error.
	KindError
	// KindComplete terminates a stream normally.
	KindComplete
)

var kindNames = [...]string{
	kindInvalid:     "",
	KindCall:        "call",
	KindCancel:      "cancel",
	KindSubscribe:   "subscribe",
	KindUnsubscribe: "unsubscribe",
	KindReturn:      "return",
	KindNext:        "next",
	KindError:       "error",
	KindComplete:    "complete",
}

// Valid reports whether k is one of the eight known kinds.
func (k Kind) Valid() bool {
	return k > kindInvalid && int(k) < len(kindNames)
}

func (k Kind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
	return kindNames[k]
}

// MarshalText encodes k as its wire name.
func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("op: invalid message kind %d", uint8(k))
	}
	return []byte(kindNames[k]), nil
}

// UnmarshalText decodes a wire name. Unknown names are an error, which makes
// the dispatcher drop the event.
func (k *Kind) UnmarshalText(text []byte) error {
	for i := KindCall; int(i) < len(kindNames); i++ {
		if kindNames[i] == string(text) {
			*k = i
			return nil
		}
	}
	return fmt.Errorf("op: unknown message kind %q", text)
}

// Message is the single wire unit. Which fields are meaningful depends on Type:
//
//	call, subscribe       ID, Name, Payload
//	cancel, unsubscribe   ID
//	return                ID, Data or Error
//	next                  ID, Data
//	error                 ID, Error
//	complete              ID
//
// Attachments hold the binary sections referenced from Payload or Data.
// Ports carry them out of band.
type Message struct {
	Type        Kind                `json:"type"`
	ID          string              `json:"id"`
	Name        string              `json:"name,omitempty"`
	Payload     jsoniter.RawMessage `json:"payload,omitempty"`
	Data        jsoniter.RawMessage `json:"data,omitempty"`
	Error       string              `json:"error,omitempty"`
	Attachments [][]byte            `json:"-"`
}

// Failed reports whether a return or error message carries an error.
func (m *Message) Failed() bool {
	return m.Error != ""
}

// Frame is the undecoded form of a message read from a byte stream.
type Frame struct {
	Header      []byte
	Attachments [][]byte
}

// acceptEvent filters a raw port event. Only values that decode to a message
// with a known Type are accepted; anything else is foreign traffic.
func acceptEvent(event any) (*Message, bool) {
	switch e := event.(type) {
	case *Message:
		if e == nil || !e.Type.Valid() {
			return nil, false
		}
		return e, true
	case Message:
		if !e.Type.Valid() {
			return nil, false
		}
		return &e, true
	case Frame:
		m, err := decodeMessage(e.Header, e.Attachments)
		if err != nil {
			return nil, false
		}
		return m, true
	case []byte:
		m, err := decodeMessage(e, nil)
		if err != nil {
			return nil, false
		}
		return m, true
	default:
		return nil, false
	}
}
