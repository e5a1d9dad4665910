// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package op

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/sirupsen/logrus"
)

// maxSection bounds the header and each attachment of a frame.
const maxSection = 64 << 20

// StreamPort frames messages over a byte stream. It implements [Port].
//
// Frame layout, big-endian:
//
//	u32 header length | header (JSON message) | u32 attachment count | (u32 length | bytes)*
//
// Incoming frames are delivered undecoded as [Frame]; the dispatcher drops
// frames whose header is not a protocol message.
type StreamPort struct {
	rwc io.ReadWriteCloser
	log *logrus.Entry

	wmu    sync.Mutex
	w      *bufio.Writer
	closed bool

	ls    listeners
	start sync.Once

	closeOnce sync.Once
	closeErr  error
}

// NewStreamPort returns a port that reads and writes frames on rwc.
// Only WithLogger applies; other options are ignored.
func NewStreamPort(rwc io.ReadWriteCloser, opts ...Option) *StreamPort {
	o := applyOptions(opts)
	return &StreamPort{
		rwc: rwc,
		log: o.logger.WithField("port", "stream"),
		w:   bufio.NewWriter(rwc),
	}
}

// Send writes msg and its attachments as one frame.
func (s *StreamPort) Send(msg *Message) error {
	header, err := encodeMessage(msg)
	if err != nil {
		return err
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := writeFrame(s.w, header, msg.Attachments); err != nil {
		return err
	}
	return s.w.Flush()
}

// Listen registers fn for incoming frames. The read goroutine starts on the
// first call and exits when the stream ends.
func (s *StreamPort) Listen(fn func(event any)) func() {
	unlisten := s.ls.add(fn)
	s.start.Do(func() {
		go s.read()
	})
	return unlisten
}

// Close closes the underlying stream once. Later sends fail with ErrClosed.
func (s *StreamPort) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.rwc.Close()
		s.wmu.Lock()
		s.closed = true
		s.wmu.Unlock()
	})
	return s.closeErr
}

func (s *StreamPort) read() {
	r := bufio.NewReader(s.rwc)
	for {
		f, err := readFrame(r)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && !errors.Is(err, io.ErrClosedPipe) {
				s.log.Debugf("Stopped reading frames: %v", err)
			}
			return
		}
		s.ls.emit(f)
	}
}

func writeFrame(w io.Writer, header []byte, attachments [][]byte) error {
	if len(header) > maxSection {
		return ErrFrameTooLarge
	}
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(header)))
	if _, err := w.Write(n[:]); err != nil {
		return err
	}
	if _, err := w.Write(header); err != nil {
		return err
	}
	binary.BigEndian.PutUint32(n[:], uint32(len(attachments)))
	if _, err := w.Write(n[:]); err != nil {
		return err
	}
	for _, a := range attachments {
		if len(a) > maxSection {
			return ErrFrameTooLarge
		}
		binary.BigEndian.PutUint32(n[:], uint32(len(a)))
		if _, err := w.Write(n[:]); err != nil {
			return err
		}
		if _, err := w.Write(a); err != nil {
			return err
		}
	}
	return nil
}

func readFrame(r io.Reader) (Frame, error) {
	header, err := readSection(r)
	if err != nil {
		return Frame{}, err
	}
	count, err := readUint32(r)
	if err != nil {
		return Frame{}, err
	}
	if count > maxSection {
		return Frame{}, fmt.Errorf("%w: %d attachments", ErrFrameTooLarge, count)
	}
	var attachments [][]byte
	for i := uint32(0); i < count; i++ {
		a, err := readSection(r)
		if err != nil {
			return Frame{}, err
		}
		attachments = append(attachments, a)
	}
	return Frame{Header: header, Attachments: attachments}, nil
}

func readSection(r io.Reader) ([]byte, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	if n > maxSection {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}
	p := make([]byte, n)
	if _, err := io.ReadFull(r, p); err != nil {
		return nil, err
	}
	return p, nil
}

func readUint32(r io.Reader) (uint32, error) {
	var n [4]byte
	if _, err := io.ReadFull(r, n[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(n[:]), nil
}
