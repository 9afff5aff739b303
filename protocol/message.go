/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

/*
Package protocol implements the BDN wire format: the length-prefixed frame,
the 32-bit bit-packed message header, the overlay message body codec and
the nested relay-control message bodies.

Every message on the wire is

	[u16 BE length L] [L bytes body]

with 2+L <= MsgMaxLen. The body is the canonical CBOR encoding of
OverlayMessage.
*/
package protocol

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/epsilon314/bdn/identity"
)

// MsgMaxLen bounds a full frame, length prefix included
const MsgMaxLen = 2048

// encMode is the deterministic encoder every peer agrees on
var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
}

// OverlayMessage is one unit of overlay traffic. Src is the tree root that
// originated the broadcast, From the immediate upstream, Dst the terminal
// addressee (or the broadcast placeholder).
type OverlayMessage struct {
	Header    Header                 `cbor:"1,keyasint"`
	Timestamp uint64                 `cbor:"2,keyasint"`
	SrcID     [identity.IDSize]byte  `cbor:"3,keyasint"`
	FromID    [identity.IDSize]byte  `cbor:"4,keyasint"`
	DstID     [identity.IDSize]byte  `cbor:"5,keyasint"`
	Payload   []byte                 `cbor:"6,keyasint"`
}

// NewOverlayMessage builds a message with the given header and ids.
// Timestamp is left zero, the engine stamps it at send time.
func NewOverlayMessage(h Header, src, from, dst identity.Peer, payload []byte) *OverlayMessage {
	return &OverlayMessage{
		Header:  h,
		SrcID:   src.ID(),
		FromID:  from.ID(),
		DstID:   dst.ID(),
		Payload: payload,
	}
}

// Src returns the originating root as a Peer
func (m *OverlayMessage) Src() identity.Peer {
	p, _ := identity.TryFromID(m.SrcID[:])
	return p
}

// From returns the immediate upstream as a Peer
func (m *OverlayMessage) From() identity.Peer {
	p, _ := identity.TryFromID(m.FromID[:])
	return p
}

// Dst returns the terminal addressee as a Peer
func (m *OverlayMessage) Dst() identity.Peer {
	p, _ := identity.TryFromID(m.DstID[:])
	return p
}

// SetSrc sets the originating root id
func (m *OverlayMessage) SetSrc(p identity.Peer) { m.SrcID = p.ID() }

// SetFrom sets the immediate upstream id
func (m *OverlayMessage) SetFrom(p identity.Peer) { m.FromID = p.ID() }

// SetDst sets the terminal addressee id
func (m *OverlayMessage) SetDst(p identity.Peer) { m.DstID = p.ID() }

// Stamp records the current time into the message
func (m *OverlayMessage) Stamp() {
	m.Timestamp = uint64(time.Now().UnixNano())
}

// Encode frames the message: canonical body encoding with the 2-byte BE
// length prefix. Bodies longer than MsgMaxLen-2 fail with ErrMsgOversize.
func (m *OverlayMessage) Encode() ([]byte, error) {
	body, err := encMode.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("serializing overlay message: %w", err)
	}
	if len(body) > MsgMaxLen-2 {
		return nil, fmt.Errorf("%w: body is %d bytes", ErrMsgOversize, len(body))
	}
	frame := make([]byte, 2+len(body))
	binary.BigEndian.PutUint16(frame[0:2], uint16(len(body)))
	copy(frame[2:], body)
	return frame, nil
}

// Decode parses one framed message from buf
func Decode(buf []byte) (*OverlayMessage, error) {
	if len(buf) < 2 {
		return nil, fmt.Errorf("%w: truncated length prefix", ErrBadFrame)
	}
	l := int(binary.BigEndian.Uint16(buf[0:2]))
	if l > MsgMaxLen-2 {
		return nil, fmt.Errorf("%w: length %d exceeds max", ErrBadFrame, l)
	}
	if len(buf) < 2+l {
		return nil, fmt.Errorf("%w: body truncated, want %d got %d", ErrBadFrame, l, len(buf)-2)
	}
	return decodeBody(buf[2 : 2+l])
}

func decodeBody(body []byte) (*OverlayMessage, error) {
	m := &OverlayMessage{}
	if err := cbor.Unmarshal(body, m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}
	return m, nil
}

// FrameReader decodes framed overlay messages from a buffered stream
type FrameReader struct {
	inner *bufio.Reader
}

// NewFrameReader wraps r. The internal buffer holds one max-size frame.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{inner: bufio.NewReaderSize(r, MsgMaxLen)}
}

// ReadMessage reads one message. A clean EOF at the length prefix returns
// (nil, io.EOF): the stream has ended. Any other failure is a decode error
// the caller may log and skip without closing the connection.
func (r *FrameReader) ReadMessage() (*OverlayMessage, error) {
	lenBuf := make([]byte, 2)
	if _, err := io.ReadFull(r.inner, lenBuf); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: reading length prefix: %v", ErrBadFrame, err)
	}
	l := int(binary.BigEndian.Uint16(lenBuf))
	if l > MsgMaxLen-2 {
		return nil, fmt.Errorf("%w: length %d exceeds max", ErrBadFrame, l)
	}
	body := make([]byte, l)
	if _, err := io.ReadFull(r.inner, body); err != nil {
		return nil, fmt.Errorf("%w: reading %d byte body: %v", ErrBadFrame, l, err)
	}
	return decodeBody(body)
}
