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

package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/epsilon314/bdn/identity"
)

// CtlKind enumerates relay-control message kinds carried in ROUTE bodies
type CtlKind uint32

// Relay-control message kinds
const (
	CtlJoin CtlKind = iota
	CtlLeave
	CtlAccept
	CtlReject
	CtlMerge
	CtlMergeCheck
	CtlGrant
	CtlGrantInfo
	CtlRetract
	CtlRetractInfo
	CtlRetractReply
)

// CtlKindToString is a map from CtlKind to string
var CtlKindToString = map[CtlKind]string{
	CtlJoin:         "JOIN",
	CtlLeave:        "LEAVE",
	CtlAccept:       "ACCEPT",
	CtlReject:       "REJECT",
	CtlMerge:        "MERGE",
	CtlMergeCheck:   "MERGE_CHECK",
	CtlGrant:        "GRANT",
	CtlGrantInfo:    "GRANT_INFO",
	CtlRetract:      "RETRACT",
	CtlRetractInfo:  "RETRACT_INFO",
	CtlRetractReply: "RETRACT_REPLY",
}

func (k CtlKind) String() string {
	return CtlKindToString[k]
}

// CtlMessage is the relay-control envelope nested inside a ROUTE overlay
// message: kind, a per-node monotonic id and the kind-specific payload.
type CtlMessage struct {
	Kind    CtlKind
	ID      uint64
	Payload []byte
}

const ctlHeadLen = 4 + 8

// Encode serializes the envelope: u32 BE kind, u64 BE id, payload
func (m *CtlMessage) Encode() []byte {
	buf := make([]byte, ctlHeadLen+len(m.Payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(m.Kind))
	binary.BigEndian.PutUint64(buf[4:12], m.ID)
	copy(buf[ctlHeadLen:], m.Payload)
	return buf
}

// DecodeCtlMessage parses a control envelope from a ROUTE body
func DecodeCtlMessage(buf []byte) (*CtlMessage, error) {
	if len(buf) < ctlHeadLen {
		return nil, fmt.Errorf("%w: control message head truncated", ErrBadFrame)
	}
	k := CtlKind(binary.BigEndian.Uint32(buf[0:4]))
	if _, ok := CtlKindToString[k]; !ok {
		return nil, fmt.Errorf("%w: control kind %d", ErrBadField, k)
	}
	return &CtlMessage{
		Kind:    k,
		ID:      binary.BigEndian.Uint64(buf[4:12]),
		Payload: buf[ctlHeadLen:],
	}, nil
}

// Accept builds the ACCEPT reply to m, numbered id
func (m *CtlMessage) Accept(id uint64) *CtlMessage {
	return &CtlMessage{Kind: CtlAccept, ID: id, Payload: EncodeAck(m.ID)}
}

// Reject builds the REJECT reply to m, numbered id
func (m *CtlMessage) Reject(id uint64) *CtlMessage {
	return &CtlMessage{Kind: CtlReject, ID: id, Payload: EncodeAck(m.ID)}
}

// EncodeAck serializes an ACCEPT/REJECT payload: exactly u64 BE ack
func EncodeAck(ack uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, ack)
	return buf
}

// DecodeAck parses an ACCEPT/REJECT payload
func DecodeAck(buf []byte) (uint64, error) {
	if len(buf) != 8 {
		return 0, fmt.Errorf("%w: ack payload must be 8 bytes, got %d", ErrBadFrame, len(buf))
	}
	return binary.BigEndian.Uint64(buf), nil
}

// EncodeCtlSrc serializes a JOIN/LEAVE/GRANT_INFO/RETRACT_INFO payload:
// the 32-byte src id
func EncodeCtlSrc(src identity.Peer) []byte {
	id := src.ID()
	return id[:]
}

// DecodeCtlSrc parses a 32-byte src id payload
func DecodeCtlSrc(buf []byte) (identity.Peer, error) {
	p, err := identity.TryFromID(buf)
	if err != nil {
		return identity.Peer{}, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}
	return p, nil
}

// MergeBody is the MERGE payload: weight, threshold and the tree the
// merge refers to
type MergeBody struct {
	Weight uint64
	Thrd   uint64
	Src    identity.Peer
}

// Encode serializes the MERGE payload: u64 weight, u64 thrd, 32-byte src
func (b *MergeBody) Encode() []byte {
	buf := make([]byte, 8+8+identity.IDSize)
	binary.BigEndian.PutUint64(buf[0:8], b.Weight)
	binary.BigEndian.PutUint64(buf[8:16], b.Thrd)
	id := b.Src.ID()
	copy(buf[16:], id[:])
	return buf
}

// DecodeMergeBody parses a MERGE payload
func DecodeMergeBody(buf []byte) (*MergeBody, error) {
	if len(buf) != 8+8+identity.IDSize {
		return nil, fmt.Errorf("%w: merge payload is %d bytes", ErrBadFrame, len(buf))
	}
	src, err := identity.TryFromID(buf[16:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}
	return &MergeBody{
		Weight: binary.BigEndian.Uint64(buf[0:8]),
		Thrd:   binary.BigEndian.Uint64(buf[8:16]),
		Src:    src,
	}, nil
}

// MergeCheckBody is the MERGE_CHECK payload: the probing root's weight
type MergeCheckBody struct {
	Weight uint64
}

// Encode serializes the MERGE_CHECK payload
func (b *MergeCheckBody) Encode() []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, b.Weight)
	return buf
}

// DecodeMergeCheckBody parses a MERGE_CHECK payload
func DecodeMergeCheckBody(buf []byte) (*MergeCheckBody, error) {
	if len(buf) != 8 {
		return nil, fmt.Errorf("%w: merge check payload is %d bytes", ErrBadFrame, len(buf))
	}
	return &MergeCheckBody{Weight: binary.BigEndian.Uint64(buf)}, nil
}

// GrantBody is the GRANT/RETRACT payload: the child to hand over, the
// proposer's src-interval and the tree
type GrantBody struct {
	Target identity.Peer
	SrcInv uint64
	Src    identity.Peer
}

// Encode serializes the payload: 32-byte target, u64 src_inv, 32-byte src
func (b *GrantBody) Encode() []byte {
	buf := make([]byte, identity.IDSize+8+identity.IDSize)
	tid := b.Target.ID()
	copy(buf[0:identity.IDSize], tid[:])
	binary.BigEndian.PutUint64(buf[identity.IDSize:identity.IDSize+8], b.SrcInv)
	sid := b.Src.ID()
	copy(buf[identity.IDSize+8:], sid[:])
	return buf
}

// DecodeGrantBody parses a GRANT/RETRACT payload
func DecodeGrantBody(buf []byte) (*GrantBody, error) {
	if len(buf) != identity.IDSize+8+identity.IDSize {
		return nil, fmt.Errorf("%w: grant payload is %d bytes", ErrBadFrame, len(buf))
	}
	target, err := identity.TryFromID(buf[0:identity.IDSize])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}
	src, err := identity.TryFromID(buf[identity.IDSize+8:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}
	return &GrantBody{
		Target: target,
		SrcInv: binary.BigEndian.Uint64(buf[identity.IDSize : identity.IDSize+8]),
		Src:    src,
	}, nil
}
