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
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCtlEnvelopeRoundTrip(t *testing.T) {
	src := testPeer(7)
	m := &CtlMessage{Kind: CtlJoin, ID: 42, Payload: EncodeCtlSrc(src)}
	got, err := DecodeCtlMessage(m.Encode())
	require.NoError(t, err)
	require.Equal(t, CtlJoin, got.Kind)
	require.Equal(t, uint64(42), got.ID)

	decoded, err := DecodeCtlSrc(got.Payload)
	require.NoError(t, err)
	require.True(t, decoded.Equal(src))
}

func TestCtlAcceptReject(t *testing.T) {
	m := &CtlMessage{Kind: CtlJoin, ID: 9}

	acc := m.Accept(10)
	require.Equal(t, CtlAccept, acc.Kind)
	ack, err := DecodeAck(acc.Payload)
	require.NoError(t, err)
	require.Equal(t, uint64(9), ack)

	rej := m.Reject(11)
	require.Equal(t, CtlReject, rej.Kind)
	ack, err = DecodeAck(rej.Payload)
	require.NoError(t, err)
	require.Equal(t, uint64(9), ack)

	_, err = DecodeAck([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestCtlUnknownKind(t *testing.T) {
	m := &CtlMessage{Kind: CtlKind(99), ID: 1}
	_, err := DecodeCtlMessage(m.Encode())
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrBadField))

	_, err = DecodeCtlMessage([]byte{1, 2})
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrBadFrame))
}

func TestMergeBodyRoundTrip(t *testing.T) {
	src := testPeer(3)
	b := &MergeBody{Weight: 1234, Thrd: 500, Src: src}
	got, err := DecodeMergeBody(b.Encode())
	require.NoError(t, err)
	require.Equal(t, uint64(1234), got.Weight)
	require.Equal(t, uint64(500), got.Thrd)
	require.True(t, got.Src.Equal(src))

	_, err = DecodeMergeBody([]byte{1})
	require.Error(t, err)
}

func TestMergeCheckBodyRoundTrip(t *testing.T) {
	b := &MergeCheckBody{Weight: 77}
	got, err := DecodeMergeCheckBody(b.Encode())
	require.NoError(t, err)
	require.Equal(t, uint64(77), got.Weight)
}

func TestGrantBodyRoundTrip(t *testing.T) {
	src := testPeer(4)
	target := testPeer(5)
	b := &GrantBody{Target: target, SrcInv: 88, Src: src}
	got, err := DecodeGrantBody(b.Encode())
	require.NoError(t, err)
	require.True(t, got.Target.Equal(target))
	require.Equal(t, uint64(88), got.SrcInv)
	require.True(t, got.Src.Equal(src))

	_, err = DecodeGrantBody([]byte{1, 2, 3})
	require.Error(t, err)
}
