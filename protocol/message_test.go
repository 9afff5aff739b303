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
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/epsilon314/bdn/identity"
)

func testPeer(b ...byte) identity.Peer {
	return identity.FromBytes(b)
}

func TestFrameRoundTrip(t *testing.T) {
	h, err := BuildHeader(MsgPayload, true, RelayLookupTable1, 1, 15)
	require.NoError(t, err)

	p := testPeer(1)
	payload := bytes.Repeat([]byte{42}, 258)
	m := NewOverlayMessage(h, p, p, p, payload)

	frame, err := m.Encode()
	require.NoError(t, err)

	// 2-byte BE length prefix equals body length
	require.Equal(t, uint16(len(frame)-2), binary.BigEndian.Uint16(frame[0:2]))

	got, err := Decode(frame)
	require.NoError(t, err)
	require.Equal(t, m.Header, got.Header)
	require.Equal(t, m.Timestamp, got.Timestamp)
	require.Equal(t, m.SrcID, got.SrcID)
	require.Equal(t, m.FromID, got.FromID)
	require.Equal(t, m.DstID, got.DstID)
	require.Equal(t, m.Payload, got.Payload)
}

func TestEncodeOversize(t *testing.T) {
	p := testPeer(1)
	m := NewOverlayMessage(0, p, p, p, bytes.Repeat([]byte{1}, MsgMaxLen))
	_, err := m.Encode()
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrMsgOversize))
}

func TestDecodeTruncated(t *testing.T) {
	_, err := Decode([]byte{0x01})
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrBadFrame))

	// length prefix promises more than the buffer holds
	_, err = Decode([]byte{0x00, 0x10, 0x01, 0x02})
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrBadFrame))

	// length prefix exceeds the frame maximum
	over := make([]byte, 4)
	binary.BigEndian.PutUint16(over, MsgMaxLen)
	_, err = Decode(over)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrBadFrame))
}

func TestFrameReaderSequence(t *testing.T) {
	p := testPeer(2)
	h, err := BuildHeader(MsgPayload, false, RelayLookupTable1, 0, 0)
	require.NoError(t, err)

	payloads := [][]byte{
		{1, 2, 3},
		{1, 2, 3, 4, 5, 6},
		bytes.Repeat([]byte{42}, 1900),
		{1, 2, 3},
	}

	var stream bytes.Buffer
	for _, pl := range payloads {
		m := NewOverlayMessage(h, p, p, p, pl)
		frame, err := m.Encode()
		require.NoError(t, err)
		stream.Write(frame)
	}

	r := NewFrameReader(&stream)
	for _, pl := range payloads {
		m, err := r.ReadMessage()
		require.NoError(t, err)
		require.Equal(t, pl, m.Payload)
	}

	// clean EOF once the stream is drained
	_, err = r.ReadMessage()
	require.Equal(t, io.EOF, err)
}

func TestFrameReaderPartialFrame(t *testing.T) {
	// a frame cut short mid-body is a decode error, not EOF
	r := NewFrameReader(bytes.NewReader([]byte{0x00, 0x08, 0x01}))
	_, err := r.ReadMessage()
	require.Error(t, err)
	require.NotEqual(t, io.EOF, err)
	require.True(t, errors.Is(err, ErrBadFrame))
}

func TestFrameReaderEOFAtPrefix(t *testing.T) {
	// fewer than 2 bytes reads as stream end
	r := NewFrameReader(bytes.NewReader([]byte{0x00}))
	_, err := r.ReadMessage()
	require.Equal(t, io.EOF, err)
}
