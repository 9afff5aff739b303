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

func TestHeaderBitFidelity(t *testing.T) {
	cases := []struct {
		msgType MsgType
		relay   bool
		method  RelayMethod
		fanout  uint32
		ttl     uint32
	}{
		{MsgRoute, false, RelayRandom, 0, 0},
		{MsgNetMeasure, true, RelayKad, 1, 1},
		{MsgPayload, true, RelayLookupTable1, 255, 15},
		{MsgPayload, false, RelayAll, 128, 7},
	}
	for _, tc := range cases {
		h, err := BuildHeader(tc.msgType, tc.relay, tc.method, tc.fanout, tc.ttl)
		require.NoError(t, err)

		mt, err := h.MsgType()
		require.NoError(t, err)
		require.Equal(t, tc.msgType, mt)
		require.Equal(t, tc.relay, h.RelayFlag())
		rm, err := h.RelayMethod()
		require.NoError(t, err)
		require.Equal(t, tc.method, rm)
		require.Equal(t, tc.fanout, h.Fanout())
		require.Equal(t, tc.ttl, h.TTL())
	}
}

func TestHeaderFieldOverflow(t *testing.T) {
	var h Header
	require.NoError(t, h.SetFanout(10))

	err := h.SetTTL(16)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrFieldOverflow))

	err = h.SetFanout(256)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrFieldOverflow))

	// failed sets must not clobber earlier fields
	require.Equal(t, uint32(10), h.Fanout())
}

func TestHeaderBadField(t *testing.T) {
	// type nibble 0xF is outside the enum
	h := Header(0xF0000000)
	_, err := h.MsgType()
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrBadField))

	var w Header
	require.Error(t, w.SetMsgType(MsgType(9)))
	require.Error(t, w.SetRelayMethod(RelayMethod(12)))
}

func TestHeaderReservedBitsZero(t *testing.T) {
	h, err := BuildHeader(MsgPayload, true, RelayAll, 255, 15)
	require.NoError(t, err)
	require.Zero(t, uint32(h)&0x7FF)
}
