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

package overlay

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/epsilon314/bdn/identity"
	"github.com/epsilon314/bdn/protocol"
)

func TestSendBufferPriority(t *testing.T) {
	b := newSendBuffer()
	dst := identity.FromBytes([]byte{1})

	mk := func(tag byte) *protocol.OverlayMessage {
		return protocol.NewOverlayMessage(0, dst, dst, dst, []byte{tag})
	}

	b.push(dst, PriorityPayload, mk(1))
	b.push(dst, PriorityCtl, mk(2))
	b.push(dst, PriorityPayload, mk(3))
	b.push(dst, PriorityCtl, mk(4))

	// control traffic first, FIFO within a priority
	want := []byte{2, 4, 1, 3}
	for _, tag := range want {
		it, ok := b.pop()
		require.True(t, ok)
		require.Equal(t, tag, it.msg.Payload[0])
	}
	_, ok := b.pop()
	require.False(t, ok)
}

func TestSendBufferFIFOWithinPriority(t *testing.T) {
	b := newSendBuffer()
	dst := identity.FromBytes([]byte{1})

	for i := byte(0); i < 10; i++ {
		b.push(dst, PriorityPayload, protocol.NewOverlayMessage(0, dst, dst, dst, []byte{i}))
	}
	for i := byte(0); i < 10; i++ {
		it, ok := b.pop()
		require.True(t, ok)
		require.Equal(t, i, it.msg.Payload[0])
	}
}
