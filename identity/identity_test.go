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

package identity

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPeerFromBytesStable(t *testing.T) {
	a := FromBytes([]byte{1})
	b := FromBytes([]byte{1})
	c := FromBytes([]byte{2})
	require.True(t, a.Equal(b))
	require.False(t, a.Equal(c))
	require.True(t, a.IsCommon())
}

func TestPeerFromPublicKey(t *testing.T) {
	pub := []byte("serialized public key bytes")
	p := FromPublicKey(pub)
	q := FromPublicKey(pub)
	require.True(t, p.Equal(q))
	require.Equal(t, pub, p.PublicKey())
	// identity equality ignores the bound key
	noKey, err := TryFromID(pubID(p))
	require.NoError(t, err)
	require.True(t, p.Equal(noKey))
	require.Nil(t, noKey.PublicKey())
}

func pubID(p Peer) []byte {
	id := p.ID()
	return id[:]
}

func TestTryFromID(t *testing.T) {
	_, err := TryFromID(make([]byte, 31))
	require.Error(t, err)

	_, err = TryFromID(make([]byte, 33))
	require.Error(t, err)

	raw := make([]byte, IDSize)
	raw[0] = 0xAB
	p, err := TryFromID(raw)
	require.NoError(t, err)
	require.Equal(t, raw, pubID(p))
}

func TestBroadcastIsNotCommon(t *testing.T) {
	require.False(t, Broadcast.IsCommon())
	zero, err := TryFromID(make([]byte, IDSize))
	require.NoError(t, err)
	require.False(t, zero.IsCommon())
	require.True(t, zero.Equal(Broadcast))
}

func TestFromRandomUnique(t *testing.T) {
	a, err := FromRandom()
	require.NoError(t, err)
	b, err := FromRandom()
	require.NoError(t, err)
	require.False(t, a.Equal(b))
	require.True(t, a.IsCommon())
}

func TestPeerOrdering(t *testing.T) {
	lo, err := TryFromID(append([]byte{1}, make([]byte, IDSize-1)...))
	require.NoError(t, err)
	hi, err := TryFromID(append([]byte{2}, make([]byte, IDSize-1)...))
	require.NoError(t, err)

	require.True(t, hi.Greater(lo))
	require.False(t, lo.Greater(hi))
	require.False(t, hi.Greater(hi))
	require.True(t, lo.Less(hi))
	require.False(t, lo.Less(lo))
}
