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
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"
)

func addr(ip string, listen uint16) SocketAddrBi {
	return NewSocketAddrBi(netip.MustParseAddr(ip), listen, 0)
}

func TestAddressBookBijective(t *testing.T) {
	b := NewAddressBook()
	p1 := FromBytes([]byte{1})
	p2 := FromBytes([]byte{2})
	a1 := addr("10.0.0.1", 10450)
	a2 := addr("10.0.0.2", 10450)

	b.Insert(p1, a1)
	b.Insert(p2, a2)
	require.Equal(t, 2, b.Len())

	// get_by_key . get_by_value and vice versa are identities
	got, ok := b.GetByPeer(p1)
	require.True(t, ok)
	back, ok := b.GetByAddr(got)
	require.True(t, ok)
	require.True(t, back.Equal(p1))

	gotPeer, ok := b.GetByAddr(a2)
	require.True(t, ok)
	gotAddr, ok := b.GetByPeer(gotPeer)
	require.True(t, ok)
	require.True(t, gotAddr.Same(a2))
}

func TestAddressBookInsertDisplaces(t *testing.T) {
	b := NewAddressBook()
	p1 := FromBytes([]byte{1})
	p2 := FromBytes([]byte{2})
	a1 := addr("10.0.0.1", 10450)

	b.Insert(p1, a1)
	// rebinding the locator to another peer must drop the old peer
	b.Insert(p2, a1)

	require.Equal(t, 1, b.Len())
	require.False(t, b.ContainsPeer(p1))
	got, ok := b.GetByAddr(a1)
	require.True(t, ok)
	require.True(t, got.Equal(p2))
}

func TestAddressBookUpdateByPeer(t *testing.T) {
	b := NewAddressBook()
	p := FromBytes([]byte{1})
	a1 := addr("10.0.0.1", 10450)
	a2 := addr("10.0.0.2", 10450)

	require.ErrorIs(t, b.UpdateByPeer(p, a1), ErrNotFound)

	b.Insert(p, a1)
	require.NoError(t, b.UpdateByPeer(p, a2))

	_, ok := b.GetByAddr(a1)
	require.False(t, ok)
	got, ok := b.GetByPeer(p)
	require.True(t, ok)
	require.True(t, got.Same(a2))
	back, ok := b.GetByAddr(a2)
	require.True(t, ok)
	require.True(t, back.Equal(p))
}

func TestAddressBookUpdateByAddr(t *testing.T) {
	b := NewAddressBook()
	p1 := FromBytes([]byte{1})
	p2 := FromBytes([]byte{2})
	a := addr("10.0.0.1", 10450)

	require.ErrorIs(t, b.UpdateByAddr(a, p1), ErrNotFound)

	b.Insert(p1, a)
	require.NoError(t, b.UpdateByAddr(a, p2))

	require.False(t, b.ContainsPeer(p1))
	got, ok := b.GetByAddr(a)
	require.True(t, ok)
	require.True(t, got.Equal(p2))
}

func TestSocketAddrBiEqualityByIP(t *testing.T) {
	a := NewSocketAddrBi(netip.MustParseAddr("10.0.0.1"), 10450, 0)
	b := NewSocketAddrBi(netip.MustParseAddr("10.0.0.1"), 9999, 1234)
	require.True(t, a.Same(b))

	book := NewAddressBook()
	p := FromBytes([]byte{1})
	book.Insert(p, a)
	// lookup by a locator with different ports still resolves
	got, ok := book.GetByAddr(b)
	require.True(t, ok)
	require.True(t, got.Equal(p))
}
