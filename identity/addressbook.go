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
	"errors"
	"net/netip"
)

// ErrNotFound is returned by address book updates when the entry to update
// is absent. The book is left untouched in that case.
var ErrNotFound = errors.New("address book entry not found")

// AddressBook is an injective Peer <-> SocketAddrBi mapping with lookup by
// either side. Locators are keyed by IP only, matching SocketAddrBi
// equality. The zero value is not usable, call NewAddressBook.
type AddressBook struct {
	byPeer map[[IDSize]byte]SocketAddrBi
	byAddr map[netip.Addr]Peer
}

// NewAddressBook returns an empty book
func NewAddressBook() *AddressBook {
	return &AddressBook{
		byPeer: make(map[[IDSize]byte]SocketAddrBi),
		byAddr: make(map[netip.Addr]Peer),
	}
}

// ContainsPeer reports whether p has a locator
func (b *AddressBook) ContainsPeer(p Peer) bool {
	_, ok := b.byPeer[p.ID()]
	return ok
}

// ContainsAddr reports whether addr is bound to a peer
func (b *AddressBook) ContainsAddr(addr SocketAddrBi) bool {
	_, ok := b.byAddr[addr.Key()]
	return ok
}

// GetByPeer returns the locator bound to p
func (b *AddressBook) GetByPeer(p Peer) (SocketAddrBi, bool) {
	addr, ok := b.byPeer[p.ID()]
	return addr, ok
}

// GetByAddr returns the peer bound to addr
func (b *AddressBook) GetByAddr(addr SocketAddrBi) (Peer, bool) {
	p, ok := b.byAddr[addr.Key()]
	return p, ok
}

// Insert binds p and addr, displacing any previous binding of either side
// so the mapping stays injective.
func (b *AddressBook) Insert(p Peer, addr SocketAddrBi) {
	if old, ok := b.byPeer[p.ID()]; ok {
		delete(b.byAddr, old.Key())
	}
	if old, ok := b.byAddr[addr.Key()]; ok {
		delete(b.byPeer, old.ID())
	}
	b.byPeer[p.ID()] = addr
	b.byAddr[addr.Key()] = p
}

// UpdateByPeer rebinds an existing peer to a new locator. Both maps are
// rewritten in one logical step; an absent peer returns ErrNotFound with
// no partial update.
func (b *AddressBook) UpdateByPeer(p Peer, addr SocketAddrBi) error {
	old, ok := b.byPeer[p.ID()]
	if !ok {
		return ErrNotFound
	}
	delete(b.byAddr, old.Key())
	if prev, ok := b.byAddr[addr.Key()]; ok {
		delete(b.byPeer, prev.ID())
	}
	b.byPeer[p.ID()] = addr
	b.byAddr[addr.Key()] = p
	return nil
}

// UpdateByAddr rebinds an existing locator to a new peer. An absent locator
// returns ErrNotFound with no partial update.
func (b *AddressBook) UpdateByAddr(addr SocketAddrBi, p Peer) error {
	old, ok := b.byAddr[addr.Key()]
	if !ok {
		return ErrNotFound
	}
	delete(b.byPeer, old.ID())
	if prev, ok := b.byPeer[p.ID()]; ok {
		delete(b.byAddr, prev.Key())
	}
	b.byAddr[addr.Key()] = p
	b.byPeer[p.ID()] = addr
	return nil
}

// Iter calls fn for every (peer, locator) pair. Mutating the book from fn
// is not allowed.
func (b *AddressBook) Iter(fn func(Peer, SocketAddrBi)) {
	for _, p := range b.byAddr {
		fn(p, b.byPeer[p.ID()])
	}
}

// Len returns the number of bindings
func (b *AddressBook) Len() int {
	return len(b.byPeer)
}
