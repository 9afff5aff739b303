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
Package identity provides peer identities and the bidirectional address book
that binds them to socket locators.

A peer id is 32 bytes: the SM3 digest of the peer's serialized public key,
or cryptographically random when no key is bound. The all-zero id is
reserved as the broadcast placeholder.
*/
package identity

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/emmansun/gmsm/sm3"
)

// IDSize is the length of a peer id in bytes
const IDSize = 32

// Peer is a node identity. Equality is defined over the id bytes only;
// the bound public key is metadata.
type Peer struct {
	id     [IDSize]byte
	pubkey []byte
}

// Broadcast is the reserved all-zero placeholder id
var Broadcast = Peer{}

// FromPublicKey derives a Peer from a serialized public key
func FromPublicKey(pub []byte) Peer {
	p := Peer{pubkey: make([]byte, len(pub))}
	copy(p.pubkey, pub)
	p.id = sm3.Sum(pub)
	return p
}

// FromRandom returns a Peer with a random id and no bound key
func FromRandom() (Peer, error) {
	p := Peer{}
	if _, err := rand.Read(p.id[:]); err != nil {
		return Peer{}, fmt.Errorf("generating random peer id: %w", err)
	}
	return p, nil
}

// FromBytes derives a Peer id by hashing arbitrary bytes. Handy for stable
// test and CLI identities.
func FromBytes(b []byte) Peer {
	return Peer{id: sm3.Sum(b)}
}

// TryFromID builds a Peer from raw id bytes with no bound key.
// The slice must be exactly IDSize bytes long.
func TryFromID(b []byte) (Peer, error) {
	if len(b) != IDSize {
		return Peer{}, fmt.Errorf("peer id must be %d bytes, got %d", IDSize, len(b))
	}
	p := Peer{}
	copy(p.id[:], b)
	return p, nil
}

// ID returns the raw 32-byte id
func (p Peer) ID() [IDSize]byte {
	return p.id
}

// PublicKey returns the bound public key bytes, nil if none
func (p Peer) PublicKey() []byte {
	return p.pubkey
}

// IsCommon reports whether p is a normal peer, i.e. not the broadcast
// placeholder
func (p Peer) IsCommon() bool {
	return p.id != Broadcast.id
}

// Equal reports id equality
func (p Peer) Equal(q Peer) bool {
	return p.id == q.id
}

// Less orders peers by id bytes. Used for symmetric tie-breaks.
func (p Peer) Less(q Peer) bool {
	return p.id != q.id && !p.Greater(q)
}

// Greater reports whether p's id is lexicographically greater than q's
func (p Peer) Greater(q Peer) bool {
	for i := 0; i < IDSize; i++ {
		if p.id[i] != q.id[i] {
			return p.id[i] > q.id[i]
		}
	}
	return false
}

func (p Peer) String() string {
	if !p.IsCommon() {
		return "Peer(broadcast)"
	}
	return hex.EncodeToString(p.id[:8])
}
