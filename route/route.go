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
Package route holds the per-node relay state: one delegate (up-link) per
subscribed source, the ordered downstream relay list per source, and the
unicast next-hop table. The table is owned by the overlay engine and
mutated only from its poll goroutine.
*/
package route

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/epsilon314/bdn/identity"
)

// MaxLink bounds the total number of (source, child) relay entries a node
// will carry
const MaxLink = 128

// ErrLinkLimit is returned when inserting a relay would exceed MaxLink
var ErrLinkLimit = fmt.Errorf("relay table is full (%d links)", MaxLink)

type peerID = [identity.IDSize]byte

// Table is the per-node routing state
type Table struct {
	local identity.Peer

	delegates  map[peerID]identity.Peer   // source -> upstream
	relayTable map[peerID][]identity.Peer // source -> ordered children
	pathTable  map[peerID]identity.Peer   // destination -> next hop

	relayCounter  int
	relayCtPerTri map[peerID]int
}

// NewTable returns an empty table for the given local peer
func NewTable(local identity.Peer) *Table {
	return &Table{
		local:         local,
		delegates:     make(map[peerID]identity.Peer),
		relayTable:    make(map[peerID][]identity.Peer),
		pathTable:     make(map[peerID]identity.Peer),
		relayCtPerTri: make(map[peerID]int),
	}
}

// LocalPeer returns the identity the table belongs to
func (t *Table) LocalPeer() identity.Peer {
	return t.local
}

// GetNextHop returns the unicast next hop towards dst
func (t *Table) GetNextHop(dst identity.Peer) (identity.Peer, bool) {
	next, ok := t.pathTable[dst.ID()]
	return next, ok
}

// GetRelay returns the ordered child list for src. The returned slice is a
// copy, callers may iterate while the table mutates.
func (t *Table) GetRelay(src identity.Peer) []identity.Peer {
	children := t.relayTable[src.ID()]
	out := make([]identity.Peer, len(children))
	copy(out, children)
	return out
}

// GetDelegate returns the upstream peer for src
func (t *Table) GetDelegate(src identity.Peer) (identity.Peer, bool) {
	d, ok := t.delegates[src.ID()]
	return d, ok
}

// GetSrcList returns every source with a registered delegate
func (t *Table) GetSrcList() []identity.Peer {
	out := make([]identity.Peer, 0, len(t.delegates))
	for id := range t.delegates {
		p, _ := identity.TryFromID(id[:])
		out = append(out, p)
	}
	return out
}

// GetRelaySrcList returns every source with at least one child
func (t *Table) GetRelaySrcList() []identity.Peer {
	out := make([]identity.Peer, 0, len(t.relayTable))
	for id, children := range t.relayTable {
		if len(children) == 0 {
			continue
		}
		p, _ := identity.TryFromID(id[:])
		out = append(out, p)
	}
	return out
}

// InsertPath registers next as the unicast next hop towards dst,
// overwriting any previous entry
func (t *Table) InsertPath(dst, next identity.Peer) {
	if old, ok := t.pathTable[dst.ID()]; ok && !old.Equal(next) {
		log.Warningf("route: replacing next hop for %s: %s -> %s", dst, old, next)
	}
	t.pathTable[dst.ID()] = next
}

// RemovePath drops the unicast entry for dst
func (t *Table) RemovePath(dst identity.Peer) {
	if _, ok := t.pathTable[dst.ID()]; !ok {
		log.Warningf("route: removing absent path entry for %s", dst)
		return
	}
	delete(t.pathTable, dst.ID())
}

// InsertRelay appends child to src's relay list. Duplicates are a logged
// no-op; the insert is rejected with ErrLinkLimit once MaxLink entries
// exist.
func (t *Table) InsertRelay(src, child identity.Peer) error {
	for _, c := range t.relayTable[src.ID()] {
		if c.Equal(child) {
			log.Warningf("route: relay %s already registered for tree %s", child, src)
			return nil
		}
	}
	if t.relayCounter >= MaxLink {
		return ErrLinkLimit
	}
	t.relayTable[src.ID()] = append(t.relayTable[src.ID()], child)
	t.relayCounter++
	t.relayCtPerTri[src.ID()]++
	return nil
}

// InsertFrontRelay prepends child to src's relay list. Used by merge when
// the local node becomes the new root and the losing root must be visited
// first.
func (t *Table) InsertFrontRelay(src, child identity.Peer) error {
	for _, c := range t.relayTable[src.ID()] {
		if c.Equal(child) {
			log.Warningf("route: relay %s already registered for tree %s", child, src)
			return nil
		}
	}
	if t.relayCounter >= MaxLink {
		return ErrLinkLimit
	}
	t.relayTable[src.ID()] = append([]identity.Peer{child}, t.relayTable[src.ID()]...)
	t.relayCounter++
	t.relayCtPerTri[src.ID()]++
	return nil
}

// RemoveRelay drops child from src's relay list
func (t *Table) RemoveRelay(src, child identity.Peer) {
	children := t.relayTable[src.ID()]
	for i, c := range children {
		if c.Equal(child) {
			t.relayTable[src.ID()] = append(children[:i:i], children[i+1:]...)
			t.relayCounter--
			t.relayCtPerTri[src.ID()]--
			if t.relayCtPerTri[src.ID()] == 0 {
				delete(t.relayCtPerTri, src.ID())
				delete(t.relayTable, src.ID())
			}
			return
		}
	}
	log.Warningf("route: removing absent relay %s for tree %s", child, src)
}

// RegDelegate registers upstream as the single delegate for src
func (t *Table) RegDelegate(src, upstream identity.Peer) {
	if old, ok := t.delegates[src.ID()]; ok && !old.Equal(upstream) {
		log.Warningf("route: replacing delegate for tree %s: %s -> %s", src, old, upstream)
	}
	t.delegates[src.ID()] = upstream
}

// RemoveDelegate drops the delegate registration for src
func (t *Table) RemoveDelegate(src identity.Peer) {
	delete(t.delegates, src.ID())
}

// GetRelayCount returns the total number of (source, child) entries
func (t *Table) GetRelayCount() int {
	return t.relayCounter
}

// GetRelayCountByTree returns the number of children under src
func (t *Table) GetRelayCountByTree(src identity.Peer) int {
	return t.relayCtPerTri[src.ID()]
}
