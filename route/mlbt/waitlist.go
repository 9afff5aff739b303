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

package mlbt

import (
	"time"

	"github.com/epsilon314/bdn/identity"
)

// WaitKind names a pending-protocol state with a deadline
type WaitKind int

// Wait slot kinds. At most one slot of each kind is armed per source.
const (
	JoinWait WaitKind = iota
	JoinPre
	MergeWait
	MergePre
	MergeCheck
	GrantWait
	GrantJoin
	GrantRecv
	GrantTotal
	RetractWait
	RetractJoin
	RetractRecv
	RetractTotal
	waitKindCount
)

// WaitKindToString is a map from WaitKind to string
var WaitKindToString = map[WaitKind]string{
	JoinWait:     "JOIN_WAIT",
	JoinPre:      "JOIN_PRE",
	MergeWait:    "MERGE_WAIT",
	MergePre:     "MERGE_PRE",
	MergeCheck:   "MERGE_CHECK",
	GrantWait:    "GRANT_WAIT",
	GrantJoin:    "GRANT_JOIN",
	GrantRecv:    "GRANT_RECV",
	GrantTotal:   "GRANT_TOTAL",
	RetractWait:  "RETRACT_WAIT",
	RetractJoin:  "RETRACT_JOIN",
	RetractRecv:  "RETRACT_RECV",
	RetractTotal: "RETRACT_TOTAL",
}

func (k WaitKind) String() string {
	return WaitKindToString[k]
}

// DefaultTimeouts per wait kind. MergePre must outlive MergeWait plus
// MergeCheck so the responder does not give up while the initiator is
// still probing.
var DefaultTimeouts = map[WaitKind]time.Duration{
	JoinWait:     2 * time.Second,
	JoinPre:      2 * time.Second,
	MergeWait:    2 * time.Second,
	MergePre:     4 * time.Second,
	MergeCheck:   2 * time.Second,
	GrantWait:    2 * time.Second,
	GrantJoin:    2 * time.Second,
	GrantRecv:    2 * time.Second,
	GrantTotal:   2 * time.Second,
	RetractWait:  2 * time.Second,
	RetractJoin:  2 * time.Second,
	RetractRecv:  2 * time.Second,
	RetractTotal: 2 * time.Second,
}

// WaitEntry is the data stored in an armed slot
type WaitEntry struct {
	Src   identity.Peer
	Peers []identity.Peer // related peers, meaning depends on the kind
	MsgID uint64          // message id an ACCEPT/REJECT will ack
	AuxID uint64          // second id where the handshake needs one

	deadline time.Time
}

// Expired reports whether the slot deadline has passed
func (e *WaitEntry) Expired(now time.Time) bool {
	return now.After(e.deadline)
}

// WaitList holds timed pending-protocol slots keyed by (source, kind).
// Setting a kind that is already armed overwrites it.
type WaitList struct {
	slots    map[peerID]map[WaitKind]*WaitEntry
	timeouts map[WaitKind]time.Duration

	now func() time.Time
}

// NewWaitList returns a wait list with the default timeouts
func NewWaitList() *WaitList {
	to := make(map[WaitKind]time.Duration, len(DefaultTimeouts))
	for k, v := range DefaultTimeouts {
		to[k] = v
	}
	return &WaitList{
		slots:    make(map[peerID]map[WaitKind]*WaitEntry),
		timeouts: to,
		now:      time.Now,
	}
}

// SetTimeout overrides the timeout for one kind
func (w *WaitList) SetTimeout(kind WaitKind, d time.Duration) {
	w.timeouts[kind] = d
}

// Set arms the (src, kind) slot with e, starting its timer now
func (w *WaitList) Set(src identity.Peer, kind WaitKind, e WaitEntry) {
	e.Src = src
	e.deadline = w.now().Add(w.timeouts[kind])
	set, ok := w.slots[src.ID()]
	if !ok {
		set = make(map[WaitKind]*WaitEntry, waitKindCount)
		w.slots[src.ID()] = set
	}
	set[kind] = &e
}

// Get returns the slot data without consuming it
func (w *WaitList) Get(src identity.Peer, kind WaitKind) (*WaitEntry, bool) {
	set, ok := w.slots[src.ID()]
	if !ok {
		return nil, false
	}
	e, ok := set[kind]
	return e, ok
}

// Check returns the slot data iff its timeout has elapsed, clearing the
// slot. A slot that is armed but not yet expired returns (nil, false).
func (w *WaitList) Check(src identity.Peer, kind WaitKind) (*WaitEntry, bool) {
	set, ok := w.slots[src.ID()]
	if !ok {
		return nil, false
	}
	e, ok := set[kind]
	if !ok || !e.Expired(w.now()) {
		return nil, false
	}
	delete(set, kind)
	if len(set) == 0 {
		delete(w.slots, src.ID())
	}
	return e, true
}

// Clear disarms the (src, kind) slot
func (w *WaitList) Clear(src identity.Peer, kind WaitKind) {
	set, ok := w.slots[src.ID()]
	if !ok {
		return
	}
	delete(set, kind)
	if len(set) == 0 {
		delete(w.slots, src.ID())
	}
}

// GetByID scans all slots and returns the first whose MsgID equals id.
// Used to route ACCEPT/REJECT acks to the pending handler that sent the
// original request.
func (w *WaitList) GetByID(id uint64) (identity.Peer, WaitKind, *WaitEntry, bool) {
	for _, set := range w.slots {
		for kind, e := range set {
			if e.MsgID == id {
				return e.Src, kind, e, true
			}
		}
	}
	return identity.Peer{}, 0, nil, false
}

// IsWaiting reports whether any slot is armed for src
func (w *WaitList) IsWaiting(src identity.Peer) bool {
	set, ok := w.slots[src.ID()]
	return ok && len(set) > 0
}

// Expire collects every slot whose deadline has passed, clearing them.
// Ctl.checkTimers runs the matching timeout handling.
func (w *WaitList) Expire() []*WaitEntryWithKind {
	var out []*WaitEntryWithKind
	now := w.now()
	for id, set := range w.slots {
		for kind, e := range set {
			if e.Expired(now) {
				out = append(out, &WaitEntryWithKind{Kind: kind, Entry: e})
				delete(set, kind)
			}
		}
		if len(set) == 0 {
			delete(w.slots, id)
		}
	}
	return out
}

// WaitEntryWithKind pairs an expired entry with its slot kind
type WaitEntryWithKind struct {
	Kind  WaitKind
	Entry *WaitEntry
}
