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
	"github.com/epsilon314/bdn/identity"
)

// delayAverageWindow is the EWMA window for neighbour hop delay
const delayAverageWindow = 10

// defaultMergeThrd is the initial merge threshold in ms. Never zero.
const defaultMergeThrd = 500

type peerID = [identity.IDSize]byte

// treeStat is the per-source record of local relay timings
type treeStat struct {
	srcInv   uint64 // root emission -> local relay completion, ms
	relayInv uint64 // local receipt -> last child completion, ms

	mergeThrd uint64

	srcInvDesc   map[peerID]uint64
	relayInvDesc map[peerID]uint64
}

func newTreeStat() *treeStat {
	return &treeStat{
		mergeThrd:    defaultMergeThrd,
		srcInvDesc:   make(map[peerID]uint64),
		relayInvDesc: make(map[peerID]uint64),
	}
}

type neighbourStat struct {
	delayTS uint64
}

// StatList stores relay-interval statistics per source tree plus the
// per-neighbour hop delay moving average. Getters return ok=false when the
// source or neighbour was never observed; callers treat that as "cannot
// evaluate, skip this decision this round".
type StatList struct {
	inner     map[peerID]*treeStat
	neighbour map[peerID]*neighbourStat
}

// NewStatList returns an empty statistics store
func NewStatList() *StatList {
	return &StatList{
		inner:     make(map[peerID]*treeStat),
		neighbour: make(map[peerID]*neighbourStat),
	}
}

// InsertDefault makes sure tree has a stat record
func (s *StatList) InsertDefault(tree identity.Peer) {
	if _, ok := s.inner[tree.ID()]; !ok {
		s.inner[tree.ID()] = newTreeStat()
	}
}

// SrcInv returns the src-interval for tree
func (s *StatList) SrcInv(tree identity.Peer) (uint64, bool) {
	st, ok := s.inner[tree.ID()]
	if !ok {
		return 0, false
	}
	return st.srcInv, true
}

// RelayInv returns the relay-interval for tree
func (s *StatList) RelayInv(tree identity.Peer) (uint64, bool) {
	st, ok := s.inner[tree.ID()]
	if !ok {
		return 0, false
	}
	return st.relayInv, true
}

// SrcInvDesc returns the src-interval observed for child desc in tree
func (s *StatList) SrcInvDesc(tree, desc identity.Peer) (uint64, bool) {
	st, ok := s.inner[tree.ID()]
	if !ok {
		return 0, false
	}
	v, ok := st.srcInvDesc[desc.ID()]
	return v, ok
}

// RelayInvDesc returns the relay-interval observed for child desc in tree
func (s *StatList) RelayInvDesc(tree, desc identity.Peer) (uint64, bool) {
	st, ok := s.inner[tree.ID()]
	if !ok {
		return 0, false
	}
	v, ok := st.relayInvDesc[desc.ID()]
	return v, ok
}

// MergeThrd returns the merge threshold for tree
func (s *StatList) MergeThrd(tree identity.Peer) (uint64, bool) {
	st, ok := s.inner[tree.ID()]
	if !ok {
		return 0, false
	}
	return st.mergeThrd, true
}

// DelayTS returns the hop-delay moving average for a neighbour
func (s *StatList) DelayTS(peer identity.Peer) (uint64, bool) {
	st, ok := s.neighbour[peer.ID()]
	if !ok {
		return 0, false
	}
	return st.delayTS, true
}

// RollUpdateDelayTS folds a new delay observation into the neighbour's
// moving average: (old*(w-1) + new) / w with w = 10. The first observation
// seeds the average.
func (s *StatList) RollUpdateDelayTS(peer identity.Peer, newDelay uint64) {
	st, ok := s.neighbour[peer.ID()]
	if !ok {
		s.neighbour[peer.ID()] = &neighbourStat{delayTS: newDelay}
		return
	}
	st.delayTS = (st.delayTS*(delayAverageWindow-1) + newDelay) / delayAverageWindow
}

// UpdateSrcInv records a fresh src-interval measurement for tree
func (s *StatList) UpdateSrcInv(tree identity.Peer, ms uint64) {
	s.InsertDefault(tree)
	s.inner[tree.ID()].srcInv = ms
}

// UpdateRelayInv records a fresh relay-interval measurement for tree
func (s *StatList) UpdateRelayInv(tree identity.Peer, ms uint64) {
	s.InsertDefault(tree)
	s.inner[tree.ID()].relayInv = ms
}

// SetSrcInvDesc is a debug setter for deterministic tests
func (s *StatList) SetSrcInvDesc(tree, desc identity.Peer, v uint64) {
	s.InsertDefault(tree)
	s.inner[tree.ID()].srcInvDesc[desc.ID()] = v
}

// SetRelayInvDesc is a debug setter for deterministic tests
func (s *StatList) SetRelayInvDesc(tree, desc identity.Peer, v uint64) {
	s.InsertDefault(tree)
	s.inner[tree.ID()].relayInvDesc[desc.ID()] = v
}

// SetSrcInv is a debug setter for deterministic tests
func (s *StatList) SetSrcInv(tree identity.Peer, v uint64) {
	s.InsertDefault(tree)
	s.inner[tree.ID()].srcInv = v
}

// SetRelayInv is a debug setter for deterministic tests
func (s *StatList) SetRelayInv(tree identity.Peer, v uint64) {
	s.InsertDefault(tree)
	s.inner[tree.ID()].relayInv = v
}

// SetMergeThrd is a debug setter for deterministic tests
func (s *StatList) SetMergeThrd(tree identity.Peer, v uint64) {
	s.InsertDefault(tree)
	s.inner[tree.ID()].mergeThrd = v
}

// SetDelayTS is a debug setter for deterministic tests
func (s *StatList) SetDelayTS(peer identity.Peer, v uint64) {
	s.neighbour[peer.ID()] = &neighbourStat{delayTS: v}
}
