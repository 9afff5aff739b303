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
	log "github.com/sirupsen/logrus"

	"github.com/epsilon314/bdn/identity"
	"github.com/epsilon314/bdn/protocol"
	"github.com/epsilon314/bdn/route"
)

// Two roots of the same logical source unify when their weights are within
// both merge thresholds. The root with the greater peer id survives; the
// other demotes to Wait and re-roots its children under the winner.

// tryMerge starts a merge with a sibling root
func (c *Ctl) tryMerge(tbl *route.Table, src, target identity.Peer) []route.Directive {
	weight, ok := c.stats.RelayInv(src)
	if !ok {
		// cannot evaluate, skip this round
		return nil
	}
	thrd, ok := c.stats.MergeThrd(src)
	if !ok {
		return nil
	}
	id := c.nextSeq()
	c.wait.Set(src, MergeWait, WaitEntry{
		Peers: []identity.Peer{target},
		MsgID: id,
	})
	t := c.term(src)
	t.Merge = MergeRequest
	body := &protocol.MergeBody{Weight: weight, Thrd: thrd, Src: src}
	log.Debugf("mlbt: proposing merge of tree %s with %s, weight=%d thrd=%d", src, target, weight, thrd)
	return []route.Directive{{Dst: target, Msg: &protocol.CtlMessage{
		Kind:    protocol.CtlMerge,
		ID:      id,
		Payload: body.Encode(),
	}}}
}

// mergeCallback is the responder side of the merge admission
func (c *Ctl) mergeCallback(tbl *route.Table, sender identity.Peer, msg *protocol.CtlMessage) []route.Directive {
	body, err := protocol.DecodeMergeBody(msg.Payload)
	if err != nil {
		log.Warningf("mlbt: bad MERGE payload from %s: %v", sender, err)
		return nil
	}
	src := body.Src
	t := c.term(src)

	if t.Kind != TermInit {
		return []route.Directive{{Dst: sender, Msg: msg.Reject(c.nextSeq())}}
	}

	// symmetric tie-break against simultaneous proposals: while our own
	// MERGE to sender is in flight only the greater id keeps responding,
	// abandoning its own request
	if t.Merge != MergeIdle {
		mw, ok := c.wait.Get(src, MergeWait)
		if !ok || !mw.Peers[0].Equal(sender) || !c.local.Greater(sender) {
			return []route.Directive{{Dst: sender, Msg: msg.Reject(c.nextSeq())}}
		}
		c.wait.Clear(src, MergeWait)
		t.Merge = MergeIdle
	}

	if !c.mergeAdmissible(src, body.Weight, body.Thrd) {
		return []route.Directive{{Dst: sender, Msg: msg.Reject(c.nextSeq())}}
	}

	accept := msg.Accept(c.nextSeq())
	c.wait.Set(src, MergePre, WaitEntry{
		Peers: []identity.Peer{sender},
		MsgID: accept.ID,
	})
	t.Merge = MergePreState
	return []route.Directive{{Dst: sender, Msg: accept}}
}

// mergeAdmissible checks |remote - local| < min(remote thrd, local thrd)
func (c *Ctl) mergeAdmissible(src identity.Peer, remoteWeight, remoteThrd uint64) bool {
	localWeight, ok := c.stats.RelayInv(src)
	if !ok {
		return false
	}
	localThrd, ok := c.stats.MergeThrd(src)
	if !ok {
		return false
	}
	diff := localWeight - remoteWeight
	if remoteWeight > localWeight {
		diff = remoteWeight - localWeight
	}
	thrd := localThrd
	if remoteThrd < thrd {
		thrd = remoteThrd
	}
	return diff < thrd
}

// mergeAccepted is the initiator side after the responder admitted the
// merge. With the safety probe enabled a MERGE_CHECK round runs first;
// otherwise the confirming ACCEPT goes out and roles resolve immediately.
func (c *Ctl) mergeAccepted(tbl *route.Table, src identity.Peer, sender identity.Peer, entry *WaitEntry, msg *protocol.CtlMessage) []route.Directive {
	c.wait.Clear(src, MergeWait)
	target := entry.Peers[0]
	if !sender.Equal(target) {
		log.Warningf("mlbt: MERGE accept for tree %s came from %s, expected %s", src, sender, target)
		c.term(src).Merge = MergeIdle
		return nil
	}

	if c.mergeCheckEnabled {
		weight, _ := c.stats.RelayInv(src)
		checkID := c.nextSeq()
		c.wait.Set(src, MergeCheck, WaitEntry{
			Peers: []identity.Peer{target},
			MsgID: checkID,
			AuxID: msg.ID, // the accept we still have to confirm
		})
		c.term(src).Merge = MergeCheckState
		body := &protocol.MergeCheckBody{Weight: weight}
		return []route.Directive{{Dst: target, Msg: &protocol.CtlMessage{
			Kind:    protocol.CtlMergeCheck,
			ID:      checkID,
			Payload: body.Encode(),
		}}}
	}

	out := []route.Directive{{Dst: target, Msg: &protocol.CtlMessage{
		Kind:    protocol.CtlAccept,
		ID:      c.nextSeq(),
		Payload: protocol.EncodeAck(msg.ID),
	}}}
	c.resolveMergeRoles(tbl, src, target)
	return out
}

// mergeCheckCallback answers the initiator's safety probe: re-evaluate
// the weight condition with the probed weight.
func (c *Ctl) mergeCheckCallback(tbl *route.Table, sender identity.Peer, msg *protocol.CtlMessage) []route.Directive {
	body, err := protocol.DecodeMergeCheckBody(msg.Payload)
	if err != nil {
		log.Warningf("mlbt: bad MERGE_CHECK payload from %s: %v", sender, err)
		return nil
	}
	// locate the tree through the pending MergePre slot towards sender
	for _, src := range c.pendingMergeSrcs(sender) {
		thrd, ok := c.stats.MergeThrd(src)
		if !ok {
			continue
		}
		if c.mergeAdmissible(src, body.Weight, thrd) {
			return []route.Directive{{Dst: sender, Msg: msg.Accept(c.nextSeq())}}
		}
		c.wait.Clear(src, MergePre)
		c.term(src).Merge = MergeIdle
		return []route.Directive{{Dst: sender, Msg: msg.Reject(c.nextSeq())}}
	}
	log.Debugf("mlbt: MERGE_CHECK from %s matches no pending merge, dropping", sender)
	return nil
}

func (c *Ctl) pendingMergeSrcs(other identity.Peer) []identity.Peer {
	var out []identity.Peer
	for id := range c.terms {
		src, _ := identity.TryFromID(id[:])
		if e, ok := c.wait.Get(src, MergePre); ok && e.Peers[0].Equal(other) {
			out = append(out, src)
		}
	}
	return out
}

// mergeCheckAccepted finishes the probe round: confirm the original
// accept and resolve roles.
func (c *Ctl) mergeCheckAccepted(tbl *route.Table, src identity.Peer, sender identity.Peer, entry *WaitEntry) []route.Directive {
	c.wait.Clear(src, MergeCheck)
	target := entry.Peers[0]
	out := []route.Directive{{Dst: target, Msg: &protocol.CtlMessage{
		Kind:    protocol.CtlAccept,
		ID:      c.nextSeq(),
		Payload: protocol.EncodeAck(entry.AuxID),
	}}}
	c.resolveMergeRoles(tbl, src, target)
	return out
}

// mergeConfirmed is the responder side receiving the confirming ACCEPT
func (c *Ctl) mergeConfirmed(tbl *route.Table, src identity.Peer, sender identity.Peer, entry *WaitEntry) []route.Directive {
	c.wait.Clear(src, MergePre)
	other := entry.Peers[0]
	if !sender.Equal(other) {
		log.Warningf("mlbt: merge confirmation for tree %s came from %s, expected %s", src, sender, other)
		c.term(src).Merge = MergeIdle
		return nil
	}
	c.resolveMergeRoles(tbl, src, other)
	return nil
}

// resolveMergeRoles applies the deterministic outcome on both sides: the
// greater peer id stays root and front-inserts the other; the lesser
// demotes to Wait under the winner.
func (c *Ctl) resolveMergeRoles(tbl *route.Table, src, other identity.Peer) {
	t := c.term(src)
	t.Merge = MergeIdle
	if c.local.Greater(other) {
		if err := tbl.InsertFrontRelay(src, other); err != nil {
			log.Warningf("mlbt: cannot adopt merged root %s for tree %s: %v", other, src, err)
		}
		t.Kind = TermEstb
		t.Join = JoinIdle
		t.Balance = BalanceIdle
		log.Infof("mlbt: merge of tree %s complete, local stays root, %s demoted", src, other)
		return
	}
	t.Kind = TermWait
	tbl.RegDelegate(src, other)
	log.Infof("mlbt: merge of tree %s complete, re-rooted under %s", src, other)
}
