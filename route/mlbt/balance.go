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

// Rebalancing moves single children between neighbouring relays with
// local hill-climbing decisions. Grant hands one of our children to a
// sibling child; retract pulls a grandchild up under us. The two probes
// alternate each heartbeat, and a node only balances a tree whose term is
// Estb with both sub-states idle.

// tryGrant scans our children for a pair (g, desc) where handing g over
// to desc should reduce the relay latency, and proposes it to desc.
func (c *Ctl) tryGrant(tbl *route.Table, src identity.Peer) []route.Directive {
	srcInv, ok := c.stats.SrcInv(src)
	if !ok {
		return nil
	}
	children := tbl.GetRelay(src)
	for _, g := range children {
		delay, ok := c.stats.DelayTS(g)
		if !ok {
			continue
		}
		for _, desc := range children {
			if desc.Equal(g) {
				continue
			}
			descInv, ok := c.stats.SrcInvDesc(src, desc)
			if !ok {
				continue
			}
			if srcInv+descInv <= delay {
				continue
			}
			id := c.nextSeq()
			c.wait.Set(src, GrantWait, WaitEntry{
				Peers: []identity.Peer{desc, g},
				MsgID: id,
			})
			c.term(src).Balance = BalanceGrant
			body := &protocol.GrantBody{Target: g, SrcInv: srcInv, Src: src}
			log.Debugf("mlbt: proposing grant of %s to %s in tree %s", g, desc, src)
			return []route.Directive{{Dst: desc, Msg: &protocol.CtlMessage{
				Kind:    protocol.CtlGrant,
				ID:      id,
				Payload: body.Encode(),
			}}}
		}
	}
	return nil
}

// grantCallback is the proposed adopter's side of a grant
func (c *Ctl) grantCallback(tbl *route.Table, sender identity.Peer, msg *protocol.CtlMessage) []route.Directive {
	body, err := protocol.DecodeGrantBody(msg.Payload)
	if err != nil {
		log.Warningf("mlbt: bad GRANT payload from %s: %v", sender, err)
		return nil
	}
	src := body.Src
	t := c.term(src)
	// reject any balancing request unless fully idle for this tree
	if !t.Balanceable() || tbl.GetRelayCount() >= route.MaxLink {
		return []route.Directive{{Dst: sender, Msg: msg.Reject(c.nextSeq())}}
	}
	accept := msg.Accept(c.nextSeq())
	c.wait.Set(src, GrantRecv, WaitEntry{
		Peers: []identity.Peer{sender, body.Target},
		MsgID: accept.ID,
	})
	t.Balance = BalanceGrantPre
	return []route.Directive{{Dst: sender, Msg: accept}}
}

// grantAccepted is the proposer side after desc agreed to adopt g:
// confirm to desc and watch for g's LEAVE.
func (c *Ctl) grantAccepted(tbl *route.Table, src identity.Peer, sender identity.Peer, entry *WaitEntry, msg *protocol.CtlMessage) []route.Directive {
	c.wait.Clear(src, GrantWait)
	desc, g := entry.Peers[0], entry.Peers[1]
	if !sender.Equal(desc) {
		log.Warningf("mlbt: GRANT accept for tree %s came from %s, expected %s", src, sender, desc)
		c.term(src).Balance = BalanceIdle
		return nil
	}
	c.wait.Set(src, GrantTotal, WaitEntry{
		Peers: []identity.Peer{desc, g},
	})
	c.term(src).Balance = BalanceGrantCheck
	return []route.Directive{{Dst: desc, Msg: &protocol.CtlMessage{
		Kind:    protocol.CtlAccept,
		ID:      c.nextSeq(),
		Payload: protocol.EncodeAck(msg.ID),
	}}}
}

// grantRecvConfirmed is the adopter receiving the proposer's confirmation:
// tell g to re-join through us.
func (c *Ctl) grantRecvConfirmed(tbl *route.Table, src identity.Peer, sender identity.Peer, entry *WaitEntry) []route.Directive {
	c.wait.Clear(src, GrantRecv)
	g := entry.Peers[1]
	return []route.Directive{{Dst: g, Msg: &protocol.CtlMessage{
		Kind:    protocol.CtlGrantInfo,
		ID:      c.nextSeq(),
		Payload: protocol.EncodeCtlSrc(src),
	}}}
}

// grantInfoCallback runs on the granted child g: the sender is our new
// parent, start a join handshake towards it.
func (c *Ctl) grantInfoCallback(tbl *route.Table, sender identity.Peer, msg *protocol.CtlMessage) []route.Directive {
	src, err := protocol.DecodeCtlSrc(msg.Payload)
	if err != nil {
		log.Warningf("mlbt: bad GRANT_INFO payload from %s: %v", sender, err)
		return nil
	}
	if _, ok := tbl.GetDelegate(src); !ok {
		log.Warningf("mlbt: GRANT_INFO for unsubscribed tree %s from %s", src, sender)
		return nil
	}
	id := c.nextSeq()
	c.wait.Set(src, GrantJoin, WaitEntry{
		Peers: []identity.Peer{sender},
		MsgID: id,
	})
	log.Debugf("mlbt: handover of tree %s, re-joining via %s", src, sender)
	return []route.Directive{{Dst: sender, Msg: &protocol.CtlMessage{
		Kind:    protocol.CtlJoin,
		ID:      id,
		Payload: protocol.EncodeCtlSrc(src),
	}}}
}

// grantJoinAccepted completes the handover on g: switch the delegate to
// the new parent, confirm, and leave the old parent.
func (c *Ctl) grantJoinAccepted(tbl *route.Table, src identity.Peer, sender identity.Peer, entry *WaitEntry, msg *protocol.CtlMessage) []route.Directive {
	c.wait.Clear(src, GrantJoin)
	newParent := entry.Peers[0]
	if !sender.Equal(newParent) {
		log.Warningf("mlbt: handover accept for tree %s came from %s, expected %s", src, sender, newParent)
		return nil
	}
	oldParent, hadParent := tbl.GetDelegate(src)
	tbl.RegDelegate(src, newParent)
	out := []route.Directive{{Dst: newParent, Msg: &protocol.CtlMessage{
		Kind:    protocol.CtlAccept,
		ID:      c.nextSeq(),
		Payload: protocol.EncodeAck(msg.ID),
	}}}
	if hadParent && !oldParent.Equal(newParent) {
		out = append(out, route.Directive{Dst: oldParent, Msg: &protocol.CtlMessage{
			Kind:    protocol.CtlLeave,
			ID:      c.nextSeq(),
			Payload: protocol.EncodeCtlSrc(src),
		}})
	}
	log.Infof("mlbt: tree %s handover complete, now under %s", src, newParent)
	return out
}

// tryRetract looks for an overloaded child: when a child's observed
// src-interval exceeds ours by more than the lightest child's hop delay,
// ask it to give one of its children up to us.
func (c *Ctl) tryRetract(tbl *route.Table, src identity.Peer) []route.Directive {
	srcInv, ok := c.stats.SrcInv(src)
	if !ok {
		return nil
	}
	children := tbl.GetRelay(src)
	if len(children) == 0 || tbl.GetRelayCount() >= route.MaxLink {
		return nil
	}
	dim, ok := c.lightestChildDelay(children)
	if !ok {
		return nil
	}
	for _, desc := range children {
		descInv, ok := c.stats.SrcInvDesc(src, desc)
		if !ok {
			continue
		}
		if descInv <= srcInv || descInv-srcInv <= dim {
			continue
		}
		id := c.nextSeq()
		c.wait.Set(src, RetractWait, WaitEntry{
			Peers: []identity.Peer{desc},
			MsgID: id,
		})
		c.term(src).Balance = BalanceRetract
		body := &protocol.GrantBody{Target: c.local, SrcInv: srcInv, Src: src}
		log.Debugf("mlbt: asking %s to release a child of tree %s", desc, src)
		return []route.Directive{{Dst: desc, Msg: &protocol.CtlMessage{
			Kind:    protocol.CtlRetract,
			ID:      id,
			Payload: body.Encode(),
		}}}
	}
	return nil
}

// lightestChildDelay returns the smallest known hop delay among children
func (c *Ctl) lightestChildDelay(children []identity.Peer) (uint64, bool) {
	var best uint64
	found := false
	for _, ch := range children {
		d, ok := c.stats.DelayTS(ch)
		if !ok {
			continue
		}
		if !found || d < best {
			best = d
			found = true
		}
	}
	return best, found
}

// retractCallback runs on the overloaded child: pick the lightest of our
// own children and offer it to the requesting parent.
func (c *Ctl) retractCallback(tbl *route.Table, sender identity.Peer, msg *protocol.CtlMessage) []route.Directive {
	body, err := protocol.DecodeGrantBody(msg.Payload)
	if err != nil {
		log.Warningf("mlbt: bad RETRACT payload from %s: %v", sender, err)
		return nil
	}
	src := body.Src
	t := c.term(src)
	if !t.Balanceable() {
		return []route.Directive{{Dst: sender, Msg: msg.Reject(c.nextSeq())}}
	}
	victim, ok := c.pickRelease(tbl, src)
	if !ok {
		return []route.Directive{{Dst: sender, Msg: msg.Reject(c.nextSeq())}}
	}
	accept := msg.Accept(c.nextSeq())
	c.wait.Set(src, RetractRecv, WaitEntry{
		Peers: []identity.Peer{sender, victim},
		MsgID: accept.ID,
	})
	t.Balance = BalanceRetractPre
	return []route.Directive{{Dst: sender, Msg: accept}}
}

// pickRelease selects which child to give up: the one with the smallest
// known hop delay, or the first child when no delays are known.
func (c *Ctl) pickRelease(tbl *route.Table, src identity.Peer) (identity.Peer, bool) {
	children := tbl.GetRelay(src)
	if len(children) == 0 {
		return identity.Peer{}, false
	}
	best := children[0]
	bestDelay, haveDelay := c.stats.DelayTS(best)
	for _, ch := range children[1:] {
		d, ok := c.stats.DelayTS(ch)
		if !ok {
			continue
		}
		if !haveDelay || d < bestDelay {
			best = ch
			bestDelay = d
			haveDelay = true
		}
	}
	return best, true
}

// retractAccepted is the requesting parent after the overloaded child
// agreed: confirm and wait for the RETRACT_REPLY naming the released
// grandchild.
func (c *Ctl) retractAccepted(tbl *route.Table, src identity.Peer, sender identity.Peer, entry *WaitEntry, msg *protocol.CtlMessage) []route.Directive {
	c.wait.Clear(src, RetractWait)
	desc := entry.Peers[0]
	if !sender.Equal(desc) {
		log.Warningf("mlbt: RETRACT accept for tree %s came from %s, expected %s", src, sender, desc)
		c.term(src).Balance = BalanceIdle
		return nil
	}
	c.term(src).Balance = BalanceRetractCheck
	c.wait.Set(src, RetractTotal, WaitEntry{
		Peers: []identity.Peer{desc},
	})
	return []route.Directive{{Dst: desc, Msg: &protocol.CtlMessage{
		Kind:    protocol.CtlAccept,
		ID:      c.nextSeq(),
		Payload: protocol.EncodeAck(msg.ID),
	}}}
}

// retractRecvConfirmed runs on the overloaded child once the parent
// confirmed: name the released grandchild in a RETRACT_REPLY.
func (c *Ctl) retractRecvConfirmed(tbl *route.Table, src identity.Peer, sender identity.Peer, entry *WaitEntry) []route.Directive {
	c.wait.Clear(src, RetractRecv)
	victim := entry.Peers[1]
	srcInv, _ := c.stats.SrcInv(src)
	body := &protocol.GrantBody{Target: victim, SrcInv: srcInv, Src: src}
	return []route.Directive{{Dst: sender, Msg: &protocol.CtlMessage{
		Kind:    protocol.CtlRetractReply,
		ID:      c.nextSeq(),
		Payload: body.Encode(),
	}}}
}

// retractReplyCallback runs on the requesting parent: the released
// grandchild is named, invite it to re-join through us.
func (c *Ctl) retractReplyCallback(tbl *route.Table, sender identity.Peer, msg *protocol.CtlMessage) []route.Directive {
	body, err := protocol.DecodeGrantBody(msg.Payload)
	if err != nil {
		log.Warningf("mlbt: bad RETRACT_REPLY payload from %s: %v", sender, err)
		return nil
	}
	src := body.Src
	if e, ok := c.wait.Get(src, RetractTotal); !ok || !e.Peers[0].Equal(sender) {
		log.Debugf("mlbt: RETRACT_REPLY from %s matches no pending retract, dropping", sender)
		return nil
	}
	victim := body.Target
	// extend the pending record with the expected joiner
	c.wait.Set(src, RetractTotal, WaitEntry{
		Peers: []identity.Peer{sender, victim},
	})
	return []route.Directive{{Dst: victim, Msg: &protocol.CtlMessage{
		Kind:    protocol.CtlRetractInfo,
		ID:      c.nextSeq(),
		Payload: protocol.EncodeCtlSrc(src),
	}}}
}

// retractInfoCallback runs on the released grandchild: the sender is our
// new parent, start a join handshake towards it.
func (c *Ctl) retractInfoCallback(tbl *route.Table, sender identity.Peer, msg *protocol.CtlMessage) []route.Directive {
	src, err := protocol.DecodeCtlSrc(msg.Payload)
	if err != nil {
		log.Warningf("mlbt: bad RETRACT_INFO payload from %s: %v", sender, err)
		return nil
	}
	if _, ok := tbl.GetDelegate(src); !ok {
		log.Warningf("mlbt: RETRACT_INFO for unsubscribed tree %s from %s", src, sender)
		return nil
	}
	id := c.nextSeq()
	c.wait.Set(src, RetractJoin, WaitEntry{
		Peers: []identity.Peer{sender},
		MsgID: id,
	})
	log.Debugf("mlbt: pulled up in tree %s, re-joining via %s", src, sender)
	return []route.Directive{{Dst: sender, Msg: &protocol.CtlMessage{
		Kind:    protocol.CtlJoin,
		ID:      id,
		Payload: protocol.EncodeCtlSrc(src),
	}}}
}

// retractJoinAccepted completes the pull-up on the grandchild: same as a
// grant handover.
func (c *Ctl) retractJoinAccepted(tbl *route.Table, src identity.Peer, sender identity.Peer, entry *WaitEntry, msg *protocol.CtlMessage) []route.Directive {
	c.wait.Clear(src, RetractJoin)
	newParent := entry.Peers[0]
	if !sender.Equal(newParent) {
		log.Warningf("mlbt: pull-up accept for tree %s came from %s, expected %s", src, sender, newParent)
		return nil
	}
	oldParent, hadParent := tbl.GetDelegate(src)
	tbl.RegDelegate(src, newParent)
	out := []route.Directive{{Dst: newParent, Msg: &protocol.CtlMessage{
		Kind:    protocol.CtlAccept,
		ID:      c.nextSeq(),
		Payload: protocol.EncodeAck(msg.ID),
	}}}
	if hadParent && !oldParent.Equal(newParent) {
		out = append(out, route.Directive{Dst: oldParent, Msg: &protocol.CtlMessage{
			Kind:    protocol.CtlLeave,
			ID:      c.nextSeq(),
			Payload: protocol.EncodeCtlSrc(src),
		}})
	}
	return out
}
