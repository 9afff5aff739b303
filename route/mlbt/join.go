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

// tryJoin starts the three-way join handshake: send JOIN(src) to target
// and arm JoinWait
func (c *Ctl) tryJoin(src, target identity.Peer) []route.Directive {
	id := c.nextSeq()
	c.wait.Set(src, JoinWait, WaitEntry{
		Peers: []identity.Peer{target},
		MsgID: id,
	})
	log.Debugf("mlbt: joining tree %s via %s", src, target)
	return []route.Directive{{Dst: target, Msg: &protocol.CtlMessage{
		Kind:    protocol.CtlJoin,
		ID:      id,
		Payload: protocol.EncodeCtlSrc(src),
	}}}
}

// joinCallback is the responder side of the join handshake
func (c *Ctl) joinCallback(tbl *route.Table, sender identity.Peer, msg *protocol.CtlMessage) []route.Directive {
	src, err := protocol.DecodeCtlSrc(msg.Payload)
	if err != nil {
		log.Warningf("mlbt: bad JOIN payload from %s: %v", sender, err)
		return nil
	}

	// full nodes accept no new links
	if tbl.GetRelayCount() >= route.MaxLink {
		return []route.Directive{{Dst: sender, Msg: msg.Reject(c.nextSeq())}}
	}

	t := c.term(src)
	if t.Kind != TermEstb && !c.isHostedRoot(tbl, src) {
		return []route.Directive{{Dst: sender, Msg: msg.Reject(c.nextSeq())}}
	}

	// symmetric tie-break: if our own JOIN for the same tree is in
	// flight, accept only a join from our pending target, and only when
	// our id is the greater one
	if jw, ok := c.wait.Get(src, JoinWait); ok {
		if !jw.Peers[0].Equal(sender) || !c.local.Greater(sender) {
			return []route.Directive{{Dst: sender, Msg: msg.Reject(c.nextSeq())}}
		}
		c.wait.Clear(src, JoinWait)
	}

	accept := msg.Accept(c.nextSeq())
	c.wait.Set(src, JoinPre, WaitEntry{
		Peers: []identity.Peer{sender},
		MsgID: accept.ID,
	})
	if t.Kind == TermEstb {
		t.Join = JoinPreState
	}
	return []route.Directive{{Dst: sender, Msg: accept}}
}

// isHostedRoot reports whether we answer joins for src as its root even
// though the term is not Estb yet
func (c *Ctl) isHostedRoot(tbl *route.Table, src identity.Peer) bool {
	return src.Equal(c.local) || c.term(src).Kind == TermInit
}

// joinAccepted closes the initiator side: the target admitted us, so it
// becomes our delegate for src. A confirming ACCEPT completes the
// three-way handshake.
func (c *Ctl) joinAccepted(tbl *route.Table, src identity.Peer, sender identity.Peer, entry *WaitEntry, msg *protocol.CtlMessage) []route.Directive {
	c.wait.Clear(src, JoinWait)
	target := entry.Peers[0]
	if !sender.Equal(target) {
		log.Warningf("mlbt: JOIN accept for tree %s came from %s, expected %s", src, sender, target)
		return nil
	}
	tbl.RegDelegate(src, target)
	t := c.term(src)
	t.Kind = TermEstb
	t.Join = JoinIdle
	t.Balance = BalanceIdle
	c.stats.InsertDefault(src)
	log.Infof("mlbt: joined tree %s under %s", src, target)
	return []route.Directive{{Dst: target, Msg: &protocol.CtlMessage{
		Kind:    protocol.CtlAccept,
		ID:      c.nextSeq(),
		Payload: protocol.EncodeAck(msg.ID),
	}}}
}

// joinConfirmed closes the responder side: the subscriber confirmed our
// accept, add it to the relay list.
func (c *Ctl) joinConfirmed(tbl *route.Table, src identity.Peer, sender identity.Peer, entry *WaitEntry) []route.Directive {
	c.wait.Clear(src, JoinPre)
	t := c.term(src)
	if t.Kind == TermEstb {
		t.Join = JoinIdle
	}
	subscriber := entry.Peers[0]
	if err := tbl.InsertRelay(src, subscriber); err != nil {
		log.Warningf("mlbt: cannot add relay %s for tree %s: %v", subscriber, src, err)
		return nil
	}
	// a completed grant or retract handover ends the balancing round
	if gt, ok := c.wait.Get(src, RetractTotal); ok && gt.Peers[len(gt.Peers)-1].Equal(subscriber) {
		c.wait.Clear(src, RetractTotal)
		t.Balance = BalanceIdle
	}
	if t.Balance == BalanceGrantPre {
		t.Balance = BalanceIdle
	}
	log.Infof("mlbt: added relay %s to tree %s", subscriber, src)
	return nil
}

// leaveCallback removes the sender from src's relay list and acknowledges
func (c *Ctl) leaveCallback(tbl *route.Table, sender identity.Peer, msg *protocol.CtlMessage) []route.Directive {
	src, err := protocol.DecodeCtlSrc(msg.Payload)
	if err != nil {
		log.Warningf("mlbt: bad LEAVE payload from %s: %v", sender, err)
		return nil
	}
	tbl.RemoveRelay(src, sender)

	// an expected leave finishes a grant handover or a retract release
	t := c.term(src)
	if gt, ok := c.wait.Get(src, GrantTotal); ok && gt.Peers[len(gt.Peers)-1].Equal(sender) {
		c.wait.Clear(src, GrantTotal)
		t.Balance = BalanceIdle
	}
	if t.Balance == BalanceRetractPre {
		t.Balance = BalanceIdle
	}
	return []route.Directive{{Dst: sender, Msg: msg.Accept(c.nextSeq())}}
}

// Leave produces the LEAVE messages for every delegate-registered source.
// The engine sends them on shutdown.
func (c *Ctl) Leave(tbl *route.Table) []route.Directive {
	var out []route.Directive
	for _, src := range tbl.GetSrcList() {
		delegate, ok := tbl.GetDelegate(src)
		if !ok {
			continue
		}
		out = append(out, route.Directive{Dst: delegate, Msg: &protocol.CtlMessage{
			Kind:    protocol.CtlLeave,
			ID:      c.nextSeq(),
			Payload: protocol.EncodeCtlSrc(src),
		}})
	}
	return out
}
