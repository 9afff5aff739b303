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
Package mlbt implements the MLBT relay-control plane: a per-source finite
state machine that builds and maintains a balanced multicast tree by
exchanging JOIN / MERGE / GRANT / RETRACT control messages, tracking
pending handshakes in a timed wait list and adapting tree shape to
measured latency.

The control context implements route.RelayCtl. It never performs IO:
every handler returns the batch of control messages for the overlay
engine to send.
*/
package mlbt

import (
	log "github.com/sirupsen/logrus"

	"github.com/epsilon314/bdn/identity"
	"github.com/epsilon314/bdn/protocol"
	"github.com/epsilon314/bdn/route"
)

// Ctl is the MLBT relay-control context for one node
type Ctl struct {
	local identity.Peer
	seq   uint64

	terms map[peerID]*Term
	wait  *WaitList
	stats *StatList

	// subscriptions maps a source tree to the entry peer a JOIN is sent
	// to while the term is Idle
	subscriptions map[peerID]identity.Peer
	// mergeCandidates maps a hosted tree to a sibling root worth merging
	// with while the term is Init
	mergeCandidates map[peerID]identity.Peer

	// retractToggle flips every heartbeat so grant and retract probes
	// alternate
	retractToggle bool

	mergeCheckEnabled bool
}

// New returns a control context for the given local identity
func New(local identity.Peer) *Ctl {
	return &Ctl{
		local:           local,
		terms:           make(map[peerID]*Term),
		wait:            NewWaitList(),
		stats:           NewStatList(),
		subscriptions:   make(map[peerID]identity.Peer),
		mergeCandidates: make(map[peerID]identity.Peer),
	}
}

// Stats exposes the statistics store so the engine and the measurement
// probe can feed observations into it
func (c *Ctl) Stats() *StatList {
	return c.stats
}

// Wait exposes the wait list for timeout configuration
func (c *Ctl) Wait() *WaitList {
	return c.wait
}

// EnableMergeCheck turns on the two-phase merge safety probe
func (c *Ctl) EnableMergeCheck(on bool) {
	c.mergeCheckEnabled = on
}

// Subscribe asks the FSM to join src's tree through entry on the next
// heartbeat
func (c *Ctl) Subscribe(src, entry identity.Peer) {
	c.subscriptions[src.ID()] = entry
	c.term(src)
}

// RegisterMergeCandidate points a hosted tree at a sibling root to merge
// with
func (c *Ctl) RegisterMergeCandidate(src, other identity.Peer) {
	c.mergeCandidates[src.ID()] = other
}

// Host marks src as a locally rooted tree: the term starts at Init so
// sibling roots can merge and joins are answered
func (c *Ctl) Host(src identity.Peer) {
	t := c.term(src)
	if t.Kind == TermIdle {
		t.Kind = TermInit
		t.Merge = MergeIdle
	}
	c.stats.InsertDefault(src)
}

// Term returns a copy of the per-source state, for tests and monitoring
func (c *Ctl) Term(src identity.Peer) Term {
	return *c.term(src)
}

func (c *Ctl) term(src identity.Peer) *Term {
	t, ok := c.terms[src.ID()]
	if !ok {
		t = &Term{Kind: TermIdle}
		c.terms[src.ID()] = t
	}
	return t
}

func (c *Ctl) nextSeq() uint64 {
	c.seq++
	return c.seq
}

// Method implements route.RelayCtl
func (c *Ctl) Method() protocol.RelayMethod {
	return protocol.RelayLookupTable1
}

// Bootstrap implements route.RelayCtl. Trees the route table already
// lists children for are hosted locally: their term starts at Init so
// sibling roots can merge. Subscribed trees start Idle and are joined on
// the first heartbeat.
func (c *Ctl) Bootstrap(tbl *route.Table) []route.Directive {
	for _, src := range tbl.GetRelaySrcList() {
		t := c.term(src)
		if t.Kind == TermIdle {
			t.Kind = TermInit
			t.Merge = MergeIdle
		}
		c.stats.InsertDefault(src)
	}
	if src := c.local; tbl.GetRelayCountByTree(src) > 0 || c.hostsOwnTree() {
		t := c.term(src)
		if t.Kind == TermIdle {
			t.Kind = TermInit
		}
		c.stats.InsertDefault(src)
	}
	return c.Heartbeat(tbl)
}

func (c *Ctl) hostsOwnTree() bool {
	_, sub := c.subscriptions[c.local.ID()]
	return !sub
}

// RelayReceipt implements route.RelayCtl. A failed fan-out is only logged:
// the downstream peer will re-join after its own timeout.
func (c *Ctl) RelayReceipt(tbl *route.Table, success bool) {
	if !success {
		log.Warningf("mlbt: relay fan-out did not fully succeed")
	}
}

// ObserveRelay feeds a measured relay interval for src into the stats
// store. Called by the engine after each fan-out.
func (c *Ctl) ObserveRelay(src identity.Peer, ms uint64) {
	c.stats.UpdateRelayInv(src, ms)
}

// ObserveSource feeds a measured src interval for src into the stats store
func (c *Ctl) ObserveSource(src identity.Peer, ms uint64) {
	c.stats.UpdateSrcInv(src, ms)
}

// Callback implements route.RelayCtl: handle one inbound control payload
// from sender and return the replies to send.
func (c *Ctl) Callback(tbl *route.Table, sender identity.Peer, payload []byte) []route.Directive {
	out := c.checkTimers(tbl)

	msg, err := protocol.DecodeCtlMessage(payload)
	if err != nil {
		log.Warningf("mlbt: dropping unparseable control message from %s: %v", sender, err)
		return out
	}

	switch msg.Kind {
	case protocol.CtlJoin:
		out = append(out, c.joinCallback(tbl, sender, msg)...)
	case protocol.CtlLeave:
		out = append(out, c.leaveCallback(tbl, sender, msg)...)
	case protocol.CtlAccept:
		out = append(out, c.acceptCallback(tbl, sender, msg)...)
	case protocol.CtlReject:
		out = append(out, c.rejectCallback(tbl, sender, msg)...)
	case protocol.CtlMerge:
		out = append(out, c.mergeCallback(tbl, sender, msg)...)
	case protocol.CtlMergeCheck:
		out = append(out, c.mergeCheckCallback(tbl, sender, msg)...)
	case protocol.CtlGrant:
		out = append(out, c.grantCallback(tbl, sender, msg)...)
	case protocol.CtlGrantInfo:
		out = append(out, c.grantInfoCallback(tbl, sender, msg)...)
	case protocol.CtlRetract:
		out = append(out, c.retractCallback(tbl, sender, msg)...)
	case protocol.CtlRetractReply:
		out = append(out, c.retractReplyCallback(tbl, sender, msg)...)
	case protocol.CtlRetractInfo:
		out = append(out, c.retractInfoCallback(tbl, sender, msg)...)
	default:
		log.Warningf("mlbt: dropping control message of unknown kind %d from %s", msg.Kind, sender)
	}
	return out
}

// Heartbeat implements route.RelayCtl: run timers, then per-source
// maintenance. Idle terms attempt a JOIN, Init(MergeIdle) terms attempt a
// MERGE, established idle terms alternate grant and retract probes.
func (c *Ctl) Heartbeat(tbl *route.Table) []route.Directive {
	out := c.checkTimers(tbl)
	c.retractToggle = !c.retractToggle

	for id, t := range c.terms {
		src, _ := identity.TryFromID(id[:])
		switch t.Kind {
		case TermIdle:
			if entry, ok := c.subscriptions[id]; ok && !c.wait.IsWaiting(src) {
				out = append(out, c.tryJoin(src, entry)...)
			}
		case TermInit:
			if t.Merge != MergeIdle {
				continue
			}
			if other, ok := c.mergeCandidates[id]; ok && !c.wait.IsWaiting(src) {
				out = append(out, c.tryMerge(tbl, src, other)...)
			}
		case TermEstb:
			if !t.Balanceable() {
				continue
			}
			if c.retractToggle {
				out = append(out, c.tryRetract(tbl, src)...)
			} else {
				out = append(out, c.tryGrant(tbl, src)...)
			}
		}
	}
	return out
}

// acceptCallback routes an inbound ACCEPT to the pending handshake its
// ack id belongs to
func (c *Ctl) acceptCallback(tbl *route.Table, sender identity.Peer, msg *protocol.CtlMessage) []route.Directive {
	ack, err := protocol.DecodeAck(msg.Payload)
	if err != nil {
		log.Warningf("mlbt: bad ACCEPT payload from %s: %v", sender, err)
		return nil
	}
	src, kind, entry, ok := c.wait.GetByID(ack)
	if !ok {
		// the handshake was abandoned by timeout on our side
		log.Debugf("mlbt: ACCEPT from %s acks unknown id %d, dropping", sender, ack)
		return nil
	}
	switch kind {
	case JoinWait:
		return c.joinAccepted(tbl, src, sender, entry, msg)
	case JoinPre:
		return c.joinConfirmed(tbl, src, sender, entry)
	case MergeWait:
		return c.mergeAccepted(tbl, src, sender, entry, msg)
	case MergePre:
		return c.mergeConfirmed(tbl, src, sender, entry)
	case MergeCheck:
		return c.mergeCheckAccepted(tbl, src, sender, entry)
	case GrantWait:
		return c.grantAccepted(tbl, src, sender, entry, msg)
	case GrantRecv:
		return c.grantRecvConfirmed(tbl, src, sender, entry)
	case GrantJoin:
		return c.grantJoinAccepted(tbl, src, sender, entry, msg)
	case RetractWait:
		return c.retractAccepted(tbl, src, sender, entry, msg)
	case RetractRecv:
		return c.retractRecvConfirmed(tbl, src, sender, entry)
	case RetractJoin:
		return c.retractJoinAccepted(tbl, src, sender, entry, msg)
	default:
		log.Warningf("mlbt: ACCEPT acked id %d held by unexpected %s slot", ack, kind)
		return nil
	}
}

// rejectCallback routes an inbound REJECT to the pending handshake its
// ack id belongs to. A rejection simply clears the pending state; the
// next heartbeat may retry.
func (c *Ctl) rejectCallback(tbl *route.Table, sender identity.Peer, msg *protocol.CtlMessage) []route.Directive {
	ack, err := protocol.DecodeAck(msg.Payload)
	if err != nil {
		log.Warningf("mlbt: bad REJECT payload from %s: %v", sender, err)
		return nil
	}
	src, kind, entry, ok := c.wait.GetByID(ack)
	if !ok {
		log.Debugf("mlbt: REJECT from %s acks unknown id %d, dropping", sender, ack)
		return nil
	}
	c.wait.Clear(src, kind)
	t := c.term(src)
	switch kind {
	case JoinWait:
		// target unavailable this round, stay Idle and retry later
	case MergeWait, MergePre:
		t.Merge = MergeIdle
	case MergeCheck:
		t.Merge = MergeIdle
		return []route.Directive{{Dst: entry.Peers[0], Msg: &protocol.CtlMessage{
			Kind:    protocol.CtlReject,
			ID:      c.nextSeq(),
			Payload: protocol.EncodeAck(entry.AuxID),
		}}}
	case GrantWait, GrantRecv, GrantTotal:
		t.Balance = BalanceIdle
	case GrantJoin:
		// stay under the current parent
	case RetractWait, RetractRecv, RetractTotal, RetractJoin:
		t.Balance = BalanceIdle
	}
	return nil
}

// checkTimers fires the timeout callback of every expired wait slot.
// Invoked at the top of every control-message handler and each heartbeat.
func (c *Ctl) checkTimers(tbl *route.Table) []route.Directive {
	var out []route.Directive
	for _, exp := range c.wait.Expire() {
		src := exp.Entry.Src
		t := c.term(src)
		log.Debugf("mlbt: %s timed out for tree %s", exp.Kind, src)
		switch exp.Kind {
		case JoinWait:
			// as if rejected: eligible for a fresh JOIN next heartbeat
		case JoinPre:
			// confirmation never came, relay was not added
			if t.Kind == TermEstb {
				t.Join = JoinIdle
			}
		case MergeWait, MergePre, MergeCheck:
			if t.Kind == TermInit {
				t.Merge = MergeIdle
			}
		case GrantWait, GrantRecv, GrantTotal:
			t.Balance = BalanceIdle
		case GrantJoin:
			// keep the current parent
		case RetractWait, RetractRecv, RetractTotal, RetractJoin:
			t.Balance = BalanceIdle
		}
	}
	return out
}
