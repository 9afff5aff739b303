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

package overlay

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/epsilon314/bdn/identity"
	"github.com/epsilon314/bdn/protocol"
	"github.com/epsilon314/bdn/route"
)

// Poll returns the next payload message addressed to this node. Each
// cycle fires the heartbeat when due, drains the send buffer, dequeues
// one ingress message, reconciles the carrier id with the locator, fans
// relayed payloads out to the children and dispatches by message type.
// ok is false once the ingress queue has closed.
func (e *Engine) Poll() (*protocol.OverlayMessage, bool) {
	for {
		e.tickHeartbeat()
		e.FlushSendBuffer()

		item, ok := e.nextIngress()
		if !ok {
			return nil, false
		}
		if e.Stats != nil {
			e.Stats.SetIngressQueue(int64(len(e.ingress)))
		}

		msg := item.Msg
		from, ok := e.fromIDHandler(item)
		if !ok {
			continue
		}

		msgType, err := msg.Header.MsgType()
		if err != nil {
			log.Warningf("overlay: dropping message with bad type from %s: %v", from, err)
			continue
		}
		if e.Stats != nil {
			e.Stats.IncRX(msgType)
		}

		if msg.Header.RelayFlag() {
			e.relayHandler(msg)
		}

		switch msgType {
		case protocol.MsgPayload:
			if e.forUs(msg) {
				return msg, true
			}
			if !msg.Header.RelayFlag() {
				e.SendToIndirect(msg.Dst(), msg)
			}
		case protocol.MsgRoute:
			e.routeHandler(from, msg)
		case protocol.MsgNetMeasure:
			e.measureHandler(from, msg)
		}
	}
}

// tickHeartbeat runs the relay-control maintenance pass when due and
// buffers its control traffic at control priority
func (e *Engine) tickHeartbeat() {
	if time.Since(e.lastBeat) < e.heartbeat {
		return
	}
	e.lastBeat = time.Now()
	for _, d := range e.ctl.Heartbeat(e.tbl) {
		e.bufferCtl(d)
	}
	if e.Stats != nil {
		e.Stats.SetRelayLinks(int64(e.tbl.GetRelayCount()))
		e.Stats.Snapshot()
	}
}

// nextIngress blocks for the next ingress message, waking up in time for
// the next heartbeat tick
func (e *Engine) nextIngress() (MessageWithAddr, bool) {
	for {
		wait := e.heartbeat - time.Since(e.lastBeat)
		if wait <= 0 {
			e.tickHeartbeat()
			e.FlushSendBuffer()
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case item, ok := <-e.ingress:
			timer.Stop()
			if !ok {
				return MessageWithAddr{}, false
			}
			if item.Msg == nil {
				continue
			}
			return item, true
		case <-timer.C:
			e.tickHeartbeat()
			e.FlushSendBuffer()
		}
	}
}

// fromIDHandler reconciles the carried from id with the locator the
// message physically arrived from. A common (non-broadcast) carrier id is
// authoritative: the address book learns or corrects the locator. A
// broadcast carrier id is resolved through reverse lookup; unknown
// locators drop the message.
func (e *Engine) fromIDHandler(item MessageWithAddr) (identity.Peer, bool) {
	from := item.Msg.From()
	if from.IsCommon() {
		if stored, ok := e.book.GetByPeer(from); ok {
			if !stored.Same(item.Addr) {
				log.Debugf("overlay: updating locator of %s: %s -> %s", from, stored, item.Addr)
				if err := e.book.UpdateByPeer(from, item.Addr); err != nil {
					log.Warningf("overlay: updating locator of %s: %v", from, err)
				}
			}
		} else {
			e.book.Insert(from, item.Addr)
		}
		return from, true
	}
	resolved, ok := e.book.GetByAddr(item.Addr)
	if !ok {
		log.Warningf("overlay: dropping message with anonymous sender from %s", item.Addr)
		return identity.Peer{}, false
	}
	return resolved, true
}

// relayHandler forwards a relayed message to this node's children for the
// originating source, in insertion order, and reports the fan-out result
// back to the relay-control plane.
func (e *Engine) relayHandler(msg *protocol.OverlayMessage) {
	src := msg.Src()
	children := e.tbl.GetRelay(src)
	if len(children) == 0 {
		return
	}
	start := time.Now()
	emittedAt := msg.Timestamp
	msg.SetFrom(e.local)
	allOK := true
	for _, child := range children {
		if !e.sendToResult(child, msg) {
			allOK = false
		}
		if e.Stats != nil {
			e.Stats.IncRelayed()
		}
	}
	elapsed := uint64(time.Since(start).Milliseconds())
	if obs, ok := e.ctl.(relayObserver); ok {
		obs.ObserveRelay(src, elapsed)
		if emittedAt > 0 {
			sinceEmit := time.Since(time.Unix(0, int64(emittedAt)))
			if sinceEmit > 0 {
				obs.ObserveSource(src, uint64(sinceEmit.Milliseconds()))
			}
		}
	}
	e.ctl.RelayReceipt(e.tbl, allOK)
}

// forUs reports whether a payload should surface to the application
func (e *Engine) forUs(msg *protocol.OverlayMessage) bool {
	dst := msg.Dst()
	return !dst.IsCommon() || dst.Equal(e.local)
}

// routeHandler hands a control payload to the relay-control plane and
// buffers its replies
func (e *Engine) routeHandler(from identity.Peer, msg *protocol.OverlayMessage) {
	if e.Stats != nil {
		if ctl, err := protocol.DecodeCtlMessage(msg.Payload); err == nil {
			e.Stats.IncRXCtl(ctl.Kind)
		}
	}
	for _, d := range e.ctl.Callback(e.tbl, from, msg.Payload) {
		e.bufferCtl(d)
	}
}

// bufferCtl wraps one relay-control directive in a ROUTE message and
// buffers it at control priority with src and from set to the local id
func (e *Engine) bufferCtl(d route.Directive) {
	header, err := protocol.BuildHeader(protocol.MsgRoute, false, e.ctl.Method(), 0, protocol.MaxTTL)
	if err != nil {
		log.Errorf("overlay: building control header: %v", err)
		return
	}
	msg := protocol.NewOverlayMessage(header, e.local, e.local, d.Dst, d.Msg.Encode())
	e.SendToBuffered(d.Dst, msg, PriorityCtl)
	if e.Stats != nil {
		e.Stats.IncTXCtl(d.Msg.Kind)
	}
}

// sendCtl sends one relay-control directive immediately
func (e *Engine) sendCtl(d route.Directive) {
	header, err := protocol.BuildHeader(protocol.MsgRoute, false, e.ctl.Method(), 0, protocol.MaxTTL)
	if err != nil {
		log.Errorf("overlay: building control header: %v", err)
		return
	}
	msg := protocol.NewOverlayMessage(header, e.local, e.local, d.Dst, d.Msg.Encode())
	e.SendTo(d.Dst, msg)
	if e.Stats != nil {
		e.Stats.IncTXCtl(d.Msg.Kind)
	}
}

// measureHandler serves NET_MEASURE traffic. Probes carry a non-zero TTL
// and are echoed back with TTL 0 and the original timestamp preserved, so
// the prober can compute a round trip from its own clock.
func (e *Engine) measureHandler(from identity.Peer, msg *protocol.OverlayMessage) {
	if msg.Header.TTL() == 0 {
		// the echo of our own probe came home
		if e.probe != nil && msg.Timestamp > 0 {
			rtt := time.Since(time.Unix(0, int64(msg.Timestamp)))
			if rtt > 0 {
				e.probe.Observe(from, uint64(rtt.Milliseconds()))
			}
		}
		return
	}
	echo := &protocol.OverlayMessage{
		Header:    msg.Header,
		Timestamp: msg.Timestamp,
		SrcID:     msg.SrcID,
		FromID:    e.local.ID(),
		DstID:     msg.FromID,
		Payload:   msg.Payload,
	}
	if err := echo.Header.SetTTL(0); err != nil {
		log.Errorf("overlay: marking echo: %v", err)
		return
	}
	frame, err := echo.Encode()
	if err != nil {
		log.Warningf("overlay: echo to %s: %v", from, err)
		return
	}
	e.writeFrame(from, frame)
}

// ProbePeer emits one NET_MEASURE probe towards dst. The echo updates the
// measurement store when it returns.
func (e *Engine) ProbePeer(dst identity.Peer) {
	header, err := protocol.BuildHeader(protocol.MsgNetMeasure, false, protocol.RelayRandom, 0, protocol.MaxTTL)
	if err != nil {
		log.Errorf("overlay: building measure header: %v", err)
		return
	}
	msg := protocol.NewOverlayMessage(header, e.local, e.local, dst, nil)
	e.SendTo(dst, msg)
}
