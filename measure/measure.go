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
Package measure maintains transport-level observations per neighbour:
round-trip latency and estimated bandwidth. The overlay engine feeds RTT
samples from NET_MEASURE echoes; the relay-control plane reads the
aggregates through its statistics store.
*/
package measure

import (
	"context"
	"net/netip"
	"time"

	"github.com/eclesh/welford"
	log "github.com/sirupsen/logrus"

	"github.com/epsilon314/bdn/identity"
	"github.com/epsilon314/bdn/transport"
)

// DelaySink receives smoothed per-neighbour delay updates. The MLBT
// statistics store implements it.
type DelaySink interface {
	RollUpdateDelayTS(peer identity.Peer, newDelay uint64)
}

type entry struct {
	addr      netip.AddrPort
	latency   uint64 // ms
	bandwidth uint64 // bps
	samples   *welford.Stats
}

// Probe stores per-peer network observations
type Probe struct {
	byPeer map[[identity.IDSize]byte]*entry

	tr   transport.Transport
	sink DelaySink
}

// NewProbe returns an empty probe. tr may be nil when only passive
// observations are fed in; sink may be nil when no relay-control plane
// consumes delays.
func NewProbe(tr transport.Transport, sink DelaySink) *Probe {
	return &Probe{
		byPeer: make(map[[identity.IDSize]byte]*entry),
		tr:     tr,
		sink:   sink,
	}
}

// Latency returns the last measured round trip to peer in ms
func (p *Probe) Latency(peer identity.Peer) (uint64, bool) {
	e, ok := p.byPeer[peer.ID()]
	if !ok {
		log.Warningf("measure: latency of unknown peer %s", peer)
		return 0, false
	}
	return e.latency, true
}

// Bandwidth returns the estimated bandwidth to peer in bps
func (p *Probe) Bandwidth(peer identity.Peer) (uint64, bool) {
	e, ok := p.byPeer[peer.ID()]
	if !ok {
		log.Warningf("measure: bandwidth of unknown peer %s", peer)
		return 0, false
	}
	return e.bandwidth, true
}

// Mean returns the running average latency in ms over all samples
func (p *Probe) Mean(peer identity.Peer) (float64, bool) {
	e, ok := p.byPeer[peer.ID()]
	if !ok || e.samples.Count() == 0 {
		return 0, false
	}
	return e.samples.Mean(), true
}

// Observe feeds one RTT sample for peer, in ms. Used by the engine when a
// NET_MEASURE echo returns.
func (p *Probe) Observe(peer identity.Peer, rttMs uint64) {
	e := p.entryFor(peer)
	e.latency = rttMs
	e.samples.Add(float64(rttMs))
	if p.sink != nil {
		p.sink.RollUpdateDelayTS(peer, rttMs)
	}
}

// Update actively probes one peer: dial, measure the handshake round
// trip, drop the stream. A dial failure leaves the previous observation
// in place.
func (p *Probe) Update(ctx context.Context, peer identity.Peer) {
	e, ok := p.byPeer[peer.ID()]
	if !ok || p.tr == nil {
		return
	}
	start := time.Now()
	conn, err := p.tr.Dial(ctx, e.addr)
	if err != nil {
		log.Warningf("measure: probing %s: %v", peer, err)
		return
	}
	rtt := uint64(time.Since(start).Milliseconds())
	_ = conn.Close()
	p.Observe(peer, rtt)
}

// UpdateAll probes every known peer sequentially
func (p *Probe) UpdateAll(ctx context.Context) {
	for id := range p.byPeer {
		if ctx.Err() != nil {
			return
		}
		peer, _ := identity.TryFromID(id[:])
		p.Update(ctx, peer)
	}
}

// Register binds a peer to the locator Update dials
func (p *Probe) Register(peer identity.Peer, addr netip.AddrPort) {
	p.entryFor(peer).addr = addr
}

// Set is a debug setter for deterministic tests. Nil-like zero values
// leave the existing field untouched when the peer is already known.
func (p *Probe) Set(peer identity.Peer, addr netip.AddrPort, latency, bandwidth uint64) {
	e := p.entryFor(peer)
	if addr.IsValid() {
		e.addr = addr
	}
	if latency != 0 {
		e.latency = latency
	}
	if bandwidth != 0 {
		e.bandwidth = bandwidth
	}
}

func (p *Probe) entryFor(peer identity.Peer) *entry {
	e, ok := p.byPeer[peer.ID()]
	if !ok {
		e = &entry{samples: welford.New()}
		p.byPeer[peer.ID()] = e
	}
	return e
}
