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
Package overlay implements the BDN engine: the listener, the outgoing
stream cache, the prioritized send buffer, the per-connection ingress
decoders and the poll loop that multiplexes inbound messages between the
relay-control plane, the relay fan-out path and the application.

The engine is the single logical owner of the address book, the route
table and the relay-control state; they are only touched from the
goroutine running Poll. Ingress decoders run as independent goroutines
and communicate with the engine exclusively through the ingress channel.
*/
package overlay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/epsilon314/bdn/identity"
	"github.com/epsilon314/bdn/measure"
	"github.com/epsilon314/bdn/protocol"
	"github.com/epsilon314/bdn/route"
	"github.com/epsilon314/bdn/stats"
	"github.com/epsilon314/bdn/transport"
)

// MessageWithAddr pairs a decoded message with the locator it arrived from
type MessageWithAddr struct {
	Addr identity.SocketAddrBi
	Msg  *protocol.OverlayMessage
}

// relayObserver is the optional stat feed a relay-control implementation
// may expose beyond route.RelayCtl
type relayObserver interface {
	ObserveRelay(src identity.Peer, ms uint64)
	ObserveSource(src identity.Peer, ms uint64)
}

// leaver is the optional shutdown hook a relay-control implementation may
// expose to say goodbye to its delegates
type leaver interface {
	Leave(tbl *route.Table) []route.Directive
}

// Engine is one overlay node
type Engine struct {
	Config *Config
	Stats  stats.Stats

	local identity.Peer
	tr    transport.Transport
	ctl   route.RelayCtl

	book  *identity.AddressBook
	tbl   *route.Table
	probe *measure.Probe

	wstream map[[identity.IDSize]byte]transport.Conn
	ingress chan MessageWithAddr
	sendBuf *sendBuffer

	heartbeat time.Duration
	lastBeat  time.Time

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewEngine assembles an overlay node from its collaborators. The probe
// may be nil when no active measurement is wanted.
func NewEngine(cfg *Config, local identity.Peer, tr transport.Transport, ctl route.RelayCtl, st stats.Stats, probe *measure.Probe) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Engine{
		Config:    cfg,
		Stats:     st,
		local:     local,
		tr:        tr,
		ctl:       ctl,
		book:      identity.NewAddressBook(),
		tbl:       route.NewTable(local),
		probe:     probe,
		wstream:   make(map[[identity.IDSize]byte]transport.Conn),
		ingress:   make(chan MessageWithAddr, cfg.QueueSize),
		sendBuf:   newSendBuffer(),
		heartbeat: cfg.Heartbeat,
	}
}

// LocalPeer returns the node identity
func (e *Engine) LocalPeer() identity.Peer {
	return e.local
}

// AddressBook returns the engine-owned address book. Mutate only from the
// poll goroutine.
func (e *Engine) AddressBook() *identity.AddressBook {
	return e.book
}

// RouteTable returns the engine-owned route table. Mutate only from the
// poll goroutine.
func (e *Engine) RouteTable() *route.Table {
	return e.tbl
}

// Start binds the listener and begins accepting connections. It returns
// once the listener is up; ingress decoding runs in background goroutines
// until ctx is cancelled.
func (e *Engine) Start(ctx context.Context) error {
	e.ctx, e.cancel = context.WithCancel(ctx)
	listener, err := e.tr.Listen(e.ctx, e.Config.ListenPort)
	if err != nil {
		return fmt.Errorf("starting overlay listener: %w", err)
	}
	log.Infof("Binding on 0.0.0.0 %d via %s", e.Config.ListenPort, e.tr.Name())

	e.group, _ = errgroup.WithContext(e.ctx)
	e.group.Go(func() error {
		defer close(e.ingress)
		e.acceptLoop(listener)
		return nil
	})

	for _, d := range e.ctl.Bootstrap(e.tbl) {
		e.sendCtl(d)
	}
	e.lastBeat = time.Now()
	return nil
}

// Close says goodbye to delegates, stops the listener and drops every
// cached stream
func (e *Engine) Close() {
	if lv, ok := e.ctl.(leaver); ok {
		for _, d := range lv.Leave(e.tbl) {
			e.sendCtl(d)
		}
	}
	if e.cancel != nil {
		e.cancel()
	}
	for id, conn := range e.wstream {
		_ = conn.Close()
		delete(e.wstream, id)
	}
	if e.group != nil {
		_ = e.group.Wait()
	}
}

// acceptLoop admits inbound connections and spawns one decoder per stream
func (e *Engine) acceptLoop(listener transport.Listener) {
	var decoders errgroup.Group
	defer func() {
		_ = decoders.Wait()
	}()
	for {
		conn, err := listener.Accept(e.ctx)
		if err != nil {
			if e.ctx.Err() != nil {
				return
			}
			log.Warningf("overlay: accept: %v", err)
			continue
		}
		remote := conn.RemoteAddr()
		// remember the ephemeral dialing port next to the well-known one
		sock := identity.NewSocketAddrBi(remote.Addr(), DefaultListenPort, remote.Port())
		decoders.Go(func() error {
			e.handleIngress(conn, sock)
			return nil
		})
	}
}

// handleIngress decodes frames off one connection until clean EOF or until
// the engine context is cancelled, which closes the connection. A bad
// frame is logged and skipped, it does not close the connection.
func (e *Engine) handleIngress(conn transport.Conn, from identity.SocketAddrBi) {
	defer conn.Close()
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-e.ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()
	reader := protocol.NewFrameReader(conn)
	for {
		msg, err := reader.ReadMessage()
		if err != nil {
			if isEOF(err) || e.ctx.Err() != nil {
				return
			}
			log.Warningf("overlay: ingress from %s: %v", from, err)
			if e.Stats != nil {
				e.Stats.IncDecodeError()
			}
			continue
		}
		select {
		case e.ingress <- MessageWithAddr{Addr: from, Msg: msg}:
		case <-e.ctx.Done():
			return
		}
	}
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF)
}

// SendTo writes one message to dst: cached stream if present, otherwise
// look dst up in the address book, dial and cache. Write errors degrade
// silently (warn): the cached stream is dropped so the next send retries.
func (e *Engine) SendTo(dst identity.Peer, msg *protocol.OverlayMessage) {
	e.sendToResult(dst, msg)
}

func (e *Engine) sendToResult(dst identity.Peer, msg *protocol.OverlayMessage) bool {
	msg.SetFrom(e.local)
	msg.Stamp()
	frame, err := msg.Encode()
	if err != nil {
		log.Warningf("overlay: send to %s: %v", dst, err)
		return false
	}
	if !e.writeFrame(dst, frame) {
		return false
	}
	e.countTX(msg)
	return true
}

// writeFrame pushes raw bytes to dst over the cached or freshly dialed
// stream
func (e *Engine) writeFrame(dst identity.Peer, frame []byte) bool {
	conn, ok := e.wstream[dst.ID()]
	if !ok {
		addr, found := e.book.GetByPeer(dst)
		if !found {
			log.Warningf("overlay: send to unknown dst %s", dst)
			return false
		}
		var err error
		conn, err = e.tr.Dial(e.dialCtx(), addr.ListenAddrPort())
		if err != nil {
			log.Warningf("overlay: connecting %s: %v", addr, err)
			if e.Stats != nil {
				e.Stats.IncSendError()
			}
			return false
		}
		e.wstream[dst.ID()] = conn
	}
	if _, err := conn.Write(frame); err != nil {
		log.Warningf("overlay: write to %s: %v", dst, err)
		_ = conn.Close()
		delete(e.wstream, dst.ID())
		if e.Stats != nil {
			e.Stats.IncSendError()
		}
		return false
	}
	return true
}

func (e *Engine) dialCtx() context.Context {
	if e.ctx != nil {
		return e.ctx
	}
	return context.Background()
}

func (e *Engine) countTX(msg *protocol.OverlayMessage) {
	if e.Stats == nil {
		return
	}
	if t, err := msg.Header.MsgType(); err == nil {
		e.Stats.IncTX(t)
	}
}

// Connect pre-dials every peer in the address book, caching the streams
func (e *Engine) Connect() {
	e.book.Iter(func(p identity.Peer, addr identity.SocketAddrBi) {
		if _, ok := e.wstream[p.ID()]; ok {
			return
		}
		conn, err := e.tr.Dial(e.dialCtx(), addr.ListenAddrPort())
		if err != nil {
			log.Warningf("overlay: connecting %s: %v", addr, err)
			return
		}
		e.wstream[p.ID()] = conn
	})
}

// SendToIndirect routes a unicast message through the next-hop table
func (e *Engine) SendToIndirect(dst identity.Peer, msg *protocol.OverlayMessage) {
	next, ok := e.tbl.GetNextHop(dst)
	if !ok {
		log.Warningf("overlay: send to %s failed: no route", dst)
		return
	}
	e.SendTo(next, msg)
}

// Broadcast publishes a payload on our best source tree: src and from are
// filled with the local id, dst with the broadcast placeholder, and the
// message is handed to the tree through this node's delegate, or fanned
// out directly when we are the root.
func (e *Engine) Broadcast(msg *protocol.OverlayMessage) {
	msg.SetSrc(e.local)
	msg.SetFrom(e.local)
	msg.SetDst(identity.Broadcast)
	msg.Header.SetRelayFlag(true)

	if delegate, ok := e.tbl.GetDelegate(e.local); ok {
		e.SendTo(delegate, msg)
		return
	}
	for _, child := range e.tbl.GetRelay(e.local) {
		e.SendTo(child, msg)
	}
}

// SendToBuffered enqueues a message at the given priority without
// touching the network. Engine-owned: push only from the poll goroutine.
func (e *Engine) SendToBuffered(dst identity.Peer, msg *protocol.OverlayMessage, pri int) {
	e.sendBuf.push(dst, pri, msg)
	if e.Stats != nil {
		e.Stats.SetSendBuffer(int64(e.sendBuf.Len()))
	}
}

// FlushSendBuffer drains the buffer, highest priority first
func (e *Engine) FlushSendBuffer() {
	for {
		if !e.sendBufferedOnce() {
			return
		}
	}
}

// SendBufferedOnce sends the single highest-priority buffered message
func (e *Engine) SendBufferedOnce() bool {
	return e.sendBufferedOnce()
}

func (e *Engine) sendBufferedOnce() bool {
	it, ok := e.sendBuf.pop()
	if !ok {
		return false
	}
	e.SendTo(it.dst, it.msg)
	if e.Stats != nil {
		e.Stats.SetSendBuffer(int64(e.sendBuf.Len()))
	}
	return true
}
