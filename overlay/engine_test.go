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
	"bytes"
	"context"
	"fmt"
	"io"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/epsilon314/bdn/identity"
	"github.com/epsilon314/bdn/protocol"
	"github.com/epsilon314/bdn/route/mlbt"
	"github.com/epsilon314/bdn/transport"
)

// memTransport records every dialed frame, for fan-out tests without
// real sockets
type memTransport struct {
	writes []memWrite
}

type memWrite struct {
	dst   netip.AddrPort
	frame []byte
}

func (m *memTransport) Name() string { return "mem" }

func (m *memTransport) Listen(ctx context.Context, port uint16) (transport.Listener, error) {
	return nil, fmt.Errorf("mem transport cannot listen")
}

func (m *memTransport) Dial(_ context.Context, addr netip.AddrPort) (transport.Conn, error) {
	return &memConn{tr: m, remote: addr}, nil
}

type memConn struct {
	tr     *memTransport
	remote netip.AddrPort
}

func (c *memConn) Read(_ []byte) (int, error) { return 0, io.EOF }

func (c *memConn) Write(p []byte) (int, error) {
	frame := make([]byte, len(p))
	copy(frame, p)
	c.tr.writes = append(c.tr.writes, memWrite{dst: c.remote, frame: frame})
	return len(p), nil
}

func (c *memConn) Close() error { return nil }

func (c *memConn) RemoteAddr() netip.AddrPort { return c.remote }

func childAddr(i int) identity.SocketAddrBi {
	ip := netip.MustParseAddr(fmt.Sprintf("10.0.0.%d", i+1))
	return identity.NewSocketAddrBi(ip, DefaultListenPort, 0)
}

func TestRelayFanOutOrder(t *testing.T) {
	local := identity.FromBytes([]byte("relay-node"))
	tr := &memTransport{}
	ctl := mlbt.New(local)
	e := NewEngine(DefaultConfig(), local, tr, ctl, nil, nil)

	src := identity.FromBytes([]byte("tree-root"))
	var children []identity.Peer
	for i := 0; i < 8; i++ {
		child := identity.FromBytes([]byte{byte(i), 0xC})
		children = append(children, child)
		e.AddressBook().Insert(child, childAddr(i))
		require.NoError(t, e.RouteTable().InsertRelay(src, child))
	}

	header, err := protocol.BuildHeader(protocol.MsgPayload, true, protocol.RelayLookupTable1, 8, 15)
	require.NoError(t, err)
	msg := protocol.NewOverlayMessage(header, src, src, identity.Broadcast, []byte{42})
	msg.Stamp()

	e.relayHandler(msg)

	// exactly one write per child, in insertion order
	require.Len(t, tr.writes, 8)
	for i, w := range tr.writes {
		addr, ok := e.AddressBook().GetByPeer(children[i])
		require.True(t, ok)
		require.Equal(t, addr.ListenAddrPort(), w.dst)

		got, err := protocol.Decode(w.frame)
		require.NoError(t, err)
		// the relay rewrites from to itself
		require.True(t, got.From().Equal(local))
		require.True(t, got.Src().Equal(src))
		require.Equal(t, []byte{42}, got.Payload)
	}
}

func TestRelayFanOutEmptyTable(t *testing.T) {
	local := identity.FromBytes([]byte("leaf-node"))
	tr := &memTransport{}
	e := NewEngine(DefaultConfig(), local, tr, mlbt.New(local), nil, nil)

	header, err := protocol.BuildHeader(protocol.MsgPayload, true, protocol.RelayLookupTable1, 1, 15)
	require.NoError(t, err)
	msg := protocol.NewOverlayMessage(header, identity.FromBytes([]byte("s")), local, identity.Broadcast, []byte{1})

	e.relayHandler(msg)
	require.Empty(t, tr.writes)
}

func TestFromIDHandler(t *testing.T) {
	local := identity.FromBytes([]byte("node"))
	e := NewEngine(DefaultConfig(), local, &memTransport{}, mlbt.New(local), nil, nil)

	sender := identity.FromBytes([]byte("sender"))
	locator := identity.NewSocketAddrBi(netip.MustParseAddr("10.1.0.1"), DefaultListenPort, 4242)

	// a common carrier id is authoritative: unknown sender gets inserted
	msg := protocol.NewOverlayMessage(0, sender, sender, local, nil)
	got, ok := e.fromIDHandler(MessageWithAddr{Addr: locator, Msg: msg})
	require.True(t, ok)
	require.True(t, got.Equal(sender))
	require.True(t, e.AddressBook().ContainsPeer(sender))

	// a changed locator updates the book
	moved := identity.NewSocketAddrBi(netip.MustParseAddr("10.1.0.2"), DefaultListenPort, 4242)
	_, ok = e.fromIDHandler(MessageWithAddr{Addr: moved, Msg: msg})
	require.True(t, ok)
	stored, _ := e.AddressBook().GetByPeer(sender)
	require.True(t, stored.Same(moved))

	// a broadcast carrier id resolves through reverse lookup
	anon := protocol.NewOverlayMessage(0, sender, identity.Broadcast, local, nil)
	got, ok = e.fromIDHandler(MessageWithAddr{Addr: moved, Msg: anon})
	require.True(t, ok)
	require.True(t, got.Equal(sender))

	// an unknown locator with a broadcast carrier id drops the message
	strange := identity.NewSocketAddrBi(netip.MustParseAddr("10.9.9.9"), DefaultListenPort, 0)
	_, ok = e.fromIDHandler(MessageWithAddr{Addr: strange, Msg: anon})
	require.False(t, ok)
}

func TestTwoNodeUnicast(t *testing.T) {
	const listenPort = 29102

	bID := identity.FromBytes([]byte("node-b"))
	cfgB := DefaultConfig()
	cfgB.ListenPort = listenPort
	b := NewEngine(cfgB, bID, &transport.TCP{}, mlbt.New(bID), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, b.Start(ctx))
	defer b.Close()

	aID := identity.FromBytes([]byte("node-a"))
	a := NewEngine(DefaultConfig(), aID, &transport.TCP{}, mlbt.New(aID), nil, nil)
	a.AddressBook().Insert(bID, identity.NewSocketAddrBi(netip.MustParseAddr("127.0.0.1"), listenPort, 0))

	header, err := protocol.BuildHeader(protocol.MsgPayload, false, protocol.RelayLookupTable1, 0, 15)
	require.NoError(t, err)

	payloads := [][]byte{
		{1, 2, 3},
		{1, 2, 3, 4, 5, 6},
		bytes.Repeat([]byte{42}, 1900),
		{1, 2, 3},
	}
	for _, pl := range payloads {
		a.SendTo(bID, protocol.NewOverlayMessage(header, aID, aID, bID, pl))
	}

	received := make(chan *protocol.OverlayMessage, len(payloads))
	go func() {
		for i := 0; i < len(payloads); i++ {
			msg, ok := b.Poll()
			if !ok {
				return
			}
			received <- msg
		}
	}()

	for _, want := range payloads {
		select {
		case got := <-received:
			require.Equal(t, want, got.Payload)
			require.True(t, got.From().Equal(aID))
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for payload")
		}
	}
}
