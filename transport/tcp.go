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

package transport

import (
	"context"
	"fmt"
	"net"
	"net/netip"
)

// TCP is the plain TCP stream transport
type TCP struct{}

// Name implements Transport
func (t *TCP) Name() string { return "tcp" }

// Listen binds 0.0.0.0:port
func (t *TCP) Listen(ctx context.Context, port uint16) (Listener, error) {
	lc := &net.ListenConfig{}
	l, err := lc.Listen(ctx, "tcp", fmt.Sprintf("0.0.0.0:%d", port))
	if err != nil {
		return nil, fmt.Errorf("tcp listen on %d: %w", port, err)
	}
	tl := &tcpListener{inner: l.(*net.TCPListener)}
	if ctx.Done() != nil {
		go func() {
			<-ctx.Done()
			_ = tl.inner.Close()
		}()
	}
	return tl, nil
}

// Dial opens a stream to addr
func (t *TCP) Dial(ctx context.Context, addr netip.AddrPort) (Conn, error) {
	d := &net.Dialer{}
	c, err := d.DialContext(ctx, "tcp", addr.String())
	if err != nil {
		return nil, fmt.Errorf("tcp dial %s: %w", addr, err)
	}
	return &tcpConn{Conn: c}, nil
}

type tcpListener struct {
	inner *net.TCPListener
}

func (l *tcpListener) Accept(ctx context.Context) (Conn, error) {
	c, err := l.inner.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return &tcpConn{Conn: c}, nil
}

func (l *tcpListener) Close() error {
	return l.inner.Close()
}

func (l *tcpListener) Addr() netip.AddrPort {
	return l.inner.Addr().(*net.TCPAddr).AddrPort()
}

type tcpConn struct {
	net.Conn
}

func (c *tcpConn) RemoteAddr() netip.AddrPort {
	return c.Conn.RemoteAddr().(*net.TCPAddr).AddrPort()
}
