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
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"math/big"
	"net"
	"net/netip"
	"time"

	quic "github.com/quic-go/quic-go"
)

// alpnProto separates overlay traffic from other QUIC applications
const alpnProto = "bdn"

// QUIC carries each overlay stream over one bidirectional QUIC stream.
// Peers do not authenticate each other at this layer, so the server side
// uses a throwaway self-signed certificate and the client skips
// verification; identity binding happens at the overlay layer.
type QUIC struct {
	tlsServer *tls.Config
	tlsClient *tls.Config
	qcfg      *quic.Config
}

// NewQUIC returns a QUIC transport with a fresh self-signed certificate
func NewQUIC() *QUIC {
	return &QUIC{
		tlsServer: generateTLSConfig(),
		tlsClient: &tls.Config{
			InsecureSkipVerify: true,
			NextProtos:         []string{alpnProto},
		},
		qcfg: &quic.Config{
			MaxIdleTimeout:  2 * time.Minute,
			KeepAlivePeriod: 15 * time.Second,
		},
	}
}

// Name implements Transport
func (q *QUIC) Name() string { return "quic" }

// Listen binds a QUIC listener on 0.0.0.0:port
func (q *QUIC) Listen(ctx context.Context, port uint16) (Listener, error) {
	l, err := quic.ListenAddr(fmt.Sprintf("0.0.0.0:%d", port), q.tlsServer, q.qcfg)
	if err != nil {
		return nil, fmt.Errorf("quic listen on %d: %w", port, err)
	}
	if ctx.Done() != nil {
		go func() {
			<-ctx.Done()
			_ = l.Close()
		}()
	}
	return &quicListener{inner: l, port: port}, nil
}

// Dial opens a connection to addr and one bidirectional stream on it
func (q *QUIC) Dial(ctx context.Context, addr netip.AddrPort) (Conn, error) {
	conn, err := quic.DialAddr(ctx, addr.String(), q.tlsClient, q.qcfg)
	if err != nil {
		return nil, fmt.Errorf("quic dial %s: %w", addr, err)
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "open stream failed")
		return nil, fmt.Errorf("quic open stream to %s: %w", addr, err)
	}
	return &quicConn{conn: conn, stream: stream}, nil
}

type quicListener struct {
	inner *quic.Listener
	port  uint16
}

func (l *quicListener) Accept(ctx context.Context) (Conn, error) {
	conn, err := l.inner.Accept(ctx)
	if err != nil {
		return nil, err
	}
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "accept stream failed")
		return nil, fmt.Errorf("quic accept stream: %w", err)
	}
	return &quicConn{conn: conn, stream: stream}, nil
}

func (l *quicListener) Close() error {
	return l.inner.Close()
}

func (l *quicListener) Addr() netip.AddrPort {
	if ua, ok := l.inner.Addr().(*net.UDPAddr); ok {
		return ua.AddrPort()
	}
	return netip.AddrPortFrom(netip.IPv4Unspecified(), l.port)
}

type quicConn struct {
	conn   quic.Connection
	stream quic.Stream
}

func (c *quicConn) Read(p []byte) (int, error) {
	return c.stream.Read(p)
}

func (c *quicConn) Write(p []byte) (int, error) {
	return c.stream.Write(p)
}

func (c *quicConn) Close() error {
	_ = c.stream.Close()
	return c.conn.CloseWithError(0, "closed")
}

func (c *quicConn) RemoteAddr() netip.AddrPort {
	if ua, ok := c.conn.RemoteAddr().(*net.UDPAddr); ok {
		return ua.AddrPort()
	}
	return netip.AddrPort{}
}

// generateTLSConfig builds a throwaway self-signed server certificate
func generateTLSConfig() *tls.Config {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		panic(err)
	}
	tmpl := x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	if err != nil {
		panic(err)
	}
	cert := tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  key,
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{alpnProto},
	}
}
