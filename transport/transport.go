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
Package transport abstracts the reliable stream transport the overlay
runs on. Two implementations are provided: plain TCP and QUIC (one
bidirectional stream per connection).
*/
package transport

import (
	"context"
	"fmt"
	"io"
	"net/netip"
)

// Conn is one reliable byte stream to a remote peer
type Conn interface {
	io.Reader
	io.Writer
	io.Closer

	// RemoteAddr returns the remote endpoint of the stream
	RemoteAddr() netip.AddrPort
}

// Listener accepts inbound streams
type Listener interface {
	// Accept blocks until the next inbound stream or ctx cancellation
	Accept(ctx context.Context) (Conn, error)
	Close() error
	// Addr returns the bound local endpoint
	Addr() netip.AddrPort
}

// Transport creates listeners and outgoing streams
type Transport interface {
	// Name identifies the transport in logs and config files
	Name() string
	Listen(ctx context.Context, port uint16) (Listener, error)
	Dial(ctx context.Context, addr netip.AddrPort) (Conn, error)
}

// New returns the transport registered under name, "tcp" or "quic"
func New(name string) (Transport, error) {
	switch name {
	case "tcp", "":
		return &TCP{}, nil
	case "quic":
		return NewQUIC(), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", name)
	}
}
