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
	"io"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTCPRoundTrip(t *testing.T) {
	tr := &TCP{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l, err := tr.Listen(ctx, 29201)
	require.NoError(t, err)
	defer l.Close()

	accepted := make(chan Conn, 1)
	go func() {
		c, err := l.Accept(ctx)
		if err == nil {
			accepted <- c
		}
	}()

	dialed, err := tr.Dial(ctx, netip.MustParseAddrPort("127.0.0.1:29201"))
	require.NoError(t, err)
	defer dialed.Close()

	server := <-accepted
	defer server.Close()

	// the accepting side sees the dialer's ephemeral port
	require.NotZero(t, server.RemoteAddr().Port())

	payload := []byte("four score and seven years ago")
	_, err = dialed.Write(payload)
	require.NoError(t, err)

	buf := make([]byte, len(payload))
	_, err = io.ReadFull(server, buf)
	require.NoError(t, err)
	require.Equal(t, payload, buf)
}

func TestTCPListenerAddr(t *testing.T) {
	tr := &TCP{}
	l, err := tr.Listen(context.Background(), 29202)
	require.NoError(t, err)
	defer l.Close()
	require.Equal(t, uint16(29202), l.Addr().Port())
}

func TestNewTransport(t *testing.T) {
	tr, err := New("tcp")
	require.NoError(t, err)
	require.Equal(t, "tcp", tr.Name())

	tr, err = New("")
	require.NoError(t, err)
	require.Equal(t, "tcp", tr.Name())

	tr, err = New("quic")
	require.NoError(t, err)
	require.Equal(t, "quic", tr.Name())

	_, err = New("carrier-pigeon")
	require.Error(t, err)
}

func TestDialUnreachable(t *testing.T) {
	tr := &TCP{}
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	_, err := tr.Dial(ctx, netip.MustParseAddrPort("127.0.0.1:1"))
	require.Error(t, err)
}
