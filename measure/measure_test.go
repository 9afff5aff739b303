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

package measure

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/epsilon314/bdn/identity"
	"github.com/epsilon314/bdn/route/mlbt"
)

func TestProbeUnknownPeer(t *testing.T) {
	p := NewProbe(nil, nil)
	peer := identity.FromBytes([]byte{1})

	_, ok := p.Latency(peer)
	require.False(t, ok)
	_, ok = p.Bandwidth(peer)
	require.False(t, ok)
	_, ok = p.Mean(peer)
	require.False(t, ok)
}

func TestProbeObserve(t *testing.T) {
	p := NewProbe(nil, nil)
	peer := identity.FromBytes([]byte{1})

	p.Observe(peer, 100)
	p.Observe(peer, 200)

	lat, ok := p.Latency(peer)
	require.True(t, ok)
	require.Equal(t, uint64(200), lat)

	mean, ok := p.Mean(peer)
	require.True(t, ok)
	require.InDelta(t, 150.0, mean, 0.001)
}

func TestProbeFeedsDelaySink(t *testing.T) {
	stats := mlbt.NewStatList()
	p := NewProbe(nil, stats)
	peer := identity.FromBytes([]byte{1})

	p.Observe(peer, 100)
	d, ok := stats.DelayTS(peer)
	require.True(t, ok)
	require.Equal(t, uint64(100), d)

	p.Observe(peer, 200)
	d, _ = stats.DelayTS(peer)
	require.Equal(t, uint64(110), d)
}

func TestProbeDebugSet(t *testing.T) {
	p := NewProbe(nil, nil)
	peer := identity.FromBytes([]byte{1})
	addr := netip.MustParseAddrPort("10.0.0.1:10450")

	p.Set(peer, addr, 42, 1_000_000)

	lat, ok := p.Latency(peer)
	require.True(t, ok)
	require.Equal(t, uint64(42), lat)

	bw, ok := p.Bandwidth(peer)
	require.True(t, ok)
	require.Equal(t, uint64(1_000_000), bw)

	// partial update keeps prior fields
	p.Set(peer, netip.AddrPort{}, 0, 2_000_000)
	lat, _ = p.Latency(peer)
	require.Equal(t, uint64(42), lat)
	bw, _ = p.Bandwidth(peer)
	require.Equal(t, uint64(2_000_000), bw)
}
