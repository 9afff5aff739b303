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

package stats

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/epsilon314/bdn/protocol"
)

func TestJSONStatsCounters(t *testing.T) {
	s := NewJSONStats()

	s.IncRX(protocol.MsgPayload)
	s.IncRX(protocol.MsgPayload)
	s.IncTX(protocol.MsgRoute)
	s.IncRXCtl(protocol.CtlJoin)
	s.IncTXCtl(protocol.CtlAccept)
	s.IncRelayed()
	s.IncDecodeError()
	s.IncSendError()
	s.SetRelayLinks(12)
	s.SetIngressQueue(3)
	s.SetSendBuffer(1)

	// nothing reported until a snapshot
	require.Empty(t, s.Counters())

	s.Snapshot()
	got := s.Counters()
	require.Equal(t, int64(2), got["rx.payload_msg"])
	require.Equal(t, int64(1), got["tx.route_msg"])
	require.Equal(t, int64(1), got["rx.ctl.join"])
	require.Equal(t, int64(1), got["tx.ctl.accept"])
	require.Equal(t, int64(1), got["relayed"])
	require.Equal(t, int64(1), got["errors.decode"])
	require.Equal(t, int64(1), got["errors.send"])
	require.Equal(t, int64(12), got["relay.links"])
	require.Equal(t, int64(3), got["queue.ingress"])
	require.Equal(t, int64(1), got["queue.send"])
}

func TestJSONStatsReset(t *testing.T) {
	s := NewJSONStats()
	s.IncRelayed()
	s.Reset()
	s.Snapshot()
	require.Empty(t, s.Counters())
}

func TestFlattenKey(t *testing.T) {
	require.Equal(t, "rx_ctl_join", flattenKey("rx.ctl.join"))
	require.Equal(t, "a_b_c", flattenKey("a-b c"))
}
