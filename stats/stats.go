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
Package stats implements statistics collection and reporting for the
overlay engine: counters per message type and control kind, relay table
gauges and the ingress queue depth.
*/
package stats

import (
	"sync"

	"github.com/epsilon314/bdn/protocol"
)

// Stats is the metric collection interface the engine reports into
type Stats interface {
	// Start starts a passive reporter on the monitoring port
	Start(monitoringPort int)

	// Snapshot the values so they can be reported atomically
	Snapshot()

	// Reset atomically sets all counters to 0
	Reset()

	// IncRX counts one received message of type t
	IncRX(t protocol.MsgType)

	// IncTX counts one sent message of type t
	IncTX(t protocol.MsgType)

	// IncRXCtl counts one received relay-control message of kind k
	IncRXCtl(k protocol.CtlKind)

	// IncTXCtl counts one sent relay-control message of kind k
	IncTXCtl(k protocol.CtlKind)

	// IncRelayed counts one payload fanned out along the relay tree
	IncRelayed()

	// IncDecodeError counts one undecodable frame
	IncDecodeError()

	// IncSendError counts one failed dial or write
	IncSendError()

	// SetRelayLinks records the current relay link total
	SetRelayLinks(n int64)

	// SetIngressQueue records the current ingress queue depth
	SetIngressQueue(n int64)

	// SetSendBuffer records the current send buffer depth
	SetSendBuffer(n int64)
}

// counters is a plain map guarded by a mutex, in the spirit of the
// teacher's syncMapInt64
type counters struct {
	sync.Mutex
	m map[string]int64
}

func newCounters() *counters {
	return &counters{m: make(map[string]int64)}
}

func (c *counters) inc(key string) {
	c.Lock()
	c.m[key]++
	c.Unlock()
}

func (c *counters) set(key string, v int64) {
	c.Lock()
	c.m[key] = v
	c.Unlock()
}

func (c *counters) copy() map[string]int64 {
	c.Lock()
	defer c.Unlock()
	out := make(map[string]int64, len(c.m))
	for k, v := range c.m {
		out[k] = v
	}
	return out
}

func (c *counters) reset() {
	c.Lock()
	c.m = make(map[string]int64)
	c.Unlock()
}
