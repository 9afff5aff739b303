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

package route

import (
	"github.com/epsilon314/bdn/identity"
	"github.com/epsilon314/bdn/protocol"
)

// Directive is one control message a RelayCtl wants delivered
type Directive struct {
	Dst identity.Peer
	Msg *protocol.CtlMessage
}

// RelayCtl is the capability set a relay-control implementation exposes to
// the overlay engine. Implementations own the protocol state machine;
// the engine owns scheduling and IO. None of the methods send anything,
// they return the batch of messages for the engine to send.
type RelayCtl interface {
	// Method identifies the relay method this implementation serves
	Method() protocol.RelayMethod

	// Bootstrap produces the initial control traffic for a freshly
	// configured route table
	Bootstrap(tbl *Table) []Directive

	// Heartbeat runs the periodic maintenance pass: timer checks and
	// join/merge/rebalance attempts
	Heartbeat(tbl *Table) []Directive

	// Callback handles one inbound ROUTE payload from sender
	Callback(tbl *Table, sender identity.Peer, payload []byte) []Directive

	// RelayReceipt reports whether the last relay fan-out fully succeeded
	RelayReceipt(tbl *Table, success bool)
}
